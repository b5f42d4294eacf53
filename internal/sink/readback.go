package sink

import (
	"encoding/csv"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/seoworks/indexer-cli/internal/classify"
	"github.com/seoworks/indexer-cli/internal/model"
)

// ReadReport parses an audit CSV written by this sink (or by the legacy
// spreadsheet tooling using the same layout) back into outcomes. The header
// row is required; a file without it is rejected so stray CSVs in an import
// directory fail loudly instead of producing garbage rows.
func ReadReport(path string) ([]model.Outcome, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "sink: open report %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, eris.Wrapf(err, "sink: read header %s", path)
	}
	if !isReportHeader(header) {
		return nil, eris.Errorf("sink: %s is not an audit report", path)
	}

	var outcomes []model.Outcome
	line := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, eris.Wrapf(err, "sink: read %s line %d", path, line)
		}
		o, ok := parseReportRow(record, path, line)
		if !ok {
			continue
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}

// ReadReportDir reads every .csv audit report in dir, in file-name order,
// and numbers the combined outcomes sequentially.
func ReadReportDir(dir string) ([]model.Outcome, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, eris.Wrapf(err, "sink: glob %s", dir)
	}
	if len(paths) == 0 {
		return nil, eris.Errorf("sink: no .csv reports in %s", dir)
	}
	sort.Strings(paths)

	var all []model.Outcome
	for _, path := range paths {
		outcomes, err := ReadReport(path)
		if err != nil {
			return nil, err
		}
		all = append(all, outcomes...)
	}
	for i := range all {
		all[i].Seq = i
	}
	return all, nil
}

func isReportHeader(record []string) bool {
	if len(record) < len(csvHeader) {
		return false
	}
	for i, want := range csvHeader {
		if record[i] != want {
			return false
		}
	}
	return true
}

// parseReportRow converts one audit row back into an outcome. Rows with an
// unknown status label are dropped with a warning rather than failing the
// whole import.
func parseReportRow(record []string, path string, line int) (model.Outcome, bool) {
	if len(record) < 6 {
		zap.L().Warn("skipping short report row",
			zap.String("file", path),
			zap.Int("line", line),
		)
		return model.Outcome{}, false
	}

	rawURL, rawCode, label := record[0], record[1], record[2]
	code, _ := strconv.Atoi(rawCode)

	action, result, ok := reverseLabel(label, code)
	if !ok {
		zap.L().Warn("skipping report row with unknown status label",
			zap.String("file", path),
			zap.Int("line", line),
			zap.String("label", label),
		)
		return model.Outcome{}, false
	}

	o := model.Outcome{
		URL:        rawURL,
		Host:       hostOf(rawURL),
		Action:     action,
		StatusCode: code,
		Result:     result,
		Credential: record[5],
	}
	if record[3] != "" {
		if t, err := time.Parse(time.RFC3339Nano, record[3]); err == nil {
			o.NotifiedAt = &t
		}
	}
	if record[4] != "" {
		if t, err := time.Parse("2006-01-02 15:04:05", record[4]); err == nil {
			o.CreatedAt = t.UTC()
		}
	}
	return o, true
}

// reverseLabel maps a status column value back to (action, result). The
// submitted labels carry the action directly; the failure labels derive it
// from the recorded status code.
func reverseLabel(label string, code int) (model.Action, model.OutcomeResult, bool) {
	switch label {
	case string(model.ActionUpdate):
		return model.ActionUpdate, model.ResultSubmitted, true
	case string(model.ActionDelete):
		return model.ActionDelete, model.ResultSubmitted, true
	case string(model.ActionSkip):
		return model.ActionSkip, model.ResultSkipped, true
	case string(model.ActionUnreachable):
		return model.ActionUnreachable, model.ResultSkipped, true
	case failedLabel:
		return classify.Classify(code), model.ResultFailed, true
	case unsubmittedLabel:
		return classify.Classify(code), model.ResultUnsubmitted, true
	default:
		return "", "", false
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
