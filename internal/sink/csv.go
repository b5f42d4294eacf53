package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/seoworks/indexer-cli/internal/model"
)

// csvHeader is the audit file layout downstream reporting scripts expect.
var csvHeader = []string{"URL", "Status Code", "Status", "Notify Date", "Date", "Service Account"}

// failedLabel is written in the status column when a submission was
// attempted and rejected.
const failedLabel = "API_ERROR"

// unsubmittedLabel is written when the credential pool ran out (or the run
// was cancelled) before the URL could be submitted.
const unsubmittedLabel = "UNSUBMITTED"

type csvFile struct {
	f *os.File
	w *csv.Writer
}

// CSV writes one audit file per domain, named {host}_{date}.csv with a
// numeric suffix when that name is taken by an earlier run. Rows are
// flushed and fsynced as they land so a killed process loses nothing.
type CSV struct {
	dir   string
	now   func() time.Time
	files map[string]*csvFile
}

// NewCSV builds a CSV sink writing into dir, creating it if needed.
func NewCSV(dir string) (*CSV, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "sink: create output dir %s", dir)
	}
	return &CSV{
		dir:   dir,
		now:   time.Now,
		files: make(map[string]*csvFile),
	}, nil
}

func (c *CSV) Record(_ context.Context, o model.Outcome) error {
	file, err := c.fileFor(o.Host)
	if err != nil {
		return err
	}

	notify := ""
	if o.NotifiedAt != nil {
		// Microsecond precision, matching what the API reports.
		notify = o.NotifiedAt.UTC().Format("2006-01-02T15:04:05.999999Z")
	}
	row := []string{
		o.URL,
		strconv.Itoa(o.StatusCode),
		statusLabel(o),
		notify,
		c.now().Format("2006-01-02 15:04:05"),
		o.Credential,
	}
	if err := file.w.Write(row); err != nil {
		return eris.Wrapf(err, "sink: write row for %s", o.URL)
	}

	file.w.Flush()
	if err := file.w.Error(); err != nil {
		return eris.Wrapf(err, "sink: flush %s", o.Host)
	}
	if err := file.f.Sync(); err != nil {
		return eris.Wrapf(err, "sink: fsync %s", o.Host)
	}
	return nil
}

func (c *CSV) Close() error {
	var firstErr error
	for host, file := range c.files {
		file.w.Flush()
		if err := file.f.Close(); err != nil && firstErr == nil {
			firstErr = eris.Wrapf(err, "sink: close %s", host)
		}
	}
	c.files = make(map[string]*csvFile)
	return firstErr
}

// Files returns the paths opened so far, for the end-of-run report.
func (c *CSV) Files() []string {
	paths := make([]string, 0, len(c.files))
	for _, file := range c.files {
		paths = append(paths, file.f.Name())
	}
	return paths
}

func (c *CSV) fileFor(host string) (*csvFile, error) {
	if file, ok := c.files[host]; ok {
		return file, nil
	}

	path, err := c.uniquePath(host)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "sink: create %s", path)
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		_ = f.Close()
		return nil, eris.Wrapf(err, "sink: write header %s", path)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return nil, eris.Wrapf(err, "sink: flush header %s", path)
	}

	file := &csvFile{f: f, w: w}
	c.files[host] = file
	return file, nil
}

// uniquePath picks {host}_{date}.csv, then {host}_{date}_1.csv and so on
// until a free name turns up, so reruns on the same day never clobber
// earlier audits.
func (c *CSV) uniquePath(host string) (string, error) {
	date := c.now().Format("2006-01-02")
	base := fmt.Sprintf("%s_%s", sanitizeHost(host), date)

	for n := 0; n < 10000; n++ {
		name := base + ".csv"
		if n > 0 {
			name = fmt.Sprintf("%s_%d.csv", base, n)
		}
		path := filepath.Join(c.dir, name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path, nil
		}
	}
	return "", eris.Errorf("sink: no free audit file name for %s", host)
}

func sanitizeHost(host string) string {
	if host == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, host)
}

// statusLabel maps an outcome to its audit status column value.
func statusLabel(o model.Outcome) string {
	switch o.Result {
	case model.ResultFailed:
		return failedLabel
	case model.ResultUnsubmitted:
		return unsubmittedLabel
	default:
		return string(o.Action)
	}
}
