package input

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/seoworks/indexer-cli/internal/model"
)

func readCSV(path string) ([]model.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "input: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	reader := csv.NewReader(bomReader(f))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var entries []model.Entry
	urlCol, hintCol := 0, 1
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "input: read %s", path)
		}
		line++

		if line == 1 && isHeaderRow(record) {
			urlCol, hintCol = headerColumns(record)
			continue
		}
		if len(record) == 0 || urlCol >= len(record) {
			continue
		}

		rawURL := strings.TrimSpace(record[urlCol])
		if rawURL == "" {
			continue
		}
		hint := ""
		if hintCol >= 0 && hintCol < len(record) {
			hint = record[hintCol]
		}
		if entry, ok := buildEntry(rawURL, hint, path, line); ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// isHeaderRow treats the first row as a header when its first cell is not
// itself a URL. Lists exported by the check command carry a "URL,Status
// Code" header; hand-written ones often carry none.
func isHeaderRow(record []string) bool {
	if len(record) == 0 {
		return false
	}
	first := strings.TrimSpace(record[0])
	if first == "" {
		return true
	}
	if _, err := hostOf(first); err == nil {
		return false
	}
	return true
}

// headerColumns locates the url and status columns by name, defaulting to
// the first two.
func headerColumns(header []string) (urlCol, hintCol int) {
	urlCol, hintCol = 0, 1
	for i, name := range header {
		switch n := strings.ToLower(strings.TrimSpace(name)); {
		case n == "url":
			urlCol = i
		case strings.Contains(n, "status"):
			hintCol = i
		}
	}
	return urlCol, hintCol
}
