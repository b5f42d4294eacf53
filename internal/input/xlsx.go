package input

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/seoworks/indexer-cli/internal/model"
)

// readXLSX reads the first sheet with the same column semantics as CSV
// input.
func readXLSX(path string) ([]model.Entry, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "input: open %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("input: %s has no sheets", path)
	}
	sheet := f.Sheets[0]

	var entries []model.Entry
	urlCol, hintCol := 0, 1
	for i, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}

		if i == 0 && isHeaderRow(cells) {
			urlCol, hintCol = headerColumns(cells)
			continue
		}
		if len(cells) == 0 || urlCol >= len(cells) {
			continue
		}

		rawURL := strings.TrimSpace(cells[urlCol])
		if rawURL == "" {
			continue
		}
		hint := ""
		if hintCol >= 0 && hintCol < len(cells) {
			hint = cells[hintCol]
		}
		if entry, ok := buildEntry(rawURL, hint, path, i+1); ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}
