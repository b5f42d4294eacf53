// Package input reads URL lists from text, CSV, and XLSX sources, local or
// remote.
package input

import (
	"bufio"
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/seoworks/indexer-cli/internal/model"
)

// Read loads entries from a source in input order. The source may be a
// local path or an http(s)/ftp URL; remote lists are downloaded to a temp
// file first. Format is picked by extension: .csv and .xlsx rows may carry
// a status hint in the second column, anything else is treated as plain
// text with one URL per line.
//
// Lines that do not hold a usable http(s) URL are logged and dropped here,
// before the run starts counting.
func Read(ctx context.Context, source string) ([]model.Entry, error) {
	path := source
	if IsRemote(source) {
		local, cleanup, err := fetchRemote(ctx, source)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		path = local
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return readCSV(path)
	case ".xlsx":
		return readXLSX(path)
	default:
		return readText(path)
	}
}

// bomReader strips a UTF-8 BOM and transparently decodes UTF-16 input.
// Excel exports regularly carry both.
func bomReader(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
}

func readText(path string) ([]model.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "input: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	var entries []model.Entry
	scanner := bufio.NewScanner(bomReader(f))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		if entry, ok := buildEntry(raw, "", path, line); ok {
			entries = append(entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrapf(err, "input: read %s", path)
	}
	return entries, nil
}

// buildEntry validates one URL and attaches an optional hint. The hint may
// be an action label (bypasses probing and classification) or a bare status
// code (bypasses probing only). Invalid rows are logged and dropped.
func buildEntry(rawURL, hint, source string, line int) (model.Entry, bool) {
	host, err := hostOf(rawURL)
	if err != nil {
		zap.L().Warn("skipping invalid url in input",
			zap.String("source", source),
			zap.Int("line", line),
			zap.String("url", rawURL),
			zap.Error(err),
		)
		return model.Entry{}, false
	}

	entry := model.Entry{URL: rawURL, Host: host}
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return entry, true
	}

	if action, ok := model.ParseAction(hint); ok {
		entry.HintAction = action
		return entry, true
	}
	if code, err := strconv.Atoi(hint); err == nil {
		entry.HintStatus = &code
		return entry, true
	}

	zap.L().Warn("ignoring unrecognized status hint",
		zap.String("source", source),
		zap.Int("line", line),
		zap.String("url", rawURL),
		zap.String("hint", hint),
	)
	return entry, true
}

// hostOf validates that raw is an absolute http(s) URL and returns its
// hostname.
func hostOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", eris.Wrap(err, "input: parse url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", eris.Errorf("input: unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", eris.New("input: url has no host")
	}
	return u.Hostname(), nil
}
