// Package additionalfields implements the Additional Fields Pass (C7): a
// post-pass over already-written option universe CSV files that appends
// iv_30/iv_rank/iv_percentile columns computed from the trailing year of
// files for the same underlying.
//
// The IV-rank/percentile arithmetic is adapted from the teacher's
// broker.CalculateIVR (min/max-normalized rank over a historical IV
// series); this package additionally derives IV30 per file via the
// bracketing-expiry interpolation spec §4.7 names, which the teacher has
// no analogue for.
package additionalfields

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Row is one parsed option universe data row, carrying only the columns
// C7 needs (delta for ATM selection, expiry + iv for IV30).
type Row struct {
	Raw    string
	Expiry time.Time
	Delta  float64
	IV     float64
	HasIV  bool
}

// fileDateRe matches the <YYYYMMDD>.csv universe filename convention.
var fileDateRe = regexp.MustCompile(`^(\d{8})\.csv$`)

// RequiredColumns names the header fields C7 must find before it will
// process a file; files missing any of these are skipped, per spec
// §4.7's "skip files whose CSV lacks the required columns".
var RequiredColumns = []string{"symbol_id", "symbol_value", "implied_volatility", "delta"}

// ParsedFile is one option universe file, its processing date, and its
// parsed rows (nil Rows means the file was skipped for missing columns).
type ParsedFile struct {
	Date time.Time
	Path string
	Rows []Row
}

// DiscoverYear lists and parses every universe file in dir dated from one
// year and one day before D through D inclusive, sorted ascending by date.
func DiscoverYear(dir string, d time.Time) ([]ParsedFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("additionalfields: reading %s: %w", dir, err)
	}
	cutoff := d.AddDate(-1, 0, -1)

	var files []ParsedFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := fileDateRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		fileDate, err := time.Parse("20060102", m[1])
		if err != nil || fileDate.After(d) || fileDate.Before(cutoff) {
			continue
		}
		pf, err := parseFile(filepath.Join(dir, e.Name()), fileDate)
		if err != nil {
			continue // unreadable file: treated like a missing-column skip
		}
		files = append(files, pf)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Date.Before(files[j].Date) })
	return files, nil
}

func parseFile(path string, date time.Time) (ParsedFile, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from os.ReadDir on a configured universe directory
	if err != nil {
		return ParsedFile{}, err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	var header []string
	var rows []Row
	for scanner.Scan() {
		line := scanner.Text()
		if header == nil {
			if !strings.HasPrefix(line, "#") {
				return ParsedFile{}, fmt.Errorf("additionalfields: %s missing header comment", path)
			}
			header = strings.Split(strings.TrimPrefix(line, "#"), ",")
			if !hasRequiredColumns(header) {
				return ParsedFile{Date: date, Path: path, Rows: nil}, nil
			}
			continue
		}
		fields := strings.Split(line, ",")
		row, ok := parseRow(header, fields, line)
		if ok {
			rows = append(rows, row)
		}
	}
	if err := scanner.Err(); err != nil {
		return ParsedFile{}, err
	}
	return ParsedFile{Date: date, Path: path, Rows: rows}, nil
}

func hasRequiredColumns(header []string) bool {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[strings.TrimSpace(h)] = true
	}
	for _, req := range RequiredColumns {
		if !present[req] {
			return false
		}
	}
	return true
}

func parseRow(header, fields []string, raw string) (Row, bool) {
	if len(fields) < len(header) {
		return Row{}, false
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}

	expiry, err := expiryFromSymbolValue(fields[idx["symbol_value"]])
	if err != nil {
		return Row{}, false
	}

	row := Row{Raw: raw, Expiry: expiry}
	if ivStr := strings.TrimSpace(fields[idx["implied_volatility"]]); ivStr != "" {
		if v, err := strconv.ParseFloat(ivStr, 64); err == nil {
			row.IV = v
			row.HasIV = true
		}
	}
	if deltaStr := strings.TrimSpace(fields[idx["delta"]]); deltaStr != "" {
		if v, err := strconv.ParseFloat(deltaStr, 64); err == nil {
			row.Delta = v
		}
	}
	return row, true
}

// expiryFromSymbolValue extracts the YYMMDD expiry embedded in an
// OSI-style option ticker in the symbol_value column.
func expiryFromSymbolValue(ticker string) (time.Time, error) {
	ticker = strings.TrimSpace(ticker)
	if len(ticker) < 15 {
		return time.Time{}, fmt.Errorf("additionalfields: %q too short for an OSI ticker", ticker)
	}
	for i := 0; i <= len(ticker)-15; i++ {
		candidate := ticker[i : i+6]
		if !isSixDigits(candidate) {
			continue
		}
		typeChar := ticker[i+6]
		if typeChar != 'P' && typeChar != 'C' && typeChar != 'p' && typeChar != 'c' {
			continue
		}
		t, err := time.Parse("060102", candidate)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("additionalfields: could not locate expiry in %q", ticker)
}

func isSixDigits(s string) bool {
	if len(s) != 6 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
