package additionalfields

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/solstice-quant/derivuniverse/internal/csvio"
)

// Run executes the Additional Fields Pass (C7) for one underlying's
// universe directory on processing date D: discovers the trailing year
// of files (including D's own, just written by C6), computes each
// file's ATM IV30, derives iv_rank/iv_percentile for D's IV30 against
// that series, and rewrites D's file with the resulting triple appended
// to every data row.
//
// Per spec §4.7 step 4 / §9 open question #1, the SAME triple is
// broadcast to every row in the rewritten file — a quirk of the original
// system preserved here deliberately, not silently corrected.
func Run(dir string, d time.Time) error {
	files, err := DiscoverYear(dir, d)
	if err != nil {
		return err
	}

	var ivs []float64
	var todays ParsedFile
	foundToday := false
	for _, f := range files {
		if f.Rows == nil {
			continue // missing required columns: skipped per spec
		}
		iv30, ok := ATMIV30(f.Rows, f.Date)
		if !ok {
			continue
		}
		ivs = append(ivs, iv30)
		if f.Date.Equal(truncateToDay(d)) {
			todays = f
			foundToday = true
		}
	}
	if !foundToday {
		return fmt.Errorf("additionalfields: no usable universe file for %s in %s", d.Format("20060102"), dir)
	}

	iv30, rank, percentile, rankOK := Series(ivs)
	return rewriteFile(todays, iv30, rank, percentile, rankOK)
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func rewriteFile(pf ParsedFile, iv30, rank, percentile float64, rankOK bool) error {
	original, err := readAllLines(pf.Path)
	if err != nil {
		return err
	}
	if len(original) == 0 {
		return fmt.Errorf("empty file")
	}

	header := strings.TrimSuffix(original[0], "\n") + ",iv_30,iv_rank,iv_percentile\n"
	rankStr, percStr := "", ""
	if rankOK {
		rankStr = strconv.FormatFloat(rank, 'f', -1, 64)
		percStr = strconv.FormatFloat(percentile, 'f', -1, 64)
	}
	suffix := fmt.Sprintf(",%s,%s,%s", strconv.FormatFloat(iv30, 'f', -1, 64), rankStr, percStr)

	rows := make(chan string, len(original)-1)
	for _, line := range original[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		rows <- strings.TrimSuffix(line, "\n") + suffix + "\n"
	}
	close(rows)

	return csvio.WriteFile(pf.Path, header, rows)
}

func readAllLines(path string) ([]string, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from a prior DiscoverYear scan of a configured universe directory
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text()+"\n")
	}
	return lines, scanner.Err()
}
