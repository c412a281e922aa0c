// Package lookup enriches extractor report rows with supplier data from an
// HTTP lookup service and posts the enriched table back.
package lookup

import (
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/extract-runner/internal/textenc"
)

// Row is one report line plus its lookup fields. PartNo is the join key.
type Row struct {
	Plant    string `json:"plant"`
	Delivery string `json:"delivery"`
	PartNo   string `json:"part_no"`
	DUNS     string `json:"duns"`
	COF      string `json:"cof"`
	Country  string `json:"country"`
	Shipment string `json:"shipment"`
}

// Record is the lookup service's data for one part number.
type Record struct {
	DUNS    string `json:"duns"`
	COF     string `json:"cof"`
	Country string `json:"country"`
}

// ParseRows reads a ragged tab-separated report. Lines before the header (the
// first line mentioning plant, delivery and material) are ignored.
func ParseRows(r io.Reader) ([]Row, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "lookup: read report")
	}
	decoded := textenc.Decode(data)
	if decoded.Encoding == textenc.Windows1252 {
		zap.L().Warn("lookup: report is not valid UTF-8, decoded as Windows-1252")
	}

	var rows []Row
	seenHeader := false
	lineCount := 0
	for line := range strings.SplitSeq(decoded.Text, "\n") {
		lineCount++
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if !seenHeader {
			lc := strings.ToLower(line)
			if strings.Contains(lc, "plant") && strings.Contains(lc, "delivery") && strings.Contains(lc, "material") {
				seenHeader = true
				zap.L().Debug("lookup: found header row", zap.Int("line", lineCount))
			}
			continue
		}

		row, ok := parseLine(line)
		if !ok {
			zap.L().Debug("lookup: skipping line", zap.Int("line", lineCount))
			continue
		}
		rows = append(rows, row)
	}

	zap.L().Info("lookup: parsed report",
		zap.Int("lines", lineCount),
		zap.Bool("header_found", seenHeader),
		zap.Int("rows", len(rows)),
	)
	return rows, nil
}

// parseLine splits a trimmed data line. The part number is the first token of
// the last non-empty column from the third column on.
func parseLine(line string) (Row, bool) {
	cols := strings.Split(line, "\t")
	if len(cols) < 3 {
		return Row{}, false
	}

	row := Row{
		Plant:    strings.TrimSpace(cols[0]),
		Delivery: strings.TrimSpace(cols[1]),
	}
	for i := len(cols) - 1; i >= 2; i-- {
		if fields := strings.Fields(cols[i]); len(fields) > 0 {
			row.PartNo = fields[0]
			break
		}
	}

	if row.Plant == "" && row.Delivery == "" && row.PartNo == "" {
		return Row{}, false
	}
	return row, true
}

// UniquePartNumbers returns the distinct non-empty part numbers in first-seen
// order.
func UniquePartNumbers(rows []Row) []string {
	seen := make(map[string]struct{}, len(rows))
	parts := make([]string, 0, len(rows))
	empty, dupes := 0, 0
	for _, r := range rows {
		if strings.TrimSpace(r.PartNo) == "" {
			empty++
			continue
		}
		if _, ok := seen[r.PartNo]; ok {
			dupes++
			continue
		}
		seen[r.PartNo] = struct{}{}
		parts = append(parts, r.PartNo)
	}
	zap.L().Debug("lookup: part number deduplication",
		zap.Int("unique", len(parts)),
		zap.Int("empty", empty),
		zap.Int("duplicates", dupes),
	)
	return parts
}

// Merge fills the lookup fields of every row whose part number has a record.
// Rows without a match keep blank lookup fields. It returns the number of rows
// matched; rows is modified in place and never changes length.
func Merge(rows []Row, records map[string]Record) int {
	matched := 0
	for i := range rows {
		if rows[i].PartNo == "" {
			continue
		}
		rec, ok := records[rows[i].PartNo]
		if !ok {
			continue
		}
		rows[i].DUNS = rec.DUNS
		rows[i].COF = rec.COF
		rows[i].Country = rec.Country
		matched++
	}
	return matched
}
