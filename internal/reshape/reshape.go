// Package reshape turns a raw extractor report into a clean delimited file:
// it finds the real header row, drops the report preamble, normalizes the data
// rows, and writes them under a fixed header.
package reshape

import (
	"context"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/extract-runner/internal/config"
	"github.com/sells-group/extract-runner/internal/textenc"
)

// ErrTooFewLines is returned when the input has no lines past the preamble.
var ErrTooFewLines = eris.New("reshape: too few lines")

const (
	headerTSV = "Plant\tDelivery\tMaterial"
	headerCSV = "Plant,Delivery,Material"
)

// Result describes a reshaped file on disk. The caller owns the file and
// should call Cleanup when done with it.
type Result struct {
	Path        string
	Rows        int
	Encoding    textenc.Encoding
	HeaderFound bool
}

// Cleanup removes the output file.
func (r *Result) Cleanup() {
	if r == nil || r.Path == "" {
		return
	}
	if err := os.Remove(r.Path); err != nil && !os.IsNotExist(err) {
		zap.L().Warn("reshape: remove temp file", zap.String("path", r.Path), zap.Error(err))
	}
}

// Output is the in-memory result of ReshapeBytes.
type Output struct {
	Data        []byte
	Rows        int
	Encoding    textenc.Encoding
	HeaderFound bool
}

// Reshaper applies a TransformConfig to report files.
type Reshaper struct {
	cfg     config.TransformConfig
	tempDir string
}

// New creates a Reshaper. Temp files go to the system temp directory.
func New(cfg config.TransformConfig) *Reshaper {
	return &Reshaper{cfg: cfg}
}

// Reshape reads path, reshapes it, and writes the result to a new temp file.
func (r *Reshaper) Reshape(ctx context.Context, path string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("path", path))
	log.Info("reshape: transforming file")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "reshape: read %s", path)
	}
	log.Debug("reshape: read input", zap.Int("bytes", len(data)))

	out, err := r.ReshapeBytes(data)
	if err != nil {
		return nil, eris.Wrapf(err, "reshape: %s", path)
	}

	f, err := os.CreateTemp(r.tempDir, "extract-runner-*."+r.extension())
	if err != nil {
		return nil, eris.Wrap(err, "reshape: create temp file")
	}
	res := &Result{Path: f.Name(), Rows: out.Rows, Encoding: out.Encoding, HeaderFound: out.HeaderFound}

	if _, err := f.Write(out.Data); err != nil {
		_ = f.Close()
		res.Cleanup()
		return nil, eris.Wrap(err, "reshape: write temp file")
	}
	if err := f.Close(); err != nil {
		res.Cleanup()
		return nil, eris.Wrap(err, "reshape: close temp file")
	}

	log.Info("reshape: transformed file created",
		zap.String("output", res.Path),
		zap.Int("rows", res.Rows),
		zap.Stringer("encoding", res.Encoding),
	)
	return res, nil
}

// ReshapeBytes is the pure transformation behind Reshape.
func (r *Reshaper) ReshapeBytes(data []byte) (*Output, error) {
	decoded := textenc.Decode(data)
	if decoded.Encoding == textenc.Windows1252 {
		zap.L().Warn("reshape: input is not valid UTF-8, decoded as Windows-1252")
	}

	lines := SplitLines(decoded.Text)
	skip := r.cfg.HeaderRowsToSkip
	if skip < 0 {
		skip = 0
	}
	if len(lines) <= skip {
		return nil, eris.Wrapf(ErrTooFewLines, "%d lines, cannot skip %d header rows", len(lines), skip)
	}

	start, found := r.findDataStart(lines, skip)

	rows := make([]string, 0, len(lines)-start)
	seen := make(map[string]struct{})
	for i := start; i < len(lines); i++ {
		line := lines[i]
		if strings.TrimSpace(line) == "" {
			continue
		}
		if r.cfg.TrimWhitespace {
			line = strings.TrimSpace(line)
		}
		if r.cfg.DedupeRows {
			if _, dup := seen[line]; dup {
				zap.L().Debug("reshape: skipping duplicate row", zap.Int("line", i+1))
				continue
			}
			seen[line] = struct{}{}
		}
		rows = append(rows, line)
	}

	return &Output{
		Data:        r.serialize(rows),
		Rows:        len(rows),
		Encoding:    decoded.Encoding,
		HeaderFound: found,
	}, nil
}

// findDataStart returns the index of the first line after the header row.
// Without a match it falls back to the skip offset.
func (r *Reshaper) findDataStart(lines []string, skip int) (int, bool) {
	match := strings.ToLower(r.cfg.HeaderMatch)
	for i := skip; i < len(lines); i++ {
		if strings.Contains(strings.ToLower(lines[i]), match) {
			zap.L().Debug("reshape: found header row", zap.Int("line", i+1))
			return i + 1, true
		}
	}
	zap.L().Warn("reshape: header row not found, using configured skip count",
		zap.String("header_match", r.cfg.HeaderMatch),
		zap.Int("skip", skip),
	)
	return skip, false
}

func (r *Reshaper) serialize(rows []string) []byte {
	csv := r.isCSV()
	eol := "\n"
	if r.cfg.OutputLineEnding == "crlf" {
		eol = "\r\n"
	}

	var b strings.Builder
	if csv {
		b.WriteString(headerCSV)
	} else {
		b.WriteString(headerTSV)
	}
	b.WriteString(eol)
	for _, row := range rows {
		if csv {
			row = strings.ReplaceAll(row, "\t", ",")
		}
		b.WriteString(row)
		b.WriteString(eol)
	}
	return []byte(b.String())
}

func (r *Reshaper) isCSV() bool {
	return r.cfg.Format == "csv"
}

func (r *Reshaper) extension() string {
	if r.isCSV() {
		return "csv"
	}
	return "tsv"
}

// SplitLines splits text on \n and strips one trailing \r from each line. A
// final newline does not produce an empty last line.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.TrimSuffix(text, "\n")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
