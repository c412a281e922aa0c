// Package files finds the extractor's newest output file, waits for it to
// finish writing, and archives it after a successful upload.
package files

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/extract-runner/internal/config"
)

// timestampLayout is the YYYYMMDDhhmmss filename prefix written by the extractor.
const timestampLayout = "20060102150405"

// TimestampSource records where a candidate's effective timestamp came from.
type TimestampSource string

const (
	SourceFilename TimestampSource = "filename"
	SourceModTime  TimestampSource = "mtime"
)

// Candidate is a file that matched the selector's pattern.
type Candidate struct {
	Path      string
	Timestamp time.Time
	Source    TimestampSource
	Size      int64
}

// Selector picks the newest file matching a glob in a directory.
type Selector struct {
	dir       string
	pattern   string
	usePrefix bool
}

// NewSelector creates a Selector from the files config.
func NewSelector(cfg config.FilesConfig) *Selector {
	return &Selector{
		dir:       cfg.OutputDir,
		pattern:   cfg.FileGlob,
		usePrefix: cfg.FilenameTimestampPrefix,
	}
}

// Pattern returns the full glob pattern the selector scans.
func (s *Selector) Pattern() string {
	return filepath.Join(s.dir, s.pattern)
}

// FindNewest returns the matching regular file with the latest effective
// timestamp, or nil if nothing matches. Files with equal timestamps keep glob
// order.
func (s *Selector) FindNewest(ctx context.Context) (*Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pattern := s.Pattern()
	log := zap.L().With(zap.String("pattern", pattern))
	log.Debug("files: searching for candidates")

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, eris.Wrapf(err, "files: glob %s", pattern)
	}

	candidates := make([]Candidate, 0, len(matches))
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			log.Warn("files: skipping unreadable entry", zap.String("path", path), zap.Error(err))
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}

		c := Candidate{
			Path:      path,
			Timestamp: info.ModTime(),
			Source:    SourceModTime,
			Size:      info.Size(),
		}
		if s.usePrefix {
			if ts, ok := ParseTimestampPrefix(filepath.Base(path)); ok {
				c.Timestamp = ts
				c.Source = SourceFilename
			}
		}
		log.Debug("files: found candidate",
			zap.String("path", path),
			zap.Time("timestamp", c.Timestamp),
			zap.String("source", string(c.Source)),
		)
		candidates = append(candidates, c)
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	slices.SortStableFunc(candidates, func(a, b Candidate) int {
		return b.Timestamp.Compare(a.Timestamp)
	})

	newest := candidates[0]
	if abs, err := filepath.Abs(newest.Path); err == nil {
		newest.Path = abs
	}
	log.Info("files: selected newest file",
		zap.String("path", newest.Path),
		zap.Time("timestamp", newest.Timestamp),
		zap.String("source", string(newest.Source)),
		zap.Int("candidates", len(candidates)),
	)
	return &newest, nil
}

// ParseTimestampPrefix parses a leading YYYYMMDDhhmmss from name as UTC. It
// reports false unless the first 14 characters are all ASCII digits forming a
// real calendar date and time.
func ParseTimestampPrefix(name string) (time.Time, bool) {
	if len(name) < len(timestampLayout) {
		return time.Time{}, false
	}
	prefix := name[:len(timestampLayout)]
	for i := 0; i < len(prefix); i++ {
		if prefix[i] < '0' || prefix[i] > '9' {
			return time.Time{}, false
		}
	}

	ts, err := time.ParseInLocation(timestampLayout, prefix, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
