package files

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/extract-runner/internal/config"
)

const archiveStampLayout = "20060102_150405"

// Archiver moves processed files out of the extractor's output directory.
type Archiver struct {
	cfg config.ArchiveConfig
	now func() time.Time
}

// NewArchiver creates an Archiver.
func NewArchiver(cfg config.ArchiveConfig) *Archiver {
	return &Archiver{cfg: cfg, now: time.Now}
}

// Enabled reports whether archiving is configured.
func (a *Archiver) Enabled() bool {
	return a.cfg.Enabled
}

// Archive moves path into the archive directory, creating it if needed, and
// returns the destination. With AppendTimestamp the file is renamed to
// <stem>_<YYYYMMDD_HHMMSS><ext> using the current UTC time. A disabled
// archiver returns "" and does nothing.
func (a *Archiver) Archive(path string) (string, error) {
	if !a.cfg.Enabled {
		return "", nil
	}

	name := filepath.Base(path)
	if name == "." || name == string(filepath.Separator) {
		return "", eris.Errorf("files: archive %q: no file name", path)
	}
	if a.cfg.AppendTimestamp {
		ext := filepath.Ext(name)
		stem := strings.TrimSuffix(name, ext)
		if stem == "" {
			stem = "file"
		}
		name = stem + "_" + a.now().UTC().Format(archiveStampLayout) + ext
	}

	if err := os.MkdirAll(a.cfg.Path, 0o755); err != nil {
		return "", eris.Wrapf(err, "files: create archive directory %s", a.cfg.Path)
	}

	dest := filepath.Join(a.cfg.Path, name)
	if err := os.Rename(path, dest); err != nil {
		return "", eris.Wrapf(err, "files: move %s to %s", path, dest)
	}

	zap.L().Info("files: archived file", zap.String("from", path), zap.String("to", dest))
	return dest, nil
}
