package pipeline

import (
	"github.com/sells-group/extract-runner/internal/config"
	"github.com/sells-group/extract-runner/internal/extract"
	"github.com/sells-group/extract-runner/internal/files"
	"github.com/sells-group/extract-runner/internal/lookup"
	"github.com/sells-group/extract-runner/internal/reshape"
	"github.com/sells-group/extract-runner/internal/upload"
)

// FromConfig wires the production collaborators for cfg and returns a Runner.
// Upload and auth settings are validated here, so a bad configuration fails
// before the extractor is ever started.
func FromConfig(cfg *config.Config, opts ...Option) (*Runner, error) {
	deps := Deps{
		Extractor: extract.New(cfg.Extraction),
		Finder:    files.NewSelector(cfg.Files),
		Gate:      files.NewGate(cfg.Files),
		Archiver:  files.NewArchiver(cfg.Archive),
	}
	if cfg.Transform.Enabled {
		deps.Reshaper = reshape.New(cfg.Transform)
	}
	if cfg.Lookup.Enabled {
		deps.Enricher = lookup.New(cfg.Lookup)
	}
	if cfg.API.Mode != config.ModeLookupEnrich {
		var uopts []upload.Option
		if b := upload.NewBreaker(cfg.Retry, cfg.Loop.Interval()); b != nil {
			uopts = append(uopts, upload.WithBreaker(b))
		}
		u, err := upload.New(cfg.API, cfg.Retry, uopts...)
		if err != nil {
			return nil, err
		}
		deps.Uploader = u
	}
	return New(cfg, deps, opts...), nil
}
