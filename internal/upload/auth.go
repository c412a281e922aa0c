package upload

import (
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/sells-group/extract-runner/internal/config"
)

// Auth modes accepted by api.auth.
const (
	AuthNone   = "none"
	AuthBearer = "bearer"
	AuthBasic  = "basic"
)

type authenticator func(req *http.Request)

// authFor validates the credentials for the configured mode. An empty mode
// means none.
func authFor(cfg config.APIConfig) (authenticator, error) {
	switch cfg.Auth {
	case AuthNone, "":
		return func(*http.Request) {}, nil
	case AuthBearer:
		if cfg.BearerToken == "" {
			return nil, eris.New("upload: bearer token is required when auth is 'bearer'")
		}
		token := cfg.BearerToken
		return func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+token)
		}, nil
	case AuthBasic:
		if cfg.BasicUsername == "" || cfg.BasicPassword == "" {
			return nil, eris.New("upload: username and password are required when auth is 'basic'")
		}
		user, pass := cfg.BasicUsername, cfg.BasicPassword
		return func(req *http.Request) {
			req.SetBasicAuth(user, pass)
		}, nil
	default:
		return nil, eris.Errorf("upload: invalid auth type %q", cfg.Auth)
	}
}
