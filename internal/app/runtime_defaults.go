package app

import (
	"fmt"
	"strings"

	"github.com/patternscout/patternscout/pkg/crypto"
)

const jwtSecretBytes = 48

// ApplyRuntimeDefaults fills in the JWT signing secret when none is
// configured. Development only: a generated secret changes on every
// restart and silently invalidates all sessions, so production refuses
// to start without an explicit one.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		if cfg.Server.Production() {
			return nil, fmt.Errorf("auth.jwt.secret must be set in production (PATTERNSCOUT_AUTH_JWT_SECRET)")
		}

		secret, err := crypto.GenerateToken(jwtSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.Auth.JWT.Secret = secret
		generated["auth.jwt.secret"] = true
	}

	return generated, nil
}
