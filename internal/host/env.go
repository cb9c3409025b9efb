package host

import (
	"context"
	"os"
	"strings"
)

// EnvSecrets resolves secrets from environment variables. A secret named
// "directline.signing_key" maps to INLET_SECRET_DIRECTLINE_SIGNING_KEY.
type EnvSecrets struct {
	Prefix string
}

// NewEnvSecrets creates an environment-backed secret store with the default
// INLET_SECRET_ prefix.
func NewEnvSecrets() *EnvSecrets {
	return &EnvSecrets{Prefix: "INLET_SECRET_"}
}

// Get returns the secret from the environment, or ErrNotFound.
func (s *EnvSecrets) Get(_ context.Context, name string) (string, error) {
	value, ok := os.LookupEnv(s.Prefix + envKey(name))
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func envKey(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, ch := range strings.ToUpper(name) {
		if ('A' <= ch && ch <= 'Z') || ('0' <= ch && ch <= '9') {
			b.WriteRune(ch)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
