package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// E2E_RELAY_URL targets a running relay, an in-process one is started when empty
	RelayURL string `envconfig:"E2E_RELAY_URL"`
	// E2E_DEBUG_JSON dumps every view snapshot as JSON
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours   bool   `envconfig:"E2E_COLOURS" default:"true"`
	JWTSecret string `envconfig:"E2E_JWT_SECRET" default:"e2e-secret-with-enough-bytes"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
