// Package config loads deployment settings from the environment.
package config

import (
	"errors"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

var ErrMissingSecret = errors.New("JWT_SECRET is not set")

type Config struct {
	JWTSecret  string        `env:"JWT_SECRET"`
	JWTIssuer  string        `env:"JWT_ISSUER,default=chatroom-server"`
	TokenTTL   time.Duration `env:"TOKEN_TTL,default=24h"`
	CORSOrigin string        `env:"CORS_ORIGIN,default=*"`
}

// Load reads the environment, seeding it from dotenvFiles first if they
// exist. Variables that are already set are not overridden by the files.
func Load(dotenvFiles ...string) (Config, error) {
	for _, f := range dotenvFiles {
		// missing files are fine, the environment may be complete
		_ = godotenv.Load(f)
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.JWTSecret == "" {
		return Config{}, ErrMissingSecret
	}
	return cfg, nil
}
