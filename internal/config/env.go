package config

import (
	"errors"
	"fmt"

	"github.com/joeshaw/envdecode"
)

// ApplyEnv overlays STARWATCH_* environment variables onto cfg. Unset
// variables leave the file values alone.
func ApplyEnv(cfg *Config) error {
	if err := envdecode.Decode(cfg); err != nil {
		if errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return nil
		}
		return fmt.Errorf("env overrides: %w", err)
	}
	return nil
}
