package config

import (
	"errors"
	"fmt"
)

var validModes = map[string]bool{
	"":             true,
	"abridged":     true,
	"intermediate": true,
	"full":         true,
}

// Validate checks the structural validity of a Config. All problems are
// reported at once, joined into a single error.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if cfg.API.ID == 0 {
		errs = append(errs, errors.New("config: api.id is required"))
	}
	if cfg.API.Hash == "" {
		errs = append(errs, errors.New("config: api.hash is required"))
	}

	if !validModes[cfg.Transport.Mode] {
		errs = append(errs, fmt.Errorf("config: unknown transport mode %q", cfg.Transport.Mode))
	}

	if cfg.Retry.MaxRedirects < 0 {
		errs = append(errs, errors.New("config: retry.max_redirects must not be negative"))
	}
	if cfg.Retry.MaxAttempts < 0 {
		errs = append(errs, errors.New("config: retry.max_attempts must not be negative"))
	}
	if cfg.Retry.InitialInterval < 0 || cfg.Retry.MaxInterval < 0 {
		errs = append(errs, errors.New("config: retry intervals must not be negative"))
	}

	if cfg.Keepalive.Interval < 0 {
		errs = append(errs, errors.New("config: keepalive.interval must not be negative"))
	}

	if cfg.Storage.Passphrase != "" && cfg.Storage.Path == "" {
		errs = append(errs, errors.New("config: storage.passphrase is set but storage.path is empty"))
	}

	for i, dc := range cfg.Datacenters {
		if dc.ID <= 0 {
			errs = append(errs, fmt.Errorf("config: datacenters[%d]: id must be positive", i))
		}
		if dc.Addr == "" {
			errs = append(errs, fmt.Errorf("config: datacenters[%d]: addr is required", i))
		}
	}

	return errors.Join(errs...)
}
