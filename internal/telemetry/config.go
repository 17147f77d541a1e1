package telemetry

import (
	"net"
	"strings"

	"codeberg.org/mutker/framealign/internal/errors"
)

const (
	defaultNamespace = "framealign"
	defaultPath      = "/metrics"
)

type Config struct {
	Enabled bool
	// Listen is the address of the HTTP metrics endpoint. Empty disables the
	// endpoint while still collecting.
	Listen    string
	Path      string
	Namespace string
}

func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Path:      defaultPath,
		Namespace: defaultNamespace,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if !c.Enabled {
		return nil
	}
	if c.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Listen); err != nil {
			return errFactory.Wrap(ErrInvalidListenAddress, err)
		}
	}
	if !strings.HasPrefix(c.Path, "/") {
		return errFactory.WithData(ErrInvalidPath, c.Path)
	}

	return nil
}
