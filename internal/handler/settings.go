package handler

import (
	"credproxy/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// Settings carries the configuration values the handlers need.
type Settings struct {
	BackendURL  string
	BackendHost string
	ProxyPrefix string
}

// NewSettings extracts handler settings from the configuration.
func NewSettings(cfg *config.Config) (Settings, error) {
	u, err := cfg.Backend.URL()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		BackendURL:  cfg.Backend.BaseURL,
		BackendHost: u.Host,
		ProxyPrefix: cfg.Proxy.Prefix,
	}, nil
}
