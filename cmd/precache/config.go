package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Origin URL to proxy to (overrides addr and host)
	Origin string `yaml:"origin" env:"PRECACHE_ORIGIN"`
	// Origin IP address to proxy to, over HTTPS
	Addr string `yaml:"addr" env:"PRECACHE_ADDR"`
	// Hostname of origin
	Host    string `yaml:"host" env:"PRECACHE_HOST"`
	Port    int    `yaml:"port" env:"PRECACHE_PORT"`
	DB      string `yaml:"db" env:"PRECACHE_DB"`
	LogFile string `yaml:"logFile" env:"PRECACHE_LOG_FILE"`
}

func defaultConfig() Config {
	return Config{
		Port: 8080,
		DB:   "cache.db",
	}
}

// getConfig reads the config file, if given, and then applies the environment.
func getConfig(filename string) (Config, error) {
	config := defaultConfig()
	if filename != "" {
		configBytes, err := os.ReadFile(filename)
		if err != nil {
			return config, err
		}
		if err := yaml.Unmarshal(configBytes, &config); err != nil {
			return config, fmt.Errorf("parse %s: %w", filename, err)
		}
	}
	if err := env.Parse(&config); err != nil {
		return config, fmt.Errorf("parse env: %w", err)
	}
	return config, nil
}

// originURL returns the origin URL and the hostname to use for it.
func (c Config) originURL() (url.URL, string, error) {
	switch {
	case c.Origin != "":
		originUrl, err := url.Parse(c.Origin)
		if err != nil {
			return url.URL{}, "", fmt.Errorf("parse origin: %w", err)
		}
		if originUrl.Scheme == "" || originUrl.Host == "" {
			return url.URL{}, "", fmt.Errorf("origin %q is not an absolute URL", c.Origin)
		}
		return *originUrl, "", nil
	case c.Addr != "":
		originUrl, err := url.Parse("https://" + c.Addr)
		if err != nil {
			return url.URL{}, "", fmt.Errorf("parse addr: %w", err)
		}
		return *originUrl, c.Host, nil
	default:
		return url.URL{}, "", fmt.Errorf("please specify origin")
	}
}

// dbFilename returns the sqlite file name, where 'memory' means an in-memory db.
func (c Config) dbFilename() string {
	if c.DB == "memory" {
		return "file::memory:?cache=shared"
	}
	return c.DB
}
