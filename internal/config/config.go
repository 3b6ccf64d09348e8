package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr           string        `yaml:"http_addr"`
	LogLevel           string        `yaml:"log_level"`
	DatabaseURL        string        `yaml:"database_url"`
	PortalURL          string        `yaml:"portal_url"`
	GalleryPageURL     string        `yaml:"gallery_page_url"`
	GalleryAssetsURL   string        `yaml:"gallery_assets_url"`
	HTTPClientTimeout  time.Duration `yaml:"http_client_timeout"`
	ItemLookupTimeout  time.Duration `yaml:"item_lookup_timeout"`
	LayerCacheSize     int           `yaml:"layer_cache_size"`
	CORSAllowedOrigins []string      `yaml:"cors_allowed_origins"`
}

func Defaults() Config {
	return Config{
		HTTPAddr:           ":8081",
		LogLevel:           "info",
		PortalURL:          "https://www.arcgis.com",
		GalleryPageURL:     "/gallery",
		HTTPClientTimeout:  15 * time.Second,
		ItemLookupTimeout:  30 * time.Second,
		LayerCacheSize:     256,
		CORSAllowedOrigins: []string{"*"},
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE (if set), then individual environment variables.
func Load(getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := Defaults()

	if path := strings.TrimSpace(getenv("CONFIG_FILE")); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", path, err)
		}
	}

	envString(getenv, "HTTP_ADDR", &cfg.HTTPAddr)
	envString(getenv, "LOG_LEVEL", &cfg.LogLevel)
	envString(getenv, "DATABASE_URL", &cfg.DatabaseURL)
	envString(getenv, "PORTAL_URL", &cfg.PortalURL)
	envString(getenv, "GALLERY_PAGE_URL", &cfg.GalleryPageURL)
	envString(getenv, "GALLERY_ASSETS_URL", &cfg.GalleryAssetsURL)
	if err := envDuration(getenv, "HTTP_CLIENT_TIMEOUT", &cfg.HTTPClientTimeout); err != nil {
		return Config{}, err
	}
	if err := envDuration(getenv, "ITEM_LOOKUP_TIMEOUT", &cfg.ItemLookupTimeout); err != nil {
		return Config{}, err
	}
	if err := envInt(getenv, "LAYER_CACHE_SIZE", &cfg.LayerCacheSize); err != nil {
		return Config{}, err
	}
	if v := strings.TrimSpace(getenv("CORS_ALLOWED_ORIGINS")); v != "" {
		cfg.CORSAllowedOrigins = splitList(v)
	}

	return cfg, nil
}

func envString(getenv func(string) string, key string, dst *string) {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		*dst = v
	}
}

func envDuration(getenv func(string) string, key string, dst *time.Duration) error {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func envInt(getenv func(string) string, key string, dst *int) error {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
