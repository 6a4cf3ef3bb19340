package config

import (
	"fmt"
	"os"
)

type Config struct {
	DBFile       string
	APIAddr      string
	BaseURL      string
	UploadsPath  string
	VAPIDPublic  string
	VAPIDPrivate string
	VAPIDSubject string
}

func Load() (*Config, error) {
	cfg := &Config{
		DBFile:       getEnv("OKOLITSA_DB", "okolitsa.db"),
		APIAddr:      getEnv("API_ADDR", ":8080"),
		BaseURL:      getEnv("BASE_URL", "http://localhost:8080"),
		UploadsPath:  getEnv("UPLOADS_PATH", "uploads"),
		VAPIDPublic:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivate: os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubject: getEnv("VAPID_SUBJECT", "mailto:admin@localhost"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if (c.VAPIDPublic == "") != (c.VAPIDPrivate == "") {
		return fmt.Errorf("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")
	}

	return nil
}

// PushEnabled reports whether web push delivery is configured.
func (c *Config) PushEnabled() bool {
	return c.VAPIDPublic != "" && c.VAPIDPrivate != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
