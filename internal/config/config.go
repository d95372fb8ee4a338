package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultHNBaseURL       = "https://hn.algolia.com/api/v1"
	defaultLobstersBaseURL = "https://lobste.rs"
	defaultDBPath          = "~/.threadnews.db"
	defaultFetchLimit      = 4
	defaultRequestTimeout  = 10 * time.Second
)

// Config holds runtime settings for the reader.
type Config struct {
	DBPath          string
	LogFile         string
	HNBaseURL       string
	LobstersBaseURL string
	FetchLimit      int
	RequestTimeout  time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		DBPath:          os.Getenv("THREADNEWS_DB_PATH"),
		LogFile:         os.Getenv("THREADNEWS_LOG_FILE"),
		HNBaseURL:       os.Getenv("THREADNEWS_HN_API_URL"),
		LobstersBaseURL: os.Getenv("THREADNEWS_LOBSTERS_URL"),
		FetchLimit:      defaultFetchLimit,
		RequestTimeout:  defaultRequestTimeout,
	}

	if cfg.DBPath == "" {
		cfg.DBPath = defaultDBPath
	}
	if cfg.HNBaseURL == "" {
		cfg.HNBaseURL = defaultHNBaseURL
	}
	if cfg.LobstersBaseURL == "" {
		cfg.LobstersBaseURL = defaultLobstersBaseURL
	}

	if raw := os.Getenv("THREADNEWS_FETCH_LIMIT"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("THREADNEWS_FETCH_LIMIT must be an integer: %q", raw)
		}
		cfg.FetchLimit = limit
	}
	if raw := os.Getenv("THREADNEWS_TIMEOUT_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("THREADNEWS_TIMEOUT_SECONDS must be an integer: %q", raw)
		}
		cfg.RequestTimeout = time.Duration(seconds) * time.Second
	}

	cfg.DBPath = ExpandHome(cfg.DBPath)
	cfg.LogFile = ExpandHome(cfg.LogFile)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("DBPath is required")
	}
	if c.HNBaseURL == "" {
		return fmt.Errorf("HNBaseURL is required")
	}
	if c.LobstersBaseURL == "" {
		return fmt.Errorf("LobstersBaseURL is required")
	}
	if strings.HasSuffix(c.HNBaseURL, "/") {
		return fmt.Errorf("HNBaseURL must not end with '/': %s", c.HNBaseURL)
	}
	if strings.HasSuffix(c.LobstersBaseURL, "/") {
		return fmt.Errorf("LobstersBaseURL must not end with '/': %s", c.LobstersBaseURL)
	}
	if c.FetchLimit < 1 {
		return fmt.Errorf("FetchLimit must be at least 1: %d", c.FetchLimit)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("RequestTimeout must be positive: %s", c.RequestTimeout)
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
