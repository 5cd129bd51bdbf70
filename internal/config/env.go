package config

import (
	"fmt"
	"os"
	"time"
)

// Environment overrides. Unset or empty variables leave the value alone.
const (
	EnvStation         = "DOCKET_STATION"
	EnvServerAddr      = "DOCKET_SERVER_ADDR"
	EnvDB              = "DOCKET_DB"
	EnvShutdownTimeout = "DOCKET_SHUTDOWN_TIMEOUT"
	EnvRemoteURL       = "DOCKET_REMOTE_URL"
	EnvRemoteTimeout   = "DOCKET_REMOTE_TIMEOUT"
	EnvReconnectDelay  = "DOCKET_RECONNECT_DELAY"
	EnvDebounce        = "DOCKET_DEBOUNCE"
	EnvConflictPolicy  = "DOCKET_CONFLICT_POLICY"
	EnvLogLevel        = "DOCKET_LOG_LEVEL"
	EnvLogFormat       = "DOCKET_LOG_FORMAT"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durenv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	return d, nil
}

func applyEnv(c *Config) error {
	c.Station = getenv(EnvStation, c.Station)
	c.Server.Addr = getenv(EnvServerAddr, c.Server.Addr)
	c.Server.DB = getenv(EnvDB, c.Server.DB)
	c.Remote.URL = getenv(EnvRemoteURL, c.Remote.URL)
	c.Sync.ConflictPolicy = getenv(EnvConflictPolicy, c.Sync.ConflictPolicy)
	c.Log.Level = getenv(EnvLogLevel, c.Log.Level)
	c.Log.Format = getenv(EnvLogFormat, c.Log.Format)

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{EnvShutdownTimeout, &c.Server.ShutdownTimeout},
		{EnvRemoteTimeout, &c.Remote.Timeout},
		{EnvReconnectDelay, &c.Remote.ReconnectDelay},
		{EnvDebounce, &c.Sync.Debounce},
	}
	for _, d := range durations {
		v, err := durenv(d.key, *d.dst)
		if err != nil {
			return err
		}
		*d.dst = v
	}
	return nil
}
