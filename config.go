package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/feedpipe/backend"
	"github.com/jackc/feedpipe/backend/ingest"
	"github.com/vaughan0/go-ini"
)

const defaultUserAgent = "feedpipe/" + version

type config struct {
	databaseURL string

	storeDriver string
	sqlitePath  string

	queueDriver string
	workers     int

	refreshInterval time.Duration
	feedRetry       ingest.RetryPolicy
	entryRetry      ingest.RetryPolicy
	fetchTimeout    time.Duration
	userAgent       string

	http backend.HTTPConfig

	logLevel    string
	pgxLogLevel string
}

func loadConfig(path string, required bool) (ini.File, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("Invalid config path: %v", err)
	}

	file, err := ini.LoadFile(path)
	if err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return ini.File{}, nil
		}
		return nil, fmt.Errorf("Failed to load config file: %v", err)
	}

	return file, nil
}

// newConfig reads conf and applies environment overrides from getenv.
func newConfig(conf ini.File, getenv func(string) string) (*config, error) {
	c := &config{}
	var err error

	c.databaseURL = databaseURL(conf)
	if s := getenv("DATABASE_URL"); s != "" {
		c.databaseURL = s
	}

	c.storeDriver = stringValue(conf, "store", "driver", "postgres")
	c.sqlitePath = stringValue(conf, "store", "sqlite_path", "feedpipe.db")

	defaultQueue := "river"
	if c.storeDriver == "sqlite" {
		defaultQueue = "local"
	}
	c.queueDriver = stringValue(conf, "queue", "driver", defaultQueue)
	if c.workers, err = intValue(conf, getenv, "queue", "workers", "", 25); err != nil {
		return nil, err
	}

	var seconds int
	if seconds, err = intValue(conf, getenv, "ingest", "refresh_interval_seconds", "REFRESH_INTERVAL_SECONDS", 15); err != nil {
		return nil, err
	}
	c.refreshInterval = time.Duration(seconds) * time.Second

	if c.feedRetry.MaxRetries, err = intValue(conf, getenv, "ingest", "feed_max_retries", "FEED_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if c.entryRetry.MaxRetries, err = intValue(conf, getenv, "ingest", "entry_max_retries", "ENTRY_MAX_RETRIES", 3); err != nil {
		return nil, err
	}

	if seconds, err = intValue(conf, getenv, "ingest", "retry_interval_seconds", "RETRY_INTERVAL_SECONDS", 15); err != nil {
		return nil, err
	}
	c.feedRetry.Interval = time.Duration(seconds) * time.Second
	c.entryRetry.Interval = c.feedRetry.Interval

	if seconds, err = intValue(conf, getenv, "ingest", "fetch_timeout_seconds", "FETCH_TIMEOUT_SECONDS", 60); err != nil {
		return nil, err
	}
	c.fetchTimeout = time.Duration(seconds) * time.Second

	c.userAgent = stringValue(conf, "ingest", "user_agent", defaultUserAgent)

	c.http.ListenAddress = stringValue(conf, "server", "address", "127.0.0.1")
	c.http.ListenPort = stringValue(conf, "server", "port", "8080")

	c.logLevel = stringValue(conf, "log", "level", "warn")
	c.pgxLogLevel, _ = conf.Get("log", "pgx_level")

	return c, c.validate()
}

func (c *config) validate() error {
	switch c.storeDriver {
	case "postgres":
		if c.databaseURL == "" {
			return errors.New("Config must contain database.url or database.database but it does not")
		}
	case "sqlite":
		if c.sqlitePath == "" {
			return errors.New("Config must contain store.sqlite_path but it does not")
		}
	default:
		return fmt.Errorf("Unknown store driver: %q", c.storeDriver)
	}

	switch c.queueDriver {
	case "river":
		if c.storeDriver != "postgres" {
			return errors.New("Queue driver river requires store driver postgres")
		}
	case "local":
	default:
		return fmt.Errorf("Unknown queue driver: %q", c.queueDriver)
	}

	if c.workers < 1 {
		return errors.New("queue.workers must be positive")
	}
	if c.refreshInterval <= 0 {
		return errors.New("ingest.refresh_interval_seconds must be positive")
	}
	if c.fetchTimeout <= 0 {
		return errors.New("ingest.fetch_timeout_seconds must be positive")
	}
	if c.feedRetry.Interval < 0 {
		return errors.New("ingest.retry_interval_seconds must not be negative")
	}
	// Max retries bound invocations, including the first.
	if c.feedRetry.MaxRetries < 1 {
		return errors.New("ingest.feed_max_retries must be at least 1")
	}
	if c.entryRetry.MaxRetries < 1 {
		return errors.New("ingest.entry_max_retries must be at least 1")
	}

	return nil
}

// jobTimeout bounds one durable queue invocation. A refresh spends up to fetchTimeout on the
// network before its store calls.
func (c *config) jobTimeout() time.Duration {
	return c.fetchTimeout + time.Minute
}

// databaseURL returns database.url or a keyword/value connection string assembled from the
// individual database keys.
func databaseURL(conf ini.File) string {
	if url, ok := conf.Get("database", "url"); ok {
		return url
	}

	database, ok := conf.Get("database", "database")
	if !ok {
		return ""
	}

	parts := []string{"dbname=" + database}
	for _, key := range []string{"host", "port", "user", "password"} {
		if value, ok := conf.Get("database", key); ok {
			parts = append(parts, key+"="+value)
		}
	}
	return strings.Join(parts, " ")
}

func stringValue(conf ini.File, section, key, defaultValue string) string {
	if value, ok := conf.Get(section, key); ok && value != "" {
		return value
	}
	return defaultValue
}

func intValue(conf ini.File, getenv func(string) string, section, key, envKey string, defaultValue int) (int, error) {
	value, ok := conf.Get(section, key)
	source := section + "." + key
	if envKey != "" {
		if s := getenv(envKey); s != "" {
			value, ok, source = s, true, envKey
		}
	}
	if !ok || value == "" {
		return defaultValue, nil
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("Bad %s: %v", source, err)
	}
	return n, nil
}
