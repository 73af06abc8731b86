package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vaughan0/go-ini"
)

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestNewConfigDefaults(t *testing.T) {
	conf := ini.File{"database": {"url": "postgres://localhost/feedpipe"}}

	c, err := newConfig(conf, env(nil))
	require.NoError(t, err)

	assert.Equal(t, "postgres", c.storeDriver)
	assert.Equal(t, "river", c.queueDriver)
	assert.Equal(t, 25, c.workers)
	assert.Equal(t, 15*time.Second, c.refreshInterval)
	assert.Equal(t, 3, c.feedRetry.MaxRetries)
	assert.Equal(t, 3, c.entryRetry.MaxRetries)
	assert.Equal(t, 15*time.Second, c.feedRetry.Interval)
	assert.Equal(t, 60*time.Second, c.fetchTimeout)
	assert.Equal(t, "feedpipe/"+version, c.userAgent)
	assert.Equal(t, "127.0.0.1:8080", c.http.Addr())
	assert.Equal(t, "warn", c.logLevel)
}

func TestNewConfigEnvironmentOverrides(t *testing.T) {
	conf := ini.File{
		"database": {"url": "postgres://localhost/feedpipe"},
		"ingest":   {"refresh_interval_seconds": "30", "feed_max_retries": "7"},
	}

	c, err := newConfig(conf, env(map[string]string{
		"DATABASE_URL":             "postgres://db.example.org/feedpipe",
		"REFRESH_INTERVAL_SECONDS": "5",
		"ENTRY_MAX_RETRIES":        "1",
		"RETRY_INTERVAL_SECONDS":   "2",
		"FETCH_TIMEOUT_SECONDS":    "10",
	}))
	require.NoError(t, err)

	assert.Equal(t, "postgres://db.example.org/feedpipe", c.databaseURL)
	assert.Equal(t, 5*time.Second, c.refreshInterval)
	assert.Equal(t, 7, c.feedRetry.MaxRetries)
	assert.Equal(t, 1, c.entryRetry.MaxRetries)
	assert.Equal(t, 2*time.Second, c.entryRetry.Interval)
	assert.Equal(t, 10*time.Second, c.fetchTimeout)
}

func TestNewConfigDatabaseKeys(t *testing.T) {
	conf := ini.File{"database": {"database": "feedpipe", "host": "localhost", "user": "jack"}}

	c, err := newConfig(conf, env(nil))
	require.NoError(t, err)
	assert.Equal(t, "dbname=feedpipe host=localhost user=jack", c.databaseURL)
}

func TestNewConfigSQLite(t *testing.T) {
	conf := ini.File{"store": {"driver": "sqlite", "sqlite_path": "/tmp/feeds.db"}}

	c, err := newConfig(conf, env(nil))
	require.NoError(t, err)
	assert.Equal(t, "local", c.queueDriver)
	assert.Equal(t, "/tmp/feeds.db", c.sqlitePath)
}

func TestNewConfigErrors(t *testing.T) {
	tests := []struct {
		conf ini.File
		env  map[string]string
	}{
		{ini.File{}, nil},
		{ini.File{"database": {"url": "postgres://"}, "store": {"driver": "mysql"}}, nil},
		{ini.File{"store": {"driver": "sqlite"}, "queue": {"driver": "river"}}, nil},
		{ini.File{"database": {"url": "postgres://"}, "queue": {"driver": "kafka"}}, nil},
		{ini.File{"database": {"url": "postgres://"}, "queue": {"workers": "0"}}, nil},
		{ini.File{"database": {"url": "postgres://"}}, map[string]string{"REFRESH_INTERVAL_SECONDS": "0"}},
		{ini.File{"database": {"url": "postgres://"}}, map[string]string{"FEED_MAX_RETRIES": "three"}},
		{ini.File{"database": {"url": "postgres://"}, "ingest": {"fetch_timeout_seconds": "-1"}}, nil},
		{ini.File{"database": {"url": "postgres://"}}, map[string]string{"FEED_MAX_RETRIES": "0"}},
		{ini.File{"database": {"url": "postgres://"}}, map[string]string{"ENTRY_MAX_RETRIES": "0"}},
		{ini.File{"database": {"url": "postgres://"}, "ingest": {"feed_max_retries": "-2"}}, nil},
	}

	for i, tt := range tests {
		_, err := newConfig(tt.conf, env(tt.env))
		if err == nil {
			t.Errorf("%d. %v: Expected error but none was returned", i, tt.conf)
		}
	}
}

func TestNewConfigAcceptsSingleInvocation(t *testing.T) {
	conf := ini.File{"database": {"url": "postgres://localhost/feedpipe"}}

	c, err := newConfig(conf, env(map[string]string{"FEED_MAX_RETRIES": "1", "ENTRY_MAX_RETRIES": "1"}))
	require.NoError(t, err)
	assert.Equal(t, 1, c.feedRetry.MaxRetries)
	assert.Equal(t, 1, c.entryRetry.MaxRetries)
}

func TestJobTimeoutExceedsFetchTimeout(t *testing.T) {
	tests := []string{"1", "60", "300"}

	for i, seconds := range tests {
		conf := ini.File{"database": {"url": "postgres://localhost/feedpipe"}}
		c, err := newConfig(conf, env(map[string]string{"FETCH_TIMEOUT_SECONDS": seconds}))
		require.NoError(t, err)

		if c.jobTimeout() <= c.fetchTimeout {
			t.Errorf("%d. fetch timeout %v: Expected job timeout above it, instead received %v", i, c.fetchTimeout, c.jobTimeout())
		}
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feedpipe.conf")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nport = 9000\n"), 0644))

	conf, err := loadConfig(path, true)
	require.NoError(t, err)
	port, _ := conf.Get("server", "port")
	assert.Equal(t, "9000", port)

	missing := filepath.Join(dir, "missing.conf")

	conf, err = loadConfig(missing, false)
	require.NoError(t, err)
	assert.Empty(t, conf)

	_, err = loadConfig(missing, true)
	assert.Error(t, err)
}
