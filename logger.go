package main

import (
	"context"
	"fmt"
	"log/slog"

	pgxlog15 "github.com/jackc/pgx-log15"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	log "gopkg.in/inconshreveable/log15.v2"
)

func newLogger(level string, handler log.Handler) (log.Logger, error) {
	logger := log.New()
	if err := setFilterHandler(level, logger, handler); err != nil {
		return nil, err
	}
	return logger, nil
}

func setFilterHandler(level string, logger log.Logger, handler log.Handler) error {
	if level == "none" {
		logger.SetHandler(log.DiscardHandler())
		return nil
	}

	lvl, err := log.LvlFromString(level)
	if err != nil {
		return fmt.Errorf("Bad log level: %v", err)
	}
	logger.SetHandler(log.LvlFilterHandler(lvl, handler))

	return nil
}

func newPool(ctx context.Context, databaseURL, pgxLevel string, logger log.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("Bad database url: %v", err)
	}

	if pgxLevel != "" {
		level, err := tracelog.LogLevelFromString(pgxLevel)
		if err != nil {
			return nil, fmt.Errorf("Bad pgx log level: %v", err)
		}
		poolConfig.ConnConfig.Tracer = &tracelog.TraceLog{
			Logger:   pgxlog15.NewLogger(logger.New("module", "pgx")),
			LogLevel: level,
		}
	}

	return pgxpool.NewWithConfig(ctx, poolConfig)
}

// slogHandler sends river's slog output to a log15 logger.
type slogHandler struct {
	logger log.Logger
	attrs  []any
	group  string
}

func newSlogLogger(logger log.Logger) *slog.Logger {
	return slog.New(&slogHandler{logger: logger})
}

func (h *slogHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *slogHandler) Handle(ctx context.Context, r slog.Record) error {
	ctx15 := make([]any, 0, len(h.attrs)+2*r.NumAttrs())
	ctx15 = append(ctx15, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		ctx15 = h.appendAttr(ctx15, a)
		return true
	})

	switch {
	case r.Level >= slog.LevelError:
		h.logger.Error(r.Message, ctx15...)
	case r.Level >= slog.LevelWarn:
		h.logger.Warn(r.Message, ctx15...)
	case r.Level >= slog.LevelInfo:
		h.logger.Info(r.Message, ctx15...)
	default:
		h.logger.Debug(r.Message, ctx15...)
	}
	return nil
}

func (h *slogHandler) appendAttr(ctx15 []any, a slog.Attr) []any {
	key := a.Key
	if h.group != "" {
		key = h.group + "." + key
	}
	return append(ctx15, key, a.Value.Resolve().Any())
}

func (h *slogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &slogHandler{logger: h.logger, group: h.group}
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		next.attrs = h.appendAttr(next.attrs, a)
	}
	return next
}

func (h *slogHandler) WithGroup(name string) slog.Handler {
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &slogHandler{logger: h.logger, attrs: h.attrs, group: group}
}
