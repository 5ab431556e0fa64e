package storage

import (
	"errors"
	"strings"

	logx "guildwatch/pkg/logx"
)

// Open initializes the configured store.
// It returns (nil, ErrDisabled) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "none":
		return nil, ErrDisabled
	case "", "sqlite", "sqlite3":
		return nonNil(openSQLite(cfg, log))
	case "postgres", "postgresql", "pg":
		return nonNil(openPostgres(cfg, log))
	case "file":
		return nonNil(openFile(cfg, log))
	case "memory", "mem":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// nonNil keeps a typed nil driver pointer from escaping as a non-nil Store.
func nonNil[T Store](s T, err error) (Store, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
