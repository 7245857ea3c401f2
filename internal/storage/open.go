package storage

import (
	"context"
	"errors"
	"path"
	"strings"

	logx "restartbot/pkg/logx"
)

// Store is the minimal persistence API used by core and plugins.
type Store interface {
	// ReadDocument returns the raw bytes of a named document, or ErrNotFound.
	ReadDocument(ctx context.Context, name string) ([]byte, error)
	// WriteDocument replaces the whole document atomically.
	WriteDocument(ctx context.Context, name string, data []byte) error
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// CleanName validates a document name and returns its canonical slash form.
// Names are relative, slash separated and may not escape the store root.
func CleanName(name string) (string, error) {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" || strings.HasPrefix(name, "/") {
		return "", ErrInvalidName
	}
	clean := path.Clean(name)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", ErrInvalidName
	}
	return clean, nil
}
