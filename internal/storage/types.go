package storage

import (
	"errors"
	"time"

	"github.com/spf13/afero"
)

var (
	ErrDisabled = errors.New("storage disabled")
	// ErrNotFound is returned by ReadDocument when no document with that name exists.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidName is returned for empty, absolute or escaping document names.
	ErrInvalidName = errors.New("invalid document name")
)

// Config configures storage.
//
// Driver values:
//   - "file": plain files under Path (a directory); documents replaced via temp file + rename
//   - "sqlite": SQLite database file at Path
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// Fs overrides the filesystem used by the file driver (tests use afero.NewMemMapFs).
	// nil means the OS filesystem.
	Fs afero.Fs
}

// AuditEntry records an operator action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At        time.Time `json:"at"`
	ActorID   int64     `json:"actor_id"`
	ActorName string    `json:"actor_name,omitempty"`
	Transport string    `json:"transport,omitempty"`
	ChatID    int64     `json:"chat_id,omitempty"`
	Plugin    string    `json:"plugin"`
	Action    string    `json:"action"`
	Target    string    `json:"target,omitempty"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	TookMS    int64     `json:"took_ms"`
	MetaJSON  string    `json:"meta,omitempty"`
}
