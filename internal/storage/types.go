package storage

import (
	"errors"
	"regexp"
	"time"
)

var (
	ErrClosed      = errors.New("storage closed")
	ErrInvalidName = errors.New("invalid document name")
)

// Config configures storage.
//
// Driver values:
//   - "file" (default): Path is a directory
//   - "sqlite": Path is the database file
//   - "memory": nothing survives the process
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records an admin action. Keep it compact and schema-stable.
type AuditEntry struct {
	At            time.Time `json:"at"`
	ActorID       int64     `json:"actor_id"`
	ActorUsername string    `json:"actor_username,omitempty"`
	Room          string    `json:"room"`
	Plugin        string    `json:"plugin"`
	Action        string    `json:"action"`
	Args          string    `json:"args,omitempty"`
	OK            bool      `json:"ok"`
	Error         string    `json:"error,omitempty"`
	TookMS        int64     `json:"took_ms"`
}

var docNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// ValidDocName reports whether name can be used as a document key by every driver.
func ValidDocName(name string) bool { return docNameRe.MatchString(name) && name != "audit" }
