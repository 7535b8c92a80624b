package storage

import (
	"context"
	"fmt"
	"strings"

	logx "hadroid/pkg/logx"
)

// Store is the persistence API used by the cron book, plugins and the router audit.
type Store interface {
	// LoadDoc decodes the named document into v. found is false (and v untouched)
	// when the document was never saved.
	LoadDoc(ctx context.Context, name string, v any) (found bool, err error)
	// SaveDoc replaces the named document with the JSON encoding of v.
	SaveDoc(ctx context.Context, name string, v any) error
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store. An empty driver selects "file";
// "memory" keeps everything in-process.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"))

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
