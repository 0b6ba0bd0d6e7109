package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"campsite.sim/internal/persistence/indexdb"
	"campsite.sim/internal/sim/site"
)

type multiTickLogger struct {
	a site.TickLogger
	b site.TickLogger
}

func (m multiTickLogger) WriteTick(entry site.TickLogEntry) error {
	var err error
	if m.a != nil {
		err = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return err
}

type multiAuditLogger struct {
	a site.AuditLogger
	b site.AuditLogger
}

func (m multiAuditLogger) WriteAudit(entry site.AuditEntry) error {
	var err error
	if m.a != nil {
		err = m.a.WriteAudit(entry)
	}
	if m.b != nil {
		_ = m.b.WriteAudit(entry)
	}
	return err
}

// openRuntimeIndex opens the SQLite read model unless disabled by flag or
// CAMP_INDEX_BACKEND=none.
func openRuntimeIndex(siteDir string, disableDB bool) (*indexdb.SQLiteIndex, error) {
	if disableDB {
		return nil, nil
	}
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("CAMP_INDEX_BACKEND")))
	switch backend {
	case "", "sqlite":
		return indexdb.OpenSQLite(filepath.Join(siteDir, "index", "site.sqlite"))
	case "none", "off", "disabled":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported CAMP_INDEX_BACKEND: %s", backend)
	}
}
