// Package database provides the agent's local SQLite store.
//
// It holds the persisted firmware record and the request journal. The
// connection runs in WAL mode with a busy timeout, and the file is created
// with owner-only permissions.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are embedded by the migrations package and applied in version
// order, each in its own transaction. Files are named
// YYYYMMDD_HHMMSS_name.up.sql with a matching .down.sql.
package database
