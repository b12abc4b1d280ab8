// Package database provides SQLite connectivity for School Docs Core.
//
// It owns the connection (WAL mode, busy timeout, single writer) and the
// embedded migration runner. Accounts, role records, and audit logs all
// live in the same database file.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or carry a default,
// and each .up.sql file should ship with a matching .down.sql.
package database
