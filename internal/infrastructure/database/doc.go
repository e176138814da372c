// Package database provides SQLite connectivity for relaysync.
//
// The database holds the last known position of each actuator so a
// restart does not lose where covers, doors and valves were left, plus the
// schema_migrations bookkeeping table.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive: each version ships a .up.sql and, where it can
// be undone, a .down.sql.
package database
