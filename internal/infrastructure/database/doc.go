// Package database provides SQLite storage for the Gray Logic hub.
//
// This package manages:
//   - Opening the database with WAL mode and a busy timeout
//   - Versioned schema migrations read from an fs.FS (embedded in production)
//   - Health checks for the API and startup
//
// The hub stores automation programs and their run log here. Everything
// else (device state, telemetry) lives in the broker or InfluxDB.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql. Migrations are additive: new columns must be
// NULLABLE or have DEFAULT values.
package database
