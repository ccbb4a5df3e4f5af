// Package database provides the SQLite connection used by the Pioneer bridge.
//
// It stores what the bridge learns about each receiver so a restart does not
// repeat slow discovery: the input catalog, the probed volume step and a
// local history of state changes.
//
// Migrations are supplied as an fs.FS (see the migrations package) with
// files named YYYYMMDD_HHMMSS_description.up.sql and .down.sql. They are
// additive: new columns are nullable or carry defaults.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
