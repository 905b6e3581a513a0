// Package database opens the SQLite file behind the embedded key-value
// store and brings its schema up to date.
//
// Migrations are plain YYYYMMDD_HHMMSS_name.up.sql files read from an
// fs.FS (normally the embedded migrations package) and applied forward
// only:
//
//	db, err := database.Open(ctx, cfg.Store.SQLite)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
