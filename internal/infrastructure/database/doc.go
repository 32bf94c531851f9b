// Package database provides the SQLite store behind the lifecycle audit
// trail.
//
// Open applies WAL mode and a busy timeout through the DSN and restricts the
// file to 0600. Schema changes are versioned SQL files applied by Migrate
// from any fs.FS, normally the embedded migrations package:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns are nullable or defaulted, and every
// .up.sql ships with a .down.sql.
package database
