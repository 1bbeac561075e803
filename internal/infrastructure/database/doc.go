// Package database provides SQLite persistence for the backend controller.
//
// The controller is the only process that opens the database; the agent and
// bridge keep their small state in flat files. Schema changes are applied
// through embedded migrations at startup:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files live in the migrations/ directory at the repository root
// and are embedded into the binary. Filenames follow
// YYYYMMDD_HHMMSS_description.up.sql with an optional matching .down.sql.
package database
