package store

import (
	"database/sql"
	"log"
	"runtime"

	"github.com/haatos/conveyor/internal/settings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func InitDatabase(readonly bool) *sql.DB {
	driver := settings.Settings.DriverName()
	db, err := sql.Open(driver, settings.Settings.DBString(readonly))
	if err != nil {
		log.Fatal("fatal error opening database:", err)
	}

	if driver == "sqlite" {
		if readonly {
			db.SetMaxOpenConns(max(4, runtime.NumCPU()))
		} else {
			if _, err := db.Exec("PRAGMA temp_store=memory"); err != nil {
				log.Fatal(err)
			}
			if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
				log.Fatal(err)
			}
			db.SetMaxOpenConns(1)
		}
	}

	return db
}
