package database

import (
	"database/sql"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the sqlite file at url and brings its schema up to date.
func Open(url string) (db *sql.DB, err error) {
	dsn := url
	if !strings.Contains(dsn, "?") {
		// pragmas apply to every pooled connection, not just the first
		dsn += "?_foreign_keys=on&_busy_timeout=5000"
	}
	db, err = sql.Open("sqlite3", dsn)
	if err != nil {
		return
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		db.Close()
		return
	}

	// db tuning options
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(2 * time.Hour)

	err = migrateDB(db)
	if err != nil {
		db.Close()
		return
	}

	return
}
