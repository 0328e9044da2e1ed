package database

import (
	"database/sql"
	stdlog "log"

	"github.com/username/coinfolio/src/logger"
	_ "modernc.org/sqlite"
)

var DB *sql.DB

func InitDB(databasePath string) {
	db, err := sql.Open("sqlite", databasePath)
	if err != nil {
		stdlog.Fatalf("failed to open database at %s: %v", databasePath, err)
	}

	DB = db

	if err := EnsureSchema(DB); err != nil {
		if logger.L != nil {
			logger.L.Error("failed to create tables", "error", err)
		}
		stdlog.Fatalf("failed to create tables: %v", err)
	}
	if logger.L != nil {
		logger.L.Info("Database tables ensured/created.", "databasePath", databasePath)
	} else {
		stdlog.Println("Database tables ensured/created:", databasePath)
	}
}

// EnsureSchema creates the schema on the given handle. Split out from InitDB
// so tests can run against their own in-memory database.
func EnsureSchema(db *sql.DB) error {
	createTableStatement := `
	CREATE TABLE IF NOT EXISTS operations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		time TEXT NOT NULL,
		symbol TEXT,
		amount REAL,
		sold_asset TEXT,
		sold_amount REAL,
		bought_asset TEXT,
		bought_amount REAL,
		fee_asset TEXT,
		fee_amount REAL
	);

	CREATE TABLE IF NOT EXISTS parsed_files (
		file TEXT PRIMARY KEY,
		last_record INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS prices (
		symbol TEXT NOT NULL,
		ts INTEGER NOT NULL,
		price REAL NOT NULL,
		PRIMARY KEY (symbol, ts)
	);
	`
	_, err := db.Exec(createTableStatement)
	return err
}
