package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"

	_ "modernc.org/sqlite"
)

// Quick schema sanity check against a platform database file.
//
//	go run ./scripts/verify_schema.go -db ./data/genx.db

func main() {
	dbPath := flag.String("db", "./data/genx.db", "database file to inspect")
	flag.Parse()

	fmt.Printf("Verifying database at: %s\n", *dbPath)

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	tables := []string{"signals", "trade_results", "closed_positions", "account_snapshots"}
	missing := 0
	for _, table := range tables {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		switch {
		case err == sql.ErrNoRows:
			fmt.Printf("❌ %s table MISSING\n", table)
			missing++
		case err != nil:
			log.Fatalf("Query failed: %v", err)
		default:
			var rows int
			if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&rows); err != nil {
				log.Fatalf("Count %s failed: %v", table, err)
			}
			fmt.Printf("✓ %s table exists (%d rows)\n", table, rows)
		}
	}

	if missing > 0 {
		log.Fatalf("%d table(s) missing, run the platform once to apply migrations", missing)
	}
	fmt.Println("\nSchema OK")
}
