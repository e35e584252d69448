package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// initDB opens the local database with whichever SQLite driver the build
// selected and checks that it can be used.
func initDB(dataSource string) (*sql.DB, error) {
	db, err := sql.Open(sqliteDriver, dataSource)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open %s: %w", databaseFile(dataSource), err)
	}
	return db, nil
}
