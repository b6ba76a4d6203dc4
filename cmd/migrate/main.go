// Command migrate applies or rolls back the store's schema migrations
// using golang-migrate/migrate/v4, the same library the teacher uses
// in pkg/database/migration/manager.go.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	dsn := flag.String("dsn", os.Getenv("REPOINDEX_STORE_DSN"), "postgres DSN")
	dir := flag.String("dir", "migrations", "path to migration files")
	steps := flag.Int("steps", 0, "number of steps to apply (0 = all); negative rolls back")
	flag.Parse()

	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "missing -dsn (or REPOINDEX_STORE_DSN)")
		os.Exit(1)
	}

	m, err := migrate.New(fmt.Sprintf("file://%s", *dir), *dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening migrator: %v\n", err)
		os.Exit(1)
	}
	defer func() { _, _ = m.Close() }()

	if *steps == 0 {
		err = m.Up()
	} else {
		err = m.Steps(*steps)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("migrations applied")
}
