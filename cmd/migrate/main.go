package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"vetrai.org/internal/migrate"
	"vetrai.org/internal/store/sqlstore"
)

func main() {
	log.SetFlags(0)
	var (
		dsn       = flag.String("database-url", os.Getenv("DATABASE_URL"), "Database URL (postgres://… or sqlite://path)")
		seedsPath = flag.String("seeds", "", "Directory with *.sql seed files")
		table     = flag.String("table", "", "Migrations bookkeeping table (default schema_migrations)")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing database url: provide via -database-url or DATABASE_URL")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|status|pending|seed]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := sqlstore.Open(ctx, *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	var opts []migrate.Option
	if *seedsPath != "" {
		opts = append(opts, migrate.WithSeeds(os.DirFS(*seedsPath)))
	}
	if *table != "" {
		opts = append(opts, migrate.WithMigrationsTable(*table))
	}
	mgr, err := migrate.NewManager(store.DB(), nil, opts...)
	if err != nil {
		log.Fatalf("migrations: %v", err)
	}

	switch flag.Arg(0) {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		if err == nil {
			for _, name := range applied {
				fmt.Println("applied", name)
			}
			if len(applied) == 0 {
				fmt.Println("nothing to apply")
			}
		}
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if err == nil {
			fmt.Println("rolled back", name)
		}
	case "seed":
		if *seedsPath == "" {
			log.Fatal("seed requires -seeds")
		}
		err = mgr.Seed(ctx)
	case "status", "pending":
		var items []string
		if flag.Arg(0) == "status" {
			items, err = mgr.Status(ctx)
		} else {
			items, err = mgr.Pending(ctx)
		}
		if err == nil {
			for _, item := range items {
				fmt.Println(item)
			}
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}
