package main

import (
	"context"
	"flag"
	"log"

	"github.com/punchamoorthee/feeledger/internal/config"
	"github.com/punchamoorthee/feeledger/internal/store/postgres"
)

func main() {
	flag.Parse()
	command := "up"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.StoreDriver != config.DriverPostgres {
		log.Fatalf("migrations apply to the postgres store only (STORE_DRIVER=%s)", cfg.StoreDriver)
	}

	if err := postgres.Migrate(context.Background(), cfg.DBSource, command); err != nil {
		log.Fatalf("migrate %s: %v", command, err)
	}
	log.Printf("migrate %s: done", command)
}
