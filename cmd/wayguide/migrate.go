package main

import (
	"fmt"
	"log"
	"os"

	"github.com/wayguide/wayguide/internal/journal"
)

// runMigrate handles "wayguide migrate <up|down|status>" against the
// journal database.
func runMigrate(args []string, dbPath string) {
	if len(args) < 1 {
		printMigrateHelp()
		os.Exit(1)
	}

	j, err := journal.OpenForMaintenance(dbPath)
	if err != nil {
		log.Fatalf("Failed to open journal %s: %v", dbPath, err)
	}
	defer j.Close()

	switch args[0] {
	case "up":
		if err := j.MigrateUp(); err != nil {
			log.Fatalf("Migration up failed: %v", err)
		}
		log.Println("All migrations applied")
	case "down":
		if err := j.MigrateDown(); err != nil {
			log.Fatalf("Migration down failed: %v", err)
		}
		log.Println("Rolled back one migration")
	case "status":
	case "help":
		printMigrateHelp()
		return
	default:
		fmt.Printf("Unknown migrate action: %s\n\n", args[0])
		printMigrateHelp()
		os.Exit(1)
	}

	version, dirty, err := j.MigrateVersion()
	if err != nil {
		log.Fatalf("Failed to read migration version: %v", err)
	}
	fmt.Printf("Journal %s: schema version %d (dirty: %v)\n", dbPath, version, dirty)
}

func printMigrateHelp() {
	fmt.Println(`Usage: wayguide [-config file] migrate <action>

Actions:
  up      apply pending journal migrations
  down    roll back the latest journal migration
  status  print the journal schema version`)
}
