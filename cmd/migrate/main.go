package main

import (
	"fmt"
	"os"

	"rewardengine/pkg/config"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	dirFlag := flag.String("dir", "migrations", "directory holding the SQL migrations")
	downFlag := flag.Int("down", 0, "roll back this many migrations instead of migrating up")
	versionFlag := flag.Bool("version", false, "print the current schema version and exit")
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	flag.Parse()

	if *verboseFlag {
		log.SetLevel(log.DebugLevel)
	}
	_ = godotenv.Load()

	// migrations own the schema here
	os.Setenv("DB_AUTO_MIGRATE", "false")
	db, err := config.InitDB()
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	switch {
	case *versionFlag:
		version, dirty, err := config.MigrationVersion(db, *dirFlag)
		if err != nil {
			return err
		}
		fmt.Printf("version=%d dirty=%t\n", version, dirty)
		return nil
	case *downFlag > 0:
		return config.RollbackMigration(db, *dirFlag, *downFlag)
	default:
		return config.ExecuteMigrations(db, *dirFlag)
	}
}
