package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"time"

	"pingme/internal/constants"
	"pingme/internal/migrations"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

func main() {
	dbPath := flag.String("db", constants.DefaultDatabasePath, "Path to the database file")
	create := flag.Bool("create", false, "Create the database file when it does not exist")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if _, err := os.Stat(*dbPath); os.IsNotExist(err) && !*create {
		logger.Fatalf("Database file not found: %s (use -create to initialize it)", *dbPath)
	}

	db, err := sql.Open("sqlite3", *dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		logger.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	applied, err := migrations.Apply(ctx, db)
	if err != nil {
		logger.Fatalf("Failed to apply migrations: %v", err)
	}

	if len(applied) == 0 {
		logger.WithField("path", *dbPath).Info("Schema already up to date")
		return
	}
	logger.WithFields(logrus.Fields{
		"path":     *dbPath,
		"versions": applied,
	}).Info("Migrations applied")
}
