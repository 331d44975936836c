package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"pingme/internal/auth"
	"pingme/internal/config"
	"pingme/internal/database"
	"pingme/internal/models"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// tokengen seeds a user into the local database and prints a token for it.
// It is meant for development; production tokens come from the identity
// provider that shares the signing secret.
func main() {
	configPath := flag.String("config", "config.json", "Path to configuration file (JSON or YAML)")
	userID := flag.String("user", "", "User id (token subject)")
	username := flag.String("username", "", "Username, defaults to the user id")
	firstName := flag.String("first", "", "First name")
	lastName := flag.String("last", "", "Last name")
	seed := flag.Bool("seed", true, "Create or update the user in the database")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	_ = godotenv.Load()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "usage: tokengen -user <id> [-username name] [-first name] [-last name]")
		os.Exit(2)
	}
	if *username == "" {
		*username = *userID
	}

	cfg, err := config.LoadConfigOrDefault(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	if *seed {
		db, err := database.New(cfg.Database.Path)
		if err != nil {
			logger.Fatalf("Failed to open database: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = db.UpsertUser(ctx, &models.User{
			ID:        *userID,
			Username:  *username,
			FirstName: *firstName,
			LastName:  *lastName,
		})
		cancel()
		db.Close()
		if err != nil {
			logger.Fatalf("Failed to seed user: %v", err)
		}
		logger.WithField("user_id", *userID).Info("User seeded")
	}

	tokens, err := auth.NewTokenManager(cfg.Auth)
	if err != nil {
		logger.Fatalf("Failed to initialize token manager: %v", err)
	}
	token, err := tokens.Issue(*userID, *username)
	if err != nil {
		logger.Fatalf("Failed to issue token: %v", err)
	}
	fmt.Println(token)
}
