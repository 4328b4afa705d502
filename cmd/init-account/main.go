package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	pkgconfig "github.com/tendant/simple-twofa/pkg/config"
	"github.com/tendant/simple-twofa/pkg/login"
	"github.com/tendant/simple-twofa/pkg/twofa"
)

func main() {
	// Parse command line arguments
	email := flag.String("email", "", "Email for the new account (required)")
	password := flag.String("password", "", "Password for the new account (required)")
	flag.Parse()

	if *email == "" || *password == "" {
		fmt.Println("Error: email and password are required")
		flag.Usage()
		os.Exit(1)
	}

	// Create a logger with source enabled
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true, // Enables line number & file path
	}))
	slog.SetDefault(logger)

	config, err := pkgconfig.Load(".env")
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	var pool *pgxpool.Pool
	if config.PersistenceType == "postgres" {
		pool, err = pgxpool.New(ctx, config.Database.ToDatabaseURL())
		if err != nil {
			slog.Error("Failed creating dbpool", "db", config.Database.Database, "host", config.Database.Host, "port", config.Database.Port, "user", config.Database.User)
			os.Exit(1)
		}
		defer pool.Close()
	}

	store, err := twofa.NewAccountStore(config.PersistenceType, twofa.RepositoryConfig{
		Pool:    pool,
		DataDir: config.DataDir,
	})
	if err != nil {
		slog.Error("Failed to open account store", "error", err)
		os.Exit(1)
	}

	hasher, err := login.NewPasswordHasher(config.PasswordHashAlgorithm)
	if err != nil {
		slog.Error("Invalid password hash algorithm", "error", err)
		os.Exit(1)
	}
	loginService := login.NewLoginService(store, login.WithPasswordHasher(hasher))

	account, err := loginService.CreateAccount(ctx, *email, *password)
	if err != nil {
		slog.Error("Failed to create account", "email", *email, "error", err)
		os.Exit(1)
	}

	fmt.Printf("Account created: %s (%s)\n", account.Email, account.ID)
}
