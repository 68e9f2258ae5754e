package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"filedrop/internal/cli"
	"filedrop/internal/server/config"
	"filedrop/internal/server/database"
	"filedrop/internal/server/service"
	"filedrop/internal/server/storage"
)

func main() {
	// Keep service logs off stdout, which carries command output.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	cmd, err := cli.ParseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, cli.ErrHelp) {
			cli.Usage(os.Stdout)
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		cli.Usage(os.Stderr)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	store, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	users, err := service.NewUserService(store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		store.Close()
		os.Exit(1)
	}

	app := &cli.App{
		Links: service.NewLinkService(store, storage.NewFileSystemStore(), cfg.BasePath, cfg.BaseURL),
		Users: users,
		Out:   os.Stdout,
	}

	if err := app.Run(ctx, cmd); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		store.Close()
		os.Exit(1)
	}
}
