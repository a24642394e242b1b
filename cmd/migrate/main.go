package main

import (
	"database/sql"
	"flag"
	"log/slog"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/valecore/valecore/internal/app"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	var migrationsDir string
	flag.StringVar(&migrationsDir, "dir", "./migrations", "directory with migration files")
	flag.Parse()

	db, err := sql.Open("pgx", cfg.PGDSN)
	if err != nil {
		logger.Error("open postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := goose.SetDialect("postgres"); err != nil {
		logger.Error("set dialect", slog.Any("error", err))
		os.Exit(1)
	}

	args := flag.Args()
	command := "up"
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	if err := goose.Run(command, db, migrationsDir, args...); err != nil {
		logger.Error("migrate", slog.String("command", command), slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("migrations applied", slog.String("command", command))
}
