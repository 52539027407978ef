package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"ticket-booking/internal/config"
	"ticket-booking/internal/database"
	"ticket-booking/internal/database/migrations"
	"ticket-booking/internal/logger"

	"github.com/joho/godotenv"
)

func main() {
	down := flag.Bool("down", false, "roll back every migration")
	to := flag.Uint("to", 0, "migrate up or down to this version")
	force := flag.Bool("force", false, "clear a dirty schema version before migrating")
	dir := flag.String("dir", "", "migrations directory (defaults to MIGRATIONS_DIR)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		fmt.Println("⚠️  .env file not found, using environment variables")
	}

	cfg := config.Load()
	log := logger.NewLogger(cfg.Logging.Dir, "migrate")
	defer log.Close()

	opts := migrations.Options{Dir: cfg.Database.MigrationsDir, ForceDirty: *force}
	if *dir != "" {
		opts.Dir = *dir
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	bunDB, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		log.Error("MIGRATE", err.Error())
		os.Exit(1)
	}

	runner := migrations.NewRunner(bunDB, opts, log)
	defer func() {
		if err := runner.Close(); err != nil {
			log.Warn("MIGRATE", err.Error())
		}
	}()

	switch {
	case *down:
		err = runner.Down()
	case *to > 0:
		err = runner.To(*to)
	default:
		err = runner.Up()
	}
	if err != nil {
		log.Error("MIGRATE", err.Error())
		os.Exit(1)
	}
	log.Info("MIGRATE", "✅ Migrations finished")
}
