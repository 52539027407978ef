package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"ticket-booking/internal/auth"
	"ticket-booking/internal/config"
	"ticket-booking/internal/database"
	"ticket-booking/internal/logger"
	userdb "ticket-booking/internal/users/db"
	users "ticket-booking/internal/users/service"

	"github.com/joho/godotenv"
)

// seed-admin creates the bootstrap admin, or promotes an existing account.
// Self registration never grants the admin role.
func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("⚠️  .env file not found, using environment variables")
	}
	cfg := config.Load()

	email := flag.String("email", cfg.Auth.AdminEmail, "admin email (ADMIN_EMAIL)")
	password := flag.String("password", cfg.Auth.AdminPassword, "admin password (ADMIN_PASSWORD)")
	name := flag.String("name", cfg.Auth.AdminName, "admin display name (ADMIN_NAME)")
	flag.Parse()

	log := logger.NewLogger(cfg.Logging.Dir, "seed-admin")
	defer log.Close()

	if *email == "" || *password == "" {
		log.Error("CONFIG", "ADMIN_EMAIL and ADMIN_PASSWORD are required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	bunDB, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		log.Error("DATABASE", err.Error())
		os.Exit(1)
	}
	defer bunDB.Close()

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiresIn)
	svc := users.NewUserService(&userdb.DB{Bun: bunDB}, tokens, cfg.Auth.BcryptCost, log)

	admin, created, err := svc.EnsureAdmin(ctx, *name, *email, *password)
	if err != nil {
		log.Error("APP", fmt.Sprintf("Failed to seed admin: %v", err))
		os.Exit(1)
	}
	if created {
		log.Info("APP", fmt.Sprintf("✅ Admin %s created (%s)", admin.Email, admin.ID))
	} else {
		log.Info("APP", fmt.Sprintf("✅ %s already exists, role is now %s", admin.Email, admin.Role))
	}
}
