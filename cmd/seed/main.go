// seed inserts a development admin and patient account for local testing.
// Idempotent: skips accounts that already exist.
package main

import (
	"context"
	"errors"
	"log"

	"medilink/backend/internal/config"
	"medilink/backend/internal/db"
	identityservice "medilink/backend/internal/identity/service"
	"medilink/backend/internal/security"
	userdomain "medilink/backend/internal/user/domain"
	userrepo "medilink/backend/internal/user/repository"
)

const (
	devAdminEmail   = "admin@medilink.local"
	devPatientEmail = "patient@medilink.local"
	devPassword     = "password123"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	if cfg.Env == "production" {
		log.Fatal("seed: refusing to run with APP_ENV=production")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer conn.Close()

	identity := identityservice.NewIdentityService(userrepo.NewPostgresRepository(conn), security.NewHasher(cfg.BcryptCost))
	ctx := context.Background()

	seedUser(ctx, identity, devAdminEmail, "Dev Admin", userdomain.RoleAdmin)
	seedUser(ctx, identity, devPatientEmail, "Dev Patient", userdomain.RolePatient)
}

func seedUser(ctx context.Context, identity *identityservice.IdentityService, email, name string, role userdomain.Role) {
	p, err := identity.Register(ctx, email, devPassword, name, role)
	if err != nil {
		if errors.Is(err, identityservice.ErrEmailAlreadyRegistered) {
			log.Printf("seed: %s already exists, skipping", email)
			return
		}
		log.Fatalf("seed: %s: %v", email, err)
	}
	log.Printf("seed: created %s (%s) id=%s", email, role, p.ID)
}
