// seed inserts development accounts for local testing and, with -login, signs in as the
// dev account and prints the credentials. Idempotent: existing accounts are left alone.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"

	accountdomain "auth-session-core/internal/account/domain"
	accountrepo "auth-session-core/internal/account/repository"
	"auth-session-core/internal/audit"
	auditrepo "auth-session-core/internal/audit/repository"
	"auth-session-core/internal/auth/service"
	"auth-session-core/internal/blacklist"
	blacklistrepo "auth-session-core/internal/blacklist/repository"
	"auth-session-core/internal/config"
	"auth-session-core/internal/db"
	"auth-session-core/internal/security"
	sessiondomain "auth-session-core/internal/session/domain"
	sessionrepo "auth-session-core/internal/session/repository"
)

const (
	devPassword = "password123"
	devUserID   = "dev-account-001"
	devUser2ID  = "dev-account-002"
	devEmail    = "dev@example.com"
	memberEmail = "member@example.com"
)

func main() {
	login := flag.Bool("login", false, "Log in as the dev account and print the token pair")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	ctx := context.Background()
	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	accounts := accountrepo.NewPostgresRepository(pool)
	hasher := security.NewHasher(cfg.BcryptCost)
	hash, err := hasher.Hash([]byte(devPassword))
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	now := time.Now().UTC()
	seeds := []*accountdomain.Account{
		{ID: devUserID, Email: devEmail, Username: "dev", PasswordHash: hash, IsActive: true, IsAdmin: true, CreatedAt: now, UpdatedAt: now},
		{ID: devUser2ID, Email: memberEmail, Username: "member", PasswordHash: hash, IsActive: true, MaxConcurrentSessions: 2, CreatedAt: now, UpdatedAt: now},
	}
	for _, a := range seeds {
		existing, err := accounts.GetByEmail(ctx, a.Email)
		if err != nil {
			log.Fatalf("lookup %s: %v", a.Email, err)
		}
		if existing != nil {
			log.Printf("seed: %s already exists, skipping", a.Email)
			continue
		}
		if err := accounts.Create(ctx, a); err != nil {
			log.Fatalf("create %s: %v", a.Email, err)
		}
		log.Printf("seed: created %s", a.Email)
	}
	log.Printf("seed: done. Log in with %s / %s", devEmail, devPassword)

	if !*login {
		return
	}
	events := auditrepo.NewPostgresRepository(pool)
	auditLog := audit.NewLogger(events, zap.NewNop())
	tokens := security.NewTokenProvider([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.AccessTTL())
	tokenSvc := service.NewTokenService(sessionrepo.NewPostgresRepository(pool), accounts, tokens,
		blacklist.NewVerifier(tokens, blacklistrepo.NewPostgresRepository(pool)), auditLog,
		service.Config{
			RefreshTTL:         cfg.RefreshTTL(),
			RememberMeTTL:      cfg.RememberMeTTL(),
			DefaultMaxSessions: cfg.MaxConcurrentSessions,
		})
	auth := service.NewAuthService(accounts, hasher, tokenSvc, auditLog,
		security.NewPayloadSigner([]byte(cfg.JWTSecret)), nil)

	res, err := auth.Login(ctx, devEmail, devPassword,
		sessiondomain.ClientContext{IPAddress: "127.0.0.1", UserAgent: "seed", DeviceType: "cli"}, false)
	if err != nil {
		log.Fatalf("login: %v", err)
	}
	fmt.Printf("session_id=%s\naccess_token=%s\nrefresh_token=%s\nsession_payload=%s\n",
		res.SessionID, res.AccessToken, res.RefreshToken, res.SessionPayload)
}
