// Command bootstrap promotes the first administrator. It refuses to run
// twice and requires the operator to confirm which database they are about
// to touch, so a mistyped DSN cannot promote a user in the wrong
// environment.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"flyttribe.org/internal/audit"
	"flyttribe.org/internal/auth"
)

func main() {
	log.SetFlags(0)
	var (
		dsn     = flag.String("dsn", os.Getenv("FLYT_PG_DSN"), "PostgreSQL DSN")
		userID  = flag.String("user-id", "", "User to promote (uuid)")
		scopes  = flag.String("scopes", "", "Comma-separated scopes to grant alongside the admin role")
		confirm = flag.String("confirm", "", "Database fingerprint (host/dbname) to confirm the target")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or FLYT_PG_DSN")
	}
	if _, err := uuid.Parse(*userID); err != nil {
		log.Fatal("-user-id must be a valid uuid")
	}

	fingerprint, err := dsnFingerprint(*dsn)
	if err != nil {
		log.Fatalf("parse dsn: %v", err)
	}
	if *confirm != fingerprint {
		log.Fatalf("refusing to run: pass -confirm %s to target this database", fingerprint)
	}

	scopeList := splitScopes(*scopes)
	for _, s := range scopeList {
		if !auth.IsScope(s) {
			log.Fatalf("scope %q is malformed", s)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := auth.NewPGStore(db)

	// Report the obvious case up front; BootstrapFirstAdmin still re-checks
	// under its advisory lock.
	hasAdmin, err := store.HasAdmin(ctx)
	if err != nil {
		log.Fatalf("check for existing admin: %v", err)
	}
	if hasAdmin {
		log.Fatal("an administrator already exists; use the admin API to manage roles")
	}

	claims, err := store.BootstrapFirstAdmin(ctx, *userID, scopeList)
	if err != nil {
		_ = audit.LogEvent(ctx, audit.EventBootstrapFail, map[string]any{
			"user_id": *userID,
			"error":   err.Error(),
		})
		switch {
		case errors.Is(err, auth.ErrAlreadyInitialized):
			log.Fatal("an administrator already exists; use the admin API to manage roles")
		case errors.Is(err, auth.ErrNotFound):
			log.Fatal("user not found; provision the user record (provider sync or migration seed) before promotion")
		default:
			log.Fatalf("bootstrap: %v", err)
		}
	}

	_ = audit.LogEvent(ctx, audit.EventBootstrapSuccess, map[string]any{
		"user_id":       *userID,
		"scopes":        claims.Scopes,
		"token_version": claims.TokenVersion,
	})
	fmt.Printf("promoted %s to admin (token version %d)\n", *userID, claims.TokenVersion)
}

func dsnFingerprint(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", errors.New("dsn must be a postgres:// url")
	}
	return u.Host + strings.TrimSuffix(u.Path, "/"), nil
}

func splitScopes(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
