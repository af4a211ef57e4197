package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	storefrontHttp "github.com/vasiliy-maslov/sportswear-storefront/internal/handler/http"
)

// admin-token prints a bearer token for the /admin routes, signed with ADMIN_JWT_SECRET.
func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Str("service", "admin-token").Logger()

	subject := flag.String("subject", "", "Operator identity recorded in the token and in audit logs")
	ttl := flag.Duration("ttl", 12*time.Hour, "Token lifetime")
	flag.Parse()

	if *subject == "" {
		log.Fatal().Msg("-subject is required")
	}
	if *ttl <= 0 {
		log.Fatal().Dur("ttl", *ttl).Msg("-ttl must be positive")
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatal().Err(err).Msg("Failed to load .env")
	}

	token, err := storefrontHttp.IssueAdminToken([]byte(os.Getenv("ADMIN_JWT_SECRET")), *subject, *ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue admin token")
	}

	log.Info().Str("subject", *subject).Time("expires_at", time.Now().Add(*ttl)).Msg("Admin token issued")
	fmt.Println(token)
}
