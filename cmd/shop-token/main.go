// Команда shop-token выпускает JWT для локальной разработки,
// подписанный тем же секретом, что и сервис (SHOP_JWT_SECRET).
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/auth"
)

func main() {
	if err := run(os.Args[1:], os.LookupEnv, os.Stdout); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, lookupEnv func(string) (string, bool), out io.Writer) error {
	var (
		subject string
		roles   string
		ttl     time.Duration
		issuer  string
	)
	fs := flag.NewFlagSet("shop-token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&subject, "sub", "", "token subject (user id)")
	fs.StringVar(&roles, "roles", "", "comma-separated roles, e.g. admin")
	fs.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	fs.StringVar(&issuer, "iss", envOr(lookupEnv, "SHOP_JWT_ISSUER", "shop"), "token issuer")
	if err := fs.Parse(args); err != nil {
		return err
	}

	secret, _ := lookupEnv("SHOP_JWT_SECRET")
	if strings.TrimSpace(secret) == "" {
		return errors.New("SHOP_JWT_SECRET is required")
	}

	tokens, err := auth.NewTokenManager(secret, issuer, ttl)
	if err != nil {
		return err
	}
	token, expiresAt, err := tokens.Issue(subject, splitRoles(roles)...)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(out, "%s\n# expires at %s\n", token, expiresAt.UTC().Format(time.RFC3339))
	return err
}

func envOr(lookupEnv func(string) (string, bool), key, fallback string) string {
	if v, ok := lookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func splitRoles(raw string) []string {
	var roles []string
	for _, role := range strings.Split(raw, ",") {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}
