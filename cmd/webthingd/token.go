package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/nerrad567/gray-logic-webthing/internal/auth"
)

// runToken issues a bearer token signed with the configured JWT secret.
//
//	webthingd token -subject panel-1 -role operator -ttl 720h
func runToken(args []string, out io.Writer) error {
	flags := flag.NewFlagSet("token", flag.ContinueOnError)
	flags.SetOutput(out)
	subject := flags.String("subject", "webthing-client", "Token subject")
	role := flags.String("role", string(auth.RoleViewer), "Role: viewer, operator, admin")
	ttl := flags.Duration("ttl", auth.DefaultTokenTTL, "Token lifetime")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	secret := cfg.Security.JWT.Secret
	if secret == "" {
		return errors.New("security.jwt.secret is not set (set WEBTHING_JWT_SECRET)")
	}
	token, err := auth.GenerateToken(*subject, auth.Role(*role), cfg.Security.JWT.Issuer, secret, *ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}
