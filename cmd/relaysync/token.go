package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/nerrad567/relaysync/internal/auth"
	"github.com/nerrad567/relaysync/internal/infrastructure/config"
)

// runToken prints a signed host API token using the configured secret.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(out)
	subject := fs.String("subject", "host", "token subject (who the host is)")
	scope := fs.String("scope", string(auth.ScopeRead), "token scope: read or control")
	ttl := fs.Duration("ttl", auth.DefaultTokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tok, err := auth.GenerateToken(*subject, auth.Scope(*scope), cfg.Security.JWT.Secret, cfg.Security.JWT.Issuer, *ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Fprintln(out, tok)
	return nil
}
