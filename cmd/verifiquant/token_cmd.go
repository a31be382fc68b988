package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Mindburn-Labs/verifiquant/pkg/auth"
)

// runTokenCmd issues a bearer token signed with the key serve derives from
// the same VQ_JWT_SEED.
func runTokenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("token", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		subject string
		roles   string
		ttl     time.Duration
	)
	cmd.StringVar(&subject, "sub", "", "Token subject (REQUIRED)")
	cmd.StringVar(&roles, "roles", auth.RoleSolver, "Comma-separated roles (solver, auditor, admin)")
	cmd.DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if subject == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --sub is required")
		return 2
	}

	cfg, err := loadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if cfg.JWTSecretSeed == "" {
		_, _ = fmt.Fprintln(stderr, "Error: VQ_JWT_SEED is not set")
		return 2
	}
	ks, err := auth.NewDerivedKeySet(cfg.JWTSecretSeed, apiKeyID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	var list []string
	for _, r := range strings.Split(roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			list = append(list, r)
		}
	}
	token, err := auth.IssueToken(ks, subject, list, ttl)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintln(stdout, token)
	return 0
}
