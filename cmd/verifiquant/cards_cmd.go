package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
	"github.com/Mindburn-Labs/verifiquant/pkg/registry"
)

func runCardsCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "Usage: verifiquant cards <list|validate|publish> [--dir DIR]")
		return 2
	}
	switch args[0] {
	case "list":
		return runCardsList(args[1:], stdout, stderr)
	case "validate":
		return runCardsValidate(args[1:], stdout, stderr)
	case "publish":
		return runCardsPublish(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown cards subcommand: %s\n", args[0])
		return 2
	}
}

// buildCatalog loads dir, or the embedded catalog when dir is empty.
func buildCatalog(dir string) (*registry.Registry, error) {
	if dir == "" {
		return registry.Builtin()
	}
	cards, err := registry.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	return registry.NewBuilder().Add(cards...).Build()
}

func runCardsList(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("cards list", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	dir := cmd.String("dir", "", "Card directory (default: built-in catalog)")
	jsonOutput := cmd.Bool("json", false, "Output cards as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	reg, err := buildCatalog(*dir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if *jsonOutput {
		cards := make([]*contracts.FormulaCard, 0, reg.Len())
		for _, e := range reg.Entries() {
			cards = append(cards, e.Card)
		}
		data, _ := json.MarshalIndent(cards, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}
	for _, e := range reg.Entries() {
		_, _ = fmt.Fprintf(stdout, "%s%-28s%s %-10s %s/%s  %s\n", ColorGreen, e.Card.ID, ColorReset,
			e.Version.String(), e.Card.Domain, e.Card.Topic, e.Card.Name)
	}
	return 0
}

// runCardsValidate exits 1 when the catalog does not build.
func runCardsValidate(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("cards validate", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	dir := cmd.String("dir", "", "Card directory (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *dir == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --dir is required")
		return 2
	}

	reg, err := buildCatalog(*dir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%s✗ invalid catalog:%s %v\n", ColorRed, ColorReset, err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "%s✓ %d cards valid%s across %d domains\n", ColorGreen, reg.Len(), ColorReset, len(reg.DomainNames()))
	return 0
}

// runCardsPublish validates a directory and stores every card in the
// Postgres catalog, where serve picks them up after the file catalog.
func runCardsPublish(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("cards publish", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	dir := cmd.String("dir", "", "Card directory (REQUIRED)")
	dsn := cmd.String("database-url", "", "Postgres URL (default $VQ_CATALOG_DATABASE_URL)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *dir == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --dir is required")
		return 2
	}
	if *dsn == "" {
		cfg, err := loadConfig()
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		*dsn = cfg.CatalogDatabaseURL
	}
	if *dsn == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --database-url or VQ_CATALOG_DATABASE_URL is required")
		return 2
	}

	reg, err := buildCatalog(*dir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := sql.Open("postgres", *dsn)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = db.Close() }()

	catalog := registry.NewPostgresCatalog(db)
	if err := catalog.Init(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: init catalog: %v\n", err)
		return 2
	}
	for _, e := range reg.Entries() {
		if err := catalog.Put(ctx, e.Card); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: publish %s: %v\n", e.Card.ID, err)
			return 2
		}
	}
	_, _ = fmt.Fprintf(stdout, "published %d cards\n", reg.Len())
	return 0
}

func runDomainsCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("domains", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	dir := cmd.String("dir", "", "Card directory (default: built-in catalog)")
	jsonOutput := cmd.Bool("json", false, "Output the mapping as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	reg, err := buildCatalog(*dir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if *jsonOutput {
		data, _ := json.MarshalIndent(reg.Domains(), "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}
	domains := reg.Domains()
	for _, d := range reg.DomainNames() {
		_, _ = fmt.Fprintf(stdout, "%s%s%s: %s\n", ColorBold, d, ColorReset, strings.Join(domains[d], ", "))
	}
	return 0
}
