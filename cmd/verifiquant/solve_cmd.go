package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Mindburn-Labs/verifiquant/pkg/config"
	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
	"github.com/Mindburn-Labs/verifiquant/pkg/solver"
)

// bindings collects repeated --bind name=value flags.
type bindings map[string]float64

func (b bindings) String() string {
	parts := make([]string, 0, len(b))
	for k, v := range b {
		parts = append(parts, k+"="+strconv.FormatFloat(v, 'g', -1, 64))
	}
	return strings.Join(parts, ",")
}

func (b bindings) Set(s string) error {
	name, raw, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("want name=value, got %q", s)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	b[name] = v
	return nil
}

// runSolveCmd implements `verifiquant solve`.
//
// Exit codes:
//
//	0 = answered
//	1 = refused
//	2 = error
func runSolveCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("solve", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		question   string
		domain     string
		topic      string
		receiptsDB string
		jsonOutput bool
		values     = bindings{}
	)
	cmd.StringVar(&question, "question", "", "Question to answer (REQUIRED)")
	cmd.StringVar(&domain, "domain", "", "Restrict selection to a domain")
	cmd.StringVar(&topic, "topic", "", "Restrict selection to a topic")
	cmd.StringVar(&receiptsDB, "receipts-db", "", "SQLite file to chain receipts into (default in-memory)")
	cmd.BoolVar(&jsonOutput, "json", false, "Print the full result as JSON")
	cmd.Var(values, "bind", "Input value as name=value (repeatable)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(question) == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --question is required")
		return 2
	}

	cfg, err := loadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	cfg.AuditDBPath = receiptsDB
	cfg.ReceiptDatabaseURL = ""
	cfg.ArchiveBackend = config.ArchiveNone

	ctx := context.Background()
	rt, err := newRuntime(ctx, cfg, newLogger(cfg, stderr))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer rt.Close(ctx)

	result := rt.solver.Solve(ctx, solver.Request{
		Question: strings.TrimSpace(question),
		Domain:   domain,
		Topic:    topic,
		Values:   values,
	})

	if jsonOutput {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		printResult(stdout, result)
	}

	switch result.(type) {
	case *contracts.Success:
		return 0
	case *contracts.Refused:
		return 1
	default:
		return 2
	}
}

func printResult(w io.Writer, result contracts.SolveResult) {
	switch r := result.(type) {
	case *contracts.Success:
		_, _ = fmt.Fprintf(w, "%s%s = %s%s\n", ColorBold+ColorGreen, r.OutputVar,
			strconv.FormatFloat(r.OutputValue, 'g', 10, 64), ColorReset)
		_, _ = fmt.Fprintf(w, "   Card:       %s\n", r.CardID)
		_, _ = fmt.Fprintf(w, "   Selection:  %s\n", r.SelectionReason)
		_, _ = fmt.Fprintf(w, "   Confidence: %.3f\n", r.Confidence.Score)
		for _, s := range r.Steps {
			_, _ = fmt.Fprintf(w, "   %d. %s = %s  ->  %g\n", s.Index, s.Variable, s.Formula, s.Value)
		}
	case *contracts.Refused:
		_, _ = fmt.Fprintf(w, "%sRefused:%s %s\n", ColorBold+ColorRed, ColorReset, r.Reason)
		if len(r.MissingInputs) > 0 {
			_, _ = fmt.Fprintf(w, "   Missing: %s\n", strings.Join(r.MissingInputs, ", "))
		}
	case *contracts.Errored:
		_, _ = fmt.Fprintf(w, "%sError:%s %s\n", ColorBold+ColorRed, ColorReset, r.Message)
	}
}
