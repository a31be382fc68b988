package main

import (
	"fmt"
	"io"
	"os"

	"github.com/Mindburn-Labs/verifiquant/pkg/config"
)

// Version is stamped at build time with -ldflags "-X main.Version=...".
var Version = "0.1.0"

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// loadConfig is a variable to allow injecting configuration in tests.
var loadConfig = config.Load

// Run is the entrypoint for testing. Exit codes: 0 ok, 1 refused or failed
// verification, 2 usage or runtime error.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "serve", "server":
		return runServeCmd(args[2:], stdout, stderr)
	case "solve":
		return runSolveCmd(args[2:], stdout, stderr)
	case "cards":
		return runCardsCmd(args[2:], stdout, stderr)
	case "domains":
		return runDomainsCmd(args[2:], stdout, stderr)
	case "token":
		return runTokenCmd(args[2:], stdout, stderr)
	case "verify-receipt":
		return runVerifyReceiptCmd(args[2:], stdout, stderr)
	case "verify-pack":
		return runVerifyPackCmd(args[2:], stdout, stderr)
	case "health":
		return runHealthCmd(args[2:], stdout, stderr)
	case "version", "--version":
		_, _ = fmt.Fprintf(stdout, "verifiquant %s\n", Version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI Colors
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorRed   = "\033[31m"
	ColorGreen = "\033[32m"
	ColorBlue  = "\033[34m"
	ColorCyan  = "\033[36m"
	ColorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintf(w, "%sverifiquant %s%s\n", ColorBold+ColorBlue, Version, ColorReset)
	_, _ = fmt.Fprintf(w, "%sVerified answers to quantitative finance questions, or a refusal.%s\n", ColorGray, ColorReset)
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	_, _ = fmt.Fprintln(w, "  verifiquant <command> [flags]")
	_, _ = fmt.Fprintln(w, "")

	printSection(w, "SERVICE")
	printCommand(w, "serve", "Run the HTTP API")
	printCommand(w, "health", "Check a running server (--addr)")
	printCommand(w, "token", "Issue an API token (--sub, --roles, --ttl)")

	printSection(w, "SOLVING")
	printCommand(w, "solve", "Answer one question (--question, --domain, --topic, --bind name=value)")
	printCommand(w, "cards", "List or validate formula cards (list|validate --dir)")
	printCommand(w, "domains", "Show the domain to topics mapping")

	printSection(w, "VERIFICATION")
	printCommand(w, "verify-receipt", "Verify a saved result against its receipt (--result, --public-key)")
	printCommand(w, "verify-pack", "Verify an exported evidence pack (--pack, --public-key)")

	printSection(w, "UTILITIES")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	_, _ = fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	_, _ = fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	_, _ = fmt.Fprintf(w, "  %s%-15s%s %s\n", ColorGreen, name, ColorReset, desc)
}
