package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Mindburn-Labs/verifiquant/pkg/audit"
	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
	"github.com/Mindburn-Labs/verifiquant/pkg/crypto"
)

// runVerifyReceiptCmd checks a saved solve result against the signed
// receipt it carries.
//
// Exit codes:
//
//	0 = verification passed
//	1 = verification failed
//	2 = runtime error
func runVerifyReceiptCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify-receipt", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		resultPath string
		publicKey  string
		jsonOutput bool
	)
	cmd.StringVar(&resultPath, "result", "", "Path to a solve result JSON file (REQUIRED)")
	cmd.StringVar(&publicKey, "public-key", "", "Hex Ed25519 receipt public key (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if resultPath == "" || publicKey == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --result and --public-key are required")
		return 2
	}

	data, err := os.ReadFile(resultPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	result, err := contracts.DecodeSolveResult(data)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	v, err := crypto.NewEd25519VerifierFromHex(publicKey)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	verr := audit.VerifyResult(result, v)
	if jsonOutput {
		out := map[string]any{
			"result":     resultPath,
			"request_id": contracts.RequestIDOf(result),
			"valid":      verr == nil,
		}
		if verr != nil {
			out["error"] = verr.Error()
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else if verr != nil {
		_, _ = fmt.Fprintf(stderr, "%s✗ Verification failed:%s %v\n", ColorRed, ColorReset, verr)
	} else {
		_, _ = fmt.Fprintf(stdout, "%s✓ Receipt verified:%s %s\n", ColorGreen, ColorReset, resultPath)
		_, _ = fmt.Fprintf(stdout, "   Request: %s\n", contracts.RequestIDOf(result))
		_, _ = fmt.Fprintf(stdout, "   Status:  %s\n", result.Status())
	}
	if verr != nil {
		return 1
	}
	return 0
}

// runVerifyPackCmd verifies an evidence pack offline. Exit codes match
// verify-receipt.
func runVerifyPackCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify-pack", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		packPath    string
		publicKey   string
		jsonOutput  bool
		jsonOutFile string
	)
	cmd.StringVar(&packPath, "pack", "", "Path to the evidence pack zip (REQUIRED)")
	cmd.StringVar(&publicKey, "public-key", "", "Hex Ed25519 receipt public key (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the report as JSON to stdout")
	cmd.StringVar(&jsonOutFile, "json-out", "", "Write the report to a file")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if packPath == "" || publicKey == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --pack and --public-key are required")
		return 2
	}

	data, err := os.ReadFile(packPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	v, err := crypto.NewEd25519VerifierFromHex(publicKey)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	report := audit.VerifyPack(data, v)
	reportJSON, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if jsonOutFile != "" {
		if err := os.WriteFile(jsonOutFile, reportJSON, 0o600); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: write report: %v\n", err)
			return 2
		}
	}

	if jsonOutput {
		_, _ = fmt.Fprintln(stdout, string(reportJSON))
	} else {
		for _, c := range report.Checks {
			mark, color, note := "✓", ColorGreen, c.Detail
			if !c.Pass {
				mark, color, note = "✗", ColorRed, c.Reason
			}
			_, _ = fmt.Fprintf(stdout, "  %s%s%s %-24s %s\n", color, mark, ColorReset, c.Name, note)
		}
		_, _ = fmt.Fprintln(stdout, report.Summary)
	}
	if !report.Verified {
		return 1
	}
	return 0
}
