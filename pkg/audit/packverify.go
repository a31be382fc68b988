package audit

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/Mindburn-Labs/verifiquant/pkg/canonicalize"
	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
	"github.com/Mindburn-Labs/verifiquant/pkg/store"
)

// VerifierVersion is stamped into every VerifyReport.
const VerifierVersion = "1.0.0"

// VerifyReport is the structured output of offline pack verification.
type VerifyReport struct {
	Verified    bool          `json:"verified"`
	Timestamp   time.Time     `json:"timestamp"`
	Checks      []CheckResult `json:"checks"`
	Summary     string        `json:"summary"`
	IssueCount  int           `json:"issue_count"`
	VerifierVer string        `json:"verifier_version"`
}

// CheckResult represents a single verification check.
type CheckResult struct {
	Name   string `json:"name"`
	Pass   bool   `json:"pass"`
	Detail string `json:"detail,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (r *VerifyReport) add(cs ...CheckResult) {
	r.Checks = append(r.Checks, cs...)
}

// VerifyPack verifies a zip evidence pack offline: file hashes, the audit
// entry chain, the receipt chain, receipt signatures and that every recorded
// result matches its receipt. v may be nil, in which case signatures are
// reported as unchecked and the pack cannot verify.
func VerifyPack(data []byte, v ReceiptVerifier) *VerifyReport {
	report := &VerifyReport{Verified: true, Timestamp: time.Now().UTC(), VerifierVer: VerifierVersion}
	defer report.summarize()

	files, err := readPack(data)
	if err != nil {
		report.add(CheckResult{Name: "structure", Reason: err.Error()})
		return report
	}
	for _, name := range []string{PackManifest, PackEntries, PackReceipts} {
		if _, ok := files[name]; !ok {
			report.add(CheckResult{Name: "structure", Reason: "missing " + name})
			return report
		}
	}
	report.add(CheckResult{Name: "structure", Pass: true, Detail: "pack structure valid"})

	var manifest PackManifestFile
	if err := json.Unmarshal(files[PackManifest], &manifest); err != nil {
		report.add(CheckResult{Name: "manifest", Reason: fmt.Sprintf("invalid manifest JSON: %v", err)})
		return report
	}
	report.add(checkFileHashes(files, manifest)...)

	var bundle store.AuditEvidenceBundle
	if err := json.Unmarshal(files[PackEntries], &bundle); err != nil {
		report.add(CheckResult{Name: "audit_chain", Reason: fmt.Sprintf("invalid entries JSON: %v", err)})
		return report
	}
	if err := store.VerifyBundle(&bundle); err != nil {
		report.add(CheckResult{Name: "audit_chain", Reason: err.Error()})
	} else {
		report.add(CheckResult{Name: "audit_chain", Pass: true, Detail: fmt.Sprintf("%d entries chained", len(bundle.Entries))})
	}

	var receipts []*contracts.Receipt
	if err := json.Unmarshal(files[PackReceipts], &receipts); err != nil {
		report.add(CheckResult{Name: "receipt_chain", Reason: fmt.Sprintf("invalid receipts JSON: %v", err)})
		return report
	}
	report.add(checkReceiptRuns(receipts))
	report.add(checkResults(bundle.Entries, receipts, v)...)
	return report
}

func (r *VerifyReport) summarize() {
	failed := 0
	for _, c := range r.Checks {
		if !c.Pass {
			failed++
		}
	}
	r.IssueCount = failed
	r.Verified = failed == 0
	if failed > 0 {
		r.Summary = fmt.Sprintf("FAIL: %d/%d checks failed", failed, len(r.Checks))
	} else {
		r.Summary = fmt.Sprintf("PASS: %d/%d checks passed", len(r.Checks), len(r.Checks))
	}
}

func checkFileHashes(files map[string][]byte, m PackManifestFile) []CheckResult {
	names := make([]string, 0, len(m.FileHashes))
	for k := range m.FileHashes {
		names = append(names, k)
	}
	sort.Strings(names)

	var out []CheckResult
	for _, name := range names {
		check := CheckResult{Name: "hash:" + name}
		content, ok := files[name]
		switch {
		case !ok:
			check.Reason = "file missing"
		case canonicalize.HashBytes(content) != m.FileHashes[name]:
			check.Reason = fmt.Sprintf("hash mismatch: expected %s, got %s", m.FileHashes[name], canonicalize.HashBytes(content))
		default:
			check.Pass, check.Detail = true, "hash verified"
		}
		out = append(out, check)
	}
	if len(out) == 0 {
		out = append(out, CheckResult{Name: "file_hashes", Reason: "manifest lists no file hashes"})
	}
	return out
}

// checkReceiptRuns verifies links inside every run of consecutive
// sequences. Filtered packs legitimately skip receipts.
func checkReceiptRuns(receipts []*contracts.Receipt) CheckResult {
	sorted := append([]*contracts.Receipt(nil), receipts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })

	start := 0
	for i := 1; i <= len(sorted); i++ {
		if i < len(sorted) && sorted[i].Sequence == sorted[i-1].Sequence+1 {
			continue
		}
		if err := VerifyReceiptChain(sorted[start:i]); err != nil {
			return CheckResult{Name: "receipt_chain", Reason: err.Error()}
		}
		start = i
	}
	return CheckResult{Name: "receipt_chain", Pass: true, Detail: fmt.Sprintf("%d receipts linked", len(sorted))}
}

func checkResults(entries []*store.AuditEntry, receipts []*contracts.Receipt, v ReceiptVerifier) []CheckResult {
	if v == nil {
		return []CheckResult{{Name: "receipt_signatures", Reason: "no public key supplied"}}
	}
	byRequest := make(map[string]*contracts.Receipt, len(receipts))
	for _, rc := range receipts {
		byRequest[rc.RequestID] = rc
	}

	var out []CheckResult
	for _, e := range entries {
		if e.EntryType != store.EntryTypeResult {
			continue
		}
		check := CheckResult{Name: "result:" + e.Subject}
		result, err := contracts.DecodeSolveResult(e.Payload)
		if err != nil {
			check.Reason = err.Error()
			out = append(out, check)
			continue
		}
		rc, ok := byRequest[e.Subject]
		if !ok {
			check.Reason = "no receipt in pack"
			out = append(out, check)
			continue
		}
		if embedded := receiptOf(result); embedded != nil && (embedded.ReceiptID != rc.ReceiptID || embedded.Signature != rc.Signature) {
			check.Reason = "embedded receipt differs from receipt list"
			out = append(out, check)
			continue
		}
		contracts.AttachReceipt(result, rc)
		if err := VerifyResult(result, v); err != nil {
			check.Reason = err.Error()
		} else {
			check.Pass, check.Detail = true, fmt.Sprintf("receipt %d verified", rc.Sequence)
		}
		out = append(out, check)
	}
	if len(out) == 0 {
		out = append(out, CheckResult{Name: "receipt_signatures", Pass: true, Detail: "no results in pack"})
	}
	return out
}
