package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/Mindburn-Labs/verifiquant/pkg/canonicalize"
	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
	"github.com/Mindburn-Labs/verifiquant/pkg/store"
)

// Pack file names.
const (
	PackManifest = "manifest.json"
	PackEntries  = "entries.json"
	PackReceipts = "receipts.json"
	packReadme   = "README.txt"
)

var (
	// ErrInvalidTimeRange is returned when start time is after end time.
	ErrInvalidTimeRange = errors.New("audit: start_time must be before end_time")
	// ErrStoreNotConfigured is returned when export is invoked without a backing store.
	ErrStoreNotConfigured = errors.New("audit: store not configured (fail-closed)")
	// ErrNothingToExport is returned when no entries match.
	ErrNothingToExport = errors.New("audit: no entries match the request")
)

// ExportRequest selects the entries to export. An empty RequestID exports
// every request in the window.
type ExportRequest struct {
	RequestID string    `json:"request_id,omitempty"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// PackManifestFile is the manifest.json of an evidence pack.
type PackManifestFile struct {
	RequestID    string            `json:"request_id,omitempty"`
	GeneratedAt  time.Time         `json:"generated_at"`
	EntryCount   int               `json:"entry_count"`
	ReceiptCount int               `json:"receipt_count"`
	ChainHead    string            `json:"chain_head"`
	FileHashes   map[string]string `json:"file_hashes"`
}

// Exporter builds zip evidence packs from the audit store and the receipt
// store.
type Exporter struct {
	audit    *store.AuditStore
	receipts store.ReceiptStore
}

func NewExporter(a *store.AuditStore, r store.ReceiptStore) *Exporter {
	return &Exporter{audit: a, receipts: r}
}

// GeneratePack returns the zip bytes and their SHA-256 checksum.
func (e *Exporter) GeneratePack(ctx context.Context, req ExportRequest) ([]byte, string, error) {
	if !req.StartTime.IsZero() && !req.EndTime.IsZero() && req.StartTime.After(req.EndTime) {
		return nil, "", ErrInvalidTimeRange
	}
	if e.audit == nil || e.receipts == nil {
		return nil, "", ErrStoreNotConfigured
	}

	filter := store.QueryFilter{Subject: req.RequestID}
	if !req.StartTime.IsZero() {
		filter.StartTime = &req.StartTime
	}
	if !req.EndTime.IsZero() {
		filter.EndTime = &req.EndTime
	}
	bundle, err := e.audit.Export(filter)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrNothingToExport, err)
	}

	var receipts []*contracts.Receipt
	for _, entry := range bundle.Entries {
		if entry.EntryType != store.EntryTypeResult {
			continue
		}
		rc, err := e.receipts.GetByRequest(ctx, entry.Subject)
		if errors.Is(err, store.ErrReceiptNotFound) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("audit: load receipt for %s: %w", entry.Subject, err)
		}
		receipts = append(receipts, rc)
	}
	sort.Slice(receipts, func(i, j int) bool { return receipts[i].Sequence < receipts[j].Sequence })

	entriesJSON, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return nil, "", err
	}
	receiptsJSON, err := json.MarshalIndent(receipts, "", "  ")
	if err != nil {
		return nil, "", err
	}

	manifest := PackManifestFile{
		RequestID:    req.RequestID,
		GeneratedAt:  time.Now().UTC(),
		EntryCount:   bundle.EntryCount,
		ReceiptCount: len(receipts),
		ChainHead:    bundle.ChainHead,
		FileHashes: map[string]string{
			PackEntries:  canonicalize.HashBytes(entriesJSON),
			PackReceipts: canonicalize.HashBytes(receiptsJSON),
		},
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("audit: failed to marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	files := []struct {
		name string
		data []byte
	}{
		{PackEntries, entriesJSON},
		{PackReceipts, receiptsJSON},
		{PackManifest, manifestJSON},
		{packReadme, []byte(fmt.Sprintf("Evidence pack generated at %s\nEntries: %d, receipts: %d\n",
			manifest.GeneratedAt.Format(time.RFC3339), manifest.EntryCount, manifest.ReceiptCount))},
	}
	for _, f := range files {
		fw, err := w.Create(f.name)
		if err != nil {
			return nil, "", err
		}
		if _, err := fw.Write(f.data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}

	zipBytes := buf.Bytes()
	return zipBytes, canonicalize.HashBytes(zipBytes), nil
}

// readPack loads every file of a zip pack into memory.
func readPack(data []byte) (map[string][]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pack: %w", err)
	}
	files := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		b, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		files[f.Name] = b
	}
	return files, nil
}
