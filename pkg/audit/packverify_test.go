package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
	"github.com/Mindburn-Labs/verifiquant/pkg/store"
)

func solveAndRecord(t *testing.T, n *Notary, rec *Recorder, result contracts.SolveResult) {
	t.Helper()
	ctx := context.Background()
	id := contracts.RequestIDOf(result)
	require.NoError(t, rec.Transition(ctx, id, "received", "interpreted", ""))
	_, err := n.Issue(ctx, result)
	require.NoError(t, err)
	require.NoError(t, rec.Result(ctx, result))
}

func TestExportAndVerifyPack(t *testing.T) {
	n, signer, rs := newNotary(t)
	as := store.NewAuditStore()
	rec := NewRecorder(as)

	s, err := AssembleSuccess(sharpeInput())
	require.NoError(t, err)
	solveAndRecord(t, n, rec, s)
	solveAndRecord(t, n, rec, &contracts.Refused{RequestID: "req-2", Reason: contracts.ReasonLowConfidence})

	assert.Len(t, rec.Trail("req-1"), 2)

	pack, checksum, err := NewExporter(as, rs).GeneratePack(context.Background(), ExportRequest{})
	require.NoError(t, err)
	assert.Contains(t, checksum, "sha256:")

	report := VerifyPack(pack, signer)
	for _, c := range report.Checks {
		assert.True(t, c.Pass, "%s: %s", c.Name, c.Reason)
	}
	assert.True(t, report.Verified, report.Summary)

	single, _, err := NewExporter(as, rs).GeneratePack(context.Background(), ExportRequest{RequestID: "req-2"})
	require.NoError(t, err)
	assert.True(t, VerifyPack(single, signer).Verified)

	assert.False(t, VerifyPack(pack, nil).Verified)
}

func TestVerifyPackDetectsEditedFile(t *testing.T) {
	n, signer, rs := newNotary(t)
	as := store.NewAuditStore()
	s, err := AssembleSuccess(sharpeInput())
	require.NoError(t, err)
	solveAndRecord(t, n, NewRecorder(as), s)

	pack, _, err := NewExporter(as, rs).GeneratePack(context.Background(), ExportRequest{RequestID: "req-1"})
	require.NoError(t, err)

	tampered := rewritePack(t, pack, PackEntries, func(b []byte) []byte {
		return bytes.Replace(b, []byte("sharpe_ratio"), []byte("sharpe_ratiO"), 1)
	})
	report := VerifyPack(tampered, signer)
	assert.False(t, report.Verified)
	assert.Positive(t, report.IssueCount)

	assert.False(t, VerifyPack([]byte("not a zip"), signer).Verified)
}

func rewritePack(t *testing.T, pack []byte, name string, edit func([]byte) []byte) []byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(pack), int64(len(pack)))
	require.NoError(t, err)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		_ = rc.Close()
		if f.Name == name {
			data = edit(data)
		}
		w, err := zw.Create(f.Name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}
