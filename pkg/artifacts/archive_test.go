package artifacts

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
	"github.com/Mindburn-Labs/verifiquant/pkg/crypto"
)

func newArchive(t *testing.T) (*Archive, *FileStore) {
	t.Helper()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "archive"))
	require.NoError(t, err)
	signer, err := crypto.NewEd25519Signer("archive-key")
	require.NoError(t, err)
	return NewArchive(fs, signer, signer, nil), fs
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	hash, err := fs.Store(ctx, []byte("sharpe"))
	require.NoError(t, err)
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, hash)

	again, err := fs.Store(ctx, []byte("sharpe"))
	require.NoError(t, err)
	assert.Equal(t, hash, again)

	got, err := fs.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, []byte("sharpe"), got)

	ok, err := fs.Exists(ctx, hash)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, fs.Delete(ctx, hash))
	_, err = fs.Get(ctx, hash)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, fs.Delete(ctx, hash), "deleting twice is not an error")
}

func TestFileStoreRejectsBadHashes(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	for _, h := range []string{"", "md5:abc", "sha256:zz", "sha256:abcd", "sha256:../../etc/passwd"} {
		_, err := fs.Get(context.Background(), h)
		assert.Error(t, err, h)
	}
}

func TestArchiveResultRoundTrip(t *testing.T) {
	ctx := context.Background()
	a, _ := newArchive(t)
	result := &contracts.Refused{RequestID: "req-9", Reason: contracts.ReasonMissingInput, MissingInputs: []string{"std"}}

	hash, err := a.PutResult(ctx, result)
	require.NoError(t, err)

	ok, reasons, err := a.Verify(ctx, hash)
	require.NoError(t, err)
	assert.True(t, ok, reasons)

	env, err := a.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, TypeSolveResult, env.Type)
	assert.Equal(t, "req-9", env.Subject)
	assert.Equal(t, "archive-key", env.SignatureKeyID)

	back, err := env.Result()
	require.NoError(t, err)
	assert.Equal(t, result, back)
}

func TestArchiveDetectsTampering(t *testing.T) {
	ctx := context.Background()
	a, fs := newArchive(t)
	hash, err := a.PutResult(ctx, &contracts.Errored{RequestID: "r", Message: "boom"})
	require.NoError(t, err)

	env, err := a.Get(ctx, hash)
	require.NoError(t, err)
	env.Payload = json.RawMessage(`{"status":"error","request_id":"r","message":"fine"}`)
	data, err := json.Marshal(env)
	require.NoError(t, err)
	forged, err := fs.Store(ctx, data)
	require.NoError(t, err)

	ok, reasons, err := a.Verify(ctx, forged)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, reasons, "signature invalid")
}

func TestArchiveFailsClosed(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = NewArchive(fs, nil, nil, nil).PutPack(ctx, "x", []byte("zip"))
	assert.ErrorIs(t, err, ErrSignerNotConfigured)

	signer, err := crypto.NewEd25519Signer("k")
	require.NoError(t, err)
	hash, err := NewArchive(fs, signer, nil, nil).PutPack(ctx, "x", []byte("zip"))
	require.NoError(t, err)
	ok, reasons, err := NewArchive(fs, nil, nil, nil).Verify(ctx, hash)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotEmpty(t, reasons)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		opts    Options
		wantErr string
	}{
		{name: "disabled", opts: Options{Backend: BackendNone}, wantErr: "disabled"},
		{name: "fs needs dir", opts: Options{Backend: BackendFS}, wantErr: "directory"},
		{name: "s3 needs bucket", opts: Options{Backend: BackendS3}, wantErr: "bucket"},
		{name: "gcs needs bucket", opts: Options{Backend: BackendGCS}, wantErr: "bucket"},
		{name: "unknown", opts: Options{Backend: "azure"}, wantErr: "unsupported"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(ctx, tt.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	s, err := Open(ctx, Options{Backend: BackendFS, Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)
}
