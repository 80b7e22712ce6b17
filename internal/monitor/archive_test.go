package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
)

func TestBlobArchiverUploadsCompressedTrace(t *testing.T) {
	t.Parallel()

	var gotName string
	var gotData []byte
	archiver, err := newBlobArchiver("traces", func(_ context.Context, name string, data []byte) error {
		gotName, gotData = name, data
		return nil
	})
	require.NoError(t, err)

	trace := Trace{TraceID: "abc", StartedAt: time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC)}
	require.NoError(t, archiver.Save(context.Background(), trace))
	require.Equal(t, "traces/2025/04/02/abc.json.zst", gotName)

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	plain, err := dec.DecodeAll(gotData, nil)
	require.NoError(t, err)

	var decoded Trace
	require.NoError(t, json.Unmarshal(plain, &decoded))
	require.Equal(t, "abc", decoded.TraceID)
}

func TestBlobArchiverWrapsUploadError(t *testing.T) {
	t.Parallel()

	archiver, err := newBlobArchiver("", func(context.Context, string, []byte) error {
		return errors.New("403")
	})
	require.NoError(t, err)
	require.ErrorContains(t, archiver.Save(context.Background(), Trace{TraceID: "x"}), "upload trace x")
}

func TestBlobConfigEnabled(t *testing.T) {
	t.Parallel()

	require.False(t, BlobConfig{}.Enabled())
	require.True(t, BlobConfig{ServiceURL: "https://acct.blob.core.windows.net", Container: "traces"}.Enabled())

	_, err := NewBlobArchiver(BlobConfig{})
	require.Error(t, err)
}
