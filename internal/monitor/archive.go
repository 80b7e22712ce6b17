package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/klauspost/compress/zstd"
)

// BlobConfig points the archive at an Azure Storage container.
type BlobConfig struct {
	ServiceURL string `mapstructure:"service_url"`
	Container  string `mapstructure:"container"`
	Prefix     string `mapstructure:"prefix"`
}

func (c BlobConfig) Enabled() bool {
	return c.ServiceURL != "" && c.Container != ""
}

type uploadFunc func(ctx context.Context, name string, data []byte) error

// BlobArchiver uploads zstd-compressed traces to blob storage.
type BlobArchiver struct {
	prefix  string
	upload  uploadFunc
	encoder *zstd.Encoder
}

// NewBlobArchiver authenticates with the default Azure credential chain.
func NewBlobArchiver(cfg BlobConfig) (*BlobArchiver, error) {
	if !cfg.Enabled() {
		return nil, errors.New("blob archive requires service_url and container")
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("azure credential: %w", err)
	}
	client, err := azblob.NewClient(cfg.ServiceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("blob client: %w", err)
	}

	return newBlobArchiver(cfg.Prefix, func(ctx context.Context, name string, data []byte) error {
		_, err := client.UploadBuffer(ctx, cfg.Container, name, data, nil)
		return err
	})
}

func newBlobArchiver(prefix string, upload uploadFunc) (*BlobArchiver, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	return &BlobArchiver{prefix: prefix, upload: upload, encoder: encoder}, nil
}

func (b *BlobArchiver) Save(ctx context.Context, trace Trace) error {
	data, err := json.Marshal(trace)
	if err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}

	name := path.Join(b.prefix, trace.StartedAt.UTC().Format("2006/01/02"), trace.TraceID+".json.zst")
	if err := b.upload(ctx, name, b.encoder.EncodeAll(data, nil)); err != nil {
		return fmt.Errorf("upload trace %s: %w", trace.TraceID, err)
	}
	return nil
}
