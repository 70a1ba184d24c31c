package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/ctproto/ctproto-go/internal/logger"
)

// AzureBlobStore uploads each reassembled file as a blob named fileID in a
// fixed container, the backend the teacher's azure/blob-sidecar module
// declared (azblob + azidentity in its go.mod) but never wired to a caller.
type AzureBlobStore struct {
	client    *azblob.Client
	container string
	log       *slog.Logger
}

// NewAzureBlobStore authenticates against serviceURL (an
// "https://<account>.blob.core.windows.net" endpoint) using the ambient
// workload/managed identity (azidentity.NewDefaultAzureCredential) and
// targets the given container for every Save.
func NewAzureBlobStore(serviceURL, container string, log *slog.Logger) (*AzureBlobStore, error) {
	if log == nil {
		log = logger.Logger()
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("store.azureblob: default credential: %w", err)
	}
	client, err := azblob.NewClient(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("store.azureblob: new client: %w", err)
	}
	return &AzureBlobStore{client: client, container: container, log: log}, nil
}

// Save uploads data as a blob named fileID, recording meta.Type as the
// blob's "ctprotoType" metadata when present.
func (s *AzureBlobStore) Save(ctx context.Context, fileID string, meta Metadata, data []byte) (Location, error) {
	opts := &azblob.UploadBufferOptions{}
	if meta.Type != "" {
		msgType := meta.Type
		opts.Metadata = map[string]*string{"ctprotoType": &msgType}
	}

	if _, err := s.client.UploadBuffer(ctx, s.container, fileID, data, opts); err != nil {
		s.log.Error("azure blob upload failed", "file_id", fileID, "container", s.container, "error", err)
		return Location{}, fmt.Errorf("store.azureblob: upload %s: %w", fileID, err)
	}

	url := fmt.Sprintf("%s/%s/%s", s.client.URL(), s.container, fileID)
	s.log.Info("stored upload", "file_id", fileID, "type", meta.Type, "url", url, "bytes", len(data))
	return Location{URL: url}, nil
}
