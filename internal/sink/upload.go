package sink

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// blobClient is the subset of [*azblob.Client] used for uploads.
type blobClient interface {
	UploadBuffer(ctx context.Context, containerName, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
}

// Uploader copies local artifacts into a blob container.
type Uploader struct {
	client    blobClient
	container string
	prefix    string
}

// NewUploader authenticates with the default Azure credential chain.
func NewUploader(accountURL, container, prefix string) (*Uploader, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("creating azure credential: %w", err)
	}
	client, err := azblob.NewClient(accountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("creating blob client: %w", err)
	}
	return &Uploader{client: client, container: container, prefix: prefix}, nil
}

// UploadFile stores the file at localPath under prefix/<base name>.
func (u *Uploader) UploadFile(ctx context.Context, localPath string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}

	name := path.Join(u.prefix, filepath.Base(localPath))
	if _, err := u.client.UploadBuffer(ctx, u.container, name, data, nil); err != nil {
		return "", fmt.Errorf("uploading %s: %w", localPath, err)
	}
	slog.Debug("uploaded artifact", "container", u.container, "blob", name, "bytes", len(data))
	return name, nil
}
