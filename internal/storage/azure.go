package storage

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/sirupsen/logrus"
)

// archiveBlockSize keeps quarantine records and reports in a single block
const archiveBlockSize = 4 * 1024 * 1024

// BlobArchive keeps quarantined task rows and status reports in Azure Blob Storage.
// Blob names carry their category as a prefix ("quarantine/", "reports/<period>/").
type BlobArchive struct {
	client    *azblob.Client
	container string
}

var _ ArchiveInterface = (*BlobArchive)(nil)

// NewBlobArchive connects with the default Azure credential chain and makes
// sure the archive container exists
func NewBlobArchive(ctx context.Context, accountName, container string) (*BlobArchive, error) {
	if accountName == "" || container == "" {
		return nil, fmt.Errorf("archive needs both a storage account and a container")
	}

	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	client, err := azblob.NewClient(fmt.Sprintf("https://%s.blob.core.windows.net/", accountName), credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure blob client: %w", err)
	}

	a := &BlobArchive{client: client, container: container}
	if err := a.ensureContainer(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *BlobArchive) ensureContainer(ctx context.Context) error {
	_, err := a.client.CreateContainer(ctx, a.container, nil)
	switch {
	case err == nil:
		logrus.WithField("container", a.container).Info("Created archive container")
	case bloberror.HasCode(err, bloberror.ContainerAlreadyExists):
	default:
		return fmt.Errorf("failed to create archive container %s: %w", a.container, err)
	}
	return nil
}

// Store writes one archive record. Records are JSON documents and an
// existing blob with the same name is replaced.
func (a *BlobArchive) Store(ctx context.Context, name string, data []byte) error {
	contentType := "application/json"
	if path.Ext(name) != ".json" {
		contentType = "application/octet-stream"
	}

	_, err := a.client.UploadBuffer(ctx, a.container, name, data, &azblob.UploadBufferOptions{
		BlockSize:   archiveBlockSize,
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", name, err)
	}

	logrus.WithFields(logrus.Fields{
		"blob":  name,
		"bytes": len(data),
	}).Debug("Archived record")
	return nil
}

// Retrieve reads one archive record back
func (a *BlobArchive) Retrieve(ctx context.Context, name string) ([]byte, error) {
	resp, err := a.client.DownloadStream(ctx, a.container, name, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, fmt.Errorf("archive record %s does not exist", name)
		}
		return nil, fmt.Errorf("failed to read archive record %s: %w", name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive record %s: %w", name, err)
	}
	return data, nil
}

// List returns the record names under prefix in lexical order
func (a *BlobArchive) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	pager := a.client.NewListBlobsFlatPager(a.container, &azblob.ListBlobsFlatOptions{Prefix: &prefix})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list archive under %q: %w", prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				names = append(names, *item.Name)
			}
		}
	}
	return names, nil
}
