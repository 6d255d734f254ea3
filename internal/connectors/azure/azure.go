// Package azure lists blobs with the storage account key a user entered.
package azure

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/qualys/piiflow/internal/cloudconfig"
	"github.com/qualys/piiflow/internal/connectors"
	"github.com/qualys/piiflow/internal/models"
)

type Config struct {
	// ServiceURL is a format string taking the account name.
	ServiceURL string
	MaxFiles   int
}

const defaultServiceURL = "https://%s.blob.core.windows.net/"

type Lister struct {
	cfg Config
}

func New(cfg Config) *Lister {
	if cfg.ServiceURL == "" {
		cfg.ServiceURL = defaultServiceURL
	}
	return &Lister{cfg: cfg}
}

func (l *Lister) Provider() models.Provider {
	return models.ProviderAzure
}

func (l *Lister) client(accountName, accountKey string) (*azblob.Client, error) {
	cred, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("creating credential: %w", err)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(fmt.Sprintf(l.cfg.ServiceURL, accountName), cred, nil)
	if err != nil {
		return nil, fmt.Errorf("creating blob client: %w", err)
	}
	return client, nil
}

func (l *Lister) ListFiles(ctx context.Context, cc models.CloudConfig) ([]models.FileRef, error) {
	accountName := cc[cloudconfig.FieldAccountName]
	accountKey := cc[cloudconfig.FieldAccountKey]
	container := cc[cloudconfig.FieldContainer]
	if accountName == "" || accountKey == "" || container == "" {
		return nil, fmt.Errorf("%w: missing Azure account or container", cloudconfig.ErrInvalid)
	}

	client, err := l.client(accountName, accountKey)
	if err != nil {
		return nil, err
	}

	opts := &azblob.ListBlobsFlatOptions{}
	if l.cfg.MaxFiles > 0 && l.cfg.MaxFiles < 5000 {
		max := int32(l.cfg.MaxFiles)
		opts.MaxResults = &max
	}

	var names []string
	pager := client.NewListBlobsFlatPager(container, opts)
	for pager.More() {
		if l.cfg.MaxFiles > 0 && len(names) >= l.cfg.MaxFiles {
			break
		}
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing blobs: %w", err)
		}
		if page.Segment == nil {
			continue
		}
		for _, blob := range page.Segment.BlobItems {
			if blob.Name != nil {
				names = append(names, *blob.Name)
			}
		}
	}

	return connectors.FileRefs(names, l.cfg.MaxFiles), nil
}
