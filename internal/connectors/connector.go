// Package connectors lists the files a user can pick from a cloud provider.
package connectors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/qualys/piiflow/internal/backend"
	"github.com/qualys/piiflow/internal/cloudconfig"
	"github.com/qualys/piiflow/internal/models"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported cloud provider")
	ErrNoFolder            = errors.New("no Google Drive folder selected")
)

// Lister returns the files a cloud configuration grants access to.
type Lister interface {
	// Provider returns the cloud provider type
	Provider() models.Provider

	// ListFiles lists the files visible with cfg
	ListFiles(ctx context.Context, cfg models.CloudConfig) ([]models.FileRef, error)
}

// Registry holds one lister per provider.
type Registry struct {
	listers map[models.Provider]Lister
}

func NewRegistry(listers ...Lister) *Registry {
	r := &Registry{listers: make(map[models.Provider]Lister, len(listers))}
	for _, l := range listers {
		r.Register(l)
	}
	return r
}

// Register adds l, replacing any lister for the same provider.
func (r *Registry) Register(l Lister) {
	r.listers[l.Provider()] = l
}

func (r *Registry) Get(p models.Provider) (Lister, error) {
	l, ok := r.listers[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, p)
	}
	return l, nil
}

// BackendRegistry returns listers that ask the analysis backend for file
// listings, one per provider.
func BackendRegistry(client *backend.Client) *Registry {
	return NewRegistry(
		&BackendLister{client: client, provider: models.ProviderAWS},
		&BackendLister{client: client, provider: models.ProviderAzure},
		&BackendLister{client: client, provider: models.ProviderGoogle},
	)
}

// BackendLister delegates listing to the analysis backend, which also keeps
// the credentials for the later staging call.
type BackendLister struct {
	client   *backend.Client
	provider models.Provider
}

func NewBackendLister(client *backend.Client, p models.Provider) *BackendLister {
	return &BackendLister{client: client, provider: p}
}

func (l *BackendLister) Provider() models.Provider {
	return l.provider
}

func (l *BackendLister) ListFiles(ctx context.Context, cfg models.CloudConfig) ([]models.FileRef, error) {
	switch l.provider {
	case models.ProviderAWS:
		return l.client.FetchAWSFiles(ctx,
			cfg[cloudconfig.FieldAccessKey],
			cfg[cloudconfig.FieldSecretKey],
			cfg[cloudconfig.FieldBucketName])
	case models.ProviderAzure:
		return l.client.FetchAzureFiles(ctx,
			cfg[cloudconfig.FieldAccountName],
			cfg[cloudconfig.FieldAccountKey],
			cfg[cloudconfig.FieldContainer])
	case models.ProviderGoogle:
		folder := models.Folder{Name: cfg[cloudconfig.FieldFolderName], ID: cfg[cloudconfig.FieldFolderID]}
		if folder.ID == "" && folder.Name == "" {
			return nil, ErrNoFolder
		}
		return l.client.FetchGoogleDriveFiles(ctx, folder)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, l.provider)
}

// FileRefs turns object keys into file references. Directory placeholders
// are skipped and at most max keys are kept when max is positive.
func FileRefs(keys []string, max int) []models.FileRef {
	refs := make([]models.FileRef, 0, len(keys))
	for _, k := range keys {
		if k == "" || strings.HasSuffix(k, "/") {
			continue
		}
		if max > 0 && len(refs) >= max {
			break
		}
		refs = append(refs, models.FileRef{Name: k, ID: k})
	}
	return refs
}
