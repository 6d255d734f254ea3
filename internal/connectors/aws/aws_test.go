package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/qualys/piiflow/internal/cloudconfig"
	"github.com/qualys/piiflow/internal/models"
)

func TestNew_Defaults(t *testing.T) {
	l := New(Config{})
	if l.cfg.Region != defaultRegion {
		t.Errorf("expected %s, got %s", defaultRegion, l.cfg.Region)
	}
	if l.Provider() != models.ProviderAWS {
		t.Errorf("unexpected provider %s", l.Provider())
	}
}

func TestListFiles_MissingFields(t *testing.T) {
	l := New(Config{})
	_, err := l.ListFiles(context.Background(), models.CloudConfig{cloudconfig.FieldAccessKey: "AK"})
	if !errors.Is(err, cloudconfig.ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}
