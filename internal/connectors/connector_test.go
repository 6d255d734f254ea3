package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/qualys/piiflow/internal/backend"
	"github.com/qualys/piiflow/internal/cloudconfig"
	"github.com/qualys/piiflow/internal/models"
)

func TestFileRefs(t *testing.T) {
	tests := []struct {
		name     string
		keys     []string
		max      int
		expected []models.FileRef
	}{
		{
			name:     "skips folders",
			keys:     []string{"docs/", "docs/a.pdf", "", "b.txt"},
			expected: []models.FileRef{{Name: "docs/a.pdf", ID: "docs/a.pdf"}, {Name: "b.txt", ID: "b.txt"}},
		},
		{
			name:     "limit",
			keys:     []string{"a", "b", "c"},
			max:      2,
			expected: []models.FileRef{{Name: "a", ID: "a"}, {Name: "b", ID: "b"}},
		},
		{
			name:     "empty",
			expected: []models.FileRef{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FileRefs(tt.keys, tt.max)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	client := backend.New("http://127.0.0.1:1")
	r := BackendRegistry(client)

	for _, p := range []models.Provider{models.ProviderAWS, models.ProviderAzure, models.ProviderGoogle} {
		l, err := r.Get(p)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", p, err)
		}
		if l.Provider() != p {
			t.Errorf("expected %s lister, got %s", p, l.Provider())
		}
	}
	if _, err := r.Get("dropbox"); !errors.Is(err, ErrUnsupportedProvider) {
		t.Errorf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestBackendLister_AWS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/getting_files_from_aws_s3" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.FormValue("bucket") != "my-bucket" || r.FormValue("accessKey") != "AK" {
			t.Errorf("unexpected form %v", r.MultipartForm.Value)
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "success", "files": []string{"a.pdf"}})
	}))
	defer srv.Close()

	l := NewBackendLister(backend.New(srv.URL), models.ProviderAWS)
	files, err := l.ListFiles(context.Background(), models.CloudConfig{
		cloudconfig.FieldAccessKey:  "AK",
		cloudconfig.FieldSecretKey:  "SK",
		cloudconfig.FieldBucketName: "my-bucket",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 1 || files[0].Name != "a.pdf" {
		t.Errorf("unexpected files %v", files)
	}
}

func TestBackendLister_Google(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Folder models.Folder `json:"folder_name"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Folder.ID != "f1" {
			t.Errorf("unexpected folder %+v", req.Folder)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"message": "Successfully fetched files",
			"files":   []map[string]string{{"name": "doc.pdf", "id": "d1"}},
		})
	}))
	defer srv.Close()

	l := NewBackendLister(backend.New(srv.URL), models.ProviderGoogle)
	files, err := l.ListFiles(context.Background(), models.CloudConfig{
		cloudconfig.FieldFolderName: "Reports",
		cloudconfig.FieldFolderID:   "f1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 1 || files[0].ID != "d1" {
		t.Errorf("unexpected files %v", files)
	}

	if _, err := l.ListFiles(context.Background(), models.CloudConfig{}); !errors.Is(err, ErrNoFolder) {
		t.Errorf("expected ErrNoFolder, got %v", err)
	}
}
