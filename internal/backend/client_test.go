package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/qualys/piiflow/internal/models"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestNormalizeFiles(t *testing.T) {
	raw := []json.RawMessage{
		json.RawMessage(`"report.pdf"`),
		json.RawMessage(`{"name":"a.docx","id":"abc"}`),
		json.RawMessage(`{"name":"b.txt"}`),
		json.RawMessage(`{}`),
	}
	got, err := normalizeFiles(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []models.FileRef{
		{Name: "report.pdf", ID: "report.pdf"},
		{Name: "a.docx", ID: "abc"},
		{Name: "b.txt", ID: "b.txt"},
		{Name: "", ID: "file-3"},
	}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("expected %v, got %v", expected, got)
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{"detail string", `{"detail":"bucket not found"}`, "bucket not found"},
		{"detail object", `{"detail":{"message":"bad entity"}}`, "bad entity"},
		{"message", `{"message":"boom"}`, "boom"},
		{"error", `{"error":"file missing"}`, "file missing"},
		{"plain text", `Internal Server Error`, "Internal Server Error"},
		{"empty", ``, "500 Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errorMessage([]byte(tt.body), "500 Internal Server Error")
			if got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestFetchAWSFiles(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/getting_files_from_aws_s3" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.FormValue("bucket") != "docs" || r.FormValue("accessKey") != "AK" {
			t.Errorf("unexpected form %v", r.MultipartForm.Value)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "success",
			"files":  []any{"a.pdf", map[string]string{"name": "b.pdf"}},
		})
	})

	files, err := c.FetchAWSFiles(context.Background(), "AK", "SK", "docs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 2 || files[1].ID != "b.pdf" {
		t.Errorf("unexpected files %v", files)
	}
}

func TestFetchFiles_BackendFailure(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "error", "message": "Access denied"})
	})

	_, err := c.FetchAzureFiles(context.Background(), "acct", "key", "box")
	if !errors.Is(err, ErrBackendStatus) {
		t.Fatalf("expected ErrBackendStatus, got %v", err)
	}
	if !strings.Contains(err.Error(), "Access denied") {
		t.Errorf("expected backend message in error, got %v", err)
	}
}

func TestHTTPErrorStatus(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid credentials"})
	})

	_, err := c.SelectAWSFiles(context.Background(), []string{"a.pdf"})
	var serr *StatusError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if serr.Code != http.StatusBadRequest || serr.Message != "Invalid credentials" {
		t.Errorf("unexpected status error %+v", serr)
	}
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, WithTimeout(time.Second))
	_, err := c.InitializeUpload(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestConnectGoogleDrive(t *testing.T) {
	tests := []struct {
		name       string
		body       map[string]any
		configured bool
	}{
		{"explicit configured", map[string]any{"status": "configured", "message": "ok"}, true},
		{"message fallback", map[string]any{"message": "Successfully connected"}, true},
		{"not configured", map[string]any{"message": "Please authorize", "auth_url": "https://accounts.example/auth"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, tt.body)
			})
			st, err := c.ConnectGoogleDrive(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if st.Configured != tt.configured {
				t.Errorf("expected configured=%v, got %v", tt.configured, st.Configured)
			}
			if st.Folders == nil {
				t.Error("folders should never be nil")
			}
		})
	}
}

func TestGoogleDriveSuccessByMessage(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/getting_files_from_google_drive/":
			var req map[string]models.Folder
			json.NewDecoder(r.Body).Decode(&req)
			if req["folder_name"].ID != "f1" {
				t.Errorf("unexpected folder %v", req)
			}
			writeJSON(w, http.StatusOK, map[string]any{"message": "Successfully fetched", "files": []any{"x.pdf"}})
		case "/streaming_files_from_google_drive/":
			writeJSON(w, http.StatusOK, map[string]any{"message": "quota exceeded"})
		}
	})

	files, err := c.FetchGoogleDriveFiles(context.Background(), models.Folder{Name: "Docs", ID: "f1"})
	if err != nil || len(files) != 1 {
		t.Fatalf("unexpected result %v, %v", files, err)
	}
	if _, err := c.StreamGoogleDriveFiles(context.Background(), files); !errors.Is(err, ErrBackendStatus) {
		t.Errorf("expected stream failure, got %v", err)
	}
}

func TestAnalyze_Local(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "upload-1")
	if err := os.WriteFile(path, []byte("card 4111 1111 1111 1111"), 0o600); err != nil {
		t.Fatal(err)
	}

	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		form := r.MultipartForm
		if got := form.Value["selectedOption"]; !reflect.DeepEqual(got, []string{"Classification"}) {
			t.Errorf("unexpected selectedOption %v", got)
		}
		if got := form.Value["multiple"]; !reflect.DeepEqual(got, []string{"CREDIT_CARD", "US_SSN"}) {
			t.Errorf("unexpected entities %v", got)
		}
		var mapping map[string]string
		json.Unmarshal([]byte(form.Value["categoryMapping"][0]), &mapping)
		if mapping["CREDIT_CARD"] != "CONFIDENTIAL" {
			t.Errorf("unexpected mapping %v", mapping)
		}
		if _, ok := form.Value["user_prompt"]; ok {
			t.Error("blank prompt should not be sent")
		}
		files := form.File["files"]
		if len(files) != 1 || files[0].Filename != "card.txt" {
			t.Fatalf("unexpected files %v", files)
		}
		fh, _ := files[0].Open()
		data, _ := io.ReadAll(fh)
		if !strings.Contains(string(data), "4111") {
			t.Error("file content not sent")
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "success",
			"data":   []any{map[string]any{"File Name": "card.txt", "Has PII ?": "yes"}},
		})
	})

	res, err := c.Analyze(context.Background(), &AnalysisRequest{
		ProcessType:     models.ProcessClassification,
		Country:         "USA",
		Entities:        []string{"CREDIT_CARD", "US_SSN"},
		CategoryMapping: map[string]models.Category{"CREDIT_CARD": models.CategoryConfidential, "US_SSN": models.CategoryConfidential},
		UserPrompt:      "   ",
		Location:        models.LocationLocal,
		Files:           []Upload{{Name: "card.txt", Path: path}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Succeeded() || len(res.Data) != 1 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestAnalyze_Cloud(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(1 << 20)
		if r.FormValue("cloudPlatform") != "aws" {
			t.Errorf("unexpected platform %q", r.FormValue("cloudPlatform"))
		}
		var files []models.FileRef
		json.Unmarshal([]byte(r.FormValue("cloudFiles")), &files)
		if len(files) != 1 || files[0].Name != "a.pdf" {
			t.Errorf("unexpected cloud files %v", files)
		}
		if r.FormValue("selectedOption") != "TablesExtraction" {
			t.Errorf("unexpected option %q", r.FormValue("selectedOption"))
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "csv_file_paths": []string{"out/a.xlsx"}})
	})

	res, err := c.Analyze(context.Background(), &AnalysisRequest{
		ProcessType:   models.ProcessTablesExtraction,
		Location:      models.LocationCloud,
		CloudFiles:    []models.FileRef{{Name: "a.pdf", ID: "a.pdf"}},
		CloudConfig:   models.CloudConfig{"bucketName": "docs"},
		CloudPlatform: models.ProviderAWS,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.CSVFilePaths) != 1 {
		t.Errorf("unexpected csv paths %v", res.CSVFilePaths)
	}
}

func TestAnalyze_Cancelled(t *testing.T) {
	release := make(chan struct{})
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := c.Analyze(ctx, &AnalysisRequest{ProcessType: models.ProcessClassification, Location: models.LocationCloud})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMarkDocument(t *testing.T) {
	t.Run("derives file name", func(t *testing.T) {
		c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{
				"message":     "marked",
				"header_path": `C:\out\marked_report.pdf`,
			})
		})
		doc, err := c.MarkDocument(context.Background(), "report.pdf")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if doc.FileName != "marked_report.pdf" {
			t.Errorf("expected marked_report.pdf, got %q", doc.FileName)
		}
	})

	t.Run("missing header path", func(t *testing.T) {
		c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"message": "marked"})
		})
		_, err := c.MarkDocument(context.Background(), "report.pdf")
		if !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("expected ErrMalformedPayload, got %v", err)
		}
	})
}

func TestFileURL(t *testing.T) {
	c := New("http://backend:8001/")
	if got := c.FileURL("my report.pdf"); got != "http://backend:8001/files/my%20report.pdf" {
		t.Errorf("unexpected url %s", got)
	}
}
