package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/qualys/piiflow/internal/models"
)

// Upload is a local file to send to the backend.
type Upload struct {
	Name string
	Path string
}

// InitializeUpload prepares the backend's staging area.
func (c *Client) InitializeUpload(ctx context.Context) (string, error) {
	var resp envelope
	if err := c.postJSON(ctx, "/upload", struct{}{}, &resp); err != nil {
		return "", fmt.Errorf("initializing upload: %w", err)
	}
	if resp.failed() {
		return "", fmt.Errorf("initializing upload: %w", resp.err("Failed to initialize upload"))
	}
	return resp.Message, nil
}

// UploadFiles stages local files with the backend.
func (c *Client) UploadFiles(ctx context.Context, files []Upload) (string, error) {
	f := newForm()
	for _, u := range files {
		if err := attach(f, "files", u); err != nil {
			return "", err
		}
	}

	var resp envelope
	if err := c.postForm(ctx, "/file_handler", f, c.http, &resp); err != nil {
		return "", fmt.Errorf("uploading files: %w", err)
	}
	if resp.failed() {
		return "", fmt.Errorf("uploading files: %w", resp.err("File upload failed"))
	}
	return resp.Message, nil
}

func attach(f *formBuilder, field string, u Upload) error {
	fh, err := os.Open(u.Path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", u.Name, err)
	}
	defer fh.Close()

	name := u.Name
	if name == "" {
		name = filepath.Base(u.Path)
	}
	f.file(field, name, fh)
	return f.err
}

// FetchAWSFiles lists the objects of the configured S3 bucket.
func (c *Client) FetchAWSFiles(ctx context.Context, accessKey, secretKey, bucket string) ([]models.FileRef, error) {
	f := newForm()
	f.field("accessKey", accessKey)
	f.field("secretKey", secretKey)
	f.field("bucket", bucket)
	return c.fetchFiles(ctx, "/getting_files_from_aws_s3", f)
}

// FetchAzureFiles lists the blobs of the configured container.
func (c *Client) FetchAzureFiles(ctx context.Context, accountName, accountKey, container string) ([]models.FileRef, error) {
	f := newForm()
	f.field("accountName", accountName)
	f.field("accountKey", accountKey)
	f.field("container", container)
	return c.fetchFiles(ctx, "/getting_files_from_azure", f)
}

func (c *Client) fetchFiles(ctx context.Context, path string, f *formBuilder) ([]models.FileRef, error) {
	var resp envelope
	if err := c.postForm(ctx, path, f, c.http, &resp); err != nil {
		return nil, fmt.Errorf("fetching files: %w", err)
	}
	if resp.failed() {
		return nil, fmt.Errorf("fetching files: %w", resp.err("Failed to fetch files"))
	}
	return normalizeFiles(resp.Files)
}

// SelectAWSFiles stages the chosen S3 objects for analysis.
func (c *Client) SelectAWSFiles(ctx context.Context, names []string) (string, error) {
	return c.selectFiles(ctx, "/aws_selected_files", names)
}

// SelectAzureFiles stages the chosen blobs for analysis.
func (c *Client) SelectAzureFiles(ctx context.Context, names []string) (string, error) {
	return c.selectFiles(ctx, "/azure_selected_files", names)
}

func (c *Client) selectFiles(ctx context.Context, path string, names []string) (string, error) {
	f := newForm()
	for _, name := range names {
		f.field("files", name)
	}

	var resp envelope
	if err := c.postForm(ctx, path, f, c.http, &resp); err != nil {
		return "", fmt.Errorf("staging files: %w", err)
	}
	if resp.failed() {
		return "", fmt.Errorf("staging files: %w", resp.err("Failed to process files"))
	}
	return resp.Message, nil
}

// normalizeFiles accepts both plain names and {name, id} objects. A missing
// id falls back to the name, then to "file-<index>".
func normalizeFiles(raw []json.RawMessage) ([]models.FileRef, error) {
	out := make([]models.FileRef, 0, len(raw))
	for i, item := range raw {
		var ref models.FileRef
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			ref = models.FileRef{Name: name, ID: name}
		} else if err := json.Unmarshal(item, &ref); err != nil {
			return nil, fmt.Errorf("%w: file entry %d: %v", ErrMalformedPayload, i, err)
		}
		if ref.ID == "" {
			ref.ID = ref.Name
		}
		if ref.ID == "" {
			ref.ID = fmt.Sprintf("file-%d", i)
		}
		out = append(out, ref)
	}
	return out, nil
}

// DriveStatus describes the backend's Google Drive connection.
type DriveStatus struct {
	Configured bool            `json:"configured"`
	Message    string          `json:"message"`
	AuthURL    string          `json:"auth_url,omitempty"`
	Folders    []models.Folder `json:"folders"`
}

// ConnectGoogleDrive asks whether the backend holds a Drive token. When it
// does not, the response carries the URL the user must visit.
func (c *Client) ConnectGoogleDrive(ctx context.Context) (*DriveStatus, error) {
	var resp struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		AuthURL string          `json:"auth_url"`
		Folders []models.Folder `json:"folders"`
	}
	if err := c.do(ctx, c.http, http.MethodGet, "/connect_google_drive/", nil, "", &resp); err != nil {
		return nil, fmt.Errorf("connecting google drive: %w", err)
	}

	status := resp.Status
	if status == "" {
		status = "not_configured"
		if strings.Contains(resp.Message, "Successfully") {
			status = "configured"
		}
	}
	if status == "error" {
		return nil, fmt.Errorf("connecting google drive: %w", &StatusError{Message: resp.Message})
	}

	folders := resp.Folders
	if folders == nil {
		folders = []models.Folder{}
	}
	return &DriveStatus{
		Configured: status == "configured",
		Message:    resp.Message,
		AuthURL:    resp.AuthURL,
		Folders:    folders,
	}, nil
}

// AuthorizeGoogleDrive completes the OAuth flow with the code the user pasted.
func (c *Client) AuthorizeGoogleDrive(ctx context.Context, code string) (string, error) {
	path := "/google_drive_auth_callback/?code=" + url.QueryEscape(code)
	var resp envelope
	if err := c.do(ctx, c.http, http.MethodPost, path, nil, "", &resp); err != nil {
		return "", fmt.Errorf("authorizing google drive: %w", err)
	}
	if resp.Status == "error" {
		return "", fmt.Errorf("authorizing google drive: %w", resp.err("Authorization failed"))
	}
	return resp.Message, nil
}

// FetchGoogleDriveFiles lists the files of a Drive folder.
func (c *Client) FetchGoogleDriveFiles(ctx context.Context, folder models.Folder) ([]models.FileRef, error) {
	req := map[string]models.Folder{"folder_name": folder}
	var resp envelope
	if err := c.postJSON(ctx, "/getting_files_from_google_drive/", req, &resp); err != nil {
		return nil, fmt.Errorf("fetching drive files: %w", err)
	}
	if !strings.Contains(resp.Message, "Successfully") {
		return nil, fmt.Errorf("fetching drive files: %w", resp.err("Failed to fetch Google Drive files"))
	}
	return normalizeFiles(resp.Files)
}

// StreamGoogleDriveFiles has the backend download the chosen Drive files.
func (c *Client) StreamGoogleDriveFiles(ctx context.Context, files []models.FileRef) (string, error) {
	req := map[string][]models.FileRef{"files": files}
	var resp envelope
	if err := c.postJSON(ctx, "/streaming_files_from_google_drive/", req, &resp); err != nil {
		return "", fmt.Errorf("streaming drive files: %w", err)
	}
	if !strings.Contains(resp.Message, "downloaded successfully") {
		return "", fmt.Errorf("streaming drive files: %w", resp.err("Failed to stream Google Drive files"))
	}
	return resp.Message, nil
}
