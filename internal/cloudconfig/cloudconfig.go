// Package cloudconfig describes the credential fields each cloud provider
// needs and validates them before they are sent anywhere.
package cloudconfig

import (
	"errors"
	"regexp"
	"strings"

	"github.com/qualys/piiflow/internal/models"
)

var ErrInvalid = errors.New("invalid cloud configuration")

// Field names shared with the analysis backend.
const (
	FieldAccessKey   = "accessKey"
	FieldSecretKey   = "secretKey"
	FieldBucketName  = "bucketName"
	FieldAccountName = "accountName"
	FieldAccountKey  = "accountKey"
	FieldContainer   = "container"
	FieldAuthCode    = "authCode"
	FieldFolderName  = "folderName"
	FieldFolderID    = "folderId"
)

// Field describes one input of a provider form.
type Field struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Placeholder string `json:"placeholder"`
	Secret      bool   `json:"secret"`
}

var fields = map[models.Provider][]Field{
	models.ProviderAWS: {
		{Name: FieldAccessKey, Label: "Access Key", Placeholder: "Enter your access key", Secret: true},
		{Name: FieldSecretKey, Label: "Secret Key", Placeholder: "Enter your secret key", Secret: true},
		{Name: FieldBucketName, Label: "S3 Bucket Name", Placeholder: "Enter bucket name"},
	},
	models.ProviderAzure: {
		{Name: FieldAccountName, Label: "Account Name", Placeholder: "Enter your account name", Secret: true},
		{Name: FieldAccountKey, Label: "Account Key", Placeholder: "Enter your account key", Secret: true},
		{Name: FieldContainer, Label: "Container Name", Placeholder: "Enter container name"},
	},
	models.ProviderGoogle: {
		{Name: FieldAuthCode, Label: "Authorization Code", Placeholder: "Paste the Google authorization code", Secret: true},
	},
}

// extra fields a provider config may carry beyond its form.
var extraFields = map[models.Provider][]string{
	models.ProviderGoogle: {FieldFolderName, FieldFolderID},
}

var (
	awsAccessKeyPattern     = regexp.MustCompile(`^[A-Z0-9]{20}$`)
	awsSecretKeyPattern     = regexp.MustCompile(`^[A-Za-z0-9/+=]{40}$`)
	awsBucketPattern        = regexp.MustCompile(`^[a-z0-9.-]{3,63}$`)
	azureAccountNamePattern = regexp.MustCompile(`^[a-z0-9]{3,24}$`)
	azureAccountKeyPattern  = regexp.MustCompile(`^[A-Za-z0-9+/=]{88}$`)
	azureContainerPattern   = regexp.MustCompile(`^[a-z0-9-]{3,63}$`)
)

// ValidationError names the offending field and a user-facing message.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalid
}

// Fields returns the form fields of a provider.
func Fields(p models.Provider) []Field {
	return append([]Field(nil), fields[p]...)
}

// Blank returns a config with every form field of p set to "".
func Blank(p models.Provider) models.CloudConfig {
	cfg := models.CloudConfig{}
	for _, f := range fields[p] {
		cfg[f.Name] = ""
	}
	return cfg
}

// Normalize keeps only the fields p understands, trimming whitespace.
func Normalize(p models.Provider, in models.CloudConfig) models.CloudConfig {
	out := Blank(p)
	for _, f := range fields[p] {
		if v, ok := in[f.Name]; ok {
			out[f.Name] = strings.TrimSpace(v)
		}
	}
	for _, name := range extraFields[p] {
		if v, ok := in[name]; ok && v != "" {
			out[name] = v
		}
	}
	return out
}

// Validate checks the credentials for p. Google only needs an authorization
// code, which Validate requires; folder fields are checked by the caller.
func Validate(p models.Provider, cfg models.CloudConfig) error {
	switch p {
	case models.ProviderAWS:
		if !awsAccessKeyPattern.MatchString(cfg[FieldAccessKey]) {
			return &ValidationError{FieldAccessKey, "Invalid AWS Access Key format. Must be 20 uppercase alphanumeric characters."}
		}
		if !awsSecretKeyPattern.MatchString(cfg[FieldSecretKey]) {
			return &ValidationError{FieldSecretKey, "Invalid AWS Secret Key format. Must be 40 alphanumeric characters with /+=."}
		}
		if !awsBucketPattern.MatchString(cfg[FieldBucketName]) {
			return &ValidationError{FieldBucketName, "Invalid S3 Bucket Name. Must be 3-63 characters, lowercase letters, numbers, dots, or hyphens."}
		}
	case models.ProviderAzure:
		if !azureAccountNamePattern.MatchString(cfg[FieldAccountName]) {
			return &ValidationError{FieldAccountName, "Invalid Azure Account Name. Must be 3-24 lowercase letters or numbers."}
		}
		if !azureAccountKeyPattern.MatchString(cfg[FieldAccountKey]) {
			return &ValidationError{FieldAccountKey, "Invalid Azure Account Key. Must be 88 base64 characters."}
		}
		if !azureContainerPattern.MatchString(cfg[FieldContainer]) {
			return &ValidationError{FieldContainer, "Invalid Azure Container Name. Must be 3-63 lowercase letters, numbers, or hyphens."}
		}
	case models.ProviderGoogle:
		if strings.TrimSpace(cfg[FieldAuthCode]) == "" {
			return &ValidationError{FieldAuthCode, "Please paste the Google authorization code"}
		}
	default:
		return &ValidationError{"", "Unsupported cloud provider: " + string(p)}
	}
	return nil
}

// Redact masks secret values for display. Unset fields read "Not set".
func Redact(p models.Provider, cfg models.CloudConfig) map[string]string {
	out := make(map[string]string)
	for _, f := range fields[p] {
		v := cfg[f.Name]
		switch {
		case v == "":
			out[f.Name] = "Not set"
		case f.Secret:
			out[f.Name] = "••••••••"
		default:
			out[f.Name] = v
		}
	}
	for _, name := range extraFields[p] {
		if v := cfg[name]; v != "" {
			out[name] = v
		}
	}
	return out
}
