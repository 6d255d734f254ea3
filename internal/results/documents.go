package results

import (
	"path"
	"strings"
)

// Action is how a marked document is presented.
type Action string

const (
	ActionView     Action = "view"
	ActionDownload Action = "download"
)

var viewable = map[string]bool{
	"pdf": true, "png": true, "jpg": true, "jpeg": true, "gif": true, "txt": true,
}

// DocumentAction decides whether a file opens inline or downloads. Office
// formats and unknown extensions download.
func DocumentAction(fileName string) Action {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(fileName), "."))
	if viewable[ext] {
		return ActionView
	}
	return ActionDownload
}

// ContentType is the media type served for a marked document.
func ContentType(fileName string) string {
	switch strings.ToLower(strings.TrimPrefix(path.Ext(fileName), ".")) {
	case "pdf":
		return "application/pdf"
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "txt":
		return "text/plain; charset=utf-8"
	case "docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case "xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pptx":
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	}
	return "application/octet-stream"
}
