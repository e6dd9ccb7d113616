package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Form parsers disagree about whether a repeated or bracketed field arrives
// as a scalar or a single-element array. Every field read goes through
// coerceField so handlers only ever see one string.

// coerceField normalizes a form value that may be a scalar or a
// single-element array to one trimmed string. Multi-element arrays keep
// their first value.
func coerceField(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

// parseBool accepts the flag spellings upload clients actually send.
func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "on", "yes":
		return true
	default:
		return false
	}
}

// UploadedFile is the canonical form of one uploaded file, whatever shape
// the transport delivered it in.
type UploadedFile struct {
	Path         string
	OriginalName string
	MimeType     string
	Size         int64
}

// ErrNoFile reports that the request carried no usable file payload.
var ErrNoFile = errors.New("no file in request")

// fileFieldNames are the multipart field names accepted for the payload, in
// lookup order.
var fileFieldNames = []string{"file", "video", "media"}

// normalizeUploadedFile extracts the single file from a request and stages
// it in dir. Accepted shapes: a multipart form with the file under one of
// fileFieldNames, or a raw non-multipart body with a filename query
// parameter. Anything else is ErrNoFile.
func normalizeUploadedFile(r *http.Request, dir string) (UploadedFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return UploadedFile{}, fmt.Errorf("prepare upload dir: %w", err)
	}
	contentType := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Type")))
	if strings.HasPrefix(contentType, "multipart/form-data") {
		return fileFromMultipart(r, dir)
	}
	return fileFromRawBody(r, dir)
}

func fileFromMultipart(r *http.Request, dir string) (UploadedFile, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return UploadedFile{}, fmt.Errorf("invalid multipart payload: %w", err)
	}
	form, err := reader.ReadForm(32 << 20)
	if err != nil {
		return UploadedFile{}, fmt.Errorf("read multipart form: %w", err)
	}
	defer form.RemoveAll()

	// Coerced form values ride along on the request for the handler.
	if r.Form == nil {
		r.Form = make(map[string][]string, len(form.Value))
	}
	for name, values := range form.Value {
		r.Form[name] = values
	}

	var header *multipart.FileHeader
	for _, field := range fileFieldNames {
		if headers := form.File[field]; len(headers) > 0 {
			header = headers[0]
			break
		}
	}
	if header == nil {
		return UploadedFile{}, ErrNoFile
	}
	src, err := header.Open()
	if err != nil {
		return UploadedFile{}, fmt.Errorf("open uploaded file: %w", err)
	}
	defer src.Close()
	return stageFile(src, dir, header.Filename, header.Header.Get("Content-Type"))
}

func fileFromRawBody(r *http.Request, dir string) (UploadedFile, error) {
	if r.Body == nil || r.ContentLength == 0 {
		return UploadedFile{}, ErrNoFile
	}
	name := coerceField(r.URL.Query()["filename"])
	if name == "" {
		return UploadedFile{}, ErrNoFile
	}
	defer r.Body.Close()
	return stageFile(r.Body, dir, name, r.Header.Get("Content-Type"))
}

func openStaged(file UploadedFile) (*os.File, error) {
	f, err := os.Open(file.Path)
	if err != nil {
		return nil, fmt.Errorf("open staged file: %w", err)
	}
	return f, nil
}

func removeStaged(file UploadedFile) {
	if file.Path != "" {
		os.Remove(file.Path)
	}
}

func stageFile(src io.Reader, dir, originalName, mimeType string) (UploadedFile, error) {
	tmp, err := os.CreateTemp(dir, "pending-*"+filepath.Ext(originalName))
	if err != nil {
		return UploadedFile{}, fmt.Errorf("create temp file: %w", err)
	}
	written, err := io.Copy(tmp, src)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return UploadedFile{}, fmt.Errorf("stage upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return UploadedFile{}, err
	}
	return UploadedFile{
		Path:         tmp.Name(),
		OriginalName: originalName,
		MimeType:     mimeType,
		Size:         written,
	}, nil
}
