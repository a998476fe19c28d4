package normalize

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"meshrelay/internal/domain"
)

// Form exposes raw submission fields by name.
type Form interface {
	// Value returns the field's text and whether it was sent at all.
	Value(name string) (string, bool)
	// File returns the uploaded file for name, or nil when none was sent.
	File(name string) (*domain.Blob, error)
}

// Values is an in-memory Form.
type Values struct {
	Fields map[string]string
	Files  map[string]*domain.Blob
}

func (v Values) Value(name string) (string, bool) {
	s, ok := v.Fields[name]
	return s, ok
}

func (v Values) File(name string) (*domain.Blob, error) {
	return v.Files[name], nil
}

// FromRequest parses a multipart or urlencoded body into a Form. Bodies
// larger than maxBytes are rejected.
func FromRequest(r *http.Request, maxBytes int64) (Form, error) {
	if maxBytes <= 0 {
		maxBytes = 32 << 20
	}
	r.Body = http.MaxBytesReader(nil, r.Body, maxBytes)
	var err error
	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "multipart/form-data" {
		err = r.ParseMultipartForm(maxBytes)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, domain.Validation(err, fmt.Sprintf("Request body exceeds %d bytes", maxBytes))
		}
		return nil, domain.Validation(err, "Invalid form data")
	}
	return requestForm{r: r}, nil
}

type requestForm struct {
	r *http.Request
}

func (f requestForm) Value(name string) (string, bool) {
	vals, ok := f.r.PostForm[name]
	if !ok || len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

func (f requestForm) File(name string) (*domain.Blob, error) {
	if f.r.MultipartForm == nil {
		return nil, nil
	}
	headers := f.r.MultipartForm.File[name]
	if len(headers) == 0 {
		return nil, nil
	}
	fh := headers[0]
	file, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("normalize: open upload: %w", err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("normalize: read upload: %w", err)
	}
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return &domain.Blob{Filename: fh.Filename, ContentType: contentType, Data: data}, nil
}
