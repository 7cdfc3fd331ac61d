// Package formdata decodes multipart/form-data request bodies that have
// already been read into memory.
//
// Unlike mime/multipart, a part that cannot be decoded is skipped instead of
// failing the whole body.
package formdata

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/textproto"
	"strings"
)

var (
	// ErrNotMultipart is returned when the content type is not
	// multipart/form-data with a boundary.
	ErrNotMultipart = errors.New("content type is not multipart/form-data")
	// ErrNoParts is returned when no part of the body could be decoded.
	ErrNoParts = errors.New("multipart body contains no valid parts")
)

var (
	crlf        = []byte("\r\n")
	headerBreak = []byte("\r\n\r\n")
)

// File is an uploaded file field.
type File struct {
	Filename string
	Header   textproto.MIMEHeader
	Content  []byte
}

// Form is the decoded body.
type Form struct {
	Values map[string]string
	Files  map[string]*File
}

// File returns the first file field present under any of names.
func (f *Form) File(names ...string) (*File, bool) {
	for _, n := range names {
		if file, ok := f.Files[n]; ok {
			return file, true
		}
	}
	return nil, false
}

// Len returns the number of decoded fields.
func (f *Form) Len() int {
	return len(f.Values) + len(f.Files)
}

// Boundary extracts the boundary token from a multipart/form-data content type.
func Boundary(contentType string) (string, error) {
	if contentType == "" {
		return "", ErrNotMultipart
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotMultipart, err)
	}
	if mediaType != "multipart/form-data" {
		return "", ErrNotMultipart
	}
	boundary := params["boundary"]
	if boundary == "" {
		return "", fmt.Errorf("%w: missing boundary", ErrNotMultipart)
	}
	return boundary, nil
}

// Parse decodes body according to contentType.
func Parse(contentType string, body []byte) (*Form, error) {
	boundary, err := Boundary(contentType)
	if err != nil {
		return nil, err
	}

	form := &Form{
		Values: make(map[string]string),
		Files:  make(map[string]*File),
	}

	delimiter := []byte("--" + boundary)
	chunks := bytes.Split(body, delimiter)
	if len(chunks) < 2 {
		return nil, ErrNoParts
	}

	// chunks[0] is the preamble.
	for i, chunk := range chunks[1:] {
		if bytes.HasPrefix(chunk, []byte("--")) {
			break // closing delimiter, the rest is epilogue
		}
		if err := form.addPart(chunk); err != nil {
			slog.Warn("Skipping malformed multipart part", "index", i, "error", err)
		}
	}

	if form.Len() == 0 {
		return nil, ErrNoParts
	}
	return form, nil
}

func (f *Form) addPart(chunk []byte) error {
	chunk = bytes.TrimPrefix(chunk, crlf)

	sep := bytes.Index(chunk, headerBreak)
	if sep < 0 {
		return errors.New("missing header separator")
	}
	rawHeader := chunk[:sep+len(headerBreak)]
	content := bytes.TrimSuffix(chunk[sep+len(headerBreak):], crlf)

	header, err := textproto.NewReader(bufio.NewReader(bytes.NewReader(rawHeader))).ReadMIMEHeader()
	if err != nil {
		return fmt.Errorf("bad part headers: %w", err)
	}

	disposition := header.Get("Content-Disposition")
	if disposition == "" {
		return errors.New("missing Content-Disposition")
	}
	kind, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return fmt.Errorf("bad Content-Disposition: %w", err)
	}
	if kind != "form-data" {
		return fmt.Errorf("unexpected disposition %q", kind)
	}
	name := params["name"]
	if name == "" {
		return errors.New("missing field name")
	}

	filename, isFile := params["filename"]
	if !isFile {
		f.Values[name] = string(content)
		return nil
	}

	f.Files[name] = &File{
		Filename: baseName(filename),
		Header:   header,
		Content:  content,
	}
	return nil
}

// baseName strips any client-side directory from a filename. Browsers on
// Windows have been known to send full paths.
func baseName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		return name[i+1:]
	}
	return name
}
