package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"filedrop/internal/server/service"
	"filedrop/internal/server/storage"
)

// HeaderLinkPassword carries the link password on upload requests.
const HeaderLinkPassword = "X-Link-Password"

const (
	fileField     = "file"
	passwordField = "link_password"

	maxPasswordField = 1 << 10
)

// partSource feeds multipart file parts to the upload service one at a
// time. Nothing is read from the body until the first call that needs it.
type partSource struct {
	mr      *multipart.Reader
	pending *multipart.Part
	maxSize int64
	done    bool
}

func newPartSource(mr *multipart.Reader, contentLength int64) *partSource {
	s := &partSource{mr: mr}
	if contentLength > 0 {
		s.maxSize = contentLength
	}
	return s
}

// leadingPassword reads the form fields sent before the first file part
// and returns the link password among them. The file part is held back
// for Next without reading its content.
func (s *partSource) leadingPassword() (string, error) {
	var password string
	for {
		part, err := s.nextPart()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return password, nil
			}
			return "", err
		}
		if part.FormName() == fileField {
			s.pending = part
			return password, nil
		}
		if part.FormName() == passwordField {
			b, err := io.ReadAll(io.LimitReader(part, maxPasswordField))
			if err != nil {
				return "", bodyError(err)
			}
			password = string(b)
		}
		part.Close()
	}
}

// Next returns the next file part. Other fields are skipped.
func (s *partSource) Next() (*service.IncomingFile, error) {
	for {
		part := s.pending
		s.pending = nil
		if part == nil {
			var err error
			if part, err = s.nextPart(); err != nil {
				return nil, err
			}
		}
		if part.FormName() != fileField {
			part.Close()
			continue
		}

		return &service.IncomingFile{
			Name:    part.FileName(),
			MaxSize: s.maxSize,
			Open: func() (io.ReadCloser, error) {
				return io.NopCloser(limitedPart{part}), nil
			},
		}, nil
	}
}

func (s *partSource) nextPart() (*multipart.Part, error) {
	if s.done {
		return nil, io.EOF
	}
	part, err := s.mr.NextPart()
	if err != nil {
		s.done = true
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, bodyError(err)
	}
	return part, nil
}

// limitedPart reports a body cut off by the request size limit as a
// file that is too large.
type limitedPart struct {
	r io.Reader
}

func (p limitedPart) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	var tooLarge *http.MaxBytesError
	if err != nil && errors.As(err, &tooLarge) {
		err = fmt.Errorf("%w: request exceeds %d bytes", storage.ErrTooLarge, tooLarge.Limit)
	}
	return n, err
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return service.ErrFileTooLarge
	}
	return fmt.Errorf("%w: malformed multipart body: %v", service.ErrInvalidInput, err)
}
