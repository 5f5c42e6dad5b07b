package blobstore

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
)

// MaxIDImageSize is the largest accepted ID image (5 MB).
const MaxIDImageSize = 5 * 1024 * 1024

// idImageTypes maps accepted content types to file extensions.
var idImageTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
}

// Image is a validated upload held in memory so it can be both stored and
// sent for OCR.
type Image struct {
	Data        []byte
	ContentType string
}

func (i *Image) Reader() io.Reader {
	return bytes.NewReader(i.Data)
}

// Extension returns the file extension for the image type.
func (i *Image) Extension() string {
	return idImageTypes[i.ContentType]
}

// ReadIDImage reads at most MaxIDImageSize bytes from r and checks that the
// sniffed content type is JPEG or PNG. The declared type is ignored.
func ReadIDImage(r io.Reader) (*Image, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxIDImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if len(data) > MaxIDImageSize {
		return nil, ErrFileTooLarge
	}

	contentType := http.DetectContentType(data)
	if _, ok := idImageTypes[contentType]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidContentType, contentType)
	}
	return &Image{Data: data, ContentType: contentType}, nil
}

// IDImageKey builds id-images/<student-id>/<uuid>.<ext>.
func IDImageKey(studentID string, img *Image) string {
	return fmt.Sprintf("id-images/%s/%s.%s", studentID, uuid.New().String(), img.Extension())
}
