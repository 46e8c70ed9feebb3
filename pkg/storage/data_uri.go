package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// MaxImageBytes caps the decoded size of an inline image.
const MaxImageBytes = 5 << 20

var (
	ErrNotDataURI       = errors.New("not a data uri")
	ErrUnsupportedImage = errors.New("unsupported image type")
	ErrImageTooLarge    = fmt.Errorf("image exceeds %d bytes", MaxImageBytes)
)

var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// IsDataURI reports whether s looks like an inline base64 payload.
func IsDataURI(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), "data:")
}

// DecodeImageDataURI decodes "data:image/png;base64,...." and checks that the
// payload really is an image of the declared kind.
func DecodeImageDataURI(s string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), "data:")
	if !ok {
		return nil, "", ErrNotDataURI
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", ErrNotDataURI
	}
	mediaType, encoding, _ := strings.Cut(meta, ";")
	if encoding != "base64" {
		return nil, "", fmt.Errorf("%w: only base64 payloads are accepted", ErrNotDataURI)
	}
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	if _, ok := imageExtensions[mediaType]; !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedImage, mediaType)
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > MaxImageBytes+3 {
		return nil, "", ErrImageTooLarge
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrNotDataURI, err)
	}
	if len(data) > MaxImageBytes {
		return nil, "", ErrImageTooLarge
	}
	if detected := http.DetectContentType(data); detected != mediaType {
		return nil, "", fmt.Errorf("%w: declared %s, got %s", ErrUnsupportedImage, mediaType, detected)
	}
	return data, mediaType, nil
}

// StoreDataURI uploads an inline image under prefix and returns its object key and public URL.
func StoreDataURI(ctx context.Context, store ObjectStore, prefix, dataURI string) (string, string, error) {
	data, contentType, err := DecodeImageDataURI(dataURI)
	if err != nil {
		return "", "", err
	}
	key := strings.Trim(prefix, "/") + "/" + uuid.NewString() + imageExtensions[contentType]
	if err := store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return "", "", err
	}
	return key, store.URL(key), nil
}
