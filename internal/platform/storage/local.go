// Package storage persists uploaded page images on the local filesystem and
// serves them through signed, expiring URLs.
package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/duitscan/scan_ledger_app/internal/apperrors"
	portssvc "github.com/duitscan/scan_ledger_app/internal/core/ports/services"
)

// publicPathPrefix is the route the HTTP layer serves stored images on.
const publicPathPrefix = "/v1/images"

// Local stores images under a single directory. Keys are opaque file names;
// no caller-provided path components ever reach the filesystem.
type Local struct {
	dir    string
	secret []byte
}

// NewLocal creates a local storage service rooted at dir.
func NewLocal(dir, urlSecret string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating storage directory %s: %w", dir, err)
	}
	return &Local{
		dir:    dir,
		secret: []byte(urlSecret),
	}, nil
}

// Ensure Local implements the StorageSvc interface
var _ portssvc.StorageSvc = (*Local)(nil)

// Upload stores the image and returns its storage key.
func (l *Local) Upload(ctx context.Context, image []byte, mimeType string) (string, error) {
	key := uuid.NewString() + extensionFor(mimeType)
	if err := os.WriteFile(filepath.Join(l.dir, key), image, 0o640); err != nil {
		return "", fmt.Errorf("writing image %s: %w", key, err)
	}
	return key, nil
}

// Fetch reads a stored image back by key.
func (l *Local) Fetch(ctx context.Context, key string) ([]byte, string, error) {
	if !validKey(key) {
		return nil, "", apperrors.ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(l.dir, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", apperrors.ErrNotFound
		}
		return nil, "", fmt.Errorf("reading image %s: %w", key, err)
	}
	return data, mimeTypeFor(key), nil
}

// GetURL returns a signed, expiring URL path serving the stored image.
func (l *Local) GetURL(key string, ttl time.Duration) (string, error) {
	if !validKey(key) {
		return "", apperrors.ErrNotFound
	}
	expires := time.Now().Add(ttl).Unix()
	sig := l.sign(key, expires)
	return fmt.Sprintf("%s/%s?expires=%d&sig=%s", publicPathPrefix, key, expires, sig), nil
}

// VerifyURL checks a signed URL's key, expiry and signature.
func (l *Local) VerifyURL(key string, expires int64, signature string) error {
	if !validKey(key) {
		return apperrors.ErrNotFound
	}
	if time.Now().Unix() > expires {
		return fmt.Errorf("%w: url expired", apperrors.ErrValidation)
	}
	expected := l.sign(key, expires)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("%w: bad signature", apperrors.ErrValidation)
	}
	return nil
}

// Delete removes a stored image. Missing keys are not an error.
func (l *Local) Delete(ctx context.Context, key string) error {
	if !validKey(key) {
		return nil
	}
	err := os.Remove(filepath.Join(l.dir, key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting image %s: %w", key, err)
	}
	return nil
}

func (l *Local) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, l.secret)
	mac.Write([]byte(key))
	mac.Write([]byte{0})
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// validKey rejects anything that is not a flat generated file name.
func validKey(key string) bool {
	if key == "" || strings.ContainsAny(key, "/\\") || strings.Contains(key, "..") {
		return false
	}
	return true
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func mimeTypeFor(key string) string {
	switch filepath.Ext(key) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
