package media

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrTooLarge        = errors.New("file too large")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrEmpty           = errors.New("empty file")
)

// extensions lists the media types accepted for upload and the file
// extension each is stored under.
var extensions = map[string]string{
	"image/jpeg":  ".jpg",
	"image/png":   ".png",
	"image/gif":   ".gif",
	"audio/webm":  ".webm",
	"video/webm":  ".webm",
	"audio/mpeg":  ".mp3",
	"audio/ogg":   ".ogg",
	"audio/wav":   ".wav",
	"audio/wave":  ".wav",
	"audio/x-wav": ".wav",
	"audio/mp4":   ".m4a",
	"audio/x-m4a": ".m4a",
	"audio/aac":   ".aac",
}

// servedTypes maps each stored extension back to the content type it is
// served with.
var servedTypes = map[string]string{
	".jpg":  "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webm": "audio/webm",
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
}

// ContentTypeFor returns the content type of a stored upload by extension.
func ContentTypeFor(ext string) (string, bool) {
	t, ok := servedTypes[strings.ToLower(ext)]
	return t, ok
}

type Kind int

const (
	KindAny Kind = iota
	KindImage
	KindAudio
)

// Result is what an upload returns to the client.
type Result struct {
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	ContentType  string `json:"contentType"`
}

// Uploader validates uploads, prepares images and writes everything to a Store.
type Uploader struct {
	store    Store
	maxBytes int64
	maxWidth int
	log      *zap.Logger
}

func NewUploader(store Store, maxBytes int64, maxWidth int, logger *zap.Logger) *Uploader {
	return &Uploader{store: store, maxBytes: maxBytes, maxWidth: maxWidth, log: logger.Named("media")}
}

func (u *Uploader) MaxBytes() int64 {
	return u.maxBytes
}

// Upload stores data for ownerID. kind narrows the accepted content types.
// The stored name ends in the extension of the content type, never one the
// client chose.
func (u *Uploader) Upload(ctx context.Context, ownerID, contentType string, data []byte, kind Kind) (*Result, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if u.maxBytes > 0 && int64(len(data)) > u.maxBytes {
		return nil, ErrTooLarge
	}

	contentType = normalizeType(contentType, data)
	ext, ok := extensions[contentType]
	isImage := strings.HasPrefix(contentType, "image/")
	switch {
	case !ok,
		kind == KindImage && !isImage,
		kind == KindAudio && isImage:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}

	base := ownerID + "/" + uuid.New().String()
	if !isImage {
		url, err := u.store.Put(ctx, base+ext, contentType, data)
		if err != nil {
			return nil, err
		}
		return &Result{URL: url, ContentType: contentType}, nil
	}

	body, storedType, thumb, err := processImage(data, contentType, u.maxWidth)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedType, err)
	}
	ext, ok = extensions[storedType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, storedType)
	}
	url, err := u.store.Put(ctx, base+ext, storedType, body)
	if err != nil {
		return nil, err
	}
	res := &Result{URL: url, ContentType: storedType}

	thumbURL, err := u.store.Put(ctx, base+"_thumb.jpg", "image/jpeg", thumb)
	if err != nil {
		u.log.Warn("failed to store thumbnail", zap.String("key", base), zap.Error(err))
	} else {
		res.ThumbnailURL = thumbURL
	}
	return res, nil
}

func normalizeType(contentType string, data []byte) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && mt != "application/octet-stream" {
		return mt
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mt
}
