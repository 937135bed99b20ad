package media

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.NRGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newLocalUploader(t *testing.T, maxBytes int64, maxWidth int) (*Uploader, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "http://localhost:8080/uploads/")
	require.NoError(t, err)
	return NewUploader(store, maxBytes, maxWidth, zap.NewNop()), dir
}

func localPath(dir, url string) string {
	return filepath.Join(dir, strings.TrimPrefix(url, "http://localhost:8080/uploads/"))
}

func TestUploadImageIsResizedWithThumbnail(t *testing.T) {
	u, dir := newLocalUploader(t, 1<<20, 400)

	res, err := u.Upload(context.Background(), "user-1", "image/png", pngBytes(t, 800, 200), KindImage)
	require.NoError(t, err)
	assert.Equal(t, "image/png", res.ContentType)
	assert.True(t, strings.HasPrefix(res.URL, "http://localhost:8080/uploads/user-1/"))
	require.NotEmpty(t, res.ThumbnailURL)

	stored, err := imaging.Open(localPath(dir, res.URL))
	require.NoError(t, err)
	assert.Equal(t, 400, stored.Bounds().Dx())
	assert.Equal(t, 100, stored.Bounds().Dy())

	thumb, err := imaging.Open(localPath(dir, res.ThumbnailURL))
	require.NoError(t, err)
	assert.Equal(t, thumbnailWidth, thumb.Bounds().Dx())
}

func TestUploadSmallImageKeepsWidth(t *testing.T) {
	u, dir := newLocalUploader(t, 1<<20, 400)

	res, err := u.Upload(context.Background(), "user-1", "", pngBytes(t, 100, 50), KindAny)
	require.NoError(t, err)

	stored, err := imaging.Open(localPath(dir, res.URL))
	require.NoError(t, err)
	assert.Equal(t, 100, stored.Bounds().Dx())
}

func TestUploadAudioStoredAsIs(t *testing.T) {
	u, dir := newLocalUploader(t, 1<<20, 400)
	body := []byte("not really opus but stored verbatim")

	res, err := u.Upload(context.Background(), "user-1", "audio/webm;codecs=opus", body, KindAudio)
	require.NoError(t, err)
	assert.Equal(t, "audio/webm", res.ContentType)
	assert.Empty(t, res.ThumbnailURL)
	assert.True(t, strings.HasSuffix(res.URL, ".webm"))

	got, err := os.ReadFile(localPath(dir, res.URL))
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestUploadNamesFilesByContentType(t *testing.T) {
	u, dir := newLocalUploader(t, 1<<20, 400)
	body := []byte("<html><script>alert(1)</script></html>")

	res, err := u.Upload(context.Background(), "user-1", "audio/mpeg", body, KindAudio)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(res.URL, ".mp3"), res.URL)
	assert.Equal(t, "audio/mpeg", res.ContentType)
	_, err = os.Stat(localPath(dir, res.URL))
	require.NoError(t, err)

	_, err = u.Upload(context.Background(), "user-1", "", body, KindAudio)
	assert.ErrorIs(t, err, ErrUnsupportedType, "sniffed html is not audio")
	_, err = u.Upload(context.Background(), "user-1", "audio/x-unknown", body, KindAudio)
	assert.ErrorIs(t, err, ErrUnsupportedType)
	_, err = u.Upload(context.Background(), "user-1", "image/svg+xml", body, KindAny)
	assert.ErrorIs(t, err, ErrUnsupportedType)

	ct, ok := ContentTypeFor(".MP3")
	assert.True(t, ok)
	assert.Equal(t, "audio/mpeg", ct)
	_, ok = ContentTypeFor(".html")
	assert.False(t, ok)
	for _, ext := range extensions {
		_, ok := ContentTypeFor(ext)
		assert.True(t, ok, "every stored extension is served with a type: %s", ext)
	}
}

func TestUploadRejections(t *testing.T) {
	u, _ := newLocalUploader(t, 64, 400)
	ctx := context.Background()

	_, err := u.Upload(ctx, "u", "text/plain", []byte("hello"), KindAny)
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = u.Upload(ctx, "u", "audio/webm", []byte("x"), KindImage)
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = u.Upload(ctx, "u", "audio/webm", make([]byte, 65), KindAudio)
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = u.Upload(ctx, "u", "audio/webm", nil, KindAudio)
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = u.Upload(ctx, "u", "image/png", []byte("definitely not a png"), KindImage)
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestLocalStoreKeepsKeysInsideDir(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "http://cdn.example/u")
	require.NoError(t, err)

	url, err := store.Put(context.Background(), "../../escape.txt", "text/plain", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "http://cdn.example/u/escape.txt", url)
	_, err = os.Stat(filepath.Join(dir, "escape.txt"))
	assert.NoError(t, err)
}

func TestPublicURL(t *testing.T) {
	assert.Equal(t,
		"https://media.s3.eu-west-1.amazonaws.com/user-1/a%20b.jpg",
		publicURL("media", "eu-west-1", "user-1/a b.jpg"))
}
