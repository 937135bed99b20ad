package middleware

import (
	"path"

	"github.com/gin-gonic/gin"
)

// UploadHeaders hardens responses for user uploaded files. The content type
// comes from typeOf, never from sniffing the body. Files of unknown type are
// served as opaque downloads.
func UploadHeaders(typeOf func(ext string) (string, bool)) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Content-Security-Policy", "default-src 'none'; sandbox")
		if ct, ok := typeOf(path.Ext(c.Request.URL.Path)); ok {
			h.Set("Content-Type", ct)
			h.Set("Content-Disposition", "inline")
		} else {
			h.Set("Content-Type", "application/octet-stream")
			h.Set("Content-Disposition", "attachment")
		}
		c.Next()
	}
}
