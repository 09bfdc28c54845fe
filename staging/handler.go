package staging

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"staging-backend/logging"
	"staging-backend/quota"
)

// MaxImageBytes is the edit endpoint's upload limit.
const MaxImageBytes = 4 << 20

// Stager renders a staged photo.
type Stager interface {
	Stage(ctx context.Context, image *os.File, style, extra string) (*Result, error)
}

type Handler struct {
	stager Stager
}

// NewHandler accepts a nil stager; requests then answer 503.
func NewHandler(s Stager) *Handler {
	if c, ok := s.(*Client); ok && c == nil {
		s = nil
	}
	return &Handler{stager: s}
}

// RegisterRoutes mounts POST /staging behind the session and quota guards.
func (h *Handler) RegisterRoutes(r gin.IRouter, requireUser gin.HandlerFunc, q *quota.Validator) {
	r.POST("/staging", requireUser, q.Middleware("staging"), h.stage)
}

func (h *Handler) stage(c *gin.Context) {
	if h.stager == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "staging disabled"})
		return
	}
	log := logging.FromContext(c.Request.Context())

	fh, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return
	}
	if fh.Size > MaxImageBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image must be at most 4 MB"})
		return
	}
	src, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read image"})
		return
	}
	defer src.Close()

	head := make([]byte, 512)
	n, _ := io.ReadFull(src, head)
	if http.DetectContentType(head[:n]) != "image/png" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image must be a PNG"})
		return
	}

	// the edit API wants a named file
	tmp, err := os.CreateTemp("", "staging-*.png")
	if err != nil {
		log.Error().Err(err).Msg("temp file")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store image"})
		return
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()
	if _, err := tmp.Write(head[:n]); err == nil {
		_, err = io.Copy(tmp, src)
	}
	if err != nil {
		log.Error().Err(err).Msg("temp file write")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store image"})
		return
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store image"})
		return
	}

	res, err := h.stager.Stage(c.Request.Context(), tmp, c.PostForm("style"), c.PostForm("prompt"))
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, ErrNotConfigured) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": "staging failed"})
		return
	}
	remaining, _ := quota.Remaining(c)
	c.JSON(http.StatusOK, gin.H{"data": res, "remaining": remaining})
}
