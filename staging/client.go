package staging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"staging-backend/config"
	"staging-backend/logging"
)

var (
	ErrNotConfigured = errors.New("staging is not configured")
	ErrNoImage       = errors.New("image generation returned no image")
)

// imageEditor is the slice of the OpenAI client used here.
type imageEditor interface {
	CreateEditImage(ctx context.Context, req openai.ImageEditRequest) (openai.ImageResponse, error)
}

type Client struct {
	api   imageEditor
	model string
	size  string
	now   func() time.Time
}

// NewClient returns nil when no OpenAI key is configured.
func NewClient(cfg *config.Config) *Client {
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		return nil
	}
	return &Client{
		api:   openai.NewClient(cfg.OpenAIAPIKey),
		model: cfg.StagingModel,
		size:  cfg.StagingSize,
		now:   time.Now,
	}
}

// Result is one staged photo.
type Result struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Style     string    `json:"style"`
	CreatedAt time.Time `json:"created_at"`
}

// Prompt builds the edit instruction for a furniture style.
func Prompt(style, extra string) string {
	style = strings.TrimSpace(style)
	if style == "" {
		style = "modern"
	}
	p := fmt.Sprintf("Virtually stage this empty room with %s furniture and decor. Keep walls, windows, floors and lighting unchanged.", style)
	if extra = strings.TrimSpace(extra); extra != "" {
		p += " " + extra
	}
	return p
}

// Stage sends image to the edit endpoint and returns the staged photo URL.
func (c *Client) Stage(ctx context.Context, image *os.File, style, extra string) (*Result, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}
	id := uuid.NewString()
	log := logging.FromContext(ctx).With().Str("job_id", id).Str("style", style).Logger()

	start := c.now()
	resp, err := c.api.CreateEditImage(ctx, openai.ImageEditRequest{
		Image:          image,
		Prompt:         Prompt(style, extra),
		Model:          c.model,
		N:              1,
		Size:           c.size,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		log.Error().Err(err).Msg("image edit failed")
		return nil, fmt.Errorf("image edit: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return nil, ErrNoImage
	}
	log.Info().Dur("took", c.now().Sub(start)).Msg("photo staged")
	return &Result{ID: id, URL: resp.Data[0].URL, Style: style, CreatedAt: c.now().UTC()}, nil
}
