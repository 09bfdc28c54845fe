package staging

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staging-backend/config"
)

type fakeEditor struct {
	got  openai.ImageEditRequest
	resp openai.ImageResponse
	err  error
}

func (f *fakeEditor) CreateEditImage(_ context.Context, req openai.ImageEditRequest) (openai.ImageResponse, error) {
	f.got = req
	return f.resp, f.err
}

func newTestClient(api imageEditor) *Client {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &Client{api: api, model: "dall-e-2", size: "1024x1024", now: func() time.Time { return now }}
}

func TestNewClientRequiresKey(t *testing.T) {
	assert.Nil(t, NewClient(&config.Config{}))
	assert.NotNil(t, NewClient(&config.Config{OpenAIAPIKey: "sk-test", StagingModel: "dall-e-2"}))
}

func TestPrompt(t *testing.T) {
	assert.Contains(t, Prompt("", ""), "modern furniture")
	p := Prompt("scandinavian", " add plants ")
	assert.Contains(t, p, "scandinavian furniture")
	assert.Contains(t, p, "Keep walls")
	assert.True(t, strings.HasSuffix(p, " add plants"))
}

func TestStage(t *testing.T) {
	f := &fakeEditor{resp: openai.ImageResponse{Data: []openai.ImageResponseDataInner{{URL: "https://img.example/1.png"}}}}
	img, err := os.CreateTemp(t.TempDir(), "room-*.png")
	require.NoError(t, err)
	defer img.Close()

	res, err := newTestClient(f).Stage(context.Background(), img, "industrial", "")
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/1.png", res.URL)
	assert.Equal(t, "industrial", res.Style)
	assert.NotEmpty(t, res.ID)

	assert.Equal(t, img, f.got.Image)
	assert.Equal(t, "dall-e-2", f.got.Model)
	assert.Equal(t, 1, f.got.N)
	assert.Equal(t, openai.CreateImageResponseFormatURL, f.got.ResponseFormat)
}

func TestStageErrors(t *testing.T) {
	var nilClient *Client
	_, err := nilClient.Stage(context.Background(), nil, "", "")
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = newTestClient(&fakeEditor{}).Stage(context.Background(), nil, "", "")
	assert.ErrorIs(t, err, ErrNoImage)

	boom := errors.New("rate limited")
	_, err = newTestClient(&fakeEditor{err: boom}).Stage(context.Background(), nil, "", "")
	assert.ErrorIs(t, err, boom)
}
