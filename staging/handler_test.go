package staging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staging-backend/accounts"
	"staging-backend/auth"
	"staging-backend/quota"
)

type fakeStager struct {
	calls int
	style string
	err   error
}

func (f *fakeStager) Stage(_ context.Context, image *os.File, style, extra string) (*Result, error) {
	f.calls++
	f.style = style
	if f.err != nil {
		return nil, f.err
	}
	return &Result{ID: "job-1", URL: "https://img.example/1.png", Style: style}, nil
}

type memLedger struct{ acct *accounts.Account }

func (m *memLedger) Consume(_ context.Context, _ string, n int) (*accounts.Account, error) {
	m.acct.PhotosUsed += n
	return m.acct, nil
}

func (m *memLedger) Apply(_ context.Context, _, _ string, fn func(*accounts.Account) error) (*accounts.Account, error) {
	return m.acct, fn(m.acct)
}

func setupRouter(t *testing.T, s Stager, l quota.Ledger) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	signer := auth.NewSigner("test-secret")
	token, _, err := signer.Sign("u1", "u1@example.com", time.Hour)
	require.NoError(t, err)
	r := gin.New()
	NewHandler(s).RegisterRoutes(r, auth.RequireUser(signer), quota.NewValidator(l, nil))
	return r, token
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

func upload(t *testing.T, token string, content []byte, style string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if content != nil {
		fw, err := mw.CreateFormFile("image", "room.png")
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.WriteField("style", style))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/staging", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestStageHandler(t *testing.T) {
	s := &fakeStager{}
	l := &memLedger{acct: &accounts.Account{UserID: "u1", PhotosLimit: 3}}
	r, token := setupRouter(t, s, l)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, upload(t, token, pngBytes(t), "boho"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Data      Result `json:"data"`
		Remaining int    `json:"remaining"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "job-1", resp.Data.ID)
	assert.Equal(t, 2, resp.Remaining)
	assert.Equal(t, "boho", s.style)
	assert.Equal(t, 1, l.acct.PhotosUsed)
}

func TestStageHandlerRefundsOnBadInput(t *testing.T) {
	cases := map[string][]byte{
		"missing_file": nil,
		"not_png":      []byte("GIF89a not really a png"),
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			s := &fakeStager{}
			l := &memLedger{acct: &accounts.Account{UserID: "u1", PhotosLimit: 3}}
			r, token := setupRouter(t, s, l)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, upload(t, token, content, ""))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, 0, s.calls)
			assert.Equal(t, 0, l.acct.PhotosUsed)
		})
	}
}

func TestStageHandlerUpstreamFailure(t *testing.T) {
	s := &fakeStager{err: errors.New("openai down")}
	l := &memLedger{acct: &accounts.Account{UserID: "u1", PhotosLimit: 3}}
	r, token := setupRouter(t, s, l)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, upload(t, token, pngBytes(t), ""))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, 0, l.acct.PhotosUsed)
}

func TestStageHandlerDisabled(t *testing.T) {
	var c *Client
	l := &memLedger{acct: &accounts.Account{UserID: "u1", PhotosLimit: 3}}
	r, token := setupRouter(t, c, l)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, upload(t, token, pngBytes(t), ""))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, 0, l.acct.PhotosUsed)
}
