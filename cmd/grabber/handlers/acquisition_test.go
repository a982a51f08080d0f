package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/mediagrab/cmd/grabber/downloader"
	"github.com/lyzr/mediagrab/cmd/grabber/pipeline"
	"github.com/lyzr/mediagrab/cmd/grabber/resolver"
	"github.com/lyzr/mediagrab/cmd/grabber/security"
	"github.com/lyzr/mediagrab/common/clients"
	"github.com/lyzr/mediagrab/common/logger"
	"github.com/lyzr/mediagrab/common/middleware"
	"github.com/lyzr/mediagrab/common/models"
)

type fakeService struct {
	submitErr  error
	sessions   map[string]*models.SessionEntry
	gotURL     string
	gotAll     bool
	gotIndices []int
}

func (f *fakeService) Submit(ctx context.Context, requester, rawURL string) (*pipeline.SubmitResult, error) {
	f.gotURL = rawURL
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &pipeline.SubmitResult{Kind: pipeline.KindDelivered, Artifact: &models.Artifact{Filename: "clip.mp4"}}, nil
}

func (f *fakeService) Session(ctx context.Context, requester string) (*models.SessionEntry, error) {
	if s, ok := f.sessions[requester]; ok {
		return s, nil
	}
	return nil, pipeline.ErrNoSession
}

func (f *fakeService) EndSession(ctx context.Context, requester string) bool {
	_, ok := f.sessions[requester]
	delete(f.sessions, requester)
	return ok
}

func (f *fakeService) Select(ctx context.Context, requester string, indices []int) ([]string, error) {
	f.gotIndices = indices
	return []string{"https://site.test/v/1"}, nil
}

func (f *fakeService) StartDownload(ctx context.Context, requester string, all bool) (string, int, error) {
	f.gotAll = all
	if _, ok := f.sessions[requester]; !ok {
		return "", 0, pipeline.ErrNoSession
	}
	return "batch-1", 3, nil
}

func (f *fakeService) NextPage(ctx context.Context, requester string) (*models.SessionEntry, error) {
	return nil, pipeline.ErrNoNextPage
}

func (f *fakeService) ActiveBatch(requester string) (string, bool) {
	return "", false
}

func newTestServer(svc Service) *echo.Echo {
	e := echo.New()
	h := NewAcquisitionHandler(svc, logger.Discard())
	e.POST("/v1/requests", h.Submit, middleware.ExtractRequester())
	g := e.Group("/v1/sessions/:requester", middleware.ExtractRequester())
	g.GET("", h.GetSession)
	g.DELETE("", h.DeleteSession)
	g.POST("/selection", h.Select)
	g.POST("/download", h.Download)
	g.POST("/next", h.NextPage)
	return e
}

func do(e *echo.Echo, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestSubmit(t *testing.T) {
	svc := &fakeService{}
	e := newTestServer(svc)

	rec := do(e, http.MethodPost, "/v1/requests", `{"url":" https://site.test/watch "}`, map[string]string{middleware.RequesterHeader: "r1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://site.test/watch", svc.gotURL)

	var res pipeline.SubmitResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, pipeline.KindDelivered, res.Kind)
}

func TestSubmit_BadRequests(t *testing.T) {
	e := newTestServer(&fakeService{})

	rec := do(e, http.MethodPost, "/v1/requests", `{"url":"https://site.test/watch"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "requester header is required")

	rec = do(e, http.MethodPost, "/v1/requests", `{"url":""}`, map[string]string{middleware.RequesterHeader: "r1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmit_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"blocked", fmt.Errorf("%w: private address", security.ErrBlocked), http.StatusForbidden, "url_blocked"},
		{"no media", resolver.ErrNoMedia, http.StatusUnprocessableEntity, "no_media"},
		{"too large", fmt.Errorf("wrap: %w", downloader.ErrTooLarge), http.StatusUnprocessableEntity, "unacceptable_media"},
		{"upstream", &clients.FetchError{URL: "https://site.test", Message: "HTTP 503", StatusCode: 503}, http.StatusBadGateway, "upstream_failed"},
		{"other", fmt.Errorf("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestServer(&fakeService{submitErr: tt.err})
			rec := do(e, http.MethodPost, "/v1/requests", `{"url":"https://site.test/watch"}`, map[string]string{middleware.RequesterHeader: "r1"})
			assert.Equal(t, tt.status, rec.Code)

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Error)
		})
	}
}

func TestSessionRoutes(t *testing.T) {
	svc := &fakeService{sessions: map[string]*models.SessionEntry{
		"r1": {RequesterID: "r1", Links: []string{"https://site.test/v/1", "https://site.test/v/2"}},
	}}
	e := newTestServer(svc)

	rec := do(e, http.MethodGet, "/v1/sessions/r1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://site.test/v/2")

	rec = do(e, http.MethodGet, "/v1/sessions/r2", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(e, http.MethodPost, "/v1/sessions/r1/selection", `{"indices":[1]}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{1}, svc.gotIndices)

	rec = do(e, http.MethodPost, "/v1/sessions/r1/selection", `{"indices":[]}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodPost, "/v1/sessions/r1/download", `{"all":true}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, svc.gotAll)
	assert.Contains(t, rec.Body.String(), `"batch_id":"batch-1"`)
	assert.Contains(t, rec.Body.String(), "grab:progress:r1")

	rec = do(e, http.MethodPost, "/v1/sessions/r1/download", "", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.False(t, svc.gotAll)

	rec = do(e, http.MethodPost, "/v1/sessions/r1/next", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(e, http.MethodDelete, "/v1/sessions/r1", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(e, http.MethodDelete, "/v1/sessions/r1", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
