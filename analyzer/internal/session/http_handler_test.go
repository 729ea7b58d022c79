package session

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Krimson/msna-analyzer/analyzer/internal/annotate"
	"github.com/Krimson/msna-analyzer/analyzer/internal/export"
)

func newTestRouter(t *testing.T) (*mux.Router, *fixture) {
	t.Helper()
	f := newFixture(t, nil)
	log, _ := test.NewNullLogger()

	router := mux.NewRouter()
	NewHTTPHandler(f.manager, 64<<20, log).RegisterRoutes(router)
	return router, f
}

func upload(t *testing.T, router http.Handler, name string, data []byte, fs string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	if fs != "" {
		require.NoError(t, mw.WriteField("fs", fs))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeSession(t *testing.T, rr *httptest.ResponseRecorder) SessionResponse {
	t.Helper()
	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotNil(t, resp.Session)
	return resp
}

func TestHTTP_AnnotationFlow(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := upload(t, router, "rec.txt", syntheticFile(t), "250")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	id := decodeSession(t, rr).Session.ID
	base := "/api/sessions/" + id

	rr = do(router, http.MethodPut, base+"/config", `{"baseline": 50, "phase_mode": "rectified"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 50.0, decodeSession(t, rr).Session.Config.Baseline)

	rr = do(router, http.MethodPost, base+"/lock", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, annotate.StateReady, decodeSession(t, rr).Session.State)

	rr = do(router, http.MethodPost, base+"/step", `{"decision": "no_burst"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Nil(t, decodeSession(t, rr).Record)

	rr = do(router, http.MethodGet, base+"/suggestion", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(router, http.MethodPost, base+"/step", `{"decision": "burst"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decodeSession(t, rr)
	require.NotNil(t, resp.Record)
	assert.Equal(t, annotate.FlagBurst, resp.Record.Burst)

	rr = do(router, http.MethodGet, base+"/results", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var results ResultsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &results))
	assert.Equal(t, 1, results.Count)

	rr = do(router, http.MethodGet, base+"/results?format=tsv", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/tab-separated-values", rr.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(export.Columns, "\t"), lines[0])
	assert.True(t, strings.HasSuffix(lines[1], "\t1"))

	rr = do(router, http.MethodPost, base+"/save", `{"notes": "manual"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, SessionStatusSaved, decodeSession(t, rr).Session.Status)

	rr = do(router, http.MethodDelete, base, "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(router, http.MethodGet, base, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHTTP_AutomaticWalk(t *testing.T) {
	router, f := newTestRouter(t)

	rr := upload(t, router, "rec.txt", syntheticFile(t), "")
	require.Equal(t, http.StatusCreated, rr.Code)
	id := decodeSession(t, rr).Session.ID
	base := "/api/sessions/" + id

	require.Equal(t, http.StatusOK, do(router, http.MethodPost, base+"/lock", "").Code)

	rr = do(router, http.MethodPost, base+"/auto", "")
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	s, err := f.manager.WaitAutomatic(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, annotate.StateFinished, s.State)

	// из Finished шагать нельзя
	rr = do(router, http.MethodPost, base+"/step", `{"decision": "burst"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
	rr = do(router, http.MethodPost, base+"/back", "")
	assert.Equal(t, http.StatusConflict, rr.Code)
	rr = do(router, http.MethodDelete, base+"/auto", "")
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(router, http.MethodPost, base+"/restart", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, annotate.StateReady, decodeSession(t, rr).Session.State)
}

func TestHTTP_ErrorMapping(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := upload(t, router, "bad.txt", []byte("1 2\n"), "250")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = upload(t, router, "flat.txt", flatFile(), "250")
	require.Equal(t, http.StatusCreated, rr.Code)
	base := "/api/sessions/" + decodeSession(t, rr).Session.ID

	rr = do(router, http.MethodPut, base+"/config", `{"msna_calibration": 0}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(router, http.MethodPost, base+"/step", `{"decision": "maybe"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(router, http.MethodPost, base+"/step", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(router, http.MethodPost, base+"/step", `{"decision": "burst"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(router, http.MethodPost, base+"/lock", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(router, http.MethodPost, "/api/sessions/missing/lock", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = upload(t, router, "short.txt", []byte(strings.Repeat("0 80 1\n", 10)), "250")
	require.Equal(t, http.StatusCreated, rr.Code)
	short := "/api/sessions/" + decodeSession(t, rr).Session.ID
	rr = do(router, http.MethodPost, short+"/lock", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(router, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Len(t, list["active"], 2)
}
