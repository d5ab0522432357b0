package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/petems/holdtosend/internal/app"
	"github.com/petems/holdtosend/internal/format"
	"github.com/petems/holdtosend/internal/transmit"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockController struct {
	mu       sync.Mutex
	snap     app.Snapshot
	presses  int
	releases int
	resets   int
	last     *transmit.Result
	events   chan app.Event
}

func newMockController() *mockController {
	return &mockController{
		snap:   app.Snapshot{Status: app.StatusIdle, CanRecord: true},
		events: make(chan app.Event, 4),
	}
}

func (m *mockController) Snapshot() app.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

func (m *mockController) Press() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presses++
	m.snap.Status = app.StatusRecording
	m.snap.IsActive = true
}

func (m *mockController) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases++
	m.snap.Status = app.StatusTransmitting
}

func (m *mockController) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
	m.snap = app.Snapshot{Status: app.StatusIdle, CanRecord: true}
}

func (m *mockController) LastResult() (transmit.Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return transmit.Result{}, false
	}
	return *m.last, true
}

func (m *mockController) counts() (presses, releases, resets int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.presses, m.releases, m.resets
}

func (m *mockController) Subscribe() (<-chan app.Event, func()) {
	return m.events, func() {}
}

type mockFormats struct{}

func (mockFormats) SupportMatrix() []format.Support {
	return []format.Support{{Format: format.WAV, Supported: true, Resolved: "audio/wav", Bitrate: 1411200}}
}

func (mockFormats) RecommendedFormat() format.AudioFormat { return format.WAV }

func newTestServer(t *testing.T) (*httptest.Server, *mockController) {
	t.Helper()
	ctrl := newMockController()
	s := New(Config{Controller: ctrl, Formats: mockFormats{}, Logger: zerolog.Nop()})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, ctrl
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var snap app.Snapshot
	decode(t, resp, &snap)
	assert.Equal(t, app.StatusIdle, snap.Status)
	assert.True(t, snap.CanRecord)
}

func TestPressReleaseReset(t *testing.T) {
	srv, ctrl := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/press", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	var snap app.Snapshot
	decode(t, resp, &snap)
	assert.Equal(t, app.StatusRecording, snap.Status)

	resp, err = http.Post(srv.URL+"/api/release", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Post(srv.URL+"/api/reset", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	presses, releases, resets := ctrl.counts()
	assert.Equal(t, 1, presses)
	assert.Equal(t, 1, releases)
	assert.Equal(t, 1, resets)
}

func TestPressRequiresPost(t *testing.T) {
	srv, ctrl := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/press")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	presses, _, _ := ctrl.counts()
	assert.Zero(t, presses)
}

func TestControlRejectsCrossSiteRequests(t *testing.T) {
	srv, ctrl := newTestServer(t)

	post := func(path string, header http.Header) int {
		req, err := http.NewRequest(http.MethodPost, srv.URL+path, strings.NewReader(""))
		require.NoError(t, err)
		req.Header = header
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	for _, path := range []string{"/api/press", "/api/release", "/api/reset"} {
		assert.Equal(t, http.StatusForbidden, post(path, http.Header{"Origin": {"https://evil.example"}}), path)
		assert.Equal(t, http.StatusForbidden, post(path, http.Header{"Origin": {"null"}}), path)
		assert.Equal(t, http.StatusForbidden, post(path, http.Header{"Sec-Fetch-Site": {"cross-site"}}), path)
	}
	presses, releases, resets := ctrl.counts()
	assert.Zero(t, presses+releases+resets)

	assert.Equal(t, http.StatusAccepted, post("/api/press", http.Header{"Origin": {srv.URL}}))
	assert.Equal(t, http.StatusAccepted, post("/api/release", http.Header{"Sec-Fetch-Site": {"same-origin"}}))
	presses, releases, _ = ctrl.counts()
	assert.Equal(t, 1, presses)
	assert.Equal(t, 1, releases)
}

func TestFormats(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/formats")
	require.NoError(t, err)

	var body struct {
		Recommended string           `json:"recommended"`
		Formats     []format.Support `json:"formats"`
	}
	decode(t, resp, &body)
	assert.Equal(t, "wav", body.Recommended)
	require.Len(t, body.Formats, 1)
	assert.Equal(t, "audio/wav", body.Formats[0].Resolved)
}

func TestLastResponse(t *testing.T) {
	srv, ctrl := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/last-response")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	ctrl.mu.Lock()
	ctrl.last = &transmit.Result{Success: true, HTTPStatus: 201, Message: "stored"}
	ctrl.mu.Unlock()
	resp, err = http.Get(srv.URL + "/api/last-response")
	require.NoError(t, err)
	var res transmit.Result
	decode(t, resp, &res)
	assert.Equal(t, 201, res.HTTPStatus)
	assert.Equal(t, "stored", res.Message)
}

func TestEventsStream(t *testing.T) {
	srv, ctrl := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var hello app.Event
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, app.EventStatusChanged, hello.Type)
	assert.Equal(t, app.StatusIdle, hello.Snapshot.Status)

	ctrl.events <- app.Event{
		Type:     app.EventTransmissionComplete,
		Snapshot: app.Snapshot{Status: app.StatusSuccess},
		Result:   &transmit.Result{Success: true, HTTPStatus: 200},
	}
	var ev app.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, app.EventTransmissionComplete, ev.Type)
	assert.Equal(t, app.StatusSuccess, ev.Snapshot.Status)
	require.NotNil(t, ev.Result)
	assert.Equal(t, 200, ev.Result.HTTPStatus)

	close(ctrl.events)
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestEventsRejectsCrossOrigin(t *testing.T) {
	srv, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
