package api

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
	"strings"
	"sync"
	"testing"
	"time"

	adhoc "QrScanServer/Adhoc"
	iface "QrScanServer/interface"
	"QrScanServer/scheduler"
	"QrScanServer/sink"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeScheduler struct {
	mu     sync.Mutex
	frames []iface.Frame
}

func (f *fakeScheduler) Submit(frame iface.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
}

func (f *fakeScheduler) Stats() scheduler.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return scheduler.Stats{Submitted: uint64(len(f.frames)), State: scheduler.Idle.String()}
}

func (f *fakeScheduler) submitted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

type fakeDetector struct {
	codes []iface.Code
	err   error
	hang  bool
}

func (d *fakeDetector) Detect(_ context.Context, _ iface.ImageData, done func([]iface.Code, error)) {
	if d.hang {
		return
	}
	go done(d.codes, d.err)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func do(r http.Handler, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestPingAndStats(t *testing.T) {
	sched := &fakeScheduler{}
	r := NewServer(sched, nil, nil).Router()

	rec := do(r, http.MethodGet, "/api/ping", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"pong"}`, rec.Body.String())

	rec = do(r, http.MethodGet, "/api/scheduler/stats", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data scheduler.Stats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "idle", body.Data.State)
}

func TestFrameUpload(t *testing.T) {
	sched := &fakeScheduler{}
	r := NewServer(sched, nil, nil).Router()

	t.Run("raw body", func(t *testing.T) {
		rec := do(r, http.MethodPost, "/api/frames", pngBytes(t, 12, 9), "image/png")
		require.Equal(t, http.StatusAccepted, rec.Code)
		var body struct {
			Data struct {
				ID     string `json:"id"`
				Format string `json:"format"`
				Width  int    `json:"width"`
				Height int    `json:"height"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.NotEmpty(t, body.Data.ID)
		assert.Equal(t, "png", body.Data.Format)
		assert.Equal(t, 12, body.Data.Width)
		assert.Equal(t, 9, body.Data.Height)
	})

	t.Run("multipart", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("file", "frame.png")
		require.NoError(t, err)
		_, err = part.Write(pngBytes(t, 4, 4))
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		rec := do(r, http.MethodPost, "/api/frames", buf.Bytes(), mw.FormDataContentType())
		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("not an image", func(t *testing.T) {
		rec := do(r, http.MethodPost, "/api/frames", []byte("hello"), "image/png")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("too large", func(t *testing.T) {
		small := NewServer(sched, nil, nil, WithMaxUpload(16)).Router()
		rec := do(small, http.MethodPost, "/api/frames", pngBytes(t, 64, 64), "image/png")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	assert.Equal(t, 2, sched.submitted())
}

func TestRecentCodes(t *testing.T) {
	recent := sink.NewRecent(2)
	recent.OnCodeRead("a")
	recent.OnCodeRead("b")
	recent.OnCodeRead("c")
	r := NewServer(&fakeScheduler{}, recent, nil).Router()

	rec := do(r, http.MethodGet, "/api/codes", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data []sink.Event `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 2)
	assert.Equal(t, "b", body.Data[0].Payload)
	assert.Equal(t, "c", body.Data[1].Payload)
}

func TestDetectEndpoint(t *testing.T) {
	img := iface.ImageData{Data: make([]byte, 4*4*3), Width: 4, Height: 4, Channels: 3}
	found := []iface.Code{{Raw: "hello", Format: "QR_CODE", Bounds: image.Rect(1, 1, 3, 3)}}

	t.Run("round trip through client", func(t *testing.T) {
		srv := httptest.NewServer(NewServer(&fakeScheduler{}, nil, nil, WithDetector("fake", &fakeDetector{codes: found})).Router())
		defer srv.Close()

		got, err := adhoc.NewClient(srv.URL, time.Second).DetectSync(context.Background(), img)
		require.NoError(t, err)
		assert.Equal(t, found, got)
	})

	t.Run("backend failure", func(t *testing.T) {
		srv := httptest.NewServer(NewServer(&fakeScheduler{}, nil, nil, WithDetector("fake", &fakeDetector{err: errors.New("boom")})).Router())
		defer srv.Close()

		_, err := adhoc.NewClient(srv.URL, time.Second).DetectSync(context.Background(), img)
		var detErr *iface.DetectionError
		require.ErrorAs(t, err, &detErr)
		assert.Equal(t, "fake", detErr.Backend)
		assert.Contains(t, err.Error(), "boom")
	})

	t.Run("bad geometry", func(t *testing.T) {
		r := NewServer(&fakeScheduler{}, nil, nil, WithDetector("fake", &fakeDetector{})).Router()
		req := adhoc.NewDetectRequest(iface.ImageData{Data: make([]byte, 5), Width: 4, Height: 4, Channels: 3})
		body, err := json.Marshal(req)
		require.NoError(t, err)
		rec := do(r, http.MethodPost, adhoc.DetectPath, body, "application/json")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("timeout", func(t *testing.T) {
		r := NewServer(&fakeScheduler{}, nil, nil, WithDetector("fake", &fakeDetector{hang: true}), WithTimeout(20*time.Millisecond)).Router()
		body, err := json.Marshal(adhoc.NewDetectRequest(img))
		require.NoError(t, err)
		rec := do(r, http.MethodPost, adhoc.DetectPath, body, "application/json")
		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	})

	t.Run("no detector", func(t *testing.T) {
		r := NewServer(&fakeScheduler{}, nil, nil).Router()
		rec := do(r, http.MethodPost, adhoc.DetectPath, []byte(`{}`), "application/json")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestHubStreamsCodes(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(NewServer(&fakeScheduler{}, nil, hub).Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/codes"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	hub.OnCodeRead("https://example.com/ticket/42")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev sink.Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, "https://example.com/ticket/42", ev.Payload)
	assert.NotEmpty(t, ev.ID)

	hub.Close()
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	assert.Equal(t, 0, hub.Clients())
}

func TestHubDropsForSlowClients(t *testing.T) {
	hub := NewHub()
	c := &client{id: "slow", send: make(chan []byte, 1)}
	hub.clients[c.id] = c

	hub.OnCodeRead("a")
	hub.OnCodeRead("b")
	hub.OnCodeRead("c")

	assert.Equal(t, uint64(2), hub.Dropped())
	hub.Close()
	_, ok := <-c.send
	assert.True(t, ok, "buffered event still readable")
	_, ok = <-c.send
	assert.False(t, ok)
}
