package frames

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDetector struct {
	detections []Detection
	err        error
}

func (s *stubDetector) Detect(context.Context, []byte, string) ([]Detection, error) {
	return s.detections, s.err
}

// recordingAlerts counts sends and can be told to fail.
type recordingAlerts struct {
	mu       sync.Mutex
	payloads []AlertPayload
	err      error
}

func (r *recordingAlerts) Send(_ context.Context, payload AlertPayload, _ []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.payloads = append(r.payloads, payload)
	return nil
}

func (r *recordingAlerts) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

// slowAlerts counts sends that take a while to complete.
type slowAlerts struct {
	delay time.Duration
	count atomic.Int32
}

func (s *slowAlerts) Send(context.Context, AlertPayload, []byte) error {
	time.Sleep(s.delay)
	s.count.Add(1)
	return nil
}

// countingDetector records how many frames it saw and the last size.
type countingDetector struct {
	mu       sync.Mutex
	n        int
	lastSize int
}

func (d *countingDetector) Detect(_ context.Context, frame []byte, _ string) ([]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.n++
	d.lastSize = len(frame)
	return nil, nil
}

func (d *countingDetector) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.n
}

// testServer wires a Server around stubs with a controllable clock.
type testServer struct {
	detector *stubDetector
	alerts   *recordingAlerts
	now      time.Time
	router   *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{
		detector: &stubDetector{},
		alerts:   &recordingAlerts{},
		now:      time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC),
	}
	svc := &Service{
		Detector: ts.detector,
		Alerts:   ts.alerts,
		Cooldown: NewCooldown(30 * time.Second),
		Now:      func() time.Time { return ts.now },
	}
	ts.router = NewServer(svc, nil).Router()
	return ts
}

// analyzeRequest builds a multipart POST /analyze/. Empty values omit
// the corresponding part.
func analyzeRequest(t *testing.T, cameraID string, frame []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if cameraID != "" {
		require.NoError(t, mw.WriteField("cameraId", cameraID))
	}
	if frame != nil {
		part, err := mw.CreateFormFile("file", "frame.png")
		require.NoError(t, err)
		_, err = part.Write(frame)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/analyze/", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (ts *testServer) do(req *http.Request) (*httptest.ResponseRecorder, AnalyzeResult) {
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	var result AnalyzeResult
	_ = json.Unmarshal(w.Body.Bytes(), &result)
	return w, result
}

func TestAnalyze_NoDetections(t *testing.T) {
	ts := newTestServer(t)

	w, result := ts.do(analyzeRequest(t, "cam-1", testFrame(t, 32, 32)))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"cameraId":"cam-1","detections":[],"alertSent":false}`, w.Body.String())
	assert.Equal(t, "cam-1", result.CameraID)
	assert.False(t, result.AlertSent)
	assert.Zero(t, ts.alerts.count())
}

// TestAnalyze_AlertAndCooldown verifies the first frame with findings
// alerts, a second within the cooldown does not, and one after it does.
func TestAnalyze_AlertAndCooldown(t *testing.T) {
	ts := newTestServer(t)
	ts.detector.detections = []Detection{{MissingPPE: "hardhat", Confidence: 0.9, BBox: BBox{X: 2, Y: 2, Width: 10, Height: 10}}}
	frame := testFrame(t, 32, 32)

	w, result := ts.do(analyzeRequest(t, "cam-1", frame))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, result.AlertSent)
	require.Len(t, result.Detections, 1)

	ts.now = ts.now.Add(10 * time.Second)
	_, result = ts.do(analyzeRequest(t, "cam-1", frame))
	assert.False(t, result.AlertSent, "cooldown active")

	_, result = ts.do(analyzeRequest(t, "cam-2", frame))
	assert.True(t, result.AlertSent, "other cameras are unaffected")

	ts.now = ts.now.Add(25 * time.Second)
	_, result = ts.do(analyzeRequest(t, "cam-1", frame))
	assert.True(t, result.AlertSent, "cooldown expired")

	assert.Equal(t, 3, ts.alerts.count())
	assert.Equal(t, "new", ts.alerts.payloads[0].Status)
}

// TestAnalyze_FailedAlertRetries verifies a failed send does not start
// the cooldown.
func TestAnalyze_FailedAlertRetries(t *testing.T) {
	ts := newTestServer(t)
	ts.detector.detections = []Detection{{MissingPPE: "vest", Confidence: 0.7}}
	ts.alerts.err = errors.New("connection refused")
	frame := testFrame(t, 16, 16)

	_, result := ts.do(analyzeRequest(t, "cam-1", frame))
	assert.False(t, result.AlertSent)

	ts.alerts.err = nil
	_, result = ts.do(analyzeRequest(t, "cam-1", frame))
	assert.True(t, result.AlertSent)
}

// TestAnalyze_UndecodableFrameStillAlerts verifies annotation failure
// falls back to the original frame.
func TestAnalyze_UndecodableFrameStillAlerts(t *testing.T) {
	ts := newTestServer(t)
	ts.detector.detections = []Detection{{MissingPPE: "mask", Confidence: 0.6}}

	_, result := ts.do(analyzeRequest(t, "cam-1", []byte("raw sensor dump")))
	assert.True(t, result.AlertSent)
}

func TestAnalyze_BadRequests(t *testing.T) {
	ts := newTestServer(t)

	w, _ := ts.do(analyzeRequest(t, "", testFrame(t, 8, 8)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "cameraId")

	w, _ = ts.do(analyzeRequest(t, "cam-1", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "file")
}

func TestAnalyze_FrameTooLarge(t *testing.T) {
	gin.SetMode(gin.TestMode)
	detector := &countingDetector{}
	srv := NewServer(&Service{Detector: detector, Alerts: &recordingAlerts{}, Cooldown: NewCooldown(0)}, nil)
	srv.frameLimit = 1024
	router := srv.Router()

	tests := []struct {
		name string
		size int
	}{
		{name: "just over the frame limit", size: 1025},
		{name: "over the request limit", size: 2 << 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, analyzeRequest(t, "cam-1", bytes.Repeat([]byte{0xff}, tt.size)))
			assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
			assert.Contains(t, w.Body.String(), "1024 bytes")
		})
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, analyzeRequest(t, "cam-1", bytes.Repeat([]byte{0xff}, 1024)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, detector.calls(), "only the frame within the limit reaches the detector")
	assert.Equal(t, 1024, detector.lastSize)
}

// TestAnalyze_ConcurrentFramesAlertOnce verifies simultaneous frames from
// one camera produce a single alert while the send is in flight.
func TestAnalyze_ConcurrentFramesAlertOnce(t *testing.T) {
	alerts := &slowAlerts{delay: 100 * time.Millisecond}
	svc := &Service{
		Detector: &stubDetector{detections: []Detection{{MissingPPE: "hardhat", Confidence: 0.9}}},
		Alerts:   alerts,
		Cooldown: NewCooldown(30 * time.Second),
	}
	frame := testFrame(t, 16, 16)

	const workers = 5
	var wg sync.WaitGroup
	sent := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := svc.Analyze(context.Background(), "cam-1", "frame.png", frame)
			if assert.NoError(t, err) {
				sent <- result.AlertSent
			}
		}()
	}
	wg.Wait()
	close(sent)

	alertSent := 0
	for s := range sent {
		if s {
			alertSent++
		}
	}
	assert.Equal(t, 1, alertSent)
	assert.Equal(t, int32(1), alerts.count.Load())
}

func TestAnalyze_DetectorFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.detector.err = errors.New("detector returned HTTP 503")

	w, _ := ts.do(analyzeRequest(t, "cam-1", testFrame(t, 8, 8)))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestListenAndServe_Shutdown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := NewServer(&Service{Detector: &stubDetector{}, Alerts: &recordingAlerts{}, Cooldown: NewCooldown(0)}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
