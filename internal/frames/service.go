package frames

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AnalyzeResult is the response body of POST /analyze/.
type AnalyzeResult struct {
	CameraID   string      `json:"cameraId"`
	Detections []Detection `json:"detections"`
	AlertSent  bool        `json:"alertSent"`
}

// Service runs the analyze pipeline for one frame.
type Service struct {
	Detector Detector
	Alerts   AlertSender
	Cooldown *Cooldown
	Logger   *zap.Logger

	// Now is the clock used for cooldowns. Defaults to time.Now.
	Now func() time.Time
}

// NewService wires the production pipeline from settings. The caller
// must Close the service to release the model.
func NewService(s *Settings, logger *zap.Logger) (*Service, error) {
	detector, err := NewDetector(s)
	if err != nil {
		return nil, err
	}
	return &Service{
		Detector: detector,
		Alerts:   NewAlertClient(s),
		Cooldown: NewCooldown(s.AlertCooldown),
		Logger:   logger,
	}, nil
}

// NewDetector creates the backend selected by s.Detector.
func NewDetector(s *Settings) (Detector, error) {
	switch s.Detector {
	case BackendHTTP:
		return NewHTTPDetector(s), nil
	case BackendONNX:
		return NewONNXDetector(s)
	default:
		return nil, fmt.Errorf("unknown detector backend %q", s.Detector)
	}
}

// Close releases the detector when it holds resources.
func (s *Service) Close() error {
	if c, ok := s.Detector.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Analyze detects missing PPE in frame and, when anything was found,
// sends an annotated alert unless the camera is cooling down.
//
// Only a detector failure is returned as an error. Annotation and alert
// failures are logged and reported through AlertSent.
func (s *Service) Analyze(ctx context.Context, cameraID, filename string, frame []byte) (*AnalyzeResult, error) {
	log := s.logger().With(
		zap.String("camera_id", cameraID),
		zap.String("frame_id", uuid.NewString()))

	detections, err := s.Detector.Detect(ctx, frame, filename)
	if err != nil {
		log.Error("detection failed", zap.Error(err))
		return nil, err
	}
	if detections == nil {
		detections = []Detection{}
	}
	log.Debug("frame analyzed", zap.Int("detections", len(detections)))

	result := &AnalyzeResult{CameraID: cameraID, Detections: detections}
	if len(detections) == 0 {
		return result, nil
	}

	annotated, err := Annotate(frame, detections)
	if err != nil {
		log.Error("cannot annotate frame, sending it unannotated", zap.Error(err))
		annotated = frame
	}

	result.AlertSent = s.alert(ctx, log, cameraID, detections, annotated)
	return result, nil
}

// alert reserves the camera's cooldown slot and sends the alert. Only a
// successful send starts the cooldown.
func (s *Service) alert(ctx context.Context, log *zap.Logger, cameraID string, detections []Detection, frame []byte) bool {
	if !s.Cooldown.TryAcquire(cameraID, s.now()) {
		log.Info("skipping alert, cooldown active")
		return false
	}

	if err := s.Alerts.Send(ctx, NewAlertPayload(cameraID, detections), frame); err != nil {
		s.Cooldown.Release(cameraID)
		log.Error("failed to send alert", zap.Error(err))
		return false
	}
	s.Cooldown.Commit(cameraID, s.now())
	log.Info("alert sent", zap.Int("detections", len(detections)))
	return true
}

func (s *Service) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
