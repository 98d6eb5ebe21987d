package frames

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"
)

// classToPPE maps the detector's negative classes to the PPE item that
// is missing. Other classes ("hardhat", "person", ...) are ignored.
var classToPPE = map[string]string{
	"no-hardhat":  "hardhat",
	"no-gloves":   "gloves",
	"no-vest":     "vest",
	"no-mask":     "mask",
	"no-goggles":  "goggles",
	"no-earplugs": "earplugs",
}

// BBox is a box in pixel coordinates, origin at the top-left corner.
type BBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Detection is one missing-PPE finding.
type Detection struct {
	MissingPPE string  `json:"missingPpe"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
}

// Box is a raw detector result.
type Box struct {
	Class      string     `json:"class"`
	Confidence float64    `json:"confidence"`
	XYXY       [4]float64 `json:"xyxy"`
}

// Detector finds missing PPE in a frame.
type Detector interface {
	Detect(ctx context.Context, frame []byte, filename string) ([]Detection, error)
}

// toDetections keeps the missing-PPE boxes at or above threshold, in
// detector order. Coordinates are truncated to whole pixels.
func toDetections(boxes []Box, threshold float64) []Detection {
	detections := []Detection{}
	for _, b := range boxes {
		ppe, ok := classToPPE[b.Class]
		if !ok || b.Confidence < threshold {
			continue
		}
		x1, y1 := int(b.XYXY[0]), int(b.XYXY[1])
		x2, y2 := int(b.XYXY[2]), int(b.XYXY[3])
		detections = append(detections, Detection{
			MissingPPE: ppe,
			Confidence: b.Confidence,
			BBox:       BBox{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1},
		})
	}
	return detections
}

const defaultDetectorTimeout = 30 * time.Second

// HTTPDetector calls a detector backend that serves the model over HTTP.
//
// Request: multipart POST with the frame as "file", the model path as
// "model" and the threshold as "conf". Response:
//
//	{"boxes": [{"class": "no-hardhat", "confidence": 0.91, "xyxy": [x1, y1, x2, y2]}]}
type HTTPDetector struct {
	URL       string
	ModelPath string
	Threshold float64
	Client    *http.Client
}

// NewHTTPDetector creates a detector for the given settings.
func NewHTTPDetector(s *Settings) *HTTPDetector {
	return &HTTPDetector{
		URL:       s.DetectorURL,
		ModelPath: s.ModelPath,
		Threshold: s.ConfidenceThreshold,
		Client:    &http.Client{Timeout: defaultDetectorTimeout},
	}
}

// Detect sends frame to the backend and returns the missing-PPE detections.
func (d *HTTPDetector) Detect(ctx context.Context, frame []byte, filename string) ([]Detection, error) {
	if filename == "" {
		filename = "frame.jpg"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(frame); err != nil {
		return nil, err
	}
	if err := mw.WriteField("model", d.ModelPath); err != nil {
		return nil, err
	}
	if err := mw.WriteField("conf", strconv.FormatFloat(d.Threshold, 'f', -1, 64)); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, &body)
	if err != nil {
		return nil, fmt.Errorf("detector request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detector request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detector returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var result struct {
		Boxes []Box `json:"boxes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode detector response: %w", err)
	}
	return toDetections(result.Boxes, d.Threshold), nil
}
