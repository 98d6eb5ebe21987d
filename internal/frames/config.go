// Package frames implements the frame analysis service run by
// `ojitoo-frames serve` inside the deployed container.
//
// A camera client posts a single frame; the service runs the YOLO model
// (exported to ONNX) in-process, or asks an HTTP detector backend, keeps
// the missing-PPE classes above the confidence threshold, and when
// anything is found annotates the frame and forwards it to the Ojitoo
// alerts API, at most once per camera per cooldown.
// Frames are processed in memory and never written to disk.
package frames

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Environment keys read by LoadSettings.
const (
	KeyModelPath     = "MODEL_PATH"
	KeyDetectorURL   = "DETECTOR_URL"
	KeyBaseURL       = "OJITOO_BASE_URL"
	KeyAuthToken     = "AUTHORIZATION_TOKEN"
	KeyConfidence    = "YOLO_CONFIDENCE_THRESHOLD"
	KeyCooldown      = "ALERT_COOLDOWN_SECONDS"
	KeyListenAddress = "LISTEN_ADDR"
	KeyDetector      = "DETECTOR"
	KeyModelClasses  = "MODEL_CLASSES"
	KeyInputSize     = "MODEL_INPUT_SIZE"
	KeyORTLibrary    = "ONNXRUNTIME_LIB"
	KeyUseCUDA       = "ONNX_CUDA"
)

// Detector backends selectable with DETECTOR.
const (
	BackendONNX = "onnx"
	BackendHTTP = "http"
)

// Settings configures the frame service.
type Settings struct {
	// Detector selects the inference backend: BackendONNX runs the model
	// in-process, BackendHTTP posts frames to DetectorURL.
	Detector string

	// ModelPath names the weights. The onnx backend loads it; the http
	// backend passes it through with every frame.
	ModelPath string

	// ModelClasses lists the model's class names in output order. When
	// empty the onnx backend reads them from the model metadata.
	ModelClasses []string

	// InputSize is the square input resolution of the onnx model.
	InputSize int

	// ONNXRuntimeLib is the path of the onnxruntime shared library.
	// Empty uses the loader's default lookup.
	ONNXRuntimeLib string

	// UseCUDA enables the CUDA execution provider.
	UseCUDA bool

	// DetectorURL is the http backend's predict endpoint.
	DetectorURL string

	// BaseURL is the Ojitoo API root, without a trailing slash.
	BaseURL string

	// AuthToken is sent as a bearer token with every alert.
	AuthToken string

	// ConfidenceThreshold drops detections scoring below it.
	ConfidenceThreshold float64

	// AlertCooldown is the minimum gap between two successful alerts for
	// the same camera.
	AlertCooldown time.Duration

	// ListenAddress is the HTTP listen address.
	ListenAddress string
}

// AlertEndpoint returns the URL alerts are posted to.
func (s *Settings) AlertEndpoint() string {
	return s.BaseURL + "/alerts/"
}

// LoadSettings reads the service settings from the environment, after
// loading envFile (when non-empty) into it. Variables already set in the
// environment win over the file; a missing file is ignored.
func LoadSettings(envFile string) (*Settings, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetDefault(KeyDetector, BackendONNX)
	v.SetDefault(KeyModelPath, "model/best.onnx")
	v.SetDefault(KeyModelClasses, "")
	v.SetDefault(KeyInputSize, 640)
	v.SetDefault(KeyORTLibrary, "")
	v.SetDefault(KeyUseCUDA, false)
	v.SetDefault(KeyDetectorURL, "http://localhost:9000/predict")
	v.SetDefault(KeyBaseURL, "")
	v.SetDefault(KeyAuthToken, "")
	v.SetDefault(KeyConfidence, 0.4)
	v.SetDefault(KeyCooldown, 30.0)
	v.SetDefault(KeyListenAddress, ":8000")
	v.AutomaticEnv()

	s := &Settings{
		Detector:            strings.ToLower(strings.TrimSpace(v.GetString(KeyDetector))),
		ModelPath:           v.GetString(KeyModelPath),
		ModelClasses:        splitList(v.GetString(KeyModelClasses)),
		InputSize:           v.GetInt(KeyInputSize),
		ONNXRuntimeLib:      v.GetString(KeyORTLibrary),
		UseCUDA:             v.GetBool(KeyUseCUDA),
		DetectorURL:         v.GetString(KeyDetectorURL),
		BaseURL:             strings.TrimRight(v.GetString(KeyBaseURL), "/"),
		AuthToken:           v.GetString(KeyAuthToken),
		ConfidenceThreshold: v.GetFloat64(KeyConfidence),
		AlertCooldown:       time.Duration(v.GetFloat64(KeyCooldown) * float64(time.Second)),
		ListenAddress:       v.GetString(KeyListenAddress),
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate rejects settings the service cannot run with.
func (s *Settings) Validate() error {
	switch s.Detector {
	case BackendONNX:
		if s.ModelPath == "" {
			return fmt.Errorf("%s must not be empty", KeyModelPath)
		}
		if s.InputSize <= 0 || s.InputSize%32 != 0 {
			return fmt.Errorf("%s must be a positive multiple of 32, got %d", KeyInputSize, s.InputSize)
		}
	case BackendHTTP:
		if s.DetectorURL == "" {
			return fmt.Errorf("%s must not be empty", KeyDetectorURL)
		}
	default:
		return fmt.Errorf("%s must be %q or %q, got %q", KeyDetector, BackendONNX, BackendHTTP, s.Detector)
	}
	if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 1 {
		return fmt.Errorf("%s must be between 0 and 1, got %v", KeyConfidence, s.ConfidenceThreshold)
	}
	if s.AlertCooldown < 0 {
		return fmt.Errorf("%s must not be negative", KeyCooldown)
	}
	if s.ListenAddress == "" {
		return fmt.Errorf("%s must not be empty", KeyListenAddress)
	}
	return nil
}

// splitList splits a comma-separated list, dropping blank entries.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
