package frames

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"
)

const alertTimeout = 15 * time.Second

// AlertPayload is the JSON document sent with every alert.
type AlertPayload struct {
	CameraID      string      `json:"cameraId"`
	Status        string      `json:"status"`
	PPEDetections []Detection `json:"ppeDetections"`
}

// NewAlertPayload builds the payload for a fresh alert.
func NewAlertPayload(cameraID string, detections []Detection) AlertPayload {
	return AlertPayload{CameraID: cameraID, Status: "new", PPEDetections: detections}
}

// AlertSender delivers an alert with its annotated frame.
type AlertSender interface {
	Send(ctx context.Context, payload AlertPayload, frame []byte) error
}

// AlertClient posts alerts to the Ojitoo API.
type AlertClient struct {
	Endpoint string
	Token    string
	Client   *http.Client
}

// NewAlertClient creates a client for the settings' alert endpoint.
func NewAlertClient(s *Settings) *AlertClient {
	return &AlertClient{
		Endpoint: s.AlertEndpoint(),
		Token:    s.AuthToken,
		Client:   &http.Client{Timeout: alertTimeout},
	}
}

// Send posts the alert as multipart form data: the JSON payload in the
// "payload" field and the frame as "file" (frame.jpg, image/jpeg). Any
// non-2xx response is an error.
func (a *AlertClient) Send(ctx context.Context, payload AlertPayload, frame []byte) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode alert payload: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("payload", string(payloadJSON)); err != nil {
		return err
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	header.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	if _, err := part.Write(frame); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Endpoint, &body)
	if err != nil {
		return fmt.Errorf("alert request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+a.Token)

	client := a.Client
	if client == nil {
		client = &http.Client{Timeout: alertTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("alert request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("alert endpoint returned HTTP %d", resp.StatusCode)
	}
	return nil
}
