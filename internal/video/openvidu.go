package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/clinichq/arrivals/pkg/logging"
)

// OpenVidu talks to an OpenVidu server. Sessions are named after the tenant
// and appointment so re-creation is idempotent on the server side.
type OpenVidu struct {
	baseURL    string
	secret     string
	tenantID   string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewOpenVidu(baseURL, secret, tenantID string, logger *logging.Logger) *OpenVidu {
	if logger == nil {
		logger = logging.Default()
	}
	return &OpenVidu{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		secret:   secret,
		tenantID: tenantID,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

var _ Provider = (*OpenVidu)(nil)

func (o *OpenVidu) sessionName(appointmentID string) string {
	return o.tenantID + "-" + appointmentID
}

// EnsureSession creates the OpenVidu session if it does not exist. The server
// answers 409 for an already-existing custom session id, which we treat as
// success.
func (o *OpenVidu) EnsureSession(ctx context.Context, appointmentID string) (Session, error) {
	name := o.sessionName(appointmentID)
	payload, err := json.Marshal(map[string]string{"customSessionId": name})
	if err != nil {
		return Session{}, fmt.Errorf("video: marshal session request: %w", err)
	}

	endpoint := o.baseURL + "/openvidu/api/sessions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Session{}, fmt.Errorf("video: create session request: %w", err)
	}
	req.SetBasicAuth("OPENVIDUAPP", o.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("video: openvidu request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		// session already exists
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Session{}, fmt.Errorf("video: openvidu error (status %d): %s", resp.StatusCode, string(body))
	}

	return Session{
		ID:      name,
		JoinURL: o.baseURL + "/#" + name,
	}, nil
}

func (o *OpenVidu) CanReportJoin() bool {
	return true
}

// HasJoined asks the server for the session's active connections.
func (o *OpenVidu) HasJoined(ctx context.Context, sessionID string) (bool, error) {
	endpoint := o.baseURL + "/openvidu/api/sessions/" + sessionID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("video: create session lookup: %w", err)
	}
	req.SetBasicAuth("OPENVIDUAPP", o.secret)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("video: openvidu request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return false, fmt.Errorf("video: openvidu error (status %d): %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Connections struct {
			NumberOfElements int `json:"numberOfElements"`
		} `json:"connections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false, fmt.Errorf("video: decode session: %w", err)
	}
	return parsed.Connections.NumberOfElements > 0, nil
}
