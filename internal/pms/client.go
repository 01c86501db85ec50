package pms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client fetches appointment snapshots from the PMS FHIR endpoint.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	// OAuth 2.0 token management
	accessToken string
	tokenExpiry time.Time

	clock func() time.Time
}

// Config holds configuration for the PMS client
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// New creates a new PMS client
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("pms: BaseURL is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("pms: ClientID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("pms: ClientSecret is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		clock: time.Now,
	}, nil
}

// TodaysAppointments returns the current snapshot of today's appointments.
// FHIR: GET /Appointment?date=ge{today}&date=lt{tomorrow}&_include=Appointment:actor
func (c *Client) TodaysAppointments(ctx context.Context) ([]Appointment, error) {
	now := c.clock()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return c.searchAppointments(ctx, from, from.AddDate(0, 0, 1))
}

// UpcomingAppointments returns the snapshot for the near-future window,
// starting tomorrow.
func (c *Client) UpcomingAppointments(ctx context.Context, lookaheadDays int) ([]Appointment, error) {
	if lookaheadDays <= 0 {
		lookaheadDays = 3
	}
	now := c.clock()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	return c.searchAppointments(ctx, from, from.AddDate(0, 0, lookaheadDays))
}

func (c *Client) searchAppointments(ctx context.Context, from, to time.Time) ([]Appointment, error) {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return nil, fmt.Errorf("pms: authentication failed: %w", err)
	}

	params := url.Values{}
	params.Add("date", "ge"+from.Format(time.RFC3339))
	params.Add("date", "lt"+to.Format(time.RFC3339))
	params.Set("_include", "Appointment:actor")

	endpoint := fmt.Sprintf("%s/Appointment?%s", c.baseURL, params.Encode())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("pms: failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)
	httpReq.Header.Set("Accept", "application/fhir+json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("pms: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("pms: API error (status %d): %s", resp.StatusCode, string(body))
	}

	var bundle FHIRBundle
	if err := json.NewDecoder(resp.Body).Decode(&bundle); err != nil {
		return nil, fmt.Errorf("pms: failed to decode response: %w", err)
	}

	return parseBundle(bundle)
}

// parseBundle maps a searchset of Appointment plus included Patient and
// Practitioner resources into the engine's appointment model.
func parseBundle(bundle FHIRBundle) ([]Appointment, error) {
	var fhirAppts []FHIRAppointment
	patients := map[string]FHIRPatient{}
	practitioners := map[string]FHIRPractitioner{}

	for _, entry := range bundle.Entry {
		var probe struct {
			ResourceType string `json:"resourceType"`
		}
		if err := json.Unmarshal(entry.Resource, &probe); err != nil {
			return nil, fmt.Errorf("pms: failed to decode bundle entry: %w", err)
		}
		switch probe.ResourceType {
		case "Appointment":
			var a FHIRAppointment
			if err := json.Unmarshal(entry.Resource, &a); err != nil {
				return nil, fmt.Errorf("pms: failed to decode appointment: %w", err)
			}
			fhirAppts = append(fhirAppts, a)
		case "Patient":
			var p FHIRPatient
			if err := json.Unmarshal(entry.Resource, &p); err != nil {
				return nil, fmt.Errorf("pms: failed to decode patient: %w", err)
			}
			patients[p.ID] = p
		case "Practitioner":
			var p FHIRPractitioner
			if err := json.Unmarshal(entry.Resource, &p); err != nil {
				return nil, fmt.Errorf("pms: failed to decode practitioner: %w", err)
			}
			practitioners[p.ID] = p
		}
	}

	appts := make([]Appointment, 0, len(fhirAppts))
	for _, fa := range fhirAppts {
		start, err := parseFHIRTime(fa.Start)
		if err != nil {
			return nil, fmt.Errorf("pms: appointment %s has invalid start %q: %w", fa.ID, fa.Start, err)
		}
		appt := Appointment{
			ID:      fa.ID,
			Start:   start,
			Status:  parseStatus(fa.Status),
			IsVideo: isTelehealth(fa.ServiceType),
		}
		for _, part := range fa.Participant {
			ref := part.Actor.Reference
			switch {
			case strings.HasPrefix(ref, "Patient/"):
				appt.PatientID = strings.TrimPrefix(ref, "Patient/")
				if p, ok := patients[appt.PatientID]; ok {
					if len(p.Name) > 0 {
						appt.PatientName = p.Name[0].display()
					}
					appt.PatientPhone = mobilePhone(p.Telecom)
				} else if part.Actor.Display != "" {
					appt.PatientName = part.Actor.Display
				}
			case strings.HasPrefix(ref, "Practitioner/"):
				appt.PractitionerID = strings.TrimPrefix(ref, "Practitioner/")
				if p, ok := practitioners[appt.PractitionerID]; ok && len(p.Name) > 0 {
					appt.PractitionerName = p.Name[0].display()
				} else if part.Actor.Display != "" {
					appt.PractitionerName = part.Actor.Display
				}
			}
		}
		appts = append(appts, appt)
	}
	return appts, nil
}

func (c *Client) ensureAuthenticated(ctx context.Context) error {
	// Check if token is still valid (with 5-minute buffer)
	if c.accessToken != "" && c.clock().Add(5*time.Minute).Before(c.tokenExpiry) {
		return nil
	}
	return c.authenticate(ctx)
}

// authenticate performs the OAuth 2.0 client credentials flow.
func (c *Client) authenticate(ctx context.Context) error {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	endpoint := c.baseURL + "/oauth2/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("pms: failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pms: token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("pms: token error (status %d): %s", resp.StatusCode, string(body))
	}

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return fmt.Errorf("pms: failed to decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return fmt.Errorf("pms: token response missing access_token")
	}

	c.accessToken = token.AccessToken
	c.tokenExpiry = c.clock().Add(time.Duration(token.ExpiresIn) * time.Second)
	return nil
}
