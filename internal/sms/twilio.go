package sms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clinichq/arrivals/pkg/logging"
)

var twilioTracer = otel.Tracer("arrivals.internal.sms.twilio")

const twilioTimeFormat = "Mon, 02 Jan 2006 15:04:05 -0700"

// TwilioClient sends and polls SMS messages through Twilio's REST API.
type TwilioClient struct {
	accountSID string
	authToken  string
	from       string
	apiBase    string
	httpClient *http.Client
	logger     *logging.Logger

	mu    sync.Mutex
	since time.Time
	seen  map[string]struct{}
}

// NewTwilioClient builds a client with sane defaults. Receive only reports
// messages arriving after construction.
func NewTwilioClient(accountSID, authToken, from string, logger *logging.Logger) *TwilioClient {
	if logger == nil {
		logger = logging.Default()
	}
	return &TwilioClient{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		apiBase:    "https://api.twilio.com",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
		since:  time.Now(),
		seen:   make(map[string]struct{}),
	}
}

var (
	_ Sender   = (*TwilioClient)(nil)
	_ Receiver = (*TwilioClient)(nil)
)

// Send dispatches a single SMS, retrying transient failures.
func (c *TwilioClient) Send(ctx context.Context, msg Message) error {
	if c.accountSID == "" || c.authToken == "" {
		return errors.New("sms: twilio credentials missing")
	}
	if msg.To == "" {
		return errors.New("sms: to required")
	}
	if strings.TrimSpace(msg.Body) == "" {
		return errors.New("sms: body required")
	}

	ctx, span := twilioTracer.Start(ctx, "sms.twilio.send")
	defer span.End()
	span.SetAttributes(attribute.String("arrivals.to", msg.To))

	payload := url.Values{}
	payload.Set("To", msg.To)
	payload.Set("From", c.from)
	payload.Set("Body", msg.Body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.apiBase, c.accountSID)

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
		if err != nil {
			lastErr = err
			break
		}
		req.SetBasicAuth(c.accountSID, c.authToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				c.logger.Info("twilio sms sent", "to", msg.To)
				return nil
			}
			lastErr = fmt.Errorf("sms: twilio send failed: %s", formatTwilioError(resp.StatusCode, body))
			// Don't retry non-rate-limit 4xx errors.
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != 429 {
				break
			}
		}

		if attempt < 3 {
			time.Sleep(time.Duration(200+rand.Intn(300)) * time.Millisecond)
		}
	}

	if lastErr != nil {
		span.RecordError(lastErr)
	}
	return lastErr
}

// Receive lists inbound messages to our number that arrived since the last
// poll. Twilio has no cursor API for this, so we filter by date and dedupe on
// message sid across the overlap.
func (c *TwilioClient) Receive(ctx context.Context) ([]InboundMessage, error) {
	if c.accountSID == "" || c.authToken == "" {
		return nil, errors.New("sms: twilio credentials missing")
	}

	c.mu.Lock()
	since := c.since
	c.mu.Unlock()

	params := url.Values{}
	params.Set("To", c.from)
	params.Set("PageSize", "100")
	params.Set("DateSent>", since.UTC().Format("2006-01-02"))

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json?%s", c.apiBase, c.accountSID, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("sms: create receive request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sms: twilio receive failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("sms: twilio receive failed: %s", formatTwilioError(resp.StatusCode, body))
	}

	var parsed struct {
		Messages []struct {
			SID       string `json:"sid"`
			From      string `json:"from"`
			Body      string `json:"body"`
			Direction string `json:"direction"`
			DateSent  string `json:"date_sent"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("sms: decode receive response: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var out []InboundMessage
	newest := c.since
	for _, m := range parsed.Messages {
		if m.Direction != "inbound" {
			continue
		}
		if _, dup := c.seen[m.SID]; dup {
			continue
		}
		receivedAt, err := time.Parse(twilioTimeFormat, m.DateSent)
		if err != nil {
			c.logger.Warn("twilio message has unparseable date", "sid", m.SID, "date_sent", m.DateSent)
			receivedAt = time.Now()
		}
		if receivedAt.Before(since) {
			continue
		}
		c.seen[m.SID] = struct{}{}
		if receivedAt.After(newest) {
			newest = receivedAt
		}
		out = append(out, InboundMessage{
			From:       m.From,
			Body:       m.Body,
			ReceivedAt: receivedAt,
		})
	}
	c.since = newest

	// Cap the dedupe set; everything older than the window is already
	// excluded by the date filter.
	if len(c.seen) > 10000 {
		c.seen = make(map[string]struct{})
	}
	return out, nil
}

type twilioAPIError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func formatTwilioError(status int, body []byte) string {
	body = []byte(strings.TrimSpace(string(body)))
	if len(body) == 0 {
		return fmt.Sprintf("status %d", status)
	}
	var parsed twilioAPIError
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		if parsed.Code != 0 {
			return fmt.Sprintf("status %d code %d: %s", status, parsed.Code, parsed.Message)
		}
		return fmt.Sprintf("status %d: %s", status, parsed.Message)
	}
	return fmt.Sprintf("status %d: %s", status, string(body))
}
