package sms

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *TwilioClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewTwilioClient("AC123", "token", "+1999", nil)
	c.apiBase = srv.URL
	return c
}

func TestTwilioSend(t *testing.T) {
	var got string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		got = r.PostForm.Get("Body")
		assert.Equal(t, "+0411012345", r.PostForm.Get("To"))
		assert.Equal(t, "+1999", r.PostForm.Get("From"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1","status":"queued"}`))
	})

	err := c.Send(context.Background(), Message{To: "+0411012345", Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestTwilioSendDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number"}`))
	})

	err := c.Send(context.Background(), Message{To: "bogus", Body: "hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "21211")
	assert.Equal(t, 1, calls)
}

func TestTwilioSendValidation(t *testing.T) {
	c := NewTwilioClient("AC123", "token", "+1999", nil)
	assert.Error(t, c.Send(context.Background(), Message{Body: "x"}))
	assert.Error(t, c.Send(context.Background(), Message{To: "+1", Body: "  "}))
}

func TestTwilioReceiveFiltersAndDedupes(t *testing.T) {
	reference := time.Now().Add(time.Minute)
	page := fmt.Sprintf(`{"messages":[
		{"sid":"SM1","from":"+0411012345","body":"YES","direction":"inbound","date_sent":%q},
		{"sid":"SM2","from":"+1999","body":"outbound echo","direction":"outbound-api","date_sent":%q},
		{"sid":"SM3","from":"+0411012345","body":"joined","direction":"inbound","date_sent":%q}
	]}`,
		reference.Format(twilioTimeFormat),
		reference.Format(twilioTimeFormat),
		reference.Add(time.Second).Format(twilioTimeFormat))

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte(page))
	})

	msgs, err := c.Receive(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "YES", msgs[0].Body)
	assert.Equal(t, "joined", msgs[1].Body)

	// Second poll returns the same page; everything is already seen.
	again, err := c.Receive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, again)
}
