package pms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const appointmentBundle = `{
	"resourceType": "Bundle",
	"type": "searchset",
	"total": 2,
	"entry": [
		{"resource": {
			"resourceType": "Appointment",
			"id": "appt-1",
			"status": "booked",
			"start": "2021-01-02T09:15:00+10:00",
			"serviceType": [{"coding": [{"code": "telehealth"}]}],
			"participant": [
				{"actor": {"reference": "Patient/p1"}, "status": "accepted"},
				{"actor": {"reference": "Practitioner/d1"}, "status": "accepted"}
			]
		}},
		{"resource": {
			"resourceType": "Appointment",
			"id": "appt-2",
			"status": "arrived",
			"start": "2021-01-02T10:00:00+10:00",
			"participant": [
				{"actor": {"reference": "Patient/p2", "display": "Walk In"}, "status": "accepted"}
			]
		}},
		{"resource": {
			"resourceType": "Patient",
			"id": "p1",
			"name": [{"given": ["Test"], "family": "Patient"}],
			"telecom": [
				{"system": "phone", "value": "+0411012345", "use": "mobile"},
				{"system": "email", "value": "test@example.com"}
			]
		}},
		{"resource": {
			"resourceType": "Practitioner",
			"id": "d1",
			"name": [{"text": "Dr Adam Ant"}]
		}}
	]
}`

func TestParseBundle(t *testing.T) {
	var bundle FHIRBundle
	require.NoError(t, json.Unmarshal([]byte(appointmentBundle), &bundle))

	appts, err := parseBundle(bundle)
	require.NoError(t, err)
	require.Len(t, appts, 2)

	assert.Equal(t, "appt-1", appts[0].ID)
	assert.Equal(t, StatusBooked, appts[0].Status)
	assert.True(t, appts[0].IsVideo)
	assert.Equal(t, "p1", appts[0].PatientID)
	assert.Equal(t, "Test Patient", appts[0].PatientName)
	assert.Equal(t, "+0411012345", appts[0].PatientPhone)
	assert.Equal(t, "Dr Adam Ant", appts[0].PractitionerName)

	assert.Equal(t, StatusArrived, appts[1].Status)
	assert.False(t, appts[1].IsVideo)
	// No included Patient resource: display name carries over, phone stays empty.
	assert.Equal(t, "Walk In", appts[1].PatientName)
	assert.Empty(t, appts[1].PatientPhone)
}

func TestParseStatus(t *testing.T) {
	assert.Equal(t, StatusBooked, parseStatus("Booked"))
	assert.Equal(t, StatusBooked, parseStatus("pending"))
	assert.Equal(t, StatusArrived, parseStatus("arrived"))
	assert.Equal(t, StatusFulfilled, parseStatus("fulfilled"))
	assert.Equal(t, StatusCancelled, parseStatus("cancelled"))
	assert.Equal(t, Status("entered-in-error"), parseStatus("entered-in-error"))
}

func TestClientSearchesWithToken(t *testing.T) {
	var sawAuth, sawSearch bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/token":
			sawAuth = true
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "tok-1",
				"expires_in":   3600,
			})
		case "/Appointment":
			sawSearch = true
			assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(appointmentBundle))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, err := New(Config{BaseURL: srv.URL, ClientID: "id", ClientSecret: "secret"})
	require.NoError(t, err)

	appts, err := client.TodaysAppointments(context.Background())
	require.NoError(t, err)
	assert.Len(t, appts, 2)
	assert.True(t, sawAuth)
	assert.True(t, sawSearch)
}

func TestClientReusesFreshToken(t *testing.T) {
	tokenCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/token" {
			tokenCalls++
			_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 3600})
			return
		}
		_, _ = w.Write([]byte(`{"resourceType":"Bundle","type":"searchset","total":0}`))
	}))
	defer srv.Close()

	client, err := New(Config{BaseURL: srv.URL, ClientID: "id", ClientSecret: "secret"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := client.UpcomingAppointments(context.Background(), 3)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, tokenCalls)
}

func TestDemoSourceSplitsTodayFromUpcoming(t *testing.T) {
	now := time.Date(2021, 1, 1, 9, 0, 0, 0, time.Local)
	src := newDemoSource(func() time.Time { return now })

	today, err := src.TodaysAppointments(context.Background())
	require.NoError(t, err)
	upcoming, err := src.UpcomingAppointments(context.Background(), 3)
	require.NoError(t, err)

	require.NotEmpty(t, today)
	require.NotEmpty(t, upcoming)
	for _, a := range today {
		assert.True(t, sameDate(a.Start, now))
		assert.NotEmpty(t, a.PatientPhone)
	}
	for _, a := range upcoming {
		assert.False(t, sameDate(a.Start, now))
	}

	// Ids must be stable across polls; the merger keys on them.
	again, err := src.TodaysAppointments(context.Background())
	require.NoError(t, err)
	require.Equal(t, len(today), len(again))
	for i := range today {
		assert.Equal(t, today[i].ID, again[i].ID)
	}
}
