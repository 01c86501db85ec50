package templates

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinichq/arrivals/internal/pms"
)

func testAppointment() pms.Appointment {
	return pms.Appointment{
		ID:               "1234",
		PatientName:      "Test Patient #1",
		PatientPhone:     "+0411012345",
		PractitionerName: "Dr Adam Ant",
		Start:            time.Date(2021, 1, 2, 9, 15, 0, 0, time.Local),
		Status:           pms.StatusBooked,
	}
}

func TestResolveRegistration(t *testing.T) {
	r := NewResolver(nil)
	out, err := r.Resolve(context.Background(), KindRegistration, testAppointment(), nil)
	require.NoError(t, err)
	assert.Contains(t, out, "Test Patient #1")
	assert.Contains(t, out, "Dr Adam Ant")
	assert.Contains(t, out, "09:15 AM")
	assert.Contains(t, out, "2-Jan")
}

func TestResolveExtrasTakePrecedence(t *testing.T) {
	r := NewResolver(MapSource{KindVideoInvite: "Join {{.PatientName}} at {{.URL}}"})
	out, err := r.Resolve(context.Background(), KindVideoInvite, testAppointment(), map[string]string{
		"URL":         "https://meet.jit.si/x-1234",
		"PatientName": "Override",
	})
	require.NoError(t, err)
	assert.Equal(t, "Join Override at https://meet.jit.si/x-1234", out)
}

func TestResolveUnresolvedPlaceholderFails(t *testing.T) {
	r := NewResolver(MapSource{KindScreening: "Hello {{.NoSuchVariable}}"})
	_, err := r.Resolve(context.Background(), KindScreening, testAppointment(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		body string
		ok   bool
	}{
		{"plain text", KindScreening, "Reply YES or NO", true},
		{"known placeholders", KindRegistration, "{{.PatientName}} sees {{.PractitionerName}} at {{.StartTime}}", true},
		{"url allowed for video invite", KindVideoInvite, "Join at {{.URL}}", true},
		{"url rejected for screening", KindScreening, "Join at {{.URL}}", false},
		{"unknown placeholder", KindRegistration, "Hi {{.Nickname}}", false},
		{"parse error", KindRegistration, "Hi {{.PatientName", false},
		{"empty body", KindRegistration, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.kind, tt.body)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTemplate)
			}
		})
	}
}

func TestValidateUnknownKind(t *testing.T) {
	assert.ErrorIs(t, Validate(Kind("carrier-pigeon"), "hi"), ErrUnknownKind)
}

func TestDefaultsAreValid(t *testing.T) {
	for kind, body := range Defaults {
		assert.NoError(t, Validate(kind, body), "default template for %s", kind)
	}
}

func TestVariableNames(t *testing.T) {
	names, err := VariableNames(KindVideoInvite)
	require.NoError(t, err)
	assert.Equal(t, []string{"PatientName", "PractitionerName", "StartDate", "StartTime", "URL"}, names)

	_, err = VariableNames(Kind("nope"))
	assert.ErrorIs(t, err, ErrUnknownKind)
}
