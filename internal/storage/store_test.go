package storage

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinichq/arrivals/internal/pms"
	"github.com/clinichq/arrivals/internal/sms"
	"github.com/clinichq/arrivals/internal/templates"
)

func TestStoreSaveAppointmentState(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := &Store{pool: mock}
	start := time.Date(2021, 1, 2, 9, 15, 0, 0, time.Local)
	mock.ExpectExec("INSERT INTO appointment_states").
		WithArgs(time.Date(2021, 1, 2, 0, 0, 0, 0, time.UTC), "1234", "p1", "Test Patient #1", "+0411012345",
			"d1", "Dr Adam Ant", start, "booked", false,
			true, false, "", false, false, false).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	appt := pms.Appointment{
		ID:               "1234",
		PatientID:        "p1",
		PatientName:      "Test Patient #1",
		PatientPhone:     "+0411012345",
		PractitionerID:   "d1",
		PractitionerName: "Dr Adam Ant",
		Start:            start,
		Status:           pms.StatusBooked,
		Notifications:    pms.NotificationState{RegistrationSent: true},
	}
	require.NoError(t, store.SaveAppointmentState(context.Background(), appt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreLoadAppointmentStates(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := &Store{pool: mock}
	start := time.Date(2021, 1, 1, 13, 0, 0, 0, time.Local)
	day := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{
		"appointment_id", "patient_id", "patient_name", "patient_phone",
		"practitioner_id", "practitioner_name", "start_time", "status", "is_video",
		"registration_sent", "screening_sent", "screening_response",
		"video_invite_sent", "video_joined", "arrival_reported",
	}).AddRow("1002", "p2", "Test Patient #2", "+0411012345",
		"d1", "Dr Adam Ant", start, "booked", true,
		false, true, "yes", false, false, false)

	mock.ExpectQuery("SELECT appointment_id").
		WithArgs(day, day).
		WillReturnRows(rows)

	appts, err := store.LoadAppointmentStates(context.Background(), start)
	require.NoError(t, err)
	require.Len(t, appts, 1)
	assert.Equal(t, "1002", appts[0].ID)
	assert.Equal(t, pms.StatusBooked, appts[0].Status)
	assert.True(t, appts[0].IsVideo)
	assert.True(t, appts[0].Notifications.ScreeningSent)
	assert.Equal(t, "yes", appts[0].Notifications.ScreeningResponse)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreLoadAppointmentState(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := &Store{pool: mock}
	start := time.Date(2021, 1, 1, 13, 0, 0, 0, time.Local)
	day := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{
		"appointment_id", "patient_id", "patient_name", "patient_phone",
		"practitioner_id", "practitioner_name", "start_time", "status", "is_video",
		"registration_sent", "screening_sent", "screening_response",
		"video_invite_sent", "video_joined", "arrival_reported",
	}).AddRow("1002", "p2", "Test Patient #2", "+0411012345",
		"d1", "Dr Adam Ant", start, "booked", false,
		false, true, "", false, false, false)

	mock.ExpectQuery("SELECT appointment_id").
		WithArgs(day, "1002").
		WillReturnRows(rows)

	appt, err := store.LoadAppointmentState(context.Background(), start, "1002")
	require.NoError(t, err)
	require.NotNil(t, appt)
	assert.Equal(t, "1002", appt.ID)
	assert.True(t, appt.Notifications.ScreeningSent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreLoadAppointmentStateMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := &Store{pool: mock}
	day := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT appointment_id").
		WithArgs(day, "9999").
		WillReturnError(pgx.ErrNoRows)

	appt, err := store.LoadAppointmentState(context.Background(), time.Date(2021, 1, 1, 13, 0, 0, 0, time.Local), "9999")
	require.NoError(t, err)
	assert.Nil(t, appt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreSaveTemplateRejectsInvalid(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := &Store{pool: mock}
	err = store.SaveTemplate(context.Background(), templates.Template{
		Kind: templates.KindScreening,
		Body: "Hello {{.NoSuchVariable}}",
	})
	assert.ErrorIs(t, err, templates.ErrInvalidTemplate)
	// Nothing was executed against the pool.
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreSaveTemplate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := &Store{pool: mock}
	mock.ExpectExec("INSERT INTO message_templates").
		WithArgs("screening", "Reply YES or NO").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveTemplate(context.Background(), templates.Template{
		Kind: templates.KindScreening,
		Body: "Reply YES or NO",
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreTemplateFallsBackToDefault(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := &Store{pool: mock}
	mock.ExpectQuery("SELECT body FROM message_templates").
		WithArgs("registration").
		WillReturnError(pgx.ErrNoRows)

	body, err := store.Template(context.Background(), templates.KindRegistration)
	require.NoError(t, err)
	assert.Equal(t, templates.Defaults[templates.KindRegistration], body)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreUnprocessableMessages(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := &Store{pool: mock}
	receivedAt := time.Date(2021, 1, 1, 10, 55, 0, 0, time.Local)
	day := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO unprocessable_messages").
		WithArgs(day, "+0400000000", "who is this", receivedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.SaveUnprocessableMessage(context.Background(), sms.InboundMessage{
		From:       "+0400000000",
		Body:       "who is this",
		ReceivedAt: receivedAt,
	}))

	mock.ExpectExec("DELETE FROM unprocessable_messages").
		WithArgs(day).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, store.ClearUnprocessableMessages(context.Background(), receivedAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreSettingsRoundTrip(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := &Store{pool: mock}
	mock.ExpectExec("INSERT INTO tenant_settings").
		WithArgs("tenant-1", []byte(`{"screening_window_minutes":180}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveSettings(context.Background(), "tenant-1", map[string]int{
		"screening_window_minutes": 180,
	}))

	mock.ExpectQuery("SELECT doc FROM tenant_settings").
		WithArgs("tenant-1").
		WillReturnRows(pgxmock.NewRows([]string{"doc"}).AddRow([]byte(`{"screening_window_minutes":180}`)))

	var loaded map[string]int
	require.NoError(t, store.LoadSettings(context.Background(), "tenant-1", &loaded))
	assert.Equal(t, 180, loaded["screening_window_minutes"])
	require.NoError(t, mock.ExpectationsWereMet())
}
