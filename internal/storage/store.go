package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinichq/arrivals/internal/pms"
	"github.com/clinichq/arrivals/internal/sms"
	"github.com/clinichq/arrivals/internal/templates"
)

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the persistence gateway: appointment notification state keyed by
// (partition date, appointment id), message templates, unprocessable inbound
// messages and tenant settings.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

// SaveAppointmentState upserts the appointment and its notification flags.
// Partitioned by the appointment's start date so day-based cycles can load
// exactly their slice.
func (s *Store) SaveAppointmentState(ctx context.Context, appt pms.Appointment) error {
	query := `
		INSERT INTO appointment_states (
			partition_date, appointment_id, patient_id, patient_name, patient_phone,
			practitioner_id, practitioner_name, start_time, status, is_video,
			registration_sent, screening_sent, screening_response,
			video_invite_sent, video_joined, arrival_reported
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (partition_date, appointment_id)
		DO UPDATE SET patient_id = EXCLUDED.patient_id,
			patient_name = EXCLUDED.patient_name,
			patient_phone = EXCLUDED.patient_phone,
			practitioner_id = EXCLUDED.practitioner_id,
			practitioner_name = EXCLUDED.practitioner_name,
			start_time = EXCLUDED.start_time,
			status = EXCLUDED.status,
			is_video = EXCLUDED.is_video,
			registration_sent = appointment_states.registration_sent OR EXCLUDED.registration_sent,
			screening_sent = appointment_states.screening_sent OR EXCLUDED.screening_sent,
			screening_response = CASE WHEN EXCLUDED.screening_response <> '' THEN EXCLUDED.screening_response ELSE appointment_states.screening_response END,
			video_invite_sent = appointment_states.video_invite_sent OR EXCLUDED.video_invite_sent,
			video_joined = appointment_states.video_joined OR EXCLUDED.video_joined,
			arrival_reported = appointment_states.arrival_reported OR EXCLUDED.arrival_reported,
			updated_at = now()
	`
	n := appt.Notifications
	_, err := s.pool.Exec(ctx, query,
		partitionDate(appt.Start), appt.ID, appt.PatientID, appt.PatientName, appt.PatientPhone,
		appt.PractitionerID, appt.PractitionerName, appt.Start, string(appt.Status), appt.IsVideo,
		n.RegistrationSent, n.ScreeningSent, n.ScreeningResponse,
		n.VideoInviteSent, n.VideoJoined, n.ArrivalReported)
	if err != nil {
		return fmt.Errorf("storage: save appointment state: %w", err)
	}
	return nil
}

// LoadAppointmentState returns the remembered state for one appointment on
// its start date, or nil when the appointment has never been persisted.
func (s *Store) LoadAppointmentState(ctx context.Context, day time.Time, appointmentID string) (*pms.Appointment, error) {
	query := `
		SELECT appointment_id, patient_id, patient_name, patient_phone,
			practitioner_id, practitioner_name, start_time, status, is_video,
			registration_sent, screening_sent, screening_response,
			video_invite_sent, video_joined, arrival_reported
		FROM appointment_states
		WHERE partition_date = $1 AND appointment_id = $2
	`
	var a pms.Appointment
	var status string
	err := s.pool.QueryRow(ctx, query, partitionDate(day), appointmentID).Scan(
		&a.ID, &a.PatientID, &a.PatientName, &a.PatientPhone,
		&a.PractitionerID, &a.PractitionerName, &a.Start, &status, &a.IsVideo,
		&a.Notifications.RegistrationSent, &a.Notifications.ScreeningSent, &a.Notifications.ScreeningResponse,
		&a.Notifications.VideoInviteSent, &a.Notifications.VideoJoined, &a.Notifications.ArrivalReported)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: load appointment state %s: %w", appointmentID, err)
	}
	a.Status = pms.Status(status)
	return &a, nil
}

// LoadAppointmentStates returns the remembered view for one calendar day.
func (s *Store) LoadAppointmentStates(ctx context.Context, day time.Time) ([]pms.Appointment, error) {
	return s.loadStates(ctx, partitionDate(day), partitionDate(day))
}

// LoadAppointmentStatesBetween returns the remembered view for the inclusive
// date range [from, to].
func (s *Store) LoadAppointmentStatesBetween(ctx context.Context, from, to time.Time) ([]pms.Appointment, error) {
	return s.loadStates(ctx, partitionDate(from), partitionDate(to))
}

func (s *Store) loadStates(ctx context.Context, from, to time.Time) ([]pms.Appointment, error) {
	query := `
		SELECT appointment_id, patient_id, patient_name, patient_phone,
			practitioner_id, practitioner_name, start_time, status, is_video,
			registration_sent, screening_sent, screening_response,
			video_invite_sent, video_joined, arrival_reported
		FROM appointment_states
		WHERE partition_date BETWEEN $1 AND $2
		ORDER BY start_time, appointment_id
	`
	rows, err := s.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("storage: load appointment states: %w", err)
	}
	defer rows.Close()

	var out []pms.Appointment
	for rows.Next() {
		var a pms.Appointment
		var status string
		if err := rows.Scan(&a.ID, &a.PatientID, &a.PatientName, &a.PatientPhone,
			&a.PractitionerID, &a.PractitionerName, &a.Start, &status, &a.IsVideo,
			&a.Notifications.RegistrationSent, &a.Notifications.ScreeningSent, &a.Notifications.ScreeningResponse,
			&a.Notifications.VideoInviteSent, &a.Notifications.VideoJoined, &a.Notifications.ArrivalReported); err != nil {
			return nil, fmt.Errorf("storage: scan appointment state: %w", err)
		}
		a.Status = pms.Status(status)
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveTemplate validates and upserts the active template for a kind. Invalid
// templates never reach the table.
func (s *Store) SaveTemplate(ctx context.Context, tpl templates.Template) error {
	if err := templates.Validate(tpl.Kind, tpl.Body); err != nil {
		return err
	}
	query := `
		INSERT INTO message_templates (kind, body)
		VALUES ($1, $2)
		ON CONFLICT (kind)
		DO UPDATE SET body = EXCLUDED.body, updated_at = now()
	`
	if _, err := s.pool.Exec(ctx, query, string(tpl.Kind), tpl.Body); err != nil {
		return fmt.Errorf("storage: save template: %w", err)
	}
	return nil
}

// LoadTemplates returns all stored templates ordered by kind.
func (s *Store) LoadTemplates(ctx context.Context) ([]templates.Template, error) {
	rows, err := s.pool.Query(ctx, `SELECT kind, body FROM message_templates ORDER BY kind`)
	if err != nil {
		return nil, fmt.Errorf("storage: load templates: %w", err)
	}
	defer rows.Close()

	var out []templates.Template
	for rows.Next() {
		var kind, body string
		if err := rows.Scan(&kind, &body); err != nil {
			return nil, fmt.Errorf("storage: scan template: %w", err)
		}
		out = append(out, templates.Template{Kind: templates.Kind(kind), Body: body})
	}
	return out, rows.Err()
}

// Template implements templates.Source: the stored body for a kind, falling
// back to the built-in default.
func (s *Store) Template(ctx context.Context, kind templates.Kind) (string, error) {
	var body string
	err := s.pool.QueryRow(ctx, `SELECT body FROM message_templates WHERE kind = $1`, string(kind)).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if def, ok := templates.Defaults[kind]; ok {
				return def, nil
			}
			return "", fmt.Errorf("%w: %s", templates.ErrUnknownKind, kind)
		}
		return "", fmt.Errorf("storage: load template %s: %w", kind, err)
	}
	return body, nil
}

// SaveUnprocessableMessage records an inbound message that could not be
// matched to an appointment, for manual review.
func (s *Store) SaveUnprocessableMessage(ctx context.Context, msg sms.InboundMessage) error {
	query := `
		INSERT INTO unprocessable_messages (received_date, phone, body, received_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.pool.Exec(ctx, query, partitionDate(msg.ReceivedAt), msg.From, msg.Body, msg.ReceivedAt); err != nil {
		return fmt.Errorf("storage: save unprocessable message: %w", err)
	}
	return nil
}

// LoadUnprocessableMessages lists the unmatched messages received on a day.
func (s *Store) LoadUnprocessableMessages(ctx context.Context, day time.Time) ([]sms.InboundMessage, error) {
	query := `
		SELECT phone, body, received_at
		FROM unprocessable_messages
		WHERE received_date = $1
		ORDER BY received_at
	`
	rows, err := s.pool.Query(ctx, query, partitionDate(day))
	if err != nil {
		return nil, fmt.Errorf("storage: load unprocessable messages: %w", err)
	}
	defer rows.Close()

	var out []sms.InboundMessage
	for rows.Next() {
		var m sms.InboundMessage
		if err := rows.Scan(&m.From, &m.Body, &m.ReceivedAt); err != nil {
			return nil, fmt.Errorf("storage: scan unprocessable message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ClearUnprocessableMessages discards the reviewed messages of a day.
func (s *Store) ClearUnprocessableMessages(ctx context.Context, day time.Time) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM unprocessable_messages WHERE received_date = $1`, partitionDate(day)); err != nil {
		return fmt.Errorf("storage: clear unprocessable messages: %w", err)
	}
	return nil
}

// SaveSettings stores the tenant's settings document.
func (s *Store) SaveSettings(ctx context.Context, tenantID string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("storage: marshal settings: %w", err)
	}
	query := `
		INSERT INTO tenant_settings (tenant_id, doc)
		VALUES ($1, $2)
		ON CONFLICT (tenant_id)
		DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()
	`
	if _, err := s.pool.Exec(ctx, query, tenantID, raw); err != nil {
		return fmt.Errorf("storage: save settings: %w", err)
	}
	return nil
}

// LoadSettings unmarshals the tenant's settings document into out.
func (s *Store) LoadSettings(ctx context.Context, tenantID string, out any) error {
	var raw []byte
	if err := s.pool.QueryRow(ctx, `SELECT doc FROM tenant_settings WHERE tenant_id = $1`, tenantID).Scan(&raw); err != nil {
		return fmt.Errorf("storage: load settings: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("storage: decode settings: %w", err)
	}
	return nil
}

func partitionDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
