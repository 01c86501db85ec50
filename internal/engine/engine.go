package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/clinichq/arrivals/internal/observability/metrics"
	"github.com/clinichq/arrivals/internal/pms"
	"github.com/clinichq/arrivals/internal/sms"
	"github.com/clinichq/arrivals/internal/templates"
	"github.com/clinichq/arrivals/internal/video"
	"github.com/clinichq/arrivals/pkg/logging"
)

const (
	defaultScreeningWindow = 180 * time.Minute
	defaultVideoWindow     = 10 * time.Minute
)

// StateStore is the slice of the persistence gateway the engine needs.
type StateStore interface {
	SaveAppointmentState(ctx context.Context, appt pms.Appointment) error
	LoadAppointmentState(ctx context.Context, day time.Time, appointmentID string) (*pms.Appointment, error)
	SaveUnprocessableMessage(ctx context.Context, msg sms.InboundMessage) error
}

// VideoSessions mints join URLs for telehealth appointments. Implemented by
// video.Coordinator.
type VideoSessions interface {
	EnsureSession(ctx context.Context, appointmentID string) (video.Session, error)
	CanReportJoin() bool
	HasJoined(ctx context.Context, sessionID string) (bool, error)
}

// Alerter raises operator alerts for conditions that need a human.
type Alerter interface {
	Alert(ctx context.Context, subject, body string) error
}

// Config wires the engine's collaborators. Sender, Store and Resolver are
// required; everything else has a safe default.
type Config struct {
	Sender   sms.Sender
	Store    StateStore
	Resolver *templates.Resolver
	Video    VideoSessions
	Locker   Locker
	Alerter  Alerter
	Logger   *logging.Logger
	Metrics  *metrics.EngineMetrics

	ScreeningWindow time.Duration
	VideoWindow     time.Duration

	// Clock is overridable in tests.
	Clock func() time.Time
}

// Engine is the notification decision core. Three entry points, one per
// polling cadence, all sharing the same time-window primitives and the same
// per-appointment send-then-persist sequence.
type Engine struct {
	sender   sms.Sender
	store    StateStore
	resolver *templates.Resolver
	video    VideoSessions
	locker   Locker
	alerter  Alerter
	logger   *logging.Logger
	metrics  *metrics.EngineMetrics
	clock    func() time.Time

	screeningWindow time.Duration
	videoWindow     time.Duration

	// pending holds notification state that was set after a confirmed send
	// but could not be persisted. It shadows the stored view until a retry
	// succeeds, so a store outage cannot cause a duplicate send within this
	// process lifetime. A restart inside that gap can double-send; that is
	// the accepted failure mode, preferred over silently missing a patient.
	mu      sync.Mutex
	pending map[string]pms.NotificationState
}

func New(cfg Config) (*Engine, error) {
	if cfg.Sender == nil {
		return nil, errors.New("engine: sender is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("engine: template resolver is required")
	}
	if cfg.Locker == nil {
		cfg.Locker = NewNoopLocker()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.ScreeningWindow <= 0 {
		cfg.ScreeningWindow = defaultScreeningWindow
	}
	if cfg.VideoWindow <= 0 {
		cfg.VideoWindow = defaultVideoWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Engine{
		sender:          cfg.Sender,
		store:           cfg.Store,
		resolver:        cfg.Resolver,
		video:           cfg.Video,
		locker:          cfg.Locker,
		alerter:         cfg.Alerter,
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
		clock:           cfg.Clock,
		screeningWindow: cfg.ScreeningWindow,
		videoWindow:     cfg.VideoWindow,
		pending:         make(map[string]pms.NotificationState),
	}, nil
}

// ProcessTodaysAppointments reconciles the stored view of today's
// appointments with a fresh snapshot and fires at most one same-day rule per
// appointment: the screening message when its window opens, else the video
// invite when its own window opens. Appointments observed for the first time
// are persisted and left alone until the next pass. Failures are isolated per
// appointment.
func (e *Engine) ProcessTodaysAppointments(ctx context.Context, stored, incoming []pms.Appointment) error {
	started := e.clock()
	defer func() {
		e.metrics.ObserveCycleDuration("today", e.clock().Sub(started).Seconds())
	}()

	now := e.clock()
	for _, inc := range incoming {
		cur := inc
		prev := pms.FindByID(stored, cur.ID)
		if prev == nil {
			if overlay, ok := e.pendingState(cur.ID); ok {
				// Sent earlier but never persisted. Carry the in-memory
				// flags and retry the write instead of re-deciding.
				cur.Notifications = mergeStates(cur.Notifications, overlay)
				e.persist(ctx, cur)
				continue
			}
			cur.Notifications = pms.NotificationState{}
			if err := e.store.SaveAppointmentState(ctx, cur); err != nil {
				e.logger.Error("failed to persist newly observed appointment", "error", err, "appointment_id", cur.ID)
			}
			continue
		}

		cur.Notifications = mergeStates(prev.Notifications, e.overlayFor(cur.ID))
		prevCopy := *prev
		err := e.locker.WithAppointmentLock(ctx, cur.ID, func(ctx context.Context) error {
			return e.applyTodayRules(ctx, prevCopy, cur, now)
		})
		if err != nil {
			if errors.Is(err, ErrLockNotAcquired) {
				e.logger.Debug("appointment locked by another cycle, skipping", "appointment_id", cur.ID)
				continue
			}
			e.logger.Error("today cycle failed for appointment", "error", err, "appointment_id", cur.ID)
		}
	}
	return nil
}

func (e *Engine) applyTodayRules(ctx context.Context, prev, cur pms.Appointment, now time.Time) error {
	// Now that the lock is held, fold in whatever another worker persisted
	// after our stored snapshot was loaded.
	e.refreshState(ctx, &cur)

	_, held := e.pendingState(cur.ID)
	changed := cur.Status != prev.Status || !cur.Start.Equal(prev.Start)

	if cur.PatientPhone == "" || !isToday(cur.Start, now) {
		if held || changed {
			e.persist(ctx, cur)
		}
		return nil
	}

	if prev.Status == pms.StatusArrived && cur.Status == pms.StatusFulfilled {
		e.reportUnimplementedTransition(ctx, cur)
		e.persist(ctx, cur)
		return nil
	}

	switch {
	case cur.Status == pms.StatusBooked && !cur.Notifications.ScreeningSent && inWindow(now, cur.Start, e.screeningWindow):
		body, err := e.resolver.Resolve(ctx, templates.KindScreening, cur, nil)
		if err != nil {
			e.metrics.ObserveNotification(string(templates.KindScreening), "resolve_failed")
			return fmt.Errorf("engine: resolve screening for %s: %w", cur.ID, err)
		}
		return e.sendAndPersist(ctx, cur, templates.KindScreening, body, func(n *pms.NotificationState) {
			n.ScreeningSent = true
		})

	case cur.Status == pms.StatusBooked && cur.IsVideo && !cur.Notifications.VideoInviteSent && inWindow(now, cur.Start, e.videoWindow):
		if e.video == nil {
			return fmt.Errorf("engine: video appointment %s but no video provider configured", cur.ID)
		}
		sess, err := e.video.EnsureSession(ctx, cur.ID)
		if err != nil {
			e.metrics.ObserveNotification(string(templates.KindVideoInvite), "session_failed")
			return fmt.Errorf("engine: video session for %s: %w", cur.ID, err)
		}
		body, err := e.resolver.Resolve(ctx, templates.KindVideoInvite, cur, map[string]string{"URL": sess.JoinURL})
		if err != nil {
			e.metrics.ObserveNotification(string(templates.KindVideoInvite), "resolve_failed")
			return fmt.Errorf("engine: resolve video invite for %s: %w", cur.ID, err)
		}
		return e.sendAndPersist(ctx, cur, templates.KindVideoInvite, body, func(n *pms.NotificationState) {
			n.VideoInviteSent = true
		})
	}

	// Where the provider can observe the room, pick up a join the patient
	// never texted back about.
	if cur.IsVideo && cur.Notifications.VideoInviteSent && !cur.Notifications.VideoJoined &&
		e.video != nil && e.video.CanReportJoin() {
		if joined := e.providerReportsJoin(ctx, cur); joined {
			cur.Notifications.VideoJoined = true
			e.persist(ctx, cur)
			return nil
		}
	}

	if held || changed {
		// held: flags from an earlier confirmed send are still only in
		// memory, retry the write. changed: remember the new status or start.
		e.persist(ctx, cur)
	}
	return nil
}

func (e *Engine) providerReportsJoin(ctx context.Context, appt pms.Appointment) bool {
	sess, err := e.video.EnsureSession(ctx, appt.ID)
	if err != nil {
		e.logger.Warn("video session lookup failed, keeping join unconfirmed", "error", err, "appointment_id", appt.ID)
		return false
	}
	joined, err := e.video.HasJoined(ctx, sess.ID)
	if err != nil {
		e.logger.Warn("join query failed, keeping join unconfirmed", "error", err, "appointment_id", appt.ID)
		return false
	}
	return joined
}

// ProcessUpcomingAppointments handles near-future appointments. A newly
// observed appointment with a phone number gets the registration message on
// this very pass; this is the one rule that fires on first observation.
func (e *Engine) ProcessUpcomingAppointments(ctx context.Context, stored, incoming []pms.Appointment) error {
	started := e.clock()
	defer func() {
		e.metrics.ObserveCycleDuration("upcoming", e.clock().Sub(started).Seconds())
	}()

	now := e.clock()
	for _, inc := range incoming {
		cur := inc
		prev := pms.FindByID(stored, cur.ID)
		if prev != nil {
			cur.Notifications = mergeStates(prev.Notifications, e.overlayFor(cur.ID))
			if _, held := e.pendingState(cur.ID); held || cur.Status != prev.Status || !cur.Start.Equal(prev.Start) {
				e.persist(ctx, cur)
			}
			continue
		}

		cur.Notifications = mergeStates(pms.NotificationState{}, e.overlayFor(cur.ID))
		err := e.locker.WithAppointmentLock(ctx, cur.ID, func(ctx context.Context) error {
			return e.registerNewAppointment(ctx, cur, now)
		})
		if err != nil {
			if errors.Is(err, ErrLockNotAcquired) {
				e.logger.Debug("appointment locked by another cycle, skipping", "appointment_id", cur.ID)
				continue
			}
			e.logger.Error("upcoming cycle failed for appointment", "error", err, "appointment_id", cur.ID)
		}
	}
	return nil
}

func (e *Engine) registerNewAppointment(ctx context.Context, cur pms.Appointment, now time.Time) error {
	e.refreshState(ctx, &cur)

	if cur.PatientPhone == "" || !isNearFuture(cur.Start, now) || cur.Notifications.RegistrationSent {
		e.persist(ctx, cur)
		return nil
	}

	// A failed resolve or send leaves the appointment unpersisted: the next
	// pass sees it as new again and retries the registration send.
	body, err := e.resolver.Resolve(ctx, templates.KindRegistration, cur, nil)
	if err != nil {
		e.metrics.ObserveNotification(string(templates.KindRegistration), "resolve_failed")
		return fmt.Errorf("engine: resolve registration for %s: %w", cur.ID, err)
	}
	return e.sendAndPersist(ctx, cur, templates.KindRegistration, body, func(n *pms.NotificationState) {
		n.RegistrationSent = true
	})
}

// sendAndPersist is the one place a notification flag becomes true: only
// after the transport confirms acceptance, and persisted immediately after.
// A persist failure keeps the flag in memory and raises an alert; it does
// not fail the appointment.
func (e *Engine) sendAndPersist(ctx context.Context, appt pms.Appointment, kind templates.Kind, body string, setFlag func(*pms.NotificationState)) error {
	if err := e.sender.Send(ctx, sms.Message{To: appt.PatientPhone, Body: body}); err != nil {
		e.metrics.ObserveNotification(string(kind), "send_failed")
		return fmt.Errorf("engine: send %s for %s: %w", kind, appt.ID, err)
	}
	setFlag(&appt.Notifications)
	e.metrics.ObserveNotification(string(kind), "sent")
	e.logger.Info("notification sent", "kind", string(kind), "appointment_id", appt.ID, "to", appt.PatientPhone)

	e.persist(ctx, appt)
	return nil
}

// refreshState re-reads the persisted state for one appointment and merges
// it in. Called inside the appointment lock so the flag decision is based on
// what another worker may have written since our snapshot was loaded. A read
// failure keeps the snapshot view, preferring a possible duplicate over a
// missed patient.
func (e *Engine) refreshState(ctx context.Context, appt *pms.Appointment) {
	fresh, err := e.store.LoadAppointmentState(ctx, appt.Start, appt.ID)
	if err != nil {
		e.logger.Warn("state re-read failed, deciding on the snapshot view", "error", err, "appointment_id", appt.ID)
		return
	}
	if fresh != nil {
		appt.Notifications = mergeStates(appt.Notifications, fresh.Notifications)
	}
}

// persist writes the appointment state, falling back to the in-memory
// pending overlay when the store is unavailable.
func (e *Engine) persist(ctx context.Context, appt pms.Appointment) {
	if err := e.store.SaveAppointmentState(ctx, appt); err != nil {
		e.rememberPending(appt.ID, appt.Notifications)
		e.logger.Error("appointment state not persisted, holding flags in memory",
			"error", err, "appointment_id", appt.ID)
		e.alert(ctx, "appointment state not persisted",
			fmt.Sprintf("Appointment %s: notification state could not be written after a confirmed send. A restart before the store recovers may duplicate a message.", appt.ID))
		return
	}
	e.clearPending(appt.ID)
}

func (e *Engine) reportUnimplementedTransition(ctx context.Context, appt pms.Appointment) {
	e.metrics.ObserveUnimplementedTransition()
	e.logger.Error("unhandled appointment transition arrived->fulfilled",
		"appointment_id", appt.ID, "patient_id", appt.PatientID)
	e.alert(ctx, "unhandled appointment transition",
		fmt.Sprintf("Appointment %s for patient %s moved arrived -> fulfilled. No message is defined for this transition yet; the patient was not notified.", appt.ID, appt.PatientID))
}

func (e *Engine) alert(ctx context.Context, subject, body string) {
	if e.alerter == nil {
		return
	}
	if err := e.alerter.Alert(ctx, subject, body); err != nil {
		e.logger.Error("operator alert failed", "error", err, "subject", subject)
	}
}

func (e *Engine) rememberPending(id string, state pms.NotificationState) {
	e.mu.Lock()
	e.pending[id] = mergeStates(e.pending[id], state)
	e.mu.Unlock()
}

func (e *Engine) clearPending(id string) {
	e.mu.Lock()
	delete(e.pending, id)
	e.mu.Unlock()
}

func (e *Engine) pendingState(id string) (pms.NotificationState, bool) {
	e.mu.Lock()
	state, ok := e.pending[id]
	e.mu.Unlock()
	return state, ok
}

func (e *Engine) overlayFor(id string) pms.NotificationState {
	state, _ := e.pendingState(id)
	return state
}

// mergeStates combines two notification states monotonically: a sent flag
// from either side stays set, the first non-empty screening response wins.
func mergeStates(a, b pms.NotificationState) pms.NotificationState {
	out := a
	out.RegistrationSent = a.RegistrationSent || b.RegistrationSent
	out.ScreeningSent = a.ScreeningSent || b.ScreeningSent
	if out.ScreeningResponse == "" {
		out.ScreeningResponse = b.ScreeningResponse
	}
	out.VideoInviteSent = a.VideoInviteSent || b.VideoInviteSent
	out.VideoJoined = a.VideoJoined || b.VideoJoined
	out.ArrivalReported = a.ArrivalReported || b.ArrivalReported
	return out
}
