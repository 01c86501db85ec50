// Package arrivalsworker runs the three polling cycles that drive the
// notification engine: today's appointments, upcoming appointments, and
// inbound patient replies. Each poller owns its cadence; all of them feed
// the same engine, which owns correctness.
package arrivalsworker

import (
	"context"
	"time"

	"github.com/clinichq/arrivals/internal/pms"
	"github.com/clinichq/arrivals/internal/sms"
	"github.com/clinichq/arrivals/pkg/logging"
)

// SnapshotSource supplies fresh appointment snapshots from the PMS.
// Implemented by pms.Client and pms.DemoSource.
type SnapshotSource interface {
	TodaysAppointments(ctx context.Context) ([]pms.Appointment, error)
	UpcomingAppointments(ctx context.Context, lookaheadDays int) ([]pms.Appointment, error)
}

type stateLoader interface {
	LoadAppointmentStates(ctx context.Context, day time.Time) ([]pms.Appointment, error)
	LoadAppointmentStatesBetween(ctx context.Context, from, to time.Time) ([]pms.Appointment, error)
}

type notificationEngine interface {
	ProcessTodaysAppointments(ctx context.Context, stored, incoming []pms.Appointment) error
	ProcessUpcomingAppointments(ctx context.Context, stored, incoming []pms.Appointment) error
	ProcessIncomingMessages(ctx context.Context, stored []pms.Appointment, incoming []sms.InboundMessage) error
}

// TodayPoller reconciles today's snapshot against the stored view on a
// seconds-scale cadence so screening and video-invite windows are caught
// close to when they open.
type TodayPoller struct {
	source   SnapshotSource
	store    stateLoader
	engine   notificationEngine
	logger   *logging.Logger
	interval time.Duration
	clock    func() time.Time
}

func NewTodayPoller(source SnapshotSource, store stateLoader, engine notificationEngine, logger *logging.Logger) *TodayPoller {
	if logger == nil {
		logger = logging.Default()
	}
	return &TodayPoller{
		source:   source,
		store:    store,
		engine:   engine,
		logger:   logger,
		interval: 30 * time.Second,
		clock:    time.Now,
	}
}

func (p *TodayPoller) WithInterval(d time.Duration) *TodayPoller {
	if d > 0 {
		p.interval = d
	}
	return p
}

func (p *TodayPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

func (p *TodayPoller) drain(ctx context.Context) {
	incoming, err := p.source.TodaysAppointments(ctx)
	if err != nil {
		p.logger.Error("today poll fetch failed", "error", err)
		return
	}
	stored, err := p.store.LoadAppointmentStates(ctx, p.clock())
	if err != nil {
		p.logger.Error("today poll state load failed", "error", err)
		return
	}
	if err := p.engine.ProcessTodaysAppointments(ctx, stored, incoming); err != nil {
		p.logger.Error("today cycle failed", "error", err)
	}
}

// UpcomingPoller watches the near-future booking horizon on a minutes-scale
// cadence; newly scheduled visits get their registration message here.
type UpcomingPoller struct {
	source        SnapshotSource
	store         stateLoader
	engine        notificationEngine
	logger        *logging.Logger
	interval      time.Duration
	lookaheadDays int
	clock         func() time.Time
}

func NewUpcomingPoller(source SnapshotSource, store stateLoader, engine notificationEngine, logger *logging.Logger) *UpcomingPoller {
	if logger == nil {
		logger = logging.Default()
	}
	return &UpcomingPoller{
		source:        source,
		store:         store,
		engine:        engine,
		logger:        logger,
		interval:      5 * time.Minute,
		lookaheadDays: 3,
		clock:         time.Now,
	}
}

func (p *UpcomingPoller) WithInterval(d time.Duration) *UpcomingPoller {
	if d > 0 {
		p.interval = d
	}
	return p
}

func (p *UpcomingPoller) WithLookahead(days int) *UpcomingPoller {
	if days > 0 {
		p.lookaheadDays = days
	}
	return p
}

func (p *UpcomingPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

func (p *UpcomingPoller) drain(ctx context.Context) {
	incoming, err := p.source.UpcomingAppointments(ctx, p.lookaheadDays)
	if err != nil {
		p.logger.Error("upcoming poll fetch failed", "error", err)
		return
	}
	now := p.clock()
	stored, err := p.store.LoadAppointmentStatesBetween(ctx, now.AddDate(0, 0, 1), now.AddDate(0, 0, p.lookaheadDays))
	if err != nil {
		p.logger.Error("upcoming poll state load failed", "error", err)
		return
	}
	if err := p.engine.ProcessUpcomingAppointments(ctx, stored, incoming); err != nil {
		p.logger.Error("upcoming cycle failed", "error", err)
	}
}

// InboundPoller drains the transport's received messages and routes them
// against appointments from today through the booking horizon.
type InboundPoller struct {
	receiver      sms.Receiver
	store         stateLoader
	engine        notificationEngine
	logger        *logging.Logger
	interval      time.Duration
	lookaheadDays int
	clock         func() time.Time
}

func NewInboundPoller(receiver sms.Receiver, store stateLoader, engine notificationEngine, logger *logging.Logger) *InboundPoller {
	if logger == nil {
		logger = logging.Default()
	}
	return &InboundPoller{
		receiver:      receiver,
		store:         store,
		engine:        engine,
		logger:        logger,
		interval:      30 * time.Second,
		lookaheadDays: 3,
		clock:         time.Now,
	}
}

func (p *InboundPoller) WithInterval(d time.Duration) *InboundPoller {
	if d > 0 {
		p.interval = d
	}
	return p
}

func (p *InboundPoller) WithLookahead(days int) *InboundPoller {
	if days > 0 {
		p.lookaheadDays = days
	}
	return p
}

func (p *InboundPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

func (p *InboundPoller) drain(ctx context.Context) {
	incoming, err := p.receiver.Receive(ctx)
	if err != nil {
		p.logger.Error("inbound poll receive failed", "error", err)
		return
	}
	if len(incoming) == 0 {
		return
	}
	now := p.clock()
	stored, err := p.store.LoadAppointmentStatesBetween(ctx, now, now.AddDate(0, 0, p.lookaheadDays))
	if err != nil {
		p.logger.Error("inbound poll state load failed", "error", err)
		return
	}
	if err := p.engine.ProcessIncomingMessages(ctx, stored, incoming); err != nil {
		p.logger.Error("inbound cycle failed", "error", err)
	}
}
