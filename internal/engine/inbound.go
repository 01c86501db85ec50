package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/clinichq/arrivals/internal/pms"
	"github.com/clinichq/arrivals/internal/sms"
)

// Fixed patient-facing replies. These are operational fallbacks, not
// templated notifications, so they are not editable per installation.
const (
	replyUnknownCaller = "Sorry, we could not match this number to an appointment. Please phone the clinic reception for help."
	replyNotExpected   = "Thanks for your message. No reply is needed right now. If you need help, please phone the clinic reception."
	replyClarify       = "Sorry, we did not understand your reply. Please answer YES or NO."
	replyScreeningYes  = "Thank you. When you arrive at the clinic, reply to this number and we will let you know when to come in."
	replyScreeningNo   = "Thank you. The clinic will phone you to rearrange your appointment. Please do not attend in person."
	replyArrival       = "Thanks for letting us know you have arrived. Please wait outside and we will message you when it is time to come in."
	replyVideoAck      = "Thank you. Your clinician will join the video call shortly."
)

// ProcessIncomingMessages routes each received text to the appointment
// awaiting it. Messages that match nothing are answered with a reception
// redirect and kept for manual review; a bad message never aborts the batch.
func (e *Engine) ProcessIncomingMessages(ctx context.Context, stored []pms.Appointment, incoming []sms.InboundMessage) error {
	started := e.clock()
	defer func() {
		e.metrics.ObserveCycleDuration("inbound", e.clock().Sub(started).Seconds())
	}()

	now := e.clock()
	for _, msg := range incoming {
		if err := e.routeInbound(ctx, stored, msg, now); err != nil {
			e.logger.Error("inbound message handling failed", "error", err, "from", msg.From)
		}
	}
	return nil
}

func (e *Engine) routeInbound(ctx context.Context, stored []pms.Appointment, msg sms.InboundMessage, now time.Time) error {
	var candidates []pms.Appointment
	for _, appt := range stored {
		if appt.PatientPhone != "" && appt.PatientPhone == msg.From {
			candidates = append(candidates, appt)
		}
	}

	if len(candidates) == 0 {
		e.metrics.ObserveInbound("unmatched")
		e.reply(ctx, msg.From, replyUnknownCaller)
		if err := e.store.SaveUnprocessableMessage(ctx, msg); err != nil {
			return fmt.Errorf("engine: save unmatched message: %w", err)
		}
		return nil
	}

	chosen := chooseCandidate(candidates, now)
	err := e.locker.WithAppointmentLock(ctx, chosen.ID, func(ctx context.Context) error {
		return e.dispatchReply(ctx, chosen, msg, now)
	})
	if errors.Is(err, ErrLockNotAcquired) {
		// Another cycle owns the appointment right now. The message is lost
		// from this poll but Twilio re-serves unacknowledged history; log
		// and move on rather than guessing at state mid-mutation.
		e.logger.Warn("inbound reply skipped, appointment locked", "appointment_id", chosen.ID)
		return nil
	}
	return err
}

// chooseCandidate picks one appointment deterministically when a phone
// number maps to several: the soonest start at or after now, ties broken by
// appointment id; only past appointments means the most recent one.
func chooseCandidate(candidates []pms.Appointment, now time.Time) pms.Appointment {
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].Start.Equal(candidates[j].Start) {
			return candidates[i].Start.Before(candidates[j].Start)
		}
		return candidates[i].ID < candidates[j].ID
	})
	for _, appt := range candidates {
		if !appt.Start.Before(now) {
			return appt
		}
	}
	return candidates[len(candidates)-1]
}

// dispatchReply applies the pending-response priority chain: an outstanding
// video invite, then a same-day arrival notice, then an unanswered screening
// question. An unrecognized reply never clears a pending state.
func (e *Engine) dispatchReply(ctx context.Context, appt pms.Appointment, msg sms.InboundMessage, now time.Time) error {
	appt.Notifications = mergeStates(appt.Notifications, e.overlayFor(appt.ID))
	e.refreshState(ctx, &appt)

	switch {
	case appt.Notifications.VideoInviteSent && !appt.Notifications.VideoJoined:
		appt.Notifications.VideoJoined = true
		e.persist(ctx, appt)
		e.metrics.ObserveInbound("video_ack")
		e.reply(ctx, msg.From, replyVideoAck)
		return nil

	case isToday(appt.Start, now) && !appt.Notifications.ArrivalReported &&
		!(appt.Notifications.ScreeningSent && appt.Notifications.ScreeningResponse == ""):
		// A same-day message is an arrival notice, unless the screening
		// question is still outstanding; that answer comes first.
		appt.Notifications.ArrivalReported = true
		e.persist(ctx, appt)
		e.metrics.ObserveInbound("arrival")
		e.reply(ctx, msg.From, replyArrival)
		return nil

	case appt.Notifications.ScreeningSent && appt.Notifications.ScreeningResponse == "":
		answer := strings.ToLower(strings.TrimSpace(msg.Body))
		switch answer {
		case "yes":
			appt.Notifications.ScreeningResponse = "yes"
			e.persist(ctx, appt)
			e.metrics.ObserveInbound("screening_yes")
			e.reply(ctx, msg.From, replyScreeningYes)
		case "no":
			appt.Notifications.ScreeningResponse = "no"
			e.persist(ctx, appt)
			e.metrics.ObserveInbound("screening_no")
			e.reply(ctx, msg.From, replyScreeningNo)
		default:
			// Leave the question pending; ask again.
			e.metrics.ObserveInbound("screening_unrecognized")
			e.reply(ctx, msg.From, replyClarify)
		}
		return nil

	default:
		e.metrics.ObserveInbound("unexpected")
		e.reply(ctx, msg.From, replyNotExpected)
		if err := e.store.SaveUnprocessableMessage(ctx, msg); err != nil {
			return fmt.Errorf("engine: save unexpected message: %w", err)
		}
		return nil
	}
}

// reply sends a fixed acknowledgement. The state mutation that triggered it
// is already recorded; a failed acknowledgement is logged, not retried.
func (e *Engine) reply(ctx context.Context, to, body string) {
	if err := e.sender.Send(ctx, sms.Message{To: to, Body: body}); err != nil {
		e.logger.Error("inbound acknowledgement not sent", "error", err, "to", to)
	}
}
