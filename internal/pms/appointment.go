package pms

import "time"

// Status mirrors the appointment status vocabulary of the practice management
// system. Only Booked, Arrived and Fulfilled drive messaging decisions; other
// values are carried through untouched.
type Status string

const (
	StatusBooked    Status = "booked"
	StatusArrived   Status = "arrived"
	StatusFulfilled Status = "fulfilled"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "noshow"
)

// NotificationState records which messages have been issued for an
// appointment, plus the patient replies we have matched so far. The sent
// flags are monotonic: once true they never reset for the appointment's
// lifetime.
type NotificationState struct {
	RegistrationSent  bool
	ScreeningSent     bool
	ScreeningResponse string // "", "yes" or "no"
	VideoInviteSent   bool
	VideoJoined       bool
	ArrivalReported   bool
}

// Appointment is one scheduled clinic visit as known to the PMS, enriched
// with the locally-owned notification state.
type Appointment struct {
	ID               string
	PatientID        string
	PatientName      string
	PatientPhone     string // empty suppresses all messaging
	PractitionerID   string
	PractitionerName string
	Start            time.Time
	Status           Status
	IsVideo          bool

	Notifications NotificationState
}

// FindByID returns the appointment with the given id, or nil.
func FindByID(appts []Appointment, id string) *Appointment {
	for i := range appts {
		if appts[i].ID == id {
			return &appts[i]
		}
	}
	return nil
}
