package pms

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// DemoSource is an in-memory snapshot source for local development. It
// fabricates a stable roster of appointments around the current time so the
// pollers have something to chew on without a PMS connection.
type DemoSource struct {
	mu    sync.Mutex
	appts []Appointment
	clock func() time.Time
}

// NewDemoSource seeds a demo roster: a handful of visits today (one of them a
// video consultation inside the screening window) and a few over the coming
// days. Appointment ids are stable for the lifetime of the source, which is
// what the merge logic needs.
func NewDemoSource() *DemoSource {
	return newDemoSource(time.Now)
}

func newDemoSource(clock func() time.Time) *DemoSource {
	d := &DemoSource{clock: clock}
	faker := gofakeit.New(0)
	now := d.clock()

	mkAppt := func(n int, start time.Time, video bool) Appointment {
		return Appointment{
			ID:               fmt.Sprintf("demo-%04d", n),
			PatientID:        faker.UUID(),
			PatientName:      faker.Name(),
			PatientPhone:     faker.Phone(),
			PractitionerID:   fmt.Sprintf("prac-%d", n%3),
			PractitionerName: "Dr " + faker.LastName(),
			Start:            start,
			Status:           StatusBooked,
			IsVideo:          video,
		}
	}

	n := 0
	for _, offset := range []time.Duration{45 * time.Minute, 2 * time.Hour, 5 * time.Hour} {
		n++
		d.appts = append(d.appts, mkAppt(n, now.Add(offset), n == 1))
	}
	for day := 1; day <= 3; day++ {
		n++
		start := time.Date(now.Year(), now.Month(), now.Day(), 9+day, 15, 0, 0, now.Location()).AddDate(0, 0, day)
		d.appts = append(d.appts, mkAppt(n, start, false))
	}
	return d
}

// TodaysAppointments returns the demo appointments falling on today's date.
func (d *DemoSource) TodaysAppointments(_ context.Context) ([]Appointment, error) {
	return d.filter(func(start, now time.Time) bool {
		return sameDate(start, now)
	}), nil
}

// UpcomingAppointments returns the demo appointments on later dates.
func (d *DemoSource) UpcomingAppointments(_ context.Context, _ int) ([]Appointment, error) {
	return d.filter(func(start, now time.Time) bool {
		return !sameDate(start, now) && start.After(now)
	}), nil
}

func (d *DemoSource) filter(keep func(start, now time.Time) bool) []Appointment {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock()
	var out []Appointment
	for _, a := range d.appts {
		if keep(a.Start, now) {
			out = append(out, a)
		}
	}
	return out
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
