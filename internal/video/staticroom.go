package video

import (
	"context"
	"strings"
)

// StaticRoom derives room URLs from a base URL (e.g. a public Jitsi
// instance). No server round-trip happens: the room exists once someone
// opens the link, which also means join status is unknowable.
type StaticRoom struct {
	baseURL  string
	tenantID string
}

func NewStaticRoom(baseURL, tenantID string) *StaticRoom {
	return &StaticRoom{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		tenantID: tenantID,
	}
}

var _ Provider = (*StaticRoom)(nil)

func (s *StaticRoom) EnsureSession(_ context.Context, appointmentID string) (Session, error) {
	name := s.tenantID + "-" + appointmentID
	return Session{
		ID:      name,
		JoinURL: s.baseURL + "/" + name,
	}, nil
}

func (s *StaticRoom) CanReportJoin() bool {
	return false
}

func (s *StaticRoom) HasJoined(context.Context, string) (bool, error) {
	return false, nil
}
