package video

import (
	"context"
	"strings"

	"github.com/clinichq/arrivals/pkg/logging"
)

const (
	// ProviderOpenVidu mints real sessions and can report join status.
	ProviderOpenVidu = "openvidu"
	// ProviderStatic derives a deterministic room URL and cannot report joins.
	ProviderStatic = "static"
)

// Session identifies a video consultation room.
type Session struct {
	ID      string
	JoinURL string
}

// Provider is the capability interface over video-conferencing backends.
// Backends differ in what they can do; the engine must never branch on the
// concrete type, only on the capability answers.
type Provider interface {
	// EnsureSession returns the session for an appointment, creating it if
	// needed. Must be safe to call repeatedly for the same appointment.
	EnsureSession(ctx context.Context, appointmentID string) (Session, error)
	// CanReportJoin reports whether HasJoined gives a meaningful answer.
	CanReportJoin() bool
	// HasJoined reports whether anyone has joined the session. Providers that
	// answer CanReportJoin false always return false here.
	HasJoined(ctx context.Context, sessionID string) (bool, error)
}

// SelectionConfig captures the credentials required to build a provider.
type SelectionConfig struct {
	Preference        string
	TenantID          string
	OpenViduBaseURL   string
	OpenViduSecret    string
	StaticRoomBaseURL string
}

// BuildProvider instantiates the configured video provider. It returns the
// provider, the name that was selected, and a reason when none could be
// initialized.
func BuildProvider(cfg SelectionConfig, logger *logging.Logger) (Provider, string, string) {
	if logger == nil {
		logger = logging.Default()
	}
	preference := strings.ToLower(strings.TrimSpace(cfg.Preference))
	if preference == "" {
		preference = ProviderStatic
	}

	switch preference {
	case ProviderOpenVidu:
		if cfg.OpenViduBaseURL == "" || cfg.OpenViduSecret == "" {
			var reasons []string
			if cfg.OpenViduBaseURL == "" {
				reasons = append(reasons, "OPENVIDU_BASE_URL missing")
			}
			if cfg.OpenViduSecret == "" {
				reasons = append(reasons, "OPENVIDU_SECRET missing")
			}
			return nil, "", strings.Join(reasons, ", ")
		}
		return NewOpenVidu(cfg.OpenViduBaseURL, cfg.OpenViduSecret, cfg.TenantID, logger), ProviderOpenVidu, ""
	case ProviderStatic:
		if cfg.StaticRoomBaseURL == "" {
			return nil, "", "STATIC_ROOM_BASE_URL missing"
		}
		return NewStaticRoom(cfg.StaticRoomBaseURL, cfg.TenantID), ProviderStatic, ""
	default:
		return nil, "", "unknown video provider " + preference
	}
}
