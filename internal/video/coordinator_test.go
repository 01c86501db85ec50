package video

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	calls int
}

func (p *countingProvider) EnsureSession(_ context.Context, appointmentID string) (Session, error) {
	p.calls++
	return Session{
		ID:      "tenant-" + appointmentID,
		JoinURL: fmt.Sprintf("https://video.example.com/#tenant-%s-%d", appointmentID, p.calls),
	}, nil
}

func (p *countingProvider) CanReportJoin() bool { return false }

func (p *countingProvider) HasJoined(context.Context, string) (bool, error) { return false, nil }

func TestCoordinatorEnsureSessionIdempotentInMemory(t *testing.T) {
	provider := &countingProvider{}
	coord := NewCoordinator(provider, nil, nil)

	first, err := coord.EnsureSession(context.Background(), "1002")
	require.NoError(t, err)
	second, err := coord.EnsureSession(context.Background(), "1002")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, provider.calls)
}

func TestCoordinatorSharesSessionsThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	provider := &countingProvider{}
	first := NewCoordinator(provider, client, nil)
	sess, err := first.EnsureSession(context.Background(), "1002")
	require.NoError(t, err)

	// A second coordinator (fresh local cache) sees the redis entry and does
	// not touch the provider again.
	second := NewCoordinator(provider, client, nil)
	again, err := second.EnsureSession(context.Background(), "1002")
	require.NoError(t, err)

	assert.Equal(t, sess, again)
	assert.Equal(t, 1, provider.calls)
}

func TestCoordinatorHasJoinedRespectsCapability(t *testing.T) {
	coord := NewCoordinator(&countingProvider{}, nil, nil)
	assert.False(t, coord.CanReportJoin())
	joined, err := coord.HasJoined(context.Background(), "any")
	require.NoError(t, err)
	assert.False(t, joined)
}

func TestStaticRoomURLs(t *testing.T) {
	p := NewStaticRoom("https://meet.jit.si/", "clinic-1")
	sess, err := p.EnsureSession(context.Background(), "1002")
	require.NoError(t, err)
	assert.Equal(t, "clinic-1-1002", sess.ID)
	assert.Equal(t, "https://meet.jit.si/clinic-1-1002", sess.JoinURL)
	assert.False(t, p.CanReportJoin())
}

func TestOpenViduEnsureSession(t *testing.T) {
	var posts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/openvidu/api/sessions":
			posts++
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "OPENVIDUAPP", user)
			assert.Equal(t, "secret", pass)
			if posts > 1 {
				w.WriteHeader(http.StatusConflict)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "clinic-1-1002"})
		case r.Method == http.MethodGet && r.URL.Path == "/openvidu/api/sessions/clinic-1-1002":
			_, _ = w.Write([]byte(`{"connections":{"numberOfElements":1}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := NewOpenVidu(srv.URL, "secret", "clinic-1", nil)

	sess, err := p.EnsureSession(context.Background(), "1002")
	require.NoError(t, err)
	assert.Equal(t, "clinic-1-1002", sess.ID)
	assert.Equal(t, srv.URL+"/#clinic-1-1002", sess.JoinURL)

	// Conflict on re-create is treated as the session already existing.
	again, err := p.EnsureSession(context.Background(), "1002")
	require.NoError(t, err)
	assert.Equal(t, sess, again)

	assert.True(t, p.CanReportJoin())
	joined, err := p.HasJoined(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.True(t, joined)
}

func TestBuildProvider(t *testing.T) {
	p, name, reason := BuildProvider(SelectionConfig{Preference: "static", StaticRoomBaseURL: "https://meet.jit.si", TenantID: "t"}, nil)
	require.NotNil(t, p)
	assert.Equal(t, ProviderStatic, name)
	assert.Empty(t, reason)

	p, _, reason = BuildProvider(SelectionConfig{Preference: "openvidu"}, nil)
	assert.Nil(t, p)
	assert.Contains(t, reason, "OPENVIDU_BASE_URL missing")

	p, _, reason = BuildProvider(SelectionConfig{Preference: "zoom"}, nil)
	assert.Nil(t, p)
	assert.Contains(t, reason, "unknown video provider")
}
