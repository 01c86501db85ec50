package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clinichq/arrivals/pkg/logging"
)

const sessionCacheTTL = 24 * time.Hour

// Coordinator wraps a Provider with a session cache so repeated EnsureSession
// calls for one appointment never mint duplicate rooms, even when the
// provider itself is not idempotent. With Redis configured the cache survives
// restarts and is shared between instances; without it a process-local map
// is used.
type Coordinator struct {
	provider Provider
	redis    *redis.Client
	logger   *logging.Logger

	mu    sync.Mutex
	local map[string]Session
}

func NewCoordinator(provider Provider, redisClient *redis.Client, logger *logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Coordinator{
		provider: provider,
		redis:    redisClient,
		logger:   logger,
		local:    make(map[string]Session),
	}
}

func sessionKey(appointmentID string) string {
	return "video:session:" + appointmentID
}

// EnsureSession returns the cached session for the appointment or asks the
// provider for one.
func (c *Coordinator) EnsureSession(ctx context.Context, appointmentID string) (Session, error) {
	if sess, ok := c.cached(ctx, appointmentID); ok {
		return sess, nil
	}

	sess, err := c.provider.EnsureSession(ctx, appointmentID)
	if err != nil {
		return Session{}, fmt.Errorf("video: ensure session for %s: %w", appointmentID, err)
	}
	c.remember(ctx, appointmentID, sess)
	return sess, nil
}

// CanReportJoin passes through the provider capability.
func (c *Coordinator) CanReportJoin() bool {
	return c.provider.CanReportJoin()
}

// HasJoined answers false without a provider round-trip when the provider
// cannot know.
func (c *Coordinator) HasJoined(ctx context.Context, sessionID string) (bool, error) {
	if !c.provider.CanReportJoin() {
		return false, nil
	}
	return c.provider.HasJoined(ctx, sessionID)
}

func (c *Coordinator) cached(ctx context.Context, appointmentID string) (Session, bool) {
	c.mu.Lock()
	sess, ok := c.local[appointmentID]
	c.mu.Unlock()
	if ok {
		return sess, true
	}
	if c.redis == nil {
		return Session{}, false
	}
	raw, err := c.redis.Get(ctx, sessionKey(appointmentID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("video session cache read failed", "error", err, "appointment_id", appointmentID)
		}
		return Session{}, false
	}
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		c.logger.Warn("video session cache entry corrupt", "error", err, "appointment_id", appointmentID)
		return Session{}, false
	}
	c.mu.Lock()
	c.local[appointmentID] = sess
	c.mu.Unlock()
	return sess, true
}

func (c *Coordinator) remember(ctx context.Context, appointmentID string, sess Session) {
	c.mu.Lock()
	c.local[appointmentID] = sess
	c.mu.Unlock()
	if c.redis == nil {
		return
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, sessionKey(appointmentID), raw, sessionCacheTTL).Err(); err != nil {
		c.logger.Warn("video session cache write failed", "error", err, "appointment_id", appointmentID)
	}
}
