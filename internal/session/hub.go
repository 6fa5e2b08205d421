package session

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/makeasinger/mediaforge/internal/logging"
)

// ipConnKeyPrefix namespaces the Redis counters this hub increments per
// source IP, separate from any other use of the same Redis instance.
const ipConnKeyPrefix = "mediaforge:ws:conns:"

// ipConnKeyTTL bounds how long a stale counter survives a crash that
// skips the matching Remove/Decr — a safety net, not the normal path.
const ipConnKeyTTL = time.Hour

// Hub tracks every live Session. The teacher's hub fanned one job's
// progress out to many passive subscribers; this service has exactly
// one session per job, so the hub's job here is connection-count
// admission and shutdown bookkeeping instead of broadcast routing.
//
// Admission enforces two independent caps: a global connection count,
// and a per-source-IP count grounded on the teacher's
// internal/middleware/ratelimit.go (a Redis INCR/EXPIRE counter keyed
// per caller) — generalized here from a request-rate window to a
// live-connection count, since SPEC_FULL's Non-goals carve out "rate
// limiting beyond a basic per-IP connection cap" as in-scope. When no
// Redis client is configured, the same cap is enforced with an
// in-memory counter instead, so the limit still holds in a
// single-instance deployment with no Redis dependency.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ipOf     map[string]string // session ID -> admitted IP, for Remove's decrement
	maxConns int
	maxPerIP int
	perIP    map[string]int // in-memory fallback, used when redisClient is nil

	redisClient *redis.Client

	log zerolog.Logger
}

// NewHub constructs a Hub. maxConns <= 0 means no global cap; maxPerIP
// <= 0 means no per-IP cap. redisClient is optional: when nil, the
// per-IP cap is enforced with an in-memory counter instead of Redis.
func NewHub(maxConns, maxPerIP int, redisClient *redis.Client) *Hub {
	return &Hub{
		sessions:    make(map[string]*Session),
		ipOf:        make(map[string]string),
		maxConns:    maxConns,
		maxPerIP:    maxPerIP,
		perIP:       make(map[string]int),
		redisClient: redisClient,
		log:         logging.WithComponent("session-hub"),
	}
}

// Admit registers a session if the global cap and the per-IP cap both
// allow it. Returns false, without registering, when either is
// already reached.
func (h *Hub) Admit(ip string, s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.maxConns > 0 && len(h.sessions) >= h.maxConns {
		return false
	}
	if h.maxPerIP > 0 && !h.admitIPLocked(ip) {
		h.log.Warn().Str("session_id", s.ID).Str("ip", ip).Msg("connection rejected: per-IP cap reached")
		return false
	}

	h.sessions[s.ID] = s
	h.ipOf[s.ID] = ip
	h.log.Info().Str("session_id", s.ID).Int("active_connections", len(h.sessions)).Msg("session admitted")
	return true
}

// admitIPLocked increments ip's live-connection counter and reports
// whether the result stays within maxPerIP. Called with h.mu held.
func (h *Hub) admitIPLocked(ip string) bool {
	if h.redisClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		key := ipConnKeyPrefix + ip
		count, err := h.redisClient.Incr(ctx, key).Result()
		if err != nil {
			// Redis unreachable: fail open on the per-IP cap rather than
			// blocking every connection on a side-store outage, the same
			// trade the teacher's Limit middleware makes.
			h.log.Warn().Err(err).Msg("redis unavailable for per-IP cap, admitting without it")
			return true
		}
		if count == 1 {
			h.redisClient.Expire(ctx, key, ipConnKeyTTL)
		}
		if count > int64(h.maxPerIP) {
			h.redisClient.Decr(ctx, key)
			return false
		}
		return true
	}

	if h.perIP[ip] >= h.maxPerIP {
		return false
	}
	h.perIP[ip]++
	return true
}

// Remove unregisters a session, typically called from its own
// disconnect path.
func (h *Hub) Remove(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, s.ID)
	ip, ok := h.ipOf[s.ID]
	delete(h.ipOf, s.ID)
	if ok && h.maxPerIP > 0 {
		h.releaseIPLocked(ip)
	}
	h.log.Info().Str("session_id", s.ID).Int("active_connections", len(h.sessions)).Msg("session removed")
}

func (h *Hub) releaseIPLocked(ip string) {
	if h.redisClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.redisClient.Decr(ctx, ipConnKeyPrefix+ip).Err(); err != nil {
			h.log.Warn().Err(err).Str("ip", ip).Msg("failed to release redis per-IP counter")
		}
		return
	}
	if h.perIP[ip] <= 1 {
		delete(h.perIP, ip)
		return
	}
	h.perIP[ip]--
}

// Count reports the number of currently admitted sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// CloseAll cancels every session's jobs and clears the registry, used
// during graceful shutdown so in-flight ffmpeg processes receive a
// cancel signal instead of being abandoned.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessions = make(map[string]*Session)
	h.ipOf = make(map[string]string)
	h.perIP = make(map[string]int)
	h.mu.Unlock()

	for _, s := range sessions {
		s.onDisconnect()
	}
}

