package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/muanapay/internal/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	keyVerifyUser     = "verify:user:%s"
	keyVerifyInflight = "verify:inflight:%s"

	localIdleTTL   = 10 * time.Minute
	defaultLockTTL = 15 * time.Second
)

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// VerifyLimiter throttles verification attempts per user. It uses the redis
// token bucket when redis is configured and per-user x/time/rate limiters otherwise.
type VerifyLimiter struct {
	log    *zap.Logger
	bucket  *TokenBucket
	locker  *Locker
	rate    float64
	burst   int
	lockTTL time.Duration

	mu       sync.Mutex
	local    map[string]*visitor
	inflight map[string]string
	lastGC  time.Time
	nowFunc func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewVerifyLimiter returns nil when rate limiting is disabled.
func NewVerifyLimiter(cfg config.Config, client *redis.Client, log *zap.Logger) *VerifyLimiter {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled || limitCfg.VerifyRate <= 0 || limitCfg.VerifyBurst <= 0 {
		return nil
	}
	lockTTL := limitCfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &VerifyLimiter{
		log:      log.Named("ratelimit.verify"),
		bucket:   NewTokenBucket(client),
		locker:   NewLocker(client),
		rate:     limitCfg.VerifyRate,
		burst:    limitCfg.VerifyBurst,
		lockTTL:  lockTTL,
		local:    make(map[string]*visitor),
		inflight: make(map[string]string),
		nowFunc:  time.Now,
	}
}

func (l *VerifyLimiter) Enabled() bool {
	return l != nil
}

func (l *VerifyLimiter) Allow(ctx context.Context, userID string) (Decision, error) {
	if !l.Enabled() {
		return Decision{Allowed: true}, nil
	}
	userID = strings.TrimSpace(userID)

	if l.bucket != nil {
		res, err := l.bucket.Allow(ctx, fmt.Sprintf(keyVerifyUser, userID), l.rate, l.burst)
		if err != nil {
			return Decision{}, err
		}
		return Decision{Allowed: res.Allowed, RetryAfter: res.RetryAfter}, nil
	}
	return l.allowLocal(userID), nil
}

// TryLockUser marks a verification as in flight for userID. The token must
// be handed back to ReleaseUser.
func (l *VerifyLimiter) TryLockUser(ctx context.Context, userID string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	userID = strings.TrimSpace(userID)
	if l.locker != nil {
		return l.locker.TryLock(ctx, fmt.Sprintf(keyVerifyInflight, userID), l.lockTTL)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.inflight[userID]; busy {
		return "", false, nil
	}
	token := uuid.NewString()
	l.inflight[userID] = token
	return token, true, nil
}

func (l *VerifyLimiter) ReleaseUser(ctx context.Context, userID, token string) error {
	if !l.Enabled() || token == "" {
		return nil
	}
	userID = strings.TrimSpace(userID)
	if l.locker != nil {
		return l.locker.Release(ctx, fmt.Sprintf(keyVerifyInflight, userID), token)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inflight[userID] == token {
		delete(l.inflight, userID)
	}
	return nil
}

func (l *VerifyLimiter) allowLocal(userID string) Decision {
	now := l.nowFunc()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastGC) > localIdleTTL {
		for key, v := range l.local {
			if now.Sub(v.lastSeen) > localIdleTTL {
				delete(l.local, key)
			}
		}
		l.lastGC = now
	}

	v, ok := l.local[userID]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(l.rate), l.burst)}
		l.local[userID] = v
	}
	v.lastSeen = now

	reservation := v.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return Decision{Allowed: false, RetryAfter: time.Second}
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay}
	}
	return Decision{Allowed: true}
}
