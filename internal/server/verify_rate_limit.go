package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/muanapay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/muanapay/internal/observability/metrics"
	"go.uber.org/zap"
)

const (
	rateLimitReasonUserRate        = "user-rate"
	rateLimitReasonUserConcurrency = "user-concurrency"
)

type verifyRateLimitKey struct {
	UserID string `json:"user_id"`
}

// VerifyRateLimit throttles verification attempts per user and rejects a
// second request while one is still in flight for the same user.
func (s *Server) VerifyRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.verifyLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeRateLimitEndpoint(c)

		userID, err := readVerifyUserID(c)
		if err != nil {
			logger.FromContext(ctx).Warn("verify rate limit read body failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}
		if userID == "" {
			// The handler reports the missing field.
			c.Next()
			return
		}

		decision, err := s.verifyLimiter.Allow(ctx, userID)
		if err != nil {
			logger.FromContext(ctx).Warn("verify rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !decision.Allowed {
			denyVerifyRateLimit(c, endpoint, rateLimitReasonUserRate, decision.RetryAfter, s.obsMetrics)
			return
		}

		token, ok, err := s.verifyLimiter.TryLockUser(ctx, userID)
		if err != nil {
			logger.FromContext(ctx).Warn("verify concurrency lock failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !ok {
			denyVerifyRateLimit(c, endpoint, rateLimitReasonUserConcurrency, time.Second, s.obsMetrics)
			return
		}
		defer func() {
			if err := s.verifyLimiter.ReleaseUser(context.WithoutCancel(ctx), userID, token); err != nil {
				logger.FromContext(ctx).Warn("verify concurrency unlock failed", zap.Error(err))
			}
		}()

		recordRateLimitAllowed(ctx, endpoint, s.obsMetrics)
		c.Next()
	}
}

func denyVerifyRateLimit(c *gin.Context, endpoint, reason string, retryAfter time.Duration, metrics *obsmetrics.Metrics) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("verify rate limit exceeded",
		zap.String("reason", reason),
		zap.String("endpoint", endpoint),
	)
	recordRateLimitDenied(ctx, endpoint, reason, metrics)

	c.Header("Retry-After", retryAfterSeconds(retryAfter))
	c.Header("X-Rate-Limited-Reason", reason)
	AbortWithError(c, ErrRateLimited)
}

func retryAfterSeconds(d time.Duration) string {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

func recordRateLimitAllowed(ctx context.Context, endpoint string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitAllowed(ctx, endpoint)
}

func recordRateLimitDenied(ctx context.Context, endpoint, reason string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitDenied(ctx, endpoint, reason)
}

func readVerifyUserID(c *gin.Context) (string, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return "", nil
	}

	var payload verifyRateLimitKey
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", nil
	}
	return strings.TrimSpace(payload.UserID), nil
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
