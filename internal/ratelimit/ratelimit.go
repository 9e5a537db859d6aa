// Package ratelimit throttles guest-facing mutating operations per client
// network address using fixed-window Redis counters with two tiers: a short
// burst window and an hourly window. Exceeding either yields a retry-after
// response, not a hard failure.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	apperr "curbspot/internal/errors"
)

type Tier struct {
	Max    int
	Window time.Duration
}

type Limiter struct {
	rdb    *redis.Client
	log    *logrus.Logger
	burst  Tier
	hourly Tier
	prefix string
}

func New(rdb *redis.Client, log *logrus.Logger, burst, hourly Tier) *Limiter {
	return &Limiter{rdb: rdb, log: log, burst: burst, hourly: hourly, prefix: "rl"}
}

// Allow checks both tiers for the given client address and operation,
// returning a KindRateLimited error with a retry-after hint on deny. On
// Redis unavailability the limiter fails open: a cache outage must not take
// down booking creation.
func (l *Limiter) Allow(ctx context.Context, clientAddr, op string) error {
	for _, tier := range []Tier{l.burst, l.hourly} {
		allowed, retryAfter, err := l.checkWindow(ctx, clientAddr, op, tier)
		if err != nil {
			l.log.WithError(err).WithField("op", op).Warn("rate limiter unavailable, failing open")
			return nil
		}
		if !allowed {
			secs := int(retryAfter.Seconds())
			if secs < 1 {
				secs = 1
			}
			return &apperr.Error{
				Kind:       apperr.KindRateLimited,
				Message:    "too many requests, slow down",
				RetryAfter: secs,
			}
		}
	}
	return nil
}

func (l *Limiter) checkWindow(ctx context.Context, clientAddr, op string, tier Tier) (bool, time.Duration, error) {
	key := fmt.Sprintf("%s:%s:%s:%d", l.prefix, op, clientAddr, int(tier.Window.Seconds()))
	// Increment and TTL assignment run in one MULTI/EXEC so a counter key
	// can never be left without an expiry.
	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, tier.Window)
		return nil
	})
	if err != nil {
		return false, 0, err
	}
	if incr.Val() > int64(tier.Max) {
		ttl, err := l.rdb.TTL(ctx, key).Result()
		if err != nil || ttl < 0 {
			ttl = tier.Window
		}
		return false, ttl, nil
	}
	return true, 0, nil
}

// Middleware throttles a mux route, labeling counters with op so separate
// operations get separate windows. Deny responses are rendered from the
// typed error, so the Retry-After header always matches the body hint.
func (l *Limiter) Middleware(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := l.Allow(r.Context(), ClientAddr(r), op); err != nil {
			writeLimited(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeLimited(w http.ResponseWriter, err error) {
	secs := apperr.RetryAfterOf(err)
	if secs > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.HTTPStatus(apperr.KindOf(err)))
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":       string(apperr.KindOf(err)),
		"message":     err.Error(),
		"retry_after": secs,
	})
}

// ClientAddr extracts the client network address, preferring the first
// X-Forwarded-For hop when the service runs behind a proxy.
func ClientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
