package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/ethpandaops/bankwatch/metrics"
)

var ErrCallRateLimited = errors.New("call rate limit exceeded")

const callRateIdleTimeout = 3 * time.Minute

var (
	callRateClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bankwatch_call_rate_limiter_clients",
		Help: "Number of clients tracked by the refresh rate limiter",
	})
	callRateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bankwatch_call_rate_limiter_calls_total",
		Help: "Calls checked by the refresh rate limiter, by decision",
	}, []string{"decision"})
)

// CallRateLimiter gives every client ip a token bucket for expensive calls.
type CallRateLimiter struct {
	proxyCount int
	limit      rate.Limit
	burst      int

	mutex   sync.Mutex
	buckets map[string]*callRateBucket
}

type callRateBucket struct {
	limiter  *rate.Limiter
	lastCall time.Time
}

// NewCallRateLimiter allows rateLimit calls per second with bursts up to burstLimit.
// proxyCount is the number of trusted reverse proxies in front of the server.
// Idle clients are forgotten until ctx is done.
func NewCallRateLimiter(ctx context.Context, proxyCount uint, rateLimit uint, burstLimit uint) *CallRateLimiter {
	crl := &CallRateLimiter{
		proxyCount: int(proxyCount),
		limit:      rate.Limit(rateLimit),
		burst:      int(burstLimit),
		buckets:    map[string]*callRateBucket{},
	}
	go crl.forgetIdle(ctx)

	metrics.AddPreCollectFn(func() {
		crl.mutex.Lock()
		defer crl.mutex.Unlock()

		callRateClients.Set(float64(len(crl.buckets)))
	})

	return crl
}

// CheckCallLimit takes callCost tokens from the caller's bucket or fails with ErrCallRateLimited.
// A nil limiter allows everything.
func (crl *CallRateLimiter) CheckCallLimit(r *http.Request, callCost uint) error {
	if crl == nil {
		return nil
	}

	ip, err := requestIP(r, crl.proxyCount)
	if err != nil {
		return fmt.Errorf("could not determine client ip: %w", err)
	}

	now := time.Now()
	if !crl.bucket(ip, now).AllowN(now, int(callCost)) {
		callRateDecisions.WithLabelValues("rejected").Inc()
		return ErrCallRateLimited
	}
	callRateDecisions.WithLabelValues("allowed").Inc()
	return nil
}

func (crl *CallRateLimiter) bucket(ip string, now time.Time) *rate.Limiter {
	crl.mutex.Lock()
	defer crl.mutex.Unlock()

	bucket, ok := crl.buckets[ip]
	if !ok {
		bucket = &callRateBucket{limiter: rate.NewLimiter(crl.limit, crl.burst)}
		crl.buckets[ip] = bucket
	}
	bucket.lastCall = now
	return bucket.limiter
}

// requestIP returns the address the outermost trusted proxy saw, or the peer address without proxies.
func requestIP(r *http.Request, proxyCount int) (string, error) {
	if proxyCount > 0 {
		hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
		if idx := len(hops) - proxyCount; idx >= 0 {
			if ip := strings.TrimSpace(hops[idx]); ip != "" {
				return ip, nil
			}
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	return ip, err
}

func (crl *CallRateLimiter) forgetIdle(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			crl.mutex.Lock()
			for ip, bucket := range crl.buckets {
				if now.Sub(bucket.lastCall) > callRateIdleTimeout {
					delete(crl.buckets, ip)
				}
			}
			crl.mutex.Unlock()
		}
	}
}
