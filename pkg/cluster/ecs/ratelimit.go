package ecs

import (
	"context"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	minLimit  = 0.1
	backOffBy = 2.0
	recoverBy = 1.5
)

// Limiter keeps requests to one region's ECS endpoint under RPS. When
// the API says it's being throttled, the limit is halved; each
// success brings it back up, towards RPS.
type Limiter struct {
	RPS    float64
	Burst  int
	Logger log.Logger

	once sync.Once
	rl   *rate.Limiter
	mu   sync.Mutex
}

func (l *Limiter) limiter() *rate.Limiter {
	l.once.Do(func() {
		l.rl = rate.NewLimiter(rate.Limit(l.RPS), l.Burst)
	})
	return l.rl
}

func (l *Limiter) clip(limit float64) float64 {
	if limit < minLimit {
		return minLimit
	}
	if limit > l.RPS {
		return l.RPS
	}
	return limit
}

// Wait blocks until a request may go, or errors if that would be
// after the context's deadline.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.limiter().Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limited")
	}
	return nil
}

func (l *Limiter) adjust(by float64, what string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rl := l.limiter()
	oldLimit := float64(rl.Limit())
	newLimit := l.clip(oldLimit * by)
	if newLimit != oldLimit && l.Logger != nil {
		l.Logger.Log("info", what+" rate limit", "limit", strconv.FormatFloat(newLimit, 'f', 2, 64))
	}
	rl.SetLimit(rate.Limit(newLimit))
}

// Observe adjusts the limit according to how a request went.
func (l *Limiter) Observe(err error) {
	if isThrottled(err) {
		l.adjust(1/backOffBy, "reducing")
		return
	}
	if err == nil {
		l.adjust(recoverBy, "increasing")
	}
}

// Limit is the current rate limit, in requests per second.
func (l *Limiter) Limit() float64 {
	return float64(l.limiter().Limit())
}

func isThrottled(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	switch aerr.Code() {
	case "ThrottlingException", "Throttling", "TooManyRequestsException", "RequestLimitExceeded":
		return true
	}
	return false
}
