// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

// Package ratelimit throttles command requesters with a token bucket each.
package ratelimit

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Default limits: five commands in a burst, refilled at five per minute.
const (
	DefaultBurstCapacity = 5
	DefaultSustainedRate = 5.0 / 60.0

	// MinSustainedRate keeps the refill from stalling entirely.
	MinSustainedRate = 0.01

	DefaultCleanupInterval = 5 * time.Minute
	DefaultMaxIdle         = time.Hour
)

// Config configures the limiter. Zero values select the defaults.
type Config struct {
	BurstCapacity   int           `koanf:"burst"`
	SustainedRate   float64       `koanf:"rate"` // tokens per second
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
	MaxIdle         time.Duration `koanf:"max_idle"`
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// Limiter implements per-requester rate limiting. It is safe for concurrent
// use. A background goroutine drops idle requesters; call Close to stop it.
type Limiter struct {
	mu            sync.Mutex
	buckets       map[string]*bucket
	burstCapacity int
	sustainedRate float64
	maxIdle       time.Duration
	now           func() time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup

	gauge prometheus.Gauge // nil unless registered
}

// New creates a limiter and starts its cleanup goroutine.
func New(cfg Config) *Limiter {
	return newLimiter(cfg, nil, time.Now)
}

// NewWithRegistry is New plus a gauge of tracked requesters registered with reg.
func NewWithRegistry(cfg Config, reg prometheus.Registerer) *Limiter {
	return newLimiter(cfg, reg, time.Now)
}

func newLimiter(cfg Config, reg prometheus.Registerer, now func() time.Time) *Limiter {
	burst := cfg.BurstCapacity
	if burst <= 0 {
		burst = DefaultBurstCapacity
	}
	rate := cfg.SustainedRate
	if rate <= 0 {
		rate = DefaultSustainedRate
	}
	if rate < MinSustainedRate {
		rate = MinSustainedRate
	}
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	maxIdle := cfg.MaxIdle
	if maxIdle <= 0 {
		maxIdle = DefaultMaxIdle
	}

	l := &Limiter{
		buckets:       make(map[string]*bucket),
		burstCapacity: burst,
		sustainedRate: rate,
		maxIdle:       maxIdle,
		now:           now,
		stopChan:      make(chan struct{}),
	}
	if reg != nil {
		l.gauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cogbot_ratelimiter_requesters",
			Help: "Current number of tracked rate limiter requesters",
		})
		reg.MustRegister(l.gauge)
	}

	l.wg.Add(1)
	go l.cleanupLoop(interval)
	return l
}

// Allow consumes one token for key. It returns false and the milliseconds
// until the next token when the bucket is empty.
func (l *Limiter) Allow(key string) (allowed bool, cooldownMs int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.burstCapacity), lastCheck: now}
		l.buckets[key] = b
	}

	b.tokens += now.Sub(b.lastCheck).Seconds() * l.sustainedRate
	if b.tokens > float64(l.burstCapacity) {
		b.tokens = float64(l.burstCapacity)
	}
	b.lastCheck = now

	if b.tokens >= 1.0 {
		b.tokens--
		return true, 0
	}

	deficit := 1.0 - b.tokens
	return false, int64(deficit / l.sustainedRate * 1000)
}

// Len returns the number of tracked requesters.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Cleanup drops requesters idle for longer than maxIdle.
func (l *Limiter) Cleanup(maxIdle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	threshold := l.now().Add(-maxIdle)
	for key, b := range l.buckets {
		if b.lastCheck.Before(threshold) {
			delete(l.buckets, key)
		}
	}
	if l.gauge != nil {
		l.gauge.Set(float64(len(l.buckets)))
	}
}

func (l *Limiter) cleanupLoop(interval time.Duration) {
	defer l.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.Cleanup(l.maxIdle)
		}
	}
}

// Close stops the cleanup goroutine. It blocks until the goroutine has stopped.
func (l *Limiter) Close() {
	close(l.stopChan)
	l.wg.Wait()
}
