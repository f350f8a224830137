package lim

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"pastekv/svc/db"
	"pastekv/svc/util"
)

const (
	maxBuckets      = 10000
	sweepInterval   = 5 * time.Minute
	bucketTTL       = 30 * time.Minute
	adaptiveWindow  = 60 * time.Second
	redisTimeBudget = 100 * time.Millisecond
)

// Limiter gates the add and query endpoints. Per-IP token buckets are
// always consulted; when Redis is configured a shared per-endpoint
// window is layered on top so all replicas see one global budget.
type Limiter struct {
	rdb            *db.Redis
	trustedProxies []string
	detector       *AnomalyDetector

	adaptiveUntil int64

	mu      sync.Mutex
	buckets map[string]*bucketEntry

	globalRPM int
	perIPRPM  int
	burst     int

	quit     chan struct{}
	sweepSem chan struct{}
}

type bucketEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

func New(globalRPM, perIPRPM, burst int, rdb *db.Redis, trustedProxies []string) *Limiter {
	for _, proxy := range trustedProxies {
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				panic(fmt.Sprintf("invalid CIDR in trustedProxies: %s: %v", proxy, err))
			}
		} else if net.ParseIP(proxy) == nil {
			panic(fmt.Sprintf("invalid IP in trustedProxies: %s", proxy))
		}
	}
	l := &Limiter{
		rdb:            rdb,
		trustedProxies: trustedProxies,
		buckets:        make(map[string]*bucketEntry),
		globalRPM:      globalRPM,
		perIPRPM:       perIPRPM,
		burst:          burst,
		quit:           make(chan struct{}),
		sweepSem:       make(chan struct{}, 1),
	}
	l.detector = NewAnomalyDetector(l.TriggerAdaptiveMode)
	l.detector.Start()
	go l.sweepLoop()
	return l
}

func (l *Limiter) Stop() {
	close(l.quit)
	l.detector.Stop()
}

// TriggerAdaptiveMode halves limits for the next minute. Called by the
// anomaly detector when the recent error rate spikes.
func (l *Limiter) TriggerAdaptiveMode() {
	atomic.StoreInt64(&l.adaptiveUntil, time.Now().Add(adaptiveWindow).Unix())
}

func (l *Limiter) adaptive() bool {
	return time.Now().Unix() < atomic.LoadInt64(&l.adaptiveUntil)
}

func (l *Limiter) RecordRequest() { l.detector.RecordRequest() }
func (l *Limiter) RecordError()   { l.detector.RecordError() }

// CheckLimit applies the per-IP bucket and, if Redis is up, the shared
// per-endpoint window. Redis being down degrades to local-only limiting
// rather than failing the request.
func (l *Limiter) CheckLimit(r *http.Request, endpoint string) *Result {
	ip := GetRealIP(r, l.trustedProxies)

	res := l.checkLocal(ip, endpoint)
	if !res.Allowed {
		return res
	}

	if l.rdb != nil {
		globalLimit := l.effectiveLimit(l.globalRPM)
		ctx, cancel := context.WithTimeout(r.Context(), redisTimeBudget)
		defer cancel()
		usage, err := l.rdb.RateLimit(ctx, "rl:"+endpoint, globalLimit, time.Minute)
		if err != nil {
			util.Warn().Err(err).Msg("redis rate limit unavailable, local buckets only")
			return res
		}
		remaining := globalLimit - usage
		if remaining < 0 {
			remaining = 0
		}
		if usage > globalLimit {
			return &Result{Allowed: false, Limit: globalLimit, Reset: time.Now().Add(time.Minute)}
		}
		if remaining < res.Remaining {
			res.Limit = globalLimit
			res.Remaining = remaining
		}
	}
	return res
}

func (l *Limiter) effectiveLimit(limit int) int {
	if l.adaptive() {
		limit /= 2
		if limit < 1 {
			limit = 1
		}
	}
	return limit
}

func (l *Limiter) checkLocal(ip, endpoint string) *Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.buckets) >= (maxBuckets*9)/10 {
		toEvict := len(l.buckets) / 10
		if toEvict > 0 {
			select {
			case l.sweepSem <- struct{}{}:
				go func() {
					defer func() { <-l.sweepSem }()
					l.evictOldest(toEvict)
				}()
			default:
			}
		}
	}
	if len(l.buckets) >= maxBuckets {
		util.Warn().Int("buckets", len(l.buckets)).Str("ip", util.RedactIP(ip)).
			Msg("rate limiter at capacity, rejecting request")
		return &Result{Allowed: false, Limit: l.perIPRPM, Reset: time.Now().Add(time.Minute)}
	}

	limit := l.effectiveLimit(l.perIPRPM)
	key := ip + ":" + endpoint
	entry, ok := l.buckets[key]
	if !ok {
		entry = &bucketEntry{
			limiter:  rate.NewLimiter(rate.Limit(limit)/60.0, l.burst),
			lastSeen: time.Now(),
		}
		l.buckets[key] = entry
	} else {
		entry.lastSeen = time.Now()
	}
	if !entry.limiter.Allow() {
		return &Result{Allowed: false, Limit: limit, Reset: time.Now().Add(time.Minute)}
	}
	remaining := int(entry.limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	return &Result{Allowed: true, Limit: limit, Remaining: remaining, Reset: time.Now().Add(time.Minute)}
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweepStale()
		case <-l.quit:
			return
		}
	}
}

func (l *Limiter) sweepStale() {
	now := time.Now()
	l.mu.Lock()
	stale := make([]string, 0, 64)
	for key, entry := range l.buckets {
		if now.Sub(entry.lastSeen) > bucketTTL {
			stale = append(stale, key)
		}
	}
	for _, key := range stale {
		delete(l.buckets, key)
	}
	remaining := len(l.buckets)
	l.mu.Unlock()
	if len(stale) > 0 {
		util.Debug().Int("evicted", len(stale)).Int("remaining", remaining).Msg("rate limiter sweep")
	}
}

func (l *Limiter) evictOldest(count int) {
	l.mu.Lock()
	if len(l.buckets) < (maxBuckets*8)/10 {
		l.mu.Unlock()
		return
	}
	type seen struct {
		key      string
		lastSeen time.Time
	}
	entries := make([]seen, 0, len(l.buckets))
	for k, v := range l.buckets {
		entries = append(entries, seen{k, v.lastSeen})
	}
	l.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastSeen.Before(entries[j].lastSeen)
	})

	l.mu.Lock()
	defer l.mu.Unlock()
	evicted := 0
	for i := 0; i < count && i < len(entries); i++ {
		if _, ok := l.buckets[entries[i].key]; ok {
			delete(l.buckets, entries[i].key)
			evicted++
		}
	}
	if evicted > 0 {
		util.Debug().Int("evicted", evicted).Msg("oldest rate limiter buckets evicted")
	}
}

// GetRealIP resolves the client address, walking X-Forwarded-For right to
// left past trusted proxies only. An untrusted peer's XFF is ignored.
func GetRealIP(r *http.Request, trustedProxies []string) string {
	remoteIP := stripPort(r.RemoteAddr)
	if len(trustedProxies) == 0 || !isTrustedProxy(remoteIP, trustedProxies) {
		return remoteIP
	}
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return remoteIP
	}

	const maxHops = 100
	parsed := 0
	remaining := xff
	for len(remaining) > 0 && parsed < maxHops {
		lastComma := strings.LastIndexByte(remaining, ',')
		var ipStr string
		if lastComma == -1 {
			ipStr = strings.TrimSpace(remaining)
			remaining = ""
		} else {
			ipStr = strings.TrimSpace(remaining[lastComma+1:])
			remaining = remaining[:lastComma]
		}
		if ipStr == "" {
			continue
		}
		parsed++
		if net.ParseIP(ipStr) == nil {
			util.Warn().Str("ip", ipStr).Msg("invalid IP in X-Forwarded-For, skipping")
			continue
		}
		if !isTrustedProxy(ipStr, trustedProxies) {
			return ipStr
		}
	}
	if parsed >= maxHops {
		util.Warn().Int("parsed", parsed).Msg("X-Forwarded-For excessive, truncated parsing")
	}
	return remoteIP
}

func isTrustedProxy(ip string, trustedProxies []string) bool {
	for _, proxy := range trustedProxies {
		if ip == proxy {
			return true
		}
		if strings.Contains(proxy, "/") {
			if _, subnet, err := net.ParseCIDR(proxy); err == nil {
				if parsed := net.ParseIP(ip); parsed != nil && subnet.Contains(parsed) {
					return true
				}
			}
		}
	}
	return false
}

func stripPort(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
