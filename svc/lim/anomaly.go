package lim

import (
	"sync"
	"time"

	"pastekv/metrics"
	"pastekv/svc/util"
)

const (
	anomalyBuckets   = 5
	anomalyMinReqs   = 10
	anomalyThreshold = 5.0
)

// AnomalyDetector keeps a sliding window of per-minute request and error
// counts and fires onAnomaly when the error rate over the window crosses
// the threshold.
type AnomalyDetector struct {
	mu        sync.Mutex
	window    [anomalyBuckets]counts
	current   int
	onAnomaly func()
	done      chan struct{}
}

type counts struct {
	requests int64
	errors   int64
}

func NewAnomalyDetector(onAnomaly func()) *AnomalyDetector {
	return &AnomalyDetector{
		onAnomaly: onAnomaly,
		done:      make(chan struct{}),
	}
}

func (d *AnomalyDetector) Start() {
	ticker := time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-ticker.C:
				d.AdvanceWindow()
			case <-d.done:
				ticker.Stop()
				return
			}
		}
	}()
}

func (d *AnomalyDetector) Stop() {
	close(d.done)
}

func (d *AnomalyDetector) RecordRequest() {
	d.mu.Lock()
	d.window[d.current].requests++
	d.mu.Unlock()
}

func (d *AnomalyDetector) RecordError() {
	d.mu.Lock()
	d.window[d.current].errors++
	d.mu.Unlock()
}

func (d *AnomalyDetector) AdvanceWindow() {
	d.mu.Lock()
	defer d.mu.Unlock()
	var totalReqs, totalErrs int64
	for _, c := range d.window {
		totalReqs += c.requests
		totalErrs += c.errors
	}
	var errorRate float64
	if totalReqs > 0 {
		errorRate = float64(totalErrs) / float64(totalReqs) * 100.0
	}
	metrics.RecentErrorRatePercent.Set(errorRate)
	if totalReqs > anomalyMinReqs && errorRate > anomalyThreshold {
		util.Warn().
			Float64("error_rate", errorRate).
			Int64("total_reqs", totalReqs).
			Int64("total_errs", totalErrs).
			Msg("high error rate, triggering adaptive rate limit")
		if d.onAnomaly != nil {
			d.onAnomaly()
		}
	}
	d.current = (d.current + 1) % anomalyBuckets
	d.window[d.current] = counts{}
}
