package exp

import (
	"context"
	"sync"
	"time"

	"pastekv/metrics"
	"pastekv/svc/db"
	"pastekv/svc/util"
)

// Reaper drains expired entries from the index and purges their records
// from the table on a fixed interval. It never blocks a foreground
// request and never propagates failures; a failed tick is logged and the
// next tick proceeds independently.
type Reaper struct {
	table    *db.Table
	idx      *Index
	interval time.Duration
	done     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

func NewReaper(table *db.Table, idx *Index, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Reaper{
		table:    table,
		idx:      idx,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (r *Reaper) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.run(ctx)
}

func (r *Reaper) Stop() {
	r.once.Do(func() { close(r.done) })
	r.wg.Wait()
}

func (r *Reaper) run(ctx context.Context) {
	defer r.wg.Done()
	reqID := util.NewRequestID()
	util.Info().
		Str("request_id", reqID).
		Dur("interval", r.interval).
		Msg("reaper started")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			util.Info().Str("request_id", reqID).Msg("reaper shutting down")
			return
		case <-r.done:
			util.Info().Str("request_id", reqID).Msg("reaper stopped")
			return
		case <-ticker.C:
			r.Tick(time.Now())
		}
	}
}

// Tick purges every entry expired as of now in a single write transaction.
// An empty batch opens no transaction at all. On commit failure the popped
// keys are abandoned: their records stay in the table without an index
// entry until a restart rebuild re-discovers them from their persisted
// expire_at.
func (r *Reaper) Tick(now time.Time) {
	metrics.ReapCycles.Inc()
	keys := r.idx.PopExpired(now)
	if len(keys) == 0 {
		return
	}
	txn, err := r.table.BeginWrite()
	if err != nil {
		util.Error().Err(err).Int("keys", len(keys)).Msg("reaper: begin write failed")
		return
	}
	for _, key := range keys {
		if err := txn.Remove(key); err != nil {
			_ = txn.Rollback()
			util.Error().Err(err).Int64("key", key).Msg("reaper: remove failed")
			return
		}
	}
	if err := txn.Commit(); err != nil {
		util.Error().Err(err).Int("keys", len(keys)).Msg("reaper: commit failed")
		return
	}
	metrics.ReapedPastes.Add(float64(len(keys)))
	util.Debug().Int("reaped", len(keys)).Msg("purged expired pastes")
}

// Rebuild populates idx from the table's persisted expiries. It runs once
// at startup, before any request is served, and is the only full-table
// scan in the system.
func Rebuild(table *db.Table, idx *Index) (int, error) {
	n := 0
	err := table.ScanExpiring(func(key int64, expireAt time.Time) {
		idx.Push(expireAt, key)
		n++
	})
	return n, err
}
