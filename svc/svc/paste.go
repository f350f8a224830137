package svc

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"pastekv/cfg"
	"pastekv/metrics"
	"pastekv/pkg/domain"
	"pastekv/pkg/token"
	"pastekv/svc/cache"
	"pastekv/svc/db"
	"pastekv/svc/exp"
	"pastekv/svc/util"
)

// Paste ties the table, expiration index, codec and cache together. It is
// the only surface external collaborators (the HTTP layer) call.
type Paste struct {
	table *db.Table
	idx   *exp.Index
	codec *token.Codec
	lru   *cache.LRU
	keys  *util.KeySource
	cfg   *cfg.Cfg
}

func NewPaste(table *db.Table, idx *exp.Index, codec *token.Codec, lru *cache.LRU, c *cfg.Cfg) *Paste {
	if table == nil || idx == nil || codec == nil || c == nil {
		panic("paste service: nil dependency (table, idx, codec, or cfg)")
	}
	return &Paste{
		table: table,
		idx:   idx,
		codec: codec,
		lru:   lru,
		keys:  util.NewKeySource(),
		cfg:   c,
	}
}

// Create validates the record bounds, persists it in one write transaction
// and returns the encoded token. The index push happens after the commit,
// so every index entry always has a live record behind it; a crash in the
// gap is healed by the startup rebuild.
func (p *Paste) Create(ctx context.Context, params domain.CreateParams) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	if params.Title == "" {
		return "", domain.ErrTitleRequired
	}
	if len(params.Title) > p.cfg.MaxTitleLen {
		return "", domain.ErrTitleTooLong
	}
	if params.Content == "" {
		return "", domain.ErrContentRequired
	}
	if int64(len(params.Content)) > p.cfg.MaxContentSize {
		return "", domain.ErrContentTooLarge
	}
	if params.HasTTL && (params.TTL < 0 || params.TTL > p.cfg.MaxTTL) {
		return "", domain.ErrExpirationTooLong
	}

	key := p.keys.Next()
	now := time.Now()
	paste := &domain.Paste{
		Title:     params.Title,
		Content:   params.Content,
		CreatedAt: now,
	}
	if params.HasTTL {
		expireAt := now.Add(params.TTL)
		paste.ExpireAt = &expireAt
	}

	txn, err := p.table.BeginWrite()
	if err != nil {
		return "", errors.Wrap(err, "begin write")
	}
	if err := txn.Insert(key, paste); err != nil {
		_ = txn.Rollback()
		return "", errors.Wrap(err, "insert paste")
	}
	if err := txn.Commit(); err != nil {
		return "", errors.Wrap(err, "commit paste")
	}

	if paste.ExpireAt != nil {
		p.idx.Push(*paste.ExpireAt, key)
	}
	if p.lru != nil {
		p.lru.Set(key, paste)
	}
	metrics.PasteCreated.Inc()

	tok, err := p.codec.Encode(key)
	if err != nil {
		return "", errors.Wrap(err, "encode token")
	}
	util.Debug().Int64("key", key).Bool("expires", paste.ExpireAt != nil).Msg("paste created")
	return tok, nil
}

// Fetch resolves a token to its record. A malformed token, a foreign-
// secret token and an absent key all report the same not-found, so nothing
// about the key space leaks. A record past its expiry but not yet reaped
// is still served; that window is bounded by the reap interval.
func (p *Paste) Fetch(ctx context.Context, tok string) (*domain.Paste, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	key, err := p.codec.Decode(tok)
	if err != nil {
		metrics.TokenDecodeFailures.Inc()
		util.Debug().Str("token", util.RedactToken(tok)).Msg("token decode failed")
		return nil, domain.ErrNotFound
	}
	if p.lru != nil {
		if paste := p.lru.Get(key); paste != nil {
			metrics.CacheHits.Inc()
			metrics.PasteFetched.Inc()
			return paste, nil
		}
		metrics.CacheMisses.Inc()
	}
	paste, err := p.table.Get(ctx, key)
	if err != nil {
		return nil, errors.Wrap(err, "read paste")
	}
	if paste == nil {
		return nil, domain.ErrNotFound
	}
	if p.lru != nil && !paste.Expired(time.Now()) {
		p.lru.Set(key, paste)
	}
	metrics.PasteFetched.Inc()
	return paste, nil
}
