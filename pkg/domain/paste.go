package domain

import (
	"time"
)

// Paste is the stored unit. ExpireAt is nil for pastes that never expire.
type Paste struct {
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
	ExpireAt  *time.Time `json:"expire_at,omitempty"`
}

// Expires reports whether the paste carries an expiry at all.
func (p *Paste) Expires() bool { return p.ExpireAt != nil }

// Expired reports whether the paste is past its expiry as of now.
func (p *Paste) Expired(now time.Time) bool {
	return p.ExpireAt != nil && p.ExpireAt.Before(now)
}

// CreateParams carries the validated-at-the-edge inputs for a new paste.
// TTL is only meaningful when HasTTL is set; a zero TTL with HasTTL set
// expires the paste on the next reap cycle.
type CreateParams struct {
	Title   string
	Content string
	TTL     time.Duration
	HasTTL  bool
}
