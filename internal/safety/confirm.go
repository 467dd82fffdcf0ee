package safety

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTokenTTL is how long a confirmation token stays valid.
const DefaultTokenTTL = 5 * time.Minute

type pending struct {
	fingerprint string
	issued      time.Time
}

// Confirmations issues single-use, time-limited tokens bound to an
// operation fingerprint. A token only confirms the exact operation it was
// issued for.
type Confirmations struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	tokens map[string]pending
}

// NewConfirmations returns a tracker whose tokens expire after ttl. A
// non-positive ttl selects DefaultTokenTTL.
func NewConfirmations(ttl time.Duration) *Confirmations {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Confirmations{
		ttl:    ttl,
		now:    time.Now,
		tokens: make(map[string]pending),
	}
}

// sweep drops expired tokens. c.mu must be held.
func (c *Confirmations) sweep(now time.Time) {
	for token, p := range c.tokens {
		if now.Sub(p.issued) > c.ttl {
			delete(c.tokens, token)
		}
	}
}

// Request issues a token for fingerprint.
func (c *Confirmations) Request(fingerprint string) string {
	token := uuid.NewString()

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.sweep(now)
	c.tokens[token] = pending{fingerprint: fingerprint, issued: now}
	return token
}

// Confirm consumes token and reports whether it was issued for fingerprint
// and has not expired. A token is consumed even when the fingerprint does
// not match.
func (c *Confirmations) Confirm(token, fingerprint string) bool {
	if token == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.tokens[token]
	if !ok {
		return false
	}
	delete(c.tokens, token)
	return p.fingerprint == fingerprint && c.now().Sub(p.issued) <= c.ttl
}

// Pending returns the number of outstanding tokens.
func (c *Confirmations) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tokens)
}
