// Package credential manages the ordered pool of indexing service accounts
// and their daily publish quotas.
package credential

import (
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/oauth2"
)

// DefaultQuota is the Indexing API's standard daily publish allowance per
// service account.
const DefaultQuota = 200

// ErrExhausted is returned by Current once every credential in the pool has
// been spent. It is terminal for a run; the cursor never rewinds.
var ErrExhausted = eris.New("credential: pool exhausted")

// Credential is one service account with its remaining publish quota. All
// quota mutation goes through the owning Pool.
type Credential struct {
	ID      string
	KeyFile string

	quota     int
	remaining int
	exhausted bool
	tokens    oauth2.TokenSource
}

// NewCredential builds a credential with an initial quota. A non-positive
// quota falls back to DefaultQuota.
func NewCredential(id, keyFile string, quota int, tokens oauth2.TokenSource) *Credential {
	if quota <= 0 {
		quota = DefaultQuota
	}
	return &Credential{
		ID:        id,
		KeyFile:   keyFile,
		quota:     quota,
		remaining: quota,
		tokens:    tokens,
	}
}

// Remaining returns the unspent quota.
func (c *Credential) Remaining() int { return c.remaining }

// Exhausted reports whether the credential can still submit.
func (c *Credential) Exhausted() bool { return c.exhausted }

// Token returns a bearer token for the credential, refreshing it through
// the underlying source when expired.
func (c *Credential) Token() (string, error) {
	if c.tokens == nil {
		return "", eris.Errorf("credential: %s has no token source", c.ID)
	}
	tok, err := c.tokens.Token()
	if err != nil {
		return "", eris.Wrapf(err, "credential: token for %s", c.ID)
	}
	return tok.AccessToken, nil
}

// Usage is a point-in-time view of one credential for summaries.
type Usage struct {
	ID        string `json:"id"`
	Used      int    `json:"used"`
	Remaining int    `json:"remaining"`
	Exhausted bool   `json:"exhausted"`
}

// Pool walks an ordered list of credentials. The cursor only moves forward:
// once a credential is spent or force-exhausted it is never revisited, and
// when the last one goes the pool is done for good.
type Pool struct {
	mu     sync.Mutex
	creds  []*Credential
	cursor int
}

// NewPool builds a pool over creds in the given order.
func NewPool(creds []*Credential) (*Pool, error) {
	if len(creds) == 0 {
		return nil, eris.New("credential: pool needs at least one credential")
	}
	return &Pool{creds: creds}, nil
}

// Current returns the active credential, advancing past any spent ones.
// Returns ErrExhausted when none remain.
func (p *Pool) Current() (*Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentLocked()
}

func (p *Pool) currentLocked() (*Credential, error) {
	for p.cursor < len(p.creds) {
		c := p.creds[p.cursor]
		if !c.exhausted && c.remaining > 0 {
			return c, nil
		}
		p.cursor++
	}
	return nil, ErrExhausted
}

// Consume deducts n from the active credential, marking it exhausted and
// advancing the cursor when the quota reaches zero.
func (p *Pool) Consume(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, err := p.currentLocked()
	if err != nil {
		return err
	}
	c.remaining -= n
	if c.remaining <= 0 {
		c.remaining = 0
		c.exhausted = true
		p.cursor++
	}
	return nil
}

// MarkExhausted force-spends the credential with the given ID, typically
// after the API answered 401/403/429 for it. Unknown IDs are ignored.
func (p *Pool) MarkExhausted(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.creds {
		if c.ID != id {
			continue
		}
		c.exhausted = true
		if i == p.cursor {
			p.cursor++
		}
		return
	}
}

// Size returns the number of credentials the pool started with.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

// Remaining sums the unspent quota across all credentials.
func (p *Pool) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, c := range p.creds {
		if !c.exhausted {
			total += c.remaining
		}
	}
	return total
}

// Used sums the consumed quota across all credentials. Force-exhausted
// credentials count their full allowance as used.
func (p *Pool) Used() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, c := range p.creds {
		if c.exhausted {
			total += c.quota
		} else {
			total += c.quota - c.remaining
		}
	}
	return total
}

// Snapshot returns per-credential usage in pool order.
func (p *Pool) Snapshot() []Usage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Usage, 0, len(p.creds))
	for _, c := range p.creds {
		u := Usage{ID: c.ID, Remaining: c.remaining, Exhausted: c.exhausted}
		if c.exhausted {
			u.Used = c.quota
			u.Remaining = 0
		} else {
			u.Used = c.quota - c.remaining
		}
		out = append(out, u)
	}
	return out
}
