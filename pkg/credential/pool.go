// Package credential holds the fixed pool of API credentials and the
// call-scoped exclusion bookkeeping used while rotating between them.
package credential

import (
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// ErrNoCredentials is returned when the pool would be empty.
var ErrNoCredentials = errors.New("no credentials configured")

// Credential is one API secret. ID is the 1-based position in the configured
// list and is the only thing that should appear in logs.
type Credential struct {
	ID     int
	Secret string
}

// Masked returns a log-safe representation of the secret.
func (c Credential) Masked() string {
	if len(c.Secret) <= 8 {
		return "****"
	}
	return c.Secret[:3] + "..." + c.Secret[len(c.Secret)-4:]
}

// Set is a set of excluded credential IDs. It belongs to a single call
// sequence and must not be shared between goroutines.
type Set map[int]struct{}

// NewSet returns an empty exclusion set.
func NewSet() Set {
	return make(Set)
}

// Add excludes a credential.
func (s Set) Add(id int) {
	s[id] = struct{}{}
}

// Has reports whether a credential is excluded.
func (s Set) Has(id int) bool {
	_, ok := s[id]
	return ok
}

// Reset empties the set and, if keep > 0, re-adds keep.
func (s Set) Reset(keep int) {
	for id := range s {
		delete(s, id)
	}
	if keep > 0 {
		s.Add(keep)
	}
}

// Pool is a fixed, immutable set of credentials with random selection.
// Pick is safe for concurrent use.
type Pool struct {
	credentials []Credential

	mu  sync.Mutex
	rng *rand.Rand
}

// New builds a pool from raw secrets. Blank entries are ignored.
func New(secrets []string) (*Pool, error) {
	creds := make([]Credential, 0, len(secrets))
	for _, s := range secrets {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		creds = append(creds, Credential{ID: len(creds) + 1, Secret: s})
	}
	if len(creds) == 0 {
		return nil, ErrNoCredentials
	}

	return &Pool{
		credentials: creds,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Size returns the number of credentials in the pool.
func (p *Pool) Size() int {
	return len(p.credentials)
}

// Pick selects a credential uniformly at random among those not in excluded.
//
// When every credential is excluded, excluded is reset to contain only
// lastFailed and selection is tried once more. The second return value is
// false when nothing is selectable even after the reset.
func (p *Pool) Pick(excluded Set, lastFailed int) (Credential, bool) {
	if c, ok := p.pick(excluded); ok {
		return c, true
	}

	excluded.Reset(lastFailed)
	return p.pick(excluded)
}

func (p *Pool) pick(excluded Set) (Credential, bool) {
	candidates := make([]Credential, 0, len(p.credentials))
	for _, c := range p.credentials {
		if !excluded.Has(c.ID) {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return Credential{}, false
	}

	p.mu.Lock()
	n := p.rng.Intn(len(candidates))
	p.mu.Unlock()

	return candidates[n], true
}
