package imagegen

import (
	"errors"
	"sync"
)

// ErrNoKeys is returned when the pool was constructed without credentials.
var ErrNoKeys = errors.New("no API keys configured")

// KeyPool hands out provider credentials in round-robin order so that
// successive attempts never reuse the credential that just failed. Safe for
// concurrent use.
type KeyPool struct {
	mu   sync.Mutex
	keys []string
	idx  int
}

// NewKeyPool creates a pool over the given credentials.
func NewKeyPool(keys []string) *KeyPool {
	cp := make([]string, len(keys))
	copy(cp, keys)
	return &KeyPool{keys: cp}
}

// Next returns the next credential in rotation.
func (p *KeyPool) Next() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return "", ErrNoKeys
	}
	key := p.keys[p.idx]
	p.idx = (p.idx + 1) % len(p.keys)
	return key, nil
}

// Len reports the number of credentials in the pool.
func (p *KeyPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}
