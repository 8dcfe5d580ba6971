package feed

import (
	"errors"
	"sync/atomic"
)

// KeyProvider hands out API keys for a provider. Multiple keys rotate
// round-robin so quota exhaustion on one key moves on to the next.
type KeyProvider interface {
	Get() string
}

type rotatingKeys struct {
	keys []string
	next uint32
}

// NewKeyProvider creates a rotating key provider from an ordered key list.
func NewKeyProvider(keys []string) (KeyProvider, error) {
	if len(keys) == 0 {
		return nil, errors.New("at least one key is required")
	}

	for _, key := range keys {
		if key == "" {
			return nil, errors.New("empty key in key list")
		}
	}

	return &rotatingKeys{keys: keys}, nil
}

func (p *rotatingKeys) Get() string {
	idx := atomic.AddUint32(&p.next, 1) - 1
	return p.keys[idx%uint32(len(p.keys))]
}
