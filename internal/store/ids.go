package store

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// idGen produces ulids. The entropy source is not safe for concurrent use,
// hence the lock.
type idGen struct {
	mu      sync.Mutex
	entropy *rand.Rand
}

func newIDGen() *idGen {
	return &idGen{entropy: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (g *idGen) next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy).String()
}
