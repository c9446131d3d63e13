package schedule

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator hands out unique identifiers for records and series.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator produces random (v4) UUID strings.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// SequenceGenerator produces "<prefix>-1", "<prefix>-2", ... and is meant
// for tests that need predictable ids.
type SequenceGenerator struct {
	Prefix string

	mu   sync.Mutex
	next int
}

func (g *SequenceGenerator) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("%s-%d", g.Prefix, g.next)
}
