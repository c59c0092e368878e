package escalation

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ashita-ai/kessai/internal/model"
)

// Bus fans notifications out to in-process subscribers over bounded
// channels. When a subscriber's buffer is full the oldest pending
// notification is dropped so publishers never block.
type Bus struct {
	mu      sync.RWMutex
	subs    []chan model.Notification
	buffer  int
	dropped atomic.Int64
	logger  *slog.Logger
}

// DefaultBusBuffer is the per-subscriber channel depth.
const DefaultBusBuffer = 256

// NewBus creates a notification bus. buffer <= 0 selects DefaultBusBuffer.
func NewBus(buffer int, logger *slog.Logger) *Bus {
	if buffer <= 0 {
		buffer = DefaultBusBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{buffer: buffer, logger: logger}
}

// Subscribe registers a new subscriber channel.
func (b *Bus) Subscribe() <-chan model.Notification {
	ch := make(chan model.Notification, b.buffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Publish delivers n to every subscriber without blocking.
func (b *Bus) Publish(n model.Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		for {
			select {
			case ch <- n:
			default:
				// Full: evict the oldest and retry once more.
				select {
				case <-ch:
					dropped := b.dropped.Add(1)
					b.logger.Warn("notification dropped", "total_dropped", dropped)
					continue
				default:
					// A concurrent receive raced the eviction; the new
					// notification is the one lost, so count it too.
					dropped := b.dropped.Add(1)
					b.logger.Warn("notification dropped", "total_dropped", dropped)
				}
			}
			break
		}
	}
}

// Dropped returns the total notifications evicted across all subscribers.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }
