// Package bridge carries the mode flag between the side that owns the
// persisted preference and the side that drives the page. The two sides
// only talk through Messages posted on a Bus, the way a content script
// and a page script talk through window.postMessage.
package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind is the message type.
type Kind string

const (
	// State carries the stored flag to the page side.
	State Kind = "STATE"
	// Toggle carries a flag change to the preference side.
	Toggle Kind = "TOGGLE"
)

// DefaultStateDelay is how long the preference side waits after start
// before posting STATE.
const DefaultStateDelay = 100 * time.Millisecond

// Message is one bridge message.
type Message struct {
	Type    Kind   `json:"type"`
	IsTurbo bool   `json:"isTurbo"`
	Source  string `json:"source,omitempty"` // page, http, mcp
	Origin  string `json:"origin"`
}

// Bus delivers messages to every subscriber. Messages whose origin is not
// the bus's own are dropped.
type Bus struct {
	origin string
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[int]chan Message
	nextID int
	drops  int64
}

// NewBus creates a bus with a fresh origin.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		origin: uuid.Must(uuid.NewV7()).String(),
		logger: logger,
		subs:   make(map[int]chan Message),
	}
}

// Origin returns the bus origin stamped on posted messages.
func (b *Bus) Origin() string { return b.origin }

// Post stamps m with the bus origin and delivers it.
func (b *Bus) Post(m Message) {
	m.Origin = b.origin
	b.Deliver(m)
}

// Deliver hands a message received from elsewhere to the subscribers,
// unless it comes from a foreign origin. It never blocks: a subscriber
// whose buffer is full misses the message.
func (b *Bus) Deliver(m Message) {
	if m.Origin != b.origin {
		b.logger.Debug("bridge: foreign message dropped", "type", m.Type, "origin", m.Origin)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- m:
		default:
			b.drops++
			b.logger.Warn("bridge: subscriber full, message dropped", "subscriber", id, "type", m.Type)
		}
	}
}

// Subscribe returns a buffered channel of messages and a cancel function.
// The channel is closed by cancel.
func (b *Bus) Subscribe(buffer int) (<-chan Message, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Message, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Dropped returns the number of messages lost to full subscribers.
func (b *Bus) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drops
}

// Preferences is the persisted flag the preference side owns.
type Preferences interface {
	// Turbo returns the stored flag, false when absent or unreadable.
	Turbo(ctx context.Context) bool
	SetTurbo(ctx context.Context, value bool, source string) error
}

// Injector is the preference side: it announces the stored flag once after
// StateDelay and persists every TOGGLE it receives.
type Injector struct {
	bus    *Bus
	prefs  Preferences
	delay  time.Duration
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewInjector creates an Injector. delay <= 0 means DefaultStateDelay.
func NewInjector(bus *Bus, prefs Preferences, delay time.Duration, logger *slog.Logger) *Injector {
	if delay <= 0 {
		delay = DefaultStateDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Injector{bus: bus, prefs: prefs, delay: delay, logger: logger}
}

// Start subscribes to the bus and launches the injector goroutine.
func (in *Injector) Start(ctx context.Context) {
	ctx, in.cancel = context.WithCancel(ctx)
	msgs, unsubscribe := in.bus.Subscribe(32)

	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		defer unsubscribe()
		in.loop(ctx, msgs)
	}()
}

func (in *Injector) loop(ctx context.Context, msgs <-chan Message) {
	timer := time.NewTimer(in.delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-timer.C:
			v := in.prefs.Turbo(ctx)
			in.bus.Post(Message{Type: State, IsTurbo: v})
			in.logger.Debug("bridge: state posted", "is_turbo", v)

		case m, ok := <-msgs:
			if !ok {
				return
			}
			if m.Type != Toggle {
				continue
			}
			source := m.Source
			if source == "" {
				source = "page"
			}
			if err := in.prefs.SetTurbo(ctx, m.IsTurbo, source); err != nil {
				in.logger.Warn("bridge: persist toggle", "is_turbo", m.IsTurbo, "error", err)
			}
		}
	}
}

// Stop cancels the injector and waits for its goroutine.
func (in *Injector) Stop() {
	if in.cancel != nil {
		in.cancel()
	}
	in.wg.Wait()
}
