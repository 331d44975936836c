package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"pingme/internal/constants"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// PeerConfig tunes one connection.
type PeerConfig struct {
	SendBuffer      int
	EventsPerSecond float64
	EventBurst      int
	// DeliveryEvents is false for clients on a protocol version that
	// predates message:delivered and message:update.
	DeliveryEvents bool
}

// Peer is one live connection of an authenticated user. Outbound frames go
// through a bounded queue; when it is full the frame is dropped.
type Peer struct {
	id       string
	userID   string
	cfg      PeerConfig
	send     chan []byte
	done     chan struct{}
	once     sync.Once
	limiter  *rate.Limiter
	dropped  atomic.Int64
	joinedAt time.Time
}

func NewPeer(userID string, cfg PeerConfig) *Peer {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = constants.DefaultSendBufferSize
	}
	if cfg.EventsPerSecond <= 0 {
		cfg.EventsPerSecond = constants.DefaultEventsPerSecond
	}
	if cfg.EventBurst <= 0 {
		cfg.EventBurst = constants.DefaultEventBurst
	}
	return &Peer{
		id:       uuid.NewString(),
		userID:   userID,
		cfg:      cfg,
		send:     make(chan []byte, cfg.SendBuffer),
		done:     make(chan struct{}),
		limiter:  rate.NewLimiter(rate.Limit(cfg.EventsPerSecond), cfg.EventBurst),
		joinedAt: time.Now(),
	}
}

func (p *Peer) ID() string     { return p.id }
func (p *Peer) UserID() string { return p.userID }

// Outbound yields frames to write to the connection.
func (p *Peer) Outbound() <-chan []byte { return p.send }

// Done is closed when the peer is closed.
func (p *Peer) Done() <-chan struct{} { return p.done }

// Close stops delivery to the peer. It is safe to call more than once.
func (p *Peer) Close() {
	p.once.Do(func() { close(p.done) })
}

// Allow reports whether the peer may send one more inbound event now.
func (p *Peer) Allow() bool {
	return p.limiter.Allow()
}

// Dropped returns how many frames were discarded because the queue was full.
func (p *Peer) Dropped() int64 {
	return p.dropped.Load()
}

func (p *Peer) accepts(kind Kind) bool {
	if p.cfg.DeliveryEvents {
		return true
	}
	return kind != KindMessageDelivered && kind != KindMessageUpdate
}

// enqueue offers frame without blocking. It reports whether the frame was
// queued.
func (p *Peer) enqueue(frame []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- frame:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}
