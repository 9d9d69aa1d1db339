package execution

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// HeartbeatPoster posts a heartbeat to the venue. lastID is empty on the
// initial call; subsequent calls pass the id returned by the previous
// one. A failed post returns an error but must not stop the timer.
type HeartbeatPoster func(ctx context.Context, lastID string) (id string, err error)

// Heartbeat keeps a V1 order session alive: the venue cancels
// resting orders if it doesn't see one within ~10s, so this posts an
// initial heartbeat and then re-posts on a fixed interval using the
// latest id, logging but not stopping on failure.
type Heartbeat struct {
	post     HeartbeatPoster
	interval time.Duration

	mu     sync.Mutex
	active bool
	id     string
	cancel context.CancelFunc
}

// NewHeartbeat constructs a heartbeat that calls post every interval
// once started.
func NewHeartbeat(post HeartbeatPoster, interval time.Duration) *Heartbeat {
	return &Heartbeat{post: post, interval: interval}
}

// Start posts an initial heartbeat synchronously to obtain the first
// id, then launches the repeating loop. A failure on the initial post
// still starts the loop; the first retry will pass an empty lastID.
func (h *Heartbeat) Start(ctx context.Context) {
	h.mu.Lock()
	if h.active {
		h.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.active = true
	h.mu.Unlock()

	id, err := h.post(loopCtx, "")
	if err != nil {
		log.Warn().Err(err).Msg("💓 initial heartbeat post failed")
	} else {
		h.mu.Lock()
		h.id = id
		h.mu.Unlock()
	}

	go h.loop(loopCtx)
}

func (h *Heartbeat) loop(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.mu.Lock()
			lastID := h.id
			h.mu.Unlock()

			id, err := h.post(ctx, lastID)
			if err != nil {
				log.Warn().Err(err).Msg("💓 heartbeat post failed, keeping timer alive")
				continue
			}
			h.mu.Lock()
			h.id = id
			h.mu.Unlock()
		}
	}
}

// Stop clears the timer and forgets the tracked id.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.active {
		return
	}
	h.cancel()
	h.active = false
	h.id = ""
}

// IsActive mirrors timer presence.
func (h *Heartbeat) IsActive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}
