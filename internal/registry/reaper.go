package registry

import (
	"context"
	"log/slog"
	"time"
)

// Run evicts idle handles and health-checks the rest every HealthCheckInterval until
// ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	interval := r.cfg.HealthCheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one eviction and health-check pass. Failures are handled locally: an
// unhealthy handle is invalidated and rebuilt by the next Acquire.
func (r *Registry) Sweep(ctx context.Context) {
	now := r.now()

	var idle, live []*Handle
	r.mu.Lock()
	for _, h := range r.handles {
		if h.refs == 0 && r.cfg.MaxIdleAge > 0 && now.Sub(h.lastUsed) > r.cfg.MaxIdleAge {
			idle = append(idle, h)
		} else {
			live = append(live, h)
		}
	}
	r.mu.Unlock()

	for _, h := range idle {
		r.evictIdle(h, now)
	}

	for _, h := range live {
		pingCtx, cancel := context.WithTimeout(ctx, r.pingTimeout())
		err := h.conn.Ping(pingCtx)
		cancel()
		if err != nil {
			slog.Warn("tenant connection unhealthy", "tenant", h.tenant, "error", err)
			r.invalidateHandle(h, "unhealthy")
		}
	}
}

func (r *Registry) pingTimeout() time.Duration {
	if r.cfg.ConnectTimeout > 0 {
		return r.cfg.ConnectTimeout
	}
	return 5 * time.Second
}

// evictIdle removes h only if it is still registered, unused and idle as of now.
func (r *Registry) evictIdle(h *Handle, now time.Time) {
	r.evict(h.tenant, "idle", func(cur *Handle) bool {
		return cur == h && cur.refs == 0 && now.Sub(cur.lastUsed) > r.cfg.MaxIdleAge
	})
}

// invalidateHandle never evicts a replacement built after the sweep took its snapshot.
func (r *Registry) invalidateHandle(h *Handle, reason string) {
	r.evict(h.tenant, reason, func(cur *Handle) bool { return cur == h })
}
