package transport

import (
	"context"
)

// Heartbeat evicts peers silent for longer than the liveness timeout and
// sends a heartbeat frame to the rest. It returns the evicted peer ids.
func (a *Adapter) Heartbeat(ctx context.Context) []string {
	now := a.clock.Now()
	limit := a.cfg.LivenessTimeout()

	a.mu.Lock()
	var (
		evicted []*peer
		alive   []string
	)
	for id, p := range a.peers {
		if now.Sub(p.lastSeen) > limit {
			delete(a.peers, id)
			evicted = append(evicted, p)
			continue
		}
		alive = append(alive, id)
	}
	n := len(a.peers)
	a.mu.Unlock()

	ids := make([]string, 0, len(evicted))
	for _, p := range evicted {
		p.conn.Close()
		a.emitDisconnect(p.id, ReasonTimedOut)
		ids = append(ids, p.id)
	}
	if len(evicted) > 0 {
		a.metrics.SetPeers(n)
	}

	frame, err := EncodeFrame(FrameHeartbeat, Heartbeat{Timestamp: now.UnixMilli()})
	if err != nil {
		return ids
	}
	for _, id := range alive {
		if err := a.send(ctx, id, frame); err != nil {
			a.log.Debug("heartbeat send failed", "peer", id, "err", err)
		}
	}
	return ids
}

// Run sends heartbeats and evicts silent peers every heartbeat interval
// until ctx is cancelled.
func (a *Adapter) Run(ctx context.Context) {
	ticker := a.clock.Ticker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Heartbeat(ctx)
		}
	}
}
