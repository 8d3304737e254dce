package authz

import "context"

// SweepResult counts evictions from one housekeeping pass.
type SweepResult struct {
	Nonces  int
	Windows int
}

// Sweep evicts expired nonces and idle rate windows.
func (e *Engine) Sweep() SweepResult {
	now := e.clock.Now()
	return SweepResult{
		Nonces:  e.nonces.Sweep(now),
		Windows: e.limiter.Sweep(now),
	}
}

// Run sweeps every SweepInterval until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	ticker := e.clock.Ticker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res := e.Sweep()
			if res.Nonces > 0 || res.Windows > 0 {
				e.log.Debug("sweep", "nonces", res.Nonces, "windows", res.Windows)
			}
		}
	}
}
