package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/cmdgate/internal/metrics"
	"github.com/ppiankov/cmdgate/internal/model"
)

// SendCommand sends method to peer and waits for the correlated response.
// Each attempt gets a fresh correlation id and timeout. Transport failures
// and timeouts are retried with a fixed delay; a remote error response is
// returned as *model.RPCError and never retried.
func (a *Adapter) SendCommand(ctx context.Context, peerID, method string, params any, opts CallOptions) (json.RawMessage, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = a.cfg.RequestTimeout
	}
	switch {
	case opts.NoRetry:
		opts.Retries = 0
	case opts.Retries <= 0:
		opts.Retries = a.cfg.Retries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = a.cfg.RetryDelay
	}

	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		raw = b
	}

	var lastErr error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if attempt > 0 {
			a.log.Debug("retrying call", "peer", peerID, "method", method, "attempt", attempt, "err", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-a.clock.After(opts.RetryDelay):
			}
		}
		result, err := a.attempt(ctx, peerID, method, raw, opts.Timeout)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return nil, lastErr
}

func retryable(err error) bool {
	var rpcErr *model.RPCError
	switch {
	case errors.As(err, &rpcErr),
		errors.Is(err, ErrClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func (a *Adapter) attempt(ctx context.Context, peerID, method string, params json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	req := model.Request{ID: uuid.NewString(), Method: method, Params: params}
	if a.signer != nil {
		auth, err := a.signer.Sign(method)
		if err != nil {
			return nil, fmt.Errorf("sign %s: %w", method, err)
		}
		req.Auth = auth
	}
	data, err := EncodeFrame(FrameRequest, req)
	if err != nil {
		return nil, err
	}

	pc := &pendingCall{peer: peerID, done: make(chan callResult, 1)}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, ErrClosed
	}
	pc.timer = a.clock.AfterFunc(timeout, func() {
		a.resolve(req.ID, "", callResult{err: fmt.Errorf("%w after %s: %s", ErrTimeout, timeout, method)})
	})
	a.pending[req.ID] = pc
	n := len(a.pending)
	a.mu.Unlock()
	a.metrics.SetPending(n)

	a.record(peerID, Outbound, FrameRequest, req.ID, method)
	if err := a.send(ctx, peerID, data); err != nil {
		a.remove(req.ID)
		a.metrics.ObserveCall(metrics.OutcomeError)
		return nil, err
	}

	select {
	case res := <-pc.done:
		return a.finishCall(res)
	case <-ctx.Done():
		a.remove(req.ID)
		return nil, ctx.Err()
	}
}

func (a *Adapter) finishCall(res callResult) (json.RawMessage, error) {
	switch {
	case errors.Is(res.err, ErrTimeout):
		a.metrics.ObserveCall(metrics.OutcomeTimeout)
		return nil, res.err
	case res.err != nil:
		a.metrics.ObserveCall(metrics.OutcomeError)
		return nil, res.err
	case res.resp.Error != nil:
		a.metrics.ObserveCall(metrics.OutcomeError)
		return nil, res.resp.Error
	}
	a.metrics.ObserveCall(metrics.OutcomeSuccess)
	return res.resp.Result, nil
}

// resolve completes the pending call id. A non-empty from must match the
// peer the call was sent to. It reports false when the call was already
// resolved, timed out, removed or belongs to another peer.
func (a *Adapter) resolve(id, from string, res callResult) bool {
	a.mu.Lock()
	pc, ok := a.pending[id]
	if ok && from != "" && pc.peer != from {
		ok = false
	}
	if ok {
		delete(a.pending, id)
	}
	n := len(a.pending)
	a.mu.Unlock()
	if !ok {
		return false
	}
	pc.timer.Stop()
	a.metrics.SetPending(n)
	pc.done <- res
	return true
}

func (a *Adapter) remove(id string) {
	a.mu.Lock()
	pc, ok := a.pending[id]
	if ok {
		delete(a.pending, id)
	}
	n := len(a.pending)
	a.mu.Unlock()
	if ok {
		pc.timer.Stop()
		a.metrics.SetPending(n)
	}
}

// Broadcast sends a one-way event to the given peers, or to every live
// peer when none are named. Delivery is best effort: all peers are
// attempted and the first failure is returned.
func (a *Adapter) Broadcast(ctx context.Context, event string, data any, peers ...string) error {
	ev := Event{Name: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
		ev.Data = raw
	}
	frame, err := EncodeFrame(FrameEvent, ev)
	if err != nil {
		return err
	}
	if len(peers) == 0 {
		for _, p := range a.Peers() {
			peers = append(peers, p.ID)
		}
	}

	var g errgroup.Group
	for _, id := range peers {
		g.Go(func() error {
			a.record(id, Outbound, FrameEvent, "", event)
			return a.send(ctx, id, frame)
		})
	}
	return g.Wait()
}
