package engine

import (
	"context"
	"errors"
	"time"

	"fixturecraft.ai/internal/persistence/snapshot"
)

var ErrStopped = errors.New("engine stopped")

type adminSnapshotReq struct {
	Resp chan adminSnapshotResp
}

type adminSnapshotResp struct {
	Tick uint64
	Err  error
}

// Run advances the simulation at the configured tick rate until ctx is done
// or Stop is called. Input received between ticks is applied at the start of
// the next tick in arrival order.
func (e *Engine) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(e.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingActions []ActionEnvelope
	var pendingJoins []JoinRequest
	var pendingLeaves []string
	var pendingAdmin []adminSnapshotReq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stop:
			return nil
		case req := <-e.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-e.leave:
			pendingLeaves = append(pendingLeaves, id)
		case req := <-e.admin:
			pendingAdmin = append(pendingAdmin, req)
		case env := <-e.inbox:
			pendingActions = append(pendingActions, env)
		case <-ticker.C:
			e.step(pendingJoins, pendingLeaves, pendingActions)
			e.handleAdminSnapshotRequests(pendingAdmin)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingActions = pendingActions[:0]
			pendingAdmin = pendingAdmin[:0]
		}
	}
}

func (e *Engine) Stop() { close(e.stop) }

// StepOnce advances by a single tick with the same ordering as Run. It is
// meant for tests and replays and must not be mixed with a running loop.
func (e *Engine) StepOnce(joins []JoinRequest, leaves []string, actions []ActionEnvelope) uint64 {
	tick := e.sched.Now()
	e.step(joins, leaves, actions)
	return tick
}

func (e *Engine) step(joins []JoinRequest, leaves []string, actions []ActionEnvelope) {
	start := time.Now()
	tick := e.sched.Now()
	entry := TickLogEntry{Tick: tick}

	// Leaves and joins apply at the tick boundary, before any action.
	for _, id := range leaves {
		if m := e.handleLeave(id); m != 0 {
			entry.Leaves = append(entry.Leaves, uint64(m))
		}
	}
	for _, req := range joins {
		resp := e.handleJoin(req)
		if resp.Code == "" && resp.Welcome.Mobile != 0 {
			entry.Joins = append(entry.Joins, RecordedJoin{Mobile: resp.Welcome.Mobile, Name: resp.Welcome.Name})
		}
		if req.Resp != nil {
			req.Resp <- resp
		}
	}
	for _, env := range actions {
		c := e.clients[env.ClientID]
		if c == nil || c.observer {
			continue
		}
		entry.Actions = append(entry.Actions, RecordedAction{Mobile: uint64(c.mobile), Act: env.Act})
		e.applyAct(c, env.Act)
	}

	e.sched.Advance()
	now := e.sched.Now()
	e.tick.Store(now)

	if e.tickLogger != nil && !entry.Empty() {
		_ = e.tickLogger.WriteTick(entry)
	}
	e.flushEvents(tick)

	if every := uint64(e.cfg.SnapshotEveryTicks); every > 0 && now%every == 0 {
		if err := e.checkpoint(context.Background(), now); err != nil {
			e.log.Printf("engine: checkpoint at tick %d: %v", now, err)
		}
	}

	e.metrics.Store(Metrics{
		Tick:     now,
		Fixtures: len(e.reg.All()),
		Previews: e.proto.Previews().Len(),
		Timers:   e.sched.Pending(),
		Clients:  len(e.clients),
		Inbox:    len(e.inbox),
		StepMS:   float64(time.Since(start).Microseconds()) / 1000,
	})
}

// checkpoint hands a snapshot to the sink and then saves the preview
// registry for the same tick. A skipped snapshot leaves previews.db alone,
// so the saved registry never runs ahead of the newest snapshot.
func (e *Engine) checkpoint(ctx context.Context, tick uint64) error {
	if e.snapshotSink != nil {
		select {
		case e.snapshotSink <- e.ExportSnapshot(tick):
		default:
			return errors.New("snapshot sink full; snapshot skipped")
		}
	}
	if e.store != nil {
		if err := e.proto.Save(ctx, e.store); err != nil {
			return err
		}
	}
	return nil
}

// RequestSnapshot asks the running loop for a checkpoint at the next tick.
func (e *Engine) RequestSnapshot(ctx context.Context) (uint64, error) {
	req := adminSnapshotReq{Resp: make(chan adminSnapshotResp, 1)}
	select {
	case e.admin <- req:
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-e.stop:
		return 0, ErrStopped
	}
	select {
	case resp := <-req.Resp:
		return resp.Tick, resp.Err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (e *Engine) handleAdminSnapshotRequests(reqs []adminSnapshotReq) {
	if len(reqs) == 0 {
		return
	}
	tick := e.sched.Now()
	err := e.checkpoint(context.Background(), tick)
	for _, r := range reqs {
		r.Resp <- adminSnapshotResp{Tick: tick, Err: err}
	}
}

// Snapshot is a synchronous export for tools running on the engine goroutine.
func (e *Engine) Snapshot() snapshot.SnapshotV1 { return e.ExportSnapshot(e.sched.Now()) }
