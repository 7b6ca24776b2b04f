package runtime

import (
	"context"

	"github.com/basket/orchard/internal/handler"
)

// Operator-facing controls. Each operation runs its decision atomically
// against current state; transition errors come back synchronously with
// state unchanged, accepted operations return after their events are
// applied, with effects executing in the background.

func (r *Runtime) submit(ctx context.Context, decide func(deps handler.Deps) (handler.Decision, error)) (handler.Decision, error) {
	r.mu.Lock()
	d, err := decide(r.deps())
	if err != nil {
		r.mu.Unlock()
		return handler.Decision{}, err
	}
	routed := r.commitLocked(ctx, d.Events)
	r.mu.Unlock()

	r.goRunEffects(d.Effects)
	r.fanout(routed)
	return d, nil
}

// RunPipeline starts a run of a pipeline definition and returns the new
// pipeline id.
func (r *Runtime) RunPipeline(ctx context.Context, ns, name string, vars map[string]string) (string, error) {
	d, err := r.submit(ctx, func(deps handler.Deps) (handler.Decision, error) {
		return handler.StartPipeline(r.st, deps, ns, name, vars)
	})
	if err != nil {
		return "", err
	}
	return d.Events[0].Pipeline, nil
}

// DeletePipeline removes a pipeline from state.
func (r *Runtime) DeletePipeline(ctx context.Context, id string) error {
	_, err := r.submit(ctx, func(deps handler.Deps) (handler.Decision, error) {
		return handler.DeletePipeline(r.st, deps, id)
	})
	return err
}

// SignalAgent reports an agent lifecycle transition observed outside the
// daemon (completion, idling, escalation, failure).
func (r *Runtime) SignalAgent(ctx context.Context, pipeline string, sig handler.Signal, errMsg string) error {
	_, err := r.submit(ctx, func(deps handler.Deps) (handler.Decision, error) {
		return handler.SignalAgent(r.st, deps, pipeline, sig, errMsg)
	})
	return err
}

// StartWorker brings a defined worker online.
func (r *Runtime) StartWorker(ctx context.Context, ns, name string) error {
	_, err := r.submit(ctx, func(deps handler.Deps) (handler.Decision, error) {
		return handler.StartWorker(r.st, deps, ns, name)
	})
	return err
}

// StopWorker takes a worker offline and cancels its poll timer.
func (r *Runtime) StopWorker(ctx context.Context, ns, name string) error {
	_, err := r.submit(ctx, func(deps handler.Deps) (handler.Decision, error) {
		return handler.StopWorker(r.st, deps, ns, name)
	})
	return err
}

// PushItem adds an item to a persisted queue.
func (r *Runtime) PushItem(ctx context.Context, ns, queue, id, payload string) error {
	_, err := r.submit(ctx, func(deps handler.Deps) (handler.Decision, error) {
		return handler.PushItem(r.st, deps, ns, queue, id, payload)
	})
	return err
}

// ResurrectItem returns a dead or failed item to pending.
func (r *Runtime) ResurrectItem(ctx context.Context, ns, queue, item string) error {
	_, err := r.submit(ctx, func(deps handler.Deps) (handler.Decision, error) {
		return handler.ResurrectItem(r.st, deps, ns, queue, item)
	})
	return err
}

// StartCron brings a defined cron online and arms its first firing.
func (r *Runtime) StartCron(ctx context.Context, ns, name string) error {
	_, err := r.submit(ctx, func(deps handler.Deps) (handler.Decision, error) {
		return handler.StartCron(r.st, deps, ns, name)
	})
	return err
}

// StopCron takes a cron offline.
func (r *Runtime) StopCron(ctx context.Context, ns, name string) error {
	_, err := r.submit(ctx, func(deps handler.Deps) (handler.Decision, error) {
		return handler.StopCron(r.st, deps, ns, name)
	})
	return err
}
