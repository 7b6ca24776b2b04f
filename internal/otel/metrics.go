package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all orchard metric instruments.
type Metrics struct {
	TriggersProcessed metric.Int64Counter
	EffectsExecuted   metric.Int64Counter
	TimerFirings      metric.Int64Counter
	ItemsDispatched   metric.Int64Counter
	ItemsDeadLettered metric.Int64Counter
	NotifyFailures    metric.Int64Counter
	LiveTimers        metric.Int64UpDownCounter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.TriggersProcessed, err = meter.Int64Counter("orchard.triggers.processed",
		metric.WithDescription("Triggers processed by the runtime"),
	)
	if err != nil {
		return nil, err
	}

	m.EffectsExecuted, err = meter.Int64Counter("orchard.effects.executed",
		metric.WithDescription("Effects executed by the executor"),
	)
	if err != nil {
		return nil, err
	}

	m.TimerFirings, err = meter.Int64Counter("orchard.timer.firings",
		metric.WithDescription("Timer firings delivered"),
	)
	if err != nil {
		return nil, err
	}

	m.ItemsDispatched, err = meter.Int64Counter("orchard.queue.dispatched",
		metric.WithDescription("Queue items dispatched to workers"),
	)
	if err != nil {
		return nil, err
	}

	m.ItemsDeadLettered, err = meter.Int64Counter("orchard.queue.dead_letters",
		metric.WithDescription("Queue items moved to the dead-letter status"),
	)
	if err != nil {
		return nil, err
	}

	m.NotifyFailures, err = meter.Int64Counter("orchard.notify.failures",
		metric.WithDescription("Notification deliveries that failed"),
	)
	if err != nil {
		return nil, err
	}

	m.LiveTimers, err = meter.Int64UpDownCounter("orchard.timer.live",
		metric.WithDescription("Currently armed timers"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
