package lifecycle

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Component is anything with a bounded start/stop lifecycle: the engine,
// the alert dispatcher, the metrics server.
type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type named struct {
	name      string
	component Component
}

// Runtime starts components in registration order and stops them in
// reverse. A failed start rolls back the already-started prefix.
type Runtime struct {
	components []named
}

func NewRuntime() *Runtime {
	return &Runtime{}
}

func (r *Runtime) Register(name string, component Component) {
	if component == nil {
		return
	}
	r.components = append(r.components, named{name: name, component: component})
}

func (r *Runtime) Start(ctx context.Context) error {
	started := make([]named, 0, len(r.components))
	for _, entry := range r.components {
		if err := entry.component.Start(ctx); err != nil {
			_ = stopAll(ctx, started)
			return fmt.Errorf("start %s: %w", entry.name, err)
		}
		log.WithField("component", entry.name).Debug("component started")
		started = append(started, entry)
	}
	return nil
}

func (r *Runtime) Stop(ctx context.Context) error {
	return stopAll(ctx, r.components)
}

func stopAll(ctx context.Context, components []named) error {
	var stopErr error
	for i := len(components) - 1; i >= 0; i-- {
		entry := components[i]
		if err := entry.component.Stop(ctx); err != nil {
			stopErr = errors.Join(stopErr, fmt.Errorf("stop %s: %w", entry.name, err))
			continue
		}
		log.WithField("component", entry.name).Debug("component stopped")
	}
	return stopErr
}
