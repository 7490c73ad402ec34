package handlers

import (
	"context"

	"github.com/urmzd/homelink/pkg/central"
	"github.com/urmzd/homelink/pkg/connectivity"
	"github.com/urmzd/homelink/pkg/events"
	"github.com/urmzd/homelink/pkg/health"
	"github.com/urmzd/homelink/pkg/recovery"
	"github.com/urmzd/homelink/pkg/scheduler"
)

// Connectivity is the query and control surface the handlers serve.
// *connectivity.Manager implements it.
type Connectivity interface {
	Interfaces() []string
	Status() connectivity.Status
	CentralState() central.State
	CentralHealth() health.CentralHealth
	CentralHistory() []central.StateChange
	Health(id string) (health.ConnectionHealth, error)
	Diagnostics(id string) (connectivity.Diagnostics, error)
	SchedulerStats() scheduler.Stats
	RecordLiveness(id string) error
	RecoverAllFailed(ctx context.Context) recovery.Summary
	RecoverClient(ctx context.Context, id string) (recovery.Summary, error)
}

// Subscriber is the part of the event bus the SSE stream needs.
type Subscriber interface {
	Subscribe(t events.Type, key string, handler events.Handler, priority int) func()
}
