package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/tinyland-inc/formbridge/pkg/logger"
	"github.com/tinyland-inc/formbridge/pkg/protocol"
)

// DefaultAutosaveSchedule saves progress once a minute.
const DefaultAutosaveSchedule = "* * * * *"

// SnapshotFunc returns the current progress. ok=false skips this tick,
// e.g. when nothing changed since the last save.
type SnapshotFunc func() (snap protocol.ProgressSnapshot, ok bool)

// Autosaver emits SAVE_PROGRESS on a cron schedule.
type Autosaver struct {
	expr     string
	emitter  *Emitter
	snapshot SnapshotFunc
	now      func() time.Time
	next     func(ref time.Time) (time.Time, error)
}

func NewAutosaver(expr string, emitter *Emitter, snapshot SnapshotFunc) (*Autosaver, error) {
	if expr == "" {
		expr = DefaultAutosaveSchedule
	}
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("invalid autosave schedule %q", expr)
	}
	a := &Autosaver{
		expr:     expr,
		emitter:  emitter,
		snapshot: snapshot,
		now:      time.Now,
	}
	a.next = func(ref time.Time) (time.Time, error) {
		return gronx.NextTickAfter(a.expr, ref, false)
	}
	return a, nil
}

// Schedule returns the cron expression in use.
func (a *Autosaver) Schedule() string { return a.expr }

// Run saves on every tick until ctx ends.
func (a *Autosaver) Run(ctx context.Context) {
	for {
		at, err := a.next(a.now())
		if err != nil {
			logger.ErrorCF("telemetry", "Autosave schedule failed", map[string]any{
				"schedule": a.expr,
				"error":    err.Error(),
			})
			return
		}

		timer := time.NewTimer(time.Until(at))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if snap, ok := a.snapshot(); ok {
			a.emitter.SaveProgress(snap)
		}
	}
}
