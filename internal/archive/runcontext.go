package archive

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/roach88/exar/internal/model"
)

// RunState is the lifecycle state of a RunContext.
type RunState int

const (
	RunOpen RunState = iota
	RunCommitted
	RunAborted
)

func (s RunState) String() string {
	switch s {
	case RunOpen:
		return "open"
	case RunCommitted:
		return "committed"
	case RunAborted:
		return "aborted"
	}
	return fmt.Sprintf("RunState(%d)", int(s))
}

// RunContext stages the measurements of one run until CommitRun.
//
// Values are validated as they are added and kept in insertion order; a
// second value for the same name replaces the first in its original
// position. A RunContext never touches storage.
//
// Thread-safety: RunContext is safe for concurrent use via internal mutex.
type RunContext struct {
	mu sync.Mutex

	runID      string
	instanceID string
	versionID  string
	experiment string
	date       time.Time

	decls map[string]model.Decl
	order []string
	vals  map[string]model.Value
	state RunState
}

func newRunContext(runID string, inst model.Instance, date time.Time, decls []model.Decl) *RunContext {
	rc := &RunContext{
		runID:      runID,
		instanceID: inst.ID,
		versionID:  inst.VersionID,
		experiment: inst.Experiment,
		date:       date,
		decls:      make(map[string]model.Decl, len(decls)),
		vals:       make(map[string]model.Value),
	}
	for _, d := range decls {
		rc.decls[d.Name] = d
	}
	return rc
}

// AddValueByName stages value for the Output variable name.
//
// Fails with UNKNOWN_VARIABLE when name is not declared for the run's
// version, INVALID_MEASUREMENT when it is an Input or the value does not
// fit the declared type, and ALREADY_FINALIZED once the run is committed
// or aborted. A failed call leaves the run Open and its values unchanged.
func (rc *RunContext) AddValueByName(ctx context.Context, name string, value model.Value) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name = model.NormalizeName(name)

	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.state != RunOpen {
		return model.NewError(model.ErrCodeAlreadyFinalized, "run %s is %s", rc.runID, rc.state)
	}

	decl, ok := rc.decls[name]
	if !ok {
		return model.NewNamesError(model.ErrCodeUnknownVariable,
			fmt.Sprintf("variable not declared for version %s", rc.versionID), []string{name})
	}
	if decl.Kind != model.Output {
		return model.NewNamesError(model.ErrCodeInvalidMeasurement,
			"input variables are bound when the instance is created", []string{name})
	}

	v, err := model.Coerce(decl.Type, value)
	if err != nil {
		return &model.Error{
			Code:    model.ErrCodeInvalidMeasurement,
			Message: err.Error(),
			Names:   []string{name},
		}
	}

	if _, seen := rc.vals[name]; !seen {
		rc.order = append(rc.order, name)
	}
	rc.vals[name] = v
	return nil
}

// Values returns a snapshot of the staged measurements in insertion order.
func (rc *RunContext) Values() []model.Measurement {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.measurementsLocked()
}

func (rc *RunContext) measurementsLocked() []model.Measurement {
	out := make([]model.Measurement, 0, len(rc.order))
	for _, name := range rc.order {
		out = append(out, model.Measurement{
			RunID:   rc.runID,
			VarName: name,
			Value:   rc.vals[name].String(),
		})
	}
	return out
}

// Missing lists the declared Output variables without a staged value, sorted.
func (rc *RunContext) Missing() []string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.missingLocked()
}

func (rc *RunContext) missingLocked() []string {
	var missing []string
	for name, d := range rc.decls {
		if d.Kind != model.Output {
			continue
		}
		if _, ok := rc.vals[name]; !ok {
			missing = append(missing, name)
		}
	}
	slices.Sort(missing)
	return missing
}

// State returns the current lifecycle state.
func (rc *RunContext) State() RunState {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.state
}

// RunID returns the run identifier. It may change once, at commit, if the
// id was taken by a concurrent writer in the meantime.
func (rc *RunContext) RunID() string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.runID
}

func (rc *RunContext) InstanceID() string { return rc.instanceID }

func (rc *RunContext) VersionID() string { return rc.versionID }

func (rc *RunContext) Experiment() string { return rc.experiment }

// Date is the run timestamp, taken when the run began.
func (rc *RunContext) Date() time.Time { return rc.date }
