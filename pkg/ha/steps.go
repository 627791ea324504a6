package ha

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/paddock/pkg/types"
)

// errInconclusive keeps an item at Investigating until a retry decides
var errInconclusive = fmt.Errorf("host state inconclusive: %w", types.ErrTimeout)

// advance performs the work of item's current step and returns the next one.
// An error leaves the item at its current step.
func (e *Engine) advance(ctx context.Context, item *types.HAWorkItem) (types.Step, error) {
	switch item.Step {
	case types.StepScheduled:
		return e.firstStep(item), nil
	case types.StepInvestigating:
		return e.investigate(ctx, item)
	case types.StepFencing:
		return e.fence(ctx, item)
	case types.StepStopping:
		return e.stop(ctx, item)
	case types.StepRestarting:
		return e.restart(ctx, item)
	case types.StepMigrating:
		return e.migrate(ctx, item)
	}
	return item.Step, fmt.Errorf("work item %s at terminal step %s", item.ID, item.Step)
}

func (e *Engine) firstStep(item *types.HAWorkItem) types.Step {
	switch item.Type {
	case types.WorkHA:
		if item.InvestigateFirst {
			return types.StepInvestigating
		}
		return types.StepStopping
	case types.WorkMigration:
		return types.StepMigrating
	default:
		return types.StepStopping
	}
}

func (e *Engine) investigate(ctx context.Context, item *types.HAWorkItem) (types.Step, error) {
	status, err := e.Investigate(ctx, item.HostID)
	if err != nil {
		return item.Step, err
	}
	switch status {
	case types.StatusUp:
		return types.StepDone, nil
	case types.StatusDown:
		return types.StepFencing, nil
	}
	return item.Step, errInconclusive
}

func (e *Engine) fence(ctx context.Context, item *types.HAWorkItem) (types.Step, error) {
	host, err := e.inv.GetHost(ctx, item.HostID)
	if err != nil {
		return item.Step, fmt.Errorf("failed to get host %s: %w", item.HostID, err)
	}

	for _, f := range e.opts.Fencers {
		fenced, err := f.Fence(ctx, host)
		if err != nil {
			e.logger.Warn().Err(err).
				Str("host_id", host.ID).
				Str("fencer", f.Name()).
				Msg("fencer failed")
			continue
		}
		if fenced {
			e.logger.Info().
				Str("host_id", host.ID).
				Str("fencer", f.Name()).
				Msg("host fenced")
			return types.StepStopping, nil
		}
	}
	return item.Step, fmt.Errorf("no fencer could fence host %s: %w", host.ID, types.ErrResourceUnavailable)
}

// stopCommand picks the stop flavor. A fenced host cannot answer, so its
// workloads are cleaned up from the control plane.
func stopCommand(item *types.HAWorkItem) types.CommandType {
	switch item.Type {
	case types.WorkDestroy:
		return types.CommandDestroy
	case types.WorkForceStop:
		return types.CommandForceStop
	case types.WorkHA:
		if item.InvestigateFirst {
			return types.CommandForceStop
		}
	}
	return types.CommandStop
}

func (e *Engine) stop(ctx context.Context, item *types.HAWorkItem) (types.Step, error) {
	w, err := e.inv.GetWorkload(ctx, item.WorkloadID)
	if err != nil {
		return item.Step, fmt.Errorf("failed to get workload %s: %w", item.WorkloadID, err)
	}
	dest := types.Destination{ZoneID: w.ZoneID, HostID: item.HostID, PoolID: w.PoolID}

	if item.Type == types.WorkCheckStop {
		answer, err := e.exec.Apply(ctx, dest, types.Command{Type: types.CommandCheckState, WorkloadID: w.ID})
		if err != nil {
			return item.Step, fmt.Errorf("failed to check workload %s: %w", w.ID, err)
		}
		if answer.Result && answer.State != types.WorkloadRunning {
			return types.StepDone, nil
		}
	}

	cmd := stopCommand(item)
	if w.HostID != item.HostID && cmd != types.CommandDestroy {
		// already gone from the host
		return afterStop(item, w), nil
	}

	answer, err := e.exec.Apply(ctx, dest, types.Command{Type: cmd, WorkloadID: w.ID})
	if err != nil {
		return item.Step, fmt.Errorf("%s of workload %s: %w", cmd, w.ID, err)
	}
	if !answer.Result {
		return item.Step, fmt.Errorf("%s of workload %s refused: %s: %w", cmd, w.ID, answer.Details, types.ErrResourceUnavailable)
	}
	return afterStop(item, w), nil
}

// afterStop decides whether a stopped workload is restarted elsewhere.
// Only HA items of HA-enabled workloads restart.
func afterStop(item *types.HAWorkItem, w *types.WorkloadProfile) types.Step {
	if item.Type != types.WorkHA || !w.HAEnabled {
		return types.StepDone
	}
	return types.StepRestarting
}

func (e *Engine) restart(ctx context.Context, item *types.HAWorkItem) (types.Step, error) {
	w, err := e.inv.GetWorkload(ctx, item.WorkloadID)
	if err != nil {
		return item.Step, fmt.Errorf("failed to get workload %s: %w", item.WorkloadID, err)
	}
	if w.State == types.WorkloadRunning && w.HostID != "" && w.HostID != item.HostID {
		// restarted elsewhere already
		return types.StepDone, nil
	}

	e.dropReservation(ctx, item)

	// draining clusters are for leaving, never for restarting into
	exclude := e.excludeFor(item)
	if err := e.draining.AddDrainingToAvoids(ctx, w.ZoneID, exclude); err != nil {
		return item.Step, err
	}
	plan := types.DeploymentPlan{ZoneID: w.ZoneID, PoolID: w.PoolID}

	r, err := e.deployer.Deploy(ctx, w, plan, exclude, "")
	if err != nil {
		return item.Step, fmt.Errorf("failed to place workload %s: %w", w.ID, err)
	}
	item.ReservationToken = r.Token
	e.save(item)

	answer, err := e.exec.Apply(ctx, r.Destination, types.Command{
		Type:        types.CommandStart,
		WorkloadID:  w.ID,
		Destination: r.Destination,
	})
	if err == nil && !answer.Result {
		err = fmt.Errorf("start refused: %s: %w", answer.Details, types.ErrResourceUnavailable)
	}
	if err != nil {
		item.ExcludedHosts = append(item.ExcludedHosts, r.Destination.HostID)
		e.dropReservation(ctx, item)
		return item.Step, fmt.Errorf("failed to start workload %s on %s: %w", w.ID, r.Destination.HostID, err)
	}

	if e.confirmPlacement(ctx, w.ID, r.Token) {
		item.ReservationToken = ""
	}
	e.logger.Info().
		Str("workload_id", w.ID).
		Str("from", item.HostID).
		Str("to", r.Destination.HostID).
		Msg("workload restarted")
	return types.StepDone, nil
}

func (e *Engine) migrate(ctx context.Context, item *types.HAWorkItem) (types.Step, error) {
	w, err := e.inv.GetWorkload(ctx, item.WorkloadID)
	if err != nil {
		return item.Step, fmt.Errorf("failed to get workload %s: %w", item.WorkloadID, err)
	}
	if w.HostID != item.HostID {
		return types.StepDone, nil
	}

	e.dropReservation(ctx, item)

	exclude := e.excludeFor(item)
	r, err := e.deployer.Deploy(ctx, w, types.DeploymentPlan{ZoneID: w.ZoneID, PoolID: w.PoolID}, exclude, "")
	if err != nil {
		return item.Step, fmt.Errorf("failed to place workload %s: %w", w.ID, err)
	}
	item.ReservationToken = r.Token
	e.save(item)

	source := types.Destination{ZoneID: w.ZoneID, HostID: item.HostID, PoolID: w.PoolID}
	answer, err := e.exec.Apply(ctx, source, types.Command{
		Type:        types.CommandMigrate,
		WorkloadID:  w.ID,
		Destination: r.Destination,
	})
	if err == nil && !answer.Result {
		err = fmt.Errorf("migration refused: %s: %w", answer.Details, types.ErrResourceUnavailable)
	}
	if err != nil {
		item.ExcludedHosts = append(item.ExcludedHosts, r.Destination.HostID)
		e.dropReservation(ctx, item)
		return item.Step, fmt.Errorf("failed to migrate workload %s: %w", w.ID, err)
	}

	if e.confirmPlacement(ctx, w.ID, r.Token) {
		item.ReservationToken = ""
	}
	return types.StepDone, nil
}

const confirmAttempts = 3

// confirmPlacement confirms the reservation of a workload that is already
// running at its destination. A confirmation that keeps failing never
// repeats the step; the finished item keeps the token and the host scan
// confirms it later.
func (e *Engine) confirmPlacement(ctx context.Context, workloadID, token string) bool {
	var err error
	for i := 0; i < confirmAttempts; i++ {
		if _, err = e.deployer.ConfirmReservation(ctx, token); err == nil {
			return true
		}
	}
	e.logger.Warn().
		Err(err).
		Str("workload_id", workloadID).
		Str("reservation", token).
		Msg("failed to confirm reservation of a running workload")
	return false
}

// confirmLeftovers confirms reservations still held by finished items
func (e *Engine) confirmLeftovers(ctx context.Context) error {
	items, err := e.store.ListWorkItems()
	if err != nil {
		return fmt.Errorf("failed to list work items: %w", err)
	}
	for _, it := range items {
		if it.Step != types.StepDone || it.ReservationToken == "" {
			continue
		}
		_, err := e.deployer.ConfirmReservation(ctx, it.ReservationToken)
		if err != nil && !errors.Is(err, types.ErrNotFound) {
			e.logger.Warn().Err(err).Str("item", it.ID).Msg("failed to confirm reservation")
			continue
		}
		it.ReservationToken = ""
		e.save(it)
	}
	return nil
}

func (e *Engine) excludeFor(item *types.HAWorkItem) *types.ExcludeList {
	exclude := types.NewExcludeList()
	exclude.AddHost(item.HostID)
	for _, h := range item.ExcludedHosts {
		exclude.AddHost(h)
	}
	return exclude
}

// dropReservation releases the reservation left by an earlier attempt
func (e *Engine) dropReservation(ctx context.Context, item *types.HAWorkItem) {
	if item.ReservationToken == "" {
		return
	}
	err := e.deployer.CancelReservation(ctx, item.ReservationToken)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		e.logger.Warn().Err(err).
			Str("work_item_id", item.ID).
			Str("reservation", item.ReservationToken).
			Msg("failed to cancel reservation")
	}
	item.ReservationToken = ""
}
