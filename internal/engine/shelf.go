package engine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"biopatrol/internal/async"
	"biopatrol/internal/fleet"
	"biopatrol/internal/scanstore"
	"biopatrol/internal/task"
)

// maxNARecordWorkers bounds concurrent N/A-row writes when a shelf drop
// interrupts a patrol with many beds still pending.
const maxNARecordWorkers = 4

// startShelfMonitor launches the §4.6 background poller. Only one monitor
// runs at a time per run (guarded by the caller checking r.monitorStop).
func (e *Engine) startShelfMonitor(r *run) {
	r.monitorStop = make(chan struct{})
	r.monitorDone = make(chan struct{})

	r.logger.Info("[shelf monitor] started for robot %s", e.robotID)
	async.Go(r.logger, "shelf-monitor:"+e.robotID, func() {
		defer close(r.monitorDone)
		ticker := time.NewTicker(e.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.monitorStop:
				r.logger.Info("[shelf monitor] stopped for robot %s", e.robotID)
				return
			case <-ticker.C:
				res, err := e.fleet.GetMovingShelf(context.Background(), e.robotID)
				if err != nil {
					r.logger.Debug("[shelf monitor] transient error polling shelf for robot %s: %v", e.robotID, err)
					continue
				}
				if !res.OK {
					continue
				}
				shelfID, _ := res.Data["shelf_id"].(string)
				if shelfID == "" {
					r.logger.Warn("[shelf monitor] robot %s no longer carrying a shelf — shelf dropped", e.robotID)
					r.shelfDropped.set(true)
					if _, cancelErr := e.fleet.CancelCommand(context.Background(), e.robotID); cancelErr != nil {
						r.logger.Debug("[shelf monitor] cancel_command failed (non-critical): %v", cancelErr)
					}
					return
				}
			}
		}
	})
}

// stopShelfMonitor requests the monitor goroutine to exit and waits for it,
// idempotently — safe to call from the main loop, the drop handler, and
// the finally block without double-closing the stop channel.
func (e *Engine) stopShelfMonitor(r *run) {
	if r.monitorStop == nil {
		return
	}
	r.monitorOnce.Do(func() { close(r.monitorStop) })
	<-r.monitorDone
	r.monitorStop = nil
	r.monitorDone = nil
	r.logger.Info("[shelf monitor] cleaned up for robot %s", e.robotID)
}

// handleShelfDrop implements §4.6's drop handler: pause the task, record
// context, skip remaining beds, and send the robot home.
func (e *Engine) handleShelfDrop(ctx context.Context, r *run, stepIndex int, triggerStep *task.Step) {
	e.stopShelfMonitor(r)

	if _, err := e.fleet.CancelCommand(ctx, e.robotID); err != nil {
		r.logger.Debug("[shelf drop] cancel_command failed (non-critical): %v", err)
	}

	t := r.task
	r.logger.Error("[shelf drop] detected on robot %s, pausing task %s", e.robotID, t.TaskID)

	locationID := r.targetBed
	shelfID := r.currentShelfID
	if triggerStep != nil && triggerStep.Action == task.ActionMoveShelf {
		if p, err := task.ParseParams(task.ActionMoveShelf, triggerStep.Params); err == nil {
			if mp, ok := p.(task.MoveShelfParams); ok {
				locationID = mp.LocationID
				shelfID = mp.ShelfID
			}
		}
	}

	shelfPose := e.queryShelfPose(ctx, r, shelfID)
	remainingBeds := e.collectRemainingBeds(t, stepIndex, triggerStep, locationID, r.inFlightBedKey)

	t.SetMetadata("shelf_drop", true)
	t.SetMetadata("shelf_id", shelfID)
	t.SetMetadata("bed_key", locationID)
	t.SetMetadata("dropped_at", time.Now().UTC())
	t.SetMetadata("remaining_beds", remainingBeds)
	t.SetMetadata("shelf_pose", shelfPose)
	t.SetStatus(task.StatusShelfDropped)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxNARecordWorkers)
	for _, bed := range remainingBeds {
		bed := bed
		g.Go(func() error {
			if err := scanstore.AppendNA(gctx, e.scans, scanstore.NAOptions{
				LocationID: bed.LocationID,
				BedName:    bed.BedKey,
				Details:    "shelf dropped, patrol interrupted",
			}); err != nil {
				r.logger.Warn("[shelf drop] failed to record N/A row for bed %s: %v", bed.BedKey, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if _, err := e.fleet.ReturnHome(ctx, e.robotID, e.timeouts.ReturnHome); err != nil {
		r.logger.Error("[shelf drop] failed to send robot %s home: %v", e.robotID, err)
	} else {
		r.logger.Info("[shelf drop] robot %s sent home", e.robotID)
	}
}

func (e *Engine) queryShelfPose(ctx context.Context, r *run, shelfID string) *fleet.Pose {
	if shelfID == "" {
		return nil
	}
	res, err := e.fleet.ListShelves(ctx, e.robotID)
	if err != nil || !res.OK {
		r.logger.Warn("[shelf drop] failed to get shelf pose: %v", err)
		return nil
	}
	shelves, _ := res.Data["shelves"].([]fleet.Shelf)
	for _, s := range shelves {
		if s.ID == shelfID {
			pose := s.Pose
			return &pose
		}
	}
	return nil
}

// remainingBed is one still-unvisited bed recorded when a shelf drop
// interrupts a patrol.
type remainingBed struct {
	BedKey     string `json:"bed_key"`
	LocationID string `json:"location_id"`
}

// collectRemainingBeds mirrors _collect_remaining_beds: the trigger step's
// skip_on_failure bio_scan targets plus every still-pending bio_scan step
// after stepIndex, plus — whenever the drop was detected while a bio_scan
// RPC call was outstanding — the bed that call was scanning. inFlightBedKey
// carries that bed independently of triggerStep, since the monitor can flip
// shelfDropped mid-call and the triggering step (if any) has already moved
// past StepExecuting by the time the main loop notices.
func (e *Engine) collectRemainingBeds(t *task.Task, stepIndex int, triggerStep *task.Step, locationID, inFlightBedKey string) []remainingBed {
	var remaining []remainingBed
	collected := make(map[string]bool)

	if triggerStep != nil {
		for _, skipID := range triggerStep.SkipOnFailure {
			step := t.StepByID(skipID)
			if step != nil && step.Action == task.ActionBioScan {
				remaining = append(remaining, remainingBed{BedKey: bioScanBedKey(step), LocationID: locationID})
				collected[skipID] = true
			}
		}
	}

	for _, future := range t.Steps[minInt(stepIndex+1, len(t.Steps)):] {
		if future.Action != task.ActionBioScan {
			continue
		}
		if future.Status != task.StepPending && future.Status != task.StepSkipped {
			continue
		}
		if collected[future.StepID] {
			continue
		}
		futureLoc := ""
		for _, ms := range t.Steps {
			if ms.Action != task.ActionMoveShelf {
				continue
			}
			for _, skipID := range ms.SkipOnFailure {
				if skipID == future.StepID {
					if p, err := task.ParseParams(task.ActionMoveShelf, ms.Params); err == nil {
						if mp, ok := p.(task.MoveShelfParams); ok {
							futureLoc = mp.LocationID
						}
					}
				}
			}
		}
		remaining = append(remaining, remainingBed{BedKey: bioScanBedKey(future), LocationID: futureLoc})
	}

	if inFlightBedKey != "" {
		remaining = append([]remainingBed{{BedKey: inFlightBedKey, LocationID: locationID}}, remaining...)
	}

	return remaining
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
