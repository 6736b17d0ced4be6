package engine

import (
	"context"
	"time"

	"biopatrol/internal/fleet"
	"biopatrol/internal/retry"
	"biopatrol/internal/task"
)

// executeStep implements §4.5's action dispatch.
func (e *Engine) executeStep(ctx context.Context, r *run, step *task.Step) *task.StepResult {
	params, err := task.ParseParams(step.Action, step.Params)
	if err != nil {
		return task.NewFailureResult(-1, err.Error(), map[string]any{"action": string(step.Action)})
	}

	switch step.Action {
	case task.ActionSpeak:
		p := params.(task.SpeakParams)
		res, callErr := e.fleet.Speak(ctx, e.robotID, p.SpeakText)
		return fleetResult(res, callErr, map[string]any{"speak_text": p.SpeakText})

	case task.ActionMoveToPose:
		p := params.(task.MoveToPoseParams)
		res, callErr := e.fleet.MoveToPose(ctx, e.robotID, p.X, p.Y, p.Yaw)
		return fleetResult(res, callErr, map[string]any{"x": p.X, "y": p.Y, "yaw": p.Yaw})

	case task.ActionMoveToLocation:
		p := params.(task.MoveToLocationParams)
		res, callErr := retry.DoWithResult(ctx, e.navigationPolicy, func(ctx context.Context) (fleet.Result, error) {
			return e.fleet.MoveToLocation(ctx, e.robotID, p.LocationID, e.timeouts.MoveToLocation)
		})
		return fleetResult(res, callErr, map[string]any{"location_id": p.LocationID})

	case task.ActionDockShelf:
		res, callErr := retry.DoWithResult(ctx, e.navigationPolicy, func(ctx context.Context) (fleet.Result, error) {
			return e.fleet.DockShelf(ctx, e.robotID)
		})
		return fleetResult(res, callErr, nil)

	case task.ActionUndockShelf:
		res, callErr := retry.DoWithResult(ctx, e.navigationPolicy, func(ctx context.Context) (fleet.Result, error) {
			return e.fleet.UndockShelf(ctx, e.robotID)
		})
		return fleetResult(res, callErr, nil)

	case task.ActionMoveShelf:
		p := params.(task.MoveShelfParams)
		r.targetBed = p.LocationID

		res, callErr := retry.DoWithResult(ctx, e.shelfMovePolicy, func(ctx context.Context) (fleet.Result, error) {
			return e.fleet.MoveShelf(ctx, e.robotID, p.ShelfID, p.LocationID, e.timeouts.MoveShelf)
		})
		result := fleetResult(res, callErr, map[string]any{"shelf_id": p.ShelfID, "location_id": p.LocationID})

		if result.Success && r.monitorStop == nil {
			r.currentShelfID = p.ShelfID
			r.shelfDropped.set(false)
			e.startShelfMonitor(r)
		}
		return result

	case task.ActionReturnShelf:
		e.stopShelfMonitor(r)
		p := params.(task.ReturnShelfParams)
		res, callErr := retry.DoWithResult(ctx, e.shelfMovePolicy, func(ctx context.Context) (fleet.Result, error) {
			return e.fleet.ReturnShelf(ctx, e.robotID, p.ShelfID, e.timeouts.ReturnShelf)
		})
		return fleetResult(res, callErr, map[string]any{"shelf_id": p.ShelfID})

	case task.ActionReturnHome:
		res, callErr := e.fleet.ReturnHome(ctx, e.robotID, e.timeouts.ReturnHome)
		return fleetResult(res, callErr, nil)

	case task.ActionBioScan:
		p := params.(task.BioScanParams)
		r.inFlightBedKey = p.BedKey
		payload, callErr := e.bio.GetValidScanData(ctx, r.targetBed, r.task.TaskID, p.BedKey)
		if callErr != nil {
			return task.NewFailureResult(-1, callErr.Error(), map[string]any{"bed_key": p.BedKey})
		}
		if payload == nil {
			return task.NewFailureResult(-1, "No valid data obtained after all retries", map[string]any{"bed_key": p.BedKey})
		}
		return task.NewSuccessResult(map[string]any{"bed_key": p.BedKey, "bpm": payload.BPM, "rpm": payload.RPM})

	case task.ActionWait:
		p := params.(task.WaitParams)
		timer := time.NewTimer(time.Duration(p.Seconds * float64(time.Second)))
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return task.NewFailureResult(-1, ctx.Err().Error(), map[string]any{"seconds": p.Seconds})
		}
		return task.NewSuccessResult(map[string]any{"seconds": p.Seconds})

	default:
		return task.NewFailureResult(-1, "unknown action: "+string(step.Action), map[string]any{"action": string(step.Action)})
	}
}

// fleetResult converts a Fleet Gateway call outcome into a StepResult. A
// non-nil err means the retry-wrapped transport call never got a response
// (exhausted retries or was permanent); a nil err with res.OK == false is
// a domain-level rejection reported by the robot.
func fleetResult(res fleet.Result, err error, echo map[string]any) *task.StepResult {
	if err != nil {
		return task.NewFailureResult(-1, err.Error(), echo)
	}
	data := mergeData(echo, res.Data)
	if !res.OK {
		return task.NewFailureResult(res.ErrorCode, res.ErrorText, data)
	}
	return task.NewSuccessResult(data)
}

func mergeData(echo map[string]any, fleetData map[string]any) map[string]any {
	if len(echo) == 0 && len(fleetData) == 0 {
		return nil
	}
	merged := make(map[string]any, len(echo)+len(fleetData))
	for k, v := range echo {
		merged[k] = v
	}
	for k, v := range fleetData {
		merged[k] = v
	}
	return merged
}
