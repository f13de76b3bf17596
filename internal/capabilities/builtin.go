package capabilities

import (
	"context"
)

// Built-in agent capability names. The analytic logic behind each is an
// external collaborator; these stubs report success so pipelines can run
// end to end until a real backend is attached.
const (
	NameDataCollector    = "data_collector"
	NamePatternDetector  = "pattern_detector"
	NameWorkoutPlanner   = "workout_planner"
	NameNutritionPlanner = "nutrition_planner"
	NameHealthCoach      = "health_coach"
	NameSafetyOfficer    = "safety_officer"
	NameNotifier         = "notifier"
)

// RegisterBuiltins installs the built-in agent capability set.
func RegisterBuiltins(r *Registry) {
	for _, name := range []string{
		NameDataCollector,
		NamePatternDetector,
		NameWorkoutPlanner,
		NameNutritionPlanner,
		NameHealthCoach,
		NameSafetyOfficer,
		NameNotifier,
	} {
		r.Register(stub{name: name})
	}
}

type stub struct {
	name string
}

func (s stub) Name() string { return s.name }

func (s stub) Invoke(ctx context.Context, in Input) (Outcome, error) {
	select {
	case <-ctx.Done():
		return Outcome{Status: StatusFailed, Err: ctx.Err().Error(), Retryable: true}, ctx.Err()
	default:
	}
	return Outcome{
		Status: StatusSucceeded,
		Output: map[string]any{
			"agent":  s.name,
			"tenant": in.TenantID,
			"step":   in.StepName,
		},
	}, nil
}
