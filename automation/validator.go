package automation

import (
	"shareplate/models"
)

var conditionOperators = map[string]bool{
	"eq":       true,
	"neq":      true,
	"gt":       true,
	"lt":       true,
	"contains": true,
	"exists":   true,
}

// ValidateSteps checks a step list is structurally well-formed. Used on
// every create and update so a draft can never hold a step the scheduler
// would not know how to walk.
func ValidateSteps(steps []models.FlowStep) error {
	for i, step := range steps {
		switch step.Type {
		case models.StepTypeEmail:
			if step.Template == "" {
				return FieldErr("steps", "step %d: email step requires a template", i)
			}
			if step.Subject == "" {
				return FieldErr("steps", "step %d: email step requires a subject", i)
			}
		case models.StepTypeDelay:
			if step.DelayMinutes < 0 {
				return FieldErr("steps", "step %d: delay must not be negative", i)
			}
		case models.StepTypeCondition:
			if step.Field == "" {
				return FieldErr("steps", "step %d: condition step requires a field", i)
			}
			if !conditionOperators[step.Operator] {
				return FieldErr("steps", "step %d: unknown condition operator %q", i, step.Operator)
			}
		case models.StepTypeAction:
			if step.ActionType == "" {
				return FieldErr("steps", "step %d: action step requires an action type", i)
			}
		default:
			return FieldErr("steps", "step %d: unknown step type %q", i, step.Type)
		}
	}
	return nil
}

// ValidateForActivation is the activation gate: a flow may go active only
// if it has at least one step and at least one of them sends an email.
func ValidateForActivation(steps []models.FlowStep) error {
	if len(steps) == 0 {
		return Errf(KindNoSteps, "flow has no steps")
	}
	for _, step := range steps {
		if step.Type == models.StepTypeEmail {
			return nil
		}
	}
	return Errf(KindNoEmailStep, "flow has no email step")
}
