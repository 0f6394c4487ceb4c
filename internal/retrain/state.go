package retrain

// State is the controller state
type State int32

const (
	StateIdle State = iota
	StateTraining
	StateSwappingIn
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTraining:
		return "training"
	case StateSwappingIn:
		return "swapping_in"
	default:
		return "unknown"
	}
}

// Trigger records why a retrain ran
type Trigger string

const (
	TriggerManual   Trigger = "manual"
	TriggerAuto     Trigger = "auto"
	TriggerRollback Trigger = "rollback"
)
