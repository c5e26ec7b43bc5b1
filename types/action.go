package types

// ActionType selects a lifecycle action on PUT /actions.
type ActionType string

const (
	ActionInstanceStart  ActionType = "InstanceStart"
	ActionSendCtrlAltDel ActionType = "SendCtrlAltDel"
	ActionInstanceStop   ActionType = "InstanceStop"
	ActionPause          ActionType = "Pause"
	ActionResume         ActionType = "Resume"
)

// InstanceAction is the PUT /actions payload.
type InstanceAction struct {
	ActionType ActionType `json:"action_type"`
}
