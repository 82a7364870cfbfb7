package protocol

// ProjectStatus is the server-owned lifecycle of a federated project.
type ProjectStatus string

const (
	StatusCreated               ProjectStatus = "Created"
	StatusParametersReady       ProjectStatus = "Parameters Ready"
	StatusAggregating           ProjectStatus = "Aggregating"
	StatusWaitingForCompensator ProjectStatus = "Waiting for Compensator"
	StatusDone                  ProjectStatus = "Done"
	StatusFailed                ProjectStatus = "Failed"
	StatusAborted               ProjectStatus = "Aborted"
)

// Terminal reports whether the project can never leave this status.
func (s ProjectStatus) Terminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusAborted:
		return true
	default:
		return false
	}
}

// OperationStatus is the per-party outcome of one round's local operation.
type OperationStatus string

const (
	OpDone       OperationStatus = "Done"
	OpInProgress OperationStatus = "In Progress"
	OpFailed     OperationStatus = "Failed"
)

// Steps every algorithm shares. The steps in between are algorithm-defined
// free-form names; every sequence starts at StepInit, runs StepResult
// immediately before StepFinished, and ends at StepFinished.
const (
	StepInit     = "Init"
	StepResult   = "Result"
	StepFinished = "Finished"
)
