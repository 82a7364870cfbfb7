// Package client implements the participant-side round driver: wait for the
// project to start, poll for global parameters, run the algorithm's local
// computation, optionally split the result into a masked value for the
// coordinator and a raw noise value for the compensator, and upload. Local
// and global parameter bags live for exactly one round.
package client

// Status is the driver's client-local lifecycle state, exposed so a status
// surface can distinguish "still waiting" from the terminal outcomes.
type Status string

const (
	StatusWaitingForStart       Status = "Waiting for Start"
	StatusWaitingForAggregation Status = "Waiting for Aggregation"
	StatusComputingParameters   Status = "Computing Parameters"
	StatusPreparingParameters   Status = "Preparing Parameters"
	StatusSendingParameters     Status = "Sending Parameters"
	StatusFinishingUp           Status = "Finishing Up"
	StatusDone                  Status = "Done"
	StatusAborted               Status = "Aborted"
)
