package metrics

/*
Labels and so on for metrics used in ecsdeploy.
*/

const (
	LabelMethod  = "method"
	LabelSuccess = "success"
	LabelDriver  = "driver"
	LabelRoute   = "route"

	// Labels for deploy metrics
	LabelAction  = "action"
	LabelStage   = "stage"
	LabelCluster = "cluster"
	LabelPhase   = "phase"
)
