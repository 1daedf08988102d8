package http

// Routes of the scheduler API
const (
	Healthz = "Healthz"
	Metrics = "Metrics"
	Due     = "Due"
	Trigger = "Trigger"
)
