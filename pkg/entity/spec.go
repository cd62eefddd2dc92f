package entity

// EventSpec is one perf event; CGroup empty means a system-wide event.
type EventSpec struct {
	CGroup string
	Name   string
}

// CollectorSpec is the declarative shape of one telemetry collector as
// ingested from the plan document. The engine name selects the collector
// implementation; the remaining fields parameterize it.
type CollectorSpec struct {
	Engine string
	Name   string
	Custom []string
	Events []EventSpec

	// Periodic thread collectors.
	Ramp     float64
	Interval float64

	// Process collectors.
	Cmd             string
	BecomeCmd       string
	Shell           bool
	ShellExecutable string
	PipeStdout      string
	PipeStderr      string
}
