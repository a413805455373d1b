package log

// Canonical field names for structured logging.
const (
	FieldComponent = "component"
	FieldEvent     = "event"

	// Process fields
	FieldProcess   = "process"
	FieldProcesses = "processes"
	FieldPid       = "pid"
	FieldSource    = "source"
	FieldSignal    = "signal"
	FieldExitCode  = "exit_code"
	FieldContainer = "container"
	FieldRuntime   = "runtime"

	// Supervisor fields
	FieldTopology = "topology"
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldReason   = "reason"
	FieldTimeout  = "timeout"
)
