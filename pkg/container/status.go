package container

// Status is a container's lifecycle state.
type Status string

const (
	StatusCreated      Status = "created"
	StatusInitializing Status = "initializing"
	StatusReady        Status = "ready"
	StatusRunning      Status = "running"
	StatusPaused       Status = "paused"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusDestroyed    Status = "destroyed"
)

func (s Status) String() string {
	return string(s)
}

// Terminal reports whether no further transitions are possible. Only
// destroyed is terminal; completed and failed containers can still be
// destroyed, and failed ones re-initialized.
func (s Status) Terminal() bool {
	return s == StatusDestroyed
}
