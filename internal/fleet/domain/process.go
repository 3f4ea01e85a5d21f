package domain

// ProcessStatus is the state of a remote supervised process as reported by pm2.
type ProcessStatus string

const (
	ProcessOnline  ProcessStatus = "online"
	ProcessStopped ProcessStatus = "stopped"
	ProcessErrored ProcessStatus = "errored"
	ProcessUnknown ProcessStatus = "unknown"
)

// ProcessInfo is a point-in-time observation of one supervised process.
// It is reconstructed fresh on every inspection and never cached.
type ProcessInfo struct {
	Name         string
	ID           int
	Status       ProcessStatus
	CPU          float64
	MemoryBytes  int64
	UptimeMillis int64
}

// Online reports whether the process passed its liveness check.
func (p ProcessInfo) Online() bool {
	return p.Status == ProcessOnline
}
