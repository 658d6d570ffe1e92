package metrics

// Collector records dispatch and rotation events.
type Collector interface {
	LeadClaimed(result string)
	LeadReleased(released bool)
	LeadCompleted(outcome string)
	StaleLocksReleased(n int64)
	NumberSelected(tier string)
	NumberUnavailable()
	NumberFailure(class string)
	MaintenanceRun(job string, ok bool)
}

// Nop discards every event.
type Nop struct{}

var _ Collector = Nop{}

func (Nop) LeadClaimed(string)          {}
func (Nop) LeadReleased(bool)           {}
func (Nop) LeadCompleted(string)        {}
func (Nop) StaleLocksReleased(int64)    {}
func (Nop) NumberSelected(string)       {}
func (Nop) NumberUnavailable()          {}
func (Nop) NumberFailure(string)        {}
func (Nop) MaintenanceRun(string, bool) {}
