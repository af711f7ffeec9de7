package membership

// HealthReporter is an optional interface that a Membership implementation
// may provide to report a health score. Higher scores indicate degraded
// health; -1 means the implementation is not started.
type HealthReporter interface {
	HealthScore() int
}
