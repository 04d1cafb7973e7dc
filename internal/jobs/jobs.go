// Package jobs holds the two scheduled units of work: the price-update
// pass and the alert-check pass. Each invocation is one logical run;
// there is no cross-invocation mutual exclusion, so both jobs tolerate
// at-least-once selection of the same user.
package jobs

// Summary is the run report surfaced to the scheduler and logs.
type Summary struct {
	UsersProcessed    int
	AssetsUpdated     int
	AssetsFailed      int
	AlertsTriggered   int
	NotificationsSent int
}

func (s *Summary) add(other Summary) {
	s.UsersProcessed += other.UsersProcessed
	s.AssetsUpdated += other.AssetsUpdated
	s.AssetsFailed += other.AssetsFailed
	s.AlertsTriggered += other.AlertsTriggered
	s.NotificationsSent += other.NotificationsSent
}
