package cdc

import "time"

// OffsetCommitPolicy decides when accumulated replication progress
// should be flushed to the offset store. Policies see the number of
// events handled and the time elapsed since the previous commit.
type OffsetCommitPolicy interface {
	PerformCommit(eventsSinceCommit int64, timeSinceCommit time.Duration) bool
}

// CommitPolicyFunc adapts a plain function to an OffsetCommitPolicy.
type CommitPolicyFunc func(eventsSinceCommit int64, timeSinceCommit time.Duration) bool

func (f CommitPolicyFunc) PerformCommit(eventsSinceCommit int64, timeSinceCommit time.Duration) bool {
	return f(eventsSinceCommit, timeSinceCommit)
}

// AlwaysCommitPolicy commits after every batch.
type AlwaysCommitPolicy struct{}

func (AlwaysCommitPolicy) PerformCommit(int64, time.Duration) bool { return true }

// PeriodicCommitPolicy commits once at least Interval has elapsed since
// the previous commit. A non-positive interval commits every time.
type PeriodicCommitPolicy struct {
	Interval time.Duration
}

// NewPeriodicCommitPolicy returns a policy committing every interval.
func NewPeriodicCommitPolicy(interval time.Duration) PeriodicCommitPolicy {
	return PeriodicCommitPolicy{Interval: interval}
}

func (p PeriodicCommitPolicy) PerformCommit(_ int64, timeSinceCommit time.Duration) bool {
	return timeSinceCommit >= p.Interval
}

// EventCountCommitPolicy commits once at least Threshold events have
// been handled since the previous commit. A non-positive threshold
// commits every time.
type EventCountCommitPolicy struct {
	Threshold int64
}

func (p EventCountCommitPolicy) PerformCommit(eventsSinceCommit int64, _ time.Duration) bool {
	return eventsSinceCommit >= p.Threshold
}

// OrPolicy combines two policies so a commit happens when either would
// commit. A nil operand returns the other policy unchanged.
func OrPolicy(a, b OffsetCommitPolicy) OffsetCommitPolicy {
	if b == nil {
		return a
	}
	if a == nil {
		return b
	}
	return CommitPolicyFunc(func(n int64, d time.Duration) bool {
		return a.PerformCommit(n, d) || b.PerformCommit(n, d)
	})
}

// AndPolicy combines two policies so a commit happens only when both
// would commit. A nil operand returns the other policy unchanged.
func AndPolicy(a, b OffsetCommitPolicy) OffsetCommitPolicy {
	if b == nil {
		return a
	}
	if a == nil {
		return b
	}
	return CommitPolicyFunc(func(n int64, d time.Duration) bool {
		return a.PerformCommit(n, d) && b.PerformCommit(n, d)
	})
}
