package application

import "time"

// QueueTier classifies how busy the job queue has been recently. The worker
// pool polls an idle queue less often.
type QueueTier int

const (
	// TierBusy indicates a job was claimed within the last minute. Polls at the base interval.
	TierBusy QueueTier = iota
	// TierIdle indicates the last claim was within 15 minutes. Polls at 4x the base interval.
	TierIdle
	// TierDormant indicates nothing was claimed for 15+ minutes. Polls at 10x the base interval.
	TierDormant
)

// Tier boundaries measured from the most recent claim.
const (
	busyWindow = time.Minute
	idleWindow = 15 * time.Minute
)

// String returns a human-readable name for the queue tier.
func (t QueueTier) String() string {
	switch t {
	case TierBusy:
		return "busy"
	case TierIdle:
		return "idle"
	case TierDormant:
		return "dormant"
	default:
		return "unknown"
	}
}

// classifyQueue determines the tier from the time of the last claimed job.
// A zero-value time is treated as TierDormant.
func classifyQueue(lastClaim, now time.Time) QueueTier {
	if lastClaim.IsZero() {
		return TierDormant
	}

	elapsed := now.Sub(lastClaim)

	switch {
	case elapsed < busyWindow:
		return TierBusy
	case elapsed < idleWindow:
		return TierIdle
	default:
		return TierDormant
	}
}

// pollDelay returns how long the dispatcher sleeps after finding the queue
// empty.
func pollDelay(base time.Duration, tier QueueTier) time.Duration {
	switch tier {
	case TierBusy:
		return base
	case TierIdle:
		return 4 * base
	case TierDormant:
		return 10 * base
	default:
		return base
	}
}
