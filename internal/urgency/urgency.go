// Package urgency classifies an order's remaining SLA time into a
// priority category. Classification is a pure function of
// (createdAt, slaDeadline, now); it holds no state and performs no I/O.
package urgency

import (
	"time"

	"dispatch/internal/domain"
)

// Thresholds, in minutes, for the urgency boundaries. The 30 and 60
// boundaries belong to the less urgent band (remainingMin == 30 classifies
// as URGENT, not CRITICAL); 180 itself classifies as NORMAL, and FLEXIBLE
// starts above it.
const (
	criticalMaxMin = 30.0
	urgentMaxMin   = 60.0
	normalMaxMin   = 180.0
)

const (
	boostCritical = 10
	boostUrgent   = 8
	boostNormal   = 5
	boostFlexible = 3
)

// Classify computes the urgency of an order given its SLA deadline and the
// current instant. createdAt is accepted for call-site symmetry but does
// not affect the classification itself.
func Classify(createdAt, slaDeadline, now time.Time) domain.Urgency {
	_ = createdAt

	remaining := slaDeadline.Sub(now).Minutes()

	if remaining < 0 {
		return domain.Urgency{
			Category:      domain.UrgencyCritical,
			PriorityBoost: boostCritical,
			RemainingMin:  remaining,
			Overdue:       true,
		}
	}

	switch {
	case remaining < criticalMaxMin:
		return domain.Urgency{Category: domain.UrgencyCritical, PriorityBoost: boostCritical, RemainingMin: remaining}
	case remaining < urgentMaxMin:
		return domain.Urgency{Category: domain.UrgencyUrgent, PriorityBoost: boostUrgent, RemainingMin: remaining}
	case remaining <= normalMaxMin:
		return domain.Urgency{Category: domain.UrgencyNormal, PriorityBoost: boostNormal, RemainingMin: remaining}
	default:
		return domain.Urgency{Category: domain.UrgencyFlexible, PriorityBoost: boostFlexible, RemainingMin: remaining}
	}
}
