// Package priority maps subscription tiers to queue priorities and defines the
// order in which queued jobs are claimed.
//
// Ordering is strict across priorities: a steady stream of high jobs starves
// low ones indefinitely. There is no aging.
package priority

import (
	"note-queue-service/internal/entity"
)

// ClaimOrder is the SQL ORDER BY shared by every store backend.
const ClaimOrder = "priority_rank DESC, created_at ASC, seq ASC"

// Lanes lists priorities from first to last claimed.
var Lanes = []entity.Priority{entity.PriorityUrgent, entity.PriorityHigh, entity.PriorityNormal, entity.PriorityLow}

// ForTier resolves the priority a tier enqueues at. Unknown tiers are treated
// as free. Urgent is never reachable from a tier.
func ForTier(t entity.Tier) entity.Priority {
	switch t {
	case entity.TierPro:
		return entity.PriorityHigh
	case entity.TierStudent:
		return entity.PriorityNormal
	default:
		return entity.PriorityLow
	}
}

// Rank returns the stored ordering key; higher is claimed first.
func Rank(p entity.Priority) int {
	switch p {
	case entity.PriorityUrgent:
		return 3
	case entity.PriorityHigh:
		return 2
	case entity.PriorityNormal:
		return 1
	default:
		return 0
	}
}

// Normalize maps unknown priorities to normal.
func Normalize(p entity.Priority) entity.Priority {
	switch p {
	case entity.PriorityUrgent, entity.PriorityHigh, entity.PriorityNormal, entity.PriorityLow:
		return p
	}
	return entity.PriorityNormal
}
