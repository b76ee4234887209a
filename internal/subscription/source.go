// Package subscription resolves a user's plan tier, which decides the
// priority of the jobs they enqueue.
package subscription

import (
	"context"
	"fmt"
	"strings"

	"note-queue-service/internal/entity"
)

type Source interface {
	PlanFor(ctx context.Context, userID string) (entity.Tier, error)
}

// Static answers from a fixed table. Unknown users get Default.
type Static struct {
	Plans   map[string]entity.Tier
	Default entity.Tier
}

func (s Static) PlanFor(_ context.Context, userID string) (entity.Tier, error) {
	if t, ok := s.Plans[userID]; ok {
		return t, nil
	}
	if s.Default == "" {
		return entity.TierFree, nil
	}
	return s.Default, nil
}

// ParseTier accepts the plan names stored by billing, case-insensitively.
func ParseTier(s string) (entity.Tier, error) {
	t := entity.Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown plan %q", s)
	}
	return t, nil
}
