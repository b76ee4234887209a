package subscription

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/supabase-community/supabase-go"

	"note-queue-service/internal/entity"
)

const subscriptionsTable = "subscriptions"

type planRow struct {
	Plan   string `json:"plan"`
	Status string `json:"status"`
}

// SupabaseSource reads the subscriptions table maintained by the billing
// webhooks. A user without an active row is on the free plan.
type SupabaseSource struct {
	client *supabase.Client
}

func NewSupabaseSource(url, key string) (*SupabaseSource, error) {
	client, err := supabase.NewClient(url, key, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("supabase client: %w", err)
	}
	return &SupabaseSource{client: client}, nil
}

func (s *SupabaseSource) PlanFor(_ context.Context, userID string) (entity.Tier, error) {
	body, _, err := s.client.From(subscriptionsTable).
		Select("plan,status", "", false).
		Eq("user_id", userID).
		Limit(1, "").
		Execute()
	if err != nil {
		return "", fmt.Errorf("query subscription for %s: %w", userID, err)
	}

	var rows []planRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return "", fmt.Errorf("decode subscription: %w", err)
	}
	if len(rows) == 0 || !active(rows[0].Status) {
		return entity.TierFree, nil
	}
	return ParseTier(rows[0].Plan)
}

func active(status string) bool {
	switch status {
	case "", "active", "trialing":
		return true
	}
	return false
}
