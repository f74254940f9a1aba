package crowdfund

import (
	"fmt"
	"sort"
	"strings"
)

// Share is one participant's portion of a goal, in minor units.
type Share struct {
	UserID string `json:"userId"`
	Amount int64  `json:"amount"`
}

// Allocate splits goal across the distinct participant ids. Every share is
// goal/n rounded down or up by one unit, and the shares sum to goal exactly.
// The goal%n leftover units go to the first participants in id order, so the
// result does not depend on input order. Shares are returned sorted by id.
func Allocate(goal int64, participants []string) ([]Share, error) {
	if goal <= 0 {
		return nil, fmt.Errorf("%w: goal must be positive, got %d", ErrInvalidAllocation, goal)
	}

	seen := make(map[string]struct{}, len(participants))
	ids := make([]string, 0, len(participants))
	for _, raw := range participants {
		id := strings.TrimSpace(raw)
		if id == "" {
			return nil, fmt.Errorf("%w: empty participant id", ErrInvalidAllocation)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no participants", ErrInvalidAllocation)
	}
	sort.Strings(ids)

	n := int64(len(ids))
	base := goal / n
	extra := goal % n

	shares := make([]Share, len(ids))
	for i, id := range ids {
		amount := base
		if int64(i) < extra {
			amount++
		}
		shares[i] = Share{UserID: id, Amount: amount}
	}
	return shares, nil
}
