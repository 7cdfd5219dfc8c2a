package domain

import (
	"context"
	"encoding/json"
	"sort"
	"time"
)

// IDSet is an unordered set of user ids.
type IDSet map[string]struct{}

func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s IDSet) Add(id string) {
	s[id] = struct{}{}
}

// Sorted returns the ids in lexical order.
func (s IDSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s IDSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *IDSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewIDSet(ids...)
	return nil
}

type AnalyticsOverview struct {
	FollowersCount        int `json:"followers_count"`
	FollowingCount        int `json:"following_count"`
	NotFollowingBackCount int `json:"not_following_back_count"`
	NotFollowedBackCount  int `json:"not_followed_back_count"`
	MutualCount           int `json:"mutual_count"`
	NewFollowersCount     int `json:"new_followers_count"`
	LostFollowersCount    int `json:"lost_followers_count"`
}

// AnalyticsResult is derived from two snapshots. Users holds display data for
// every id referenced by any of the sets.
type AnalyticsResult struct {
	Overview         AnalyticsOverview  `json:"overview"`
	Followers        IDSet              `json:"followers"`
	Following        IDSet              `json:"following"`
	NotFollowingBack IDSet              `json:"not_following_back"`
	NotFollowedBack  IDSet              `json:"not_followed_back"`
	Mutual           IDSet              `json:"mutual"`
	NewFollowers     IDSet              `json:"new_followers"`
	LostFollowers    IDSet              `json:"lost_followers"`
	Users            map[string]UserRef `json:"users"`
	ComputedAt       time.Time          `json:"computed_at"`
}

// Resolve maps ids to UserRefs ordered by username. Ids without directory
// data are returned with only the id set.
func (r *AnalyticsResult) Resolve(ids IDSet) []UserRef {
	out := make([]UserRef, 0, len(ids))
	for id := range ids {
		u, ok := r.Users[id]
		if !ok {
			u = UserRef{ID: id}
		}
		out = append(out, u)
	}
	SortByUsername(out)
	return out
}

type AnalyticsRepo interface {
	Get(ctx context.Context, accountID int64) (*AnalyticsResult, error)
	Store(ctx context.Context, accountID int64, result *AnalyticsResult) error
}

type SnapshotRepo interface {
	// Latest returns nil, nil when the account has no snapshot yet.
	Latest(ctx context.Context, accountID int64) (*RelationshipSnapshot, error)
	Store(ctx context.Context, accountID int64, snapshot RelationshipSnapshot) error
	// PruneOlderThan deletes snapshots taken before cutoff, always keeping
	// each account's latest one.
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
