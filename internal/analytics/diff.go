// Package analytics compares relationship snapshots.
package analytics

import (
	"time"

	"github.com/flurbudurbur/Gramsight/internal/domain"
)

// Compute derives the analytics result for current against previous. A nil
// previous means this is the first sync: every follower is new and nobody
// is lost. Membership is by id only, so list order from upstream is irrelevant.
func Compute(previous *domain.RelationshipSnapshot, current domain.RelationshipSnapshot) *domain.AnalyticsResult {
	r := &domain.AnalyticsResult{
		Followers:        make(domain.IDSet, len(current.Followers)),
		Following:        make(domain.IDSet, len(current.Following)),
		NotFollowingBack: domain.IDSet{},
		NotFollowedBack:  domain.IDSet{},
		Mutual:           domain.IDSet{},
		NewFollowers:     domain.IDSet{},
		LostFollowers:    domain.IDSet{},
		Users:            current.Users(),
		ComputedAt:       current.AsOf,
	}
	if r.ComputedAt.IsZero() {
		r.ComputedAt = time.Now()
	}

	for id := range current.Followers {
		r.Followers.Add(id)
		if _, ok := current.Following[id]; ok {
			r.Mutual.Add(id)
		} else {
			r.NotFollowedBack.Add(id)
		}
		if previous == nil {
			r.NewFollowers.Add(id)
		} else if _, ok := previous.Followers[id]; !ok {
			r.NewFollowers.Add(id)
		}
	}

	for id := range current.Following {
		r.Following.Add(id)
		if _, ok := current.Followers[id]; !ok {
			r.NotFollowingBack.Add(id)
		}
	}

	if previous != nil {
		for id, u := range previous.Followers {
			if _, ok := current.Followers[id]; ok {
				continue
			}
			r.LostFollowers.Add(id)
			// keep display data for people who are no longer in either list
			if _, known := r.Users[id]; !known {
				r.Users[id] = u
			}
		}
	}

	r.Overview = domain.AnalyticsOverview{
		FollowersCount:        len(r.Followers),
		FollowingCount:        len(r.Following),
		NotFollowingBackCount: len(r.NotFollowingBack),
		NotFollowedBackCount:  len(r.NotFollowedBack),
		MutualCount:           len(r.Mutual),
		NewFollowersCount:     len(r.NewFollowers),
		LostFollowersCount:    len(r.LostFollowers),
	}

	return r
}
