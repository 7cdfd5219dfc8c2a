package domain

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/flurbudurbur/Gramsight/pkg/errors"
)

// UserRef identifies one account on the social network. ID is the identity
// key; Username may change and is never compared.
type UserRef struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	FullName      string `json:"full_name,omitempty"`
	IsPrivate     bool   `json:"is_private"`
	IsVerified    bool   `json:"is_verified"`
	ProfilePicURL string `json:"profile_pic_url,omitempty"`
}

// RelationshipSnapshot is the follower/following state captured by one sync.
type RelationshipSnapshot struct {
	AsOf      time.Time          `json:"as_of"`
	Followers map[string]UserRef `json:"followers"`
	Following map[string]UserRef `json:"following"`
}

// NewSnapshot builds a snapshot from raw fetched lists. Duplicate ids
// collapse to the last occurrence.
func NewSnapshot(asOf time.Time, followers, following []UserRef) RelationshipSnapshot {
	return RelationshipSnapshot{
		AsOf:      asOf,
		Followers: indexUsers(followers),
		Following: indexUsers(following),
	}
}

func indexUsers(users []UserRef) map[string]UserRef {
	m := make(map[string]UserRef, len(users))
	for _, u := range users {
		if u.ID == "" {
			continue
		}
		m[u.ID] = u
	}
	return m
}

// Users returns every user referenced by the snapshot, keyed by id.
func (s RelationshipSnapshot) Users() map[string]UserRef {
	m := make(map[string]UserRef, len(s.Followers)+len(s.Following))
	for id, u := range s.Following {
		m[id] = u
	}
	for id, u := range s.Followers {
		m[id] = u
	}
	return m
}

// SortByUsername orders users by lower-cased username, then id.
func SortByUsername(users []UserRef) {
	sort.SliceStable(users, func(i, j int) bool {
		a, b := strings.ToLower(users[i].Username), strings.ToLower(users[j].Username)
		if a != b {
			return a < b
		}
		return users[i].ID < users[j].ID
	})
}

type SocialErrorKind string

const (
	SocialErrChallengeRequired     SocialErrorKind = "ChallengeRequired"
	SocialErrRateLimited           SocialErrorKind = "RateLimited"
	SocialErrSessionExpired        SocialErrorKind = "SessionExpired"
	SocialErrTransientNetworkError SocialErrorKind = "TransientNetworkError"

	// SocialErrLoginFailed is only returned by Login and ResolveChallenge.
	SocialErrLoginFailed SocialErrorKind = "LoginFailed"
)

// SocialError is the normalised failure reported by a SocialGraphClient.
type SocialError struct {
	Kind    SocialErrorKind
	Message string
}

func (e *SocialError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

// Is matches any SocialError of the same kind.
func (e *SocialError) Is(target error) bool {
	t, ok := target.(*SocialError)
	return ok && t.Kind == e.Kind
}

var (
	ErrChallengeRequired     = &SocialError{Kind: SocialErrChallengeRequired}
	ErrRateLimited           = &SocialError{Kind: SocialErrRateLimited}
	ErrSessionExpired        = &SocialError{Kind: SocialErrSessionExpired}
	ErrTransientNetworkError = &SocialError{Kind: SocialErrTransientNetworkError}
	ErrLoginFailed           = &SocialError{Kind: SocialErrLoginFailed}
)

// NewSocialError builds a SocialError of the given kind.
func NewSocialError(kind SocialErrorKind, message string) error {
	return &SocialError{Kind: kind, Message: message}
}

// AsSocialError extracts the SocialError from err's chain.
func AsSocialError(err error) (*SocialError, bool) {
	var se *SocialError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

type LoginStatus string

const (
	LoginStatusOK                LoginStatus = "ok"
	LoginStatusChallengeRequired LoginStatus = "challenge_required"
	LoginStatusTwoFactorRequired LoginStatus = "two_factor_required"
)

// LoginResult is returned by Login and ResolveChallenge.
type LoginResult struct {
	Status        LoginStatus
	User          UserRef
	Session       []byte
	ChallengeID   string
	ChallengeType string
	Message       string
}

// ChallengeResponse answers a pending challenge. Two-factor logins are
// replayed with the original credentials.
type ChallengeResponse struct {
	ChallengeID string
	Username    string
	Password    string
	Code        string
	TwoFactor   bool
}

// SocialGraphClient is the boundary to the external scraping client. Every
// error it returns is a *SocialError.
type SocialGraphClient interface {
	Login(ctx context.Context, username, password string) (*LoginResult, error)
	ResolveChallenge(ctx context.Context, resp ChallengeResponse) (*LoginResult, error)
	ValidateSession(ctx context.Context, session []byte) (*UserRef, error)
	FetchFollowers(ctx context.Context, session []byte, userID string, max int) ([]UserRef, error)
	FetchFollowing(ctx context.Context, session []byte, userID string, max int) ([]UserRef, error)
	FetchProfileImage(ctx context.Context, userID string) ([]byte, string, error)
}
