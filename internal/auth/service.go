// Package auth logs accounts in through the social graph client and issues
// the access tokens the API is protected with.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/flurbudurbur/Gramsight/internal/domain"
	"github.com/flurbudurbur/Gramsight/internal/logger"
	"github.com/flurbudurbur/Gramsight/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	lockoutThreshold = 10
	failureWindow    = 10 * time.Minute
	lockoutDuration  = 30 * time.Minute
)

var (
	ErrLockedOut   = errors.New("too many failed login attempts, try again later")
	ErrMissingCode = errors.New("verification code is required")
)

// LockoutStore counts failed logins per username.
type LockoutStore interface {
	IsLockedOut(ctx context.Context, key string) (bool, error)
	IncrementFailure(ctx context.Context, key string, window time.Duration) (int64, error)
	ClearFailures(ctx context.Context, key string) error
	SetLockout(ctx context.Context, key string, d time.Duration) error
}

// Syncer starts a sync right after a successful login.
type Syncer interface {
	Start(ctx context.Context, account domain.Account) (domain.SyncStatus, error)
}

// Outcome is the result of one login step. Either Token is set, or
// RequiresChallenge with the SessionID to answer it.
type Outcome struct {
	Success           bool
	Message           string
	Token             string
	ExpiresAt         time.Time
	Account           *domain.Account
	RequiresChallenge bool
	ChallengeType     string
	SessionID         string
}

// TwoFactorRequest replays the credentials together with the code.
type TwoFactorRequest struct {
	SessionID string
	Code      string
	Username  string
	Password  string
}

type ChallengeRequest struct {
	SessionID string
	Code      string
}

type Service interface {
	Login(ctx context.Context, username, password string) (*Outcome, error)
	VerifyTwoFactor(ctx context.Context, req TwoFactorRequest) (*Outcome, error)
	VerifyChallenge(ctx context.Context, req ChallengeRequest) (*Outcome, error)
	// Authenticate resolves a bearer token to its account.
	Authenticate(ctx context.Context, token string) (*domain.Account, error)
	// Profile loads the account's live profile through its stored session.
	Profile(ctx context.Context, account domain.Account) (*domain.UserRef, error)
}

type service struct {
	log zerolog.Logger

	client   domain.SocialGraphClient
	accounts domain.AccountRepo
	tokens   *Tokens
	sealer   *Sealer
	lockout  LockoutStore
	syncer   Syncer

	autoSync bool
}

// NewService wires the login flow. lockout and syncer may be nil.
func NewService(log logger.Logger, cfg domain.Config, client domain.SocialGraphClient, accounts domain.AccountRepo, tokens *Tokens, sealer *Sealer, lockout LockoutStore, syncer Syncer) Service {
	return &service{
		log:      log.With().Str("module", "auth").Str(logger.TagFieldName, logger.TagAuth).Logger(),
		client:   client,
		accounts: accounts,
		tokens:   tokens,
		sealer:   sealer,
		lockout:  lockout,
		syncer:   syncer,
		autoSync: cfg.Sync.AutoSyncOnLogin,
	}
}

func (s *service) Profile(ctx context.Context, account domain.Account) (*domain.UserRef, error) {
	expired := domain.NewSocialError(domain.SocialErrSessionExpired, "Session expired. Please login again.")
	if len(account.SessionData) == 0 {
		return nil, expired
	}

	session, err := s.sealer.Open(account.SessionData)
	if err != nil {
		s.log.Warn().Err(err).Int64("account_id", account.ID).Msg("Stored session could not be opened")
		return nil, expired
	}

	profile, err := s.client.ValidateSession(ctx, session)
	if err != nil {
		return nil, err
	}
	return profile, nil
}

func lockoutKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func (s *service) Login(ctx context.Context, username, password string) (*Outcome, error) {
	s.log.Info().Msgf("Login attempt for user: %s", username)

	key := lockoutKey(username)
	if s.lockout != nil {
		locked, err := s.lockout.IsLockedOut(ctx, key)
		if err != nil {
			s.log.Error().Err(err).Msg("Lockout check failed")
		} else if locked {
			s.log.Warn().Msgf("Login for %s rejected, locked out", username)
			return nil, ErrLockedOut
		}
	}

	res, err := s.client.Login(ctx, username, password)
	if err != nil {
		s.log.Warn().Err(err).Msgf("Login failed for %s", username)
		if errors.Is(err, domain.ErrLoginFailed) {
			s.handleFailure(ctx, key)
		}
		return nil, err
	}

	out, err := s.complete(ctx, res, "Login successful")
	if err == nil && out.Success && s.lockout != nil {
		if err := s.lockout.ClearFailures(ctx, key); err != nil {
			s.log.Error().Err(err).Msg("Could not clear login failures")
		}
	}
	return out, err
}

func (s *service) VerifyTwoFactor(ctx context.Context, req TwoFactorRequest) (*Outcome, error) {
	if strings.TrimSpace(req.Code) == "" {
		return nil, ErrMissingCode
	}

	res, err := s.client.ResolveChallenge(ctx, domain.ChallengeResponse{
		ChallengeID: req.SessionID,
		Username:    req.Username,
		Password:    req.Password,
		Code:        strings.TrimSpace(req.Code),
		TwoFactor:   true,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("2FA verification failed")
		return nil, err
	}

	return s.complete(ctx, res, "2FA verification successful")
}

func (s *service) VerifyChallenge(ctx context.Context, req ChallengeRequest) (*Outcome, error) {
	if strings.TrimSpace(req.Code) == "" {
		return nil, ErrMissingCode
	}

	res, err := s.client.ResolveChallenge(ctx, domain.ChallengeResponse{
		ChallengeID: req.SessionID,
		Code:        strings.TrimSpace(req.Code),
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("Challenge verification failed")
		return nil, err
	}

	return s.complete(ctx, res, "Challenge verification successful")
}

func (s *service) Authenticate(ctx context.Context, token string) (*domain.Account, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.FindBySocialUserID(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrInvalidToken
	}
	return account, nil
}

// complete turns a client login result into an outcome. Challenges are passed
// through; a finished login stores the account and issues a token.
func (s *service) complete(ctx context.Context, res *domain.LoginResult, message string) (*Outcome, error) {
	switch res.Status {
	case domain.LoginStatusTwoFactorRequired:
		s.log.Info().Msg("Two-factor authentication required")
		return &Outcome{
			Message:           messageOr(res.Message, "Two-factor authentication required"),
			RequiresChallenge: true,
			ChallengeType:     "sms",
			SessionID:         res.ChallengeID,
		}, nil
	case domain.LoginStatusChallengeRequired:
		s.log.Info().Msg("Security challenge required")
		challengeType := "email"
		if strings.EqualFold(res.ChallengeType, "sms") {
			challengeType = "sms"
		}
		return &Outcome{
			Message:           messageOr(res.Message, "Security verification required"),
			RequiresChallenge: true,
			ChallengeType:     challengeType,
			SessionID:         res.ChallengeID,
		}, nil
	}

	sealed, err := s.sealer.Seal(res.Session)
	if err != nil {
		return nil, err
	}

	account := &domain.Account{
		SocialUserID:  res.User.ID,
		Username:      res.User.Username,
		FullName:      res.User.FullName,
		ProfilePicURL: res.User.ProfilePicURL,
		SessionData:   sealed,
	}
	if err := s.accounts.Upsert(ctx, account); err != nil {
		s.log.Error().Err(err).Msg("Could not store account")
		return nil, errors.Wrap(err, "could not store account")
	}

	token, expiresAt, err := s.tokens.Sign(account)
	if err != nil {
		return nil, err
	}

	s.log.Info().Msgf("Login successful for @%s", account.Username)

	if s.autoSync && s.syncer != nil {
		if _, err := s.syncer.Start(ctx, *account); err != nil {
			s.log.Debug().Err(err).Msgf("Sync after login not started for @%s", account.Username)
		}
	}

	return &Outcome{
		Success:   true,
		Message:   message,
		Token:     token,
		ExpiresAt: expiresAt,
		Account:   account,
	}, nil
}

func (s *service) handleFailure(ctx context.Context, key string) {
	if s.lockout == nil {
		return
	}

	n, err := s.lockout.IncrementFailure(ctx, key, failureWindow)
	if err != nil {
		s.log.Error().Err(err).Msg("Could not record login failure")
		return
	}
	if n < lockoutThreshold {
		return
	}

	if err := s.lockout.SetLockout(ctx, key, lockoutDuration); err != nil {
		s.log.Error().Err(err).Msg("Could not set login lockout")
		return
	}
	s.log.Warn().Int64("failure_count", n).Msgf("Login for %s locked for %s", key, lockoutDuration)
}

func messageOr(msg, fallback string) string {
	if msg == "" {
		return fallback
	}
	return msg
}
