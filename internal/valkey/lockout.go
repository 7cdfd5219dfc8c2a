package valkey

import (
	"context"
	"time"

	"github.com/flurbudurbur/Gramsight/pkg/errors"
)

const (
	failureKeyPrefix = "login_failures:"
	lockoutKeyPrefix = "login_lockout:"
)

func (s *Service) IsLockedOut(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Do(ctx, s.client.B().Exists().Key(lockoutKeyPrefix+key).Build()).AsInt64()
	if err != nil {
		return false, errors.Wrap(err, "could not check lockout")
	}
	return n > 0, nil
}

// IncrementFailure counts a failed attempt. The counter expires window after
// the first failure.
func (s *Service) IncrementFailure(ctx context.Context, key string, window time.Duration) (int64, error) {
	key = failureKeyPrefix + key

	n, err := s.client.Do(ctx, s.client.B().Incr().Key(key).Build()).AsInt64()
	if err != nil {
		return 0, errors.Wrap(err, "could not increment failures")
	}
	if n == 1 {
		if err := s.client.Do(ctx, s.client.B().Expire().Key(key).Seconds(int64(window.Seconds())).Build()).Error(); err != nil {
			return n, errors.Wrap(err, "could not expire failures")
		}
	}
	return n, nil
}

func (s *Service) ClearFailures(ctx context.Context, key string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(failureKeyPrefix+key).Build()).Error(); err != nil {
		return errors.Wrap(err, "could not clear failures")
	}
	return nil
}

func (s *Service) SetLockout(ctx context.Context, key string, d time.Duration) error {
	cmd := s.client.B().Set().Key(lockoutKeyPrefix + key).Value("1").ExSeconds(int64(d.Seconds())).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return errors.Wrap(err, "could not set lockout")
	}
	return nil
}
