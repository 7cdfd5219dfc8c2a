package valkey

import (
	"context"
	"strconv"
	"time"

	"github.com/flurbudurbur/Gramsight/internal/domain"
	"github.com/flurbudurbur/Gramsight/internal/logger"
	"github.com/flurbudurbur/Gramsight/pkg/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/valkey-io/valkey-go"
)

const (
	rateLimitKeyPrefix = "rate_limit:"
)

// Service holds the Valkey client used for request rate limiting and login
// lockouts.
type Service struct {
	log    zerolog.Logger
	client valkey.Client
	config domain.ValkeyConfig
}

// NewService connects to Valkey and pings it once.
func NewService(log logger.Logger, cfg domain.ValkeyConfig) (*Service, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  []string{cfg.Address},
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		DisableCache: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to Valkey")
	}

	s := &Service{
		log:    log.With().Str("module", "valkey").Logger(),
		client: client,
		config: cfg,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.Ping(ctx); err != nil {
		client.Close()
		return nil, err
	}

	s.log.Debug().Msgf("Connected to Valkey at %s", cfg.Address)

	return s, nil
}

func (s *Service) Ping(ctx context.Context) error {
	if err := s.client.Do(ctx, s.client.B().Ping().Build()).Error(); err != nil {
		return errors.Wrap(err, "failed to ping Valkey")
	}
	return nil
}

func (s *Service) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

// Hit records one request for key and returns the number of requests seen
// within the sliding window, including this one.
func (s *Service) Hit(ctx context.Context, key string, window time.Duration) (int, error) {
	key = rateLimitKeyPrefix + key
	now := time.Now()
	cutoff := now.Add(-window).UnixMilli()

	c := s.client
	results := c.DoMulti(ctx,
		c.B().Zremrangebyscore().Key(key).Min("-inf").Max(strconv.FormatInt(cutoff, 10)).Build(),
		c.B().Zadd().Key(key).ScoreMember().ScoreMember(float64(now.UnixMilli()), uuid.NewString()).Build(),
		c.B().Expire().Key(key).Seconds(int64(window.Seconds())+1).Build(),
		c.B().Zcard().Key(key).Build(),
	)
	for _, r := range results[:3] {
		if err := r.Error(); err != nil {
			return 0, errors.Wrap(err, "could not record rate limit hit")
		}
	}

	count, err := results[3].AsInt64()
	if err != nil {
		return 0, errors.Wrap(err, "could not count rate limit entries")
	}

	return int(count), nil
}
