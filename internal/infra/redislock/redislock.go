package redislock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sunr3d/site-mover/internal/interfaces/infra"
)

const (
	keyPrefix         = "sitemover:lock:"
	connectionTimeout = 5 * time.Second
)

type Config struct {
	Address  string
	Password string
	DB       int
}

// NewClient connects and pings the server.
func NewClient(cfg Config) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrRedis, err)
	}
	return client, nil
}

var _ infra.Locker = (*redisLocker)(nil)

type redisLocker struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// New returns a Locker where each lock is a key with a TTL of maxAge, so a
// crashed holder's lock expires on its own.
func New(client redis.UniversalClient, log *zap.Logger) infra.Locker {
	return &redisLocker{client: client, logger: log}
}

func checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
		return nil
	}
}

func (l *redisLocker) Acquire(ctx context.Context, name string, maxAge time.Duration) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("%w: пустое имя блокировки", infra.ErrInvalidArg)
	}

	ok, err := l.client.SetNX(ctx, keyPrefix+name, time.Now().UTC().Format(time.RFC3339Nano), maxAge).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedis, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", infra.ErrLockHeld, name)
	}
	return nil
}

func (l *redisLocker) Release(ctx context.Context, name string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	if err := l.client.Del(ctx, keyPrefix+name).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedis, err)
	}
	return nil
}

// ReleaseStale only removes lock keys that lost their TTL. Keys with a TTL
// expire by themselves.
func (l *redisLocker) ReleaseStale(ctx context.Context, maxAge time.Duration) ([]string, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	var released []string
	iter := l.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		ttl, err := l.client.TTL(ctx, key).Result()
		if err != nil {
			return released, fmt.Errorf("%w: %v", ErrRedis, err)
		}
		if ttl >= 0 {
			continue
		}
		if err := l.client.Del(ctx, key).Err(); err != nil {
			return released, fmt.Errorf("%w: %v", ErrRedis, err)
		}
		name := strings.TrimPrefix(key, keyPrefix)
		released = append(released, name)
		l.logger.Info("блокировка без TTL снята", zap.String("lock", name), zap.Duration("max_age", maxAge))
	}
	if err := iter.Err(); err != nil {
		return released, fmt.Errorf("%w: %v", ErrRedis, err)
	}
	return released, nil
}
