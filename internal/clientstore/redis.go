package clientstore

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/gaspardpetit/detpay/internal/clientcfg"
)

const redisKeyPrefix = "detpay:client:"

// RedisStore implements Store on a Redis instance. Each client is one JSON
// value under detpay:client:<id>.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore connects to the given Redis URL and returns a Store.
func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	opts, err := parseRedisURL(addr)
	if err != nil {
		return nil, err
	}
	c := redis.NewUniversalClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return &RedisStore{client: c, prefix: redisKeyPrefix}, nil
}

// parseRedisURL parses addr into UniversalOptions supporting single, cluster,
// and sentinel Redis deployments. If no scheme is present, addr is treated as
// a plain host:port string.
func parseRedisURL(addr string) (*redis.UniversalOptions, error) {
	if !strings.Contains(addr, "://") {
		return &redis.UniversalOptions{Addrs: []string{addr}}, nil
	}

	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}

	opts := &redis.UniversalOptions{}
	if u.User != nil {
		opts.Username = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			opts.Password = pw
		}
	}
	opts.Addrs = strings.Split(u.Host, ",")

	q := u.Query()
	db := func(s string) error {
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("redis: invalid db: %v", err)
		}
		opts.DB = n
		return nil
	}
	switch u.Scheme {
	case "redis", "rediss":
		if p := strings.TrimPrefix(u.Path, "/"); p != "" {
			if err := db(p); err != nil {
				return nil, err
			}
		} else if v := q.Get("db"); v != "" {
			if err := db(v); err != nil {
				return nil, err
			}
		}
	case "redis-sentinel", "rediss-sentinel":
		opts.MasterName = strings.TrimPrefix(u.Path, "/")
		if v := q.Get("db"); v != "" {
			if err := db(v); err != nil {
				return nil, err
			}
		}
		opts.SentinelUsername = q.Get("sentinel_username")
		opts.SentinelPassword = q.Get("sentinel_password")
	default:
		return nil, fmt.Errorf("redis: invalid URL scheme: %s", u.Scheme)
	}
	if strings.HasPrefix(u.Scheme, "rediss") {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts, nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*clientcfg.ClientConfiguration, error) {
	b, err := r.client.Get(ctx, r.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var cfg clientcfg.ClientConfiguration
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("decode client %s: %w", id, err)
	}
	return &cfg, nil
}

func (r *RedisStore) Put(ctx context.Context, cfg *clientcfg.ClientConfiguration) error {
	if cfg == nil || cfg.ID == "" {
		return errors.New("client configuration requires an id")
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.prefix+cfg.ID, b, 0).Err()
}

// Close releases the Redis connection.
func (r *RedisStore) Close() error { return r.client.Close() }
