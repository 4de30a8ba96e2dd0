// Package denylist tracks revoked access token ids in Redis. Access tokens
// verify locally, so logout and deactivation would otherwise leave them valid
// until expiry; the denylist closes that window. The feature is optional: a
// nil *Denylist disables it and every method degrades to a no-op.
package denylist

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "gatehouse:denylist:"

type Denylist struct {
	rdb *redis.Client
}

func Open(addr string) *Denylist {
	return &Denylist{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

func New(rdb *redis.Client) *Denylist { return &Denylist{rdb: rdb} }

func (d *Denylist) Close() error {
	if d == nil {
		return nil
	}
	return d.rdb.Close()
}

func (d *Denylist) Ping(ctx context.Context) error {
	if d == nil {
		return nil
	}
	return d.rdb.Ping(ctx).Err()
}

// Revoke marks the token id rejected until its natural expiry. The entry
// carries a TTL so the set never outgrows the live token population.
func (d *Denylist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if d == nil || jti == "" || ttl <= 0 {
		return nil
	}
	return d.rdb.Set(ctx, keyPrefix+jti, "1", ttl).Err()
}

// Contains reports whether the token id was revoked.
func (d *Denylist) Contains(ctx context.Context, jti string) (bool, error) {
	if d == nil || jti == "" {
		return false, nil
	}
	n, err := d.rdb.Exists(ctx, keyPrefix+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
