package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/edgard/relaybot/internal/logger"
)

// DefaultClaimTTL outlives one calendar day in any timezone.
const DefaultClaimTTL = 36 * time.Hour

const claimKeyPrefix = "relaybot:dispatch:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

// RedisClaimer claims a dispatch date with SET NX so only one process per
// date sends the daily message.
type RedisClaimer struct {
	cli   *redis.Client
	token string
	ttl   time.Duration
	log   *slog.Logger
}

// NewRedisClaimer connects and pings the server.
func NewRedisClaimer(ctx context.Context, addr, password string, db int, ttl time.Duration, log *slog.Logger) (*RedisClaimer, error) {
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	cli := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisClaimer{
		cli:   cli,
		token: uuid.NewString(),
		ttl:   ttl,
		log:   logger.OrDefault(log).With("component", "dispatch_claim"),
	}, nil
}

func claimKey(date string) string {
	return claimKeyPrefix + date
}

// Claim returns true when this process now owns date. Claiming a date this
// process already owns also returns true.
func (c *RedisClaimer) Claim(ctx context.Context, date string) (bool, error) {
	key := claimKey(date)
	ok, err := c.cli.SetNX(ctx, key, c.token, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim %s: %w", key, err)
	}
	if ok {
		c.log.DebugContext(ctx, "Dispatch date claimed", "key", key)
		return true, nil
	}

	owner, err := c.cli.Get(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("failed to read claim %s: %w", key, err)
	}
	return owner == c.token, nil
}

// Release drops the claim on date if this process owns it.
func (c *RedisClaimer) Release(ctx context.Context, date string) error {
	if _, err := releaseScript.Run(ctx, c.cli, []string{claimKey(date)}, c.token).Result(); err != nil {
		return fmt.Errorf("failed to release claim for %s: %w", date, err)
	}
	return nil
}

// Close closes the redis client.
func (c *RedisClaimer) Close() error {
	return c.cli.Close()
}
