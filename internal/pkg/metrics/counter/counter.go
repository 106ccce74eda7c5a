package counter

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const notificationCountersKey = "billing:counters:notifications"

const writeTimeout = 500 * time.Millisecond

// Redis keeps running notification counters in a Redis hash so that every
// instance behind the load balancer contributes to the same totals.
type Redis struct {
	client redis.Cmdable
	key    string
}

func NewRedis(client redis.Cmdable) *Redis {
	return &Redis{client: client, key: notificationCountersKey}
}

// NotificationProcessed increments the type:outcome field. Failures are logged
// and dropped; counters never block webhook handling.
func (r *Redis) NotificationProcessed(notificationType, outcome string) {
	if r == nil || r.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.client.HIncrBy(ctx, r.key, field(notificationType, outcome), 1).Err(); err != nil {
		log.Warnf("[Counter] Failed to increment %s/%s: %v", notificationType, outcome, err)
	}
}

// Snapshot returns the current counters keyed by "TYPE:outcome".
func (r *Redis) Snapshot(ctx context.Context) (map[string]int64, error) {
	raw, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}

func field(notificationType, outcome string) string {
	t := strings.TrimSpace(notificationType)
	if t == "" {
		t = "UNKNOWN"
	}
	return t + ":" + outcome
}
