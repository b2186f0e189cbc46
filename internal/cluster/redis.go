package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"cvrp/internal/metrics"
)

// RedisTransport exchanges messages through Redis lists, one list per
// (job, src, dst, tag). Ranks may live in different processes or hosts.
// Job ids must be unique per run: a rank that crashed before Close leaves its
// unread messages behind until TTL, and a rerun under the same id would read
// them.
type RedisTransport struct {
	rdb        *redis.Client
	owned      bool
	job        string
	rank, size int
	// Poll is the BLPOP timeout between context checks.
	Poll time.Duration
	// TTL expires undelivered mailboxes.
	TTL time.Duration
}

// NewRedisTransport wraps an existing client; Close leaves it open.
func NewRedisTransport(rdb *redis.Client, job string, rank, size int) (*RedisTransport, error) {
	if size <= 0 || rank < 0 || rank >= size {
		return nil, fmt.Errorf("redis transport: rank %d not in [0,%d)", rank, size)
	}
	if job == "" {
		return nil, errors.New("redis transport: job id required")
	}
	return &RedisTransport{rdb: rdb, job: job, rank: rank, size: size, Poll: time.Second, TTL: time.Hour}, nil
}

// DialRedisTransport connects to url and owns the client.
func DialRedisTransport(url, job string, rank, size int) (*RedisTransport, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis transport: parse url: %w", err)
	}
	t, err := NewRedisTransport(redis.NewClient(opt), job, rank, size)
	if err != nil {
		return nil, err
	}
	t.owned = true
	return t, nil
}

func (t *RedisTransport) Rank() int { return t.rank }
func (t *RedisTransport) Size() int { return t.size }

func (t *RedisTransport) key(src, dst, tag int) string {
	return fmt.Sprintf("cvrp:%s:%d:%d:%d", t.job, src, dst, tag)
}

func (t *RedisTransport) Send(ctx context.Context, dst, tag int, payload []int) error {
	if dst < 0 || dst >= t.size {
		return fmt.Errorf("send: rank %d out of range [0,%d)", dst, t.size)
	}
	if payload == nil {
		payload = []int{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("send: encode: %w", err)
	}
	k := t.key(t.rank, dst, tag)
	pipe := t.rdb.TxPipeline()
	pipe.RPush(ctx, k, data)
	pipe.Expire(ctx, k, t.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("send to rank %d tag %d: %w", dst, tag, err)
	}
	metrics.ClusterMessages.WithLabelValues("redis", "sent").Inc()
	return nil
}

func (t *RedisTransport) Recv(ctx context.Context, src, tag int) ([]int, error) {
	if src < 0 || src >= t.size {
		return nil, fmt.Errorf("recv: rank %d out of range [0,%d)", src, t.size)
	}
	k := t.key(src, t.rank, tag)
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("recv from rank %d tag %d: %w", src, tag, err)
		}
		res, err := t.rdb.BLPop(ctx, t.Poll, k).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("recv from rank %d tag %d: %w", src, tag, err)
		}
		var payload []int
		if err := json.Unmarshal([]byte(res[1]), &payload); err != nil {
			return nil, fmt.Errorf("recv from rank %d tag %d: %w: %v", src, tag, ErrMalformedBuffer, err)
		}
		metrics.ClusterMessages.WithLabelValues("redis", "received").Inc()
		return payload, nil
	}
}

// Close drops this rank's inbound mailboxes, so a failed round leaves no
// messages for it behind, and closes the client when owned.
func (t *RedisTransport) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	keys := make([]string, 0, t.size*tagRoute)
	for src := 0; src < t.size; src++ {
		for tag := tagBroadcast; tag <= tagRoute; tag++ {
			keys = append(keys, t.key(src, t.rank, tag))
		}
	}
	err := t.rdb.Del(ctx, keys...).Err()
	if err != nil {
		err = fmt.Errorf("redis transport: drop mailboxes: %w", err)
	}
	if t.owned {
		return errors.Join(err, t.rdb.Close())
	}
	return err
}
