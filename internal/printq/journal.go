package printq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"

	"ragefit/pos/internal/domain"
)

// Journal persists the pending job list so that queued and failed receipts
// survive a restart.
type Journal interface {
	Load(ctx context.Context) ([]domain.PrintJob, error)
	Save(ctx context.Context, jobs []domain.PrintJob) error
}

type NoopJournal struct{}

func (NoopJournal) Load(context.Context) ([]domain.PrintJob, error) { return nil, nil }
func (NoopJournal) Save(context.Context, []domain.PrintJob) error   { return nil }

type RedisJournal struct {
	client *redis.Client
	key    string
}

func NewRedisJournal(client *redis.Client, registerID string) *RedisJournal {
	return &RedisJournal{client: client, key: JournalKey(registerID)}
}

func JournalKey(registerID string) string {
	return fmt.Sprintf("pos:%s:print-queue", registerID)
}

func (j *RedisJournal) Load(ctx context.Context) ([]domain.PrintJob, error) {
	val, err := j.client.Get(ctx, j.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var jobs []domain.PrintJob
	if err := json.Unmarshal(val, &jobs); err != nil {
		return nil, fmt.Errorf("decode print journal: %w", err)
	}
	return jobs, nil
}

func (j *RedisJournal) Save(ctx context.Context, jobs []domain.PrintJob) error {
	if len(jobs) == 0 {
		return j.client.Del(ctx, j.key).Err()
	}
	payload, err := json.Marshal(jobs)
	if err != nil {
		return err
	}
	return j.client.Set(ctx, j.key, payload, 0).Err()
}
