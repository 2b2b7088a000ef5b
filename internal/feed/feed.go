package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/iceymoss/go-sched/pkg/db/objects"
	"github.com/iceymoss/go-sched/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	recentRunsKey = "go_sched:recent_runs"
	recentRunsCap = 100
)

// RunSummary 推给看板的单条运行摘要
type RunSummary struct {
	JobID   string    `json:"job_id"`
	Status  string    `json:"status"`
	Message string    `json:"message"`
	RanAt   time.Time `json:"ran_at"`
}

// Publisher 把运行结果推到 Redis 的定长列表，供看板实时拉取
// 纯旁路能力：redis 没配或写失败都不影响调度
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher rdb 为 nil 时返回 nil，调用方直接不挂 sink
func NewPublisher(rdb *redis.Client) *Publisher {
	if rdb == nil {
		return nil
	}
	return &Publisher{rdb: rdb}
}

func (p *Publisher) Publish(ctx context.Context, entry objects.RunLog) {
	if p == nil {
		return
	}

	sum := RunSummary{
		JobID:   entry.JobID,
		Status:  entry.Status,
		Message: entry.Message,
		RanAt:   entry.RanAt,
	}
	raw, err := json.Marshal(sum)
	if err != nil {
		return
	}

	pipe := p.rdb.Pipeline()
	pipe.LPush(ctx, recentRunsKey, raw)
	pipe.LTrim(ctx, recentRunsKey, 0, recentRunsCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("feed publish failed", zap.Error(err))
	}
}

// Recent 读取最近 n 条运行摘要
func (p *Publisher) Recent(ctx context.Context, n int64) ([]RunSummary, error) {
	if p == nil {
		return nil, nil
	}
	if n <= 0 || n > recentRunsCap {
		n = recentRunsCap
	}

	raws, err := p.rdb.LRange(ctx, recentRunsKey, 0, n-1).Result()
	if err != nil {
		return nil, err
	}

	out := make([]RunSummary, 0, len(raws))
	for _, raw := range raws {
		var sum RunSummary
		if err := json.Unmarshal([]byte(raw), &sum); err != nil {
			continue
		}
		out = append(out, sum)
	}
	return out, nil
}
