package dispatch

import (
	"context"
	"encoding/json"

	"github.com/iceymoss/go-sched/pkg/db/objects"
)

// Outcome 一次出站调用的结构化结果
type Outcome struct {
	OK         bool   `json:"ok"`
	Status     int    `json:"status"`
	DurationMs int64  `json:"duration_ms"`
	Err        string `json:"error,omitempty"`
}

// Dispatcher 宿主进程提供的出站调用能力
// 调度循环同步等待结果，超时控制在实现内部，不在循环里
type Dispatcher interface {
	Dispatch(ctx context.Context, action objects.Action, payload map[string]any) Outcome
}

// MergePayload 浅覆盖合并：action 的 payload_template 打底，job 的 payload 覆盖同名键
// 任意一侧不是合法 JSON 对象就当空对象处理
func MergePayload(templateJSON, jobJSON string) map[string]any {
	merged := decodeObject(templateJSON)
	for k, v := range decodeObject(jobJSON) {
		merged[k] = v
	}
	return merged
}

func decodeObject(raw string) map[string]any {
	out := make(map[string]any)
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return make(map[string]any)
	}
	return out
}
