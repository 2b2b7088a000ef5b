package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/iceymoss/go-sched/pkg/db/objects"
)

// 非 2xx 响应体截取长度，进 Outcome.Err
const maxErrBody = 512

// HTTPDispatcher 把 Action 描述的调用真正发出去
// baseURL 指向宿主后端自身（各模块的路由都挂在上面）
type HTTPDispatcher struct {
	baseURL string
	client  *http.Client
}

func NewHTTPDispatcher(baseURL string, timeout time.Duration) *HTTPDispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPDispatcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, action objects.Action, payload map[string]any) Outcome {
	start := time.Now()

	method := action.Method
	if method == "" {
		method = http.MethodPost
	}

	path := ResolvePath(action, payload)

	body, err := json.Marshal(payload)
	if err != nil {
		return Outcome{OK: false, DurationMs: time.Since(start).Milliseconds(), Err: "marshal payload: " + err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return Outcome{OK: false, DurationMs: time.Since(start).Milliseconds(), Err: "build request: " + err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return Outcome{OK: false, DurationMs: elapsed, Err: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		return Outcome{
			OK:         false,
			Status:     resp.StatusCode,
			DurationMs: elapsed,
			Err:        strings.TrimSpace(string(snippet)),
		}
	}

	return Outcome{OK: true, Status: resp.StatusCode, DurationMs: elapsed}
}

// ResolvePath 把 path 模板里的 {placeholder} 换成 payload 里的值
// Action.Metadata 的 path_params 可以显式指定 placeholder 到 payload 字段的映射，
// 没配映射时按同名字段取
func ResolvePath(action objects.Action, payload map[string]any) string {
	path := action.Path
	if !strings.Contains(path, "{") {
		return path
	}

	mapping := pathParams(action.Metadata)

	for key, val := range payload {
		placeholder := "{" + key + "}"
		if mapped, ok := mapping[key]; ok {
			placeholder = "{" + mapped + "}"
		}
		path = strings.ReplaceAll(path, placeholder, stringify(val))
	}
	return path
}

// pathParams 解析 metadata 里的 path_params 映射（payload 字段 -> 占位符名）
func pathParams(metadata string) map[string]string {
	if metadata == "" {
		return nil
	}
	var meta struct {
		PathParams map[string]string `json:"path_params"`
	}
	if err := json.Unmarshal([]byte(metadata), &meta); err != nil {
		return nil
	}
	return meta.PathParams
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// JSON 数字统一是 float64，整数去掉小数点
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
