package objects

import (
	"time"
	"unicode/utf8"
)

// RunLog 状态值
const (
	RunStatusOK   = "ok"
	RunStatusFail = "fail"
)

// MaxRunLogMessage 限制 message 长度，防止错误文本撑爆存储
const MaxRunLogMessage = 2000

// RunLog 对应 job_run_logs 表，只追加不修改
// 既是可观测性记录，也是按分钟去重的事实来源
// JobID 不做外键约束：任务删除后历史日志保留
type RunLog struct {
	ID      uint      `gorm:"primarykey" json:"id"`
	JobID   string    `gorm:"size:64;index" json:"job_id"`
	Status  string    `gorm:"size:8" json:"status"` // ok | fail
	Message string    `gorm:"size:2000" json:"message"`
	RanAt   time.Time `gorm:"autoCreateTime;index" json:"ran_at"`
}

func (RunLog) TableName() string {
	return "job_run_logs"
}

// TruncateMessage 截断超长消息，回退到字符边界，不把多字节字符劈成两半
func TruncateMessage(msg string) string {
	if len(msg) <= MaxRunLogMessage {
		return msg
	}
	cut := MaxRunLogMessage
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
