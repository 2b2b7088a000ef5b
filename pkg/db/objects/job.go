package objects

import "time"

// Job 对应 jobs 表，由 CRUD 层维护，调度器只读
type Job struct {
	ID        string    `gorm:"primarykey;size:64" json:"id"`
	Name      string    `gorm:"size:128" json:"name"`
	Schedule  string    `gorm:"size:64" json:"schedule"` // 5 段 cron 表达式
	Action    string    `gorm:"size:64;index" json:"action"`
	Payload   string    `gorm:"type:json" json:"payload"` // JSON 字符串
	Enabled   bool      `gorm:"default:1;index" json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Job) TableName() string {
	return "jobs"
}
