package objects

// Action 对应 actions 表
// 描述一次出站 HTTP 调用：method + path 模板 + 默认 payload
// 由贡献它的模块负责写入，调度器只读
type Action struct {
	ID              string `gorm:"primarykey;size:64" json:"id"`
	ModuleID        string `gorm:"size:64;index" json:"module_id"`
	Name            string `gorm:"size:128" json:"name"`
	Description     string `gorm:"size:512" json:"description"`
	Method          string `gorm:"size:16" json:"method"` // 默认 POST
	Path            string `gorm:"size:512" json:"path"`  // 可含 {placeholder}
	PayloadTemplate string `gorm:"type:json" json:"payload_template"`
	Metadata        string `gorm:"type:json" json:"metadata"`
}

func (Action) TableName() string {
	return "actions"
}
