package actions

import (
	"sync"

	"github.com/iceymoss/go-sched/pkg/db/objects"
)

// Registry 模块在启动期贡献的动作列表（内存态）
// actions 表还没同步到这些行之前，调度器回退到这里查找
type Registry struct {
	mu   sync.RWMutex
	list []objects.Action
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register 追加一个动作描述，method 缺省补 POST
func (r *Registry) Register(a objects.Action) {
	if a.Method == "" {
		a.Method = "POST"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.list = append(r.list, a)
}

// Find 按 id 查找，第一个命中的生效；找不到返回 nil（正常结果，不是错误）
func (r *Registry) Find(id string) *objects.Action {
	if id == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.list {
		if r.list[i].ID == id {
			a := r.list[i]
			return &a
		}
	}
	return nil
}

// All 返回注册列表的拷贝
func (r *Registry) All() []objects.Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]objects.Action, len(r.list))
	copy(out, r.list)
	return out
}

// Default 供各模块在 init 里登记自己的动作
// 组合根把它接到调度器和持久化同步上
var Default = NewRegistry()

// Register 登记到默认注册表
func Register(a objects.Action) {
	Default.Register(a)
}
