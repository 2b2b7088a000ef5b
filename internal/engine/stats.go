package engine

import (
	"sort"
	"sync"
)

// JobStats 任务运行时状态（内存态，进程重启清零；持久事实在 run log 里）
type JobStats struct {
	JobID      string `json:"job_id"`
	Name       string `json:"name"`
	Schedule   string `json:"schedule"`
	LastRun    string `json:"last_run"`
	LastResult string `json:"last_result"`
	RunCount   int64  `json:"run_count"`
}

type StatManager struct {
	stats map[string]*JobStats
	mu    sync.RWMutex
}

func NewStatManager() *StatManager {
	return &StatManager{
		stats: make(map[string]*JobStats),
	}
}

func (m *StatManager) Record(jobID, name, schedule, ranAt, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stat, ok := m.stats[jobID]
	if !ok {
		stat = &JobStats{JobID: jobID}
		m.stats[jobID] = stat
	}
	stat.Name = name
	stat.Schedule = schedule
	stat.LastRun = ranAt
	stat.LastResult = result
	stat.RunCount++
}

// Get 返回快照拷贝：调用方（API 序列化）和 Record 并发，不能共享底层值
func (m *StatManager) Get(jobID string) *JobStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stat, ok := m.stats[jobID]
	if !ok {
		return nil
	}
	snapshot := *stat
	return &snapshot
}

// GetAll 返回全量快照拷贝，按任务 id 排序
func (m *StatManager) GetAll() []*JobStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*JobStats, 0, len(m.stats))
	for _, s := range m.stats {
		snapshot := *s
		list = append(list, &snapshot)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].JobID < list[j].JobID
	})
	return list
}
