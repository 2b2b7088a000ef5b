package repo

import (
	"context"
	"errors"
	"time"

	"github.com/iceymoss/go-sched/pkg/db/objects"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// JobRepo jobs / actions / job_run_logs 三张表的读写入口
// 调度器只用到读路径和日志追加；CRUD 方法给管理 API 用
type JobRepo struct {
	db *gorm.DB
}

func NewJobRepo(db *gorm.DB) *JobRepo {
	return &JobRepo{db: db}
}

// EnabledJobs 取所有启用的任务
func (r *JobRepo) EnabledJobs(ctx context.Context) ([]objects.Job, error) {
	var list []objects.Job
	err := r.db.WithContext(ctx).Where("enabled = ?", true).Find(&list).Error
	return list, err
}

func (r *JobRepo) FindJob(ctx context.Context, id string) (*objects.Job, error) {
	var job objects.Job
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

type lastRunRow struct {
	JobID string    `gorm:"column:job_id"`
	RanAt time.Time `gorm:"column:ran_at"`
}

// LastRuns 一条 SQL 批量取每个任务最近一次日志的 ran_at
// 重启后的去重状态就是从这里恢复的
func (r *JobRepo) LastRuns(ctx context.Context, jobIDs []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(jobIDs))
	if len(jobIDs) == 0 {
		return out, nil
	}

	var rows []lastRunRow
	err := r.db.WithContext(ctx).
		Model(&objects.RunLog{}).
		Select("job_id, MAX(ran_at) AS ran_at").
		Where("job_id IN ?", jobIDs).
		Group("job_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		out[row.JobID] = row.RanAt
	}
	return out, nil
}

// FindAction 按 id 查动作，未持久化返回 (nil, nil)，调用方再去翻内存注册表
func (r *JobRepo) FindAction(ctx context.Context, id string) (*objects.Action, error) {
	var action objects.Action
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&action).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &action, nil
}

// AppendRunLog 追加运行日志，永不更新或删除
func (r *JobRepo) AppendRunLog(ctx context.Context, entry *objects.RunLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// ---- 以下是管理 API 用的 CRUD，调度循环不碰 ----

// ListJobs 按更新时间倒序
func (r *JobRepo) ListJobs(ctx context.Context) ([]objects.Job, error) {
	var list []objects.Job
	err := r.db.WithContext(ctx).Order("updated_at DESC").Find(&list).Error
	return list, err
}

func (r *JobRepo) SaveJob(ctx context.Context, job *objects.Job) error {
	return r.db.WithContext(ctx).Save(job).Error
}

func (r *JobRepo) DeleteJob(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&objects.Job{}).Error
}

func (r *JobRepo) ListActions(ctx context.Context) ([]objects.Action, error) {
	var list []objects.Action
	err := r.db.WithContext(ctx).Order("id").Find(&list).Error
	return list, err
}

// SyncActions 启动期把模块注册的动作落表（upsert）
// 同步前调度器靠内存注册表兜底，属于同一条解析链的两级
func (r *JobRepo) SyncActions(ctx context.Context, list []objects.Action) error {
	if len(list) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&list).Error
}

// RunLogs 单任务最近 limit 条运行日志
func (r *JobRepo) RunLogs(ctx context.Context, jobID string, limit int) ([]objects.RunLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var list []objects.RunLog
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("id DESC").
		Limit(limit).
		Find(&list).Error
	return list, err
}
