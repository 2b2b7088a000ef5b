package engine

import (
	"time"

	"github.com/iceymoss/go-sched/internal/cron"
	"github.com/iceymoss/go-sched/pkg/logger"

	"go.uber.org/zap"
)

// MinuteKeyLayout 分钟键格式，定宽零填充，只用于相等比较
const MinuteKeyLayout = "2006-01-02 15:04"

// Civil 某个瞬间在调度时区下的日历字段
type Civil struct {
	Year      int
	Month     int
	Day       int
	Hour      int
	Minute    int
	Weekday   int // 0 = 周日
	MinuteKey string
}

// Fields 转成 cron 匹配器需要的形状
func (c Civil) Fields() cron.Fields {
	return cron.Fields{
		Minute:  c.Minute,
		Hour:    c.Hour,
		Day:     c.Day,
		Month:   c.Month,
		Weekday: c.Weekday,
	}
}

// CivilResolver 把时间戳换算到固定的调度时区
// 部署在哪个机房无所谓，运维永远按配置的时区理解 cron 表达式
type CivilResolver struct {
	loc      *time.Location
	degraded bool
}

// NewCivilResolver 加载不了配置的时区时退回进程本地时区
// 降级模式不致命，但本地时区和配置时区不一致时表达式会漂移，启动时警告一次
func NewCivilResolver(tz string) *CivilResolver {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		logger.Warn("timezone unavailable, falling back to local time",
			zap.String("timezone", tz), zap.Error(err))
		return &CivilResolver{loc: time.Local, degraded: true}
	}
	return &CivilResolver{loc: loc}
}

// Degraded 是否处于本地时区降级模式
func (r *CivilResolver) Degraded() bool {
	return r.degraded
}

// Resolve 拆解瞬间为日历字段
func (r *CivilResolver) Resolve(t time.Time) Civil {
	local := t.In(r.loc)
	return Civil{
		Year:      local.Year(),
		Month:     int(local.Month()),
		Day:       local.Day(),
		Hour:      local.Hour(),
		Minute:    local.Minute(),
		Weekday:   int(local.Weekday()),
		MinuteKey: local.Format(MinuteKeyLayout),
	}
}

// MinuteKey 单独算分钟键，用来把历史日志的 ran_at 换算成可比较的形式
func (r *CivilResolver) MinuteKey(t time.Time) string {
	return t.In(r.loc).Format(MinuteKeyLayout)
}
