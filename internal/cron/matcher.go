package cron

import (
	"strconv"
	"strings"
)

// Fields 拆解后的日历时间字段，由 engine 的 civil resolver 产出
type Fields struct {
	Minute  int
	Hour    int
	Day     int // day of month
	Month   int
	Weekday int // 0 = 周日
}

// 每个字段的合法取值范围，顺序：分 时 日 月 周
var fieldRanges = [5][2]int{
	{0, 59},
	{0, 23},
	{1, 31},
	{1, 12},
	{0, 7},
}

// Matches 判断 5 段 cron 表达式是否命中给定的时间字段
// 表达式不足 5 段视为非法，永不命中（坏数据等价于停用，而不是崩溃）
// 每个字段是逗号分隔的 token 列表，任一 token 命中即可；五个字段必须同时命中
// 不支持 dom/dow 取并集的 cron 方言，语义就是纯 AND
func Matches(expr string, f Fields) bool {
	parts := strings.Fields(expr)
	if len(parts) < 5 {
		return false
	}

	values := [5]int{f.Minute, f.Hour, f.Day, f.Month, f.Weekday}
	for i := 0; i < 5; i++ {
		if !fieldMatches(parts[i], values[i], fieldRanges[i][0], i == 4) {
			return false
		}
	}
	return true
}

// fieldMatches 逗号列表取 OR
func fieldMatches(field string, value, min int, isWeekday bool) bool {
	for _, token := range strings.Split(field, ",") {
		if tokenMatches(token, value, min) {
			return true
		}
		// 周日可以写成 0 或 7，两种写法互通，字段值同理
		if isWeekday && value == 0 && tokenMatches(token, 7, min) {
			return true
		}
		if isWeekday && value == 7 && tokenMatches(token, 0, min) {
			return true
		}
	}
	return false
}

// tokenMatches 单个 token 的匹配规则：
//   - "*"   恒命中
//   - "*/N" (value - min) mod N == 0
//   - 纯数字 精确相等
//
// 其余任何写法（区间、名字等）一律不命中，宁可不跑也不误跑
func tokenMatches(token string, value, min int) bool {
	if token == "*" {
		return true
	}

	if strings.HasPrefix(token, "*/") {
		step, err := strconv.Atoi(token[2:])
		if err != nil || step <= 0 {
			return false
		}
		return (value-min)%step == 0
	}

	num, err := strconv.Atoi(token)
	if err != nil {
		return false
	}
	return num == value
}
