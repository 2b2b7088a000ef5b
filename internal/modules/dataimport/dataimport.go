package dataimport

import (
	"github.com/iceymoss/go-sched/internal/actions"
	"github.com/iceymoss/go-sched/pkg/db/objects"
)

// init 只要这个包被 import，数据导入模块的动作就进了内存注册表
// actions 表还没同步之前（比如刚起的进程），调度器靠这份注册表兜底
func init() {
	actions.Register(objects.Action{
		ID:              "data_import:sync",
		ModuleID:        "data_import",
		Name:            "数据同步",
		Description:     "拉取外部数据源并入库",
		Method:          "POST",
		Path:            "/modules/data-import/{source}/sync",
		PayloadTemplate: `{"source":"default","batch_size":500}`,
		Metadata:        `{"path_params":{"source":"source"}}`,
	})
}
