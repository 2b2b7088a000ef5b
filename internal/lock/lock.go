package lock

import "context"

// Lease 是一次成功抢锁的持有凭据，Release 必须在同一连接上执行
type Lease interface {
	Release(ctx context.Context) error
}

// Manager 跨进程互斥锁
// Acquire 是非阻塞的 try-lock：返回 (lease, true) 表示抢到，
// (nil, false) 且无 error 表示别的实例持有中，属正常情况
type Manager interface {
	Acquire(ctx context.Context, name string) (Lease, bool, error)
}
