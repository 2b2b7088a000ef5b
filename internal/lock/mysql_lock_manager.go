package lock

import (
	"context"
	"database/sql"
	"fmt"
)

// MysqlLockManager 基于 MySQL GET_LOCK 的命名锁
// GET_LOCK 的持有权挂在会话（连接）上，所以这里从连接池里
// 钉住一条 *sql.Conn，加锁和放锁都走同一条连接，期间不归还池子
type MysqlLockManager struct {
	db *sql.DB
}

func NewMysqlLockManager(db *sql.DB) *MysqlLockManager {
	return &MysqlLockManager{db: db}
}

func (m *MysqlLockManager) Acquire(ctx context.Context, name string) (Lease, bool, error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("pin connection: %w", err)
	}

	// timeout 0：拿不到立刻返回，不等待
	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", name).Scan(&got); err != nil {
		_ = conn.Close()
		return nil, false, fmt.Errorf("acquire lock %q: %w", name, err)
	}

	if !got.Valid || got.Int64 != 1 {
		_ = conn.Close()
		return nil, false, nil
	}

	return &mysqlLease{conn: conn, name: name}, true, nil
}

type mysqlLease struct {
	conn *sql.Conn
	name string
}

func (l *mysqlLease) Release(ctx context.Context) error {
	defer l.conn.Close()
	if _, err := l.conn.ExecContext(ctx, "SELECT RELEASE_LOCK(?)", l.name); err != nil {
		return fmt.Errorf("release lock %q: %w", l.name, err)
	}
	return nil
}
