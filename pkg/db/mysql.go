package db

import (
	"fmt"
	"strconv"

	"github.com/iceymoss/go-sched/internal/conf"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// OpenMysql 打开 MySQL 连接并配置连接池
// 连接由组合根（main）持有并注入到各个 repo，不使用包级全局单例
func OpenMysql(cfg conf.MysqlConfig) (*gorm.DB, error) {
	var gormlevel gormLogger.LogLevel
	switch cfg.LogLevel {
	case "debug", "info":
		gormlevel = gormLogger.Info
	case "warning":
		gormlevel = gormLogger.Warn
	default:
		gormlevel = gormLogger.Error
	}

	dsn := cfg.User + ":" + cfg.Password + "@tcp(" + cfg.Host + ":" + strconv.Itoa(cfg.Port) + ")/" +
		cfg.DbName + "?charset=utf8mb4&parseTime=True&loc=Local"

	conn, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormlevel),
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	pool, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("mysql pool: %w", err)
	}
	pool.SetMaxOpenConns(30)
	pool.SetMaxIdleConns(15)

	if cfg.LogLevel == "debug" {
		return conn.Debug(), nil
	}
	return conn, nil
}
