// Package database 提供数据库迁移和初始化功能
// 包含请求台账相关表的索引优化和存储位置配置的启动刷新
package database

import (
	"github.com/tiervault/tiervault/config"
	"github.com/tiervault/tiervault/internal/logger"
	"gorm.io/gorm"
)

// MigrateRequestTables 执行请求台账相关表的数据库迁移
// 参数: db *gorm.DB - GORM数据库连接实例
// 返回值: error - 迁移失败时返回错误信息
// 用途: 创建引用、请求、分组、缓存相关表，并建立必要的索引
func MigrateRequestTables(db *gorm.DB) error {
	logger.Info("开始执行请求台账数据库迁移...")

	if err := autoMigrate(db); err != nil {
		return err
	}

	// 创建复合索引以优化查询性能
	if err := createRequestIndexes(db); err != nil {
		return err
	}

	logger.Info("请求台账数据库迁移完成")
	return nil
}

// createRequestIndexes 创建请求台账的复合索引
// 参数: db *gorm.DB - GORM数据库连接实例
// 返回值: error - 创建索引失败时返回错误信息
// 用途: 优化按状态和存储位置的分页扫描、分组完成度检查和缓存淘汰查询
func createRequestIndexes(db *gorm.DB) error {
	indexes := []string{
		// 调度扫描优化：按状态和存储位置分页遍历待处理请求
		"CREATE INDEX IF NOT EXISTS idx_storage_requests_status_storage ON storage_requests(status, storage)",
		"CREATE INDEX IF NOT EXISTS idx_deletion_requests_status_storage ON deletion_requests(status, storage)",
		"CREATE INDEX IF NOT EXISTS idx_cache_requests_status_created ON cache_requests(status, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_copy_requests_status_storage ON copy_requests(status, storage)",
		// 请求折叠优化：按(校验和, 存储位置)定位活跃请求
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_storage_requests_identity ON storage_requests(checksum, storage)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_deletion_requests_identity ON deletion_requests(checksum, storage)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_cache_requests_checksum ON cache_requests(checksum)",
		// 分组完成度检查优化：统计未达终态的成员
		"CREATE INDEX IF NOT EXISTS idx_group_members_group_resolved ON group_members(group_id, resolved)",
		// 成员批量完成优化：按(校验和, 存储位置)定位跨分组成员
		"CREATE INDEX IF NOT EXISTS idx_group_members_checksum_storage ON group_members(checksum, storage)",
		// 缓存淘汰优化：按状态和最后访问时间排序
		"CREATE INDEX IF NOT EXISTS idx_cache_files_state_access ON cache_files(state, last_access_at)",
	}

	// 执行所有索引创建语句
	for _, indexSQL := range indexes {
		if err := db.Exec(indexSQL).Error; err != nil {
			logger.Errorf("创建索引失败: %s, 错误: %v", indexSQL, err)
			return err
		}
	}

	logger.Info("请求台账索引创建完成")
	return nil
}

// SyncStorageLocations 将配置文件中的存储位置刷新到数据库
// 参数:
//
//	db *gorm.DB - GORM数据库连接实例
//	storages []config.StorageConfig - 配置文件中的存储位置定义
//
// 返回值: error - 刷新失败时返回错误信息
// 用途: 配置文件是存储位置的唯一事实来源，每次启动按名称覆盖数据库记录
func SyncStorageLocations(db *gorm.DB, storages []config.StorageConfig) error {
	logger.Infof("开始刷新存储位置配置, 共%d个", len(storages))

	names := make([]string, 0, len(storages))
	for _, sc := range storages {
		names = append(names, sc.Name)
		loc := StorageLocation{
			Name:     sc.Name,
			Provider: sc.Provider,
			Tier:     sc.Tier,
			Priority: sc.Priority,
			Active:   sc.Active,
			Capacity: sc.Capacity,
		}

		var existing StorageLocation
		err := db.Where("name = ?", sc.Name).First(&existing).Error
		switch {
		case err == gorm.ErrRecordNotFound:
			if err := db.Create(&loc).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			loc.ID = existing.ID
			if err := db.Model(&existing).Updates(map[string]interface{}{
				"provider": loc.Provider,
				"tier":     loc.Tier,
				"priority": loc.Priority,
				"active":   loc.Active,
				"capacity": loc.Capacity,
			}).Error; err != nil {
				return err
			}
		}
	}

	// 删除配置中不再存在的存储位置记录
	if len(names) > 0 {
		if err := db.Where("name NOT IN ?", names).Delete(&StorageLocation{}).Error; err != nil {
			return err
		}
	} else {
		if err := db.Where("1 = 1").Delete(&StorageLocation{}).Error; err != nil {
			return err
		}
	}

	logger.Info("存储位置配置刷新完成")
	return nil
}
