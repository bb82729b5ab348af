// Package storage 提供存储驱动注册表
// 注册表在配置加载时构建，按存储位置名称索引驱动，并维护优先级排序的存储位置列表
package storage

import (
	"fmt"
	"sort"

	"github.com/tiervault/tiervault/config"
	"github.com/tiervault/tiervault/internal/database"
	"github.com/tiervault/tiervault/internal/logger"
)

// Location 存储位置的调度视图
// 按优先级升序排列（数值越小越优先），驱动分层可用性调度
type Location struct {
	Name     string // 存储位置名称
	Tier     string // 存储层级
	Priority int    // 优先级
	Active   bool   // 是否启用
}

// Registry 存储驱动注册表
// 构建完成后只读，可被多协程并发访问
type Registry struct {
	drivers   map[string]Driver
	locations []Location
}

// NewRegistry 根据配置构建存储驱动注册表
// 参数:
//
//	storages - 配置文件中的存储位置定义列表
//
// 返回:
//
//	*Registry - 注册表实例
//	error - 驱动创建失败时返回错误
func NewRegistry(storages []config.StorageConfig) (*Registry, error) {
	r := &Registry{
		drivers: make(map[string]Driver),
	}

	for _, sc := range storages {
		driver, err := createDriver(sc)
		if err != nil {
			return nil, fmt.Errorf("failed to create driver for storage %s: %w", sc.Name, err)
		}
		r.drivers[sc.Name] = driver
		r.locations = append(r.locations, Location{
			Name:     sc.Name,
			Tier:     sc.Tier,
			Priority: sc.Priority,
			Active:   sc.Active,
		})
		logger.Infof("[存储注册表] 注册存储位置: %s, 驱动: %s, 层级: %s, 优先级: %d, 启用: %v",
			sc.Name, sc.Provider, sc.Tier, sc.Priority, sc.Active)
	}

	sort.SliceStable(r.locations, func(i, j int) bool {
		return r.locations[i].Priority < r.locations[j].Priority
	})

	return r, nil
}

// createDriver 根据配置创建存储驱动实例
func createDriver(sc config.StorageConfig) (Driver, error) {
	switch sc.Provider {
	case "local":
		return NewLocalDriver(sc)
	case "aliyun":
		return NewAliyunDriver(sc)
	case "tencent":
		return NewTencentDriver(sc)
	case "qiniu":
		return NewQiniuDriver(sc)
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", sc.Provider)
	}
}

// Driver 按名称解析存储驱动
// 返回:
//
//	Driver - 驱动实例
//	bool - 存储位置是否已配置
func (r *Registry) Driver(name string) (Driver, bool) {
	d, ok := r.drivers[name]
	return d, ok
}

// Locations 返回按优先级升序排列的存储位置列表副本
func (r *Registry) Locations() []Location {
	out := make([]Location, len(r.locations))
	copy(out, r.locations)
	return out
}

// Tier 返回指定存储位置的层级
// 未配置的存储位置返回OFFLINE
func (r *Registry) Tier(name string) string {
	for _, loc := range r.locations {
		if loc.Name == name {
			return loc.Tier
		}
	}
	return database.TierOffline
}

// IsManaged 判断存储位置是否为已配置的后端
func (r *Registry) IsManaged(name string) bool {
	_, ok := r.drivers[name]
	return ok
}

// IsUsable 判断存储位置是否已配置且启用
func (r *Registry) IsUsable(name string) bool {
	d, ok := r.drivers[name]
	return ok && d.IsActive()
}
