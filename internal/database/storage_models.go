// Package database 定义了存储位置相关的数据库模型
// 存储位置配置来源于配置文件，启动时刷新到数据库供管理接口查询
package database

import (
	"time"
)

// 存储层级常量
// 未配置的存储位置一律视为OFFLINE（不可达）
const (
	TierOnline   = "ONLINE"   // 在线层级，文件可立即读取
	TierNearline = "NEARLINE" // 近线层级，需恢复到本地缓存后读取
	TierOffline  = "OFFLINE"  // 离线或未纳管层级，不可达
)

// StorageLocation 存储位置模型
// 按优先级升序排列（数值越小越优先），驱动分层可用性调度
type StorageLocation struct {
	ID        uint      `gorm:"primarykey" json:"id"`                      // 主键ID，自增
	Name      string    `gorm:"not null;size:100;uniqueIndex" json:"name"` // 存储位置名称，全局唯一
	Provider  string    `gorm:"not null;size:20" json:"provider"`          // 驱动类型：local、aliyun、tencent、qiniu
	Tier      string    `gorm:"not null;size:10" json:"tier"`              // 存储层级：ONLINE、NEARLINE
	Priority  int       `gorm:"not null;index" json:"priority"`            // 优先级，数值越小越优先
	Active    bool      `gorm:"not null;default:true" json:"active"`       // 是否启用，禁用后不参与调度
	Capacity  int64     `gorm:"default:0" json:"capacity"`                 // 容量（字节），0表示不限制
	CreatedAt time.Time `json:"created_at"`                                // 记录创建时间
	UpdatedAt time.Time `json:"updated_at"`                                // 记录最后更新时间
}

// TableName 指定StorageLocation模型对应的数据库表名
func (StorageLocation) TableName() string {
	return "storage_locations"
}
