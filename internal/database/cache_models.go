// Package database 定义了本地缓存相关的数据库模型
// 本地缓存保存从近线存储恢复的文件副本，受配置容量约束
package database

import (
	"time"
)

// 缓存文件状态常量
const (
	CacheStateQueued    = "QUEUED"    // 恢复已排队，尚无本地字节，不计入容量
	CacheStateAvailable = "AVAILABLE" // 物理副本已落地，计入容量
)

// CacheFile 缓存文件模型
// 以校验和为唯一标识，AVAILABLE状态文件的大小总和不得超过配置容量
// 由淘汰扫描按先过期、后最久未访问的顺序销毁
type CacheFile struct {
	ID           uint      `gorm:"primarykey" json:"id"`                            // 主键ID，自增
	Checksum     string    `gorm:"not null;size:128;uniqueIndex" json:"checksum"`   // 文件内容校验和
	Location     string    `gorm:"not null;size:500" json:"location"`               // 本地文件路径
	FileSize     int64     `gorm:"not null;default:0" json:"file_size"`             // 文件大小，单位为字节
	State        string    `gorm:"not null;size:10;index" json:"state"`             // 缓存状态
	ExpirationAt time.Time `gorm:"index" json:"expiration_at"`                      // 过期时间，过期后由淘汰扫描优先清除
	LastAccessAt time.Time `gorm:"index" json:"last_access_at"`                     // 最后访问时间，容量淘汰按此排序
	CreatedAt    time.Time `json:"created_at"`                                      // 记录创建时间
	UpdatedAt    time.Time `json:"updated_at"`                                      // 记录最后更新时间
}

// TableName 指定CacheFile模型对应的数据库表名
func (CacheFile) TableName() string {
	return "cache_files"
}
