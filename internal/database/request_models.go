// Package database 定义了请求台账相关的数据库模型
// 四种请求类型共享同一套生命周期状态机：
// TODO → PENDING → {完成(删除行) | ERROR}；ERROR → TODO（重试）；
// 仅存储请求允许 TODO/PENDING → DELAYED（目标引用正在删除中），删除完成后 DELAYED → TODO
package database

import (
	"time"
)

// 请求生命周期状态常量
const (
	StatusTodo    = "TODO"    // 待调度
	StatusPending = "PENDING" // 已交付作业，等待异步完成
	StatusDelayed = "DELAYED" // 被进行中的删除阻塞，待删除完成后重新调度
	StatusError   = "ERROR"   // 作业失败，携带错误原因，可重试
)

// RequestFields 请求公共字段
// 以gorm embedded方式复用在四种请求模型中
type RequestFields struct {
	ID           uint      `gorm:"primarykey" json:"id"`                    // 主键ID，自增
	Checksum     string    `gorm:"not null;size:128" json:"checksum"`       // 目标文件校验和
	Storage      string    `gorm:"not null;size:100" json:"storage"`        // 目标存储位置名称
	Status       string    `gorm:"not null;size:10;index" json:"status"`    // 生命周期状态
	ErrorCause   string    `gorm:"type:text" json:"error_cause,omitempty"`  // 作业失败时的错误原因
	GroupID      string    `gorm:"size:100;index" json:"group_id"`          // 所属业务分组标识
	JobReference string    `gorm:"size:36;index" json:"job_reference"`      // 调度后分配的作业引用（UUID）
	CreatedAt    time.Time `json:"created_at"`                              // 记录创建时间
	UpdatedAt    time.Time `json:"updated_at"`                              // 记录最后更新时间
}

// StorageRequest 存储请求模型
// 表示将一份文件内容写入目标存储位置的意图
// 同一(校验和, 存储位置)最多存在一条活跃记录，重复提交折叠为属主合并
type StorageRequest struct {
	RequestFields `gorm:"embedded"`
	FileName      string   `gorm:"not null;size:255" json:"file_name"`                  // 原始文件名称
	Algorithm     string   `gorm:"size:20;default:'SHA-256'" json:"algorithm"`          // 校验和算法
	MimeType      string   `gorm:"size:100" json:"mime_type"`                           // 文件MIME类型
	FileSize      int64    `gorm:"default:0" json:"file_size"`                          // 文件大小，单位为字节
	OriginURL     string   `gorm:"size:500" json:"origin_url"`                          // 源文件位置URL
	SubDirectory  string   `gorm:"size:255" json:"sub_directory"`                       // 目标存储中的子目录，可选
	Owners        []string `gorm:"serializer:json;type:text" json:"owners"`             // 请求完成后写入引用的属主集合
}

// TableName 指定StorageRequest模型对应的数据库表名
func (StorageRequest) TableName() string {
	return "storage_requests"
}

// DeletionRequest 删除请求模型
// 表示对一条零属主引用执行物理删除的意图
// ForceDelete指示即使物理删除失败也移除引用，用于恢复永久损坏的后端
type DeletionRequest struct {
	RequestFields `gorm:"embedded"`
	Location      string `gorm:"size:500" json:"location"`              // 待删除文件的物理位置URL
	ForceDelete   bool   `gorm:"default:false" json:"force_delete"`     // 物理删除失败时是否仍按逻辑成功处理
}

// TableName 指定DeletionRequest模型对应的数据库表名
func (DeletionRequest) TableName() string {
	return "deletion_requests"
}

// CacheRequest 缓存恢复请求模型
// 表示将近线存储中的文件恢复到本地缓存的意图
// 容量不足时请求保持TODO状态排队，属于延迟而非失败
type CacheRequest struct {
	RequestFields `gorm:"embedded"`
	FileName      string    `gorm:"size:255" json:"file_name"`        // 原始文件名称
	FileSize      int64     `gorm:"default:0" json:"file_size"`       // 文件大小，用于缓存容量核算
	Location      string    `gorm:"size:500" json:"location"`         // 近线存储中的物理位置URL
	ExpirationAt  time.Time `json:"expiration_at"`                    // 恢复后缓存文件的过期时间
}

// TableName 指定CacheRequest模型对应的数据库表名
func (CacheRequest) TableName() string {
	return "cache_requests"
}

// CopyRequest 复制请求模型
// 表示将文件内容从源存储复制到目标存储的意图
// Storage字段为目标存储，SourceStorage为读取内容的源存储
type CopyRequest struct {
	RequestFields `gorm:"embedded"`
	SourceStorage string `gorm:"not null;size:100" json:"source_storage"` // 源存储位置名称
	FileName      string `gorm:"size:255" json:"file_name"`               // 原始文件名称
	FileSize      int64  `gorm:"default:0" json:"file_size"`              // 文件大小，单位为字节
	MimeType      string `gorm:"size:100" json:"mime_type"`               // 文件MIME类型
	Owner         string `gorm:"size:100" json:"owner"`                   // 复制完成后目标引用的属主
	SourceURL     string `gorm:"size:500" json:"source_url"`              // 源文件物理位置URL
}

// TableName 指定CopyRequest模型对应的数据库表名
func (CopyRequest) TableName() string {
	return "copy_requests"
}
