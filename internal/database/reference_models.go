// Package database 定义了文件引用相关的数据库模型
// 文件引用记录某个校验和的文件内容存在于某个存储位置，并归属于一个或多个逻辑属主
package database

import (
	"time"
)

// FileReference 文件引用模型
// 以(校验和, 存储位置)为唯一标识，记录文件的元数据、属主集合和物理位置
// 属主集合为空的引用必须被调度物理删除，不允许长期存在零属主的引用
type FileReference struct {
	ID        uint      `gorm:"primarykey" json:"id"`                                              // 主键ID，自增
	Checksum  string    `gorm:"not null;size:128;uniqueIndex:idx_reference_identity" json:"checksum"` // 文件内容校验和
	Storage   string    `gorm:"not null;size:100;uniqueIndex:idx_reference_identity" json:"storage"`  // 存储位置名称
	FileName  string    `gorm:"not null;size:255" json:"file_name"`                                // 原始文件名称
	Algorithm string    `gorm:"not null;size:20;default:'SHA-256'" json:"algorithm"`               // 校验和算法
	FileSize  int64     `gorm:"not null;default:0" json:"file_size"`                               // 文件大小，单位为字节
	MimeType  string    `gorm:"size:100" json:"mime_type"`                                         // 文件MIME类型
	Owners    []string  `gorm:"serializer:json;type:text" json:"owners"`                           // 逻辑属主集合，存在引用期间非空
	Location  string    `gorm:"size:500" json:"location"`                                          // 物理位置URL
	CreatedAt time.Time `json:"created_at"`                                                        // 记录创建时间
	UpdatedAt time.Time `json:"updated_at"`                                                        // 记录最后更新时间
}

// TableName 指定FileReference模型对应的数据库表名
func (FileReference) TableName() string {
	return "file_references"
}

// HasOwner 判断指定属主是否在属主集合中
func (r *FileReference) HasOwner(owner string) bool {
	for _, o := range r.Owners {
		if o == owner {
			return true
		}
	}
	return false
}

// AddOwner 向属主集合添加属主（幂等）
// 返回是否发生了实际添加
func (r *FileReference) AddOwner(owner string) bool {
	if r.HasOwner(owner) {
		return false
	}
	r.Owners = append(r.Owners, owner)
	return true
}

// RemoveOwner 从属主集合移除属主（幂等）
// 返回是否发生了实际移除
func (r *FileReference) RemoveOwner(owner string) bool {
	for i, o := range r.Owners {
		if o == owner {
			r.Owners = append(r.Owners[:i], r.Owners[i+1:]...)
			return true
		}
	}
	return false
}
