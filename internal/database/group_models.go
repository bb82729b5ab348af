// Package database 定义了业务分组相关的数据库模型
// 业务分组把成千上万个单文件请求聚合为一个逻辑请求，并保证恰好一次的终态通知
package database

import (
	"time"
)

// 分组状态常量
// GRANTED/DENIED属于准入事件而非持久状态：被拒绝的分组不会落库
const (
	GroupStateOpen    = "OPEN"    // 已准入，存在未达终态的成员
	GroupStateSuccess = "SUCCESS" // 全部成员成功，终态事件已发出
	GroupStateError   = "ERROR"   // 至少一个成员失败，终态事件已发出
)

// 分组请求类型常量
const (
	GroupTypeStorage      = "STORAGE"      // 存储分组
	GroupTypeDeletion     = "DELETION"     // 删除分组
	GroupTypeAvailability = "AVAILABILITY" // 可用性（恢复）分组
	GroupTypeCopy         = "COPY"         // 复制分组
)

// RequestGroup 业务分组模型
// 每个分组ID一行，OPEN到终态的行级状态切换保证终态事件恰好发出一次
type RequestGroup struct {
	ID          uint      `gorm:"primarykey" json:"id"`                          // 主键ID，自增
	GroupID     string    `gorm:"not null;size:100;uniqueIndex" json:"group_id"` // 业务分组标识，由调用方分配
	RequestType string    `gorm:"not null;size:20" json:"request_type"`          // 分组请求类型
	MemberCount int       `gorm:"not null" json:"member_count"`                  // 准入时记录的成员总数
	State       string    `gorm:"not null;size:10;index" json:"state"`           // 分组状态
	CreatedAt   time.Time `json:"created_at"`                                    // 分组准入时间
	UpdatedAt   time.Time `json:"updated_at"`                                    // 记录最后更新时间
}

// TableName 指定RequestGroup模型对应的数据库表名
func (RequestGroup) TableName() string {
	return "request_groups"
}

// GroupMember 分组成员模型
// 以(分组ID, 校验和, 存储位置)为唯一标识，持久记录单个文件在分组内的终态
// 成员的终态记录恰好写入一次，重复的完成通知是空操作。
// RequestType冗余记录所属分组的请求类型，跨分组解决按类型匹配，
// 同一(校验和, 存储位置)上不同类型的操作完成互不影响
type GroupMember struct {
	ID          uint      `gorm:"primarykey" json:"id"`                                           // 主键ID，自增
	GroupID     string    `gorm:"not null;size:100;uniqueIndex:idx_group_member" json:"group_id"` // 所属分组标识
	Checksum    string    `gorm:"not null;size:128;uniqueIndex:idx_group_member" json:"checksum"` // 目标文件校验和
	Storage     string    `gorm:"size:100;uniqueIndex:idx_group_member" json:"storage"`           // 目标存储位置，可用性分组准入时为空
	RequestType string    `gorm:"not null;size:20;index" json:"request_type"`                     // 所属分组的请求类型
	Resolved    bool      `gorm:"not null;default:false;index" json:"resolved"`                   // 是否已达终态
	Error       bool      `gorm:"not null;default:false" json:"error"`                            // 终态是否为失败
	ErrorCause  string    `gorm:"type:text" json:"error_cause,omitempty"`                         // 失败时的错误原因
	CreatedAt   time.Time `json:"created_at"`                                                     // 成员准入时间
	UpdatedAt   time.Time `json:"updated_at"`                                                     // 记录最后更新时间
}

// TableName 指定GroupMember模型对应的数据库表名
func (GroupMember) TableName() string {
	return "group_members"
}
