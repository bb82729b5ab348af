// Package events 定义对外通知事件及其分发接口
// 每个文件级操作产生一条FileReferenceEvent，每个业务分组产生准入事件和恰好一次的终态事件
package events

import (
	"time"
)

// FileEventType 文件事件类型
type FileEventType string

// 文件事件类型常量
const (
	FileStored            FileEventType = "STORED"             // 文件存储成功
	FileStoreError        FileEventType = "STORE_ERROR"        // 文件存储失败
	FileAvailable         FileEventType = "AVAILABLE"          // 文件已可读取
	FileAvailabilityError FileEventType = "AVAILABILITY_ERROR" // 文件恢复失败或不可达
	FileDeletedForOwner   FileEventType = "DELETED_FOR_OWNER"  // 属主解除引用，引用仍存在
	FileFullyDeleted      FileEventType = "FULLY_DELETED"      // 引用已完全删除
	FileDeletionError     FileEventType = "DELETION_ERROR"     // 物理删除失败
)

// GroupEventState 分组事件状态
type GroupEventState string

// 分组事件状态常量
const (
	GroupGranted GroupEventState = "GRANTED" // 分组已准入
	GroupDenied  GroupEventState = "DENIED"  // 分组被拒绝，未创建任何请求
	GroupSuccess GroupEventState = "SUCCESS" // 全部成员成功
	GroupError   GroupEventState = "ERROR"   // 至少一个成员失败
)

// FileReferenceEvent 单文件通知事件
type FileReferenceEvent struct {
	Type       FileEventType `json:"type"`                  // 事件类型
	Checksum   string        `json:"checksum"`              // 文件校验和
	Storage    string        `json:"storage,omitempty"`     // 存储位置名称
	Owner      string        `json:"owner,omitempty"`       // 相关属主，删除类事件携带
	GroupID    string        `json:"group_id,omitempty"`    // 所属分组标识
	Location   string        `json:"location,omitempty"`    // 物理位置或缓存路径
	ErrorCause string        `json:"error_cause,omitempty"` // 失败原因
	OccurredAt time.Time     `json:"occurred_at"`           // 事件发生时间
}

// FailedMember 分组终态事件中的失败成员
type FailedMember struct {
	Checksum   string `json:"checksum"`              // 文件校验和
	Storage    string `json:"storage,omitempty"`     // 存储位置名称
	ErrorCause string `json:"error_cause,omitempty"` // 失败原因
}

// FileRequestsGroupEvent 分组通知事件
// 终态事件（SUCCESS/ERROR）对每个分组恰好发出一次，ERROR时携带失败成员列表
type FileRequestsGroupEvent struct {
	GroupID       string          `json:"group_id"`                 // 业务分组标识
	State         GroupEventState `json:"state"`                    // 分组事件状态
	RequestType   string          `json:"request_type,omitempty"`   // 分组请求类型
	FailedMembers []FailedMember  `json:"failed_members,omitempty"` // 失败成员列表，仅ERROR时非空
	ErrorCause    string          `json:"error_cause,omitempty"`    // 分组级失败原因，如准入拒绝原因
	OccurredAt    time.Time       `json:"occurred_at"`              // 事件发生时间
}

// Notifier 事件分发接口
// 实现方负责把事件交付给外部传输层，交付语义为至少一次
type Notifier interface {
	// NotifyFile 发送单文件事件
	NotifyFile(event FileReferenceEvent)

	// NotifyGroup 发送分组事件
	NotifyGroup(event FileRequestsGroupEvent)
}
