// Package flow 定义传输层入站消息（流项）及其文件级DTO
// 所有流项都携带分组标识，由接入管道做同步准入后异步批量处理
package flow

import (
	"time"
)

// FileStorageRequestDTO 单文件存储请求
type FileStorageRequestDTO struct {
	FileName     string `json:"file_name" binding:"required"` // 原始文件名称
	Checksum     string `json:"checksum" binding:"required"`  // 文件内容校验和
	Algorithm    string `json:"algorithm"`                    // 校验和算法，默认SHA-256
	MimeType     string `json:"mime_type"`                    // 文件MIME类型
	FileSize     int64  `json:"file_size"`                    // 文件大小，单位为字节
	Owner        string `json:"owner" binding:"required"`     // 逻辑属主
	OriginURL    string `json:"origin_url"`                   // 源文件位置URL
	Storage      string `json:"storage" binding:"required"`   // 目标存储位置名称
	SubDirectory string `json:"sub_directory"`                // 目标存储中的子目录，可选
}

// StorageFlowItem 存储流项
// 超过单条消息文件数上限的流项整体被拒绝，不做部分准入
type StorageFlowItem struct {
	GroupID string                  `json:"group_id" binding:"required"` // 业务分组标识
	Files   []FileStorageRequestDTO `json:"files" binding:"required"`    // 文件存储请求列表
}

// FileDeletionRequestDTO 单文件删除请求
type FileDeletionRequestDTO struct {
	Checksum    string `json:"checksum" binding:"required"` // 文件内容校验和
	Storage     string `json:"storage" binding:"required"`  // 存储位置名称
	Owner       string `json:"owner" binding:"required"`    // 解除引用的逻辑属主
	ForceDelete bool   `json:"force_delete"`                // 物理删除失败时是否仍移除引用
}

// DeletionFlowItem 删除流项
type DeletionFlowItem struct {
	GroupID string                   `json:"group_id" binding:"required"` // 业务分组标识
	Files   []FileDeletionRequestDTO `json:"files" binding:"required"`    // 文件删除请求列表
}

// AvailabilityFlowItem 可用性流项
// 请求让一组校验和对应的文件变为可读取，近线文件恢复到本地缓存
type AvailabilityFlowItem struct {
	RequestID      string    `json:"request_id" binding:"required"` // 请求标识，作为分组标识使用
	Checksums      []string  `json:"checksums" binding:"required"`  // 目标文件校验和集合
	ExpirationDate time.Time `json:"expiration_date"`               // 恢复后缓存文件的过期时间
}

// FileCopyRequestDTO 单文件复制请求
type FileCopyRequestDTO struct {
	Checksum           string `json:"checksum" binding:"required"`            // 文件内容校验和
	SourceStorage      string `json:"source_storage" binding:"required"`      // 源存储位置名称
	DestinationStorage string `json:"destination_storage" binding:"required"` // 目标存储位置名称
	Owner              string `json:"owner" binding:"required"`               // 复制完成后目标引用的属主
}

// CopyFlowItem 复制流项
type CopyFlowItem struct {
	RequestID string               `json:"request_id" binding:"required"` // 请求标识，作为分组标识使用
	Files     []FileCopyRequestDTO `json:"files" binding:"required"`      // 文件复制请求列表
}

// Item 入站流项的统一包装
// 接入管道以租户为单位排队，批量消费时按Kind分发到对应的领域处理器
type Item struct {
	Kind         ItemKind              // 流项类型
	Tenant       string                // 所属租户
	Storage      *StorageFlowItem      // 存储流项，Kind为KindStorage时非空
	Deletion     *DeletionFlowItem     // 删除流项，Kind为KindDeletion时非空
	Availability *AvailabilityFlowItem // 可用性流项，Kind为KindAvailability时非空
	Copy         *CopyFlowItem         // 复制流项，Kind为KindCopy时非空
}

// ItemKind 流项类型
type ItemKind string

// 流项类型常量
const (
	KindStorage      ItemKind = "storage"      // 存储流项
	KindDeletion     ItemKind = "deletion"     // 删除流项
	KindAvailability ItemKind = "availability" // 可用性流项
	KindCopy         ItemKind = "copy"         // 复制流项
)

// GroupID 返回流项携带的分组标识
func (i *Item) GroupID() string {
	switch i.Kind {
	case KindStorage:
		return i.Storage.GroupID
	case KindDeletion:
		return i.Deletion.GroupID
	case KindAvailability:
		return i.Availability.RequestID
	case KindCopy:
		return i.Copy.RequestID
	}
	return ""
}

// MemberCount 返回流项包含的文件数
func (i *Item) MemberCount() int {
	switch i.Kind {
	case KindStorage:
		return len(i.Storage.Files)
	case KindDeletion:
		return len(i.Deletion.Files)
	case KindAvailability:
		return len(i.Availability.Checksums)
	case KindCopy:
		return len(i.Copy.Files)
	}
	return 0
}
