// Package orchestrator 提供批量流项的领域分发
// 接入管道排空的每一批流项在这里按类型拆解为单文件操作，
// 处理失败的文件立即以失败终态解决对应分组成员，保证分组终态事件不悬挂
package orchestrator

import (
	"fmt"

	"github.com/tiervault/tiervault/internal/flow"
	"github.com/tiervault/tiervault/internal/logger"
	"github.com/tiervault/tiervault/internal/service/availability"
	"github.com/tiervault/tiervault/internal/service/group"
	"github.com/tiervault/tiervault/internal/service/reference"
)

// Orchestrator 批量流项编排器
// 实现接入管道的BatchHandler接口
type Orchestrator struct {
	refs   reference.ReferenceService       // 文件引用注册表服务
	avail  availability.AvailabilityService // 分层可用性调度服务
	groups group.GroupService               // 业务分组服务
}

// NewOrchestrator 创建编排器实例
func NewOrchestrator(
	refService reference.ReferenceService,
	availService availability.AvailabilityService,
	groupService group.GroupService,
) *Orchestrator {
	return &Orchestrator{
		refs:   refService,
		avail:  availService,
		groups: groupService,
	}
}

// ProcessBatch 处理一个租户的一批流项
func (o *Orchestrator) ProcessBatch(tenant string, items []*flow.Item) {
	logger.Debugf("[编排器] 租户 %s: 处理%d条流项", tenant, len(items))

	for _, item := range items {
		switch item.Kind {
		case flow.KindStorage:
			o.processStorage(item)
		case flow.KindDeletion:
			o.processDeletion(item)
		case flow.KindAvailability:
			o.processAvailability(item)
		case flow.KindCopy:
			o.processCopy(item)
		}
	}
}

// processStorage 处理存储流项
func (o *Orchestrator) processStorage(item *flow.Item) {
	groupID := item.Storage.GroupID
	for _, file := range item.Storage.Files {
		if err := o.refs.AddOwner(file, groupID); err != nil {
			logger.Errorf("[编排器] 存储请求处理失败: %s@%s: %v", file.Checksum, file.Storage, err)
			o.resolveFailed(groupID, file.Checksum, file.Storage, err)
		}
	}
}

// processDeletion 处理删除流项
func (o *Orchestrator) processDeletion(item *flow.Item) {
	groupID := item.Deletion.GroupID
	for _, file := range item.Deletion.Files {
		if err := o.refs.RemoveOwner(file, groupID); err != nil {
			logger.Errorf("[编排器] 删除请求处理失败: %s@%s: %v", file.Checksum, file.Storage, err)
			o.resolveFailed(groupID, file.Checksum, file.Storage, err)
		}
	}
}

// processAvailability 处理可用性流项
func (o *Orchestrator) processAvailability(item *flow.Item) {
	if err := o.avail.MakeAvailable(item.Availability); err != nil {
		logger.Errorf("[编排器] 可用性请求处理失败: 分组=%s: %v", item.Availability.RequestID, err)
		for _, checksum := range item.Availability.Checksums {
			o.resolveFailed(item.Availability.RequestID, checksum, "", err)
		}
	}
}

// processCopy 处理复制流项
func (o *Orchestrator) processCopy(item *flow.Item) {
	groupID := item.Copy.RequestID
	for _, file := range item.Copy.Files {
		if err := o.refs.RequestCopy(file, groupID); err != nil {
			logger.Errorf("[编排器] 复制请求处理失败: %s -> %s: %v", file.Checksum, file.DestinationStorage, err)
			o.resolveFailed(groupID, file.Checksum, file.DestinationStorage, err)
		}
	}
}

// resolveFailed 以失败终态解决分组成员
// 再次失败只记录日志，成员保持未终态等待后续对账
func (o *Orchestrator) resolveFailed(groupID, checksum, storageName string, cause error) {
	err := o.groups.ResolveMember(groupID, checksum, storageName, true, fmt.Sprintf("internal error: %v", cause))
	if err != nil {
		logger.Errorf("[编排器] 解决分组成员失败: 分组=%s %s@%s: %v", groupID, checksum, storageName, err)
	}
}
