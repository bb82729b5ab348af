// Package availability 提供分层可用性调度
// 对一组校验和解析其全部文件引用后，按存储位置优先级从高到低归类：
// 在线层立即通知可用，近线层交给缓存管理恢复，其余归为离线不可达。
// 同一校验和只由遇到的最高优先级存储解决一次，不在多个层级重复归类
package availability

import (
	"fmt"
	"time"

	"github.com/tiervault/tiervault/internal/database"
	"github.com/tiervault/tiervault/internal/events"
	"github.com/tiervault/tiervault/internal/flow"
	"github.com/tiervault/tiervault/internal/logger"
	"github.com/tiervault/tiervault/internal/service/cache"
	"github.com/tiervault/tiervault/internal/service/group"
	"github.com/tiervault/tiervault/internal/service/reference"
	"github.com/tiervault/tiervault/internal/storage"
)

// AvailabilityService 分层可用性调度服务接口
type AvailabilityService interface {
	// MakeAvailable 处理一条可用性流项
	// 无任何引用的校验和作为未找到错误解决；在线文件立即解决为成功；
	// 近线文件交给缓存管理排队恢复；离线或未配置存储上的文件解决为错误
	MakeAvailable(item *flow.AvailabilityFlowItem) error
}

// availabilityService 分层可用性调度服务实现
type availabilityService struct {
	registry *storage.Registry          // 存储驱动注册表
	refs     reference.ReferenceService // 文件引用注册表服务
	cache    cache.CacheService         // 缓存管理服务
	groups   group.GroupService         // 业务分组服务
	notifier events.Notifier            // 事件分发器
}

// NewAvailabilityService 创建分层可用性调度服务实例
func NewAvailabilityService(
	registry *storage.Registry,
	refService reference.ReferenceService,
	cacheService cache.CacheService,
	groupService group.GroupService,
	notifier events.Notifier,
) AvailabilityService {
	return &availabilityService{
		registry: registry,
		refs:     refService,
		cache:    cacheService,
		groups:   groupService,
		notifier: notifier,
	}
}

// MakeAvailable 处理一条可用性流项
func (s *availabilityService) MakeAvailable(item *flow.AvailabilityFlowItem) error {
	groupID := item.RequestID

	refs, err := s.refs.FindByChecksums(item.Checksums)
	if err != nil {
		return err
	}

	// 按存储位置归并引用，记录仍未归类的校验和
	byStorage := make(map[string][]database.FileReference)
	remaining := make(map[string]bool, len(item.Checksums))
	for _, checksum := range item.Checksums {
		remaining[checksum] = true
	}
	for _, ref := range refs {
		byStorage[ref.Storage] = append(byStorage[ref.Storage], ref)
	}

	// 无任何引用的校验和直接作为未找到错误解决
	for _, checksum := range item.Checksums {
		if hasReference(refs, checksum) {
			continue
		}
		delete(remaining, checksum)
		cause := fmt.Sprintf("file not found: %s", checksum)
		s.notifyError(checksum, "", groupID, cause)
		if err := s.groups.ResolveMember(groupID, checksum, "", true, cause); err != nil {
			return err
		}
	}

	// 按优先级从高到低遍历已配置的存储位置
	var nearline []database.FileReference
	for _, location := range s.registry.Locations() {
		if len(remaining) == 0 {
			break
		}
		if !location.Active {
			continue
		}

		for _, ref := range byStorage[location.Name] {
			if !remaining[ref.Checksum] {
				continue
			}
			delete(remaining, ref.Checksum)

			switch location.Tier {
			case database.TierOnline:
				s.notifier.NotifyFile(events.FileReferenceEvent{
					Type:       events.FileAvailable,
					Checksum:   ref.Checksum,
					Storage:    ref.Storage,
					GroupID:    groupID,
					Location:   ref.Location,
					OccurredAt: time.Now(),
				})
				if err := s.groups.ResolveMember(groupID, ref.Checksum, "", false, ""); err != nil {
					return err
				}
			case database.TierNearline:
				nearline = append(nearline, ref)
			default:
				cause := fmt.Sprintf("file offline on storage %s", ref.Storage)
				s.notifyError(ref.Checksum, ref.Storage, groupID, cause)
				if err := s.groups.ResolveMember(groupID, ref.Checksum, "", true, cause); err != nil {
					return err
				}
			}
		}
	}

	// 剩下的校验和只存在于未配置或停用的存储上，归为离线不可达
	for checksum := range remaining {
		cause := fmt.Sprintf("file unreachable: %s", checksum)
		s.notifyError(checksum, "", groupID, cause)
		if err := s.groups.ResolveMember(groupID, checksum, "", true, cause); err != nil {
			return err
		}
	}

	if len(nearline) > 0 {
		logger.Infof("[可用性调度] 分组 %s: %d个近线文件交给缓存管理恢复", groupID, len(nearline))
		return s.cache.EnsureAvailable(nearline, item.ExpirationDate, groupID)
	}
	return nil
}

// notifyError 发送文件不可用事件
func (s *availabilityService) notifyError(checksum, storageName, groupID, cause string) {
	s.notifier.NotifyFile(events.FileReferenceEvent{
		Type:       events.FileAvailabilityError,
		Checksum:   checksum,
		Storage:    storageName,
		GroupID:    groupID,
		ErrorCause: cause,
		OccurredAt: time.Now(),
	})
}

// hasReference 判断校验和是否存在至少一条引用
func hasReference(refs []database.FileReference, checksum string) bool {
	for _, ref := range refs {
		if ref.Checksum == checksum {
			return true
		}
	}
	return false
}
