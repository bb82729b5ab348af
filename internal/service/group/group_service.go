// Package group 提供业务分组的准入控制和恰好一次终态通知
// 分组把一批单文件请求聚合为一个逻辑请求：准入时原子判定GRANTED/DENIED，
// 全部成员达到终态后通过OPEN到终态的条件更新保证终态事件只发出一次
package group

import (
	"fmt"
	"time"

	"github.com/tiervault/tiervault/config"
	"github.com/tiervault/tiervault/internal/database"
	"github.com/tiervault/tiervault/internal/errors"
	"github.com/tiervault/tiervault/internal/events"
	"github.com/tiervault/tiervault/internal/keymutex"
	"github.com/tiervault/tiervault/internal/logger"
	"gorm.io/gorm"
)

// Member 分组成员标识
// 可用性分组准入时尚未确定存储位置，Storage为空
type Member struct {
	Checksum string // 文件校验和
	Storage  string // 存储位置名称
}

// GroupService 业务分组服务接口
type GroupService interface {
	// Open 准入一个业务分组
	// 成员数超过配置上限时拒绝：不持久化任何数据，发出DENIED事件并返回false；
	// 准入成功时创建分组和成员记录，发出GRANTED事件并返回true。
	// 同一分组内重复的(校验和, 存储位置)在准入时折叠为一个成员
	// 参数:
	//   groupID - 调用方分配的分组标识
	//   groupType - 分组请求类型
	//   members - 成员列表
	// 返回:
	//   bool - 是否准入
	//   error - 分组标识冲突或数据库错误
	Open(groupID, groupType string, members []Member) (bool, error)

	// ResolveMember 记录单个成员的终态
	// 幂等操作：成员已达终态或不存在时为空操作。
	// 分组最后一个成员达到终态时发出恰好一次的SUCCESS/ERROR事件
	ResolveMember(groupID, checksum, storage string, failed bool, cause string) error

	// ResolveAllFor 记录所有同类型分组中匹配(校验和, 存储位置)的未达终态成员的终态
	// 同一文件被多个分组引用时，一次物理操作完成即解决全部关联成员；
	// 只匹配requestType对应类型的分组，一次删除完成不影响同一文件上的存储分组
	ResolveAllFor(checksum, storage, requestType string, failed bool, cause string) error

	// Get 查询分组及其成员
	Get(groupID string) (*database.RequestGroup, []database.GroupMember, error)

	// ListOpen 分页查询未达终态的分组
	ListOpen(page, pageSize int) ([]database.RequestGroup, int64, error)
}

// groupService 业务分组服务实现
type groupService struct {
	db       *gorm.DB           // 数据库连接
	notifier events.Notifier    // 事件分发器
	locks    *keymutex.KeyMutex // 按分组ID的互斥锁，串行化终态判定
	maxSize  int                // 单个分组的成员数上限
}

// NewGroupService 创建业务分组服务实例
// 参数:
//   db - 数据库连接
//   cfg - 分组配置
//   notifier - 事件分发器
func NewGroupService(db *gorm.DB, cfg *config.GroupConfig, notifier events.Notifier) GroupService {
	return &groupService{
		db:       db,
		notifier: notifier,
		locks:    keymutex.New(),
		maxSize:  cfg.MaxRequestsPerGroup,
	}
}

// Open 准入一个业务分组
func (s *groupService) Open(groupID, groupType string, members []Member) (bool, error) {
	// 同分组内重复成员折叠
	deduped := dedupMembers(members)

	if len(deduped) > s.maxSize {
		logger.Warnf("[业务分组] 分组 %s 被拒绝: 成员数 %d 超过上限 %d", groupID, len(deduped), s.maxSize)
		s.notifier.NotifyGroup(events.FileRequestsGroupEvent{
			GroupID:     groupID,
			State:       events.GroupDenied,
			RequestType: groupType,
			ErrorCause:  fmt.Sprintf("group size %d exceeds limit %d", len(deduped), s.maxSize),
			OccurredAt:  time.Now(),
		})
		return false, nil
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&database.RequestGroup{}).Where("group_id = ?", groupID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("group %s already exists", groupID)
		}

		groupRecord := &database.RequestGroup{
			GroupID:     groupID,
			RequestType: groupType,
			MemberCount: len(deduped),
			State:       database.GroupStateOpen,
		}
		if err := tx.Create(groupRecord).Error; err != nil {
			return err
		}

		memberRecords := make([]database.GroupMember, 0, len(deduped))
		for _, m := range deduped {
			memberRecords = append(memberRecords, database.GroupMember{
				GroupID:     groupID,
				Checksum:    m.Checksum,
				Storage:     m.Storage,
				RequestType: groupType,
			})
		}
		return tx.CreateInBatches(memberRecords, 200).Error
	})
	if err != nil {
		return false, err
	}

	logger.Infof("[业务分组] 分组 %s 已准入: 类型=%s 成员数=%d", groupID, groupType, len(deduped))
	s.notifier.NotifyGroup(events.FileRequestsGroupEvent{
		GroupID:     groupID,
		State:       events.GroupGranted,
		RequestType: groupType,
		OccurredAt:  time.Now(),
	})
	return true, nil
}

// ResolveMember 记录单个成员的终态
func (s *groupService) ResolveMember(groupID, checksum, storage string, failed bool, cause string) error {
	s.locks.Lock(groupID)
	defer s.locks.Unlock(groupID)

	result := s.db.Model(&database.GroupMember{}).
		Where("group_id = ? AND checksum = ? AND storage = ? AND resolved = ?", groupID, checksum, storage, false).
		Updates(map[string]interface{}{
			"resolved":    true,
			"error":       failed,
			"error_cause": cause,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// 成员已达终态或不属于该分组，幂等空操作
		return nil
	}

	return s.finalizeIfDone(groupID)
}

// ResolveAllFor 记录所有同类型分组中匹配成员的终态
func (s *groupService) ResolveAllFor(checksum, storage, requestType string, failed bool, cause string) error {
	// 先找出存在匹配未达终态成员的分组，再逐组加锁解决
	var groupIDs []string
	err := s.db.Model(&database.GroupMember{}).
		Distinct("group_id").
		Where("checksum = ? AND storage = ? AND request_type = ? AND resolved = ?",
			checksum, storage, requestType, false).
		Pluck("group_id", &groupIDs).Error
	if err != nil {
		return err
	}

	for _, groupID := range groupIDs {
		if err := s.ResolveMember(groupID, checksum, storage, failed, cause); err != nil {
			return err
		}
	}
	return nil
}

// finalizeIfDone 在全部成员达到终态时切换分组状态并发出终态事件
// 调用方必须持有分组锁。OPEN到终态的条件更新保证并发下事件只发出一次
func (s *groupService) finalizeIfDone(groupID string) error {
	var unresolved int64
	err := s.db.Model(&database.GroupMember{}).
		Where("group_id = ? AND resolved = ?", groupID, false).
		Count(&unresolved).Error
	if err != nil {
		return err
	}
	if unresolved > 0 {
		return nil
	}

	var failedMembers []database.GroupMember
	err = s.db.Where("group_id = ? AND error = ?", groupID, true).
		Order("id").Find(&failedMembers).Error
	if err != nil {
		return err
	}

	finalState := database.GroupStateSuccess
	eventState := events.GroupSuccess
	if len(failedMembers) > 0 {
		finalState = database.GroupStateError
		eventState = events.GroupError
	}

	result := s.db.Model(&database.RequestGroup{}).
		Where("group_id = ? AND state = ?", groupID, database.GroupStateOpen).
		Update("state", finalState)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// 终态事件已由其他路径发出
		return nil
	}

	event := events.FileRequestsGroupEvent{
		GroupID:    groupID,
		State:      eventState,
		OccurredAt: time.Now(),
	}
	var groupRecord database.RequestGroup
	if err := s.db.Where("group_id = ?", groupID).First(&groupRecord).Error; err == nil {
		event.RequestType = groupRecord.RequestType
	}
	for _, m := range failedMembers {
		event.FailedMembers = append(event.FailedMembers, events.FailedMember{
			Checksum:   m.Checksum,
			Storage:    m.Storage,
			ErrorCause: m.ErrorCause,
		})
	}

	logger.Infof("[业务分组] 分组 %s 达到终态: %s (失败成员数=%d)", groupID, finalState, len(failedMembers))
	s.notifier.NotifyGroup(event)
	return nil
}

// Get 查询分组及其成员
func (s *groupService) Get(groupID string) (*database.RequestGroup, []database.GroupMember, error) {
	var groupRecord database.RequestGroup
	if err := s.db.Where("group_id = ?", groupID).First(&groupRecord).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, errors.ErrGroupNotFoundError
		}
		return nil, nil, err
	}

	var members []database.GroupMember
	if err := s.db.Where("group_id = ?", groupID).Order("id").Find(&members).Error; err != nil {
		return nil, nil, err
	}
	return &groupRecord, members, nil
}

// ListOpen 分页查询未达终态的分组
func (s *groupService) ListOpen(page, pageSize int) ([]database.RequestGroup, int64, error) {
	var groups []database.RequestGroup
	var total int64

	query := s.db.Model(&database.RequestGroup{}).Where("state = ?", database.GroupStateOpen)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).Order("id").Find(&groups).Error; err != nil {
		return nil, 0, err
	}
	return groups, total, nil
}

// dedupMembers 折叠重复的(校验和, 存储位置)成员
func dedupMembers(members []Member) []Member {
	seen := make(map[Member]struct{}, len(members))
	deduped := make([]Member, 0, len(members))
	for _, m := range members {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		deduped = append(deduped, m)
	}
	return deduped
}
