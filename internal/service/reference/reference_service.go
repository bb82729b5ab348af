// Package reference 提供文件引用注册表服务
// 引用以(校验和, 存储位置)为唯一标识，记录内容归属的逻辑属主集合。
// 属主集合变空即触发物理删除调度，同一引用上的并发属主变更按键串行化
package reference

import (
	"fmt"
	"strings"
	"time"

	"github.com/tiervault/tiervault/internal/database"
	"github.com/tiervault/tiervault/internal/events"
	"github.com/tiervault/tiervault/internal/flow"
	"github.com/tiervault/tiervault/internal/keymutex"
	"github.com/tiervault/tiervault/internal/logger"
	"github.com/tiervault/tiervault/internal/service/group"
	"github.com/tiervault/tiervault/internal/service/ledger"
	"github.com/tiervault/tiervault/internal/storage"
	"gorm.io/gorm"
)

// ReferenceService 文件引用注册表服务接口
type ReferenceService interface {
	// AddOwner 处理单文件存储请求
	// 引用已存在时幂等添加属主并立即通知成功；目标引用正在物理删除时
	// 创建DELAYED存储请求排队；引用不存在时创建TODO存储请求等待调度。
	// 同一(校验和, 存储位置)的重复提交折叠进已有请求，不产生第二条活跃记录
	AddOwner(dto flow.FileStorageRequestDTO, groupID string) error

	// RemoveOwner 处理单文件删除请求
	// 移除属主后集合变空时：已配置的存储后端创建TODO删除请求调度物理删除，
	// 未配置的后端直接移除引用记录。属主移除操作在重复投递下幂等
	RemoveOwner(dto flow.FileDeletionRequestDTO, groupID string) error

	// RequestCopy 处理单文件复制请求
	// 校验源引用存在后创建TODO复制请求；目标引用已存在时仅添加属主并立即通知成功
	RequestCopy(dto flow.FileCopyRequestDTO, groupID string) error

	// Get 查询单条文件引用
	Get(checksum, storageName string) (*database.FileReference, error)

	// FindByChecksums 批量查询校验和对应的全部引用
	FindByChecksums(checksums []string) ([]database.FileReference, error)

	// List 分页查询文件引用
	List(storageName, owner string, page, pageSize int) ([]database.FileReference, int64, error)

	// HandleStorageSuccess 存储作业成功回调
	HandleStorageSuccess(req *database.StorageRequest, location string)

	// HandleStorageError 存储作业失败回调
	HandleStorageError(req *database.StorageRequest, cause string)

	// HandleDeletionSuccess 删除作业成功回调
	HandleDeletionSuccess(req *database.DeletionRequest)

	// HandleDeletionError 删除作业失败回调
	// ForceDelete请求按逻辑成功处理，差异仅记录日志
	HandleDeletionError(req *database.DeletionRequest, cause string)

	// HandleCopySuccess 复制作业成功回调
	HandleCopySuccess(req *database.CopyRequest, location string)

	// HandleCopyError 复制作业失败回调
	HandleCopyError(req *database.CopyRequest, cause string)
}

// referenceService 文件引用注册表服务实现
type referenceService struct {
	db       *gorm.DB             // 数据库连接
	registry *storage.Registry    // 存储驱动注册表
	ledger   ledger.LedgerService // 请求台账服务
	groups   group.GroupService   // 业务分组服务
	notifier events.Notifier      // 事件分发器
	locks    *keymutex.KeyMutex   // 按(校验和, 存储位置)的互斥锁
}

// NewReferenceService 创建文件引用注册表服务实例
func NewReferenceService(
	db *gorm.DB,
	registry *storage.Registry,
	ledgerService ledger.LedgerService,
	groupService group.GroupService,
	notifier events.Notifier,
) ReferenceService {
	return &referenceService{
		db:       db,
		registry: registry,
		ledger:   ledgerService,
		groups:   groupService,
		notifier: notifier,
		locks:    keymutex.New(),
	}
}

// referenceKey 构造按引用标识的锁键
func referenceKey(checksum, storageName string) string {
	return checksum + "@" + storageName
}

// AddOwner 处理单文件存储请求
func (s *referenceService) AddOwner(dto flow.FileStorageRequestDTO, groupID string) error {
	key := referenceKey(dto.Checksum, dto.Storage)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	var ref database.FileReference
	err := s.db.Where("checksum = ? AND storage = ?", dto.Checksum, dto.Storage).First(&ref).Error
	if err == nil {
		return s.addOwnerToExisting(&ref, dto, groupID)
	}
	if err != gorm.ErrRecordNotFound {
		return err
	}

	// 引用不存在：先校验目标存储可用
	if !s.registry.IsUsable(dto.Storage) {
		cause := fmt.Sprintf("storage unavailable: %s", dto.Storage)
		if err := s.upsertStorageRequest(dto, groupID, database.StatusError, cause); err != nil {
			return err
		}
		s.notifyFile(events.FileStoreError, dto.Checksum, dto.Storage, dto.Owner, groupID, "", cause)
		return s.groups.ResolveMember(groupID, dto.Checksum, dto.Storage, true, cause)
	}

	// 源即目标：内容已在目标存储中，直接记录引用
	if originStorage, originPath, ok := parseStorageOrigin(dto.OriginURL); ok && originStorage == dto.Storage {
		ref = database.FileReference{
			Checksum:  dto.Checksum,
			Storage:   dto.Storage,
			FileName:  dto.FileName,
			Algorithm: dto.Algorithm,
			FileSize:  dto.FileSize,
			MimeType:  dto.MimeType,
			Owners:    []string{dto.Owner},
			Location:  originPath,
		}
		if err := s.db.Create(&ref).Error; err != nil {
			return err
		}
		logger.Infof("[文件引用] 源即目标，直接记录引用: %s@%s", dto.Checksum, dto.Storage)
		s.notifyFile(events.FileStored, dto.Checksum, dto.Storage, dto.Owner, groupID, originPath, "")
		return s.groups.ResolveMember(groupID, dto.Checksum, dto.Storage, false, "")
	}

	return s.upsertStorageRequest(dto, groupID, database.StatusTodo, "")
}

// addOwnerToExisting 向已存在的引用添加属主
// 调用方必须持有引用锁
func (s *referenceService) addOwnerToExisting(ref *database.FileReference, dto flow.FileStorageRequestDTO, groupID string) error {
	var deletion database.DeletionRequest
	err := s.db.Where("checksum = ? AND storage = ?", dto.Checksum, dto.Storage).First(&deletion).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return err
	}
	if err == nil {
		if deletion.Status == database.StatusPending {
			// 物理删除正在执行，新存储请求排队等待删除完成
			logger.Infof("[文件引用] 引用 %s@%s 正在删除中，存储请求转为DELAYED", dto.Checksum, dto.Storage)
			return s.upsertStorageRequest(dto, groupID, database.StatusDelayed, "")
		}
		// 删除尚未开始，直接取消并保留引用
		if err := s.db.Delete(&deletion).Error; err != nil {
			return err
		}
		logger.Infof("[文件引用] 取消未开始的删除请求，保留引用: %s@%s", dto.Checksum, dto.Storage)
		// 被取消的删除按成功解决关联分组：属主解除已生效，引用因再次被引用而保留
		if err := s.groups.ResolveAllFor(dto.Checksum, dto.Storage, database.GroupTypeDeletion, false, ""); err != nil {
			return err
		}
	}

	if ref.AddOwner(dto.Owner) {
		if err := s.db.Model(ref).Update("owners", ref.Owners).Error; err != nil {
			return err
		}
	}

	s.notifyFile(events.FileStored, dto.Checksum, dto.Storage, dto.Owner, groupID, ref.Location, "")
	return s.groups.ResolveMember(groupID, dto.Checksum, dto.Storage, false, "")
}

// upsertStorageRequest 创建或折叠存储请求
// 同一(校验和, 存储位置)只保留一条活跃记录：
// PENDING请求仅合并属主和元数据，不改变状态；ERROR请求合并后重置为目标状态
func (s *referenceService) upsertStorageRequest(dto flow.FileStorageRequestDTO, groupID, desiredStatus, cause string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing database.StorageRequest
		err := tx.Where("checksum = ? AND storage = ?", dto.Checksum, dto.Storage).First(&existing).Error
		if err == gorm.ErrRecordNotFound {
			request := database.StorageRequest{
				RequestFields: database.RequestFields{
					Checksum:   dto.Checksum,
					Storage:    dto.Storage,
					Status:     desiredStatus,
					ErrorCause: cause,
					GroupID:    groupID,
				},
				FileName:     dto.FileName,
				Algorithm:    dto.Algorithm,
				MimeType:     dto.MimeType,
				FileSize:     dto.FileSize,
				OriginURL:    dto.OriginURL,
				SubDirectory: dto.SubDirectory,
				Owners:       []string{dto.Owner},
			}
			return tx.Create(&request).Error
		}
		if err != nil {
			return err
		}

		updates := map[string]interface{}{}
		if !requestHasOwner(existing.Owners, dto.Owner) {
			updates["owners"] = append(existing.Owners, dto.Owner)
		}
		switch existing.Status {
		case database.StatusPending:
			// 作业已在途，不可抢占，仅合并属主
		case database.StatusError:
			updates["status"] = desiredStatus
			updates["error_cause"] = cause
			updates["job_reference"] = ""
		case database.StatusTodo:
			if desiredStatus == database.StatusDelayed {
				updates["status"] = database.StatusDelayed
			}
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&existing).Updates(updates).Error
	})
}

// requestHasOwner 判断存储请求属主集合中是否包含指定属主
func requestHasOwner(owners []string, owner string) bool {
	for _, o := range owners {
		if o == owner {
			return true
		}
	}
	return false
}

// RemoveOwner 处理单文件删除请求
func (s *referenceService) RemoveOwner(dto flow.FileDeletionRequestDTO, groupID string) error {
	key := referenceKey(dto.Checksum, dto.Storage)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	var ref database.FileReference
	err := s.db.Where("checksum = ? AND storage = ?", dto.Checksum, dto.Storage).First(&ref).Error
	if err == gorm.ErrRecordNotFound {
		cause := fmt.Sprintf("file reference not found: %s@%s", dto.Checksum, dto.Storage)
		s.notifyFile(events.FileDeletionError, dto.Checksum, dto.Storage, dto.Owner, groupID, "", cause)
		return s.groups.ResolveMember(groupID, dto.Checksum, dto.Storage, true, cause)
	}
	if err != nil {
		return err
	}

	ref.RemoveOwner(dto.Owner)
	if len(ref.Owners) > 0 {
		if err := s.db.Model(&ref).Update("owners", ref.Owners).Error; err != nil {
			return err
		}
		s.notifyFile(events.FileDeletedForOwner, dto.Checksum, dto.Storage, dto.Owner, groupID, ref.Location, "")
		return s.groups.ResolveMember(groupID, dto.Checksum, dto.Storage, false, "")
	}

	// 属主集合已空，引用必须被调度物理删除或立即移除
	if !s.registry.IsManaged(dto.Storage) {
		if err := s.db.Delete(&ref).Error; err != nil {
			return err
		}
		logger.Infof("[文件引用] 未配置的存储后端，直接移除引用: %s@%s", dto.Checksum, dto.Storage)
		s.notifyFile(events.FileDeletedForOwner, dto.Checksum, dto.Storage, dto.Owner, groupID, "", "")
		s.notifyFile(events.FileFullyDeleted, dto.Checksum, dto.Storage, dto.Owner, groupID, "", "")
		return s.groups.ResolveMember(groupID, dto.Checksum, dto.Storage, false, "")
	}

	if err := s.db.Model(&ref).Update("owners", ref.Owners).Error; err != nil {
		return err
	}
	if err := s.upsertDeletionRequest(&ref, dto.ForceDelete, groupID); err != nil {
		return err
	}
	s.notifyFile(events.FileDeletedForOwner, dto.Checksum, dto.Storage, dto.Owner, groupID, ref.Location, "")
	// 分组成员在物理删除完成后解决
	return nil
}

// upsertDeletionRequest 创建或折叠删除请求
// 同一(校验和, 存储位置)只保留一条活跃记录
func (s *referenceService) upsertDeletionRequest(ref *database.FileReference, forceDelete bool, groupID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing database.DeletionRequest
		err := tx.Where("checksum = ? AND storage = ?", ref.Checksum, ref.Storage).First(&existing).Error
		if err == gorm.ErrRecordNotFound {
			request := database.DeletionRequest{
				RequestFields: database.RequestFields{
					Checksum: ref.Checksum,
					Storage:  ref.Storage,
					Status:   database.StatusTodo,
					GroupID:  groupID,
				},
				Location:    ref.Location,
				ForceDelete: forceDelete,
			}
			return tx.Create(&request).Error
		}
		if err != nil {
			return err
		}

		updates := map[string]interface{}{}
		if forceDelete && !existing.ForceDelete {
			updates["force_delete"] = true
		}
		if existing.Status == database.StatusError {
			updates["status"] = database.StatusTodo
			updates["error_cause"] = ""
			updates["job_reference"] = ""
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&existing).Updates(updates).Error
	})
}

// RequestCopy 处理单文件复制请求
func (s *referenceService) RequestCopy(dto flow.FileCopyRequestDTO, groupID string) error {
	key := referenceKey(dto.Checksum, dto.DestinationStorage)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	var source database.FileReference
	err := s.db.Where("checksum = ? AND storage = ?", dto.Checksum, dto.SourceStorage).First(&source).Error
	if err == gorm.ErrRecordNotFound {
		cause := fmt.Sprintf("source reference not found: %s@%s", dto.Checksum, dto.SourceStorage)
		s.notifyFile(events.FileStoreError, dto.Checksum, dto.DestinationStorage, dto.Owner, groupID, "", cause)
		return s.groups.ResolveMember(groupID, dto.Checksum, dto.DestinationStorage, true, cause)
	}
	if err != nil {
		return err
	}

	if !s.registry.IsUsable(dto.DestinationStorage) {
		cause := fmt.Sprintf("storage unavailable: %s", dto.DestinationStorage)
		s.notifyFile(events.FileStoreError, dto.Checksum, dto.DestinationStorage, dto.Owner, groupID, "", cause)
		return s.groups.ResolveMember(groupID, dto.Checksum, dto.DestinationStorage, true, cause)
	}

	// 目标引用已存在时仅添加属主
	var destination database.FileReference
	err = s.db.Where("checksum = ? AND storage = ?", dto.Checksum, dto.DestinationStorage).First(&destination).Error
	if err == nil {
		if destination.AddOwner(dto.Owner) {
			if err := s.db.Model(&destination).Update("owners", destination.Owners).Error; err != nil {
				return err
			}
		}
		s.notifyFile(events.FileStored, dto.Checksum, dto.DestinationStorage, dto.Owner, groupID, destination.Location, "")
		return s.groups.ResolveMember(groupID, dto.Checksum, dto.DestinationStorage, false, "")
	}
	if err != gorm.ErrRecordNotFound {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing database.CopyRequest
		err := tx.Where("checksum = ? AND storage = ?", dto.Checksum, dto.DestinationStorage).First(&existing).Error
		if err == gorm.ErrRecordNotFound {
			request := database.CopyRequest{
				RequestFields: database.RequestFields{
					Checksum: dto.Checksum,
					Storage:  dto.DestinationStorage,
					Status:   database.StatusTodo,
					GroupID:  groupID,
				},
				SourceStorage: dto.SourceStorage,
				FileName:      source.FileName,
				FileSize:      source.FileSize,
				MimeType:      source.MimeType,
				Owner:         dto.Owner,
				SourceURL:     source.Location,
			}
			return tx.Create(&request).Error
		}
		if err != nil {
			return err
		}
		if existing.Status == database.StatusError {
			return tx.Model(&existing).Updates(map[string]interface{}{
				"status":        database.StatusTodo,
				"error_cause":   "",
				"job_reference": "",
			}).Error
		}
		return nil
	})
}

// Get 查询单条文件引用
func (s *referenceService) Get(checksum, storageName string) (*database.FileReference, error) {
	var ref database.FileReference
	if err := s.db.Where("checksum = ? AND storage = ?", checksum, storageName).First(&ref).Error; err != nil {
		return nil, err
	}
	return &ref, nil
}

// FindByChecksums 批量查询校验和对应的全部引用
func (s *referenceService) FindByChecksums(checksums []string) ([]database.FileReference, error) {
	if len(checksums) == 0 {
		return nil, nil
	}
	var refs []database.FileReference
	if err := s.db.Where("checksum IN ?", checksums).Find(&refs).Error; err != nil {
		return nil, err
	}
	return refs, nil
}

// List 分页查询文件引用
func (s *referenceService) List(storageName, owner string, page, pageSize int) ([]database.FileReference, int64, error) {
	var refs []database.FileReference
	var total int64

	query := s.db.Model(&database.FileReference{})
	if storageName != "" {
		query = query.Where("storage = ?", storageName)
	}
	if owner != "" {
		query = query.Where("owners LIKE ?", "%\""+owner+"\"%")
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).Order("id").Find(&refs).Error; err != nil {
		return nil, 0, err
	}
	return refs, total, nil
}

// HandleStorageSuccess 存储作业成功回调
// 创建或合并文件引用，删除台账行，解决所有折叠在该标识上的分组成员
func (s *referenceService) HandleStorageSuccess(req *database.StorageRequest, location string) {
	key := referenceKey(req.Checksum, req.Storage)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	var ref database.FileReference
	err := s.db.Where("checksum = ? AND storage = ?", req.Checksum, req.Storage).First(&ref).Error
	if err == gorm.ErrRecordNotFound {
		ref = database.FileReference{
			Checksum:  req.Checksum,
			Storage:   req.Storage,
			FileName:  req.FileName,
			Algorithm: req.Algorithm,
			FileSize:  req.FileSize,
			MimeType:  req.MimeType,
			Owners:    req.Owners,
			Location:  location,
		}
		err = s.db.Create(&ref).Error
	} else if err == nil {
		changed := false
		for _, owner := range req.Owners {
			if ref.AddOwner(owner) {
				changed = true
			}
		}
		if changed || ref.Location != location {
			ref.Location = location
			err = s.db.Model(&ref).Updates(map[string]interface{}{
				"owners":   ref.Owners,
				"location": location,
			}).Error
		}
	}
	if err != nil {
		logger.Errorf("[文件引用] 存储完成后写入引用失败: %s@%s: %v", req.Checksum, req.Storage, err)
		s.HandleStorageError(req, fmt.Sprintf("failed to persist reference: %v", err))
		return
	}

	if err := s.ledger.Complete(ledger.KindStorage, req.ID); err != nil {
		logger.Errorf("[文件引用] 删除已完成的存储请求失败: %d: %v", req.ID, err)
	}

	logger.Infof("[文件引用] 文件已存储: %s@%s -> %s", req.Checksum, req.Storage, location)
	s.notifyFile(events.FileStored, req.Checksum, req.Storage, "", req.GroupID, location, "")
	if err := s.groups.ResolveAllFor(req.Checksum, req.Storage, database.GroupTypeStorage, false, ""); err != nil {
		logger.Errorf("[文件引用] 解决分组成员失败: %s@%s: %v", req.Checksum, req.Storage, err)
	}
}

// HandleStorageError 存储作业失败回调
func (s *referenceService) HandleStorageError(req *database.StorageRequest, cause string) {
	if err := s.ledger.MarkError(ledger.KindStorage, req.ID, cause); err != nil {
		logger.Errorf("[文件引用] 标记存储请求失败状态出错: %d: %v", req.ID, err)
	}
	s.notifyFile(events.FileStoreError, req.Checksum, req.Storage, "", req.GroupID, "", cause)
	if err := s.groups.ResolveAllFor(req.Checksum, req.Storage, database.GroupTypeStorage, true, cause); err != nil {
		logger.Errorf("[文件引用] 解决分组成员失败: %s@%s: %v", req.Checksum, req.Storage, err)
	}
}

// HandleDeletionSuccess 删除作业成功回调
// 移除引用记录，放行被该删除阻塞的DELAYED存储请求
func (s *referenceService) HandleDeletionSuccess(req *database.DeletionRequest) {
	s.finishDeletion(req, "", false)
}

// HandleDeletionError 删除作业失败回调
func (s *referenceService) HandleDeletionError(req *database.DeletionRequest, cause string) {
	if req.ForceDelete {
		// 强制删除：物理删除失败仍按逻辑成功处理，差异仅记录日志
		logger.Warnf("[文件引用] 强制删除 %s@%s 物理操作失败但按成功处理: %s", req.Checksum, req.Storage, cause)
		s.finishDeletion(req, "", true)
		return
	}
	s.finishDeletion(req, cause, false)
}

// finishDeletion 删除作业终态处理
// cause为空或forced为真按成功路径：移除引用并解决成员为成功
func (s *referenceService) finishDeletion(req *database.DeletionRequest, cause string, forced bool) {
	key := referenceKey(req.Checksum, req.Storage)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	succeeded := cause == "" || forced
	if succeeded {
		if err := s.db.Where("checksum = ? AND storage = ?", req.Checksum, req.Storage).
			Delete(&database.FileReference{}).Error; err != nil {
			logger.Errorf("[文件引用] 移除引用记录失败: %s@%s: %v", req.Checksum, req.Storage, err)
		}
		if err := s.ledger.Complete(ledger.KindDeletion, req.ID); err != nil {
			logger.Errorf("[文件引用] 删除已完成的删除请求失败: %d: %v", req.ID, err)
		}
		logger.Infof("[文件引用] 引用已完全删除: %s@%s", req.Checksum, req.Storage)
		s.notifyFile(events.FileFullyDeleted, req.Checksum, req.Storage, "", req.GroupID, "", "")
		if err := s.groups.ResolveAllFor(req.Checksum, req.Storage, database.GroupTypeDeletion, false, ""); err != nil {
			logger.Errorf("[文件引用] 解决分组成员失败: %s@%s: %v", req.Checksum, req.Storage, err)
		}
	} else {
		if err := s.ledger.MarkError(ledger.KindDeletion, req.ID, cause); err != nil {
			logger.Errorf("[文件引用] 标记删除请求失败状态出错: %d: %v", req.ID, err)
		}
		s.notifyFile(events.FileDeletionError, req.Checksum, req.Storage, "", req.GroupID, "", cause)
		if err := s.groups.ResolveAllFor(req.Checksum, req.Storage, database.GroupTypeDeletion, true, cause); err != nil {
			logger.Errorf("[文件引用] 解决分组成员失败: %s@%s: %v", req.Checksum, req.Storage, err)
		}
	}

	// 删除到达终态后放行排队的存储请求
	if _, err := s.ledger.ReleaseDelayed(req.Checksum, req.Storage); err != nil {
		logger.Errorf("[文件引用] 放行DELAYED存储请求失败: %s@%s: %v", req.Checksum, req.Storage, err)
	}
}

// HandleCopySuccess 复制作业成功回调
func (s *referenceService) HandleCopySuccess(req *database.CopyRequest, location string) {
	key := referenceKey(req.Checksum, req.Storage)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	var ref database.FileReference
	err := s.db.Where("checksum = ? AND storage = ?", req.Checksum, req.Storage).First(&ref).Error
	if err == gorm.ErrRecordNotFound {
		ref = database.FileReference{
			Checksum:  req.Checksum,
			Storage:   req.Storage,
			FileName:  req.FileName,
			FileSize:  req.FileSize,
			MimeType:  req.MimeType,
			Owners:    []string{req.Owner},
			Location:  location,
		}
		err = s.db.Create(&ref).Error
	} else if err == nil {
		if ref.AddOwner(req.Owner) {
			err = s.db.Model(&ref).Update("owners", ref.Owners).Error
		}
	}
	if err != nil {
		logger.Errorf("[文件引用] 复制完成后写入引用失败: %s@%s: %v", req.Checksum, req.Storage, err)
		s.HandleCopyError(req, fmt.Sprintf("failed to persist reference: %v", err))
		return
	}

	if err := s.ledger.Complete(ledger.KindCopy, req.ID); err != nil {
		logger.Errorf("[文件引用] 删除已完成的复制请求失败: %d: %v", req.ID, err)
	}

	logger.Infof("[文件引用] 文件已复制: %s: %s -> %s", req.Checksum, req.SourceStorage, req.Storage)
	s.notifyFile(events.FileStored, req.Checksum, req.Storage, req.Owner, req.GroupID, location, "")
	if err := s.groups.ResolveAllFor(req.Checksum, req.Storage, database.GroupTypeCopy, false, ""); err != nil {
		logger.Errorf("[文件引用] 解决分组成员失败: %s@%s: %v", req.Checksum, req.Storage, err)
	}
}

// HandleCopyError 复制作业失败回调
func (s *referenceService) HandleCopyError(req *database.CopyRequest, cause string) {
	if err := s.ledger.MarkError(ledger.KindCopy, req.ID, cause); err != nil {
		logger.Errorf("[文件引用] 标记复制请求失败状态出错: %d: %v", req.ID, err)
	}
	s.notifyFile(events.FileStoreError, req.Checksum, req.Storage, req.Owner, req.GroupID, "", cause)
	if err := s.groups.ResolveAllFor(req.Checksum, req.Storage, database.GroupTypeCopy, true, cause); err != nil {
		logger.Errorf("[文件引用] 解决分组成员失败: %s@%s: %v", req.Checksum, req.Storage, err)
	}
}

// notifyFile 发送单文件事件
func (s *referenceService) notifyFile(eventType events.FileEventType, checksum, storageName, owner, groupID, location, cause string) {
	s.notifier.NotifyFile(events.FileReferenceEvent{
		Type:       eventType,
		Checksum:   checksum,
		Storage:    storageName,
		Owner:      owner,
		GroupID:    groupID,
		Location:   location,
		ErrorCause: cause,
		OccurredAt: time.Now(),
	})
}

// parseStorageOrigin 解析storage://<存储名>/<路径>形式的源URL
// 非该形式的URL返回ok为假
func parseStorageOrigin(originURL string) (storageName, path string, ok bool) {
	const prefix = "storage://"
	if !strings.HasPrefix(originURL, prefix) {
		return "", "", false
	}
	rest := originURL[len(prefix):]
	idx := strings.Index(rest, "/")
	if idx <= 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}
