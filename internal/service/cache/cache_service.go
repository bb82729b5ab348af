// Package cache 提供近线文件恢复缓存管理
// 缓存容量有界：准入核算以 可用字节 = 容量 - 已就绪字节 - 在途字节 为准，
// 装不下的恢复请求保持TODO排队而不是失败。周期性淘汰先清理过期文件，
// 超过高水位后按最久未访问顺序淘汰至低水位
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tiervault/tiervault/config"
	"github.com/tiervault/tiervault/internal/database"
	"github.com/tiervault/tiervault/internal/events"
	"github.com/tiervault/tiervault/internal/logger"
	"github.com/tiervault/tiervault/internal/service/group"
	"github.com/tiervault/tiervault/internal/service/ledger"
	"gorm.io/gorm"
)

// CacheService 缓存管理服务接口
type CacheService interface {
	// EnsureAvailable 让一组近线文件变为可读取
	// 已在缓存中的文件立即通知可用并刷新访问时间；其余文件创建或复用
	// 缓存恢复请求（TODO，ERROR状态的复位为TODO）等待调度
	EnsureAvailable(refs []database.FileReference, expiration time.Time, groupID string) error

	// AdmitForScheduling 容量准入：从TODO恢复请求中按固定顺序挑选能放进
	// 剩余容量的子集。未被准入的请求保持TODO，等待下一轮调度。
	// 准入核算全程持有准入锁，两次并发准入不会重复计算同一段剩余容量
	AdmitForScheduling() ([]database.CacheRequest, error)

	// TargetPath 返回恢复请求对应的缓存文件落盘路径
	TargetPath(req *database.CacheRequest) string

	// HandleRestoreSuccess 恢复作业成功回调
	// 缓存文件转为AVAILABLE，删除台账行，解决分组成员并通知可用
	HandleRestoreSuccess(req *database.CacheRequest, location string)

	// HandleRestoreError 恢复作业失败回调
	HandleRestoreError(req *database.CacheRequest, cause string)

	// Sweep 周期性淘汰扫描
	// 同一时刻只允许一个扫描在执行，并发触发直接跳过
	Sweep() error

	// Reconcile 启动对账：清理缓存记录与磁盘文件之间的不一致
	Reconcile() error

	// Usage 返回当前AVAILABLE缓存文件的总字节数
	Usage() (int64, error)

	// List 分页查询缓存文件
	List(state string, page, pageSize int) ([]database.CacheFile, int64, error)
}

// cacheService 缓存管理服务实现
type cacheService struct {
	db       *gorm.DB             // 数据库连接
	cfg      *config.CacheConfig  // 缓存配置
	ledger   ledger.LedgerService // 请求台账服务
	groups   group.GroupService   // 业务分组服务
	notifier events.Notifier      // 事件分发器
	admitMu  sync.Mutex           // 准入核算互斥锁
	sweepMu  sync.Mutex           // 淘汰扫描互斥锁，TryLock跳过并发触发
}

// NewCacheService 创建缓存管理服务实例
func NewCacheService(
	db *gorm.DB,
	cfg *config.CacheConfig,
	ledgerService ledger.LedgerService,
	groupService group.GroupService,
	notifier events.Notifier,
) CacheService {
	return &cacheService{
		db:       db,
		cfg:      cfg,
		ledger:   ledgerService,
		groups:   groupService,
		notifier: notifier,
	}
}

// EnsureAvailable 让一组近线文件变为可读取
func (s *cacheService) EnsureAvailable(refs []database.FileReference, expiration time.Time, groupID string) error {
	if expiration.IsZero() {
		expiration = time.Now().Add(time.Duration(s.cfg.DefaultExpiryHr) * time.Hour)
	}

	for _, ref := range refs {
		var cached database.CacheFile
		err := s.db.Where("checksum = ? AND state = ?", ref.Checksum, database.CacheStateAvailable).
			First(&cached).Error
		if err == nil {
			// 已在缓存中：刷新访问时间，必要时延长过期时间
			updates := map[string]interface{}{"last_access_at": time.Now()}
			if expiration.After(cached.ExpirationAt) {
				updates["expiration_at"] = expiration
			}
			if err := s.db.Model(&cached).Updates(updates).Error; err != nil {
				return err
			}
			s.notifier.NotifyFile(events.FileReferenceEvent{
				Type:       events.FileAvailable,
				Checksum:   ref.Checksum,
				Storage:    ref.Storage,
				GroupID:    groupID,
				Location:   cached.Location,
				OccurredAt: time.Now(),
			})
			if err := s.groups.ResolveMember(groupID, ref.Checksum, "", false, ""); err != nil {
				return err
			}
			continue
		}
		if err != gorm.ErrRecordNotFound {
			return err
		}

		if err := s.upsertCacheRequest(&ref, expiration, groupID); err != nil {
			return err
		}
	}
	return nil
}

// upsertCacheRequest 创建或复用缓存恢复请求
// 同一校验和只保留一条活跃记录，ERROR状态的请求复位为TODO
func (s *cacheService) upsertCacheRequest(ref *database.FileReference, expiration time.Time, groupID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing database.CacheRequest
		err := tx.Where("checksum = ?", ref.Checksum).First(&existing).Error
		if err == gorm.ErrRecordNotFound {
			request := database.CacheRequest{
				RequestFields: database.RequestFields{
					Checksum: ref.Checksum,
					Storage:  ref.Storage,
					Status:   database.StatusTodo,
					GroupID:  groupID,
				},
				FileName:     ref.FileName,
				FileSize:     ref.FileSize,
				Location:     ref.Location,
				ExpirationAt: expiration,
			}
			if err := tx.Create(&request).Error; err != nil {
				return err
			}
			// QUEUED记录占位，无磁盘字节，不计入容量核算
			var queued database.CacheFile
			err := tx.Where("checksum = ?", ref.Checksum).First(&queued).Error
			if err == gorm.ErrRecordNotFound {
				return tx.Create(&database.CacheFile{
					Checksum:     ref.Checksum,
					FileSize:     ref.FileSize,
					State:        database.CacheStateQueued,
					ExpirationAt: expiration,
					LastAccessAt: time.Now(),
				}).Error
			}
			return err
		}
		if err != nil {
			return err
		}

		updates := map[string]interface{}{}
		if existing.Status == database.StatusError {
			updates["status"] = database.StatusTodo
			updates["error_cause"] = ""
			updates["job_reference"] = ""
		}
		if expiration.After(existing.ExpirationAt) {
			updates["expiration_at"] = expiration
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&existing).Updates(updates).Error
	})
}

// AdmitForScheduling 容量准入
func (s *cacheService) AdmitForScheduling() ([]database.CacheRequest, error) {
	s.admitMu.Lock()
	defer s.admitMu.Unlock()

	available, err := s.Usage()
	if err != nil {
		return nil, err
	}

	var pendingBytes int64
	err = s.db.Model(&database.CacheRequest{}).
		Where("status = ?", database.StatusPending).
		Select("COALESCE(SUM(file_size), 0)").Scan(&pendingBytes).Error
	if err != nil {
		return nil, err
	}

	freeBytes := s.cfg.Capacity - available - pendingBytes
	if freeBytes <= 0 {
		return nil, nil
	}

	var candidates []database.CacheRequest
	err = s.db.Where("status = ?", database.StatusTodo).Order("id").Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	var admitted []database.CacheRequest
	for _, candidate := range candidates {
		if candidate.FileSize > freeBytes {
			continue
		}
		freeBytes -= candidate.FileSize
		admitted = append(admitted, candidate)
	}

	if len(admitted) > 0 {
		logger.Infof("[缓存管理] 容量准入: 候选=%d 准入=%d 剩余可用=%d字节", len(candidates), len(admitted), freeBytes)
	}
	return admitted, nil
}

// TargetPath 返回恢复请求对应的缓存文件落盘路径
func (s *cacheService) TargetPath(req *database.CacheRequest) string {
	return filepath.Join(s.cfg.Directory, fmt.Sprintf("%s_%s", req.Checksum, req.FileName))
}

// HandleRestoreSuccess 恢复作业成功回调
func (s *cacheService) HandleRestoreSuccess(req *database.CacheRequest, location string) {
	now := time.Now()
	cached := database.CacheFile{
		Checksum:     req.Checksum,
		Location:     location,
		FileSize:     req.FileSize,
		State:        database.CacheStateAvailable,
		ExpirationAt: req.ExpirationAt,
		LastAccessAt: now,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var existing database.CacheFile
		err := tx.Where("checksum = ?", req.Checksum).First(&existing).Error
		if err == gorm.ErrRecordNotFound {
			return tx.Create(&cached).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&existing).Updates(map[string]interface{}{
			"location":       location,
			"file_size":      req.FileSize,
			"state":          database.CacheStateAvailable,
			"expiration_at":  req.ExpirationAt,
			"last_access_at": now,
		}).Error
	})
	if err != nil {
		logger.Errorf("[缓存管理] 恢复完成后写入缓存记录失败: %s: %v", req.Checksum, err)
		s.HandleRestoreError(req, fmt.Sprintf("failed to persist cache file: %v", err))
		return
	}

	if err := s.ledger.Complete(ledger.KindCache, req.ID); err != nil {
		logger.Errorf("[缓存管理] 删除已完成的恢复请求失败: %d: %v", req.ID, err)
	}

	logger.Infof("[缓存管理] 文件已恢复到缓存: %s -> %s", req.Checksum, location)
	s.notifier.NotifyFile(events.FileReferenceEvent{
		Type:       events.FileAvailable,
		Checksum:   req.Checksum,
		Storage:    req.Storage,
		GroupID:    req.GroupID,
		Location:   location,
		OccurredAt: now,
	})
	if err := s.groups.ResolveAllFor(req.Checksum, "", database.GroupTypeAvailability, false, ""); err != nil {
		logger.Errorf("[缓存管理] 解决分组成员失败: %s: %v", req.Checksum, err)
	}
}

// HandleRestoreError 恢复作业失败回调
// 失败不留下缓存记录，QUEUED占位一并清理
func (s *cacheService) HandleRestoreError(req *database.CacheRequest, cause string) {
	if err := s.ledger.MarkError(ledger.KindCache, req.ID, cause); err != nil {
		logger.Errorf("[缓存管理] 标记恢复请求失败状态出错: %d: %v", req.ID, err)
	}
	if err := s.db.Where("checksum = ? AND state = ?", req.Checksum, database.CacheStateQueued).
		Delete(&database.CacheFile{}).Error; err != nil {
		logger.Errorf("[缓存管理] 清理QUEUED缓存记录失败: %s: %v", req.Checksum, err)
	}
	s.notifier.NotifyFile(events.FileReferenceEvent{
		Type:       events.FileAvailabilityError,
		Checksum:   req.Checksum,
		Storage:    req.Storage,
		GroupID:    req.GroupID,
		ErrorCause: cause,
		OccurredAt: time.Now(),
	})
	if err := s.groups.ResolveAllFor(req.Checksum, "", database.GroupTypeAvailability, true, cause); err != nil {
		logger.Errorf("[缓存管理] 解决分组成员失败: %s: %v", req.Checksum, err)
	}
}

// Sweep 周期性淘汰扫描
func (s *cacheService) Sweep() error {
	if !s.sweepMu.TryLock() {
		logger.Debug("[缓存管理] 上一轮淘汰扫描未结束，跳过本次触发")
		return nil
	}
	defer s.sweepMu.Unlock()

	// 第一阶段：清理过期文件
	var expired []database.CacheFile
	err := s.db.Where("expiration_at < ?", time.Now()).Find(&expired).Error
	if err != nil {
		return err
	}
	for _, cached := range expired {
		if err := s.evict(&cached, "expired"); err != nil {
			return err
		}
	}

	// 第二阶段：超过高水位时按最久未访问顺序淘汰至低水位
	usage, err := s.Usage()
	if err != nil {
		return err
	}
	if usage <= s.cfg.HighWatermark {
		return nil
	}

	var victims []database.CacheFile
	err = s.db.Where("state = ?", database.CacheStateAvailable).
		Order("last_access_at").Find(&victims).Error
	if err != nil {
		return err
	}

	for _, cached := range victims {
		if usage <= s.cfg.LowWatermark {
			break
		}
		if err := s.evict(&cached, "lru"); err != nil {
			return err
		}
		usage -= cached.FileSize
	}
	return nil
}

// evict 淘汰单个缓存文件
// 数据库记录必须移除，磁盘文件尽力删除
func (s *cacheService) evict(cached *database.CacheFile, reason string) error {
	if err := s.db.Delete(cached).Error; err != nil {
		return err
	}
	if cached.Location != "" {
		if err := os.Remove(cached.Location); err != nil && !os.IsNotExist(err) {
			logger.Warnf("[缓存管理] 删除缓存文件失败: %s: %v", cached.Location, err)
		}
	}
	logger.Infof("[缓存管理] 淘汰缓存文件: %s (原因: %s, 大小: %d字节)", cached.Checksum, reason, cached.FileSize)
	return nil
}

// Reconcile 启动对账
// 磁盘文件缺失的AVAILABLE记录属于陈旧数据，直接清理
func (s *cacheService) Reconcile() error {
	var files []database.CacheFile
	err := s.db.Where("state = ?", database.CacheStateAvailable).Find(&files).Error
	if err != nil {
		return err
	}

	for _, cached := range files {
		if _, err := os.Stat(cached.Location); os.IsNotExist(err) {
			logger.Warnf("[缓存管理] 缓存记录缺少磁盘文件，清理陈旧记录: %s (%s)", cached.Checksum, cached.Location)
			if err := s.db.Delete(&cached).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

// Usage 返回当前AVAILABLE缓存文件的总字节数
func (s *cacheService) Usage() (int64, error) {
	var usage int64
	err := s.db.Model(&database.CacheFile{}).
		Where("state = ?", database.CacheStateAvailable).
		Select("COALESCE(SUM(file_size), 0)").Scan(&usage).Error
	return usage, err
}

// List 分页查询缓存文件
func (s *cacheService) List(state string, page, pageSize int) ([]database.CacheFile, int64, error) {
	var files []database.CacheFile
	var total int64

	query := s.db.Model(&database.CacheFile{})
	if state != "" {
		query = query.Where("state = ?", state)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).Order("id").Find(&files).Error; err != nil {
		return nil, 0, err
	}
	return files, total, nil
}
