// Package ledger 提供请求台账的生命周期状态机实现
// 台账行是系统唯一的事实来源，状态只能通过本包的迁移操作修改：
// TODO → PENDING → {完成(删除行) | ERROR}；ERROR → TODO；
// 仅存储请求允许 TODO/PENDING → DELAYED，删除完成后 DELAYED → TODO
package ledger

import (
	"errors"
	"fmt"

	"github.com/tiervault/tiervault/internal/database"
	"github.com/tiervault/tiervault/internal/logger"
	"gorm.io/gorm"
)

// RequestKind 请求类型
type RequestKind string

// 请求类型常量
const (
	KindStorage  RequestKind = "storage"  // 存储请求
	KindDeletion RequestKind = "deletion" // 删除请求
	KindCache    RequestKind = "cache"    // 缓存恢复请求
	KindCopy     RequestKind = "copy"     // 复制请求
)

// ErrIllegalTransition 非法状态迁移错误
// 目标行不存在或当前状态不允许迁移时返回
var ErrIllegalTransition = errors.New("illegal request status transition")

// LedgerService 请求台账服务接口
// 提供四种请求类型共享的状态迁移操作和分页扫描
type LedgerService interface {
	// MarkPending 把一批TODO请求迁移到PENDING并绑定作业引用
	// 参数:
	//   kind - 请求类型
	//   ids - 请求行ID列表
	//   jobReference - 调度作业引用（UUID）
	// 返回:
	//   error - 任一请求不处于TODO状态时整体回滚并返回ErrIllegalTransition
	MarkPending(kind RequestKind, ids []uint, jobReference string) error

	// MarkError 把请求迁移到ERROR并记录失败原因
	// 允许来源状态：TODO、PENDING
	MarkError(kind RequestKind, id uint, cause string) error

	// Complete 请求成功完成，删除台账行
	Complete(kind RequestKind, id uint) error

	// Retry 重试失败请求，ERROR迁移到TODO并清除失败原因和作业引用
	// 请求不处于ERROR状态时返回ErrIllegalTransition
	Retry(kind RequestKind, id uint) error

	// ReleaseDelayed 删除完成后把指定(校验和, 存储位置)的DELAYED存储请求放行为TODO
	// 返回实际放行的请求数
	ReleaseDelayed(checksum, storage string) (int64, error)

	// ReconcilePending 启动对账：把作业引用未知的PENDING请求重置为TODO
	// 调度器重启后内存中不再有任何在途作业，所有PENDING请求都需要重新调度
	ReconcilePending() error

	// ListStorageRequests 分页查询存储请求
	ListStorageRequests(status, storage string, page, pageSize int) ([]database.StorageRequest, int64, error)

	// ListDeletionRequests 分页查询删除请求
	ListDeletionRequests(status, storage string, page, pageSize int) ([]database.DeletionRequest, int64, error)

	// ListCacheRequests 分页查询缓存恢复请求
	ListCacheRequests(status string, page, pageSize int) ([]database.CacheRequest, int64, error)

	// ListCopyRequests 分页查询复制请求
	ListCopyRequests(status, storage string, page, pageSize int) ([]database.CopyRequest, int64, error)
}

// ledgerService 请求台账服务实现
type ledgerService struct {
	db *gorm.DB // 数据库连接
}

// NewLedgerService 创建请求台账服务实例
func NewLedgerService(db *gorm.DB) LedgerService {
	return &ledgerService{db: db}
}

// tableName 返回请求类型对应的表名
func tableName(kind RequestKind) string {
	switch kind {
	case KindStorage:
		return database.StorageRequest{}.TableName()
	case KindDeletion:
		return database.DeletionRequest{}.TableName()
	case KindCache:
		return database.CacheRequest{}.TableName()
	case KindCopy:
		return database.CopyRequest{}.TableName()
	}
	return ""
}

// MarkPending 把一批TODO请求迁移到PENDING并绑定作业引用
// 与作业引用的绑定在同一事务内完成，保证重启后能按作业状态对账
func (s *ledgerService) MarkPending(kind RequestKind, ids []uint, jobReference string) error {
	if len(ids) == 0 {
		return nil
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Table(tableName(kind)).
			Where("id IN ? AND status = ?", ids, database.StatusTodo).
			Updates(map[string]interface{}{
				"status":        database.StatusPending,
				"job_reference": jobReference,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != int64(len(ids)) {
			return fmt.Errorf("%w: expected %d TODO requests, updated %d",
				ErrIllegalTransition, len(ids), result.RowsAffected)
		}
		return nil
	})
}

// MarkError 把请求迁移到ERROR并记录失败原因
func (s *ledgerService) MarkError(kind RequestKind, id uint, cause string) error {
	result := s.db.Table(tableName(kind)).
		Where("id = ? AND status IN ?", id, []string{database.StatusTodo, database.StatusPending}).
		Updates(map[string]interface{}{
			"status":      database.StatusError,
			"error_cause": cause,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s request %d not in TODO/PENDING", ErrIllegalTransition, kind, id)
	}

	logger.Warnf("[请求台账] %s请求 %d 失败: %s", kind, id, cause)
	return nil
}

// Complete 请求成功完成，删除台账行
func (s *ledgerService) Complete(kind RequestKind, id uint) error {
	return s.db.Table(tableName(kind)).Where("id = ?", id).Delete(nil).Error
}

// Retry 重试失败请求
func (s *ledgerService) Retry(kind RequestKind, id uint) error {
	result := s.db.Table(tableName(kind)).
		Where("id = ? AND status = ?", id, database.StatusError).
		Updates(map[string]interface{}{
			"status":        database.StatusTodo,
			"error_cause":   "",
			"job_reference": "",
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s request %d not in ERROR", ErrIllegalTransition, kind, id)
	}

	logger.Infof("[请求台账] %s请求 %d 已重置为TODO等待重试", kind, id)
	return nil
}

// ReleaseDelayed 把指定(校验和, 存储位置)的DELAYED存储请求放行为TODO
func (s *ledgerService) ReleaseDelayed(checksum, storage string) (int64, error) {
	result := s.db.Model(&database.StorageRequest{}).
		Where("checksum = ? AND storage = ? AND status = ?", checksum, storage, database.StatusDelayed).
		Update("status", database.StatusTodo)
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		logger.Infof("[请求台账] 放行DELAYED存储请求: %s@%s", checksum, storage)
	}
	return result.RowsAffected, nil
}

// ReconcilePending 启动对账：把所有PENDING请求重置为TODO
// 作业调度是进程内异步执行，重启后在途作业全部丢失，由下一轮调度扫描重新派发
func (s *ledgerService) ReconcilePending() error {
	for _, kind := range []RequestKind{KindStorage, KindDeletion, KindCache, KindCopy} {
		result := s.db.Table(tableName(kind)).
			Where("status = ?", database.StatusPending).
			Updates(map[string]interface{}{
				"status":        database.StatusTodo,
				"job_reference": "",
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			logger.Infof("[请求台账] 启动对账: 重置%d条PENDING %s请求为TODO", result.RowsAffected, kind)
		}
	}
	return nil
}

// ListStorageRequests 分页查询存储请求
func (s *ledgerService) ListStorageRequests(status, storage string, page, pageSize int) ([]database.StorageRequest, int64, error) {
	var requests []database.StorageRequest
	var total int64

	query := s.db.Model(&database.StorageRequest{})
	query = applyFilters(query, status, storage)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).Order("id").Find(&requests).Error; err != nil {
		return nil, 0, err
	}
	return requests, total, nil
}

// ListDeletionRequests 分页查询删除请求
func (s *ledgerService) ListDeletionRequests(status, storage string, page, pageSize int) ([]database.DeletionRequest, int64, error) {
	var requests []database.DeletionRequest
	var total int64

	query := s.db.Model(&database.DeletionRequest{})
	query = applyFilters(query, status, storage)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).Order("id").Find(&requests).Error; err != nil {
		return nil, 0, err
	}
	return requests, total, nil
}

// ListCacheRequests 分页查询缓存恢复请求
func (s *ledgerService) ListCacheRequests(status string, page, pageSize int) ([]database.CacheRequest, int64, error) {
	var requests []database.CacheRequest
	var total int64

	query := s.db.Model(&database.CacheRequest{})
	query = applyFilters(query, status, "")

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).Order("id").Find(&requests).Error; err != nil {
		return nil, 0, err
	}
	return requests, total, nil
}

// ListCopyRequests 分页查询复制请求
func (s *ledgerService) ListCopyRequests(status, storage string, page, pageSize int) ([]database.CopyRequest, int64, error) {
	var requests []database.CopyRequest
	var total int64

	query := s.db.Model(&database.CopyRequest{})
	query = applyFilters(query, status, storage)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).Order("id").Find(&requests).Error; err != nil {
		return nil, 0, err
	}
	return requests, total, nil
}

// applyFilters 按状态和存储位置过滤查询
func applyFilters(query *gorm.DB, status, storage string) *gorm.DB {
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if storage != "" {
		query = query.Where("storage = ?", storage)
	}
	return query
}
