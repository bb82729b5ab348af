// Package jobs 提供作业调度器
// 调度器周期性扫描TODO请求，按存储位置分桶后交给对应驱动划分工作子集，
// 每个子集生成一个携带UUID引用的异步作业，成员请求原子迁移到PENDING。
// 驱动直接拒绝的请求立即进入ERROR，无法解析驱动的整桶请求同样进入ERROR
package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tiervault/tiervault/internal/database"
	"github.com/tiervault/tiervault/internal/logger"
	"github.com/tiervault/tiervault/internal/service/ledger"
	"github.com/tiervault/tiervault/internal/storage"
	"gorm.io/gorm"
)

// 每轮调度扫描的分页大小
const dispatchPageSize = 500

// StorageCompletionHandler 存储作业完成回调接口
type StorageCompletionHandler interface {
	HandleStorageSuccess(req *database.StorageRequest, location string)
	HandleStorageError(req *database.StorageRequest, cause string)
}

// DeletionCompletionHandler 删除作业完成回调接口
type DeletionCompletionHandler interface {
	HandleDeletionSuccess(req *database.DeletionRequest)
	HandleDeletionError(req *database.DeletionRequest, cause string)
}

// CopyCompletionHandler 复制作业完成回调接口
type CopyCompletionHandler interface {
	HandleCopySuccess(req *database.CopyRequest, location string)
	HandleCopyError(req *database.CopyRequest, cause string)
}

// RestoreCompletionHandler 缓存恢复作业完成回调接口
type RestoreCompletionHandler interface {
	HandleRestoreSuccess(req *database.CacheRequest, location string)
	HandleRestoreError(req *database.CacheRequest, cause string)
}

// CacheAdmitter 缓存容量准入接口
// 恢复请求必须先通过容量准入，未准入的请求保持TODO等待下一轮
type CacheAdmitter interface {
	AdmitForScheduling() ([]database.CacheRequest, error)
	TargetPath(req *database.CacheRequest) string
}

// Dispatcher 作业调度器
// 每种请求类型一轮扫描，作业以独立协程异步执行，完成后调用对应回调
type Dispatcher struct {
	db       *gorm.DB                  // 数据库连接
	registry *storage.Registry         // 存储驱动注册表
	ledger   ledger.LedgerService      // 请求台账服务
	storages StorageCompletionHandler  // 存储作业完成回调
	deletes  DeletionCompletionHandler // 删除作业完成回调
	copies   CopyCompletionHandler     // 复制作业完成回调
	restores RestoreCompletionHandler  // 缓存恢复作业完成回调
	admitter CacheAdmitter             // 缓存容量准入

	ctx    context.Context    // 作业执行上下文
	cancel context.CancelFunc // 停止调度器时取消在途作业
	wg     sync.WaitGroup     // 等待在途作业收尾
	tickMu sync.Mutex         // 同一时刻只允许一轮扫描
}

// NewDispatcher 创建作业调度器实例
func NewDispatcher(
	db *gorm.DB,
	registry *storage.Registry,
	ledgerService ledger.LedgerService,
	storageHandler StorageCompletionHandler,
	deletionHandler DeletionCompletionHandler,
	copyHandler CopyCompletionHandler,
	restoreHandler RestoreCompletionHandler,
	admitter CacheAdmitter,
) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		db:       db,
		registry: registry,
		ledger:   ledgerService,
		storages: storageHandler,
		deletes:  deletionHandler,
		copies:   copyHandler,
		restores: restoreHandler,
		admitter: admitter,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start 以固定周期运行调度扫描，直到Stop被调用
func (d *Dispatcher) Start(interval time.Duration) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-d.ctx.Done():
				return
			case <-ticker.C:
				d.DispatchOnce()
			}
		}
	}()
	logger.Infof("[作业调度] 调度器已启动，扫描周期: %v", interval)
}

// Stop 停止调度器并等待在途作业收尾
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
	logger.Info("[作业调度] 调度器已停止")
}

// DispatchOnce 执行一轮完整的调度扫描
// 上一轮未结束时直接跳过
func (d *Dispatcher) DispatchOnce() {
	if !d.tickMu.TryLock() {
		return
	}
	defer d.tickMu.Unlock()

	if err := d.dispatchStorage(); err != nil {
		logger.Errorf("[作业调度] 存储请求调度失败: %v", err)
	}
	if err := d.dispatchDeletion(); err != nil {
		logger.Errorf("[作业调度] 删除请求调度失败: %v", err)
	}
	if err := d.dispatchRestore(); err != nil {
		logger.Errorf("[作业调度] 缓存恢复调度失败: %v", err)
	}
	if err := d.dispatchCopy(); err != nil {
		logger.Errorf("[作业调度] 复制请求调度失败: %v", err)
	}
}

// dispatchStorage 调度TODO存储请求
func (d *Dispatcher) dispatchStorage() error {
	requests, err := pageTodo[database.StorageRequest](d.db)
	if err != nil || len(requests) == 0 {
		return err
	}

	for storageName, bucket := range groupByStorage(requests) {
		driver, usable := d.resolveDriver(storageName)
		if !usable {
			cause := fmt.Sprintf("storage unavailable: %s", storageName)
			for i := range bucket {
				d.storages.HandleStorageError(&bucket[i], cause)
			}
			continue
		}

		tasks := make([]storage.Task, 0, len(bucket))
		byChecksum := make(map[string]*database.StorageRequest, len(bucket))
		for i := range bucket {
			req := &bucket[i]
			byChecksum[req.Checksum] = req
			tasks = append(tasks, storage.Task{
				RequestID:    req.ID,
				Checksum:     req.Checksum,
				FileName:     req.FileName,
				MimeType:     req.MimeType,
				FileSize:     req.FileSize,
				OriginURL:    req.OriginURL,
				SubDirectory: req.SubDirectory,
			})
		}

		subsets, rejected, err := driver.PrepareForStorage(tasks)
		if err != nil {
			cause := fmt.Sprintf("driver failed to prepare storage batch: %v", err)
			for i := range bucket {
				d.storages.HandleStorageError(&bucket[i], cause)
			}
			continue
		}
		for checksum, cause := range rejected {
			if req, ok := byChecksum[checksum]; ok {
				d.storages.HandleStorageError(req, cause)
			}
		}

		for _, subset := range subsets {
			d.scheduleSubset(ledger.KindStorage, subset, func(results []storage.TaskResult) {
				for _, result := range results {
					req, ok := byChecksum[result.Checksum]
					if !ok {
						continue
					}
					if result.ErrorCause == "" {
						d.storages.HandleStorageSuccess(req, result.Location)
					} else {
						d.storages.HandleStorageError(req, result.ErrorCause)
					}
				}
			})
		}
	}
	return nil
}

// dispatchDeletion 调度TODO删除请求
func (d *Dispatcher) dispatchDeletion() error {
	requests, err := pageTodo[database.DeletionRequest](d.db)
	if err != nil || len(requests) == 0 {
		return err
	}

	for storageName, bucket := range groupByStorage(requests) {
		driver, usable := d.resolveDriver(storageName)
		if !usable {
			cause := fmt.Sprintf("storage unavailable: %s", storageName)
			for i := range bucket {
				d.deletes.HandleDeletionError(&bucket[i], cause)
			}
			continue
		}

		tasks := make([]storage.Task, 0, len(bucket))
		byChecksum := make(map[string]*database.DeletionRequest, len(bucket))
		for i := range bucket {
			req := &bucket[i]
			byChecksum[req.Checksum] = req
			tasks = append(tasks, storage.Task{
				RequestID:   req.ID,
				Checksum:    req.Checksum,
				Location:    req.Location,
				ForceDelete: req.ForceDelete,
			})
		}

		subsets, rejected, err := driver.PrepareForDeletion(tasks)
		if err != nil {
			cause := fmt.Sprintf("driver failed to prepare deletion batch: %v", err)
			for i := range bucket {
				d.deletes.HandleDeletionError(&bucket[i], cause)
			}
			continue
		}
		for checksum, cause := range rejected {
			if req, ok := byChecksum[checksum]; ok {
				d.deletes.HandleDeletionError(req, cause)
			}
		}

		for _, subset := range subsets {
			d.scheduleSubset(ledger.KindDeletion, subset, func(results []storage.TaskResult) {
				for _, result := range results {
					req, ok := byChecksum[result.Checksum]
					if !ok {
						continue
					}
					if result.ErrorCause == "" {
						d.deletes.HandleDeletionSuccess(req)
					} else {
						d.deletes.HandleDeletionError(req, result.ErrorCause)
					}
				}
			})
		}
	}
	return nil
}

// dispatchRestore 调度通过容量准入的缓存恢复请求
func (d *Dispatcher) dispatchRestore() error {
	admitted, err := d.admitter.AdmitForScheduling()
	if err != nil || len(admitted) == 0 {
		return err
	}

	for storageName, bucket := range groupByStorage(admitted) {
		driver, usable := d.resolveDriver(storageName)
		if !usable {
			cause := fmt.Sprintf("storage unavailable: %s", storageName)
			for i := range bucket {
				d.restores.HandleRestoreError(&bucket[i], cause)
			}
			continue
		}

		tasks := make([]storage.Task, 0, len(bucket))
		byChecksum := make(map[string]*database.CacheRequest, len(bucket))
		for i := range bucket {
			req := &bucket[i]
			byChecksum[req.Checksum] = req
			tasks = append(tasks, storage.Task{
				RequestID:  req.ID,
				Checksum:   req.Checksum,
				FileName:   req.FileName,
				FileSize:   req.FileSize,
				Location:   req.Location,
				TargetPath: d.admitter.TargetPath(req),
			})
		}

		subsets, rejected, err := driver.PrepareForRestoration(tasks)
		if err != nil {
			cause := fmt.Sprintf("driver failed to prepare restoration batch: %v", err)
			for i := range bucket {
				d.restores.HandleRestoreError(&bucket[i], cause)
			}
			continue
		}
		for checksum, cause := range rejected {
			if req, ok := byChecksum[checksum]; ok {
				d.restores.HandleRestoreError(req, cause)
			}
		}

		for _, subset := range subsets {
			d.scheduleSubset(ledger.KindCache, subset, func(results []storage.TaskResult) {
				for _, result := range results {
					req, ok := byChecksum[result.Checksum]
					if !ok {
						continue
					}
					if result.ErrorCause == "" {
						d.restores.HandleRestoreSuccess(req, result.Location)
					} else {
						d.restores.HandleRestoreError(req, result.ErrorCause)
					}
				}
			})
		}
	}
	return nil
}

// dispatchCopy 调度TODO复制请求
// 复制作业分两段执行：先经源驱动恢复到临时文件，再经目标驱动写入
func (d *Dispatcher) dispatchCopy() error {
	requests, err := pageTodo[database.CopyRequest](d.db)
	if err != nil || len(requests) == 0 {
		return err
	}

	for _, req := range requests {
		request := req

		source, sourceOK := d.resolveDriver(request.SourceStorage)
		if !sourceOK {
			d.copies.HandleCopyError(&request, fmt.Sprintf("storage unavailable: %s", request.SourceStorage))
			continue
		}
		destination, destOK := d.resolveDriver(request.Storage)
		if !destOK {
			d.copies.HandleCopyError(&request, fmt.Sprintf("storage unavailable: %s", request.Storage))
			continue
		}

		jobRef := uuid.New().String()
		if err := d.ledger.MarkPending(ledger.KindCopy, []uint{request.ID}, jobRef); err != nil {
			logger.Warnf("[作业调度] 复制请求 %d 迁移PENDING失败，跳过: %v", request.ID, err)
			continue
		}

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.runCopyJob(source, destination, &request, jobRef)
		}()
	}
	return nil
}

// runCopyJob 执行单个复制作业
func (d *Dispatcher) runCopyJob(source, destination storage.Driver, req *database.CopyRequest, jobRef string) {
	tempPath := filepath.Join(os.TempDir(), fmt.Sprintf("tiervault-copy-%s", req.Checksum))
	defer os.Remove(tempPath)

	// 第一段：从源存储恢复到临时文件
	restoreTask := storage.Task{
		RequestID:  req.ID,
		Checksum:   req.Checksum,
		FileName:   req.FileName,
		FileSize:   req.FileSize,
		Location:   req.SourceURL,
		TargetPath: tempPath,
	}
	if cause := d.runSingleTask(source.PrepareForRestoration, restoreTask); cause != "" {
		d.copies.HandleCopyError(req, fmt.Sprintf("failed to read from source storage: %s", cause))
		return
	}

	// 第二段：从临时文件写入目标存储
	storeTask := storage.Task{
		RequestID: req.ID,
		Checksum:  req.Checksum,
		FileName:  req.FileName,
		MimeType:  req.MimeType,
		FileSize:  req.FileSize,
		OriginURL: tempPath,
	}
	subsets, rejected, err := destination.PrepareForStorage([]storage.Task{storeTask})
	if err != nil {
		d.copies.HandleCopyError(req, fmt.Sprintf("driver failed to prepare storage: %v", err))
		return
	}
	if cause, ok := rejected[req.Checksum]; ok {
		d.copies.HandleCopyError(req, cause)
		return
	}

	for _, subset := range subsets {
		for _, result := range subset.Run(d.ctx) {
			if result.ErrorCause != "" {
				d.copies.HandleCopyError(req, result.ErrorCause)
				return
			}
			logger.Infof("[作业调度] 复制作业 %s 完成: %s", jobRef, req.Checksum)
			d.copies.HandleCopySuccess(req, result.Location)
		}
	}
}

// runSingleTask 同步执行单任务的工作子集，返回失败原因（空串为成功）
func (d *Dispatcher) runSingleTask(
	prepare func([]storage.Task) ([]storage.WorkingSubset, map[string]string, error),
	task storage.Task,
) string {
	subsets, rejected, err := prepare([]storage.Task{task})
	if err != nil {
		return err.Error()
	}
	if cause, ok := rejected[task.Checksum]; ok {
		return cause
	}
	for _, subset := range subsets {
		for _, result := range subset.Run(d.ctx) {
			if result.ErrorCause != "" {
				return result.ErrorCause
			}
		}
	}
	return ""
}

// scheduleSubset 为一个工作子集生成异步作业
// 子集成员原子迁移到PENDING并绑定作业引用后才启动执行协程
func (d *Dispatcher) scheduleSubset(kind ledger.RequestKind, subset storage.WorkingSubset, complete func([]storage.TaskResult)) {
	ids := make([]uint, 0, len(subset.Tasks()))
	for _, task := range subset.Tasks() {
		ids = append(ids, task.RequestID)
	}

	jobRef := uuid.New().String()
	if err := d.ledger.MarkPending(kind, ids, jobRef); err != nil {
		// 状态竞争（如部分请求已被折叠或转DELAYED），留待下一轮扫描
		logger.Warnf("[作业调度] 子集 %s 迁移PENDING失败，跳过: %v", subset.Name(), err)
		return
	}

	logger.Infof("[作业调度] 调度作业 %s: 子集=%s 类型=%s 任务数=%d", jobRef, subset.Name(), kind, len(ids))
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		complete(subset.Run(d.ctx))
	}()
}

// resolveDriver 解析存储位置的可用驱动
func (d *Dispatcher) resolveDriver(storageName string) (storage.Driver, bool) {
	driver, ok := d.registry.Driver(storageName)
	if !ok || !driver.IsActive() {
		return nil, false
	}
	return driver, true
}

// requestRecord 可按存储位置分桶的请求约束
type requestRecord interface {
	database.StorageRequest | database.DeletionRequest | database.CacheRequest | database.CopyRequest
}

// pageTodo 分页读取全部TODO请求
func pageTodo[T requestRecord](db *gorm.DB) ([]T, error) {
	var all []T
	for offset := 0; ; offset += dispatchPageSize {
		var page []T
		err := db.Where("status = ?", database.StatusTodo).
			Order("id").Offset(offset).Limit(dispatchPageSize).Find(&page).Error
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < dispatchPageSize {
			return all, nil
		}
	}
}

// groupByStorage 按存储位置名称分桶
func groupByStorage[T any](requests []T) map[string][]T {
	buckets := make(map[string][]T)
	for _, req := range requests {
		buckets[storageOf(req)] = append(buckets[storageOf(req)], req)
	}
	return buckets
}

// storageOf 提取请求的目标存储位置名称
func storageOf(req any) string {
	switch r := req.(type) {
	case database.StorageRequest:
		return r.Storage
	case database.DeletionRequest:
		return r.Storage
	case database.CacheRequest:
		return r.Storage
	case database.CopyRequest:
		return r.Storage
	}
	return ""
}
