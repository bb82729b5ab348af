// Package storage 提供本地文件系统存储驱动
// 本地驱动把文件保存在配置的根目录下，按子目录划分工作子集
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/tiervault/tiervault/config"
	"github.com/tiervault/tiervault/internal/logger"
)

// LocalDriver 本地文件系统存储驱动
// 存储布局：<根目录>/<子目录>/<校验和>_<文件名>
type LocalDriver struct {
	name     string
	tier     string
	active   bool
	baseDir  string
	maxBatch int
}

// NewLocalDriver 创建本地文件系统存储驱动实例
// 确保根目录存在，目录创建失败时返回错误
func NewLocalDriver(sc config.StorageConfig) (*LocalDriver, error) {
	if sc.BaseDir == "" {
		return nil, fmt.Errorf("local storage %s requires base_dir", sc.Name)
	}
	if err := os.MkdirAll(sc.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base dir %s: %w", sc.BaseDir, err)
	}

	return &LocalDriver{
		name:     sc.Name,
		tier:     sc.Tier,
		active:   sc.Active,
		baseDir:  sc.BaseDir,
		maxBatch: sc.MaxBatch,
	}, nil
}

// Name 返回存储位置名称
func (d *LocalDriver) Name() string {
	return d.name
}

// Tier 返回存储层级
func (d *LocalDriver) Tier() string {
	return d.tier
}

// IsActive 返回存储位置是否启用
func (d *LocalDriver) IsActive() bool {
	return d.active
}

// PrepareForStorage 为存储任务划分工作子集
// 同一子目录的任务归入同一子集，源位置缺失的任务被拒绝
func (d *LocalDriver) PrepareForStorage(tasks []Task) ([]WorkingSubset, map[string]string, error) {
	rejected := make(map[string]string)
	bySubDir := make(map[string][]Task)

	for _, task := range tasks {
		if task.OriginURL == "" {
			rejected[task.Checksum] = "origin url missing"
			continue
		}
		bySubDir[task.SubDirectory] = append(bySubDir[task.SubDirectory], task)
	}

	// 子目录排序保证子集划分稳定
	subDirs := make([]string, 0, len(bySubDir))
	for dir := range bySubDir {
		subDirs = append(subDirs, dir)
	}
	sort.Strings(subDirs)

	var subsets []WorkingSubset
	for _, dir := range subDirs {
		name := fmt.Sprintf("%s-store-%s", d.name, dir)
		if dir == "" {
			name = fmt.Sprintf("%s-store", d.name)
		}
		subsets = append(subsets, chunkSubsets(name, bySubDir[dir], d.maxBatch, d.storeTask)...)
	}
	return subsets, rejected, nil
}

// storeTask 执行单个存储任务
func (d *LocalDriver) storeTask(ctx context.Context, task Task) TaskResult {
	destPath := filepath.Join(d.baseDir, task.SubDirectory, task.Checksum+"_"+task.FileName)

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return TaskResult{Checksum: task.Checksum, ErrorCause: fmt.Sprintf("failed to create directory: %v", err)}
	}

	src, err := openOrigin(task.OriginURL)
	if err != nil {
		return TaskResult{Checksum: task.Checksum, ErrorCause: fmt.Sprintf("failed to open origin: %v", err)}
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return TaskResult{Checksum: task.Checksum, ErrorCause: fmt.Sprintf("failed to create file: %v", err)}
	}
	defer dst.Close()

	size, err := io.Copy(dst, src)
	if err != nil {
		os.Remove(destPath)
		return TaskResult{Checksum: task.Checksum, ErrorCause: fmt.Sprintf("failed to copy file: %v", err)}
	}

	logger.Debugf("[本地驱动] 存储完成: %s -> %s, %d字节", task.OriginURL, destPath, size)
	return TaskResult{Checksum: task.Checksum, Location: destPath, Size: size}
}

// PrepareForDeletion 为删除任务划分工作子集
// 物理位置缺失的任务被拒绝
func (d *LocalDriver) PrepareForDeletion(tasks []Task) ([]WorkingSubset, map[string]string, error) {
	rejected := make(map[string]string)
	accepted := make([]Task, 0, len(tasks))

	for _, task := range tasks {
		if task.Location == "" {
			rejected[task.Checksum] = "location missing"
			continue
		}
		accepted = append(accepted, task)
	}

	subsets := chunkSubsets(fmt.Sprintf("%s-delete", d.name), accepted, d.maxBatch, d.deleteTask)
	return subsets, rejected, nil
}

// deleteTask 执行单个删除任务
// 文件已不存在时视为成功
func (d *LocalDriver) deleteTask(ctx context.Context, task Task) TaskResult {
	if err := os.Remove(task.Location); err != nil && !os.IsNotExist(err) {
		return TaskResult{Checksum: task.Checksum, ErrorCause: fmt.Sprintf("failed to delete file: %v", err)}
	}
	return TaskResult{Checksum: task.Checksum, Location: task.Location}
}

// PrepareForRestoration 为缓存恢复任务划分工作子集
// 物理位置或目标路径缺失的任务被拒绝
func (d *LocalDriver) PrepareForRestoration(tasks []Task) ([]WorkingSubset, map[string]string, error) {
	rejected := make(map[string]string)
	accepted := make([]Task, 0, len(tasks))

	for _, task := range tasks {
		if task.Location == "" {
			rejected[task.Checksum] = "location missing"
			continue
		}
		if task.TargetPath == "" {
			rejected[task.Checksum] = "target path missing"
			continue
		}
		accepted = append(accepted, task)
	}

	subsets := chunkSubsets(fmt.Sprintf("%s-restore", d.name), accepted, d.maxBatch, d.restoreTask)
	return subsets, rejected, nil
}

// restoreTask 执行单个恢复任务
func (d *LocalDriver) restoreTask(ctx context.Context, task Task) TaskResult {
	if err := os.MkdirAll(filepath.Dir(task.TargetPath), 0755); err != nil {
		return TaskResult{Checksum: task.Checksum, ErrorCause: fmt.Sprintf("failed to create cache directory: %v", err)}
	}

	src, err := os.Open(task.Location)
	if err != nil {
		return TaskResult{Checksum: task.Checksum, ErrorCause: fmt.Sprintf("failed to open source file: %v", err)}
	}
	defer src.Close()

	dst, err := os.Create(task.TargetPath)
	if err != nil {
		return TaskResult{Checksum: task.Checksum, ErrorCause: fmt.Sprintf("failed to create cache file: %v", err)}
	}
	defer dst.Close()

	size, err := io.Copy(dst, src)
	if err != nil {
		os.Remove(task.TargetPath)
		return TaskResult{Checksum: task.Checksum, ErrorCause: fmt.Sprintf("failed to copy file: %v", err)}
	}

	logger.Debugf("[本地驱动] 恢复完成: %s -> %s, %d字节", task.Location, task.TargetPath, size)
	return TaskResult{Checksum: task.Checksum, Location: task.TargetPath, Size: size}
}
