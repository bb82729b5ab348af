// Package storage 提供阿里云OSS存储驱动
// 基于aliyun-oss-go-sdk实现对象的上传、删除和恢复到本地缓存
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/tiervault/tiervault/config"
	"github.com/tiervault/tiervault/internal/logger"
)

// AliyunDriver 阿里云OSS存储驱动
type AliyunDriver struct {
	name     string
	tier     string
	active   bool
	bucket   *oss.Bucket
	bucketID string
	maxBatch int
}

// NewAliyunDriver 创建阿里云OSS存储驱动实例
// 根据配置初始化OSS客户端和存储桶连接
func NewAliyunDriver(sc config.StorageConfig) (*AliyunDriver, error) {
	// 构建endpoint
	endpoint := sc.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://oss-%s.aliyuncs.com", sc.Region)
	}

	client, err := oss.New(endpoint, sc.AccessKey, sc.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create aliyun oss client: %w", err)
	}

	bucket, err := client.Bucket(sc.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket %s: %w", sc.Bucket, err)
	}

	logger.Infof("[阿里云驱动] 初始化完成, 存储位置: %s, 存储桶: %s", sc.Name, sc.Bucket)

	return &AliyunDriver{
		name:     sc.Name,
		tier:     sc.Tier,
		active:   sc.Active,
		bucket:   bucket,
		bucketID: sc.Bucket,
		maxBatch: sc.MaxBatch,
	}, nil
}

// Name 返回存储位置名称
func (d *AliyunDriver) Name() string {
	return d.name
}

// Tier 返回存储层级
func (d *AliyunDriver) Tier() string {
	return d.tier
}

// IsActive 返回存储位置是否启用
func (d *AliyunDriver) IsActive() bool {
	return d.active
}

// PrepareForStorage 为存储任务划分工作子集
func (d *AliyunDriver) PrepareForStorage(tasks []Task) ([]WorkingSubset, map[string]string, error) {
	rejected := make(map[string]string)
	accepted := make([]Task, 0, len(tasks))

	for _, task := range tasks {
		if task.OriginURL == "" {
			rejected[task.Checksum] = "origin url missing"
			continue
		}
		accepted = append(accepted, task)
	}

	subsets := chunkSubsets(fmt.Sprintf("%s-store", d.name), accepted, d.maxBatch, d.storeTask)
	return subsets, rejected, nil
}

// storeTask 执行单个存储任务
func (d *AliyunDriver) storeTask(ctx context.Context, task Task) TaskResult {
	src, err := openOrigin(task.OriginURL)
	if err != nil {
		return TaskResult{Checksum: task.Checksum, ErrorCause: fmt.Sprintf("failed to open origin: %v", err)}
	}
	defer src.Close()

	objectKey := makeObjectKey(task)
	options := []oss.Option{}
	if task.MimeType != "" {
		options = append(options, oss.ContentType(task.MimeType))
	}

	if err := d.bucket.PutObject(objectKey, src, options...); err != nil {
		return TaskResult{Checksum: task.Checksum, ErrorCause: fmt.Sprintf("failed to upload to aliyun oss: %v", err)}
	}

	logger.Debugf("[阿里云驱动] 上传完成: %s", objectKey)
	return TaskResult{
		Checksum: task.Checksum,
		Location: makeObjectLocation("oss", d.bucketID, objectKey),
		Size:     task.FileSize,
	}
}

// PrepareForDeletion 为删除任务划分工作子集
func (d *AliyunDriver) PrepareForDeletion(tasks []Task) ([]WorkingSubset, map[string]string, error) {
	rejected := make(map[string]string)
	accepted := make([]Task, 0, len(tasks))

	for _, task := range tasks {
		if _, err := parseObjectLocation(task.Location, "oss", d.bucketID); err != nil {
			rejected[task.Checksum] = err.Error()
			continue
		}
		accepted = append(accepted, task)
	}

	subsets := chunkSubsets(fmt.Sprintf("%s-delete", d.name), accepted, d.maxBatch, d.deleteTask)
	return subsets, rejected, nil
}

// deleteTask 执行单个删除任务
func (d *AliyunDriver) deleteTask(ctx context.Context, task Task) TaskResult {
	objectKey, err := parseObjectLocation(task.Location, "oss", d.bucketID)
	if err != nil {
		return TaskResult{Checksum: task.Checksum, ErrorCause: err.Error()}
	}

	if err := d.bucket.DeleteObject(objectKey); err != nil {
		return TaskResult{Checksum: task.Checksum, ErrorCause: fmt.Sprintf("failed to delete from aliyun oss: %v", err)}
	}

	return TaskResult{Checksum: task.Checksum, Location: task.Location}
}

// PrepareForRestoration 为缓存恢复任务划分工作子集
func (d *AliyunDriver) PrepareForRestoration(tasks []Task) ([]WorkingSubset, map[string]string, error) {
	rejected := make(map[string]string)
	accepted := make([]Task, 0, len(tasks))

	for _, task := range tasks {
		if task.TargetPath == "" {
			rejected[task.Checksum] = "target path missing"
			continue
		}
		if _, err := parseObjectLocation(task.Location, "oss", d.bucketID); err != nil {
			rejected[task.Checksum] = err.Error()
			continue
		}
		accepted = append(accepted, task)
	}

	subsets := chunkSubsets(fmt.Sprintf("%s-restore", d.name), accepted, d.maxBatch, d.restoreTask)
	return subsets, rejected, nil
}

// restoreTask 执行单个恢复任务
func (d *AliyunDriver) restoreTask(ctx context.Context, task Task) TaskResult {
	objectKey, err := parseObjectLocation(task.Location, "oss", d.bucketID)
	if err != nil {
		return TaskResult{Checksum: task.Checksum, ErrorCause: err.Error()}
	}

	body, err := d.bucket.GetObject(objectKey)
	if err != nil {
		return TaskResult{Checksum: task.Checksum, ErrorCause: fmt.Sprintf("failed to download from aliyun oss: %v", err)}
	}
	defer body.Close()

	size, err := writeCacheFile(task.TargetPath, body)
	if err != nil {
		return TaskResult{Checksum: task.Checksum, ErrorCause: err.Error()}
	}

	logger.Debugf("[阿里云驱动] 恢复完成: %s -> %s, %d字节", objectKey, task.TargetPath, size)
	return TaskResult{Checksum: task.Checksum, Location: task.TargetPath, Size: size}
}

// writeCacheFile 把对象内容写入本地缓存文件
// 写入失败时清理半成品文件
func writeCacheFile(targetPath string, body io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
		return 0, fmt.Errorf("failed to create cache directory: %v", err)
	}

	dst, err := os.Create(targetPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create cache file: %v", err)
	}
	defer dst.Close()

	size, err := io.Copy(dst, body)
	if err != nil {
		os.Remove(targetPath)
		return 0, fmt.Errorf("failed to write cache file: %v", err)
	}
	return size, nil
}
