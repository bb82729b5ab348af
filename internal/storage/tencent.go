// Package storage 提供腾讯云COS存储驱动
// 基于cos-go-sdk-v5实现对象的上传、删除和恢复到本地缓存
package storage

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tencentyun/cos-go-sdk-v5"
	"github.com/tiervault/tiervault/config"
	"github.com/tiervault/tiervault/internal/logger"
)

// TencentDriver 腾讯云COS存储驱动
type TencentDriver struct {
	name     string
	tier     string
	active   bool
	client   *cos.Client
	bucketID string
	maxBatch int
}

// NewTencentDriver 创建腾讯云COS存储驱动实例
func NewTencentDriver(sc config.StorageConfig) (*TencentDriver, error) {
	// 构建URL
	bucketURL := fmt.Sprintf("https://%s.cos.%s.myqcloud.com", sc.Bucket, sc.Region)
	if sc.Endpoint != "" {
		bucketURL = sc.Endpoint
	}

	u, err := url.Parse(bucketURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bucket URL: %w", err)
	}

	client := cos.NewClient(&cos.BaseURL{BucketURL: u}, &http.Client{
		Transport: &cos.AuthorizationTransport{
			SecretID:  sc.AccessKey,
			SecretKey: sc.SecretKey,
		},
	})

	logger.Infof("[腾讯云驱动] 初始化完成, 存储位置: %s, 存储桶: %s", sc.Name, sc.Bucket)

	return &TencentDriver{
		name:     sc.Name,
		tier:     sc.Tier,
		active:   sc.Active,
		client:   client,
		bucketID: sc.Bucket,
		maxBatch: sc.MaxBatch,
	}, nil
}

// Name 返回存储位置名称
func (d *TencentDriver) Name() string {
	return d.name
}

// Tier 返回存储层级
func (d *TencentDriver) Tier() string {
	return d.tier
}

// IsActive 返回存储位置是否启用
func (d *TencentDriver) IsActive() bool {
	return d.active
}

// PrepareForStorage 为存储任务划分工作子集
func (d *TencentDriver) PrepareForStorage(tasks []Task) ([]WorkingSubset, map[string]string, error) {
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
func (d *TencentDriver) storeTask(ctx context.Context, task Task) TaskResult {
	src, err := openOrigin(task.OriginURL)
	if err != nil {
		return TaskResult{Checksum: task.Checksum, ErrorCause: fmt.Sprintf("failed to open origin: %v", err)}
	}
	defer src.Close()

	objectKey := makeObjectKey(task)
	options := &cos.ObjectPutOptions{}
	if task.MimeType != "" {
		options.ObjectPutHeaderOptions = &cos.ObjectPutHeaderOptions{
			ContentType: task.MimeType,
		}
	}

	if _, err := d.client.Object.Put(ctx, objectKey, src, options); err != nil {
		return TaskResult{Checksum: task.Checksum, ErrorCause: fmt.Sprintf("failed to upload to tencent cos: %v", err)}
	}

	logger.Debugf("[腾讯云驱动] 上传完成: %s", objectKey)
	return TaskResult{
		Checksum: task.Checksum,
		Location: makeObjectLocation("cos", d.bucketID, objectKey),
		Size:     task.FileSize,
	}
}

// PrepareForDeletion 为删除任务划分工作子集
func (d *TencentDriver) PrepareForDeletion(tasks []Task) ([]WorkingSubset, map[string]string, error) {
	rejected := make(map[string]string)
	accepted := make([]Task, 0, len(tasks))

	for _, task := range tasks {
		if _, err := parseObjectLocation(task.Location, "cos", d.bucketID); err != nil {
			rejected[task.Checksum] = err.Error()
			continue
		}
		accepted = append(accepted, task)
	}

	subsets := chunkSubsets(fmt.Sprintf("%s-delete", d.name), accepted, d.maxBatch, d.deleteTask)
	return subsets, rejected, nil
}

// deleteTask 执行单个删除任务
func (d *TencentDriver) deleteTask(ctx context.Context, task Task) TaskResult {
	objectKey, err := parseObjectLocation(task.Location, "cos", d.bucketID)
	if err != nil {
		return TaskResult{Checksum: task.Checksum, ErrorCause: err.Error()}
	}

	if _, err := d.client.Object.Delete(ctx, objectKey); err != nil {
		return TaskResult{Checksum: task.Checksum, ErrorCause: fmt.Sprintf("failed to delete from tencent cos: %v", err)}
	}

	return TaskResult{Checksum: task.Checksum, Location: task.Location}
}

// PrepareForRestoration 为缓存恢复任务划分工作子集
func (d *TencentDriver) PrepareForRestoration(tasks []Task) ([]WorkingSubset, map[string]string, error) {
	rejected := make(map[string]string)
	accepted := make([]Task, 0, len(tasks))

	for _, task := range tasks {
		if task.TargetPath == "" {
			rejected[task.Checksum] = "target path missing"
			continue
		}
		if _, err := parseObjectLocation(task.Location, "cos", d.bucketID); err != nil {
			rejected[task.Checksum] = err.Error()
			continue
		}
		accepted = append(accepted, task)
	}

	subsets := chunkSubsets(fmt.Sprintf("%s-restore", d.name), accepted, d.maxBatch, d.restoreTask)
	return subsets, rejected, nil
}

// restoreTask 执行单个恢复任务
func (d *TencentDriver) restoreTask(ctx context.Context, task Task) TaskResult {
	objectKey, err := parseObjectLocation(task.Location, "cos", d.bucketID)
	if err != nil {
		return TaskResult{Checksum: task.Checksum, ErrorCause: err.Error()}
	}

	resp, err := d.client.Object.Get(ctx, objectKey, nil)
	if err != nil {
		return TaskResult{Checksum: task.Checksum, ErrorCause: fmt.Sprintf("failed to download from tencent cos: %v", err)}
	}
	defer resp.Body.Close()

	size, err := writeCacheFile(task.TargetPath, resp.Body)
	if err != nil {
		return TaskResult{Checksum: task.Checksum, ErrorCause: err.Error()}
	}

	logger.Debugf("[腾讯云驱动] 恢复完成: %s -> %s, %d字节", objectKey, task.TargetPath, size)
	return TaskResult{Checksum: task.Checksum, Location: task.TargetPath, Size: size}
}
