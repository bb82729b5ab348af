// Package storage 提供七牛云Kodo存储驱动
// 基于qiniu go-sdk实现对象的上传、删除和恢复到本地缓存
package storage

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/qiniu/go-sdk/v7/auth/qbox"
	qiniustorage "github.com/qiniu/go-sdk/v7/storage"
	"github.com/tiervault/tiervault/config"
	"github.com/tiervault/tiervault/internal/logger"
)

// QiniuDriver 七牛云Kodo存储驱动
type QiniuDriver struct {
	name         string
	tier         string
	active       bool
	mac          *qbox.Mac
	bucketID     string
	bucketDomain string
	region       *qiniustorage.Region
	maxBatch     int
}

// NewQiniuDriver 创建七牛云Kodo存储驱动实例
// 初始化时解析存储桶所在区域
func NewQiniuDriver(sc config.StorageConfig) (*QiniuDriver, error) {
	mac := qbox.NewMac(sc.AccessKey, sc.SecretKey)

	// 获取区域信息
	region, err := qiniustorage.GetRegion(sc.AccessKey, sc.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to get qiniu region: %w", err)
	}

	// 构建域名
	bucketDomain := sc.Endpoint
	if bucketDomain == "" {
		bucketDomain = fmt.Sprintf("%s.%s", sc.Bucket, region.RsHost)
	}

	logger.Infof("[七牛云驱动] 初始化完成, 存储位置: %s, 存储桶: %s", sc.Name, sc.Bucket)

	return &QiniuDriver{
		name:         sc.Name,
		tier:         sc.Tier,
		active:       sc.Active,
		mac:          mac,
		bucketID:     sc.Bucket,
		bucketDomain: bucketDomain,
		region:       region,
		maxBatch:     sc.MaxBatch,
	}, nil
}

// Name 返回存储位置名称
func (d *QiniuDriver) Name() string {
	return d.name
}

// Tier 返回存储层级
func (d *QiniuDriver) Tier() string {
	return d.tier
}

// IsActive 返回存储位置是否启用
func (d *QiniuDriver) IsActive() bool {
	return d.active
}

// PrepareForStorage 为存储任务划分工作子集
func (d *QiniuDriver) PrepareForStorage(tasks []Task) ([]WorkingSubset, map[string]string, error) {
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
func (d *QiniuDriver) storeTask(ctx context.Context, task Task) TaskResult {
	src, err := openOrigin(task.OriginURL)
	if err != nil {
		return TaskResult{Checksum: task.Checksum, ErrorCause: fmt.Sprintf("failed to open origin: %v", err)}
	}
	defer src.Close()

	objectKey := makeObjectKey(task)
	putPolicy := qiniustorage.PutPolicy{
		Scope: fmt.Sprintf("%s:%s", d.bucketID, objectKey),
	}
	upToken := putPolicy.UploadToken(d.mac)

	cfg := qiniustorage.Config{
		Region:        d.region,
		UseHTTPS:      true,
		UseCdnDomains: false,
	}

	formUploader := qiniustorage.NewFormUploader(&cfg)
	ret := qiniustorage.PutRet{}

	putExtra := qiniustorage.PutExtra{}
	if task.MimeType != "" {
		putExtra.MimeType = task.MimeType
	}

	if err := formUploader.Put(ctx, &ret, upToken, objectKey, src, -1, &putExtra); err != nil {
		return TaskResult{Checksum: task.Checksum, ErrorCause: fmt.Sprintf("failed to upload to qiniu kodo: %v", err)}
	}

	logger.Debugf("[七牛云驱动] 上传完成: %s", objectKey)
	return TaskResult{
		Checksum: task.Checksum,
		Location: makeObjectLocation("kodo", d.bucketID, objectKey),
		Size:     task.FileSize,
	}
}

// PrepareForDeletion 为删除任务划分工作子集
func (d *QiniuDriver) PrepareForDeletion(tasks []Task) ([]WorkingSubset, map[string]string, error) {
	rejected := make(map[string]string)
	accepted := make([]Task, 0, len(tasks))

	for _, task := range tasks {
		if _, err := parseObjectLocation(task.Location, "kodo", d.bucketID); err != nil {
			rejected[task.Checksum] = err.Error()
			continue
		}
		accepted = append(accepted, task)
	}

	subsets := chunkSubsets(fmt.Sprintf("%s-delete", d.name), accepted, d.maxBatch, d.deleteTask)
	return subsets, rejected, nil
}

// deleteTask 执行单个删除任务
func (d *QiniuDriver) deleteTask(ctx context.Context, task Task) TaskResult {
	objectKey, err := parseObjectLocation(task.Location, "kodo", d.bucketID)
	if err != nil {
		return TaskResult{Checksum: task.Checksum, ErrorCause: err.Error()}
	}

	bucketManager := qiniustorage.NewBucketManager(d.mac, &qiniustorage.Config{
		Region: d.region,
	})

	if err := bucketManager.Delete(d.bucketID, objectKey); err != nil {
		return TaskResult{Checksum: task.Checksum, ErrorCause: fmt.Sprintf("failed to delete from qiniu kodo: %v", err)}
	}

	return TaskResult{Checksum: task.Checksum, Location: task.Location}
}

// PrepareForRestoration 为缓存恢复任务划分工作子集
func (d *QiniuDriver) PrepareForRestoration(tasks []Task) ([]WorkingSubset, map[string]string, error) {
	rejected := make(map[string]string)
	accepted := make([]Task, 0, len(tasks))

	for _, task := range tasks {
		if task.TargetPath == "" {
			rejected[task.Checksum] = "target path missing"
			continue
		}
		if _, err := parseObjectLocation(task.Location, "kodo", d.bucketID); err != nil {
			rejected[task.Checksum] = err.Error()
			continue
		}
		accepted = append(accepted, task)
	}

	subsets := chunkSubsets(fmt.Sprintf("%s-restore", d.name), accepted, d.maxBatch, d.restoreTask)
	return subsets, rejected, nil
}

// restoreTask 执行单个恢复任务
// 通过带签名的私有下载链接读取对象内容
func (d *QiniuDriver) restoreTask(ctx context.Context, task Task) TaskResult {
	objectKey, err := parseObjectLocation(task.Location, "kodo", d.bucketID)
	if err != nil {
		return TaskResult{Checksum: task.Checksum, ErrorCause: err.Error()}
	}

	// 获取私有下载链接
	deadline := time.Now().Add(time.Hour).Unix()
	privateURL := qiniustorage.MakePrivateURL(d.mac, d.bucketDomain, objectKey, deadline)

	resp, err := http.Get(privateURL)
	if err != nil {
		return TaskResult{Checksum: task.Checksum, ErrorCause: fmt.Sprintf("failed to download from qiniu kodo: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return TaskResult{Checksum: task.Checksum, ErrorCause: fmt.Sprintf("failed to download from qiniu kodo, status: %s", resp.Status)}
	}

	size, err := writeCacheFile(task.TargetPath, resp.Body)
	if err != nil {
		return TaskResult{Checksum: task.Checksum, ErrorCause: err.Error()}
	}

	logger.Debugf("[七牛云驱动] 恢复完成: %s -> %s, %d字节", objectKey, task.TargetPath, size)
	return TaskResult{Checksum: task.Checksum, Location: task.TargetPath, Size: size}
}
