// Package storage 提供云存储对象键的构造和解析辅助函数
// 物理位置统一记录为 <scheme>://<bucket>/<objectKey> 形式的URL
package storage

import (
	"fmt"
	"path"
	"strings"
)

// makeObjectKey 根据任务构造对象键
// 形如 <子目录>/<校验和>_<文件名>，子目录为空时省略
func makeObjectKey(task Task) string {
	return path.Join(task.SubDirectory, task.Checksum+"_"+task.FileName)
}

// makeObjectLocation 构造对象的物理位置URL
func makeObjectLocation(scheme, bucket, objectKey string) string {
	return fmt.Sprintf("%s://%s/%s", scheme, bucket, objectKey)
}

// parseObjectLocation 从物理位置URL解析对象键
// 位置的scheme或bucket不匹配时返回错误
func parseObjectLocation(location, scheme, bucket string) (string, error) {
	prefix := fmt.Sprintf("%s://%s/", scheme, bucket)
	if !strings.HasPrefix(location, prefix) {
		return "", fmt.Errorf("location %s does not belong to %s://%s", location, scheme, bucket)
	}
	objectKey := strings.TrimPrefix(location, prefix)
	if objectKey == "" {
		return "", fmt.Errorf("location %s has empty object key", location)
	}
	return objectKey, nil
}
