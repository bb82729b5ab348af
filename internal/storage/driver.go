// Package storage 提供可插拔的存储后端驱动
// 驱动把一批请求任务划分为若干工作子集（每个子集对应一个调度作业），
// 并负责实际的字节搬运；不被任何驱动接纳的任务带原因拒绝返回
package storage

import (
	"context"
	"fmt"
)

// Task 驱动任务
// 请求台账中的一条请求在交付驱动时的快照
type Task struct {
	RequestID    uint   // 请求台账行ID
	Checksum     string // 文件内容校验和
	FileName     string // 原始文件名称
	MimeType     string // 文件MIME类型
	FileSize     int64  // 文件大小，单位为字节
	OriginURL    string // 存储任务的源文件位置（本地路径或URL）
	Location     string // 后端中的物理位置，删除和恢复任务必填
	SubDirectory string // 目标存储中的子目录，可选
	TargetPath   string // 恢复任务的本地缓存目标路径
	ForceDelete  bool   // 删除任务：物理删除失败时是否按逻辑成功处理
}

// TaskResult 驱动任务结果
// ErrorCause为空表示成功
type TaskResult struct {
	Checksum   string // 文件内容校验和
	Location   string // 成功后的物理位置（存储/复制任务）或本地路径（恢复任务）
	Size       int64  // 实际搬运的字节数
	ErrorCause string // 失败原因，为空表示成功
}

// WorkingSubset 工作子集
// 驱动定义的请求批次划分，一个子集对应一个异步调度作业
type WorkingSubset interface {
	// Name 返回子集名称，用于日志和作业追踪
	Name() string

	// Tasks 返回子集包含的任务
	Tasks() []Task

	// Run 执行子集内所有任务的字节搬运，逐任务返回结果
	Run(ctx context.Context) []TaskResult
}

// Driver 存储后端驱动接口
// PrepareFor*返回零个或多个工作子集，以及驱动直接拒绝的任务及原因（按校验和索引）
type Driver interface {
	// Name 返回存储位置名称
	Name() string

	// Tier 返回存储层级（ONLINE或NEARLINE）
	Tier() string

	// IsActive 返回存储位置是否启用
	IsActive() bool

	// PrepareForStorage 为存储任务划分工作子集
	PrepareForStorage(tasks []Task) ([]WorkingSubset, map[string]string, error)

	// PrepareForDeletion 为删除任务划分工作子集
	PrepareForDeletion(tasks []Task) ([]WorkingSubset, map[string]string, error)

	// PrepareForRestoration 为缓存恢复任务划分工作子集
	PrepareForRestoration(tasks []Task) ([]WorkingSubset, map[string]string, error)
}

// taskSubset 通用工作子集实现
// 持有任务列表和单任务执行函数，Run串行执行并响应上下文取消
type taskSubset struct {
	name  string
	tasks []Task
	exec  func(ctx context.Context, task Task) TaskResult
}

// Name 返回子集名称
func (s *taskSubset) Name() string {
	return s.name
}

// Tasks 返回子集包含的任务
func (s *taskSubset) Tasks() []Task {
	return s.tasks
}

// Run 执行子集内所有任务
// 上下文取消后剩余任务按取消原因返回失败
func (s *taskSubset) Run(ctx context.Context) []TaskResult {
	results := make([]TaskResult, 0, len(s.tasks))
	for _, task := range s.tasks {
		select {
		case <-ctx.Done():
			results = append(results, TaskResult{
				Checksum:   task.Checksum,
				ErrorCause: fmt.Sprintf("job cancelled: %v", ctx.Err()),
			})
			continue
		default:
		}
		results = append(results, s.exec(ctx, task))
	}
	return results
}

// chunkSubsets 把任务按最大批量拆分为若干工作子集
// maxBatch小于等于0时不拆分，所有任务归入一个子集
func chunkSubsets(prefix string, tasks []Task, maxBatch int, exec func(ctx context.Context, task Task) TaskResult) []WorkingSubset {
	if len(tasks) == 0 {
		return nil
	}
	if maxBatch <= 0 || len(tasks) <= maxBatch {
		return []WorkingSubset{&taskSubset{name: prefix, tasks: tasks, exec: exec}}
	}

	var subsets []WorkingSubset
	for i := 0; i < len(tasks); i += maxBatch {
		end := i + maxBatch
		if end > len(tasks) {
			end = len(tasks)
		}
		subsets = append(subsets, &taskSubset{
			name:  fmt.Sprintf("%s-%d", prefix, len(subsets)),
			tasks: tasks[i:end],
			exec:  exec,
		})
	}
	return subsets
}
