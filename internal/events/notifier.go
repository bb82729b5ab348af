// Package events 提供事件分发接口的内置实现
// LogNotifier把事件写入日志，MemoryNotifier在内存中缓冲事件供测试和中继消费
package events

import (
	"sync"
	"time"

	"github.com/tiervault/tiervault/internal/logger"
)

// LogNotifier 日志事件分发器
// 把所有事件按结构化字段写入应用日志
type LogNotifier struct{}

// NewLogNotifier 创建日志事件分发器实例
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

// NotifyFile 发送单文件事件
func (n *LogNotifier) NotifyFile(event FileReferenceEvent) {
	entry := logger.WithFields(map[string]interface{}{
		"type":     event.Type,
		"checksum": event.Checksum,
		"storage":  event.Storage,
		"group_id": event.GroupID,
	})
	if event.ErrorCause != "" {
		entry.WithField("error_cause", event.ErrorCause).Warn("文件事件")
		return
	}
	entry.Info("文件事件")
}

// NotifyGroup 发送分组事件
func (n *LogNotifier) NotifyGroup(event FileRequestsGroupEvent) {
	entry := logger.WithFields(map[string]interface{}{
		"group_id":     event.GroupID,
		"state":        event.State,
		"request_type": event.RequestType,
	})
	if event.State == GroupError || event.State == GroupDenied {
		entry.WithField("failed_members", len(event.FailedMembers)).Warn("分组事件")
		return
	}
	entry.Info("分组事件")
}

// MemoryNotifier 内存事件分发器
// 事件追加到内存切片，供测试断言和外部传输中继轮询
type MemoryNotifier struct {
	mu          sync.Mutex
	fileEvents  []FileReferenceEvent
	groupEvents []FileRequestsGroupEvent
}

// NewMemoryNotifier 创建内存事件分发器实例
func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{}
}

// NotifyFile 发送单文件事件
func (n *MemoryNotifier) NotifyFile(event FileReferenceEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fileEvents = append(n.fileEvents, event)
}

// NotifyGroup 发送分组事件
func (n *MemoryNotifier) NotifyGroup(event FileRequestsGroupEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.groupEvents = append(n.groupEvents, event)
}

// FileEvents 获取已缓冲的单文件事件副本
func (n *MemoryNotifier) FileEvents() []FileReferenceEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]FileReferenceEvent, len(n.fileEvents))
	copy(out, n.fileEvents)
	return out
}

// GroupEvents 获取已缓冲的分组事件副本
func (n *MemoryNotifier) GroupEvents() []FileRequestsGroupEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]FileRequestsGroupEvent, len(n.groupEvents))
	copy(out, n.groupEvents)
	return out
}

// CompositeNotifier 组合事件分发器
// 按顺序把事件转发给多个下游分发器
type CompositeNotifier struct {
	notifiers []Notifier
}

// NewCompositeNotifier 创建组合事件分发器实例
func NewCompositeNotifier(notifiers ...Notifier) *CompositeNotifier {
	return &CompositeNotifier{notifiers: notifiers}
}

// NotifyFile 发送单文件事件
func (n *CompositeNotifier) NotifyFile(event FileReferenceEvent) {
	for _, sub := range n.notifiers {
		sub.NotifyFile(event)
	}
}

// NotifyGroup 发送分组事件
func (n *CompositeNotifier) NotifyGroup(event FileRequestsGroupEvent) {
	for _, sub := range n.notifiers {
		sub.NotifyGroup(event)
	}
}
