// Package ingest 提供批量接入管道
// 每个租户一条内存队列和一个固定周期的批量消费循环：每次弹出至多BulkSize
// 条流项交给领域处理器，积压超过BulkSize时在同一个周期内连续排空。
// 队列深度越过高水位（背压系数 x BulkSize）后，生产者侧的提交调用阻塞。
// 分组准入在提交时同步完成，调用方无需等待批量消费即可得到GRANTED/DENIED
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/tiervault/tiervault/config"
	"github.com/tiervault/tiervault/internal/database"
	"github.com/tiervault/tiervault/internal/flow"
	"github.com/tiervault/tiervault/internal/logger"
	"github.com/tiervault/tiervault/internal/service/group"
)

// BatchHandler 批量流项处理器接口
// 由编排层实现，一次调用处理一个租户的一批流项
type BatchHandler interface {
	ProcessBatch(tenant string, items []*flow.Item)
}

// Pipeline 批量接入管道
type Pipeline struct {
	cfg     *config.IngestConfig // 接入管道配置
	groups  group.GroupService   // 业务分组服务，提交时同步准入
	handler BatchHandler         // 批量流项处理器

	mu     sync.Mutex              // 保护租户队列表
	queues map[string]*tenantQueue // 按租户的接入队列

	ctx    context.Context    // 消费循环上下文
	cancel context.CancelFunc // 停止管道时取消全部消费循环
	wg     sync.WaitGroup     // 等待消费循环收尾
}

// NewPipeline 创建批量接入管道实例
func NewPipeline(cfg *config.IngestConfig, groupService group.GroupService, handler BatchHandler) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		cfg:     cfg,
		groups:  groupService,
		handler: handler,
		queues:  make(map[string]*tenantQueue),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Submit 提交一条入站流项
// 同步执行分组准入：被拒绝的流项不入队，返回false。
// 队列深度超过高水位时本调用阻塞，直到消费循环腾出空间
// 返回:
//
//	bool - 分组是否准入
//	error - 准入持久化失败时返回错误
func (p *Pipeline) Submit(item *flow.Item) (bool, error) {
	granted, err := p.groups.Open(item.GroupID(), groupTypeOf(item.Kind), membersOf(item))
	if err != nil {
		return false, err
	}
	if !granted {
		return false, nil
	}

	queue := p.tenantQueueFor(item.Tenant)
	queue.push(item, p.highWatermark())
	return true, nil
}

// Stop 停止管道
// 取消全部消费循环并等待收尾，每个租户在退出前做最后一次排空
func (p *Pipeline) Stop() {
	p.cancel()

	p.mu.Lock()
	for _, queue := range p.queues {
		queue.wake()
	}
	p.mu.Unlock()

	p.wg.Wait()
	logger.Info("[接入管道] 管道已停止")
}

// Depth 返回指定租户当前的队列深度
func (p *Pipeline) Depth(tenant string) int {
	p.mu.Lock()
	queue, ok := p.queues[tenant]
	p.mu.Unlock()
	if !ok {
		return 0
	}
	return queue.depth()
}

// highWatermark 返回触发背压的队列深度
func (p *Pipeline) highWatermark() int {
	return p.cfg.BulkSize * p.cfg.BackpressureFactor
}

// tenantQueueFor 获取或创建租户队列，首次创建时启动该租户的消费循环
func (p *Pipeline) tenantQueueFor(tenant string) *tenantQueue {
	p.mu.Lock()
	defer p.mu.Unlock()

	queue, ok := p.queues[tenant]
	if ok {
		return queue
	}

	queue = newTenantQueue()
	p.queues[tenant] = queue

	p.wg.Add(1)
	go p.drainLoop(tenant, queue)
	logger.Infof("[接入管道] 租户 %s 的消费循环已启动", tenant)
	return queue
}

// drainLoop 单租户消费循环
// 每个租户同一时刻只有一次排空在执行，不同租户并发排空
func (p *Pipeline) drainLoop(tenant string, queue *tenantQueue) {
	defer p.wg.Done()

	ticker := time.NewTicker(time.Duration(p.cfg.DrainIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			// 退出前排空到队列见底，不丢弃已准入的流项
			p.drainRemainder(tenant, queue)
			return
		case <-ticker.C:
			p.drain(tenant, queue)
		}
	}
}

// drain 排空一个租户队列
// 积压达到BulkSize时在本次触发内连续消费，避免等待下一个周期
func (p *Pipeline) drain(tenant string, queue *tenantQueue) {
	for {
		batch := queue.popBatch(p.cfg.BulkSize)
		if len(batch) == 0 {
			return
		}
		p.handler.ProcessBatch(tenant, batch)
		if queue.depth() < p.cfg.BulkSize {
			return
		}
	}
}

// drainRemainder 停止时排空租户队列的全部剩余流项
// 与周期排空不同，不足一个完整批次的尾部也要交付
func (p *Pipeline) drainRemainder(tenant string, queue *tenantQueue) {
	for {
		batch := queue.popBatch(p.cfg.BulkSize)
		if len(batch) == 0 {
			return
		}
		p.handler.ProcessBatch(tenant, batch)
	}
}

// groupTypeOf 映射流项类型到分组请求类型
func groupTypeOf(kind flow.ItemKind) string {
	switch kind {
	case flow.KindStorage:
		return database.GroupTypeStorage
	case flow.KindDeletion:
		return database.GroupTypeDeletion
	case flow.KindAvailability:
		return database.GroupTypeAvailability
	case flow.KindCopy:
		return database.GroupTypeCopy
	}
	return ""
}

// membersOf 从流项提取分组成员
// 可用性流项准入时尚未确定存储位置，成员的存储位置为空
func membersOf(item *flow.Item) []group.Member {
	var members []group.Member
	switch item.Kind {
	case flow.KindStorage:
		for _, file := range item.Storage.Files {
			members = append(members, group.Member{Checksum: file.Checksum, Storage: file.Storage})
		}
	case flow.KindDeletion:
		for _, file := range item.Deletion.Files {
			members = append(members, group.Member{Checksum: file.Checksum, Storage: file.Storage})
		}
	case flow.KindAvailability:
		for _, checksum := range item.Availability.Checksums {
			members = append(members, group.Member{Checksum: checksum})
		}
	case flow.KindCopy:
		for _, file := range item.Copy.Files {
			members = append(members, group.Member{Checksum: file.Checksum, Storage: file.DestinationStorage})
		}
	}
	return members
}

// tenantQueue 单租户接入队列
// push在队列深度达到高水位时阻塞，popBatch唤醒等待的生产者
type tenantQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []*flow.Item
}

// newTenantQueue 创建租户队列
func newTenantQueue() *tenantQueue {
	q := &tenantQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push 入队一条流项
// 队列深度达到高水位时阻塞等待消费循环腾出空间
func (q *tenantQueue) push(item *flow.Item, highWatermark int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) >= highWatermark {
		q.cond.Wait()
	}
	q.items = append(q.items, item)
}

// popBatch 弹出至多n条流项
func (q *tenantQueue) popBatch(n int) []*flow.Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	if n > len(q.items) {
		n = len(q.items)
	}
	batch := make([]*flow.Item, n)
	copy(batch, q.items[:n])
	q.items = q.items[n:]

	q.cond.Broadcast()
	return batch
}

// depth 返回当前队列深度
func (q *tenantQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// wake 唤醒全部阻塞中的生产者
func (q *tenantQueue) wake() {
	q.cond.Broadcast()
}
