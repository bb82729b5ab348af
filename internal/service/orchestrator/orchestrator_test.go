// Package orchestrator 批量流项编排的单元测试
package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tiervault/tiervault/config"
	"github.com/tiervault/tiervault/internal/database"
	"github.com/tiervault/tiervault/internal/events"
	"github.com/tiervault/tiervault/internal/flow"
	"github.com/tiervault/tiervault/internal/service/availability"
	cacheservice "github.com/tiervault/tiervault/internal/service/cache"
	"github.com/tiervault/tiervault/internal/service/group"
	"github.com/tiervault/tiervault/internal/service/ledger"
	"github.com/tiervault/tiervault/internal/service/reference"
	"github.com/tiervault/tiervault/internal/storage"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupOrchestrator 设置编排器及其下游真实服务
func setupOrchestrator(t *testing.T) (*Orchestrator, group.GroupService, *events.MemoryNotifier, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// 内存SQLite每个连接是独立数据库，限制连接池为单连接
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&database.FileReference{},
		&database.StorageRequest{},
		&database.DeletionRequest{},
		&database.CacheRequest{},
		&database.CopyRequest{},
		&database.CacheFile{},
		&database.RequestGroup{},
		&database.GroupMember{},
	))

	registry, err := storage.NewRegistry([]config.StorageConfig{
		{Name: "primary", Provider: "local", Tier: "ONLINE", Priority: 10, Active: true, BaseDir: t.TempDir()},
	})
	require.NoError(t, err)

	notifier := events.NewMemoryNotifier()
	ledgerService := ledger.NewLedgerService(db)
	groupService := group.NewGroupService(db, &config.GroupConfig{MaxRequestsPerGroup: 100}, notifier)
	refService := reference.NewReferenceService(db, registry, ledgerService, groupService, notifier)
	cacheService := cacheservice.NewCacheService(db, &config.CacheConfig{
		Directory: t.TempDir(), Capacity: 1 << 20, DefaultExpiryHr: 24,
	}, ledgerService, groupService, notifier)
	availService := availability.NewAvailabilityService(registry, refService, cacheService, groupService, notifier)

	return NewOrchestrator(refService, availService, groupService), groupService, notifier, db
}

// TestProcessStorageBatch 测试存储流项拆解为单文件操作
func TestProcessStorageBatch(t *testing.T) {
	orch, groups, _, db := setupOrchestrator(t)

	granted, err := groups.Open("g-batch", database.GroupTypeStorage, []group.Member{
		{Checksum: "sum-1", Storage: "primary"},
		{Checksum: "sum-2", Storage: "primary"},
	})
	require.NoError(t, err)
	require.True(t, granted)

	orch.ProcessBatch("tenant-a", []*flow.Item{{
		Kind:   flow.KindStorage,
		Tenant: "tenant-a",
		Storage: &flow.StorageFlowItem{
			GroupID: "g-batch",
			Files: []flow.FileStorageRequestDTO{
				{FileName: "a.pdf", Checksum: "sum-1", Owner: "owner-1", Storage: "primary", OriginURL: "/tmp/a.pdf"},
				{FileName: "b.pdf", Checksum: "sum-2", Owner: "owner-1", Storage: "primary", OriginURL: "/tmp/b.pdf"},
			},
		},
	}})

	var count int64
	require.NoError(t, db.Model(&database.StorageRequest{}).Where("status = ?", database.StatusTodo).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

// TestProcessAvailabilityBatch 测试可用性流项在线命中立即通知
func TestProcessAvailabilityBatch(t *testing.T) {
	orch, groups, notifier, db := setupOrchestrator(t)

	require.NoError(t, db.Create(&database.FileReference{
		Checksum: "sum-online",
		Storage:  "primary",
		FileName: "a.pdf",
		Owners:   []string{"owner-1"},
		Location: "/primary/sum-online_a.pdf",
	}).Error)
	granted, err := groups.Open("g-avail", database.GroupTypeAvailability,
		[]group.Member{{Checksum: "sum-online"}})
	require.NoError(t, err)
	require.True(t, granted)

	orch.ProcessBatch("tenant-a", []*flow.Item{{
		Kind:   flow.KindAvailability,
		Tenant: "tenant-a",
		Availability: &flow.AvailabilityFlowItem{
			RequestID:      "g-avail",
			Checksums:      []string{"sum-online"},
			ExpirationDate: time.Now().Add(time.Hour),
		},
	}})

	available := false
	for _, event := range notifier.FileEvents() {
		if event.Checksum == "sum-online" && event.Type == events.FileAvailable {
			available = true
		}
	}
	assert.True(t, available)

	success := false
	for _, event := range notifier.GroupEvents() {
		if event.GroupID == "g-avail" && event.State == events.GroupSuccess {
			success = true
		}
	}
	assert.True(t, success)
}

// TestProcessBatchResolvesFailedMember 测试处理失败的文件立即解决分组成员
func TestProcessBatchResolvesFailedMember(t *testing.T) {
	orch, groups, notifier, _ := setupOrchestrator(t)

	granted, err := groups.Open("g-del", database.GroupTypeDeletion,
		[]group.Member{{Checksum: "sum-missing", Storage: "primary"}})
	require.NoError(t, err)
	require.True(t, granted)

	// 引用不存在，删除在服务内部以失败成员解决，分组到达失败终态
	orch.ProcessBatch("tenant-a", []*flow.Item{{
		Kind:   flow.KindDeletion,
		Tenant: "tenant-a",
		Deletion: &flow.DeletionFlowItem{
			GroupID: "g-del",
			Files: []flow.FileDeletionRequestDTO{
				{Checksum: "sum-missing", Owner: "owner-1", Storage: "primary"},
			},
		},
	}})

	failed := false
	for _, event := range notifier.GroupEvents() {
		if event.GroupID == "g-del" && event.State == events.GroupError {
			failed = true
			require.Len(t, event.FailedMembers, 1)
			assert.Equal(t, "sum-missing", event.FailedMembers[0].Checksum)
		}
	}
	assert.True(t, failed)
}
