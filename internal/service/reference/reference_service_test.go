// Package reference 文件引用注册表的单元测试
// 覆盖属主添加与移除、重复请求折叠、删除阻塞下的DELAYED排队和作业完成回调
package reference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tiervault/tiervault/config"
	"github.com/tiervault/tiervault/internal/database"
	"github.com/tiervault/tiervault/internal/events"
	"github.com/tiervault/tiervault/internal/flow"
	"github.com/tiervault/tiervault/internal/service/group"
	"github.com/tiervault/tiervault/internal/service/ledger"
	"github.com/tiervault/tiervault/internal/storage"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupReferenceService 设置测试服务
// 注册两个本地存储位置：primary（启用）和disabled（停用）
func setupReferenceService(t *testing.T) (ReferenceService, *events.MemoryNotifier, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// 内存SQLite每个连接是独立数据库，限制连接池为单连接
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&database.FileReference{},
		&database.StorageRequest{},
		&database.DeletionRequest{},
		&database.CopyRequest{},
		&database.RequestGroup{},
		&database.GroupMember{},
	)
	require.NoError(t, err)

	registry, err := storage.NewRegistry([]config.StorageConfig{
		{Name: "primary", Provider: "local", Tier: database.TierOnline, Priority: 10, Active: true, BaseDir: t.TempDir()},
		{Name: "secondary", Provider: "local", Tier: database.TierOnline, Priority: 20, Active: true, BaseDir: t.TempDir()},
		{Name: "disabled", Provider: "local", Tier: database.TierOnline, Priority: 30, Active: false, BaseDir: t.TempDir()},
	})
	require.NoError(t, err)

	notifier := events.NewMemoryNotifier()
	ledgerService := ledger.NewLedgerService(db)
	groupService := group.NewGroupService(db, &config.GroupConfig{MaxRequestsPerGroup: 100}, notifier)
	service := NewReferenceService(db, registry, ledgerService, groupService, notifier)
	return service, notifier, db
}

// storageDTO 构造存储请求DTO测试数据
func storageDTO(checksum, storageName, owner string) flow.FileStorageRequestDTO {
	return flow.FileStorageRequestDTO{
		FileName:  "paper.pdf",
		Checksum:  checksum,
		Algorithm: "SHA-256",
		MimeType:  "application/pdf",
		FileSize:  1024,
		Owner:     owner,
		OriginURL: "/tmp/source/paper.pdf",
		Storage:   storageName,
	}
}

// TestAddOwnerNewReference 测试引用不存在时创建存储请求
func TestAddOwnerNewReference(t *testing.T) {
	service, _, db := setupReferenceService(t)

	t.Run("创建TODO存储请求", func(t *testing.T) {
		err := service.AddOwner(storageDTO("sum-new", "primary", "owner-1"), "g-1")
		require.NoError(t, err)

		var req database.StorageRequest
		require.NoError(t, db.Where("checksum = ? AND storage = ?", "sum-new", "primary").First(&req).Error)
		assert.Equal(t, database.StatusTodo, req.Status)
		assert.Equal(t, []string{"owner-1"}, req.Owners)
		assert.Equal(t, "g-1", req.GroupID)
	})

	t.Run("重复提交折叠为属主合并", func(t *testing.T) {
		err := service.AddOwner(storageDTO("sum-new", "primary", "owner-2"), "g-2")
		require.NoError(t, err)

		var count int64
		require.NoError(t, db.Model(&database.StorageRequest{}).
			Where("checksum = ? AND storage = ?", "sum-new", "primary").Count(&count).Error)
		assert.Equal(t, int64(1), count, "同一标识只应存在一条活跃请求")

		var req database.StorageRequest
		require.NoError(t, db.Where("checksum = ? AND storage = ?", "sum-new", "primary").First(&req).Error)
		assert.ElementsMatch(t, []string{"owner-1", "owner-2"}, req.Owners)
	})
}

// TestAddOwnerStorageUnavailable 测试目标存储不可用
func TestAddOwnerStorageUnavailable(t *testing.T) {
	service, notifier, db := setupReferenceService(t)

	t.Run("停用的存储位置", func(t *testing.T) {
		err := service.AddOwner(storageDTO("sum-a", "disabled", "owner-1"), "g-1")
		require.NoError(t, err)

		var req database.StorageRequest
		require.NoError(t, db.Where("checksum = ? AND storage = ?", "sum-a", "disabled").First(&req).Error)
		assert.Equal(t, database.StatusError, req.Status)
		assert.Contains(t, req.ErrorCause, "storage unavailable")
	})

	t.Run("未配置的存储位置", func(t *testing.T) {
		err := service.AddOwner(storageDTO("sum-b", "unknown", "owner-1"), "g-2")
		require.NoError(t, err)

		var req database.StorageRequest
		require.NoError(t, db.Where("checksum = ? AND storage = ?", "sum-b", "unknown").First(&req).Error)
		assert.Equal(t, database.StatusError, req.Status)

		found := false
		for _, event := range notifier.FileEvents() {
			if event.Type == events.FileStoreError && event.Checksum == "sum-b" {
				found = true
			}
		}
		assert.True(t, found, "应发出STORE_ERROR事件")
	})
}

// TestAddOwnerExistingReference 测试向已存在的引用添加属主
func TestAddOwnerExistingReference(t *testing.T) {
	service, notifier, db := setupReferenceService(t)

	ref := &database.FileReference{
		Checksum: "sum-exist",
		Storage:  "primary",
		FileName: "paper.pdf",
		Owners:   []string{"owner-1"},
		Location: "/data/primary/sum-exist_paper.pdf",
	}
	require.NoError(t, db.Create(ref).Error)

	t.Run("新属主追加并立即通知成功", func(t *testing.T) {
		err := service.AddOwner(storageDTO("sum-exist", "primary", "owner-2"), "g-1")
		require.NoError(t, err)

		var reloaded database.FileReference
		require.NoError(t, db.Where("checksum = ? AND storage = ?", "sum-exist", "primary").First(&reloaded).Error)
		assert.ElementsMatch(t, []string{"owner-1", "owner-2"}, reloaded.Owners)

		last := notifier.FileEvents()[len(notifier.FileEvents())-1]
		assert.Equal(t, events.FileStored, last.Type)
	})

	t.Run("已有属主幂等", func(t *testing.T) {
		err := service.AddOwner(storageDTO("sum-exist", "primary", "owner-2"), "g-2")
		require.NoError(t, err)

		var reloaded database.FileReference
		require.NoError(t, db.Where("checksum = ? AND storage = ?", "sum-exist", "primary").First(&reloaded).Error)
		assert.Len(t, reloaded.Owners, 2)
	})

	t.Run("不创建存储请求", func(t *testing.T) {
		var count int64
		require.NoError(t, db.Model(&database.StorageRequest{}).
			Where("checksum = ?", "sum-exist").Count(&count).Error)
		assert.Zero(t, count)
	})
}

// TestAddOwnerSourceEqualsTarget 测试源即目标直接记录引用
func TestAddOwnerSourceEqualsTarget(t *testing.T) {
	service, _, db := setupReferenceService(t)

	dto := storageDTO("sum-inplace", "primary", "owner-1")
	dto.OriginURL = "storage://primary/docs/sum-inplace_paper.pdf"
	require.NoError(t, service.AddOwner(dto, "g-1"))

	var ref database.FileReference
	require.NoError(t, db.Where("checksum = ? AND storage = ?", "sum-inplace", "primary").First(&ref).Error)
	assert.Equal(t, "docs/sum-inplace_paper.pdf", ref.Location)
	assert.Equal(t, []string{"owner-1"}, ref.Owners)

	var count int64
	require.NoError(t, db.Model(&database.StorageRequest{}).Where("checksum = ?", "sum-inplace").Count(&count).Error)
	assert.Zero(t, count, "内容已在目标存储中，不应创建存储请求")
}

// TestAddOwnerDelayedByDeletion 测试删除进行中时存储请求排队
func TestAddOwnerDelayedByDeletion(t *testing.T) {
	service, _, db := setupReferenceService(t)

	ref := &database.FileReference{
		Checksum: "sum-del",
		Storage:  "primary",
		FileName: "paper.pdf",
		Owners:   []string{},
		Location: "/data/primary/sum-del_paper.pdf",
	}
	require.NoError(t, db.Create(ref).Error)

	deletion := &database.DeletionRequest{
		RequestFields: database.RequestFields{
			Checksum:     "sum-del",
			Storage:      "primary",
			Status:       database.StatusPending,
			JobReference: "job-1",
		},
		Location: ref.Location,
	}
	require.NoError(t, db.Create(deletion).Error)

	t.Run("物理删除执行中转为DELAYED", func(t *testing.T) {
		err := service.AddOwner(storageDTO("sum-del", "primary", "owner-new"), "g-1")
		require.NoError(t, err)

		var req database.StorageRequest
		require.NoError(t, db.Where("checksum = ? AND storage = ?", "sum-del", "primary").First(&req).Error)
		assert.Equal(t, database.StatusDelayed, req.Status)
		assert.Equal(t, []string{"owner-new"}, req.Owners)
	})

	t.Run("删除完成后DELAYED请求放行", func(t *testing.T) {
		service.HandleDeletionSuccess(deletion)

		var req database.StorageRequest
		require.NoError(t, db.Where("checksum = ? AND storage = ?", "sum-del", "primary").First(&req).Error)
		assert.Equal(t, database.StatusTodo, req.Status)

		// 引用和删除请求都已移除
		var refCount, delCount int64
		require.NoError(t, db.Model(&database.FileReference{}).Where("checksum = ?", "sum-del").Count(&refCount).Error)
		require.NoError(t, db.Model(&database.DeletionRequest{}).Where("checksum = ?", "sum-del").Count(&delCount).Error)
		assert.Zero(t, refCount)
		assert.Zero(t, delCount)
	})
}

// TestAddOwnerCancelsUnstartedDeletion 测试取消未开始的删除请求
func TestAddOwnerCancelsUnstartedDeletion(t *testing.T) {
	service, notifier, db := setupReferenceService(t)

	ref := &database.FileReference{
		Checksum: "sum-cancel",
		Storage:  "primary",
		FileName: "paper.pdf",
		Owners:   []string{},
		Location: "/data/primary/sum-cancel_paper.pdf",
	}
	require.NoError(t, db.Create(ref).Error)
	require.NoError(t, db.Create(&database.DeletionRequest{
		RequestFields: database.RequestFields{
			Checksum: "sum-cancel",
			Storage:  "primary",
			Status:   database.StatusTodo,
			GroupID:  "g-del-cancel",
		},
		Location: ref.Location,
	}).Error)
	seedGroup(t, db, "g-del-cancel", database.GroupTypeDeletion, "sum-cancel", "primary")

	require.NoError(t, service.AddOwner(storageDTO("sum-cancel", "primary", "owner-1"), "g-1"))

	t.Run("删除请求被取消且引用保留", func(t *testing.T) {
		var delCount int64
		require.NoError(t, db.Model(&database.DeletionRequest{}).Where("checksum = ?", "sum-cancel").Count(&delCount).Error)
		assert.Zero(t, delCount, "未开始的删除请求应被取消")

		var reloaded database.FileReference
		require.NoError(t, db.Where("checksum = ? AND storage = ?", "sum-cancel", "primary").First(&reloaded).Error)
		assert.Equal(t, []string{"owner-1"}, reloaded.Owners)
	})

	t.Run("所属删除分组按成功解决", func(t *testing.T) {
		var groupRecord database.RequestGroup
		require.NoError(t, db.Where("group_id = ?", "g-del-cancel").First(&groupRecord).Error)
		assert.Equal(t, database.GroupStateSuccess, groupRecord.State)

		var member database.GroupMember
		require.NoError(t, db.Where("group_id = ?", "g-del-cancel").First(&member).Error)
		assert.True(t, member.Resolved)
		assert.False(t, member.Error)

		terminal := groupTerminalEvents(notifier, "g-del-cancel")
		require.Len(t, terminal, 1, "取消的删除分组应发出终态事件")
		assert.Equal(t, events.GroupSuccess, terminal[0].State)
	})
}

// TestDeletionCompletionKeepsStorageGroupOpen 测试删除完成只解决删除分组
// 同一(校验和, 存储位置)上排队的存储分组在其请求放行后仍保持OPEN
func TestDeletionCompletionKeepsStorageGroupOpen(t *testing.T) {
	service, notifier, db := setupReferenceService(t)

	ref := &database.FileReference{
		Checksum: "sum-scoped",
		Storage:  "primary",
		FileName: "paper.pdf",
		Owners:   []string{},
		Location: "/data/primary/sum-scoped_paper.pdf",
	}
	require.NoError(t, db.Create(ref).Error)

	deletion := &database.DeletionRequest{
		RequestFields: database.RequestFields{
			Checksum:     "sum-scoped",
			Storage:      "primary",
			Status:       database.StatusPending,
			JobReference: "job-1",
			GroupID:      "g-del",
		},
		Location: ref.Location,
	}
	require.NoError(t, db.Create(deletion).Error)
	seedGroup(t, db, "g-del", database.GroupTypeDeletion, "sum-scoped", "primary")
	seedGroup(t, db, "g-sto", database.GroupTypeStorage, "sum-scoped", "primary")

	// 删除执行中，存储请求排队为DELAYED
	require.NoError(t, service.AddOwner(storageDTO("sum-scoped", "primary", "owner-1"), "g-sto"))
	var queued database.StorageRequest
	require.NoError(t, db.Where("checksum = ? AND storage = ?", "sum-scoped", "primary").First(&queued).Error)
	require.Equal(t, database.StatusDelayed, queued.Status)

	service.HandleDeletionSuccess(deletion)

	t.Run("DELAYED存储请求放行为TODO", func(t *testing.T) {
		var released database.StorageRequest
		require.NoError(t, db.Where("checksum = ? AND storage = ?", "sum-scoped", "primary").First(&released).Error)
		assert.Equal(t, database.StatusTodo, released.Status)
	})

	t.Run("删除分组解决为SUCCESS", func(t *testing.T) {
		var deletionGroup database.RequestGroup
		require.NoError(t, db.Where("group_id = ?", "g-del").First(&deletionGroup).Error)
		assert.Equal(t, database.GroupStateSuccess, deletionGroup.State)
	})

	t.Run("存储分组保持OPEN不发终态事件", func(t *testing.T) {
		var storageGroup database.RequestGroup
		require.NoError(t, db.Where("group_id = ?", "g-sto").First(&storageGroup).Error)
		assert.Equal(t, database.GroupStateOpen, storageGroup.State)

		var member database.GroupMember
		require.NoError(t, db.Where("group_id = ?", "g-sto").First(&member).Error)
		assert.False(t, member.Resolved, "存储分组成员的请求尚未完成")

		assert.Empty(t, groupTerminalEvents(notifier, "g-sto"))
	})
}

// seedGroup 直接落库一个单成员的开放分组
func seedGroup(t *testing.T, db *gorm.DB, groupID, requestType, checksum, storageName string) {
	t.Helper()
	require.NoError(t, db.Create(&database.RequestGroup{
		GroupID:     groupID,
		RequestType: requestType,
		MemberCount: 1,
		State:       database.GroupStateOpen,
	}).Error)
	require.NoError(t, db.Create(&database.GroupMember{
		GroupID:     groupID,
		Checksum:    checksum,
		Storage:     storageName,
		RequestType: requestType,
	}).Error)
}

// groupTerminalEvents 过滤指定分组的终态事件
func groupTerminalEvents(notifier *events.MemoryNotifier, groupID string) []events.FileRequestsGroupEvent {
	var out []events.FileRequestsGroupEvent
	for _, event := range notifier.GroupEvents() {
		if event.GroupID != groupID {
			continue
		}
		if event.State == events.GroupSuccess || event.State == events.GroupError {
			out = append(out, event)
		}
	}
	return out
}

// TestRemoveOwner 测试属主解除引用
func TestRemoveOwner(t *testing.T) {
	service, notifier, db := setupReferenceService(t)

	ref := &database.FileReference{
		Checksum: "sum-rm",
		Storage:  "primary",
		FileName: "paper.pdf",
		Owners:   []string{"owner-1", "owner-2"},
		Location: "/data/primary/sum-rm_paper.pdf",
	}
	require.NoError(t, db.Create(ref).Error)

	t.Run("属主仍有剩余时仅更新集合", func(t *testing.T) {
		err := service.RemoveOwner(flow.FileDeletionRequestDTO{
			Checksum: "sum-rm", Storage: "primary", Owner: "owner-1",
		}, "g-1")
		require.NoError(t, err)

		var reloaded database.FileReference
		require.NoError(t, db.Where("checksum = ? AND storage = ?", "sum-rm", "primary").First(&reloaded).Error)
		assert.Equal(t, []string{"owner-2"}, reloaded.Owners)

		var delCount int64
		require.NoError(t, db.Model(&database.DeletionRequest{}).Where("checksum = ?", "sum-rm").Count(&delCount).Error)
		assert.Zero(t, delCount)
	})

	t.Run("最后一个属主解除触发删除调度", func(t *testing.T) {
		err := service.RemoveOwner(flow.FileDeletionRequestDTO{
			Checksum: "sum-rm", Storage: "primary", Owner: "owner-2",
		}, "g-2")
		require.NoError(t, err)

		var reloaded database.FileReference
		require.NoError(t, db.Where("checksum = ? AND storage = ?", "sum-rm", "primary").First(&reloaded).Error)
		assert.Empty(t, reloaded.Owners, "引用保留但属主集合为空")

		var deletion database.DeletionRequest
		require.NoError(t, db.Where("checksum = ? AND storage = ?", "sum-rm", "primary").First(&deletion).Error)
		assert.Equal(t, database.StatusTodo, deletion.Status)
		assert.Equal(t, ref.Location, deletion.Location)
	})

	t.Run("引用不存在时解决为失败", func(t *testing.T) {
		err := service.RemoveOwner(flow.FileDeletionRequestDTO{
			Checksum: "sum-none", Storage: "primary", Owner: "owner-1",
		}, "g-3")
		require.NoError(t, err)

		found := false
		for _, event := range notifier.FileEvents() {
			if event.Type == events.FileDeletionError && event.Checksum == "sum-none" {
				found = true
			}
		}
		assert.True(t, found)
	})
}

// TestRemoveOwnerUnmanagedStorage 测试未配置后端的引用直接移除
func TestRemoveOwnerUnmanagedStorage(t *testing.T) {
	service, notifier, db := setupReferenceService(t)

	require.NoError(t, db.Create(&database.FileReference{
		Checksum: "sum-legacy",
		Storage:  "retired-backend",
		FileName: "paper.pdf",
		Owners:   []string{"owner-1"},
	}).Error)

	err := service.RemoveOwner(flow.FileDeletionRequestDTO{
		Checksum: "sum-legacy", Storage: "retired-backend", Owner: "owner-1",
	}, "g-1")
	require.NoError(t, err)

	var refCount, delCount int64
	require.NoError(t, db.Model(&database.FileReference{}).Where("checksum = ?", "sum-legacy").Count(&refCount).Error)
	require.NoError(t, db.Model(&database.DeletionRequest{}).Where("checksum = ?", "sum-legacy").Count(&delCount).Error)
	assert.Zero(t, refCount, "未配置后端的引用应直接移除")
	assert.Zero(t, delCount, "不应创建删除请求")

	var fullyDeleted bool
	for _, event := range notifier.FileEvents() {
		if event.Type == events.FileFullyDeleted && event.Checksum == "sum-legacy" {
			fullyDeleted = true
		}
	}
	assert.True(t, fullyDeleted)
}

// TestForceDelete 测试强制删除在物理失败下按逻辑成功处理
func TestForceDelete(t *testing.T) {
	service, notifier, db := setupReferenceService(t)

	require.NoError(t, db.Create(&database.FileReference{
		Checksum: "sum-force",
		Storage:  "primary",
		FileName: "paper.pdf",
		Owners:   []string{},
		Location: "/data/primary/sum-force_paper.pdf",
	}).Error)
	deletion := &database.DeletionRequest{
		RequestFields: database.RequestFields{
			Checksum: "sum-force",
			Storage:  "primary",
			Status:   database.StatusPending,
		},
		Location:    "/data/primary/sum-force_paper.pdf",
		ForceDelete: true,
	}
	require.NoError(t, db.Create(deletion).Error)

	service.HandleDeletionError(deletion, "backend corrupted")

	var refCount int64
	require.NoError(t, db.Model(&database.FileReference{}).Where("checksum = ?", "sum-force").Count(&refCount).Error)
	assert.Zero(t, refCount, "强制删除下物理失败仍应移除引用")

	var delCount int64
	require.NoError(t, db.Model(&database.DeletionRequest{}).Where("checksum = ?", "sum-force").Count(&delCount).Error)
	assert.Zero(t, delCount)

	var fullyDeleted bool
	for _, event := range notifier.FileEvents() {
		if event.Type == events.FileFullyDeleted && event.Checksum == "sum-force" {
			fullyDeleted = true
		}
	}
	assert.True(t, fullyDeleted, "对外仍通知完全删除")
}

// TestHandleDeletionError 测试普通删除失败进入ERROR
func TestHandleDeletionError(t *testing.T) {
	service, _, db := setupReferenceService(t)

	require.NoError(t, db.Create(&database.FileReference{
		Checksum: "sum-fail",
		Storage:  "primary",
		Owners:   []string{},
		Location: "/data/primary/sum-fail",
	}).Error)
	deletion := &database.DeletionRequest{
		RequestFields: database.RequestFields{
			Checksum: "sum-fail",
			Storage:  "primary",
			Status:   database.StatusPending,
		},
		Location: "/data/primary/sum-fail",
	}
	require.NoError(t, db.Create(deletion).Error)

	service.HandleDeletionError(deletion, "permission denied")

	var reloaded database.DeletionRequest
	require.NoError(t, db.First(&reloaded, deletion.ID).Error)
	assert.Equal(t, database.StatusError, reloaded.Status)
	assert.Equal(t, "permission denied", reloaded.ErrorCause)

	// 引用保留，等待重试
	var refCount int64
	require.NoError(t, db.Model(&database.FileReference{}).Where("checksum = ?", "sum-fail").Count(&refCount).Error)
	assert.Equal(t, int64(1), refCount)
}

// TestHandleStorageSuccess 测试存储作业成功回调
func TestHandleStorageSuccess(t *testing.T) {
	service, _, db := setupReferenceService(t)

	req := &database.StorageRequest{
		RequestFields: database.RequestFields{
			Checksum: "sum-done",
			Storage:  "primary",
			Status:   database.StatusPending,
			GroupID:  "g-1",
		},
		FileName: "paper.pdf",
		FileSize: 1024,
		Owners:   []string{"owner-1", "owner-2"},
	}
	require.NoError(t, db.Create(req).Error)

	service.HandleStorageSuccess(req, "/data/primary/sum-done_paper.pdf")

	var ref database.FileReference
	require.NoError(t, db.Where("checksum = ? AND storage = ?", "sum-done", "primary").First(&ref).Error)
	assert.ElementsMatch(t, []string{"owner-1", "owner-2"}, ref.Owners)
	assert.Equal(t, "/data/primary/sum-done_paper.pdf", ref.Location)

	var reqCount int64
	require.NoError(t, db.Model(&database.StorageRequest{}).Where("checksum = ?", "sum-done").Count(&reqCount).Error)
	assert.Zero(t, reqCount, "完成的存储请求行应被删除")
}

// TestRequestCopy 测试复制请求
func TestRequestCopy(t *testing.T) {
	service, notifier, db := setupReferenceService(t)

	require.NoError(t, db.Create(&database.FileReference{
		Checksum: "sum-copy",
		Storage:  "primary",
		FileName: "paper.pdf",
		FileSize: 2048,
		Owners:   []string{"owner-1"},
		Location: "/data/primary/sum-copy_paper.pdf",
	}).Error)

	t.Run("源存在时创建复制请求", func(t *testing.T) {
		err := service.RequestCopy(flow.FileCopyRequestDTO{
			Checksum: "sum-copy", SourceStorage: "primary", DestinationStorage: "secondary", Owner: "owner-2",
		}, "g-1")
		require.NoError(t, err)

		var req database.CopyRequest
		require.NoError(t, db.Where("checksum = ? AND storage = ?", "sum-copy", "secondary").First(&req).Error)
		assert.Equal(t, database.StatusTodo, req.Status)
		assert.Equal(t, "primary", req.SourceStorage)
		assert.Equal(t, "/data/primary/sum-copy_paper.pdf", req.SourceURL)
		assert.Equal(t, int64(2048), req.FileSize)
	})

	t.Run("源不存在时解决为失败", func(t *testing.T) {
		err := service.RequestCopy(flow.FileCopyRequestDTO{
			Checksum: "sum-missing", SourceStorage: "primary", DestinationStorage: "secondary", Owner: "owner-1",
		}, "g-2")
		require.NoError(t, err)

		found := false
		for _, event := range notifier.FileEvents() {
			if event.Type == events.FileStoreError && event.Checksum == "sum-missing" {
				found = true
			}
		}
		assert.True(t, found)
	})

	t.Run("目标存储不可用时解决为失败", func(t *testing.T) {
		err := service.RequestCopy(flow.FileCopyRequestDTO{
			Checksum: "sum-copy", SourceStorage: "primary", DestinationStorage: "disabled", Owner: "owner-1",
		}, "g-3")
		require.NoError(t, err)

		last := notifier.FileEvents()[len(notifier.FileEvents())-1]
		assert.Equal(t, events.FileStoreError, last.Type)
		assert.Contains(t, last.ErrorCause, "storage unavailable")
	})
}

// TestParseStorageOrigin 测试storage://形式源URL解析
func TestParseStorageOrigin(t *testing.T) {
	storageName, path, ok := parseStorageOrigin("storage://primary/docs/file.pdf")
	assert.True(t, ok)
	assert.Equal(t, "primary", storageName)
	assert.Equal(t, "docs/file.pdf", path)

	_, _, ok = parseStorageOrigin("/tmp/file.pdf")
	assert.False(t, ok)

	_, _, ok = parseStorageOrigin("storage://noslash")
	assert.False(t, ok)
}
