// Package ledger 请求台账生命周期状态机的单元测试
package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tiervault/tiervault/internal/database"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupTestDB 设置测试数据库
func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// 内存SQLite每个连接是独立数据库，限制连接池为单连接
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&database.StorageRequest{},
		&database.DeletionRequest{},
		&database.CacheRequest{},
		&database.CopyRequest{},
	)
	require.NoError(t, err)

	return db
}

// createStorageRequest 创建一条存储请求测试数据
func createStorageRequest(t *testing.T, db *gorm.DB, checksum, storageName, status string) *database.StorageRequest {
	req := &database.StorageRequest{
		RequestFields: database.RequestFields{
			Checksum: checksum,
			Storage:  storageName,
			Status:   status,
		},
		FileName: "test.pdf",
		Owners:   []string{"owner-1"},
	}
	require.NoError(t, db.Create(req).Error)
	return req
}

// TestMarkPending 测试TODO到PENDING迁移
func TestMarkPending(t *testing.T) {
	db := setupTestDB(t)
	service := NewLedgerService(db)

	t.Run("批量迁移并绑定作业引用", func(t *testing.T) {
		a := createStorageRequest(t, db, "sum-a", "primary", database.StatusTodo)
		b := createStorageRequest(t, db, "sum-b", "primary", database.StatusTodo)

		err := service.MarkPending(KindStorage, []uint{a.ID, b.ID}, "job-1")
		require.NoError(t, err)

		var reloaded database.StorageRequest
		require.NoError(t, db.First(&reloaded, a.ID).Error)
		assert.Equal(t, database.StatusPending, reloaded.Status)
		assert.Equal(t, "job-1", reloaded.JobReference)
	})

	t.Run("非TODO成员导致整体回滚", func(t *testing.T) {
		c := createStorageRequest(t, db, "sum-c", "primary", database.StatusTodo)
		d := createStorageRequest(t, db, "sum-d", "primary", database.StatusError)

		err := service.MarkPending(KindStorage, []uint{c.ID, d.ID}, "job-2")
		require.ErrorIs(t, err, ErrIllegalTransition)

		// 回滚后c仍为TODO
		var reloaded database.StorageRequest
		require.NoError(t, db.First(&reloaded, c.ID).Error)
		assert.Equal(t, database.StatusTodo, reloaded.Status)
		assert.Empty(t, reloaded.JobReference)
	})

	t.Run("空ID列表为空操作", func(t *testing.T) {
		assert.NoError(t, service.MarkPending(KindStorage, nil, "job-3"))
	})
}

// TestMarkErrorAndRetry 测试失败标记与重试
func TestMarkErrorAndRetry(t *testing.T) {
	db := setupTestDB(t)
	service := NewLedgerService(db)

	req := createStorageRequest(t, db, "sum-e", "primary", database.StatusTodo)
	require.NoError(t, service.MarkPending(KindStorage, []uint{req.ID}, "job-1"))

	t.Run("PENDING迁移到ERROR", func(t *testing.T) {
		err := service.MarkError(KindStorage, req.ID, "disk full")
		require.NoError(t, err)

		var reloaded database.StorageRequest
		require.NoError(t, db.First(&reloaded, req.ID).Error)
		assert.Equal(t, database.StatusError, reloaded.Status)
		assert.Equal(t, "disk full", reloaded.ErrorCause)
	})

	t.Run("重试清除失败原因和作业引用", func(t *testing.T) {
		err := service.Retry(KindStorage, req.ID)
		require.NoError(t, err)

		var reloaded database.StorageRequest
		require.NoError(t, db.First(&reloaded, req.ID).Error)
		assert.Equal(t, database.StatusTodo, reloaded.Status)
		assert.Empty(t, reloaded.ErrorCause)
		assert.Empty(t, reloaded.JobReference)
	})

	t.Run("非ERROR状态不可重试", func(t *testing.T) {
		err := service.Retry(KindStorage, req.ID)
		assert.ErrorIs(t, err, ErrIllegalTransition)
	})

	t.Run("不存在的请求不可标记失败", func(t *testing.T) {
		err := service.MarkError(KindStorage, 99999, "whatever")
		assert.ErrorIs(t, err, ErrIllegalTransition)
	})
}

// TestComplete 测试请求完成删除台账行
func TestComplete(t *testing.T) {
	db := setupTestDB(t)
	service := NewLedgerService(db)

	req := createStorageRequest(t, db, "sum-f", "primary", database.StatusPending)
	require.NoError(t, service.Complete(KindStorage, req.ID))

	var count int64
	require.NoError(t, db.Model(&database.StorageRequest{}).Where("id = ?", req.ID).Count(&count).Error)
	assert.Zero(t, count, "完成的请求行应被删除")
}

// TestReleaseDelayed 测试DELAYED存储请求放行
func TestReleaseDelayed(t *testing.T) {
	db := setupTestDB(t)
	service := NewLedgerService(db)

	delayed := createStorageRequest(t, db, "sum-g", "primary", database.StatusDelayed)
	other := createStorageRequest(t, db, "sum-g", "secondary", database.StatusDelayed)

	released, err := service.ReleaseDelayed("sum-g", "primary")
	require.NoError(t, err)
	assert.Equal(t, int64(1), released)

	var reloaded database.StorageRequest
	require.NoError(t, db.First(&reloaded, delayed.ID).Error)
	assert.Equal(t, database.StatusTodo, reloaded.Status)

	// 其他存储位置上的DELAYED请求不受影响
	reloaded = database.StorageRequest{}
	require.NoError(t, db.First(&reloaded, other.ID).Error)
	assert.Equal(t, database.StatusDelayed, reloaded.Status)
}

// TestReconcilePending 测试启动对账
func TestReconcilePending(t *testing.T) {
	db := setupTestDB(t)
	service := NewLedgerService(db)

	pending := createStorageRequest(t, db, "sum-h", "primary", database.StatusTodo)
	require.NoError(t, service.MarkPending(KindStorage, []uint{pending.ID}, "stale-job"))

	cacheReq := &database.CacheRequest{
		RequestFields: database.RequestFields{
			Checksum:     "sum-i",
			Storage:      "archive",
			Status:       database.StatusPending,
			JobReference: "stale-job-2",
		},
	}
	require.NoError(t, db.Create(cacheReq).Error)

	require.NoError(t, service.ReconcilePending())

	var storageReloaded database.StorageRequest
	require.NoError(t, db.First(&storageReloaded, pending.ID).Error)
	assert.Equal(t, database.StatusTodo, storageReloaded.Status)
	assert.Empty(t, storageReloaded.JobReference)

	var cacheReloaded database.CacheRequest
	require.NoError(t, db.First(&cacheReloaded, cacheReq.ID).Error)
	assert.Equal(t, database.StatusTodo, cacheReloaded.Status)
	assert.Empty(t, cacheReloaded.JobReference)
}

// TestListRequests 测试分页查询与过滤
func TestListRequests(t *testing.T) {
	db := setupTestDB(t)
	service := NewLedgerService(db)

	createStorageRequest(t, db, "sum-1", "primary", database.StatusTodo)
	createStorageRequest(t, db, "sum-2", "primary", database.StatusError)
	createStorageRequest(t, db, "sum-3", "secondary", database.StatusTodo)

	t.Run("按状态过滤", func(t *testing.T) {
		requests, total, err := service.ListStorageRequests(database.StatusTodo, "", 1, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Len(t, requests, 2)
	})

	t.Run("按存储位置过滤", func(t *testing.T) {
		requests, total, err := service.ListStorageRequests("", "secondary", 1, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, requests, 1)
		assert.Equal(t, "sum-3", requests[0].Checksum)
	})

	t.Run("分页", func(t *testing.T) {
		requests, total, err := service.ListStorageRequests("", "", 2, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		assert.Len(t, requests, 1)
	})
}
