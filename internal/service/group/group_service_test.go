// Package group 业务分组准入与终态通知的单元测试
package group

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tiervault/tiervault/config"
	"github.com/tiervault/tiervault/internal/database"
	"github.com/tiervault/tiervault/internal/events"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupGroupService 设置测试服务
func setupGroupService(t *testing.T, maxSize int) (GroupService, *events.MemoryNotifier, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// 内存SQLite每个连接是独立数据库，限制连接池为单连接
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&database.RequestGroup{}, &database.GroupMember{}))

	notifier := events.NewMemoryNotifier()
	service := NewGroupService(db, &config.GroupConfig{MaxRequestsPerGroup: maxSize}, notifier)
	return service, notifier, db
}

// TestOpenGroup 测试分组准入
func TestOpenGroup(t *testing.T) {
	service, notifier, db := setupGroupService(t, 3)

	t.Run("准入成功发出GRANTED事件", func(t *testing.T) {
		granted, err := service.Open("g-1", database.GroupTypeStorage, []Member{
			{Checksum: "sum-a", Storage: "primary"},
			{Checksum: "sum-b", Storage: "primary"},
		})
		require.NoError(t, err)
		assert.True(t, granted)

		groupRecord, members, err := service.Get("g-1")
		require.NoError(t, err)
		assert.Equal(t, database.GroupStateOpen, groupRecord.State)
		assert.Equal(t, 2, groupRecord.MemberCount)
		assert.Len(t, members, 2)

		groupEvents := notifier.GroupEvents()
		require.Len(t, groupEvents, 1)
		assert.Equal(t, events.GroupGranted, groupEvents[0].State)
	})

	t.Run("重复成员折叠后准入", func(t *testing.T) {
		granted, err := service.Open("g-2", database.GroupTypeDeletion, []Member{
			{Checksum: "sum-a", Storage: "primary"},
			{Checksum: "sum-a", Storage: "primary"},
			{Checksum: "sum-b", Storage: "primary"},
		})
		require.NoError(t, err)
		assert.True(t, granted)

		_, members, err := service.Get("g-2")
		require.NoError(t, err)
		assert.Len(t, members, 2, "重复的(校验和, 存储位置)应折叠为一个成员")
	})

	t.Run("超过上限被拒绝且不落库", func(t *testing.T) {
		granted, err := service.Open("g-3", database.GroupTypeStorage, []Member{
			{Checksum: "sum-1", Storage: "primary"},
			{Checksum: "sum-2", Storage: "primary"},
			{Checksum: "sum-3", Storage: "primary"},
			{Checksum: "sum-4", Storage: "primary"},
		})
		require.NoError(t, err)
		assert.False(t, granted)

		var count int64
		require.NoError(t, db.Model(&database.RequestGroup{}).Where("group_id = ?", "g-3").Count(&count).Error)
		assert.Zero(t, count, "被拒绝的分组不应持久化")

		groupEvents := notifier.GroupEvents()
		last := groupEvents[len(groupEvents)-1]
		assert.Equal(t, events.GroupDenied, last.State)
		assert.Contains(t, last.ErrorCause, "exceeds limit")
	})

	t.Run("分组标识冲突返回错误", func(t *testing.T) {
		_, err := service.Open("g-1", database.GroupTypeStorage, []Member{
			{Checksum: "sum-x", Storage: "primary"},
		})
		assert.Error(t, err)
	})
}

// TestResolveMember 测试成员终态记录与恰好一次的终态事件
func TestResolveMember(t *testing.T) {
	service, notifier, _ := setupGroupService(t, 100)

	_, err := service.Open("g-done", database.GroupTypeStorage, []Member{
		{Checksum: "sum-a", Storage: "primary"},
		{Checksum: "sum-b", Storage: "primary"},
	})
	require.NoError(t, err)

	t.Run("部分解决不发终态事件", func(t *testing.T) {
		require.NoError(t, service.ResolveMember("g-done", "sum-a", "primary", false, ""))

		for _, event := range notifier.GroupEvents() {
			assert.NotEqual(t, events.GroupSuccess, event.State)
			assert.NotEqual(t, events.GroupError, event.State)
		}
	})

	t.Run("最后一个成员解决发出SUCCESS", func(t *testing.T) {
		require.NoError(t, service.ResolveMember("g-done", "sum-b", "primary", false, ""))

		groupRecord, _, err := service.Get("g-done")
		require.NoError(t, err)
		assert.Equal(t, database.GroupStateSuccess, groupRecord.State)

		terminal := terminalEvents(notifier, "g-done")
		require.Len(t, terminal, 1)
		assert.Equal(t, events.GroupSuccess, terminal[0].State)
	})

	t.Run("重复解决是幂等空操作", func(t *testing.T) {
		require.NoError(t, service.ResolveMember("g-done", "sum-b", "primary", false, ""))
		assert.Len(t, terminalEvents(notifier, "g-done"), 1, "终态事件不应重复发出")
	})
}

// TestResolveMemberFailure 测试失败成员进入ERROR终态
func TestResolveMemberFailure(t *testing.T) {
	service, notifier, _ := setupGroupService(t, 100)

	_, err := service.Open("g-err", database.GroupTypeDeletion, []Member{
		{Checksum: "sum-a", Storage: "primary"},
		{Checksum: "sum-b", Storage: "primary"},
	})
	require.NoError(t, err)

	require.NoError(t, service.ResolveMember("g-err", "sum-a", "primary", false, ""))
	require.NoError(t, service.ResolveMember("g-err", "sum-b", "primary", true, "delete failed"))

	terminal := terminalEvents(notifier, "g-err")
	require.Len(t, terminal, 1)
	assert.Equal(t, events.GroupError, terminal[0].State)
	require.Len(t, terminal[0].FailedMembers, 1)
	assert.Equal(t, "sum-b", terminal[0].FailedMembers[0].Checksum)
	assert.Equal(t, "delete failed", terminal[0].FailedMembers[0].ErrorCause)
}

// TestResolveAllFor 测试跨分组的成员解决
func TestResolveAllFor(t *testing.T) {
	t.Run("同类型分组全部解决", func(t *testing.T) {
		service, notifier, _ := setupGroupService(t, 100)

		_, err := service.Open("g-x", database.GroupTypeStorage, []Member{{Checksum: "sum-shared", Storage: "primary"}})
		require.NoError(t, err)
		_, err = service.Open("g-y", database.GroupTypeStorage, []Member{{Checksum: "sum-shared", Storage: "primary"}})
		require.NoError(t, err)

		require.NoError(t, service.ResolveAllFor("sum-shared", "primary", database.GroupTypeStorage, false, ""))

		assert.Len(t, terminalEvents(notifier, "g-x"), 1)
		assert.Len(t, terminalEvents(notifier, "g-y"), 1)
	})

	t.Run("不同类型分组互不影响", func(t *testing.T) {
		service, notifier, _ := setupGroupService(t, 100)

		_, err := service.Open("g-del", database.GroupTypeDeletion, []Member{{Checksum: "sum-mixed", Storage: "primary"}})
		require.NoError(t, err)
		_, err = service.Open("g-sto", database.GroupTypeStorage, []Member{{Checksum: "sum-mixed", Storage: "primary"}})
		require.NoError(t, err)

		require.NoError(t, service.ResolveAllFor("sum-mixed", "primary", database.GroupTypeDeletion, false, ""))

		assert.Len(t, terminalEvents(notifier, "g-del"), 1)
		assert.Empty(t, terminalEvents(notifier, "g-sto"), "仅匹配类型的分组成员应被解决")

		storageGroup, _, err := service.Get("g-sto")
		require.NoError(t, err)
		assert.Equal(t, database.GroupStateOpen, storageGroup.State)
	})
}

// TestConcurrentResolution 测试并发解决下终态事件仍恰好一次
func TestConcurrentResolution(t *testing.T) {
	service, notifier, _ := setupGroupService(t, 200)

	members := make([]Member, 0, 50)
	for i := 0; i < 50; i++ {
		members = append(members, Member{Checksum: fmt.Sprintf("sum-%d", i), Storage: "primary"})
	}
	_, err := service.Open("g-conc", database.GroupTypeStorage, members)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = service.ResolveMember("g-conc", fmt.Sprintf("sum-%d", n), "primary", false, "")
		}(i)
	}
	wg.Wait()

	assert.Len(t, terminalEvents(notifier, "g-conc"), 1, "并发解决下终态事件应恰好发出一次")
}

// terminalEvents 过滤指定分组的终态事件
func terminalEvents(notifier *events.MemoryNotifier, groupID string) []events.FileRequestsGroupEvent {
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
