package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tiervault/tiervault/internal/errors"
	"github.com/tiervault/tiervault/internal/response"
	"github.com/tiervault/tiervault/internal/service/cache"
	"github.com/tiervault/tiervault/internal/service/group"
	"github.com/tiervault/tiervault/internal/service/ledger"
	"github.com/tiervault/tiervault/internal/service/reference"
	"github.com/tiervault/tiervault/internal/storage"
)

// AdminHandler 运维管理处理器
// 暴露请求台账、文件引用、分组和缓存的查询与运维操作
type AdminHandler struct {
	ledger   ledger.LedgerService
	refs     reference.ReferenceService
	groups   group.GroupService
	cache    cache.CacheService
	registry *storage.Registry
}

// NewAdminHandler 创建运维管理处理器实例
func NewAdminHandler(
	ledgerService ledger.LedgerService,
	refService reference.ReferenceService,
	groupService group.GroupService,
	cacheService cache.CacheService,
	registry *storage.Registry,
) *AdminHandler {
	return &AdminHandler{
		ledger:   ledgerService,
		refs:     refService,
		groups:   groupService,
		cache:    cacheService,
		registry: registry,
	}
}

// ListReferences 分页查询文件引用
func (h *AdminHandler) ListReferences(c *gin.Context) {
	page, pageSize := pagination(c)
	refs, total, err := h.refs.List(c.Query("storage"), c.Query("owner"), page, pageSize)
	if err != nil {
		response.InternalServerError(c, "查询文件引用失败")
		return
	}
	response.SuccessWithPage(c, refs, total, page, pageSize)
}

// GetReference 查询单条文件引用
func (h *AdminHandler) GetReference(c *gin.Context) {
	checksum := c.Param("checksum")
	storageName := c.Query("storage")
	if checksum == "" || storageName == "" {
		response.BadRequest(c, "校验和与存储位置不能为空")
		return
	}

	ref, err := h.refs.Get(checksum, storageName)
	if err != nil {
		response.NotFound(c, errors.GetErrorMessage(errors.ErrReferenceNotFound))
		return
	}
	response.Success(c, ref)
}

// ListRequests 分页查询请求台账
func (h *AdminHandler) ListRequests(c *gin.Context) {
	kind := ledger.RequestKind(c.Param("kind"))
	status := c.Query("status")
	storageName := c.Query("storage")
	page, pageSize := pagination(c)

	switch kind {
	case ledger.KindStorage:
		requests, total, err := h.ledger.ListStorageRequests(status, storageName, page, pageSize)
		if err != nil {
			response.InternalServerError(c, "查询存储请求失败")
			return
		}
		response.SuccessWithPage(c, requests, total, page, pageSize)
	case ledger.KindDeletion:
		requests, total, err := h.ledger.ListDeletionRequests(status, storageName, page, pageSize)
		if err != nil {
			response.InternalServerError(c, "查询删除请求失败")
			return
		}
		response.SuccessWithPage(c, requests, total, page, pageSize)
	case ledger.KindCache:
		requests, total, err := h.ledger.ListCacheRequests(status, page, pageSize)
		if err != nil {
			response.InternalServerError(c, "查询缓存恢复请求失败")
			return
		}
		response.SuccessWithPage(c, requests, total, page, pageSize)
	case ledger.KindCopy:
		requests, total, err := h.ledger.ListCopyRequests(status, storageName, page, pageSize)
		if err != nil {
			response.InternalServerError(c, "查询复制请求失败")
			return
		}
		response.SuccessWithPage(c, requests, total, page, pageSize)
	default:
		response.BadRequest(c, "未知的请求类型: "+string(kind))
	}
}

// RetryRequest 重试失败请求
func (h *AdminHandler) RetryRequest(c *gin.Context) {
	kind := ledger.RequestKind(c.Param("kind"))
	switch kind {
	case ledger.KindStorage, ledger.KindDeletion, ledger.KindCache, ledger.KindCopy:
	default:
		response.BadRequest(c, "未知的请求类型: "+string(kind))
		return
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "请求ID无效")
		return
	}

	if err := h.ledger.Retry(kind, uint(id)); err != nil {
		response.Error(c, int(errors.ErrRequestNotRetryable), err.Error())
		return
	}
	response.SuccessWithMessage(c, "请求已重置为TODO等待重试", gin.H{
		"kind": kind,
		"id":   id,
	})
}

// GetGroup 查询分组及其成员
func (h *AdminHandler) GetGroup(c *gin.Context) {
	groupID := c.Param("group_id")
	groupRecord, members, err := h.groups.Get(groupID)
	if err != nil {
		response.NotFound(c, errors.GetErrorMessage(errors.ErrGroupNotFound))
		return
	}

	response.Success(c, gin.H{
		"group":   groupRecord,
		"members": members,
	})
}

// ListOpenGroups 分页查询未达终态的分组
func (h *AdminHandler) ListOpenGroups(c *gin.Context) {
	page, pageSize := pagination(c)
	groups, total, err := h.groups.ListOpen(page, pageSize)
	if err != nil {
		response.InternalServerError(c, "查询分组失败")
		return
	}
	response.SuccessWithPage(c, groups, total, page, pageSize)
}

// ListCacheFiles 分页查询缓存文件
func (h *AdminHandler) ListCacheFiles(c *gin.Context) {
	page, pageSize := pagination(c)
	files, total, err := h.cache.List(c.Query("state"), page, pageSize)
	if err != nil {
		response.InternalServerError(c, "查询缓存文件失败")
		return
	}
	response.SuccessWithPage(c, files, total, page, pageSize)
}

// GetCacheUsage 查询缓存用量
func (h *AdminHandler) GetCacheUsage(c *gin.Context) {
	usage, err := h.cache.Usage()
	if err != nil {
		response.InternalServerError(c, "查询缓存用量失败")
		return
	}
	response.Success(c, gin.H{
		"used_bytes": usage,
	})
}

// TriggerCacheSweep 手动触发缓存淘汰扫描
func (h *AdminHandler) TriggerCacheSweep(c *gin.Context) {
	if err := h.cache.Sweep(); err != nil {
		response.InternalServerError(c, "缓存淘汰扫描失败")
		return
	}
	response.SuccessWithMessage(c, "缓存淘汰扫描完成", nil)
}

// ListStorages 查询已配置的存储位置
func (h *AdminHandler) ListStorages(c *gin.Context) {
	response.Success(c, h.registry.Locations())
}

// pagination 解析分页参数
func pagination(c *gin.Context) (int, int) {
	page := 1
	pageSize := 10

	if pageStr := c.Query("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}
	if pageSizeStr := c.Query("page_size"); pageSizeStr != "" {
		if ps, err := strconv.Atoi(pageSizeStr); err == nil && ps > 0 && ps <= 100 {
			pageSize = ps
		}
	}
	return page, pageSize
}
