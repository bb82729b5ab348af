// Package handler 提供HTTP处理器
package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/tiervault/tiervault/internal/errors"
	"github.com/tiervault/tiervault/internal/flow"
	"github.com/tiervault/tiervault/internal/response"
	"github.com/tiervault/tiervault/internal/service/ingest"
)

// 租户请求头名称，缺省时归入default租户
const tenantHeader = "X-Tenant-ID"

// FlowHandler 流项接入处理器
// 接收入站流项并交给接入管道，分组准入结果同步返回
type FlowHandler struct {
	pipeline *ingest.Pipeline
}

// NewFlowHandler 创建流项接入处理器实例
func NewFlowHandler(pipeline *ingest.Pipeline) *FlowHandler {
	return &FlowHandler{
		pipeline: pipeline,
	}
}

// SubmitStorage 提交存储流项
func (h *FlowHandler) SubmitStorage(c *gin.Context) {
	var item flow.StorageFlowItem
	if err := c.ShouldBindJSON(&item); err != nil {
		response.BadRequest(c, "请求参数无效: "+err.Error())
		return
	}

	h.submit(c, &flow.Item{
		Kind:    flow.KindStorage,
		Tenant:  tenantOf(c),
		Storage: &item,
	})
}

// SubmitDeletion 提交删除流项
func (h *FlowHandler) SubmitDeletion(c *gin.Context) {
	var item flow.DeletionFlowItem
	if err := c.ShouldBindJSON(&item); err != nil {
		response.BadRequest(c, "请求参数无效: "+err.Error())
		return
	}

	h.submit(c, &flow.Item{
		Kind:     flow.KindDeletion,
		Tenant:   tenantOf(c),
		Deletion: &item,
	})
}

// SubmitAvailability 提交可用性流项
func (h *FlowHandler) SubmitAvailability(c *gin.Context) {
	var item flow.AvailabilityFlowItem
	if err := c.ShouldBindJSON(&item); err != nil {
		response.BadRequest(c, "请求参数无效: "+err.Error())
		return
	}

	h.submit(c, &flow.Item{
		Kind:         flow.KindAvailability,
		Tenant:       tenantOf(c),
		Availability: &item,
	})
}

// SubmitCopy 提交复制流项
func (h *FlowHandler) SubmitCopy(c *gin.Context) {
	var item flow.CopyFlowItem
	if err := c.ShouldBindJSON(&item); err != nil {
		response.BadRequest(c, "请求参数无效: "+err.Error())
		return
	}

	h.submit(c, &flow.Item{
		Kind:   flow.KindCopy,
		Tenant: tenantOf(c),
		Copy:   &item,
	})
}

// submit 提交流项到接入管道并返回准入结果
func (h *FlowHandler) submit(c *gin.Context, item *flow.Item) {
	granted, err := h.pipeline.Submit(item)
	if err != nil {
		response.Error(c, int(errors.ErrInternalServer), err.Error())
		return
	}
	if !granted {
		response.TooManyRequests(c, errors.GetErrorMessage(errors.ErrGroupSizeExceeded), gin.H{
			"group_id": item.GroupID(),
			"state":    "DENIED",
		})
		return
	}

	response.SuccessWithMessage(c, "已准入", gin.H{
		"group_id": item.GroupID(),
		"state":    "GRANTED",
		"members":  item.MemberCount(),
	})
}

// tenantOf 解析请求所属租户
func tenantOf(c *gin.Context) string {
	if tenant := c.GetHeader(tenantHeader); tenant != "" {
		return tenant
	}
	return "default"
}
