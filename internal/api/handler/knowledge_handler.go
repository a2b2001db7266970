package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"health-agent-go/internal/config"
	"health-agent-go/internal/constants"
	"health-agent-go/internal/logger"
	"health-agent-go/internal/parser"
	"health-agent-go/internal/processor"
	"health-agent-go/internal/types"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// KnowledgeHandler 知识库API处理器
type KnowledgeHandler struct {
	cfg     *config.Config
	service processor.KnowledgeService
}

// NewKnowledgeHandler 创建知识库处理器
func NewKnowledgeHandler(cfg *config.Config, service processor.KnowledgeService) *KnowledgeHandler {
	return &KnowledgeHandler{
		cfg:     cfg,
		service: service,
	}
}

// Upload 处理知识文档上传
// POST /api/v1/knowledge/upload (multipart form, 字段名 file)
func (h *KnowledgeHandler) Upload(c context.Context, ctx *app.RequestContext) {
	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		RespondFail(ctx, consts.StatusBadRequest, "文件未找到")
		return
	}

	maxSize := int64(h.cfg.Server.MaxUploadSizeMB) * 1024 * 1024
	if maxSize > 0 && fileHeader.Size > maxSize {
		RespondFail(ctx, consts.StatusRequestEntityTooLarge,
			fmt.Sprintf("文件超过大小上限 %dMB", h.cfg.Server.MaxUploadSizeMB))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		RespondError(ctx, consts.StatusInternalServerError, "打开文件失败")
		return
	}
	defer file.Close()

	result, err := h.service.IngestDocument(c, fileHeader.Filename, file)
	if err != nil {
		if errors.Is(err, parser.ErrUnsupportedFileType) {
			RespondFail(ctx, consts.StatusBadRequest, "不支持的文件类型，仅接受PDF/CSV/Excel")
			return
		}
		logger.Ctx(c).Error().Err(err).Str("filename", fileHeader.Filename).Msg("文档摄取失败")
		RespondError(ctx, consts.StatusInternalServerError, "文档摄取失败")
		return
	}

	// 没有抽取出任何条目按客户端错误处理
	if result.Status == constants.StatusNoEntries {
		RespondFail(ctx, consts.StatusBadRequest, "文档中没有可抽取的知识条目")
		return
	}

	RespondSuccess(ctx, consts.StatusOK, "文档摄取完成", result)
}

// AddEntry 手动录入单条知识
// POST /api/v1/knowledge/add
func (h *KnowledgeHandler) AddEntry(c context.Context, ctx *app.RequestContext) {
	var entry types.KnowledgeEntry
	if err := ctx.BindAndValidate(&entry); err != nil {
		RespondFail(ctx, consts.StatusBadRequest, "请求体格式错误")
		return
	}

	created, err := h.service.AddEntry(c, entry)
	if err != nil {
		if errors.Is(err, processor.ErrEntryEmpty) {
			RespondFail(ctx, consts.StatusBadRequest,
				"healthImpact、recommendedStaffing、requiredSupplies 至少填写一项")
			return
		}
		logger.Ctx(c).Error().Err(err).Msg("手动录入知识条目失败")
		RespondError(ctx, consts.StatusInternalServerError, "录入知识条目失败")
		return
	}

	RespondSuccess(ctx, consts.StatusCreated, "知识条目已录入", created)
}

// List 分页查询知识条目
// GET /api/v1/knowledge?limit=100&offset=0&search=&season=&aqi=
func (h *KnowledgeHandler) List(c context.Context, ctx *app.RequestContext) {
	query := types.KnowledgeListQuery{
		Limit:  queryInt(ctx, "limit", 100),
		Offset: queryInt(ctx, "offset", 0),
		Search: ctx.Query("search"),
		Season: ctx.Query("season"),
		AQI:    ctx.Query("aqi"),
	}

	result, err := h.service.ListEntries(c, query)
	if err != nil {
		logger.Ctx(c).Error().Err(err).Msg("查询知识条目失败")
		RespondError(ctx, consts.StatusInternalServerError, "查询知识条目失败")
		return
	}

	RespondSuccess(ctx, consts.StatusOK, "查询成功", knowledgeListResponse{
		Entries: result.Items,
		Total:   result.Total,
		Limit:   result.Limit,
		Offset:  result.Offset,
		HasMore: result.HasMore,
	})
}

// knowledgeListResponse 列表响应载荷，条目数组命名为entries
type knowledgeListResponse struct {
	Entries []types.KnowledgeEntry `json:"entries"`
	Total   int64                  `json:"total"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
	HasMore bool                   `json:"hasMore"`
}

// Delete 删除知识条目
// DELETE /api/v1/knowledge/:id
func (h *KnowledgeHandler) Delete(c context.Context, ctx *app.RequestContext) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		RespondFail(ctx, consts.StatusBadRequest, "非法的条目ID")
		return
	}

	// 删除是幂等的，不存在的ID同样返回成功
	if err := h.service.DeleteEntry(c, id); err != nil {
		logger.Ctx(c).Error().Err(err).Uint64("id", id).Msg("删除知识条目失败")
		RespondError(ctx, consts.StatusInternalServerError, "删除知识条目失败")
		return
	}

	RespondSuccess(ctx, consts.StatusOK, "知识条目已删除", map[string]interface{}{"success": true, "id": id})
}

// Stats 知识库统计
// GET /api/v1/knowledge/stats
func (h *KnowledgeHandler) Stats(c context.Context, ctx *app.RequestContext) {
	stats, err := h.service.Stats(c)
	if err != nil {
		logger.Ctx(c).Error().Err(err).Msg("获取知识库统计失败")
		RespondError(ctx, consts.StatusInternalServerError, "获取知识库统计失败")
		return
	}

	RespondSuccess(ctx, consts.StatusOK, "查询成功", stats)
}

// queryInt 读取整型查询参数，缺省或非法时返回默认值
func queryInt(ctx *app.RequestContext, key string, defaultValue int) int {
	raw := ctx.Query(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return v
}
