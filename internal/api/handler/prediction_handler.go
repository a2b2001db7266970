package handler

import (
	"context"
	"errors"
	"strconv"

	"health-agent-go/internal/config"
	"health-agent-go/internal/logger"
	"health-agent-go/internal/processor"
	"health-agent-go/internal/types"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"gorm.io/gorm"
)

// PredictionHandler 预测API处理器
type PredictionHandler struct {
	cfg     *config.Config
	service processor.PredictionService
}

// NewPredictionHandler 创建预测处理器
func NewPredictionHandler(cfg *config.Config, service processor.PredictionService) *PredictionHandler {
	return &PredictionHandler{
		cfg:     cfg,
		service: service,
	}
}

// predictResponse 预测响应载荷，cached标记是否命中缓存
type predictResponse struct {
	Prediction *types.PredictionRecord `json:"prediction"`
	Cached     bool                    `json:"cached"`
}

// Predict 为场景生成人力物资建议
// POST /api/v1/predict
func (h *PredictionHandler) Predict(c context.Context, ctx *app.RequestContext) {
	var scenario types.ScenarioInput
	if err := ctx.BindAndValidate(&scenario); err != nil {
		RespondFail(ctx, consts.StatusBadRequest, "请求体格式错误")
		return
	}

	record, cached, err := h.service.Predict(c, scenario)
	if err != nil {
		if errors.Is(err, processor.ErrInvalidScenario) {
			RespondFail(ctx, consts.StatusBadRequest, err.Error())
			return
		}
		logger.Ctx(c).Error().Err(err).Msg("生成预测失败")
		RespondError(ctx, consts.StatusInternalServerError, "生成预测失败")
		return
	}

	RespondSuccess(ctx, consts.StatusOK, "预测完成", predictResponse{
		Prediction: record,
		Cached:     cached,
	})
}

// Get 按ID获取历史预测
// GET /api/v1/predictions/:id
func (h *PredictionHandler) Get(c context.Context, ctx *app.RequestContext) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		RespondFail(ctx, consts.StatusBadRequest, "非法的预测ID")
		return
	}

	record, err := h.service.GetPrediction(c, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			RespondFail(ctx, consts.StatusNotFound, "预测记录不存在")
			return
		}
		logger.Ctx(c).Error().Err(err).Uint64("id", id).Msg("获取预测记录失败")
		RespondError(ctx, consts.StatusInternalServerError, "获取预测记录失败")
		return
	}

	RespondSuccess(ctx, consts.StatusOK, "查询成功", record)
}

// List 分页获取历史预测
// GET /api/v1/predictions?limit=20&offset=0
func (h *PredictionHandler) List(c context.Context, ctx *app.RequestContext) {
	limit := queryInt(ctx, "limit", 20)
	offset := queryInt(ctx, "offset", 0)

	result, err := h.service.ListPredictions(c, limit, offset)
	if err != nil {
		logger.Ctx(c).Error().Err(err).Msg("查询预测历史失败")
		RespondError(ctx, consts.StatusInternalServerError, "查询预测历史失败")
		return
	}

	RespondSuccess(ctx, consts.StatusOK, "查询成功", predictionListResponse{
		Predictions: result.Items,
		Total:       result.Total,
		Limit:       result.Limit,
		Offset:      result.Offset,
		HasMore:     result.HasMore,
	})
}

// predictionListResponse 历史列表响应载荷，数组命名为predictions
type predictionListResponse struct {
	Predictions []types.PredictionRecord `json:"predictions"`
	Total       int64                    `json:"total"`
	Limit       int                      `json:"limit"`
	Offset      int                      `json:"offset"`
	HasMore     bool                     `json:"hasMore"`
}
