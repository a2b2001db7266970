package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"health-agent-go/internal/config"
	"health-agent-go/internal/constants"
	"health-agent-go/internal/logger"
	"health-agent-go/internal/storage/models"
	"health-agent-go/internal/types"
	agentpkg "health-agent-go/pkg/agent"

	"github.com/cloudwego/eino/components/tool"
	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PredictionService 预测服务接口：基于知识库为给定场景生成人力物资建议
type PredictionService interface {
	// Predict 为场景生成结构化建议，返回的bool表示是否命中缓存
	Predict(ctx context.Context, scenario types.ScenarioInput) (*types.PredictionRecord, bool, error)

	// GetPrediction 按ID获取历史预测
	GetPrediction(ctx context.Context, id uint64) (*types.PredictionRecord, error)

	// ListPredictions 按limit/offset获取历史预测
	ListPredictions(ctx context.Context, limit, offset int) (*types.PaginatedResult[types.PredictionRecord], error)
}

// predictionServiceImpl PredictionService 的默认实现
type predictionServiceImpl struct {
	components *Components
}

// NewPredictionService 创建预测服务
func NewPredictionService(components *Components) (PredictionService, error) {
	if components == nil || components.Storage == nil || components.Storage.Postgres == nil {
		return nil, ErrStorageNotInit
	}
	if components.AgentModel == nil {
		return nil, ErrAgentModelNotInit
	}
	return &predictionServiceImpl{components: components}, nil
}

// agentSystemPrompt 推荐代理的系统提示词。
// 要求代理先检索知识库、用计算工具核定人数，最终以固定JSON结构作答。
const agentSystemPrompt = `You are a healthcare resource planning AI agent for hospitals.

Your role is to analyze various factors and provide recommendations for:
1. Staffing adjustments (doctors, nurses, specialists, support staff)
2. Medical supply requirements
3. Patient advisories

You have access to:
- A knowledge base of historical healthcare patterns for festivals, AQI levels, and seasonal impacts
- A calculate_staffing tool to compute adjusted staff counts
- Your built-in medical knowledge for epidemics and diseases

When analyzing:
- Consider the festival/event and its typical health impacts
- Factor in AQI levels and respiratory health risks
- For epidemics, use your general medical knowledge of the disease
- Use current staffing and supply levels as baseline
- Categorize supplies into critical, essential, and optional
- Give clear patient advisories for different groups

When you have enough information, reply with "Final Answer:" followed by a single JSON object, no other text, in exactly this shape:

{
  "staffingRecommendations": {"doctors": 0, "nurses": 0, "specialists": 0, "supportStaff": 0, "specialtyBreakdown": {}},
  "supplyRecommendations": {"critical": [], "essential": [], "optional": []},
  "patientAdvisory": {"generalPublic": [], "vulnerableGroups": [], "preventiveMeasures": []},
  "reasoning": ""
}

Staffing numbers are the recommended totals, not deltas. Supply arrays hold item names or objects with an "item" field. "reasoning" must explain the recommendation and is never empty.`

// Predict 实现 PredictionService 接口。
// 流程：校验 -> 缓存查询 -> 代理工具循环 -> 结构化解析 -> PostgreSQL落库 -> Qdrant镜像 -> 写缓存。
func (ps *predictionServiceImpl) Predict(ctx context.Context, scenario types.ScenarioInput) (*types.PredictionRecord, bool, error) {
	ctx, span := tracer.Start(ctx, "Predict")
	defer span.End()

	if err := validateScenario(&scenario); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "场景无效")
		return nil, false, err
	}
	span.SetAttributes(
		attribute.String("festival", scenario.Festival),
		attribute.String("aqi", scenario.AQI),
		attribute.String("epidemic", scenario.Epidemic),
	)
	log := logger.Ctx(ctx).With().
		Str("festival", scenario.Festival).
		Str("aqi", scenario.AQI).
		Str("epidemic", scenario.Epidemic).
		Logger()

	scenarioHash := hashScenario(scenario)

	// 相同场景短期内直接复用缓存结果
	if ps.components.Storage.Redis != nil && constants.PredictionCacheTTL > 0 {
		if cached, err := ps.components.Storage.Redis.GetPredictionResult(ctx, scenarioHash); err == nil && cached != "" {
			var record types.PredictionRecord
			if uerr := json.Unmarshal([]byte(cached), &record); uerr == nil {
				log.Info().Str("scenario_hash", scenarioHash).Msg("预测命中缓存")
				span.SetAttributes(attribute.Bool("cache_hit", true))
				span.SetStatus(codes.Ok, "缓存命中")
				return &record, true, nil
			} else {
				log.Warn().Err(uerr).Msg("缓存的预测结果解析失败，重新计算")
			}
		}
	}

	// 组装代理并执行工具调用循环
	recommendation, err := ps.runAgent(ctx, scenario)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}

	// 落库是尽力而为：失败只记录日志，建议照常返回，
	// 此时记录没有ID（ID只在关系库写入成功后存在）
	record := &types.PredictionRecord{
		Festival:        scenario.Festival,
		AQI:             scenario.AQI,
		Epidemic:        scenario.Epidemic,
		CurrentStaffing: *scenario.CurrentStaffing,
		CurrentSupply:   scenario.CurrentSupply,
		Recommendations: *recommendation,
		CreatedAt:       time.Now(),
	}
	persisted := ps.persistPrediction(ctx, &log, scenario, recommendation, record)
	span.SetAttributes(attribute.Bool("persisted", persisted))

	// Qdrant镜像依赖关系库的ID，落库失败时跳过
	if persisted && ps.components.VectorStore != nil {
		if err := ps.components.VectorStore.StorePredictionDocument(ctx, record); err != nil {
			log.Warn().Err(err).Str("prediction_id", record.ID).Msg("镜像预测文档到向量库失败")
		}
	}

	// 只缓存已落库的结果，让失败的场景下次重算重存
	if persisted && ps.components.Storage.Redis != nil && constants.PredictionCacheTTL > 0 {
		if payload, err := json.Marshal(record); err == nil {
			if err := ps.components.Storage.Redis.CachePredictionResult(ctx, scenarioHash, string(payload), constants.PredictionCacheTTL); err != nil {
				log.Warn().Err(err).Msg("缓存预测结果失败")
			}
		}
	}

	log.Info().
		Str("prediction_id", record.ID).
		Bool("persisted", persisted).
		Msg("预测完成")
	span.SetStatus(codes.Ok, "预测成功")
	return record, false, nil
}

// persistPrediction 把预测写入PostgreSQL，成功时回填记录的ID和时间。
// 任何失败都被吞掉，只留下日志和span事件。
func (ps *predictionServiceImpl) persistPrediction(ctx context.Context, log *zerolog.Logger, scenario types.ScenarioInput, recommendation *types.StructuredRecommendation, record *types.PredictionRecord) bool {
	scenarioJSON, err := models.StructToJSON(scenario)
	if err != nil {
		log.Error().Err(err).Msg("序列化场景失败，跳过落库")
		return false
	}
	recommendationJSON, err := models.StructToJSON(recommendation)
	if err != nil {
		log.Error().Err(err).Msg("序列化建议失败，跳过落库")
		return false
	}
	row := &models.Prediction{
		Festival:           scenario.Festival,
		AQI:                scenario.AQI,
		Epidemic:           scenario.Epidemic,
		ScenarioJSON:       scenarioJSON,
		RecommendationJSON: recommendationJSON,
	}
	if err := ps.components.Storage.Postgres.CreatePrediction(ctx, row); err != nil {
		log.Error().Err(err).Msg("写入预测记录失败，建议照常返回")
		return false
	}
	record.ID = strconv.FormatUint(row.ID, 10)
	record.CreatedAt = row.CreatedAt
	return true
}

// runAgent 组装一次性的推荐代理并解析其最终输出
func (ps *predictionServiceImpl) runAgent(ctx context.Context, scenario types.ScenarioInput) (*types.StructuredRecommendation, error) {
	ctx, span := tracer.Start(ctx, "RunRecommendationAgent")
	defer span.End()
	log := logger.Ctx(ctx)

	tools := map[string]tool.InvokableTool{
		agentpkg.CalculateStaffingToolName: agentpkg.NewCalculateStaffingTool(),
	}
	if ps.components.VectorStore != nil {
		tools[agentpkg.SearchKnowledgeToolName] = agentpkg.NewSearchKnowledgeTool(
			ps.components.VectorStore, ps.components.Config.Qdrant.DefaultSearchLimit)
	} else {
		log.Warn().Msg("向量存储不可用，代理将在没有知识检索的情况下作答")
	}

	cfg := ps.components.Config
	stepper := agentpkg.NewReActStepper(tools)
	sessionID := uuid.Must(uuid.NewV7()).String()
	recommendationAgent := agentpkg.NewBaseAgent(
		"StaffingAdvisor",
		agentSystemPrompt,
		cfg.Agent.MaxSteps,
		ps.components.AgentModel,
		stepper,
		agentpkg.NewInMemoryChatMemory(),
		sessionID,
	)

	stepTimeout := config.GetDuration(cfg.Agent.StepTimeout, 60*time.Second)
	runCtx, cancel := context.WithTimeout(ctx, stepTimeout*time.Duration(cfg.Agent.MaxSteps))
	defer cancel()

	output, err := recommendationAgent.Run(runCtx, buildScenarioPrompt(scenario))
	if err != nil {
		log.Error().Err(err).Msg("代理执行失败")
		span.RecordError(err)
		span.SetStatus(codes.Error, "代理执行失败")
		return nil, fmt.Errorf("%w: %v", ErrAgentRunFailed, err)
	}
	span.SetAttributes(attribute.Int("agent_steps", recommendationAgent.CurrentStep))

	recommendation, err := parseRecommendation(output)
	if err != nil {
		log.Error().Err(err).Str("raw_output", truncateForLog(output, 500)).Msg("解析代理输出失败")
		span.RecordError(err)
		span.SetStatus(codes.Error, "输出解析失败")
		return nil, err
	}
	return recommendation, nil
}

// buildScenarioPrompt 把场景输入渲染成代理的用户提示词。
// 未填的场景因子按 None/Normal/None 呈现，物资清单按名称排序保证稳定。
func buildScenarioPrompt(scenario types.ScenarioInput) string {
	festival := scenario.Festival
	if festival == "" {
		festival = "None"
	}
	aqi := scenario.AQI
	if aqi == "" {
		aqi = "Normal"
	}
	epidemic := scenario.Epidemic
	if epidemic == "" {
		epidemic = "None"
	}

	var sb strings.Builder
	sb.WriteString("Analyze the following healthcare scenario and provide recommendations:\n\n")
	sb.WriteString(fmt.Sprintf("Festival/Event: %s\n", festival))
	sb.WriteString(fmt.Sprintf("AQI Level: %s\n", aqi))
	sb.WriteString(fmt.Sprintf("Epidemic/Disease Outbreak: %s\n\n", epidemic))
	sb.WriteString("Current Hospital Resources:\nStaffing:\n")
	sb.WriteString(fmt.Sprintf("- Doctors: %d\n", scenario.CurrentStaffing.Doctors))
	sb.WriteString(fmt.Sprintf("- Nurses: %d\n", scenario.CurrentStaffing.Nurses))
	sb.WriteString(fmt.Sprintf("- Specialists: %d\n", scenario.CurrentStaffing.Specialists))
	sb.WriteString(fmt.Sprintf("- Support Staff: %d\n", scenario.CurrentStaffing.SupportStaff))

	sb.WriteString("\nCurrent Supplies:\n")
	items := make([]string, 0, len(scenario.CurrentSupply))
	for item := range scenario.CurrentSupply {
		items = append(items, item)
	}
	sort.Strings(items)
	for _, item := range items {
		sb.WriteString(fmt.Sprintf("- %s: %d\n", item, scenario.CurrentSupply[item]))
	}

	sb.WriteString("\nPlease provide:\n1. Recommended staffing adjustments\n2. Required medical supplies (prioritized)\n3. Patient advisories\n")
	if scenario.Epidemic != "" {
		sb.WriteString(fmt.Sprintf("\nIMPORTANT: Consider the %s epidemic/disease and provide appropriate recommendations based on typical healthcare requirements for this condition.\n", scenario.Epidemic))
	}
	return sb.String()
}

// validateScenario 校验场景输入。
// currentStaffing 和 currentSupply 必填；festival/aqi/epidemic 可以缺省，
// 缺省值只在渲染提示词时补成 None/Normal/None，不回写到场景本身。
func validateScenario(scenario *types.ScenarioInput) error {
	scenario.Festival = strings.TrimSpace(scenario.Festival)
	scenario.AQI = strings.TrimSpace(scenario.AQI)
	scenario.Epidemic = strings.TrimSpace(scenario.Epidemic)

	if scenario.CurrentStaffing == nil {
		return fmt.Errorf("%w: currentStaffing 是必填字段", ErrInvalidScenario)
	}
	if scenario.CurrentSupply == nil {
		return fmt.Errorf("%w: currentSupply 是必填字段", ErrInvalidScenario)
	}
	s := scenario.CurrentStaffing
	if s.Doctors < 0 || s.Nurses < 0 || s.Specialists < 0 || s.SupportStaff < 0 {
		return fmt.Errorf("%w: 人员数量不能为负", ErrInvalidScenario)
	}
	for item, qty := range scenario.CurrentSupply {
		if qty < 0 {
			return fmt.Errorf("%w: 物资 %s 的数量不能为负", ErrInvalidScenario, item)
		}
	}
	return nil
}

// hashScenario 计算场景的缓存键。
// 字段序列化顺序由结构体定义固定，同一场景永远得到同一哈希。
func hashScenario(scenario types.ScenarioInput) string {
	payload, _ := json.Marshal(scenario)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// recommendationWire 解析代理输出用的中间结构。
// 三个子对象用指针，区分"缺失"和"空"，缺任何一个都算无效输出。
type recommendationWire struct {
	StaffingRecommendations *types.StaffingRecommendations `json:"staffingRecommendations"`
	SupplyRecommendations   *types.SupplyRecommendations   `json:"supplyRecommendations"`
	PatientAdvisory         *types.PatientAdvisory         `json:"patientAdvisory"`
	Reasoning               string                         `json:"reasoning"`
}

// parseRecommendation 从代理的最终回答中提取并校验结构化建议。
// 空对象或缺少任一必需子对象的JSON一律拒绝。
func parseRecommendation(output string) (*types.StructuredRecommendation, error) {
	jsonStr := extractJSONObject(output)
	if jsonStr == "" {
		return nil, fmt.Errorf("%w: 输出中没有JSON对象", ErrRecommendationJSON)
	}

	var wire recommendationWire
	if err := json.Unmarshal([]byte(jsonStr), &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecommendationJSON, err)
	}

	if wire.StaffingRecommendations == nil {
		return nil, fmt.Errorf("%w: 缺少 staffingRecommendations", ErrRecommendationJSON)
	}
	if wire.SupplyRecommendations == nil {
		return nil, fmt.Errorf("%w: 缺少 supplyRecommendations", ErrRecommendationJSON)
	}
	if wire.PatientAdvisory == nil {
		return nil, fmt.Errorf("%w: 缺少 patientAdvisory", ErrRecommendationJSON)
	}
	wire.Reasoning = strings.TrimSpace(wire.Reasoning)
	if wire.Reasoning == "" {
		return nil, fmt.Errorf("%w: reasoning 不能为空", ErrRecommendationJSON)
	}

	recommendation := &types.StructuredRecommendation{
		StaffingRecommendations: *wire.StaffingRecommendations,
		SupplyRecommendations:   *wire.SupplyRecommendations,
		PatientAdvisory:         *wire.PatientAdvisory,
		Reasoning:               wire.Reasoning,
	}
	if recommendation.SupplyRecommendations.Critical == nil {
		recommendation.SupplyRecommendations.Critical = []types.SupplyItem{}
	}
	if recommendation.SupplyRecommendations.Essential == nil {
		recommendation.SupplyRecommendations.Essential = []types.SupplyItem{}
	}
	if recommendation.SupplyRecommendations.Optional == nil {
		recommendation.SupplyRecommendations.Optional = []types.SupplyItem{}
	}
	if recommendation.PatientAdvisory.GeneralPublic == nil {
		recommendation.PatientAdvisory.GeneralPublic = []string{}
	}
	if recommendation.PatientAdvisory.VulnerableGroups == nil {
		recommendation.PatientAdvisory.VulnerableGroups = []string{}
	}
	if recommendation.PatientAdvisory.PreventiveMeasures == nil {
		recommendation.PatientAdvisory.PreventiveMeasures = []string{}
	}
	return recommendation, nil
}

// extractJSONObject 返回文本中第一个括号配平的JSON对象
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			if escaped {
				escaped = false
			} else if ch == '\\' {
				escaped = true
			} else if ch == '"' {
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// GetPrediction 实现 PredictionService 接口
func (ps *predictionServiceImpl) GetPrediction(ctx context.Context, id uint64) (*types.PredictionRecord, error) {
	ctx, span := tracer.Start(ctx, "GetPrediction")
	defer span.End()
	span.SetAttributes(attribute.Int64("prediction_id", int64(id)))

	row, err := ps.components.Storage.Postgres.GetPredictionByID(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	record, err := recordFromModel(row)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return record, nil
}

// ListPredictions 实现 PredictionService 接口
func (ps *predictionServiceImpl) ListPredictions(ctx context.Context, limit, offset int) (*types.PaginatedResult[types.PredictionRecord], error) {
	ctx, span := tracer.Start(ctx, "ListPredictions")
	defer span.End()

	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	span.SetAttributes(attribute.Int("limit", limit), attribute.Int("offset", offset))

	rows, total, err := ps.components.Storage.Postgres.ListPredictions(ctx, offset, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	items := make([]types.PredictionRecord, 0, len(rows))
	for i := range rows {
		record, err := recordFromModel(&rows[i])
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Uint64("id", rows[i].ID).Msg("历史预测记录解析失败，跳过")
			continue
		}
		items = append(items, *record)
	}
	return &types.PaginatedResult[types.PredictionRecord]{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: int64(offset+limit) < total,
	}, nil
}

// recordFromModel 数据库行转API预测记录，场景JSON展开成平铺字段
func recordFromModel(row *models.Prediction) (*types.PredictionRecord, error) {
	record := &types.PredictionRecord{
		ID:        strconv.FormatUint(row.ID, 10),
		CreatedAt: row.CreatedAt,
	}
	var scenario types.ScenarioInput
	if err := json.Unmarshal(row.ScenarioJSON, &scenario); err != nil {
		return nil, fmt.Errorf("解析场景JSON失败: %w", err)
	}
	record.Festival = scenario.Festival
	record.AQI = scenario.AQI
	record.Epidemic = scenario.Epidemic
	if scenario.CurrentStaffing != nil {
		record.CurrentStaffing = *scenario.CurrentStaffing
	}
	record.CurrentSupply = scenario.CurrentSupply
	if err := json.Unmarshal(row.RecommendationJSON, &record.Recommendations); err != nil {
		return nil, fmt.Errorf("解析建议JSON失败: %w", err)
	}
	return record, nil
}

// truncateForLog 截断过长的文本用于日志输出
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
