package processor

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"health-agent-go/internal/constants"
	"health-agent-go/internal/logger"
	"health-agent-go/internal/parser"
	"health-agent-go/internal/storage"
	"health-agent-go/internal/storage/models"
	"health-agent-go/internal/types"

	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"
)

// KnowledgeStats 知识库统计信息
type KnowledgeStats struct {
	TotalEntries int64                         `json:"totalEntries"`
	BySource     []storage.KnowledgeSourceStat `json:"bySource"`
	// VectorPoints 向量库中的点数量，Qdrant不可用时为-1
	VectorPoints int64 `json:"vectorPoints"`
}

// KnowledgeService 知识库服务接口：文档摄取、手动录入、查询与删除
type KnowledgeService interface {
	// IngestDocument 摄取一份知识文档（PDF/CSV/Excel），抽取条目并双写入库
	IngestDocument(ctx context.Context, filename string, reader io.Reader) (*types.IngestResult, error)

	// AddEntry 手动录入单条知识
	AddEntry(ctx context.Context, entry types.KnowledgeEntry) (*types.KnowledgeEntry, error)

	// ListEntries 分页查询知识条目
	ListEntries(ctx context.Context, query types.KnowledgeListQuery) (*types.PaginatedResult[types.KnowledgeEntry], error)

	// DeleteEntry 删除知识条目（数据库与向量库）
	DeleteEntry(ctx context.Context, id uint64) error

	// Stats 知识库统计
	Stats(ctx context.Context) (*KnowledgeStats, error)
}

// knowledgeServiceImpl KnowledgeService 的默认实现
type knowledgeServiceImpl struct {
	components *Components
}

// NewKnowledgeService 创建知识库服务
func NewKnowledgeService(components *Components) (KnowledgeService, error) {
	if components == nil || components.Storage == nil || components.Storage.Postgres == nil {
		return nil, ErrStorageNotInit
	}
	return &knowledgeServiceImpl{components: components}, nil
}

// IngestDocument 实现 KnowledgeService 接口。
// 流程：类型识别 -> MD5去重 -> MinIO归档 -> 抽取条目 -> 向量索引 -> PostgreSQL落库。
// PostgreSQL是权威存储，向量索引失败会中止摄取并回滚MD5记录。
func (ks *knowledgeServiceImpl) IngestDocument(ctx context.Context, filename string, reader io.Reader) (*types.IngestResult, error) {
	ctx, span := tracer.Start(ctx, "IngestDocument")
	defer span.End()

	uploadUUID := uuid.Must(uuid.NewV7()).String()
	span.SetAttributes(
		attribute.String("upload_uuid", uploadUUID),
		attribute.String("filename", filename),
	)
	log := logger.Ctx(ctx).With().
		Str("upload_uuid", uploadUUID).
		Str("filename", filename).
		Logger()

	sourceType, err := parser.DetectSourceType(filename)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "不支持的文件类型")
		return nil, newIngestError(uploadUUID, filename, "detect", err, "")
	}
	span.SetAttributes(attribute.String("source_type", string(sourceType)))

	fileBytes, err := io.ReadAll(reader)
	if err != nil {
		span.RecordError(err)
		return nil, newIngestError(uploadUUID, filename, "read", err, "")
	}
	if len(fileBytes) == 0 {
		return nil, newIngestError(uploadUUID, filename, "read", fmt.Errorf("文件为空"), "")
	}
	span.SetAttributes(attribute.Int("file_size_bytes", len(fileBytes)))

	// MD5去重：同一文件只摄取一次
	md5Sum := md5.Sum(fileBytes)
	md5Hex := hex.EncodeToString(md5Sum[:])
	log.Debug().Str("md5", md5Hex).Msg("计算文件MD5")

	if ks.components.Storage.Redis != nil {
		exists, err := ks.components.Storage.Redis.CheckAndAddFileMD5(ctx, md5Hex)
		if err != nil {
			log.Warn().Err(err).Msg("Redis检查文件MD5失败，去重可能失效，继续处理")
		} else if exists {
			log.Info().Str("md5", md5Hex).Msg("文件MD5已存在，跳过重复摄取")
			span.SetAttributes(attribute.Bool("duplicate_file", true))
			span.SetStatus(codes.Ok, "重复文件")
			return &types.IngestResult{
				SourceDocument: filename,
				Status:         constants.StatusDuplicateFileSkipped,
			}, nil
		}
	}

	// 原始文件归档到MinIO，失败不中断摄取
	objectPath := ""
	if ks.components.Storage.MinIO != nil {
		span.AddEvent("uploading_original_to_minio")
		ext := filepath.Ext(filename)
		path, _, err := ks.components.Storage.MinIO.UploadOriginalDocument(
			ctx, uploadUUID, ext, bytes.NewReader(fileBytes), int64(len(fileBytes)))
		if err != nil {
			log.Warn().Err(err).Msg("归档原始文档到MinIO失败，继续处理")
		} else {
			objectPath = path
			log.Debug().Str("object_path", objectPath).Msg("原始文档已归档")
		}
	}

	// 抽取知识条目
	ctx, extractSpan := tracer.Start(ctx, "ExtractEntries")
	entries, skipped, err := ks.extractEntries(ctx, sourceType, fileBytes, filename)
	if err != nil {
		extractSpan.RecordError(err)
		extractSpan.SetStatus(codes.Error, "抽取失败")
		extractSpan.End()
		ks.releaseFileMD5(ctx, md5Hex, &log)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, newIngestError(uploadUUID, filename, "extract", err, "")
	}
	extractSpan.SetAttributes(
		attribute.Int("entries_extracted", len(entries)),
		attribute.Int("entries_skipped", skipped),
	)
	extractSpan.End()

	result := &types.IngestResult{
		SourceDocument: filename,
		EntriesParsed:  len(entries) + skipped,
		EntriesSkipped: skipped,
	}

	if len(entries) == 0 {
		log.Warn().Int("skipped", skipped).Msg("文档中没有可索引的知识条目")
		result.Status = constants.StatusNoEntries
		ks.createUploadRecord(ctx, uploadUUID, filename, md5Hex, sourceType, objectPath, 0, &log)
		span.SetStatus(codes.Ok, "无条目")
		return result, nil
	}

	// 向量索引
	if ks.components.VectorStore == nil {
		ks.releaseFileMD5(ctx, md5Hex, &log)
		span.RecordError(ErrVectorStoreNotInit)
		span.SetStatus(codes.Error, "向量存储未初始化")
		return nil, newIngestError(uploadUUID, filename, "index", ErrVectorStoreNotInit, "")
	}
	span.AddEvent("indexing_entries")
	pointIDs, err := ks.components.VectorStore.IndexEntries(ctx, entries)
	if err != nil {
		log.Error().Err(err).Msg("向量索引失败")
		ks.releaseFileMD5(ctx, md5Hex, &log)
		span.RecordError(err)
		span.SetStatus(codes.Error, "向量索引失败")
		return nil, newIngestError(uploadUUID, filename, "index", ErrIndexFailed, err.Error())
	}

	// PostgreSQL落库（权威存储）
	rows := make([]models.KnowledgeEntry, len(entries))
	for i, e := range entries {
		rows[i] = models.KnowledgeEntry{
			Festival:            e.Festival,
			AQI:                 e.AQI,
			Season:              e.Season,
			HealthImpact:        e.HealthImpact,
			RecommendedStaffing: e.RecommendedStaffing,
			RequiredSupplies:    e.RequiredSupplies,
			PatientAdvisory:     e.PatientAdvisory,
			Source:              e.Source,
			VectorPointID:       pointIDs[i],
		}
	}
	if err := ks.components.Storage.Postgres.BatchCreateKnowledgeEntries(ctx, rows); err != nil {
		log.Error().Err(err).Msg("批量写入知识条目失败")
		ks.releaseFileMD5(ctx, md5Hex, &log)
		span.RecordError(err)
		span.SetStatus(codes.Error, "数据库写入失败")
		return nil, newIngestError(uploadUUID, filename, "persist", ErrPersistFailed, err.Error())
	}

	result.EntriesIndexed = len(entries)
	result.Status = constants.StatusIndexed

	ks.createUploadRecord(ctx, uploadUUID, filename, md5Hex, sourceType, objectPath, len(entries), &log)

	log.Info().
		Int("parsed", result.EntriesParsed).
		Int("indexed", result.EntriesIndexed).
		Int("skipped", result.EntriesSkipped).
		Msg("文档摄取完成")
	span.SetAttributes(attribute.Int("entries_indexed", result.EntriesIndexed))
	span.SetStatus(codes.Ok, "摄取成功")
	return result, nil
}

// extractEntries 按来源类型分派抽取：PDF走LLM抽取，表格走列名规范化
func (ks *knowledgeServiceImpl) extractEntries(ctx context.Context, sourceType types.SourceType, fileBytes []byte, filename string) ([]types.KnowledgeEntry, int, error) {
	switch sourceType {
	case types.SourcePDF:
		if ks.components.PDFExtractor == nil || ks.components.Extractor == nil {
			return nil, 0, ErrExtractorNotInit
		}
		text, _, err := ks.components.PDFExtractor.ExtractTextFromBytes(ctx, fileBytes, filename, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("提取PDF文本失败: %w", err)
		}
		entries, err := ks.components.Extractor.ExtractEntries(ctx, text, filename)
		if err != nil {
			return nil, 0, fmt.Errorf("LLM抽取知识条目失败: %w", err)
		}
		return entries, 0, nil

	case types.SourceCSV, types.SourceExcel:
		if ks.components.Tabular == nil {
			return nil, 0, ErrExtractorNotInit
		}
		records, err := ks.components.Tabular.ExtractFromReader(ctx, bytes.NewReader(fileBytes), filename)
		if err != nil {
			return nil, 0, fmt.Errorf("解析表格失败: %w", err)
		}
		entries, skipped := NormalizeRecords(records, filename)
		return entries, skipped, nil

	default:
		return nil, 0, fmt.Errorf("未知的来源类型: %s", sourceType)
	}
}

// releaseFileMD5 摄取失败时移除MD5记录，允许重新上传
func (ks *knowledgeServiceImpl) releaseFileMD5(ctx context.Context, md5Hex string, log *zerolog.Logger) {
	if ks.components.Storage.Redis == nil {
		return
	}
	if err := ks.components.Storage.Redis.RemoveFileMD5(ctx, md5Hex); err != nil {
		log.Warn().Err(err).Str("md5", md5Hex).Msg("回滚文件MD5记录失败")
	}
}

// createUploadRecord 写入上传归档记录，失败只告警
func (ks *knowledgeServiceImpl) createUploadRecord(ctx context.Context, uploadUUID, filename, md5Hex string, sourceType types.SourceType, objectPath string, indexed int, log *zerolog.Logger) {
	record := &models.UploadRecord{
		UploadUUID:       uploadUUID,
		OriginalFilename: filename,
		FileMD5:          md5Hex,
		SourceType:       string(sourceType),
		ObjectPathOSS:    objectPath,
		EntriesIndexed:   indexed,
	}
	if err := ks.components.Storage.Postgres.CreateUploadRecord(ctx, record); err != nil {
		log.Warn().Err(err).Msg("写入上传归档记录失败")
	}
}

// AddEntry 实现 KnowledgeService 接口
func (ks *knowledgeServiceImpl) AddEntry(ctx context.Context, entry types.KnowledgeEntry) (*types.KnowledgeEntry, error) {
	ctx, span := tracer.Start(ctx, "AddKnowledgeEntry")
	defer span.End()
	log := logger.Ctx(ctx)

	if entry.IsEmpty() {
		span.RecordError(ErrEntryEmpty)
		span.SetStatus(codes.Error, "条目为空")
		return nil, ErrEntryEmpty
	}
	if entry.Source == "" {
		entry.Source = string(types.SourceManual)
	}

	if ks.components.VectorStore == nil {
		span.RecordError(ErrVectorStoreNotInit)
		return nil, ErrVectorStoreNotInit
	}
	pointIDs, err := ks.components.VectorStore.IndexEntries(ctx, []types.KnowledgeEntry{entry})
	if err != nil {
		log.Error().Err(err).Msg("索引手动录入条目失败")
		span.RecordError(err)
		span.SetStatus(codes.Error, "向量索引失败")
		return nil, fmt.Errorf("%w: %v", ErrIndexFailed, err)
	}

	row := &models.KnowledgeEntry{
		Festival:            entry.Festival,
		AQI:                 entry.AQI,
		Season:              entry.Season,
		HealthImpact:        entry.HealthImpact,
		RecommendedStaffing: entry.RecommendedStaffing,
		RequiredSupplies:    entry.RequiredSupplies,
		PatientAdvisory:     entry.PatientAdvisory,
		Source:              entry.Source,
		VectorPointID:       pointIDs[0],
	}
	if err := ks.components.Storage.Postgres.CreateKnowledgeEntry(ctx, row); err != nil {
		log.Error().Err(err).Msg("写入手动录入条目失败")
		span.RecordError(err)
		span.SetStatus(codes.Error, "数据库写入失败")
		return nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	created := entryFromModel(*row)
	log.Info().Str("id", created.ID).Msg("手动录入知识条目成功")
	span.SetStatus(codes.Ok, "录入成功")
	return &created, nil
}

// ListEntries 实现 KnowledgeService 接口
func (ks *knowledgeServiceImpl) ListEntries(ctx context.Context, query types.KnowledgeListQuery) (*types.PaginatedResult[types.KnowledgeEntry], error) {
	ctx, span := tracer.Start(ctx, "ListKnowledgeEntries")
	defer span.End()

	limit := query.Limit
	if limit < 1 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}
	span.SetAttributes(
		attribute.Int("limit", limit),
		attribute.Int("offset", offset),
	)

	rows, total, err := ks.components.Storage.Postgres.ListKnowledgeEntries(ctx, storage.KnowledgeListFilter{
		Search: query.Search,
		Season: query.Season,
		AQI:    query.AQI,
		Offset: offset,
		Limit:  limit,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "查询失败")
		return nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	items := make([]types.KnowledgeEntry, len(rows))
	for i, row := range rows {
		items[i] = entryFromModel(row)
	}
	return &types.PaginatedResult[types.KnowledgeEntry]{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: int64(offset+limit) < total,
	}, nil
}

// DeleteEntry 实现 KnowledgeService 接口。
// 删除是幂等的：条目不存在时直接成功。
// 数据库删除是权威操作，向量点删除失败只告警。
func (ks *knowledgeServiceImpl) DeleteEntry(ctx context.Context, id uint64) error {
	ctx, span := tracer.Start(ctx, "DeleteKnowledgeEntry")
	defer span.End()
	span.SetAttributes(attribute.Int64("entry_id", int64(id)))
	log := logger.Ctx(ctx)

	deleted, err := ks.components.Storage.Postgres.DeleteKnowledgeEntry(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Debug().Uint64("id", id).Msg("知识条目不存在，删除视为成功")
			span.SetStatus(codes.Ok, "条目不存在")
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "删除失败")
		return err
	}

	if ks.components.VectorStore != nil && deleted.VectorPointID != "" {
		if err := ks.components.VectorStore.DeleteEntry(ctx, deleted.VectorPointID); err != nil {
			log.Warn().Err(err).
				Str("point_id", deleted.VectorPointID).
				Msg("删除向量点失败，向量库中残留孤立点")
		}
	}

	log.Info().Uint64("id", id).Msg("知识条目已删除")
	span.SetStatus(codes.Ok, "删除成功")
	return nil
}

// Stats 实现 KnowledgeService 接口
func (ks *knowledgeServiceImpl) Stats(ctx context.Context) (*KnowledgeStats, error) {
	ctx, span := tracer.Start(ctx, "KnowledgeStats")
	defer span.End()

	total, bySource, err := ks.components.Storage.Postgres.KnowledgeStats(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	stats := &KnowledgeStats{
		TotalEntries: total,
		BySource:     bySource,
		VectorPoints: -1,
	}
	if ks.components.VectorStore != nil {
		if count, err := ks.components.VectorStore.KnowledgeCount(ctx); err == nil {
			stats.VectorPoints = count
		} else {
			logger.Ctx(ctx).Warn().Err(err).Msg("统计向量点数量失败")
		}
	}
	return stats, nil
}

// entryFromModel 数据库行转API条目
func entryFromModel(row models.KnowledgeEntry) types.KnowledgeEntry {
	return types.KnowledgeEntry{
		ID:                  strconv.FormatUint(row.ID, 10),
		Festival:            row.Festival,
		AQI:                 row.AQI,
		Season:              row.Season,
		HealthImpact:        row.HealthImpact,
		RecommendedStaffing: row.RecommendedStaffing,
		RequiredSupplies:    row.RequiredSupplies,
		PatientAdvisory:     row.PatientAdvisory,
		Source:              row.Source,
		CreatedAt:           row.CreatedAt,
	}
}
