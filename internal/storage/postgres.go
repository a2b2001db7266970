package storage

import (
	"context"
	"fmt"
	"log"
	"time"

	"health-agent-go/internal/config"
	"health-agent-go/internal/storage/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// onConflictDoNothing 生成按指定列冲突跳过的插入子句
func onConflictDoNothing(column string) clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: column}},
		DoNothing: true,
	}
}

var pgTracer = otel.Tracer("health-agent-go/storage/postgres")

// GormTracingPlugin 是一个GORM插件，用于向OpenTelemetry中添加数据库操作的追踪点
type GormTracingPlugin struct {
	tracer         trace.Tracer
	dbName         string
	disableErrSkip bool
}

// Name 返回插件名称
func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

// Initialize 注册GORM回调以启用追踪
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()

	// 为所有CRUD操作注册Before和After回调
	if err := cb.Create().Before("gorm:create").Register("otel:before_create", p.before("CREATE")); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("otel:after_create", p.after()); err != nil {
		return err
	}

	if err := cb.Query().Before("gorm:query").Register("otel:before_query", p.before("SELECT")); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("otel:after_query", p.after()); err != nil {
		return err
	}

	if err := cb.Update().Before("gorm:update").Register("otel:before_update", p.before("UPDATE")); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("otel:after_update", p.after()); err != nil {
		return err
	}

	if err := cb.Delete().Before("gorm:delete").Register("otel:before_delete", p.before("DELETE")); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register("otel:after_delete", p.after()); err != nil {
		return err
	}

	if err := cb.Row().Before("gorm:row").Register("otel:before_row", p.before("ROW")); err != nil {
		return err
	}
	if err := cb.Row().After("gorm:row").Register("otel:after_row", p.after()); err != nil {
		return err
	}

	if err := cb.Raw().Before("gorm:raw").Register("otel:before_raw", p.before("RAW")); err != nil {
		return err
	}
	if err := cb.Raw().After("gorm:raw").Register("otel:after_raw", p.after()); err != nil {
		return err
	}

	return nil
}

// before 返回在GORM操作之前执行的回调函数
func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		if p.disableErrSkip && db.Statement.SkipHooks {
			return
		}

		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}

		tableName := db.Statement.Table
		if tableName == "" {
			tableName = "unknown"
		}

		spanName := fmt.Sprintf("%s %s", operation, tableName)
		opts := []trace.SpanStartOption{
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemPostgreSQL,
				attribute.String("db.name", p.dbName),
				attribute.String("db.operation", operation),
				attribute.String("db.sql.table", tableName),
			),
		}

		sqlStatement := db.Statement.SQL.String()
		if sqlStatement != "" {
			opts = append(opts, trace.WithAttributes(
				attribute.String("db.statement", sqlStatement),
			))
		}

		newCtx, span := p.tracer.Start(ctx, spanName, opts...)

		// 将span保存在DB上下文中，以便在after回调中使用
		db.Statement.Context = context.WithValue(newCtx, "otel-span", span)
	}
}

// after 返回在GORM操作之后执行的回调函数
func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		span, ok := db.Statement.Context.Value("otel-span").(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))

		// ErrRecordNotFound 是业务逻辑正常情况的一部分，不作为错误处理
		if db.Error != nil {
			if db.Error == gorm.ErrRecordNotFound {
				span.SetAttributes(attribute.String("error.type", "record_not_found"))
				span.SetStatus(codes.Ok, "record not found")
			} else {
				span.SetAttributes(attribute.String("error.type", "database_error"))
				span.SetAttributes(attribute.String("error.message", db.Error.Error()))
				span.RecordError(db.Error)
				span.SetStatus(codes.Error, db.Error.Error())
			}
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}

// NewGormTracingPlugin 创建一个新的GORM追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{
		tracer:         pgTracer,
		dbName:         dbName,
		disableErrSkip: true,
	}
}

// WithDisableErrSkip 设置是否禁用错误跳过
func (p *GormTracingPlugin) WithDisableErrSkip(disable bool) *GormTracingPlugin {
	p.disableErrSkip = disable
	return p
}

// Postgres 提供关系数据库功能，是系统的权威存储
type Postgres struct {
	db  *gorm.DB
	cfg *config.PostgresConfig
}

// NewPostgres 创建PostgreSQL客户端
func NewPostgres(cfg *config.PostgresConfig) (*Postgres, error) {
	if cfg == nil {
		return nil, fmt.Errorf("PostgreSQL配置不能为空")
	}

	// 配置GORM日志级别
	var logLevel logger.LogLevel
	switch cfg.LogLevel {
	case 1:
		logLevel = logger.Silent
	case 2:
		logLevel = logger.Error
	case 3:
		logLevel = logger.Warn
	case 4:
		logLevel = logger.Info
	default:
		logLevel = logger.Info
	}

	gormConfig := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logLevel),
		PrepareStmt:                              true,
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接PostgreSQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}

	// 设置连接池参数
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTimeSeconds) * time.Second)

	p := &Postgres{
		db:  db,
		cfg: cfg,
	}

	// 注册OpenTelemetry追踪插件
	tracingPlugin := NewGormTracingPlugin(cfg.Database).WithDisableErrSkip(true)
	if err := db.Use(tracingPlugin); err != nil {
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	if err := p.autoMigrateSchema(); err != nil {
		if sqlDB, _ := db.DB(); sqlDB != nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}

	log.Println("成功连接到PostgreSQL并自动迁移数据库结构")
	return p, nil
}

// autoMigrateSchema 使用GORM自动迁移数据库表结构
func (p *Postgres) autoMigrateSchema() error {
	// 迁移期间关闭SQL日志打印
	silentLogger := logger.New(
		log.New(log.Writer(), "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Silent,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	silentDB := p.db.Session(&gorm.Session{Logger: silentLogger})

	err := silentDB.AutoMigrate(
		&models.KnowledgeEntry{},
		&models.Prediction{},
		&models.UploadRecord{},
	)
	if err != nil {
		return fmt.Errorf("GORM自动迁移失败: %w", err)
	}
	return nil
}

// DB 返回GORM数据库连接实例
func (p *Postgres) DB() *gorm.DB {
	return p.db
}

// Close 关闭数据库连接
func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.Close()
}

// CreateKnowledgeEntry 插入一条知识条目并回填自增ID
func (p *Postgres) CreateKnowledgeEntry(ctx context.Context, entry *models.KnowledgeEntry) error {
	return p.db.WithContext(ctx).Create(entry).Error
}

// BatchCreateKnowledgeEntries 批量插入知识条目。
// 依赖 vector_point_id 唯一索引实现幂等：重复条目按冲突跳过。
func (p *Postgres) BatchCreateKnowledgeEntries(ctx context.Context, entries []models.KnowledgeEntry) error {
	ctx, span := pgTracer.Start(ctx, "Postgres.BatchCreateKnowledgeEntries",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.name", p.cfg.Database),
		attribute.String("db.sql.table", "knowledge_entries"),
		attribute.Int("batch.size", len(entries)),
	)

	if len(entries) == 0 {
		span.SetStatus(codes.Ok, "no entries to insert")
		return nil
	}

	err := p.db.WithContext(ctx).
		Clauses(onConflictDoNothing("vector_point_id")).
		Create(&entries).Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// GetKnowledgeEntryByID 通过ID获取知识条目
func (p *Postgres) GetKnowledgeEntryByID(ctx context.Context, id uint64) (*models.KnowledgeEntry, error) {
	var entry models.KnowledgeEntry
	if err := p.db.WithContext(ctx).First(&entry, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// KnowledgeListFilter 知识列表的过滤条件
type KnowledgeListFilter struct {
	Search string
	Season string
	AQI    string
	Offset int
	Limit  int
}

// ListKnowledgeEntries 分页查询知识条目，支持跨文本列的模糊搜索
func (p *Postgres) ListKnowledgeEntries(ctx context.Context, filter KnowledgeListFilter) ([]models.KnowledgeEntry, int64, error) {
	query := p.db.WithContext(ctx).Model(&models.KnowledgeEntry{})

	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		query = query.Where(
			"festival ILIKE ? OR health_impact ILIKE ? OR recommended_staffing ILIKE ? OR required_supplies ILIKE ? OR patient_advisory ILIKE ?",
			pattern, pattern, pattern, pattern, pattern,
		)
	}
	if filter.Season != "" {
		query = query.Where("season ILIKE ?", filter.Season)
	}
	if filter.AQI != "" {
		query = query.Where("aqi ILIKE ?", filter.AQI)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计知识条目失败: %w", err)
	}

	var entries []models.KnowledgeEntry
	err := query.Order("created_at DESC").
		Offset(filter.Offset).
		Limit(filter.Limit).
		Find(&entries).Error
	if err != nil {
		return nil, 0, fmt.Errorf("查询知识条目失败: %w", err)
	}

	return entries, total, nil
}

// DeleteKnowledgeEntry 按ID删除知识条目，返回被删条目用于同步删除向量。
// ID不存在时原样返回 gorm.ErrRecordNotFound，由调用方决定如何呈现。
func (p *Postgres) DeleteKnowledgeEntry(ctx context.Context, id uint64) (*models.KnowledgeEntry, error) {
	var entry models.KnowledgeEntry
	if err := p.db.WithContext(ctx).First(&entry, "id = ?", id).Error; err != nil {
		return nil, err
	}

	if err := p.db.WithContext(ctx).Delete(&models.KnowledgeEntry{}, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// KnowledgeSourceStat 按来源文档聚合的条目数
type KnowledgeSourceStat struct {
	Source string `json:"source"`
	Count  int64  `json:"count"`
}

// KnowledgeStats 统计知识条目总数与按来源的分布
func (p *Postgres) KnowledgeStats(ctx context.Context) (int64, []KnowledgeSourceStat, error) {
	var total int64
	if err := p.db.WithContext(ctx).Model(&models.KnowledgeEntry{}).Count(&total).Error; err != nil {
		return 0, nil, err
	}

	var stats []KnowledgeSourceStat
	err := p.db.WithContext(ctx).Model(&models.KnowledgeEntry{}).
		Select("source, COUNT(*) AS count").
		Group("source").
		Order("count DESC").
		Scan(&stats).Error
	if err != nil {
		return 0, nil, err
	}
	return total, stats, nil
}

// CreatePrediction 插入一条预测记录并回填自增ID
func (p *Postgres) CreatePrediction(ctx context.Context, prediction *models.Prediction) error {
	return p.db.WithContext(ctx).Create(prediction).Error
}

// GetPredictionByID 通过ID获取预测记录
func (p *Postgres) GetPredictionByID(ctx context.Context, id uint64) (*models.Prediction, error) {
	var prediction models.Prediction
	if err := p.db.WithContext(ctx).First(&prediction, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &prediction, nil
}

// ListPredictions 按时间倒序分页查询预测历史
func (p *Postgres) ListPredictions(ctx context.Context, offset, limit int) ([]models.Prediction, int64, error) {
	var total int64
	if err := p.db.WithContext(ctx).Model(&models.Prediction{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计预测记录失败: %w", err)
	}

	var predictions []models.Prediction
	err := p.db.WithContext(ctx).Model(&models.Prediction{}).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&predictions).Error
	if err != nil {
		return nil, 0, fmt.Errorf("查询预测记录失败: %w", err)
	}

	return predictions, total, nil
}

// CreateUploadRecord 记录一次文档上传
func (p *Postgres) CreateUploadRecord(ctx context.Context, record *models.UploadRecord) error {
	return p.db.WithContext(ctx).Create(record).Error
}
