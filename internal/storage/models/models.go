package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// KnowledgeEntry 知识条目主表
type KnowledgeEntry struct {
	ID                  uint64    `gorm:"primaryKey;autoIncrement"`
	Festival            string    `gorm:"type:varchar(255);index:idx_ke_festival"`
	AQI                 string    `gorm:"column:aqi;type:varchar(100);index:idx_ke_aqi"`
	Season              string    `gorm:"type:varchar(50);index:idx_ke_season"`
	HealthImpact        string    `gorm:"type:text"`
	RecommendedStaffing string    `gorm:"type:text"`
	RequiredSupplies    string    `gorm:"type:text"`
	PatientAdvisory     string    `gorm:"type:text"`
	Source              string    `gorm:"type:varchar(512);index:idx_ke_source"`
	VectorPointID       string    `gorm:"type:char(36);uniqueIndex:idx_ke_vector_point_id"`
	CreatedAt           time.Time `gorm:"type:timestamptz;default:CURRENT_TIMESTAMP"`
	UpdatedAt           time.Time `gorm:"type:timestamptz;default:CURRENT_TIMESTAMP;autoUpdateTime"`
}

func (KnowledgeEntry) TableName() string {
	return "knowledge_entries"
}

// Prediction 预测记录表，场景与建议均以JSON存储
type Prediction struct {
	ID                 uint64         `gorm:"primaryKey;autoIncrement"`
	Festival           string         `gorm:"type:varchar(255)"`
	AQI                string         `gorm:"column:aqi;type:varchar(100)"`
	Epidemic           string         `gorm:"type:varchar(255)"`
	ScenarioJSON       datatypes.JSON `gorm:"column:scenario;type:jsonb"`
	RecommendationJSON datatypes.JSON `gorm:"column:recommendation;type:jsonb"`
	CreatedAt          time.Time      `gorm:"type:timestamptz;default:CURRENT_TIMESTAMP;index:idx_predictions_created_at"`
}

func (Prediction) TableName() string {
	return "predictions"
}

// UploadRecord 上传文档归档记录表
type UploadRecord struct {
	ID               uint64    `gorm:"primaryKey;autoIncrement"`
	UploadUUID       string    `gorm:"type:char(36);uniqueIndex:idx_ur_upload_uuid"`
	OriginalFilename string    `gorm:"type:varchar(255)"`
	FileMD5          string    `gorm:"column:file_md5;type:char(32);index:idx_ur_file_md5"`
	SourceType       string    `gorm:"type:varchar(20)"`
	ObjectPathOSS    string    `gorm:"column:object_path_oss;type:varchar(1024)"`
	EntriesIndexed   int       `gorm:"type:int"`
	CreatedAt        time.Time `gorm:"type:timestamptz;default:CURRENT_TIMESTAMP"`
}

func (UploadRecord) TableName() string {
	return "upload_records"
}

// MapToJSON Helper function to convert map[string]interface{} to datatypes.JSON
func MapToJSON(m map[string]interface{}) (datatypes.JSON, error) {
	bytes, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return bytes, nil
}

// StructToJSON 将任意可序列化结构转换为 datatypes.JSON
func StructToJSON(v interface{}) (datatypes.JSON, error) {
	bytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes, nil
}
