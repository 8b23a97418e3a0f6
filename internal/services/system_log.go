package services

import (
	"fmt"
	"time"

	"github.com/huangang/trackersync/internal/models"
	"github.com/huangang/trackersync/internal/utils"
	"github.com/huangang/trackersync/pkg/logger"
	"gorm.io/gorm"
)

var globalDB *gorm.DB

func InitSystemLogger(db *gorm.DB) {
	globalDB = db
}

// LogEntry describes one system log row. Request fields stay empty for
// records written by background runs.
type LogEntry struct {
	Module    string
	Action    string
	Message   string
	Scope     string
	ClientID  *uint
	IP        string
	UserAgent string
	Extra     interface{}
}

func LogInfo(entry LogEntry)    { writeLog(models.LogLevelInfo, entry) }
func LogWarning(entry LogEntry) { writeLog(models.LogLevelWarning, entry) }
func LogError(entry LogEntry)   { writeLog(models.LogLevelError, entry) }

func writeLog(level string, entry LogEntry) {
	if globalDB == nil {
		return
	}
	record := models.NewSystemLog(level, entry.Module, entry.Action, entry.Message, entry.Extra)
	record.Scope = entry.Scope
	record.ClientID = entry.ClientID
	record.IP = entry.IP
	record.UserAgent = entry.UserAgent
	if err := globalDB.Create(record).Error; err != nil {
		logger.Warnf("[SystemLog] Failed to write %s/%s: %v", entry.Module, entry.Action, err)
	}
}

type SystemLogService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewSystemLogService(db *gorm.DB) *SystemLogService {
	return &SystemLogService{db: db, now: time.Now}
}

// SystemLogListRequest filters the log. Since and Until accept the same
// absolute or relative forms as the sync endpoints ("2025-03-01", "2 days ago").
type SystemLogListRequest struct {
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
	Level    string `form:"level"`
	Module   string `form:"module"`
	Action   string `form:"action"`
	Scope    string `form:"scope"`
	Since    string `form:"since"`
	Until    string `form:"until"`
	Search   string `form:"search"`
}

type SystemLogListResponse struct {
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Items    []models.SystemLog `json:"items"`
}

func (s *SystemLogService) List(req *SystemLogListRequest) (*SystemLogListResponse, error) {
	req.Page, req.PageSize = normalizePage(req.Page, req.PageSize)

	since, err := utils.ParseSince(req.Since, s.now())
	if err != nil {
		return nil, fmt.Errorf("since: %w", err)
	}
	until, err := utils.ParseSince(req.Until, s.now())
	if err != nil {
		return nil, fmt.Errorf("until: %w", err)
	}

	query := s.db.Model(&models.SystemLog{})
	for column, value := range map[string]string{"level": req.Level, "module": req.Module, "scope": req.Scope} {
		if value != "" {
			query = query.Where(column+" = ?", value)
		}
	}
	if req.Action != "" {
		query = query.Where("action LIKE ?", "%"+req.Action+"%")
	}
	if req.Search != "" {
		query = query.Where("message LIKE ?", "%"+req.Search+"%")
	}
	if since != nil {
		query = query.Where("created_at >= ?", *since)
	}
	if until != nil {
		query = query.Where("created_at <= ?", *until)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	logs := []models.SystemLog{}
	offset := (req.Page - 1) * req.PageSize
	if err := query.Order("created_at DESC, id DESC").Offset(offset).Limit(req.PageSize).Find(&logs).Error; err != nil {
		return nil, err
	}

	return &SystemLogListResponse{Total: total, Page: req.Page, PageSize: req.PageSize, Items: logs}, nil
}

func (s *SystemLogService) GetModules() ([]string, error) {
	var modules []string
	err := s.db.Model(&models.SystemLog{}).Distinct("module").Order("module").Pluck("module", &modules).Error
	return modules, err
}

// CleanupOldLogs deletes entries older than retentionDays. A non-positive
// retention keeps everything.
func (s *SystemLogService) CleanupOldLogs(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := s.now().AddDate(0, 0, -retentionDays)
	result := s.db.Where("created_at < ?", cutoff).Delete(&models.SystemLog{})
	return result.RowsAffected, result.Error
}

// StartLogCleanupScheduler runs the retention cleanup now and then daily.
func StartLogCleanupScheduler(db *gorm.DB, retentionDays int) {
	if retentionDays <= 0 {
		logger.Infof("[SystemLog] Log cleanup disabled (retention_days <= 0)")
		return
	}
	service := NewSystemLogService(db)
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			if deleted, err := service.CleanupOldLogs(retentionDays); err != nil {
				logger.Errorf("[SystemLog] Cleanup failed: %v", err)
			} else if deleted > 0 {
				logger.Infof("[SystemLog] Removed %d entries older than %d days", deleted, retentionDays)
			}
			<-ticker.C
		}
	}()
}

func normalizePage(page, pageSize int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}
