package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

const (
	LogLevelInfo    = "info"
	LogLevelWarning = "warning"
	LogLevelError   = "error"
)

// SystemLog is a durable operation record: sync runs, lock contention and
// audited API writes. Scope carries the sync scope (Redmine project or query)
// for run records and is empty for audited requests.
type SystemLog struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Level     string         `gorm:"size:20;index" json:"level"`
	Module    string         `gorm:"size:100;index:idx_system_logs_module_action" json:"module"`
	Action    string         `gorm:"size:200;index:idx_system_logs_module_action" json:"action"`
	Scope     string         `gorm:"size:191;index" json:"scope,omitempty"`
	Message   string         `gorm:"type:text" json:"message"`
	ClientID  *uint          `json:"client_id,omitempty"`
	IP        string         `gorm:"size:50" json:"ip,omitempty"`
	UserAgent string         `gorm:"size:500" json:"user_agent,omitempty"`
	Extra     datatypes.JSON `json:"extra,omitempty"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
}

func (SystemLog) TableName() string { return "system_logs" }

// NewSystemLog builds an entry with extra encoded as JSON. Values that fail
// to encode are dropped rather than failing the write.
func NewSystemLog(level, module, action, message string, extra interface{}) *SystemLog {
	entry := &SystemLog{
		Level:     level,
		Module:    module,
		Action:    action,
		Message:   message,
		CreatedAt: time.Now(),
	}
	if extra != nil {
		if data, err := json.Marshal(extra); err == nil {
			entry.Extra = datatypes.JSON(data)
		}
	}
	return entry
}

// DecodeExtra unmarshals Extra into out. An empty payload leaves out as is.
func (l *SystemLog) DecodeExtra(out interface{}) error {
	if len(l.Extra) == 0 {
		return nil
	}
	return json.Unmarshal(l.Extra, out)
}
