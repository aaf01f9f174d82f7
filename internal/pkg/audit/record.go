package audit

import (
	"encoding/json"
	"time"
)

// Record 是审计事件的持久化形态，由Kafka消费者写入MySQL，供事后追溯查询。
// Metadata 序列化为JSON字符串存储，避免为动态字段建列。
type Record struct {
	ID           uint64    `json:"id" gorm:"primaryKey;autoIncrement;column:id"`
	Actor        string    `json:"actor" gorm:"column:actor;type:varchar(253);index:idx_actor"`
	ActorID      string    `json:"actorID" gorm:"column:actor_id;type:varchar(64)"`
	Action       string    `json:"action" gorm:"column:action;type:varchar(64);index:idx_action"`
	ResourceType string    `json:"resourceType" gorm:"column:resource_type;type:varchar(64)"`
	ResourceID   string    `json:"resourceID" gorm:"column:resource_id;type:varchar(64)"`
	Target       string    `json:"target" gorm:"column:target;type:varchar(253)"`
	Outcome      string    `json:"outcome" gorm:"column:outcome;type:varchar(16);index:idx_outcome"`
	ErrorMessage string    `json:"errorMessage" gorm:"column:error_message;type:varchar(1024)"`
	RequestID    string    `json:"requestID" gorm:"column:request_id;type:varchar(64)"`
	IP           string    `json:"ip" gorm:"column:ip;type:varchar(64)"`
	UserAgent    string    `json:"userAgent" gorm:"column:user_agent;type:varchar(512)"`
	Metadata     string    `json:"metadata" gorm:"column:metadata;type:text"`
	OccurredAt   time.Time `json:"occurredAt" gorm:"column:occurred_at;index:idx_occurred_at"`
	CreatedAt    time.Time `json:"createdAt" gorm:"column:created_at"`
}

// TableName 指定当前模型映射到 MySQL 数据库的表名。
func (Record) TableName() string {
	return "audit_event"
}

// toRecord 把内存事件转换为持久化记录。Metadata 序列化失败时置空并
// 保留主体字段，审计主干信息不因扩展字段损坏而丢失。
func toRecord(event Event) *Record {
	record := &Record{
		Actor:        event.Actor,
		ActorID:      event.ActorID,
		Action:       event.Action,
		ResourceType: event.ResourceType,
		ResourceID:   event.ResourceID,
		Target:       event.Target,
		Outcome:      event.Outcome,
		ErrorMessage: event.ErrorMessage,
		RequestID:    event.RequestID,
		IP:           event.IP,
		UserAgent:    event.UserAgent,
		OccurredAt:   event.OccurredAt,
	}
	if len(event.Metadata) > 0 {
		if payload, err := json.Marshal(event.Metadata); err == nil {
			record.Metadata = string(payload)
		}
	}
	return record
}
