package model

import (
	"time"

	"gorm.io/datatypes"
)

// 受け取ったwebhookの記録。(provider, event_id)で重複を弾く
type ProviderEvent struct {
	ID         int64          `gorm:"primaryKey;autoIncrement"`
	Provider   PaymentMethod  `gorm:"type:varchar(20);not null;uniqueIndex:ux_provider_events_provider_event,priority:1"`
	EventID    string         `gorm:"type:varchar(255);not null;uniqueIndex:ux_provider_events_provider_event,priority:2"`
	EventType  string         `gorm:"type:varchar(100);not null"`
	Payload    datatypes.JSON `gorm:"type:json"`
	ReceivedAt time.Time      `gorm:"not null"`
}
