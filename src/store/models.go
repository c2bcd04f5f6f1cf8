package store

import "time"

// ActivityRecord is one event reported by a dashboard.
type ActivityRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	EventType  string    `gorm:"size:64;index" json:"eventType"`
	ClientID   string    `gorm:"size:128;index" json:"clientId"`
	UserID     string    `gorm:"size:128" json:"userId,omitempty"`
	OccurredAt time.Time `gorm:"index" json:"timestamp"`
	Data       string    `gorm:"type:text" json:"data,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ConnectionLog is one dashboard session. DisconnectedAt and OnlineSeconds
// stay nil while the session is open.
type ConnectionLog struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	ClientID       string     `gorm:"size:128;index:idx_conn_client" json:"clientId"`
	ConnectionID   string     `gorm:"size:64;index:idx_conn_client" json:"connectionId"`
	ConnectedAt    time.Time  `json:"connectedAt"`
	DisconnectedAt *time.Time `json:"disconnectedAt,omitempty"`
	OnlineSeconds  *int64     `json:"onlineSeconds,omitempty"`
}

// CommandAudit records an admin command and what happened to it.
type CommandAudit struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Command   string    `gorm:"size:64;index" json:"command"`
	Target    string    `gorm:"size:128;index" json:"target"`
	IssuedBy  string    `gorm:"size:128" json:"issuedBy,omitempty"`
	Payload   string    `gorm:"type:text" json:"payload,omitempty"`
	Delivered bool      `json:"delivered"`
	Reason    string    `gorm:"size:64" json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
