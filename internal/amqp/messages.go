package amqp

import (
	"encoding/json"
	"time"
)

// LedgerUpdatedMessage announces that a user's document was saved.
// Consumers fetch the document itself from storage.
type LedgerUpdatedMessage struct {
	UserID    string    `json:"user_id"`
	Version   int64     `json:"version"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	Origin    string    `json:"origin,omitempty"` // publishing process
	Timestamp time.Time `json:"timestamp"`
}

func NewLedgerUpdatedMessage(userID string, version int64, updatedBy, origin string) *LedgerUpdatedMessage {
	return &LedgerUpdatedMessage{
		UserID:    userID,
		Version:   version,
		UpdatedBy: updatedBy,
		Origin:    origin,
		Timestamp: time.Now().UTC(),
	}
}

func (m *LedgerUpdatedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func LedgerUpdatedMessageFromJSON(data []byte) (*LedgerUpdatedMessage, error) {
	var msg LedgerUpdatedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
