package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// Operations carried by a movement sync message.
const (
	OpUpsert = "upsert"
	OpDelete = "delete"
)

// MovementSyncMessage tells the export worker to refresh one movement.
// It carries only the ID and version; the worker reads the full row from
// the database so the message can never go stale.
type MovementSyncMessage struct {
	Op        string    `json:"op"`
	ID        int64     `json:"id"`
	Version   int64     `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

func NewMovementSyncMessage(id, version int64) *MovementSyncMessage {
	return &MovementSyncMessage{
		Op:        OpUpsert,
		ID:        id,
		Version:   version,
		Timestamp: time.Now(),
	}
}

func NewMovementDeleteMessage(id int64) *MovementSyncMessage {
	return &MovementSyncMessage{
		Op:        OpDelete,
		ID:        id,
		Timestamp: time.Now(),
	}
}

func (m *MovementSyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func MovementSyncMessageFromJSON(data []byte) (*MovementSyncMessage, error) {
	var msg MovementSyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Op {
	case OpUpsert, OpDelete:
	default:
		return nil, fmt.Errorf("unknown sync op %q", msg.Op)
	}
	return &msg, nil
}
