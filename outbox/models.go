// Package outbox stores domain events in the same transaction as the change
// that produced them and relays them to a message broker afterwards.
package outbox

import (
	"encoding/json"
	"time"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusPublished  = "published"
	StatusDead       = "dead"
)

// Message is a claimed outbox row.
type Message struct {
	ID        string
	Topic     string
	Payload   []byte
	Attempts  int
	CreatedAt time.Time
}

// Key returns the partitioning key for the message: the issue id when the
// payload carries one, otherwise the message id.
func (m Message) Key() string {
	var ref struct {
		IssueID string `json:"issue_id"`
	}
	if err := json.Unmarshal(m.Payload, &ref); err == nil && ref.IssueID != "" {
		return ref.IssueID
	}
	return m.ID
}
