package model

import "encoding/json"

// Record is one {"data": ...} body accepted by the collector.
// Data holds the raw JSON of the data member: a JSON string for text logs,
// any other JSON value otherwise.
type Record struct {
	ID         string          `json:"id"`
	ReceivedAt int64           `json:"received_at"` // unix nanos
	InstanceID string          `json:"instance_id,omitempty"`
	Remote     string          `json:"remote,omitempty"`
	Data       json.RawMessage `json:"data"`
}
