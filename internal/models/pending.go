package models

import "encoding/json"

// OperationType determines how the sync engine handles a replay success.
type OperationType string

const (
	OperationCreate OperationType = "create"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

// Valid reports whether t is one of the known operation types.
func (t OperationType) Valid() bool {
	switch t {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// PendingOperation is a deferred write waiting to be replayed against the
// remote API.
type PendingOperation struct {
	ID               string            `json:"id"`
	Timestamp        int64             `json:"timestamp"`
	URL              string            `json:"url"`
	Method           string            `json:"method"`
	Headers          map[string]string `json:"headers,omitempty"`
	Body             json.RawMessage   `json:"body,omitempty"`
	TableName        string            `json:"tableName"`
	ResourceID       int64             `json:"resourceId"`
	OperationType    OperationType     `json:"operationType"`
	RetryCount       int               `json:"retryCount"`
	LastAttempt      int64             `json:"lastAttempt,omitempty"`
	LastErrorMessage string            `json:"lastErrorMessage,omitempty"`
	// Revision increases each time the request payload is rewritten in place.
	Revision int `json:"revision"`
}

// DecodeBody unmarshals the stored request body into a Record.
func (op *PendingOperation) DecodeBody() (Record, error) {
	if len(op.Body) == 0 {
		return Record{}, nil
	}
	var rec Record
	if err := json.Unmarshal(op.Body, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// SyncStatus holds the freshness marker of one collection.
type SyncStatus struct {
	Collection string `json:"collection"`
	LastSync   int64  `json:"lastSync"`
}
