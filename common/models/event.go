// Package models holds the record shapes that flow through the lake: the raw
// envelope as it arrives on the feed and the fixed-schema row produced by
// compaction.
package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Stable envelope field names.
const (
	FieldEventID       = "event_id"
	FieldEventType     = "event_type"
	FieldSchemaVersion = "schema_version"
	FieldEventTime     = "event_time"
	FieldIngestTime    = "ingest_time"
	FieldTenantID      = "tenant_id"
	FieldUserID        = "user_id"
	FieldSessionID     = "session_id"
	FieldSourceSystem  = "source_system"
	FieldEnvironment   = "environment"
	FieldRecordSource  = "record_source"
	FieldChecksum      = "checksum"
	FieldPayload       = "payload"

	// FieldIngestDate is the materialized partition key column.
	FieldIngestDate = "ingest_date"
)

// StableFields lists every recognized envelope field in column order.
var StableFields = []string{
	FieldEventID,
	FieldEventType,
	FieldSchemaVersion,
	FieldEventTime,
	FieldIngestTime,
	FieldTenantID,
	FieldUserID,
	FieldSessionID,
	FieldSourceSystem,
	FieldEnvironment,
	FieldRecordSource,
	FieldChecksum,
	FieldPayload,
}

// ErrNotObject is returned when a record is valid JSON but not an object.
var ErrNotObject = errors.New("record is not a JSON object")

// Envelope is a raw feed record: a JSON object whose field values are kept as
// undecoded JSON so nothing is lost or reformatted before compaction.
type Envelope map[string]json.RawMessage

// DecodeEnvelope parses one JSON object.
func DecodeEnvelope(data []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		if json.Valid(trimmed) {
			return nil, ErrNotObject
		}
		return nil, fmt.Errorf("decode envelope: invalid JSON")
	}
	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// Raw returns the undecoded value of a field. Absent fields and explicit
// JSON nulls both report false.
func (e Envelope) Raw(field string) (json.RawMessage, bool) {
	v, ok := e[field]
	if !ok || len(v) == 0 || string(v) == "null" {
		return nil, false
	}
	return v, true
}

// String returns a field's value when it is a JSON string.
func (e Envelope) String(field string) (string, bool) {
	raw, ok := e.Raw(field)
	if !ok || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Row is the fixed-schema, compacted form of an envelope. Nil pointers are
// nulls in the columnar output.
type Row struct {
	EventID       *string    `json:"event_id"`
	EventType     *string    `json:"event_type"`
	SchemaVersion *int32     `json:"schema_version"`
	EventTime     *time.Time `json:"event_time"`
	IngestTime    *time.Time `json:"ingest_time"`
	TenantID      *string    `json:"tenant_id"`
	UserID        *string    `json:"user_id"`
	SessionID     *string    `json:"session_id"`
	SourceSystem  *string    `json:"source_system"`
	Environment   *string    `json:"environment"`
	RecordSource  *string    `json:"record_source"`
	Checksum      *string    `json:"checksum"`
	Payload       *string    `json:"payload"`
	IngestDate    string     `json:"ingest_date"`
}

// Identity returns the row's deduplication key.
func (r *Row) Identity() (string, bool) {
	if r.EventID == nil {
		return "", false
	}
	return *r.EventID, true
}
