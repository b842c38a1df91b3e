// Package normalizer maps loose envelopes onto the fixed compacted schema.
package normalizer

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/telhawk-systems/telhawk-lake/common/models"
	"github.com/telhawk-systems/telhawk-lake/common/partition"
)

// Normalize projects env onto a Row tagged with partition key. Unknown fields
// are dropped and any value that does not fit its column becomes null, so
// Normalize never fails.
func Normalize(env models.Envelope, key string) models.Row {
	return models.Row{
		EventID:       identity(env),
		EventType:     str(env, models.FieldEventType),
		SchemaVersion: int32Field(env, models.FieldSchemaVersion),
		EventTime:     timestamp(env, models.FieldEventTime),
		IngestTime:    timestamp(env, models.FieldIngestTime),
		TenantID:      str(env, models.FieldTenantID),
		UserID:        str(env, models.FieldUserID),
		SessionID:     str(env, models.FieldSessionID),
		SourceSystem:  str(env, models.FieldSourceSystem),
		Environment:   str(env, models.FieldEnvironment),
		RecordSource:  str(env, models.FieldRecordSource),
		Checksum:      str(env, models.FieldChecksum),
		Payload:       payload(env),
		IngestDate:    key,
	}
}

// str keeps JSON strings, and numbers and booleans in their literal text.
func str(env models.Envelope, field string) *string {
	raw, ok := env.Raw(field)
	if !ok {
		return nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		return &s
	case '{', '[':
		return nil
	default:
		// true, false or a number
		s := string(raw)
		return &s
	}
}

// identity only accepts a JSON string, so 1 and "1" never share a dedup key.
func identity(env models.Envelope) *string {
	s, ok := env.String(models.FieldEventID)
	if !ok {
		return nil
	}
	return &s
}

func int32Field(env models.Envelope, field string) *int32 {
	raw, ok := env.Raw(field)
	if !ok {
		return nil
	}
	text := string(raw)
	if n, err := strconv.ParseInt(text, 10, 32); err == nil {
		v := int32(n)
		return &v
	}
	// 3.0 and 3e0 are integral too.
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return nil
	}
	v := int32(f)
	return &v
}

func timestamp(env models.Envelope, field string) *time.Time {
	s, ok := env.String(field)
	if !ok {
		return nil
	}
	t, err := partition.ParseTimestamp(s)
	if err != nil {
		return nil
	}
	t = t.UTC().Truncate(time.Microsecond)
	return &t
}

func payload(env models.Envelope) *string {
	raw, ok := env.Raw(models.FieldPayload)
	if !ok {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil
	}
	s := buf.String()
	return &s
}
