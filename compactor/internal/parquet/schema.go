package parquet

import (
	"time"

	pq "github.com/parquet-go/parquet-go"

	"github.com/telhawk-systems/telhawk-lake/common/models"
)

// column binds one Row field to its Parquet node.
type column struct {
	name  string
	node  pq.Node
	value func(*models.Row) pq.Value
	set   func(*models.Row, pq.Value)

	index    int
	maxLevel int
}

func optionalString() pq.Node { return pq.Optional(pq.String()) }

// Low-cardinality columns are dictionary encoded.
func optionalDictString() pq.Node {
	return pq.Optional(pq.Encoded(pq.String(), &pq.RLEDictionary))
}

func optionalTimestamp() pq.Node { return pq.Optional(pq.Timestamp(pq.Microsecond)) }

var columns = []*column{
	stringColumn(models.FieldEventID, optionalString(), func(r *models.Row) **string { return &r.EventID }),
	stringColumn(models.FieldEventType, optionalDictString(), func(r *models.Row) **string { return &r.EventType }),
	{
		name: models.FieldSchemaVersion,
		node: pq.Optional(pq.Int(32)),
		value: func(r *models.Row) pq.Value {
			if r.SchemaVersion == nil {
				return pq.NullValue()
			}
			return pq.Int32Value(*r.SchemaVersion)
		},
		set: func(r *models.Row, v pq.Value) {
			n := v.Int32()
			r.SchemaVersion = &n
		},
	},
	timeColumn(models.FieldEventTime, func(r *models.Row) **time.Time { return &r.EventTime }),
	timeColumn(models.FieldIngestTime, func(r *models.Row) **time.Time { return &r.IngestTime }),
	stringColumn(models.FieldTenantID, optionalDictString(), func(r *models.Row) **string { return &r.TenantID }),
	stringColumn(models.FieldUserID, optionalString(), func(r *models.Row) **string { return &r.UserID }),
	stringColumn(models.FieldSessionID, optionalString(), func(r *models.Row) **string { return &r.SessionID }),
	stringColumn(models.FieldSourceSystem, optionalDictString(), func(r *models.Row) **string { return &r.SourceSystem }),
	stringColumn(models.FieldEnvironment, optionalDictString(), func(r *models.Row) **string { return &r.Environment }),
	stringColumn(models.FieldRecordSource, optionalDictString(), func(r *models.Row) **string { return &r.RecordSource }),
	stringColumn(models.FieldChecksum, optionalString(), func(r *models.Row) **string { return &r.Checksum }),
	stringColumn(models.FieldPayload, optionalString(), func(r *models.Row) **string { return &r.Payload }),
	{
		name: models.FieldIngestDate,
		node: pq.Encoded(pq.String(), &pq.RLEDictionary),
		value: func(r *models.Row) pq.Value {
			return pq.ByteArrayValue([]byte(r.IngestDate))
		},
		set: func(r *models.Row, v pq.Value) {
			r.IngestDate = string(v.ByteArray())
		},
	},
}

func stringColumn(name string, node pq.Node, field func(*models.Row) **string) *column {
	return &column{
		name: name,
		node: node,
		value: func(r *models.Row) pq.Value {
			s := *field(r)
			if s == nil {
				return pq.NullValue()
			}
			return pq.ByteArrayValue([]byte(*s))
		},
		set: func(r *models.Row, v pq.Value) {
			s := string(v.ByteArray())
			*field(r) = &s
		},
	}
}

func timeColumn(name string, field func(*models.Row) **time.Time) *column {
	return &column{
		name: name,
		node: optionalTimestamp(),
		value: func(r *models.Row) pq.Value {
			t := *field(r)
			if t == nil {
				return pq.NullValue()
			}
			return pq.Int64Value(t.UnixMicro())
		},
		set: func(r *models.Row, v pq.Value) {
			t := time.UnixMicro(v.Int64()).UTC()
			*field(r) = &t
		},
	}
}

// Schema is the compacted event schema. Leaf columns are ordered by name.
var Schema = buildSchema()

// byIndex maps a leaf column index back to its column.
var byIndex []*column

func buildSchema() *pq.Schema {
	group := make(pq.Group, len(columns))
	for _, c := range columns {
		group[c.name] = c.node
	}
	schema := pq.NewSchema("event", group)

	byIndex = make([]*column, len(columns))
	for _, c := range columns {
		leaf, ok := schema.Lookup(c.name)
		if !ok {
			panic("parquet: column missing from schema: " + c.name)
		}
		c.index = leaf.ColumnIndex
		c.maxLevel = leaf.MaxDefinitionLevel
		byIndex[c.index] = c
	}
	return schema
}

func toParquet(r *models.Row) pq.Row {
	buf := make(pq.Row, len(columns))
	for _, c := range columns {
		v := c.value(r)
		level := c.maxLevel
		if v.IsNull() {
			level = 0
		}
		buf[c.index] = v.Level(0, level, c.index)
	}
	return buf
}

func fromParquet(row pq.Row) models.Row {
	var r models.Row
	for _, v := range row {
		if v.IsNull() {
			continue
		}
		idx := v.Column()
		if idx < 0 || idx >= len(byIndex) {
			continue
		}
		byIndex[idx].set(&r, v)
	}
	return r
}
