package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

const (
	EdmDateTime = "Edm.DateTime"
	EdmInt64    = "Edm.Int64"

	odataTypeSuffix = "@odata.type"
)

var systemProperties = map[string]struct{}{
	"PartitionKey": {},
	"RowKey":       {},
	"Timestamp":    {},
}

func isSystemProperty(key string) bool {
	if _, ok := systemProperties[key]; ok {
		return true
	}
	return strings.HasPrefix(key, "odata.") || strings.HasSuffix(key, odataTypeSuffix)
}

// encodeEntity turns document fields into the JSON entity format, annotating
// typed values so the service stores them with the right EDM type.
func encodeEntity(partitionKey, rowKey string, fields map[string]any) ([]byte, error) {
	ent := make(map[string]any, len(fields)*2+2)
	ent["PartitionKey"] = partitionKey
	ent["RowKey"] = rowKey
	for k, v := range fields {
		if k == "" || isSystemProperty(k) {
			return nil, fmt.Errorf("reserved field name %q", k)
		}
		switch val := v.(type) {
		case nil:
			continue
		case time.Time:
			ent[k] = val.UTC().Format(time.RFC3339Nano)
			ent[k+odataTypeSuffix] = EdmDateTime
		case int64:
			ent[k] = strconv.FormatInt(val, 10)
			ent[k+odataTypeSuffix] = EdmInt64
		default:
			ent[k] = val
		}
	}
	return sonic.Marshal(ent)
}

// decodeEntity reads a JSON entity back into a Document. Annotated
// Edm.DateTime and Edm.Int64 values are restored to time.Time and int64.
func decodeEntity(data []byte) (Document, error) {
	var raw map[string]any
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return Document{}, err
	}
	id, _ := raw["RowKey"].(string)
	doc := Document{ID: id, Fields: make(map[string]any, len(raw))}
	for k, v := range raw {
		if isSystemProperty(k) {
			continue
		}
		typ, _ := raw[k+odataTypeSuffix].(string)
		switch typ {
		case EdmDateTime:
			s, ok := v.(string)
			if !ok {
				return Document{}, fmt.Errorf("field %s: expected string for %s, got %T", k, EdmDateTime, v)
			}
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return Document{}, fmt.Errorf("field %s: %w", k, err)
			}
			doc.Fields[k] = t.UTC()
		case EdmInt64:
			s, ok := v.(string)
			if !ok {
				return Document{}, fmt.Errorf("field %s: expected string for %s, got %T", k, EdmInt64, v)
			}
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return Document{}, fmt.Errorf("field %s: %w", k, err)
			}
			doc.Fields[k] = n
		default:
			doc.Fields[k] = v
		}
	}
	return doc, nil
}

func escapeFilterValue(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
