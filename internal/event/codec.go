package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Wire field names. The layout is a flat string map so entries stay readable
// with XRANGE and interoperate with non-Go consumers.
const (
	fieldID             = "event_id"
	fieldType           = "event_type"
	fieldEntityType     = "entity_type"
	fieldEntityID       = "entity_id"
	fieldTenantID       = "tenant_id"
	fieldUserID         = "user_id"
	fieldTimestamp      = "timestamp"
	fieldMetaSource     = "metadata_source"
	fieldMetaVersion    = "metadata_version"
	fieldMetaAdditional = "metadata_additional_data"
)

// Fields encodes the event as the flat field map appended to a stream.
// additional_data is carried as a single JSON-encoded value.
func (e *Event) Fields() (map[string]any, error) {
	extra, err := json.Marshal(e.Metadata.AdditionalData)
	if err != nil {
		return nil, fmt.Errorf("encode additional_data for event %s: %w", e.ID, err)
	}
	userID := ""
	if e.UserID != nil {
		userID = e.UserID.String()
	}
	return map[string]any{
		fieldID:             e.ID.String(),
		fieldType:           e.Type,
		fieldEntityType:     e.EntityType,
		fieldEntityID:       e.EntityID.String(),
		fieldTenantID:       e.TenantID.String(),
		fieldUserID:         userID,
		fieldTimestamp:      e.Timestamp.Format(time.RFC3339Nano),
		fieldMetaSource:     e.Metadata.Source,
		fieldMetaVersion:    e.Metadata.Version,
		fieldMetaAdditional: string(extra),
	}, nil
}

// NormalizeFields flattens the wire shapes seen from different stream
// clients into one string map: either a string-keyed map, or a flat
// [key, value, key, value, ...] pair list. All other shapes yield an
// empty map. This is the single normalization point; decoding never
// branches on wire shape anywhere else.
func NormalizeFields(raw any) map[string]string {
	out := make(map[string]string)
	switch v := raw.(type) {
	case map[string]string:
		for k, val := range v {
			out[k] = val
		}
	case map[string]any:
		for k, val := range v {
			out[k] = fmt.Sprint(val)
		}
	case []any:
		for i := 0; i+1 < len(v); i += 2 {
			key, ok := v[i].(string)
			if !ok {
				continue
			}
			out[key] = fmt.Sprint(v[i+1])
		}
	}
	return out
}

// FromFields decodes a wire field map back into an Event. Missing metadata
// fields fall back to defaults; a malformed additional_data payload decodes
// to an empty map rather than failing the whole event.
func FromFields(raw any) (*Event, error) {
	data := NormalizeFields(raw)

	id, err := uuid.Parse(data[fieldID])
	if err != nil {
		return nil, fmt.Errorf("decode event_id %q: %w", data[fieldID], err)
	}
	if !typePattern.MatchString(data[fieldType]) {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidType, data[fieldType])
	}
	entityID, err := uuid.Parse(data[fieldEntityID])
	if err != nil {
		return nil, fmt.Errorf("decode entity_id %q: %w", data[fieldEntityID], err)
	}
	tenantID, err := uuid.Parse(data[fieldTenantID])
	if err != nil {
		return nil, fmt.Errorf("decode tenant_id %q: %w", data[fieldTenantID], err)
	}
	var userID *uuid.UUID
	if s := data[fieldUserID]; s != "" {
		u, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("decode user_id %q: %w", s, err)
		}
		userID = &u
	}
	ts, err := time.Parse(time.RFC3339Nano, data[fieldTimestamp])
	if err != nil {
		return nil, fmt.Errorf("decode timestamp %q: %w", data[fieldTimestamp], err)
	}

	extra := map[string]any{}
	if s := data[fieldMetaAdditional]; s != "" {
		if err := json.Unmarshal([]byte(s), &extra); err != nil {
			extra = map[string]any{}
		}
	}
	source := data[fieldMetaSource]
	if source == "" {
		source = "unknown"
	}
	version := data[fieldMetaVersion]
	if version == "" {
		version = "1.0"
	}

	return &Event{
		ID:         id,
		Type:       data[fieldType],
		EntityType: data[fieldEntityType],
		EntityID:   entityID,
		TenantID:   tenantID,
		UserID:     userID,
		Timestamp:  ts,
		Metadata: Metadata{
			Source:         source,
			Version:        version,
			AdditionalData: extra,
		},
	}, nil
}
