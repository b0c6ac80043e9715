// Package models holds the wire and domain models shared across the
// Pagemule workspace-operations service: the simplified property
// representation exchanged with the calling agent, page and database
// views of the remote workspace, operation/batch envelopes, and the
// idempotency and audit records kept in the store.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ── Property kinds ───────────────────────────────────────────

// PropertyKind identifies one of the typed property kinds supported by
// the remote workspace service.
type PropertyKind string

const (
	KindTitle          PropertyKind = "title"
	KindRichText       PropertyKind = "rich_text"
	KindNumber         PropertyKind = "number"
	KindSelect         PropertyKind = "select"
	KindMultiSelect    PropertyKind = "multi_select"
	KindStatus         PropertyKind = "status"
	KindDate           PropertyKind = "date"
	KindCheckbox       PropertyKind = "checkbox"
	KindURL            PropertyKind = "url"
	KindEmail          PropertyKind = "email"
	KindPhoneNumber    PropertyKind = "phone_number"
	KindPeople         PropertyKind = "people"
	KindFiles          PropertyKind = "files"
	KindRelation       PropertyKind = "relation"
	KindRollup         PropertyKind = "rollup"
	KindFormula        PropertyKind = "formula"
	KindCreatedTime    PropertyKind = "created_time"
	KindCreatedBy      PropertyKind = "created_by"
	KindLastEditedTime PropertyKind = "last_edited_time"
	KindLastEditedBy   PropertyKind = "last_edited_by"

	// KindUnknown marks a property kind this service does not model.
	// Unknown kinds are carried through decoding as opaque JSON so that
	// reads never fail on forward-incompatible schema additions.
	KindUnknown PropertyKind = "unknown"
)

// ReadOnly reports whether the kind is computed by the remote service
// and can never be written by this engine.
func (k PropertyKind) ReadOnly() bool {
	switch k {
	case KindRollup, KindFormula, KindCreatedTime, KindCreatedBy, KindLastEditedTime, KindLastEditedBy:
		return true
	}
	return false
}

// KnownKind reports whether k is one of the modeled property kinds.
func KnownKind(k PropertyKind) bool {
	switch k {
	case KindTitle, KindRichText, KindNumber, KindSelect, KindMultiSelect,
		KindStatus, KindDate, KindCheckbox, KindURL, KindEmail,
		KindPhoneNumber, KindPeople, KindFiles, KindRelation,
		KindRollup, KindFormula, KindCreatedTime, KindCreatedBy,
		KindLastEditedTime, KindLastEditedBy:
		return true
	}
	return false
}

// ── Property values ──────────────────────────────────────────

// DateValue is the value shape for date properties. Start is required,
// End marks the optional close of a range.
type DateValue struct {
	Start string `json:"start"`
	End   string `json:"end,omitempty"`
}

// FileRef is one entry of a files property.
type FileRef struct {
	Name string `json:"name,omitempty"`
	URL  string `json:"url"`
}

// PropertyValue is the tagged union over all supported property kinds.
// Exactly one of the value fields is meaningful for a given Kind:
//
//	title, rich_text, url, email, phone_number  → Text
//	created_time, last_edited_time              → Text (RFC 3339)
//	created_by, last_edited_by                  → Text (user ID)
//	number                                      → Number
//	checkbox                                    → Checkbox
//	select, status                              → Label
//	multi_select                                → Labels
//	date                                        → Date
//	relation, people                            → IDs
//	files                                       → Files
//	rollup, formula, unknown                    → Raw
//
// On the wire toward the agent this serializes as {"type": ..., "value": ...}.
type PropertyValue struct {
	Kind     PropertyKind
	Text     string
	Number   *float64
	Checkbox bool
	Label    string
	Labels   []string
	Date     *DateValue
	IDs      []string
	Files    []FileRef
	Raw      json.RawMessage
}

// NewText builds a title/rich_text-style value.
func NewText(kind PropertyKind, s string) PropertyValue {
	return PropertyValue{Kind: kind, Text: s}
}

// NewNumber builds a number value.
func NewNumber(n float64) PropertyValue {
	return PropertyValue{Kind: KindNumber, Number: &n}
}

// NewSelect builds a select value with a single label.
func NewSelect(label string) PropertyValue {
	return PropertyValue{Kind: KindSelect, Label: label}
}

// NewRelation builds a relation value from an ordered target ID list.
func NewRelation(ids ...string) PropertyValue {
	return PropertyValue{Kind: KindRelation, IDs: ids}
}

// value returns the agent-facing value shape for marshaling.
func (v PropertyValue) value() interface{} {
	switch v.Kind {
	case KindTitle, KindRichText, KindURL, KindEmail, KindPhoneNumber,
		KindCreatedTime, KindCreatedBy, KindLastEditedTime, KindLastEditedBy:
		return v.Text
	case KindNumber:
		return v.Number
	case KindCheckbox:
		return v.Checkbox
	case KindSelect, KindStatus:
		return v.Label
	case KindMultiSelect:
		return v.Labels
	case KindDate:
		return v.Date
	case KindRelation, KindPeople:
		return v.IDs
	case KindFiles:
		return v.Files
	default:
		if len(v.Raw) > 0 {
			return json.RawMessage(v.Raw)
		}
		return nil
	}
}

// MarshalJSON emits the flat {"type": ..., "value": ...} representation.
func (v PropertyValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  PropertyKind `json:"type"`
		Value interface{}  `json:"value"`
	}{Type: v.Kind, Value: v.value()})
}

// UnmarshalJSON accepts the flat representation, coercing the loose
// shapes an agent tends to send: a bare string for date ({"start": s}),
// a single string where a list is expected, an integer for number.
func (v *PropertyValue) UnmarshalJSON(data []byte) error {
	var env struct {
		Type  PropertyKind    `json:"type"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	v.Kind = env.Type
	if len(env.Value) == 0 || string(env.Value) == "null" {
		return nil
	}

	switch env.Type {
	case KindTitle, KindRichText, KindURL, KindEmail, KindPhoneNumber,
		KindCreatedTime, KindCreatedBy, KindLastEditedTime, KindLastEditedBy:
		return json.Unmarshal(env.Value, &v.Text)
	case KindNumber:
		return json.Unmarshal(env.Value, &v.Number)
	case KindCheckbox:
		return json.Unmarshal(env.Value, &v.Checkbox)
	case KindSelect, KindStatus:
		return json.Unmarshal(env.Value, &v.Label)
	case KindMultiSelect:
		labels, err := stringOrList(env.Value)
		if err != nil {
			return fmt.Errorf("multi_select value: %w", err)
		}
		v.Labels = labels
		return nil
	case KindDate:
		if env.Value[0] == '"' {
			var start string
			if err := json.Unmarshal(env.Value, &start); err != nil {
				return err
			}
			v.Date = &DateValue{Start: start}
			return nil
		}
		return json.Unmarshal(env.Value, &v.Date)
	case KindRelation, KindPeople:
		ids, err := stringOrList(env.Value)
		if err != nil {
			return fmt.Errorf("%s value: %w", env.Type, err)
		}
		v.IDs = ids
		return nil
	case KindFiles:
		return json.Unmarshal(env.Value, &v.Files)
	default:
		v.Raw = append(json.RawMessage(nil), env.Value...)
		return nil
	}
}

// stringOrList accepts either "x" or ["x","y"].
func stringOrList(raw json.RawMessage) ([]string, error) {
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return []string{s}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Properties is the flat property mapping exchanged with the agent.
type Properties map[string]PropertyValue

// ── Workspace entities ───────────────────────────────────────

// Page is the decoded view of a remote page returned to callers.
type Page struct {
	ID             string     `json:"id"`
	ParentType     string     `json:"parent_type,omitempty"` // database_id, page_id, workspace
	ParentID       string     `json:"parent_id,omitempty"`
	Archived       bool       `json:"archived"`
	Properties     Properties `json:"properties"`
	URL            string     `json:"url,omitempty"`
	CreatedTime    time.Time  `json:"created_time"`
	LastEditedTime time.Time  `json:"last_edited_time"`
}

// PropertySchema is one column of a database schema: the property kind
// plus its kind-specific configuration, read from the remote service and
// never authored locally.
type PropertySchema struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Kind   PropertyKind    `json:"kind"`
	Config json.RawMessage `json:"config,omitempty"` // select options, relation target, ...
}

// Database is the decoded view of a remote database.
type Database struct {
	ID             string                    `json:"id"`
	Title          string                    `json:"title"`
	ParentType     string                    `json:"parent_type,omitempty"`
	ParentID       string                    `json:"parent_id,omitempty"`
	Schema         map[string]PropertySchema `json:"schema"`
	URL            string                    `json:"url,omitempty"`
	CreatedTime    time.Time                 `json:"created_time"`
	LastEditedTime time.Time                 `json:"last_edited_time"`
}

// ── Operations ───────────────────────────────────────────────

// OpKind names one batchable operation.
type OpKind string

const (
	OpUpsert         OpKind = "upsert"
	OpLink           OpKind = "link"
	OpCreatePage     OpKind = "create_page"
	OpUpdatePage     OpKind = "update_page"
	OpCreateDatabase OpKind = "create_database"
	OpUpdateDatabase OpKind = "update_database"
	OpQueryDatabase  OpKind = "query_database"
	OpAppendBlocks   OpKind = "append_blocks"
	OpDeleteBlock    OpKind = "delete_block"
)

// LinkMode selects the set-algebra applied to a relation property.
type LinkMode string

const (
	LinkSet    LinkMode = "set"    // replace the full target set
	LinkAdd    LinkMode = "add"    // union, new IDs appended in caller order
	LinkRemove LinkMode = "remove" // subtract
)

// BulkMode selects the failure policy of a batch.
type BulkMode string

const (
	// FailFast aborts the batch at the first failed operation; completed
	// operations stay committed and the remainder is marked skipped.
	FailFast BulkMode = "fail_fast"
	// ContinueOnError attempts every operation regardless of prior failures.
	ContinueOnError BulkMode = "continue_on_error"
)

// Operation is one entry of a bulk batch: the operation kind plus its
// kind-specific arguments, decoded by the engine at execution time.
type Operation struct {
	Op             OpKind          `json:"op"`
	Args           json.RawMessage `json:"args"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// BulkBatch is an ordered sequence of operations under one failure policy.
type BulkBatch struct {
	Mode       BulkMode    `json:"mode"`
	Operations []Operation `json:"operations"`
}

// OperationResult is the per-operation outcome of a bulk batch. Index is
// the position of the operation in the input sequence so callers can
// correlate failures positionally.
type OperationResult struct {
	Index   int             `json:"index"`
	Op      OpKind          `json:"operation"`
	Success bool            `json:"success"`
	Skipped bool            `json:"skipped,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorDetail    `json:"error,omitempty"`
}

// BulkResult aggregates a batch run. Results preserves input order.
type BulkResult struct {
	Total     int               `json:"total"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Skipped   int               `json:"skipped"`
	Results   []OperationResult `json:"results"`
}

// ErrorDetail is the serializable form of a typed engine error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"`
}

// ── Idempotency ──────────────────────────────────────────────

// IdempotencyRecord snapshots the outcome of an operation under a
// caller-supplied key. Within the TTL window a replay of the same key
// returns Snapshot without touching the remote service.
type IdempotencyRecord struct {
	Key         string          `json:"key"`
	RequestHash string          `json:"request_hash"`
	Snapshot    json.RawMessage `json:"snapshot"`
	RecordedAt  time.Time       `json:"recorded_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// Expired reports whether the record is past its TTL at the given instant.
func (r *IdempotencyRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// ── Audit ────────────────────────────────────────────────────

// AuditEvent is one immutable entry of the append-only operation log.
type AuditEvent struct {
	ID           string    `json:"id"`
	RequestID    string    `json:"request_id"`
	Actor        string    `json:"actor"`
	Op           string    `json:"operation"`
	EntityIDs    []string  `json:"entity_ids,omitempty"`
	Success      bool      `json:"success"`
	Summary      string    `json:"summary"`
	Warning      string    `json:"warning,omitempty"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// AuditFilter narrows audit queries.
type AuditFilter struct {
	Actor   string
	Op      string
	Success *bool
	Since   *time.Time
	Until   *time.Time
	Limit   int
	Offset  int
}
