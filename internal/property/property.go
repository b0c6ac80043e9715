// Package property converts between the flat {name: {type, value}}
// representation exchanged with the calling agent and the nested typed
// property shapes of the remote workspace API.
//
// Encoding validates value shapes locally so that malformed input is
// rejected before any network call. Decoding is lossless for all
// supported kinds and degrades to an opaque passthrough for kinds this
// service does not model, so reads never fail on remote schema
// additions.
package property

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pagemule/pagemule/pkg/models"
)

// ── Errors ──────────────────────────────────────────────────

// InvalidValueError reports a property value whose shape or type does
// not match its declared kind. Raised before any network call.
type InvalidValueError struct {
	Property string
	Kind     models.PropertyKind
	Reason   string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid %s value for property %q: %s", e.Kind, e.Property, e.Reason)
}

// ReadOnlyError reports an attempt to write a property kind computed by
// the remote service (rollup, formula, created/edited stamps).
type ReadOnlyError struct {
	Property string
	Kind     models.PropertyKind
}

func (e *ReadOnlyError) Error() string {
	return fmt.Sprintf("property %q is read-only (%s)", e.Property, e.Kind)
}

// ── Wire fragments ──────────────────────────────────────────

// richText is the minimal rich-text element accepted by the remote API.
type richText struct {
	Type string `json:"type,omitempty"`
	Text *struct {
		Content string `json:"content"`
	} `json:"text,omitempty"`
	PlainText string `json:"plain_text,omitempty"`
}

func newRichText(s string) []richText {
	rt := richText{Type: "text"}
	rt.Text = &struct {
		Content string `json:"content"`
	}{Content: s}
	return []richText{rt}
}

func flattenRichText(rts []richText) string {
	var out string
	for _, rt := range rts {
		if rt.PlainText != "" {
			out += rt.PlainText
		} else if rt.Text != nil {
			out += rt.Text.Content
		}
	}
	return out
}

type nameRef struct {
	Name string `json:"name"`
}

type idRef struct {
	Object string `json:"object,omitempty"`
	ID     string `json:"id"`
}

type dateWire struct {
	Start string  `json:"start"`
	End   *string `json:"end,omitempty"`
}

type fileWire struct {
	Name     string `json:"name,omitempty"`
	Type     string `json:"type,omitempty"`
	External *struct {
		URL string `json:"url"`
	} `json:"external,omitempty"`
	File *struct {
		URL string `json:"url"`
	} `json:"file,omitempty"`
}

// dateLayouts are the accepted start/end formats: a bare date or a full
// RFC 3339 timestamp.
var dateLayouts = []string{"2006-01-02", time.RFC3339}

func validDate(s string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// isEntityID reports whether s looks like a remote entity ID: 32 hex
// digits, dashes ignored. The remote service accepts both dashed and
// bare forms.
func isEntityID(s string) bool {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '-' {
			continue
		}
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
			n++
			continue
		}
		return false
	}
	return n == 32
}

// ── Encode ──────────────────────────────────────────────────

// Encode converts a single property value to the remote wire shape,
// keyed by its kind: {"select": {"name": "Done"}}. Read-only kinds are
// rejected with ReadOnlyError, shape mismatches with InvalidValueError.
func Encode(name string, v models.PropertyValue) (json.RawMessage, error) {
	if v.Kind.ReadOnly() {
		return nil, &ReadOnlyError{Property: name, Kind: v.Kind}
	}

	var inner interface{}
	switch v.Kind {
	case models.KindTitle, models.KindRichText:
		inner = newRichText(v.Text)

	case models.KindNumber:
		inner = v.Number // null clears

	case models.KindSelect, models.KindStatus:
		if v.Label == "" {
			inner = nil // null clears the option
		} else {
			inner = nameRef{Name: v.Label}
		}

	case models.KindMultiSelect:
		refs := make([]nameRef, 0, len(v.Labels))
		for _, l := range v.Labels {
			if l == "" {
				return nil, &InvalidValueError{Property: name, Kind: v.Kind, Reason: "empty label"}
			}
			refs = append(refs, nameRef{Name: l})
		}
		inner = refs

	case models.KindDate:
		if v.Date == nil {
			inner = nil
		} else {
			if v.Date.Start == "" {
				return nil, &InvalidValueError{Property: name, Kind: v.Kind, Reason: "start is required"}
			}
			if !validDate(v.Date.Start) {
				return nil, &InvalidValueError{Property: name, Kind: v.Kind, Reason: fmt.Sprintf("start %q is not ISO-8601", v.Date.Start)}
			}
			if v.Date.End != "" && !validDate(v.Date.End) {
				return nil, &InvalidValueError{Property: name, Kind: v.Kind, Reason: fmt.Sprintf("end %q is not ISO-8601", v.Date.End)}
			}
			d := dateWire{Start: v.Date.Start}
			if v.Date.End != "" {
				end := v.Date.End
				d.End = &end
			}
			inner = d
		}

	case models.KindCheckbox:
		inner = v.Checkbox

	case models.KindURL, models.KindEmail, models.KindPhoneNumber:
		if v.Text == "" {
			inner = nil
		} else {
			inner = v.Text
		}

	case models.KindPeople:
		refs, err := encodeIDRefs(name, v, "user")
		if err != nil {
			return nil, err
		}
		inner = refs

	case models.KindRelation:
		refs, err := encodeIDRefs(name, v, "")
		if err != nil {
			return nil, err
		}
		inner = refs

	case models.KindFiles:
		files := make([]fileWire, 0, len(v.Files))
		for _, f := range v.Files {
			if f.URL == "" {
				return nil, &InvalidValueError{Property: name, Kind: v.Kind, Reason: "file url is required"}
			}
			fw := fileWire{Name: f.Name, Type: "external"}
			fw.External = &struct {
				URL string `json:"url"`
			}{URL: f.URL}
			files = append(files, fw)
		}
		inner = files

	default:
		return nil, &InvalidValueError{Property: name, Kind: v.Kind, Reason: "unsupported kind for writing"}
	}

	return json.Marshal(map[models.PropertyKind]interface{}{v.Kind: inner})
}

// encodeIDRefs validates and wraps an ID list. An empty list encodes to
// [] which clears the property on the remote side.
func encodeIDRefs(name string, v models.PropertyValue, object string) ([]idRef, error) {
	refs := make([]idRef, 0, len(v.IDs))
	for _, id := range v.IDs {
		if !isEntityID(id) {
			return nil, &InvalidValueError{Property: name, Kind: v.Kind, Reason: fmt.Sprintf("%q is not an entity ID", id)}
		}
		refs = append(refs, idRef{Object: object, ID: id})
	}
	return refs, nil
}

// EncodeMap converts a full property mapping. The first invalid value
// aborts the whole encode so no partial payload is ever sent.
func EncodeMap(props models.Properties) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(props))
	for name, v := range props {
		wire, err := Encode(name, v)
		if err != nil {
			return nil, err
		}
		out[name] = wire
	}
	return out, nil
}

// ── Decode ──────────────────────────────────────────────────

// Decode converts a remote property object back to a PropertyValue.
// The object's "type" discriminator selects the shape; kinds this
// service does not model decode to KindUnknown with the raw JSON kept.
func Decode(raw json.RawMessage) (models.PropertyValue, error) {
	var head struct {
		Type models.PropertyKind `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return models.PropertyValue{}, fmt.Errorf("decode property: %w", err)
	}

	kind := head.Type
	if !models.KnownKind(kind) {
		return models.PropertyValue{Kind: models.KindUnknown, Raw: append(json.RawMessage(nil), raw...)}, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return models.PropertyValue{}, fmt.Errorf("decode property: %w", err)
	}
	inner, ok := obj[string(kind)]
	if !ok || string(inner) == "null" {
		// Cleared value: the kind is known but carries nothing.
		return models.PropertyValue{Kind: kind}, nil
	}

	v := models.PropertyValue{Kind: kind}
	switch kind {
	case models.KindTitle, models.KindRichText:
		var rts []richText
		if err := json.Unmarshal(inner, &rts); err != nil {
			return v, decodeErr(kind, err)
		}
		v.Text = flattenRichText(rts)

	case models.KindNumber:
		if err := json.Unmarshal(inner, &v.Number); err != nil {
			return v, decodeErr(kind, err)
		}

	case models.KindSelect, models.KindStatus:
		var ref nameRef
		if err := json.Unmarshal(inner, &ref); err != nil {
			return v, decodeErr(kind, err)
		}
		v.Label = ref.Name

	case models.KindMultiSelect:
		var refs []nameRef
		if err := json.Unmarshal(inner, &refs); err != nil {
			return v, decodeErr(kind, err)
		}
		v.Labels = make([]string, 0, len(refs))
		for _, r := range refs {
			v.Labels = append(v.Labels, r.Name)
		}

	case models.KindDate:
		var d dateWire
		if err := json.Unmarshal(inner, &d); err != nil {
			return v, decodeErr(kind, err)
		}
		dv := &models.DateValue{Start: d.Start}
		if d.End != nil {
			dv.End = *d.End
		}
		v.Date = dv

	case models.KindCheckbox:
		if err := json.Unmarshal(inner, &v.Checkbox); err != nil {
			return v, decodeErr(kind, err)
		}

	case models.KindURL, models.KindEmail, models.KindPhoneNumber:
		if err := json.Unmarshal(inner, &v.Text); err != nil {
			return v, decodeErr(kind, err)
		}

	case models.KindPeople, models.KindRelation:
		var refs []idRef
		if err := json.Unmarshal(inner, &refs); err != nil {
			return v, decodeErr(kind, err)
		}
		v.IDs = make([]string, 0, len(refs))
		for _, r := range refs {
			v.IDs = append(v.IDs, r.ID)
		}

	case models.KindFiles:
		var files []fileWire
		if err := json.Unmarshal(inner, &files); err != nil {
			return v, decodeErr(kind, err)
		}
		v.Files = make([]models.FileRef, 0, len(files))
		for _, f := range files {
			ref := models.FileRef{Name: f.Name}
			if f.External != nil {
				ref.URL = f.External.URL
			} else if f.File != nil {
				ref.URL = f.File.URL
			}
			v.Files = append(v.Files, ref)
		}

	case models.KindCreatedTime, models.KindLastEditedTime:
		if err := json.Unmarshal(inner, &v.Text); err != nil {
			return v, decodeErr(kind, err)
		}

	case models.KindCreatedBy, models.KindLastEditedBy:
		var ref idRef
		if err := json.Unmarshal(inner, &ref); err != nil {
			return v, decodeErr(kind, err)
		}
		v.Text = ref.ID

	case models.KindRollup, models.KindFormula:
		v.Raw = append(json.RawMessage(nil), inner...)
	}

	return v, nil
}

func decodeErr(kind models.PropertyKind, err error) error {
	return fmt.Errorf("decode %s property: %w", kind, err)
}

// DecodeMap converts a remote page's full property object map.
func DecodeMap(raw map[string]json.RawMessage) (models.Properties, error) {
	out := make(models.Properties, len(raw))
	for name, r := range raw {
		v, err := Decode(r)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// ── Schema validation ───────────────────────────────────────

// ValidateSchema checks every supplied value against the database
// schema: the property must exist and its declared kind must match the
// schema kind. Unknown-kind passthrough values are rejected for writes.
func ValidateSchema(props models.Properties, schema map[string]models.PropertySchema) error {
	for name, v := range props {
		col, ok := schema[name]
		if !ok {
			return &InvalidValueError{Property: name, Kind: v.Kind, Reason: "property not in database schema"}
		}
		if col.Kind.ReadOnly() {
			return &ReadOnlyError{Property: name, Kind: col.Kind}
		}
		if v.Kind != col.Kind {
			return &InvalidValueError{
				Property: name,
				Kind:     v.Kind,
				Reason:   fmt.Sprintf("schema declares %s", col.Kind),
			}
		}
	}
	return nil
}
