package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/pagemule/pagemule/internal/notion"
	"github.com/pagemule/pagemule/internal/property"
	"github.com/pagemule/pagemule/pkg/models"
)

// UpsertArgs identifies a row in a database by a unique property value
// and carries the properties to write. UniqueValue accepts either a
// bare scalar (string, number, bool, interpreted by the column's
// kind) or a typed {"type","value"} object.
type UpsertArgs struct {
	DatabaseID     string            `json:"database_id"`
	UniqueProperty string            `json:"unique_property"`
	UniqueValue    json.RawMessage   `json:"unique_value"`
	Properties     models.Properties `json:"properties,omitempty"`
	Children       []json.RawMessage `json:"children,omitempty"`
}

// Upsert creates the page when no row matches the unique value, and
// updates the earliest-created match otherwise. Supplied properties
// overwrite same-named ones on the existing page; the rest are left
// untouched by the remote merge.
func (e *Engine) Upsert(ctx context.Context, args UpsertArgs, idemKey string) (*Outcome, error) {
	return e.run(ctx, models.OpUpsert, idemKey, args, func(ctx context.Context) (*opResult, error) {
		return e.doUpsert(ctx, args, idemKey)
	})
}

func (e *Engine) doUpsert(ctx context.Context, args UpsertArgs, idemKey string) (*opResult, error) {
	if args.DatabaseID == "" || args.UniqueProperty == "" {
		return nil, &BadRequestError{Reason: "upsert requires database_id and unique_property"}
	}
	// Shape-check the supplied values before touching the network.
	if _, err := property.EncodeMap(args.Properties); err != nil {
		return nil, err
	}

	db, err := e.client.GetDatabase(ctx, args.DatabaseID)
	if err != nil {
		return nil, err
	}
	schema := normalizeDatabase(db).Schema
	col, ok := schema[args.UniqueProperty]
	if !ok {
		return nil, &property.InvalidValueError{
			Property: args.UniqueProperty,
			Reason:   "property not in database schema",
		}
	}
	unique, err := parseUniqueValue(col.Kind, args.UniqueValue)
	if err != nil {
		return nil, err
	}

	// Validate everything locally before the first write.
	toWrite := make(models.Properties, len(args.Properties)+1)
	for name, v := range args.Properties {
		toWrite[name] = v
	}
	toWrite[args.UniqueProperty] = unique
	if err := property.ValidateSchema(toWrite, schema); err != nil {
		return nil, err
	}
	encoded, err := property.EncodeMap(toWrite)
	if err != nil {
		return nil, err
	}

	match, ambiguous, err := e.findUnique(ctx, args.DatabaseID, args.UniqueProperty, col.Kind, unique)
	if err != nil {
		return nil, err
	}

	var (
		page     *notion.Page
		summary  string
		warnings []string
	)
	if match != nil {
		page, err = e.client.UpdatePage(ctx, match.ID, notion.UpdatePageRequest{Properties: encoded})
		if err != nil {
			return nil, err
		}
		summary = fmt.Sprintf("updated page %s (%s = %s)", page.ID, args.UniqueProperty, uniqueText(unique))
		if ambiguous {
			log.Warn().
				Str("database_id", args.DatabaseID).
				Str("property", args.UniqueProperty).
				Msg("multiple pages matched upsert unique value")
			warnings = append(warnings, WarnAmbiguousUpsert)
		}
	} else {
		req := notion.CreatePageRequest{
			Parent:     notion.DatabaseParent(args.DatabaseID),
			Properties: encoded,
		}
		var opts []notion.RequestOption
		if idemKey != "" {
			opts = append(opts, notion.Idempotent())
		}
		page, err = e.client.CreatePage(ctx, req, opts...)
		if err != nil {
			return nil, err
		}
		summary = fmt.Sprintf("created page %s (%s = %s)", page.ID, args.UniqueProperty, uniqueText(unique))
	}

	if len(args.Children) > 0 {
		if _, err := e.client.AppendBlockChildren(ctx, page.ID, args.Children); err != nil {
			return nil, err
		}
	}

	normalized, err := normalizePage(page)
	if err != nil {
		return nil, err
	}
	return &opResult{
		payload:  normalized,
		entities: []string{page.ID},
		summary:  summary,
		warnings: warnings,
	}, nil
}

// findUnique queries for pages whose column equals the unique value,
// walking all result cursors, and resolves ties to the earliest-created
// page. The remote filter narrows the candidates; exact equality is
// re-checked on the decoded value.
func (e *Engine) findUnique(ctx context.Context, dbID, name string, kind models.PropertyKind, want models.PropertyValue) (match *notion.Page, ambiguous bool, err error) {
	filter, err := equalsFilter(name, kind, want)
	if err != nil {
		return nil, false, err
	}

	var candidates []notion.Page
	cursor := ""
	for {
		res, err := e.client.QueryDatabase(ctx, dbID, notion.QueryRequest{
			Filter:      filter,
			StartCursor: cursor,
			PageSize:    100,
		})
		if err != nil {
			return nil, false, err
		}
		for _, p := range res.Results {
			got, err := property.Decode(p.Properties[name])
			if err != nil {
				continue
			}
			if uniqueEqual(kind, got, want) {
				candidates = append(candidates, p)
			}
		}
		if !res.HasMore || res.NextCursor == nil {
			break
		}
		cursor = *res.NextCursor
	}

	if len(candidates) == 0 {
		return nil, false, nil
	}
	earliest := candidates[0]
	for _, c := range candidates[1:] {
		if c.CreatedTime.Before(earliest.CreatedTime) {
			earliest = c
		}
	}
	return &earliest, len(candidates) > 1, nil
}

// parseUniqueValue interprets the raw unique value by the column kind.
// Scalars map onto the kind's natural field; an object is decoded as a
// full typed value.
func parseUniqueValue(kind models.PropertyKind, raw json.RawMessage) (models.PropertyValue, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return models.PropertyValue{}, &BadRequestError{Reason: "upsert requires unique_value"}
	}
	if strings.HasPrefix(trimmed, "{") {
		var v models.PropertyValue
		if err := json.Unmarshal(raw, &v); err != nil {
			return models.PropertyValue{}, &BadRequestError{Reason: "unique_value: " + err.Error()}
		}
		return v, nil
	}

	switch kind {
	case models.KindNumber:
		var n float64
		if err := json.Unmarshal(raw, &n); err != nil {
			return models.PropertyValue{}, &BadRequestError{Reason: "unique_value must be a number for a number column"}
		}
		return models.NewNumber(n), nil
	case models.KindCheckbox:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return models.PropertyValue{}, &BadRequestError{Reason: "unique_value must be a boolean for a checkbox column"}
		}
		return models.PropertyValue{Kind: models.KindCheckbox, Checkbox: b}, nil
	case models.KindSelect:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return models.PropertyValue{}, &BadRequestError{Reason: "unique_value must be a string for a select column"}
		}
		return models.NewSelect(s), nil
	default:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return models.PropertyValue{}, &BadRequestError{Reason: "unique_value must be a string for a " + string(kind) + " column"}
		}
		return models.NewText(kind, s), nil
	}
}

// equalsFilter builds the remote query filter for the column kind.
// Kinds without a native equals filter fall back to rich_text.
func equalsFilter(name string, kind models.PropertyKind, v models.PropertyValue) (json.RawMessage, error) {
	var inner map[string]any
	switch kind {
	case models.KindTitle:
		inner = map[string]any{"title": map[string]any{"equals": v.Text}}
	case models.KindNumber:
		if v.Number == nil {
			return nil, &BadRequestError{Reason: "unique_value must be a number for a number column"}
		}
		inner = map[string]any{"number": map[string]any{"equals": *v.Number}}
	case models.KindSelect:
		inner = map[string]any{"select": map[string]any{"equals": v.Label}}
	case models.KindCheckbox:
		inner = map[string]any{"checkbox": map[string]any{"equals": v.Checkbox}}
	case models.KindEmail, models.KindURL, models.KindPhoneNumber, models.KindRichText:
		inner = map[string]any{string(kind): map[string]any{"equals": v.Text}}
	default:
		inner = map[string]any{"rich_text": map[string]any{"equals": uniqueText(v)}}
	}
	inner["property"] = name
	return json.Marshal(inner)
}

func uniqueEqual(kind models.PropertyKind, got, want models.PropertyValue) bool {
	switch kind {
	case models.KindNumber:
		return got.Number != nil && want.Number != nil && *got.Number == *want.Number
	case models.KindSelect:
		return got.Label == want.Label
	case models.KindCheckbox:
		return got.Checkbox == want.Checkbox
	default:
		return got.Text == want.Text
	}
}

func uniqueText(v models.PropertyValue) string {
	switch {
	case v.Number != nil:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", *v.Number), "0"), ".")
	case v.Label != "":
		return v.Label
	default:
		return v.Text
	}
}
