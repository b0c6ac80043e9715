package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pagemule/pagemule/internal/notion"
	"github.com/pagemule/pagemule/internal/property"
	"github.com/pagemule/pagemule/pkg/models"
)

// LinkArgs edits one relation property on a page. Targets are page IDs
// in caller order.
type LinkArgs struct {
	PageID           string          `json:"page_id"`
	RelationProperty string          `json:"relation_property"`
	Targets          []string        `json:"targets"`
	Mode             models.LinkMode `json:"mode"`
}

// Link applies set algebra to a relation property: set replaces the
// value, add unions, remove subtracts. Pre-existing IDs keep their
// order; added IDs append in caller order. Every target is resolved
// before the write so a bad target produces zero writes.
func (e *Engine) Link(ctx context.Context, args LinkArgs, idemKey string) (*Outcome, error) {
	return e.run(ctx, models.OpLink, idemKey, args, func(ctx context.Context) (*opResult, error) {
		return e.doLink(ctx, args)
	})
}

func (e *Engine) doLink(ctx context.Context, args LinkArgs) (*opResult, error) {
	if args.PageID == "" || args.RelationProperty == "" {
		return nil, &BadRequestError{Reason: "link requires page_id and relation_property"}
	}
	switch args.Mode {
	case models.LinkSet, models.LinkAdd, models.LinkRemove:
	default:
		return nil, &BadRequestError{Reason: fmt.Sprintf("unknown link mode %q", args.Mode)}
	}

	page, err := e.client.GetPage(ctx, args.PageID)
	if err != nil {
		return nil, err
	}
	current, err := currentRelation(page, args.RelationProperty)
	if err != nil {
		return nil, err
	}

	targets := dedupe(args.Targets)
	for _, t := range targets {
		if _, err := e.client.GetPage(ctx, t); err != nil {
			if notion.IsNotFound(err) {
				return nil, &InvalidRelationTargetError{Target: t}
			}
			return nil, err
		}
	}

	next := applyLinkMode(args.Mode, current, targets)

	encoded, err := property.Encode(args.RelationProperty, models.NewRelation(next...))
	if err != nil {
		return nil, err
	}
	updated, err := e.client.UpdatePage(ctx, args.PageID, notion.UpdatePageRequest{
		Properties: map[string]json.RawMessage{args.RelationProperty: encoded},
	})
	if err != nil {
		return nil, err
	}

	normalized, err := normalizePage(updated)
	if err != nil {
		return nil, err
	}
	return &opResult{
		payload:  normalized,
		entities: append([]string{args.PageID}, targets...),
		summary:  fmt.Sprintf("%s %d relation target(s) on %s.%s", args.Mode, len(targets), args.PageID, args.RelationProperty),
	}, nil
}

// currentRelation decodes the page's relation property. A missing
// property reads as empty; a non-relation property is an error.
func currentRelation(page *notion.Page, name string) ([]string, error) {
	raw, ok := page.Properties[name]
	if !ok {
		return nil, &property.InvalidValueError{
			Property: name,
			Reason:   "property not present on page",
		}
	}
	v, err := property.Decode(raw)
	if err != nil {
		return nil, err
	}
	if v.Kind != models.KindRelation {
		return nil, &property.InvalidValueError{
			Property: name,
			Kind:     v.Kind,
			Reason:   "not a relation property",
		}
	}
	return v.IDs, nil
}

// applyLinkMode preserves the order of surviving current IDs and
// appends new ones in caller order.
func applyLinkMode(mode models.LinkMode, current, targets []string) []string {
	switch mode {
	case models.LinkSet:
		return targets
	case models.LinkAdd:
		have := toSet(current)
		out := append([]string{}, current...)
		for _, t := range targets {
			if !have[t] {
				out = append(out, t)
				have[t] = true
			}
		}
		return out
	case models.LinkRemove:
		drop := toSet(targets)
		out := make([]string, 0, len(current))
		for _, id := range current {
			if !drop[id] {
				out = append(out, id)
			}
		}
		return out
	}
	return current
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func toSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}
