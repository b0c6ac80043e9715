package engine

import (
	"fmt"

	"github.com/pagemule/pagemule/internal/notion"
	"github.com/pagemule/pagemule/internal/property"
	"github.com/pagemule/pagemule/pkg/models"
)

// normalizePage decodes a raw API page into the normalized shape the
// engine returns to callers.
func normalizePage(p *notion.Page) (*models.Page, error) {
	props, err := property.DecodeMap(p.Properties)
	if err != nil {
		return nil, fmt.Errorf("decode page %s: %w", p.ID, err)
	}
	out := &models.Page{
		ID:             p.ID,
		Archived:       p.Archived,
		Properties:     props,
		URL:            p.URL,
		CreatedTime:    p.CreatedTime,
		LastEditedTime: p.LastEditedTime,
	}
	switch p.Parent.Type {
	case "database_id":
		out.ParentType, out.ParentID = "database_id", p.Parent.DatabaseID
	case "page_id":
		out.ParentType, out.ParentID = "page_id", p.Parent.PageID
	case "workspace":
		out.ParentType = "workspace"
	}
	return out, nil
}

// normalizeDatabase maps a raw API database onto the normalized schema
// view. Unknown column types are kept with KindUnknown so callers can
// still see the column exists.
func normalizeDatabase(d *notion.Database) *models.Database {
	schema := make(map[string]models.PropertySchema, len(d.Properties))
	for name, col := range d.Properties {
		kind := models.PropertyKind(col.Type)
		if !models.KnownKind(kind) {
			kind = models.KindUnknown
		}
		ps := models.PropertySchema{ID: col.ID, Name: name, Kind: kind}
		if cfg, ok := d.PropertyConfigs[name]; ok {
			ps.Config = cfg
		}
		schema[name] = ps
	}
	out := &models.Database{
		ID:             d.ID,
		Title:          d.TitleText(),
		Schema:         schema,
		URL:            d.URL,
		CreatedTime:    d.CreatedTime,
		LastEditedTime: d.LastEditedTime,
	}
	switch d.Parent.Type {
	case "page_id":
		out.ParentType, out.ParentID = "page_id", d.Parent.PageID
	case "workspace":
		out.ParentType = "workspace"
	}
	return out
}
