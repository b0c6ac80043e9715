package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pagemule/pagemule/internal/notion"
	"github.com/pagemule/pagemule/internal/property"
	"github.com/pagemule/pagemule/pkg/models"
)

// CreatePageArgs creates a page under a database or page parent.
type CreatePageArgs struct {
	ParentType string            `json:"parent_type"` // database_id or page_id
	ParentID   string            `json:"parent_id"`
	Properties models.Properties `json:"properties"`
	Children   []json.RawMessage `json:"children,omitempty"`
}

// UpdatePageArgs patches page properties or the archived flag.
type UpdatePageArgs struct {
	PageID     string            `json:"page_id"`
	Properties models.Properties `json:"properties,omitempty"`
	Archived   *bool             `json:"archived,omitempty"`
}

// QueryDatabaseArgs runs a raw filtered query against a database.
type QueryDatabaseArgs struct {
	DatabaseID  string          `json:"database_id"`
	Filter      json.RawMessage `json:"filter,omitempty"`
	Sorts       json.RawMessage `json:"sorts,omitempty"`
	StartCursor string          `json:"start_cursor,omitempty"`
	PageSize    int             `json:"page_size,omitempty"`
}

// QueryPage is one page of normalized query results.
type QueryPage struct {
	Results    []models.Page `json:"results"`
	HasMore    bool          `json:"has_more"`
	NextCursor *string       `json:"next_cursor,omitempty"`
}

// CreateDatabaseArgs creates a database under a page parent. Schema
// values are raw column configurations keyed by property name.
type CreateDatabaseArgs struct {
	ParentPageID string                     `json:"parent_page_id"`
	Title        string                     `json:"title"`
	Schema       map[string]json.RawMessage `json:"schema"`
}

// AppendBlocksArgs appends content blocks to a page or block.
type AppendBlocksArgs struct {
	BlockID  string            `json:"block_id"`
	Children []json.RawMessage `json:"children"`
}

// CreatePage validates and encodes properties locally, then creates
// the page.
func (e *Engine) CreatePage(ctx context.Context, args CreatePageArgs, idemKey string) (*Outcome, error) {
	return e.run(ctx, models.OpCreatePage, idemKey, args, func(ctx context.Context) (*opResult, error) {
		var parent notion.Parent
		switch args.ParentType {
		case "database_id":
			parent = notion.DatabaseParent(args.ParentID)
		case "page_id":
			parent = notion.PageParent(args.ParentID)
		default:
			return nil, &BadRequestError{Reason: fmt.Sprintf("unknown parent_type %q", args.ParentType)}
		}
		encoded, err := property.EncodeMap(args.Properties)
		if err != nil {
			return nil, err
		}
		var opts []notion.RequestOption
		if idemKey != "" {
			opts = append(opts, notion.Idempotent())
		}
		page, err := e.client.CreatePage(ctx, notion.CreatePageRequest{
			Parent:     parent,
			Properties: encoded,
			Children:   args.Children,
		}, opts...)
		if err != nil {
			return nil, err
		}
		normalized, err := normalizePage(page)
		if err != nil {
			return nil, err
		}
		return &opResult{
			payload:  normalized,
			entities: []string{page.ID},
			summary:  "created page " + page.ID,
		}, nil
	})
}

// UpdatePage patches the named properties and leaves the rest alone.
func (e *Engine) UpdatePage(ctx context.Context, args UpdatePageArgs, idemKey string) (*Outcome, error) {
	return e.run(ctx, models.OpUpdatePage, idemKey, args, func(ctx context.Context) (*opResult, error) {
		if args.PageID == "" {
			return nil, &BadRequestError{Reason: "update_page requires page_id"}
		}
		req := notion.UpdatePageRequest{Archived: args.Archived}
		if len(args.Properties) > 0 {
			encoded, err := property.EncodeMap(args.Properties)
			if err != nil {
				return nil, err
			}
			req.Properties = encoded
		}
		page, err := e.client.UpdatePage(ctx, args.PageID, req)
		if err != nil {
			return nil, err
		}
		normalized, err := normalizePage(page)
		if err != nil {
			return nil, err
		}
		summary := "updated page " + page.ID
		if args.Archived != nil {
			if *args.Archived {
				summary = "archived page " + page.ID
			} else {
				summary = "restored page " + page.ID
			}
		}
		return &opResult{payload: normalized, entities: []string{page.ID}, summary: summary}, nil
	})
}

// ArchivePage soft-deletes; RestorePage undoes it. Thin shims over
// UpdatePage for the HTTP layer.
func (e *Engine) ArchivePage(ctx context.Context, pageID, idemKey string) (*Outcome, error) {
	archived := true
	return e.UpdatePage(ctx, UpdatePageArgs{PageID: pageID, Archived: &archived}, idemKey)
}

func (e *Engine) RestorePage(ctx context.Context, pageID, idemKey string) (*Outcome, error) {
	archived := false
	return e.UpdatePage(ctx, UpdatePageArgs{PageID: pageID, Archived: &archived}, idemKey)
}

// GetPage fetches and normalizes a single page. Reads skip the
// idempotency and audit pipeline.
func (e *Engine) GetPage(ctx context.Context, id string) (*models.Page, error) {
	page, err := e.client.GetPage(ctx, id)
	if err != nil {
		return nil, err
	}
	return normalizePage(page)
}

// GetDatabase fetches and normalizes a database schema.
func (e *Engine) GetDatabase(ctx context.Context, id string) (*models.Database, error) {
	db, err := e.client.GetDatabase(ctx, id)
	if err != nil {
		return nil, err
	}
	return normalizeDatabase(db), nil
}

// QueryDatabase runs one page of a raw query and normalizes the rows.
func (e *Engine) QueryDatabase(ctx context.Context, args QueryDatabaseArgs) (*QueryPage, error) {
	if args.DatabaseID == "" {
		return nil, &BadRequestError{Reason: "query_database requires database_id"}
	}
	res, err := e.client.QueryDatabase(ctx, args.DatabaseID, notion.QueryRequest{
		Filter:      args.Filter,
		Sorts:       args.Sorts,
		StartCursor: args.StartCursor,
		PageSize:    args.PageSize,
	})
	if err != nil {
		return nil, err
	}
	out := &QueryPage{
		Results:    make([]models.Page, 0, len(res.Results)),
		HasMore:    res.HasMore,
		NextCursor: res.NextCursor,
	}
	for i := range res.Results {
		p, err := normalizePage(&res.Results[i])
		if err != nil {
			return nil, err
		}
		out.Results = append(out.Results, *p)
	}
	return out, nil
}

// Search proxies workspace title search. Results stay raw since they
// mix pages and databases.
func (e *Engine) Search(ctx context.Context, req notion.SearchRequest) (*notion.SearchResult, error) {
	return e.client.Search(ctx, req)
}

// CreateDatabase creates a database with the given raw schema.
func (e *Engine) CreateDatabase(ctx context.Context, args CreateDatabaseArgs, idemKey string) (*Outcome, error) {
	return e.run(ctx, models.OpCreateDatabase, idemKey, args, func(ctx context.Context) (*opResult, error) {
		if args.ParentPageID == "" {
			return nil, &BadRequestError{Reason: "create_database requires parent_page_id"}
		}
		var opts []notion.RequestOption
		if idemKey != "" {
			opts = append(opts, notion.Idempotent())
		}
		db, err := e.client.CreateDatabase(ctx, notion.CreateDatabaseRequest{
			Parent:     notion.PageParent(args.ParentPageID),
			Title:      notion.TitleFragments(args.Title),
			Properties: args.Schema,
		}, opts...)
		if err != nil {
			return nil, err
		}
		return &opResult{
			payload:  normalizeDatabase(db),
			entities: []string{db.ID},
			summary:  fmt.Sprintf("created database %s (%q)", db.ID, args.Title),
		}, nil
	})
}

// UpdateDatabaseArgs patches a database title or schema columns.
type UpdateDatabaseArgs struct {
	DatabaseID string                     `json:"database_id"`
	Title      string                     `json:"title,omitempty"`
	Schema     map[string]json.RawMessage `json:"schema,omitempty"`
}

// UpdateDatabase patches the database title and/or schema.
func (e *Engine) UpdateDatabase(ctx context.Context, args UpdateDatabaseArgs, idemKey string) (*Outcome, error) {
	return e.run(ctx, models.OpUpdateDatabase, idemKey, args, func(ctx context.Context) (*opResult, error) {
		if args.DatabaseID == "" {
			return nil, &BadRequestError{Reason: "update_database requires database_id"}
		}
		req := notion.UpdateDatabaseRequest{Properties: args.Schema}
		if args.Title != "" {
			req.Title = notion.TitleFragments(args.Title)
		}
		db, err := e.client.UpdateDatabase(ctx, args.DatabaseID, req)
		if err != nil {
			return nil, err
		}
		return &opResult{
			payload:  normalizeDatabase(db),
			entities: []string{db.ID},
			summary:  "updated database " + db.ID,
		}, nil
	})
}

// ListBlocks returns one page of a block's children.
func (e *Engine) ListBlocks(ctx context.Context, blockID, cursor string, pageSize int) (*notion.BlockList, error) {
	return e.client.ListBlockChildren(ctx, blockID, cursor, pageSize)
}

// DeleteBlock soft-deletes a content block.
func (e *Engine) DeleteBlock(ctx context.Context, blockID, idemKey string) (*Outcome, error) {
	return e.run(ctx, models.OpDeleteBlock, idemKey, map[string]string{"block_id": blockID}, func(ctx context.Context) (*opResult, error) {
		if blockID == "" {
			return nil, &BadRequestError{Reason: "delete_block requires block_id"}
		}
		raw, err := e.client.DeleteBlock(ctx, blockID)
		if err != nil {
			return nil, err
		}
		if len(raw) == 0 {
			raw = json.RawMessage("null")
		}
		return &opResult{
			payload:  raw,
			entities: []string{blockID},
			summary:  "deleted block " + blockID,
		}, nil
	})
}

// AppendBlocks appends content blocks to a page or block.
func (e *Engine) AppendBlocks(ctx context.Context, args AppendBlocksArgs, idemKey string) (*Outcome, error) {
	return e.run(ctx, models.OpAppendBlocks, idemKey, args, func(ctx context.Context) (*opResult, error) {
		if args.BlockID == "" {
			return nil, &BadRequestError{Reason: "append_blocks requires block_id"}
		}
		if len(args.Children) == 0 {
			return nil, &BadRequestError{Reason: "append_blocks requires at least one child block"}
		}
		list, err := e.client.AppendBlockChildren(ctx, args.BlockID, args.Children)
		if err != nil {
			return nil, err
		}
		return &opResult{
			payload:  list,
			entities: []string{args.BlockID},
			summary:  fmt.Sprintf("appended %d block(s) to %s", len(args.Children), args.BlockID),
		}, nil
	})
}
