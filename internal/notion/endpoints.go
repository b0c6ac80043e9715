package notion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// ── Wire objects ────────────────────────────────────────────

// Parent locates an entity in the workspace hierarchy.
type Parent struct {
	Type       string `json:"type"`
	DatabaseID string `json:"database_id,omitempty"`
	PageID     string `json:"page_id,omitempty"`
	Workspace  bool   `json:"workspace,omitempty"`
}

// DatabaseParent builds a parent reference under a database.
func DatabaseParent(id string) Parent {
	return Parent{Type: "database_id", DatabaseID: id}
}

// PageParent builds a parent reference under a page.
func PageParent(id string) Parent {
	return Parent{Type: "page_id", PageID: id}
}

// Page is the raw page object returned by the API. Properties stay
// undecoded; the normalizer owns their interpretation.
type Page struct {
	Object         string                     `json:"object"`
	ID             string                     `json:"id"`
	CreatedTime    time.Time                  `json:"created_time"`
	LastEditedTime time.Time                  `json:"last_edited_time"`
	Archived       bool                       `json:"archived"`
	Parent         Parent                     `json:"parent"`
	Properties     map[string]json.RawMessage `json:"properties"`
	URL            string                     `json:"url"`
}

// SchemaProperty is one column of a database schema as returned by the
// API: name, kind, and the kind-specific configuration object.
type SchemaProperty struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Database is the raw database object. PropertyConfigs keeps the full
// per-column JSON so kind-specific configuration survives decoding.
type Database struct {
	Object          string                     `json:"object"`
	ID              string                     `json:"id"`
	CreatedTime     time.Time                  `json:"created_time"`
	LastEditedTime  time.Time                  `json:"last_edited_time"`
	Title           []titleFragment            `json:"title"`
	Parent          Parent                     `json:"parent"`
	Properties      map[string]SchemaProperty  `json:"properties"`
	PropertyConfigs map[string]json.RawMessage `json:"-"`
	URL             string                     `json:"url"`
}

type titleFragment struct {
	PlainText string `json:"plain_text"`
}

// TitleText flattens the database title fragments.
func (d *Database) TitleText() string {
	var s string
	for _, f := range d.Title {
		s += f.PlainText
	}
	return s
}

// UnmarshalJSON keeps both the typed schema view and the raw per-column
// configuration.
func (d *Database) UnmarshalJSON(data []byte) error {
	type alias Database
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*d = Database(a)

	var rawProps struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(data, &rawProps); err != nil {
		return err
	}
	d.PropertyConfigs = rawProps.Properties
	return nil
}

// QueryResult is one page of database query results.
type QueryResult struct {
	Results    []Page  `json:"results"`
	HasMore    bool    `json:"has_more"`
	NextCursor *string `json:"next_cursor"`
}

// SearchResult is one page of workspace search results; entries are a
// mix of pages and databases so they stay raw.
type SearchResult struct {
	Results    []json.RawMessage `json:"results"`
	HasMore    bool              `json:"has_more"`
	NextCursor *string           `json:"next_cursor"`
}

// BlockList is one page of block children.
type BlockList struct {
	Results    []json.RawMessage `json:"results"`
	HasMore    bool              `json:"has_more"`
	NextCursor *string           `json:"next_cursor"`
}

// User is the bot or person behind a token.
type User struct {
	Object    string `json:"object"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// ── Requests ────────────────────────────────────────────────

// QueryRequest filters and paginates a database query.
type QueryRequest struct {
	Filter      json.RawMessage `json:"filter,omitempty"`
	Sorts       json.RawMessage `json:"sorts,omitempty"`
	StartCursor string          `json:"start_cursor,omitempty"`
	PageSize    int             `json:"page_size,omitempty"`
}

// SearchRequest queries pages and databases by title.
type SearchRequest struct {
	Query       string          `json:"query,omitempty"`
	Filter      json.RawMessage `json:"filter,omitempty"`
	Sort        json.RawMessage `json:"sort,omitempty"`
	StartCursor string          `json:"start_cursor,omitempty"`
	PageSize    int             `json:"page_size,omitempty"`
}

// CreatePageRequest creates a page under a database or page parent.
type CreatePageRequest struct {
	Parent     Parent                     `json:"parent"`
	Properties map[string]json.RawMessage `json:"properties"`
	Children   []json.RawMessage          `json:"children,omitempty"`
	Icon       json.RawMessage            `json:"icon,omitempty"`
	Cover      json.RawMessage            `json:"cover,omitempty"`
}

// UpdatePageRequest patches a page. Only set fields are sent; the
// remote service merges properties per-name and leaves the rest alone.
type UpdatePageRequest struct {
	Properties map[string]json.RawMessage `json:"properties,omitempty"`
	Archived   *bool                      `json:"archived,omitempty"`
	Icon       json.RawMessage            `json:"icon,omitempty"`
	Cover      json.RawMessage            `json:"cover,omitempty"`
}

// CreateDatabaseRequest creates a database under a page parent.
type CreateDatabaseRequest struct {
	Parent     Parent                     `json:"parent"`
	Title      []json.RawMessage          `json:"title"`
	Properties map[string]json.RawMessage `json:"properties"`
	Icon       json.RawMessage            `json:"icon,omitempty"`
	Cover      json.RawMessage            `json:"cover,omitempty"`
}

// UpdateDatabaseRequest patches a database title or schema.
type UpdateDatabaseRequest struct {
	Title      []json.RawMessage          `json:"title,omitempty"`
	Properties map[string]json.RawMessage `json:"properties,omitempty"`
}

// TitleFragments builds the rich-text array for a plain title string.
func TitleFragments(title string) []json.RawMessage {
	frag, _ := json.Marshal(map[string]interface{}{
		"type": "text",
		"text": map[string]string{"content": title},
	})
	return []json.RawMessage{frag}
}

// ── Endpoints ───────────────────────────────────────────────

// Search queries pages and databases. Read-only, so the POST is safe
// to retry.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	raw, err := c.Post(ctx, "/search", req, Idempotent())
	if err != nil {
		return nil, err
	}
	var out SearchResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode search result: %w", err)
	}
	return &out, nil
}

// GetDatabase retrieves a database and its schema.
func (c *Client) GetDatabase(ctx context.Context, id string) (*Database, error) {
	raw, err := c.Get(ctx, "/databases/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	return decodeDatabase(raw)
}

// CreateDatabase creates a database under a page parent.
func (c *Client) CreateDatabase(ctx context.Context, req CreateDatabaseRequest, opts ...RequestOption) (*Database, error) {
	raw, err := c.Post(ctx, "/databases", req, opts...)
	if err != nil {
		return nil, err
	}
	return decodeDatabase(raw)
}

// UpdateDatabase patches a database.
func (c *Client) UpdateDatabase(ctx context.Context, id string, req UpdateDatabaseRequest) (*Database, error) {
	raw, err := c.Patch(ctx, "/databases/"+url.PathEscape(id), req)
	if err != nil {
		return nil, err
	}
	return decodeDatabase(raw)
}

// QueryDatabase runs a filtered query. Read-only POST, safe to retry.
func (c *Client) QueryDatabase(ctx context.Context, id string, req QueryRequest) (*QueryResult, error) {
	raw, err := c.Post(ctx, "/databases/"+url.PathEscape(id)+"/query", req, Idempotent())
	if err != nil {
		return nil, err
	}
	var out QueryResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode query result: %w", err)
	}
	return &out, nil
}

// GetPage retrieves a page.
func (c *Client) GetPage(ctx context.Context, id string) (*Page, error) {
	raw, err := c.Get(ctx, "/pages/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	return decodePage(raw)
}

// CreatePage creates a page. Pass Idempotent() only when the operation
// is deduplicated upstream by an idempotency key.
func (c *Client) CreatePage(ctx context.Context, req CreatePageRequest, opts ...RequestOption) (*Page, error) {
	raw, err := c.Post(ctx, "/pages", req, opts...)
	if err != nil {
		return nil, err
	}
	return decodePage(raw)
}

// UpdatePage patches page properties or the archived flag.
func (c *Client) UpdatePage(ctx context.Context, id string, req UpdatePageRequest) (*Page, error) {
	raw, err := c.Patch(ctx, "/pages/"+url.PathEscape(id), req)
	if err != nil {
		return nil, err
	}
	return decodePage(raw)
}

// GetBlock retrieves a single block.
func (c *Client) GetBlock(ctx context.Context, id string) (json.RawMessage, error) {
	return c.Get(ctx, "/blocks/"+url.PathEscape(id))
}

// UpdateBlock patches a block.
func (c *Client) UpdateBlock(ctx context.Context, id string, body json.RawMessage) (json.RawMessage, error) {
	return c.Patch(ctx, "/blocks/"+url.PathEscape(id), body)
}

// DeleteBlock soft-deletes a block.
func (c *Client) DeleteBlock(ctx context.Context, id string) (json.RawMessage, error) {
	return c.Delete(ctx, "/blocks/"+url.PathEscape(id))
}

// ListBlockChildren lists one page of a block's children.
func (c *Client) ListBlockChildren(ctx context.Context, id, cursor string, pageSize int) (*BlockList, error) {
	path := "/blocks/" + url.PathEscape(id) + "/children"
	q := url.Values{}
	if cursor != "" {
		q.Set("start_cursor", cursor)
	}
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	raw, err := c.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	var out BlockList
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode block children: %w", err)
	}
	return &out, nil
}

// AppendBlockChildren appends content blocks to a page or block.
func (c *Client) AppendBlockChildren(ctx context.Context, id string, children []json.RawMessage) (*BlockList, error) {
	body := map[string]interface{}{"children": children}
	raw, err := c.Patch(ctx, "/blocks/"+url.PathEscape(id)+"/children", body)
	if err != nil {
		return nil, err
	}
	var out BlockList
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode appended children: %w", err)
	}
	return &out, nil
}

// Me returns the bot user behind the token.
func (c *Client) Me(ctx context.Context) (*User, error) {
	raw, err := c.Get(ctx, "/users/me")
	if err != nil {
		return nil, err
	}
	var out User
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &out, nil
}

func decodePage(raw json.RawMessage) (*Page, error) {
	var p Page
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}
	return &p, nil
}

func decodeDatabase(raw json.RawMessage) (*Database, error) {
	var d Database
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode database: %w", err)
	}
	return &d, nil
}
