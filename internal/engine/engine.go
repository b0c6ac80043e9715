// Package engine orchestrates workspace operations: upsert, link, bulk
// batches, and the passthrough page/database/block calls they build on.
// Every operation runs through the same pipeline (idempotency check,
// execute, idempotency store, audit) so callers get uniform replay and
// observability semantics regardless of which operation they invoke.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/pagemule/pagemule/internal/audit"
	"github.com/pagemule/pagemule/internal/idempotency"
	"github.com/pagemule/pagemule/internal/notion"
	"github.com/pagemule/pagemule/pkg/models"
)

// WorkspaceClient is the slice of the remote API the engine uses.
// Declared here so tests can substitute a fake workspace.
type WorkspaceClient interface {
	GetDatabase(ctx context.Context, id string) (*notion.Database, error)
	CreateDatabase(ctx context.Context, req notion.CreateDatabaseRequest, opts ...notion.RequestOption) (*notion.Database, error)
	UpdateDatabase(ctx context.Context, id string, req notion.UpdateDatabaseRequest) (*notion.Database, error)
	QueryDatabase(ctx context.Context, id string, req notion.QueryRequest) (*notion.QueryResult, error)
	GetPage(ctx context.Context, id string) (*notion.Page, error)
	CreatePage(ctx context.Context, req notion.CreatePageRequest, opts ...notion.RequestOption) (*notion.Page, error)
	UpdatePage(ctx context.Context, id string, req notion.UpdatePageRequest) (*notion.Page, error)
	Search(ctx context.Context, req notion.SearchRequest) (*notion.SearchResult, error)
	ListBlockChildren(ctx context.Context, id, cursor string, pageSize int) (*notion.BlockList, error)
	AppendBlockChildren(ctx context.Context, id string, children []json.RawMessage) (*notion.BlockList, error)
	DeleteBlock(ctx context.Context, id string) (json.RawMessage, error)
}

// Engine executes workspace operations against a client, with
// idempotency replay and audit recording around every call.
type Engine struct {
	client WorkspaceClient
	idem   *idempotency.Cache
	audit  *audit.Recorder
}

func New(client WorkspaceClient, cache *idempotency.Cache, recorder *audit.Recorder) *Engine {
	return &Engine{client: client, idem: cache, audit: recorder}
}

// Outcome is the uniform result of one operation. Result is the
// JSON-encoded operation payload; Replayed marks results served from
// the idempotency cache without touching the remote service.
type Outcome struct {
	Result   json.RawMessage `json:"result"`
	Warnings []string        `json:"warnings,omitempty"`
	Replayed bool            `json:"replayed,omitempty"`
}

// opResult is what an operation body hands back to the pipeline.
type opResult struct {
	payload  any
	entities []string
	summary  string
	warnings []string
}

type actorKey struct{}

// WithActor tags the context with the caller identity recorded in
// audit entries. Unset contexts record "api".
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey{}).(string); ok && a != "" {
		return a
	}
	return "api"
}

// run is the shared pipeline. A non-expired idempotency hit returns the
// stored snapshot with zero network calls. Cache and audit failures are
// logged, never allowed to fail the operation itself.
func (e *Engine) run(ctx context.Context, op models.OpKind, key string, args any, fn func(context.Context) (*opResult, error)) (*Outcome, error) {
	rawArgs, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal %s args: %w", op, err)
	}
	hash := idempotency.RequestHash(string(op), rawArgs)

	hit, err := e.idem.Check(ctx, key, hash)
	if err != nil {
		log.Warn().Err(err).Str("op", string(op)).Msg("idempotency check failed, executing anyway")
	} else if hit != nil {
		log.Debug().Str("op", string(op)).Str("key", key).Msg("replaying stored result")
		out := &Outcome{Result: hit.Snapshot, Replayed: true}
		if hit.Warning != "" {
			out.Warnings = append(out.Warnings, hit.Warning)
		}
		return out, nil
	}

	res, err := fn(ctx)
	reqID := middleware.GetReqID(ctx)
	actor := actorFrom(ctx)
	if err != nil {
		det := Describe(err)
		e.audit.Record(ctx, audit.Entry{
			RequestID: reqID,
			Actor:     actor,
			Op:        string(op),
			Success:   false,
			ErrorCode: det.Code,
			ErrorMsg:  det.Message,
		})
		return nil, err
	}

	payload, err := json.Marshal(res.payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s result: %w", op, err)
	}
	if err := e.idem.Store(ctx, key, hash, payload); err != nil {
		log.Warn().Err(err).Str("op", string(op)).Msg("failed to store idempotency record")
	}
	e.audit.Record(ctx, audit.Entry{
		RequestID: reqID,
		Actor:     actor,
		Op:        string(op),
		EntityIDs: res.entities,
		Success:   true,
		Summary:   res.summary,
		Warning:   strings.Join(res.warnings, "; "),
	})
	return &Outcome{Result: payload, Warnings: res.warnings}, nil
}
