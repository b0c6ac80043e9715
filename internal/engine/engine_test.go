package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/pagemule/pagemule/internal/audit"
	"github.com/pagemule/pagemule/internal/idempotency"
	"github.com/pagemule/pagemule/internal/notion"
	"github.com/pagemule/pagemule/internal/property"
	"github.com/pagemule/pagemule/internal/store"
	"github.com/pagemule/pagemule/pkg/models"
)

const (
	pageA = "aaaaaaaa-1111-2222-3333-444444444444"
	pageB = "bbbbbbbb-1111-2222-3333-444444444444"
	pageC = "cccccccc-1111-2222-3333-444444444444"
	dbID  = "dddddddd-1111-2222-3333-444444444444"
)

// fakeClient is an in-memory workspace. Write requests arrive in the
// wire write shape, so stored pages are converted back to the tagged
// read shape before they can be fetched again.
type fakeClient struct {
	databases map[string]*notion.Database
	pages     map[string]*notion.Page
	pageOrder []string

	calls   map[string]int
	nextID  int
	created time.Time
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		databases: map[string]*notion.Database{},
		pages:     map[string]*notion.Page{},
		calls:     map[string]int{},
		created:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *fakeClient) network() int {
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func notFound() error {
	return &notion.APIError{Status: http.StatusNotFound, Code: "object_not_found", Body: "not found"}
}

func (f *fakeClient) GetDatabase(_ context.Context, id string) (*notion.Database, error) {
	f.calls["GetDatabase"]++
	db, ok := f.databases[id]
	if !ok {
		return nil, notFound()
	}
	return db, nil
}

func (f *fakeClient) CreateDatabase(_ context.Context, req notion.CreateDatabaseRequest, _ ...notion.RequestOption) (*notion.Database, error) {
	f.calls["CreateDatabase"]++
	f.nextID++
	db := &notion.Database{ID: fmt.Sprintf("%032x", f.nextID), Parent: req.Parent}
	f.databases[db.ID] = db
	return db, nil
}

func (f *fakeClient) QueryDatabase(_ context.Context, id string, _ notion.QueryRequest) (*notion.QueryResult, error) {
	f.calls["QueryDatabase"]++
	if _, ok := f.databases[id]; !ok {
		return nil, notFound()
	}
	var res notion.QueryResult
	for _, pid := range f.pageOrder {
		p := f.pages[pid]
		if p.Parent.DatabaseID == id && !p.Archived {
			res.Results = append(res.Results, *p)
		}
	}
	return &res, nil
}

func (f *fakeClient) GetPage(_ context.Context, id string) (*notion.Page, error) {
	f.calls["GetPage"]++
	p, ok := f.pages[id]
	if !ok {
		return nil, notFound()
	}
	return p, nil
}

func (f *fakeClient) CreatePage(_ context.Context, req notion.CreatePageRequest, _ ...notion.RequestOption) (*notion.Page, error) {
	f.calls["CreatePage"]++
	f.nextID++
	p := &notion.Page{
		Object:      "page",
		ID:          fmt.Sprintf("%032x", f.nextID),
		Parent:      req.Parent,
		Properties:  readback(req.Properties),
		CreatedTime: f.created.Add(time.Duration(f.nextID) * time.Minute),
	}
	f.pages[p.ID] = p
	f.pageOrder = append(f.pageOrder, p.ID)
	return p, nil
}

func (f *fakeClient) UpdatePage(_ context.Context, id string, req notion.UpdatePageRequest) (*notion.Page, error) {
	f.calls["UpdatePage"]++
	p, ok := f.pages[id]
	if !ok {
		return nil, notFound()
	}
	for name, raw := range readback(req.Properties) {
		p.Properties[name] = raw
	}
	if req.Archived != nil {
		p.Archived = *req.Archived
	}
	return p, nil
}

func (f *fakeClient) UpdateDatabase(_ context.Context, id string, req notion.UpdateDatabaseRequest) (*notion.Database, error) {
	f.calls["UpdateDatabase"]++
	db, ok := f.databases[id]
	if !ok {
		return nil, notFound()
	}
	for name := range req.Properties {
		db.Properties[name] = notion.SchemaProperty{Name: name}
	}
	return db, nil
}

func (f *fakeClient) Search(_ context.Context, _ notion.SearchRequest) (*notion.SearchResult, error) {
	f.calls["Search"]++
	return &notion.SearchResult{}, nil
}

func (f *fakeClient) ListBlockChildren(_ context.Context, id, _ string, _ int) (*notion.BlockList, error) {
	f.calls["ListBlockChildren"]++
	if _, ok := f.pages[id]; !ok {
		return nil, notFound()
	}
	return &notion.BlockList{}, nil
}

func (f *fakeClient) DeleteBlock(_ context.Context, id string) (json.RawMessage, error) {
	f.calls["DeleteBlock"]++
	return json.RawMessage(`{"object":"block","id":` + strconv.Quote(id) + `,"archived":true}`), nil
}

func (f *fakeClient) AppendBlockChildren(_ context.Context, id string, children []json.RawMessage) (*notion.BlockList, error) {
	f.calls["AppendBlockChildren"]++
	if _, ok := f.pages[id]; !ok {
		return nil, notFound()
	}
	return &notion.BlockList{Results: children}, nil
}

// readback converts write-shaped properties to the tagged read shape
// by injecting the "type" discriminator.
func readback(props map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(props))
	for name, raw := range props {
		var m map[string]json.RawMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			out[name] = raw
			continue
		}
		for k := range m {
			if k != "type" && k != "id" {
				m["type"] = json.RawMessage(strconv.Quote(k))
				break
			}
		}
		b, _ := json.Marshal(m)
		out[name] = b
	}
	return out
}

// seedDatabase installs a schema with a title column plus extras.
func (f *fakeClient) seedDatabase(id string, extra map[string]string) {
	props := map[string]notion.SchemaProperty{
		"Name": {ID: "title", Name: "Name", Type: "title"},
	}
	for name, typ := range extra {
		props[name] = notion.SchemaProperty{ID: name, Name: name, Type: typ}
	}
	f.databases[id] = &notion.Database{
		ID:         id,
		Parent:     notion.Parent{Type: "workspace", Workspace: true},
		Properties: props,
	}
}

// seedPage installs a read-shaped page row under a database.
func (f *fakeClient) seedPage(id, db string, created time.Time, props map[string]json.RawMessage) {
	f.pages[id] = &notion.Page{
		Object:      "page",
		ID:          id,
		Parent:      notion.DatabaseParent(db),
		Properties:  props,
		CreatedTime: created,
	}
	f.pageOrder = append(f.pageOrder, id)
}

func titleProp(s string) json.RawMessage {
	return json.RawMessage(`{"type":"title","title":[{"type":"text","plain_text":` + strconv.Quote(s) + `}]}`)
}

func selectProp(label string) json.RawMessage {
	return json.RawMessage(`{"type":"select","select":{"name":` + strconv.Quote(label) + `}}`)
}

func relationProp(ids ...string) json.RawMessage {
	refs := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, map[string]string{"id": id})
	}
	inner, _ := json.Marshal(refs)
	return json.RawMessage(`{"type":"relation","relation":` + string(inner) + `}`)
}

func newTestEngine(t *testing.T) (*Engine, *fakeClient, *store.MemoryStore) {
	t.Helper()
	ms, err := store.NewMemoryStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewMemoryStore() error = %v", err)
	}
	t.Cleanup(func() { ms.Close() })
	fc := newFakeClient()
	eng := New(fc, idempotency.New(ms, time.Hour), audit.NewRecorder(ms))
	return eng, fc, ms
}

// ── Upsert ──────────────────────────────────────────────────

func TestUpsertCreatesWhenAbsent(t *testing.T) {
	eng, fc, ms := newTestEngine(t)
	fc.seedDatabase(dbID, map[string]string{"Status": "select"})

	out, err := eng.Upsert(context.Background(), UpsertArgs{
		DatabaseID:     dbID,
		UniqueProperty: "Name",
		UniqueValue:    json.RawMessage(`"Roadmap"`),
		Properties: models.Properties{
			"Status": models.NewSelect("Todo"),
		},
	}, "")
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if fc.calls["CreatePage"] != 1 || fc.calls["UpdatePage"] != 0 {
		t.Errorf("calls = %v, want one create and no update", fc.calls)
	}

	var page models.Page
	if err := json.Unmarshal(out.Result, &page); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if got := page.Properties["Name"].Text; got != "Roadmap" {
		t.Errorf("Name = %q, want Roadmap", got)
	}
	if got := page.Properties["Status"].Label; got != "Todo" {
		t.Errorf("Status = %q, want Todo", got)
	}

	events, err := ms.ListAuditEvents(context.Background(), models.AuditFilter{})
	if err != nil {
		t.Fatalf("ListAuditEvents() error = %v", err)
	}
	if len(events) != 1 || !events[0].Success || events[0].Op != "upsert" {
		t.Errorf("audit = %+v, want one successful upsert entry", events)
	}
}

func TestUpsertUpdatesExistingRow(t *testing.T) {
	eng, fc, _ := newTestEngine(t)
	fc.seedDatabase(dbID, map[string]string{"Status": "select"})
	fc.seedPage(pageA, dbID, time.Now().UTC(), map[string]json.RawMessage{
		"Name":   titleProp("Roadmap"),
		"Status": selectProp("Todo"),
	})

	out, err := eng.Upsert(context.Background(), UpsertArgs{
		DatabaseID:     dbID,
		UniqueProperty: "Name",
		UniqueValue:    json.RawMessage(`"Roadmap"`),
		Properties: models.Properties{
			"Status": models.NewSelect("Done"),
		},
	}, "")
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if fc.calls["CreatePage"] != 0 || fc.calls["UpdatePage"] != 1 {
		t.Errorf("calls = %v, want one update and no create", fc.calls)
	}

	var page models.Page
	if err := json.Unmarshal(out.Result, &page); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if page.ID != pageA {
		t.Errorf("page ID = %s, want %s", page.ID, pageA)
	}
	if got := page.Properties["Status"].Label; got != "Done" {
		t.Errorf("Status = %q, want Done", got)
	}
	// The title was not in the update payload but survives the merge.
	if got := page.Properties["Name"].Text; got != "Roadmap" {
		t.Errorf("Name = %q, want Roadmap untouched", got)
	}
}

func TestUpsertReplaysStoredResult(t *testing.T) {
	eng, fc, _ := newTestEngine(t)
	fc.seedDatabase(dbID, nil)

	args := UpsertArgs{
		DatabaseID:     dbID,
		UniqueProperty: "Name",
		UniqueValue:    json.RawMessage(`"Once"`),
	}
	first, err := eng.Upsert(context.Background(), args, "key-1")
	if err != nil {
		t.Fatalf("first Upsert() error = %v", err)
	}
	callsAfterFirst := fc.network()

	second, err := eng.Upsert(context.Background(), args, "key-1")
	if err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}
	if !second.Replayed {
		t.Error("second result not marked replayed")
	}
	if !bytes.Equal(first.Result, second.Result) {
		t.Errorf("replayed result differs:\n%s\n%s", first.Result, second.Result)
	}
	if fc.network() != callsAfterFirst {
		t.Errorf("network calls grew from %d to %d on replay", callsAfterFirst, fc.network())
	}
	if fc.calls["CreatePage"] != 1 {
		t.Errorf("CreatePage calls = %d, want exactly 1", fc.calls["CreatePage"])
	}
}

func TestUpsertKeyConflictReturnsStoredResult(t *testing.T) {
	eng, fc, _ := newTestEngine(t)
	fc.seedDatabase(dbID, nil)

	first, err := eng.Upsert(context.Background(), UpsertArgs{
		DatabaseID:     dbID,
		UniqueProperty: "Name",
		UniqueValue:    json.RawMessage(`"Original"`),
	}, "shared-key")
	if err != nil {
		t.Fatalf("first Upsert() error = %v", err)
	}

	second, err := eng.Upsert(context.Background(), UpsertArgs{
		DatabaseID:     dbID,
		UniqueProperty: "Name",
		UniqueValue:    json.RawMessage(`"Different"`),
	}, "shared-key")
	if err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}
	if !bytes.Equal(first.Result, second.Result) {
		t.Error("conflicting key did not replay the originally stored result")
	}
	if len(second.Warnings) != 1 || second.Warnings[0] != idempotency.WarnKeyConflict {
		t.Errorf("warnings = %v, want the key conflict warning", second.Warnings)
	}
}

func TestUpsertAmbiguousMatchPicksEarliest(t *testing.T) {
	eng, fc, ms := newTestEngine(t)
	fc.seedDatabase(dbID, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// Seeded newest first so the pick cannot come from slice order.
	fc.seedPage(pageB, dbID, base.Add(time.Hour), map[string]json.RawMessage{"Name": titleProp("Dup")})
	fc.seedPage(pageA, dbID, base, map[string]json.RawMessage{"Name": titleProp("Dup")})

	out, err := eng.Upsert(context.Background(), UpsertArgs{
		DatabaseID:     dbID,
		UniqueProperty: "Name",
		UniqueValue:    json.RawMessage(`"Dup"`),
	}, "")
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	var page models.Page
	if err := json.Unmarshal(out.Result, &page); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if page.ID != pageA {
		t.Errorf("updated page = %s, want earliest-created %s", page.ID, pageA)
	}
	if len(out.Warnings) != 1 || out.Warnings[0] != WarnAmbiguousUpsert {
		t.Errorf("warnings = %v, want ambiguous upsert warning", out.Warnings)
	}

	events, _ := ms.ListAuditEvents(context.Background(), models.AuditFilter{})
	if len(events) != 1 || events[0].Warning == "" {
		t.Errorf("audit warning missing: %+v", events)
	}
}

func TestUpsertInvalidValueMakesNoWrite(t *testing.T) {
	eng, fc, _ := newTestEngine(t)
	fc.seedDatabase(dbID, map[string]string{"Due": "date"})

	_, err := eng.Upsert(context.Background(), UpsertArgs{
		DatabaseID:     dbID,
		UniqueProperty: "Name",
		UniqueValue:    json.RawMessage(`"X"`),
		Properties: models.Properties{
			"Due": {Kind: models.KindDate, Date: &models.DateValue{Start: "not-a-date"}},
		},
	}, "")
	var invalid *property.InvalidValueError
	if !errors.As(err, &invalid) {
		t.Fatalf("Upsert() error = %v, want InvalidValueError", err)
	}
	if fc.network() != 0 {
		t.Errorf("network calls = %d, want 0 before validation passes", fc.network())
	}
}

func TestUpsertUnknownUniquePropertyFails(t *testing.T) {
	eng, fc, _ := newTestEngine(t)
	fc.seedDatabase(dbID, nil)

	_, err := eng.Upsert(context.Background(), UpsertArgs{
		DatabaseID:     dbID,
		UniqueProperty: "Nope",
		UniqueValue:    json.RawMessage(`"X"`),
	}, "")
	var invalid *property.InvalidValueError
	if !errors.As(err, &invalid) {
		t.Fatalf("Upsert() error = %v, want InvalidValueError", err)
	}
	if fc.calls["CreatePage"]+fc.calls["UpdatePage"] != 0 {
		t.Error("write issued for unknown unique property")
	}
}

// ── Link ────────────────────────────────────────────────────

func linkedIDs(t *testing.T, fc *fakeClient, pageID string) []string {
	t.Helper()
	v, err := property.Decode(fc.pages[pageID].Properties["Related"])
	if err != nil {
		t.Fatalf("decode relation: %v", err)
	}
	return v.IDs
}

func TestLinkSetAlgebra(t *testing.T) {
	eng, fc, _ := newTestEngine(t)
	fc.seedPage(pageA, dbID, time.Now().UTC(), map[string]json.RawMessage{"Related": relationProp(pageB, pageC)})
	fc.seedPage(pageB, dbID, time.Now().UTC(), map[string]json.RawMessage{"Name": titleProp("B")})
	fc.seedPage(pageC, dbID, time.Now().UTC(), map[string]json.RawMessage{"Name": titleProp("C")})
	extra := "eeeeeeee-1111-2222-3333-444444444444"
	fc.seedPage(extra, dbID, time.Now().UTC(), map[string]json.RawMessage{"Name": titleProp("E")})
	ctx := context.Background()

	if _, err := eng.Link(ctx, LinkArgs{PageID: pageA, RelationProperty: "Related", Targets: []string{extra}, Mode: models.LinkAdd}, ""); err != nil {
		t.Fatalf("Link(add) error = %v", err)
	}
	if got := linkedIDs(t, fc, pageA); len(got) != 3 || got[0] != pageB || got[1] != pageC || got[2] != extra {
		t.Errorf("after add: %v, want [B C extra] in order", got)
	}

	if _, err := eng.Link(ctx, LinkArgs{PageID: pageA, RelationProperty: "Related", Targets: []string{pageC}, Mode: models.LinkRemove}, ""); err != nil {
		t.Fatalf("Link(remove) error = %v", err)
	}
	if got := linkedIDs(t, fc, pageA); len(got) != 2 || got[0] != pageB || got[1] != extra {
		t.Errorf("after remove: %v, want [B extra]", got)
	}

	if _, err := eng.Link(ctx, LinkArgs{PageID: pageA, RelationProperty: "Related", Targets: []string{}, Mode: models.LinkSet}, ""); err != nil {
		t.Fatalf("Link(set) error = %v", err)
	}
	if got := linkedIDs(t, fc, pageA); len(got) != 0 {
		t.Errorf("after set []: %v, want empty", got)
	}
}

func TestLinkAddIsIdempotentPerTarget(t *testing.T) {
	eng, fc, _ := newTestEngine(t)
	fc.seedPage(pageA, dbID, time.Now().UTC(), map[string]json.RawMessage{"Related": relationProp(pageB)})
	fc.seedPage(pageB, dbID, time.Now().UTC(), map[string]json.RawMessage{"Name": titleProp("B")})

	if _, err := eng.Link(context.Background(), LinkArgs{
		PageID: pageA, RelationProperty: "Related",
		Targets: []string{pageB, pageB}, Mode: models.LinkAdd,
	}, ""); err != nil {
		t.Fatalf("Link(add) error = %v", err)
	}
	if got := linkedIDs(t, fc, pageA); len(got) != 1 || got[0] != pageB {
		t.Errorf("relation = %v, want [B] with no duplicate", got)
	}
}

func TestLinkInvalidTargetMakesNoWrite(t *testing.T) {
	eng, fc, _ := newTestEngine(t)
	fc.seedPage(pageA, dbID, time.Now().UTC(), map[string]json.RawMessage{"Related": relationProp()})

	_, err := eng.Link(context.Background(), LinkArgs{
		PageID: pageA, RelationProperty: "Related",
		Targets: []string{pageB}, Mode: models.LinkAdd,
	}, "")
	var bad *InvalidRelationTargetError
	if !errors.As(err, &bad) {
		t.Fatalf("Link() error = %v, want InvalidRelationTargetError", err)
	}
	if bad.Target != pageB {
		t.Errorf("Target = %s, want %s", bad.Target, pageB)
	}
	if fc.calls["UpdatePage"] != 0 {
		t.Error("write issued despite invalid target")
	}
}

func TestLinkNonRelationPropertyFails(t *testing.T) {
	eng, fc, _ := newTestEngine(t)
	fc.seedPage(pageA, dbID, time.Now().UTC(), map[string]json.RawMessage{"Name": titleProp("A")})

	_, err := eng.Link(context.Background(), LinkArgs{
		PageID: pageA, RelationProperty: "Name",
		Targets: nil, Mode: models.LinkSet,
	}, "")
	var invalid *property.InvalidValueError
	if !errors.As(err, &invalid) {
		t.Fatalf("Link() error = %v, want InvalidValueError", err)
	}
}

// ── Bulk ────────────────────────────────────────────────────

func bulkOp(t *testing.T, op models.OpKind, args any) models.Operation {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	return models.Operation{Op: op, Args: raw}
}

func threeOpBatch(t *testing.T, mode models.BulkMode) models.BulkBatch {
	t.Helper()
	good := CreatePageArgs{
		ParentType: "database_id",
		ParentID:   dbID,
		Properties: models.Properties{"Name": models.NewText(models.KindTitle, "ok")},
	}
	bad := CreatePageArgs{ParentType: "bogus", ParentID: dbID}
	return models.BulkBatch{
		Mode: mode,
		Operations: []models.Operation{
			bulkOp(t, models.OpCreatePage, good),
			bulkOp(t, models.OpCreatePage, bad),
			bulkOp(t, models.OpCreatePage, good),
		},
	}
}

func TestBulkFailFast(t *testing.T) {
	eng, fc, _ := newTestEngine(t)
	fc.seedDatabase(dbID, nil)

	res, err := eng.ExecuteBulk(context.Background(), threeOpBatch(t, models.FailFast))
	if err != nil {
		t.Fatalf("ExecuteBulk() error = %v", err)
	}
	if res.Total != 3 || res.Succeeded != 1 || res.Failed != 1 || res.Skipped != 1 {
		t.Errorf("counts = %+v, want 1/1/1 of 3", res)
	}
	if !res.Results[0].Success || res.Results[0].Index != 0 {
		t.Errorf("result 0 = %+v, want success", res.Results[0])
	}
	if res.Results[1].Error == nil || res.Results[1].Error.Code != "bad_request" {
		t.Errorf("result 1 = %+v, want bad_request error", res.Results[1])
	}
	if !res.Results[2].Skipped {
		t.Errorf("result 2 = %+v, want skipped", res.Results[2])
	}
	if fc.calls["CreatePage"] != 1 {
		t.Errorf("CreatePage calls = %d, want 1 (third op skipped)", fc.calls["CreatePage"])
	}
}

func TestBulkContinueOnError(t *testing.T) {
	eng, fc, _ := newTestEngine(t)
	fc.seedDatabase(dbID, nil)

	res, err := eng.ExecuteBulk(context.Background(), threeOpBatch(t, models.ContinueOnError))
	if err != nil {
		t.Fatalf("ExecuteBulk() error = %v", err)
	}
	if res.Succeeded != 2 || res.Failed != 1 || res.Skipped != 0 {
		t.Errorf("counts = %+v, want 2 succeeded, 1 failed, 0 skipped", res)
	}
	for i, r := range res.Results {
		if r.Index != i {
			t.Errorf("result %d has index %d", i, r.Index)
		}
	}
	if fc.calls["CreatePage"] != 2 {
		t.Errorf("CreatePage calls = %d, want 2", fc.calls["CreatePage"])
	}
}

func TestBulkUnknownOperation(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	res, err := eng.ExecuteBulk(context.Background(), models.BulkBatch{
		Mode: models.ContinueOnError,
		Operations: []models.Operation{
			{Op: "explode", Args: json.RawMessage(`{}`)},
		},
	})
	if err != nil {
		t.Fatalf("ExecuteBulk() error = %v", err)
	}
	if res.Failed != 1 || res.Results[0].Error == nil || res.Results[0].Error.Code != "bad_request" {
		t.Errorf("result = %+v, want bad_request failure", res.Results[0])
	}
}

func TestBulkEmptyBatchRejected(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	_, err := eng.ExecuteBulk(context.Background(), models.BulkBatch{Mode: models.FailFast})
	var bad *BadRequestError
	if !errors.As(err, &bad) {
		t.Fatalf("ExecuteBulk() error = %v, want BadRequestError", err)
	}
}

// ── Passthroughs ────────────────────────────────────────────

func TestArchiveAndRestorePage(t *testing.T) {
	eng, fc, _ := newTestEngine(t)
	fc.seedPage(pageA, dbID, time.Now().UTC(), map[string]json.RawMessage{"Name": titleProp("A")})
	ctx := context.Background()

	if _, err := eng.ArchivePage(ctx, pageA, ""); err != nil {
		t.Fatalf("ArchivePage() error = %v", err)
	}
	if !fc.pages[pageA].Archived {
		t.Error("page not archived")
	}
	if _, err := eng.RestorePage(ctx, pageA, ""); err != nil {
		t.Fatalf("RestorePage() error = %v", err)
	}
	if fc.pages[pageA].Archived {
		t.Error("page not restored")
	}
}

func TestQueryDatabaseNormalizesRows(t *testing.T) {
	eng, fc, _ := newTestEngine(t)
	fc.seedDatabase(dbID, nil)
	fc.seedPage(pageA, dbID, time.Now().UTC(), map[string]json.RawMessage{"Name": titleProp("Row")})

	out, err := eng.QueryDatabase(context.Background(), QueryDatabaseArgs{DatabaseID: dbID})
	if err != nil {
		t.Fatalf("QueryDatabase() error = %v", err)
	}
	if len(out.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(out.Results))
	}
	if got := out.Results[0].Properties["Name"].Text; got != "Row" {
		t.Errorf("Name = %q, want Row", got)
	}
}

func TestDescribeErrorTaxonomy(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{&property.InvalidValueError{Property: "Due", Reason: "bad"}, "invalid_property_value"},
		{&property.ReadOnlyError{Property: "Created"}, "read_only_property"},
		{&InvalidRelationTargetError{Target: pageB}, "invalid_relation_target"},
		{&BadRequestError{Reason: "nope"}, "bad_request"},
		{&notion.APIError{Status: 502, Body: "bad gateway"}, "remote_api_error"},
		{errors.New("boom"), "internal"},
	}
	for _, tc := range cases {
		if got := Describe(tc.err); got.Code != tc.code {
			t.Errorf("Describe(%v).Code = %q, want %q", tc.err, got.Code, tc.code)
		}
	}
}
