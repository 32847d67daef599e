package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/list-enricher/internal/automation"
	"github.com/sells-group/list-enricher/internal/enrichment"
	"github.com/sells-group/list-enricher/internal/extraction"
	"github.com/sells-group/list-enricher/internal/listview"
	"github.com/sells-group/list-enricher/internal/model"
	"github.com/sells-group/list-enricher/internal/monitoring"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeFields struct{ fields []model.Field }

func (f *fakeFields) ListFields(_ context.Context, listID string) ([]model.Field, error) {
	return f.fields, nil
}

type fakeViewer struct {
	got  listview.Request
	page *listview.Page
	err  error
}

func (f *fakeViewer) List(_ context.Context, req listview.Request) (*listview.Page, error) {
	f.got = req
	return f.page, f.err
}

type fakeQueue struct {
	requested enrichment.RequestInput
	stopped   []string
	stopList  string
	stopField string
	err       error
}

func (f *fakeQueue) Request(_ context.Context, in enrichment.RequestInput) (int, error) {
	f.requested = in
	if f.err != nil {
		return 0, f.err
	}
	return 3, nil
}

func (f *fakeQueue) Stop(_ context.Context, listID, fieldID string, itemIDs []string) (int64, error) {
	f.stopList, f.stopField, f.stopped = listID, fieldID, itemIDs
	return 2, nil
}

type fakeExtractor struct {
	source  string
	refresh bool
	err     error
}

func (f *fakeExtractor) ExtractSource(_ context.Context, sourceID string) (*extraction.BulkResult, error) {
	f.source = sourceID
	if f.err != nil {
		return nil, f.err
	}
	return &extraction.BulkResult{Files: 2, ItemsCreated: 5}, nil
}

func (f *fakeExtractor) RefreshSource(_ context.Context, sourceID string) (*extraction.BulkResult, error) {
	f.source, f.refresh = sourceID, true
	return &extraction.BulkResult{Files: 1, ItemsCreated: 1, ItemsDeleted: 1}, nil
}

type fakeAutomations struct {
	triggered string
	by        string
	err       error
}

func (f *fakeAutomations) Trigger(_ context.Context, automationID, triggeredBy string) (*model.AutomationBatch, error) {
	f.triggered, f.by = automationID, triggeredBy
	if f.err != nil {
		return nil, f.err
	}
	return &model.AutomationBatch{ID: "batch-1", AutomationID: automationID, Status: model.BatchPending, ItemsTotal: 4}, nil
}

func (f *fakeAutomations) TriggerItem(_ context.Context, itemID, triggeredBy string) (*model.AutomationBatch, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.AutomationBatch{ID: "batch-2", AutomationID: "auto-1", Status: model.BatchPending, ItemsTotal: 1}, nil
}

func (f *fakeAutomations) Stop(_ context.Context, automationID string) (int64, error) {
	f.triggered = automationID
	return 7, nil
}

type fakeMonitor struct {
	lookback int
	err      error
}

func (f *fakeMonitor) Collect(_ context.Context, lookbackHours int) (*monitoring.MetricsSnapshot, error) {
	f.lookback = lookbackHours
	if f.err != nil {
		return nil, f.err
	}
	return &monitoring.MetricsSnapshot{EnrichmentPending: 4, LookbackHours: lookbackHours}, nil
}

type harness struct {
	fields      *fakeFields
	views       *fakeViewer
	queue       *fakeQueue
	registry    *enrichment.Registry
	extractor   *fakeExtractor
	automations *fakeAutomations
	monitor     *fakeMonitor
	handler     http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		fields: &fakeFields{fields: []model.Field{
			{ID: "f-name", ListID: "list-1", Name: "Name", Type: model.FieldTypeString, SourceType: model.SourceFileProperty, FileProperty: model.FilePropertyName},
		}},
		views:       &fakeViewer{page: &listview.Page{Items: []listview.Row{{ID: "item-1", ItemName: "Acme"}}, Total: 1, Take: 50}},
		queue:       &fakeQueue{},
		registry:    enrichment.NewRegistry(),
		extractor:   &fakeExtractor{},
		automations: &fakeAutomations{},
		monitor:     &fakeMonitor{},
	}
	srv := NewServer(Deps{
		Store:       fakePinger{},
		Fields:      h.fields,
		Views:       h.views,
		Queue:       h.queue,
		Events:      h.registry,
		Extractor:   h.extractor,
		Automations: h.automations,
		Monitor:     h.monitor,
	})
	srv.heartbeat = 50 * time.Millisecond
	h.handler = srv.Handler([]string{"*"})
	return h
}

func (h *harness) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestHealth_StoreDown(t *testing.T) {
	srv := NewServer(Deps{Store: fakePinger{err: eris.New("connection refused")}})
	w := httptest.NewRecorder()
	srv.Handler([]string{"*"}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetrics(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestStatus(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/status?lookback_hours=6", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 6, h.monitor.lookback)

	var snap monitoring.MetricsSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, 4, snap.EnrichmentPending)

	w = h.do(http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, h.monitor.lookback)
}

func TestStatus_Errors(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/status?lookback_hours=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	h.monitor.err = eris.New("db down")
	w = h.do(http.MethodGet, "/status", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal error")
}

func TestStatus_NotMountedWithoutMonitor(t *testing.T) {
	srv := NewServer(Deps{Store: fakePinger{}})
	w := httptest.NewRecorder()
	srv.Handler([]string{"*"}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQueryItems(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodPost, "/lists/list-1/items/query",
		`{"filters":[{"fieldId":"f-name","filterType":"contains","value":"ac"}],"sorting":[{"fieldId":"f-name","direction":"desc"}],"take":10}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "list-1", h.views.got.ListID)
	assert.Len(t, h.views.got.Fields, 1)
	require.Len(t, h.views.got.Filters, 1)
	assert.Equal(t, listview.FilterContains, h.views.got.Filters[0].FilterType)
	assert.Equal(t, "desc", h.views.got.Sorts[0].Direction)
	assert.Equal(t, 10, h.views.got.Take)

	body := decode(t, w)
	assert.Equal(t, float64(1), body["count"])
	items := body["items"].([]any)
	assert.Equal(t, "Acme", items[0].(map[string]any)["itemName"])
}

func TestQueryItems_UnsupportedFilter(t *testing.T) {
	h := newHarness(t)
	h.views.err = eris.Wrap(listview.ErrUnsupportedFilter, "listview: contains on number")

	w := h.do(http.MethodPost, "/lists/list-1/items/query", `{"filters":[{"fieldId":"f-name","filterType":"contains","value":"1"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "unsupported filter")
}

func TestQueryItems_BadBody(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodPost, "/lists/list-1/items/query", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequestEnrichment(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodPost, "/lists/list-1/enrichments", `{"fieldId":"f-1","itemIds":["a","b"],"priority":2,"onlyMissing":true}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, enrichment.RequestInput{
		ListID: "list-1", FieldID: "f-1", ItemIDs: []string{"a", "b"}, Priority: 2, OnlyMissing: true,
	}, h.queue.requested)
	assert.Equal(t, float64(3), decode(t, w)["queued"])
}

func TestRequestEnrichment_InvalidField(t *testing.T) {
	h := newHarness(t)
	h.queue.err = eris.Wrapf(enrichment.ErrInvalidRequest, "enrichment: field %s is not computed", "Name")

	w := h.do(http.MethodPost, "/lists/list-1/enrichments", `{"fieldId":"f-name"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequestEnrichment_InternalErrorHidden(t *testing.T) {
	h := newHarness(t)
	h.queue.err = eris.New("postgres: connection reset")

	w := h.do(http.MethodPost, "/lists/list-1/enrichments", `{"fieldId":"f-1"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal error", decode(t, w)["error"])
}

func TestStopEnrichment(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodDelete, "/lists/list-1/fields/f-1/enrichments", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "list-1", h.queue.stopList)
	assert.Equal(t, "f-1", h.queue.stopField)
	assert.Nil(t, h.queue.stopped)

	w = h.do(http.MethodDelete, "/lists/list-1/fields/f-1/enrichments", `{"itemIds":["a"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"a"}, h.queue.stopped)
	assert.Equal(t, float64(2), decode(t, w)["stopped"])
}

func TestExtractSource(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodPost, "/sources/src-1/extract", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "src-1", h.extractor.source)
	assert.Equal(t, float64(5), decode(t, w)["items_created"])
}

func TestExtractSource_NotFound(t *testing.T) {
	h := newHarness(t)
	h.extractor.err = eris.Wrapf(extraction.ErrNotFound, "extraction: source %s", "missing")

	w := h.do(http.MethodPost, "/sources/missing/extract", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRefreshSource(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodPost, "/sources/src-1/refresh", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, h.extractor.refresh)
	assert.Equal(t, float64(1), decode(t, w)["items_deleted"])
}

func TestTriggerAutomation(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodPost, "/automations/auto-1/trigger", "")

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "auto-1", h.automations.triggered)
	assert.Equal(t, automation.TriggerManual, h.automations.by)
	body := decode(t, w)
	assert.Equal(t, "batch-1", body["id"])
	assert.Equal(t, float64(4), body["items_total"])
}

func TestTriggerAutomation_Errors(t *testing.T) {
	h := newHarness(t)

	h.automations.err = automation.ErrNoItemsInScope
	assert.Equal(t, http.StatusConflict, h.do(http.MethodPost, "/automations/auto-1/trigger", "").Code)

	h.automations.err = eris.Wrapf(automation.ErrAutomationNotFound, "automation: trigger %s", "nope")
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodPost, "/automations/nope/trigger", "").Code)

	h.automations.err = automation.ErrItemNotFound
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodPost, "/automation-items/nope/trigger", "").Code)
}

func TestStopAutomation(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodPost, "/automations/auto-1/stop", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(7), decode(t, w)["skipped"])
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodOptions, "/lists/list-1/enrichments", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)

	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestEvents_StreamsListEvents(t *testing.T) {
	h := newHarness(t)
	ts := httptest.NewServer(h.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/lists/list-1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	reader := bufio.NewReader(resp.Body)

	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)
	assert.Equal(t, 1, h.registry.Count("list-1"))

	// Other lists are not delivered.
	h.registry.Publish(model.EnrichmentEvent{ListID: "list-2", ItemID: "x", Status: model.EnrichmentPending})
	h.registry.Publish(model.EnrichmentEvent{ListID: "list-1", FieldID: "f-1", ItemID: "item-1", Status: model.EnrichmentCompleted, Value: "Acme"})

	var eventLine, dataLine string
	for eventLine == "" || dataLine == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, "event: "):
			eventLine = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			dataLine = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
	assert.Equal(t, "completed", eventLine)

	var ev model.EnrichmentEvent
	require.NoError(t, json.Unmarshal([]byte(dataLine), &ev))
	assert.Equal(t, "item-1", ev.ItemID)
	assert.Equal(t, "Acme", ev.Value)
}

func TestEvents_UnsubscribesOnDisconnect(t *testing.T) {
	h := newHarness(t)
	ts := httptest.NewServer(h.handler)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/lists/list-1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	_, err = bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, 1, h.registry.Count("list-1"))

	cancel()
	resp.Body.Close()

	assert.Eventually(t, func() bool { return h.registry.Count("list-1") == 0 }, 2*time.Second, 10*time.Millisecond)
}
