package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pulsadash/topup-sender/internal/errors"
	"github.com/pulsadash/topup-sender/internal/repository/postgres"
	"github.com/pulsadash/topup-sender/internal/settings"
	"github.com/pulsadash/topup-sender/internal/types"
)

type fakeManager struct {
	started      [][]types.Item
	startedDelay []float64
	paused       []string
	resumed      []string
	batch        types.Batch
	err          error
}

func (m *fakeManager) Start(ctx context.Context, items []types.Item,
	delaySeconds float64) (types.Batch, error) {

	if m.err != nil {
		return types.Batch{}, m.err
	}
	m.started = append(m.started, items)
	m.startedDelay = append(m.startedDelay, delaySeconds)
	return m.batch, nil
}

func (m *fakeManager) Pause(batchID string) error {
	if m.err != nil {
		return m.err
	}
	m.paused = append(m.paused, batchID)
	return nil
}

func (m *fakeManager) Resume(ctx context.Context, batchID string) (types.Batch, error) {
	if m.err != nil {
		return types.Batch{}, m.err
	}
	m.resumed = append(m.resumed, batchID)
	return m.batch, nil
}

func (m *fakeManager) Status(ctx context.Context, batchID string) (*types.Batch, error) {
	if m.err != nil {
		return nil, m.err
	}
	b := m.batch
	return &b, nil
}

type fakeStore struct {
	results  map[string]types.Result
	upserts  []types.Result
	recounts []string
	batch    types.Batch
}

func newFakeStore() *fakeStore {
	return &fakeStore{results: make(map[string]types.Result)}
}

func (s *fakeStore) QueryResults(ctx context.Context, filter postgres.ResultFilter,
	limit, offset int) ([]types.Result, int, error) {

	var rows []types.Result
	for _, r := range s.results {
		if filter.BatchID != "" && r.BatchID != filter.BatchID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		rows = append(rows, r)
	}
	return rows, len(rows), nil
}

func (s *fakeStore) GetResult(ctx context.Context, refID string) (*types.Result, error) {
	r, ok := s.results[refID]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	return &r, nil
}

func (s *fakeStore) UpsertResult(ctx context.Context, result types.Result) error {
	if existing, ok := s.results[result.RefID]; ok {
		// P2 semantics: later write wins, created_at preserved
		result.CreatedAt = existing.CreatedAt
	}
	s.results[result.RefID] = result
	s.upserts = append(s.upserts, result)
	return nil
}

func (s *fakeStore) RecountBatch(ctx context.Context, batchID string) (*types.Batch, error) {
	s.recounts = append(s.recounts, batchID)
	b := s.batch
	b.ID = batchID
	return &b, nil
}

type fakeBroadcaster struct {
	transactions []types.Result
	batches      []types.Batch
}

func (b *fakeBroadcaster) TransactionUpdated(result types.Result) {
	b.transactions = append(b.transactions, result)
}

func (b *fakeBroadcaster) BatchUpdated(batch types.Batch) {
	b.batches = append(b.batches, batch)
}

type fakeSettings struct {
	current settings.Settings
	sets    map[string]string
}

func (s *fakeSettings) Get(ctx context.Context) (*settings.Settings, error) {
	current := s.current
	return &current, nil
}

func (s *fakeSettings) Set(ctx context.Context, field, value string) error {
	if s.sets == nil {
		s.sets = make(map[string]string)
	}
	s.sets[field] = value
	return nil
}

func newTestServer(manager BatchManager, store ResultStore,
	broadcast Broadcaster, settingsStore SettingsStore) *Server {

	return &Server{
		config:    &Config{WriteTimeout: 5 * time.Second},
		manager:   manager,
		store:     store,
		broadcast: broadcast,
		settings:  settingsStore,
		log:       slog.Default(),
	}
}

func TestSubmitBatch_RejectsInvalidRows(t *testing.T) {
	manager := &fakeManager{}
	s := newTestServer(manager, newFakeStore(), &fakeBroadcaster{}, &fakeSettings{})

	body := `{"transactions":[
		{"customer_no":"081234567890","product_code":"MLK24"},
		{"customer_no":"not-a-number","product_code":"MLK24"},
		{"customer_no":"081234567890","product_code":""},
		{"customer_no":"0812","product_code":"MLK24"}
	],"delay_seconds":0}`

	r := httptest.NewRequest(http.MethodPost, "/batches", strings.NewReader(body))

	_, err := s.SubmitBatchHandler(httptest.NewRecorder(), r)
	if err == nil {
		t.Fatal("expected a validation error")
	}

	serviceErr, ok := err.(errors.ServiceError)
	if !ok {
		t.Fatalf("expected ServiceError, got %T", err)
	}
	if serviceErr.Code != ValidationError {
		t.Errorf("code = %q, want %q", serviceErr.Code, ValidationError)
	}
	for _, row := range []string{"2", "3", "4"} {
		if !strings.Contains(serviceErr.Message, row) {
			t.Errorf("error message %q does not name row %s",
				serviceErr.Message, row)
		}
	}

	if len(manager.started) != 0 {
		t.Error("invalid submission must not start a batch")
	}
}

func TestSubmitBatch_NormalizesAndStarts(t *testing.T) {
	manager := &fakeManager{batch: types.Batch{ID: "b1", Total: 2}}
	s := newTestServer(manager, newFakeStore(), &fakeBroadcaster{}, &fakeSettings{})

	body := `{"transactions":[
		{"customer_no":"+6281234567890","product_code":"MLK24"},
		{"customer_no":"81234567891","product_code":" TSEL10 "}
	],"delay_seconds":1.5}`

	r := httptest.NewRequest(http.MethodPost, "/batches", strings.NewReader(body))

	data, err := s.SubmitBatchHandler(httptest.NewRecorder(), r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	batch, ok := data.(types.Batch)
	if !ok || batch.ID != "b1" {
		t.Fatalf("unexpected response data: %#v", data)
	}

	if len(manager.started) != 1 {
		t.Fatalf("manager started %d times, want 1", len(manager.started))
	}

	items := manager.started[0]
	if items[0].CustomerNoNormalized != "081234567890" {
		t.Errorf("item 1 normalized = %q", items[0].CustomerNoNormalized)
	}
	if items[1].CustomerNoNormalized != "081234567891" {
		t.Errorf("item 2 normalized = %q", items[1].CustomerNoNormalized)
	}
	if items[1].ProductCode != "TSEL10" {
		t.Errorf("item 2 product code = %q, want trimmed", items[1].ProductCode)
	}
	if items[0].RowNumber != 1 || items[1].RowNumber != 2 {
		t.Errorf("row numbers = %d, %d", items[0].RowNumber, items[1].RowNumber)
	}

	if manager.startedDelay[0] != 1.5 {
		t.Errorf("delay = %v, want 1.5", manager.startedDelay[0])
	}
}

func TestSubmitBatch_DelayDefaultsFromSettings(t *testing.T) {
	manager := &fakeManager{batch: types.Batch{ID: "b2", Total: 1}}
	settingsStore := &fakeSettings{current: settings.Settings{DelaySeconds: 2}}
	s := newTestServer(manager, newFakeStore(), &fakeBroadcaster{}, settingsStore)

	body := `{"transactions":[{"customer_no":"081234567890","product_code":"MLK24"}]}`
	r := httptest.NewRequest(http.MethodPost, "/batches", strings.NewReader(body))

	if _, err := s.SubmitBatchHandler(httptest.NewRecorder(), r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if manager.startedDelay[0] != 2 {
		t.Errorf("delay = %v, want settings default 2", manager.startedDelay[0])
	}
}

func TestPauseBatch(t *testing.T) {
	manager := &fakeManager{}
	s := newTestServer(manager, newFakeStore(), &fakeBroadcaster{}, &fakeSettings{})

	r := httptest.NewRequest(http.MethodPost, "/batches/b1/pause", nil)
	r.SetPathValue("id", "b1")

	if _, err := s.PauseBatchHandler(httptest.NewRecorder(), r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(manager.paused) != 1 || manager.paused[0] != "b1" {
		t.Errorf("paused = %v, want [b1]", manager.paused)
	}
}

func TestPauseBatch_UnknownBatch(t *testing.T) {
	manager := &fakeManager{err: fmt.Errorf("unknown batch b9")}
	s := newTestServer(manager, newFakeStore(), &fakeBroadcaster{}, &fakeSettings{})

	r := httptest.NewRequest(http.MethodPost, "/batches/b9/pause", nil)
	r.SetPathValue("id", "b9")

	_, err := s.PauseBatchHandler(httptest.NewRecorder(), r)
	if err == nil {
		t.Fatal("expected an error for an unknown batch")
	}

	serviceErr, ok := err.(errors.ServiceError)
	if !ok || serviceErr.Code != BatchStateError {
		t.Errorf("unexpected error: %#v", err)
	}
}

func TestWithAuth(t *testing.T) {
	inner := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"empty token", "Bearer  ", http.StatusUnauthorized},
		{"present", "Bearer token-123", http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/batches/b1", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}

			w := httptest.NewRecorder()
			WithAuth(inner)(w, r)

			if w.Code != tc.status {
				t.Errorf("status = %d, want %d", w.Code, tc.status)
			}
		})
	}
}

func TestUpdateSettings(t *testing.T) {
	settingsStore := &fakeSettings{}
	s := newTestServer(&fakeManager{}, newFakeStore(), &fakeBroadcaster{}, settingsStore)

	body := `{"field":"username","value":"pulsadash"}`
	r := httptest.NewRequest(http.MethodPost, "/settings/update", strings.NewReader(body))

	if _, err := s.UpdateSettingsHandler(httptest.NewRecorder(), r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if settingsStore.sets["username"] != "pulsadash" {
		t.Errorf("sets = %v", settingsStore.sets)
	}

	body = `{"field":"not_a_field","value":"x"}`
	r = httptest.NewRequest(http.MethodPost, "/settings/update", strings.NewReader(body))

	if _, err := s.UpdateSettingsHandler(httptest.NewRecorder(), r); err == nil {
		t.Error("unknown field must be rejected")
	}
}
