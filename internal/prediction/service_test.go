package prediction

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshrelay/internal/adapter/repo"
	"meshrelay/internal/catalog"
	"meshrelay/internal/domain"
	"meshrelay/internal/idempotency"
	"meshrelay/internal/normalize"
)

type fakeProvider struct {
	mu       sync.Mutex
	token    bool
	creates  []createCall
	states   map[string][]*domain.Prediction
	gets     map[string]int
	createFn func(version string, input any) (*domain.Prediction, error)
}

type createCall struct {
	version string
	input   json.RawMessage
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{token: true, states: map[string][]*domain.Prediction{}, gets: map[string]int{}}
}

func (f *fakeProvider) HasCredentials() bool { return f.token }

func (f *fakeProvider) CreatePrediction(ctx context.Context, version string, input any) (*domain.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, _ := json.Marshal(input)
	f.creates = append(f.creates, createCall{version: version, input: raw})
	if f.createFn != nil {
		return f.createFn(version, input)
	}
	return &domain.Prediction{ID: "pred-" + string(rune('a'+len(f.creates)-1)), Version: version, Status: domain.JobStatusQueued, Input: raw}, nil
}

func (f *fakeProvider) GetPrediction(ctx context.Context, id string) (*domain.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq, ok := f.states[id]
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, domain.ErrNotFound, "Prediction not found")
	}
	n := f.gets[id]
	f.gets[id] = n + 1
	if n >= len(seq) {
		n = len(seq) - 1
	}
	cp := *seq[n]
	return &cp, nil
}

type fakeUploader struct {
	calls int
	err   error
}

func (u *fakeUploader) Upload(ctx context.Context, blob *domain.Blob) (*domain.UploadedAsset, error) {
	u.calls++
	if u.err != nil {
		return nil, u.err
	}
	return &domain.UploadedAsset{Key: "uploads/x/" + blob.Filename, URL: "https://files.test/uploads/x/" + blob.Filename, Size: int64(len(blob.Data))}, nil
}

type fakeLedger struct {
	records map[string]string
	updates []domain.JobStatus
	models  map[string]domain.ModelType
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: map[string]string{}, models: map[string]domain.ModelType{}}
}

func (l *fakeLedger) Record(ctx context.Context, pred *domain.Prediction, key string) error {
	l.records[pred.ID] = key
	l.models[pred.ID] = pred.Model
	return nil
}

func (l *fakeLedger) UpdateStatus(ctx context.Context, pred *domain.Prediction) error {
	l.updates = append(l.updates, pred.Status)
	return nil
}

func (l *fakeLedger) Get(ctx context.Context, id string) (*repo.LedgerEntry, error) {
	m, ok := l.models[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &repo.LedgerEntry{ID: id, Model: m}, nil
}

type memoryCache struct {
	items map[string]*domain.Prediction
}

func (c *memoryCache) Get(ctx context.Context, id string) (*domain.Prediction, error) {
	return c.items[id], nil
}

func (c *memoryCache) Put(ctx context.Context, pred *domain.Prediction) error {
	if pred.Terminal() {
		c.items[pred.ID] = pred
	}
	return nil
}

func newCatalog(t *testing.T, overrides map[string]string) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(overrides)
	require.NoError(t, err)
	return c
}

func normalized(t *testing.T, c *catalog.Catalog, fields map[string]string, files map[string]*domain.Blob) *domain.GenerationRequest {
	t.Helper()
	req, err := normalize.New(c).Normalize(normalize.Values{Fields: fields, Files: files})
	require.NoError(t, err)
	return req
}

func TestCreatePLY(t *testing.T) {
	cat := newCatalog(t, nil)
	provider := newFakeProvider()
	ledger := newFakeLedger()
	svc := NewService(Options{Catalog: cat, Provider: provider, Ledger: ledger})

	req := normalized(t, cat, map[string]string{"model": "ply", "prompt": "a red cube", "guidance_scale": "12"}, nil)
	pred, replayed, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.NotEmpty(t, pred.ID)
	assert.Contains(t, []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusRunning}, pred.Status)
	assert.Equal(t, domain.ModelPLY, pred.Model)

	require.Len(t, provider.creates, 1)
	assert.Equal(t, catalog.PLYVersion, provider.creates[0].version)
	assert.JSONEq(t, `{"prompt":"a red cube","guidance_scale":12}`, string(provider.creates[0].input))
	assert.Contains(t, ledger.records, pred.ID)
}

func TestCreateWithUpload(t *testing.T) {
	cat := newCatalog(t, map[string]string{"dynamic_glb": "glb-version"})
	provider := newFakeProvider()
	uploader := &fakeUploader{}
	svc := NewService(Options{Catalog: cat, Provider: provider, Uploader: uploader})

	req := normalized(t, cat,
		map[string]string{"model_type": "dynamic_glb", "image_type": "upload", "prompt": "shoe"},
		map[string]*domain.Blob{"image": {Filename: "shoe.png", Data: []byte("png")}},
	)
	_, _, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, uploader.calls)
	require.Len(t, provider.creates, 1)
	assert.Equal(t, "glb-version", provider.creates[0].version)
	assert.JSONEq(t, `{"prompt":"shoe","image":"https://files.test/uploads/x/shoe.png"}`, string(provider.creates[0].input))
	assert.Empty(t, req.Input.(normalize.DynamicGLBInput).Image, "request input is not mutated")
}

func TestCreateUploadFailureSkipsProvider(t *testing.T) {
	cat := newCatalog(t, map[string]string{"dynamic_glb": "glb-version"})
	provider := newFakeProvider()
	svc := NewService(Options{Catalog: cat, Provider: provider, Uploader: &fakeUploader{err: domain.Transport(domain.ErrTransport, "Failed to upload image")}})

	req := normalized(t, cat,
		map[string]string{"model_type": "dynamic_glb", "image_type": "upload"},
		map[string]*domain.Blob{"image": {Filename: "a.png", Data: []byte("x")}},
	)
	_, _, err := svc.Create(context.Background(), req)
	assert.Equal(t, domain.KindTransport, domain.KindOf(err))
	assert.Empty(t, provider.creates)
}

func TestCreateMissingCredential(t *testing.T) {
	cat := newCatalog(t, nil)
	provider := newFakeProvider()
	provider.token = false
	svc := NewService(Options{Catalog: cat, Provider: provider})

	_, _, err := svc.Create(context.Background(), normalized(t, cat, map[string]string{"model": "ply"}, nil))
	assert.True(t, errors.Is(err, domain.ErrMissingCredential))
	assert.Equal(t, "Missing REPLICATE_API_TOKEN", domain.MessageOf(err, ""))
	assert.Empty(t, provider.creates)
}

func TestCreateUnconfiguredVersion(t *testing.T) {
	cat := newCatalog(t, nil)
	provider := newFakeProvider()
	svc := NewService(Options{Catalog: cat, Provider: provider})

	_, _, err := svc.Create(context.Background(), normalized(t, cat, map[string]string{"model": "dynamic_glb"}, nil))
	assert.Equal(t, domain.KindConfiguration, domain.KindOf(err))
	assert.Empty(t, provider.creates)
}

func TestCreateProviderRejection(t *testing.T) {
	cat := newCatalog(t, nil)
	provider := newFakeProvider()
	provider.createFn = func(string, any) (*domain.Prediction, error) {
		return nil, domain.Provider(domain.ErrSubmissionRejected, "invalid version")
	}
	idem := idempotency.NewMemoryStore(time.Hour)
	svc := NewService(Options{Catalog: cat, Provider: provider, Idempotency: idem})

	req := normalized(t, cat, map[string]string{"model": "ply"}, nil)
	req.IdempotencyKey = "k1"
	_, _, err := svc.Create(context.Background(), req)
	assert.True(t, errors.Is(err, domain.ErrSubmissionRejected))

	provider.createFn = nil
	_, replayed, err := svc.Create(context.Background(), req)
	require.NoError(t, err, "failed submission must release its key")
	assert.False(t, replayed)
}

func TestCreateIdempotentReplay(t *testing.T) {
	cat := newCatalog(t, nil)
	provider := newFakeProvider()
	svc := NewService(Options{Catalog: cat, Provider: provider, Idempotency: idempotency.NewMemoryStore(time.Hour)})

	req := normalized(t, cat, map[string]string{"model": "ply", "prompt": "vase"}, nil)
	req.IdempotencyKey = "retry-1"
	first, replayed, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, replayed)
	provider.states[first.ID] = []*domain.Prediction{{ID: first.ID, Version: catalog.PLYVersion, Status: domain.JobStatusRunning}}

	second, replayed, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, provider.creates, 1)
}

func TestCreateWithoutKeyNeverDeduplicates(t *testing.T) {
	cat := newCatalog(t, nil)
	provider := newFakeProvider()
	svc := NewService(Options{Catalog: cat, Provider: provider, Idempotency: idempotency.NewMemoryStore(time.Hour)})

	req := normalized(t, cat, map[string]string{"model": "ply", "prompt": "vase"}, nil)
	a, _, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	b, _, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Len(t, provider.creates, 2)
}

func TestGetCachesTerminal(t *testing.T) {
	cat := newCatalog(t, nil)
	provider := newFakeProvider()
	provider.states["p1"] = []*domain.Prediction{
		{ID: "p1", Version: catalog.PLYVersion, Status: domain.JobStatusSucceeded, Output: []string{"https://cdn.test/a.ply"}},
	}
	cache := &memoryCache{items: map[string]*domain.Prediction{}}
	ledger := newFakeLedger()
	svc := NewService(Options{Catalog: cat, Provider: provider, Cache: cache, Ledger: ledger})

	got, err := svc.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.ModelPLY, got.Model)
	assert.GreaterOrEqual(t, len(got.Output), 1)

	_, err = svc.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, provider.gets["p1"], "second read must come from cache")
	assert.Equal(t, []domain.JobStatus{domain.JobStatusSucceeded}, ledger.updates)
}

func TestGetModelFromLedger(t *testing.T) {
	cat := newCatalog(t, nil)
	provider := newFakeProvider()
	provider.states["p1"] = []*domain.Prediction{{ID: "p1", Version: "unknown", Status: domain.JobStatusRunning}}
	ledger := newFakeLedger()
	ledger.models["p1"] = domain.ModelDynamicGLB
	svc := NewService(Options{Catalog: cat, Provider: provider, Ledger: ledger})

	got, err := svc.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.ModelDynamicGLB, got.Model)
}

func TestGetNotFound(t *testing.T) {
	svc := NewService(Options{Catalog: newCatalog(t, nil), Provider: newFakeProvider()})
	_, err := svc.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestWait(t *testing.T) {
	cat := newCatalog(t, nil)
	provider := newFakeProvider()
	provider.states["p1"] = []*domain.Prediction{
		{ID: "p1", Status: domain.JobStatusQueued},
		{ID: "p1", Status: domain.JobStatusRunning},
		{ID: "p1", Status: domain.JobStatusFailed, Error: domain.DefaultFailureDetail},
	}
	svc := NewService(Options{Catalog: cat, Provider: provider, PollInterval: time.Millisecond})

	var seen int
	got, err := svc.Wait(context.Background(), "p1", time.Second, func(*domain.Prediction) { seen++ })
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.NotEmpty(t, got.Error)
	assert.Equal(t, 3, seen)
}

func TestWaitCappedByMaxWait(t *testing.T) {
	cat := newCatalog(t, nil)
	provider := newFakeProvider()
	provider.states["p1"] = []*domain.Prediction{{ID: "p1", Status: domain.JobStatusRunning}}
	svc := NewService(Options{Catalog: cat, Provider: provider, PollInterval: time.Millisecond, PollMaxWait: 20 * time.Millisecond})

	start := time.Now()
	got, err := svc.Wait(context.Background(), "p1", time.Hour, nil)
	assert.True(t, errors.Is(err, domain.ErrPollTimeout))
	require.NotNil(t, got)
	assert.Less(t, time.Since(start), 5*time.Second)
}
