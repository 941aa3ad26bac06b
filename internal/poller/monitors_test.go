package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/shop-monitor/internal/models"
)

type fakeProductSource struct {
	mu      sync.Mutex
	results map[string]*models.Product
	calls   int
}

func (f *fakeProductSource) Get(_ context.Context, url string, force bool, _ *models.Store, _ *models.Department, _ map[string]struct{}) (*models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.results[url], nil
}

type fakeProductRepo struct {
	mu       sync.Mutex
	enabled  []*models.Product
	disabled map[string]struct{}
	saved    []*models.Product
}

func (f *fakeProductRepo) ListEnabled(context.Context) ([]*models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Product, len(f.enabled))
	copy(out, f.enabled)
	return out, nil
}

func (f *fakeProductRepo) ListDisabledURLs(context.Context) (map[string]struct{}, error) {
	return f.disabled, nil
}

func (f *fakeProductRepo) Save(_ context.Context, p *models.Product) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, p)
	// Saving also updates the stored view the next tick lists.
	for i, e := range f.enabled {
		if e.URL == p.URL {
			f.enabled[i] = p
		}
	}
	return nil
}

type fakePublisher struct {
	mu       sync.Mutex
	events   []models.EntityKind
	failures int
	calls    int
}

func (f *fakePublisher) PublishEntityChanged(_ context.Context, kind models.EntityKind, _ interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errors.New("stream unavailable")
	}
	f.events = append(f.events, kind)
	return nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	products []*models.Product
}

func (f *fakeNotifier) NotifyProductChanged(_ context.Context, p *models.Product) {
	f.mu.Lock()
	f.products = append(f.products, p)
	f.mu.Unlock()
}

func storedProduct(url string) *models.Product {
	p := models.NewProduct(url)
	p.ID = 1
	p.Name = "Arroz 1kg"
	p.Price = 150
	p.Currency = "CUP"
	p.IsAvailable = true
	p.Sha256 = p.Fingerprint()
	return p
}

func newProductMonitor(source ProductSource, repo ProductRepo, pub Publisher, n ProductNotifier) *ProductMonitor {
	return NewProductMonitor(source, repo, pub, n, time.Second, 2, slog.Default())
}

func TestProductMonitorSkipsUnchangedEntity(t *testing.T) {
	stored := storedProduct("https://example.cu/tienda1/Item?ProdPid=1")
	fresh := *stored
	fresh.ID = 0 // scraper output has no identity

	source := &fakeProductSource{results: map[string]*models.Product{stored.URL: &fresh}}
	repo := &fakeProductRepo{enabled: []*models.Product{stored}}
	pub := &fakePublisher{}
	notify := &fakeNotifier{}

	newProductMonitor(source, repo, pub, notify).tick(context.Background())

	assert.Empty(t, repo.saved, "identical fingerprint must not be written")
	assert.Empty(t, pub.events)
	assert.Empty(t, notify.products)
}

func TestProductMonitorPersistsAndPublishesChange(t *testing.T) {
	stored := storedProduct("https://example.cu/tienda1/Item?ProdPid=1")

	fresh := *stored
	fresh.ID = 0
	fresh.Price = 199
	fresh.Sha256 = fresh.Fingerprint()

	source := &fakeProductSource{results: map[string]*models.Product{stored.URL: &fresh}}
	repo := &fakeProductRepo{enabled: []*models.Product{stored}}
	pub := &fakePublisher{}
	notify := &fakeNotifier{}

	newProductMonitor(source, repo, pub, notify).tick(context.Background())

	require.Len(t, repo.saved, 1)
	saved := repo.saved[0]
	assert.Equal(t, 199.0, saved.Price)
	assert.Equal(t, stored.ID, saved.ID, "identity must carry over from the stored row")
	assert.Equal(t, stored.Added, saved.Added)

	assert.Equal(t, []models.EntityKind{models.KindProduct}, pub.events)
	require.Len(t, notify.products, 1)
	assert.Equal(t, 199.0, notify.products[0].Price)
}

func TestProductMonitorPublishesAvailabilityLoss(t *testing.T) {
	stored := storedProduct("https://example.cu/tienda1/Item?ProdPid=1")

	// The out-of-stock layout still parses into an entity.
	fresh := *stored
	fresh.ID = 0
	fresh.IsAvailable = false
	fresh.Sha256 = fresh.Fingerprint()

	source := &fakeProductSource{results: map[string]*models.Product{stored.URL: &fresh}}
	repo := &fakeProductRepo{enabled: []*models.Product{stored}}
	pub := &fakePublisher{}
	notify := &fakeNotifier{}

	newProductMonitor(source, repo, pub, notify).tick(context.Background())

	require.Len(t, repo.saved, 1)
	assert.False(t, repo.saved[0].IsAvailable)
	assert.Equal(t, []models.EntityKind{models.KindProduct}, pub.events)
	require.Len(t, notify.products, 1)
	assert.False(t, notify.products[0].IsAvailable)
}

func TestProductMonitorTreatsMissingScrapeAsUnavailable(t *testing.T) {
	stored := storedProduct("https://example.cu/tienda1/Item?ProdPid=1")

	source := &fakeProductSource{results: map[string]*models.Product{}}
	repo := &fakeProductRepo{enabled: []*models.Product{stored}}
	pub := &fakePublisher{}

	m := newProductMonitor(source, repo, pub, nil)
	m.tick(context.Background())

	require.Len(t, repo.saved, 1)
	saved := repo.saved[0]
	assert.False(t, saved.IsAvailable)
	assert.False(t, saved.IsInCart)
	assert.Equal(t, saved.Fingerprint(), saved.Sha256)
	assert.Len(t, pub.events, 1)

	// The transition fires once: a second tick over the already-unavailable
	// row writes and publishes nothing.
	m.tick(context.Background())
	assert.Len(t, repo.saved, 1)
	assert.Len(t, pub.events, 1)
}

func TestProductMonitorRetriesFailedPublish(t *testing.T) {
	stored := storedProduct("https://example.cu/tienda1/Item?ProdPid=1")

	fresh := *stored
	fresh.ID = 0
	fresh.Price = 199
	fresh.Sha256 = fresh.Fingerprint()

	source := &fakeProductSource{results: map[string]*models.Product{stored.URL: &fresh}}
	repo := &fakeProductRepo{enabled: []*models.Product{stored}}
	pub := &fakePublisher{failures: 2}
	notify := &fakeNotifier{}

	m := newProductMonitor(source, repo, pub, notify)
	m.tick(context.Background())

	// The save committed the new fingerprint, so the next tick will compare
	// equal and never revisit this change. The publish must therefore be
	// retried within this tick until it lands.
	require.Len(t, repo.saved, 1)
	assert.Equal(t, 3, pub.calls)
	assert.Equal(t, []models.EntityKind{models.KindProduct}, pub.events)
	require.Len(t, notify.products, 1, "notification follows the eventually successful publish")

	m.tick(context.Background())
	assert.Len(t, pub.events, 1, "settled change publishes exactly once")
}

type fakeStoreSource struct{ result *models.Store }

func (f *fakeStoreSource) Get(context.Context, string, bool) (*models.Store, error) {
	return f.result, nil
}

type fakeStoreRepo struct {
	enabled []*models.Store
	saved   []*models.Store
}

func (f *fakeStoreRepo) ListEnabled(context.Context) ([]*models.Store, error) { return f.enabled, nil }
func (f *fakeStoreRepo) Save(_ context.Context, s *models.Store) error {
	f.saved = append(f.saved, s)
	return nil
}

func TestStoreMonitorUnavailabilityResetsCartFlag(t *testing.T) {
	stored := models.NewStore("https://example.cu/tienda1/Products?depPid=0")
	stored.ID = 7
	stored.Name = "Tienda 1"
	stored.IsAvailable = true
	stored.HasProductsInCart = true
	stored.Sha256 = stored.Fingerprint()

	repo := &fakeStoreRepo{enabled: []*models.Store{stored}}
	pub := &fakePublisher{}
	m := NewStoreMonitor(&fakeStoreSource{result: nil}, repo, pub, time.Second, slog.Default())

	m.tick(context.Background())

	require.Len(t, repo.saved, 1)
	saved := repo.saved[0]
	assert.False(t, saved.IsAvailable)
	assert.False(t, saved.HasProductsInCart)
	assert.Equal(t, int64(7), saved.ID)
	// The caller's copy stays untouched.
	assert.True(t, stored.IsAvailable)
}

type fakeDeptSource struct{ result *models.Department }

func (f *fakeDeptSource) Get(context.Context, string, bool, *models.Store) (*models.Department, error) {
	return f.result, nil
}

type fakeDeptRepo struct {
	mu      sync.Mutex
	enabled []*models.Department
	saved   []*models.Department
}

func (f *fakeDeptRepo) ListEnabled(context.Context) ([]*models.Department, error) {
	return f.enabled, nil
}

func (f *fakeDeptRepo) Save(_ context.Context, d *models.Department) error {
	f.mu.Lock()
	f.saved = append(f.saved, d)
	f.mu.Unlock()
	return nil
}

func TestDepartmentMonitorPublishesChangedListing(t *testing.T) {
	stored := models.NewDepartment("https://example.cu/tienda1/Products?depPid=7")
	stored.ID = 3
	stored.Name = "Alimentos"
	stored.ProductsCount = 10
	stored.IsAvailable = true
	stored.Sha256 = stored.Fingerprint()

	fresh := *stored
	fresh.ID = 0
	fresh.ProductsCount = 12
	fresh.Sha256 = fresh.Fingerprint()

	repo := &fakeDeptRepo{enabled: []*models.Department{stored}}
	pub := &fakePublisher{}
	m := NewDepartmentMonitor(&fakeDeptSource{result: &fresh}, repo, pub, time.Second, 2, slog.Default())

	m.tick(context.Background())

	require.Len(t, repo.saved, 1)
	assert.Equal(t, 12, repo.saved[0].ProductsCount)
	assert.Equal(t, int64(3), repo.saved[0].ID)
	assert.Equal(t, []models.EntityKind{models.KindDepartment}, pub.events)
}
