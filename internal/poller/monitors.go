package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/maltedev/shop-monitor/internal/models"
)

// The monitors poll every persisted, enabled entity with a forced re-scrape
// and compare fingerprints.
//
// Policy for transient fetch failure during change detection (documented
// deliberately, the behavior is debatable): a scrape that yields no entity
// while the stored one was previously available is treated as "went
// unavailable": availability flips to false, the fingerprint is recomputed
// and the transition counts as a change. All three monitors apply the same
// rule.

// Publisher fans a committed change out to the push channel.
type Publisher interface {
	PublishEntityChanged(ctx context.Context, kind models.EntityKind, entity interface{}) error
}

// ProductNotifier additionally messages subscribed chat users on product
// changes.
type ProductNotifier interface {
	NotifyProductChanged(ctx context.Context, p *models.Product)
}

type StoreSource interface {
	Get(ctx context.Context, url string, force bool) (*models.Store, error)
}

type StoreRepo interface {
	ListEnabled(ctx context.Context) ([]*models.Store, error)
	Save(ctx context.Context, s *models.Store) error
}

type DepartmentSource interface {
	Get(ctx context.Context, url string, force bool, store *models.Store) (*models.Department, error)
}

type DepartmentRepo interface {
	ListEnabled(ctx context.Context) ([]*models.Department, error)
	Save(ctx context.Context, d *models.Department) error
}

type ProductSource interface {
	Get(ctx context.Context, url string, force bool, store *models.Store, dept *models.Department, disabled map[string]struct{}) (*models.Product, error)
}

type ProductRepo interface {
	ListEnabled(ctx context.Context) ([]*models.Product, error)
	ListDisabledURLs(ctx context.Context) (map[string]struct{}, error)
	Save(ctx context.Context, p *models.Product) error
}

// StoreMonitor re-scrapes enabled stores sequentially each tick.
type StoreMonitor struct {
	runner
	source    StoreSource
	repo      StoreRepo
	publisher Publisher
}

func NewStoreMonitor(source StoreSource, repo StoreRepo, publisher Publisher, interval time.Duration, logger *slog.Logger) *StoreMonitor {
	l := logger.With("component", "store_monitor")
	return &StoreMonitor{
		runner:    runner{name: "stores", interval: interval, logger: l},
		source:    source,
		repo:      repo,
		publisher: publisher,
	}
}

func (m *StoreMonitor) Start(ctx context.Context) {
	m.run(ctx, m.tick)
}

func (m *StoreMonitor) tick(ctx context.Context) {
	stored, err := m.repo.ListEnabled(ctx)
	if err != nil {
		m.logger.Error("failed to list stores", "error", err)
		return
	}

	for _, s := range stored {
		m.check(ctx, s)
	}
}

func (m *StoreMonitor) check(ctx context.Context, stored *models.Store) {
	fresh, err := m.source.Get(ctx, stored.URL, true)
	if err != nil {
		m.logger.Error("unexpected store scrape error", "url", stored.URL, "error", err)
		return
	}

	var changed *models.Store
	if fresh == nil {
		if !stored.IsAvailable {
			return
		}
		changed = markStoreUnavailable(stored)
	} else {
		if fresh.Sha256 == stored.Sha256 {
			return
		}
		changed = fresh
		carryStoreIdentity(changed, stored)
	}

	if !retryForever(ctx, m.logger, "persisting store change", func(ctx context.Context) error { return m.repo.Save(ctx, changed) }) {
		return
	}
	retryForever(ctx, m.logger, "publishing store change", func(ctx context.Context) error {
		return m.publisher.PublishEntityChanged(ctx, models.KindStore, changed)
	})
}

// DepartmentMonitor re-scrapes enabled departments with bounded parallelism.
type DepartmentMonitor struct {
	runner
	source    DepartmentSource
	repo      DepartmentRepo
	publisher Publisher
	fanOut    int
}

func NewDepartmentMonitor(source DepartmentSource, repo DepartmentRepo, publisher Publisher, interval time.Duration, fanOut int, logger *slog.Logger) *DepartmentMonitor {
	l := logger.With("component", "department_monitor")
	return &DepartmentMonitor{
		runner:    runner{name: "departments", interval: interval, logger: l},
		source:    source,
		repo:      repo,
		publisher: publisher,
		fanOut:    fanOut,
	}
}

func (m *DepartmentMonitor) Start(ctx context.Context) {
	m.run(ctx, m.tick)
}

func (m *DepartmentMonitor) tick(ctx context.Context) {
	stored, err := m.repo.ListEnabled(ctx)
	if err != nil {
		m.logger.Error("failed to list departments", "error", err)
		return
	}

	forEachBounded(ctx, m.fanOut, stored, m.check)
}

func (m *DepartmentMonitor) check(ctx context.Context, stored *models.Department) {
	fresh, err := m.source.Get(ctx, stored.URL, true, nil)
	if err != nil {
		m.logger.Error("unexpected department scrape error", "url", stored.URL, "error", err)
		return
	}

	var changed *models.Department
	if fresh == nil {
		if !stored.IsAvailable {
			return
		}
		changed = markDepartmentUnavailable(stored)
	} else {
		if fresh.Sha256 == stored.Sha256 {
			return
		}
		changed = fresh
		carryDepartmentIdentity(changed, stored)
	}

	if !retryForever(ctx, m.logger, "persisting department change", func(ctx context.Context) error { return m.repo.Save(ctx, changed) }) {
		return
	}
	retryForever(ctx, m.logger, "publishing department change", func(ctx context.Context) error {
		return m.publisher.PublishEntityChanged(ctx, models.KindDepartment, changed)
	})
}

// ProductMonitor re-scrapes enabled products with bounded parallelism and
// additionally notifies subscribed chat users.
type ProductMonitor struct {
	runner
	source    ProductSource
	repo      ProductRepo
	publisher Publisher
	notifier  ProductNotifier
	fanOut    int
}

func NewProductMonitor(source ProductSource, repo ProductRepo, publisher Publisher, notifier ProductNotifier, interval time.Duration, fanOut int, logger *slog.Logger) *ProductMonitor {
	l := logger.With("component", "product_monitor")
	return &ProductMonitor{
		runner:    runner{name: "products", interval: interval, logger: l},
		source:    source,
		repo:      repo,
		publisher: publisher,
		notifier:  notifier,
		fanOut:    fanOut,
	}
}

func (m *ProductMonitor) Start(ctx context.Context) {
	m.run(ctx, m.tick)
}

func (m *ProductMonitor) tick(ctx context.Context) {
	stored, err := m.repo.ListEnabled(ctx)
	if err != nil {
		m.logger.Error("failed to list products", "error", err)
		return
	}

	disabled, err := m.repo.ListDisabledURLs(ctx)
	if err != nil {
		m.logger.Warn("failed to list disabled products", "error", err)
		disabled = nil
	}

	forEachBounded(ctx, m.fanOut, stored, func(ctx context.Context, p *models.Product) {
		m.check(ctx, p, disabled)
	})
}

func (m *ProductMonitor) check(ctx context.Context, stored *models.Product, disabled map[string]struct{}) {
	fresh, err := m.source.Get(ctx, stored.URL, true, nil, nil, disabled)
	if err != nil {
		m.logger.Error("unexpected product scrape error", "url", stored.URL, "error", err)
		return
	}

	var changed *models.Product
	if fresh == nil {
		if !stored.IsAvailable {
			return
		}
		changed = markProductUnavailable(stored)
	} else {
		if fresh.Sha256 == stored.Sha256 {
			return
		}
		changed = fresh
		carryProductIdentity(changed, stored)
	}

	if !retryForever(ctx, m.logger, "persisting product change", func(ctx context.Context) error { return m.repo.Save(ctx, changed) }) {
		return
	}
	if !retryForever(ctx, m.logger, "publishing product change", func(ctx context.Context) error {
		return m.publisher.PublishEntityChanged(ctx, models.KindProduct, changed)
	}) {
		return
	}
	if m.notifier != nil {
		m.notifier.NotifyProductChanged(ctx, changed)
	}
}

// The unavailability transition mutates a copy of the stored entity so the
// caller's slice stays untouched if the save is later aborted.

func markStoreUnavailable(stored *models.Store) *models.Store {
	c := *stored
	c.IsAvailable = false
	c.HasProductsInCart = false
	c.Updated = time.Now()
	c.Sha256 = c.Fingerprint()
	return &c
}

func markDepartmentUnavailable(stored *models.Department) *models.Department {
	c := *stored
	c.IsAvailable = false
	c.ProductsCount = 0
	c.Updated = time.Now()
	c.Sha256 = c.Fingerprint()
	return &c
}

func markProductUnavailable(stored *models.Product) *models.Product {
	c := *stored
	c.IsAvailable = false
	c.IsInCart = false
	c.Updated = time.Now()
	c.Sha256 = c.Fingerprint()
	return &c
}

// Freshly scraped entities carry identity and API-owned fields over from
// the stored row; the scraper does not know them.

func carryStoreIdentity(fresh, stored *models.Store) {
	fresh.ID = stored.ID
	fresh.Added = stored.Added
	fresh.IsEnabled = stored.IsEnabled
	fresh.Read = stored.Read
	fresh.Updated = time.Now()
}

func carryDepartmentIdentity(fresh, stored *models.Department) {
	fresh.ID = stored.ID
	fresh.Added = stored.Added
	fresh.IsEnabled = stored.IsEnabled
	fresh.Read = stored.Read
	fresh.Updated = time.Now()
}

func carryProductIdentity(fresh, stored *models.Product) {
	fresh.ID = stored.ID
	fresh.Added = stored.Added
	fresh.IsEnabled = stored.IsEnabled
	fresh.Read = stored.Read
	fresh.Updated = time.Now()
}
