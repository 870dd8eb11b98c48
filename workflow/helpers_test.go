package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alphaitsolutions/storefront_backend/config"
	"github.com/alphaitsolutions/storefront_backend/document"
	"github.com/alphaitsolutions/storefront_backend/models"
	"github.com/alphaitsolutions/storefront_backend/notify"
	"github.com/alphaitsolutions/storefront_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, time.March, 10, 14, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "storefront.db") + "?_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), config.GormConfig())
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeCatalog struct {
	mu      sync.Mutex
	entries map[string]models.CatalogEntry
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{entries: map[string]models.CatalogEntry{}}
}

func (c *fakeCatalog) put(itemType models.ItemType, id int, entry models.CatalogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fmt.Sprintf("%s:%d", itemType, id)] = entry
}

func (c *fakeCatalog) remove(itemType models.ItemType, id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, fmt.Sprintf("%s:%d", itemType, id))
}

func (c *fakeCatalog) Resolve(ctx context.Context, itemType models.ItemType, itemId int) (models.CatalogEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[fmt.Sprintf("%s:%d", itemType, itemId)]
	if !ok {
		return nil, &models.NotFoundError{Resource: string(itemType), Id: itemId}
	}
	return entry, nil
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []notify.Message
	err   error
	panic bool
}

func (s *fakeSender) Send(ctx context.Context, msg notify.Message) error {
	if s.panic {
		panic("mail client exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSender) messages() []notify.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Message(nil), s.sent...)
}

func (s *fakeSender) subjects() []string {
	var out []string
	for _, m := range s.messages() {
		out = append(out, m.Subject)
	}
	return out
}

type failingRenderer struct{}

func (failingRenderer) Render(inv *models.Invoice) ([]byte, error) {
	return nil, errors.New("renderer unavailable")
}
func (failingRenderer) ContentType() string { return "application/octet-stream" }
func (failingRenderer) Extension() string   { return "bin" }

type memStore struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (s *memStore) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.files == nil {
		s.files = map[string][]byte{}
	}
	s.files[path] = data
	return "mem://" + path, nil
}

type countingWaker struct {
	n atomic.Int32
}

func (w *countingWaker) Wake() { w.n.Add(1) }

type fakeEvents struct {
	mu     sync.Mutex
	events []models.OrderEventPayload
}

func (p *fakeEvents) Publish(ctx context.Context, event models.OrderEventPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// pipeline wires every workflow component against one SQLite database and a
// manual clock.
type pipeline struct {
	db             *gorm.DB
	clock          *utils.ManualClock
	catalog        *fakeCatalog
	sender         *fakeSender
	store          *memStore
	events         *fakeEvents
	dispatcher     *OutboxDispatcher
	ledger         *Ledger
	fulfillment    *Fulfillment
	orders         *Orders
	reconciliation *Reconciliation
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	db := newTestDB(t)
	logger := quietLogger()
	clock := utils.NewManualClock(testNow)

	p := &pipeline{
		db:      db,
		clock:   clock,
		catalog: newFakeCatalog(),
		sender:  &fakeSender{},
		store:   &memStore{},
		events:  &fakeEvents{},
	}

	p.dispatcher = NewOutboxDispatcher(db, logger)
	p.dispatcher.Clock = clock
	p.dispatcher.Sender = p.sender
	p.dispatcher.Renderer = document.NewExcelRenderer()
	p.dispatcher.Documents = p.store
	p.dispatcher.Events = p.events

	p.ledger = NewLedger(db, logger, clock, nil, p.dispatcher)
	p.ledger.AlertEmail = "admin@example.com"
	p.ledger.AlertMaxAttempts = 3

	p.fulfillment = NewFulfillment(db, logger, p.catalog, p.ledger, p.dispatcher, clock)
	p.fulfillment.InvoiceEmailDelay = 5 * time.Second
	p.fulfillment.DocumentMaxAttempts = 3
	p.fulfillment.PublishEvents = false

	p.orders = NewOrders(db, logger, p.catalog, p.fulfillment, p.dispatcher, clock)
	p.orders.StrictTransitions = true

	p.reconciliation = NewReconciliation(db, logger, p.ledger, clock)
	p.reconciliation.InquiryRetention = 48 * time.Hour
	p.reconciliation.ClosingHour = 23
	p.reconciliation.ClosingMinute = 59

	p.catalog.put(models.ItemTypeProduct, 1, &models.Product{
		ID: 1, Category: "Keyboard", Description: "Mechanical TKL", Price: decimal.NewFromInt(10000),
	})
	p.catalog.put(models.ItemTypePreBuild, 1, &models.PreBuild{
		ID: 1, Category: models.PreBuildCategoryGaming, Description: "Ryzen 5 starter", Price: decimal.NewFromInt(150000),
	})
	return p
}

func fullSpecs() map[string]string {
	return map[string]string{
		"Processor":    "Ryzen 5 7600",
		"GPU":          "RTX 4060",
		"RAM":          "32GB DDR5",
		"Storage":      "1TB NVMe",
		"Power Supply": "650W Gold",
		"Casing":       "Mid tower",
	}
}

// confirmedOrder creates the reference SuccessOrder: two keyboards at 10,000
// and one PreBuild at 150,000.
func (p *pipeline) confirmedOrder(t *testing.T) *models.SuccessOrder {
	t.Helper()
	so, err := p.orders.CreateSuccessOrder(context.Background(), &models.NewSuccessOrder{
		CustomerId:    7,
		CustomerName:  "Nimal Perera",
		CustomerEmail: "nimal@example.com",
		Items: []models.NewSuccessOrderItem{
			{ItemId: 1, ItemType: models.ItemTypeProduct, Quantity: 2},
			{ItemId: 1, ItemType: models.ItemTypePreBuild, Quantity: 1, Specs: fullSpecs()},
		},
	})
	require.NoError(t, err)
	return so
}

func (p *pipeline) jobs(t *testing.T, kind models.OutboxJobKind) []models.OutboxJob {
	t.Helper()
	var jobs []models.OutboxJob
	require.NoError(t, p.db.Where("kind = ?", kind).Order("id ASC").Find(&jobs).Error)
	return jobs
}

func (p *pipeline) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, p.db.Model(model).Count(&n).Error)
	return n
}
