package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nurpe/sealed-bids/internal/model"
)

// DirectoryRepository reads tender and supplier records owned by the
// procurement CRUD system.
type DirectoryRepository struct {
	db *gorm.DB
}

func NewDirectoryRepository(db *gorm.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

func (r *DirectoryRepository) GetTender(ctx context.Context, id uuid.UUID) (*model.Tender, error) {
	var row struct {
		ID                 uuid.UUID
		ReferenceNumber    string
		Title              string
		SubmissionDeadline time.Time
	}
	err := r.db.WithContext(ctx).Raw(`
		SELECT id, reference_number, title, submission_deadline
		FROM tenders
		WHERE id = ?
		LIMIT 1
	`, id).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, ErrNotFound
	}
	return &model.Tender{
		ID:                 row.ID,
		ReferenceNumber:    row.ReferenceNumber,
		Title:              row.Title,
		SubmissionDeadline: row.SubmissionDeadline,
	}, nil
}

func (r *DirectoryRepository) GetSupplier(ctx context.Context, id uuid.UUID) (*model.Supplier, error) {
	var supplier model.Supplier
	err := r.db.WithContext(ctx).Raw(`
		SELECT id, name
		FROM suppliers
		WHERE id = ?
		LIMIT 1
	`, id).Scan(&supplier).Error
	if err != nil {
		return nil, err
	}
	if supplier.ID == uuid.Nil {
		return nil, ErrNotFound
	}
	return &supplier, nil
}

// MemoryDirectory is an in-process tender/supplier directory.
type MemoryDirectory struct {
	mu        sync.RWMutex
	tenders   map[uuid.UUID]model.Tender
	suppliers map[uuid.UUID]model.Supplier
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		tenders:   make(map[uuid.UUID]model.Tender),
		suppliers: make(map[uuid.UUID]model.Supplier),
	}
}

func (d *MemoryDirectory) PutTender(tender model.Tender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tenders[tender.ID] = tender
}

func (d *MemoryDirectory) PutSupplier(supplier model.Supplier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.suppliers[supplier.ID] = supplier
}

func (d *MemoryDirectory) GetTender(_ context.Context, id uuid.UUID) (*model.Tender, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	tender, ok := d.tenders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &tender, nil
}

func (d *MemoryDirectory) GetSupplier(_ context.Context, id uuid.UUID) (*model.Supplier, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	supplier, ok := d.suppliers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &supplier, nil
}
