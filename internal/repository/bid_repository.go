package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nurpe/sealed-bids/internal/model"
)

type PostgresBidRepository struct {
	db *gorm.DB
}

func NewPostgresBidRepository(db *gorm.DB) *PostgresBidRepository {
	return &PostgresBidRepository{db: db}
}

type sealedBidRow struct {
	ID               uuid.UUID
	TenderID         uuid.UUID
	TenderRef        string
	SupplierID       uuid.UUID
	SupplierName     string
	Status           string
	KeyID            string
	Ciphertext       []byte
	Nonce            []byte
	AuthTag          []byte
	CiphertextDigest string
	SealedAt         time.Time
	OpeningDeadline  time.Time
	DecryptedBid     []byte
	OpenedAt         *time.Time
	OpenedBy         *uuid.UUID
}

const sealedBidColumns = `
	id,
	tender_id,
	tender_ref,
	supplier_id,
	supplier_name,
	status,
	key_id,
	ciphertext,
	nonce,
	auth_tag,
	ciphertext_digest,
	sealed_at,
	opening_deadline,
	decrypted_bid,
	opened_at,
	opened_by
`

func (row sealedBidRow) toModel() (*model.SealedBid, error) {
	bid := &model.SealedBid{
		ID:               row.ID,
		TenderID:         row.TenderID,
		TenderRef:        row.TenderRef,
		SupplierID:       row.SupplierID,
		SupplierName:     row.SupplierName,
		Status:           model.BidStatus(row.Status),
		KeyID:            row.KeyID,
		Ciphertext:       row.Ciphertext,
		Nonce:            row.Nonce,
		AuthTag:          row.AuthTag,
		CiphertextDigest: row.CiphertextDigest,
		SealedAt:         row.SealedAt,
		OpeningDeadline:  row.OpeningDeadline,
		OpenedAt:         row.OpenedAt,
		OpenedBy:         row.OpenedBy,
	}
	if len(row.DecryptedBid) > 0 {
		var payload model.BidPayload
		if err := json.Unmarshal(row.DecryptedBid, &payload); err != nil {
			return nil, fmt.Errorf("decode decrypted bid %s: %w", row.ID, err)
		}
		bid.DecryptedBid = &payload
	}
	return bid, nil
}

func (r *PostgresBidRepository) Create(ctx context.Context, bid *model.SealedBid) error {
	err := r.db.WithContext(ctx).Exec(`
		INSERT INTO sealed_bids (
			id,
			tender_id,
			tender_ref,
			supplier_id,
			supplier_name,
			status,
			key_id,
			ciphertext,
			nonce,
			auth_tag,
			ciphertext_digest,
			sealed_at,
			opening_deadline
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		bid.ID,
		bid.TenderID,
		bid.TenderRef,
		bid.SupplierID,
		bid.SupplierName,
		bid.Status,
		bid.KeyID,
		bid.Ciphertext,
		bid.Nonce,
		bid.AuthTag,
		bid.CiphertextDigest,
		bid.SealedAt,
		bid.OpeningDeadline,
	).Error
	return translate(err)
}

func (r *PostgresBidRepository) Get(ctx context.Context, id uuid.UUID) (*model.SealedBid, error) {
	return r.getOne(ctx, `SELECT `+sealedBidColumns+` FROM sealed_bids WHERE id = ? LIMIT 1`, id)
}

func (r *PostgresBidRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.SealedBid, error) {
	return r.getOne(ctx, `SELECT `+sealedBidColumns+` FROM sealed_bids WHERE id = ? FOR UPDATE`, id)
}

func (r *PostgresBidRepository) getOne(ctx context.Context, query string, id uuid.UUID) (*model.SealedBid, error) {
	var row sealedBidRow
	if err := r.db.WithContext(ctx).Raw(query, id).Scan(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, ErrNotFound
	}
	return row.toModel()
}

func (r *PostgresBidRepository) ListByTender(ctx context.Context, tenderID uuid.UUID) ([]model.SealedBid, error) {
	var rows []sealedBidRow
	err := r.db.WithContext(ctx).Raw(`
		SELECT `+sealedBidColumns+`
		FROM sealed_bids
		WHERE tender_id = ?
		ORDER BY sealed_at ASC, id ASC
	`, tenderID).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	bids := make([]model.SealedBid, 0, len(rows))
	for _, row := range rows {
		bid, err := row.toModel()
		if err != nil {
			return nil, err
		}
		bids = append(bids, *bid)
	}
	return bids, nil
}

func (r *PostgresBidRepository) ListSealedIDs(ctx context.Context, tenderID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Raw(`
		SELECT id
		FROM sealed_bids
		WHERE tender_id = ? AND status = ?
		ORDER BY sealed_at ASC, id ASC
	`, tenderID, model.BidStatusSealed).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *PostgresBidRepository) CountSealedByTender(ctx context.Context, tenderID uuid.UUID) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).Raw(`
		SELECT COUNT(*) FROM sealed_bids WHERE tender_id = ? AND status = ?
	`, tenderID, model.BidStatusSealed).Scan(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func (r *PostgresBidRepository) SaveOpened(ctx context.Context, bid *model.SealedBid) error {
	if bid.DecryptedBid == nil {
		return fmt.Errorf("bid %s has no decrypted payload", bid.ID)
	}
	payload, err := json.Marshal(bid.DecryptedBid)
	if err != nil {
		return err
	}

	result := r.db.WithContext(ctx).Exec(`
		UPDATE sealed_bids
		SET
			status = ?,
			ciphertext = NULL,
			nonce = NULL,
			auth_tag = NULL,
			decrypted_bid = ?::jsonb,
			opened_at = ?,
			opened_by = ?
		WHERE id = ? AND status = ?
	`, model.BidStatusOpened, string(payload), bid.OpenedAt, bid.OpenedBy, bid.ID, model.BidStatusSealed)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}
