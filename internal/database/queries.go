package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Psalm112/Dezentra/internal/models"
)

// ==================== Snapshot Store ====================

// Snapshot is a persisted JSON cache entry. Rate records are stored under
// "rates:<chainId>", the geo result under "geo", so a fresh process start
// can serve stale-but-usable data immediately.
type Snapshot struct {
	Key         string `db:"key"`
	Value       []byte `db:"value"`
	LastUpdated int64  `db:"last_updated"` // epoch ms
}

// PutSnapshot stores or replaces a JSON snapshot under the given key.
func (db *DB) PutSnapshot(ctx context.Context, key string, value interface{}, lastUpdated int64) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot %q: %w", key, err)
	}

	query := `
		INSERT INTO snapshots (key, value, last_updated)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = $2, last_updated = $3
	`
	_, err = db.ExecContext(ctx, query, key, payload, lastUpdated)
	return err
}

// GetSnapshot loads a snapshot into out. Returns false when no snapshot
// exists under the key.
func (db *DB) GetSnapshot(ctx context.Context, key string, out interface{}) (bool, error) {
	var snap Snapshot
	query := `SELECT key, value, last_updated FROM snapshots WHERE key = $1`
	err := db.GetContext(ctx, &snap, query, key)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := json.Unmarshal(snap.Value, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal snapshot %q: %w", key, err)
	}
	return true, nil
}

// DeleteSnapshot removes a snapshot if present.
func (db *DB) DeleteSnapshot(ctx context.Context, key string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM snapshots WHERE key = $1`, key)
	return err
}

// ==================== Payment Transaction Queries ====================

// InsertPaymentTransaction records a submitted transaction.
func (db *DB) InsertPaymentTransaction(ctx context.Context, tx *models.PaymentTransaction) error {
	query := `
		INSERT INTO payment_transactions
			(hash, chain_id, amount, token, to_address, from_address, status,
			 timestamp, purchase_id, message_id, cross_chain)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (hash) DO NOTHING
	`
	_, err := db.ExecContext(
		ctx, query,
		tx.Hash, tx.ChainID, tx.Amount, tx.Token, tx.To, tx.From, tx.Status,
		tx.Timestamp, tx.PurchaseID, tx.MessageID, tx.CrossChain,
	)
	return err
}

// GetPaymentTransaction retrieves a transaction by hash.
func (db *DB) GetPaymentTransaction(ctx context.Context, hash string) (*models.PaymentTransaction, error) {
	var tx models.PaymentTransaction
	query := `
		SELECT hash, chain_id, amount, token, to_address, from_address, status,
		       timestamp, purchase_id, message_id, cross_chain
		FROM payment_transactions
		WHERE hash = $1
	`
	err := db.GetContext(ctx, &tx, query, hash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// ListPaymentTransactions retrieves transactions submitted by an address,
// newest first.
func (db *DB) ListPaymentTransactions(ctx context.Context, from string, limit, offset int) ([]models.PaymentTransaction, error) {
	var txs []models.PaymentTransaction
	query := `
		SELECT hash, chain_id, amount, token, to_address, from_address, status,
		       timestamp, purchase_id, message_id, cross_chain
		FROM payment_transactions
		WHERE from_address = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3
	`
	err := db.SelectContext(ctx, &txs, query, from, limit, offset)
	return txs, err
}

// ListPendingTransactions retrieves the oldest transactions still awaiting
// a receipt.
func (db *DB) ListPendingTransactions(ctx context.Context, limit int) ([]models.PaymentTransaction, error) {
	var txs []models.PaymentTransaction
	query := `
		SELECT hash, chain_id, amount, token, to_address, from_address, status,
		       timestamp, purchase_id, message_id, cross_chain
		FROM payment_transactions
		WHERE status = $1
		ORDER BY timestamp
		LIMIT $2
	`
	err := db.SelectContext(ctx, &txs, query, models.TxStatusPending, limit)
	return txs, err
}

// UpdatePaymentTransactionStatus moves a transaction to a new status. The
// caller's own confirmation polling is the only writer of "confirmed".
func (db *DB) UpdatePaymentTransactionStatus(ctx context.Context, hash string, status models.TxStatus) error {
	query := `UPDATE payment_transactions SET status = $2 WHERE hash = $1`
	result, err := db.ExecContext(ctx, query, hash, status)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("no transaction with hash %s", hash)
	}
	return nil
}
