// Package ledger provides BoltDB-backed, at-most-once redemption tracking
// for Cashu proofs. A proof's id is written to a single bucket exactly once;
// any later attempt to redeem the same proof id fails with ErrAlreadySpent.
// BoltDB's single-writer transaction model is what makes this safe under
// concurrent admission requests without any extra locking in this package.
package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const redemptionsBucket = "redemptions"

// ErrAlreadySpent is returned by TryRedeem when one or more of the given
// proof IDs has already been recorded in the ledger.
var ErrAlreadySpent = errors.New("proof already spent")

// Ledger is a durable record of every Cashu proof ID Paygress has redeemed.
type Ledger struct {
	db *bbolt.DB
}

// Open creates or opens the ledger database at path, creating the parent
// directory and the redemptions bucket if they don't already exist.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(redemptionsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init ledger bucket: %w", err)
	}

	return &Ledger{db: db}, nil
}

// TryRedeem atomically checks that none of proofIDs has been redeemed
// before, then records all of them. Either the whole set is admitted or
// none of it is — a token's proofs either all spend together or the
// redemption is rejected outright, so a partial double-spend inside one
// token can never slip through.
func (l *Ledger) TryRedeem(proofIDs []string) error {
	if len(proofIDs) == 0 {
		return fmt.Errorf("no proof IDs to redeem")
	}

	return l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(redemptionsBucket))

		for _, id := range proofIDs {
			if b.Get([]byte(id)) != nil {
				return fmt.Errorf("%w: %s", ErrAlreadySpent, id)
			}
		}

		now := []byte(time.Now().UTC().Format(time.RFC3339Nano))
		for _, id := range proofIDs {
			if err := b.Put([]byte(id), now); err != nil {
				return fmt.Errorf("record redemption: %w", err)
			}
		}
		return nil
	})
}

// IsSpent reports whether proofID has already been redeemed, without
// attempting to redeem it.
func (l *Ledger) IsSpent(proofID string) (bool, error) {
	var spent bool
	err := l.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(redemptionsBucket))
		spent = b.Get([]byte(proofID)) != nil
		return nil
	})
	return spent, err
}

// Close releases the underlying database file.
func (l *Ledger) Close() error {
	return l.db.Close()
}
