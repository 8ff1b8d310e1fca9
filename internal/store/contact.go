package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const upsertContactSQL = `
	INSERT INTO contacts (id, name, asset_key, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		asset_key = excluded.asset_key,
		updated_at = excluded.updated_at`

// InsertContact inserts or replaces a contact.
func (db *DB) InsertContact(ctx context.Context, c *Contact) error {
	_, err := db.ExecContext(ctx, upsertContactSQL, c.ID, c.Name, c.AssetKey, time.Now().UnixMilli())
	return err
}

// InsertContacts inserts or replaces multiple contacts in a single transaction.
func (db *DB) InsertContacts(ctx context.Context, contacts []Contact) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, c := range contacts {
		if _, err := tx.ExecContext(ctx, upsertContactSQL, c.ID, c.Name, c.AssetKey, now); err != nil {
			return fmt.Errorf("insert contact %q: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// Contacts returns every cached contact ordered by id.
func (db *DB) Contacts(ctx context.Context) ([]Contact, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name, asset_key FROM contacts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return scanContacts(rows)
}

// ContactsByID returns the contacts with the given ids. Unknown ids are skipped.
func (db *DB) ContactsByID(ctx context.Context, ids []string) ([]Contact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	in, args := inClause(ids)
	rows, err := db.QueryContext(ctx, `SELECT id, name, asset_key FROM contacts WHERE id IN (`+in+`) ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	return scanContacts(rows)
}

// ContactByID returns a single contact or ErrNotFound.
func (db *DB) ContactByID(ctx context.Context, id string) (*Contact, error) {
	var c Contact
	err := db.QueryRowContext(ctx, `SELECT id, name, asset_key FROM contacts WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.AssetKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ContactCount returns the total number of cached contacts.
func (db *DB) ContactCount(ctx context.Context) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts`).Scan(&count)
	return count, err
}

func scanContacts(rows *sql.Rows) ([]Contact, error) {
	defer func() { _ = rows.Close() }()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.AssetKey); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}
