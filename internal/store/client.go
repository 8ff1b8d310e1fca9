package store

import (
	"context"
	"fmt"
)

const insertClientSQL = `INSERT OR IGNORE INTO contact_clients (user_id, id) VALUES (?, ?)`

// InsertClient stores a client for an existing contact. It fails with a
// foreign key violation when the contact is unknown.
func (db *DB) InsertClient(ctx context.Context, c *ContactClient) error {
	_, err := db.ExecContext(ctx, insertClientSQL, c.UserID, c.ID)
	return err
}

// InsertClients stores clients atomically: if any client references an
// unknown contact, none of them are stored.
func (db *DB) InsertClients(ctx context.Context, clients []ContactClient) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range clients {
		if _, err := tx.ExecContext(ctx, insertClientSQL, c.UserID, c.ID); err != nil {
			return fmt.Errorf("insert client %q of %q: %w", c.ID, c.UserID, err)
		}
	}
	return tx.Commit()
}

// Clients returns every stored client.
func (db *DB) Clients(ctx context.Context) ([]ContactClient, error) {
	return db.queryClients(ctx, `SELECT user_id, id FROM contact_clients ORDER BY user_id, id`)
}

// ClientsByUserID returns the clients of the given users. Ids without a
// contact contribute nothing.
func (db *DB) ClientsByUserID(ctx context.Context, userIDs []string) ([]ContactClient, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	in, args := inClause(userIDs)
	return db.queryClients(ctx, `SELECT user_id, id FROM contact_clients WHERE user_id IN (`+in+`) ORDER BY user_id, id`, args...)
}

func (db *DB) queryClients(ctx context.Context, query string, args ...any) ([]ContactClient, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var clients []ContactClient
	for rows.Next() {
		var c ContactClient
		if err := rows.Scan(&c.UserID, &c.ID); err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}
