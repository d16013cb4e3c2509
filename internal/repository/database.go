package repository

import (
	"context"
	"fmt"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
)

// Open connects to CouchDB at url, creates dbName when it is missing and
// makes sure the Mango indexes behind List and the user lookups exist.
func Open(ctx context.Context, url, dbName string) (*kivik.Client, error) {
	client, err := kivik.New("couch", url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to CouchDB: %w", err)
	}

	exists, err := client.DBExists(ctx, dbName)
	if err != nil {
		return nil, fmt.Errorf("failed to check database existence: %w", err)
	}

	if !exists {
		if err := client.CreateDB(ctx, dbName); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	if err := ensureIndexes(ctx, client.DB(dbName)); err != nil {
		return nil, err
	}

	return client, nil
}

func ensureIndexes(ctx context.Context, db *kivik.DB) error {
	indexes := map[string][]string{
		"note-owner":    {"type", "owner_id"},
		"user-email":    {"type", "email"},
		"user-username": {"type", "username"},
	}

	for name, fields := range indexes {
		index := map[string]interface{}{"fields": fields}
		if err := db.CreateIndex(ctx, "inkdown", name, index); err != nil {
			return fmt.Errorf("failed to create index %s: %w", name, err)
		}
	}
	return nil
}
