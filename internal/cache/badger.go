// Retriever - Asynchronous Search Orchestration Backend
// Copyright 2026 Tessera Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-ai/retriever

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerAdapter is the embedded persistent backend for single-node
// deployments without an external store. The canonical tier survives
// restarts through it.
type BadgerAdapter struct {
	db *badger.DB
}

// NewBadgerAdapter opens (or creates) a Badger database at path. An empty
// path opens an in-memory database, which tests use.
func NewBadgerAdapter(path string) (*BadgerAdapter, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerAdapter{db: db}, nil
}

func (b *BadgerAdapter) Get(_ context.Context, key string) ([]byte, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, newError(b.Name(), "get", key, err)
	}
	return value, nil
}

func (b *BadgerAdapter) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value).WithTTL(clampTTL(ttl))
		return txn.SetEntry(entry)
	})
	return newError(b.Name(), "set", key, err)
}

func (b *BadgerAdapter) SetPersistent(_ context.Context, key string, value []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	return newError(b.Name(), "set_persistent", key, err)
}

func (b *BadgerAdapter) Delete(_ context.Context, key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	return newError(b.Name(), "delete", key, err)
}

func (b *BadgerAdapter) Exists(ctx context.Context, key string) (bool, error) {
	value, err := b.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return value != nil, nil
}

func (b *BadgerAdapter) Name() string { return "badger" }

func (b *BadgerAdapter) Close() error { return b.db.Close() }
