package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/raphaelgruber/methodkb/internal/config"
	"github.com/raphaelgruber/methodkb/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

func TestConfigFrom(t *testing.T) {
	cfg := config.Config{
		SurrealDBURL:       "ws://db:8000/rpc",
		SurrealDBNamespace: "ns",
		SurrealDBDatabase:  "db",
		SurrealDBUser:      "u",
		SurrealDBPass:      "p",
		SurrealDBAuthLevel: "database",
		DBTimeout:          10 * time.Second,
	}
	assert.Equal(t, Config{
		URL:         "ws://db:8000/rpc",
		Namespace:   "ns",
		Database:    "db",
		Username:    "u",
		Password:    "p",
		AuthLevel:   AuthDatabase,
		DialTimeout: 10 * time.Second,
	}, ConfigFrom(cfg))
}

func TestRPCBase(t *testing.T) {
	for in, want := range map[string]string{
		"ws://db:8000/rpc":    "ws://db:8000",
		"ws://db:8000/rpc/":   "ws://db:8000",
		"wss://kb.example":    "wss://kb.example",
		"ws://localhost:8000": "ws://localhost:8000",
	} {
		assert.Equal(t, want, rpcBase(in), in)
	}
}

func TestSignInRejectsUnknownAuthLevel(t *testing.T) {
	err := signIn(context.Background(), nil, Config{AuthLevel: "namespace"})
	assert.ErrorContains(t, err, `unknown auth level "namespace"`)
}

func TestMergeableDropsStoreOwnedFields(t *testing.T) {
	in := map[string]any{
		"id":                 "x",
		"in":                 "a",
		"out":                "b",
		store.FieldCreatedAt: "then",
		store.FieldUpdatedAt: "now",
		"title":              "Collect data",
	}
	out := mergeable(in)
	assert.Equal(t, map[string]any{"title": "Collect data"}, out)
	assert.Len(t, in, 6, "input is not mutated")
	assert.NotNil(t, mergeable(nil))
}

func TestMergeableUnsetsNilFields(t *testing.T) {
	out := mergeable(map[string]any{"name": "ROE", "merged_into": nil})
	assert.Equal(t, surrealmodels.None, out["merged_into"])
	assert.Equal(t, "ROE", out["name"])
}

func TestWrapQueryError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"conflict", &surrealdb.QueryError{Message: "Transaction conflict: retry"}, ErrTransactionConflict},
		{"missing", &surrealdb.QueryError{Message: "The record 'x' does not exist"}, ErrNotFound},
		{"wrapped conflict", fmt.Errorf("q: %w", &surrealdb.QueryError{Message: "Transaction conflict"}), ErrTransactionConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapQueryError(tt.err)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.True(t, errors.Is(got, tt.want), "got %v", got)
		})
	}

	plain := errors.New("boom")
	assert.Same(t, plain, wrapQueryError(plain))
	assert.True(t, errors.Is(ErrNotFound, store.ErrNotFound))
}

func TestSchemaCoversAllTables(t *testing.T) {
	for _, table := range append(append([]string{}, recordTables...), relationTables...) {
		assert.Contains(t, SchemaSQL, "DEFINE TABLE IF NOT EXISTS "+table+" ", table)
	}
}
