package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeNotification(t *testing.T) {
	ctx := context.Background()
	sale := &Sale{ID: "sale-1", CustomerName: "Maria"}
	load := func(_ context.Context, id string) (any, error) {
		if id == sale.ID {
			return sale, nil
		}
		return nil, ErrNotFound
	}

	t.Run("full pair is passed through", func(t *testing.T) {
		change, err := decodeNotification(ctx, `{"old_val":null,"new_val":{"id":"P1","stock":3}}`, nil)

		require.NoError(t, err)
		assert.Equal(t, "null", string(change.OldVal))
		assert.JSONEq(t, `{"id":"P1","stock":3}`, string(change.NewVal))
	})

	t.Run("key-only insert reloads the document", func(t *testing.T) {
		change, err := decodeNotification(ctx, `{"op":"INSERT","id":"sale-1"}`, load)

		require.NoError(t, err)
		assert.Equal(t, "null", string(change.OldVal))
		var doc Sale
		require.NoError(t, json.Unmarshal(change.NewVal, &doc))
		assert.Equal(t, "Maria", doc.CustomerName)
	})

	t.Run("key-only update keeps the key as old value", func(t *testing.T) {
		change, err := decodeNotification(ctx, `{"op":"UPDATE","id":"sale-1"}`, load)

		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"sale-1"}`, string(change.OldVal))
		assert.NotEqual(t, "null", string(change.NewVal))
	})

	t.Run("key-only delete does not reload", func(t *testing.T) {
		change, err := decodeNotification(ctx, `{"op":"DELETE","id":"P9"}`, nil)

		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"P9"}`, string(change.OldVal))
		assert.Equal(t, "null", string(change.NewVal))
	})

	t.Run("document removed before reload", func(t *testing.T) {
		change, err := decodeNotification(ctx, `{"op":"UPDATE","id":"gone"}`, load)

		require.NoError(t, err)
		assert.Equal(t, "null", string(change.NewVal))
	})

	t.Run("reload failure", func(t *testing.T) {
		failing := func(context.Context, string) (any, error) { return nil, ErrStoreUnavailable }

		_, err := decodeNotification(ctx, `{"op":"INSERT","id":"sale-1"}`, failing)

		assert.True(t, errors.Is(err, ErrStoreUnavailable))
	})

	t.Run("invalid payload", func(t *testing.T) {
		_, err := decodeNotification(ctx, `not json`, nil)
		assert.Error(t, err)
	})
}
