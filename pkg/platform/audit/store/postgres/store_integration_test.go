//go:build integration

package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"auditlog/pkg/platform/audit"
	"auditlog/pkg/platform/audit/store/storetest"
	txcontext "auditlog/pkg/platform/tx"
	"auditlog/pkg/testutil/containers"
)

func TestPostgresStoreConformance(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	store := New(pg.DB)
	require.NoError(t, store.EnsureSchema(context.Background()))

	storetest.Run(t, func(t *testing.T) audit.Store {
		require.NoError(t, pg.Truncate(context.Background(), "audit_log_entries"))
		return store
	})
}

func TestPostgresStoreTransactions(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	store := New(pg.DB)
	ctx := context.Background()
	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.EnsureSchema(ctx), "schema creation is idempotent")

	entry := audit.LogEntry{
		ResourceType: "accounts.User",
		ResourceID:   audit.StringPtr("1"),
		Action:       audit.ActionView,
	}

	t.Run("rolled back append leaves no entry", func(t *testing.T) {
		tx, err := pg.DB.BeginTx(ctx, nil)
		require.NoError(t, err)

		_, err = store.Append(txcontext.WithTx(ctx, tx), entry)
		require.NoError(t, err)
		require.NoError(t, tx.Rollback())

		got, err := store.List(ctx, audit.Filter{})
		require.NoError(t, err)
		require.Empty(t, got)
	})

	t.Run("committed append is visible", func(t *testing.T) {
		tx, err := pg.DB.BeginTx(ctx, nil)
		require.NoError(t, err)

		stored, err := store.Append(txcontext.WithTx(ctx, tx), entry)
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		got, err := store.Get(ctx, stored.ID)
		require.NoError(t, err)
		require.Equal(t, stored.ID, got.ID)
	})

	t.Run("corrupt changes degrade instead of failing", func(t *testing.T) {
		stored, err := store.Append(ctx, audit.LogEntry{
			ResourceType: "accounts.User",
			ResourceID:   audit.StringPtr("2"),
			Action:       audit.ActionUpdate,
			Changes:      audit.Changes{"name": {New: audit.StringPtr("B")}},
		})
		require.NoError(t, err)
		_, err = pg.DB.ExecContext(ctx, `UPDATE audit_log_entries SET changes = '{"name":["only one"]}' WHERE id = $1`, stored.ID.String())
		require.NoError(t, err)

		got, err := store.Get(ctx, stored.ID)
		require.NoError(t, err)
		require.True(t, got.ChangesUnavailable)
		require.Nil(t, got.Changes)
	})
}
