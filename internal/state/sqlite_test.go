package state

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapmap/internal/testutil"
	"github.com/leapstack-labs/leapmap/pkg/color"
	"github.com/leapstack-labs/leapmap/pkg/core"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := Open(context.Background(), ":memory:", testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleExport() core.Export {
	hidden := false
	opacity := 0.4
	return core.Export{
		Layers: []core.LayerConfig{
			{
				ID:   "cells",
				Name: "Cells",
				Style: core.Style{
					FillColor: &color.Continuous{Attr: "v", Palette: "Sunset", Domain: &[2]float64{0, 10}},
					Opacity:   &opacity,
				},
				Source: &core.HexSource{ParquetURL: "https://example.com/cells.parquet"},
			},
			{
				ID:      "basemap-tiles",
				Visible: &hidden,
				Source:  &core.RasterSource{TileURL: "https://t/{z}/{x}/{y}.png"},
			},
		},
		Visibility: map[string]bool{"cells": true, "basemap-tiles": false},
	}
}

func TestSQLiteStore_OpenClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	store, err := Open(context.Background(), path, nil)
	require.NoError(t, err)

	version, err := store.GetMigrationVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	require.NoError(t, store.Close())
	assert.FileExists(t, path)
}

func TestSQLiteStore_NotOpened(t *testing.T) {
	store := NewSQLiteStore(nil)
	ctx := context.Background()

	_, err := store.Save(ctx, "x", core.Export{})
	require.Error(t, err)
	_, err = store.List(ctx)
	require.Error(t, err)
	assert.NoError(t, store.Close())
}

func TestSQLiteStore_SaveGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	saved, err := store.Save(ctx, "before-edit", sampleExport())
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, 2, saved.LayerCount)

	got, err := store.Get(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "before-edit", got.Name)
	assert.Equal(t, saved.CreatedAt.Unix(), got.CreatedAt.Unix())
	assert.Equal(t, map[string]bool{"cells": true, "basemap-tiles": false}, got.Export.Visibility)

	require.Len(t, got.Export.Layers, 2)
	cells := got.Export.Layers[0]
	assert.Equal(t, "cells", cells.ID)
	assert.Equal(t, core.LayerHex, cells.Type())
	cont, ok := cells.Style.FillColor.(*color.Continuous)
	require.True(t, ok)
	assert.Equal(t, &[2]float64{0, 10}, cont.Domain)
	require.NotNil(t, cells.Style.Opacity)
	assert.InDelta(t, 0.4, *cells.Style.Opacity, 1e-9)

	tiles := got.Export.Layers[1]
	assert.Equal(t, core.LayerRaster, tiles.Type())
	assert.False(t, tiles.IsVisible())
}

func TestSQLiteStore_GetNotFound(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestSQLiteStore_ListNewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first, err := store.Save(ctx, "first", sampleExport())
	require.NoError(t, err)
	second, err := store.Save(ctx, "second", core.Export{})
	require.NoError(t, err)

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
	assert.Equal(t, 0, list[0].LayerCount)
	assert.Empty(t, list[1].Export.Layers, "list does not load payloads")
}

func TestSQLiteStore_Delete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	saved, err := store.Save(ctx, "tmp", sampleExport())
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, saved.ID))

	_, err = store.Get(ctx, saved.ID)
	require.ErrorIs(t, err, ErrSnapshotNotFound)
	require.ErrorIs(t, store.Delete(ctx, saved.ID), ErrSnapshotNotFound)
}

func TestDecodeExport(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		exp, err := DecodeExport([]byte(`{}`))
		require.NoError(t, err)
		assert.Empty(t, exp.Layers)
		assert.NotNil(t, exp.Visibility)
	})
	t.Run("malformed", func(t *testing.T) {
		_, err := DecodeExport([]byte(`{"layers":`))
		require.Error(t, err)
	})
	t.Run("unknown layer type", func(t *testing.T) {
		_, err := DecodeExport([]byte(`{"layers":[{"id":"a","layerType":"tin"}]}`))
		require.Error(t, err)
	})
}
