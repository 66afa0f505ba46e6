package sqlruntime

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapmap/internal/testutil"
	"github.com/leapstack-labs/leapmap/pkg/adapter"
	"github.com/leapstack-labs/leapmap/pkg/core"
)

// mockAdapter runs queries against sqlmock and records registrations.
type mockAdapter struct {
	adapter.BaseSQLAdapter
	mu         sync.Mutex
	registered map[string][]byte
	registers  atomic.Int32
	failWith   error
}

func newMockAdapter(t *testing.T) (*mockAdapter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &mockAdapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{DB: db},
		registered:     make(map[string][]byte),
	}, mock
}

func (m *mockAdapter) Connect(context.Context, core.AdapterConfig) error { return nil }

func (m *mockAdapter) GetTableMetadata(ctx context.Context, table string) (*core.TableMetadata, error) {
	return m.GetTableMetadataCommon(ctx, table)
}

func (m *mockAdapter) RegisterFileBuffer(_ context.Context, name string, data []byte) error {
	m.registers.Add(1)
	if m.failWith != nil {
		return m.failWith
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registered[name] = data
	return nil
}

func newRuntime(t *testing.T, a core.Adapter, fetcher Fetcher) *Runtime {
	t.Helper()
	rt, err := New(a, Options{Fetcher: fetcher, Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	return rt
}

func hexLayer(id string, src *core.HexSource) core.LayerConfig {
	return core.LayerConfig{ID: id, Source: src}
}

func TestNew_RequiresAdapter(t *testing.T) {
	_, err := New(nil, Options{})
	require.Error(t, err)
}

func TestEnsureTable_SourcePriority(t *testing.T) {
	fetched := map[string][]byte{
		"https://x/cells.parquet": []byte("PAR1remote"),
		"https://x/cells.json":    []byte(`{"hex":"8928308280fffff"}`),
	}
	fetcher := FetcherFunc(func(_ context.Context, url string) ([]byte, error) {
		return fetched[url], nil
	})

	tests := []struct {
		name string
		src  *core.HexSource
		want string
	}{
		{
			name: "parquet bytes win",
			src: &core.HexSource{
				ParquetData: []byte("PAR1inline"),
				ParquetURL:  "https://x/cells.parquet",
				Data:        []map[string]any{{"hex": "8928308280fffff"}},
			},
			want: "PAR1inline",
		},
		{
			name: "parquet url over rows",
			src: &core.HexSource{
				ParquetURL: "https://x/cells.parquet",
				Data:       []map[string]any{{"hex": "8928308280fffff"}},
			},
			want: "PAR1remote",
		},
		{
			name: "inline rows as json lines",
			src: &core.HexSource{
				Data:    []map[string]any{{"hex": "8928308280fffff"}},
				DataURL: "https://x/cells.json",
			},
			want: "{\"hex\":\"8928308280fffff\"}\n",
		},
		{
			name: "data url last",
			src:  &core.HexSource{DataURL: "https://x/cells.json"},
			want: `{"hex":"8928308280fffff"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newMockAdapter(t)
			rt := newRuntime(t, a, fetcher)

			table, err := rt.EnsureTable(context.Background(), hexLayer("h", tt.src))
			require.NoError(t, err)
			assert.Equal(t, "layer_h", table)
			assert.Equal(t, tt.want, string(a.registered[table]))
			assert.True(t, rt.Loaded("h"))
		})
	}
}

func TestEnsureTable_NoDataSource(t *testing.T) {
	a, _ := newMockAdapter(t)
	rt := newRuntime(t, a, nil)

	tests := []struct {
		name string
		cfg  core.LayerConfig
	}{
		{"hex with tiles only", hexLayer("h", &core.HexSource{TileURL: "https://t/{z}/{x}/{y}"})},
		{"vector layer", core.LayerConfig{ID: "v", Source: &core.VectorSource{DataURL: "https://x/v.geojson"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, IsTableBacked(tt.cfg))
			_, err := rt.EnsureTable(context.Background(), tt.cfg)
			require.ErrorIs(t, err, ErrNoDataSource)

			var dse *DataSourceError
			require.ErrorAs(t, err, &dse)
			assert.Equal(t, tt.cfg.ID, dse.LayerID)
		})
	}
}

func TestEnsureTable_FailuresAreDataSourceErrors(t *testing.T) {
	boom := errors.New("connection refused")
	a, _ := newMockAdapter(t)
	rt := newRuntime(t, a, FetcherFunc(func(context.Context, string) ([]byte, error) { return nil, boom }))

	_, err := rt.EnsureTable(context.Background(), hexLayer("h", &core.HexSource{ParquetURL: "https://x/h.parquet"}))
	var dse *DataSourceError
	require.ErrorAs(t, err, &dse)
	assert.Equal(t, "fetch", dse.Op)
	assert.ErrorIs(t, err, boom)
	assert.False(t, rt.Loaded("h"))

	a.failWith = errors.New("bad parquet")
	_, err = rt.EnsureTable(context.Background(), hexLayer("g", &core.HexSource{ParquetData: []byte("PAR1")}))
	require.ErrorAs(t, err, &dse)
	assert.Equal(t, "register", dse.Op)
}

func TestEnsureTable_ConcurrentCallersShareOneLoad(t *testing.T) {
	a, _ := newMockAdapter(t)
	release := make(chan struct{})
	var fetches atomic.Int32
	fetcher := FetcherFunc(func(context.Context, string) ([]byte, error) {
		fetches.Add(1)
		<-release
		return []byte("PAR1"), nil
	})
	rt := newRuntime(t, a, fetcher)
	cfg := hexLayer("h", &core.HexSource{ParquetURL: "https://x/h.parquet"})

	const callers = 8
	var wg sync.WaitGroup
	tables := make([]string, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tables[i], errs[i] = rt.EnsureTable(context.Background(), cfg)
		}()
	}
	// Let the first load start before releasing it.
	for fetches.Load() == 0 {
		runtime.Gosched()
	}
	close(release)
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, "layer_h", tables[i])
	}
	assert.Equal(t, int32(1), a.registers.Load())

	_, err := rt.EnsureTable(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, int32(1), a.registers.Load(), "later calls are no-ops")
}

func TestDrop_AllowsReload(t *testing.T) {
	a, mock := newMockAdapter(t)
	rt := newRuntime(t, a, nil)
	cfg := hexLayer("h", &core.HexSource{Data: []map[string]any{{"hex": "8928308280fffff"}}})
	ctx := context.Background()

	_, err := rt.EnsureTable(ctx, cfg)
	require.NoError(t, err)

	mock.ExpectExec(`DROP TABLE IF EXISTS "layer_h"`).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, rt.Drop(ctx, "h"))
	assert.False(t, rt.Loaded("h"))
	require.NoError(t, rt.Drop(ctx, "h"), "dropping twice is a no-op")

	_, err = rt.EnsureTable(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, int32(2), a.registers.Load())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDrop_AbandonsInFlightLoad(t *testing.T) {
	tests := []struct {
		name string
		// reloadWhileBlocked starts the new load before the old fetch
		// returns.
		reloadWhileBlocked bool
	}{
		{name: "reload after old load returns"},
		{name: "reload while old load is blocked", reloadWhileBlocked: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, mock := newMockAdapter(t)
			entered := make(chan struct{})
			release := make(chan struct{})
			var fetched sync.Map
			fetcher := FetcherFunc(func(_ context.Context, url string) ([]byte, error) {
				fetched.Store(url, true)
				if url == "https://x/old.json" {
					close(entered)
					<-release
					return []byte(`{"hex":"old"}`), nil
				}
				return []byte(`{"hex":"new"}`), nil
			})
			rt := newRuntime(t, a, fetcher)
			ctx := context.Background()

			oldErr := make(chan error, 1)
			go func() {
				_, err := rt.EnsureTable(ctx, hexLayer("a", &core.HexSource{DataURL: "https://x/old.json"}))
				oldErr <- err
			}()
			<-entered
			require.NoError(t, rt.Drop(ctx, "a"))

			newCfg := hexLayer("a", &core.HexSource{DataURL: "https://x/new.json"})
			if tt.reloadWhileBlocked {
				_, err := rt.EnsureTable(ctx, newCfg)
				require.NoError(t, err)
				close(release)
				require.ErrorIs(t, <-oldErr, ErrDropped)
			} else {
				close(release)
				require.ErrorIs(t, <-oldErr, ErrDropped)
				_, err := rt.EnsureTable(ctx, newCfg)
				require.NoError(t, err)
			}

			_, ok := fetched.Load("https://x/new.json")
			assert.True(t, ok, "the new source is fetched")
			assert.Equal(t, `{"hex":"new"}`, string(a.registered["layer_a"]))
			assert.Equal(t, int32(1), a.registers.Load(), "the abandoned load never registers")
			assert.True(t, rt.Loaded("a"))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGetMinMax_CachesAndHandlesNulls(t *testing.T) {
	a, mock := newMockAdapter(t)
	rt := newRuntime(t, a, nil)
	cfg := hexLayer("h", &core.HexSource{Data: []map[string]any{{"hex": "8928308280fffff", "pct": 1.0}}})
	ctx := context.Background()

	mock.ExpectQuery(`SELECT CAST\(MIN\("pct"\) AS DOUBLE\), CAST\(MAX\("pct"\) AS DOUBLE\) FROM "layer_h"`).
		WillReturnRows(sqlmock.NewRows([]string{"min", "max"}).AddRow(2.5, 97.0))
	mock.ExpectQuery(`MIN\("missing"\)`).
		WillReturnRows(sqlmock.NewRows([]string{"min", "max"}).AddRow(nil, nil))

	bounds, err := rt.GetMinMax(ctx, cfg, "pct")
	require.NoError(t, err)
	require.NotNil(t, bounds)
	assert.Equal(t, [2]float64{2.5, 97}, *bounds)

	again, err := rt.GetMinMax(ctx, cfg, "pct")
	require.NoError(t, err)
	assert.Equal(t, bounds, again, "second call is served from cache")

	none, err := rt.GetMinMax(ctx, cfg, "missing")
	require.NoError(t, err)
	assert.Nil(t, none)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTickets_LastWriterWins(t *testing.T) {
	a, _ := newMockAdapter(t)
	rt := newRuntime(t, a, nil)

	first := rt.Issue("h", "pct > 10")
	second := rt.Issue("h", "pct > 50")
	other := rt.Issue("g", "pct > 10")

	assert.False(t, rt.IsLatest(first))
	assert.True(t, rt.IsLatest(second))
	assert.True(t, rt.IsLatest(other))

	assert.True(t, rt.Accepts(&Result{LayerID: "h", SQL: "SELECT * FROM data WHERE (pct > 50)"}))
	assert.False(t, rt.Accepts(&Result{LayerID: "h", SQL: "SELECT * FROM data WHERE (pct > 10)"}))
	assert.False(t, rt.Accepts(nil))
}
