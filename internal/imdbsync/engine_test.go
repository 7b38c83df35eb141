package imdbsync

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deadonfilm/enrichment-cli/internal/db"
	"github.com/deadonfilm/enrichment-cli/internal/fetcher"
)

// fakeFetcher serves canned payloads by URL.
type fakeFetcher struct {
	payloads map[string][]byte
	etags    map[string]string
	headErr  error
}

var _ fetcher.Fetcher = (*fakeFetcher)(nil)

func (f *fakeFetcher) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	b, ok := f.payloads[url]
	if !ok {
		return nil, errors.New("no payload for " + url)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *fakeFetcher) DownloadToFile(ctx context.Context, url string, path string) (int64, error) {
	b, ok := f.payloads[url]
	if !ok {
		return 0, errors.New("no payload for " + url)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return 0, err
	}
	return int64(len(b)), nil
}

func (f *fakeFetcher) HeadETag(ctx context.Context, url string) (string, error) {
	if f.headErr != nil {
		return "", f.headErr
	}
	return f.etags[url], nil
}

// mockDataset implements Dataset for engine tests.
type mockDataset struct {
	name    string
	url     string
	deps    []string
	syncErr error
	rows    int64
	synced  bool
}

func (m *mockDataset) Name() string        { return m.name }
func (m *mockDataset) Table() string       { return m.name }
func (m *mockDataset) SourceURL() string   { return m.url }
func (m *mockDataset) DependsOn() []string { return m.deps }
func (m *mockDataset) Sync(ctx context.Context, pool db.Pool, f fetcher.Fetcher, tempDir string) (*SyncResult, error) {
	m.synced = true
	if m.syncErr != nil {
		return nil, m.syncErr
	}
	return &SyncResult{RowsSynced: m.rows}, nil
}

func newMockSyncLog(t *testing.T) (pgxmock.PgxPoolIface, *SyncLog) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return mock, NewSyncLog(mock)
}

func TestRegistry_DefaultOrder(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{"namebasics", "titlebasics", "principals"}, r.AllNames())
}

func TestRegistry_SelectKeepsDependencyOrder(t *testing.T) {
	r := NewRegistry()

	result, err := r.Select([]string{"principals", "namebasics"})
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, "namebasics", result[0].Name())
	assert.Equal(t, "principals", result[1].Name())
}

func TestRegistry_SelectUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Select([]string{"nonexistent"})
	assert.Error(t, err)
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()

	d, err := r.Get("titlebasics")
	require.NoError(t, err)
	assert.Equal(t, "movies", d.Table())

	_, err = r.Get("nonexistent")
	assert.Error(t, err)
}

func TestEngine_Run_Success(t *testing.T) {
	mock, syncLog := newMockSyncLog(t)
	mock.MatchExpectationsInOrder(false)

	ds := &mockDataset{name: "test_ds", url: "https://example.test/test.tsv.gz", rows: 100}
	reg := &Registry{datasets: map[string]Dataset{"test_ds": ds}, order: []string{"test_ds"}}
	f := &fakeFetcher{etags: map[string]string{ds.url: `"e1"`}}

	// never synced before
	mock.ExpectQuery("SELECT etag FROM sync_log").
		WithArgs("test_ds").
		WillReturnError(pgx.ErrNoRows)

	mock.ExpectQuery("INSERT INTO sync_log").
		WithArgs("test_ds").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))

	mock.ExpectExec("UPDATE sync_log").
		WithArgs(int64(100), `"e1"`, int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	engine := NewEngine(mock, f, syncLog, reg, t.TempDir())
	err := engine.Run(context.Background(), RunOpts{})
	assert.NoError(t, err)
	assert.True(t, ds.synced)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_Run_SkipsUnchangedUpstream(t *testing.T) {
	mock, syncLog := newMockSyncLog(t)
	mock.MatchExpectationsInOrder(false)

	ds := &mockDataset{name: "test_ds", url: "https://example.test/test.tsv.gz", rows: 100}
	reg := &Registry{datasets: map[string]Dataset{"test_ds": ds}, order: []string{"test_ds"}}
	f := &fakeFetcher{etags: map[string]string{ds.url: `"e1"`}}

	prev := `"e1"`
	mock.ExpectQuery("SELECT etag FROM sync_log").
		WithArgs("test_ds").
		WillReturnRows(pgxmock.NewRows([]string{"etag"}).AddRow(&prev))

	engine := NewEngine(mock, f, syncLog, reg, t.TempDir())
	err := engine.Run(context.Background(), RunOpts{})
	assert.NoError(t, err)
	assert.False(t, ds.synced)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_Run_ForceIgnoresETag(t *testing.T) {
	mock, syncLog := newMockSyncLog(t)
	mock.MatchExpectationsInOrder(false)

	ds := &mockDataset{name: "test_ds", url: "https://example.test/test.tsv.gz", rows: 50}
	reg := &Registry{datasets: map[string]Dataset{"test_ds": ds}, order: []string{"test_ds"}}
	f := &fakeFetcher{etags: map[string]string{ds.url: `"e1"`}}

	// Force goes straight to Start; the probed etag is still recorded.
	mock.ExpectQuery("INSERT INTO sync_log").
		WithArgs("test_ds").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(2)))

	mock.ExpectExec("UPDATE sync_log").
		WithArgs(int64(50), `"e1"`, int64(2)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	engine := NewEngine(mock, f, syncLog, reg, t.TempDir())
	err := engine.Run(context.Background(), RunOpts{Force: true})
	assert.NoError(t, err)
	assert.True(t, ds.synced)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_Run_SyncFailure(t *testing.T) {
	mock, syncLog := newMockSyncLog(t)
	mock.MatchExpectationsInOrder(false)

	ds := &mockDataset{name: "test_ds", url: "https://example.test/test.tsv.gz", syncErr: errors.New("download failed")}
	reg := &Registry{datasets: map[string]Dataset{"test_ds": ds}, order: []string{"test_ds"}}
	f := &fakeFetcher{}

	mock.ExpectQuery("INSERT INTO sync_log").
		WithArgs("test_ds").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(3)))

	mock.ExpectExec("UPDATE sync_log").
		WithArgs("download failed", int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	engine := NewEngine(mock, f, syncLog, reg, t.TempDir())
	err := engine.Run(context.Background(), RunOpts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 datasets failed")
	assert.True(t, ds.synced)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_Run_SkipsDependentsOfFailedDataset(t *testing.T) {
	mock, syncLog := newMockSyncLog(t)
	mock.MatchExpectationsInOrder(false)

	ds1 := &mockDataset{name: "ds1", url: "https://example.test/a.tsv.gz", syncErr: errors.New("boom")}
	ds2 := &mockDataset{name: "ds2", url: "https://example.test/b.tsv.gz", deps: []string{"ds1"}}
	reg := &Registry{
		datasets: map[string]Dataset{"ds1": ds1, "ds2": ds2},
		order:    []string{"ds1", "ds2"},
	}
	f := &fakeFetcher{}

	mock.ExpectQuery("INSERT INTO sync_log").
		WithArgs("ds1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))

	mock.ExpectExec("UPDATE sync_log").
		WithArgs("boom", int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	engine := NewEngine(mock, f, syncLog, reg, t.TempDir())
	err := engine.Run(context.Background(), RunOpts{})
	require.Error(t, err)
	assert.True(t, ds1.synced)
	assert.False(t, ds2.synced)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_Run_WarnsOnUnsyncedDependency(t *testing.T) {
	mock, syncLog := newMockSyncLog(t)
	mock.MatchExpectationsInOrder(false)

	// principals-style dataset runs alone; its dependency has never synced.
	ds := &mockDataset{name: "ds2", url: "https://example.test/b.tsv.gz", deps: []string{"ds1"}, rows: 5}
	reg := &Registry{datasets: map[string]Dataset{"ds2": ds}, order: []string{"ds2"}}
	f := &fakeFetcher{}

	mock.ExpectQuery("SELECT started_at FROM sync_log").
		WithArgs("ds1").
		WillReturnError(pgx.ErrNoRows)

	mock.ExpectQuery("INSERT INTO sync_log").
		WithArgs("ds2").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(9)))

	mock.ExpectExec("UPDATE sync_log").
		WithArgs(int64(5), "", int64(9)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	engine := NewEngine(mock, f, syncLog, reg, t.TempDir())
	err := engine.Run(context.Background(), RunOpts{Datasets: []string{"ds2"}})
	assert.NoError(t, err)
	assert.True(t, ds.synced)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_Run_ContextCancellation(t *testing.T) {
	mock, syncLog := newMockSyncLog(t)

	ds := &mockDataset{name: "test_ds", url: "https://example.test/test.tsv.gz"}
	reg := &Registry{datasets: map[string]Dataset{"test_ds": ds}, order: []string{"test_ds"}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := NewEngine(mock, &fakeFetcher{}, syncLog, reg, t.TempDir())
	err := engine.Run(ctx, RunOpts{Force: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ds.synced)
}

func TestEngine_Run_UnknownDataset(t *testing.T) {
	mock, syncLog := newMockSyncLog(t)

	engine := NewEngine(mock, &fakeFetcher{}, syncLog, NewRegistry(), t.TempDir())
	err := engine.Run(context.Background(), RunOpts{Datasets: []string{"nonexistent"}})
	assert.Error(t, err)
}

func TestEngine_Run_NoDatasets(t *testing.T) {
	mock, syncLog := newMockSyncLog(t)

	reg := &Registry{datasets: make(map[string]Dataset)}
	engine := NewEngine(mock, &fakeFetcher{}, syncLog, reg, t.TempDir())
	err := engine.Run(context.Background(), RunOpts{})
	assert.NoError(t, err)
}
