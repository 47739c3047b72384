package usecase_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/querypanda/internal/adapter/checkpoint"
	"github.com/fairyhunter13/querypanda/internal/adapter/fileio"
	"github.com/fairyhunter13/querypanda/internal/domain"
	"github.com/fairyhunter13/querypanda/internal/domain/mocks"
	"github.com/fairyhunter13/querypanda/internal/frame"
	"github.com/fairyhunter13/querypanda/internal/usecase"
)

const eventsTemplate = "SELECT * FROM events WHERE ts >= '{start}' AND ts < '{end}'"

func day(d, h int) time.Time { return time.Date(2024, 1, d, h, 0, 0, 0, time.UTC) }

// windowQuerier answers each window with one row naming the window start,
// except for the starts listed in empty or failing.
type windowQuerier struct {
	mu      sync.Mutex
	empty   map[time.Time]bool
	failing map[time.Time]bool
	starts  []time.Time
	sql     string
}

func (q *windowQuerier) Fetch(_ context.Context, sql string, args ...any) (dataframe.DataFrame, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sql = sql
	start := args[0].(time.Time)
	q.starts = append(q.starts, start)
	if q.failing[start] {
		return dataframe.DataFrame{}, domain.ErrUnavailable
	}
	if q.empty[start] {
		return frame.FromColumns([]string{"ts", "n"}, []series.Type{series.String, series.Int}, [][]string{{}, {}})
	}
	return frame.FromColumns([]string{"ts", "n"}, []series.Type{series.String, series.Int},
		[][]string{{start.Format("2006-01-02 15:04")}, {"1"}})
}

func fileStores(saveLocation string) domain.CheckpointStore { return checkpoint.NewFileStore(saveLocation) }

func baseRequest(dir string) usecase.RetrieveRequest {
	return usecase.RetrieveRequest{
		Query:          eventsTemplate,
		Start:          day(1, 0),
		End:            day(2, 12),
		FetchFrequency: 6 * time.Hour,
		Aggregation:    domain.AggregateDaily,
		Format:         domain.FormatCSV,
		SaveLocation:   dir,
	}
}

func loadCheckpoint(t *testing.T, dir string) domain.Checkpoint {
	t.Helper()
	cp, ok, err := checkpoint.NewFileStore(dir).Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	return cp
}

func TestRetrieve_FreshRun(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	q := &windowQuerier{empty: map[time.Time]bool{day(1, 6): true}}
	svc := usecase.NewRetrievalService(q, fileStores, nil, nil, time.Minute)

	res, err := svc.Retrieve(context.Background(), baseRequest(dir))
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM events WHERE ts >= $1 AND ts < $2", q.sql)
	assert.Equal(t, []time.Time{day(1, 0), day(1, 6), day(1, 12), day(1, 18), day(2, 0), day(2, 6)}, q.starts)
	assert.Equal(t, 6, res.Windows)
	assert.Equal(t, 1, res.EmptyWindows)
	assert.Equal(t, 5, res.Rows)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, []string{
		filepath.Join(dir, "data_2024_01_01.csv"),
		filepath.Join(dir, "data_2024_01_02.csv"),
	}, res.Files)

	df, err := fileio.ReadFile(filepath.Join(dir, "data_2024_01_01.csv"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-01 00:00", "2024-01-01 12:00", "2024-01-01 18:00"}, frame.Cells(df.Col("ts")))

	cp := loadCheckpoint(t, dir)
	assert.True(t, cp.Complete)
	assert.True(t, cp.LastProcessed.Equal(day(2, 12)))
}

func TestRetrieve_WeeklyAndMonthlyFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	req := baseRequest(dir)
	req.Start, req.End = day(1, 0), day(15, 0)
	req.FetchFrequency = 24 * time.Hour
	req.Aggregation = domain.AggregateWeekly
	req.Format = domain.FormatJSONL

	res, err := usecase.NewRetrievalService(&windowQuerier{}, fileStores, nil, nil, 0).Retrieve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "data_2024_week1.jsonl"),
		filepath.Join(dir, "data_2024_week2.jsonl"),
	}, res.Files)

	df, err := fileio.LoadDataset(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 14, df.Nrow())
}

func TestRetrieve_ContinueFromCompleteCheckpoint(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, checkpoint.NewFileStore(dir).Save(context.Background(), domain.Checkpoint{LastProcessed: day(2, 0), Complete: true}))

	p := &mocks.MockPrompter{}
	p.On("Decide", mock.Anything, mock.MatchedBy(func(cp domain.Checkpoint) bool { return cp.Complete })).Return(domain.DecisionContinue, nil)
	q := &windowQuerier{}

	res, err := usecase.NewRetrievalService(q, fileStores, p, nil, 0).Retrieve(context.Background(), baseRequest(dir))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{day(2, 0), day(2, 6)}, q.starts)
	assert.True(t, res.From.Equal(day(2, 0)))
	assert.Equal(t, domain.DecisionContinue, res.Decision)
	_, err = os.Stat(filepath.Join(dir, "data_2024_01_01.csv"))
	assert.True(t, os.IsNotExist(err))
	p.AssertExpectations(t)
}

func TestRetrieve_RedoesPartialPeriod(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// a run that stopped while writing the first day, or ended mid-day
	for _, cp := range []domain.Checkpoint{
		{LastProcessed: day(1, 0), Complete: false},
		{LastProcessed: day(1, 12), Complete: true},
	} {
		require.NoError(t, checkpoint.NewFileStore(dir).Save(context.Background(), cp))
		q := &windowQuerier{}
		_, err := usecase.NewRetrievalService(q, fileStores, nil, nil, 0).Retrieve(context.Background(), baseRequest(dir))
		require.NoError(t, err)
		require.NotEmpty(t, q.starts)
		assert.Equal(t, day(1, 0), q.starts[0])
	}
}

func TestRetrieve_ResumeNeverBeforeRequestedStart(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, checkpoint.NewFileStore(dir).Save(context.Background(), domain.Checkpoint{LastProcessed: day(1, 9), Complete: false}))
	req := baseRequest(dir)
	req.Start = day(1, 6)
	q := &windowQuerier{}
	_, err := usecase.NewRetrievalService(q, fileStores, nil, nil, 0).Retrieve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, day(1, 6), q.starts[0])
}

func TestRetrieve_CheckpointPastEndIsKept(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, checkpoint.NewFileStore(dir).Save(context.Background(), domain.Checkpoint{LastProcessed: day(5, 0), Complete: true}))
	q := &windowQuerier{}

	res, err := usecase.NewRetrievalService(q, fileStores, nil, nil, 0).Retrieve(context.Background(), baseRequest(dir))
	require.NoError(t, err)
	assert.Empty(t, q.starts)
	assert.Zero(t, res.Windows)

	cp := loadCheckpoint(t, dir)
	assert.True(t, cp.Complete)
	assert.True(t, cp.LastProcessed.Equal(day(5, 0)))
}

func TestRetrieve_Overwrite(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	stale := filepath.Join(dir, "data_2023_12_31.csv")
	require.NoError(t, os.WriteFile(stale, []byte("ts,n\nold,1\n"), 0o644))
	require.NoError(t, checkpoint.NewFileStore(dir).Save(context.Background(), domain.Checkpoint{LastProcessed: day(2, 0), Complete: true}))

	p := &mocks.MockPrompter{}
	p.On("Decide", mock.Anything, mock.Anything).Return(domain.DecisionOverwrite, nil)
	q := &windowQuerier{}
	res, err := usecase.NewRetrievalService(q, fileStores, p, nil, 0).Retrieve(context.Background(), baseRequest(dir))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionOverwrite, res.Decision)
	assert.Equal(t, day(1, 0), q.starts[0])
	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}

func TestRetrieve_Exit(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	want := domain.Checkpoint{LastProcessed: day(1, 18), Complete: true}
	require.NoError(t, checkpoint.NewFileStore(dir).Save(context.Background(), want))

	p := &mocks.MockPrompter{}
	p.On("Decide", mock.Anything, mock.Anything).Return(domain.DecisionExit, nil)
	q := &mocks.MockQuerier{}
	res, err := usecase.NewRetrievalService(q, fileStores, p, nil, 0).Retrieve(context.Background(), baseRequest(dir))
	require.NoError(t, err)
	assert.True(t, res.Exited)
	q.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything, mock.Anything)
	assert.True(t, loadCheckpoint(t, dir).LastProcessed.Equal(want.LastProcessed))
}

func TestRetrieve_FetchErrorKeepsLastCompletedPeriod(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	q := &windowQuerier{failing: map[time.Time]bool{day(2, 6): true}}
	res, err := usecase.NewRetrievalService(q, fileStores, nil, nil, 0).Retrieve(context.Background(), baseRequest(dir))
	require.ErrorIs(t, err, domain.ErrUnavailable)
	assert.Equal(t, []string{filepath.Join(dir, "data_2024_01_01.csv")}, res.Files)

	cp := loadCheckpoint(t, dir)
	assert.True(t, cp.Complete)
	assert.True(t, cp.LastProcessed.Equal(day(2, 0)))
}

func TestRetrieve_MarksPeriodIncompleteWhileWriting(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store := &mocks.MockCheckpointStore{}
	store.On("Load", mock.Anything).Return(domain.Checkpoint{}, false, nil)
	var saved []domain.Checkpoint
	store.On("Save", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		saved = append(saved, args.Get(1).(domain.Checkpoint))
	}).Return(nil)

	req := baseRequest(dir)
	req.End = day(2, 0)
	_, err := usecase.NewRetrievalService(&windowQuerier{}, func(string) domain.CheckpointStore { return store }, nil, nil, 0).
		Retrieve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []domain.Checkpoint{
		{LastProcessed: day(1, 0), Complete: false},
		{LastProcessed: day(2, 0), Complete: true},
		{LastProcessed: day(2, 0), Complete: true},
	}, saved)
}

func TestRetrieve_Uploads(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	up := &mocks.MockUploader{}
	up.On("Upload", mock.Anything, filepath.Join(dir, "data_2024_01_01.parquet")).Return("s3://b/data_2024_01_01.parquet", nil)
	up.On("Upload", mock.Anything, filepath.Join(dir, "data_2024_01_02.parquet")).Return("s3://b/data_2024_01_02.parquet", nil)

	req := baseRequest(dir)
	req.Format = domain.FormatParquet
	req.Upload = true
	res, err := usecase.NewRetrievalService(&windowQuerier{}, fileStores, nil, up, 0).Retrieve(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, res.URLs, 2)
	up.AssertExpectations(t)

	up = &mocks.MockUploader{}
	up.On("Upload", mock.Anything, mock.Anything).Return("", errors.New("denied"))
	_, err = usecase.NewRetrievalService(&windowQuerier{}, fileStores, nil, up, 0).Retrieve(context.Background(), baseRequest(t.TempDir()))
	require.NoError(t, err, "upload is only attempted when requested")
}

func TestRetrieve_Validation(t *testing.T) {
	t.Parallel()
	svc := usecase.NewRetrievalService(&windowQuerier{}, fileStores, nil, nil, 0)
	dir := t.TempDir()
	tests := map[string]func(r *usecase.RetrieveRequest){
		"no query":        func(r *usecase.RetrieveRequest) { r.Query = "" },
		"end before":      func(r *usecase.RetrieveRequest) { r.End = r.Start },
		"zero frequency":  func(r *usecase.RetrieveRequest) { r.FetchFrequency = 0 },
		"bad aggregation": func(r *usecase.RetrieveRequest) { r.Aggregation = "hourly" },
		"bad format":      func(r *usecase.RetrieveRequest) { r.Format = "pkl" },
		"no location":     func(r *usecase.RetrieveRequest) { r.SaveLocation = "" },
		"upload disabled": func(r *usecase.RetrieveRequest) { r.Upload = true },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			req := baseRequest(dir)
			mutate(&req)
			_, err := svc.Retrieve(context.Background(), req)
			require.ErrorIs(t, err, domain.ErrInvalidArgument)
		})
	}
}

func TestRenderTemplate(t *testing.T) {
	t.Parallel()
	sql, names := usecase.RenderTemplate(`SELECT * FROM t WHERE ts < "{end}" AND ts >= {start} AND {end} > now() - interval '1 day'`)
	assert.Equal(t, `SELECT * FROM t WHERE ts < $1 AND ts >= $2 AND $1 > now() - interval '1 day'`, sql)
	assert.Equal(t, []string{"end", "start"}, names)

	sql, names = usecase.RenderTemplate("SELECT 1")
	assert.Equal(t, "SELECT 1", sql)
	assert.Empty(t, names)
}

func TestPlanWindows(t *testing.T) {
	t.Parallel()
	ws := usecase.PlanWindows(day(1, 0), day(1, 10), 4*time.Hour)
	assert.Equal(t, []usecase.Window{
		{Start: day(1, 0), End: day(1, 4)},
		{Start: day(1, 4), End: day(1, 8)},
		{Start: day(1, 8), End: day(1, 10)},
	}, ws)
	assert.Empty(t, usecase.PlanWindows(day(1, 0), day(1, 0), time.Hour))
	assert.Empty(t, usecase.PlanWindows(day(1, 0), day(1, 5), 0))
}
