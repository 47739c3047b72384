package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/querypanda/internal/adapter/checkpoint"
	"github.com/fairyhunter13/querypanda/internal/adapter/prompt"
	"github.com/fairyhunter13/querypanda/internal/config"
	"github.com/fairyhunter13/querypanda/internal/domain"
)

// run executes the CLI with file checkpoints and no tracing.
func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("CHECKPOINT_BACKEND", "file")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("APP_ENV", "test")
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&errOut)
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestVersionCmd(t *testing.T) {
	out, _, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "querypanda "+config.Version+"\n", out)
}

func TestLoadCmd_Stdout(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "data_2024_01_01.csv"), "region,amount\neast,1\nwest,2\n")
	writeFile(t, filepath.Join(dir, "data_2024_01_02.csv"), "region,amount\neast,3\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "not a table")

	out, _, err := run(t, "", "load", dir, "--group-by", "region", "--agg", "amount:sum")
	require.NoError(t, err)
	assert.Equal(t, "region,amount_sum\neast,4\nwest,2\n", out)
}

func TestLoadCmd_ToFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "data_2024_01_01.csv"), "a,b\n1,x\n")
	dst := filepath.Join(t.TempDir(), "combined.jsonl")

	_, errOut, err := run(t, "", "load", dir, "--out", dst)
	require.NoError(t, err)
	assert.Contains(t, errOut, "wrote 1 rows")
	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":1,\"b\":\"x\"}\n", string(b))
}

func TestLoadCmd_Errors(t *testing.T) {
	_, _, err := run(t, "", "load", filepath.Join(t.TempDir(), "missing"))
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = run(t, "", "load", t.TempDir(), "--agg", "amount")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Equal(t, 2, exitCode(err))
}

func TestStatusAndClearCmd(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "data_2024_01_01.csv"), "a\n1\n")
	writeFile(t, filepath.Join(dir, "keep.csv"), "a\n1\n")
	cp := domain.Checkpoint{LastProcessed: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Complete: true}
	require.NoError(t, checkpoint.NewFileStore(dir).Save(context.Background(), cp))

	out, _, err := run(t, "", "status", "--save-location", dir, "--format", "csv")
	require.NoError(t, err)
	assert.Contains(t, out, `"has_checkpoint": true`)
	assert.Contains(t, out, `"data_files": 1`)
	assert.Contains(t, out, `"latest_period": "2024-01-01T00:00:00Z"`)

	out, _, err = run(t, "", "clear", "--save-location", dir, "--format", "csv")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 1 data files")
	_, err = os.Stat(filepath.Join(dir, "keep.csv"))
	require.NoError(t, err)
	_, ok, err := checkpoint.NewFileStore(dir).Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueryCmd_StatementErrors(t *testing.T) {
	_, _, err := run(t, "", "query")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, _, err = run(t, "", "query", "SELECT 1", "--sql", "SELECT 2")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestRetrieveCmd_InvalidArguments(t *testing.T) {
	_, _, err := run(t, "", "retrieve", "--query", "SELECT 1", "--start", "2024-01-01")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, _, err = run(t, "", "retrieve", "--job", filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, _, err = run(t, "", "retrieve", "--query", "q", "--start", "2024-01-01", "--end", "2024-01-02", "--on-checkpoint", "maybe")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestStatement(t *testing.T) {
	sqlFile := filepath.Join(t.TempDir(), "q.sql")
	writeFile(t, sqlFile, "  SELECT 3\n")

	got, err := statement("SELECT 1", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", got)

	got, err = statement("", "", []string{"SELECT 2"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT 2", got)

	got, err = statement("", sqlFile, nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 3", got)

	_, err = statement("", filepath.Join(t.TempDir(), "nope.sql"), nil)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestOverrideJob(t *testing.T) {
	base := config.RetrievalJob{Query: "q", Start: "2024-01-01", End: "2024-02-01", SaveLocation: "out"}
	got := overrideJob(base, config.RetrievalJob{End: "2024-01-15", FileFormat: "xlsx"})
	assert.Equal(t, "q", got.Query)
	assert.Equal(t, "2024-01-15", got.End)
	assert.Equal(t, "out", got.SaveLocation)
	assert.Equal(t, "xlsx", got.FileFormat)
}

func TestBuildRetrieveRequest(t *testing.T) {
	job := config.RetrievalJob{
		Query: "SELECT * FROM t WHERE ts >= '{start}' AND ts < '{end}'",
		Start: "2024-01-01", End: "2024-01-03 12:00:00",
		FetchFrequency: "6H", AggregationFrequency: "weekly",
		SaveLocation: "out", FileFormat: "xls",
	}
	req, err := buildRetrieveRequest(job)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), req.Start)
	assert.Equal(t, time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC), req.End)
	assert.Equal(t, 6*time.Hour, req.FetchFrequency)
	assert.Equal(t, domain.AggregateWeekly, req.Aggregation)
	assert.Equal(t, domain.FormatXLSX, req.Format)

	_, err = buildRetrieveRequest(config.RetrievalJob{FetchFrequency: "1h", AggregationFrequency: "hourly", FileFormat: "csv"})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "query required")
	assert.Contains(t, err.Error(), "start and end required")
}

func TestPrompter(t *testing.T) {
	root := newRootCmd()
	p, err := prompter(root, "prompt")
	require.NoError(t, err)
	assert.IsType(t, prompt.Terminal{}, p)

	p, err = prompter(root, "Overwrite")
	require.NoError(t, err)
	assert.Equal(t, prompt.Fixed(domain.DecisionOverwrite), p)

	_, err = prompter(root, "later")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 2, exitCode(domain.ErrUnsupportedFormat))
	assert.Equal(t, 130, exitCode(context.Canceled))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
}
