package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/oklog/ulid/v2"

	"github.com/fairyhunter13/querypanda/internal/adapter/fileio"
	obsmetrics "github.com/fairyhunter13/querypanda/internal/adapter/observability"
	"github.com/fairyhunter13/querypanda/internal/domain"
	"github.com/fairyhunter13/querypanda/internal/frame"
	"github.com/fairyhunter13/querypanda/internal/observability"
)

// CheckpointStoreFactory returns the checkpoint store of a save location.
type CheckpointStoreFactory func(saveLocation string) domain.CheckpointStore

// RetrievalService pulls a time range out of the database window by window
// and writes one file per aggregation period, checkpointing as it goes.
type RetrievalService struct {
	Querier     domain.Querier
	Checkpoints CheckpointStoreFactory
	Prompter    domain.Prompter
	Uploader    domain.Uploader
	// WindowTimeout bounds each window's statement; zero means no limit.
	WindowTimeout time.Duration
}

// NewRetrievalService constructs a RetrievalService. p and up may be nil: a
// nil prompter continues from any checkpoint and a nil uploader disables uploads.
func NewRetrievalService(q domain.Querier, cps CheckpointStoreFactory, p domain.Prompter, up domain.Uploader, windowTimeout time.Duration) RetrievalService {
	return RetrievalService{Querier: q, Checkpoints: cps, Prompter: p, Uploader: up, WindowTimeout: windowTimeout}
}

// RetrieveRequest describes one retrieval run.
type RetrieveRequest struct {
	// Query is a template whose {start} and {end} placeholders are bound to
	// each window's bounds.
	Query          string
	Start          time.Time
	End            time.Time
	FetchFrequency time.Duration
	Aggregation    domain.Aggregation
	Format         domain.Format
	SaveLocation   string
	Upload         bool
}

// RetrieveResult summarizes a run.
type RetrieveResult struct {
	RunID        string
	From         time.Time
	To           time.Time
	Decision     domain.Decision
	Windows      int
	EmptyWindows int
	Rows         int
	Files        []string
	URLs         []string
	// Exited is set when the caller chose to stop at an existing checkpoint.
	Exited bool
}

func (r RetrieveRequest) validate() error {
	var problems []string
	if strings.TrimSpace(r.Query) == "" {
		problems = append(problems, "query required")
	}
	if r.Start.IsZero() || r.End.IsZero() {
		problems = append(problems, "start and end required")
	} else if !r.End.After(r.Start) {
		problems = append(problems, "end must be after start")
	}
	if r.FetchFrequency <= 0 {
		problems = append(problems, "fetch frequency must be positive")
	}
	if _, err := domain.ParseAggregation(string(r.Aggregation)); err != nil {
		problems = append(problems, fmt.Sprintf("unsupported aggregation frequency %q", r.Aggregation))
	}
	if _, err := domain.ParseFormat(string(r.Format)); err != nil {
		problems = append(problems, fmt.Sprintf("unsupported file format %q", r.Format))
	}
	if strings.TrimSpace(r.SaveLocation) == "" {
		problems = append(problems, "save location required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, strings.Join(problems, "; "))
	}
	return nil
}

// Window is one fetch interval, half open: [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// PlanWindows splits [start, end) into steps of freq; the last window is
// clipped to end.
func PlanWindows(start, end time.Time, freq time.Duration) []Window {
	if freq <= 0 || !end.After(start) {
		return nil
	}
	var out []Window
	for t := start; t.Before(end); t = t.Add(freq) {
		we := t.Add(freq)
		if we.After(end) {
			we = end
		}
		out = append(out, Window{Start: t, End: we})
	}
	return out
}

var placeholder = regexp.MustCompile(`'\{(start|end)\}'|"\{(start|end)\}"|\{(start|end)\}`)

// RenderTemplate rewrites the {start} and {end} placeholders of a query
// template, quoted or not, into positional parameters numbered by first
// appearance. It returns the SQL and the placeholder name behind each parameter.
func RenderTemplate(tmpl string) (string, []string) {
	index := map[string]int{}
	var names []string
	sql := placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := strings.Trim(m, `'"{}`)
		i, ok := index[name]
		if !ok {
			names = append(names, name)
			i = len(names)
			index[name] = i
		}
		return fmt.Sprintf("$%d", i)
	})
	return sql, names
}

func bindWindow(names []string, w Window) []any {
	args := make([]any, len(names))
	for i, n := range names {
		if n == "start" {
			args[i] = w.Start
		} else {
			args[i] = w.End
		}
	}
	return args
}

// Retrieve runs the retrieval described by req.
//
// An existing checkpoint is offered to the prompter. Continue resumes at the
// start of the period holding the checkpoint (never before req.Start), so a
// partially written period is fetched again as a whole. Overwrite deletes the
// data files and the checkpoint and starts at req.Start. Exit stops without
// fetching.
//
// Windows belonging to one aggregation period are buffered and written to
// that period's file together. Before the file is written the checkpoint is
// marked incomplete at the period's first window; afterwards it is marked
// complete at the period's last window end. A fetch error stops the run and
// leaves the checkpoint at the last finished period. A run ends with the
// checkpoint complete at End, unless the loaded one was already later.
func (s RetrievalService) Retrieve(ctx domain.Context, req RetrieveRequest) (RetrieveResult, error) {
	if err := req.validate(); err != nil {
		return RetrieveResult{}, err
	}
	if req.Upload && s.Uploader == nil {
		return RetrieveResult{}, fmt.Errorf("%w: object storage is not configured", domain.ErrInvalidArgument)
	}
	res := RetrieveResult{RunID: ulid.Make().String(), Decision: domain.DecisionContinue, To: req.End}
	ctx = observability.WithCorrelation(ctx, "run_id", res.RunID)
	lg := observability.LoggerFromContext(ctx)

	if err := fileio.EnsureDir(req.SaveLocation); err != nil {
		return res, err
	}
	store := s.Checkpoints(req.SaveLocation)

	from, decision, prev, err := s.resumePoint(ctx, store, req)
	if err != nil {
		return res, err
	}
	res.Decision = decision
	if decision == domain.DecisionExit {
		lg.Info("exiting at existing checkpoint")
		res.Exited = true
		return res, nil
	}
	res.From = from

	sql, names := RenderTemplate(req.Query)
	p := periodWriter{svc: s, req: req, store: store, res: &res}
	for _, w := range PlanWindows(from, req.End, req.FetchFrequency) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		period := req.Aggregation.PeriodStart(w.Start)
		if p.open && !period.Equal(p.period) {
			if err := p.flush(ctx); err != nil {
				return res, err
			}
		}
		if !p.open {
			p.begin(period, w.Start)
		}

		df, err := s.fetchWindow(ctx, sql, names, w)
		obsmetrics.ObserveWindow(err)
		if err != nil {
			lg.Error("window fetch failed",
				slog.Time("window_start", w.Start),
				slog.Time("window_end", w.End),
				slog.Any("error", err))
			return res, fmt.Errorf("op=retrieve.window %s..%s: %w", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339), err)
		}
		res.Windows++
		p.last = w.End
		if frame.IsEmpty(df) {
			res.EmptyWindows++
			lg.Debug("window returned no rows", slog.Time("window_start", w.Start))
			continue
		}
		res.Rows += df.Nrow()
		p.frames = append(p.frames, df)
	}
	if p.open {
		if err := p.flush(ctx); err != nil {
			return res, err
		}
	}

	final := domain.Checkpoint{LastProcessed: req.End, Complete: true}
	if prev.LastProcessed.After(req.End) {
		// an earlier run already went past End
		final = prev
	}
	if err := store.Save(ctx, final); err != nil {
		return res, err
	}
	lg.Info("retrieval completed",
		slog.Time("from", from),
		slog.Time("to", req.End),
		slog.Int("windows", res.Windows),
		slog.Int("rows", res.Rows),
		slog.Int("files", len(res.Files)))
	return res, nil
}

func (s RetrievalService) resumePoint(ctx context.Context, store domain.CheckpointStore, req RetrieveRequest) (time.Time, domain.Decision, domain.Checkpoint, error) {
	lg := observability.LoggerFromContext(ctx)
	cp, ok, err := store.Load(ctx)
	if err != nil {
		return time.Time{}, "", domain.Checkpoint{}, err
	}
	if !ok {
		lg.Info("no checkpoint found; starting new retrieval", slog.Time("start", req.Start))
		return req.Start, domain.DecisionContinue, domain.Checkpoint{}, nil
	}

	decision := domain.DecisionContinue
	if s.Prompter != nil {
		decision, err = s.Prompter.Decide(ctx, cp)
		if err != nil {
			return time.Time{}, "", domain.Checkpoint{}, err
		}
	}
	switch decision {
	case domain.DecisionExit:
		return time.Time{}, decision, domain.Checkpoint{}, nil
	case domain.DecisionOverwrite:
		n, err := fileio.ClearDataFiles(ctx, req.SaveLocation, req.Format)
		if err != nil {
			return time.Time{}, "", domain.Checkpoint{}, err
		}
		if err := store.Clear(ctx); err != nil {
			return time.Time{}, "", domain.Checkpoint{}, err
		}
		lg.Info("overwriting existing data", slog.Int("files_deleted", n))
		return req.Start, decision, domain.Checkpoint{}, nil
	case domain.DecisionContinue:
		from := req.Aggregation.PeriodStart(cp.LastProcessed)
		if cp.Complete && cp.LastProcessed.Equal(from) {
			lg.Info("resuming after last completed period", slog.Time("last_processed", cp.LastProcessed))
		} else {
			lg.Info("redoing period of checkpoint",
				slog.Time("last_processed", cp.LastProcessed),
				slog.Bool("complete", cp.Complete),
				slog.Time("period_start", from))
		}
		if from.Before(req.Start) {
			from = req.Start
		}
		return from, decision, cp, nil
	}
	return time.Time{}, "", domain.Checkpoint{}, fmt.Errorf("%w: unknown decision %q", domain.ErrInvalidArgument, decision)
}

func (s RetrievalService) fetchWindow(ctx context.Context, sql string, names []string, w Window) (dataframe.DataFrame, error) {
	if s.WindowTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.WindowTimeout)
		defer cancel()
	}
	start := time.Now()
	df, err := s.Querier.Fetch(ctx, sql, bindWindow(names, w)...)
	obsmetrics.ObserveQuery(start, df.Nrow(), err)
	return df, err
}

// periodWriter buffers the windows of the aggregation period in progress.
type periodWriter struct {
	svc   RetrievalService
	req   RetrieveRequest
	store domain.CheckpointStore
	res   *RetrieveResult

	open   bool
	period time.Time
	first  time.Time
	last   time.Time
	frames []dataframe.DataFrame
}

func (p *periodWriter) begin(period, first time.Time) {
	p.open = true
	p.period = period
	p.first = first
	p.last = first
	p.frames = p.frames[:0]
}

func (p *periodWriter) flush(ctx context.Context) error {
	defer func() { p.open = false }()
	lg := observability.LoggerFromContext(ctx)
	done := domain.Checkpoint{LastProcessed: p.last, Complete: true}
	if len(p.frames) == 0 {
		return p.store.Save(ctx, done)
	}

	df, err := frame.Concat(p.frames...)
	if err != nil {
		return err
	}
	path, err := fileio.PeriodFilename(p.period, p.req.Aggregation, p.req.SaveLocation, p.req.Format)
	if err != nil {
		return err
	}
	if err := p.store.Save(ctx, domain.Checkpoint{LastProcessed: p.first, Complete: false}); err != nil {
		return err
	}
	err = fileio.WriteFile(path, p.req.Format, df)
	obsmetrics.ObserveExport(string(p.req.Format), err)
	if err != nil {
		lg.Error("failed to save period", slog.String("file", path), slog.Any("error", err))
		return err
	}
	lg.Info("saved period",
		slog.String("file", path),
		slog.Time("from", p.first),
		slog.Time("to", p.last),
		slog.Int("rows", df.Nrow()))
	p.res.Files = append(p.res.Files, path)

	if p.req.Upload {
		url, err := p.svc.Uploader.Upload(ctx, path)
		if err != nil {
			return err
		}
		p.res.URLs = append(p.res.URLs, url)
	}
	return p.store.Save(ctx, done)
}
