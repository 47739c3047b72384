package usecase

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-gota/gota/dataframe"

	"github.com/fairyhunter13/querypanda/internal/adapter/fileio"
	"github.com/fairyhunter13/querypanda/internal/domain"
	"github.com/fairyhunter13/querypanda/internal/frame"
)

// LoadService reads previously saved data files back into a frame.
type LoadService struct{}

// NewLoadService constructs a LoadService.
func NewLoadService() LoadService { return LoadService{} }

// Load reads a data file, or every readable data file in a directory.
func (LoadService) Load(ctx domain.Context, path string) (dataframe.DataFrame, error) {
	if strings.TrimSpace(path) == "" {
		return dataframe.DataFrame{}, fmt.Errorf("%w: path required", domain.ErrInvalidArgument)
	}
	return fileio.LoadDataset(ctx, path)
}

// LoadAggregate loads path and aggregates the combined frame.
func (s LoadService) LoadAggregate(ctx domain.Context, path string, groupBy []string, aggs []frame.Aggregation) (dataframe.DataFrame, error) {
	df, err := s.Load(ctx, path)
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	if len(aggs) == 0 {
		return df, nil
	}
	return frame.Aggregate(df, groupBy, aggs)
}

// StatusService reports the retrieval progress of a save location.
type StatusService struct {
	Checkpoints CheckpointStoreFactory
}

// NewStatusService constructs a StatusService.
func NewStatusService(cps CheckpointStoreFactory) StatusService {
	return StatusService{Checkpoints: cps}
}

// Status describes what a save location holds.
type Status struct {
	SaveLocation  string             `json:"save_location"`
	HasCheckpoint bool               `json:"has_checkpoint"`
	Checkpoint    *domain.Checkpoint `json:"checkpoint,omitempty"`
	LatestPeriod  *time.Time         `json:"latest_period,omitempty"`
	DataFiles     int                `json:"data_files"`
}

// Status loads the checkpoint and inspects the data files of the given format.
func (s StatusService) Status(ctx domain.Context, saveLocation string, format domain.Format) (Status, error) {
	st := Status{SaveLocation: saveLocation}
	cp, ok, err := s.Checkpoints(saveLocation).Load(ctx)
	if err != nil {
		return st, err
	}
	if ok {
		st.HasCheckpoint = true
		st.Checkpoint = &cp
	}
	files, err := fileio.DataFiles(saveLocation, format)
	if err != nil {
		return st, err
	}
	st.DataFiles = len(files)
	latest, ok, err := fileio.LatestPeriod(saveLocation, format)
	if err != nil {
		return st, err
	}
	if ok {
		st.LatestPeriod = &latest
	}
	return st, nil
}
