package reconciler

import (
	"time"
)

// Stage names, in execution order
const (
	StageLoadFacts    = "load_facts"
	StageCandidates   = "build_candidates"
	StageMatches      = "choose_matches"
	StageQualityFlags = "quality_flags"
	StageExceptions   = "derive_exceptions"
	StageSave         = "save_outputs"
)

var stageOrder = []string{
	StageLoadFacts,
	StageCandidates,
	StageMatches,
	StageQualityFlags,
	StageExceptions,
	StageSave,
}

// Progress reports how far a run has come
type Progress struct {
	TotalStages     int           `json:"total_stages"`
	CompletedStages int           `json:"completed_stages"`
	CurrentStage    string        `json:"current_stage"`
	PercentComplete float64       `json:"percent_complete"`
	StartTime       time.Time     `json:"start_time"`
	ElapsedTime     time.Duration `json:"elapsed_time"`
}

// ProgressCallback is called after each completed stage
type ProgressCallback func(*Progress)

// AddProgressCallback adds a progress callback function
func (s *Service) AddProgressCallback(callback ProgressCallback) {
	s.progressMutex.Lock()
	defer s.progressMutex.Unlock()
	s.progressCallbacks = append(s.progressCallbacks, callback)
}

type progressTracker struct {
	svc      *Service
	progress Progress
}

func (s *Service) startProgress(start time.Time) *progressTracker {
	return &progressTracker{
		svc: s,
		progress: Progress{
			TotalStages: len(stageOrder),
			StartTime:   start,
		},
	}
}

// advance marks stage complete and notifies callbacks. Elapsed time is
// measured on the service clock so a fixed clock yields zero.
func (pt *progressTracker) advance(stage string, start time.Time) {
	pt.progress.CompletedStages++
	pt.progress.CurrentStage = stage
	pt.progress.ElapsedTime = pt.svc.now().Sub(start)
	pt.progress.PercentComplete = float64(pt.progress.CompletedStages) / float64(pt.progress.TotalStages) * 100

	pt.svc.progressMutex.Lock()
	callbacks := append([]ProgressCallback(nil), pt.svc.progressCallbacks...)
	pt.svc.progressMutex.Unlock()

	for _, callback := range callbacks {
		snapshot := pt.progress
		callback(&snapshot)
	}
}
