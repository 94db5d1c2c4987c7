// Package reconciler runs the reconciliation core for one batch.
//
// A run reads the projected facts of a batch from the store, then:
//   - generates and scores candidate pairs inside the blocking window
//   - greedily assigns one-to-one matches
//   - evaluates built-in and policy quality flags
//   - derives the unified exception list
//
// and replaces every derived output of the batch in a single store
// transaction together with an audit row for the run.
//
// Example usage:
//
//	svc, err := reconciler.NewService(st, &reconciler.Options{
//		Matching:    matcher.DefaultMatchingConfig(),
//		PolicyRules: rules,
//	})
//	svc.AddProgressCallback(func(p *reconciler.Progress) {
//		fmt.Printf("%.0f%% %s\n", p.PercentComplete, p.CurrentStage)
//	})
//	summary, err := svc.Run(ctx, "")
package reconciler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"reconworks/internal/exceptions"
	"reconworks/internal/matcher"
	"reconworks/internal/models"
	"reconworks/internal/qa"
	"reconworks/internal/store"
	"reconworks/pkg/errors"
	"reconworks/pkg/logger"

	"github.com/google/uuid"
)

// Store is the persistence surface a run needs
type Store interface {
	LatestBatchID(ctx context.Context) (string, error)
	LoadFacts(ctx context.Context, kind models.RecordType, batchID string) ([]models.FactRecord, error)
	ReplaceBatchOutputs(ctx context.Context, outputs *store.BatchOutputs) error
}

// Options configures a Service
type Options struct {
	Matching    *matcher.MatchingConfig
	PolicyRules []models.PolicyRule

	// Now supplies the run timestamp stamped on matches, flags and
	// exceptions. A fixed clock makes re-runs byte-identical.
	Now func() time.Time
	// NewRunID supplies the audit run id
	NewRunID func() string
}

// Service orchestrates reconciliation runs against a Store.
//
// Each Run goes through the same stages in order:
//  1. Resolve the batch and load both fact streams
//  2. Build scored candidates
//  3. Choose one-to-one matches
//  4. Evaluate quality flags
//  5. Derive exceptions
//  6. Replace the batch outputs atomically
//
// Nothing is written unless every earlier stage succeeded.
type Service struct {
	store    Store
	matching *matcher.MatchingConfig
	rules    []models.PolicyRule
	now      func() time.Time
	newRunID func() string
	logger   logger.Logger

	progressCallbacks []ProgressCallback
	progressMutex     sync.Mutex
}

// NewService creates a service over st. A nil options value uses the default
// matching configuration, no policy rules and the wall clock.
func NewService(st Store, opts *Options) (*Service, error) {
	if st == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "store", nil, nil).
			WithSuggestion("Provide an open record store")
	}
	if opts == nil {
		opts = &Options{}
	}

	cfg := opts.Matching.Clone()
	if cfg == nil {
		cfg = matcher.DefaultMatchingConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matching", cfg.String(), err)
	}

	svc := &Service{
		store:    st,
		matching: cfg,
		rules:    append([]models.PolicyRule(nil), opts.PolicyRules...),
		now:      opts.Now,
		newRunID: opts.NewRunID,
		logger:   logger.GetGlobalLogger().WithComponent("reconciler"),
	}
	if svc.now == nil {
		svc.now = func() time.Time { return time.Now().UTC() }
	}
	if svc.newRunID == nil {
		svc.newRunID = uuid.NewString
	}
	return svc, nil
}

// MatchingConfig returns a copy of the matching configuration in use
func (s *Service) MatchingConfig() *matcher.MatchingConfig {
	return s.matching.Clone()
}

// Run reconciles one batch. An empty batchID resolves the most recently
// projected batch. Missing fact tables and an unresolvable batch are fatal
// and leave the store untouched; an empty batch succeeds with empty outputs.
func (s *Service) Run(ctx context.Context, batchID string) (*RunSummary, error) {
	startedAt := s.now()
	progress := s.startProgress(startedAt)

	var (
		transactions []models.FactRecord
		payments     []models.FactRecord
		candidates   []models.MatchCandidate
		matches      []models.Match
		flags        []models.QAFlag
		exs          []models.Exception
	)

	err := logger.TimedStage(StageLoadFacts, s.logger, func(sl *logger.StageLogger) error {
		if batchID == "" {
			latest, err := s.store.LatestBatchID(ctx)
			if err != nil {
				return err
			}
			batchID = latest
		}
		var err error
		if transactions, err = s.store.LoadFacts(ctx, models.RecordTypeTransaction, batchID); err != nil {
			return err
		}
		if payments, err = s.store.LoadFacts(ctx, models.RecordTypeVendorPayment, batchID); err != nil {
			return err
		}
		sl.WithFields(logger.Fields{
			"batch_id":     batchID,
			"transactions": len(transactions),
			"payments":     len(payments),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	progress.advance(StageLoadFacts, startedAt)
	log := s.logger.WithField("batch_id", batchID)

	err = logger.TimedStage(StageCandidates, log, func(sl *logger.StageLogger) error {
		var err error
		candidates, err = matcher.BuildCandidates(ctx, batchID, transactions, payments, s.matching)
		if err != nil {
			return errors.ReconciliationError(errors.CodeProcessingError, "build candidates", err)
		}
		sl.WithField("candidates", len(candidates))
		return nil
	})
	if err != nil {
		return nil, err
	}
	progress.advance(StageCandidates, startedAt)

	err = logger.TimedStage(StageMatches, log, func(sl *logger.StageLogger) error {
		if err := interrupted(ctx, StageMatches); err != nil {
			return err
		}
		matches = matcher.ChooseMatches(candidates, s.matching.MinScore, startedAt)
		sl.WithField("matches", len(matches))
		return nil
	})
	if err != nil {
		return nil, err
	}
	progress.advance(StageMatches, startedAt)

	err = logger.TimedStage(StageQualityFlags, log, func(sl *logger.StageLogger) error {
		if err := interrupted(ctx, StageQualityFlags); err != nil {
			return err
		}
		flags = qa.Evaluate(batchID, transactions, payments, s.rules, startedAt)
		sl.WithFields(logger.Fields{"flags": len(flags), "policy_rules": len(s.rules)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	progress.advance(StageQualityFlags, startedAt)

	err = logger.TimedStage(StageExceptions, log, func(sl *logger.StageLogger) error {
		if err := interrupted(ctx, StageExceptions); err != nil {
			return err
		}
		exs = exceptions.Derive(exceptions.Input{
			BatchID:                batchID,
			Flags:                  flags,
			Transactions:           transactions,
			Payments:               payments,
			Matches:                matches,
			LowConfidenceThreshold: s.matching.LowConfidenceThreshold,
			CreatedAt:              startedAt,
		})
		sl.WithField("exceptions", len(exs))
		return nil
	})
	if err != nil {
		return nil, err
	}
	progress.advance(StageExceptions, startedAt)

	if err := interrupted(ctx, "reconcile batch"); err != nil {
		return nil, err
	}

	result := matcher.Summarize(transactions, payments, matches)
	summary := &RunSummary{
		RunID:          s.newRunID(),
		BatchID:        batchID,
		StartedAt:      startedAt,
		Candidates:     len(candidates),
		QAFlags:        len(flags),
		Exceptions:     len(exs),
		LowConfidence:  len(matcher.LowConfidence(matches, s.matching.LowConfidenceThreshold)),
		Reconciliation: result.Summary,
		Matching:       s.matching.Clone(),
	}

	err = logger.TimedStage(StageSave, log, func(sl *logger.StageLogger) error {
		params, err := json.Marshal(s.matching)
		if err != nil {
			return errors.InternalError(errors.CodeUnexpectedError, "encode run parameters", err)
		}
		summary.FinishedAt = s.now()
		run := &store.RunRecord{
			RunID:                 summary.RunID,
			BatchID:               batchID,
			StartedAt:             startedAt,
			FinishedAt:            summary.FinishedAt,
			Candidates:            len(candidates),
			Matches:               len(matches),
			UnmatchedTransactions: result.Summary.UnmatchedTransactions,
			UnmatchedPayments:     result.Summary.UnmatchedPayments,
			QAFlags:               len(flags),
			Exceptions:            len(exs),
			ParamsJSON:            string(params),
		}
		sl.WithField("run_id", run.RunID)
		return s.store.ReplaceBatchOutputs(ctx, &store.BatchOutputs{
			BatchID:    batchID,
			Candidates: candidates,
			Matches:    matches,
			Flags:      flags,
			Exceptions: exs,
			Run:        run,
		})
	})
	if err != nil {
		return nil, err
	}
	progress.advance(StageSave, startedAt)

	log.WithFields(summary.Fields()).Info("Reconciliation run completed")
	return summary, nil
}

// interrupted reports a cancelled run before the named step starts
func interrupted(ctx context.Context, step string) error {
	if err := ctx.Err(); err != nil {
		return errors.ReconciliationError(errors.CodeProcessingError, step, err)
	}
	return nil
}
