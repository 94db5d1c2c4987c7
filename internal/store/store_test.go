package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconworks/internal/models"
	"reconworks/pkg/errors"
)

var (
	testNow   = time.Date(2025, 12, 10, 8, 0, 0, 0, time.UTC)
	testBatch = "batch-2025-12"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sqlite", "reconworks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedFacts(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.EnsureFactTables(ctx))

	txns := []models.FactRecord{
		{ID: "T1", Date: "2025-12-06", AmountCents: models.Cents(4827), VendorCanonical: "Amazon", SourceFile: "txns.csv", SourceRowNumber: 2},
		{ID: "T2", Date: "", AmountCents: nil, VendorCanonical: "", SourceFile: "txns.csv", SourceRowNumber: 3},
	}
	pays := []models.FactRecord{
		{ID: "P1", Date: "2025-12-06", AmountCents: models.Cents(4827), VendorCanonical: "Amazon"},
	}
	require.NoError(t, s.ReplaceFacts(ctx, models.RecordTypeTransaction, testBatch, txns, testNow))
	require.NoError(t, s.ReplaceFacts(ctx, models.RecordTypeVendorPayment, testBatch, pays, testNow))
}

func TestOpen_RunsMigrations(t *testing.T) {
	s := newTestStore(t)

	var count int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(allMigrations), count)

	for _, table := range []string{TableMatchCandidates, TableMatches, TableQAFlags, TableExceptions, TableBatches, TableReconciliationRuns} {
		ok, err := s.tableExists(context.Background(), table)
		require.NoError(t, err)
		assert.True(t, ok, "%s should exist", table)
	}

	for _, table := range []string{TableFactTransactions, TableFactVendorPayments} {
		ok, err := s.tableExists(context.Background(), table)
		require.NoError(t, err)
		assert.False(t, ok, "%s must not be created implicitly", table)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reconworks.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	var count int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(allMigrations), count)
}

func TestLoadFacts_MissingTable(t *testing.T) {
	s := newTestStore(t)

	_, err := s.LoadFacts(context.Background(), models.RecordTypeTransaction, testBatch)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMissingTable))

	recErr, ok := errors.AsReconcilerError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CategoryStore, recErr.Category)
	assert.Equal(t, errors.CodeMissingTable, recErr.Code)
}

func TestReplaceFacts_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	seedFacts(t, s)
	ctx := context.Background()

	txns, err := s.LoadFacts(ctx, models.RecordTypeTransaction, testBatch)
	require.NoError(t, err)
	require.Len(t, txns, 2)

	assert.Equal(t, "T1", txns[0].ID)
	assert.Equal(t, testBatch, txns[0].BatchID)
	require.NotNil(t, txns[0].AmountCents)
	assert.Equal(t, int64(4827), *txns[0].AmountCents)
	assert.True(t, txns[0].IsWeekend, "2025-12-06 is a Saturday")
	assert.Equal(t, "2025-12", txns[0].Month)
	assert.Equal(t, models.VendorID("Amazon"), txns[0].VendorID)
	assert.Equal(t, "USD", txns[0].Currency)
	assert.Equal(t, 2, txns[0].SourceRowNumber)

	assert.Equal(t, "T2", txns[1].ID)
	assert.Nil(t, txns[1].AmountCents)
	assert.Equal(t, "", txns[1].Date)
	assert.Equal(t, "", txns[1].VendorID)

	// Replacing shrinks the batch rather than appending
	require.NoError(t, s.ReplaceFacts(ctx, models.RecordTypeTransaction, testBatch, txns[:1], testNow))
	txns, err = s.LoadFacts(ctx, models.RecordTypeTransaction, testBatch)
	require.NoError(t, err)
	assert.Len(t, txns, 1)

	other, err := s.LoadFacts(ctx, models.RecordTypeTransaction, "another-batch")
	require.NoError(t, err)
	assert.NotNil(t, other)
	assert.Empty(t, other)
}

func TestLatestBatchID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.LatestBatchID(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNoBatch))

	require.NoError(t, s.EnsureFactTables(ctx))
	require.NoError(t, s.ReplaceFacts(ctx, models.RecordTypeTransaction, "batch-a", nil, testNow))
	require.NoError(t, s.ReplaceFacts(ctx, models.RecordTypeTransaction, "batch-b", nil, testNow.Add(time.Hour)))
	require.NoError(t, s.ReplaceFacts(ctx, models.RecordTypeTransaction, "batch-c", nil, testNow.Add(30*time.Minute)))

	latest, err := s.LatestBatchID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "batch-b", latest)
}

func sampleOutputs(matchScore float64) *BatchOutputs {
	return &BatchOutputs{
		BatchID: testBatch,
		Candidates: []models.MatchCandidate{
			{BatchID: testBatch, TxnID: "T1", PayID: "P1", VendorSim: 1, Score: matchScore},
		},
		Matches: []models.Match{
			{BatchID: testBatch, TxnID: "T1", PayID: "P1", Score: matchScore, MatchType: models.MatchExact, VendorSim: 1, MatchedAt: testNow},
		},
		Flags: []models.QAFlag{
			{BatchID: testBatch, RecordType: models.RecordTypeTransaction, RecordID: "T2", FlagCode: "MISSING_DATE",
				Severity: models.SeverityError, Message: "Missing parsed date.", SourceFile: "txns.csv", SourceRowNumber: 3, CreatedAt: testNow},
		},
		Exceptions: []models.Exception{
			{BatchID: testBatch, ExceptionID: "ex-1", RecordType: models.RecordTypeTransaction, RecordID: "T2",
				ExceptionCode: "MISSING_DATE", Severity: models.SeverityError, Message: "Missing parsed date.",
				RecommendedAction: "Review", AmountCents: models.Cents(10), CreatedAt: testNow},
		},
		Run: &RunRecord{RunID: "run-1", BatchID: testBatch, StartedAt: testNow, FinishedAt: testNow.Add(time.Second),
			Candidates: 1, Matches: 1, QAFlags: 1, Exceptions: 1, ParamsJSON: `{"min_score":0.8}`},
	}
}

func TestReplaceBatchOutputs_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	outputs := sampleOutputs(1.0)

	require.NoError(t, s.ReplaceBatchOutputs(ctx, outputs))

	candidates, err := s.LoadCandidates(ctx, testBatch)
	require.NoError(t, err)
	assert.Equal(t, outputs.Candidates, candidates)

	matches, err := s.LoadMatches(ctx, testBatch)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, models.MatchExact, matches[0].MatchType)
	assert.True(t, matches[0].MatchedAt.Equal(testNow))

	flags, err := s.LoadFlags(ctx, testBatch)
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.Equal(t, "MISSING_DATE", flags[0].FlagCode)
	assert.Nil(t, flags[0].AmountCents)
	assert.Equal(t, 3, flags[0].SourceRowNumber)

	exceptions, err := s.LoadExceptions(ctx, testBatch)
	require.NoError(t, err)
	require.Len(t, exceptions, 1)
	assert.Equal(t, "ex-1", exceptions[0].ExceptionID)
	require.NotNil(t, exceptions[0].AmountCents)
	assert.Equal(t, int64(10), *exceptions[0].AmountCents)

	runs, err := s.LoadRuns(ctx, testBatch)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].RunID)
	assert.Equal(t, `{"min_score":0.8}`, runs[0].ParamsJSON)
}

func TestReplaceBatchOutputs_ReplacesWholesale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceBatchOutputs(ctx, sampleOutputs(0.95)))

	second := sampleOutputs(0.85)
	second.Run.RunID = "run-2"
	require.NoError(t, s.ReplaceBatchOutputs(ctx, second))

	matches, err := s.LoadMatches(ctx, testBatch)
	require.NoError(t, err)
	require.Len(t, matches, 1, "re-running must not append duplicates")
	assert.Equal(t, 0.85, matches[0].Score)

	exceptions, err := s.LoadExceptions(ctx, testBatch)
	require.NoError(t, err)
	assert.Len(t, exceptions, 1)

	runs, err := s.LoadRuns(ctx, testBatch)
	require.NoError(t, err)
	assert.Len(t, runs, 2, "run audit is append-only")
}

func TestReplaceBatchOutputs_FailureKeepsPreviousOutputs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceBatchOutputs(ctx, sampleOutputs(0.95)))

	broken := sampleOutputs(0.70)
	broken.Run.RunID = "run-2"
	// Two matches on the same transaction violate the one-to-one constraint
	broken.Matches = append(broken.Matches, models.Match{
		BatchID: testBatch, TxnID: "T1", PayID: "P9", Score: 0.7, MatchType: models.MatchWeak, MatchedAt: testNow,
	})

	err := s.ReplaceBatchOutputs(ctx, broken)
	require.Error(t, err)
	recErr, ok := errors.AsReconcilerError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeWriteFailed, recErr.Code)

	matches, err := s.LoadMatches(ctx, testBatch)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 0.95, matches[0].Score, "previous outputs must survive a failed replace")

	candidates, err := s.LoadCandidates(ctx, testBatch)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, 0.95, candidates[0].Score)

	runs, err := s.LoadRuns(ctx, testBatch)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestReplaceBatchOutputs_OtherBatchesUntouched(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceBatchOutputs(ctx, sampleOutputs(0.95)))

	other := &BatchOutputs{BatchID: "other-batch"}
	require.NoError(t, s.ReplaceBatchOutputs(ctx, other))

	matches, err := s.LoadMatches(ctx, testBatch)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestReplaceBatchOutputs_RequiresBatch(t *testing.T) {
	s := newTestStore(t)

	err := s.ReplaceBatchOutputs(context.Background(), &BatchOutputs{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNoBatch))
}
