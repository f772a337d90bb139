package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/xela07ax/cloud-blacklist-guard/internal/domain"
)

type BatchScannerSuite struct {
	suite.Suite
	checker *fakeChecker
	store   *PendingActionStore
	auditor *recordingAuditor
	scanner *BatchScanner
}

func TestBatchScannerSuite(t *testing.T) {
	suite.Run(t, new(BatchScannerSuite))
}

func (s *BatchScannerSuite) SetupTest() {
	s.checker = newFakeChecker()
	s.store = NewPendingActionStore(DefaultCleanupThreshold, nil)
	s.auditor = &recordingAuditor{}
	s.scanner = NewBatchScanner(s.checker, s.store, s.auditor, NewMetrics(nil), zap.NewNop())
}

func (s *BatchScannerSuite) TestFlagsOnlyBlacklistedMember() {
	s.checker.flag("1002", "fraud")

	flagged, err := s.scanner.Scan(context.Background(), "g1", []string{"1001", "1002", "1003"}, "key")
	s.Require().NoError(err)
	s.Require().Len(flagged, 1)
	s.Equal("1002", flagged[0].SubjectID)
	s.Equal("fraud", flagged[0].Reason)

	batch, ok := s.store.Peek("g1")
	s.Require().True(ok)
	s.Equal([]string{"1002"}, batch.SubjectIDs())
	s.Equal([]domain.ModerationAction{domain.ActionStaged}, s.auditor.Actions())
}

func (s *BatchScannerSuite) TestResultOrderFollowsInputNotCompletion() {
	ids := []string{"a", "b", "c", "d"}
	for i, id := range ids {
		s.checker.flag(id, "r")
		// первый завершается последним
		s.checker.delays[id] = time.Duration(len(ids)-i) * 15 * time.Millisecond
	}

	flagged, err := s.scanner.Scan(context.Background(), "g1", ids, "key")
	s.Require().NoError(err)

	got := make([]string, 0, len(flagged))
	for _, v := range flagged {
		got = append(got, v.SubjectID)
	}
	s.Equal(ids, got)
}

func (s *BatchScannerSuite) TestLookupErrorsAreSkippedNotFlagged() {
	s.checker.flag("2", "spam")
	s.checker.errs["1"] = domain.NewLookupError("1", domain.ErrUpstreamUnavailable, context.DeadlineExceeded)
	s.checker.errs["3"] = domain.NewLookupError("3", domain.ErrMalformedResponse, nil)

	flagged, err := s.scanner.Scan(context.Background(), "g1", []string{"1", "2", "3"}, "key")
	s.Require().NoError(err)
	s.Require().Len(flagged, 1)
	s.Equal("2", flagged[0].SubjectID)
	s.Equal(3, s.checker.Calls())
}

func (s *BatchScannerSuite) TestNoFlaggedMembersStagesNothing() {
	flagged, err := s.scanner.Scan(context.Background(), "g1", []string{"1", "2"}, "key")
	s.Require().NoError(err)
	s.NotNil(flagged)
	s.Empty(flagged)
	s.Equal(0, s.store.Len())

	_, scanned := s.store.LastScan("g1")
	s.True(scanned)
}

func (s *BatchScannerSuite) TestEmptyGroup() {
	flagged, err := s.scanner.Scan(context.Background(), "g1", nil, "key")
	s.Require().NoError(err)
	s.Empty(flagged)
	s.Equal(0, s.checker.Calls())
}

func (s *BatchScannerSuite) TestMissingKeyMakesNoRequests() {
	_, err := s.scanner.Scan(context.Background(), "g1", []string{"1"}, "  ")
	s.ErrorIs(err, domain.ErrConfigMissing)
	s.Equal(0, s.checker.Calls())
}

func (s *BatchScannerSuite) TestCancelledScanDoesNotStage() {
	s.checker.flag("1", "r")
	s.checker.delays["2"] = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := s.scanner.Scan(ctx, "g1", []string{"1", "2"}, "key")
	s.ErrorIs(err, context.DeadlineExceeded)
	s.Equal(0, s.store.Len())
}

func (s *BatchScannerSuite) TestScanWithRealLimiterFansOutAllMembers() {
	limiter := NewRateLimiter(20, 5*time.Second, nil)
	counting := &limitedChecker{limiter: limiter, next: s.checker}
	scanner := NewBatchScanner(counting, s.store, s.auditor, nil, zap.NewNop())

	ids := make([]string, 15)
	for i := range ids {
		ids[i] = string(rune('a' + i))
	}
	s.checker.flag("c", "r")

	flagged, err := scanner.Scan(context.Background(), "g1", ids, "key")
	s.Require().NoError(err)
	s.Len(flagged, 1)
	s.Equal(15, limiter.Len())
}

// limitedChecker проводит каждый вызов через лимитер, как ReputationClient.
type limitedChecker struct {
	limiter Limiter
	next    Checker
}

func (c *limitedChecker) Check(ctx context.Context, subjectID, apiKey string) (domain.Verdict, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return domain.Verdict{}, err
	}
	return c.next.Check(ctx, subjectID, apiKey)
}
