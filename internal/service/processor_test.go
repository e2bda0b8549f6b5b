package service_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldpitch/outreach-backend/internal/model"
	"github.com/coldpitch/outreach-backend/internal/repository"
	"github.com/coldpitch/outreach-backend/internal/service"
)

// fakeCampaignStore is an in-memory campaign record store with the same
// claim and atomic-commit semantics as the Postgres repository.
type fakeCampaignStore struct {
	mu          sync.Mutex
	campaigns   map[int64]*model.Campaign
	batches     map[int64][]model.BatchRecord
	failCommits int // fail this many commits before succeeding
	commitCount int
}

func newFakeCampaignStore(campaigns ...*model.Campaign) *fakeCampaignStore {
	s := &fakeCampaignStore{
		campaigns: map[int64]*model.Campaign{},
		batches:   map[int64][]model.BatchRecord{},
	}
	for _, c := range campaigns {
		s.campaigns[c.ID] = cloneCampaign(c)
	}
	return s
}

func cloneCampaign(c *model.Campaign) *model.Campaign {
	out := *c
	out.ListIDs = append([]int64{}, c.ListIDs...)
	if c.Progress != nil {
		p := *c.Progress
		p.Remaining = append([]int64{}, c.Progress.Remaining...)
		p.Processed = append([]int64{}, c.Progress.Processed...)
		p.Failed = append([]int64{}, c.Progress.Failed...)
		out.Progress = &p
	}
	return &out
}

func (s *fakeCampaignStore) Create(c *model.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = int64(len(s.campaigns) + 1)
	s.campaigns[c.ID] = cloneCampaign(c)
	return nil
}

func (s *fakeCampaignStore) GetByID(id int64) (*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return cloneCampaign(c), nil
}

func (s *fakeCampaignStore) ListCampaigns(offset, limit int, tenantID int64, status string) ([]*model.Campaign, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := []*model.Campaign{}
	for _, c := range s.campaigns {
		if c.TenantID == tenantID && (status == "" || c.Status == status) {
			matched = append(matched, cloneCampaign(c))
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	total := len(matched)
	if offset >= total {
		return []*model.Campaign{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (s *fakeCampaignStore) UpdateStatus(id int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[id].Status = status
	return nil
}

func (s *fakeCampaignStore) Activate(id int64) error      { return s.UpdateStatus(id, model.StatusScheduled) }
func (s *fakeCampaignStore) Cancel(id int64) error        { return s.UpdateStatus(id, model.StatusCancelled) }
func (s *fakeCampaignStore) ForceEligible(id int64) error { return nil }

func (s *fakeCampaignStore) ListBatchHistory(id int64) ([]model.BatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.BatchRecord{}, s.batches[id]...), nil
}

func (s *fakeCampaignStore) ListDue(ctx context.Context) ([]*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	due := []*model.Campaign{}
	for _, c := range s.campaigns {
		if c.Eligible() {
			due = append(due, cloneCampaign(c))
		}
	}
	return due, nil
}

func (s *fakeCampaignStore) Claim(ctx context.Context, id int64, token string, now time.Time, staleness time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.campaigns[id]
	if c.ProcessingToken != nil && !c.ProcessingStartedAt.Before(now.Add(-staleness)) {
		return false, nil
	}
	c.ProcessingToken = &token
	t := now
	c.ProcessingStartedAt = &t
	return true, nil
}

func (s *fakeCampaignStore) ReleaseClaim(ctx context.Context, id int64, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.campaigns[id]
	if c.ProcessingToken != nil && *c.ProcessingToken == token {
		c.ProcessingToken = nil
		c.ProcessingStartedAt = nil
	}
	return nil
}

func (s *fakeCampaignStore) MarkFailed(ctx context.Context, id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.campaigns[id]
	c.Status = model.StatusFailed
	c.FailureReason = reason
	if c.Progress != nil {
		c.Progress.NextBatchSendTime = nil
	}
	return nil
}

func (s *fakeCampaignStore) CommitBatch(ctx context.Context, c *model.Campaign, batch *model.BatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCommits > 0 {
		s.failCommits--
		return errors.New("store write failed")
	}
	s.commitCount++
	stored := s.campaigns[c.ID]
	clone := cloneCampaign(c)
	clone.ProcessingToken = stored.ProcessingToken
	clone.ProcessingStartedAt = stored.ProcessingStartedAt
	s.campaigns[c.ID] = clone
	if batch != nil {
		s.batches[c.ID] = append(s.batches[c.ID], *batch)
	}
	return nil
}

var _ repository.CampaignRepositoryInterface = (*fakeCampaignStore)(nil)

// fakeDispatcher emulates the queue dispatcher including its outbound-log
// idempotency: a contact with a terminal outcome reports the same outcome
// again without another transport send.
type fakeDispatcher struct {
	mu           sync.Mutex
	sends        map[int64]int
	outcomes     map[int64]service.Outcome
	failContacts map[int64]bool
	unavailable  bool
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		sends:        map[int64]int{},
		outcomes:     map[int64]service.Outcome{},
		failContacts: map[int64]bool{},
	}
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, c *model.Campaign, contactID int64) (service.Outcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.unavailable {
		return service.Outcome{}, errors.New("transport unreachable")
	}
	if o, ok := d.outcomes[contactID]; ok {
		return o, nil
	}
	d.sends[contactID]++
	o := service.Outcome{ContactID: contactID, Success: !d.failContacts[contactID]}
	if !o.Success {
		o.Reason = "bounced"
	}
	d.outcomes[contactID] = o
	return o, nil
}

func (d *fakeDispatcher) totalSends() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := 0
	for _, n := range d.sends {
		total += n
	}
	return total
}

func idRange(from, to int64) []int64 {
	ids := []int64{}
	for id := from; id <= to; id++ {
		ids = append(ids, id)
	}
	return ids
}

type processorFixture struct {
	store      *fakeCampaignStore
	dispatcher *fakeDispatcher
	processor  *service.CampaignProcessor
	now        time.Time
}

func newProcessorFixture(contactIDs []int64, history map[int64]string, campaign *model.Campaign) *processorFixture {
	f := &processorFixture{
		store:      newFakeCampaignStore(campaign),
		dispatcher: newFakeDispatcher(),
		now:        time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	tracker := newTracker(map[int64][]int64{10: contactIDs}, history)
	f.processor = service.NewCampaignProcessor(f.store, tracker, f.dispatcher)
	f.processor.Now = func() time.Time { return f.now }
	return f
}

func (f *processorFixture) run(t *testing.T) *service.ProcessSummary {
	t.Helper()
	summary, err := f.processor.ProcessDueCampaigns(context.Background())
	require.NoError(t, err)
	return summary
}

func (f *processorFixture) campaign(t *testing.T, id int64) *model.Campaign {
	t.Helper()
	c, err := f.store.GetByID(id)
	require.NoError(t, err)
	return c
}

func TestProcessorDailyCappedRun(t *testing.T) {
	// 12 contacts, daily limit 5: three batches over three days.
	f := newProcessorFixture(idRange(1, 12), nil, &model.Campaign{
		ID: 1, TenantID: 1, Status: model.StatusScheduled, ListIDs: []int64{10}, DailyLimit: 5,
	})

	summary := f.run(t)
	assert.Equal(t, 1, summary.Batches)

	c := f.campaign(t, 1)
	assert.Equal(t, model.StatusSending, c.Status)
	require.NotNil(t, c.Progress)
	assert.Len(t, c.Progress.Remaining, 7)
	assert.Len(t, c.Progress.Processed, 5)
	assert.Equal(t, 2, c.Progress.CurrentBatchNumber)
	require.NotNil(t, c.Progress.NextBatchSendTime)
	assert.Equal(t, f.now.Add(24*time.Hour), *c.Progress.NextBatchSendTime)
	require.NotNil(t, c.Progress.FirstBatchSentAt)
	assert.Nil(t, c.ProcessingToken, "claim released after the batch")

	// A second trigger in the same window does nothing.
	summary = f.run(t)
	assert.Equal(t, 0, summary.Batches)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 2, f.campaign(t, 1).Progress.CurrentBatchNumber, "no increment on a skipped cycle")

	// Day two.
	f.now = f.now.Add(24 * time.Hour)
	f.run(t)
	c = f.campaign(t, 1)
	assert.Len(t, c.Progress.Remaining, 2)
	assert.Equal(t, 3, c.Progress.CurrentBatchNumber)
	assert.Equal(t, model.StatusSending, c.Status)

	// Day three: last two contacts, campaign completes.
	f.now = f.now.Add(24 * time.Hour)
	f.run(t)
	c = f.campaign(t, 1)
	assert.Equal(t, model.StatusCompleted, c.Status)
	assert.Empty(t, c.Progress.Remaining)
	assert.Len(t, c.Progress.Processed, 12)
	assert.Nil(t, c.Progress.NextBatchSendTime)
	require.NotNil(t, c.CompletedAt)

	history, _ := f.store.ListBatchHistory(1)
	require.Len(t, history, 3)
	assert.Equal(t, []int{5, 5, 2}, []int{history[0].SentCount, history[1].SentCount, history[2].SentCount})
	assert.Equal(t, []int{7, 2, 0}, []int{history[0].RemainingAfter, history[1].RemainingAfter, history[2].RemainingAfter})

	for id, n := range f.dispatcher.sends {
		assert.Equal(t, 1, n, "contact %d dispatched more than once", id)
	}
	assert.Equal(t, 12, f.dispatcher.totalSends())
}

func TestProcessorSmallCampaignCompletesInOneBatch(t *testing.T) {
	f := newProcessorFixture(idRange(1, 3), nil, &model.Campaign{
		ID: 1, TenantID: 1, Status: model.StatusScheduled, ListIDs: []int64{10}, DailyLimit: 5,
	})

	f.run(t)

	c := f.campaign(t, 1)
	assert.Equal(t, model.StatusCompleted, c.Status)
	assert.Empty(t, c.Progress.Remaining)
	assert.Nil(t, c.Progress.NextBatchSendTime, "no second batch is ever scheduled")

	history, _ := f.store.ListBatchHistory(1)
	assert.Len(t, history, 1)
}

func TestProcessorPerContactFailureDoesNotAbortBatch(t *testing.T) {
	f := newProcessorFixture(idRange(1, 5), nil, &model.Campaign{
		ID: 1, TenantID: 1, Status: model.StatusScheduled, ListIDs: []int64{10}, DailyLimit: 5,
	})
	f.dispatcher.failContacts[3] = true

	f.run(t)

	c := f.campaign(t, 1)
	assert.ElementsMatch(t, []int64{1, 2, 4, 5}, c.Progress.Processed)
	assert.ElementsMatch(t, []int64{3}, c.Progress.Failed)
	assert.Empty(t, c.Progress.Remaining)
	assert.Equal(t, model.StatusCompleted, c.Status)

	history, _ := f.store.ListBatchHistory(1)
	require.Len(t, history, 1)
	assert.Equal(t, 4, history[0].SentCount)
	assert.Equal(t, 1, history[0].FailedCount)

	// The failed contact is terminal for this campaign.
	f.now = f.now.Add(24 * time.Hour)
	f.run(t)
	assert.Equal(t, 1, f.dispatcher.sends[3], "failed contact must never be re-attempted")
}

func TestProcessorConcurrentInvocationsAdvanceOnce(t *testing.T) {
	f := newProcessorFixture(idRange(1, 10), nil, &model.Campaign{
		ID: 1, TenantID: 1, Status: model.StatusScheduled, ListIDs: []int64{10}, DailyLimit: 5,
	})

	var wg sync.WaitGroup
	summaries := make([]*service.ProcessSummary, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := f.processor.ProcessDueCampaigns(context.Background())
			assert.NoError(t, err)
			summaries[i] = s
		}(i)
	}
	wg.Wait()

	c := f.campaign(t, 1)
	assert.Equal(t, 2, c.Progress.CurrentBatchNumber, "exactly one invocation advances the batch")
	assert.Len(t, c.Progress.Processed, 5)
	assert.Equal(t, 5, f.dispatcher.totalSends(), "no contact is dispatched twice")
	for id, n := range f.dispatcher.sends {
		assert.Equal(t, 1, n, "contact %d double-dispatched", id)
	}
	assert.Equal(t, 1, summaries[0].Batches+summaries[1].Batches)
}

func TestProcessorReconcilesLegacyCampaign(t *testing.T) {
	// Progress fields absent but the outbound log holds 4 prior sends:
	// those contacts are never re-sent.
	f := newProcessorFixture(idRange(1, 10), map[int64]string{
		1: "sent", 2: "sent", 3: "sent", 4: "sent",
	}, &model.Campaign{
		ID: 1, TenantID: 1, Status: model.StatusSending, ListIDs: []int64{10}, DailyLimit: 10,
	})

	f.run(t)

	c := f.campaign(t, 1)
	assert.Equal(t, model.StatusCompleted, c.Status)
	assert.ElementsMatch(t, idRange(1, 10), c.Progress.Processed)
	for _, id := range []int64{1, 2, 3, 4} {
		assert.Zero(t, f.dispatcher.sends[id], "contact %d had a prior send and must not be re-sent", id)
	}
	assert.Equal(t, 6, f.dispatcher.totalSends())
}

func TestProcessorCommitFailureRetriesSameBatchIdempotently(t *testing.T) {
	f := newProcessorFixture(idRange(1, 12), nil, &model.Campaign{
		ID: 1, TenantID: 1, Status: model.StatusScheduled, ListIDs: []int64{10}, DailyLimit: 5,
	})
	f.store.failCommits = 1

	summary := f.run(t)
	assert.Equal(t, 1, summary.Errors)

	// Durable record untouched, claim released for the retry.
	c := f.campaign(t, 1)
	assert.Equal(t, model.StatusScheduled, c.Status)
	assert.Nil(t, c.Progress)
	assert.Nil(t, c.ProcessingToken)
	history, _ := f.store.ListBatchHistory(1)
	assert.Empty(t, history)

	// Next invocation replays the same slice; the dispatcher's log
	// reports the earlier outcomes without re-sending.
	summary = f.run(t)
	assert.Equal(t, 1, summary.Batches)
	c = f.campaign(t, 1)
	assert.Equal(t, 2, c.Progress.CurrentBatchNumber)
	assert.Len(t, c.Progress.Remaining, 7)
	assert.Equal(t, 5, f.dispatcher.totalSends(), "retried batch must not double-send")
}

func TestProcessorTransportUnavailableLeavesStateUntouched(t *testing.T) {
	f := newProcessorFixture(idRange(1, 5), nil, &model.Campaign{
		ID: 1, TenantID: 1, Status: model.StatusScheduled, ListIDs: []int64{10}, DailyLimit: 5,
	})
	f.dispatcher.unavailable = true

	summary := f.run(t)
	assert.Equal(t, 1, summary.Errors)

	c := f.campaign(t, 1)
	assert.Equal(t, model.StatusScheduled, c.Status, "fatal for this cycle only")
	assert.Nil(t, c.Progress)
	assert.Nil(t, c.ProcessingToken)

	// Transport back: the campaign proceeds normally.
	f.dispatcher.unavailable = false
	summary = f.run(t)
	assert.Equal(t, 1, summary.Batches)
	assert.Equal(t, model.StatusCompleted, f.campaign(t, 1).Status)
}

func TestProcessorNoContactsIsTerminalFailure(t *testing.T) {
	f := newProcessorFixture(nil, nil, &model.Campaign{
		ID: 1, TenantID: 1, Status: model.StatusScheduled, ListIDs: []int64{10}, DailyLimit: 5,
	})

	summary := f.run(t)
	assert.Equal(t, 1, summary.Failed)

	c := f.campaign(t, 1)
	assert.Equal(t, model.StatusFailed, c.Status)
	assert.Equal(t, "no contacts", c.FailureReason)

	// Terminal: never retried automatically.
	summary = f.run(t)
	assert.Equal(t, 0, summary.Examined)
}

func TestProcessorInvalidDailyLimitIsTerminalFailure(t *testing.T) {
	f := newProcessorFixture(idRange(1, 5), nil, &model.Campaign{
		ID: 1, TenantID: 1, Status: model.StatusScheduled, ListIDs: []int64{10}, DailyLimit: 0,
	})

	summary := f.run(t)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, model.StatusFailed, f.campaign(t, 1).Status)
	assert.Zero(t, f.dispatcher.totalSends())
}

func TestProcessorForcesCompletionWhenNothingRemains(t *testing.T) {
	// Repair: sending campaign whose remaining set is already empty.
	f := newProcessorFixture(idRange(1, 2), nil, &model.Campaign{
		ID: 1, TenantID: 1, Status: model.StatusSending, ListIDs: []int64{10}, DailyLimit: 5,
		Progress: &model.Progress{
			Remaining:          []int64{},
			Processed:          []int64{1, 2},
			Failed:             []int64{},
			CurrentBatchNumber: 2,
		},
	})

	summary := f.run(t)
	assert.Equal(t, 1, summary.Completed)

	c := f.campaign(t, 1)
	assert.Equal(t, model.StatusCompleted, c.Status)
	assert.Equal(t, 2, c.Progress.CurrentBatchNumber, "no batch executed")
	history, _ := f.store.ListBatchHistory(1)
	assert.Empty(t, history, "forced completion appends no batch record")
	assert.Zero(t, f.dispatcher.totalSends())
}

func TestProcessorReclaimsStaleClaim(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	staleToken := "dead-invocation"
	staleSince := now.Add(-20 * time.Minute)

	f := newProcessorFixture(idRange(1, 3), nil, &model.Campaign{
		ID: 1, TenantID: 1, Status: model.StatusScheduled, ListIDs: []int64{10}, DailyLimit: 5,
		ProcessingToken: &staleToken, ProcessingStartedAt: &staleSince,
	})
	f.now = now

	summary := f.run(t)
	assert.Equal(t, 1, summary.Batches, "a claim past the staleness threshold is reclaimable")
}

func TestProcessorDefersToFreshClaim(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	freshToken := "other-invocation"
	freshSince := now.Add(-time.Minute)

	f := newProcessorFixture(idRange(1, 3), nil, &model.Campaign{
		ID: 1, TenantID: 1, Status: model.StatusScheduled, ListIDs: []int64{10}, DailyLimit: 5,
		ProcessingToken: &freshToken, ProcessingStartedAt: &freshSince,
	})
	f.now = now

	summary := f.run(t)
	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, f.dispatcher.totalSends())

	c := f.campaign(t, 1)
	require.NotNil(t, c.ProcessingToken)
	assert.Equal(t, freshToken, *c.ProcessingToken, "losing invocation must not steal a live claim")
}
