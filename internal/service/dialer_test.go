package service_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeventeLantos/leadline/internal/cache"
	"github.com/LeventeLantos/leadline/internal/client"
	"github.com/LeventeLantos/leadline/internal/events"
	"github.com/LeventeLantos/leadline/internal/model"
	"github.com/LeventeLantos/leadline/internal/repo"
	"github.com/LeventeLantos/leadline/internal/repo/repotest"
	"github.com/LeventeLantos/leadline/internal/rotation"
	"github.com/LeventeLantos/leadline/internal/service"
)

type fakeCarrier struct {
	mu    sync.Mutex
	calls []string
	ref   string
	err   error
}

func (f *fakeCarrier) Place(_ context.Context, from, to string, channel model.Channel, clientRef string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, from+"->"+to+":"+channel.Method()+":"+clientRef)
	return f.ref, f.err
}

type memCache struct {
	mu   sync.Mutex
	refs map[string]cache.AttemptRef
}

func (c *memCache) StoreAttempt(_ context.Context, carrierRef string, ref cache.AttemptRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refs == nil {
		c.refs = map[string]cache.AttemptRef{}
	}
	c.refs[carrierRef] = ref
	return nil
}

func (c *memCache) LoadAttempt(_ context.Context, carrierRef string) (*cache.AttemptRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ref, ok := c.refs[carrierRef]
	if !ok {
		return nil, cache.ErrMiss
	}
	return &ref, nil
}

type capturePublisher struct {
	events.Nop
	mu       sync.Mutex
	finished []events.AttemptFinished
}

func (p *capturePublisher) PublishAttemptFinished(_ context.Context, e events.AttemptFinished) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finished = append(p.finished, e)
	return nil
}

type fixture struct {
	store    *repo.Store
	selector *rotation.Selector
	lead     *model.Lead
	owned    *model.NumberPoolEntry
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	s := repotest.NewStore(t)
	now := time.Now().UTC().Truncate(time.Millisecond)
	worker := "rep-1"

	f := &fixture{
		store: s,
		selector: rotation.NewSelector(s.Numbers, rotation.Policy{DailyCap: 10, Cooldown: time.Hour, OwnerFallback: true},
			rotation.WithClock(func() time.Time { return now })),
		lead: repotest.SeedLead(t, s, model.Lead{
			Phone:    "+15550199",
			Status:   model.Locked,
			LockedBy: &worker,
			LockedAt: &now,
		}),
		owned: repotest.SeedNumber(t, s, model.NumberPoolEntry{IsActive: true, OwnerID: &worker}),
		now:   now,
	}
	return f
}

func (f *fixture) dialer(carrier service.CarrierClient) *service.Dialer {
	return service.NewDialer(f.store.Leads, f.store.Attempts, f.selector, carrier).
		WithClock(func() time.Time { return f.now })
}

func TestDial_PlacesAttemptWithOwnedNumber(t *testing.T) {
	f := newFixture(t)
	carrier := &fakeCarrier{ref: "CA1"}
	c := &memCache{}

	res, err := f.dialer(carrier).WithCache(c).Dial(context.Background(), service.DialRequest{
		WorkerID: "rep-1", LeadID: f.lead.ID, Channel: model.ChannelCall,
	})
	require.NoError(t, err)
	assert.True(t, res.Placed)
	assert.Equal(t, f.owned.ID, res.Selection.Entry.ID)
	assert.Equal(t, "owner", res.Selection.Tier)

	require.Len(t, carrier.calls, 1)
	assert.Equal(t, f.owned.PhoneNumber+"->+15550199:call:"+res.Attempt.ID, carrier.calls[0])

	stored, err := f.store.Attempts.Get(context.Background(), res.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptInitiated, stored.Status)

	ref, err := c.LoadAttempt(context.Background(), "CA1")
	require.NoError(t, err)
	assert.Equal(t, res.Attempt.ID, ref.AttemptID)
	assert.Equal(t, f.owned.ID, ref.NumberID)

	n, err := f.store.Numbers.Get(context.Background(), f.owned.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n.DailyCount)
}

func TestDial_ThrottledCarrierCoolsNumberDown(t *testing.T) {
	f := newFixture(t)
	pub := &capturePublisher{}
	carrier := &fakeCarrier{err: &client.CarrierError{StatusCode: http.StatusTooManyRequests, Class: model.FailureThrottled}}

	res, err := f.dialer(carrier).WithEvents(pub).Dial(context.Background(), service.DialRequest{
		WorkerID: "rep-1", LeadID: f.lead.ID, Channel: model.ChannelSMS,
	})
	require.Error(t, err)

	var ce *client.CarrierError
	require.ErrorAs(t, err, &ce)
	require.NotNil(t, res)
	assert.False(t, res.Placed)
	assert.True(t, res.CooledDown)
	assert.Equal(t, model.AttemptFailed, res.Attempt.Status)

	n, err := f.store.Numbers.Get(context.Background(), f.owned.ID)
	require.NoError(t, err)
	require.NotNil(t, n.CooldownUntil)
	assert.True(t, n.CooldownUntil.Equal(f.now.Add(time.Hour)))
	assert.Equal(t, 1, n.DailyCount, "failed attempts keep their reservation")

	require.Len(t, pub.finished, 1)
	assert.Equal(t, "throttled", pub.finished[0].FailureClass)
}

func TestDial_UnreachableLeavesPoolAlone(t *testing.T) {
	f := newFixture(t)
	carrier := &fakeCarrier{err: &client.CarrierError{StatusCode: http.StatusNotFound, Class: model.FailureUnreachable}}

	res, err := f.dialer(carrier).Dial(context.Background(), service.DialRequest{
		WorkerID: "rep-1", LeadID: f.lead.ID, Channel: model.ChannelCall,
	})
	require.Error(t, err)
	assert.False(t, res.CooledDown)

	n, err := f.store.Numbers.Get(context.Background(), f.owned.ID)
	require.NoError(t, err)
	assert.Nil(t, n.CooldownUntil)
}

func TestDial_WithoutCarrierOnlyRecords(t *testing.T) {
	f := newFixture(t)

	res, err := f.dialer(nil).Dial(context.Background(), service.DialRequest{
		WorkerID: "rep-1", LeadID: f.lead.ID, Channel: model.ChannelCall,
	})
	require.NoError(t, err)
	assert.False(t, res.Placed)
	assert.Equal(t, model.AttemptInitiated, res.Attempt.Status)
}

func TestDial_Rejections(t *testing.T) {
	f := newFixture(t)
	d := f.dialer(&fakeCarrier{ref: "x"})
	ctx := context.Background()

	_, err := d.Dial(ctx, service.DialRequest{WorkerID: "rep-2", LeadID: f.lead.ID, Channel: model.ChannelCall})
	require.ErrorIs(t, err, repo.ErrLockHeld)

	_, err = d.Dial(ctx, service.DialRequest{WorkerID: "rep-1", LeadID: f.lead.ID, Channel: "pigeon"})
	require.ErrorIs(t, err, model.ErrInvalidChannel)

	_, err = d.Dial(ctx, service.DialRequest{WorkerID: "rep-1", LeadID: "missing", Channel: model.ChannelCall})
	require.ErrorIs(t, err, repo.ErrNotFound)

	require.NoError(t, f.selector.SetActive(ctx, f.owned.ID, false))
	_, err = d.Dial(ctx, service.DialRequest{WorkerID: "rep-1", LeadID: f.lead.ID, Channel: model.ChannelCall})
	require.ErrorIs(t, err, rotation.ErrNoNumber)
}

func TestHandleStatus(t *testing.T) {
	f := newFixture(t)
	c := &memCache{}
	pub := &capturePublisher{}
	d := f.dialer(&fakeCarrier{ref: "CA7"}).WithCache(c).WithEvents(pub)
	ctx := context.Background()

	res, err := d.Dial(ctx, service.DialRequest{WorkerID: "rep-1", LeadID: f.lead.ID, Channel: model.ChannelCall})
	require.NoError(t, err)

	a, err := d.HandleStatus(ctx, service.StatusReport{CarrierRef: "CA7", Status: "failed", FailureClass: "blocked"})
	require.NoError(t, err)
	assert.Equal(t, res.Attempt.ID, a.ID)
	assert.Equal(t, model.AttemptFailed, a.Status)
	assert.Equal(t, "CA7", a.CarrierRef)

	n, err := f.store.Numbers.Get(ctx, f.owned.ID)
	require.NoError(t, err)
	assert.NotNil(t, n.CooldownUntil)

	// duplicate report
	again, err := d.HandleStatus(ctx, service.StatusReport{AttemptID: res.Attempt.ID, Status: "completed"})
	require.NoError(t, err)
	assert.Equal(t, model.AttemptFailed, again.Status)
	assert.Len(t, pub.finished, 1)

	_, err = d.HandleStatus(ctx, service.StatusReport{CarrierRef: "unknown", Status: "completed"})
	require.ErrorIs(t, err, repo.ErrNotFound)

	_, err = d.HandleStatus(ctx, service.StatusReport{AttemptID: res.Attempt.ID, Status: "ringing"})
	require.ErrorIs(t, err, model.ErrInvalidAttemptStatus)
}

func TestHandleStatus_CompletedDoesNotTouchPool(t *testing.T) {
	f := newFixture(t)
	d := f.dialer(&fakeCarrier{ref: "CA8"})
	ctx := context.Background()

	res, err := d.Dial(ctx, service.DialRequest{WorkerID: "rep-1", LeadID: f.lead.ID, Channel: model.ChannelCall})
	require.NoError(t, err)

	a, err := d.HandleStatus(ctx, service.StatusReport{AttemptID: res.Attempt.ID, CarrierRef: "CA8", Status: "completed"})
	require.NoError(t, err)
	assert.Equal(t, model.AttemptCompleted, a.Status)
	assert.Nil(t, a.FailureClass)

	n, err := f.store.Numbers.Get(ctx, f.owned.ID)
	require.NoError(t, err)
	assert.Nil(t, n.CooldownUntil)
}

func TestHandleStatus_ResolvesCarrierRefWithoutCache(t *testing.T) {
	f := newFixture(t)
	d := f.dialer(&fakeCarrier{ref: "CA9"})
	ctx := context.Background()

	res, err := d.Dial(ctx, service.DialRequest{WorkerID: "rep-1", LeadID: f.lead.ID, Channel: model.ChannelCall})
	require.NoError(t, err)
	require.True(t, res.Placed)

	stored, err := f.store.Attempts.Get(ctx, res.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, "CA9", stored.CarrierRef)

	a, err := d.HandleStatus(ctx, service.StatusReport{CarrierRef: "CA9", Status: "completed"})
	require.NoError(t, err)
	assert.Equal(t, res.Attempt.ID, a.ID)
	assert.Equal(t, model.AttemptCompleted, a.Status)
}

func TestHandleStatus_FallsBackWhenCacheEntryMissing(t *testing.T) {
	f := newFixture(t)
	c := &memCache{}
	ctx := context.Background()

	res, err := f.dialer(&fakeCarrier{ref: "CA10"}).WithCache(c).Dial(ctx, service.DialRequest{
		WorkerID: "rep-1", LeadID: f.lead.ID, Channel: model.ChannelSMS,
	})
	require.NoError(t, err)

	// entry expired before the carrier reported back
	c.refs = nil

	a, err := f.dialer(nil).WithCache(c).HandleStatus(ctx, service.StatusReport{CarrierRef: "CA10", Status: "failed"})
	require.NoError(t, err)
	assert.Equal(t, res.Attempt.ID, a.ID)
	assert.Equal(t, model.AttemptFailed, a.Status)
}
