package listener

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeReader replays a fixed set of messages, then blocks until the
// context is cancelled.
type fakeReader struct {
	mu        sync.Mutex
	fetchErrs []error
	messages  []kafka.Message
	committed []kafka.Message
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.fetchErrs) > 0 {
		err := f.fetchErrs[0]
		f.fetchErrs = f.fetchErrs[1:]
		f.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(f.messages) == 0 {
		f.mu.Unlock()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := f.messages[0]
	f.messages = f.messages[1:]
	f.mu.Unlock()
	return msg, nil
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeReader) committedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.committed)
}

func (f *fakeReader) pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

type fakeEvictor struct {
	evicted    []string
	evictedAll int
}

func (f *fakeEvictor) Evict(issuer string) { f.evicted = append(f.evicted, issuer) }
func (f *fakeEvictor) EvictAll()           { f.evictedAll++ }

type fakeLimits struct {
	updates map[string]int64
}

func (f *fakeLimits) UpdateTenantLimit(tenantID string, apiCallsPerDay int64) {
	if f.updates == nil {
		f.updates = make(map[string]int64)
	}
	f.updates[tenantID] = apiCallsPerDay
}

type fakeRefresher struct {
	refreshes int
}

func (f *fakeRefresher) Refresh(_ context.Context) error {
	f.refreshes++
	return nil
}

func runListener(t *testing.T, reader *fakeReader) (*fakeEvictor, *fakeLimits, *fakeRefresher, *fakeRefresher) {
	t.Helper()
	evictor := &fakeEvictor{}
	limits := &fakeLimits{}
	tenants := &fakeRefresher{}
	routes := &fakeRefresher{}

	l := newConfigEventListener(reader, evictor, limits, tenants, routes, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	// Drain all queued messages, then cancel.
	assert.Eventually(t, func() bool {
		return reader.pending() == 0
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.True(t, reader.closed)

	return evictor, limits, tenants, routes
}

func TestListener_ProviderChangedEvictsIssuer(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		{Value: []byte(`{"type":"oidc_provider_changed","issuer":"https://idp.example.com/realms/acme"}`)},
	}}

	evictor, _, _, _ := runListener(t, reader)

	assert.Equal(t, []string{"https://idp.example.com/realms/acme"}, evictor.evicted)
	assert.Zero(t, evictor.evictedAll)
	assert.Equal(t, 1, reader.committedCount())
}

func TestListener_ProviderChangedWithoutIssuerEvictsAll(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		{Value: []byte(`{"type":"oidc_provider_changed"}`)},
	}}

	evictor, _, _, _ := runListener(t, reader)

	assert.Empty(t, evictor.evicted)
	assert.Equal(t, 1, evictor.evictedAll)
}

func TestListener_GovernorLimitChanged(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		{Value: []byte(`{"type":"governor_limit_changed","tenantId":"tid-1","apiCallsPerDay":288000}`)},
	}}

	_, limits, _, _ := runListener(t, reader)

	assert.Equal(t, int64(288000), limits.updates["tid-1"])
}

func TestListener_TenantChangedRefreshesSlugMap(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		{Value: []byte(`{"type":"tenant_changed","tenantId":"tid-1"}`)},
	}}

	_, _, tenants, routes := runListener(t, reader)

	assert.Equal(t, 1, tenants.refreshes)
	assert.Zero(t, routes.refreshes)
}

func TestListener_RouteChangedRefreshesTable(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		{Value: []byte(`{"type":"route_changed"}`)},
	}}

	_, _, tenants, routes := runListener(t, reader)

	assert.Equal(t, 1, routes.refreshes)
	assert.Zero(t, tenants.refreshes)
}

func TestListener_FullResync(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		{Value: []byte(`{"type":"full_resync"}`)},
	}}

	evictor, _, tenants, routes := runListener(t, reader)

	assert.Equal(t, 1, evictor.evictedAll)
	assert.Equal(t, 1, tenants.refreshes)
	assert.Equal(t, 1, routes.refreshes)
}

func TestListener_MalformedEventSkippedAndCommitted(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		{Value: []byte(`not json`)},
		{Value: []byte(`{"type":"governor_limit_changed","tenantId":"tid-1","apiCallsPerDay":1000}`)},
	}}

	_, limits, _, _ := runListener(t, reader)

	// The malformed message does not wedge the partition; the event behind
	// it is still processed.
	assert.Equal(t, 2, reader.committedCount())
	assert.Equal(t, int64(1000), limits.updates["tid-1"])
}

func TestListener_UnknownEventTypeIgnored(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		{Value: []byte(`{"type":"something_new"}`)},
	}}

	evictor, limits, tenants, routes := runListener(t, reader)

	assert.Empty(t, evictor.evicted)
	assert.Zero(t, evictor.evictedAll)
	assert.Empty(t, limits.updates)
	assert.Zero(t, tenants.refreshes)
	assert.Zero(t, routes.refreshes)
	assert.Equal(t, 1, reader.committedCount())
}

func TestListener_FetchErrorRetriedWithBackoff(t *testing.T) {
	reader := &fakeReader{
		fetchErrs: []error{errors.New("broker unreachable"), errors.New("broker unreachable")},
		messages: []kafka.Message{
			{Value: []byte(`{"type":"oidc_provider_changed","issuer":"https://idp.example.com/realms/acme"}`)},
		},
	}

	evictor := &fakeEvictor{}
	l := newConfigEventListener(reader, evictor, &fakeLimits{}, &fakeRefresher{}, &fakeRefresher{}, testLogger())
	l.initialBackoff = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	// The message queued behind the failures is still consumed.
	assert.Eventually(t, func() bool {
		return reader.pending() == 0 && reader.committedCount() == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	require.NoError(t, <-done)
	assert.Equal(t, []string{"https://idp.example.com/realms/acme"}, evictor.evicted)
}
