package internal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lychee-technology/resource"
	"github.com/lychee-technology/resource/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var statusCodec = codec.Mapping{Pairs: []codec.Pair{
	{Logical: "enabled", Physical: "*ENABLED"},
	{Logical: "disabled", Physical: "*DISABLED"},
}}

func newUserRegistry(t *testing.T) resource.MetadataRegistry {
	t.Helper()
	reg := NewMetadataRegistry("user", "NAME")
	for _, d := range []resource.Descriptor{
		{ID: "NAME", Kind: resource.KindText, ReadOnly: true, Codec: codec.Text{Width: 10}},
		{ID: "STATUS", Kind: resource.KindText, LegalValues: []any{"enabled", "disabled"}, Codec: statusCodec,
			GetOperation: "USRI0100", SetOperation: "CHGUSRPRF"},
		{ID: "TEXT", Kind: resource.KindText, GetOperation: "USRI0100", SetOperation: "CHGUSRPRF"},
		{ID: "STATUS", Class: resource.ClassSelection, Kind: resource.KindText,
			LegalValues: []any{"enabled", "disabled"}, Codec: statusCodec},
		{ID: "GROUP", Class: resource.ClassSelection, Kind: resource.KindText},
		{ID: "NAME", Class: resource.ClassSort, Kind: resource.KindText},
	} {
		require.NoError(t, reg.Register(d))
	}
	return reg
}

func userRecord(name, status string) resource.Record {
	return resource.Record{"NAME": fmt.Sprintf("%-10s", name), "STATUS": status}
}

func userPage(from, n int) []resource.Record {
	page := make([]resource.Record, 0, n)
	for i := from; i < from+n; i++ {
		page = append(page, userRecord(fmt.Sprintf("USER%02d", i), "*ENABLED"))
	}
	return page
}

type eventLog struct {
	mu     sync.Mutex
	events []resource.ListEvent
}

func (l *eventLog) record(e resource.ListEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

// types returns the recorded event types without busy and idle notifications.
func (l *eventLog) types() []resource.ListEventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []resource.ListEventType
	for _, e := range l.events {
		if e.Type == resource.EventBusy || e.Type == resource.EventIdle {
			continue
		}
		out = append(out, e.Type)
	}
	return out
}

func (l *eventLog) ofType(t resource.ListEventType) []resource.ListEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []resource.ListEvent
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (l *eventLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

func newUserList(t *testing.T, source *fakeSource, opts ListOptions) (resource.ResourceList, *eventLog) {
	t.Helper()
	opts.Source = source
	list, err := NewResourceList(newUserRegistry(t), opts)
	require.NoError(t, err)
	log := &eventLog{}
	list.AddListener(log.record)
	return list, log
}

func repeatType(t resource.ListEventType, n int) []resource.ListEventType {
	out := make([]resource.ListEventType, n)
	for i := range out {
		out[i] = t
	}
	return out
}

// TestListPagedLoadScenario loads two pages of a filtered list and checks
// the exact event sequence.
func TestListPagedLoadScenario(t *testing.T) {
	source := &fakeSource{pages: [][]resource.Record{userPage(0, 5), userPage(5, 3)}}
	list, log := newUserList(t, source, ListOptions{PageSize: 5})
	ctx := context.Background()

	require.NoError(t, list.SetSelection("STATUS", "enabled"))
	require.NoError(t, list.Open(ctx))
	assert.Nil(t, list.At(0), "nothing is loaded before the first wait")
	assert.False(t, list.IsAvailable(0))
	assert.Equal(t, resource.ListLoading, list.State())

	require.NoError(t, list.WaitForComplete(ctx))
	assert.True(t, list.IsComplete())
	assert.Equal(t, 8, list.Length())

	var want []resource.ListEventType
	want = append(want, resource.EventListOpened, resource.EventLengthChanged)
	want = append(want, repeatType(resource.EventResourceAdded, 5)...)
	want = append(want, resource.EventLengthChanged)
	want = append(want, repeatType(resource.EventResourceAdded, 3)...)
	want = append(want, resource.EventListCompleted)
	assert.Equal(t, want, log.types())

	lengths := log.ofType(resource.EventLengthChanged)
	require.Len(t, lengths, 2)
	assert.Equal(t, 5, lengths[0].Length)
	assert.Equal(t, 8, lengths[1].Length)
	for i, e := range log.ofType(resource.EventResourceAdded) {
		assert.Equal(t, i, e.Index)
		assert.Same(t, list.At(i), e.Resource)
	}

	require.Len(t, source.queries, 1)
	q := source.queries[0]
	assert.Equal(t, "user", q.Kind)
	assert.Equal(t, map[resource.AttributeID]any{"STATUS": "*ENABLED"}, q.Selection)
	assert.Equal(t, 5, q.PageSize)
	assert.Equal(t, 1, source.closedCount(), "exhausted handle is closed")

	first := list.At(0)
	v, ok := first.Property("NAME")
	require.True(t, ok)
	assert.Equal(t, "USER00", v)
	assert.True(t, first.Frozen())
	status, err := first.Get(ctx, "STATUS")
	require.NoError(t, err)
	assert.Equal(t, "enabled", status)
}

func TestListWaitForDrivesOnlyNeededPages(t *testing.T) {
	source := &fakeSource{pages: [][]resource.Record{userPage(0, 2), userPage(2, 2), userPage(4, 2)}}
	list, _ := newUserList(t, source, ListOptions{})
	ctx := context.Background()

	require.NoError(t, list.Open(ctx))
	require.NoError(t, list.WaitFor(ctx, 2))
	assert.Equal(t, 4, list.Length())
	assert.False(t, list.IsComplete())
	assert.NotNil(t, list.At(3))
	assert.Nil(t, list.At(4))

	require.NoError(t, list.WaitFor(ctx, 100), "waiting past the end returns at completion")
	assert.Equal(t, 6, list.Length())
	assert.True(t, list.IsComplete())
}

func TestListClose(t *testing.T) {
	source := &fakeSource{pages: [][]resource.Record{userPage(0, 3)}}
	list, log := newUserList(t, source, ListOptions{})
	ctx := context.Background()

	require.NoError(t, list.Open(ctx))
	require.NoError(t, list.WaitForComplete(ctx))
	log.reset()

	require.NoError(t, list.Close(ctx))
	require.NoError(t, list.Close(ctx))
	assert.Equal(t, []resource.ListEventType{resource.EventListClosed}, log.types())
	assert.False(t, list.IsOpen())
	assert.False(t, list.IsComplete())
	assert.Equal(t, resource.ListClosed, list.State())
	assert.Equal(t, 0, list.Length())
	assert.Nil(t, list.At(0))
	assert.NoError(t, list.WaitFor(ctx, 0), "waiting on a closed list returns at once")
}

func TestListCloseWhileLoadingClosesHandle(t *testing.T) {
	source := &fakeSource{pages: [][]resource.Record{userPage(0, 2), userPage(2, 2)}}
	list, _ := newUserList(t, source, ListOptions{})
	ctx := context.Background()

	require.NoError(t, list.Open(ctx))
	require.NoError(t, list.WaitFor(ctx, 0))
	assert.Equal(t, 0, source.closedCount())

	require.NoError(t, list.Close(ctx))
	assert.Equal(t, 1, source.closedCount())
}

func TestListOpenTwiceIsNoop(t *testing.T) {
	source := &fakeSource{pages: [][]resource.Record{userPage(0, 1)}}
	list, log := newUserList(t, source, ListOptions{})
	ctx := context.Background()

	require.NoError(t, list.Open(ctx))
	require.NoError(t, list.Open(ctx))
	assert.Len(t, log.ofType(resource.EventListOpened), 1)
}

func TestListPageFailure(t *testing.T) {
	source := &fakeSource{
		pages:   [][]resource.Record{userPage(0, 5), userPage(5, 3)},
		pageErr: map[int]error{1: errors.New("connection reset")},
	}
	list, log := newUserList(t, source, ListOptions{})
	ctx := context.Background()

	require.NoError(t, list.Open(ctx))
	err := list.WaitForComplete(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, resource.ErrListInError))
	assert.True(t, errors.Is(err, resource.ErrRemoteCallFailed))
	assert.Equal(t, resource.ListInError, list.State())
	assert.Equal(t, err, list.Err())
	assert.Equal(t, 5, list.Length(), "records loaded before the failure stay available")
	assert.False(t, list.IsComplete())

	inError := log.ofType(resource.EventListInError)
	require.Len(t, inError, 1)
	assert.Equal(t, err, inError[0].Err)
	assert.Equal(t, 1, source.closedCount())

	// a refresh recovers
	delete(source.pageErr, 1)
	require.NoError(t, list.RefreshContents(ctx))
	assert.Nil(t, list.Err())
	require.NoError(t, list.WaitForComplete(ctx))
	assert.Equal(t, 8, list.Length())
}

func TestListOpenQueryFailure(t *testing.T) {
	source := &fakeSource{openErr: errors.New("no such library")}
	list, _ := newUserList(t, source, ListOptions{})
	ctx := context.Background()

	require.NoError(t, list.Open(ctx))
	err := list.WaitFor(ctx, 0)
	require.Error(t, err)

	var re *resource.Error
	require.True(t, errors.As(err, &re))
	assert.Equal(t, resource.ErrorTypeListInError, re.Type)
	var cause *resource.Error
	require.True(t, errors.As(re.Cause, &cause))
	assert.Equal(t, resource.ErrCodeListQueryFailed, cause.Code)
	assert.Equal(t, 0, source.closedCount())
}

func TestListRecordErrors(t *testing.T) {
	tests := []struct {
		name   string
		record resource.Record
		target error
	}{
		{name: "missing key", record: resource.Record{"STATUS": "*ENABLED"}, target: resource.ErrPropertyNotSet},
		{name: "undecodable field", record: userRecord("BAD", "*BOGUS"), target: resource.ErrRemoteCallFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &fakeSource{pages: [][]resource.Record{{userRecord("GOOD", "*ENABLED"), tt.record}}}
			list, _ := newUserList(t, source, ListOptions{})
			ctx := context.Background()

			require.NoError(t, list.Open(ctx))
			err := list.WaitForComplete(ctx)
			require.Error(t, err)
			assert.True(t, errors.Is(err, resource.ErrListInError))
			assert.True(t, errors.Is(err, tt.target))
			assert.Equal(t, 0, list.Length(), "a failing page adds nothing")
		})
	}
}

func TestListSkipsUnknownFields(t *testing.T) {
	rec := userRecord("ALICE", "*DISABLED")
	rec["LAST_SIGNON"] = "1250101120000"
	source := &fakeSource{pages: [][]resource.Record{{rec}}}
	list, _ := newUserList(t, source, ListOptions{})
	ctx := context.Background()

	require.NoError(t, list.Open(ctx))
	require.NoError(t, list.WaitForComplete(ctx))
	require.Equal(t, 1, list.Length())
	snap := list.At(0).Snapshot()
	assert.NotContains(t, snap, resource.AttributeID("LAST_SIGNON"))
	assert.Equal(t, "disabled", snap["STATUS"])
}

func TestListRefreshReusesInstances(t *testing.T) {
	source := &fakeSource{pages: [][]resource.Record{{userRecord("ALICE", "*ENABLED"), userRecord("BOB", "*ENABLED")}}}
	list, log := newUserList(t, source, ListOptions{})
	ctx := context.Background()

	require.NoError(t, list.Open(ctx))
	require.NoError(t, list.WaitForComplete(ctx))
	alice := list.At(0)
	require.NoError(t, alice.Set("TEXT", "Alice in accounting"))

	source.pages = [][]resource.Record{{userRecord("CAROL", "*ENABLED"), userRecord("ALICE", "*DISABLED")}}
	log.reset()
	require.NoError(t, list.RefreshContents(ctx))
	assert.Equal(t, 0, list.Length(), "refresh discards loaded entries")
	require.NoError(t, list.WaitForComplete(ctx))

	require.Equal(t, 2, list.Length())
	assert.Same(t, alice, list.At(1))
	assert.True(t, alice.HasPendingChanges(), "staged edits survive a refresh")
	assert.Equal(t, "disabled", alice.Snapshot()["STATUS"])
	assert.Equal(t, resource.EventListOpened, log.types()[0])
	assert.Len(t, source.queries, 2)
	assert.Equal(t, 2, source.closedCount())
}

func TestListRefreshAppliesNewCriteria(t *testing.T) {
	source := &fakeSource{pages: [][]resource.Record{userPage(0, 1)}}
	list, _ := newUserList(t, source, ListOptions{})
	ctx := context.Background()

	require.NoError(t, list.Open(ctx))
	require.NoError(t, list.WaitFor(ctx, 0))
	require.NoError(t, list.SetSelection("GROUP", "QSYS"))
	require.NoError(t, list.SetSort(resource.SortSpec{{ID: "NAME", Descending: true}}))
	require.NoError(t, list.RefreshContents(ctx))
	require.NoError(t, list.WaitForComplete(ctx))

	require.Len(t, source.queries, 2)
	assert.Empty(t, source.queries[0].Selection)
	assert.Equal(t, map[resource.AttributeID]any{"GROUP": "QSYS"}, source.queries[1].Selection)
	assert.Equal(t, resource.SortSpec{{ID: "NAME", Descending: true}}, source.queries[1].Sort)
}

func TestListRefreshClosedListOpens(t *testing.T) {
	source := &fakeSource{pages: [][]resource.Record{userPage(0, 1)}}
	list, log := newUserList(t, source, ListOptions{})
	ctx := context.Background()

	require.NoError(t, list.RefreshContents(ctx))
	assert.True(t, list.IsOpen())
	assert.Equal(t, []resource.ListEventType{resource.EventListOpened}, log.types())
}

func TestListSelectionAndSort(t *testing.T) {
	list, _ := newUserList(t, &fakeSource{}, ListOptions{})

	require.NoError(t, list.SetSelection("STATUS", "disabled"))
	v, ok := list.Selection("STATUS")
	require.True(t, ok)
	assert.Equal(t, "disabled", v)

	require.NoError(t, list.SetSelection("STATUS", nil))
	_, ok = list.Selection("STATUS")
	assert.False(t, ok)

	err := list.SetSelection("STATUS", "locked")
	assert.True(t, errors.Is(err, resource.ErrInvalidValue))
	err = list.SetSelection("TEXT", "x")
	assert.True(t, errors.Is(err, resource.ErrUnknownAttribute))
	err = list.SetSelection("GROUP", 12)
	assert.True(t, errors.Is(err, resource.ErrInvalidValue))

	require.NoError(t, list.SetSort(resource.SortSpec{{ID: "NAME"}}))
	assert.Equal(t, resource.SortSpec{{ID: "NAME"}}, list.Sort())
	err = list.SetSort(resource.SortSpec{{ID: "STATUS"}})
	assert.True(t, errors.Is(err, resource.ErrUnknownAttribute))
	assert.Equal(t, resource.SortSpec{{ID: "NAME"}}, list.Sort(), "a rejected sort keeps the previous one")
}

func TestListBackgroundStrategy(t *testing.T) {
	source := &fakeSource{pages: [][]resource.Record{userPage(0, 5), userPage(5, 3)}}
	list, log := newUserList(t, source, ListOptions{Strategy: resource.LoadBackground})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, list.Open(ctx))
	require.NoError(t, list.WaitForComplete(ctx))
	assert.Equal(t, 8, list.Length())
	assert.Eventually(t, func() bool { return source.closedCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		types := log.types()
		return len(types) > 0 && types[len(types)-1] == resource.EventListCompleted
	}, time.Second, 5*time.Millisecond)
}

func TestListSupersededLoadIsSilent(t *testing.T) {
	source := &fakeSource{
		pages: [][]resource.Record{userPage(0, 5), userPage(5, 3)},
		block: make(chan struct{}),
	}
	list, log := newUserList(t, source, ListOptions{Strategy: resource.LoadBackground})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, list.Open(ctx))
	require.Eventually(t, func() bool {
		source.mu.Lock()
		defer source.mu.Unlock()
		return len(source.queries) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, list.RefreshContents(ctx))
	close(source.block)
	require.NoError(t, list.WaitForComplete(ctx))

	assert.Equal(t, 8, list.Length())
	assert.Empty(t, log.ofType(resource.EventListInError))
	assert.Len(t, log.ofType(resource.EventListOpened), 2)
	assert.Len(t, log.ofType(resource.EventResourceAdded), 8, "only the current load adds entries")
	assert.Eventually(t, func() bool { return source.closedCount() == 2 }, time.Second, 5*time.Millisecond)
}

func TestListWaitHonorsContext(t *testing.T) {
	source := &fakeSource{pages: [][]resource.Record{userPage(0, 1)}, block: make(chan struct{})}
	list, _ := newUserList(t, source, ListOptions{})

	require.NoError(t, list.Open(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := list.WaitFor(ctx, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, resource.ListLoading, list.State(), "a cancelled wait does not fail the list")

	close(source.block)
	require.NoError(t, list.WaitForComplete(context.Background()))
	assert.Equal(t, 1, list.Length())
}

func TestListSharedIdentityCache(t *testing.T) {
	identities, err := NewIdentityCache("user", 16)
	require.NoError(t, err)
	pages := [][]resource.Record{{userRecord("ALICE", "*ENABLED")}}
	a, _ := newUserList(t, &fakeSource{pages: pages}, ListOptions{Identities: identities})
	b, _ := newUserList(t, &fakeSource{pages: pages}, ListOptions{Identities: identities})
	ctx := context.Background()

	for _, l := range []resource.ResourceList{a, b} {
		require.NoError(t, l.Open(ctx))
		require.NoError(t, l.WaitForComplete(ctx))
	}
	assert.Same(t, a.At(0), b.At(0))
	assert.Equal(t, 1, identities.Len())

	key, err := a.At(0).Key()
	require.NoError(t, err)
	cached, ok := identities.Get(key)
	require.True(t, ok)
	assert.Same(t, a.At(0), cached)
}

func TestNewResourceListValidation(t *testing.T) {
	_, err := NewResourceList(newUserRegistry(t), ListOptions{})
	assert.True(t, resource.IsType(err, resource.ErrorTypeInternal))

	jobs, err := NewIdentityCache("job", 4)
	require.NoError(t, err)
	_, err = NewResourceList(newUserRegistry(t), ListOptions{Source: &fakeSource{}, Identities: jobs})
	assert.Error(t, err)
}

func TestListListenerRemoval(t *testing.T) {
	source := &fakeSource{pages: [][]resource.Record{userPage(0, 1)}}
	list, log := newUserList(t, source, ListOptions{})
	var count int
	remove := list.AddListener(func(resource.ListEvent) { count++ })
	ctx := context.Background()

	require.NoError(t, list.Open(ctx))
	remove()
	remove()
	require.NoError(t, list.WaitForComplete(ctx))
	assert.Equal(t, 1, count)
	assert.Greater(t, len(log.types()), 1)
}

func TestListListenerReadsListDuringDelivery(t *testing.T) {
	source := &fakeSource{pages: [][]resource.Record{userPage(0, 2), userPage(2, 1)}}
	list, _ := newUserList(t, source, ListOptions{})
	ctx := context.Background()

	var seen []string
	list.AddListener(func(e resource.ListEvent) {
		if e.Type != resource.EventResourceAdded {
			return
		}
		require.True(t, list.IsAvailable(e.Index))
		seen = append(seen, fmt.Sprintf("%d/%d", e.Index, list.Length()))
		assert.Same(t, e.Resource, list.At(e.Index))
	})

	require.NoError(t, list.Open(ctx))
	require.NoError(t, list.WaitForComplete(ctx))
	assert.Equal(t, []string{"0/2", "1/2", "2/3"}, seen)
	assert.Equal(t, resource.ListComplete, list.State())
}

func TestIdentityCacheEvicts(t *testing.T) {
	c, err := NewIdentityCache("user", 2)
	require.NoError(t, err)
	reg := newUserRegistry(t)
	var keys []resource.Resource
	for _, name := range []string{"A", "B", "C"} {
		values := map[resource.AttributeID]any{"NAME": name}
		key, err := IdentityKey("user", reg.KeyAttributes(), values)
		require.NoError(t, err)
		r := newLoadedStore(reg, StoreOptions{}, key, values)
		c.Put(key, r)
		keys = append(keys, r)
	}
	assert.Equal(t, 2, c.Len())

	first, _ := keys[0].Key()
	_, ok := c.Get(first)
	assert.False(t, ok, "least recently used entry is evicted")

	c.Purge()
	assert.Equal(t, 0, c.Len())
}
