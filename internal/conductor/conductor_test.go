package conductor

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/National-Digital-Twin/federator-sub003/internal/filter"
	"github.com/National-Digital-Twin/federator-sub003/internal/kafkaio"
	"github.com/National-Digital-Twin/federator-sub003/internal/kv"
	"github.com/National-Digital-Twin/federator-sub003/internal/model"
	"github.com/National-Digital-Twin/federator-sub003/internal/sender"
	"github.com/National-Digital-Twin/federator-sub003/internal/wire"
	"github.com/National-Digital-Twin/federator-sub003/pkg/logger"
)

type fakeSource struct {
	mu     sync.Mutex
	events []*kafkaio.Event
	pos    int
	closed bool
}

func (f *fakeSource) Poll(ctx context.Context, timeout time.Duration) (*kafkaio.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pos >= len(f.events) {
		return nil, nil
	}
	e := f.events[f.pos]
	f.pos++
	return e, nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func newTestOffsets(t *testing.T) *kv.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := kv.DefaultConfig()
	cfg.Host = mr.Host()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	cfg.Port = port

	store, err := kv.New(context.Background(), cfg, logger.New("conductor-test"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestConductorDeliversAllowedEventAndAdvancesOffset(t *testing.T) {
	src := &fakeSource{events: []*kafkaio.Event{
		{Topic: "T", Offset: 42, Key: []byte("k"), Value: []byte{0x01, 0x02},
			Headers: []model.Attribute{{Name: filter.SecurityLabelHeader, Value: "nationality=UK"}}},
	}}

	var delivered []*wire.EventFrame
	send := sender.New[*wire.EventFrame](context.Background(), func(f *wire.EventFrame) error {
		delivered = append(delivered, f)
		return nil
	}, logger.New("conductor-test"))

	offsets := newTestOffsets(t)
	c := newConductor(Config{
		ClientID:          "c",
		Topic:             "T",
		Attrs:             nil,
		InactivityTimeout: 1,
		PollTimeout:       10 * time.Millisecond,
	}, src, filterAllowAll{}, send, offsets, logger.New("conductor-test"))

	require.NoError(t, c.Run(context.Background()))
	require.Len(t, delivered, 1)
	require.Equal(t, int64(42), delivered[0].Offset)

	next, ok := offsets.GetOffset(context.Background(), "c", "T")
	require.True(t, ok)
	require.Equal(t, int64(43), next)
	require.True(t, src.closed)
}

func TestConductorDenyDoesNotAdvanceOffset(t *testing.T) {
	src := &fakeSource{events: []*kafkaio.Event{
		{Topic: "T", Offset: 42, Key: []byte("k"), Value: []byte{0x01},
			Headers: []model.Attribute{{Name: filter.SecurityLabelHeader, Value: "nationality=UK"}}},
	}}

	var delivered int
	send := sender.New[*wire.EventFrame](context.Background(), func(f *wire.EventFrame) error {
		delivered++
		return nil
	}, logger.New("conductor-test"))

	offsets := newTestOffsets(t)
	c := newConductor(Config{
		ClientID:          "c",
		Topic:             "T",
		Attrs:             []model.Attribute{{Name: "nationality", Value: "FR"}},
		InactivityTimeout: 1,
		PollTimeout:       10 * time.Millisecond,
	}, src, filterAllowAll{allow: false}, send, offsets, logger.New("conductor-test"))

	require.NoError(t, c.Run(context.Background()))
	require.Equal(t, 0, delivered)

	_, ok := offsets.GetOffset(context.Background(), "c", "T")
	require.False(t, ok)
}

func TestConductorFiltersSharedHeadersThroughAllowlist(t *testing.T) {
	src := &fakeSource{events: []*kafkaio.Event{
		{Topic: "T", Offset: 42, Key: []byte("k"), Value: []byte{0x01}, Headers: []model.Attribute{
			{Name: filter.SecurityLabelHeader, Value: "nationality=UK"},
			{Name: "Correlation-ID", Value: "abc-123"},
			{Name: "Content-Type", Value: "application/json"},
		}},
	}}

	var delivered []*wire.EventFrame
	send := sender.New[*wire.EventFrame](context.Background(), func(f *wire.EventFrame) error {
		delivered = append(delivered, f)
		return nil
	}, logger.New("conductor-test"))

	offsets := newTestOffsets(t)
	c := newConductor(Config{
		ClientID:          "c",
		Topic:             "T",
		InactivityTimeout: 1,
		PollTimeout:       10 * time.Millisecond,
		HeaderAllowlist:   []string{"Correlation-ID"},
	}, src, filterAllowAll{}, send, offsets, logger.New("conductor-test"))

	require.NoError(t, c.Run(context.Background()))
	require.Len(t, delivered, 1)
	require.Equal(t, []wire.HeaderEntry{{Name: "Correlation-ID", Value: "abc-123"}}, delivered[0].SharedHeaders)
}

func TestConductorEmptyAllowlistYieldsNoSharedHeaders(t *testing.T) {
	src := &fakeSource{events: []*kafkaio.Event{
		{Topic: "T", Offset: 42, Key: []byte("k"), Value: []byte{0x01}, Headers: []model.Attribute{
			{Name: filter.SecurityLabelHeader, Value: "nationality=UK"},
			{Name: "Correlation-ID", Value: "abc-123"},
		}},
	}}

	var delivered []*wire.EventFrame
	send := sender.New[*wire.EventFrame](context.Background(), func(f *wire.EventFrame) error {
		delivered = append(delivered, f)
		return nil
	}, logger.New("conductor-test"))

	offsets := newTestOffsets(t)
	c := newConductor(Config{
		ClientID:          "c",
		Topic:             "T",
		InactivityTimeout: 1,
		PollTimeout:       10 * time.Millisecond,
	}, src, filterAllowAll{}, send, offsets, logger.New("conductor-test"))

	require.NoError(t, c.Run(context.Background()))
	require.Len(t, delivered, 1)
	require.Empty(t, delivered[0].SharedHeaders)
}

func TestConductorStopsOnInactivity(t *testing.T) {
	src := &fakeSource{}
	send := sender.New[*wire.EventFrame](context.Background(), func(f *wire.EventFrame) error { return nil }, logger.New("conductor-test"))
	offsets := newTestOffsets(t)

	c := newConductor(Config{
		ClientID:          "c",
		Topic:             "T",
		InactivityTimeout: 2,
		PollTimeout:       5 * time.Millisecond,
	}, src, filterAllowAll{}, send, offsets, logger.New("conductor-test"))

	require.NoError(t, c.Run(context.Background()))
	require.Equal(t, StateTerminated, c.State())
	require.True(t, src.closed)
}

func TestConductorPollErrorAbortsWithMessageProcessing(t *testing.T) {
	failing := pollErrorSource{err: errors.New("broker unreachable")}
	send := sender.New[*wire.EventFrame](context.Background(), func(f *wire.EventFrame) error { return nil }, logger.New("conductor-test"))
	offsets := newTestOffsets(t)

	c := newConductor(Config{ClientID: "c", Topic: "T", PollTimeout: 5 * time.Millisecond}, failing, filterAllowAll{}, send, offsets, logger.New("conductor-test"))

	err := c.Run(context.Background())
	require.ErrorIs(t, err, ErrMessageProcessing)
}

type pollErrorSource struct{ err error }

func (p pollErrorSource) Poll(ctx context.Context, timeout time.Duration) (*kafkaio.Event, error) {
	return nil, p.err
}
func (p pollErrorSource) Close() error { return nil }

type filterAllowAll struct{ allow bool }

func (f filterAllowAll) Allow(securityLabelHeader string, attrs []model.Attribute) bool {
	if len(attrs) == 0 {
		return true
	}
	return f.allow
}
