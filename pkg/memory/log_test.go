package memory

import (
	"fmt"
	"testing"

	"github.com/entrhq/anvil/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendEvents(log *EventLog, n int) []types.Event {
	events := make([]types.Event, n)
	for i := 0; i < n; i++ {
		ev := types.NewObservationEvent(fmt.Sprintf("observation %d", i), false)
		log.Append(ev)
		events[i] = ev
	}
	return events
}

func TestEventLog_AppendAssignsMonotonicIDs(t *testing.T) {
	log := NewEventLog()
	events := appendEvents(log, 5)

	for i, ev := range events {
		assert.Equal(t, i+1, ev.ID())
	}
	assert.Equal(t, 5, log.Len())
}

func TestEventLog_AppendKeepsReplayedIDs(t *testing.T) {
	log := NewEventLog()
	replayed := types.NewObservationEvent("from storage", false)
	replayed.SetID(41)

	assert.Equal(t, 41, log.Append(replayed))

	// The counter advances past the replayed id.
	fresh := types.NewObservationEvent("new", false)
	assert.Equal(t, 42, log.Append(fresh))
}

func TestEventLog_ViewWithoutCondensation(t *testing.T) {
	log := NewEventLog()
	appendEvents(log, 4)

	view := log.View()
	assert.Equal(t, 4, view.Len())
	for i := 0; i < view.Len(); i++ {
		assert.Equal(t, i+1, view.At(i).ID())
	}
}

func TestEventLog_ViewAppliesCondensation(t *testing.T) {
	log := NewEventLog()
	appendEvents(log, 10)

	log.Append(&types.Condensation{
		ForgottenStartID: 2,
		ForgottenEndID:   5,
		Summary:          "events 2-5 compressed",
		SummaryOffset:    1,
	})

	view := log.View()

	// Round-trip length: original 10 - 4 forgotten + 1 summary.
	require.Equal(t, 7, view.Len())

	// Head retained, summary spliced at the offset.
	assert.Equal(t, 1, view.At(0).ID())
	summary, ok := view.At(1).(*types.SummaryEvent)
	require.True(t, ok, "expected summary event at offset 1")
	assert.Equal(t, "events 2-5 compressed", summary.Summary)

	// Forgotten ids are gone; the condensation record itself is consumed.
	for _, ev := range view.Events() {
		assert.NotContains(t, []int{2, 3, 4, 5}, ev.ID())
		_, isCondensation := ev.(*types.Condensation)
		assert.False(t, isCondensation)
	}
}

func TestEventLog_ViewUsesMostRecentSummary(t *testing.T) {
	log := NewEventLog()
	appendEvents(log, 8)

	log.Append(&types.Condensation{
		ForgottenStartID: 2,
		ForgottenEndID:   3,
		Summary:          "first summary",
		SummaryOffset:    1,
	})
	log.Append(&types.Condensation{
		ForgottenStartID: 4,
		ForgottenEndID:   6,
		Summary:          "second summary",
		SummaryOffset:    1,
	})

	view := log.View()

	// Both ranges forgotten: 8 - 5 + 1 summary.
	require.Equal(t, 4, view.Len())
	summary, ok := view.At(1).(*types.SummaryEvent)
	require.True(t, ok)
	assert.Equal(t, "second summary", summary.Summary)
}

func TestEventLog_ViewIsIndependentOfLaterAppends(t *testing.T) {
	log := NewEventLog()
	appendEvents(log, 3)

	view := log.View()
	appendEvents(log, 2)

	assert.Equal(t, 3, view.Len())
	assert.Equal(t, 5, log.View().Len())
}

func TestView_SliceAndLast(t *testing.T) {
	log := NewEventLog()
	appendEvents(log, 5)
	view := log.View()

	sub := view.Slice(1, 4)
	assert.Equal(t, 3, sub.Len())
	assert.Equal(t, 2, sub.At(0).ID())

	assert.Equal(t, 5, view.Last().ID())
	assert.Nil(t, NewView(nil).Last())
}
