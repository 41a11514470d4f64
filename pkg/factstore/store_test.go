package factstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborstone/dealgraph/pkg/types"
)

func interval(id string, validDay, invalidDay, recordedDay int, confidence float64) *types.Fact {
	f := &types.Fact{
		ID:         id,
		RecordedAt: ts(recordedDay),
		Confidence: confidence,
	}
	if validDay > 0 {
		v := ts(validDay)
		f.ValidAt = &v
	}
	if invalidDay > 0 {
		v := ts(invalidDay)
		f.InvalidAt = &v
	}
	return f
}

func TestPickAsOf(t *testing.T) {
	t.Run("nothing covers t", func(t *testing.T) {
		facts := []*types.Fact{interval("a", 5, 10, 5, 0.9)}
		assert.Nil(t, pickAsOf(facts, ts(12), TieBreakRecency))
		assert.Nil(t, pickAsOf(facts, ts(2), TieBreakRecency))
	})

	t.Run("end exclusive start inclusive", func(t *testing.T) {
		facts := []*types.Fact{interval("a", 5, 10, 5, 0.9)}
		require.NotNil(t, pickAsOf(facts, ts(5), TieBreakRecency))
		assert.Nil(t, pickAsOf(facts, ts(10), TieBreakRecency))
	})

	t.Run("open intervals cover everything after valid_at", func(t *testing.T) {
		facts := []*types.Fact{interval("a", 5, 0, 5, 0.9)}
		got := pickAsOf(facts, ts(300), TieBreakRecency)
		require.NotNil(t, got)
		assert.Equal(t, "a", got.ID)
	})

	t.Run("nil valid_at covers any t", func(t *testing.T) {
		facts := []*types.Fact{interval("a", 0, 0, 5, 0.9)}
		require.NotNil(t, pickAsOf(facts, ts(1), TieBreakRecency))
	})

	t.Run("recency picks the later recording", func(t *testing.T) {
		facts := []*types.Fact{
			interval("older", 1, 0, 2, 0.99),
			interval("newer", 1, 0, 8, 0.50),
		}
		got := pickAsOf(facts, ts(9), TieBreakRecency)
		require.NotNil(t, got)
		assert.Equal(t, "newer", got.ID)
	})

	t.Run("confidence policy prefers the surer fact", func(t *testing.T) {
		facts := []*types.Fact{
			interval("older", 1, 0, 2, 0.99),
			interval("newer", 1, 0, 8, 0.50),
		}
		got := pickAsOf(facts, ts(9), TieBreakConfidence)
		require.NotNil(t, got)
		assert.Equal(t, "older", got.ID)
	})

	t.Run("invalidated fact loses to the open one", func(t *testing.T) {
		facts := []*types.Fact{
			interval("closed", 1, 6, 9, 0.9),
			interval("open", 1, 0, 2, 0.9),
		}
		got := pickAsOf(facts, ts(7), TieBreakRecency)
		require.NotNil(t, got)
		assert.Equal(t, "open", got.ID, "the closed interval no longer covers t")
	})
}

func TestBeats(t *testing.T) {
	t.Run("recency falls back to confidence on equal recorded_at", func(t *testing.T) {
		a := interval("a", 0, 0, 5, 0.9)
		b := interval("b", 0, 0, 5, 0.7)
		assert.True(t, beats(a, b, TieBreakRecency))
		assert.False(t, beats(b, a, TieBreakRecency))
	})

	t.Run("confidence falls back to recency on equal confidence", func(t *testing.T) {
		a := interval("a", 0, 0, 8, 0.9)
		b := interval("b", 0, 0, 5, 0.9)
		assert.True(t, beats(a, b, TieBreakConfidence))
		assert.False(t, beats(b, a, TieBreakConfidence))
	})
}

func TestSortByRecorded(t *testing.T) {
	facts := []*types.Fact{
		interval("b", 0, 0, 5, 0.9),
		interval("a", 0, 0, 5, 0.9),
		interval("c", 0, 0, 2, 0.9),
	}
	sortByRecorded(facts)
	assert.Equal(t, "c", facts[0].ID)
	assert.Equal(t, "a", facts[1].ID, "equal recorded_at orders by id")
	assert.Equal(t, "b", facts[2].ID)
}

func TestConfigTieBreakDefault(t *testing.T) {
	assert.Equal(t, TieBreakRecency, Config{}.tieBreak())
	assert.Equal(t, TieBreakRecency, Config{TieBreak: "bogus"}.tieBreak())
	assert.Equal(t, TieBreakConfidence, Config{TieBreak: TieBreakConfidence}.tieBreak())
}

func TestNewUnknownBackend(t *testing.T) {
	_, err := New(Config{Backend: "cassandra"}, nil)
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestNewDefaultsToBadger(t *testing.T) {
	store, err := New(Config{InMemory: true}, nil)
	require.NoError(t, err)
	defer store.Close()
	_, ok := store.(*BadgerStore)
	assert.True(t, ok)
}

func TestPickAsOfEmpty(t *testing.T) {
	assert.Nil(t, pickAsOf(nil, time.Now(), TieBreakRecency))
}
