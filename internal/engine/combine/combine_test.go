package combine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfoundry/sigforge/internal/domain/signal"
	"github.com/quantfoundry/sigforge/internal/engine"
)

var base = time.Date(2025, 4, 7, 12, 0, 10, 0, time.UTC)

func buyAt(t time.Time, strength float64) signal.Signal {
	return signal.Signal{Timestamp: t, Type: signal.TypeBuy, Strength: signal.StrengthPtr(strength)}
}

func sellAt(t time.Time, strength float64) signal.Signal {
	return signal.Signal{Timestamp: t, Type: signal.TypeSell, Strength: signal.StrengthPtr(strength)}
}

func TestCombine_WeightedAveragesAgreeingStrengths(t *testing.T) {
	src1 := signal.Set{buyAt(base, 0.8)}
	src2 := signal.Set{buyAt(base.Add(10*time.Second), 0.6)}

	combined, st, err := Combine([]signal.Set{src1, src2}, Weighted)
	require.NoError(t, err)
	require.Len(t, combined, 1)

	out := combined[0]
	assert.Equal(t, signal.TypeBuy, out.Type)
	require.NotNil(t, out.Strength)
	assert.InDelta(t, 0.7, *out.Strength, 1e-9)
	assert.Equal(t, "consensus_weighted", out.Method)
	assert.Equal(t, "combiner", out.Source)
	assert.InDelta(t, 0.7, out.Attrs[AttrConfidence].(float64), 1e-9)
	assert.Equal(t, 2, out.Attrs[AttrSourceCount].(int))

	prov := out.Attrs[AttrProvenance].([]Provenance)
	require.Len(t, prov, 2)
	assert.Equal(t, "source_1", prov[0].Source)
	assert.Equal(t, "source_2", prov[1].Source)

	assert.Equal(t, 2, st.OriginalCount)
	assert.Equal(t, 1, st.CombinedCount)
	assert.InDelta(t, 50.0, st.ReductionPct, 1e-9)
}

func TestCombine_WeightedTieFallsToLargerGroup(t *testing.T) {
	src1 := signal.Set{buyAt(base, 0.8)}
	src2 := signal.Set{sellAt(base, 0.8)}
	src3 := signal.Set{sellAt(base.Add(5*time.Second), 0.8)}

	combined, _, err := Combine([]signal.Set{src1, src2, src3}, Weighted)
	require.NoError(t, err)
	require.Len(t, combined, 1)
	assert.Equal(t, signal.TypeSell, combined[0].Type)
}

func TestCombine_MajorityNeedsStrictMajority(t *testing.T) {
	src1 := signal.Set{buyAt(base, 0.9)}
	src2 := signal.Set{buyAt(base.Add(time.Second), 0.7)}
	src3 := signal.Set{sellAt(base.Add(2*time.Second), 0.8)}

	combined, st, err := Combine([]signal.Set{src1, src2, src3}, Majority)
	require.NoError(t, err)
	require.Len(t, combined, 1)
	assert.Equal(t, signal.TypeBuy, combined[0].Type)
	assert.InDelta(t, 2.0/3.0, combined[0].Attrs[AttrConfidence].(float64), 1e-9)
	assert.Equal(t, 0, st.GroupsNoConsensus)
}

func TestCombine_MajorityEvenSplitEmitsNothing(t *testing.T) {
	src1 := signal.Set{buyAt(base, 0.9)}
	src2 := signal.Set{sellAt(base, 0.9)}

	combined, st, err := Combine([]signal.Set{src1, src2}, Majority)
	require.NoError(t, err)
	assert.Empty(t, combined)
	assert.Equal(t, 1, st.GroupsNoConsensus)
	assert.InDelta(t, 100.0, st.ReductionPct, 1e-9)
}

func TestCombine_UnanimousRequiresFullAgreement(t *testing.T) {
	agree1 := signal.Set{buyAt(base, 0.6)}
	agree2 := signal.Set{buyAt(base.Add(time.Second), 0.8)}
	combined, _, err := Combine([]signal.Set{agree1, agree2}, Unanimous)
	require.NoError(t, err)
	require.Len(t, combined, 1)
	assert.InDelta(t, 1.0, combined[0].Attrs[AttrConfidence].(float64), 1e-9)

	dissent := signal.Set{sellAt(base.Add(2*time.Second), 0.8)}
	combined, st, err := Combine([]signal.Set{agree1, agree2, dissent}, Unanimous)
	require.NoError(t, err)
	assert.Empty(t, combined)
	assert.Equal(t, 1, st.GroupsNoConsensus)
}

func TestCombine_AnyPrefersBuyOverSell(t *testing.T) {
	src1 := signal.Set{sellAt(base, 0.5)}
	src2 := signal.Set{buyAt(base.Add(time.Second), 0.5)}
	src3 := signal.Set{{Timestamp: base.Add(2 * time.Second), Type: signal.TypeOther}}

	combined, _, err := Combine([]signal.Set{src1, src2, src3}, Any)
	require.NoError(t, err)
	require.Len(t, combined, 1)
	assert.Equal(t, signal.TypeBuy, combined[0].Type)
	assert.InDelta(t, 1.0/3.0, combined[0].Attrs[AttrConfidence].(float64), 1e-9)
}

func TestCombine_AnyWithOnlyOtherEmitsNothing(t *testing.T) {
	src1 := signal.Set{{Timestamp: base, Type: signal.TypeOther}}
	src2 := signal.Set{{Timestamp: base.Add(time.Second), Type: signal.TypeOther}}

	combined, st, err := Combine([]signal.Set{src1, src2}, Any)
	require.NoError(t, err)
	assert.Empty(t, combined)
	assert.Equal(t, 1, st.GroupsNoConsensus)
}

func TestCombine_QuorumCountsDistinctSourcesNotMembers(t *testing.T) {
	// Two signals from the same source must not corroborate each other.
	src1 := signal.Set{buyAt(base, 0.9), buyAt(base.Add(5*time.Second), 0.8)}
	src2 := signal.Set{buyAt(base.AddDate(0, 0, 1), 0.7)}

	combined, st, err := Combine([]signal.Set{src1, src2}, Any)
	require.NoError(t, err)
	assert.Empty(t, combined)
	assert.Equal(t, 2, st.GroupsBelowQuorum)
}

func TestCombine_AlignmentWindowGroups(t *testing.T) {
	src1 := signal.Set{buyAt(base, 0.8)}
	src2 := signal.Set{buyAt(base.Add(20*time.Minute), 0.6)}

	// Under the default minute alignment the signals never meet.
	combined, _, err := Combine([]signal.Set{src1, src2}, Weighted)
	require.NoError(t, err)
	assert.Empty(t, combined)

	// A one-hour window pulls them into the same group.
	combined, _, err = Combine([]signal.Set{src1, src2}, Weighted, WithAlignment(time.Hour))
	require.NoError(t, err)
	require.Len(t, combined, 1)
	assert.InDelta(t, 0.7, *combined[0].Strength, 1e-9)
}

func TestCombine_MinSourcesOption(t *testing.T) {
	src1 := signal.Set{buyAt(base, 0.8)}
	src2 := signal.Set{buyAt(base.Add(time.Second), 0.8)}

	combined, st, err := Combine([]signal.Set{src1, src2}, Any, WithMinSources(3))
	require.NoError(t, err)
	assert.Empty(t, combined)
	assert.Equal(t, 1, st.GroupsBelowQuorum)
}

func TestCombine_InsufficientSources(t *testing.T) {
	_, _, err := Combine([]signal.Set{{buyAt(base, 0.5)}}, Majority)
	require.Error(t, err)
	assert.Equal(t, engine.KindInsufficientSources, engine.KindOf(err))

	// An empty set does not count as a source.
	_, _, err = Combine([]signal.Set{{buyAt(base, 0.5)}, {}}, Majority)
	require.Error(t, err)
	assert.Equal(t, engine.KindInsufficientSources, engine.KindOf(err))
}

func TestCombine_UnknownMethod(t *testing.T) {
	_, _, err := Combine([]signal.Set{{buyAt(base, 0.5)}, {buyAt(base, 0.6)}}, Method("plurality"))
	require.Error(t, err)
	assert.Equal(t, engine.KindInvalidOperator, engine.KindOf(err))
}

func TestCombine_MissingTimestampFails(t *testing.T) {
	src1 := signal.Set{{Type: signal.TypeBuy}}
	src2 := signal.Set{buyAt(base, 0.5)}
	_, _, err := Combine([]signal.Set{src1, src2}, Majority)
	require.Error(t, err)
	assert.Equal(t, engine.KindMissingField, engine.KindOf(err))
}

func TestCombine_OutputIsChronological(t *testing.T) {
	src1 := signal.Set{buyAt(base.AddDate(0, 0, 2), 0.8), buyAt(base, 0.8)}
	src2 := signal.Set{buyAt(base.AddDate(0, 0, 2).Add(time.Second), 0.6), buyAt(base.Add(time.Second), 0.6)}

	combined, _, err := Combine([]signal.Set{src1, src2}, Unanimous)
	require.NoError(t, err)
	require.Len(t, combined, 2)
	assert.True(t, combined[0].Timestamp.Before(combined[1].Timestamp))
}
