package trigger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestAdvanceTrailingStop_SeedsFromFirstSample(t *testing.T) {
	state := &domain.TrailingState{}
	hit, err := AdvanceTrailingStop(state, domain.Sell, 500, dec("100"))
	require.NoError(t, err)
	assert.False(t, hit, "seeding sample must not trigger")
	assert.True(t, state.Seeded)
	assert.True(t, state.WaterMark.Equal(dec("100")))
	assert.True(t, state.CurrentStop.Equal(dec("95")), "stop = 100 * (1 - 500/10000), got %s", state.CurrentStop)
}

func TestAdvanceTrailingStop_SellRatchetAndTrigger(t *testing.T) {
	state := &domain.TrailingState{}
	feed := func(p string) bool {
		hit, err := AdvanceTrailingStop(state, domain.Sell, 1000, dec(p))
		require.NoError(t, err)
		return hit
	}

	assert.False(t, feed("200")) // seed: stop 180
	assert.False(t, feed("220")) // ratchet: stop 198
	assert.False(t, feed("210")) // below high, above stop
	assert.False(t, feed("250")) // ratchet: stop 225
	assert.True(t, state.CurrentStop.Equal(dec("225")))
	assert.True(t, feed("225"), "boundary equality triggers")
	assert.True(t, state.WaterMark.Equal(dec("250")), "water mark never decreases")
}

func TestAdvanceTrailingStop_StopMonotonicity(t *testing.T) {
	// For any sample sequence the sell-side stop is non-decreasing step over
	// step, whether the price rises or falls.
	series := []string{"100", "107", "103", "95", "120", "81", "140", "140", "60", "200"}
	state := &domain.TrailingState{}
	prevStop := decimal.Zero
	for i, p := range series {
		_, err := AdvanceTrailingStop(state, domain.Sell, 750, dec(p))
		require.NoError(t, err)
		if i > 0 {
			assert.True(t, state.CurrentStop.GreaterThanOrEqual(prevStop),
				"stop regressed at step %d: %s < %s", i, state.CurrentStop, prevStop)
		}
		prevStop = state.CurrentStop
	}
}

func TestAdvanceTrailingStop_BuySideSymmetric(t *testing.T) {
	state := &domain.TrailingState{}
	feed := func(p string) bool {
		hit, err := AdvanceTrailingStop(state, domain.Buy, 1000, dec(p))
		require.NoError(t, err)
		return hit
	}

	assert.False(t, feed("100")) // seed: stop 110
	assert.False(t, feed("80"))  // ratchet down: stop 88
	assert.True(t, state.WaterMark.Equal(dec("80")))
	assert.True(t, state.CurrentStop.Equal(dec("88")))
	assert.False(t, feed("85")) // above low, below stop
	assert.True(t, feed("88"), "boundary equality triggers")
}

func TestAdvanceTrailingStop_InvalidInputs(t *testing.T) {
	tests := []struct {
		name     string
		state    *domain.TrailingState
		trailBps uint32
		price    string
	}{
		{name: "nil state", state: nil, trailBps: 500, price: "100"},
		{name: "zero price", state: &domain.TrailingState{}, trailBps: 500, price: "0"},
		{name: "negative price", state: &domain.TrailingState{}, trailBps: 500, price: "-3"},
		{name: "zero trail", state: &domain.TrailingState{}, trailBps: 0, price: "100"},
		{name: "trail at full width", state: &domain.TrailingState{}, trailBps: 10000, price: "100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := AdvanceTrailingStop(tt.state, domain.Sell, tt.trailBps, dec(tt.price))
			assert.Error(t, err)
		})
	}
}
