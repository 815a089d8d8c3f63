package scoring_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ewocs/typing-comp/internal/scoring"
)

func TestWPM(t *testing.T) {
	tests := map[string]struct {
		correctChars int
		elapsed      time.Duration
		want         float64
	}{
		"400 correct chars in 60s is 80 wpm":  {correctChars: 400, elapsed: 60 * time.Second, want: 80},
		"500 correct chars in 60s is 100 wpm": {correctChars: 500, elapsed: 60 * time.Second, want: 100},
		"300 correct chars in 60s is 60 wpm":  {correctChars: 300, elapsed: 60 * time.Second, want: 60},
		"100 correct chars in 30s is 40 wpm":  {correctChars: 100, elapsed: 30 * time.Second, want: 40},
		"zero elapsed yields 0":               {correctChars: 400, elapsed: 0, want: 0},
		"negative elapsed yields 0":           {correctChars: 400, elapsed: -time.Second, want: 0},
		"zero chars yields 0":                 {correctChars: 0, elapsed: time.Minute, want: 0},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got := scoring.WPM(tt.correctChars, tt.elapsed)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWPM_ExactFormula(t *testing.T) {
	t.Parallel()

	// The formula is (correct/5)/(elapsedSeconds/60), bit-for-bit.
	for _, correct := range []int{1, 7, 123, 410, 997} {
		for _, secs := range []float64{1, 13, 60, 61.5, 300} {
			elapsed := time.Duration(secs * float64(time.Second))
			want := (float64(correct) / 5) / (elapsed.Seconds() / 60)
			assert.Equal(t, want, scoring.WPM(correct, elapsed))
		}
	}
}

func TestAccuracy(t *testing.T) {
	tests := map[string]struct {
		correct int
		total   int
		want    float64
	}{
		"all correct is 100":        {correct: 500, total: 500, want: 100},
		"zero typed is 0":           {correct: 0, total: 0, want: 0},
		"negative total is 0":       {correct: 0, total: -1, want: 0},
		"half correct is 50":        {correct: 5, total: 10, want: 50},
		"exact ratio is unrounded":  {correct: 400, total: 410, want: float64(400) / 410 * 100},
		"300 of 330 is about 90.9%": {correct: 300, total: 330, want: float64(300) / 330 * 100},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, scoring.Accuracy(tt.correct, tt.total))
		})
	}
}

func TestAccuracy_KnownValue(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 97.56, scoring.Accuracy(400, 410), 0.01)
}

func TestRoundScore(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 98, scoring.RoundScore(97.56))
	assert.Equal(t, 97, scoring.RoundScore(97.49))
	assert.Equal(t, 100, scoring.RoundScore(100.0))
	assert.Equal(t, 91, scoring.RoundScore(90.90909))
}

type snapshot struct {
	name string
	wpm  float64
}

func TestRank(t *testing.T) {
	type (
		inputs struct {
			snapshots []snapshot
		}

		outputs struct {
			ranked []snapshot
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"orders by wpm descending": {
			arrange: func() inputs {
				return inputs{snapshots: []snapshot{
					{name: "slow", wpm: 60},
					{name: "fast", wpm: 100},
					{name: "mid", wpm: 80},
				}}
			},
			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.ranked, 3)
				assert.Equal(t, "fast", out.ranked[0].name)
				assert.Equal(t, "mid", out.ranked[1].name)
				assert.Equal(t, "slow", out.ranked[2].name)
			},
		},

		"ties keep input order": {
			arrange: func() inputs {
				return inputs{snapshots: []snapshot{
					{name: "first", wpm: 80},
					{name: "second", wpm: 80},
					{name: "third", wpm: 80},
				}}
			},
			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.ranked, 3)
				assert.Equal(t, "first", out.ranked[0].name)
				assert.Equal(t, "second", out.ranked[1].name)
				assert.Equal(t, "third", out.ranked[2].name)
			},
		},

		"mixed ties keep input order within the tie": {
			arrange: func() inputs {
				return inputs{snapshots: []snapshot{
					{name: "a", wpm: 70},
					{name: "b", wpm: 90},
					{name: "c", wpm: 70},
					{name: "d", wpm: 95},
				}}
			},
			assert: func(t *testing.T, out outputs) {
				want := []string{"d", "b", "a", "c"}
				for i, w := range want {
					assert.Equal(t, w, out.ranked[i].name, "position %d", i)
				}
			},
		},

		"empty input stays empty": {
			arrange: func() inputs {
				return inputs{}
			},
			assert: func(t *testing.T, out outputs) {
				assert.Empty(t, out.ranked)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()

			ranked := scoring.Rank(in.snapshots, func(s snapshot) float64 { return s.wpm })

			tt.assert(t, outputs{ranked: ranked})
		})
	}
}

func TestRank_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	in := []snapshot{{name: "a", wpm: 1}, {name: "b", wpm: 2}}
	_ = scoring.Rank(in, func(s snapshot) float64 { return s.wpm })

	assert.Equal(t, "a", in[0].name)
	assert.Equal(t, "b", in[1].name)
}
