// Package bot simulates filler racers that type at a target speed.
package bot

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

const (
	// TickInterval is how often a bot advances.
	TickInterval = 500 * time.Millisecond

	DefaultBaselineWPM = 50
	minBaselineWPM     = 30
	maxBaselineWPM     = 120
	minTargetWPM       = 25
	maxTargetWPM       = 140
	baselineJitter     = 0.3

	fillerMinWPM     = 35
	fillerWPMSpread  = 45
	minAccuracy      = 92
	accuracySpread   = 7
	tickVariance     = 0.2
	finishJitter     = 6
	errorRatePerWord = 0.2
)

// Typist tracks the synthetic typing progress of one bot in one race.
type Typist struct {
	TargetWPM  float64
	Accuracy   float64
	TotalWords int

	typed    float64
	progress float64
	finished bool
}

// Tick is the observable result of advancing a bot once.
type Tick struct {
	Progress   float64
	CurrentWPM int
	Finished   bool
}

// Result is a bot's final line once it reaches 100%.
type Result struct {
	WPM      float64
	Time     float64
	Errors   int
	Accuracy float64
}

// NewTypist creates a typist for a passage of totalWords words.
func NewTypist(targetWPM, accuracy float64, totalWords int) *Typist {
	if totalWords < 1 {
		totalWords = 1
	}
	return &Typist{TargetWPM: targetWPM, Accuracy: accuracy, TotalWords: totalWords}
}

// Advance moves the bot forward by one tick. elapsed is measured from the
// race start, not from when the bot started typing.
func (t *Typist) Advance(rng *rand.Rand, elapsed time.Duration) Tick {
	if t.finished {
		return Tick{Progress: t.progress, CurrentWPM: t.currentWPM(elapsed), Finished: true}
	}

	wps := t.TargetWPM / 60
	variance := (rng.Float64() - 0.5) * tickVariance * wps
	t.typed += math.Max(0, (wps+variance)*TickInterval.Seconds())
	t.progress = math.Min(100, t.typed/float64(t.TotalWords)*100)
	if t.progress >= 100 {
		t.finished = true
	}

	return Tick{Progress: t.progress, CurrentWPM: t.currentWPM(elapsed), Finished: t.finished}
}

func (t *Typist) currentWPM(elapsed time.Duration) int {
	ms := math.Max(1, float64(elapsed.Milliseconds()))
	return int(math.Round(t.typed / (ms / 60000)))
}

// Finished reports whether the bot has reached the end of the passage.
func (t *Typist) Finished() bool {
	return t.finished
}

// Progress returns the current progress percent.
func (t *Typist) Progress() float64 {
	return t.progress
}

// Finish produces the final stats for a bot that has reached 100%.
func (t *Typist) Finish(rng *rand.Rand, elapsed time.Duration) Result {
	return Result{
		WPM:      math.Round(t.TargetWPM + (rng.Float64()-0.5)*finishJitter),
		Time:     elapsed.Seconds(),
		Errors:   int(math.Floor((1 - t.Accuracy/100) * float64(t.TotalWords) * errorRatePerWord)),
		Accuracy: t.Accuracy,
	}
}

// WordCount counts whitespace separated words in a passage.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// TargetFromBaseline derives a lobby bot's target from the humans' average
// best speed, jittered by up to 15% either way.
func TargetFromBaseline(rng *rand.Rand, baseline float64) float64 {
	variance := (rng.Float64() - 0.5) * baselineJitter
	return ClampTarget(math.Round(baseline * (1 + variance)))
}

// ClampTarget keeps a bot target within the playable range.
func ClampTarget(wpm float64) float64 {
	return math.Max(minTargetWPM, math.Min(maxTargetWPM, math.Round(wpm)))
}

// Baseline averages the positive best speeds, clamped, or returns the
// default when nobody has history.
func Baseline(bestWPMs []float64) float64 {
	var sum float64
	var n int
	for _, w := range bestWPMs {
		if w > 0 {
			sum += w
			n++
		}
	}
	if n == 0 {
		return DefaultBaselineWPM
	}
	avg := math.Round(sum / float64(n))
	return math.Max(minBaselineWPM, math.Min(maxBaselineWPM, avg))
}

// FillerTarget picks a target for a bot added to an under-filled race.
func FillerTarget(rng *rand.Rand) float64 {
	return math.Floor(fillerMinWPM + rng.Float64()*fillerWPMSpread)
}

// RandomAccuracy picks a bot accuracy in [92, 98].
func RandomAccuracy(rng *rand.Rand) float64 {
	return math.Floor(minAccuracy + rng.Float64()*accuracySpread)
}

// Name returns a display name like Bot_417.
func Name(rng *rand.Rand) string {
	return fmt.Sprintf("Bot_%d", rng.Intn(900)+100)
}
