// Package progression holds the pure reward, rating and leveling math used
// when a race is settled.
package progression

import "math"

const (
	// BaseLevelXP is the experience needed to go from level 1 to level 2.
	BaseLevelXP = 100
	// LevelGrowth makes every level 15% more expensive than the previous one.
	LevelGrowth = 1.15

	minFinishCoins = 10
	minFinishExp   = 5

	ratingRankStep  = 10
	ratingWPMPivot  = 60
	ratingWPMBucket = 20
	ratingWPMClamp  = 5
)

// Reward is a coin/experience pair credited to a player.
type Reward struct {
	Coins int `json:"coins"`
	Exp   int `json:"exp"`
}

// LevelProgress describes where a cumulative experience total sits on the
// leveling curve.
type LevelProgress struct {
	Level       int `json:"level"`
	ExpInLevel  int `json:"expInLevel"`
	NextLevelXP int `json:"nextLevelXp"`
}

// FinishReward is credited once to a human the moment they finish.
func FinishReward(wpm float64) Reward {
	w := floorNonNeg(wpm)
	return Reward{
		Coins: max(minFinishCoins, w),
		Exp:   max(minFinishExp, w/2),
	}
}

// PlacementBonus is the extra experience for a final rank: 15, 10, 5, then 0.
func PlacementBonus(rank int) int {
	return max(0, 20-rank*5)
}

// RatingDelta returns the matchmaking rating change for a player finishing at
// rank out of total players with the given wpm.
func RatingDelta(rank, total int, wpm float64) int {
	base := (total - rank) * ratingRankStep
	adj := int(math.Floor((wpm - ratingWPMPivot) / ratingWPMBucket))
	if adj > ratingWPMClamp {
		adj = ratingWPMClamp
	}
	if adj < -ratingWPMClamp {
		adj = -ratingWPMClamp
	}
	return base + adj
}

// XPForLevel returns the experience required to advance from level to level+1.
func XPForLevel(level int) int {
	return int(math.Round(BaseLevelXP * math.Pow(LevelGrowth, float64(max(0, level-1)))))
}

// Progress walks the curve for a cumulative experience total.
func Progress(totalExp int) LevelProgress {
	level := 1
	remaining := max(0, totalExp)
	for {
		need := XPForLevel(level)
		if remaining < need {
			return LevelProgress{Level: level, ExpInLevel: remaining, NextLevelXP: need}
		}
		remaining -= need
		level++
	}
}

// LevelFor is Progress(totalExp).Level.
func LevelFor(totalExp int) int {
	return Progress(totalExp).Level
}

// LevelsGained reports how many levels a player at storedLevel gains once
// their experience total is totalExp. It never returns a negative number.
func LevelsGained(storedLevel, totalExp int) int {
	if storedLevel < 1 {
		storedLevel = 1
	}
	return max(0, LevelFor(totalExp)-storedLevel)
}

func floorNonNeg(v float64) int {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	return int(math.Floor(v))
}
