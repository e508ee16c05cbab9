package users

import (
	"errors"

	"github.com/google/uuid"

	"github.com/mcdev12/typerace/go/internal/models"
	"github.com/mcdev12/typerace/go/internal/progression"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrInvalidUsername = errors.New("invalid username")
)

// Profile is the public view of a user with their position on the leveling
// curve. Contact details stay private.
type Profile struct {
	ID              uuid.UUID                 `json:"id"`
	Username        string                    `json:"username"`
	Coins           int                       `json:"coins"`
	Exp             int                       `json:"exp"`
	Level           int                       `json:"level"`
	MMR             int                       `json:"mmr"`
	BestWPM         float64                   `json:"best_wpm"`
	TotalRaces      int                       `json:"total_races"`
	Wins            int                       `json:"wins"`
	AverageAccuracy float64                   `json:"average_accuracy"`
	Equipped        models.Equipment          `json:"equipped"`
	Progress        progression.LevelProgress `json:"progress"`
}

func profileFor(u *models.User) *Profile {
	return &Profile{
		ID:              u.ID,
		Username:        u.Username,
		Coins:           u.Coins,
		Exp:             u.Exp,
		Level:           u.Level,
		MMR:             u.MMR,
		BestWPM:         u.BestWPM,
		TotalRaces:      u.TotalRaces,
		Wins:            u.Wins,
		AverageAccuracy: u.AverageAccuracy,
		Equipped:        u.Equipped,
		Progress:        progression.Progress(u.Exp),
	}
}
