package engine

import (
	"time"

	"bountyline/internal/config"
	"bountyline/internal/domain"
)

// SettlementInput describes an approved contract to settle. Streak is the
// only bonus context and must be passed in explicitly; the calculator
// reads no ambient state.
type SettlementInput struct {
	ContractID  string
	PerformerID string
	RewardKind  string
	BaseReward  int
	Streak      *StreakContext
}

// StreakContext is the performer's consecutive-day earning streak at
// settlement time, derived from the ledger by the caller.
type StreakContext struct {
	Days int
}

// Settlement is the computed mint. Amount zero with a non-credit kind
// means no ledger entry should be created.
type Settlement struct {
	Amount     int
	Bonus      int
	StreakDays int
}

// DecideCredits computes the credit amount to mint for an approved
// contract. Pure: same inputs, same output, no side effects. Negative
// base rewards clamp to zero; non-credit reward kinds settle nothing.
func DecideCredits(in SettlementInput, policy config.StreakPolicy) Settlement {
	if in.RewardKind != domain.RewardCredit {
		return Settlement{}
	}
	base := in.BaseReward
	if base < 0 {
		base = 0
	}
	s := Settlement{Amount: base}
	if in.Streak == nil || base == 0 {
		return s
	}
	s.StreakDays = in.Streak.Days
	if policy.MinDays <= 0 || in.Streak.Days < policy.MinDays {
		return s
	}
	percent := (in.Streak.Days - policy.MinDays + 1) * policy.BonusPercentPerDay
	if policy.MaxBonusPercent > 0 && percent > policy.MaxBonusPercent {
		percent = policy.MaxBonusPercent
	}
	s.Bonus = base * percent / 100
	s.Amount = base + s.Bonus
	return s
}

// StreakDaysFrom derives the consecutive-day streak ending today or
// yesterday from distinct mint dates (YYYY-MM-DD, most recent first).
// A gap before today longer than one day means the streak is over.
func StreakDaysFrom(mintDates []string, now time.Time) int {
	if len(mintDates) == 0 {
		return 0
	}
	day := now.UTC().Truncate(24 * time.Hour)
	expect := day.Format("2006-01-02")
	yesterday := day.AddDate(0, 0, -1).Format("2006-01-02")
	if mintDates[0] != expect {
		if mintDates[0] != yesterday {
			return 0
		}
		day = day.AddDate(0, 0, -1)
	}
	streak := 0
	for _, d := range mintDates {
		if d != day.Format("2006-01-02") {
			break
		}
		streak++
		day = day.AddDate(0, 0, -1)
	}
	return streak
}
