package ledger

import (
	"time"

	"github.com/whisperly/backend/internal/models"
)

// AvailableToday returns how many free hints the account can still spend
// today. If the last reset fell on an earlier calendar day (in loc) or never
// happened, the stored counter is stale and treated as zero: a reset is due
// but is only physically written by the next redemption. Read-only.
func AvailableToday(acc *models.Account, dailyQuota int, now time.Time, loc *time.Location) int {
	used := acc.DailyHintsUsed
	if ResetDue(acc, now, loc) {
		used = 0
	}
	if left := dailyQuota - used; left > 0 {
		return left
	}
	return 0
}

// TotalAvailable is today's free allowance plus the purchased bonus balance.
func TotalAvailable(acc *models.Account, dailyQuota int, now time.Time, loc *time.Location) int {
	return AvailableToday(acc, dailyQuota, now, loc) + acc.BonusHints
}

// ResetDue reports whether the daily counter should be zeroed: the account
// was never reset, or the last reset's calendar day in loc is before now's.
func ResetDue(acc *models.Account, now time.Time, loc *time.Location) bool {
	if acc.LastDailyResetAt == nil {
		return true
	}
	ry, rm, rd := acc.LastDailyResetAt.In(loc).Date()
	ny, nm, nd := now.In(loc).Date()
	if ry != ny {
		return ry < ny
	}
	if rm != nm {
		return rm < nm
	}
	return rd < nd
}
