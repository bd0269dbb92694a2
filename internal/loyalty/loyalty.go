// Package loyalty implements the accrual state machine for the workshop
// loyalty program: consecutive-service streaks, free-service credits and
// their redemption window. All functions are pure over (account, program);
// persistence is the caller's problem.
package loyalty

import (
	"time"

	"github.com/shopspring/decimal"

	"bengkelku/backend/internal/domain"
)

// freeServiceAtTotal is the lifetime service count after which the next
// service (the 4th ever) is billed with zero labor. The streak-based
// credits below are a separate, repeating benefit.
const freeServiceAtTotal = 3

const defaultServicesRequired = 3

type AccrualResult struct {
	// IsFreeService marks the service being recorded as the free 4th
	// service: labor must be charged at zero and the payment status forced
	// to FreeService. Decided from the pre-increment total.
	IsFreeService bool
	// EarnedCredit reports that this accrual completed a streak and earned
	// a redeemable free-service credit.
	EarnedCredit bool
}

// Accrue advances the account for one completed service. The 4th-service
// check reads TotalServices before any counter moves; the streak reset to
// zero happens exactly when ConsecutiveCount reaches the program threshold.
func Accrue(account domain.LoyaltyAccount, program domain.LoyaltyProgram, serviceDate time.Time) (domain.LoyaltyAccount, AccrualResult) {
	var result AccrualResult
	if account.TotalServices == freeServiceAtTotal {
		result.IsFreeService = true
	}

	account.TotalServices++
	account.ConsecutiveCount++
	last := serviceDate
	account.LastServiceDate = &last

	required := program.ServicesRequired
	if required <= 0 {
		required = defaultServicesRequired
	}
	if account.ConsecutiveCount >= required {
		account.FreeServicesEarned++
		account.FreeServiceAvailable = true
		expiry := serviceDate.AddDate(0, 0, program.ValidDays)
		account.FreeServiceExpiry = &expiry
		account.ConsecutiveCount = 0
		result.EarnedCredit = true
	}

	return account, result
}

// Eligible reports whether a free-service credit can be redeemed today.
func Eligible(account domain.LoyaltyAccount, today time.Time) bool {
	if !account.FreeServiceAvailable {
		return false
	}
	if account.FreeServiceExpiry == nil {
		return true
	}
	return !dateOnly(*account.FreeServiceExpiry).Before(dateOnly(today))
}

// RedemptionDiscount is the labor value of one free-service credit against
// the given service record.
func RedemptionDiscount(program domain.LoyaltyProgram, record domain.ServiceRecord) decimal.Decimal {
	return program.FreeLaborHours.Mul(record.LaborRatePerHour)
}

// Redeem consumes the available credit and resets the streak.
func Redeem(account domain.LoyaltyAccount) domain.LoyaltyAccount {
	account.FreeServiceAvailable = false
	account.FreeServicesUsed++
	account.ConsecutiveCount = 0
	return account
}

// Reconcile backfills an account created after the customer already had
// service history: when the streak shows zero but the historical record
// count exceeds the stored total, both counters are raised to the actual
// count. Counters only ever move up, and a second call with the same
// inputs is a no-op.
func Reconcile(account domain.LoyaltyAccount, historicalCount int, lastServiceDate *time.Time) (domain.LoyaltyAccount, bool) {
	if historicalCount <= 0 || account.ConsecutiveCount != 0 || historicalCount <= account.TotalServices {
		return account, false
	}

	account.ConsecutiveCount = historicalCount
	account.TotalServices = historicalCount
	if lastServiceDate != nil {
		last := *lastServiceDate
		account.LastServiceDate = &last
	}
	return account, true
}

// ServicesNeeded is how many more consecutive services earn the next credit.
func ServicesNeeded(account domain.LoyaltyAccount, program domain.LoyaltyProgram) int {
	required := program.ServicesRequired
	if required <= 0 {
		required = defaultServicesRequired
	}
	needed := required - account.ConsecutiveCount
	if needed < 0 {
		return 0
	}
	return needed
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
