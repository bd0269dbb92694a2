package loyalty

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bengkelku/backend/internal/domain"
)

func testProgram() domain.LoyaltyProgram {
	return domain.LoyaltyProgram{
		ID:               "lp-default",
		Name:             "Standard",
		ServicesRequired: 3,
		FreeLaborHours:   decimal.NewFromInt(3),
		ValidDays:        365,
		Active:           true,
	}
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestAccrueThreeServicesEarnsCredit(t *testing.T) {
	program := testProgram()
	account := domain.LoyaltyAccount{ID: "loy-1", CustomerID: "cus-1", ProgramID: program.ID}

	dates := []time.Time{day("2026-01-10"), day("2026-02-15"), day("2026-03-20")}
	for i, d := range dates {
		var result AccrualResult
		account, result = Accrue(account, program, d)
		if result.IsFreeService {
			t.Fatalf("service %d should not be free", i+1)
		}
	}

	if account.ConsecutiveCount != 0 {
		t.Fatalf("expected consecutive count reset to 0, got %d", account.ConsecutiveCount)
	}
	if account.FreeServicesEarned != 1 {
		t.Fatalf("expected 1 free service earned, got %d", account.FreeServicesEarned)
	}
	if !account.FreeServiceAvailable {
		t.Fatalf("expected free service to be available")
	}
	wantExpiry := day("2026-03-20").AddDate(0, 0, 365)
	if account.FreeServiceExpiry == nil || !account.FreeServiceExpiry.Equal(wantExpiry) {
		t.Fatalf("expected expiry %s, got %v", wantExpiry, account.FreeServiceExpiry)
	}
	if account.LastServiceDate == nil || !account.LastServiceDate.Equal(day("2026-03-20")) {
		t.Fatalf("expected last service date D3, got %v", account.LastServiceDate)
	}
}

func TestAccrueFourthServiceIsFree(t *testing.T) {
	program := testProgram()
	account := domain.LoyaltyAccount{ID: "loy-1", CustomerID: "cus-1", ProgramID: program.ID}

	for i := 0; i < 3; i++ {
		account, _ = Accrue(account, program, day("2026-01-10").AddDate(0, i, 0))
	}
	if account.TotalServices != 3 {
		t.Fatalf("expected total services 3, got %d", account.TotalServices)
	}

	account, result := Accrue(account, program, day("2026-05-01"))
	if !result.IsFreeService {
		t.Fatalf("expected the 4th service to be free")
	}
	if account.TotalServices != 4 {
		t.Fatalf("expected total services 4, got %d", account.TotalServices)
	}
}

func TestAccrueConsecutiveNeverReachesThreshold(t *testing.T) {
	program := testProgram()
	account := domain.LoyaltyAccount{}

	for i := 0; i < 10; i++ {
		account, _ = Accrue(account, program, day("2026-01-01").AddDate(0, 0, i))
		if account.ConsecutiveCount >= program.ServicesRequired {
			t.Fatalf("consecutive count %d reached threshold after accrual %d", account.ConsecutiveCount, i+1)
		}
	}
}

func TestEligible(t *testing.T) {
	today := day("2026-06-01")
	expiry := day("2026-06-01")
	past := day("2026-05-31")

	cases := []struct {
		name    string
		account domain.LoyaltyAccount
		want    bool
	}{
		{"unavailable", domain.LoyaltyAccount{}, false},
		{"available no expiry", domain.LoyaltyAccount{FreeServiceAvailable: true}, true},
		{"available expires today", domain.LoyaltyAccount{FreeServiceAvailable: true, FreeServiceExpiry: &expiry}, true},
		{"available expired", domain.LoyaltyAccount{FreeServiceAvailable: true, FreeServiceExpiry: &past}, false},
	}

	for _, tc := range cases {
		if got := Eligible(tc.account, today); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestRedeem(t *testing.T) {
	account := domain.LoyaltyAccount{
		FreeServiceAvailable: true,
		FreeServicesEarned:   1,
		ConsecutiveCount:     2,
	}
	account = Redeem(account)

	if account.FreeServiceAvailable {
		t.Fatalf("expected credit consumed")
	}
	if account.FreeServicesUsed != 1 {
		t.Fatalf("expected used count 1, got %d", account.FreeServicesUsed)
	}
	if account.ConsecutiveCount != 0 {
		t.Fatalf("expected streak reset, got %d", account.ConsecutiveCount)
	}
}

func TestRedemptionDiscount(t *testing.T) {
	program := testProgram()
	record := domain.ServiceRecord{LaborRatePerHour: decimal.RequireFromString("1000.00")}
	if got := RedemptionDiscount(program, record); !got.Equal(decimal.RequireFromString("3000.00")) {
		t.Fatalf("expected discount 3000.00, got %s", got)
	}
}

func TestReconcileBackfillsAndIsIdempotent(t *testing.T) {
	last := day("2026-04-12")
	account := domain.LoyaltyAccount{ID: "loy-1"}

	synced, changed := Reconcile(account, 5, &last)
	if !changed {
		t.Fatalf("expected backfill to apply")
	}
	if synced.ConsecutiveCount != 5 || synced.TotalServices != 5 {
		t.Fatalf("expected counters raised to 5, got %d/%d", synced.ConsecutiveCount, synced.TotalServices)
	}
	if synced.LastServiceDate == nil || !synced.LastServiceDate.Equal(last) {
		t.Fatalf("expected last service date backfilled")
	}

	again, changed := Reconcile(synced, 5, &last)
	if changed {
		t.Fatalf("expected second reconcile to be a no-op")
	}
	if again.ConsecutiveCount != 5 || again.TotalServices != 5 {
		t.Fatalf("reconcile must never move counters down")
	}
}

func TestReconcileSkipsFreshMilestoneReset(t *testing.T) {
	// An account that just earned a credit legitimately shows a zero streak
	// with total == historical count; that state must not be "repaired".
	account := domain.LoyaltyAccount{ConsecutiveCount: 0, TotalServices: 3, FreeServiceAvailable: true}
	_, changed := Reconcile(account, 3, nil)
	if changed {
		t.Fatalf("reconcile must not rewrite a milestone reset")
	}
}

func TestServicesNeeded(t *testing.T) {
	program := testProgram()
	if got := ServicesNeeded(domain.LoyaltyAccount{ConsecutiveCount: 1}, program); got != 2 {
		t.Fatalf("expected 2 services needed, got %d", got)
	}
	if got := ServicesNeeded(domain.LoyaltyAccount{ConsecutiveCount: 5}, program); got != 0 {
		t.Fatalf("expected clamp at 0, got %d", got)
	}
}
