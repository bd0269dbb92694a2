package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bengkelku/backend/internal/cache"
	"bengkelku/backend/internal/domain"
	"bengkelku/backend/internal/reminder"
	"bengkelku/backend/internal/store"
	"bengkelku/backend/internal/store/memory"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	svc := New(repo, cache.NoopLoyaltyStatusCache{}, reminder.LogDispatcher{}, Options{})
	svc.nowFn = func() time.Time { return day("2026-08-28") }
	return svc, repo
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func TestCompleteServiceComputesBillAndProjections(t *testing.T) {
	svc, repo := newTestService()
	ctx := adminCtx()

	record, err := svc.CompleteService(ctx, domain.CompleteServiceRequest{
		VehicleID:        "veh-2001",
		ServiceTypeID:    "styp-oil",
		ServiceDate:      day("2026-08-28"),
		MileageAtService: dec("45000"),
		Parts: []domain.ServicePartRequest{
			{PartID: "prt-3001", Quantity: 1, WasReplaced: true},
			{PartID: "prt-3002", Quantity: 2, WasReplaced: true},
		},
	})
	if err != nil {
		t.Fatalf("complete service failed: %v", err)
	}

	// Labor 1 h x 1000, parts 350 + 2 x 85 = 520, tax 15%.
	if !record.TotalLaborCost.Equal(dec("1000")) {
		t.Fatalf("expected labor cost 1000, got %s", record.TotalLaborCost)
	}
	if !record.TotalPartsCost.Equal(dec("520.00")) {
		t.Fatalf("expected parts cost 520.00, got %s", record.TotalPartsCost)
	}
	if !record.TaxAmount.Equal(dec("228")) {
		t.Fatalf("expected tax 228, got %s", record.TaxAmount)
	}
	if !record.GrandTotal.Equal(dec("1748")) {
		t.Fatalf("expected grand total 1748, got %s", record.GrandTotal)
	}
	if record.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("expected pending payment, got %s", record.PaymentStatus)
	}
	if len(record.Lines) != 2 {
		t.Fatalf("expected 2 part lines, got %d", len(record.Lines))
	}

	// Inventory consumed atomically with the service row.
	part, err := repo.GetPart(ctx, "prt-3002")
	if err != nil {
		t.Fatalf("get part failed: %v", err)
	}
	if part.StockQuantity != 53 {
		t.Fatalf("expected stock 53 after consuming 2, got %d", part.StockQuantity)
	}

	// Vehicle projection moved forward: +5000 km, +6 calendar months.
	vehicle, err := repo.GetVehicle(ctx, "veh-2001")
	if err != nil {
		t.Fatalf("get vehicle failed: %v", err)
	}
	if !vehicle.NextServiceMileage.Equal(dec("50000")) {
		t.Fatalf("expected next service mileage 50000, got %s", vehicle.NextServiceMileage)
	}
	if vehicle.NextServiceDate == nil || !vehicle.NextServiceDate.Equal(day("2027-02-28")) {
		t.Fatalf("expected next service date 2027-02-28, got %v", vehicle.NextServiceDate)
	}
	if !vehicle.LastServiceMileage.Equal(dec("45000")) {
		t.Fatalf("expected last service mileage 45000, got %s", vehicle.LastServiceMileage)
	}

	// Loyalty accrued in the same unit of work.
	account, err := repo.GetLoyaltyAccountByCustomer(ctx, "cus-1001")
	if err != nil {
		t.Fatalf("loyalty account missing after completion: %v", err)
	}
	if account.TotalServices != 1 || account.ConsecutiveCount != 1 {
		t.Fatalf("expected counters 1/1, got %d/%d", account.TotalServices, account.ConsecutiveCount)
	}
}

func TestCompleteServiceSkipsUnresolvableParts(t *testing.T) {
	svc, _ := newTestService()

	record, err := svc.CompleteService(adminCtx(), domain.CompleteServiceRequest{
		VehicleID:        "veh-2001",
		ServiceTypeID:    "styp-oil",
		MileageAtService: dec("45000"),
		Parts: []domain.ServicePartRequest{
			{PartID: "prt-nope", Quantity: 1, WasReplaced: true},
			{PartID: "prt-3001", Quantity: 1, WasReplaced: true},
		},
	})
	if err != nil {
		t.Fatalf("complete service failed: %v", err)
	}
	if len(record.Lines) != 1 {
		t.Fatalf("expected the unknown part to be skipped, got %d lines", len(record.Lines))
	}
	if !record.TotalPartsCost.Equal(dec("350.00")) {
		t.Fatalf("expected parts cost 350.00, got %s", record.TotalPartsCost)
	}
}

func TestCompleteServiceInspectedPartsBillNothing(t *testing.T) {
	svc, repo := newTestService()
	ctx := adminCtx()

	record, err := svc.CompleteService(ctx, domain.CompleteServiceRequest{
		VehicleID:        "veh-2001",
		ServiceTypeID:    "styp-oil",
		MileageAtService: dec("45000"),
		Parts: []domain.ServicePartRequest{
			{PartID: "prt-3001", Quantity: 1, ReplacementReason: "looked fine"},
		},
	})
	if err != nil {
		t.Fatalf("complete service failed: %v", err)
	}

	// The line documents the inspection but contributes no cost, consumes
	// no stock and keeps no replacement reason.
	if len(record.Lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(record.Lines))
	}
	if !record.TotalPartsCost.IsZero() {
		t.Fatalf("expected zero parts cost for a non-replaced line, got %s", record.TotalPartsCost)
	}
	if record.Lines[0].ReplacementReason != "" {
		t.Fatalf("expected no replacement reason on a non-replaced line, got %q", record.Lines[0].ReplacementReason)
	}
	part, err := repo.GetPart(ctx, "prt-3001")
	if err != nil {
		t.Fatalf("get part failed: %v", err)
	}
	if part.StockQuantity != 40 {
		t.Fatalf("expected stock untouched at 40, got %d", part.StockQuantity)
	}
}

func TestCompleteServiceBackdatedStillProjectsFromToday(t *testing.T) {
	svc, repo := newTestService()

	_, err := svc.CompleteService(adminCtx(), domain.CompleteServiceRequest{
		VehicleID:        "veh-2001",
		ServiceTypeID:    "styp-oil",
		ServiceDate:      day("2026-06-01"),
		MileageAtService: dec("45000"),
	})
	if err != nil {
		t.Fatalf("complete service failed: %v", err)
	}

	vehicle, err := repo.GetVehicle(adminCtx(), "veh-2001")
	if err != nil {
		t.Fatalf("get vehicle failed: %v", err)
	}
	// Today (2026-08-28) + 6 months, not the backdated service date.
	if vehicle.NextServiceDate == nil || !vehicle.NextServiceDate.Equal(day("2027-02-28")) {
		t.Fatalf("expected next service date 2027-02-28, got %v", vehicle.NextServiceDate)
	}
}

func TestCompleteServiceRecordsChecklistDispositions(t *testing.T) {
	svc, _ := newTestService()

	record, err := svc.CompleteService(adminCtx(), domain.CompleteServiceRequest{
		VehicleID:        "veh-2002",
		ServiceTypeID:    "styp-tire",
		MileageAtService: dec("18500"),
		Checklist: []domain.ChecklistDisposition{
			{ChecklistItemID: "chk-brakes", Checked: true},
			{ChecklistItemID: "chk-coolant", Changed: true},
			{ChecklistItemID: "chk-ignored"},
		},
	})
	if err != nil {
		t.Fatalf("complete service failed: %v", err)
	}
	if len(record.Lines) != 2 {
		t.Fatalf("expected 2 checklist lines, got %d", len(record.Lines))
	}
	for _, line := range record.Lines {
		if !line.UnitPrice.IsZero() || !line.TotalPrice.IsZero() {
			t.Fatalf("checklist lines must be zero priced")
		}
	}
	if record.Lines[0].WasReplaced {
		t.Fatalf("inspected-only item must not be marked replaced")
	}
	if !record.Lines[1].WasReplaced {
		t.Fatalf("changed item must be marked replaced")
	}
	if !record.TotalPartsCost.IsZero() {
		t.Fatalf("checklist-only visit must have zero parts cost, got %s", record.TotalPartsCost)
	}
}

func TestCompleteServiceChecklistCoveredByPartLineIsNotDuplicated(t *testing.T) {
	svc, _ := newTestService()

	record, err := svc.CompleteService(adminCtx(), domain.CompleteServiceRequest{
		VehicleID:        "veh-2001",
		ServiceTypeID:    "styp-oil",
		MileageAtService: dec("45000"),
		Parts: []domain.ServicePartRequest{
			{PartID: "prt-3001", Quantity: 1, WasReplaced: true, ChecklistItemID: "chk-oil"},
		},
		Checklist: []domain.ChecklistDisposition{
			{ChecklistItemID: "chk-oil", Changed: true},
			{ChecklistItemID: "chk-brakes", Checked: true},
		},
	})
	if err != nil {
		t.Fatalf("complete service failed: %v", err)
	}

	// The oil checklist item is already covered by the part line; only the
	// brakes disposition gets a sentinel line.
	if len(record.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(record.Lines))
	}
	seen := 0
	for _, line := range record.Lines {
		if line.ChecklistItemID == "chk-oil" {
			seen++
		}
	}
	if seen != 1 {
		t.Fatalf("expected one line for chk-oil, got %d", seen)
	}
}

func TestFourthServiceIsFree(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	var last domain.ServiceRecord
	for i := 0; i < 4; i++ {
		record, err := svc.CompleteService(ctx, domain.CompleteServiceRequest{
			VehicleID:        "veh-2001",
			ServiceTypeID:    "styp-oil",
			ServiceDate:      day("2026-01-10").AddDate(0, i, 0),
			MileageAtService: dec("45000").Add(decimal.NewFromInt(int64(i * 5000))),
		})
		if err != nil {
			t.Fatalf("completion %d failed: %v", i+1, err)
		}
		last = record
	}

	if last.PaymentStatus != domain.PaymentStatusFree {
		t.Fatalf("expected the 4th service to be free, got %s", last.PaymentStatus)
	}
	if !last.TotalLaborCost.IsZero() {
		t.Fatalf("free service must have zero labor cost, got %s", last.TotalLaborCost)
	}
	if !last.GrandTotal.IsZero() {
		t.Fatalf("parts-free visit should total zero, got %s", last.GrandTotal)
	}
}

func TestApplyFreeServiceRedeemsCredit(t *testing.T) {
	svc, repo := newTestService()
	ctx := adminCtx()

	record, err := svc.CompleteService(ctx, domain.CompleteServiceRequest{
		VehicleID:        "veh-2001",
		ServiceTypeID:    "styp-oil",
		MileageAtService: dec("45000"),
		Parts:            []domain.ServicePartRequest{{PartID: "prt-3001", Quantity: 1, WasReplaced: true}},
	})
	if err != nil {
		t.Fatalf("complete service failed: %v", err)
	}

	// Force a redeemable credit onto the account. Lifetime total is kept
	// away from 3 so the completion above did not trigger the free 4th.
	if _, err := repo.SaveLoyaltyAccount(ctx, domain.LoyaltyAccount{
		ID: "loy-test", CustomerID: "cus-1001", ProgramID: "lp-standard",
		TotalServices: 10, FreeServicesEarned: 2, FreeServiceAvailable: true,
	}); err != nil {
		t.Fatalf("save loyalty account failed: %v", err)
	}

	redeemed, err := svc.ApplyFreeService(ctx, record.ID)
	if err != nil {
		t.Fatalf("apply free service failed: %v", err)
	}

	// Discount is 3 free labor hours x 1000; grand total is recomputed in
	// full and may go negative, never clamped.
	if !redeemed.DiscountAmount.Equal(dec("3000")) {
		t.Fatalf("expected discount 3000, got %s", redeemed.DiscountAmount)
	}
	want := dec("1350").Add(dec("202.5")).Sub(dec("3000"))
	if !redeemed.GrandTotal.Equal(want) {
		t.Fatalf("expected grand total %s, got %s", want, redeemed.GrandTotal)
	}
	if redeemed.PaymentStatus != domain.PaymentStatusFree {
		t.Fatalf("expected FreeService status, got %s", redeemed.PaymentStatus)
	}

	account, err := repo.GetLoyaltyAccountByCustomer(ctx, "cus-1001")
	if err != nil {
		t.Fatalf("get loyalty account failed: %v", err)
	}
	if account.FreeServiceAvailable || account.FreeServicesUsed != 1 {
		t.Fatalf("expected credit consumed, got available=%t used=%d", account.FreeServiceAvailable, account.FreeServicesUsed)
	}

	// Second redemption attempt must fail on both checks.
	if _, err := svc.ApplyFreeService(ctx, record.ID); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state on already-free record, got %v", err)
	}
}

func TestApplyFreeServiceEligibilityErrors(t *testing.T) {
	svc, repo := newTestService()
	ctx := adminCtx()

	record, err := svc.CompleteService(ctx, domain.CompleteServiceRequest{
		VehicleID:        "veh-2002",
		ServiceTypeID:    "styp-oil",
		MileageAtService: dec("18500"),
	})
	if err != nil {
		t.Fatalf("complete service failed: %v", err)
	}

	// Account exists (accrued above) but holds no credit.
	if _, err := svc.ApplyFreeService(ctx, record.ID); !errors.Is(err, store.ErrNotEligible) {
		t.Fatalf("expected not eligible, got %v", err)
	}

	expired := day("2026-08-27")
	if _, err := repo.SaveLoyaltyAccount(ctx, domain.LoyaltyAccount{
		CustomerID: "cus-1002", ProgramID: "lp-standard",
		TotalServices: 5, FreeServiceAvailable: true, FreeServiceExpiry: &expired,
	}); err != nil {
		t.Fatalf("save loyalty account failed: %v", err)
	}
	if _, err := svc.ApplyFreeService(ctx, record.ID); !errors.Is(err, store.ErrExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestUpdatePaymentStatus(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	record, err := svc.CompleteService(ctx, domain.CompleteServiceRequest{
		VehicleID:        "veh-2001",
		ServiceTypeID:    "styp-oil",
		MileageAtService: dec("45000"),
	})
	if err != nil {
		t.Fatalf("complete service failed: %v", err)
	}

	if _, err := svc.UpdatePaymentStatus(ctx, record.ID, "Refunded"); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for unknown status, got %v", err)
	}

	updated, err := svc.UpdatePaymentStatus(ctx, record.ID, domain.PaymentStatusPartial)
	if err != nil {
		t.Fatalf("partial update failed: %v", err)
	}
	if updated.PaymentStatus != domain.PaymentStatusPartial {
		t.Fatalf("expected Partial, got %s", updated.PaymentStatus)
	}
	if _, err := svc.UpdatePaymentStatus(ctx, record.ID, domain.PaymentStatusPaid); err != nil {
		t.Fatalf("paid update failed: %v", err)
	}
}

func TestRecalculateBill(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	record, err := svc.CompleteService(ctx, domain.CompleteServiceRequest{
		VehicleID:        "veh-2001",
		ServiceTypeID:    "styp-oil",
		MileageAtService: dec("45000"),
		Parts:            []domain.ServicePartRequest{{PartID: "prt-3002", Quantity: 2, WasReplaced: true}},
	})
	if err != nil {
		t.Fatalf("complete service failed: %v", err)
	}

	discount := dec("100")
	taxRate := dec("10")
	updated, err := svc.RecalculateBill(ctx, record.ID, domain.BillRecalculateRequest{
		DiscountAmount: &discount,
		TaxRate:        &taxRate,
	})
	if err != nil {
		t.Fatalf("recalculate failed: %v", err)
	}

	// Subtotal 1000 + 170 = 1170; 10% tax = 117; minus 100 discount.
	if !updated.GrandTotal.Equal(dec("1187")) {
		t.Fatalf("expected grand total 1187, got %s", updated.GrandTotal)
	}
	if !updated.TaxAmount.Equal(dec("117")) {
		t.Fatalf("expected tax 117, got %s", updated.TaxAmount)
	}
}

func TestLoyaltyStatusBackfillsFromHistory(t *testing.T) {
	svc, repo := newTestService()
	ctx := adminCtx()

	// Two historical services persisted without a loyalty account, as if
	// they predate the program.
	for i, d := range []time.Time{day("2026-03-01"), day("2026-05-15")} {
		_, err := repo.CreateServiceCompletion(ctx, domain.ServiceCompletion{
			Record: domain.ServiceRecord{
				VehicleID:     "veh-2002",
				ServiceTypeID: "styp-oil",
				ServiceDate:   d,
				PaymentStatus: domain.PaymentStatusPaid,
			},
			Vehicle: domain.VehicleProjection{
				VehicleID:          "veh-2002",
				CurrentMileage:     dec("18300"),
				LastServiceMileage: dec("18300"),
				NextServiceMileage: dec("23300"),
				NextServiceDate:    d.AddDate(0, 6, 0),
			},
		})
		if err != nil {
			t.Fatalf("seed completion %d failed: %v", i+1, err)
		}
	}

	status, err := svc.LoyaltyStatus(ctx, "cus-1002")
	if err != nil {
		t.Fatalf("loyalty status failed: %v", err)
	}
	if status.TotalServices != 2 || status.ConsecutiveCount != 2 {
		t.Fatalf("expected backfilled counters 2/2, got %d/%d", status.TotalServices, status.ConsecutiveCount)
	}
	if status.ServicesNeeded != 1 {
		t.Fatalf("expected 1 service needed, got %d", status.ServicesNeeded)
	}
	if status.EligibilityStatus != domain.EligibilityNotEligible {
		t.Fatalf("expected NOT_ELIGIBLE, got %s", status.EligibilityStatus)
	}
	if status.LastServiceDate == nil || !status.LastServiceDate.Equal(day("2026-05-15")) {
		t.Fatalf("expected last service date backfilled, got %v", status.LastServiceDate)
	}

	// Second read must not bump the counters again.
	again, err := svc.LoyaltyStatus(ctx, "cus-1002")
	if err != nil {
		t.Fatalf("second loyalty status failed: %v", err)
	}
	if again.TotalServices != 2 {
		t.Fatalf("backfill must be idempotent, got %d", again.TotalServices)
	}
}

func TestProformaNumberSequence(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	first, err := svc.CreateProforma(ctx, domain.ProformaCreateRequest{CustomerName: "Walk-in"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if first.Number != "PRO-20260828-0001" {
		t.Fatalf("expected PRO-20260828-0001, got %s", first.Number)
	}

	second, err := svc.CreateProforma(ctx, domain.ProformaCreateRequest{CustomerName: "Walk-in"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if second.Number != "PRO-20260828-0002" {
		t.Fatalf("expected PRO-20260828-0002, got %s", second.Number)
	}
}

func TestProformaItemMutationsRecomputeTotals(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	proforma, err := svc.CreateProforma(ctx, domain.ProformaCreateRequest{
		CustomerID: "cus-1001",
		Items: []domain.ProformaItemCreateDetail{
			{ItemType: domain.ItemTypeService, Name: "Engine diagnostic", Quantity: 1, UnitPrice: dec("500")},
		},
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if !proforma.Subtotal.Equal(dec("500")) || !proforma.GrandTotal.Equal(dec("575")) {
		t.Fatalf("expected 500/575, got %s/%s", proforma.Subtotal, proforma.GrandTotal)
	}

	// A part-linked item with no explicit price snapshots the catalog price.
	proforma, err = svc.AddProformaItem(ctx, proforma.ID, domain.ProformaItemCreateDetail{
		PartID: "prt-3001", Name: "Engine Oil 5W-30 4L", Quantity: 2,
	})
	if err != nil {
		t.Fatalf("add item failed: %v", err)
	}
	if len(proforma.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(proforma.Items))
	}
	if !proforma.Subtotal.Equal(dec("1200.00")) {
		t.Fatalf("expected subtotal 1200.00, got %s", proforma.Subtotal)
	}

	qty := 3
	proforma, err = svc.UpdateProformaItem(ctx, proforma.ID, proforma.Items[1].ID, domain.ProformaItemUpdateRequest{Quantity: &qty})
	if err != nil {
		t.Fatalf("update item failed: %v", err)
	}
	if !proforma.Subtotal.Equal(dec("1550.00")) {
		t.Fatalf("expected subtotal 1550.00, got %s", proforma.Subtotal)
	}

	proforma, err = svc.DeleteProformaItem(ctx, proforma.ID, proforma.Items[1].ID)
	if err != nil {
		t.Fatalf("delete item failed: %v", err)
	}
	if !proforma.Subtotal.Equal(dec("500")) || !proforma.GrandTotal.Equal(dec("575")) {
		t.Fatalf("expected totals back to 500/575, got %s/%s", proforma.Subtotal, proforma.GrandTotal)
	}
}

func TestProformaStatusTransitions(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	proforma, err := svc.CreateProforma(ctx, domain.ProformaCreateRequest{CustomerID: "cus-1001"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	approved := domain.ProformaStatusApproved
	proforma, err = svc.UpdateProforma(ctx, proforma.ID, domain.ProformaUpdateRequest{Status: &approved})
	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if proforma.Status != domain.ProformaStatusApproved {
		t.Fatalf("expected Approved, got %s", proforma.Status)
	}

	draft := domain.ProformaStatusDraft
	if _, err := svc.UpdateProforma(ctx, proforma.ID, domain.ProformaUpdateRequest{Status: &draft}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state moving Approved back to Draft, got %v", err)
	}

	cancelled := domain.ProformaStatusCancelled
	if _, err := svc.UpdateProforma(ctx, proforma.ID, domain.ProformaUpdateRequest{Status: &cancelled}); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
}

func TestMarkProformaPrintedMovesDraftToSent(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	proforma, err := svc.CreateProforma(ctx, domain.ProformaCreateRequest{CustomerID: "cus-1001"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	printed, err := svc.MarkProformaPrinted(ctx, proforma.ID)
	if err != nil {
		t.Fatalf("print failed: %v", err)
	}
	if printed.Status != domain.ProformaStatusSent {
		t.Fatalf("expected Sent after first print, got %s", printed.Status)
	}
	if printed.PrintedAt == nil {
		t.Fatalf("expected printed timestamp")
	}
}

func TestConvertProformaFlipsStatusAndLocksQuote(t *testing.T) {
	svc, repo := newTestService()
	ctx := adminCtx()

	// No vehicle reference: cannot convert.
	standalone, err := svc.CreateProforma(ctx, domain.ProformaCreateRequest{CustomerName: "Walk-in"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.ConvertProforma(ctx, standalone.ID); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input converting a vehicle-less quote, got %v", err)
	}

	proforma, err := svc.CreateProforma(ctx, domain.ProformaCreateRequest{
		CustomerID: "cus-1001",
		VehicleID:  "veh-2001",
		Items: []domain.ProformaItemCreateDetail{
			{PartID: "prt-3001", Name: "Engine Oil 5W-30 4L", Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// A Draft with a vehicle converts directly; the visit itself is booked
	// by a separate completion call.
	converted, err := svc.ConvertProforma(ctx, proforma.ID)
	if err != nil {
		t.Fatalf("convert failed: %v", err)
	}
	if converted.Status != domain.ProformaStatusConverted {
		t.Fatalf("expected Converted, got %s", converted.Status)
	}

	// Converting creates nothing: no service record, no stock movement.
	records, err := repo.ListServiceRecords(ctx, "veh-2001", 10)
	if err != nil {
		t.Fatalf("list records failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no service record from conversion, got %d", len(records))
	}
	part, err := repo.GetPart(ctx, "prt-3001")
	if err != nil {
		t.Fatalf("get part failed: %v", err)
	}
	if part.StockQuantity != 40 {
		t.Fatalf("expected stock untouched at 40, got %d", part.StockQuantity)
	}

	// Converted quotes are frozen, including a repeat convert.
	if _, err := svc.ConvertProforma(ctx, proforma.ID); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state converting twice, got %v", err)
	}
	if _, err := svc.AddProformaItem(ctx, proforma.ID, domain.ProformaItemCreateDetail{Name: "Extra", Quantity: 1, UnitPrice: dec("10")}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state on converted quote, got %v", err)
	}
	notes := "late edit"
	if _, err := svc.UpdateProforma(ctx, proforma.ID, domain.ProformaUpdateRequest{Notes: &notes}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state on converted quote header, got %v", err)
	}
	if err := svc.DeleteProforma(ctx, proforma.ID); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state deleting converted quote, got %v", err)
	}
}

func TestMarketPricesFrozenOnConvertedProforma(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	proforma, err := svc.CreateProforma(ctx, domain.ProformaCreateRequest{
		CustomerID: "cus-1001",
		VehicleID:  "veh-2001",
		Items: []domain.ProformaItemCreateDetail{
			{ItemType: domain.ItemTypeService, Name: "Engine diagnostic", Quantity: 1, UnitPrice: dec("500")},
		},
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	itemID := proforma.Items[0].ID

	price, err := svc.AddMarketPrice(ctx, proforma.ID, itemID, domain.MarketPriceRequest{
		OrganizationName: "Bengkel Sebelah", UnitPrice: dec("550"),
	})
	if err != nil {
		t.Fatalf("add market price failed: %v", err)
	}

	if _, err := svc.ConvertProforma(ctx, proforma.ID); err != nil {
		t.Fatalf("convert failed: %v", err)
	}

	req := domain.MarketPriceRequest{OrganizationName: "Bengkel Sebelah", UnitPrice: dec("560")}
	if _, err := svc.AddMarketPrice(ctx, proforma.ID, itemID, req); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state adding price to converted quote, got %v", err)
	}
	if _, err := svc.UpdateMarketPrice(ctx, proforma.ID, itemID, price.ID, req); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state updating price on converted quote, got %v", err)
	}
	if err := svc.DeleteMarketPrice(ctx, proforma.ID, itemID, price.ID); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state deleting price on converted quote, got %v", err)
	}
}

func TestUpdateProformaValidatesReferences(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	proforma, err := svc.CreateProforma(ctx, domain.ProformaCreateRequest{CustomerID: "cus-1001"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	unknown := "veh-nope"
	if _, err := svc.UpdateProforma(ctx, proforma.ID, domain.ProformaUpdateRequest{VehicleID: &unknown}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown vehicle, got %v", err)
	}

	// veh-2002 belongs to cus-1002, not the quote's customer.
	foreign := "veh-2002"
	if _, err := svc.UpdateProforma(ctx, proforma.ID, domain.ProformaUpdateRequest{VehicleID: &foreign}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for another customer's vehicle, got %v", err)
	}

	badType := "styp-nope"
	if _, err := svc.UpdateProforma(ctx, proforma.ID, domain.ProformaUpdateRequest{ServiceTypeID: &badType}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown service type, got %v", err)
	}

	own := "veh-2001"
	styp := "styp-oil"
	updated, err := svc.UpdateProforma(ctx, proforma.ID, domain.ProformaUpdateRequest{VehicleID: &own, ServiceTypeID: &styp})
	if err != nil {
		t.Fatalf("valid reference update failed: %v", err)
	}
	if updated.VehicleID != "veh-2001" || updated.ServiceTypeID != "styp-oil" {
		t.Fatalf("expected references applied, got %s/%s", updated.VehicleID, updated.ServiceTypeID)
	}
}

func TestRunReminderScanDedupes(t *testing.T) {
	svc, repo := newTestService()
	ctx := adminCtx()

	// 300 km remaining against the 500 km threshold.
	if _, err := repo.CreateVehicle(ctx, domain.Vehicle{
		CustomerID:         "cus-1001",
		LicensePlate:       "B 777 XYZ",
		Make:               "Suzuki",
		Model:              "Ertiga",
		Year:               2020,
		CurrentMileage:     dec("29700"),
		LastServiceMileage: dec("25000"),
		NextServiceMileage: dec("30000"),
	}); err != nil {
		t.Fatalf("seed vehicle failed: %v", err)
	}

	stats, err := svc.RunReminderScan(ctx)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if stats.Checked != 4 {
		t.Fatalf("expected 4 vehicles checked, got %d", stats.Checked)
	}
	if stats.Due != 1 || stats.NotificationsCreated != 1 || stats.Dispatched != 1 {
		t.Fatalf("expected 1 due/created/dispatched, got %+v", stats)
	}
	if stats.Failed != 0 {
		t.Fatalf("expected no failures, got %d", stats.Failed)
	}

	// A second scan inside the dedupe window creates nothing new.
	again, err := svc.RunReminderScan(ctx)
	if err != nil {
		t.Fatalf("second scan failed: %v", err)
	}
	if again.Due != 1 || again.NotificationsCreated != 0 || again.Dispatched != 0 {
		t.Fatalf("expected dedupe to suppress the repeat, got %+v", again)
	}
}

func TestCreatePartRequiresAdmin(t *testing.T) {
	svc, _ := newTestService()

	advisor := WithActor(context.Background(), domain.Actor{Username: "advisor", Role: "advisor"})
	_, err := svc.CreatePart(advisor, domain.PartCreateRequest{Code: "NEW-01", Name: "New Part", UnitPrice: dec("10")})
	if err == nil {
		t.Fatalf("expected advisor to be refused")
	}

	created, err := svc.CreatePart(adminCtx(), domain.PartCreateRequest{Code: "new-01", Name: "New Part", UnitPrice: dec("10"), StockQuantity: 5, MinStockLevel: 2})
	if err != nil {
		t.Fatalf("admin create failed: %v", err)
	}
	if created.Code != "NEW-01" {
		t.Fatalf("expected code upcased, got %s", created.Code)
	}
}

func TestLowStockReport(t *testing.T) {
	svc, _ := newTestService()

	report, err := svc.LowStockReport(context.Background())
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	// Seeded: wiper blades out of stock, spark plugs below minimum.
	if len(report) != 2 {
		t.Fatalf("expected 2 flagged parts, got %d", len(report))
	}
	if report[0].StockStatus != "OUT OF STOCK" {
		t.Fatalf("expected OUT OF STOCK first, got %s", report[0].StockStatus)
	}
	if report[1].StockStatus != "LOW STOCK" {
		t.Fatalf("expected LOW STOCK second, got %s", report[1].StockStatus)
	}
}
