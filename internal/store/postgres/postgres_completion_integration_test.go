package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bengkelku/backend/internal/domain"
)

func TestServiceCompletionDecrementsStockAndSavesLoyalty(t *testing.T) {
	databaseURL := os.Getenv("BENGKELKU_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set BENGKELKU_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	customerID := fmt.Sprintf("cus-it-%d", stamp)
	vehicleID := fmt.Sprintf("veh-it-%d", stamp)
	serviceTypeID := fmt.Sprintf("styp-it-%d", stamp)
	partID := fmt.Sprintf("prt-it-%d", stamp)
	recordID := fmt.Sprintf("svc-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM service_part_lines WHERE service_id = $1`, recordID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM service_records WHERE id = $1`, recordID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM loyalty_accounts WHERE customer_id = $1`, customerID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM parts WHERE id = $1`, partID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM service_types WHERE id = $1`, serviceTypeID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM vehicles WHERE id = $1`, vehicleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, customerID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, first_name, last_name, email, phone, active, created_at)
		VALUES ($1, 'Integration', 'Test', '', '0800000000', true, now())
	`, customerID); err != nil {
		t.Fatalf("insert customer: %v", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO vehicles (
			id, customer_id, license_plate, make, model, year,
			current_mileage, last_service_mileage, next_service_mileage, next_service_date, created_at
		)
		VALUES ($1, $2, 'IT 1 TEST', 'Toyota', 'Avanza', 2020, 40000, 35000, 40000, null, now())
	`, vehicleID, customerID); err != nil {
		t.Fatalf("insert vehicle: %v", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO service_types (id, name, base_labor_hours, mileage_interval, time_interval_months, active)
		VALUES ($1, 'Integration Oil Change', 1, 5000, 6, true)
	`, serviceTypeID); err != nil {
		t.Fatalf("insert service type: %v", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO parts (id, code, name, category, unit_price, cost_price, stock_quantity, min_stock_level, active)
		VALUES ($1, $2, 'Integration Oil', 'fluids', 350, 200, 10, 2, true)
	`, partID, fmt.Sprintf("IT-OIL-%d", stamp)); err != nil {
		t.Fatalf("insert part: %v", err)
	}

	now := time.Now().UTC()
	_, err = s.CreateServiceCompletion(ctx, domain.ServiceCompletion{
		Record: domain.ServiceRecord{
			ID:                 recordID,
			VehicleID:          vehicleID,
			ServiceTypeID:      serviceTypeID,
			ServiceDate:        now,
			MileageAtService:   decimal.NewFromInt(40000),
			NextServiceMileage: decimal.NewFromInt(45000),
			NextServiceDate:    now.AddDate(0, 6, 0),
			TotalLaborHours:    decimal.NewFromInt(1),
			LaborRatePerHour:   decimal.NewFromInt(1000),
			TotalLaborCost:     decimal.NewFromInt(1000),
			TotalPartsCost:     decimal.NewFromInt(700),
			TaxRate:            decimal.NewFromInt(15),
			TaxAmount:          decimal.NewFromInt(255),
			GrandTotal:         decimal.NewFromInt(1955),
			PaymentStatus:      domain.PaymentStatusPending,
			CreatedAt:          now,
			Lines: []domain.ServicePartLine{
				{PartID: partID, Quantity: 2, UnitPrice: decimal.NewFromInt(350), TotalPrice: decimal.NewFromInt(700), WasReplaced: true},
			},
		},
		StockDecrements: []domain.StockDecrement{
			{PartID: partID, Quantity: 2},
		},
		Vehicle: domain.VehicleProjection{
			VehicleID:          vehicleID,
			CurrentMileage:     decimal.NewFromInt(40000),
			LastServiceMileage: decimal.NewFromInt(40000),
			NextServiceMileage: decimal.NewFromInt(45000),
			NextServiceDate:    now.AddDate(0, 6, 0),
		},
		Loyalty: &domain.LoyaltyAccount{
			CustomerID:       customerID,
			ProgramID:        "lp-standard",
			ConsecutiveCount: 1,
			TotalServices:    1,
			LastServiceDate:  &now,
		},
	})
	if err != nil {
		t.Fatalf("create service completion: %v", err)
	}

	var stock int
	if err := s.db.QueryRowContext(ctx, `
		SELECT stock_quantity FROM parts WHERE id = $1
	`, partID).Scan(&stock); err != nil {
		t.Fatalf("query stock: %v", err)
	}
	if stock != 8 {
		t.Fatalf("expected stock 8 after completion, got %d", stock)
	}

	account, err := s.GetLoyaltyAccountByCustomer(ctx, customerID)
	if err != nil {
		t.Fatalf("get loyalty account: %v", err)
	}
	if account.ConsecutiveCount != 1 || account.TotalServices != 1 {
		t.Fatalf("unexpected loyalty state %+v", account)
	}

	record, err := s.GetServiceRecord(ctx, recordID)
	if err != nil {
		t.Fatalf("get service record: %v", err)
	}
	if len(record.Lines) != 1 {
		t.Fatalf("expected 1 part line, got %d", len(record.Lines))
	}
}
