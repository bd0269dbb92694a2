package reminder

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bengkelku/backend/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestIsDueByMileage(t *testing.T) {
	vehicle := domain.Vehicle{
		NextServiceMileage: dec("10000"),
		CurrentMileage:     dec("9600"),
	}

	// 400 km remaining against a 500 km threshold: due regardless of time.
	if !IsDue(vehicle, nil, nil, day("2026-08-01"), dec("500"), 3) {
		t.Fatalf("expected mileage-due vehicle to be due")
	}

	vehicle.CurrentMileage = dec("9000")
	if IsDue(vehicle, nil, nil, day("2026-08-01"), dec("500"), 3) {
		t.Fatalf("expected vehicle with 1000 km remaining to not be due")
	}
}

func TestIsDueByTime(t *testing.T) {
	vehicle := domain.Vehicle{
		NextServiceMileage: dec("20000"),
		CurrentMileage:     dec("5000"),
	}
	serviceType := domain.ServiceType{TimeIntervalMonths: 6}

	// Last service 2026-02-10; next due 2026-08-09 (6 x 30 days).
	last := &domain.ServiceRecord{ServiceDate: day("2026-02-10")}

	if !IsDue(vehicle, last, &serviceType, day("2026-08-07"), dec("500"), 3) {
		t.Fatalf("expected vehicle due 2 days before projected date")
	}
	if IsDue(vehicle, last, &serviceType, day("2026-08-01"), dec("500"), 3) {
		t.Fatalf("expected vehicle not due 8 days before projected date")
	}
	// Past the projected date the window has closed; mileage takes over.
	if IsDue(vehicle, last, &serviceType, day("2026-08-15"), dec("500"), 3) {
		t.Fatalf("expected vehicle not time-due after the window")
	}
}

func TestIsDueWithoutHistory(t *testing.T) {
	vehicle := domain.Vehicle{
		NextServiceMileage: dec("20000"),
		CurrentMileage:     dec("5000"),
	}
	if IsDue(vehicle, nil, nil, day("2026-08-01"), dec("500"), 3) {
		t.Fatalf("vehicle with no history and plenty of mileage must not be due")
	}
}
