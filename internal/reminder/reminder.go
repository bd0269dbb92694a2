// Package reminder decides when a vehicle is due for service. The
// evaluation is pure; the batch scan that feeds it lives in the service
// layer and hands results to a Dispatcher.
package reminder

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"bengkelku/backend/internal/domain"
)

// A 30-day month approximates the service-type interval for time-based
// due checks, matching how next-service reminders have always been
// scheduled.
const daysPerMonth = 30

// IsDue reports whether the vehicle needs a reminder. Mileage-due:
// remaining mileage at or under the threshold. Time-due: the projected
// next service date (last service + interval) falls within the next
// daysBefore days. Either alone is sufficient.
func IsDue(vehicle domain.Vehicle, lastService *domain.ServiceRecord, serviceType *domain.ServiceType, now time.Time, mileageThreshold decimal.Decimal, daysBefore int) bool {
	remaining := vehicle.NextServiceMileage.Sub(vehicle.CurrentMileage)
	if remaining.LessThanOrEqual(mileageThreshold) {
		return true
	}

	if lastService == nil || serviceType == nil || serviceType.TimeIntervalMonths <= 0 {
		return false
	}
	next := lastService.ServiceDate.AddDate(0, 0, serviceType.TimeIntervalMonths*daysPerMonth)
	days := daysUntil(now, next)
	return days >= 0 && days <= daysBefore
}

func daysUntil(now time.Time, target time.Time) int {
	n := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(target.Year(), target.Month(), target.Day(), 0, 0, 0, 0, time.UTC)
	return int(t.Sub(n).Hours() / 24)
}

// Dispatcher receives due-service notifications. Template rendering and
// the actual email transport live behind this interface, outside the core.
type Dispatcher interface {
	DispatchServiceReminder(ctx context.Context, customer domain.Customer, vehicle domain.Vehicle, notification domain.Notification) error
}

// LogDispatcher writes reminders to the process log. It stands in for the
// email dispatcher in dev mode and in tests.
type LogDispatcher struct{}

func (LogDispatcher) DispatchServiceReminder(_ context.Context, customer domain.Customer, vehicle domain.Vehicle, notification domain.Notification) error {
	log.Printf("[reminder] %s %s <%s>: %s", customer.FirstName, customer.LastName, customer.Email, notification.Subject)
	return nil
}
