package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bengkelku/backend/internal/cache"
	"bengkelku/backend/internal/domain"
	"bengkelku/backend/internal/loyalty"
	"bengkelku/backend/internal/pricing"
	"bengkelku/backend/internal/reminder"
	"bengkelku/backend/internal/store"
	"bengkelku/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const (
	loyaltyStatusTTL = 5 * time.Minute
	reminderDedupe   = 7 * 24 * time.Hour
)

// Options carries the shop-level tuning knobs. Zero values fall back to
// the defaults used by the demo deployment.
type Options struct {
	LaborRatePerHour         decimal.Decimal
	DefaultTaxRatePercent    decimal.Decimal
	ReminderDaysBefore       int
	ReminderMileageThreshold decimal.Decimal
}

type Service struct {
	repo             store.Repository
	loyaltyCache     cache.LoyaltyStatusCache
	dispatcher       reminder.Dispatcher
	laborRatePerHour decimal.Decimal
	defaultTaxRate   decimal.Decimal
	reminderDays     int
	reminderMileage  decimal.Decimal
	nowFn            func() time.Time
}

func New(repo store.Repository, loyaltyCache cache.LoyaltyStatusCache, dispatcher reminder.Dispatcher, opts Options) *Service {
	if loyaltyCache == nil {
		loyaltyCache = cache.NoopLoyaltyStatusCache{}
	}
	if dispatcher == nil {
		dispatcher = reminder.LogDispatcher{}
	}
	if opts.LaborRatePerHour.IsZero() {
		opts.LaborRatePerHour = decimal.RequireFromString("1000.00")
	}
	if opts.DefaultTaxRatePercent.IsZero() {
		opts.DefaultTaxRatePercent = decimal.RequireFromString("15.00")
	}
	if opts.ReminderDaysBefore < 1 {
		opts.ReminderDaysBefore = 3
	}
	if opts.ReminderMileageThreshold.IsZero() {
		opts.ReminderMileageThreshold = decimal.NewFromInt(500)
	}

	return &Service{
		repo:             repo,
		loyaltyCache:     loyaltyCache,
		dispatcher:       dispatcher,
		laborRatePerHour: opts.LaborRatePerHour,
		defaultTaxRate:   opts.DefaultTaxRatePercent,
		reminderDays:     opts.ReminderDaysBefore,
		reminderMileage:  opts.ReminderMileageThreshold,
		nowFn:            func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) now() time.Time {
	return s.nowFn()
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.FirstName == "" || req.Phone == "" {
		return domain.Customer{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     strings.TrimSpace(req.Email),
		Phone:     req.Phone,
		Active:    true,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "customer_create", "customer", created.ID, fmt.Sprintf("name=%s %s", created.FirstName, created.LastName))
	return *created, nil
}

func (s *Service) ListVehicles(ctx context.Context, customerID string) ([]domain.Vehicle, error) {
	return s.repo.ListVehicles(ctx, customerID)
}

func (s *Service) GetVehicle(ctx context.Context, id string) (domain.Vehicle, error) {
	vehicle, err := s.repo.GetVehicle(ctx, id)
	if err != nil {
		return domain.Vehicle{}, err
	}
	return *vehicle, nil
}

func (s *Service) CreateVehicle(ctx context.Context, req domain.VehicleCreateRequest) (domain.Vehicle, error) {
	req.LicensePlate = strings.ToUpper(strings.TrimSpace(req.LicensePlate))
	if req.CustomerID == "" || req.LicensePlate == "" {
		return domain.Vehicle{}, store.ErrInvalidInput
	}
	if req.CurrentMileage.IsNegative() {
		return domain.Vehicle{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateVehicle(ctx, domain.Vehicle{
		CustomerID:     req.CustomerID,
		LicensePlate:   req.LicensePlate,
		Make:           strings.TrimSpace(req.Make),
		Model:          strings.TrimSpace(req.Model),
		Year:           req.Year,
		CurrentMileage: req.CurrentMileage,
		CreatedAt:      s.now(),
	})
	if err != nil {
		return domain.Vehicle{}, err
	}

	s.logAudit(ctx, "vehicle_create", "vehicle", created.ID, fmt.Sprintf("plate=%s", created.LicensePlate))
	return *created, nil
}

func (s *Service) ListServiceTypes(ctx context.Context) ([]domain.ServiceType, error) {
	return s.repo.ListServiceTypes(ctx)
}

func (s *Service) ListParts(ctx context.Context) ([]domain.Part, error) {
	return s.repo.ListParts(ctx)
}

func (s *Service) CreatePart(ctx context.Context, req domain.PartCreateRequest) (domain.Part, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Part{}, fmt.Errorf("admin role required")
	}

	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	req.Name = strings.TrimSpace(req.Name)
	if req.Code == "" || req.Name == "" {
		return domain.Part{}, store.ErrInvalidInput
	}
	if req.UnitPrice.IsNegative() || req.CostPrice.IsNegative() || req.StockQuantity < 0 || req.MinStockLevel < 0 {
		return domain.Part{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreatePart(ctx, domain.Part{
		Code:          req.Code,
		Name:          req.Name,
		Category:      strings.TrimSpace(req.Category),
		UnitPrice:     req.UnitPrice,
		CostPrice:     req.CostPrice,
		StockQuantity: req.StockQuantity,
		MinStockLevel: req.MinStockLevel,
		Active:        true,
	})
	if err != nil {
		return domain.Part{}, err
	}

	s.logAudit(ctx, "part_create", "part", created.ID, fmt.Sprintf("code=%s,price=%s,stock=%d", created.Code, created.UnitPrice, created.StockQuantity))
	return *created, nil
}

func (s *Service) LowStockReport(ctx context.Context) ([]domain.LowStockPart, error) {
	return s.repo.ListLowStockParts(ctx)
}

// CompleteService records a finished workshop visit: the service row with
// its part lines, inventory consumption, the vehicle's next-service
// projection and the loyalty accrual, persisted as one unit. Part entries
// whose part cannot be resolved are skipped, not rejected; the rest of the
// completion proceeds.
func (s *Service) CompleteService(ctx context.Context, req domain.CompleteServiceRequest) (domain.ServiceRecord, error) {
	if req.VehicleID == "" || req.ServiceTypeID == "" {
		return domain.ServiceRecord{}, store.ErrInvalidInput
	}
	if req.MileageAtService.IsNegative() {
		return domain.ServiceRecord{}, store.ErrInvalidInput
	}
	serviceDate := req.ServiceDate
	if serviceDate.IsZero() {
		serviceDate = s.now()
	}

	vehicle, err := s.repo.GetVehicle(ctx, req.VehicleID)
	if err != nil {
		return domain.ServiceRecord{}, err
	}
	if req.CustomerID != "" && req.CustomerID != vehicle.CustomerID {
		return domain.ServiceRecord{}, store.ErrInvalidInput
	}
	serviceType, err := s.repo.GetServiceType(ctx, req.ServiceTypeID)
	if err != nil {
		return domain.ServiceRecord{}, err
	}

	// The next-service date projects forward from today, not the recorded
	// service date, so a backdated completion still schedules a full
	// interval out.
	nextMileage := req.MileageAtService.Add(serviceType.MileageInterval)
	nextDate := s.now().AddDate(0, serviceType.TimeIntervalMonths, 0)

	laborHours := serviceType.BaseLaborHours
	laborCost := laborHours.Mul(s.laborRatePerHour)

	lines := make([]domain.ServicePartLine, 0, len(req.Parts)+len(req.Checklist))
	decrements := make([]domain.StockDecrement, 0, len(req.Parts))
	partsCost := decimal.Zero
	handledChecklist := make(map[string]bool, len(req.Parts))

	for _, entry := range req.Parts {
		if entry.Quantity < 1 {
			entry.Quantity = 1
		}
		part, err := s.repo.GetPart(ctx, entry.PartID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				log.Printf("[service] WARN: skipping unresolvable part %s on completion for vehicle %s", entry.PartID, req.VehicleID)
				continue
			}
			return domain.ServiceRecord{}, err
		}

		// A line that only records an inspection keeps no replacement
		// reason, costs nothing and consumes no stock.
		reason := ""
		if entry.WasReplaced {
			reason = strings.TrimSpace(entry.ReplacementReason)
		}
		lineTotal := pricing.LineTotal(entry.Quantity, part.UnitPrice)
		lines = append(lines, domain.ServicePartLine{
			PartID:            part.ID,
			ChecklistItemID:   entry.ChecklistItemID,
			Quantity:          entry.Quantity,
			UnitPrice:         part.UnitPrice,
			TotalPrice:        lineTotal,
			WasReplaced:       entry.WasReplaced,
			ReplacementReason: reason,
		})
		if entry.ChecklistItemID != "" {
			handledChecklist[entry.ChecklistItemID] = true
		}
		if entry.WasReplaced {
			decrements = append(decrements, domain.StockDecrement{PartID: part.ID, Quantity: entry.Quantity})
			partsCost = partsCost.Add(lineTotal)
		}
	}

	// Checklist dispositions that consumed no stocked part are recorded
	// against the zero-priced inspection part so the visit report shows
	// what was inspected versus replaced. Items already covered by a part
	// line are not recorded twice.
	var sentinel *domain.Part
	for _, item := range req.Checklist {
		if !item.Checked && !item.Changed {
			continue
		}
		if item.ChecklistItemID != "" && handledChecklist[item.ChecklistItemID] {
			continue
		}
		if sentinel == nil {
			sentinel, err = s.repo.FindOrCreateSentinelPart(ctx, domain.SentinelPartCode)
			if err != nil {
				return domain.ServiceRecord{}, err
			}
		}
		lines = append(lines, domain.ServicePartLine{
			PartID:          sentinel.ID,
			ChecklistItemID: item.ChecklistItemID,
			Quantity:        1,
			UnitPrice:       decimal.Zero,
			TotalPrice:      decimal.Zero,
			WasReplaced:     item.Changed,
		})
	}

	paymentStatus := domain.PaymentStatusPending
	var loyaltyAccount *domain.LoyaltyAccount
	program, err := s.repo.GetActiveLoyaltyProgram(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return domain.ServiceRecord{}, err
	}
	if program != nil {
		account := domain.LoyaltyAccount{CustomerID: vehicle.CustomerID, ProgramID: program.ID}
		if existing, err := s.repo.GetLoyaltyAccountByCustomer(ctx, vehicle.CustomerID); err == nil {
			account = *existing
		} else if !errors.Is(err, store.ErrNotFound) {
			return domain.ServiceRecord{}, err
		}

		updated, result := loyalty.Accrue(account, *program, serviceDate)
		loyaltyAccount = &updated
		if result.IsFreeService {
			laborCost = decimal.Zero
			paymentStatus = domain.PaymentStatusFree
		}
	}

	totals := pricing.ComputeAmounts([]decimal.Decimal{laborCost, partsCost}, s.defaultTaxRate, decimal.Zero)

	record := domain.ServiceRecord{
		ID:                 xid.New("svc"),
		VehicleID:          vehicle.ID,
		ServiceTypeID:      serviceType.ID,
		ServiceDate:        serviceDate,
		MileageAtService:   req.MileageAtService,
		NextServiceMileage: nextMileage,
		NextServiceDate:    nextDate,
		TotalLaborHours:    laborHours,
		LaborRatePerHour:   s.laborRatePerHour,
		TotalLaborCost:     laborCost,
		TotalPartsCost:     partsCost,
		DiscountAmount:     decimal.Zero,
		TaxRate:            s.defaultTaxRate,
		TaxAmount:          totals.TaxAmount,
		GrandTotal:         totals.GrandTotal,
		PaymentStatus:      paymentStatus,
		MechanicNotes:      strings.TrimSpace(req.MechanicNotes),
		CreatedAt:          s.now(),
		Lines:              lines,
	}

	saved, err := s.repo.CreateServiceCompletion(ctx, domain.ServiceCompletion{
		Record:          record,
		StockDecrements: decrements,
		Vehicle: domain.VehicleProjection{
			VehicleID:          vehicle.ID,
			CurrentMileage:     req.MileageAtService,
			LastServiceMileage: req.MileageAtService,
			NextServiceMileage: nextMileage,
			NextServiceDate:    nextDate,
		},
		Loyalty: loyaltyAccount,
	})
	if err != nil {
		return domain.ServiceRecord{}, err
	}

	s.invalidateLoyaltyStatus(ctx, vehicle.CustomerID)
	s.logAudit(ctx, "service_complete", "service", saved.ID, fmt.Sprintf("vehicle=%s,type=%s,total=%s,status=%s", vehicle.ID, serviceType.ID, saved.GrandTotal, saved.PaymentStatus))
	return *saved, nil
}

func (s *Service) GetServiceRecord(ctx context.Context, id string) (domain.ServiceRecord, error) {
	record, err := s.repo.GetServiceRecord(ctx, id)
	if err != nil {
		return domain.ServiceRecord{}, err
	}
	return *record, nil
}

func (s *Service) ListServiceRecords(ctx context.Context, vehicleID string, limit int) ([]domain.ServiceRecord, error) {
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListServiceRecords(ctx, vehicleID, limit)
}

// RecalculateBill rebuilds the bill totals from the stored labor and parts
// costs with an adjusted discount and/or tax rate. Totals are always
// recomputed from scratch, never patched.
func (s *Service) RecalculateBill(ctx context.Context, serviceID string, req domain.BillRecalculateRequest) (domain.ServiceRecord, error) {
	record, err := s.repo.GetServiceRecord(ctx, serviceID)
	if err != nil {
		return domain.ServiceRecord{}, err
	}

	discount := record.DiscountAmount
	if req.DiscountAmount != nil {
		if req.DiscountAmount.IsNegative() {
			return domain.ServiceRecord{}, store.ErrInvalidInput
		}
		discount = *req.DiscountAmount
	}
	taxRate := record.TaxRate
	if req.TaxRate != nil {
		if req.TaxRate.IsNegative() {
			return domain.ServiceRecord{}, store.ErrInvalidInput
		}
		taxRate = *req.TaxRate
	}

	totals := pricing.ComputeAmounts([]decimal.Decimal{record.TotalLaborCost, record.TotalPartsCost}, taxRate, discount)
	record.DiscountAmount = discount
	record.TaxRate = taxRate
	record.TaxAmount = totals.TaxAmount
	record.GrandTotal = totals.GrandTotal

	saved, err := s.repo.UpdateServiceTotals(ctx, *record)
	if err != nil {
		return domain.ServiceRecord{}, err
	}

	s.logAudit(ctx, "bill_recalculate", "service", saved.ID, fmt.Sprintf("discount=%s,tax_rate=%s,total=%s", discount, taxRate, saved.GrandTotal))
	return *saved, nil
}

func (s *Service) UpdatePaymentStatus(ctx context.Context, serviceID string, status string) (domain.ServiceRecord, error) {
	switch status {
	case domain.PaymentStatusPending, domain.PaymentStatusPartial, domain.PaymentStatusPaid:
	default:
		return domain.ServiceRecord{}, store.ErrInvalidInput
	}

	record, err := s.repo.GetServiceRecord(ctx, serviceID)
	if err != nil {
		return domain.ServiceRecord{}, err
	}
	// A redeemed free service stays free; its payment state never moves.
	if record.PaymentStatus == domain.PaymentStatusFree {
		return domain.ServiceRecord{}, store.ErrInvalidState
	}

	saved, err := s.repo.UpdateServicePaymentStatus(ctx, serviceID, status)
	if err != nil {
		return domain.ServiceRecord{}, err
	}

	s.logAudit(ctx, "payment_status_update", "service", saved.ID, fmt.Sprintf("status=%s", status))
	return *saved, nil
}

// ApplyFreeService redeems the customer's earned loyalty credit against an
// existing bill. The discount equals the program's free labor hours at the
// rate the bill was priced with, and the grand total is recomputed in full.
func (s *Service) ApplyFreeService(ctx context.Context, serviceID string) (domain.ServiceRecord, error) {
	record, err := s.repo.GetServiceRecord(ctx, serviceID)
	if err != nil {
		return domain.ServiceRecord{}, err
	}
	if record.PaymentStatus == domain.PaymentStatusFree {
		return domain.ServiceRecord{}, store.ErrInvalidState
	}

	vehicle, err := s.repo.GetVehicle(ctx, record.VehicleID)
	if err != nil {
		return domain.ServiceRecord{}, err
	}

	account, err := s.repo.GetLoyaltyAccountByCustomer(ctx, vehicle.CustomerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ServiceRecord{}, store.ErrNotEligible
		}
		return domain.ServiceRecord{}, err
	}
	if !account.FreeServiceAvailable {
		return domain.ServiceRecord{}, store.ErrNotEligible
	}
	today := s.now()
	if account.FreeServiceExpiry != nil {
		expiry := account.FreeServiceExpiry
		if time.Date(expiry.Year(), expiry.Month(), expiry.Day(), 0, 0, 0, 0, time.UTC).
			Before(time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)) {
			return domain.ServiceRecord{}, store.ErrExpired
		}
	}

	program, err := s.repo.GetLoyaltyProgram(ctx, account.ProgramID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return domain.ServiceRecord{}, err
		}
		program, err = s.repo.GetActiveLoyaltyProgram(ctx)
		if err != nil {
			return domain.ServiceRecord{}, err
		}
	}

	redemption := loyalty.RedemptionDiscount(*program, *record)
	discount := record.DiscountAmount.Add(redemption)
	totals := pricing.ComputeAmounts([]decimal.Decimal{record.TotalLaborCost, record.TotalPartsCost}, record.TaxRate, discount)

	record.DiscountAmount = discount
	record.TaxAmount = totals.TaxAmount
	record.GrandTotal = totals.GrandTotal
	record.PaymentStatus = domain.PaymentStatusFree

	redeemed := loyalty.Redeem(*account)
	saved, err := s.repo.RedeemFreeService(ctx, *record, redeemed)
	if err != nil {
		return domain.ServiceRecord{}, err
	}

	s.invalidateLoyaltyStatus(ctx, vehicle.CustomerID)
	s.logAudit(ctx, "free_service_apply", "service", saved.ID, fmt.Sprintf("customer=%s,discount=%s", vehicle.CustomerID, redemption))
	return *saved, nil
}

// LoyaltyStatus builds the customer's loyalty read model. Before answering
// it reconciles the account against the actual service history, so accounts
// that predate the program (or missed an accrual) are backfilled on read.
func (s *Service) LoyaltyStatus(ctx context.Context, customerID string) (domain.LoyaltyStatus, error) {
	key := loyaltyStatusKey(customerID)
	if cached, ok, err := s.loyaltyCache.Get(ctx, key); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: loyalty status cache read failed for %s: %v", customerID, err)
	}

	if _, err := s.repo.GetCustomer(ctx, customerID); err != nil {
		return domain.LoyaltyStatus{}, err
	}
	program, err := s.repo.GetActiveLoyaltyProgram(ctx)
	if err != nil {
		return domain.LoyaltyStatus{}, err
	}

	account := domain.LoyaltyAccount{CustomerID: customerID, ProgramID: program.ID}
	if existing, err := s.repo.GetLoyaltyAccountByCustomer(ctx, customerID); err == nil {
		account = *existing
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.LoyaltyStatus{}, err
	}

	historical, err := s.repo.CountServicesByCustomer(ctx, customerID)
	if err != nil {
		return domain.LoyaltyStatus{}, err
	}
	lastDate, err := s.repo.LatestServiceDateByCustomer(ctx, customerID)
	if err != nil {
		return domain.LoyaltyStatus{}, err
	}
	if synced, changed := loyalty.Reconcile(account, historical, lastDate); changed {
		saved, err := s.repo.SaveLoyaltyAccount(ctx, synced)
		if err != nil {
			return domain.LoyaltyStatus{}, err
		}
		account = *saved
	}

	eligibility := domain.EligibilityNotEligible
	if loyalty.Eligible(account, s.now()) {
		eligibility = domain.EligibilityEligible
	}

	status := domain.LoyaltyStatus{
		CustomerID:           customerID,
		AccountID:            account.ID,
		ConsecutiveCount:     account.ConsecutiveCount,
		TotalServices:        account.TotalServices,
		ServicesRequired:     program.ServicesRequired,
		ServicesNeeded:       loyalty.ServicesNeeded(account, *program),
		FreeServiceAvailable: account.FreeServiceAvailable,
		FreeServiceExpiry:    account.FreeServiceExpiry,
		FreeServicesEarned:   account.FreeServicesEarned,
		FreeServicesUsed:     account.FreeServicesUsed,
		LastServiceDate:      account.LastServiceDate,
		EligibilityStatus:    eligibility,
	}

	if err := s.loyaltyCache.Set(ctx, key, &status, loyaltyStatusTTL); err != nil {
		log.Printf("[service] WARN: loyalty status cache write failed for %s: %v", customerID, err)
	}
	return status, nil
}

const proformaNumberLayout = "20060102"

// CreateProforma opens a quote in Draft with a sequential number of the
// form PRO-YYYYMMDD-0001, scoped to the creation day.
func (s *Service) CreateProforma(ctx context.Context, req domain.ProformaCreateRequest) (domain.Proforma, error) {
	now := s.now()
	prefix := fmt.Sprintf("PRO-%s-", now.Format(proformaNumberLayout))
	number := fmt.Sprintf("%s%04d", prefix, s.nextProformaSequence(ctx, prefix))

	taxRate := s.defaultTaxRate
	if req.TaxRate != nil {
		if req.TaxRate.IsNegative() {
			return domain.Proforma{}, store.ErrInvalidInput
		}
		taxRate = *req.TaxRate
	}
	discount := decimal.Zero
	if req.DiscountAmount != nil {
		if req.DiscountAmount.IsNegative() {
			return domain.Proforma{}, store.ErrInvalidInput
		}
		discount = *req.DiscountAmount
	}

	items := make([]domain.ProformaItem, 0, len(req.Items))
	for _, detail := range req.Items {
		item, err := s.buildProformaItem(ctx, detail)
		if err != nil {
			return domain.Proforma{}, err
		}
		items = append(items, item)
	}
	totals := proformaTotals(items, taxRate, discount)

	createdBy := ""
	if actor, ok := ActorFromContext(ctx); ok {
		createdBy = actor.Username
	}

	proforma := domain.Proforma{
		Number:           number,
		CustomerID:       req.CustomerID,
		VehicleID:        req.VehicleID,
		ServiceTypeID:    req.ServiceTypeID,
		OrganizationName: strings.TrimSpace(req.OrganizationName),
		CustomerName:     strings.TrimSpace(req.CustomerName),
		CarModel:         strings.TrimSpace(req.CarModel),
		Description:      strings.TrimSpace(req.Description),
		Notes:            strings.TrimSpace(req.Notes),
		Subtotal:         totals.Subtotal,
		TaxRate:          taxRate,
		TaxAmount:        totals.TaxAmount,
		DiscountAmount:   discount,
		GrandTotal:       totals.GrandTotal,
		Status:           domain.ProformaStatusDraft,
		ValidUntil:       req.ValidUntil,
		CreatedBy:        createdBy,
		CreatedAt:        now,
		Items:            items,
	}

	saved, err := s.repo.CreateProforma(ctx, proforma)
	if err != nil {
		return domain.Proforma{}, err
	}

	s.logAudit(ctx, "proforma_create", "proforma", saved.ID, fmt.Sprintf("number=%s,items=%d,total=%s", saved.Number, len(saved.Items), saved.GrandTotal))
	return *saved, nil
}

func (s *Service) GetProforma(ctx context.Context, id string) (domain.Proforma, error) {
	proforma, err := s.repo.GetProforma(ctx, id)
	if err != nil {
		return domain.Proforma{}, err
	}
	return *proforma, nil
}

func (s *Service) ListProformas(ctx context.Context, customerID string, status string, limit int) ([]domain.Proforma, error) {
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListProformas(ctx, customerID, status, limit)
}

func (s *Service) UpdateProforma(ctx context.Context, id string, req domain.ProformaUpdateRequest) (domain.Proforma, error) {
	proforma, err := s.repo.GetProforma(ctx, id)
	if err != nil {
		return domain.Proforma{}, err
	}
	if proforma.Status == domain.ProformaStatusConverted {
		return domain.Proforma{}, store.ErrInvalidState
	}

	if req.Status != nil && *req.Status != proforma.Status {
		if !validProformaTransition(proforma.Status, *req.Status) {
			return domain.Proforma{}, store.ErrInvalidState
		}
		proforma.Status = *req.Status
	}
	if req.VehicleID != nil {
		if *req.VehicleID != "" && *req.VehicleID != proforma.VehicleID {
			vehicle, err := s.repo.GetVehicle(ctx, *req.VehicleID)
			if err != nil {
				return domain.Proforma{}, err
			}
			if proforma.CustomerID != "" && vehicle.CustomerID != proforma.CustomerID {
				return domain.Proforma{}, store.ErrInvalidInput
			}
		}
		proforma.VehicleID = *req.VehicleID
	}
	if req.ServiceTypeID != nil {
		if *req.ServiceTypeID != "" && *req.ServiceTypeID != proforma.ServiceTypeID {
			if _, err := s.repo.GetServiceType(ctx, *req.ServiceTypeID); err != nil {
				return domain.Proforma{}, err
			}
		}
		proforma.ServiceTypeID = *req.ServiceTypeID
	}
	if req.Description != nil {
		proforma.Description = strings.TrimSpace(*req.Description)
	}
	if req.Notes != nil {
		proforma.Notes = strings.TrimSpace(*req.Notes)
	}
	if req.ValidUntil != nil {
		proforma.ValidUntil = req.ValidUntil
	}
	if req.TaxRate != nil {
		if req.TaxRate.IsNegative() {
			return domain.Proforma{}, store.ErrInvalidInput
		}
		proforma.TaxRate = *req.TaxRate
	}
	if req.DiscountAmount != nil {
		if req.DiscountAmount.IsNegative() {
			return domain.Proforma{}, store.ErrInvalidInput
		}
		proforma.DiscountAmount = *req.DiscountAmount
	}

	totals := proformaTotals(proforma.Items, proforma.TaxRate, proforma.DiscountAmount)
	proforma.Subtotal = totals.Subtotal
	proforma.TaxAmount = totals.TaxAmount
	proforma.GrandTotal = totals.GrandTotal

	saved, err := s.repo.UpdateProformaHeader(ctx, *proforma)
	if err != nil {
		return domain.Proforma{}, err
	}

	s.logAudit(ctx, "proforma_update", "proforma", saved.ID, fmt.Sprintf("status=%s,total=%s", saved.Status, saved.GrandTotal))
	return *saved, nil
}

func (s *Service) DeleteProforma(ctx context.Context, id string) error {
	proforma, err := s.repo.GetProforma(ctx, id)
	if err != nil {
		return err
	}
	if proforma.Status == domain.ProformaStatusConverted {
		return store.ErrInvalidState
	}
	if err := s.repo.DeleteProforma(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "proforma_delete", "proforma", id, fmt.Sprintf("number=%s", proforma.Number))
	return nil
}

func (s *Service) AddProformaItem(ctx context.Context, proformaID string, detail domain.ProformaItemCreateDetail) (domain.Proforma, error) {
	proforma, err := s.mutableProforma(ctx, proformaID)
	if err != nil {
		return domain.Proforma{}, err
	}

	item, err := s.buildProformaItem(ctx, detail)
	if err != nil {
		return domain.Proforma{}, err
	}
	item.ProformaID = proforma.ID

	next := append(append([]domain.ProformaItem{}, proforma.Items...), item)
	totals := proformaTotals(next, proforma.TaxRate, proforma.DiscountAmount)
	if _, err := s.repo.AddProformaItem(ctx, item, totals); err != nil {
		return domain.Proforma{}, err
	}

	s.logAudit(ctx, "proforma_item_add", "proforma", proforma.ID, fmt.Sprintf("name=%s,qty=%d", item.Name, item.Quantity))
	return s.GetProforma(ctx, proformaID)
}

func (s *Service) UpdateProformaItem(ctx context.Context, proformaID string, itemID string, req domain.ProformaItemUpdateRequest) (domain.Proforma, error) {
	proforma, err := s.mutableProforma(ctx, proformaID)
	if err != nil {
		return domain.Proforma{}, err
	}

	idx := -1
	for i := range proforma.Items {
		if proforma.Items[i].ID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.Proforma{}, store.ErrNotFound
	}

	item := proforma.Items[idx]
	if req.ItemType != nil {
		if !validItemType(*req.ItemType) {
			return domain.Proforma{}, store.ErrInvalidInput
		}
		item.ItemType = *req.ItemType
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Proforma{}, store.ErrInvalidInput
		}
		item.Name = name
	}
	if req.Description != nil {
		item.Description = strings.TrimSpace(*req.Description)
	}
	if req.Quantity != nil {
		if *req.Quantity < 1 {
			return domain.Proforma{}, store.ErrInvalidInput
		}
		item.Quantity = *req.Quantity
	}
	if req.UnitPrice != nil {
		if req.UnitPrice.IsNegative() {
			return domain.Proforma{}, store.ErrInvalidInput
		}
		item.UnitPrice = *req.UnitPrice
	}
	if req.Notes != nil {
		item.Notes = strings.TrimSpace(*req.Notes)
	}
	item.TotalPrice = pricing.LineTotal(item.Quantity, item.UnitPrice)

	next := append([]domain.ProformaItem{}, proforma.Items...)
	next[idx] = item
	totals := proformaTotals(next, proforma.TaxRate, proforma.DiscountAmount)
	if _, err := s.repo.UpdateProformaItem(ctx, item, totals); err != nil {
		return domain.Proforma{}, err
	}

	s.logAudit(ctx, "proforma_item_update", "proforma", proforma.ID, fmt.Sprintf("item=%s", itemID))
	return s.GetProforma(ctx, proformaID)
}

func (s *Service) DeleteProformaItem(ctx context.Context, proformaID string, itemID string) (domain.Proforma, error) {
	proforma, err := s.mutableProforma(ctx, proformaID)
	if err != nil {
		return domain.Proforma{}, err
	}

	next := make([]domain.ProformaItem, 0, len(proforma.Items))
	found := false
	for _, item := range proforma.Items {
		if item.ID == itemID {
			found = true
			continue
		}
		next = append(next, item)
	}
	if !found {
		return domain.Proforma{}, store.ErrNotFound
	}

	totals := proformaTotals(next, proforma.TaxRate, proforma.DiscountAmount)
	if err := s.repo.DeleteProformaItem(ctx, proformaID, itemID, totals); err != nil {
		return domain.Proforma{}, err
	}

	s.logAudit(ctx, "proforma_item_delete", "proforma", proforma.ID, fmt.Sprintf("item=%s", itemID))
	return s.GetProforma(ctx, proformaID)
}

// Market-price annotations share the quote's mutability rules: once the
// quote is Converted they are frozen with the rest of it.
func (s *Service) AddMarketPrice(ctx context.Context, proformaID string, itemID string, req domain.MarketPriceRequest) (domain.MarketPrice, error) {
	if err := s.checkMarketPriceTarget(ctx, proformaID, itemID); err != nil {
		return domain.MarketPrice{}, err
	}
	req.OrganizationName = strings.TrimSpace(req.OrganizationName)
	if req.OrganizationName == "" || req.UnitPrice.IsNegative() {
		return domain.MarketPrice{}, store.ErrInvalidInput
	}
	created, err := s.repo.AddMarketPrice(ctx, domain.MarketPrice{
		ProformaItemID:   itemID,
		OrganizationName: req.OrganizationName,
		UnitPrice:        req.UnitPrice,
		Notes:            strings.TrimSpace(req.Notes),
		CreatedAt:        s.now(),
	})
	if err != nil {
		return domain.MarketPrice{}, err
	}
	return *created, nil
}

func (s *Service) UpdateMarketPrice(ctx context.Context, proformaID string, itemID string, priceID string, req domain.MarketPriceRequest) (domain.MarketPrice, error) {
	if err := s.checkMarketPriceTarget(ctx, proformaID, itemID); err != nil {
		return domain.MarketPrice{}, err
	}
	req.OrganizationName = strings.TrimSpace(req.OrganizationName)
	if req.OrganizationName == "" || req.UnitPrice.IsNegative() {
		return domain.MarketPrice{}, store.ErrInvalidInput
	}
	updated, err := s.repo.UpdateMarketPrice(ctx, domain.MarketPrice{
		ID:               priceID,
		ProformaItemID:   itemID,
		OrganizationName: req.OrganizationName,
		UnitPrice:        req.UnitPrice,
		Notes:            strings.TrimSpace(req.Notes),
	})
	if err != nil {
		return domain.MarketPrice{}, err
	}
	return *updated, nil
}

func (s *Service) DeleteMarketPrice(ctx context.Context, proformaID string, itemID string, priceID string) error {
	if err := s.checkMarketPriceTarget(ctx, proformaID, itemID); err != nil {
		return err
	}
	return s.repo.DeleteMarketPrice(ctx, itemID, priceID)
}

// checkMarketPriceTarget resolves the owning quote, rejects Converted ones
// and confirms the item belongs to it.
func (s *Service) checkMarketPriceTarget(ctx context.Context, proformaID string, itemID string) error {
	proforma, err := s.mutableProforma(ctx, proformaID)
	if err != nil {
		return err
	}
	for i := range proforma.Items {
		if proforma.Items[i].ID == itemID {
			return nil
		}
	}
	return store.ErrNotFound
}

// MarkProformaPrinted stamps the print time. Printing a Draft moves it to
// Sent, on the assumption that a printed quote has left the building.
func (s *Service) MarkProformaPrinted(ctx context.Context, id string) (domain.Proforma, error) {
	proforma, err := s.repo.GetProforma(ctx, id)
	if err != nil {
		return domain.Proforma{}, err
	}

	now := s.now()
	proforma.PrintedAt = &now
	if proforma.Status == domain.ProformaStatusDraft {
		proforma.Status = domain.ProformaStatusSent
	}

	saved, err := s.repo.UpdateProformaHeader(ctx, *proforma)
	if err != nil {
		return domain.Proforma{}, err
	}

	s.logAudit(ctx, "proforma_print", "proforma", saved.ID, fmt.Sprintf("number=%s,status=%s", saved.Number, saved.Status))
	return *saved, nil
}

// ConvertProforma freezes a quote as Converted. It only flips the state:
// booking the resulting service visit is a separate completion call, which
// links back through the conversion-target reference.
func (s *Service) ConvertProforma(ctx context.Context, id string) (domain.Proforma, error) {
	proforma, err := s.repo.GetProforma(ctx, id)
	if err != nil {
		return domain.Proforma{}, err
	}
	if proforma.Status == domain.ProformaStatusConverted {
		return domain.Proforma{}, store.ErrInvalidState
	}
	if proforma.VehicleID == "" {
		return domain.Proforma{}, store.ErrInvalidInput
	}

	proforma.Status = domain.ProformaStatusConverted
	saved, err := s.repo.UpdateProformaHeader(ctx, *proforma)
	if err != nil {
		return domain.Proforma{}, err
	}

	s.logAudit(ctx, "proforma_convert", "proforma", saved.ID, fmt.Sprintf("number=%s", saved.Number))
	return *saved, nil
}

// RunReminderScan walks the fleet once, creates a notification for every
// vehicle that is due and dispatches it. A failure on one vehicle is
// counted and the scan moves on.
func (s *Service) RunReminderScan(ctx context.Context) (domain.ReminderStats, error) {
	stats := domain.ReminderStats{}
	vehicles, err := s.repo.ListVehicles(ctx, "")
	if err != nil {
		return stats, err
	}

	now := s.now()
	for _, vehicle := range vehicles {
		stats.Checked++

		var lastService *domain.ServiceRecord
		last, err := s.repo.LatestServiceByVehicle(ctx, vehicle.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Printf("[reminder] WARN: history lookup failed for vehicle %s: %v", vehicle.ID, err)
			stats.Failed++
			continue
		}
		if err == nil {
			lastService = last
		}

		var serviceType *domain.ServiceType
		if lastService != nil {
			if st, err := s.repo.GetServiceType(ctx, lastService.ServiceTypeID); err == nil {
				serviceType = st
			}
		}

		if !reminder.IsDue(vehicle, lastService, serviceType, now, s.reminderMileage, s.reminderDays) {
			continue
		}
		stats.Due++

		customer, err := s.repo.GetCustomer(ctx, vehicle.CustomerID)
		if err != nil {
			log.Printf("[reminder] WARN: owner lookup failed for vehicle %s: %v", vehicle.ID, err)
			stats.Failed++
			continue
		}

		recent, err := s.repo.HasRecentNotification(ctx, customer.ID, vehicle.ID, domain.NotificationTypeServiceReminder, now.Add(-reminderDedupe))
		if err != nil {
			log.Printf("[reminder] WARN: dedupe check failed for vehicle %s: %v", vehicle.ID, err)
			stats.Failed++
			continue
		}
		if recent {
			continue
		}

		notification := domain.Notification{
			CustomerID: customer.ID,
			VehicleID:  vehicle.ID,
			Type:       domain.NotificationTypeServiceReminder,
			Channel:    "email",
			Subject:    fmt.Sprintf("Service due for your %s %s (%s)", vehicle.Make, vehicle.Model, vehicle.LicensePlate),
			Message:    fmt.Sprintf("Hi %s, your %s %s is due for service. Current mileage %s, next service at %s. Please book an appointment.", customer.FirstName, vehicle.Make, vehicle.Model, vehicle.CurrentMileage, vehicle.NextServiceMileage),
			Status:     domain.NotificationStatusPending,
			CreatedAt:  now,
		}
		created, err := s.repo.CreateNotification(ctx, notification)
		if err != nil {
			log.Printf("[reminder] WARN: notification create failed for vehicle %s: %v", vehicle.ID, err)
			stats.Failed++
			continue
		}
		stats.NotificationsCreated++

		if err := s.dispatcher.DispatchServiceReminder(ctx, *customer, vehicle, *created); err != nil {
			log.Printf("[reminder] WARN: dispatch failed for vehicle %s: %v", vehicle.ID, err)
			if err := s.repo.UpdateNotificationStatus(ctx, created.ID, domain.NotificationStatusFailed, nil); err != nil {
				log.Printf("[reminder] WARN: status update failed for notification %s: %v", created.ID, err)
			}
			stats.Failed++
			continue
		}
		sentAt := s.now()
		if err := s.repo.UpdateNotificationStatus(ctx, created.ID, domain.NotificationStatusSent, &sentAt); err != nil {
			log.Printf("[reminder] WARN: status update failed for notification %s: %v", created.ID, err)
		}
		stats.Dispatched++
	}

	s.logAudit(ctx, "reminder_scan", "notification", "", fmt.Sprintf("checked=%d,due=%d,sent=%d,failed=%d", stats.Checked, stats.Due, stats.Dispatched, stats.Failed))
	return stats, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, limit)
}

func (s *Service) mutableProforma(ctx context.Context, id string) (*domain.Proforma, error) {
	proforma, err := s.repo.GetProforma(ctx, id)
	if err != nil {
		return nil, err
	}
	if proforma.Status == domain.ProformaStatusConverted {
		return nil, store.ErrInvalidState
	}
	return proforma, nil
}

func (s *Service) buildProformaItem(ctx context.Context, detail domain.ProformaItemCreateDetail) (domain.ProformaItem, error) {
	detail.Name = strings.TrimSpace(detail.Name)
	if detail.Name == "" {
		return domain.ProformaItem{}, store.ErrInvalidInput
	}
	if detail.Quantity < 1 {
		detail.Quantity = 1
	}
	if detail.UnitPrice.IsNegative() {
		return domain.ProformaItem{}, store.ErrInvalidInput
	}
	itemType := detail.ItemType
	if itemType == "" {
		itemType = domain.ItemTypeOther
		if detail.PartID != "" {
			itemType = domain.ItemTypePart
		}
	}
	if !validItemType(itemType) {
		return domain.ProformaItem{}, store.ErrInvalidInput
	}

	unitPrice := detail.UnitPrice
	if detail.PartID != "" && unitPrice.IsZero() {
		if part, err := s.repo.GetPart(ctx, detail.PartID); err == nil {
			unitPrice = part.UnitPrice
		}
	}

	item := domain.ProformaItem{
		PartID:      detail.PartID,
		ItemType:    itemType,
		Name:        detail.Name,
		Description: strings.TrimSpace(detail.Description),
		Quantity:    detail.Quantity,
		UnitPrice:   unitPrice,
		TotalPrice:  pricing.LineTotal(detail.Quantity, unitPrice),
		Notes:       strings.TrimSpace(detail.Notes),
	}
	for _, mp := range detail.MarketPrices {
		name := strings.TrimSpace(mp.OrganizationName)
		if name == "" || mp.UnitPrice.IsNegative() {
			continue
		}
		item.Market = append(item.Market, domain.MarketPrice{
			OrganizationName: name,
			UnitPrice:        mp.UnitPrice,
			Notes:            strings.TrimSpace(mp.Notes),
			CreatedAt:        s.now(),
		})
	}
	return item, nil
}

func (s *Service) nextProformaSequence(ctx context.Context, prefix string) int {
	latest, err := s.repo.LatestProformaNumber(ctx, prefix)
	if err != nil || latest == "" {
		if err != nil {
			log.Printf("[service] WARN: proforma number lookup failed, restarting sequence: %v", err)
		}
		return 1
	}
	seq, err := strconv.Atoi(strings.TrimPrefix(latest, prefix))
	if err != nil {
		return 1
	}
	return seq + 1
}

func (s *Service) invalidateLoyaltyStatus(ctx context.Context, customerID string) {
	if err := s.loyaltyCache.Delete(ctx, loyaltyStatusKey(customerID)); err != nil {
		log.Printf("[service] WARN: loyalty status cache invalidation failed for %s: %v", customerID, err)
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func loyaltyStatusKey(customerID string) string {
	return "loyalty:status:" + customerID
}

func proformaTotals(items []domain.ProformaItem, taxRate decimal.Decimal, discount decimal.Decimal) pricing.Totals {
	amounts := make([]decimal.Decimal, 0, len(items))
	for _, item := range items {
		amounts = append(amounts, item.TotalPrice)
	}
	return pricing.ComputeAmounts(amounts, taxRate, discount)
}

func validProformaTransition(from string, to string) bool {
	switch from {
	case domain.ProformaStatusDraft:
		return to == domain.ProformaStatusSent || to == domain.ProformaStatusApproved || to == domain.ProformaStatusCancelled
	case domain.ProformaStatusSent:
		return to == domain.ProformaStatusApproved || to == domain.ProformaStatusCancelled
	case domain.ProformaStatusApproved:
		return to == domain.ProformaStatusCancelled
	default:
		return false
	}
}

func validItemType(itemType string) bool {
	switch itemType {
	case domain.ItemTypeService, domain.ItemTypePart, domain.ItemTypeOther:
		return true
	default:
		return false
	}
}
