package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"bengkelku/backend/internal/domain"
	"bengkelku/backend/internal/pricing"
	"bengkelku/backend/internal/store"
	"bengkelku/backend/internal/xid"
)

type Store struct {
	mu                sync.RWMutex
	customers         map[string]domain.Customer
	vehicles          map[string]domain.Vehicle
	serviceTypes      map[string]domain.ServiceType
	parts             map[string]domain.Part
	partIDByCode      map[string]string
	servicesByID      map[string]*domain.ServiceRecord
	loyaltyPrograms   map[string]domain.LoyaltyProgram
	loyaltyByCustomer map[string]domain.LoyaltyAccount
	proformasByID     map[string]*domain.Proforma
	notifications     []domain.Notification
	auditLogs         []domain.AuditLog
	usersByUsername   map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_ADVISOR_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	advisorPwd := envOr("SEED_ADVISOR_PASSWORD", "advisor123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_ADVISOR_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_ADVISOR_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"advisor", advisorPwd, "advisor"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func NewSeeded() *Store {
	now := time.Now().UTC()

	customers := []domain.Customer{
		{ID: "cus-1001", FirstName: "Budi", LastName: "Santoso", Email: "budi.santoso@example.com", Phone: "+62-811-2345-001", Active: true, CreatedAt: now},
		{ID: "cus-1002", FirstName: "Siti", LastName: "Rahayu", Email: "siti.rahayu@example.com", Phone: "+62-811-2345-002", Active: true, CreatedAt: now},
		{ID: "cus-1003", FirstName: "Agus", LastName: "Wijaya", Email: "agus.wijaya@example.com", Phone: "+62-811-2345-003", Active: true, CreatedAt: now},
	}

	vehicles := []domain.Vehicle{
		{ID: "veh-2001", CustomerID: "cus-1001", LicensePlate: "B 1234 ABC", Make: "Toyota", Model: "Avanza", Year: 2019, CurrentMileage: dec("44200"), LastServiceMileage: dec("40000"), NextServiceMileage: dec("45000"), CreatedAt: now},
		{ID: "veh-2002", CustomerID: "cus-1002", LicensePlate: "B 5678 DEF", Make: "Honda", Model: "Brio", Year: 2021, CurrentMileage: dec("18300"), LastServiceMileage: dec("15000"), NextServiceMileage: dec("20000"), CreatedAt: now},
		{ID: "veh-2003", CustomerID: "cus-1003", LicensePlate: "D 9012 GHI", Make: "Daihatsu", Model: "Terios", Year: 2018, CurrentMileage: dec("61000"), LastServiceMileage: dec("60000"), NextServiceMileage: dec("65000"), CreatedAt: now},
	}

	serviceTypes := []domain.ServiceType{
		{ID: "styp-oil", Name: "Oil Change", BaseLaborHours: dec("1"), MileageInterval: dec("5000"), TimeIntervalMonths: 6, Active: true},
		{ID: "styp-full", Name: "Full Service", BaseLaborHours: dec("3"), MileageInterval: dec("10000"), TimeIntervalMonths: 12, Active: true},
		{ID: "styp-brake", Name: "Brake Service", BaseLaborHours: dec("2"), MileageInterval: dec("20000"), TimeIntervalMonths: 12, Active: true},
		{ID: "styp-tire", Name: "Tire Rotation", BaseLaborHours: dec("0.5"), MileageInterval: dec("10000"), TimeIntervalMonths: 6, Active: true},
	}

	parts := []domain.Part{
		{ID: "prt-3001", Code: "OIL-5W30-4L", Name: "Engine Oil 5W-30 4L", Category: "fluids", UnitPrice: dec("350.00"), CostPrice: dec("260.00"), StockQuantity: 40, MinStockLevel: 10, Active: true},
		{ID: "prt-3002", Code: "FLT-OIL-01", Name: "Oil Filter", Category: "filters", UnitPrice: dec("85.00"), CostPrice: dec("52.00"), StockQuantity: 55, MinStockLevel: 15, Active: true},
		{ID: "prt-3003", Code: "FLT-AIR-01", Name: "Air Filter", Category: "filters", UnitPrice: dec("120.00"), CostPrice: dec("78.00"), StockQuantity: 30, MinStockLevel: 8, Active: true},
		{ID: "prt-3004", Code: "BRK-PAD-F", Name: "Front Brake Pads", Category: "brakes", UnitPrice: dec("420.00"), CostPrice: dec("300.00"), StockQuantity: 12, MinStockLevel: 6, Active: true},
		{ID: "prt-3005", Code: "SPK-PLUG-IR", Name: "Iridium Spark Plug", Category: "ignition", UnitPrice: dec("95.00"), CostPrice: dec("60.00"), StockQuantity: 6, MinStockLevel: 8, Active: true},
		{ID: "prt-3006", Code: "WPR-BLADE-20", Name: "Wiper Blade 20in", Category: "exterior", UnitPrice: dec("65.00"), CostPrice: dec("38.00"), StockQuantity: 0, MinStockLevel: 4, Active: true},
	}

	programs := []domain.LoyaltyProgram{
		{ID: "lp-standard", Name: "Standard Loyalty", ServicesRequired: 3, FreeLaborHours: dec("3"), ValidDays: 365, Active: true},
	}

	customerMap := make(map[string]domain.Customer, len(customers))
	for _, c := range customers {
		customerMap[c.ID] = c
	}
	vehicleMap := make(map[string]domain.Vehicle, len(vehicles))
	for _, v := range vehicles {
		vehicleMap[v.ID] = v
	}
	typeMap := make(map[string]domain.ServiceType, len(serviceTypes))
	for _, st := range serviceTypes {
		typeMap[st.ID] = st
	}
	partMap := make(map[string]domain.Part, len(parts))
	codeMap := make(map[string]string, len(parts))
	for _, p := range parts {
		partMap[p.ID] = p
		codeMap[p.Code] = p.ID
	}
	programMap := make(map[string]domain.LoyaltyProgram, len(programs))
	for _, lp := range programs {
		programMap[lp.ID] = lp
	}

	return &Store{
		customers:         customerMap,
		vehicles:          vehicleMap,
		serviceTypes:      typeMap,
		parts:             partMap,
		partIDByCode:      codeMap,
		servicesByID:      make(map[string]*domain.ServiceRecord),
		loyaltyPrograms:   programMap,
		loyaltyByCustomer: make(map[string]domain.LoyaltyAccount),
		proformasByID:     make(map[string]*domain.Proforma),
		notifications:     make([]domain.Notification, 0, 64),
		auditLogs:         make([]domain.AuditLog, 0, 128),
		usersByUsername:   seedUsers(),
	}
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		if !c.Active {
			continue
		}
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		if a.LastName == b.LastName {
			return cmpString(a.FirstName, b.FirstName)
		}
		return cmpString(a.LastName, b.LastName)
	})
	return customers, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customers[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(customer.FirstName) == "" || strings.TrimSpace(customer.Phone) == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	customer.Active = true

	s.customers[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) ListVehicles(_ context.Context, customerID string) ([]domain.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vehicles := make([]domain.Vehicle, 0, len(s.vehicles))
	for _, v := range s.vehicles {
		if customerID != "" && v.CustomerID != customerID {
			continue
		}
		vehicles = append(vehicles, v)
	}
	slices.SortFunc(vehicles, func(a, b domain.Vehicle) int {
		return cmpString(a.LicensePlate, b.LicensePlate)
	})
	return vehicles, nil
}

func (s *Store) GetVehicle(_ context.Context, id string) (*domain.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vehicle, exists := s.vehicles[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyVehicle := vehicle
	return &copyVehicle, nil
}

func (s *Store) CreateVehicle(_ context.Context, vehicle domain.Vehicle) (*domain.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(vehicle.LicensePlate) == "" {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.customers[vehicle.CustomerID]; !exists {
		return nil, store.ErrNotFound
	}
	if vehicle.ID == "" {
		vehicle.ID = xid.New("veh")
	}
	if vehicle.CreatedAt.IsZero() {
		vehicle.CreatedAt = time.Now().UTC()
	}

	s.vehicles[vehicle.ID] = vehicle
	created := vehicle
	return &created, nil
}

func (s *Store) ListServiceTypes(_ context.Context) ([]domain.ServiceType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	types := make([]domain.ServiceType, 0, len(s.serviceTypes))
	for _, st := range s.serviceTypes {
		if !st.Active {
			continue
		}
		types = append(types, st)
	}
	slices.SortFunc(types, func(a, b domain.ServiceType) int {
		return cmpString(a.Name, b.Name)
	})
	return types, nil
}

func (s *Store) GetServiceType(_ context.Context, id string) (*domain.ServiceType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	serviceType, exists := s.serviceTypes[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyType := serviceType
	return &copyType, nil
}

func (s *Store) ListParts(_ context.Context) ([]domain.Part, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parts := make([]domain.Part, 0, len(s.parts))
	for _, p := range s.parts {
		if !p.Active {
			continue
		}
		parts = append(parts, p)
	}
	slices.SortFunc(parts, func(a, b domain.Part) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})
	return parts, nil
}

func (s *Store) GetPart(_ context.Context, id string) (*domain.Part, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	part, exists := s.parts[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyPart := part
	return &copyPart, nil
}

func (s *Store) CreatePart(_ context.Context, part domain.Part) (*domain.Part, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	part.Code = strings.ToUpper(strings.TrimSpace(part.Code))
	if part.Code == "" || strings.TrimSpace(part.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if part.UnitPrice.IsNegative() || part.CostPrice.IsNegative() {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.partIDByCode[part.Code]; exists {
		return nil, store.ErrInvalidInput
	}
	if part.ID == "" {
		part.ID = xid.New("prt")
	}
	part.Active = true

	s.parts[part.ID] = part
	s.partIDByCode[part.Code] = part.ID
	created := part
	return &created, nil
}

func (s *Store) ListLowStockParts(_ context.Context) ([]domain.LowStockPart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.LowStockPart, 0, 8)
	for _, p := range s.parts {
		if !p.Active || p.MinStockLevel < 1 {
			continue
		}
		if p.StockQuantity > p.MinStockLevel {
			continue
		}
		status := "LOW STOCK"
		if p.StockQuantity <= 0 {
			status = "OUT OF STOCK"
		}
		result = append(result, domain.LowStockPart{Part: p, StockStatus: status})
	}
	slices.SortFunc(result, func(a, b domain.LowStockPart) int {
		if a.StockQuantity == b.StockQuantity {
			return cmpString(a.Name, b.Name)
		}
		if a.StockQuantity < b.StockQuantity {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) DecrementStock(_ context.Context, partID string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	part, exists := s.parts[partID]
	if !exists {
		return store.ErrNotFound
	}
	// Stock is allowed to go negative; the ledger records consumption as it
	// happened and the low-stock report surfaces the deficit.
	part.StockQuantity -= quantity
	s.parts[partID] = part
	return nil
}

func (s *Store) FindOrCreateSentinelPart(_ context.Context, code string) (*domain.Part, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, store.ErrInvalidInput
	}
	if id, exists := s.partIDByCode[code]; exists {
		part := s.parts[id]
		copyPart := part
		return &copyPart, nil
	}

	part := domain.Part{
		ID:        xid.New("prt"),
		Code:      code,
		Name:      "Checklist Inspection",
		Category:  "internal",
		UnitPrice: decimal.Zero,
		CostPrice: decimal.Zero,
		Active:    true,
	}
	s.parts[part.ID] = part
	s.partIDByCode[part.Code] = part.ID
	created := part
	return &created, nil
}

func (s *Store) CreateServiceCompletion(_ context.Context, completion domain.ServiceCompletion) (*domain.ServiceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := completion.Record
	vehicle, exists := s.vehicles[record.VehicleID]
	if !exists {
		return nil, store.ErrNotFound
	}

	if record.ID == "" {
		record.ID = xid.New("svc")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	for i := range record.Lines {
		if record.Lines[i].ID == "" {
			record.Lines[i].ID = xid.New("line")
		}
		record.Lines[i].ServiceID = record.ID
	}

	for _, adj := range completion.StockDecrements {
		part, ok := s.parts[adj.PartID]
		if !ok {
			return nil, store.ErrNotFound
		}
		part.StockQuantity -= adj.Quantity
		s.parts[adj.PartID] = part
	}

	vehicle.CurrentMileage = completion.Vehicle.CurrentMileage
	vehicle.LastServiceMileage = completion.Vehicle.LastServiceMileage
	vehicle.NextServiceMileage = completion.Vehicle.NextServiceMileage
	nextDate := completion.Vehicle.NextServiceDate
	vehicle.NextServiceDate = &nextDate
	s.vehicles[vehicle.ID] = vehicle

	if completion.Loyalty != nil {
		account := *completion.Loyalty
		if account.ID == "" {
			account.ID = xid.New("loy")
		}
		s.loyaltyByCustomer[account.CustomerID] = account
	}

	stored := cloneServiceRecord(&record)
	s.servicesByID[record.ID] = stored
	return cloneServiceRecord(stored), nil
}

func (s *Store) GetServiceRecord(_ context.Context, id string) (*domain.ServiceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.servicesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneServiceRecord(record), nil
}

func (s *Store) ListServiceRecords(_ context.Context, vehicleID string, limit int) ([]domain.ServiceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ServiceRecord, 0, 32)
	for _, record := range s.servicesByID {
		if vehicleID != "" && record.VehicleID != vehicleID {
			continue
		}
		result = append(result, *cloneServiceRecord(record))
	}
	slices.SortFunc(result, func(a, b domain.ServiceRecord) int {
		if a.ServiceDate.Equal(b.ServiceDate) {
			return cmpString(b.ID, a.ID)
		}
		if a.ServiceDate.After(b.ServiceDate) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) UpdateServiceTotals(_ context.Context, record domain.ServiceRecord) (*domain.ServiceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.servicesByID[record.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	existing.TotalLaborHours = record.TotalLaborHours
	existing.TotalLaborCost = record.TotalLaborCost
	existing.TotalPartsCost = record.TotalPartsCost
	existing.DiscountAmount = record.DiscountAmount
	existing.TaxRate = record.TaxRate
	existing.TaxAmount = record.TaxAmount
	existing.GrandTotal = record.GrandTotal
	if record.PaymentStatus != "" {
		existing.PaymentStatus = record.PaymentStatus
	}
	return cloneServiceRecord(existing), nil
}

func (s *Store) UpdateServicePaymentStatus(_ context.Context, id string, status string) (*domain.ServiceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.servicesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	existing.PaymentStatus = status
	return cloneServiceRecord(existing), nil
}

func (s *Store) CountServicesByCustomer(_ context.Context, customerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, record := range s.servicesByID {
		if s.vehicleOwner(record.VehicleID) == customerID {
			count++
		}
	}
	return count, nil
}

func (s *Store) LatestServiceDateByCustomer(_ context.Context, customerID string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *time.Time
	for _, record := range s.servicesByID {
		if s.vehicleOwner(record.VehicleID) != customerID {
			continue
		}
		if latest == nil || record.ServiceDate.After(*latest) {
			d := record.ServiceDate
			latest = &d
		}
	}
	return latest, nil
}

func (s *Store) LatestServiceByVehicle(_ context.Context, vehicleID string) (*domain.ServiceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.ServiceRecord
	for _, record := range s.servicesByID {
		if record.VehicleID != vehicleID {
			continue
		}
		if latest == nil || record.ServiceDate.After(latest.ServiceDate) {
			latest = record
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return cloneServiceRecord(latest), nil
}

func (s *Store) GetActiveLoyaltyProgram(_ context.Context) (*domain.LoyaltyProgram, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, program := range s.loyaltyPrograms {
		if program.Active {
			copyProgram := program
			return &copyProgram, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetLoyaltyProgram(_ context.Context, id string) (*domain.LoyaltyProgram, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	program, exists := s.loyaltyPrograms[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProgram := program
	return &copyProgram, nil
}

func (s *Store) GetLoyaltyAccountByCustomer(_ context.Context, customerID string) (*domain.LoyaltyAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, exists := s.loyaltyByCustomer[customerID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyAccount := account
	return &copyAccount, nil
}

func (s *Store) SaveLoyaltyAccount(_ context.Context, account domain.LoyaltyAccount) (*domain.LoyaltyAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if account.CustomerID == "" {
		return nil, store.ErrInvalidInput
	}
	if account.ID == "" {
		account.ID = xid.New("loy")
	}
	s.loyaltyByCustomer[account.CustomerID] = account
	saved := account
	return &saved, nil
}

func (s *Store) RedeemFreeService(_ context.Context, record domain.ServiceRecord, account domain.LoyaltyAccount) (*domain.ServiceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.servicesByID[record.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if account.CustomerID == "" {
		return nil, store.ErrInvalidInput
	}

	existing.DiscountAmount = record.DiscountAmount
	existing.TaxAmount = record.TaxAmount
	existing.GrandTotal = record.GrandTotal
	existing.PaymentStatus = record.PaymentStatus
	s.loyaltyByCustomer[account.CustomerID] = account

	return cloneServiceRecord(existing), nil
}

func (s *Store) CreateProforma(_ context.Context, proforma domain.Proforma) (*domain.Proforma, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(proforma.Number) == "" {
		return nil, store.ErrInvalidInput
	}
	if proforma.ID == "" {
		proforma.ID = xid.New("pro")
	}
	if proforma.CreatedAt.IsZero() {
		proforma.CreatedAt = time.Now().UTC()
	}
	if proforma.Status == "" {
		proforma.Status = domain.ProformaStatusDraft
	}
	for i := range proforma.Items {
		if proforma.Items[i].ID == "" {
			proforma.Items[i].ID = xid.New("pitem")
		}
		proforma.Items[i].ProformaID = proforma.ID
		for j := range proforma.Items[i].Market {
			if proforma.Items[i].Market[j].ID == "" {
				proforma.Items[i].Market[j].ID = xid.New("mkt")
			}
			proforma.Items[i].Market[j].ProformaItemID = proforma.Items[i].ID
		}
	}

	stored := cloneProforma(&proforma)
	s.proformasByID[proforma.ID] = stored
	return cloneProforma(stored), nil
}

func (s *Store) GetProforma(_ context.Context, id string) (*domain.Proforma, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	proforma, exists := s.proformasByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneProforma(proforma), nil
}

func (s *Store) ListProformas(_ context.Context, customerID string, status string, limit int) ([]domain.Proforma, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Proforma, 0, len(s.proformasByID))
	for _, proforma := range s.proformasByID {
		if customerID != "" && proforma.CustomerID != customerID {
			continue
		}
		if status != "" && proforma.Status != status {
			continue
		}
		result = append(result, *cloneProforma(proforma))
	}
	slices.SortFunc(result, func(a, b domain.Proforma) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.Number, a.Number)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) UpdateProformaHeader(_ context.Context, proforma domain.Proforma) (*domain.Proforma, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.proformasByID[proforma.ID]
	if !exists {
		return nil, store.ErrNotFound
	}

	existing.VehicleID = proforma.VehicleID
	existing.ServiceTypeID = proforma.ServiceTypeID
	existing.OrganizationName = proforma.OrganizationName
	existing.CustomerName = proforma.CustomerName
	existing.CarModel = proforma.CarModel
	existing.Description = proforma.Description
	existing.Notes = proforma.Notes
	existing.Subtotal = proforma.Subtotal
	existing.TaxRate = proforma.TaxRate
	existing.TaxAmount = proforma.TaxAmount
	existing.DiscountAmount = proforma.DiscountAmount
	existing.GrandTotal = proforma.GrandTotal
	existing.Status = proforma.Status
	existing.ValidUntil = proforma.ValidUntil
	existing.PrintedAt = proforma.PrintedAt
	existing.ConvertedToServiceID = proforma.ConvertedToServiceID

	return cloneProforma(existing), nil
}

func (s *Store) DeleteProforma(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.proformasByID[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.proformasByID, id)
	return nil
}

func (s *Store) LatestProformaNumber(_ context.Context, prefix string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := ""
	for _, proforma := range s.proformasByID {
		if !strings.HasPrefix(proforma.Number, prefix) {
			continue
		}
		// Sequences are zero padded, so lexical order is numeric order.
		if proforma.Number > latest {
			latest = proforma.Number
		}
	}
	return latest, nil
}

func (s *Store) AddProformaItem(_ context.Context, item domain.ProformaItem, totals pricing.Totals) (*domain.ProformaItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	proforma, exists := s.proformasByID[item.ProformaID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if item.ID == "" {
		item.ID = xid.New("pitem")
	}
	for j := range item.Market {
		if item.Market[j].ID == "" {
			item.Market[j].ID = xid.New("mkt")
		}
		item.Market[j].ProformaItemID = item.ID
	}

	proforma.Items = append(proforma.Items, item)
	applyTotals(proforma, totals)
	created := item
	return &created, nil
}

func (s *Store) UpdateProformaItem(_ context.Context, item domain.ProformaItem, totals pricing.Totals) (*domain.ProformaItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	proforma, exists := s.proformasByID[item.ProformaID]
	if !exists {
		return nil, store.ErrNotFound
	}
	for i := range proforma.Items {
		if proforma.Items[i].ID != item.ID {
			continue
		}
		item.Market = proforma.Items[i].Market
		proforma.Items[i] = item
		applyTotals(proforma, totals)
		updated := item
		return &updated, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) DeleteProformaItem(_ context.Context, proformaID string, itemID string, totals pricing.Totals) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	proforma, exists := s.proformasByID[proformaID]
	if !exists {
		return store.ErrNotFound
	}
	for i := range proforma.Items {
		if proforma.Items[i].ID != itemID {
			continue
		}
		proforma.Items = append(proforma.Items[:i], proforma.Items[i+1:]...)
		applyTotals(proforma, totals)
		return nil
	}
	return store.ErrNotFound
}

func (s *Store) AddMarketPrice(_ context.Context, price domain.MarketPrice) (*domain.MarketPrice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.findProformaItem(price.ProformaItemID)
	if item == nil {
		return nil, store.ErrNotFound
	}
	if price.ID == "" {
		price.ID = xid.New("mkt")
	}
	if price.CreatedAt.IsZero() {
		price.CreatedAt = time.Now().UTC()
	}
	item.Market = append(item.Market, price)
	created := price
	return &created, nil
}

func (s *Store) UpdateMarketPrice(_ context.Context, price domain.MarketPrice) (*domain.MarketPrice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.findProformaItem(price.ProformaItemID)
	if item == nil {
		return nil, store.ErrNotFound
	}
	for i := range item.Market {
		if item.Market[i].ID != price.ID {
			continue
		}
		price.CreatedAt = item.Market[i].CreatedAt
		item.Market[i] = price
		updated := price
		return &updated, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) DeleteMarketPrice(_ context.Context, itemID string, priceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.findProformaItem(itemID)
	if item == nil {
		return store.ErrNotFound
	}
	for i := range item.Market {
		if item.Market[i].ID != priceID {
			continue
		}
		item.Market = append(item.Market[:i], item.Market[i+1:]...)
		return nil
	}
	return store.ErrNotFound
}

func (s *Store) CreateNotification(_ context.Context, notification domain.Notification) (*domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if notification.ID == "" {
		notification.ID = xid.New("ntf")
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}
	if notification.Status == "" {
		notification.Status = domain.NotificationStatusPending
	}
	s.notifications = append(s.notifications, notification)
	created := notification
	return &created, nil
}

func (s *Store) UpdateNotificationStatus(_ context.Context, id string, status string, sentAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.notifications {
		if s.notifications[i].ID != id {
			continue
		}
		s.notifications[i].Status = status
		s.notifications[i].SentAt = sentAt
		return nil
	}
	return store.ErrNotFound
}

func (s *Store) HasRecentNotification(_ context.Context, customerID string, vehicleID string, notificationType string, since time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, n := range s.notifications {
		if n.CustomerID != customerID || n.VehicleID != vehicleID || n.Type != notificationType {
			continue
		}
		if !n.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, len(s.auditLogs))
	copy(result, s.auditLogs)
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidInput
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "advisor"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// vehicleOwner resolves a vehicle ID to its customer ID. Caller must hold
// the lock.
func (s *Store) vehicleOwner(vehicleID string) string {
	if vehicle, ok := s.vehicles[vehicleID]; ok {
		return vehicle.CustomerID
	}
	return ""
}

// findProformaItem scans all proformas for the item. Caller must hold the
// lock; the returned pointer aliases store state.
func (s *Store) findProformaItem(itemID string) *domain.ProformaItem {
	for _, proforma := range s.proformasByID {
		for i := range proforma.Items {
			if proforma.Items[i].ID == itemID {
				return &proforma.Items[i]
			}
		}
	}
	return nil
}

func applyTotals(proforma *domain.Proforma, totals pricing.Totals) {
	proforma.Subtotal = totals.Subtotal
	proforma.TaxAmount = totals.TaxAmount
	proforma.GrandTotal = totals.GrandTotal
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneServiceRecord(src *domain.ServiceRecord) *domain.ServiceRecord {
	if src == nil {
		return nil
	}
	dup := *src
	lines := make([]domain.ServicePartLine, len(src.Lines))
	copy(lines, src.Lines)
	dup.Lines = lines
	return &dup
}

func cloneProforma(src *domain.Proforma) *domain.Proforma {
	if src == nil {
		return nil
	}
	dup := *src
	items := make([]domain.ProformaItem, len(src.Items))
	for i, item := range src.Items {
		market := make([]domain.MarketPrice, len(item.Market))
		copy(market, item.Market)
		item.Market = market
		items[i] = item
	}
	dup.Items = items
	return &dup
}
