package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"bengkelku/backend/internal/domain"
	"bengkelku/backend/internal/pricing"
	"bengkelku/backend/internal/store"
	"bengkelku/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, first_name, last_name, email, phone, active, created_at
		FROM customers
		WHERE active = true
		ORDER BY first_name, last_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.Active, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, email, phone, active, created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.Active, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, first_name, last_name, email, phone, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, customer.ID, customer.FirstName, customer.LastName, customer.Email, customer.Phone, customer.Active, customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}
	created := customer
	return &created, nil
}

func (s *Store) ListVehicles(ctx context.Context, customerID string) ([]domain.Vehicle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, license_plate, make, model, year,
			current_mileage, last_service_mileage, next_service_mileage, next_service_date, created_at
		FROM vehicles
		WHERE ($1 = '' OR customer_id = $1)
		ORDER BY license_plate
	`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vehicles := make([]domain.Vehicle, 0, 64)
	for rows.Next() {
		vehicle, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		vehicles = append(vehicles, vehicle)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return vehicles, nil
}

func (s *Store) GetVehicle(ctx context.Context, id string) (*domain.Vehicle, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, license_plate, make, model, year,
			current_mileage, last_service_mileage, next_service_mileage, next_service_date, created_at
		FROM vehicles
		WHERE id = $1
	`, id)
	vehicle, err := scanVehicle(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &vehicle, nil
}

func (s *Store) CreateVehicle(ctx context.Context, vehicle domain.Vehicle) (*domain.Vehicle, error) {
	if vehicle.ID == "" {
		vehicle.ID = xid.New("veh")
	}
	if vehicle.CreatedAt.IsZero() {
		vehicle.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vehicles (
			id, customer_id, license_plate, make, model, year,
			current_mileage, last_service_mileage, next_service_mileage, next_service_date, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, vehicle.ID, vehicle.CustomerID, vehicle.LicensePlate, vehicle.Make, vehicle.Model, vehicle.Year,
		vehicle.CurrentMileage, vehicle.LastServiceMileage, vehicle.NextServiceMileage, nullTime(vehicle.NextServiceDate), vehicle.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}
	created := vehicle
	return &created, nil
}

func (s *Store) ListServiceTypes(ctx context.Context) ([]domain.ServiceType, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, base_labor_hours, mileage_interval, time_interval_months, active
		FROM service_types
		WHERE active = true
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types := make([]domain.ServiceType, 0, 16)
	for rows.Next() {
		var st domain.ServiceType
		if err := rows.Scan(&st.ID, &st.Name, &st.BaseLaborHours, &st.MileageInterval, &st.TimeIntervalMonths, &st.Active); err != nil {
			return nil, err
		}
		types = append(types, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return types, nil
}

func (s *Store) GetServiceType(ctx context.Context, id string) (*domain.ServiceType, error) {
	var st domain.ServiceType
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, base_labor_hours, mileage_interval, time_interval_months, active
		FROM service_types
		WHERE id = $1
	`, id).Scan(&st.ID, &st.Name, &st.BaseLaborHours, &st.MileageInterval, &st.TimeIntervalMonths, &st.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &st, nil
}

func (s *Store) ListParts(ctx context.Context) ([]domain.Part, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, name, category, unit_price, cost_price, stock_quantity, min_stock_level, active
		FROM parts
		WHERE active = true
		ORDER BY code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	parts := make([]domain.Part, 0, 128)
	for rows.Next() {
		var p domain.Part
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Category, &p.UnitPrice, &p.CostPrice, &p.StockQuantity, &p.MinStockLevel, &p.Active); err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return parts, nil
}

func (s *Store) GetPart(ctx context.Context, id string) (*domain.Part, error) {
	var p domain.Part
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, name, category, unit_price, cost_price, stock_quantity, min_stock_level, active
		FROM parts
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Code, &p.Name, &p.Category, &p.UnitPrice, &p.CostPrice, &p.StockQuantity, &p.MinStockLevel, &p.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreatePart(ctx context.Context, part domain.Part) (*domain.Part, error) {
	if part.Code == "" || part.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if part.ID == "" {
		part.ID = xid.New("prt")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO parts (id, code, name, category, unit_price, cost_price, stock_quantity, min_stock_level, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, part.ID, part.Code, part.Name, part.Category, part.UnitPrice, part.CostPrice, part.StockQuantity, part.MinStockLevel, part.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}
	created := part
	return &created, nil
}

func (s *Store) ListLowStockParts(ctx context.Context) ([]domain.LowStockPart, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, name, category, unit_price, cost_price, stock_quantity, min_stock_level, active
		FROM parts
		WHERE active = true AND min_stock_level >= 1 AND stock_quantity <= min_stock_level
		ORDER BY stock_quantity ASC, code ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	report := make([]domain.LowStockPart, 0, 32)
	for rows.Next() {
		var entry domain.LowStockPart
		if err := rows.Scan(&entry.ID, &entry.Code, &entry.Name, &entry.Category, &entry.UnitPrice, &entry.CostPrice, &entry.StockQuantity, &entry.MinStockLevel, &entry.Active); err != nil {
			return nil, err
		}
		if entry.StockQuantity <= 0 {
			entry.StockStatus = "OUT OF STOCK"
		} else {
			entry.StockStatus = "LOW STOCK"
		}
		report = append(report, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return report, nil
}

// DecrementStock lets the quantity go negative: the ledger records
// consumption as it happened, not what the count said was available.
func (s *Store) DecrementStock(ctx context.Context, partID string, quantity int) error {
	if partID == "" || quantity < 1 {
		return store.ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE parts
		SET stock_quantity = stock_quantity - $2
		WHERE id = $1
	`, partID, quantity)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) FindOrCreateSentinelPart(ctx context.Context, code string) (*domain.Part, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, store.ErrInvalidInput
	}

	part, err := s.getPartByCode(ctx, code)
	if err == nil {
		return part, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO parts (id, code, name, category, unit_price, cost_price, stock_quantity, min_stock_level, active)
		VALUES ($1,$2,'Checklist Inspection','internal',0,0,0,0,true)
		ON CONFLICT (code) DO NOTHING
	`, xid.New("prt"), code)
	if err != nil {
		return nil, err
	}
	return s.getPartByCode(ctx, code)
}

func (s *Store) getPartByCode(ctx context.Context, code string) (*domain.Part, error) {
	var p domain.Part
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, name, category, unit_price, cost_price, stock_quantity, min_stock_level, active
		FROM parts
		WHERE code = $1
	`, code).Scan(&p.ID, &p.Code, &p.Name, &p.Category, &p.UnitPrice, &p.CostPrice, &p.StockQuantity, &p.MinStockLevel, &p.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// CreateServiceCompletion persists the service record, its part lines, the
// stock decrements, the vehicle projection and the loyalty account state in
// one serializable transaction.
func (s *Store) CreateServiceCompletion(ctx context.Context, completion domain.ServiceCompletion) (*domain.ServiceRecord, error) {
	record := completion.Record
	if record.ID == "" || record.VehicleID == "" || record.ServiceTypeID == "" {
		return nil, store.ErrInvalidInput
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO service_records (
			id, vehicle_id, service_type_id, service_date, mileage_at_service,
			next_service_mileage, next_service_date, total_labor_hours, labor_rate_per_hour,
			total_labor_cost, total_parts_cost, discount_amount, tax_rate, tax_amount,
			grand_total, payment_status, mechanic_notes, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, record.ID, record.VehicleID, record.ServiceTypeID, record.ServiceDate, record.MileageAtService,
		record.NextServiceMileage, record.NextServiceDate, record.TotalLaborHours, record.LaborRatePerHour,
		record.TotalLaborCost, record.TotalPartsCost, record.DiscountAmount, record.TaxRate, record.TaxAmount,
		record.GrandTotal, record.PaymentStatus, record.MechanicNotes, record.CreatedAt)
	if err != nil {
		return nil, err
	}

	for i := range record.Lines {
		line := &record.Lines[i]
		if line.ID == "" {
			line.ID = xid.New("spl")
		}
		line.ServiceID = record.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO service_part_lines (
				id, service_id, part_id, checklist_item_id, quantity,
				unit_price, total_price, was_replaced, replacement_reason
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, line.ID, line.ServiceID, line.PartID, line.ChecklistItemID, line.Quantity,
			line.UnitPrice, line.TotalPrice, line.WasReplaced, line.ReplacementReason)
		if err != nil {
			return nil, err
		}
	}

	for _, dec := range completion.StockDecrements {
		if dec.Quantity < 1 {
			continue
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE parts
			SET stock_quantity = stock_quantity - $2
			WHERE id = $1
		`, dec.PartID, dec.Quantity)
		if err != nil {
			return nil, err
		}
	}

	projection := completion.Vehicle
	if projection.VehicleID != "" {
		_, err = tx.ExecContext(ctx, `
			UPDATE vehicles
			SET current_mileage = $2, last_service_mileage = $3,
				next_service_mileage = $4, next_service_date = $5
			WHERE id = $1
		`, projection.VehicleID, projection.CurrentMileage, projection.LastServiceMileage,
			projection.NextServiceMileage, projection.NextServiceDate)
		if err != nil {
			return nil, err
		}
	}

	if completion.Loyalty != nil {
		if err := upsertLoyaltyAccount(ctx, tx, completion.Loyalty); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := record
	return &created, nil
}

func (s *Store) GetServiceRecord(ctx context.Context, id string) (*domain.ServiceRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, vehicle_id, service_type_id, service_date, mileage_at_service,
			next_service_mileage, next_service_date, total_labor_hours, labor_rate_per_hour,
			total_labor_cost, total_parts_cost, discount_amount, tax_rate, tax_amount,
			grand_total, payment_status, mechanic_notes, created_at
		FROM service_records
		WHERE id = $1
	`, id)
	record, err := scanServiceRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	lines, err := s.loadServiceLines(ctx, record.ID)
	if err != nil {
		return nil, err
	}
	record.Lines = lines
	return &record, nil
}

func (s *Store) ListServiceRecords(ctx context.Context, vehicleID string, limit int) ([]domain.ServiceRecord, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, vehicle_id, service_type_id, service_date, mileage_at_service,
			next_service_mileage, next_service_date, total_labor_hours, labor_rate_per_hour,
			total_labor_cost, total_parts_cost, discount_amount, tax_rate, tax_amount,
			grand_total, payment_status, mechanic_notes, created_at
		FROM service_records
		WHERE ($1 = '' OR vehicle_id = $1)
		ORDER BY service_date DESC, created_at DESC
		LIMIT $2
	`, vehicleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.ServiceRecord, 0, limit)
	for rows.Next() {
		record, err := scanServiceRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range records {
		lines, err := s.loadServiceLines(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Lines = lines
	}
	return records, nil
}

func (s *Store) UpdateServiceTotals(ctx context.Context, record domain.ServiceRecord) (*domain.ServiceRecord, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE service_records
		SET total_labor_cost = $2, total_parts_cost = $3, discount_amount = $4,
			tax_rate = $5, tax_amount = $6, grand_total = $7
		WHERE id = $1
	`, record.ID, record.TotalLaborCost, record.TotalPartsCost, record.DiscountAmount,
		record.TaxRate, record.TaxAmount, record.GrandTotal)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetServiceRecord(ctx, record.ID)
}

func (s *Store) UpdateServicePaymentStatus(ctx context.Context, id string, status string) (*domain.ServiceRecord, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE service_records
		SET payment_status = $2
		WHERE id = $1
	`, id, status)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetServiceRecord(ctx, id)
}

func (s *Store) CountServicesByCustomer(ctx context.Context, customerID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM service_records sr
		JOIN vehicles v ON v.id = sr.vehicle_id
		WHERE v.customer_id = $1
	`, customerID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) LatestServiceDateByCustomer(ctx context.Context, customerID string) (*time.Time, error) {
	var latest sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(sr.service_date)
		FROM service_records sr
		JOIN vehicles v ON v.id = sr.vehicle_id
		WHERE v.customer_id = $1
	`, customerID).Scan(&latest)
	if err != nil {
		return nil, err
	}
	if !latest.Valid {
		return nil, nil
	}
	utc := latest.Time.UTC()
	return &utc, nil
}

func (s *Store) LatestServiceByVehicle(ctx context.Context, vehicleID string) (*domain.ServiceRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, vehicle_id, service_type_id, service_date, mileage_at_service,
			next_service_mileage, next_service_date, total_labor_hours, labor_rate_per_hour,
			total_labor_cost, total_parts_cost, discount_amount, tax_rate, tax_amount,
			grand_total, payment_status, mechanic_notes, created_at
		FROM service_records
		WHERE vehicle_id = $1
		ORDER BY service_date DESC, created_at DESC
		LIMIT 1
	`, vehicleID)
	record, err := scanServiceRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (s *Store) GetActiveLoyaltyProgram(ctx context.Context) (*domain.LoyaltyProgram, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, services_required, free_labor_hours, valid_days, active
		FROM loyalty_programs
		WHERE active = true
		ORDER BY name
		LIMIT 1
	`)
	return scanLoyaltyProgram(row)
}

func (s *Store) GetLoyaltyProgram(ctx context.Context, id string) (*domain.LoyaltyProgram, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, services_required, free_labor_hours, valid_days, active
		FROM loyalty_programs
		WHERE id = $1
	`, id)
	return scanLoyaltyProgram(row)
}

func (s *Store) GetLoyaltyAccountByCustomer(ctx context.Context, customerID string) (*domain.LoyaltyAccount, error) {
	var account domain.LoyaltyAccount
	var expiry, lastService sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, program_id, consecutive_count, total_services,
			free_services_earned, free_services_used, free_service_available,
			free_service_expiry, last_service_date
		FROM loyalty_accounts
		WHERE customer_id = $1
	`, customerID).Scan(&account.ID, &account.CustomerID, &account.ProgramID, &account.ConsecutiveCount,
		&account.TotalServices, &account.FreeServicesEarned, &account.FreeServicesUsed,
		&account.FreeServiceAvailable, &expiry, &lastService)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if expiry.Valid {
		e := expiry.Time.UTC()
		account.FreeServiceExpiry = &e
	}
	if lastService.Valid {
		l := lastService.Time.UTC()
		account.LastServiceDate = &l
	}
	return &account, nil
}

func (s *Store) SaveLoyaltyAccount(ctx context.Context, account domain.LoyaltyAccount) (*domain.LoyaltyAccount, error) {
	if account.CustomerID == "" {
		return nil, store.ErrInvalidInput
	}
	if err := upsertLoyaltyAccount(ctx, s.db, &account); err != nil {
		return nil, err
	}
	saved := account
	return &saved, nil
}

// RedeemFreeService writes the redeemed bill and the consumed credit
// together so the account can never burn a credit without the discount
// landing on the record.
func (s *Store) RedeemFreeService(ctx context.Context, record domain.ServiceRecord, account domain.LoyaltyAccount) (*domain.ServiceRecord, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE service_records
		SET total_labor_cost = $2, total_parts_cost = $3, discount_amount = $4,
			tax_rate = $5, tax_amount = $6, grand_total = $7, payment_status = $8
		WHERE id = $1
	`, record.ID, record.TotalLaborCost, record.TotalPartsCost, record.DiscountAmount,
		record.TaxRate, record.TaxAmount, record.GrandTotal, record.PaymentStatus)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	if err := upsertLoyaltyAccount(ctx, tx, &account); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetServiceRecord(ctx, record.ID)
}

func (s *Store) CreateProforma(ctx context.Context, proforma domain.Proforma) (*domain.Proforma, error) {
	if proforma.ID == "" {
		proforma.ID = xid.New("pfm")
	}
	if proforma.CreatedAt.IsZero() {
		proforma.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO proformas (
			id, number, customer_id, vehicle_id, service_type_id, organization_name,
			customer_name, car_model, description, notes, subtotal, tax_rate, tax_amount,
			discount_amount, grand_total, status, valid_until, printed_at,
			converted_to_service_id, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	`, proforma.ID, proforma.Number, proforma.CustomerID, proforma.VehicleID, proforma.ServiceTypeID,
		proforma.OrganizationName, proforma.CustomerName, proforma.CarModel, proforma.Description,
		proforma.Notes, proforma.Subtotal, proforma.TaxRate, proforma.TaxAmount, proforma.DiscountAmount,
		proforma.GrandTotal, proforma.Status, nullTime(proforma.ValidUntil), nullTime(proforma.PrintedAt),
		proforma.ConvertedToServiceID, proforma.CreatedBy, proforma.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	for i := range proforma.Items {
		item := &proforma.Items[i]
		if item.ID == "" {
			item.ID = xid.New("pit")
		}
		item.ProformaID = proforma.ID
		if err := insertProformaItem(ctx, tx, item); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := proforma
	return &created, nil
}

func (s *Store) GetProforma(ctx context.Context, id string) (*domain.Proforma, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, number, customer_id, vehicle_id, service_type_id, organization_name,
			customer_name, car_model, description, notes, subtotal, tax_rate, tax_amount,
			discount_amount, grand_total, status, valid_until, printed_at,
			converted_to_service_id, created_by, created_at
		FROM proformas
		WHERE id = $1
	`, id)
	proforma, err := scanProforma(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	items, err := s.loadProformaItems(ctx, proforma.ID)
	if err != nil {
		return nil, err
	}
	proforma.Items = items
	return &proforma, nil
}

func (s *Store) ListProformas(ctx context.Context, customerID string, status string, limit int) ([]domain.Proforma, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, number, customer_id, vehicle_id, service_type_id, organization_name,
			customer_name, car_model, description, notes, subtotal, tax_rate, tax_amount,
			discount_amount, grand_total, status, valid_until, printed_at,
			converted_to_service_id, created_by, created_at
		FROM proformas
		WHERE ($1 = '' OR customer_id = $1)
			AND ($2 = '' OR status = $2)
		ORDER BY number DESC
		LIMIT $3
	`, customerID, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	proformas := make([]domain.Proforma, 0, limit)
	for rows.Next() {
		proforma, err := scanProforma(rows)
		if err != nil {
			return nil, err
		}
		proformas = append(proformas, proforma)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range proformas {
		items, err := s.loadProformaItems(ctx, proformas[i].ID)
		if err != nil {
			return nil, err
		}
		proformas[i].Items = items
	}
	return proformas, nil
}

func (s *Store) UpdateProformaHeader(ctx context.Context, proforma domain.Proforma) (*domain.Proforma, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE proformas
		SET vehicle_id = $2, service_type_id = $3, description = $4, notes = $5,
			subtotal = $6, tax_rate = $7, tax_amount = $8, discount_amount = $9,
			grand_total = $10, status = $11, valid_until = $12, printed_at = $13,
			converted_to_service_id = $14
		WHERE id = $1
	`, proforma.ID, proforma.VehicleID, proforma.ServiceTypeID, proforma.Description, proforma.Notes,
		proforma.Subtotal, proforma.TaxRate, proforma.TaxAmount, proforma.DiscountAmount,
		proforma.GrandTotal, proforma.Status, nullTime(proforma.ValidUntil), nullTime(proforma.PrintedAt),
		proforma.ConvertedToServiceID)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetProforma(ctx, proforma.ID)
}

func (s *Store) DeleteProforma(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM market_prices
		WHERE proforma_item_id IN (SELECT id FROM proforma_items WHERE proforma_id = $1)
	`, id)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM proforma_items WHERE proforma_id = $1`, id)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM proformas WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return tx.Commit()
}

func (s *Store) LatestProformaNumber(ctx context.Context, prefix string) (string, error) {
	var number string
	err := s.db.QueryRowContext(ctx, `
		SELECT number
		FROM proformas
		WHERE number LIKE $1 || '%'
		ORDER BY number DESC
		LIMIT 1
	`, prefix).Scan(&number)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return number, nil
}

func (s *Store) AddProformaItem(ctx context.Context, item domain.ProformaItem, totals pricing.Totals) (*domain.ProformaItem, error) {
	if item.ProformaID == "" || item.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if item.ID == "" {
		item.ID = xid.New("pit")
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertProformaItem(ctx, tx, &item); err != nil {
		return nil, err
	}
	if err := applyProformaTotals(ctx, tx, item.ProformaID, totals); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := item
	return &created, nil
}

func (s *Store) UpdateProformaItem(ctx context.Context, item domain.ProformaItem, totals pricing.Totals) (*domain.ProformaItem, error) {
	if item.ID == "" || item.ProformaID == "" {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE proforma_items
		SET item_type = $3, name = $4, description = $5, quantity = $6,
			unit_price = $7, total_price = $8, notes = $9
		WHERE id = $1 AND proforma_id = $2
	`, item.ID, item.ProformaID, item.ItemType, item.Name, item.Description, item.Quantity,
		item.UnitPrice, item.TotalPrice, item.Notes)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	if err := applyProformaTotals(ctx, tx, item.ProformaID, totals); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	updated := item
	return &updated, nil
}

func (s *Store) DeleteProformaItem(ctx context.Context, proformaID string, itemID string, totals pricing.Totals) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `DELETE FROM market_prices WHERE proforma_item_id = $1`, itemID)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
		DELETE FROM proforma_items WHERE id = $1 AND proforma_id = $2
	`, itemID, proformaID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	if err := applyProformaTotals(ctx, tx, proformaID, totals); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) AddMarketPrice(ctx context.Context, price domain.MarketPrice) (*domain.MarketPrice, error) {
	if price.ProformaItemID == "" || price.OrganizationName == "" {
		return nil, store.ErrInvalidInput
	}
	if price.ID == "" {
		price.ID = xid.New("mpr")
	}
	if price.CreatedAt.IsZero() {
		price.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO market_prices (id, proforma_item_id, organization_name, unit_price, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, price.ID, price.ProformaItemID, price.OrganizationName, price.UnitPrice, price.Notes, price.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := price
	return &created, nil
}

func (s *Store) UpdateMarketPrice(ctx context.Context, price domain.MarketPrice) (*domain.MarketPrice, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE market_prices
		SET organization_name = $3, unit_price = $4, notes = $5
		WHERE id = $1 AND proforma_item_id = $2
	`, price.ID, price.ProformaItemID, price.OrganizationName, price.UnitPrice, price.Notes)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	updated := price
	return &updated, nil
}

func (s *Store) DeleteMarketPrice(ctx context.Context, itemID string, priceID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM market_prices WHERE id = $1 AND proforma_item_id = $2
	`, priceID, itemID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateNotification(ctx context.Context, notification domain.Notification) (*domain.Notification, error) {
	if notification.ID == "" {
		notification.ID = xid.New("ntf")
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, customer_id, vehicle_id, type, channel, subject, message, status, sent_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, notification.ID, notification.CustomerID, notification.VehicleID, notification.Type,
		notification.Channel, notification.Subject, notification.Message, notification.Status,
		nullTime(notification.SentAt), notification.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := notification
	return &created, nil
}

func (s *Store) UpdateNotificationStatus(ctx context.Context, id string, status string, sentAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = $2, sent_at = $3
		WHERE id = $1
	`, id, status, nullTime(sentAt))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) HasRecentNotification(ctx context.Context, customerID string, vehicleID string, notificationType string, since time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM notifications
			WHERE customer_id = $1 AND vehicle_id = $2 AND type = $3 AND created_at >= $4
		)
	`, customerID, vehicleID, notificationType, since).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("aud")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) loadServiceLines(ctx context.Context, serviceID string) ([]domain.ServicePartLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, service_id, part_id, checklist_item_id, quantity,
			unit_price, total_price, was_replaced, replacement_reason
		FROM service_part_lines
		WHERE service_id = $1
		ORDER BY id
	`, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.ServicePartLine, 0, 8)
	for rows.Next() {
		var line domain.ServicePartLine
		if err := rows.Scan(&line.ID, &line.ServiceID, &line.PartID, &line.ChecklistItemID, &line.Quantity,
			&line.UnitPrice, &line.TotalPrice, &line.WasReplaced, &line.ReplacementReason); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) loadProformaItems(ctx context.Context, proformaID string) ([]domain.ProformaItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, proforma_id, part_id, item_type, name, description, quantity, unit_price, total_price, notes
		FROM proforma_items
		WHERE proforma_id = $1
		ORDER BY id
	`, proformaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.ProformaItem, 0, 8)
	for rows.Next() {
		var item domain.ProformaItem
		if err := rows.Scan(&item.ID, &item.ProformaID, &item.PartID, &item.ItemType, &item.Name,
			&item.Description, &item.Quantity, &item.UnitPrice, &item.TotalPrice, &item.Notes); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range items {
		prices, err := s.loadMarketPrices(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
		items[i].Market = prices
	}
	return items, nil
}

func (s *Store) loadMarketPrices(ctx context.Context, itemID string) ([]domain.MarketPrice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, proforma_item_id, organization_name, unit_price, notes, created_at
		FROM market_prices
		WHERE proforma_item_id = $1
		ORDER BY created_at ASC
	`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	prices := make([]domain.MarketPrice, 0, 4)
	for rows.Next() {
		var price domain.MarketPrice
		if err := rows.Scan(&price.ID, &price.ProformaItemID, &price.OrganizationName, &price.UnitPrice, &price.Notes, &price.CreatedAt); err != nil {
			return nil, err
		}
		price.CreatedAt = price.CreatedAt.UTC()
		prices = append(prices, price)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return nil, nil
	}
	return prices, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertLoyaltyAccount(ctx context.Context, db execer, account *domain.LoyaltyAccount) error {
	if account.ID == "" {
		account.ID = xid.New("loy")
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO loyalty_accounts (
			id, customer_id, program_id, consecutive_count, total_services,
			free_services_earned, free_services_used, free_service_available,
			free_service_expiry, last_service_date
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (customer_id)
		DO UPDATE SET
			program_id = EXCLUDED.program_id,
			consecutive_count = EXCLUDED.consecutive_count,
			total_services = EXCLUDED.total_services,
			free_services_earned = EXCLUDED.free_services_earned,
			free_services_used = EXCLUDED.free_services_used,
			free_service_available = EXCLUDED.free_service_available,
			free_service_expiry = EXCLUDED.free_service_expiry,
			last_service_date = EXCLUDED.last_service_date
	`, account.ID, account.CustomerID, account.ProgramID, account.ConsecutiveCount, account.TotalServices,
		account.FreeServicesEarned, account.FreeServicesUsed, account.FreeServiceAvailable,
		nullTime(account.FreeServiceExpiry), nullTime(account.LastServiceDate))
	return err
}

func insertProformaItem(ctx context.Context, db execer, item *domain.ProformaItem) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO proforma_items (id, proforma_id, part_id, item_type, name, description, quantity, unit_price, total_price, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, item.ID, item.ProformaID, item.PartID, item.ItemType, item.Name, item.Description,
		item.Quantity, item.UnitPrice, item.TotalPrice, item.Notes)
	if err != nil {
		return err
	}
	for i := range item.Market {
		price := &item.Market[i]
		if price.ID == "" {
			price.ID = xid.New("mpr")
		}
		price.ProformaItemID = item.ID
		if price.CreatedAt.IsZero() {
			price.CreatedAt = time.Now().UTC()
		}
		_, err := db.ExecContext(ctx, `
			INSERT INTO market_prices (id, proforma_item_id, organization_name, unit_price, notes, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, price.ID, price.ProformaItemID, price.OrganizationName, price.UnitPrice, price.Notes, price.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func applyProformaTotals(ctx context.Context, db execer, proformaID string, totals pricing.Totals) error {
	res, err := db.ExecContext(ctx, `
		UPDATE proformas
		SET subtotal = $2, tax_amount = $3, grand_total = $4
		WHERE id = $1
	`, proformaID, totals.Subtotal, totals.TaxAmount, totals.GrandTotal)
	if err != nil {
		return err
	}
	if resAffected, err := res.RowsAffected(); err != nil {
		return err
	} else if resAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVehicle(row rowScanner) (domain.Vehicle, error) {
	var vehicle domain.Vehicle
	var nextDate sql.NullTime
	err := row.Scan(&vehicle.ID, &vehicle.CustomerID, &vehicle.LicensePlate, &vehicle.Make, &vehicle.Model,
		&vehicle.Year, &vehicle.CurrentMileage, &vehicle.LastServiceMileage, &vehicle.NextServiceMileage,
		&nextDate, &vehicle.CreatedAt)
	if err != nil {
		return domain.Vehicle{}, err
	}
	vehicle.CreatedAt = vehicle.CreatedAt.UTC()
	if nextDate.Valid {
		d := nextDate.Time.UTC()
		vehicle.NextServiceDate = &d
	}
	return vehicle, nil
}

func scanServiceRecord(row rowScanner) (domain.ServiceRecord, error) {
	var record domain.ServiceRecord
	err := row.Scan(&record.ID, &record.VehicleID, &record.ServiceTypeID, &record.ServiceDate,
		&record.MileageAtService, &record.NextServiceMileage, &record.NextServiceDate,
		&record.TotalLaborHours, &record.LaborRatePerHour, &record.TotalLaborCost,
		&record.TotalPartsCost, &record.DiscountAmount, &record.TaxRate, &record.TaxAmount,
		&record.GrandTotal, &record.PaymentStatus, &record.MechanicNotes, &record.CreatedAt)
	if err != nil {
		return domain.ServiceRecord{}, err
	}
	record.ServiceDate = record.ServiceDate.UTC()
	record.NextServiceDate = record.NextServiceDate.UTC()
	record.CreatedAt = record.CreatedAt.UTC()
	return record, nil
}

func scanProforma(row rowScanner) (domain.Proforma, error) {
	var proforma domain.Proforma
	var validUntil, printedAt sql.NullTime
	err := row.Scan(&proforma.ID, &proforma.Number, &proforma.CustomerID, &proforma.VehicleID,
		&proforma.ServiceTypeID, &proforma.OrganizationName, &proforma.CustomerName, &proforma.CarModel,
		&proforma.Description, &proforma.Notes, &proforma.Subtotal, &proforma.TaxRate, &proforma.TaxAmount,
		&proforma.DiscountAmount, &proforma.GrandTotal, &proforma.Status, &validUntil, &printedAt,
		&proforma.ConvertedToServiceID, &proforma.CreatedBy, &proforma.CreatedAt)
	if err != nil {
		return domain.Proforma{}, err
	}
	proforma.CreatedAt = proforma.CreatedAt.UTC()
	if validUntil.Valid {
		v := validUntil.Time.UTC()
		proforma.ValidUntil = &v
	}
	if printedAt.Valid {
		p := printedAt.Time.UTC()
		proforma.PrintedAt = &p
	}
	return proforma, nil
}

func scanLoyaltyProgram(row rowScanner) (*domain.LoyaltyProgram, error) {
	var program domain.LoyaltyProgram
	var freeHours decimal.Decimal
	err := row.Scan(&program.ID, &program.Name, &program.ServicesRequired, &freeHours, &program.ValidDays, &program.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	program.FreeLaborHours = freeHours
	return &program, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
