package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Customer struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

type Vehicle struct {
	ID                 string          `json:"id"`
	CustomerID         string          `json:"customer_id"`
	LicensePlate       string          `json:"license_plate"`
	Make               string          `json:"make"`
	Model              string          `json:"model"`
	Year               int             `json:"year"`
	CurrentMileage     decimal.Decimal `json:"current_mileage"`
	LastServiceMileage decimal.Decimal `json:"last_service_mileage"`
	NextServiceMileage decimal.Decimal `json:"next_service_mileage"`
	NextServiceDate    *time.Time      `json:"next_service_date,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

type VehicleCreateRequest struct {
	CustomerID     string          `json:"customer_id"`
	LicensePlate   string          `json:"license_plate"`
	Make           string          `json:"make"`
	Model          string          `json:"model"`
	Year           int             `json:"year"`
	CurrentMileage decimal.Decimal `json:"current_mileage"`
}

// ServiceType is immutable reference data; admin CRUD is out of scope.
type ServiceType struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	BaseLaborHours     decimal.Decimal `json:"base_labor_hours"`
	MileageInterval    decimal.Decimal `json:"mileage_interval"`
	TimeIntervalMonths int             `json:"time_interval_months"`
	Active             bool            `json:"active"`
}

type Part struct {
	ID            string          `json:"id"`
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	CostPrice     decimal.Decimal `json:"cost_price"`
	StockQuantity int             `json:"stock_quantity"`
	MinStockLevel int             `json:"min_stock_level"`
	Active        bool            `json:"active"`
}

type PartCreateRequest struct {
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	CostPrice     decimal.Decimal `json:"cost_price"`
	StockQuantity int             `json:"stock_quantity"`
	MinStockLevel int             `json:"min_stock_level"`
}

// LowStockPart is the read model for the low-stock query. StockStatus is
// "OUT OF STOCK" at zero or below, otherwise "LOW STOCK".
type LowStockPart struct {
	Part
	StockStatus string `json:"stock_status"`
}

type ServiceRecord struct {
	ID                 string            `json:"id"`
	VehicleID          string            `json:"vehicle_id"`
	ServiceTypeID      string            `json:"service_type_id"`
	ServiceDate        time.Time         `json:"service_date"`
	MileageAtService   decimal.Decimal   `json:"mileage_at_service"`
	NextServiceMileage decimal.Decimal   `json:"next_service_mileage"`
	NextServiceDate    time.Time         `json:"next_service_date"`
	TotalLaborHours    decimal.Decimal   `json:"total_labor_hours"`
	LaborRatePerHour   decimal.Decimal   `json:"labor_rate_per_hour"`
	TotalLaborCost     decimal.Decimal   `json:"total_labor_cost"`
	TotalPartsCost     decimal.Decimal   `json:"total_parts_cost"`
	DiscountAmount     decimal.Decimal   `json:"discount_amount"`
	TaxRate            decimal.Decimal   `json:"tax_rate"`
	TaxAmount          decimal.Decimal   `json:"tax_amount"`
	GrandTotal         decimal.Decimal   `json:"grand_total"`
	PaymentStatus      string            `json:"payment_status"`
	MechanicNotes      string            `json:"mechanic_notes,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	Lines              []ServicePartLine `json:"lines"`
}

type ServicePartLine struct {
	ID                string          `json:"id"`
	ServiceID         string          `json:"service_id"`
	PartID            string          `json:"part_id"`
	ChecklistItemID   string          `json:"checklist_item_id,omitempty"`
	Quantity          int             `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	TotalPrice        decimal.Decimal `json:"total_price"`
	WasReplaced       bool            `json:"was_replaced"`
	ReplacementReason string          `json:"replacement_reason,omitempty"`
}

type ServicePartRequest struct {
	PartID            string `json:"part_id"`
	Quantity          int    `json:"quantity"`
	WasReplaced       bool   `json:"was_replaced"`
	ReplacementReason string `json:"replacement_reason,omitempty"`
	ChecklistItemID   string `json:"checklist_item_id,omitempty"`
}

// ChecklistDisposition records what the mechanic did with one checklist
// item: inspected only (Checked) or replaced/adjusted (Changed).
type ChecklistDisposition struct {
	ChecklistItemID string `json:"checklist_item_id"`
	Checked         bool   `json:"checked"`
	Changed         bool   `json:"changed"`
}

type CompleteServiceRequest struct {
	CustomerID       string                 `json:"customer_id"`
	VehicleID        string                 `json:"vehicle_id"`
	ServiceTypeID    string                 `json:"service_type_id"`
	ServiceDate      time.Time              `json:"service_date"`
	MileageAtService decimal.Decimal        `json:"mileage_at_service"`
	MechanicNotes    string                 `json:"mechanic_notes,omitempty"`
	Parts            []ServicePartRequest   `json:"parts,omitempty"`
	Checklist        []ChecklistDisposition `json:"checklist,omitempty"`
}

type LoyaltyProgram struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	ServicesRequired int             `json:"services_required"`
	FreeLaborHours   decimal.Decimal `json:"free_labor_hours"`
	ValidDays        int             `json:"valid_days"`
	Active           bool            `json:"active"`
}

// LoyaltyAccount tracks one customer's streak under the active program.
type LoyaltyAccount struct {
	ID                   string     `json:"id"`
	CustomerID           string     `json:"customer_id"`
	ProgramID            string     `json:"program_id"`
	ConsecutiveCount     int        `json:"consecutive_count"`
	TotalServices        int        `json:"total_services"`
	FreeServicesEarned   int        `json:"free_services_earned"`
	FreeServicesUsed     int        `json:"free_services_used"`
	FreeServiceAvailable bool       `json:"free_service_available"`
	FreeServiceExpiry    *time.Time `json:"free_service_expiry,omitempty"`
	LastServiceDate      *time.Time `json:"last_service_date,omitempty"`
}

type LoyaltyStatus struct {
	CustomerID           string     `json:"customer_id"`
	AccountID            string     `json:"account_id"`
	ConsecutiveCount     int        `json:"consecutive_count"`
	TotalServices        int        `json:"total_services"`
	ServicesRequired     int        `json:"services_required"`
	ServicesNeeded       int        `json:"services_needed"`
	FreeServiceAvailable bool       `json:"free_service_available"`
	FreeServiceExpiry    *time.Time `json:"free_service_expiry,omitempty"`
	FreeServicesEarned   int        `json:"free_services_earned"`
	FreeServicesUsed     int        `json:"free_services_used"`
	LastServiceDate      *time.Time `json:"last_service_date,omitempty"`
	EligibilityStatus    string     `json:"eligibility_status"`
}

type Proforma struct {
	ID                   string          `json:"id"`
	Number               string          `json:"number"`
	CustomerID           string          `json:"customer_id,omitempty"`
	VehicleID            string          `json:"vehicle_id,omitempty"`
	ServiceTypeID        string          `json:"service_type_id,omitempty"`
	OrganizationName     string          `json:"organization_name,omitempty"`
	CustomerName         string          `json:"customer_name,omitempty"`
	CarModel             string          `json:"car_model,omitempty"`
	Description          string          `json:"description,omitempty"`
	Notes                string          `json:"notes,omitempty"`
	Subtotal             decimal.Decimal `json:"subtotal"`
	TaxRate              decimal.Decimal `json:"tax_rate"`
	TaxAmount            decimal.Decimal `json:"tax_amount"`
	DiscountAmount       decimal.Decimal `json:"discount_amount"`
	GrandTotal           decimal.Decimal `json:"grand_total"`
	Status               string          `json:"status"`
	ValidUntil           *time.Time      `json:"valid_until,omitempty"`
	PrintedAt            *time.Time      `json:"printed_at,omitempty"`
	ConvertedToServiceID string          `json:"converted_to_service_id,omitempty"`
	CreatedBy            string          `json:"created_by,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	Items                []ProformaItem  `json:"items"`
}

type ProformaItem struct {
	ID          string          `json:"id"`
	ProformaID  string          `json:"proforma_id"`
	PartID      string          `json:"part_id,omitempty"`
	ItemType    string          `json:"item_type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	Notes       string          `json:"notes,omitempty"`
	Market      []MarketPrice   `json:"market_prices,omitempty"`
}

// MarketPrice is a comparison annotation only; it never feeds totals.
type MarketPrice struct {
	ID               string          `json:"id"`
	ProformaItemID   string          `json:"proforma_item_id"`
	OrganizationName string          `json:"organization_name"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	Notes            string          `json:"notes,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

type ProformaCreateRequest struct {
	CustomerID       string                     `json:"customer_id,omitempty"`
	VehicleID        string                     `json:"vehicle_id,omitempty"`
	ServiceTypeID    string                     `json:"service_type_id,omitempty"`
	OrganizationName string                     `json:"organization_name,omitempty"`
	CustomerName     string                     `json:"customer_name,omitempty"`
	CarModel         string                     `json:"car_model,omitempty"`
	Description      string                     `json:"description,omitempty"`
	Notes            string                     `json:"notes,omitempty"`
	TaxRate          *decimal.Decimal           `json:"tax_rate,omitempty"`
	DiscountAmount   *decimal.Decimal           `json:"discount_amount,omitempty"`
	ValidUntil       *time.Time                 `json:"valid_until,omitempty"`
	Items            []ProformaItemCreateDetail `json:"items,omitempty"`
}

type ProformaItemCreateDetail struct {
	PartID       string               `json:"part_id,omitempty"`
	ItemType     string               `json:"item_type,omitempty"`
	Name         string               `json:"name"`
	Description  string               `json:"description,omitempty"`
	Quantity     int                  `json:"quantity"`
	UnitPrice    decimal.Decimal      `json:"unit_price"`
	Notes        string               `json:"notes,omitempty"`
	MarketPrices []MarketPriceRequest `json:"market_prices,omitempty"`
}

type ProformaUpdateRequest struct {
	VehicleID      *string          `json:"vehicle_id,omitempty"`
	ServiceTypeID  *string          `json:"service_type_id,omitempty"`
	Description    *string          `json:"description,omitempty"`
	Notes          *string          `json:"notes,omitempty"`
	TaxRate        *decimal.Decimal `json:"tax_rate,omitempty"`
	DiscountAmount *decimal.Decimal `json:"discount_amount,omitempty"`
	Status         *string          `json:"status,omitempty"`
	ValidUntil     *time.Time       `json:"valid_until,omitempty"`
}

type ProformaItemUpdateRequest struct {
	ItemType    *string          `json:"item_type,omitempty"`
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Quantity    *int             `json:"quantity,omitempty"`
	UnitPrice   *decimal.Decimal `json:"unit_price,omitempty"`
	Notes       *string          `json:"notes,omitempty"`
}

type MarketPriceRequest struct {
	OrganizationName string          `json:"organization_name"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	Notes            string          `json:"notes,omitempty"`
}

// BillRecalculateRequest adjusts discount and/or tax on an existing bill;
// omitted fields keep their stored values.
type BillRecalculateRequest struct {
	DiscountAmount *decimal.Decimal `json:"discount_amount,omitempty"`
	TaxRate        *decimal.Decimal `json:"tax_rate,omitempty"`
}

type PaymentStatusUpdateRequest struct {
	PaymentStatus string `json:"payment_status"`
}

type Notification struct {
	ID         string     `json:"id"`
	CustomerID string     `json:"customer_id"`
	VehicleID  string     `json:"vehicle_id"`
	Type       string     `json:"type"`
	Channel    string     `json:"channel"`
	Subject    string     `json:"subject"`
	Message    string     `json:"message"`
	Status     string     `json:"status"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ReminderStats summarises one batch scan over the fleet. A failure on one
// vehicle increments Failed and the scan continues.
type ReminderStats struct {
	Checked              int `json:"checked"`
	Due                  int `json:"due"`
	NotificationsCreated int `json:"notifications_created"`
	Dispatched           int `json:"dispatched"`
	Failed               int `json:"failed"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type Actor struct {
	Username string
	Role     string
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

// StockDecrement is one pending inventory consumption inside a service
// completion transaction.
type StockDecrement struct {
	PartID   string
	Quantity int
}

// VehicleProjection carries the post-service mileage/date updates applied
// to the vehicle row in the same transaction as the service insert.
type VehicleProjection struct {
	VehicleID          string
	CurrentMileage     decimal.Decimal
	LastServiceMileage decimal.Decimal
	NextServiceMileage decimal.Decimal
	NextServiceDate    time.Time
}

// ServiceCompletion is the unit of work persisted atomically by the store:
// the service row with its lines, the inventory decrements, the vehicle
// projection update and the new loyalty account state all commit together
// or not at all.
type ServiceCompletion struct {
	Record          ServiceRecord
	StockDecrements []StockDecrement
	Vehicle         VehicleProjection
	Loyalty         *LoyaltyAccount
}

const (
	PaymentStatusPending = "Pending"
	PaymentStatusPartial = "Partial"
	PaymentStatusPaid    = "Paid"
	PaymentStatusFree    = "FreeService"
)

const (
	ProformaStatusDraft     = "Draft"
	ProformaStatusSent      = "Sent"
	ProformaStatusApproved  = "Approved"
	ProformaStatusConverted = "Converted"
	ProformaStatusCancelled = "Cancelled"
)

const (
	ItemTypeService = "Service"
	ItemTypePart    = "Part"
	ItemTypeOther   = "Other"
)

const (
	NotificationTypeServiceReminder = "Service Reminder"

	NotificationStatusPending = "Pending"
	NotificationStatusSent    = "Sent"
	NotificationStatusFailed  = "Failed"
)

const (
	EligibilityEligible    = "ELIGIBLE"
	EligibilityNotEligible = "NOT_ELIGIBLE"
)

// SentinelPartCode identifies the zero-priced inspection part used for
// checklist work that consumed no stocked part.
const SentinelPartCode = "INSPECTION"
