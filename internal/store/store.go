package store

import (
	"context"
	"errors"
	"time"

	"bengkelku/backend/internal/domain"
	"bengkelku/backend/internal/pricing"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidState = errors.New("invalid state")
	ErrNotEligible  = errors.New("not eligible")
	ErrExpired      = errors.New("expired")
)

// Repository is the persistence contract. Multi-write operations
// (CreateServiceCompletion, RedeemFreeService, the proforma item mutations)
// must apply all of their writes atomically; the postgres implementation
// runs them inside a single serializable transaction.
type Repository interface {
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)

	ListVehicles(ctx context.Context, customerID string) ([]domain.Vehicle, error)
	GetVehicle(ctx context.Context, id string) (*domain.Vehicle, error)
	CreateVehicle(ctx context.Context, vehicle domain.Vehicle) (*domain.Vehicle, error)

	ListServiceTypes(ctx context.Context) ([]domain.ServiceType, error)
	GetServiceType(ctx context.Context, id string) (*domain.ServiceType, error)

	ListParts(ctx context.Context) ([]domain.Part, error)
	GetPart(ctx context.Context, id string) (*domain.Part, error)
	CreatePart(ctx context.Context, part domain.Part) (*domain.Part, error)
	ListLowStockParts(ctx context.Context) ([]domain.LowStockPart, error)
	DecrementStock(ctx context.Context, partID string, quantity int) error
	FindOrCreateSentinelPart(ctx context.Context, code string) (*domain.Part, error)

	CreateServiceCompletion(ctx context.Context, completion domain.ServiceCompletion) (*domain.ServiceRecord, error)
	GetServiceRecord(ctx context.Context, id string) (*domain.ServiceRecord, error)
	ListServiceRecords(ctx context.Context, vehicleID string, limit int) ([]domain.ServiceRecord, error)
	UpdateServiceTotals(ctx context.Context, record domain.ServiceRecord) (*domain.ServiceRecord, error)
	UpdateServicePaymentStatus(ctx context.Context, id string, status string) (*domain.ServiceRecord, error)
	CountServicesByCustomer(ctx context.Context, customerID string) (int, error)
	LatestServiceDateByCustomer(ctx context.Context, customerID string) (*time.Time, error)
	LatestServiceByVehicle(ctx context.Context, vehicleID string) (*domain.ServiceRecord, error)

	GetActiveLoyaltyProgram(ctx context.Context) (*domain.LoyaltyProgram, error)
	GetLoyaltyProgram(ctx context.Context, id string) (*domain.LoyaltyProgram, error)
	GetLoyaltyAccountByCustomer(ctx context.Context, customerID string) (*domain.LoyaltyAccount, error)
	SaveLoyaltyAccount(ctx context.Context, account domain.LoyaltyAccount) (*domain.LoyaltyAccount, error)
	RedeemFreeService(ctx context.Context, record domain.ServiceRecord, account domain.LoyaltyAccount) (*domain.ServiceRecord, error)

	CreateProforma(ctx context.Context, proforma domain.Proforma) (*domain.Proforma, error)
	GetProforma(ctx context.Context, id string) (*domain.Proforma, error)
	ListProformas(ctx context.Context, customerID string, status string, limit int) ([]domain.Proforma, error)
	UpdateProformaHeader(ctx context.Context, proforma domain.Proforma) (*domain.Proforma, error)
	DeleteProforma(ctx context.Context, id string) error
	LatestProformaNumber(ctx context.Context, prefix string) (string, error)
	AddProformaItem(ctx context.Context, item domain.ProformaItem, totals pricing.Totals) (*domain.ProformaItem, error)
	UpdateProformaItem(ctx context.Context, item domain.ProformaItem, totals pricing.Totals) (*domain.ProformaItem, error)
	DeleteProformaItem(ctx context.Context, proformaID string, itemID string, totals pricing.Totals) error
	AddMarketPrice(ctx context.Context, price domain.MarketPrice) (*domain.MarketPrice, error)
	UpdateMarketPrice(ctx context.Context, price domain.MarketPrice) (*domain.MarketPrice, error)
	DeleteMarketPrice(ctx context.Context, itemID string, priceID string) error

	CreateNotification(ctx context.Context, notification domain.Notification) (*domain.Notification, error)
	UpdateNotificationStatus(ctx context.Context, id string, status string, sentAt *time.Time) error
	HasRecentNotification(ctx context.Context, customerID string, vehicleID string, notificationType string, since time.Time) (bool, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
