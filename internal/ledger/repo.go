package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/escrow-ledger/pkg/db/models"
	"github.com/angelmondragon/escrow-ledger/pkg/enums"
)

// Repository manages persistence for the escrow ledger tables. Lock* methods
// take a row lock and only make sense on a repository bound with WithTx.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateContract(ctx context.Context, contract *models.Contract) error
	FindContract(ctx context.Context, id uuid.UUID) (*models.Contract, error)
	LockContract(ctx context.Context, id uuid.UUID) (*models.Contract, error)
	SaveContract(ctx context.Context, contract *models.Contract) error

	FindMilestone(ctx context.Context, id uuid.UUID) (*models.Milestone, error)
	LockMilestone(ctx context.Context, id uuid.UUID) (*models.Milestone, error)
	SaveMilestone(ctx context.Context, milestone *models.Milestone) error
	ListMilestones(ctx context.Context, contractID uuid.UUID) ([]models.Milestone, error)
	ClaimMilestoneRelease(ctx context.Context, id uuid.UUID, reference string, claimedAt, staleBefore time.Time) (bool, error)
	ClearMilestoneClaim(ctx context.Context, id uuid.UUID, reference string) error

	CreateVirtualAccount(ctx context.Context, account *models.VirtualAccount) error
	FindVirtualAccount(ctx context.Context, id uuid.UUID) (*models.VirtualAccount, error)
	FindVirtualAccountByExternalID(ctx context.Context, externalID string) (*models.VirtualAccount, error)
	FindActiveVirtualAccountByContract(ctx context.Context, contractID uuid.UUID) (*models.VirtualAccount, error)
	LockVirtualAccount(ctx context.Context, id uuid.UUID) (*models.VirtualAccount, error)
	UpdateVirtualAccountBalance(ctx context.Context, id uuid.UUID, balance int64) error
	ListVirtualAccountsByUser(ctx context.Context, userID uuid.UUID) ([]models.VirtualAccount, error)
	ListActiveVirtualAccounts(ctx context.Context, limit int) ([]models.VirtualAccount, error)

	FindContactByUser(ctx context.Context, userID uuid.UUID) (*models.GatewayContact, error)
	CreateContact(ctx context.Context, contact *models.GatewayContact) error
	CreateFundAccount(ctx context.Context, account *models.FundAccount) error
	DeactivateFundAccounts(ctx context.Context, userID uuid.UUID) error
	FindActiveFundAccount(ctx context.Context, userID uuid.UUID) (*models.FundAccount, error)

	FindPaymentByExternalID(ctx context.Context, externalID string) (*models.Payment, error)
	SavePayment(ctx context.Context, payment *models.Payment) error

	FindPayoutByExternalID(ctx context.Context, externalID string) (*models.Payout, error)
	SavePayout(ctx context.Context, payout *models.Payout) error
	ListNonTerminalPayouts(ctx context.Context, createdBefore time.Time, limit int) ([]models.Payout, error)

	FindTransaction(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, error)
	FindTransactionByExternalID(ctx context.Context, externalID string) (*models.EscrowTransaction, error)
	SaveTransaction(ctx context.Context, txn *models.EscrowTransaction) error
	ListTransactionsByAccount(ctx context.Context, virtualAccountID uuid.UUID) ([]models.EscrowTransaction, error)
	SumCompleted(ctx context.Context, virtualAccountID uuid.UUID) (int64, error)

	FindReservation(ctx context.Context, reference string) (*models.PayoutReservation, error)
	SaveReservation(ctx context.Context, reservation *models.PayoutReservation) error
	SumHeld(ctx context.Context, virtualAccountID uuid.UUID) (int64, error)
	ReleaseStaleReservations(ctx context.Context, virtualAccountID uuid.UUID, createdBefore time.Time) (int64, error)

	LockWallet(ctx context.Context, userID uuid.UUID) error
	WalletBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	CreateWalletTransaction(ctx context.Context, entry *models.WalletTransaction) error
	ListWalletTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.WalletTransaction, error)

	FindWebhookEvent(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error)
	FindWebhookEventByExternalID(ctx context.Context, externalID string) (*models.WebhookEvent, error)
	CreateWebhookEvent(ctx context.Context, event *models.WebhookEvent) error
	UpdateWebhookEvent(ctx context.Context, id uuid.UUID, updates map[string]any) error
	ListRetryableWebhookEvents(ctx context.Context, maxAttempts int, updatedBefore time.Time, limit int) ([]models.WebhookEvent, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) forUpdate(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
}

func (r *repository) CreateContract(ctx context.Context, contract *models.Contract) error {
	return r.db.WithContext(ctx).Create(contract).Error
}

func (r *repository) FindContract(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	var contract models.Contract
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&contract).Error; err != nil {
		return nil, err
	}
	return &contract, nil
}

func (r *repository) LockContract(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	var contract models.Contract
	if err := r.forUpdate(ctx).Where("id = ?", id).First(&contract).Error; err != nil {
		return nil, err
	}
	return &contract, nil
}

func (r *repository) SaveContract(ctx context.Context, contract *models.Contract) error {
	return r.db.WithContext(ctx).Omit("Milestones").Save(contract).Error
}

func (r *repository) FindMilestone(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	var milestone models.Milestone
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&milestone).Error; err != nil {
		return nil, err
	}
	return &milestone, nil
}

func (r *repository) LockMilestone(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	var milestone models.Milestone
	if err := r.forUpdate(ctx).Where("id = ?", id).First(&milestone).Error; err != nil {
		return nil, err
	}
	return &milestone, nil
}

func (r *repository) SaveMilestone(ctx context.Context, milestone *models.Milestone) error {
	return r.db.WithContext(ctx).Save(milestone).Error
}

func (r *repository) ListMilestones(ctx context.Context, contractID uuid.UUID) ([]models.Milestone, error) {
	var milestones []models.Milestone
	if err := r.db.WithContext(ctx).
		Where("contract_id = ?", contractID).
		Order("milestone_number ASC").
		Find(&milestones).Error; err != nil {
		return nil, err
	}
	return milestones, nil
}

// ClaimMilestoneRelease sets the in-flight release marker on a pending
// milestone. The same reference may re-claim; a different one must wait
// until the existing claim is older than staleBefore.
func (r *repository) ClaimMilestoneRelease(ctx context.Context, id uuid.UUID, reference string, claimedAt, staleBefore time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Milestone{}).
		Where("id = ? AND status = ?", id, enums.MilestoneStatusPending).
		Where("release_reference IS NULL OR release_reference = ? OR release_claimed_at < ?", reference, staleBefore).
		Updates(map[string]any{
			"release_reference":  reference,
			"release_claimed_at": claimedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ClearMilestoneClaim(ctx context.Context, id uuid.UUID, reference string) error {
	return r.db.WithContext(ctx).
		Model(&models.Milestone{}).
		Where("id = ? AND release_reference = ?", id, reference).
		Updates(map[string]any{
			"release_reference":  nil,
			"release_claimed_at": nil,
		}).Error
}

func (r *repository) CreateVirtualAccount(ctx context.Context, account *models.VirtualAccount) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *repository) FindVirtualAccount(ctx context.Context, id uuid.UUID) (*models.VirtualAccount, error) {
	var account models.VirtualAccount
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) FindVirtualAccountByExternalID(ctx context.Context, externalID string) (*models.VirtualAccount, error) {
	var account models.VirtualAccount
	if err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) FindActiveVirtualAccountByContract(ctx context.Context, contractID uuid.UUID) (*models.VirtualAccount, error) {
	var account models.VirtualAccount
	if err := r.db.WithContext(ctx).
		Where("contract_id = ? AND status = ?", contractID, enums.VirtualAccountStatusActive).
		First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) LockVirtualAccount(ctx context.Context, id uuid.UUID) (*models.VirtualAccount, error) {
	var account models.VirtualAccount
	if err := r.forUpdate(ctx).Where("id = ?", id).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) UpdateVirtualAccountBalance(ctx context.Context, id uuid.UUID, balance int64) error {
	return r.db.WithContext(ctx).
		Model(&models.VirtualAccount{}).
		Where("id = ?", id).
		Updates(map[string]any{"balance": balance, "updated_at": time.Now().UTC()}).Error
}

func (r *repository) ListVirtualAccountsByUser(ctx context.Context, userID uuid.UUID) ([]models.VirtualAccount, error) {
	var accounts []models.VirtualAccount
	if err := r.db.WithContext(ctx).
		Where("buyer_id = ? OR seller_id = ?", userID, userID).
		Order("created_at DESC").
		Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *repository) ListActiveVirtualAccounts(ctx context.Context, limit int) ([]models.VirtualAccount, error) {
	var accounts []models.VirtualAccount
	q := r.db.WithContext(ctx).
		Where("status = ?", enums.VirtualAccountStatusActive).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *repository) FindContactByUser(ctx context.Context, userID uuid.UUID) (*models.GatewayContact, error) {
	var contact models.GatewayContact
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&contact).Error; err != nil {
		return nil, err
	}
	return &contact, nil
}

func (r *repository) CreateContact(ctx context.Context, contact *models.GatewayContact) error {
	return r.db.WithContext(ctx).Create(contact).Error
}

func (r *repository) CreateFundAccount(ctx context.Context, account *models.FundAccount) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *repository) DeactivateFundAccounts(ctx context.Context, userID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.FundAccount{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Update("is_active", false).Error
}

func (r *repository) FindActiveFundAccount(ctx context.Context, userID uuid.UUID) (*models.FundAccount, error) {
	var account models.FundAccount
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("created_at DESC").
		First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) FindPaymentByExternalID(ctx context.Context, externalID string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) SavePayment(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Save(payment).Error
}

func (r *repository) FindPayoutByExternalID(ctx context.Context, externalID string) (*models.Payout, error) {
	var payout models.Payout
	if err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&payout).Error; err != nil {
		return nil, err
	}
	return &payout, nil
}

func (r *repository) SavePayout(ctx context.Context, payout *models.Payout) error {
	return r.db.WithContext(ctx).Save(payout).Error
}

func (r *repository) ListNonTerminalPayouts(ctx context.Context, createdBefore time.Time, limit int) ([]models.Payout, error) {
	var payouts []models.Payout
	q := r.db.WithContext(ctx).
		Where("status IN ?", []enums.PayoutStatus{
			enums.PayoutStatusQueued,
			enums.PayoutStatusPending,
			enums.PayoutStatusProcessing,
		}).
		Where("created_at < ?", createdBefore).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&payouts).Error; err != nil {
		return nil, err
	}
	return payouts, nil
}

func (r *repository) FindTransaction(ctx context.Context, id uuid.UUID) (*models.EscrowTransaction, error) {
	var txn models.EscrowTransaction
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindTransactionByExternalID(ctx context.Context, externalID string) (*models.EscrowTransaction, error) {
	var txn models.EscrowTransaction
	if err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) SaveTransaction(ctx context.Context, txn *models.EscrowTransaction) error {
	return r.db.WithContext(ctx).Save(txn).Error
}

func (r *repository) ListTransactionsByAccount(ctx context.Context, virtualAccountID uuid.UUID) ([]models.EscrowTransaction, error) {
	var txns []models.EscrowTransaction
	if err := r.db.WithContext(ctx).
		Where("virtual_account_id = ?", virtualAccountID).
		Order("created_at DESC").
		Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

// SumCompleted derives the balance from completed transactions only.
func (r *repository) SumCompleted(ctx context.Context, virtualAccountID uuid.UUID) (int64, error) {
	var total struct {
		Balance int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.EscrowTransaction{}).
		Select("COALESCE(SUM(CASE WHEN transaction_type = ? THEN amount ELSE -amount END), 0) AS balance", enums.EscrowTxnFunding).
		Where("virtual_account_id = ? AND status = ?", virtualAccountID, enums.EscrowTxnStatusCompleted).
		Scan(&total).Error
	return total.Balance, err
}

func (r *repository) FindReservation(ctx context.Context, reference string) (*models.PayoutReservation, error) {
	var reservation models.PayoutReservation
	if err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&reservation).Error; err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (r *repository) SaveReservation(ctx context.Context, reservation *models.PayoutReservation) error {
	return r.db.WithContext(ctx).Save(reservation).Error
}

// SumHeld totals the reservations still waiting on the gateway.
func (r *repository) SumHeld(ctx context.Context, virtualAccountID uuid.UUID) (int64, error) {
	var total struct {
		Held int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.PayoutReservation{}).
		Select("COALESCE(SUM(amount), 0) AS held").
		Where("virtual_account_id = ? AND status = ?", virtualAccountID, enums.ReservationHeld).
		Scan(&total).Error
	return total.Held, err
}

// ReleaseStaleReservations frees holds whose request died before the gateway
// answered. A hold with a recorded payout is left for reconciliation.
func (r *repository) ReleaseStaleReservations(ctx context.Context, virtualAccountID uuid.UUID, createdBefore time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PayoutReservation{}).
		Where("virtual_account_id = ? AND status = ? AND created_at < ?", virtualAccountID, enums.ReservationHeld, createdBefore).
		Where("payout_external_id IS NULL").
		Where("NOT EXISTS (SELECT 1 FROM payouts WHERE payouts.reference = payout_reservations.reference)").
		Update("status", enums.ReservationReleased)
	return res.RowsAffected, res.Error
}

// LockWallet serializes statement appends for one user until the transaction
// ends. Postgres takes an advisory lock; sqlite already allows one writer.
func (r *repository) LockWallet(ctx context.Context, userID uuid.UUID) error {
	if r.db.Dialector.Name() != "postgres" {
		return nil
	}
	return r.db.WithContext(ctx).
		Exec("SELECT pg_advisory_xact_lock(hashtextextended(?, 0))", "wallet:"+userID.String()).Error
}

func (r *repository) WalletBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var total struct {
		Balance int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.WalletTransaction{}).
		Select("COALESCE(SUM(CASE WHEN direction = ? THEN amount ELSE -amount END), 0) AS balance", enums.WalletCredit).
		Where("user_id = ?", userID).
		Scan(&total).Error
	return total.Balance, err
}

func (r *repository) CreateWalletTransaction(ctx context.Context, entry *models.WalletTransaction) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListWalletTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.WalletTransaction, error) {
	var entries []models.WalletTransaction
	q := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) FindWebhookEvent(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) FindWebhookEventByExternalID(ctx context.Context, externalID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := r.db.WithContext(ctx).Where("external_event_id = ?", externalID).First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) CreateWebhookEvent(ctx context.Context, event *models.WebhookEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) UpdateWebhookEvent(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) ListRetryableWebhookEvents(ctx context.Context, maxAttempts int, updatedBefore time.Time, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	q := r.db.WithContext(ctx).
		Where("is_verified = ?", true).
		Where("processing_status IN ?", []enums.WebhookProcessingStatus{
			enums.WebhookStatusPending,
			enums.WebhookStatusFailed,
		}).
		Where("updated_at < ?", updatedBefore).
		Order("created_at ASC")
	if maxAttempts > 0 {
		q = q.Where("attempt_count < ?", maxAttempts)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
