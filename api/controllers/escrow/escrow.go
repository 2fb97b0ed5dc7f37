package escrow

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrow-ledger/api/middleware"
	"github.com/angelmondragon/escrow-ledger/api/responses"
	"github.com/angelmondragon/escrow-ledger/api/validators"
	escrowsvc "github.com/angelmondragon/escrow-ledger/internal/escrow"
	pkgerrors "github.com/angelmondragon/escrow-ledger/pkg/errors"
	"github.com/angelmondragon/escrow-ledger/pkg/gateway"
	"github.com/angelmondragon/escrow-ledger/pkg/logger"
)

const (
	defaultWalletLimit = 50
	maxWalletLimit     = 200
)

type fundRequest struct {
	Amount int64 `json:"amount" validate:"gt=0"`
}

type releaseRequest struct {
	Amount    *int64 `json:"amount,omitempty" validate:"omitempty,gt=0"`
	Reference string `json:"reference,omitempty" validate:"omitempty,max=40"`
}

type refundRequest struct {
	Amount      int64      `json:"amount" validate:"gt=0"`
	Reason      string     `json:"reason" validate:"required,max=255"`
	MilestoneID *uuid.UUID `json:"milestone_id,omitempty"`
	Reference   string     `json:"reference,omitempty" validate:"omitempty,max=40"`
}

type disputeRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type fundAccountRequest struct {
	Name        string                   `json:"name" validate:"required,max=120"`
	Email       string                   `json:"email,omitempty" validate:"omitempty,email"`
	BankAccount *gateway.BankAccountSpec `json:"bank_account,omitempty"`
	VPA         *gateway.VPASpec         `json:"vpa,omitempty"`
	Card        *gateway.CardSpec        `json:"card,omitempty"`
}

// CreateAccount opens the virtual account of a contract.
func CreateAccount(svc escrowsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escrow service unavailable"))
			return
		}
		callerID, ok := caller(w, r, logg)
		if !ok {
			return
		}
		contractID, err := validators.ParseUUIDParam(r, "contractId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		account, err := svc.CreateEscrowAccount(r.Context(), contractID, callerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, account)
	}
}

// Fund requests a buyer payment into the contract's virtual account.
func Fund(svc escrowsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escrow service unavailable"))
			return
		}
		callerID, ok := caller(w, r, logg)
		if !ok {
			return
		}
		contractID, err := validators.ParseUUIDParam(r, "contractId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req fundRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		funding, err := svc.FundEscrowAccount(r.Context(), contractID, req.Amount, callerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status := http.StatusCreated
		if funding.Transaction == nil {
			status = http.StatusAccepted
		}
		responses.WriteSuccessStatus(w, status, funding)
	}
}

// GetContractAccount returns the contract's account, milestones and balance.
func GetContractAccount(svc escrowsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escrow service unavailable"))
			return
		}
		callerID, ok := caller(w, r, logg)
		if !ok {
			return
		}
		contractID, err := validators.ParseUUIDParam(r, "contractId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		details, err := svc.GetEscrowAccountDetails(r.Context(), contractID, callerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, details)
	}
}

func ListContractTransactions(svc escrowsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escrow service unavailable"))
			return
		}
		callerID, ok := caller(w, r, logg)
		if !ok {
			return
		}
		contractID, err := validators.ParseUUIDParam(r, "contractId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txns, err := svc.ListContractTransactions(r.Context(), contractID, callerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, txns)
	}
}

// Release pays a milestone out to the seller.
func Release(svc escrowsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escrow service unavailable"))
			return
		}
		callerID, ok := caller(w, r, logg)
		if !ok {
			return
		}
		milestoneID, err := validators.ParseUUIDParam(r, "milestoneId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req releaseRequest
		if hasBody(r) {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		payout, err := svc.ReleaseMilestonePayment(r.Context(), escrowsvc.ReleaseInput{
			MilestoneID: milestoneID,
			Amount:      req.Amount,
			Reference:   validators.SanitizeString(req.Reference, 40),
			ActorID:     callerID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payout)
	}
}

func Dispute(svc escrowsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escrow service unavailable"))
			return
		}
		callerID, ok := caller(w, r, logg)
		if !ok {
			return
		}
		milestoneID, err := validators.ParseUUIDParam(r, "milestoneId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req disputeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		milestone, err := svc.DisputeMilestone(r.Context(), milestoneID, callerID, validators.SanitizeString(req.Reason, 500))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, milestone)
	}
}

func Resolve(svc escrowsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escrow service unavailable"))
			return
		}
		callerID, ok := caller(w, r, logg)
		if !ok {
			return
		}
		milestoneID, err := validators.ParseUUIDParam(r, "milestoneId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		milestone, err := svc.ResolveDispute(r.Context(), milestoneID, callerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, milestone)
	}
}

// Refund returns escrowed funds to the buyer.
func Refund(svc escrowsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escrow service unavailable"))
			return
		}
		callerID, ok := caller(w, r, logg)
		if !ok {
			return
		}
		accountID, err := validators.ParseUUIDParam(r, "accountId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req refundRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payout, err := svc.ProcessRefund(r.Context(), escrowsvc.RefundInput{
			VirtualAccountID: accountID,
			Amount:           req.Amount,
			Reason:           validators.SanitizeString(req.Reason, 255),
			MilestoneID:      req.MilestoneID,
			Reference:        validators.SanitizeString(req.Reference, 40),
			ActorID:          callerID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payout)
	}
}

// ListAccounts returns the caller's accounts as buyer or seller.
func ListAccounts(svc escrowsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escrow service unavailable"))
			return
		}
		callerID, ok := caller(w, r, logg)
		if !ok {
			return
		}

		accounts, err := svc.GetUserEscrowAccounts(r.Context(), callerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, accounts)
	}
}

func GetTransaction(svc escrowsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escrow service unavailable"))
			return
		}
		callerID, ok := caller(w, r, logg)
		if !ok {
			return
		}
		transactionID, err := validators.ParseUUIDParam(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txn, err := svc.GetTransactionDetails(r.Context(), transactionID, callerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, txn)
	}
}

// RegisterFundAccount stores the caller's payout destination.
func RegisterFundAccount(svc escrowsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escrow service unavailable"))
			return
		}
		callerID, ok := caller(w, r, logg)
		if !ok {
			return
		}
		var req fundAccountRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		email := req.Email
		if email == "" {
			email = middleware.EmailFromContext(r.Context())
		}

		account, err := svc.RegisterFundAccount(r.Context(), escrowsvc.RegisterFundAccountInput{
			UserID: callerID,
			Name:   validators.SanitizeString(req.Name, 120),
			Email:  email,
			Spec: gateway.AccountSpec{
				BankAccount: req.BankAccount,
				VPA:         req.VPA,
				Card:        req.Card,
			},
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, account)
	}
}

// Wallet returns the caller's statement; ?limit= bounds the line count.
func Wallet(svc escrowsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escrow service unavailable"))
			return
		}
		callerID, ok := caller(w, r, logg)
		if !ok {
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", defaultWalletLimit, 1, maxWalletLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		statement, err := svc.GetWalletStatement(r.Context(), callerID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, statement)
	}
}

func caller(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (uuid.UUID, bool) {
	id, ok := middleware.UserUUIDFromContext(r.Context())
	if !ok {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
		return uuid.Nil, false
	}
	return id, true
}

func hasBody(r *http.Request) bool {
	return r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0
}
