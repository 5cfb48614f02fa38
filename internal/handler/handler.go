package handler

import (
	"context"
	"strconv"
	"strings"

	"transfersvc/internal/model"
	"transfersvc/internal/service"
	"transfersvc/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Transferrer is the write side the handler drives.
type Transferrer interface {
	Transfer(ctx context.Context, req *model.TransferRequest) error
	TransferWithGlobalLock(ctx context.Context, req *model.TransferRequest) error
}

type Handler struct {
	accounts  *service.AccountService
	transfers Transferrer
	logger    *zap.Logger
}

func NewHandler(accounts *service.AccountService, transfers Transferrer, logger *zap.Logger) *Handler {
	return &Handler{accounts: accounts, transfers: transfers, logger: logger}
}

// ============================================================
// transfer
// ============================================================

type TransferRequest struct {
	FromAccountID int64  `json:"fromAccountId" binding:"required"`
	ToAccountID   int64  `json:"toAccountId" binding:"required"`
	Amount        int64  `json:"amount" binding:"required,min=1"`
	RawPassword   string `json:"rawPassword" binding:"required,len=6"`
}

// Transfer moves funds. X-Lock-Strategy: distributed adds the cross-process
// lock on the from account.
// POST /account/transfer
func (h *Handler) Transfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid transfer request: "+err.Error())
		return
	}

	transfer := &model.TransferRequest{
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		Amount:        req.Amount,
		RawPassword:   req.RawPassword,
	}

	var err error
	if strings.EqualFold(c.GetHeader(HeaderLockStrategy), "distributed") {
		err = h.transfers.TransferWithGlobalLock(c.Request.Context(), transfer)
	} else {
		err = h.transfers.Transfer(c.Request.Context(), transfer)
	}
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	response.NoContent(c)
}

// ============================================================
// accounts
// ============================================================

type AccountResponse struct {
	AccountID  int64 `json:"accountId"`
	CustomerID int64 `json:"customerId"`
	Balance    int64 `json:"balance"`
}

// ListAccounts
// GET /account/:customerId
func (h *Handler) ListAccounts(c *gin.Context) {
	customerID, err := strconv.ParseInt(c.Param("customerId"), 10, 64)
	if err != nil {
		response.BadRequest(c, "customerId must be an integer")
		return
	}

	accounts, err := h.accounts.ListAccounts(c.Request.Context(), customerID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	out := make([]AccountResponse, 0, len(accounts))
	for _, acc := range accounts {
		out = append(out, AccountResponse{AccountID: acc.ID, CustomerID: acc.CustomerID, Balance: acc.Balance})
	}
	response.Success(c, out)
}

// GetBalance
// GET /account/balance/:accountId
func (h *Handler) GetBalance(c *gin.Context) {
	accountID, err := strconv.ParseInt(c.Param("accountId"), 10, 64)
	if err != nil {
		response.BadRequest(c, "accountId must be an integer")
		return
	}

	balance, err := h.accounts.GetBalance(c.Request.Context(), accountID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	response.Success(c, gin.H{"accountId": accountID, "balance": balance})
}
