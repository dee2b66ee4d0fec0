package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/duitscan/scan_ledger_app/internal/core/domain"
	portssvc "github.com/duitscan/scan_ledger_app/internal/core/ports/services"
	"github.com/duitscan/scan_ledger_app/internal/dto"
	"github.com/duitscan/scan_ledger_app/internal/middleware"
)

// transactionHandler handles HTTP requests for the ledger.
type transactionHandler struct {
	transactionService portssvc.TransactionSvcFacade
	reconService       portssvc.ReconSvcFacade
}

func newTransactionHandler(txn portssvc.TransactionSvcFacade, recon portssvc.ReconSvcFacade) *transactionHandler {
	return &transactionHandler{
		transactionService: txn,
		reconService:       recon,
	}
}

// registerTransactionRoutes registers routes related to ledger transactions.
func registerTransactionRoutes(rg *gin.RouterGroup, txn portssvc.TransactionSvcFacade, recon portssvc.ReconSvcFacade) {
	h := newTransactionHandler(txn, recon)

	transactions := rg.Group("/transactions")
	{
		transactions.GET("", h.listTransactions)
		transactions.GET("/:id", h.getTransaction)
		transactions.PATCH("/:id", h.updateTransaction)
		transactions.DELETE("/:id", h.deleteTransaction)
		transactions.GET("/:id/matches", h.getMatches)
		transactions.POST("/:id/link-transfer", h.linkTransfer)
		transactions.DELETE("/:id/link-transfer", h.unlinkTransfer)
		transactions.POST("/:id/link-forwarded", h.linkForwarded)
		transactions.DELETE("/:id/link-forwarded", h.unlinkForwarded)
	}
}

func transactionIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid transaction ID"})
		return 0, false
	}
	return id, true
}

// listTransactions godoc
// @Summary List transactions in a date range
// @Tags transactions
// @Produce json
// @Param from query string true "Range start (YYYY-MM-DD, inclusive)"
// @Param to query string true "Range end (YYYY-MM-DD, inclusive)"
// @Success 200 {array} dto.EnrichedTransactionResponse
// @Failure 400 {object} map[string]string "Invalid date range"
// @Security BearerAuth
// @Router /transactions [get]
func (h *transactionHandler) listTransactions(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())

	var params dto.ListTransactionsParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Both from and to query parameters are required"})
		return
	}
	from, err := time.Parse("2006-01-02", params.From)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid from date"})
		return
	}
	to, err := time.Parse("2006-01-02", params.To)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid to date"})
		return
	}

	enriched, err := h.transactionService.ListByDateRange(c.Request.Context(), from, to)
	if err != nil {
		respondWithError(c, logger, err, "Failed to list transactions")
		return
	}

	resp := make([]dto.EnrichedTransactionResponse, len(enriched))
	for i := range enriched {
		resp[i] = dto.ToEnrichedTransactionResponse(&enriched[i])
	}
	c.JSON(http.StatusOK, resp)
}

// getTransaction godoc
// @Summary Get a transaction with its link partners
// @Tags transactions
// @Produce json
// @Param id path int true "Transaction ID"
// @Success 200 {object} dto.EnrichedTransactionResponse
// @Failure 404 {object} map[string]string "Transaction not found"
// @Security BearerAuth
// @Router /transactions/{id} [get]
func (h *transactionHandler) getTransaction(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	id, ok := transactionIDParam(c)
	if !ok {
		return
	}

	enriched, err := h.transactionService.Get(c.Request.Context(), id)
	if err != nil {
		respondWithError(c, logger, err, "Failed to load transaction")
		return
	}
	c.JSON(http.StatusOK, dto.ToEnrichedTransactionResponse(enriched))
}

// updateTransaction godoc
// @Summary Update a transaction
// @Description Applies partial changes; a category change propagates across forwarded links
// @Tags transactions
// @Accept json
// @Produce json
// @Param id path int true "Transaction ID"
// @Param request body dto.UpdateTransactionRequest true "Fields to change"
// @Success 200 {object} dto.TransactionResponse
// @Failure 400 {object} map[string]string "Validation error"
// @Failure 404 {object} map[string]string "Transaction not found"
// @Failure 409 {object} map[string]string "Change conflicts with an existing link"
// @Security BearerAuth
// @Router /transactions/{id} [patch]
func (h *transactionHandler) updateTransaction(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	id, ok := transactionIDParam(c)
	if !ok {
		return
	}

	var req dto.UpdateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return
	}

	input := portssvc.TransactionUpdateInput{
		Description: req.Description,
		Merchant:    req.Merchant,
		Remarks:     req.Remarks,
	}
	if req.Date != nil {
		date, err := time.Parse("2006-01-02", *req.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date"})
			return
		}
		input.Date = &date
	}
	if req.Category != nil {
		category := domain.Category(*req.Category)
		input.Category = &category
	}
	if req.TransactionType != nil {
		txnType := domain.TransactionType(*req.TransactionType)
		input.TransactionType = &txnType
	}

	updated, err := h.transactionService.Update(c.Request.Context(), id, input)
	if err != nil {
		respondWithError(c, logger, err, "Failed to update transaction")
		return
	}
	c.JSON(http.StatusOK, dto.ToTransactionResponse(updated))
}

// deleteTransaction godoc
// @Summary Delete a transaction
// @Tags transactions
// @Param id path int true "Transaction ID"
// @Success 204 "Transaction removed"
// @Failure 404 {object} map[string]string "Transaction not found"
// @Failure 409 {object} map[string]string "A link still references this transaction"
// @Security BearerAuth
// @Router /transactions/{id} [delete]
func (h *transactionHandler) deleteTransaction(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	id, ok := transactionIDParam(c)
	if !ok {
		return
	}

	if err := h.transactionService.Delete(c.Request.Context(), id); err != nil {
		respondWithError(c, logger, err, "Failed to delete transaction")
		return
	}
	c.Status(http.StatusNoContent)
}

// getMatches godoc
// @Summary Suggest link partners for a transaction
// @Tags transactions
// @Produce json
// @Param id path int true "Transaction ID"
// @Success 200 {object} dto.MatchesResponse
// @Failure 404 {object} map[string]string "Transaction not found"
// @Security BearerAuth
// @Router /transactions/{id}/matches [get]
func (h *transactionHandler) getMatches(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	id, ok := transactionIDParam(c)
	if !ok {
		return
	}

	enriched, err := h.transactionService.Get(c.Request.Context(), id)
	if err != nil {
		respondWithError(c, logger, err, "Failed to load transaction")
		return
	}
	txn := enriched.Transaction

	resp := dto.MatchesResponse{
		ForwardedMatches: []dto.TransactionResponse{},
		ReverseMatches:   []dto.TransactionResponse{},
	}

	transferMatch, err := h.reconService.FindTransferMatch(c.Request.Context(), txn)
	if err != nil {
		respondWithError(c, logger, err, "Failed to search transfer matches")
		return
	}
	if transferMatch != nil {
		match := dto.ToTransactionResponse(transferMatch)
		resp.TransferMatch = &match
	}

	forwarded, err := h.reconService.FindForwardedMatches(c.Request.Context(), txn)
	if err != nil {
		respondWithError(c, logger, err, "Failed to search forwarded matches")
		return
	}
	resp.ForwardedMatches = dto.ToListTransactionResponse(forwarded)

	reverse, err := h.reconService.FindReverseMatches(c.Request.Context(), txn)
	if err != nil {
		respondWithError(c, logger, err, "Failed to search reverse matches")
		return
	}
	resp.ReverseMatches = dto.ToListTransactionResponse(reverse)

	c.JSON(http.StatusOK, resp)
}

// linkTransfer godoc
// @Summary Pair two transfer rows
// @Tags transactions
// @Accept json
// @Param id path int true "Transaction ID"
// @Param request body dto.LinkTransferRequest true "Counterpart to pair with"
// @Success 204 "Linked"
// @Failure 400 {object} map[string]string "Validation error"
// @Failure 409 {object} map[string]string "A side is already linked"
// @Security BearerAuth
// @Router /transactions/{id}/link-transfer [post]
func (h *transactionHandler) linkTransfer(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	id, ok := transactionIDParam(c)
	if !ok {
		return
	}

	var req dto.LinkTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return
	}

	if err := h.transactionService.LinkTransfer(c.Request.Context(), id, req.CounterpartID); err != nil {
		respondWithError(c, logger, err, "Failed to link transfer")
		return
	}
	c.Status(http.StatusNoContent)
}

// unlinkTransfer godoc
// @Summary Dissolve a transfer pairing
// @Tags transactions
// @Param id path int true "Transaction ID"
// @Success 204 "Unlinked"
// @Failure 400 {object} map[string]string "Transaction has no transfer link"
// @Security BearerAuth
// @Router /transactions/{id}/link-transfer [delete]
func (h *transactionHandler) unlinkTransfer(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	id, ok := transactionIDParam(c)
	if !ok {
		return
	}

	if err := h.transactionService.UnlinkTransfer(c.Request.Context(), id); err != nil {
		respondWithError(c, logger, err, "Failed to unlink transfer")
		return
	}
	c.Status(http.StatusNoContent)
}

// linkForwarded godoc
// @Summary Mark a card row as the duplicate of an app row
// @Tags transactions
// @Accept json
// @Param id path int true "Card-side transaction ID"
// @Param request body dto.LinkForwardedRequest true "App-side row it duplicates"
// @Success 204 "Linked"
// @Failure 409 {object} map[string]string "Target already claimed"
// @Security BearerAuth
// @Router /transactions/{id}/link-forwarded [post]
func (h *transactionHandler) linkForwarded(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	id, ok := transactionIDParam(c)
	if !ok {
		return
	}

	var req dto.LinkForwardedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return
	}

	if err := h.transactionService.LinkForwarded(c.Request.Context(), id, req.TargetID); err != nil {
		respondWithError(c, logger, err, "Failed to link forwarded transaction")
		return
	}
	c.Status(http.StatusNoContent)
}

// unlinkForwarded godoc
// @Summary Clear the forwarded pointer on a row
// @Tags transactions
// @Param id path int true "Transaction ID"
// @Success 204 "Unlinked"
// @Failure 404 {object} map[string]string "Transaction has no forwarded link"
// @Security BearerAuth
// @Router /transactions/{id}/link-forwarded [delete]
func (h *transactionHandler) unlinkForwarded(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	id, ok := transactionIDParam(c)
	if !ok {
		return
	}

	if err := h.transactionService.UnlinkForwarded(c.Request.Context(), id); err != nil {
		respondWithError(c, logger, err, "Failed to unlink forwarded transaction")
		return
	}
	c.Status(http.StatusNoContent)
}
