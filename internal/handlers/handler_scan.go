package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/duitscan/scan_ledger_app/internal/apperrors"
	"github.com/duitscan/scan_ledger_app/internal/core/domain"
	portssvc "github.com/duitscan/scan_ledger_app/internal/core/ports/services"
	"github.com/duitscan/scan_ledger_app/internal/dto"
	"github.com/duitscan/scan_ledger_app/internal/middleware"
)

const maxUploadBytes = 10 << 20 // per image

// scanHandler handles HTTP requests for the scan session lifecycle.
type scanHandler struct {
	scanService  portssvc.ScanSvcFacade
	queueService portssvc.ParseQueueSvc
	storage      portssvc.StorageSvc
	urlTTL       time.Duration
}

func newScanHandler(scan portssvc.ScanSvcFacade, queue portssvc.ParseQueueSvc, storage portssvc.StorageSvc, urlTTL time.Duration) *scanHandler {
	return &scanHandler{
		scanService:  scan,
		queueService: queue,
		storage:      storage,
		urlTTL:       urlTTL,
	}
}

// registerScanRoutes registers routes related to scan sessions.
func registerScanRoutes(rg *gin.RouterGroup, scan portssvc.ScanSvcFacade, queue portssvc.ParseQueueSvc, storage portssvc.StorageSvc, urlTTL time.Duration) {
	h := newScanHandler(scan, queue, storage, urlTTL)

	sessions := rg.Group("/scan-sessions")
	{
		sessions.POST("", h.createSession)
		sessions.GET("/active", h.getActiveSession)
		sessions.GET("/:id", h.getSession)
		sessions.DELETE("/:id", h.cancelSession)
		sessions.POST("/:id/retry", h.retryParse)
		sessions.GET("/:id/pages/:index/review", h.getPageReview)
		sessions.POST("/:id/pages/:index/confirm", h.confirmPage)
	}
	rg.GET("/scan-queue", h.queueStatus)
}

// createSession godoc
// @Summary Open a scan session
// @Description Uploads one or more screenshots and starts background parsing
// @Tags scan-sessions
// @Accept multipart/form-data
// @Produce json
// @Param images formData file true "Screenshot images, in page order"
// @Param appTypes formData string false "Optional app hint per image, empty to auto-detect"
// @Success 201 {object} dto.CreateScanSessionResponse
// @Failure 400 {object} map[string]string "Invalid upload"
// @Failure 409 {object} map[string]string "An in-progress session already exists"
// @Security BearerAuth
// @Router /scan-sessions [post]
func (h *scanHandler) createSession(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	userID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		logger.Warn("Failed to parse multipart form", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid multipart form: " + err.Error()})
		return
	}

	files := form.File["images"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "At least one image is required"})
		return
	}
	appTypes := form.Value["appTypes"]

	pages := make([]portssvc.NewPageInput, len(files))
	for i, fileHeader := range files {
		if fileHeader.Size > maxUploadBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Image %d exceeds the %dMB limit", i, maxUploadBytes>>20)})
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			logger.Error("Failed to open uploaded file", slog.Int("index", i), slog.String("error", err.Error()))
			c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read uploaded image"})
			return
		}
		data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
		file.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read uploaded image"})
			return
		}

		var hint *domain.PaymentApp
		if i < len(appTypes) && appTypes[i] != "" {
			app, ok := domain.ParsePaymentApp(appTypes[i])
			if !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown app type: " + appTypes[i]})
				return
			}
			hint = &app
		}

		pages[i] = portssvc.NewPageInput{
			Image:    data,
			MimeType: fileHeader.Header.Get("Content-Type"),
			AppType:  hint,
		}
	}

	state, err := h.scanService.CreateSession(c.Request.Context(), userID, pages)
	if err != nil {
		respondWithError(c, logger, err, "Failed to create scan session")
		return
	}

	resp := dto.CreateScanSessionResponse{
		SessionID: state.Session.SessionID,
		Status:    string(state.Session.Status),
		ExpiresAt: state.Session.ExpiresAt,
		Pages:     make([]dto.ScanPageResponse, len(state.Pages)),
	}
	for i, page := range state.Pages {
		resp.Pages[i] = dto.ToScanPageResponse(page, h.signedImageURL(logger, page.ImageKey))
	}
	c.JSON(http.StatusCreated, resp)
}

// getSession godoc
// @Summary Get a scan session
// @Tags scan-sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} dto.ScanSessionResponse
// @Failure 404 {object} map[string]string "Session not found"
// @Failure 410 {object} map[string]string "Session expired"
// @Security BearerAuth
// @Router /scan-sessions/{id} [get]
func (h *scanHandler) getSession(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	userID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	state, err := h.scanService.GetSession(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondWithError(c, logger, err, "Failed to load scan session")
		return
	}
	c.JSON(http.StatusOK, dto.ToScanSessionResponse(state, h.signedImageURLs(logger, state.Pages)))
}

// getActiveSession godoc
// @Summary Get the caller's in-progress scan session
// @Tags scan-sessions
// @Produce json
// @Success 200 {object} dto.ScanSessionResponse
// @Failure 404 {object} map[string]string "No active session"
// @Security BearerAuth
// @Router /scan-sessions/active [get]
func (h *scanHandler) getActiveSession(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	userID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	state, err := h.scanService.GetActiveSession(c.Request.Context(), userID)
	if err != nil {
		respondWithError(c, logger, err, "Failed to load active session")
		return
	}
	c.JSON(http.StatusOK, dto.ToScanSessionResponse(state, h.signedImageURLs(logger, state.Pages)))
}

// getPageReview godoc
// @Summary Get a parsed page with reconciliation annotations
// @Tags scan-sessions
// @Produce json
// @Param id path string true "Session ID"
// @Param index path int true "Page index"
// @Success 200 {object} dto.PageReviewResponse
// @Failure 400 {object} map[string]string "Page has not finished parsing"
// @Failure 404 {object} map[string]string "Session or page not found"
// @Security BearerAuth
// @Router /scan-sessions/{id}/pages/{index}/review [get]
func (h *scanHandler) getPageReview(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	userID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	pageIndex, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page index"})
		return
	}

	review, err := h.scanService.GetPageForReview(c.Request.Context(), userID, c.Param("id"), pageIndex)
	if err != nil {
		respondWithError(c, logger, err, "Failed to load page for review")
		return
	}

	var appType *string
	if review.Page.AppType != nil {
		s := string(*review.Page.AppType)
		appType = &s
	}
	c.JSON(http.StatusOK, dto.PageReviewResponse{
		PageIndex:   review.Page.PageIndex,
		AppType:     appType,
		ParseStatus: string(review.Page.ParseStatus),
		ImageURL:    h.signedImageURL(logger, review.Page.ImageKey),
		Candidates:  review.Candidates,
	})
}

// confirmPage godoc
// @Summary Confirm the reviewed items of the cursor page
// @Tags scan-sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param index path int true "Page index"
// @Param request body dto.ConfirmPageRequest true "Accepted items"
// @Success 200 {object} dto.ConfirmPageResponse
// @Failure 400 {object} map[string]string "Validation error"
// @Failure 409 {object} map[string]string "Page already confirmed"
// @Failure 410 {object} map[string]string "Session expired"
// @Security BearerAuth
// @Router /scan-sessions/{id}/pages/{index}/confirm [post]
func (h *scanHandler) confirmPage(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	userID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	pageIndex, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page index"})
		return
	}

	var req dto.ConfirmPageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Failed to bind JSON for ConfirmPage", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return
	}

	items, err := toConfirmItems(req.Items)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcome, err := h.scanService.ConfirmPage(c.Request.Context(), userID, c.Param("id"), pageIndex, items)
	if err != nil {
		respondWithError(c, logger, err, "Failed to confirm page")
		return
	}

	c.JSON(http.StatusOK, dto.ConfirmPageResponse{
		CreatedTransactionIDs: outcome.CreatedIDs,
		NextPageIndex:         outcome.NextPageIndex,
		SessionCompleted:      outcome.SessionCompleted,
	})
}

// retryParse godoc
// @Summary Requeue the session's unparsed pages
// @Tags scan-sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} dto.RetryParseResponse
// @Failure 429 {object} map[string]string "Retry requested too soon"
// @Security BearerAuth
// @Router /scan-sessions/{id}/retry [post]
func (h *scanHandler) retryParse(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	userID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	requeued, err := h.scanService.RetryParse(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondWithError(c, logger, err, "Failed to retry parsing")
		return
	}
	c.JSON(http.StatusOK, dto.RetryParseResponse{RequeuedPages: requeued})
}

// cancelSession godoc
// @Summary Cancel a scan session
// @Tags scan-sessions
// @Param id path string true "Session ID"
// @Success 204 "Session removed"
// @Failure 404 {object} map[string]string "Session not found"
// @Security BearerAuth
// @Router /scan-sessions/{id} [delete]
func (h *scanHandler) cancelSession(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	userID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	if err := h.scanService.CancelSession(c.Request.Context(), userID, c.Param("id")); err != nil {
		respondWithError(c, logger, err, "Failed to cancel scan session")
		return
	}
	c.Status(http.StatusNoContent)
}

// queueStatus godoc
// @Summary Parse queue snapshot
// @Tags scan-sessions
// @Produce json
// @Success 200 {object} dto.QueueStatusResponse
// @Security BearerAuth
// @Router /scan-queue [get]
func (h *scanHandler) queueStatus(c *gin.Context) {
	counts := h.queueService.Counts()
	c.JSON(http.StatusOK, dto.QueueStatusResponse{
		Queued:     counts.Queued,
		Processing: counts.Processing,
	})
}

func (h *scanHandler) signedImageURL(logger *slog.Logger, imageKey string) string {
	url, err := h.storage.GetURL(imageKey, h.urlTTL)
	if err != nil {
		logger.Warn("Failed to sign image URL", slog.String("image_key", imageKey), slog.String("error", err.Error()))
		return ""
	}
	return url
}

func (h *scanHandler) signedImageURLs(logger *slog.Logger, pages []domain.ScanSessionPage) map[string]string {
	urls := make(map[string]string, len(pages))
	for _, page := range pages {
		urls[page.ImageKey] = h.signedImageURL(logger, page.ImageKey)
	}
	return urls
}

// toConfirmItems validates and converts the request items into service inputs.
func toConfirmItems(reqItems []dto.ConfirmItemRequest) ([]portssvc.ConfirmItemInput, error) {
	items := make([]portssvc.ConfirmItemInput, len(reqItems))
	for i, item := range reqItems {
		date, err := time.Parse("2006-01-02", item.Date)
		if err != nil {
			return nil, fmt.Errorf("%w: item %d has invalid date %q", apperrors.ErrValidation, i, item.Date)
		}
		payment, ok := domain.ParsePaymentApp(item.Payment)
		if !ok {
			return nil, fmt.Errorf("%w: item %d has unknown payment app %q", apperrors.ErrValidation, i, item.Payment)
		}
		if !item.Total.IsPositive() {
			return nil, fmt.Errorf("%w: item %d total must be positive", apperrors.ErrValidation, i)
		}

		var forwardedFrom *domain.PaymentApp
		if item.ForwardedFromApp != nil {
			app, ok := domain.ParsePaymentApp(*item.ForwardedFromApp)
			if !ok {
				return nil, fmt.Errorf("%w: item %d has unknown forwarded source %q", apperrors.ErrValidation, i, *item.ForwardedFromApp)
			}
			forwardedFrom = &app
		}

		quantity := item.Quantity
		if quantity <= 0 {
			quantity = 1
		}

		items[i] = portssvc.ConfirmItemInput{
			Transaction: domain.Transaction{
				Date:             date,
				Category:         domain.Category(item.Category),
				Description:      item.Description,
				Merchant:         item.Merchant,
				Price:            item.Price,
				Quantity:         quantity,
				Total:            item.Total,
				Payment:          payment,
				Remarks:          item.Remarks,
				TransactionType:  domain.TransactionType(item.TransactionType),
				ForwardedFromApp: forwardedFrom,
			},
			TransferMatchID:  item.TransferMatchID,
			ForwardedMatchID: item.ForwardedMatchID,
			ReverseMatchID:   item.ReverseMatchID,
		}
	}
	return items, nil
}
