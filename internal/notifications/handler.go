package notifications

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/bissquit/courier/internal/domain"
	"github.com/bissquit/courier/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrQueueItemNotFound, Status: http.StatusNotFound, Code: "QUEUE_ITEM_NOT_FOUND", Message: "queue item not found"},
	{Error: ErrSuppressionNotFound, Status: http.StatusNotFound, Code: "SUPPRESSION_NOT_FOUND", Message: "suppression not found"},
	{Error: ErrChannelNotConfigured, Status: http.StatusServiceUnavailable, Code: "CHANNEL_NOT_CONFIGURED", Message: "channel is not configured"},
	{Error: ErrInvalidBounceType, Status: http.StatusBadRequest, Code: "INVALID_BOUNCE_TYPE", Message: "type must be bounce or complaint"},
	{Error: ErrInvalidRecipient, Status: http.StatusBadRequest, Code: "INVALID_RECIPIENT", Message: "invalid recipient"},
}

// Handler handles HTTP requests for the notifications module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new notifications handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers notification routes (require auth).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/email", h.SendEmail)
	r.Post("/email/broadcast", h.BroadcastEmail)
	r.Post("/sms", h.SendSMS)
	r.Post("/sms/broadcast", h.BroadcastSMS)

	r.Route("/queue", func(r chi.Router) {
		r.Post("/sweep", h.Sweep)
		r.Get("/stats", h.QueueStats)
		r.Get("/items", h.ListQueueItems)
		r.Get("/items/{id}", h.GetQueueItem)
	})

	r.Route("/suppressions", func(r chi.Router) {
		r.Get("/", h.ListSuppressions)
		r.Post("/", h.AddSuppression)
		r.Delete("/{recipient}", h.RemoveSuppression)
	})

	r.Get("/delivery-log", h.ListDeliveryLog)
	r.Get("/delivery-log/stats", h.DeliveryStats)

	r.Post("/webhooks/bounces", h.RecordBounce)
}

// SendEmailRequest represents request body for sending an email.
type SendEmailRequest struct {
	To          string  `json:"to" validate:"required"`
	Subject     string  `json:"subject" validate:"required"`
	HTML        string  `json:"html" validate:"required_without=Text"`
	Text        string  `json:"text" validate:"required_without=HTML"`
	MessageType string  `json:"message_type" validate:"max=100"`
	From        string  `json:"from"`
	TenantID    *string `json:"tenant_id"`
}

// BroadcastEmailRequest represents request body for an email broadcast.
type BroadcastEmailRequest struct {
	Recipients  []string `json:"recipients" validate:"required,min=1,max=100000"`
	Subject     string   `json:"subject" validate:"required"`
	HTML        string   `json:"html" validate:"required_without=Text"`
	Text        string   `json:"text" validate:"required_without=HTML"`
	MessageType string   `json:"message_type" validate:"max=100"`
	From        string   `json:"from"`
	TenantID    *string  `json:"tenant_id"`
}

// SendSMSRequest represents request body for sending an SMS.
type SendSMSRequest struct {
	To          string  `json:"to" validate:"required"`
	Body        string  `json:"body" validate:"required"`
	MessageType string  `json:"message_type" validate:"max=100"`
	From        string  `json:"from"`
	TenantID    *string `json:"tenant_id"`
}

// BroadcastSMSRequest represents request body for an SMS broadcast.
type BroadcastSMSRequest struct {
	Recipients  []string `json:"recipients" validate:"required,min=1,max=10000"`
	Body        string   `json:"body" validate:"required"`
	MessageType string   `json:"message_type" validate:"max=100"`
	From        string   `json:"from"`
	TenantID    *string  `json:"tenant_id"`
}

// AddSuppressionRequest represents request body for suppressing a recipient.
type AddSuppressionRequest struct {
	Recipient string  `json:"recipient" validate:"required"`
	Reason    string  `json:"reason" validate:"omitempty,oneof=unsubscribed bounce complaint manual"`
	TenantID  *string `json:"tenant_id"`
}

// BounceRequest represents a provider bounce or complaint notification.
type BounceRequest struct {
	Recipient         string  `json:"recipient" validate:"required"`
	ExternalMessageID string  `json:"external_message_id"`
	Reason            string  `json:"reason"`
	Type              string  `json:"type" validate:"required,oneof=bounce complaint"`
	TenantID          *string `json:"tenant_id"`
}

// SendEmail handles POST /email. A delivery failure is still a 200 carrying the result.
func (h *Handler) SendEmail(w http.ResponseWriter, r *http.Request) {
	var req SendEmailRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.SendEmail(r.Context(), EmailParams{
		To:          req.To,
		Subject:     req.Subject,
		HTML:        req.HTML,
		Text:        req.Text,
		MessageType: req.MessageType,
		From:        req.From,
		TenantID:    req.TenantID,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, result)
}

// BroadcastEmail handles POST /email/broadcast.
func (h *Handler) BroadcastEmail(w http.ResponseWriter, r *http.Request) {
	var req BroadcastEmailRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.BroadcastEmail(r.Context(), EmailBroadcastParams{
		Recipients:  req.Recipients,
		Subject:     req.Subject,
		HTML:        req.HTML,
		Text:        req.Text,
		MessageType: req.MessageType,
		From:        req.From,
		TenantID:    req.TenantID,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, result)
}

// SendSMS handles POST /sms.
func (h *Handler) SendSMS(w http.ResponseWriter, r *http.Request) {
	var req SendSMSRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.SendSMS(r.Context(), SMSParams{
		To:          req.To,
		Body:        req.Body,
		MessageType: req.MessageType,
		From:        req.From,
		TenantID:    req.TenantID,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, result)
}

// BroadcastSMS handles POST /sms/broadcast.
func (h *Handler) BroadcastSMS(w http.ResponseWriter, r *http.Request) {
	var req BroadcastSMSRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.BroadcastSMS(r.Context(), SMSBroadcastParams{
		Recipients:  req.Recipients,
		Body:        req.Body,
		MessageType: req.MessageType,
		From:        req.From,
		TenantID:    req.TenantID,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, result)
}

// Sweep handles POST /queue/sweep.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	completed, err := h.service.Sweep(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]int{"completed": completed})
}

// QueueStats handles GET /queue/stats.
func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.QueueStats(r.Context(), optionalParam(r.URL.Query(), "tenant_id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, stats)
}

// ListQueueItems handles GET /queue/items.
func (h *Handler) ListQueueItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, ok := parseLimit(w, q)
	if !ok {
		return
	}

	filter := QueueFilter{
		TenantID: optionalParam(q, "tenant_id"),
		Limit:    limit,
	}
	if v := q.Get("status"); v != "" {
		status := domain.QueueStatus(v)
		switch status {
		case domain.QueueStatusPending, domain.QueueStatusProcessing, domain.QueueStatusCompleted, domain.QueueStatusFailed:
		default:
			httputil.Error(w, http.StatusBadRequest, "invalid status")
			return
		}
		filter.Status = &status
	}
	if v := q.Get("channel"); v != "" {
		channel := domain.Channel(v)
		if !channel.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid channel")
			return
		}
		filter.Channel = &channel
	}

	items, err := h.service.ListQueueItems(r.Context(), filter)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, items)
}

// GetQueueItem handles GET /queue/items/{id}.
func (h *Handler) GetQueueItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := uuid.Validate(id); err != nil {
		httputil.HandleError(r.Context(), w, ErrQueueItemNotFound, errorMappings)
		return
	}

	item, err := h.service.GetQueueItem(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, item)
}

// ListSuppressions handles GET /suppressions.
func (h *Handler) ListSuppressions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, ok := parseLimit(w, q)
	if !ok {
		return
	}

	entries, err := h.service.ListSuppressions(r.Context(), SuppressionFilter{
		TenantID: optionalParam(q, "tenant_id"),
		Limit:    limit,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, entries)
}

// AddSuppression handles POST /suppressions.
func (h *Handler) AddSuppression(w http.ResponseWriter, r *http.Request) {
	var req AddSuppressionRequest
	if !h.decode(w, r, &req) {
		return
	}

	entry, err := h.service.AddSuppression(r.Context(), req.Recipient, domain.SuppressionReason(req.Reason), req.TenantID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, entry)
}

// RemoveSuppression handles DELETE /suppressions/{recipient}.
func (h *Handler) RemoveSuppression(w http.ResponseWriter, r *http.Request) {
	recipient, err := url.PathUnescape(chi.URLParam(r, "recipient"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid recipient")
		return
	}

	if err := h.service.RemoveSuppression(r.Context(), recipient); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListDeliveryLog handles GET /delivery-log.
func (h *Handler) ListDeliveryLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, ok := parseLimit(w, q)
	if !ok {
		return
	}

	filter := LogFilter{
		Recipient: optionalParam(q, "recipient"),
		TenantID:  optionalParam(q, "tenant_id"),
		Limit:     limit,
	}
	if v := q.Get("status"); v != "" {
		status := domain.DeliveryStatus(v)
		switch status {
		case domain.DeliveryStatusSuccess, domain.DeliveryStatusFailed, domain.DeliveryStatusBounced, domain.DeliveryStatusRejected:
		default:
			httputil.Error(w, http.StatusBadRequest, "invalid status")
			return
		}
		filter.Status = &status
	}
	if v := q.Get("channel"); v != "" {
		channel := domain.Channel(v)
		if !channel.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid channel")
			return
		}
		filter.Channel = &channel
	}

	entries, err := h.service.ListDeliveryLog(r.Context(), filter)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, entries)
}

// DeliveryStats handles GET /delivery-log/stats.
func (h *Handler) DeliveryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.DeliveryStats(r.Context(), optionalParam(r.URL.Query(), "tenant_id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, stats)
}

// RecordBounce handles POST /webhooks/bounces.
func (h *Handler) RecordBounce(w http.ResponseWriter, r *http.Request) {
	var req BounceRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.service.RecordBounce(r.Context(), BounceEvent{
		Recipient:         req.Recipient,
		ExternalMessageID: req.ExternalMessageID,
		Reason:            req.Reason,
		Type:              BounceType(req.Type),
		TenantID:          req.TenantID,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := httputil.DecodeJSON(w, r, req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return false
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return false
	}
	return true
}

func parseLimit(w http.ResponseWriter, q url.Values) (int, bool) {
	v := q.Get("limit")
	if v == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(v)
	if err != nil || limit < 1 {
		httputil.Error(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return limit, true
}

func optionalParam(q url.Values, key string) *string {
	v := q.Get(key)
	if v == "" {
		return nil
	}
	return &v
}
