package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/stackstart/stackstart/internal/auth"
	"github.com/stackstart/stackstart/internal/spam"
)

// SpamClassifier scores message content.
type SpamClassifier interface {
	Classify(ctx context.Context, content, sender string) (*spam.Result, error)
}

// SpamHandler handles spam checks for API key callers.
type SpamHandler struct {
	classifier SpamClassifier
	logger     *slog.Logger
}

// NewSpamHandler creates a new SpamHandler.
func NewSpamHandler(classifier SpamClassifier, logger *slog.Logger) *SpamHandler {
	return &SpamHandler{
		classifier: classifier,
		logger:     logger,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// SpamCheckRequest is the body of POST /api/v1/spam-check.
type SpamCheckRequest struct {
	Content string `json:"content" validate:"required,max=20000"`
	Sender  string `json:"sender,omitempty" validate:"omitempty,max=320"`
}

// Check handles POST /api/v1/spam-check.
func (h *SpamHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req SpamCheckRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", validationMessage(err))
		return
	}

	result, err := h.classifier.Classify(r.Context(), req.Content, req.Sender)
	if err != nil {
		var keyID string
		if a := auth.AuthFromContext(r.Context()); a != nil {
			keyID = a.KeyID
		}

		switch {
		case errors.Is(err, spam.ErrEmptyContent):
			writeError(w, http.StatusBadRequest, "INVALID_CONTENT", "Content is required")
		case errors.Is(err, spam.ErrInvalidResponse):
			h.logger.Error("spam_check_failed", "error", err, "key_id", keyID)
			writeError(w, http.StatusBadGateway, "CLASSIFIER_INVALID_RESPONSE", "Classifier returned an invalid response")
		default:
			h.logger.Error("spam_check_failed", "error", err, "key_id", keyID)
			writeError(w, http.StatusServiceUnavailable, "CLASSIFIER_UNAVAILABLE", "Classifier unavailable, please retry")
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// validationMessage lists each failing field without echoing its value.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "Invalid request body"
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "max":
			msgs = append(msgs, field+" must be at most "+fe.Param()+" characters")
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return strings.Join(msgs, ", ")
}
