package app

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"draftline/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func notFound(what string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", what+" not found", nil)
}

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, details)
}

func invalidTransition(from string, action Action) *DomainError {
	return domainError(http.StatusConflict, "INVALID_TRANSITION",
		fmt.Sprintf("cannot %s a pull request in status %s", action, from),
		map[string]any{"status": from, "action": action})
}

func conflict(message string) *DomainError {
	return domainError(http.StatusConflict, "CONFLICT", message, nil)
}

func forbidden() *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func unauthorized() *DomainError {
	return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
}

// storeError translates store sentinels. Anything else is wrapped and ends up
// as SERVER_ERROR.
func (s *Service) storeError(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return notFound(what)
	case errors.Is(err, store.ErrConflict):
		s.metrics.Conflict()
		return conflict(what + " conflicts with a concurrent write or a reverted version")
	case errors.Is(err, store.ErrInvalid):
		return validationError(strings.TrimPrefix(err.Error(), store.ErrInvalid.Error()+": "), nil)
	default:
		var domainErr *DomainError
		if errors.As(err, &domainErr) {
			return domainErr
		}
		return fmt.Errorf("%s: %w", what, err)
	}
}

// validationDetails flattens validator output into field -> rule.
func validationDetails(err error) (map[string]string, bool) {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return nil, false
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		details[fieldErr.Field()] = fieldErr.Tag()
	}
	return details, true
}
