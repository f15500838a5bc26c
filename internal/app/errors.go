package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"guias/api/internal/autosave"
	"guias/api/internal/drafts"
	"guias/api/internal/export"
	"guias/api/internal/generator"
	"guias/api/internal/gitrepo"
	"guias/api/internal/guide"
	"guias/api/internal/store"
	"guias/api/internal/workflow"
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

var errNoGuide = domainError(http.StatusNotFound, "NO_GUIDE", "Session has no guide yet", nil)

// mapError turns a service error into the HTTP status and body fields.
// Order matters: an inconsistent rollback wraps the generator error that
// caused it, and a flush refusal wraps the save error.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var rollbackErr *workflow.InconsistentRollbackError
	if errors.As(err, &rollbackErr) {
		return http.StatusInternalServerError, "INCONSISTENT_ROLLBACK",
			"Generation failed and the session could not be restored",
			map[string]any{"sessionId": rollbackErr.SessionID}
	}
	if errors.Is(err, workflow.ErrReadOnly) {
		return http.StatusConflict, "READ_ONLY", "Session is completed and read-only", nil
	}
	var transitionErr *workflow.TransitionError
	if errors.As(err, &transitionErr) {
		return http.StatusConflict, "INVALID_TRANSITION", transitionErr.Error(),
			map[string]any{"from": transitionErr.From, "to": transitionErr.To}
	}
	if errors.Is(err, workflow.ErrFlushFailed) {
		return http.StatusConflict, "UNSAVED_CHANGES", "Pending changes could not be saved", nil
	}

	if errors.Is(err, store.ErrNotFound) || errors.Is(err, drafts.ErrNotFound) || errors.Is(err, gitrepo.ErrNoHistory) || errors.Is(err, gitrepo.ErrUnknownCommit) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}

	if errors.Is(err, guide.ErrEmptyTopic) ||
		errors.Is(err, guide.ErrInvalidPath) ||
		errors.Is(err, guide.ErrInvalidValue) ||
		errors.Is(err, guide.ErrInvalidGuide) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	}

	var transportErr *generator.TransportError
	if errors.As(err, &transportErr) {
		return http.StatusBadGateway, "GENERATOR_UNAVAILABLE", "Guide generator is unavailable", nil
	}
	if errors.Is(err, generator.ErrEmptyResponse) {
		return http.StatusBadGateway, "GENERATOR_UNAVAILABLE", "Guide generator returned no content", nil
	}

	var saveErr *autosave.SaveError
	if errors.As(err, &saveErr) {
		return http.StatusServiceUnavailable, "SAVE_FAILED", "Guide could not be saved",
			map[string]any{"versionId": saveErr.VersionID}
	}
	if errors.Is(err, autosave.ErrClosed) {
		return http.StatusConflict, "EDITOR_CLOSED", "Guide editor was closed", nil
	}

	if errors.Is(err, export.ErrUnsupportedFormat) {
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", err.Error(), nil
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
		return http.StatusNotImplemented, "EXPORT_UNAVAILABLE", err.Error(), nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "TIMEOUT", "Request timed out", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
