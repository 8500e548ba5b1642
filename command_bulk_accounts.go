package auth

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// BulkOperation names an administrative action applied to a set of accounts.
type BulkOperation string

const (
	BulkActivate   BulkOperation = "activate"
	BulkDeactivate BulkOperation = "deactivate"
	BulkDelete     BulkOperation = "delete"
)

// BulkAccountsResult reports how many accounts were processed and which ones
// failed.
type BulkAccountsResult struct {
	Operation BulkOperation `json:"operation"`
	Processed int           `json:"processed_count"`
	Failed    []BulkFailure `json:"failed,omitempty"`
}

// BulkFailure is one account the operation could not be applied to.
type BulkFailure struct {
	AccountID string `json:"account_id"`
	TextCode  string `json:"text_code"`
	Message   string `json:"message"`
}

// BulkAccountsHandler runs an operation account by account through
// AccountLifecycle, so each account goes through the same transition checks
// as a single update. One failing account does not stop the others.
type BulkAccountsHandler struct {
	lifecycle *AccountLifecycle
	logger    Logger
}

func NewBulkAccountsHandler(lifecycle *AccountLifecycle) *BulkAccountsHandler {
	return &BulkAccountsHandler{
		lifecycle: lifecycle,
		logger:    newDefLogger(),
	}
}

func (h *BulkAccountsHandler) WithLogger(logger Logger) *BulkAccountsHandler {
	h.logger = normalizeLogger(logger)
	return h
}

func (h *BulkAccountsHandler) Execute(ctx context.Context, event BulkAccountsMessage) (BulkAccountsResult, error) {
	select {
	case <-ctx.Done():
		return BulkAccountsResult{}, goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during bulk account operation",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *BulkAccountsHandler) execute(ctx context.Context, event BulkAccountsMessage) (BulkAccountsResult, error) {
	if err := event.Validate(); err != nil {
		return BulkAccountsResult{}, err
	}

	result := BulkAccountsResult{Operation: event.Operation}
	seen := make(map[uuid.UUID]struct{}, len(event.AccountIDs))

	for _, raw := range event.AccountIDs {
		id := uuid.MustParse(raw)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if err := h.apply(ctx, event, id); err != nil {
			result.Failed = append(result.Failed, bulkFailure(id, err))
			continue
		}
		result.Processed++
	}

	h.logger.Info("bulk account operation",
		"operation", event.Operation,
		"actor", event.Actor.ID,
		"processed", result.Processed,
		"failed", len(result.Failed),
	)
	return result, nil
}

func (h *BulkAccountsHandler) apply(ctx context.Context, event BulkAccountsMessage, id uuid.UUID) error {
	if event.Operation != BulkActivate && id.String() == event.Actor.ID {
		return newKindError(KindForbidden, "administrators cannot deactivate or delete themselves in bulk", nil)
	}

	switch event.Operation {
	case BulkActivate:
		active := true
		_, err := h.lifecycle.SetStatus(ctx, event.Actor, id, StatusUpdate{IsActive: &active})
		return err
	case BulkDeactivate:
		active := false
		_, err := h.lifecycle.SetStatus(ctx, event.Actor, id, StatusUpdate{IsActive: &active})
		return err
	case BulkDelete:
		return h.lifecycle.Remove(ctx, event.Actor, id)
	default:
		return newKindError(KindInvalidInput, "unknown bulk operation", map[string]any{"operation": event.Operation})
	}
}

func bulkFailure(id uuid.UUID, err error) BulkFailure {
	kind := KindOf(err)
	failure := BulkFailure{AccountID: id.String(), TextCode: string(kind), Message: "internal error"}
	if kind == KindInternal {
		return failure
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		failure.Message = richErr.Message
	}
	return failure
}
