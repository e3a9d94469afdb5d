package activities

import (
	"fmt"

	"github.com/wforney/corewf-sub005/internal/activity"
	"github.com/wforney/corewf-sub005/internal/txn"
)

// TransactionScope runs its body inside the engine's ambient transaction.
// Entering with an already-aborted ambient faults before the body is
// scheduled; the transaction is re-checked once the body completes so an
// abort during a suspension surfaces as a fault instead of a commit.
// Completing the scope commits the ambient transaction. Without an
// ambient transaction the scope is a pass-through.
type TransactionScope struct {
	activity.Base
	body activity.Activity
}

var (
	_ activity.Composite         = (*TransactionScope)(nil)
	_ activity.CompletionHandler = (*TransactionScope)(nil)
)

// NewTransactionScope wraps body in a transaction scope.
func NewTransactionScope(name string, body activity.Activity) *TransactionScope {
	return &TransactionScope{Base: activity.NewBase(name), body: body}
}

// Children implements activity.Composite.
func (t *TransactionScope) Children() []activity.Activity {
	if t.body == nil {
		return nil
	}
	return []activity.Activity{t.body}
}

func (t *TransactionScope) Execute(ctx activity.Context) (activity.Outcome, error) {
	if tx := ctx.Transaction(); tx != nil {
		if scope := txn.CreateScope(tx); scope.Substituted() {
			// The ambient transaction died before the scope opened. The
			// substitute is already aborted with the ambient cause attached.
			return 0, fmt.Errorf("activities: transaction %s: %w", t.Name(), scope.Transaction().AbortCause())
		}
	}
	if t.body == nil {
		return t.commit(ctx)
	}
	if err := ctx.ScheduleChild(t.body); err != nil {
		return 0, err
	}
	return activity.OutcomePending, nil
}

func (t *TransactionScope) ChildCompleted(ctx activity.Context, _ activity.Activity, _ any) (activity.Outcome, error) {
	return t.commit(ctx)
}

// commit re-checks the ambient transaction and completes the scope. The
// scope holds no state of its own, so reopening it here is equivalent to
// having held it across the body's suspensions.
func (t *TransactionScope) commit(ctx activity.Context) (activity.Outcome, error) {
	tx := ctx.Transaction()
	if tx == nil {
		return activity.OutcomeCompleted, nil
	}
	if err := txn.CheckAbortedOrInDoubt(tx); err != nil {
		return 0, fmt.Errorf("activities: transaction %s: %w", t.Name(), err)
	}
	scope := txn.CreateScope(tx)
	if err := scope.Complete(); err != nil {
		return 0, fmt.Errorf("activities: transaction %s: %w", t.Name(), err)
	}
	return activity.OutcomeCompleted, nil
}
