// Package txn threads an explicit ambient transaction handle through node
// execution and across suspension boundaries. The engine never manages the
// transaction itself; it only needs a scope wrapper that behaves sanely
// when the ambient transaction has already died underneath it.
package txn

import (
	"fmt"

	"github.com/google/uuid"
)

// Status enumerates the transaction states the engine cares about.
type Status string

const (
	StatusActive    Status = "active"
	StatusCommitted Status = "committed"
	StatusAborted   Status = "aborted"
	StatusInDoubt   Status = "in-doubt"
)

// Transaction is the contract an ambient transaction must satisfy. The
// handle is passed explicitly through the execution context rather than
// being thread-ambient.
type Transaction interface {
	ID() string
	Status() Status
	// AbortCause returns the error that aborted the transaction, or nil.
	AbortCause() error
	Abort(cause error)
	Commit() error
}

// AbortedError is the typed fault delivered to activity logic that polls
// transaction status between suspension points.
type AbortedError struct {
	TransactionID string
	Cause         error
}

func (e *AbortedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("txn: transaction %s aborted: %v", e.TransactionID, e.Cause)
	}
	return fmt.Sprintf("txn: transaction %s aborted", e.TransactionID)
}

func (e *AbortedError) Unwrap() error { return e.Cause }

// InDoubtError reports a transaction whose outcome cannot be determined.
type InDoubtError struct {
	TransactionID string
	Cause         error
}

func (e *InDoubtError) Error() string {
	return fmt.Sprintf("txn: transaction %s is in doubt", e.TransactionID)
}

func (e *InDoubtError) Unwrap() error { return e.Cause }

// MemoryTransaction is a process-local Transaction for embedding and tests.
type MemoryTransaction struct {
	id     string
	status Status
	cause  error
}

// NewMemoryTransaction starts an active in-memory transaction.
func NewMemoryTransaction() *MemoryTransaction {
	return &MemoryTransaction{id: uuid.NewString(), status: StatusActive}
}

// ID returns the transaction identity.
func (t *MemoryTransaction) ID() string { return t.id }

// Status returns the current transaction status.
func (t *MemoryTransaction) Status() Status { return t.status }

// AbortCause returns the abort cause, if any.
func (t *MemoryTransaction) AbortCause() error { return t.cause }

// Abort moves the transaction to aborted. The first cause wins.
func (t *MemoryTransaction) Abort(cause error) {
	if t.status == StatusAborted || t.status == StatusCommitted {
		return
	}
	t.status = StatusAborted
	if t.cause == nil {
		t.cause = cause
	}
}

// Commit completes the transaction. Committing an aborted transaction
// fails with the original cause attached.
func (t *MemoryTransaction) Commit() error {
	switch t.status {
	case StatusAborted:
		return &AbortedError{TransactionID: t.id, Cause: t.cause}
	case StatusInDoubt:
		return &InDoubtError{TransactionID: t.id, Cause: t.cause}
	case StatusCommitted:
		return nil
	}
	t.status = StatusCommitted
	return nil
}

// MarkInDoubt forces the in-doubt status (test hook for the check path).
func (t *MemoryTransaction) MarkInDoubt(cause error) {
	t.status = StatusInDoubt
	if t.cause == nil {
		t.cause = cause
	}
}

// Scope wraps node execution that must run inside an ambient transaction.
type Scope struct {
	tx         Transaction
	substitute bool
	completed  bool
	released   bool
}

// CreateScope opens a scope over the ambient transaction. If the ambient
// transaction has already aborted, a fresh self-aborting transaction is
// substituted so the caller still receives a valid, immediately-discarded
// scope instead of an error.
func CreateScope(ambient Transaction) *Scope {
	if ambient == nil || ambient.Status() == StatusAborted {
		sub := NewMemoryTransaction()
		var cause error
		if ambient != nil {
			cause = ambient.AbortCause()
		}
		sub.Abort(&AbortedError{TransactionID: sub.id, Cause: cause})
		return &Scope{tx: sub, substitute: true}
	}
	return &Scope{tx: ambient}
}

// Transaction exposes the scope's transaction handle.
func (s *Scope) Transaction() Transaction { return s.tx }

// Substituted reports whether the scope runs over a self-aborted stand-in
// rather than the caller's ambient transaction.
func (s *Scope) Substituted() bool { return s.substitute }

// Complete marks the work inside the scope as intended to commit, then
// unconditionally releases the scope's resources even if marking fails.
func (s *Scope) Complete() error {
	var err error
	if !s.released && !s.completed && !s.substitute {
		err = s.tx.Commit()
		s.completed = err == nil
	}
	s.release()
	return err
}

func (s *Scope) release() {
	if s.released {
		return
	}
	s.released = true
	if s.substitute || !s.completed {
		s.tx.Abort(nil)
	}
}

// CheckAbortedOrInDoubt raises the corresponding typed fault, with the
// original abort cause attached, when the transaction is no longer viable.
func CheckAbortedOrInDoubt(tx Transaction) error {
	if tx == nil {
		return nil
	}
	switch tx.Status() {
	case StatusAborted:
		return &AbortedError{TransactionID: tx.ID(), Cause: tx.AbortCause()}
	case StatusInDoubt:
		return &InDoubtError{TransactionID: tx.ID(), Cause: tx.AbortCause()}
	}
	return nil
}
