// Package appendlog implements the append engine and task state machine
// (C4): append validation, the claim/renew/cancel/response lifecycle, and
// the pure reducer that derives current task state from the append log
// rather than a mutable row (§9).
package appendlog

import (
	"time"

	"github.com/zynqcloud/capdocs/internal/store"
)

// Status is the derived state of a task.
type Status string

const (
	StatusOpen    Status = "open"
	StatusClaimed Status = "claimed"
	StatusDone    Status = "done"
)

// TaskState is the reduction of a file's append log with respect to a
// single task append.
type TaskState struct {
	Status       Status
	ActiveClaim  *store.Append
	DoneAt       *time.Time
}

// Reduce derives the current state of the task identified by taskAppendID
// from appends, which must be ordered by insertion (appendId ascending).
// Implemented as a pure reducer per §9: it never mutates appends and always
// produces the same result for the same log + now.
func Reduce(appends []*store.Append, taskAppendID string, now time.Time) TaskState {
	var state TaskState
	var currentClaim *store.Append
	var currentExpiresAt time.Time

	for _, a := range appends {
		switch a.Type {
		case store.AppendClaim:
			if a.ParentRef == taskAppendID {
				currentClaim = a
				if a.ExpiresAt != nil {
					currentExpiresAt = *a.ExpiresAt
				}
			}
		case store.AppendCancel:
			if currentClaim != nil && a.ParentRef == currentClaim.AppendID {
				currentClaim = nil
			}
		case store.AppendRenew:
			if currentClaim != nil && a.ParentRef == currentClaim.AppendID {
				if a.ExpiresAt != nil {
					currentExpiresAt = *a.ExpiresAt
				}
			}
		case store.AppendResponse:
			if a.ParentRef == taskAppendID {
				state.Status = StatusDone
				done := a.CreatedAt
				state.DoneAt = &done
				currentClaim = nil
			}
		}
	}

	if state.Status == StatusDone {
		state.ActiveClaim = nil
		return state
	}

	if currentClaim != nil && !now.Before(currentExpiresAt) {
		// Expired claims reopen the task without an explicit cancel (§4.4).
		currentClaim = nil
	}

	if currentClaim != nil {
		state.Status = StatusClaimed
		state.ActiveClaim = currentClaim
	} else {
		state.Status = StatusOpen
	}
	return state
}

// FindTask returns the task append matching appendID, or nil.
func FindTask(appends []*store.Append, appendID string) *store.Append {
	for _, a := range appends {
		if a.Type == store.AppendTask && a.AppendID == appendID {
			return a
		}
	}
	return nil
}

// CountActiveClaims returns the number of tasks across appends currently
// claimed by author, used for WIP-limit enforcement.
func CountActiveClaims(appends []*store.Append, author string, now time.Time) int {
	count := 0
	for _, a := range appends {
		if a.Type != store.AppendTask {
			continue
		}
		state := Reduce(appends, a.AppendID, now)
		if state.Status == StatusClaimed && state.ActiveClaim != nil && state.ActiveClaim.Author == author {
			count++
		}
	}
	return count
}
