package appendlog

import (
	"regexp"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/zynqcloud/capdocs/internal/apperr"
	"github.com/zynqcloud/capdocs/internal/capkey"
	"github.com/zynqcloud/capdocs/internal/metrics"
	"github.com/zynqcloud/capdocs/internal/store"
	"github.com/zynqcloud/capdocs/internal/validate"
)

var authorPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

var reservedAuthors = map[string]bool{"system": true}

// Item is one append submitted in a single or multi-append request.
type Item struct {
	Author    string
	Type      store.AppendType
	ParentRef string
	Priority  string
	Labels    []string
	Content   string
}

// Engine executes append submissions against the storage layer, enforcing
// the task/claim state machine and capability constraints.
type Engine struct {
	store *store.Store
}

func New(s *store.Store) *Engine {
	return &Engine{store: s}
}

// ValidateItem checks an item's static shape against the key's constraints
// and the payload validator, independent of current file state. The caller
// runs this over every item in a batch before executing any of them, so a
// single bad item rejects the whole batch (§4.4).
func ValidateItem(key *store.CapabilityKey, item Item) error {
	if !authorPattern.MatchString(item.Author) {
		return apperr.BadRequest(apperr.CodeInvalidAuthor, "author contains invalid characters or is empty")
	}
	if reservedAuthors[item.Author] {
		return apperr.BadRequest(apperr.CodeInvalidAuthor, "author is reserved")
	}
	switch item.Type {
	case store.AppendTask, store.AppendComment, store.AppendClaim, store.AppendResponse, store.AppendCancel, store.AppendRenew:
	default:
		return apperr.BadRequest(apperr.CodeInvalidRequest, "unknown append type")
	}
	if item.Type == store.AppendTask && item.Content == "" {
		return apperr.Invalid("task content is required")
	}
	if err := validate.AppendContentSize(len(item.Content)); err != nil {
		return err
	}
	if err := capkey.EnforceAllowedTypes(key, item.Type); err != nil {
		return err
	}
	return nil
}

// Submit executes a single validated item against file, returning the
// resulting append.
func (e *Engine) Submit(file *store.File, key *store.CapabilityKey, item Item, defaultClaimDuration time.Duration) (*store.Append, error) {
	claimSecs := defaultClaimDuration
	if file.Settings.ClaimDurationSeconds != nil {
		claimSecs = time.Duration(*file.Settings.ClaimDurationSeconds) * time.Second
	}

	switch item.Type {
	case store.AppendTask, store.AppendComment:
		return e.store.InsertAppend(file.ID, func(appendID string, seq uint64) *store.Append {
			return &store.Append{
				ID:        "ap_" + appendID,
				FileID:    file.ID,
				AppendID:  appendID,
				Author:    item.Author,
				Type:      item.Type,
				Status:    initialStatus(item.Type),
				Priority:  item.Priority,
				Labels:    item.Labels,
				Content:   item.Content,
				CreatedAt: time.Now().UTC(),
			}
		})

	case store.AppendClaim:
		app, err := e.submitClaim(file, key, item, claimSecs)
		outcome := "won"
		if ae, ok := err.(*apperr.Error); ok && ae.Code == apperr.CodeAlreadyClaimed {
			outcome = "already_claimed"
		} else if err != nil {
			outcome = "rejected"
		}
		metrics.ClaimContention.WithLabelValues(outcome).Inc()
		return app, err

	case store.AppendRenew:
		return e.submitRenew(file, item, claimSecs)

	case store.AppendCancel:
		return e.submitCancel(file, item)

	case store.AppendResponse:
		return e.submitResponse(file, item)

	default:
		return nil, apperr.Invalid("unknown append type")
	}
}

func initialStatus(t store.AppendType) string {
	if t == store.AppendTask {
		return "open"
	}
	return ""
}

func (e *Engine) submitClaim(file *store.File, key *store.CapabilityKey, item Item, claimSecs time.Duration) (*store.Append, error) {
	return e.store.AppendTransaction(file.ID, func(tx *bolt.Tx, existing []*store.Append, nextAppendID string, nextSeq uint64) (*store.Append, error) {
		task := FindTask(existing, item.ParentRef)
		if task == nil {
			return nil, apperr.NotFound(apperr.CodeAppendNotFound, "referenced task does not exist")
		}
		now := time.Now().UTC()
		state := Reduce(existing, task.AppendID, now)
		if state.Status == StatusDone {
			return nil, apperr.BadRequest(apperr.CodeTaskAlreadyComplete, "task is already complete")
		}
		if state.Status == StatusClaimed {
			expiresAt := ""
			if state.ActiveClaim.ExpiresAt != nil {
				expiresAt = state.ActiveClaim.ExpiresAt.Format(time.RFC3339Nano)
			}
			retryMs := int64(0)
			if state.ActiveClaim.ExpiresAt != nil {
				if d := state.ActiveClaim.ExpiresAt.Sub(now); d > 0 {
					retryMs = d.Milliseconds()
				}
			}
			return nil, apperr.AlreadyClaimed("task already has an active claim", 409, map[string]any{
				"claimedBy":    state.ActiveClaim.Author,
				"expiresAt":    expiresAt,
				"retryAfterMs": retryMs,
			})
		}

		// Re-check the WIP cap inside the same write transaction that inserts
		// the claim (P4): bbolt allows only one in-flight db.Update across the
		// whole store, so this closes the check-then-act window a separate
		// read transaction (handlers_append.go's pre-check) leaves open between
		// two concurrent claims on different tasks by the same author.
		if err := checkWIPLimitTx(tx, key, item.Author, now); err != nil {
			return nil, err
		}

		expires := now.Add(claimSecs)
		return &store.Append{
			ID:        "ap_" + nextAppendID,
			FileID:    file.ID,
			AppendID:  nextAppendID,
			ParentRef: task.AppendID,
			Author:    item.Author,
			Type:      store.AppendClaim,
			ExpiresAt: &expires,
			CreatedAt: now,
		}, nil
	})
}

func (e *Engine) submitRenew(file *store.File, item Item, claimSecs time.Duration) (*store.Append, error) {
	return e.store.AppendTransaction(file.ID, func(tx *bolt.Tx, existing []*store.Append, nextAppendID string, nextSeq uint64) (*store.Append, error) {
		claimAppend := findAppendByID(existing, item.ParentRef)
		if claimAppend == nil || claimAppend.Type != store.AppendClaim {
			return nil, apperr.NotFound(apperr.CodeAppendNotFound, "referenced claim does not exist")
		}
		task := FindTask(existing, claimAppend.ParentRef)
		if task == nil {
			return nil, apperr.NotFound(apperr.CodeAppendNotFound, "referenced task does not exist")
		}
		now := time.Now().UTC()
		state := Reduce(existing, task.AppendID, now)
		if state.Status != StatusClaimed || state.ActiveClaim == nil || state.ActiveClaim.AppendID != claimAppend.AppendID {
			return nil, apperr.BadRequest(apperr.CodeInvalidRequest, "claim is not active")
		}
		if state.ActiveClaim.Author != item.Author {
			return nil, apperr.NotFound(apperr.CodePermissionDenied, "only the claim holder may renew")
		}

		expires := now.Add(claimSecs)
		return &store.Append{
			ID:        "ap_" + nextAppendID,
			FileID:    file.ID,
			AppendID:  nextAppendID,
			ParentRef: claimAppend.AppendID,
			Author:    item.Author,
			Type:      store.AppendRenew,
			ExpiresAt: &expires,
			CreatedAt: now,
		}, nil
	})
}

func (e *Engine) submitCancel(file *store.File, item Item) (*store.Append, error) {
	return e.store.AppendTransaction(file.ID, func(tx *bolt.Tx, existing []*store.Append, nextAppendID string, nextSeq uint64) (*store.Append, error) {
		claimAppend := findAppendByID(existing, item.ParentRef)
		if claimAppend == nil || claimAppend.Type != store.AppendClaim {
			return nil, apperr.NotFound(apperr.CodeAppendNotFound, "referenced claim does not exist")
		}
		task := FindTask(existing, claimAppend.ParentRef)
		if task == nil {
			return nil, apperr.NotFound(apperr.CodeAppendNotFound, "referenced task does not exist")
		}
		now := time.Now().UTC()
		state := Reduce(existing, task.AppendID, now)
		// Repeated cancellations are accepted as idempotent no-ops (§4.4): if
		// this claim is no longer the active one, there is nothing to cancel.
		if state.ActiveClaim == nil || state.ActiveClaim.AppendID != claimAppend.AppendID {
			return nil, nil
		}
		if state.ActiveClaim.Author != item.Author {
			return nil, apperr.NotFound(apperr.CodePermissionDenied, "only the claim holder may cancel")
		}
		return &store.Append{
			ID:        "ap_" + nextAppendID,
			FileID:    file.ID,
			AppendID:  nextAppendID,
			ParentRef: claimAppend.AppendID,
			Author:    item.Author,
			Type:      store.AppendCancel,
			CreatedAt: now,
		}, nil
	})
}

func (e *Engine) submitResponse(file *store.File, item Item) (*store.Append, error) {
	return e.store.AppendTransaction(file.ID, func(tx *bolt.Tx, existing []*store.Append, nextAppendID string, nextSeq uint64) (*store.Append, error) {
		task := FindTask(existing, item.ParentRef)
		if task == nil {
			return nil, apperr.NotFound(apperr.CodeAppendNotFound, "referenced task does not exist")
		}
		now := time.Now().UTC()
		state := Reduce(existing, task.AppendID, now)
		if state.Status == StatusDone {
			// Repeated identical completions are accepted as idempotent (§4.4).
			return nil, nil
		}
		if state.Status == StatusClaimed && state.ActiveClaim.Author != item.Author {
			return nil, apperr.NotFound(apperr.CodePermissionDenied, "only the claim holder may respond")
		}
		return &store.Append{
			ID:        "ap_" + nextAppendID,
			FileID:    file.ID,
			AppendID:  nextAppendID,
			ParentRef: task.AppendID,
			Author:    item.Author,
			Type:      store.AppendResponse,
			Content:   item.Content,
			CreatedAt: now,
		}, nil
	})
}

func findAppendByID(appends []*store.Append, appendID string) *store.Append {
	for _, a := range appends {
		if a.AppendID == appendID {
			return a
		}
	}
	return nil
}

// CheckWIPLimit enforces §4.4's per-key WIP cap by scanning every file under
// the key's scope for claims currently held by author.
func CheckWIPLimit(s *store.Store, key *store.CapabilityKey, author string) error {
	if key.WIPLimit == nil {
		return nil
	}
	limit := *key.WIPLimit
	files, err := filesInScope(s, key)
	if err != nil {
		return err
	}
	count := 0
	now := time.Now().UTC()
	for _, f := range files {
		appends, err := s.ListAppends(f.ID)
		if err != nil {
			return err
		}
		count += CountActiveClaims(appends, author, now)
	}
	if count >= limit {
		return apperr.WIPLimitExceeded(count, limit)
	}
	return nil
}

func filesInScope(s *store.Store, key *store.CapabilityKey) ([]*store.File, error) {
	prefix := key.ScopePath
	if key.ScopeType == store.ScopeWorkspace {
		prefix = ""
	}
	if key.ScopeType == store.ScopeFile {
		f, err := s.GetFile(key.WorkspaceID, key.ScopePath)
		if err != nil {
			return nil, nil
		}
		return []*store.File{f}, nil
	}
	return s.ListFilesByPrefix(key.WorkspaceID, prefix, false)
}

// checkWIPLimitTx is CheckWIPLimit's logic run against tx, the same write
// transaction a claim insert happens in, so the count it reads already
// reflects every claim committed before this one and nothing committed after
// it can change the outcome (§4.4, P4). key may be nil for Submit callers
// (tests, internal engine use) that bypass capability-key enforcement
// entirely.
func checkWIPLimitTx(tx *bolt.Tx, key *store.CapabilityKey, author string, now time.Time) error {
	if key == nil || key.WIPLimit == nil {
		return nil
	}
	limit := *key.WIPLimit
	files, err := filesInScopeTx(tx, key)
	if err != nil {
		return err
	}
	count := 0
	for _, f := range files {
		appends, err := store.ListAppendsTx(tx, f.ID)
		if err != nil {
			return err
		}
		count += CountActiveClaims(appends, author, now)
	}
	if count >= limit {
		return apperr.WIPLimitExceeded(count, limit)
	}
	return nil
}

func filesInScopeTx(tx *bolt.Tx, key *store.CapabilityKey) ([]*store.File, error) {
	prefix := key.ScopePath
	if key.ScopeType == store.ScopeWorkspace {
		prefix = ""
	}
	if key.ScopeType == store.ScopeFile {
		f, err := store.GetFileTx(tx, key.WorkspaceID, key.ScopePath)
		if err != nil {
			return nil, nil
		}
		return []*store.File{f}, nil
	}
	return store.ListFilesByPrefixTx(tx, key.WorkspaceID, prefix, false)
}
