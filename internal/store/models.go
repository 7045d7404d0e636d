package store

import "time"

// Workspace is the root tenancy unit. It transitions to claimed at most once.
type Workspace struct {
	ID             string       `json:"workspaceId"`
	CreatedAt      time.Time    `json:"createdAt"`
	ClaimedAt      *time.Time   `json:"claimedAt,omitempty"`
	ClaimedByEmail string       `json:"claimedByEmail,omitempty"`
	Settings       FileSettings `json:"settings"`
}

// Permission is the capability key's permission level.
type Permission string

const (
	PermissionRead   Permission = "read"
	PermissionAppend Permission = "append"
	PermissionWrite  Permission = "write"
)

// Implies reports whether p grants at least the privilege of other, per the
// write ⊃ append ⊃ read hierarchy (§3).
func (p Permission) Implies(other Permission) bool {
	rank := map[Permission]int{PermissionRead: 0, PermissionAppend: 1, PermissionWrite: 2}
	pr, ok1 := rank[p]
	or, ok2 := rank[other]
	return ok1 && ok2 && pr >= or
}

// ScopeType restricts a key to a subset of the workspace's path space.
type ScopeType string

const (
	ScopeWorkspace ScopeType = "workspace"
	ScopeFolder    ScopeType = "folder"
	ScopeFile      ScopeType = "file"
)

// CapabilityKey is the sole bearer authority for a request. The plaintext is
// never persisted, only keyHash.
type CapabilityKey struct {
	ID            string     `json:"id"`
	WorkspaceID   string     `json:"workspaceId"`
	Prefix        string     `json:"prefix"`
	KeyHash       string     `json:"keyHash"`
	Permission    Permission `json:"permission"`
	ScopeType     ScopeType  `json:"scopeType"`
	ScopePath     string     `json:"scopePath"`
	BoundAuthor   string     `json:"boundAuthor,omitempty"`
	WIPLimit      *int       `json:"wipLimit,omitempty"`
	AllowedTypes  []string   `json:"allowedTypes,omitempty"`
	DisplayName   string     `json:"displayName,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	RevokedAt     *time.Time `json:"revokedAt,omitempty"`
}

// Usable reports whether the key is neither revoked nor expired at t.
func (k *CapabilityKey) Usable(t time.Time) bool {
	if k.RevokedAt != nil {
		return false
	}
	if k.ExpiresAt != nil && !k.ExpiresAt.After(t) {
		return false
	}
	return true
}

// FileSettings holds per-file overrides of workspace defaults.
type FileSettings struct {
	WIPLimit             *int     `json:"wipLimit,omitempty"`
	ClaimDurationSeconds *int     `json:"claimDurationSeconds,omitempty"`
	AllowedAppendTypes   []string `json:"allowedAppendTypes,omitempty"`
	Labels               []string `json:"labels,omitempty"`
}

// File is a single document row addressed by a normalized absolute path.
type File struct {
	ID              string       `json:"id"`
	WorkspaceID     string       `json:"workspaceId"`
	Path            string       `json:"path"`
	Filename        string       `json:"filename"`
	Folder          string       `json:"folder"`
	Content         string       `json:"content"`
	ETag            string       `json:"etag"`
	Size            int          `json:"size"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
	DeletedAt       *time.Time   `json:"deletedAt,omitempty"`
	DeleteExpiresAt *time.Time   `json:"deleteExpiresAt,omitempty"`
	Settings        FileSettings `json:"settings"`
	IsFolderMarker  bool         `json:"isFolderMarker,omitempty"`
}

// AppendType is the tagged-sum discriminant for an Append (§9).
type AppendType string

const (
	AppendTask     AppendType = "task"
	AppendClaim    AppendType = "claim"
	AppendResponse AppendType = "response"
	AppendCancel   AppendType = "cancel"
	AppendRenew    AppendType = "renew"
	AppendComment  AppendType = "comment"
)

// Append is an immutable log entry attached to a file.
type Append struct {
	ID        string     `json:"id"`
	FileID    string     `json:"fileId"`
	AppendID  string     `json:"appendId"`
	Seq       uint64     `json:"-"`
	ParentRef string     `json:"ref,omitempty"`
	Author    string     `json:"author"`
	Type      AppendType `json:"type"`
	Status    string     `json:"status,omitempty"`
	Priority  string     `json:"priority,omitempty"`
	Labels    []string   `json:"labels,omitempty"`
	Content   string     `json:"content,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// WebhookStatus enumerates whether a webhook receives deliveries.
type WebhookStatus string

const (
	WebhookActive   WebhookStatus = "active"
	WebhookDisabled WebhookStatus = "disabled"
)

// Webhook is a workspace's registered delivery target.
type Webhook struct {
	ID          string        `json:"id"`
	WorkspaceID string        `json:"workspaceId"`
	Scope       ScopeType     `json:"scope"`
	ScopePath   string        `json:"scopePath,omitempty"`
	URL         string        `json:"url"`
	Events      []string      `json:"events"`
	Filters     map[string]string `json:"filters,omitempty"`
	Recursive   bool          `json:"recursive,omitempty"`
	IncludeURLs bool          `json:"includeUrls,omitempty"`
	Secret      string        `json:"secret"`
	Status      WebhookStatus `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// WebhookDelivery records one attempt of the at-least-once delivery pipeline,
// kept for internal audit (SPEC_FULL.md Supplemented Features).
type WebhookDelivery struct {
	ID          string    `json:"id"`
	WebhookID   string    `json:"webhookId"`
	Event       string    `json:"event"`
	Payload     string    `json:"payload"`
	Attempts    int       `json:"attempts"`
	Status      string    `json:"status"` // pending, delivered, failed
	LastError   string    `json:"lastError,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// IdempotencyRecord is a write-once snapshot of a mutating response.
type IdempotencyRecord struct {
	Key              string    `json:"key"`
	WorkspaceID      string    `json:"workspaceId"`
	Route            string    `json:"route"`
	RequestDigest    string    `json:"requestDigest"`
	ResponseStatus   int       `json:"responseStatus"`
	ResponseSnapshot string    `json:"responseSnapshot"`
	CreatedAt        time.Time `json:"createdAt"`
}
