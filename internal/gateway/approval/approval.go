// Package approval implements the human-in-the-loop approval queue: a
// pending request is created for any non-AUTO operation, optionally
// decided on by a user, and polled by the caller until a terminal state
// is reached or the wait times out.
package approval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sandboxgate/system-gateway/internal/gateway/sensitivity"
)

// Status is the lifecycle state of an approval request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

func (s Status) Terminal() bool {
	return s != StatusPending
}

// Request is a pending (or decided) approval request.
type Request struct {
	ID          string                 `json:"id"`
	UserID      string                 `json:"user_id"`
	Operation   string                 `json:"operation"`
	Details     map[string]interface{} `json:"details"`
	Sensitivity sensitivity.Level      `json:"sensitivity"`
	Status      Status                 `json:"status"`
	CreatedAt   time.Time              `json:"created_at"`
	ExpiresAt   time.Time              `json:"expires_at"`
	DecidedAt   *time.Time             `json:"decided_at,omitempty"`
	DecidedBy   string                 `json:"decided_by,omitempty"`
	RejectReason string                `json:"reject_reason,omitempty"`

	// CommandHash and Consumed are a replay-protection supplement beyond
	// the original service: an approval can only execute the exact
	// command/target it was granted for, and only once.
	CommandHash string `json:"command_hash,omitempty"`
	Consumed    bool   `json:"consumed,omitempty"`
}

// Store manages approval requests in memory, with an optional debounced
// JSON snapshot to disk for restart resilience.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*Request
	byUser  map[string]map[string]struct{} // user_id -> set of approval IDs
	dataDir string

	defaultTTL    time.Duration
	residualTTL   time.Duration
	maxPending    int
	persist       bool
	saveTimer     *time.Timer
	savePending   bool
}

// Config configures a Store.
type Config struct {
	DataDir            string
	DefaultTTL         time.Duration // default 120s, per the original hitl_timeout
	ResidualTTL        time.Duration // how long a decided request stays queryable, default 60s
	MaxPending         int           // default 100
	DisablePersistence bool
}

// NewStore creates an approval Store, loading any previously persisted
// snapshot from cfg.DataDir.
func NewStore(cfg Config) (*Store, error) {
	if cfg.DataDir == "" && !cfg.DisablePersistence {
		return nil, fmt.Errorf("approval: data directory is required unless persistence is disabled")
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = 120 * time.Second
	}
	if cfg.ResidualTTL == 0 {
		cfg.ResidualTTL = 60 * time.Second
	}
	if cfg.MaxPending == 0 {
		cfg.MaxPending = 100
	}

	s := &Store{
		byID:        make(map[string]*Request),
		byUser:      make(map[string]map[string]struct{}),
		dataDir:     cfg.DataDir,
		defaultTTL:  cfg.DefaultTTL,
		residualTTL: cfg.ResidualTTL,
		maxPending:  cfg.MaxPending,
		persist:     !cfg.DisablePersistence,
	}

	if s.persist {
		if err := s.load(); err != nil {
			log.Warn().Err(err).Msg("failed to load approval data, starting fresh")
		}
	}

	return s, nil
}

// QueueApproval creates a new pending approval request for userID.
func (s *Store) QueueApproval(userID, operation string, details map[string]interface{}, level sensitivity.Level, ttl time.Duration) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := 0
	for _, r := range s.byID {
		if r.Status == StatusPending {
			pending++
		}
	}
	if pending >= s.maxPending {
		return nil, fmt.Errorf("approval: maximum pending approvals (%d) reached", s.maxPending)
	}

	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if details == nil {
		details = map[string]interface{}{}
	}

	now := time.Now()
	req := &Request{
		ID:          uuid.New().String(),
		UserID:      userID,
		Operation:   operation,
		Details:     details,
		Sensitivity: level,
		Status:      StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}

	s.byID[req.ID] = req
	s.indexForUser(userID, req.ID)
	s.saveAsync()

	log.Info().
		Str("id", req.ID).
		Str("user_id", userID).
		Str("operation", truncate(operation, 80)).
		Str("sensitivity", string(level)).
		Msg("queued approval request")

	return req, nil
}

func (s *Store) indexForUser(userID, id string) {
	set, ok := s.byUser[userID]
	if !ok {
		set = make(map[string]struct{})
		s.byUser[userID] = set
	}
	set[id] = struct{}{}
}

// GetStatus returns the approval request by ID, lazily marking it expired
// (without mutating the stored copy) if its TTL has passed.
func (s *Store) GetStatus(id string) (*Request, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.byID[id]
	if !ok {
		return nil, false
	}

	if req.Status == StatusPending && time.Now().After(req.ExpiresAt) {
		copy := *req
		copy.Status = StatusExpired
		return &copy, true
	}

	return req, true
}

// GetPendingForUser returns every still-pending request queued by userID.
func (s *Store) GetPendingForUser(userID string) []*Request {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byUser[userID]
	var out []*Request
	now := time.Now()
	for id := range ids {
		req, ok := s.byID[id]
		if ok && req.Status == StatusPending && now.Before(req.ExpiresAt) {
			out = append(out, req)
		}
	}
	return out
}

// Approve transitions a pending request to approved. Sets a short
// residual TTL so the decision remains queryable briefly afterward.
func (s *Store) Approve(id, approvedBy string) (*Request, error) {
	return s.decide(id, StatusApproved, approvedBy, "")
}

// Reject transitions a pending request to rejected.
func (s *Store) Reject(id, rejectedBy, reason string) (*Request, error) {
	return s.decide(id, StatusRejected, rejectedBy, reason)
}

func (s *Store) decide(id string, status Status, by, reason string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("approval: request not found: %s", id)
	}
	if req.Status != StatusPending {
		return nil, fmt.Errorf("approval: request %s is not pending (status: %s)", id, req.Status)
	}
	if time.Now().After(req.ExpiresAt) {
		req.Status = StatusExpired
		s.saveAsync()
		return nil, fmt.Errorf("approval: request %s has expired", id)
	}

	now := time.Now()
	req.Status = status
	req.DecidedAt = &now
	req.DecidedBy = by
	if status == StatusRejected {
		req.RejectReason = reason
	}
	req.ExpiresAt = now.Add(s.residualTTL)

	s.saveAsync()

	log.Info().
		Str("id", id).
		Str("status", string(status)).
		Str("by", by).
		Msg("approval request decided")

	return req, nil
}

// ComputeCommandHash hashes operation+target for single-use replay
// protection on consumption.
func ComputeCommandHash(operation, target string) string {
	h := sha256.New()
	h.Write([]byte(operation))
	h.Write([]byte("|"))
	h.Write([]byte(target))
	return hex.EncodeToString(h.Sum(nil))
}

// ConsumeApproval verifies an approved request matches operation/target
// and marks it consumed, refusing a second use of the same approval.
func (s *Store) ConsumeApproval(id, operation, target string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("approval: request not found: %s", id)
	}
	if req.Status != StatusApproved {
		return nil, fmt.Errorf("approval: request %s is not approved (status: %s)", id, req.Status)
	}
	if req.Consumed {
		return nil, fmt.Errorf("approval: request %s has already been consumed", id)
	}
	if time.Now().After(req.ExpiresAt) {
		req.Status = StatusExpired
		s.saveAsync()
		return nil, fmt.Errorf("approval: request %s has expired", id)
	}

	expected := ComputeCommandHash(operation, target)
	if req.CommandHash == "" {
		req.CommandHash = expected
	} else if req.CommandHash != expected {
		log.Warn().Str("id", id).Msg("approval command hash mismatch - possible replay")
		return nil, fmt.Errorf("approval: request %s does not match the operation being executed", id)
	}

	req.Consumed = true
	s.saveAsync()
	return req, nil
}

// WaitForDecision polls the store until the request reaches a terminal
// state, ctx is cancelled, or maxWait elapses (if positive). It returns
// the last observed state; a nil result means the request was never
// found (already pruned or unknown ID).
func (s *Store) WaitForDecision(ctx context.Context, id string, pollInterval, maxWait time.Duration) (*Request, error) {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}

	var deadline <-chan time.Time
	if maxWait > 0 {
		timer := time.NewTimer(maxWait)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		req, ok := s.GetStatus(id)
		if !ok {
			return nil, nil
		}
		if req.Status.Terminal() {
			return req, nil
		}

		select {
		case <-ctx.Done():
			return req, ctx.Err()
		case <-deadline:
			return req, nil
		case <-ticker.C:
		}
	}
}

// CleanupExpired expires timed-out pending requests (giving them the
// residual TTL) and prunes resolved ones once their residual TTL has passed.
func (s *Store) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cleaned := 0

	for _, req := range s.byID {
		if req.Status == StatusPending && now.After(req.ExpiresAt) {
			req.Status = StatusExpired
			req.ExpiresAt = now.Add(s.residualTTL)
			cleaned++
		}
	}

	for id, req := range s.byID {
		if req.Status != StatusPending && now.After(req.ExpiresAt) {
			delete(s.byID, id)
			if set, ok := s.byUser[req.UserID]; ok {
				delete(set, id)
				if len(set) == 0 {
					delete(s.byUser, req.UserID)
				}
			}
			cleaned++
		}
	}

	if cleaned > 0 {
		s.saveAsync()
	}
	return cleaned
}

// StartCleanup runs CleanupExpired on a 1-minute tick until ctx is done.
func (s *Store) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.CleanupExpired(); n > 0 {
					log.Debug().Int("count", n).Msg("cleaned up expired approval items")
				}
			}
		}
	}()
}

// Persistence. Mirrors the store's general shape: a debounced snapshot
// write, never blocking the caller.

func (s *Store) snapshotFile() string {
	return filepath.Join(s.dataDir, "approvals.json")
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.snapshotFile())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var requests []*Request
	if err := json.Unmarshal(data, &requests); err != nil {
		return err
	}
	for _, r := range requests {
		s.byID[r.ID] = r
		s.indexForUser(r.UserID, r.ID)
	}
	return nil
}

func (s *Store) save() {
	if !s.persist {
		return
	}
	s.mu.RLock()
	requests := make([]*Request, 0, len(s.byID))
	for _, r := range s.byID {
		requests = append(requests, r)
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(requests, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal approvals snapshot")
		return
	}
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		log.Error().Err(err).Msg("failed to create approval data directory")
		return
	}
	if err := os.WriteFile(s.snapshotFile(), data, 0o600); err != nil {
		log.Error().Err(err).Msg("failed to save approvals snapshot")
	}
}

func (s *Store) saveAsync() {
	if !s.persist || s.savePending {
		return
	}
	s.savePending = true
	s.saveTimer = time.AfterFunc(5*time.Second, func() {
		s.mu.Lock()
		s.savePending = false
		s.mu.Unlock()
		s.save()
	})
}

// Flush writes the current state immediately, cancelling any pending
// debounced save. Intended for shutdown paths.
func (s *Store) Flush() {
	s.mu.Lock()
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	s.savePending = false
	s.mu.Unlock()
	s.save()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
