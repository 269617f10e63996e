// Package interceptor lets a user approve or reject a pending gateway
// operation with a short natural-language reply instead of a structured
// API call.
package interceptor

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sandboxgate/system-gateway/internal/gateway/approval"
)

var approvePatterns = compileAnchored([]string{
	`yes`, `y`, `approve`, `approved`, `ok`, `okay`,
	`go ahead`, `do it`, `proceed`, `confirm`, `confirmed`,
	`allow`, `allowed`, `accept`, `accepted`,
	`yes,?\s*please`, `yes,?\s*go ahead`,
})

var rejectPatterns = compileAnchored([]string{
	`no`, `n`, `reject`, `rejected`, `deny`, `denied`,
	`cancel`, `cancelled`, `stop`, `abort`, `don'?t`,
	`no,?\s*thanks`, `no,?\s*don'?t`, `nevermind`, `never\s*mind`,
})

func compileAnchored(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile("(?i)^" + p + "$")
	}
	return out
}

func matchesAny(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// Decision is the outcome of intercepting a user message as an
// approval/rejection response.
type Decision struct {
	Approved bool
	Response string
}

// Interceptor resolves the oldest pending approval for a user when their
// free-text message reads as an affirmative or negative reply.
type Interceptor struct {
	store *approval.Store
}

// New builds an Interceptor backed by store.
func New(store *approval.Store) *Interceptor {
	return &Interceptor{store: store}
}

// CheckForApprovalResponse inspects message for an approval/rejection
// intent. It returns (nil, nil) if the message doesn't look like a
// decision, or if the user has nothing pending.
func (ic *Interceptor) CheckForApprovalResponse(userID, message string) (*Decision, error) {
	pending := ic.store.GetPendingForUser(userID)
	if len(pending) == 0 {
		return nil, nil
	}

	text := strings.TrimSpace(strings.ToLower(message))

	isApprove := matchesAny(approvePatterns, text)
	isReject := matchesAny(rejectPatterns, text)
	if !isApprove && !isReject {
		return nil, nil
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	oldest := pending[0]

	if isApprove {
		if _, err := ic.store.Approve(oldest.ID, userID); err != nil {
			return &Decision{Approved: false, Response: "Failed to process approval. The request may have expired."}, nil
		}
		return &Decision{
			Approved: true,
			Response: fmt.Sprintf("Approved: %s\n\nExecuting operation...", oldest.Operation),
		}, nil
	}

	if _, err := ic.store.Reject(oldest.ID, userID, "user rejected via chat"); err != nil {
		return &Decision{Approved: false, Response: "Failed to process rejection. The request may have expired."}, nil
	}
	return &Decision{
		Approved: false,
		Response: fmt.Sprintf("Rejected: %s\n\nOperation cancelled.", oldest.Operation),
	}, nil
}

// FormatPendingPrompt renders the user's pending approvals as a short
// block of system context, or "" if there are none.
func (ic *Interceptor) FormatPendingPrompt(userID string) string {
	pending := ic.store.GetPendingForUser(userID)
	if len(pending) == 0 {
		return ""
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	var b strings.Builder
	b.WriteString("PENDING APPROVAL REQUIRED:")
	for _, req := range pending {
		fmt.Fprintf(&b, "\n\n- %s", req.Operation)
		if desc, ok := req.Details["description"]; ok {
			fmt.Fprintf(&b, "\n  Details: %v", desc)
		}
		fmt.Fprintf(&b, "\n  Sensitivity: %s", req.Sensitivity)
		fmt.Fprintf(&b, "\n  Expires: %s", req.ExpiresAt.Format("15:04:05"))
	}
	b.WriteString("\n\nRespond with 'yes' to approve or 'no' to reject.")
	return b.String()
}
