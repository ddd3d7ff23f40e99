// SPDX-License-Identifier: MIT

package moderate

import "fmt"

// Verdict is the gate's final answer for one item.
type Verdict struct {
	Approved bool
	// Policy names the deciding stage: rules, learned, script or cache.
	Policy string
	// Reason is human-readable for rejections ("explicit 0.412 > safe
	// 0.300") and empty or informational for approvals.
	Reason string
}

// Policy labels attached to verdicts for logs, metrics and spans.
const (
	PolicyRules   = "rules"
	PolicyLearned = "learned"
	PolicyScript  = "script"
	PolicyCache   = "cache"
)

// Error kinds persisted on the queue item when a verdict rejects.
const (
	KindNSFWDetected      = "nsfw_detected"
	KindModerationError   = "moderation_error"
	KindModerationTimeout = "moderation_timeout"
)

// ErrorKind renders the stored error message for a rejection. Operational
// failures keep their bare kind; content rejections carry the reason.
func (v Verdict) ErrorKind() string {
	if v.Approved {
		return ""
	}
	switch v.Reason {
	case KindModerationError, KindModerationTimeout:
		return v.Reason
	case "":
		return KindNSFWDetected
	}
	return fmt.Sprintf("%s: %s", KindNSFWDetected, v.Reason)
}
