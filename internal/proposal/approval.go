// ABOUTME: Approval reaction matching against a fixed equivalence class
// ABOUTME: Thumbs-up in any skin tone or presentation, plus common textual aliases

package proposal

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

const thumbsUp = "\U0001F44D"

// approvalKeys is the complete set of reaction keys that count as approval.
var approvalKeys = func() map[string]struct{} {
	keys := map[string]struct{}{
		":+1:":       {},
		"+1":         {},
		":thumbsup:": {},
	}
	for _, base := range []string{thumbsUp, thumbsUp + "\uFE0F"} {
		keys[base] = struct{}{}
		for tone := rune(0x1F3FB); tone <= 0x1F3FF; tone++ {
			keys[base+string(tone)] = struct{}{}
		}
	}
	return keys
}()

// IsApproval reports whether a reaction key approves a proposal.
func IsApproval(key string) bool {
	key = norm.NFC.String(strings.TrimSpace(key))
	if key == "" {
		return false
	}
	_, ok := approvalKeys[strings.ToLower(key)]
	return ok
}

// ApprovalKey is the key the bot suggests in proposal bodies.
func ApprovalKey() string { return thumbsUp }
