// ABOUTME: Renders proposals and outcomes into chat bodies and parses them back
// ABOUTME: The markers let a restarted bot rebuild proposal state from room history

package proposal

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	flashcardMarker = "**Flashcard Proposal**"
	taskMarker      = "**Todo Proposal**"

	flashcardCreated = "✅ Flashcard created in Anki (note id: "
	taskCreated      = "✅ Todo created in Todoist (task id: "
	failurePrefix    = "❌ Failed to create: "
)

// Render formats a draft as the proposal message posted to the room.
func Render(d Draft) string {
	p := &Proposal{Kind: d.Kind, Args: d.Args}
	var b strings.Builder

	switch d.Kind {
	case KindFlashcard:
		cardType := p.Arg("card_type")
		if cardType == "" {
			cardType = "basic"
		}
		deck := p.Arg("deck")
		if deck == "" {
			deck = "Default"
		}
		b.WriteString(flashcardMarker + "\n")
		fmt.Fprintf(&b, "Type: %s\n", cardType)
		fmt.Fprintf(&b, "Front: %s\n", oneLine(p.Arg("front")))
		fmt.Fprintf(&b, "Back: %s\n", oneLine(p.Arg("back")))
		fmt.Fprintf(&b, "Deck: %s\n", oneLine(deck))
	case KindTask:
		b.WriteString(taskMarker + "\n")
		fmt.Fprintf(&b, "Task: %s\n", oneLine(p.Arg("content")))
		fmt.Fprintf(&b, "Due: %s\n", oneLine(p.Arg("due_string")))
		fmt.Fprintf(&b, "Priority: %d\n", p.ArgInt("priority", 1))
		fmt.Fprintf(&b, "Project: %s\n", oneLine(p.Arg("project_name")))
	default:
		fmt.Fprintf(&b, "**%s Proposal**\n", d.Kind)
	}

	fmt.Fprintf(&b, "\nReact with %s to create.", ApprovalKey())
	return b.String()
}

var (
	typeField     = regexp.MustCompile(`(?m)^Type:[ \t]*(\S+)`)
	frontField    = regexp.MustCompile(`(?m)^Front:[ \t]*(.*)$`)
	backField     = regexp.MustCompile(`(?m)^Back:[ \t]*(.*)$`)
	deckField     = regexp.MustCompile(`(?m)^Deck:[ \t]*(.*)$`)
	taskField     = regexp.MustCompile(`(?m)^Task:[ \t]*(.*)$`)
	dueField      = regexp.MustCompile(`(?m)^Due:[ \t]*(.*)$`)
	priorityField = regexp.MustCompile(`(?m)^Priority:[ \t]*(\d+)`)
	projectField  = regexp.MustCompile(`(?m)^Project:[ \t]*(.*)$`)

	noteIDPattern = regexp.MustCompile(`\((?:note|task) id: ([^)]+)\)`)
)

// Parse recovers a draft from a proposal body. It reports false when the body
// is not a proposal.
func Parse(body string) (Draft, bool) {
	args := map[string]any{}
	var kind Kind

	switch {
	case strings.Contains(body, flashcardMarker):
		kind = KindFlashcard
		setMatch(args, "card_type", typeField, body)
		setMatch(args, "front", frontField, body)
		setMatch(args, "back", backField, body)
		setMatch(args, "deck", deckField, body)
	case strings.Contains(body, taskMarker):
		kind = KindTask
		setMatch(args, "content", taskField, body)
		setMatch(args, "due_string", dueField, body)
		if m := priorityField.FindStringSubmatch(body); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				args["priority"] = n
			}
		}
		setMatch(args, "project_name", projectField, body)
	default:
		return Draft{}, false
	}

	if len(args) == 0 {
		return Draft{}, false
	}
	d, err := NewDraft(kind, args)
	if err != nil {
		return Draft{}, false
	}
	return d, true
}

func setMatch(args map[string]any, name string, re *regexp.Regexp, body string) {
	if m := re.FindStringSubmatch(body); m != nil {
		if v := strings.TrimSpace(m[1]); v != "" {
			args[name] = v
		}
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Outcome is a terminal result recorded in a bot reply.
type Outcome struct {
	Status   Status
	RemoteID string
	Failure  string
}

// Confirmation formats the success reply for a created object.
func Confirmation(kind Kind, remoteID string) string {
	switch kind {
	case KindFlashcard:
		return flashcardCreated + remoteID + ")"
	case KindTask:
		return taskCreated + remoteID + ")"
	default:
		return fmt.Sprintf("✅ %s created (id: %s)", kind, remoteID)
	}
}

// FailureBody formats the reply for a failed execution.
func FailureBody(reason string) string {
	return failurePrefix + reason
}

// ParseOutcome recovers an outcome from a confirmation or failure body.
func ParseOutcome(body string) (Outcome, bool) {
	switch {
	case strings.HasPrefix(body, flashcardCreated), strings.HasPrefix(body, taskCreated):
		o := Outcome{Status: StatusSucceeded}
		if m := noteIDPattern.FindStringSubmatch(body); m != nil {
			o.RemoteID = m[1]
		}
		return o, true
	case strings.HasPrefix(body, failurePrefix):
		return Outcome{Status: StatusFailed, Failure: strings.TrimPrefix(body, failurePrefix)}, true
	}
	return Outcome{}, false
}
