// ABOUTME: Proposal lifecycle for flashcard and task creation
// ABOUTME: Enforces Pending -> Approved -> Executing -> Succeeded/Failed transitions

package proposal

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Kind identifies the remote object a proposal creates.
type Kind string

const (
	KindFlashcard Kind = "flashcard"
	KindTask      Kind = "task"
)

// Status is the lifecycle position of a proposal.
type Status int

const (
	StatusPending Status = iota
	StatusApproved
	StatusExecuting
	StatusSucceeded
	StatusFailed
	StatusVoid
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusApproved:
		return "approved"
	case StatusExecuting:
		return "executing"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusVoid:
		return "void"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusVoid
}

var (
	// ErrNotPending is returned when approving or voiding a proposal that has
	// already left the Pending state.
	ErrNotPending = errors.New("proposal is not pending")

	// ErrInvalidTransition is returned for any other out-of-order transition.
	ErrInvalidTransition = errors.New("invalid proposal transition")
)

// requestNamespace scopes request keys to this application.
var requestNamespace = uuid.MustParse("6f1c2a9e-3b7d-5c4e-9a8f-2d1e0b7c6a53")

// Draft is a proposal suggested by the language model before it has been
// posted to the room.
type Draft struct {
	Kind Kind
	Args *structpb.Struct
}

// NewDraft builds a draft from loosely typed arguments.
func NewDraft(kind Kind, args map[string]any) (Draft, error) {
	s, err := structpb.NewStruct(args)
	if err != nil {
		return Draft{}, fmt.Errorf("encoding %s arguments: %w", kind, err)
	}
	return Draft{Kind: kind, Args: s}, nil
}

// Equal reports whether two drafts describe the same action.
func (d Draft) Equal(other Draft) bool {
	return d.Kind == other.Kind && proto.Equal(d.Args, other.Args)
}

// Arg returns a string argument of the draft.
func (d Draft) Arg(name string) string {
	return stringValue(d.Args, name)
}

// With returns a copy of the draft with a string argument set.
func (d Draft) With(name, value string) Draft {
	args, _ := proto.Clone(d.Args).(*structpb.Struct)
	if args == nil {
		args = &structpb.Struct{}
	}
	if args.Fields == nil {
		args.Fields = map[string]*structpb.Value{}
	}
	args.Fields[name] = structpb.NewStringValue(value)
	return Draft{Kind: d.Kind, Args: args}
}

// Proposal is a suggested action attached to the bot message that presented
// it.
type Proposal struct {
	NodeID string
	Origin string
	Kind   Kind
	Args   *structpb.Struct
	Status Status

	ApprovedBy    string
	ApprovalEvent string
	RemoteID      string
	Failure       string
}

// New creates a Pending proposal carried by nodeID and prompted by origin.
func New(nodeID, origin string, d Draft) *Proposal {
	args := d.Args
	if args == nil {
		args = &structpb.Struct{Fields: map[string]*structpb.Value{}}
	}
	return &Proposal{
		NodeID: nodeID,
		Origin: origin,
		Kind:   d.Kind,
		Args:   args,
		Status: StatusPending,
	}
}

// Draft returns the kind and arguments of the proposal.
func (p *Proposal) Draft() Draft {
	return Draft{Kind: p.Kind, Args: p.Args}
}

// Approve moves a Pending proposal to Approved.
func (p *Proposal) Approve(sender, reactionID string) error {
	if p.Status != StatusPending {
		return fmt.Errorf("approve %s (%s): %w", p.NodeID, p.Status, ErrNotPending)
	}
	p.Status = StatusApproved
	p.ApprovedBy = sender
	p.ApprovalEvent = reactionID
	return nil
}

// Begin marks an Approved proposal as Executing.
func (p *Proposal) Begin() error {
	if p.Status != StatusApproved {
		return fmt.Errorf("begin %s (%s): %w", p.NodeID, p.Status, ErrInvalidTransition)
	}
	p.Status = StatusExecuting
	return nil
}

// Succeed records the id of the created remote object.
func (p *Proposal) Succeed(remoteID string) error {
	if p.Status != StatusExecuting {
		return fmt.Errorf("succeed %s (%s): %w", p.NodeID, p.Status, ErrInvalidTransition)
	}
	p.Status = StatusSucceeded
	p.RemoteID = remoteID
	return nil
}

// Fail records why execution failed.
func (p *Proposal) Fail(reason string) error {
	if p.Status != StatusExecuting {
		return fmt.Errorf("fail %s (%s): %w", p.NodeID, p.Status, ErrInvalidTransition)
	}
	p.Status = StatusFailed
	p.Failure = reason
	return nil
}

// Void abandons a Pending proposal.
func (p *Proposal) Void() error {
	if p.Status != StatusPending {
		return fmt.Errorf("void %s (%s): %w", p.NodeID, p.Status, ErrNotPending)
	}
	p.Status = StatusVoid
	return nil
}

// Restore sets the outcome recorded in room history. It is only used while
// replaying history and never moves a terminal proposal.
func (p *Proposal) Restore(o Outcome) {
	if p.Status.Terminal() {
		return
	}
	p.Status = o.Status
	p.RemoteID = o.RemoteID
	p.Failure = o.Failure
}

// RequestKey is a stable idempotency key for the remote create call.
func (p *Proposal) RequestKey() string {
	return uuid.NewSHA1(requestNamespace, []byte(p.NodeID)).String()
}

// Arg returns a string argument, formatting numbers without a fraction.
func (p *Proposal) Arg(name string) string {
	return stringValue(p.Args, name)
}

// ArgInt returns an integer argument or def when absent or not numeric.
func (p *Proposal) ArgInt(name string, def int) int {
	v, ok := p.Args.GetFields()[name]
	if !ok {
		return def
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return int(math.Round(k.NumberValue))
	case *structpb.Value_StringValue:
		if n, err := strconv.Atoi(k.StringValue); err == nil {
			return n
		}
	}
	return def
}

// ArgStrings returns a list argument. A single string is returned as a one
// element list.
func (p *Proposal) ArgStrings(name string) []string {
	v, ok := p.Args.GetFields()[name]
	if !ok {
		return nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_ListValue:
		out := make([]string, 0, len(k.ListValue.GetValues()))
		for _, item := range k.ListValue.GetValues() {
			if s := item.GetStringValue(); s != "" {
				out = append(out, s)
			}
		}
		return out
	case *structpb.Value_StringValue:
		if k.StringValue != "" {
			return []string{k.StringValue}
		}
	}
	return nil
}

func stringValue(s *structpb.Struct, name string) string {
	v, ok := s.GetFields()[name]
	if !ok {
		return ""
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return k.StringValue
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(k.NumberValue, 'f', -1, 64)
	case *structpb.Value_BoolValue:
		return strconv.FormatBool(k.BoolValue)
	}
	return ""
}
