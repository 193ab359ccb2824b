package notice

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrInvalid is returned for notices with malformed references
	ErrInvalid = errors.New("invalid notice")
	// ErrNoDependants is returned for notices nobody depends on
	ErrNoDependants = errors.New("notice has no dependants")
	// ErrUnknownKind is returned for unknown discriminators
	ErrUnknownKind = errors.New("unknown notice kind")
	// ErrShortData is returned for truncated wire data
	ErrShortData = errors.New("data too short")
)

// Kind enumerates the notice variants
type Kind uint8

const (
	KindMessagePosted Kind = iota + 1
	KindMessageSeen
	KindAliasAdded
	KindBoutRenamed
	KindKickOff
	KindJoin
)

// Kinds lists every variant.
var Kinds = []Kind{KindMessagePosted, KindMessageSeen, KindAliasAdded, KindBoutRenamed, KindKickOff, KindJoin}

// String returns the wire discriminator.
func (k Kind) String() string {
	switch k {
	case KindMessagePosted:
		return "message posted"
	case KindMessageSeen:
		return "message seen"
	case KindAliasAdded:
		return "alias added"
	case KindBoutRenamed:
		return "bout renamed"
	case KindKickOff:
		return "kicked off"
	case KindJoin:
		return "participation confirmed"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind maps a discriminator back to its Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Notice is a change event.
type Notice interface {
	Kind() Kind
	// Name is the canonical name used for deduplication. Two notices with
	// the same name cause the same index change.
	Name() string
	// Dependants returns the sorted URNs whose view the notice changes.
	Dependants() []string
	// Validate checks references and dependants.
	Validate() error
}

// --------------------------------------------------------------------------
// Variants
// --------------------------------------------------------------------------

// MessagePosted announces a new message in a bout.
type MessagePosted struct {
	Message Message
	Bout    Bout
}

func (n *MessagePosted) Kind() Kind { return KindMessagePosted }

func (n *MessagePosted) Name() string {
	return fmt.Sprintf("%s message:%d", n.Kind(), n.Message.Number)
}

func (n *MessagePosted) Dependants() []string { return n.Bout.Identities() }

func (n *MessagePosted) Validate() error {
	if err := n.Message.validate(); err != nil {
		return err
	}
	if err := n.Bout.validate(); err != nil {
		return err
	}
	return requireDependants(n)
}

// MessageSeen announces that an identity has read a message.
type MessageSeen struct {
	Message  Message
	Identity Identity
}

func (n *MessageSeen) Kind() Kind { return KindMessageSeen }

func (n *MessageSeen) Name() string {
	return fmt.Sprintf("%s message:%d w/%s", n.Kind(), n.Message.Number, n.Identity)
}

func (n *MessageSeen) Dependants() []string { return single(n.Identity) }

func (n *MessageSeen) Validate() error {
	if err := n.Message.validate(); err != nil {
		return err
	}
	return requireIdentity(n, n.Identity)
}

// AliasAdded announces a new alias of an identity.
type AliasAdded struct {
	Identity Identity
	Alias    string
}

func (n *AliasAdded) Kind() Kind { return KindAliasAdded }

func (n *AliasAdded) Name() string {
	return fmt.Sprintf("%s w/%s %s", n.Kind(), n.Identity, n.Alias)
}

func (n *AliasAdded) Dependants() []string { return single(n.Identity) }

func (n *AliasAdded) Validate() error {
	if n.Alias == "" {
		return fmt.Errorf("%w: empty alias of %s", ErrInvalid, n.Identity)
	}
	return requireIdentity(n, n.Identity)
}

// BoutRenamed announces a new title of a bout.
type BoutRenamed struct {
	Bout Bout
}

func (n *BoutRenamed) Kind() Kind { return KindBoutRenamed }

func (n *BoutRenamed) Name() string {
	return fmt.Sprintf("%s bout:%d %q", n.Kind(), n.Bout.Number, n.Bout.Title)
}

func (n *BoutRenamed) Dependants() []string { return n.Bout.Identities() }

func (n *BoutRenamed) Validate() error {
	if err := n.Bout.validate(); err != nil {
		return err
	}
	return requireDependants(n)
}

// KickOff announces that an identity left a bout. Bout lists the remaining
// participants.
type KickOff struct {
	Bout     Bout
	Identity Identity
}

func (n *KickOff) Kind() Kind { return KindKickOff }

func (n *KickOff) Name() string {
	return fmt.Sprintf("%s bout:%d w/%s", n.Kind(), n.Bout.Number, n.Identity)
}

// Dependants includes the identity that left.
func (n *KickOff) Dependants() []string {
	deps := append(n.Bout.Identities(), single(n.Identity)...)
	slices.Sort(deps)
	return slices.Compact(deps)
}

func (n *KickOff) Validate() error {
	if err := n.Bout.validate(); err != nil {
		return err
	}
	return requireIdentity(n, n.Identity)
}

// Join announces that an identity confirmed its participation. Bout lists
// the participants including the new one.
type Join struct {
	Bout     Bout
	Identity Identity
}

func (n *Join) Kind() Kind { return KindJoin }

func (n *Join) Name() string {
	return fmt.Sprintf("%s bout:%d w/%s", n.Kind(), n.Bout.Number, n.Identity)
}

func (n *Join) Dependants() []string { return n.Bout.Identities() }

func (n *Join) Validate() error {
	if err := n.Bout.validate(); err != nil {
		return err
	}
	if !n.Identity.Valid() {
		return fmt.Errorf("%w: identity %q", ErrInvalid, n.Identity)
	}
	return requireDependants(n)
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func single(i Identity) []string {
	if i == "" {
		return nil
	}
	return []string{string(i)}
}

func requireIdentity(n Notice, i Identity) error {
	if i != "" && !i.Valid() {
		return fmt.Errorf("%w: identity %q", ErrInvalid, i)
	}
	return requireDependants(n)
}

func requireDependants(n Notice) error {
	if len(n.Dependants()) == 0 {
		return fmt.Errorf("%w: %s", ErrNoDependants, n.Name())
	}
	return nil
}
