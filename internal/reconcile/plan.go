package reconcile

import (
	"fmt"
	"strings"

	"google.golang.org/api/calendar/v3"

	"github.com/beekhof/icalsync/internal/event"
)

// Kind identifies what an Action does.
type Kind int

const (
	KindCreate Kind = iota
	KindUpdate
	KindDelete
	KindRecurringCreate
	KindRecurringUpdate
	KindReapplyDecline
	KindOverride
)

var kindNames = map[Kind]string{
	KindCreate:          "create",
	KindUpdate:          "update",
	KindDelete:          "delete",
	KindRecurringCreate: "recurring-create",
	KindRecurringUpdate: "recurring-update",
	KindReapplyDecline:  "reapply-decline",
	KindOverride:        "override",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Action is one step of a sync plan. Which fields are set depends on Kind.
type Action struct {
	Kind       Kind
	ExternalID string
	// ExistingID is the destination event or instance the action targets.
	ExistingID string
	Title      string

	Event *event.Canonical
	Body  *calendar.Event

	// Overrides are exception components applied to a master's instances.
	Overrides []*event.Canonical
	// OriginalStart identifies the occurrence for instance-level actions.
	OriginalStart event.TimeSpec
}

// Plan is the ordered list of actions produced by one reconciliation. It is
// plain data; applying it is a separate step. KindReapplyDecline actions are
// never part of a returned plan: they depend on the occurrences a series
// update regenerates, so Apply derives them while running each
// KindRecurringUpdate and reports them in Stats.Reapplied.
type Plan struct {
	Actions []Action
}

func (p *Plan) add(a Action) {
	p.Actions = append(p.Actions, a)
}

// Count returns the number of actions of the given kind.
func (p *Plan) Count(kind Kind) int {
	n := 0
	for _, a := range p.Actions {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

// IsEmpty reports whether the plan makes no changes.
func (p *Plan) IsEmpty() bool {
	return len(p.Actions) == 0
}

// Summary renders the non-zero action counts, e.g. "create=2 delete=1".
func (p *Plan) Summary() string {
	if p.IsEmpty() {
		return "no changes"
	}
	var parts []string
	for k := KindCreate; k <= KindOverride; k++ {
		if n := p.Count(k); n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", k, n))
		}
	}
	return strings.Join(parts, " ")
}
