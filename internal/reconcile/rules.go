package reconcile

import (
	"fmt"
	"strings"

	"github.com/mattjoyce/jobrelay/internal/notify"
	"github.com/mattjoyce/jobrelay/internal/storage"
)

// Policy controls how many transition notifications one reconcile may emit.
type Policy string

const (
	// PolicyFirst emits at most one transition notification per reconcile.
	PolicyFirst Policy = "first"
	// PolicyAll emits one notification per distinct matching rule.
	PolicyAll Policy = "all"
)

// ParsePolicy accepts "first" (or "") and "all".
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyFirst:
		return PolicyFirst, nil
	case PolicyAll:
		return PolicyAll, nil
	default:
		return "", fmt.Errorf("unknown notification policy %q", s)
	}
}

// TransitionRule fires Kind when an entity's status changes to To.
type TransitionRule struct {
	EntityType storage.EntityType
	To         string
	Kind       notify.Kind
}

// DefaultTransitions are the status changes worth announcing.
func DefaultTransitions() []TransitionRule {
	return []TransitionRule{
		{EntityType: storage.EntityJob, To: "completed", Kind: notify.KindJobCompleted},
		{EntityType: storage.EntityInvoice, To: "paid", Kind: notify.KindInvoicePaid},
	}
}

var creationKinds = map[storage.EntityType]notify.Kind{
	storage.EntityClient:  notify.KindClientCreated,
	storage.EntityJob:     notify.KindJobCreated,
	storage.EntityInvoice: notify.KindInvoiceCreated,
}

// kindsFor decides which notifications an upsert result warrants. Creation kinds fire
// only for new rows; transition rules only when a prior status existed and changed.
// No kind appears twice.
func kindsFor(res storage.UpsertResult, rules []TransitionRule, policy Policy) []notify.Kind {
	var kinds []notify.Kind
	seen := make(map[notify.Kind]bool)
	add := func(k notify.Kind) {
		if !seen[k] {
			seen[k] = true
			kinds = append(kinds, k)
		}
	}

	et := res.Record.EntityType
	if res.Created {
		if k, ok := creationKinds[et]; ok {
			add(k)
		}
	}

	prior := res.Prior.LastKnownStatus
	current := res.Record.Status
	if prior == nil || current == nil || strings.EqualFold(*prior, *current) {
		return kinds
	}
	for _, r := range rules {
		if r.EntityType != et || !strings.EqualFold(r.To, *current) {
			continue
		}
		add(r.Kind)
		if policy != PolicyAll {
			break
		}
	}
	return kinds
}
