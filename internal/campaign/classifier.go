package campaign

import "strings"

// Classification tags, in rule priority order.
const (
	TagSubdomainCheckout = "subdomain_checkout"
	TagTrackedReceipt    = "tracked_receipt"
	TagSubdomainVerified = "subdomain_verified"
	TagSourceTag         = "source_tag"
)

const noMatchReason = "no matching campaign identifiers found"

// Classification is the outcome of matching payment notes against the
// campaign rules.
type Classification struct {
	Matched bool
	Source  string
	Reason  string
}

// Rule is one named predicate over payment notes.
type Rule struct {
	Tag   string
	Match func(notes map[string]string) bool
}

// Classifier evaluates rules in order; the first match wins.
type Classifier struct {
	rules []Rule
}

// NewClassifier returns the standard rule set for c:
//
//  1. notes.campaign equals the campaign id
//  2. notes.tracking_receipt starts with the receipt prefix
//  3. notes.subdomain equals the campaign domain
//  4. notes.source equals subdomain_checkout
func NewClassifier(c Campaign) *Classifier {
	return &Classifier{rules: []Rule{
		{Tag: TagSubdomainCheckout, Match: noteEquals("campaign", c.ID)},
		{Tag: TagTrackedReceipt, Match: notePrefix("tracking_receipt", c.ReceiptPrefix)},
		{Tag: TagSubdomainVerified, Match: noteEquals("subdomain", c.Domain)},
		{Tag: TagSourceTag, Match: noteEquals("source", SourceSubdomainCheckout)},
	}}
}

// Rules exposes the ordered rule list.
func (c *Classifier) Rules() []Rule {
	return c.rules
}

// Classify never fails; a nil map is treated as empty.
func (c *Classifier) Classify(notes map[string]string) Classification {
	for _, r := range c.rules {
		if r.Match(notes) {
			return Classification{Matched: true, Source: r.Tag}
		}
	}
	return Classification{Matched: false, Reason: noMatchReason}
}

func noteEquals(field, want string) func(map[string]string) bool {
	return func(notes map[string]string) bool {
		return want != "" && notes[field] == want
	}
}

func notePrefix(field, prefix string) func(map[string]string) bool {
	return func(notes map[string]string) bool {
		return prefix != "" && strings.HasPrefix(notes[field], prefix)
	}
}
