package access

import "strings"

// LoadState tracks whether the subscription status has been read yet.
type LoadState int

const (
	Loading LoadState = iota
	Loaded
	Failed
)

// Outcome is what the guard tells the navigation layer to do.
type Outcome string

const (
	OutcomeAllow    Outcome = "allow"
	OutcomeRedirect Outcome = "redirect"
	OutcomeLoading  Outcome = "loading"
)

// DefaultBillingPath is where denied users are sent.
const DefaultBillingPath = "/assinatura"

// DefaultAllowList holds the billing and subscription pages that stay
// reachable whatever the subscription state.
var DefaultAllowList = []string{
	"/assinatura",
	"/planos",
	"/pagamento",
	"/login",
	"/logout",
}

// Verdict is the guard answer for one navigation.
type Verdict struct {
	Outcome    Outcome `json:"outcome"`
	RedirectTo string  `json:"redirect_to,omitempty"`
	Label      string  `json:"label,omitempty"`
}

// Guard gates protected routes on the access decision.
type Guard struct {
	billingPath string
	allowList   []string
}

// NewGuard creates a guard. The billing path is always part of the allow-list
// so a denied user can reach the page that fixes the denial.
func NewGuard(billingPath string, allowList []string) *Guard {
	if billingPath == "" {
		billingPath = DefaultBillingPath
	}
	list := append([]string{billingPath}, allowList...)
	return &Guard{billingPath: billingPath, allowList: list}
}

// BillingPath returns the redirect target for denied navigation.
func (g *Guard) BillingPath() string { return g.billingPath }

// Allowed reports whether path is on the allow-list (exact or sub-path).
func (g *Guard) Allowed(path string) bool {
	for _, p := range g.allowList {
		if path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}

// Decide returns the navigation verdict. While loading it never redirects,
// and a failed read denies.
func (g *Guard) Decide(path string, state LoadState, d Decision) Verdict {
	if g.Allowed(path) {
		return Verdict{Outcome: OutcomeAllow, Label: d.Label}
	}

	switch state {
	case Loading:
		return Verdict{Outcome: OutcomeLoading}
	case Failed:
		return Verdict{Outcome: OutcomeRedirect, RedirectTo: g.billingPath, Label: LabelUnknown}
	}

	if d.Granted {
		return Verdict{Outcome: OutcomeAllow, Label: d.Label}
	}
	return Verdict{Outcome: OutcomeRedirect, RedirectTo: g.billingPath, Label: d.Label}
}
