// Package access turns a persisted subscription into an access decision and a
// user-facing status label, and decides navigation for protected routes.
// It only reads state; it never mutates a subscription.
package access

import (
	"fmt"
	"time"

	"github.com/boddenberg/gestor-assinaturas-go/internal/domain"
)

// StatusNone is reported when the tenant has no subscription row.
const StatusNone domain.SubscriptionStatus = "none"

// Labels shown to users.
const (
	LabelActive    = "Active"
	LabelExpired   = "Trial expired"
	LabelSuspended = "Suspended — payment required"
	LabelCancelled = "Cancelled"
	LabelUnknown   = "Subscription unavailable"
)

const day = 24 * time.Hour

// Decision is the outcome of evaluating a subscription at a given instant.
type Decision struct {
	Status        domain.SubscriptionStatus `json:"status"`
	Granted       bool                      `json:"access_granted"`
	Label         string                    `json:"label"`
	DaysRemaining int                       `json:"days_remaining,omitempty"`
	TrialEndDate  *time.Time                `json:"trial_end_date,omitempty"`
	PeriodEnd     *time.Time                `json:"current_period_end,omitempty"`
}

// Evaluate derives the access decision for sub at now. A nil subscription is
// treated exactly like a cancelled one.
func Evaluate(sub *domain.Subscription, now time.Time) Decision {
	if sub == nil {
		return Decision{Status: StatusNone, Label: LabelCancelled}
	}

	d := Decision{Status: sub.Status, PeriodEnd: sub.CurrentPeriodEnd}
	switch sub.Status {
	case domain.StatusTrial:
		d.TrialEndDate = sub.TrialEndDate
		if sub.TrialExpiredAt(now) {
			d.Label = LabelExpired
			return d
		}
		d.Granted = true
		d.DaysRemaining = DaysRemaining(*sub.TrialEndDate, now)
		d.Label = TrialLabel(d.DaysRemaining)
	case domain.StatusActive:
		d.Granted = true
		d.Label = LabelActive
	case domain.StatusSuspended:
		d.Label = LabelSuspended
	case domain.StatusCancelled:
		d.Label = LabelCancelled
	case domain.StatusExpired:
		d.Label = LabelExpired
	default:
		d.Label = LabelUnknown
	}
	return d
}

// Denied is the fail-closed decision used when the status cannot be read.
func Denied() Decision {
	return Decision{Status: StatusNone, Label: LabelUnknown}
}

// DaysRemaining returns ceil((end - now) / 1 day), never negative.
func DaysRemaining(end, now time.Time) int {
	left := end.Sub(now)
	if left <= 0 {
		return 0
	}
	return int((left + day - 1) / day)
}

// TrialLabel renders the label of a running trial.
func TrialLabel(days int) string {
	if days == 1 {
		return "Trial — 1 day remaining"
	}
	return fmt.Sprintf("Trial — %d days remaining", days)
}
