package access_test

import (
	"testing"
	"time"

	"github.com/boddenberg/gestor-assinaturas-go/internal/access"
	"github.com/boddenberg/gestor-assinaturas-go/internal/domain"

	"github.com/stretchr/testify/assert"
)

var now = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func trial(end time.Time) *domain.Subscription {
	start := end.Add(-domain.TrialDuration)
	return &domain.Subscription{
		ID:             "sub-1",
		EmpresaID:      "E1",
		Status:         domain.StatusTrial,
		TrialStartDate: &start,
		TrialEndDate:   &end,
	}
}

func TestEvaluate_AccessMatchesStatus(t *testing.T) {
	future := now.Add(48 * time.Hour)
	past := now.Add(-time.Hour)

	cases := []struct {
		name    string
		sub     *domain.Subscription
		granted bool
		label   string
	}{
		{"trial running", trial(future), true, "Trial — 2 days remaining"},
		{"trial lapsed", trial(past), false, access.LabelExpired},
		{"active", &domain.Subscription{Status: domain.StatusActive}, true, access.LabelActive},
		{"suspended", &domain.Subscription{Status: domain.StatusSuspended}, false, access.LabelSuspended},
		{"cancelled", &domain.Subscription{Status: domain.StatusCancelled}, false, access.LabelCancelled},
		{"expired", &domain.Subscription{Status: domain.StatusExpired}, false, access.LabelExpired},
		{"no row", nil, false, access.LabelCancelled},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := access.Evaluate(tc.sub, now)
			assert.Equal(t, tc.granted, d.Granted)
			assert.Equal(t, tc.label, d.Label)
		})
	}
}

func TestEvaluate_NoRowIsLikeCancelled(t *testing.T) {
	none := access.Evaluate(nil, now)
	cancelled := access.Evaluate(&domain.Subscription{Status: domain.StatusCancelled}, now)

	assert.Equal(t, cancelled.Granted, none.Granted)
	assert.Equal(t, cancelled.Label, none.Label)
	assert.Equal(t, access.StatusNone, none.Status)
}

func TestEvaluate_TrialExactlyThreeDays(t *testing.T) {
	d := access.Evaluate(trial(now.Add(3*24*time.Hour)), now)

	assert.True(t, d.Granted)
	assert.Equal(t, 3, d.DaysRemaining)
	assert.Equal(t, "Trial — 3 days remaining", d.Label)
}

func TestEvaluate_TrialOneSecondPastIsExpired(t *testing.T) {
	d := access.Evaluate(trial(now.Add(-time.Second)), now)

	assert.False(t, d.Granted)
	assert.Equal(t, access.LabelExpired, d.Label)
	assert.Zero(t, d.DaysRemaining)
}

func TestEvaluate_TrialEndingNowIsStillGranted(t *testing.T) {
	d := access.Evaluate(trial(now), now)
	assert.True(t, d.Granted)
}

func TestEvaluate_TrialWithoutEndDateIsDenied(t *testing.T) {
	d := access.Evaluate(&domain.Subscription{Status: domain.StatusTrial}, now)
	assert.False(t, d.Granted)
}

func TestDaysRemaining_RoundsUp(t *testing.T) {
	assert.Equal(t, 1, access.DaysRemaining(now.Add(time.Minute), now))
	assert.Equal(t, 1, access.DaysRemaining(now.Add(24*time.Hour), now))
	assert.Equal(t, 2, access.DaysRemaining(now.Add(24*time.Hour+time.Second), now))
	assert.Equal(t, 0, access.DaysRemaining(now.Add(-time.Hour), now))
}

func TestTrialLabel_Singular(t *testing.T) {
	assert.Equal(t, "Trial — 1 day remaining", access.TrialLabel(1))
}
