package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplicationOpAllows(t *testing.T) {
	tests := []struct {
		op   ApplicationOp
		from ApplicationStatus
		want bool
	}{
		{OpApprove, AppPending, true},
		{OpApprove, AppApproved, true},
		{OpApprove, AppPaid, false},
		{OpUnapprove, AppApproved, true},
		{OpUnapprove, AppPaid, false},
		{OpMarkPaid, AppApproved, true},
		{OpMarkPaid, AppPaid, true},
		{OpMarkPaid, AppPending, false},
		{OpMarkUnpaid, AppPaid, true},
		{OpMarkUnpaid, AppPending, false},
	}
	for _, tt := range tests {
		t.Run(tt.op.Name+"/"+string(tt.from), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.op.allows(tt.from))
		})
	}
}

func TestAffiliateTransitions(t *testing.T) {
	allowed := map[[2]AffiliateStatus]bool{
		{AffNone, AffUnderReview}:     true,
		{AffUnderReview, AffVerified}: true,
		{AffUnderReview, AffRejected}: true,
		{AffRejected, AffUnderReview}: true,
		{AffVerified, AffPaid}:        true,
	}
	all := []AffiliateStatus{AffNone, AffUnderReview, AffVerified, AffRejected, AffPaid}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]AffiliateStatus{from, to}], from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestParseAffiliateStatus(t *testing.T) {
	st, err := ParseAffiliateStatus("Under Review")
	require.NoError(t, err)
	assert.Equal(t, AffUnderReview, st)

	_, err = ParseAffiliateStatus("verified")
	assert.ErrorIs(t, err, ErrUnknownStatus)
}

func TestCreditKind(t *testing.T) {
	assert.Equal(t, "verified", AffVerified.creditKind())
	assert.Equal(t, "paid", AffPaid.creditKind())
	assert.Empty(t, AffRejected.creditKind())
}
