package internal

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnknownStatus     = errors.New("unknown status")
	ErrConflict          = errors.New("concurrent update, try again")
)

type ApplicationStatus string

const (
	AppPending  ApplicationStatus = "pending"
	AppApproved ApplicationStatus = "approved"
	AppPaid     ApplicationStatus = "paid"
)

// ApplicationOp is one of the admin actions on an application. Each moves a
// record out of exactly one status; repeating it on the target is a no-op.
type ApplicationOp struct {
	Name string
	From ApplicationStatus
	To   ApplicationStatus
}

var (
	OpApprove    = ApplicationOp{"approve", AppPending, AppApproved}
	OpUnapprove  = ApplicationOp{"unapprove", AppApproved, AppPending}
	OpMarkPaid   = ApplicationOp{"mark_paid", AppApproved, AppPaid}
	OpMarkUnpaid = ApplicationOp{"mark_unpaid", AppPaid, AppApproved}
)

func (op ApplicationOp) allows(cur ApplicationStatus) bool {
	return cur == op.From || cur == op.To
}

type AffiliateStatus string

const (
	AffNone        AffiliateStatus = "--"
	AffUnderReview AffiliateStatus = "Under Review"
	AffVerified    AffiliateStatus = "Verified"
	AffRejected    AffiliateStatus = "Rejected"
	AffPaid        AffiliateStatus = "Paid"
)

var affiliateTransitions = map[AffiliateStatus][]AffiliateStatus{
	AffNone:        {AffUnderReview},
	AffUnderReview: {AffVerified, AffRejected},
	AffRejected:    {AffUnderReview},
	AffVerified:    {AffPaid},
	AffPaid:        nil,
}

func ParseAffiliateStatus(s string) (AffiliateStatus, error) {
	st := AffiliateStatus(s)
	if _, ok := affiliateTransitions[st]; !ok {
		return "", ErrUnknownStatus
	}
	return st, nil
}

func (s AffiliateStatus) CanTransition(next AffiliateStatus) bool {
	for _, t := range affiliateTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// creditKind names the referrer bonus a status change earns, if any.
func (s AffiliateStatus) creditKind() string {
	switch s {
	case AffVerified:
		return "verified"
	case AffPaid:
		return "paid"
	}
	return ""
}
