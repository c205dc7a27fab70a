package entitlements

import (
	"strings"

	"github.com/hyeonwooshin/CareBridge/app/models"
)

// NormalizePlanType maps arbitrary input to a known plan type, defaulting to
// the monthly plan.
func NormalizePlanType(planType string) string {
	switch strings.ToLower(strings.TrimSpace(planType)) {
	case models.PlanType3Month:
		return models.PlanType3Month
	default:
		return models.PlanType1Month
	}
}

// IsValidPlanType reports whether the given plan type is one of the billable
// tiers.
func IsValidPlanType(planType string) bool {
	switch strings.ToLower(strings.TrimSpace(planType)) {
	case models.PlanType1Month, models.PlanType3Month:
		return true
	default:
		return false
	}
}

// NormalizeUserType maps arbitrary input to a known payer role.
func NormalizeUserType(userType string) string {
	switch strings.ToLower(strings.TrimSpace(userType)) {
	case models.UserTypeTherapist:
		return models.UserTypeTherapist
	default:
		return models.UserTypeParent
	}
}

// IsValidUserType reports whether the given payer role is known.
func IsValidUserType(userType string) bool {
	switch strings.ToLower(strings.TrimSpace(userType)) {
	case models.UserTypeParent, models.UserTypeTherapist:
		return true
	default:
		return false
	}
}

// PlanDays returns the subscription length granted by a plan. The expiry of a
// subscription is always last-paid + PlanDays; it is a rolling duration, not a
// billing-calendar anchor.
func PlanDays(planType string) int {
	if NormalizePlanType(planType) == models.PlanType3Month {
		return 90
	}
	return 30
}

// PlanLabel returns the human-readable plan name stored on the subscription
// projection.
func PlanLabel(planType string) string {
	if NormalizePlanType(planType) == models.PlanType3Month {
		return "3-Month Membership"
	}
	return "1-Month Membership"
}

// TokenGrant returns how many interview tokens a parent earns for a paid
// order. The first paid order in a calendar month earns the full allowance;
// repeat payments in the same month earn the reduced one.
//
//	plan    first  repeat
//	1month    +2      +1
//	3month    +6      +0
func TokenGrant(planType string, firstOfMonth bool) int {
	if NormalizePlanType(planType) == models.PlanType3Month {
		if firstOfMonth {
			return 6
		}
		return 0
	}
	if firstOfMonth {
		return 2
	}
	return 1
}
