package normalize

import (
	"regexp"
	"strings"

	"affsync/internal/domain"
)

const SubidPrefix = "subid-"

// Classify decides coupon vs link by presence only: a promo code wins,
// then a sub id, else a link with no code.
func Classify(promoCode, subid string) (domain.PurchaseType, string) {
	if promo := strings.TrimSpace(promoCode); promo != "" {
		return domain.PurchaseTypeCoupon, promo
	}
	if sub := strings.TrimSpace(subid); sub != "" {
		return domain.PurchaseTypeLink, SubidPrefix + sub
	}
	return domain.PurchaseTypeLink, ""
}

var couponLike = regexp.MustCompile(`^[A-Z0-9]{3,20}$`)

// SubidFormat labels the shape of a sub id for diagnostics. It never
// affects classification.
func SubidFormat(subid string) string {
	subid = strings.TrimSpace(subid)
	switch {
	case subid == "":
		return "empty"
	case couponLike.MatchString(subid):
		return "coupon_like"
	default:
		return "link_like"
	}
}
