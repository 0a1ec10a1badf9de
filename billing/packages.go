package billing

import (
	"fmt"

	"github.com/emviapp/emviapp-backend/models"
)

// CreditPackage is a fixed bundle of credits sold through checkout.
type CreditPackage struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Credits           int64  `json:"credits"`
	DefaultPriceCents int64  `json:"-"`
}

var creditPackages = []CreditPackage{
	{ID: "starter", Name: "Starter credits", Credits: 5, DefaultPriceCents: 999},
	{ID: "pro", Name: "Pro credits", Credits: 15, DefaultPriceCents: 2499},
	{ID: "studio", Name: "Studio credits", Credits: 40, DefaultPriceCents: 5999},
}

var defaultTierPriceCents = map[models.PricingTier]int64{
	models.TierGold:    1999,
	models.TierPremium: 4999,
	models.TierDiamond: 14999,
}

// Packages returns the catalogue in display order.
func Packages() []CreditPackage {
	return append([]CreditPackage(nil), creditPackages...)
}

func LookupPackage(id string) (CreditPackage, bool) {
	for _, p := range creditPackages {
		if p.ID == id {
			return p, true
		}
	}

	return CreditPackage{}, false
}

func packagePriceKey(id string) string {
	return fmt.Sprintf("credit_package_%s_price_cents", id)
}

func tierPriceKey(tier models.PricingTier) string {
	return fmt.Sprintf("tier_%s_price_cents", tier)
}
