package billing

import (
	"fmt"
	"strconv"

	"github.com/emviapp/emviapp-backend/models"
)

const (
	metaUserID      = "user_id"
	metaPostType    = "post_type"
	metaListingID   = "listing_id"
	metaPricingTier = "pricing_tier"
	metaCredits     = "credits"
	metaPackageID   = "package_id"

	// postTypeCredits marks a credit package purchase.
	postTypeCredits = "credits"
)

// Metadata is the checkout session metadata this service writes and reads back.
type Metadata struct {
	UserID      string
	PostType    string
	ListingID   string
	PricingTier models.PricingTier
	Credits     int64
	PackageID   string
}

func (m Metadata) IsCredits() bool { return m.PostType == postTypeCredits }

// ParseMetadata validates raw session metadata.
func ParseMetadata(raw map[string]string) (Metadata, error) {
	m := Metadata{
		UserID:      raw[metaUserID],
		PostType:    raw[metaPostType],
		ListingID:   raw[metaListingID],
		PricingTier: models.PricingTier(raw[metaPricingTier]),
		PackageID:   raw[metaPackageID],
	}

	if m.UserID == "" {
		return Metadata{}, fmt.Errorf("%w: metadata.user_id missing", models.ErrMalformedPayload)
	}

	switch {
	case m.PostType == postTypeCredits:
		credits, err := strconv.ParseInt(raw[metaCredits], 10, 64)
		if err != nil || credits <= 0 {
			return Metadata{}, fmt.Errorf("%w: metadata.credits must be a positive integer", models.ErrMalformedPayload)
		}

		m.Credits = credits
	case models.PostType(m.PostType).Valid():
		if m.ListingID == "" {
			return Metadata{}, fmt.Errorf("%w: metadata.listing_id missing", models.ErrMalformedPayload)
		}

		if m.PricingTier != "" && !m.PricingTier.Valid() {
			return Metadata{}, fmt.Errorf("%w: unknown pricing tier %q", models.ErrMalformedPayload, m.PricingTier)
		}
	default:
		return Metadata{}, fmt.Errorf("%w: unknown post_type %q", models.ErrMalformedPayload, m.PostType)
	}

	return m, nil
}

func (m Metadata) toMap() map[string]string {
	out := map[string]string{
		metaUserID:   m.UserID,
		metaPostType: m.PostType,
	}

	if m.IsCredits() {
		out[metaCredits] = strconv.FormatInt(m.Credits, 10)
		out[metaPackageID] = m.PackageID

		return out
	}

	out[metaListingID] = m.ListingID
	out[metaPricingTier] = string(m.PricingTier)

	return out
}
