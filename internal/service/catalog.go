package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"coursepay/internal/config"
	"coursepay/internal/model"
	"coursepay/internal/repository"
)

var ErrProductNotFound = errors.New("product not found")

var creditsReference = regexp.MustCompile(`^(\d+)_credits$`)

// ProductDescriptor is a provider independent view of something a user can buy.
type ProductDescriptor struct {
	Kind              string `json:"kind"` // topup | subscription | module
	InternalReference string `json:"internal_reference"`
	Name              string `json:"name,omitempty"`
	CreditAmount      int64  `json:"credit_amount"`
	Tier              string `json:"tier,omitempty"`
	PriceCents        int64  `json:"price_cents"`
	ProviderProductID string `json:"provider_product_id,omitempty"`
}

type thriveCartProduct struct {
	kind    string
	tier    string
	credits int64
}

// ThriveCart product ids. Subscription credits and prices come from the tier config.
var thriveCartProducts = map[int]thriveCartProduct{
	7:  {kind: model.ProductTypeSubscription, tier: model.TierOne},
	8:  {kind: model.ProductTypeSubscription, tier: model.TierTwo},
	9:  {kind: model.ProductTypeTopup, credits: 1000},
	10: {kind: model.ProductTypeTopup, credits: 2500},
	12: {kind: model.ProductTypeTopup, credits: 5000},
	13: {kind: model.ProductTypeTopup, credits: 10000},
}

type Catalog struct {
	tiers    config.TiersConfig
	products *repository.ProductRepository
}

func NewCatalog(tiers config.TiersConfig, products *repository.ProductRepository) *Catalog {
	return &Catalog{tiers: tiers, products: products}
}

// ResolveThriveCart maps a ThriveCart base_product id to a descriptor.
func (c *Catalog) ResolveThriveCart(productID string) (*ProductDescriptor, error) {
	id, err := strconv.Atoi(strings.TrimSpace(productID))
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("%w: %q", ErrProductNotFound, productID)
	}
	p, ok := thriveCartProducts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrProductNotFound, id)
	}

	switch p.kind {
	case model.ProductTypeSubscription:
		tier, ok := c.tiers.Lookup(p.tier)
		if !ok {
			return nil, fmt.Errorf("%w: tier %s", ErrProductNotFound, p.tier)
		}
		return &ProductDescriptor{
			Kind:              model.ProductTypeSubscription,
			InternalReference: p.tier,
			Name:              tier.Name,
			CreditAmount:      tier.MonthlyCredits,
			Tier:              p.tier,
			PriceCents:        tier.PriceCents,
		}, nil
	default:
		return topupDescriptor(p.credits), nil
	}
}

// ResolveReference resolves a Fanbases internal reference. The products
// table wins on price; static configuration fills in the rest. productType
// may be empty, in which case it is inferred.
func (c *Catalog) ResolveReference(ctx context.Context, ref, productType string) (*ProductDescriptor, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: empty reference", ErrProductNotFound)
	}

	var row *model.Product
	if c.products != nil {
		var err error
		row, err = c.products.GetByReference(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("lookup product %s: %w", ref, err)
		}
	}

	kind := productType
	if kind == "" {
		kind = inferKind(ref, row)
	}

	switch kind {
	case model.ProductTypeTopup:
		credits := int64(0)
		if row != nil && row.CreditAmount > 0 {
			credits = row.CreditAmount
		} else if m := creditsReference.FindStringSubmatch(ref); m != nil {
			n, err := strconv.ParseInt(m[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s", ErrProductNotFound, ref)
			}
			credits = n
		}
		if credits <= 0 {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, ref)
		}
		d := topupDescriptor(credits)
		d.InternalReference = ref
		applyRow(d, row)
		return d, nil

	case model.ProductTypeSubscription:
		tierID := ref
		if row != nil && row.Tier != "" {
			tierID = row.Tier
		}
		tier, ok := c.tiers.Lookup(tierID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, ref)
		}
		d := &ProductDescriptor{
			Kind:              model.ProductTypeSubscription,
			InternalReference: ref,
			Name:              tier.Name,
			CreditAmount:      tier.MonthlyCredits,
			Tier:              tierID,
			PriceCents:        tier.PriceCents,
		}
		applyRow(d, row)
		return d, nil

	case model.ProductTypeModule:
		if row == nil {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, ref)
		}
		d := &ProductDescriptor{Kind: model.ProductTypeModule, InternalReference: ref}
		applyRow(d, row)
		return d, nil
	}
	return nil, fmt.Errorf("%w: unknown product type %q", ErrProductNotFound, kind)
}

// MonthlyCredits returns the monthly allowance of a tier, 0 when unknown.
func (c *Catalog) MonthlyCredits(tier string) int64 {
	t, ok := c.tiers.Lookup(tier)
	if !ok {
		return 0
	}
	return t.MonthlyCredits
}

func inferKind(ref string, row *model.Product) string {
	if row != nil && row.ProductType != "" {
		return row.ProductType
	}
	if creditsReference.MatchString(ref) {
		return model.ProductTypeTopup
	}
	if ref == model.TierOne || ref == model.TierTwo {
		return model.ProductTypeSubscription
	}
	return model.ProductTypeModule
}

func applyRow(d *ProductDescriptor, row *model.Product) {
	if row == nil {
		return
	}
	if row.Name != "" {
		d.Name = row.Name
	}
	if row.PriceCents > 0 {
		d.PriceCents = row.PriceCents
	}
	d.ProviderProductID = row.FanbasesProductID
}

// Top-ups are priced at one cent per credit unless the catalog says otherwise.
func topupDescriptor(credits int64) *ProductDescriptor {
	return &ProductDescriptor{
		Kind:              model.ProductTypeTopup,
		InternalReference: fmt.Sprintf("%d_credits", credits),
		Name:              fmt.Sprintf("%d Credits", credits),
		CreditAmount:      credits,
		PriceCents:        credits,
	}
}
