package businessflow

import (
	"context"

	"github.com/amirphl/metal-price-sync/models"
)

// DryRunWriter accepts every write without touching the storefront, so a dry
// run takes exactly the decisions a live run would.
type DryRunWriter struct{}

func NewDryRunWriter() *DryRunWriter {
	return &DryRunWriter{}
}

func (w *DryRunWriter) WriteVariantPrice(ctx context.Context, variantID int64, price float64) error {
	return ctx.Err()
}

func (w *DryRunWriter) WriteProductMetafields(ctx context.Context, productID int64, rates models.RateSet) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return sortedKeys(rates), nil
}

func (w *DryRunWriter) WriteSettings(ctx context.Context, push models.SettingsPush) error {
	return ctx.Err()
}
