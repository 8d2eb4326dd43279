package schema

import (
	"github.com/shopspring/decimal"

	"github.com/petreltrade/petrel/errs"
)

// SymbolFilters carries the venue's per-symbol precision and step metadata
// (LOT_SIZE and PRICE_FILTER on Binance). Zero-valued fields mean the venue
// did not publish that constraint.
type SymbolFilters struct {
	Symbol       string
	QuantityStep decimal.Decimal
	PriceTick    decimal.Decimal
	MinQuantity  decimal.Decimal
	MinNotional  decimal.Decimal
}

// Check validates a request against the step metadata. It runs after the
// generic OrderRequest validation and only enforces constraints the venue
// actually published.
func (f SymbolFilters) Check(req OrderRequest) error {
	if f.MinQuantity.Sign() > 0 && req.Quantity.LessThan(f.MinQuantity) {
		return errs.New(errs.KindValidation, errs.WithField("quantity"),
			errs.WithMessage("quantity "+req.Quantity.String()+" below venue minimum "+f.MinQuantity.String()))
	}
	if f.QuantityStep.Sign() > 0 && !isStepMultiple(req.Quantity, f.QuantityStep) {
		return errs.New(errs.KindValidation, errs.WithField("quantity"),
			errs.WithMessage("quantity "+req.Quantity.String()+" is not a multiple of step "+f.QuantityStep.String()))
	}
	if req.Type == OrderTypeLimit {
		if f.PriceTick.Sign() > 0 && !isStepMultiple(req.LimitPrice, f.PriceTick) {
			return errs.New(errs.KindValidation, errs.WithField("limitPrice"),
				errs.WithMessage("price "+req.LimitPrice.String()+" is not a multiple of tick "+f.PriceTick.String()))
		}
		if f.MinNotional.Sign() > 0 && req.Quantity.Mul(req.LimitPrice).LessThan(f.MinNotional) {
			return errs.New(errs.KindValidation, errs.WithField("quantity"),
				errs.WithMessage("order notional below venue minimum "+f.MinNotional.String()))
		}
	}
	return nil
}

func isStepMultiple(value, step decimal.Decimal) bool {
	if step.Sign() <= 0 {
		return true
	}
	return value.Mod(step).IsZero()
}
