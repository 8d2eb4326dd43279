package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys for Petrel telemetry.
const (
	// AttrSymbol captures the tradable instrument symbol (e.g. BTCUSDT).
	AttrSymbol = attribute.Key("symbol")
	// AttrOrderSide labels order telemetry with BUY/SELL intent.
	AttrOrderSide = attribute.Key("order.side")
	// AttrOrderType distinguishes limit vs market orders.
	AttrOrderType = attribute.Key("order.type")
	// AttrOrderState captures the lifecycle state being reported.
	AttrOrderState = attribute.Key("order.state")
	// AttrResult records the outcome of an operation.
	AttrResult = attribute.Key("result")
	// AttrVenue identifies the exchange adapter behind the measurement.
	AttrVenue = attribute.Key("venue")
	// AttrErrorKind categorizes failures by the stable error kind tag.
	AttrErrorKind = attribute.Key("error.kind")
	// AttrEnvironment specifies the venue deployment (testnet/production).
	AttrEnvironment = attribute.Key("environment")
)
