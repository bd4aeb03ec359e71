package types

// Telemetry metric names for CloudWatch.
const (
	MetricAPILatency      = "APILatency"
	MetricAPIRequestCount = "APIRequestCount"
	MetricReconcile       = "DeferredSubscriptionReconcile"
	MetricCheckoutCreated = "CheckoutSessionCreated"

	DimEndpoint = "Endpoint"
	DimMethod   = "Method"
	DimStatus   = "Status"
	DimOutcome  = "Outcome"
	DimKind     = "Kind"
	DimMode     = "Mode"

	MetricNamespace = "LLCStack"
)
