package core

import (
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	proxycore "github.com/awslabs/aws-lambda-go-api-proxy/core"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
)

// NewLambdaAdapter wraps h for API Gateway HTTP API (payload format 2.0)
// invocations. Pass its ProxyWithContext method to lambda.Start.
func NewLambdaAdapter(h http.Handler) *httpadapter.HandlerAdapterV2 {
	return httpadapter.NewV2(h)
}

// gatewayContext returns the API Gateway request context when r arrived
// through the Lambda adapter.
func gatewayContext(r *http.Request) (events.APIGatewayV2HTTPRequestContext, bool) {
	return proxycore.GetAPIGatewayV2ContextFromContext(r.Context())
}
