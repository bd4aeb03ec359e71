package core

import (
	"log/slog"
	"net/http"

	"github.com/klauspost/compress/gzhttp"
)

// compressMinSize is the smallest response body worth compressing.
const compressMinSize = 512

// CompressionMiddleware gzips responses for clients that send
// Accept-Encoding: gzip. If the wrapper cannot be built the chain continues
// uncompressed.
func CompressionMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	wrap, err := gzhttp.NewWrapper(
		gzhttp.MinSize(compressMinSize),
		gzhttp.ContentTypes([]string{"application/json"}),
	)
	if err != nil {
		logger.Error("response compression disabled", "error", err)
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return wrap(next)
	}
}
