// Package apierr writes the flat JSON error envelope the API uses.
package apierr

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

type envelope struct {
	Error string `json:"error"`
}

// Write writes {"error": message} with the given HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, message string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: message})
	ctx.SetBody(body)
}

// WriteNotFound writes a 404 with the given message.
func WriteNotFound(ctx *fasthttp.RequestCtx, message string) {
	Write(ctx, fasthttp.StatusNotFound, message)
}

// WriteInternal writes a 500 with the given message.
func WriteInternal(ctx *fasthttp.RequestCtx, message string) {
	Write(ctx, fasthttp.StatusInternalServerError, message)
}
