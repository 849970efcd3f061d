package httpserver

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"github.com/Sorbh/digital-photo-frame/internal/logging"
)

// maxBodyBytes bounds request bodies; the API only accepts small JSON documents.
const maxBodyBytes = 1 << 20

// ErrBodyTooLarge is returned by ToEvent for bodies over 1 MiB.
var ErrBodyTooLarge = errors.New("request body too large")

// Router handles API Gateway proxy events.
type Router interface {
	HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)
}

// Adapt exposes a Router as an http.Handler.
func Adapt(router Router) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := ToEvent(r)
		if errors.Is(err, ErrBodyTooLarge) {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}

		resp, err := router.HandleRequest(r.Context(), req)
		if err != nil {
			logging.FromContext(r.Context()).Error("router failed", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		WriteResponse(w, resp)
	})
}

// ToEvent converts an incoming HTTP request into a proxy event. The first value
// of each header and query parameter goes into the single-value maps.
func ToEvent(r *http.Request) (events.APIGatewayProxyRequest, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return events.APIGatewayProxyRequest{}, err
	}
	if len(body) > maxBodyBytes {
		return events.APIGatewayProxyRequest{}, ErrBodyTooLarge
	}

	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	query := r.URL.Query()
	queryParams := make(map[string]string, len(query))
	for k, v := range query {
		if len(v) > 0 {
			queryParams[k] = v[0]
		}
	}

	sourceIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		sourceIP = host
	}

	return events.APIGatewayProxyRequest{
		Path:                            r.URL.Path,
		HTTPMethod:                      r.Method,
		Headers:                         headers,
		MultiValueHeaders:               map[string][]string(r.Header.Clone()),
		QueryStringParameters:           queryParams,
		MultiValueQueryStringParameters: map[string][]string(query),
		Body:                            string(body),
		RequestContext: events.APIGatewayProxyRequestContext{
			RequestID:  logging.RequestIDFromContext(r.Context()),
			HTTPMethod: r.Method,
			Path:       r.URL.Path,
			Identity:   events.APIGatewayRequestIdentity{SourceIP: sourceIP},
		},
	}, nil
}

// WriteResponse copies a proxy response onto w.
func WriteResponse(w http.ResponseWriter, resp events.APIGatewayProxyResponse) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	for k, vs := range resp.MultiValueHeaders {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	if resp.IsBase64Encoded {
		body, err := base64.StdEncoding.DecodeString(resp.Body)
		if err == nil {
			_, _ = w.Write(body)
		}
		return
	}
	_, _ = io.WriteString(w, resp.Body)
}
