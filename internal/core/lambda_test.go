package core

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lambdaEvent(method, path, body string) events.APIGatewayV2HTTPRequest {
	evt := events.APIGatewayV2HTTPRequest{
		RawPath: path,
		Headers: map[string]string{"content-type": "application/json"},
		Body:    body,
	}
	evt.RequestContext.HTTP.Method = method
	evt.RequestContext.HTTP.SourceIP = "203.0.113.9"
	evt.RequestContext.RequestID = "apigw-req-1"
	return evt
}

func TestLambdaHandler_PassesRawBodyAndHeaders(t *testing.T) {
	var gotBody, gotSig, gotMethod, gotPath, gotQuery string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotSig = r.Header.Get("X-Razorpay-Signature")
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("x")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"ok":true}`))
	})

	evt := lambdaEvent(http.MethodPost, "/razorpay-webhook", `{"event":"payment.captured"}`)
	evt.Headers["x-razorpay-signature"] = "abc"
	evt.RawQueryString = "x=1"

	resp, err := LambdaHandler(h)(context.Background(), evt)
	require.NoError(t, err)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, `{"ok":true}`, resp.Body)
	assert.Equal(t, "application/json", resp.Headers["Content-Type"])
	assert.False(t, resp.IsBase64Encoded)

	assert.Equal(t, `{"event":"payment.captured"}`, gotBody)
	assert.Equal(t, "abc", gotSig)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/razorpay-webhook", gotPath)
	assert.Equal(t, "1", gotQuery)
}

func TestLambdaHandler_Base64Body(t *testing.T) {
	var gotBody string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
	})

	evt := lambdaEvent(http.MethodPost, "/", base64.StdEncoding.EncodeToString([]byte("raw bytes")))
	evt.IsBase64Encoded = true

	resp, err := LambdaHandler(h)(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "raw bytes", gotBody)
}

func TestLambdaHandler_BadBase64(t *testing.T) {
	evt := lambdaEvent(http.MethodPost, "/", "!!!")
	evt.IsBase64Encoded = true

	resp, err := LambdaHandler(http.NotFoundHandler())(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLambdaHandler_RequestIDFromGateway(t *testing.T) {
	srv := newTestServer(t)
	srv.MountRoutes()

	resp, err := LambdaHandler(srv.Handler())(context.Background(), lambdaEvent(http.MethodGet, "/health", ""))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "apigw-req-1", resp.Headers["X-Request-Id"])
}

func TestLambdaHandler_MultiValueHeaders(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Origin")
		w.Header().Add("Vary", "Accept-Encoding")
	})

	resp, err := LambdaHandler(h)(context.Background(), lambdaEvent(http.MethodGet, "/", ""))
	require.NoError(t, err)
	assert.Equal(t, []string{"Origin", "Accept-Encoding"}, resp.MultiValueHeaders["Vary"])
}
