package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"
)

type recordingRouter struct {
	got  events.APIGatewayProxyRequest
	resp events.APIGatewayProxyResponse
	err  error
}

func (r *recordingRouter) HandleRequest(_ context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	r.got = req
	return r.resp, r.err
}

func TestAdapt_TranslatesRequestAndResponse(t *testing.T) {
	router := &recordingRouter{resp: events.APIGatewayProxyResponse{
		StatusCode: http.StatusCreated,
		Headers:    map[string]string{"Content-Type": "application/json"},
		MultiValueHeaders: map[string][]string{
			"Set-Cookie": {"a=1", "b=2"},
		},
		Body: `{"success":true}`,
	}}
	srv := httptest.NewServer(Adapt(router))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/admin/google-photos/session?x=1&x=2", strings.NewReader(`{"destinationPath":"/frame"}`))
	req.Header.Set("Cookie", "session_token=abc")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("expected 201, got %d", resp.StatusCode)
	}
	if got := resp.Header.Values("Set-Cookie"); len(got) != 2 {
		t.Errorf("expected two cookies, got %v", got)
	}

	if router.got.HTTPMethod != http.MethodPost || router.got.Path != "/api/admin/google-photos/session" {
		t.Errorf("unexpected route %s %s", router.got.HTTPMethod, router.got.Path)
	}
	if router.got.QueryStringParameters["x"] != "1" {
		t.Errorf("expected first query value, got %q", router.got.QueryStringParameters["x"])
	}
	if router.got.Body != `{"destinationPath":"/frame"}` {
		t.Errorf("unexpected body %q", router.got.Body)
	}
	if router.got.Headers["Cookie"] != "session_token=abc" {
		t.Errorf("unexpected cookie header %q", router.got.Headers["Cookie"])
	}
	if router.got.RequestContext.Identity.SourceIP != "127.0.0.1" {
		t.Errorf("unexpected source ip %q", router.got.RequestContext.Identity.SourceIP)
	}
}

func TestAdapt_RouterError(t *testing.T) {
	router := &recordingRouter{err: context.DeadlineExceeded}
	rec := httptest.NewRecorder()
	Adapt(router).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestAdapt_BodyTooLarge(t *testing.T) {
	router := &recordingRouter{}
	rec := httptest.NewRecorder()
	body := strings.NewReader(strings.Repeat("a", maxBodyBytes+1))
	Adapt(router).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", body))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}

func TestWriteResponse_Base64AndDefaultStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteResponse(rec, events.APIGatewayProxyResponse{Body: "aGVsbG8=", IsBase64Encoded: true})

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "hello" {
		t.Errorf("expected decoded body, got %q", rec.Body.String())
	}
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	s := New(0, http.NotFoundHandler())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	if err := <-done; err != nil {
		t.Errorf("expected clean shutdown, got %v", err)
	}
}
