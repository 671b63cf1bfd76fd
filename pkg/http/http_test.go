package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

type listRequest struct {
	Limit  int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
	Prefix string `query:"prefix" json:"prefix" validate:"omitempty,max=8"`
}

type routes struct{}

func (routes) RegisterRoutes(e *echo.Echo) {
	e.GET("/list", func(c echo.Context) error {
		req := &listRequest{}
		if verr := ReadAndValidateRequest(c, req); verr != nil {
			return BadRequestResponse(c, verr)
		}
		return SuccessResponse(c, req)
	})
	e.GET("/missing", func(c echo.Context) error {
		return AppErrorResponse(c, NotFoundErrorf("key %q not tracked", "Dogecoin"))
	})
}

func serve(t *testing.T, target string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	s := NewServerWith([]Handler{routes{}}, WithRegistry(prometheus.NewRegistry()))
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var body APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return rec, body
}

func TestReadAndValidateRequestDefaults(t *testing.T) {
	rec, body := serve(t, "/list")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data := body.Data.(map[string]interface{})
	if data["limit"].(float64) != 100 {
		t.Fatalf("limit default not applied: %v", data)
	}
}

func TestReadAndValidateRequestRejects(t *testing.T) {
	rec, body := serve(t, "/list?limit=5000")
	if rec.Code != http.StatusBadRequest || body.Status != http.StatusBadRequest {
		t.Fatalf("status = %d/%d", rec.Code, body.Status)
	}
	errs := body.Data.([]interface{})
	first := errs[0].(map[string]interface{})
	if first["code"] != "ERR_LTE" || first["field"] != "limit" {
		t.Fatalf("unexpected validation error: %v", first)
	}
}

func TestAppErrorResponse(t *testing.T) {
	rec, body := serve(t, "/missing")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ERR_NOT_FOUND") || body.Message != "Not Found" {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestServerStartStop(t *testing.T) {
	s := NewServerWith([]Handler{routes{}}, WithHost("127.0.0.1"), WithPort(0), WithRegistry(prometheus.NewRegistry()))
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		http.Error(w, "model busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(WithTimeout(time.Second))
	err := c.SendAndParse(context.Background(), &RequestOptions{
		Method: MethodPost,
		URL:    srv.URL,
		Body:   map[string]string{"symbol": "Bitcoin"},
	}, nil)
	se, ok := err.(*StatusError)
	if !ok {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.Code != http.StatusServiceUnavailable || !se.Retryable() || se.Body != "model busy" {
		t.Fatalf("unexpected status error: %+v", se)
	}
}
