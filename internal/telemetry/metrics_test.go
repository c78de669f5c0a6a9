package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/solatis/cascade/internal/rules"
	"github.com/solatis/cascade/internal/types"
)

func TestObserveResolve(t *testing.T) {
	m := NewMetrics()

	converged := types.NewDerivedState()
	converged.Converged = true
	converged.Passes = 2
	exhausted := types.NewDerivedState()
	exhausted.Passes = 10

	m.ObserveResolve(rules.ModeForm, 12, converged, time.Millisecond)
	m.ObserveResolve(rules.ModeForm, 12, converged, time.Millisecond)
	m.ObserveResolve(rules.ModeRouting, 3, exhausted, time.Millisecond)

	if got := testutil.ToFloat64(m.resolves.WithLabelValues("form", "true")); got != 2 {
		t.Errorf("form converged resolves = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.resolves.WithLabelValues("routing", "false")); got != 1 {
		t.Errorf("routing exhausted resolves = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.exhaustions.WithLabelValues("routing")); got != 1 {
		t.Errorf("routing exhaustions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.exhaustions.WithLabelValues("form")); got != 0 {
		t.Errorf("form exhaustions = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.ruleCount.WithLabelValues("routing")); got != 3 {
		t.Errorf("routing rule count = %v, want 3", got)
	}
}

func TestEngineReportsToMetrics(t *testing.T) {
	m := NewMetrics()
	engine := rules.NewEngine(rules.WithObserver(m))

	fields := []types.Field{{ID: "a", Type: types.TypeNumber}}
	engine.Resolve(nil, fields, types.ValueBag{"a": types.Number(1)})

	if got := testutil.ToFloat64(m.resolves.WithLabelValues("form", "true")); got != 1 {
		t.Errorf("resolves = %v, want 1", got)
	}
}

func TestRouter(t *testing.T) {
	m := NewMetrics()
	m.ObserveResolve(rules.ModeTask, 1, types.NewDerivedState(), time.Microsecond)

	t.Run("healthz ok", func(t *testing.T) {
		rec := httptest.NewRecorder()
		m.Router(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
			t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
		}
	})

	t.Run("healthz failing check", func(t *testing.T) {
		check := func(context.Context) error { return errors.New("database is locked") }
		rec := httptest.NewRecorder()
		m.Router(check).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("healthz code = %d, want 503", rec.Code)
		}
	})

	t.Run("metrics exposition", func(t *testing.T) {
		srv := httptest.NewServer(m.Router(nil))
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/metrics")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)

		for _, want := range []string{
			`cascade_resolves_total{converged="false",mode="task"} 1`,
			`cascade_pass_budget_exhausted_total{mode="task"} 1`,
		} {
			if !strings.Contains(string(body), want) {
				t.Errorf("metrics output missing %q", want)
			}
		}
		if !strings.Contains(string(body), "cascade_resolve_duration_seconds") {
			t.Error("metrics output missing duration histogram")
		}
	})
}

func TestMiddleware_CountsRoutes(t *testing.T) {
	m := NewMetrics()
	router := m.Router(nil)

	for i := 0; i < 3; i++ {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	}
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	if got := testutil.ToFloat64(m.httpReqs.WithLabelValues("/healthz", "GET", "OK")); got != 3 {
		t.Errorf("healthz requests = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.httpReqs.WithLabelValues("/missing", "GET", "Not Found")); got != 1 {
		t.Errorf("unrouted requests = %v, want 1", got)
	}
}

func TestUnaryInterceptor(t *testing.T) {
	m := NewMetrics()
	intercept := m.UnaryInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/cascade.v1.CascadeService/Resolve"}

	ok := func(ctx context.Context, req any) (any, error) { return "done", nil }
	denied := func(ctx context.Context, req any) (any, error) {
		return nil, status.Error(codes.Unauthenticated, "no key")
	}

	if resp, err := intercept(context.Background(), nil, info, ok); err != nil || resp != "done" {
		t.Fatalf("interceptor changed the response: %v %v", resp, err)
	}
	if _, err := intercept(context.Background(), nil, info, denied); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("interceptor changed the error: %v", err)
	}

	if got := testutil.ToFloat64(m.grpcReqs.WithLabelValues(info.FullMethod, "OK")); got != 1 {
		t.Errorf("OK calls = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.grpcReqs.WithLabelValues(info.FullMethod, "Unauthenticated")); got != 1 {
		t.Errorf("Unauthenticated calls = %v, want 1", got)
	}
}
