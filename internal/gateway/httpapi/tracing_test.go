package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/warden/internal/action"
	"github.com/jkaninda/warden/internal/intent"
	"github.com/jkaninda/warden/internal/observability"
)

// spanCapture records the span context the gateway hands to the engine.
type spanCapture struct {
	mu  sync.Mutex
	got trace.SpanContext
}

func (s *spanCapture) AuthorizeAndExecute(ctx context.Context, req *action.Request) *action.Outcome {
	s.mu.Lock()
	s.got = trace.SpanContextFromContext(ctx)
	s.mu.Unlock()
	return &action.Outcome{Status: action.StatusExecuted, Action: req.Action}
}

func TestGateway_EngineJoinsRequestTrace(t *testing.T) {
	logger := discardLogger()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	engine := &spanCapture{}
	addr := freeAddr(t)
	gw := NewGateway(Config{
		ListenAddr:    addr,
		APIKeys:       map[string]string{testKey: "alice"},
		HealthChecker: observability.NewHealthChecker(logger),
		Tracer:        tp.Tracer("test"),
	}, engine, intent.NewStaticParser(nil), nil, logger)
	go func() { _ = gw.Start(context.Background()) }()
	t.Cleanup(func() { _ = gw.Stop(context.Background()) })
	s := &testServer{base: "http://" + addr}
	waitReady(t, s.base)

	const (
		traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
		spanID  = "00f067aa0ba902b7"
	)
	req, err := http.NewRequest(http.MethodPost, s.base+"/v1/actions", bytes.NewReader([]byte(`{"action":"stop_instance"}`)))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("traceparent", "00-"+traceID+"-"+spanID+"-01")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var server sdktrace.ReadOnlySpan
	deadline := time.Now().Add(2 * time.Second)
	for server == nil && time.Now().Before(deadline) {
		for _, sp := range rec.Ended() {
			if sp.SpanKind() == trace.SpanKindServer && sp.Name() == "POST /v1/actions" {
				server = sp
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	if server == nil {
		t.Fatal("no server span recorded")
	}
	if server.Parent().SpanID().String() != spanID || server.SpanContext().TraceID().String() != traceID {
		t.Errorf("server span did not continue the incoming traceparent: parent=%s trace=%s",
			server.Parent().SpanID(), server.SpanContext().TraceID())
	}

	engine.mu.Lock()
	got := engine.got
	engine.mu.Unlock()
	if got.SpanID() != server.SpanContext().SpanID() {
		t.Errorf("engine context span = %s, want server span %s", got.SpanID(), server.SpanContext().SpanID())
	}
}
