package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"eventmesh/internal/payload"
	"eventmesh/internal/service"
	"eventmesh/internal/transport"
)

func newTestHandler(t *testing.T) (*Handler, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	adapter := transport.NewLoopback("n1")
	cfg := service.DefaultConfig("n1", t.TempDir())
	cfg.Gossip.GossipInterval = time.Hour
	cfg.Gossip.PeerDiscoveryInterval = time.Hour
	cfg.Gossip.EnableAntiEntropy = false

	svc, err := service.New(cfg, adapter)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	svc.RegisterProjection(payload.NewRoomTimeline())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(func() { svc.Stop() })

	h := NewHandler(svc)
	r := gin.New()
	h.Register(r)
	return h, r
}

func TestCreateAndGetEvent(t *testing.T) {
	_, r := newTestHandler(t)

	body := `{"payload":{"type":"message_posted","roomId":"r1","author":"alice","body":"hi"}}`
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected a non-empty event id")
	}

	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/events/"+created.ID, nil))
	if w2.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching created event, got %d", w2.Code)
	}
}

func TestGetEventNotFound(t *testing.T) {
	_, r := newTestHandler(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events/does-not-exist", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestCreateEventRejectsBadJSON(t *testing.T) {
	_, r := newTestHandler(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader("not json"))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, r := newTestHandler(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestGetClock(t *testing.T) {
	_, r := newTestHandler(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/clock", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
