package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/renderview/internal/gallery"
	"github.com/bryanchriswhite/renderview/internal/region"
)

// fakeController records calls instead of driving a viewer.
type fakeController struct {
	mu      sync.Mutex
	calls   []string
	known   uuid.UUID
	events  chan region.Event
	divider float64
	role    gallery.Role
}

func newFake() *fakeController {
	return &fakeController{known: uuid.New(), events: make(chan region.Event, 8)}
}

func (f *fakeController) record(s string) {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	f.mu.Unlock()
}

func (f *fakeController) check(id uuid.UUID) error {
	if id != f.known {
		return gallery.ErrNoSnapshot
	}
	return nil
}

func (f *fakeController) Status(ctx context.Context) (Status, error) {
	return Status{Status: "extui_running", Width: 1920, Height: 1080, Selector: "idle"}, nil
}

func (f *fakeController) Gallery(ctx context.Context) ([]Snapshot, error) {
	return []Snapshot{{ID: f.known, Name: "one", Roles: []string{"A"}}}, nil
}

func (f *fakeController) TakeSnapshot(ctx context.Context, name string) (Snapshot, error) {
	f.record("snapshot:" + name)
	return Snapshot{ID: f.known, Name: name}, nil
}

func (f *fakeController) RemoveSnapshot(ctx context.Context, id uuid.UUID) error {
	f.record("remove")
	return f.check(id)
}

func (f *fakeController) ToggleSnapshot(ctx context.Context, id uuid.UUID) error {
	f.record("toggle")
	return f.check(id)
}

func (f *fakeController) SetRole(ctx context.Context, role gallery.Role, id uuid.UUID) error {
	f.mu.Lock()
	f.role = role
	f.mu.Unlock()
	return f.check(id)
}

func (f *fakeController) UnsetRole(ctx context.Context, role gallery.Role) error {
	f.record("unset:" + string(role))
	return nil
}

func (f *fakeController) Navigate(ctx context.Context, delta int) error {
	f.record("navigate")
	return nil
}

func (f *fakeController) ArmRegion(ctx context.Context) error {
	f.record("arm")
	return nil
}

func (f *fakeController) Fit(ctx context.Context, mode string) error {
	f.record("fit:" + mode)
	return nil
}

func (f *fakeController) SetDivider(ctx context.Context, offset float64) error {
	f.mu.Lock()
	f.divider = offset
	f.mu.Unlock()
	return nil
}

func (f *fakeController) CompositePNG(ctx context.Context, w io.Writer) error {
	return ErrNoImage
}

func (f *fakeController) SnapshotPNG(ctx context.Context, id uuid.UUID, w io.Writer) error {
	if err := f.check(id); err != nil {
		return err
	}
	_, err := w.Write([]byte("png"))
	return err
}

func (f *fakeController) Input(ev region.Event) {
	f.events <- ev
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(data)
}

// TestRoutes verifies each route reaches the controller and maps errors to
// HTTP status codes.
func TestRoutes(t *testing.T) {
	f := newFake()
	srv := httptest.NewServer(NewServer(f, nil, nil).Handler())
	defer srv.Close()
	id := f.known.String()

	tests := []struct {
		method, path, body string
		want               int
	}{
		{"GET", "/api/status", "", http.StatusOK},
		{"GET", "/api/gallery", "", http.StatusOK},
		{"POST", "/api/snapshots", `{"name":"before"}`, http.StatusCreated},
		{"POST", "/api/snapshots", "", http.StatusCreated},
		{"DELETE", "/api/snapshots/" + id, "", http.StatusOK},
		{"DELETE", "/api/snapshots/" + uuid.NewString(), "", http.StatusNotFound},
		{"DELETE", "/api/snapshots/not-a-uuid", "", http.StatusBadRequest},
		{"POST", "/api/snapshots/" + id + "/toggle", "", http.StatusOK},
		{"GET", "/api/snapshots/" + id + ".png", "", http.StatusOK},
		{"PUT", "/api/roles/b", `{"id":"` + id + `"}`, http.StatusOK},
		{"PUT", "/api/roles/c", `{"id":"` + id + `"}`, http.StatusBadRequest},
		{"DELETE", "/api/roles/A", "", http.StatusOK},
		{"POST", "/api/navigate", `{"delta":-1}`, http.StatusOK},
		{"POST", "/api/navigate", `{"delta":0}`, http.StatusBadRequest},
		{"POST", "/api/region/arm", "", http.StatusOK},
		{"POST", "/api/view/fit?mode=window", "", http.StatusOK},
		{"POST", "/api/view/fit?mode=zoom", "", http.StatusBadRequest},
		{"POST", "/api/divider", `{"offset":-12.5}`, http.StatusOK},
		{"POST", "/api/divider", `{}`, http.StatusBadRequest},
		{"GET", "/api/composite.png", "", http.StatusConflict},
		{"OPTIONS", "/api/status", "", http.StatusOK},
	}
	for _, tt := range tests {
		code, body := do(t, srv, tt.method, tt.path, tt.body)
		if code != tt.want {
			t.Errorf("%s %s = %d (%s), want %d", tt.method, tt.path, code, body, tt.want)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.role != gallery.RoleB {
		t.Errorf("role = %q, want B", f.role)
	}
	if f.divider != -12.5 {
		t.Errorf("divider = %v, want -12.5", f.divider)
	}
	if f.calls[0] != "snapshot:before" || f.calls[1] != "snapshot:" {
		t.Errorf("calls = %v", f.calls)
	}
}

// TestStatusBody verifies the status document fields.
func TestStatusBody(t *testing.T) {
	srv := httptest.NewServer(NewServer(newFake(), nil, nil).Handler())
	defer srv.Close()

	_, body := do(t, srv, "GET", "/api/status", "")
	for _, want := range []string{`"status":"extui_running"`, `"width":1920`, `"selector":"idle"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("body %s missing %s", body, want)
		}
	}
}

// TestInputWebSocket verifies browser events reach the controller and bad
// messages are skipped.
func TestInputWebSocket(t *testing.T) {
	f := newFake()
	srv := httptest.NewServer(NewServer(f, nil, nil).Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/input"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{nope")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":1,"button":1,"x":10,"y":20}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case ev := <-f.events:
		if ev.Kind != region.Press || ev.Button != region.Left || ev.X != 10 || ev.Y != 20 {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no event delivered")
	}
}

// TestOptionalHandlers verifies the stream and page are mounted when given.
func TestOptionalHandlers(t *testing.T) {
	page := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, "page") })
	srv := httptest.NewServer(NewServer(newFake(), page, page).Handler())
	defer srv.Close()

	if code, body := do(t, srv, "GET", "/", ""); code != http.StatusOK || body != "page" {
		t.Fatalf("GET / = %d %q", code, body)
	}
	if code, _ := do(t, srv, "GET", "/stream", ""); code != http.StatusOK {
		t.Fatalf("GET /stream = %d", code)
	}
}
