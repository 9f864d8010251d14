package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mosaiq-software/server-manager-sub000/internal/domain"
)

func testWorker(url string) domain.WorkerNode {
	return domain.WorkerNode{WorkerID: "w1", Address: url, AuthToken: "tok"}
}

func TestFindNextFreePortsSendsCountAndAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/find-next-free-ports" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Fatalf("unexpected auth header %q", got)
		}
		var body map[string]int
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["count"] != 2 {
			t.Fatalf("expected count 2, got %v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string][]int{"ports": {40001, 40002, 40003}})
	}))
	defer srv.Close()

	ports, err := New().FindNextFreePorts(context.Background(), testWorker(srv.URL), 2)
	if err != nil {
		t.Fatalf("FindNextFreePorts: %v", err)
	}
	if len(ports) != 3 || ports[0] != 40001 {
		t.Fatalf("unexpected ports %v", ports)
	}
}

func TestFindNextFreePortsTooFew(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string][]int{"ports": {40001}})
	}))
	defer srv.Close()

	_, err := New().FindNextFreePorts(context.Background(), testWorker(srv.URL), 2)
	if !errors.Is(err, domain.ErrResourceExhausted) {
		t.Fatalf("expected ErrResourceExhausted, got %v", err)
	}
}

func TestCallMapsNon2xxToRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "compose failed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := New().DeployProject(context.Background(), testWorker(srv.URL), DeployRequest{ProjectID: "p1"})
	if !errors.Is(err, domain.ErrRemote) {
		t.Fatalf("expected ErrRemote, got %v", err)
	}
}

func TestCallMapsTimeoutToRemoteError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := New().HandleRoutingConfig(ctx, testWorker(srv.URL), RoutingRequest{ProjectID: "p1"})
	if !errors.Is(err, domain.ErrRemote) {
		t.Fatalf("expected ErrRemote, got %v", err)
	}
}

func TestRequestDirectoriesRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RelativeDirectoryMap map[string]string `json:"relativeDirectoryMap"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		full := make(map[string]string, len(body.RelativeDirectoryMap))
		for k, v := range body.RelativeDirectoryMap {
			full[k] = "/srv/" + v
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"fullDirectoryMap": full})
	}))
	defer srv.Close()

	got, err := New().RequestDirectories(context.Background(), testWorker(srv.URL), map[string]string{"k": "p1/volume"})
	if err != nil {
		t.Fatalf("RequestDirectories: %v", err)
	}
	if got["k"] != "/srv/p1/volume" {
		t.Fatalf("unexpected map %v", got)
	}
}

func TestListContainersDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/list-containers" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"containers":[{"id":"c1","name":"web","state":"running"}]}`))
	}))
	defer srv.Close()

	containers, err := New().ListContainers(context.Background(), testWorker(srv.URL))
	if err != nil {
		t.Fatalf("ListContainers: %v", err)
	}
	if len(containers) != 1 || containers[0].Name != "web" {
		t.Fatalf("unexpected containers %+v", containers)
	}
}
