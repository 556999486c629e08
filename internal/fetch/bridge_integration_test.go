// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// checkTestcontainersAvailable reports whether a container provider can be
// reached. Provider detection can panic when no engine is installed.
func checkTestcontainersAvailable() (available bool) {
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		return false
	}
	defer provider.Close()
	return true
}

// TestBridge_Integration fetches from a real HTTP server running in a container.
func TestBridge_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if !checkTestcontainersAvailable() {
		t.Skip("skipping integration test: testcontainers provider not available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	nginx, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nginx:alpine",
			ExposedPorts: []string{"80/tcp"},
			WaitingFor:   wait.ForHTTP("/").WithPort("80/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("skipping integration test: cannot start nginx: %v", err)
	}
	t.Cleanup(func() {
		if err := nginx.Terminate(context.Background()); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	endpoint, err := nginx.Endpoint(ctx, "http")
	if err != nil {
		t.Fatalf("Endpoint failed: %v", err)
	}

	// A small chunk size forces the welcome page across many rendezvous.
	b := newBridge(WithChunkSize(64))

	t.Run("WelcomePage", func(t *testing.T) {
		body, err := b.Fetch(ctx, endpoint+"/")
		if err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
		if !strings.Contains(string(body), "Welcome to nginx") {
			t.Errorf("body does not look like the nginx welcome page: %q", body)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := b.Fetch(ctx, endpoint+"/missing")
		var fetchErr *FetchError
		if !errors.As(err, &fetchErr) {
			t.Fatalf("Fetch = %v, want *FetchError", err)
		}
		if fetchErr.Status != http.StatusNotFound {
			t.Errorf("Status = %d, want 404", fetchErr.Status)
		}
	})
}
