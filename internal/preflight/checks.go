package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"boqmatch/internal/config"
	"boqmatch/internal/services"
	"boqmatch/internal/services/embedding"
)

// Pinger is satisfied by *store.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckStore pings the store with a short timeout.
func CheckStore(ctx context.Context, name string, store Pinger) Result {
	if store == nil {
		return Result{Name: name, Detail: "not opened"}
	}
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(checkCtx); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("ping failed (%v)", err)}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// CheckEmbedding embeds a single probe string to verify that the provider is
// reachable and the key is valid. It uses a 30-second timeout and a single
// attempt.
func CheckEmbedding(ctx context.Context, cfg config.Embedding) Result {
	name := embeddingName(cfg)
	if strings.TrimSpace(cfg.APIKey) == "" {
		return Result{Name: name, Detail: "API key missing"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client := embedding.NewClient(embedding.Config{
		Provider:       cfg.Provider,
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		Model:          cfg.Model,
		TimeoutSeconds: 30,
	})
	vectors, _, err := client.Embed(checkCtx, []string{"preflight"}, embedding.InputQuery)
	if err != nil {
		return Result{Name: name, Detail: summarizeEmbeddingError(err)}
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return Result{Name: name, Detail: "provider returned no vector"}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("API reachable (%d dimensions)", len(vectors[0]))}
}

func embeddingName(cfg config.Embedding) string {
	provider := strings.TrimSpace(cfg.Provider)
	if provider == "" {
		return "Embedding provider"
	}
	return "Embedding provider (" + provider + ")"
}

// summarizeEmbeddingError produces a human-readable summary for failed probes.
func summarizeEmbeddingError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (provider unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (provider unreachable)"
	}
	var providerErr *services.ProviderError
	if errors.As(err, &providerErr) {
		switch providerErr.StatusCode {
		case 401, 403:
			return "auth failed (invalid api key)"
		}
	}
	if errors.Is(err, services.ErrRateLimited) {
		return "rate limited (key valid)"
	}
	return err.Error()
}
