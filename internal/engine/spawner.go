package engine

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Spawner 负责交易引擎进程的健康检查与拉起。引擎是独立进程，被多个 CLI
// 共享；EnsureEngine 幂等，每个 CLI 启动时都可以安全调用。
// Spawner health-checks and launches the trading engine process. The engine
// is a separate process shared by every CLI; EnsureEngine is idempotent and
// safe to call from each CLI at startup.
type Spawner struct {
	command      []string
	healthURL    string
	shutdownURL  string
	startTimeout time.Duration
	pollInterval time.Duration
	client       *http.Client
	log          zerolog.Logger

	// spawn is swappable for tests.
	spawn func(ctx context.Context) error
}

func NewSpawner(command []string, healthURL, shutdownURL string, startTimeout, pollInterval time.Duration, log zerolog.Logger) *Spawner {
	if startTimeout <= 0 {
		startTimeout = 30 * time.Second
	}
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}
	s := &Spawner{
		command:      command,
		healthURL:    healthURL,
		shutdownURL:  shutdownURL,
		startTimeout: startTimeout,
		pollInterval: pollInterval,
		client:       &http.Client{Timeout: 3 * time.Second},
		log:          log,
	}
	s.spawn = s.spawnDetached
	return s
}

// Healthy 访问引擎状态端点；2xx 即视为健康。
// Healthy hits the engine status endpoint; any 2xx response counts as
// healthy.
func (s *Spawner) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.healthURL, nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// EnsureEngine 健康则直接返回；不健康则分离拉起引擎并轮询到健康为止。
// EnsureEngine returns immediately when the engine is healthy; otherwise it
// spawns the engine detached and polls until healthy.
func (s *Spawner) EnsureEngine(ctx context.Context) error {
	if s.Healthy(ctx) {
		return nil
	}
	s.log.Info().Msg("engine not responding, spawning")
	if err := s.spawn(ctx); err != nil {
		return fmt.Errorf("spawn engine: %w", err)
	}

	deadline := time.Now().Add(s.startTimeout)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		if s.Healthy(ctx) {
			s.log.Info().Msg("engine healthy")
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("engine did not become healthy within %s", s.startTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Shutdown asks the engine to exit via its shutdown endpoint.
func (s *Spawner) Shutdown(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.shutdownURL, nil)
	if err != nil {
		return fmt.Errorf("shutdown request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("shutdown engine: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("shutdown engine: status %d", resp.StatusCode)
	}
	return nil
}

// spawnDetached launches the engine in its own session so it outlives this
// CLI process.
func (s *Spawner) spawnDetached(_ context.Context) error {
	if len(s.command) == 0 || strings.TrimSpace(s.command[0]) == "" {
		return fmt.Errorf("engine command is empty")
	}
	cmd := exec.Command(s.command[0], s.command[1:]...)
	setSysProcAttr(cmd)
	if err := cmd.Start(); err != nil {
		return err
	}
	// Reap in the background so the child never turns into a zombie.
	go func() { _ = cmd.Wait() }()
	return nil
}
