package main

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"os/exec"
	"time"

	"dealfiles/internal/api"
	"dealfiles/internal/config"
)

const (
	serverStartTimeout = 3 * time.Second
	serverPollInterval = 100 * time.Millisecond
)

func newAPIClient(cfg *config.Config) *api.Client {
	return api.NewClient(api.ClientOptions{
		BaseURL: cfg.APIURL,
		Token:   cfg.APIToken,
		Timeout: api.ParseHTTPTimeout(os.Getenv(api.HTTPTimeoutEnvKey)),
	})
}

func withClient(cfg *config.Config, fn func(*api.Client) error) error {
	cleanup, err := ensureServer(cfg)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	return fn(newAPIClient(cfg))
}

// ensureServer starts a short-lived local server when nothing answers at
// api_url. The returned cleanup stops it.
func ensureServer(cfg *config.Config) (func(), error) {
	client := newAPIClient(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := client.Ping(ctx); err == nil {
		return nil, nil
	}

	cmd, err := startServerProcess(cfg)
	if err != nil {
		return nil, err
	}

	if err := waitForServer(client, serverStartTimeout); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}

	cleanup := func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}

	return cleanup, nil
}

func startServerProcess(cfg *config.Config) (*exec.Cmd, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(exe, "srv")
	cmd.Env = append(os.Environ(), serverEnv(cfg)...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// serverEnv pins the child server to the same storage the CLI resolved.
func serverEnv(cfg *config.Config) []string {
	env := []string{
		"DEALFILES_DB=" + cfg.DBPath,
		"DEALFILES_API_URL=" + cfg.APIURL,
		"DEALFILES_BLOB_ROOT=" + cfg.Blobs.Root,
		"DEALFILES_CATALOG_DRIVER=" + cfg.Catalog.Driver,
	}
	if cfg.Catalog.DSN != "" {
		env = append(env, "DEALFILES_CATALOG_DSN="+cfg.Catalog.DSN)
	}
	return env
}

func waitForServer(client *api.Client, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		err := client.Ping(ctx)
		cancel()
		if err == nil {
			return nil
		}
		if !isConnRefused(err) {
			// Port is taken by something that is not a dealfiles server.
			return err
		}
		time.Sleep(serverPollInterval)
	}
	return errors.New("server did not start in time")
}

func isConnRefused(err error) bool {
	var netErr *net.OpError
	return errors.As(err, &netErr)
}
