package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"ipoddock/internal/api"
	"ipoddock/internal/config"
	"ipoddock/internal/queue"
	"ipoddock/internal/queueaccess"
	"ipoddock/internal/services"
)

type commandContext struct {
	configFlag *string
	apiFlag    *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, apiFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		apiFlag:    apiFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

// apiClient returns a client for the daemon, or nil when the API is disabled.
// httpClient may be nil for the default timeout.
func (c *commandContext) apiClient(httpClient *http.Client) (*api.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	target := ""
	if c.apiFlag != nil {
		target = strings.TrimSpace(*c.apiFlag)
	}
	if target == "" {
		target = strings.TrimSpace(cfg.API.Bind)
	}
	if target == "" {
		return nil, nil
	}
	if strings.Contains(target, "://") {
		return api.NewClientForURL(target, cfg.API.Token, httpClient)
	}
	return api.NewClient(target, cfg.API.Token, httpClient)
}

// requireAPI is apiClient for commands that cannot work without the daemon.
func (c *commandContext) requireAPI(httpClient *http.Client) (*api.Client, error) {
	client, err := c.apiClient(httpClient)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errors.New("daemon api is disabled (api.bind is empty)")
	}
	return client, nil
}

// withQueue runs fn against the daemon API, or against the queue database
// when the daemon is not running.
func (c *commandContext) withQueue(cmd *cobra.Command, fn func(queueaccess.Access) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	client, err := c.apiClient(nil)
	if err != nil {
		return err
	}
	session, err := queueaccess.OpenWithFallback(commandCtx(cmd), client, func() (*queue.Store, error) {
		return queue.Open(cfg)
	})
	if err != nil {
		return wrapAPIError(err)
	}
	defer session.Close()
	return wrapAPIError(fn(session.Access))
}

// daemonLockHeld reports whether a daemon process holds the instance lock.
func daemonLockHeld(cfg *config.Config) (bool, error) {
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("probe daemon lock: %w", err)
	}
	if !ok {
		return true, nil
	}
	_ = lock.Unlock()
	return false, nil
}

func wrapAPIError(err error) error {
	var statusErr *api.StatusError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, api.ErrAPIUnavailable):
		return fmt.Errorf("daemon is not running; start it with `ipoddock start` (%w)", err)
	case errors.As(err, &statusErr) && statusErr.Code == http.StatusUnauthorized:
		return errors.New("daemon rejected the api token; check api.token in the config")
	case errors.Is(err, api.ErrConflict):
		return fmt.Errorf("a sync session is running; retry when it finishes (%w)", err)
	case errors.Is(err, services.ErrDeviceNotFound):
		return fmt.Errorf("the player is not connected (%w)", err)
	default:
		return err
	}
}

func commandCtx(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
