package main

import (
	"context"
	"fmt"

	"github.com/loykin/servisr/pkg/client"
)

const defaultAPIURL = "http://127.0.0.1:9001/api"

// command binds the CLI handlers to the daemon connection settings.
type command struct {
	global *GlobalFlags
}

// apiClient builds a client for the configured daemon and verifies it is
// reachable before any operation runs.
func (c command) apiClient() (*client.Client, error) {
	apiURL := c.global.APIURL
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	cl := client.New(client.Config{BaseURL: apiURL, Timeout: c.global.APITimeout})
	if !cl.IsReachable(context.Background()) {
		return nil, fmt.Errorf("daemon not reachable at %s - start it first with 'servisr serve'", apiURL)
	}
	return cl, nil
}

// Start launches the managed server, optionally with full environment
// validation. The validation report is printed either way.
func (c command) Start(f StartFlags) error {
	cl, err := c.apiClient()
	if err != nil {
		return err
	}
	ctx := context.Background()
	if f.Validate {
		result, err := cl.StartValidated(ctx)
		if result.Report != nil {
			printJSON(result.Report)
		}
		return err
	}
	return cl.Start(ctx)
}

func (c command) Stop() error {
	cl, err := c.apiClient()
	if err != nil {
		return err
	}
	return cl.Stop(context.Background())
}

func (c command) Restart() error {
	cl, err := c.apiClient()
	if err != nil {
		return err
	}
	return cl.Restart(context.Background())
}

func (c command) Status() error {
	cl, err := c.apiClient()
	if err != nil {
		return err
	}
	st, err := cl.Status(context.Background())
	if err != nil {
		return err
	}
	printJSON(st)
	return nil
}

// Health prints the probe result and fails the command when the managed
// server is unhealthy, so scripts can branch on the exit code.
func (c command) Health(f HealthFlags) error {
	cl, err := c.apiClient()
	if err != nil {
		return err
	}
	hs, err := cl.Health(context.Background(), f.Force)
	if err != nil {
		return err
	}
	printJSON(hs)
	if !hs.Healthy {
		return fmt.Errorf("server unhealthy: %s", hs.Error)
	}
	return nil
}

// Discover prints what the daemon can find on its host. Problems are part of
// the report rather than an error.
func (c command) Discover(f DiscoverFlags) error {
	cl, err := c.apiClient()
	if err != nil {
		return err
	}
	rep, err := cl.Discover(context.Background(), f.Force)
	if err != nil {
		return err
	}
	printJSON(rep)
	return nil
}
