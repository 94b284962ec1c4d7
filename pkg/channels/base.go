// Package channels holds the platform connectors: long-lived listeners
// and outbound clients for each connected chat service.
package channels

import (
	"context"
	"sync/atomic"
)

type Connector interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
}

type BaseConnector struct {
	name    string
	running atomic.Bool
}

func NewBaseConnector(name string) *BaseConnector {
	return &BaseConnector{name: name}
}

func (c *BaseConnector) Name() string {
	return c.name
}

func (c *BaseConnector) IsRunning() bool {
	return c.running.Load()
}

func (c *BaseConnector) SetRunning(running bool) {
	c.running.Store(running)
}
