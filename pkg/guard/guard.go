// Package guard provides the public API for embedding the guarded agent
// pipeline in another program.
package guard

import (
	"github.com/tjfontaine/agentcore-guard/internal/config"
	"github.com/tjfontaine/agentcore-guard/internal/core/domain"
	"github.com/tjfontaine/agentcore-guard/internal/pipeline"
	"github.com/tjfontaine/agentcore-guard/internal/runtime"
)

// Guard is a configured pipeline with its resources.
// See internal/runtime.Guard for full documentation.
type Guard = runtime.Guard

// Option is a functional option for configuring a Guard.
type Option = runtime.Option

// Config is the service configuration.
type Config = config.Config

// Request and response types.
type (
	InvocationRequest = domain.InvocationRequest
	Fragment          = domain.Fragment
	FragmentKind      = domain.FragmentKind
)

// Fragment kinds.
const (
	FragmentText    = domain.FragmentText
	FragmentBlocked = domain.FragmentBlocked
	FragmentWarning = domain.FragmentWarning
)

// New creates a Guard from configuration.
// Example:
//
//	cfg, err := guard.LoadConfig("config.yaml")
//	g, err := guard.New(ctx, cfg, guard.WithLogger(logger))
//	defer g.Close()
//	for frag := range g.Invoke(ctx, guard.InvocationRequest{Prompt: "hi"}) { ... }
var New = runtime.New

// LoadConfig reads a YAML file and AGENTCORE_ environment overrides.
var LoadConfig = config.Load

// Collect drains a fragment channel.
var Collect = pipeline.Collect

// NewInvocationRequest builds a request from a decoded JSON payload.
var NewInvocationRequest = domain.NewInvocationRequest

// Configuration options
var (
	WithLogger       = runtime.WithLogger
	WithAWSConfig    = runtime.WithAWSConfig
	WithApprover     = runtime.WithApprover
	WithModerator    = runtime.WithModerator
	WithPromptStore  = runtime.WithPromptStore
	WithAgentFactory = runtime.WithAgentFactory
	WithSink         = runtime.WithSink
)
