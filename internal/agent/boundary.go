package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// ProviderResolver maps a definition's model config to a concrete
// LLMProvider. Hosts register one per backend name ("anthropic", "openai",
// "bedrock", "google", "ollama").
type ProviderResolver func(cfg ModelConfig) (LLMProvider, error)

// RegistryBuilder produces a fresh, private ToolRegistry for one
// invocation of the given definition. Each child run gets its own registry
// so mutations in a child never leak to the parent.
type RegistryBuilder func(def *AgentDefinition) (*ToolRegistry, error)

// Boundary bridges a parent execution to a child Driver run: it registers
// the process-wide interrupt frame around the child, forwards the child's
// activity events to the parent's sink, and enforces the active-children
// cap. Frames execute strictly one at a time; Invoke is synchronous and
// the parent is suspended while the child runs.
type Boundary struct {
	mu          sync.RWMutex
	definitions map[string]*AgentDefinition

	resolveProvider ProviderResolver
	buildRegistry   RegistryBuilder
	interrupts      *InterruptManager
	telemetry       Telemetry
	compression     CompressionService
	envContext      EnvironmentContextFunc

	maxActive   int64
	activeCount int64
}

// BoundaryOption customizes a Boundary at construction.
type BoundaryOption func(*Boundary)

// WithBoundaryTelemetry installs a telemetry sink passed to every child
// driver.
func WithBoundaryTelemetry(t Telemetry) BoundaryOption {
	return func(b *Boundary) {
		if t != nil {
			b.telemetry = t
		}
	}
}

// WithBoundaryCompression installs the chat-compression service passed to
// remote-adapter children.
func WithBoundaryCompression(c CompressionService) BoundaryOption {
	return func(b *Boundary) { b.compression = c }
}

// WithBoundaryEnvironmentContext installs the environment-context provider
// passed to every child driver.
func WithBoundaryEnvironmentContext(f EnvironmentContextFunc) BoundaryOption {
	return func(b *Boundary) { b.envContext = f }
}

// WithMaxActive caps how many child agents may be in flight at once across
// the process. Zero or negative keeps the default of 5.
func WithMaxActive(n int) BoundaryOption {
	return func(b *Boundary) {
		if n > 0 {
			b.maxActive = int64(n)
		}
	}
}

// NewBoundary builds an Invocation Boundary over the process-wide
// interrupt manager. resolveProvider and buildRegistry are required; both
// are invoked once per child run.
func NewBoundary(interrupts *InterruptManager, resolveProvider ProviderResolver, buildRegistry RegistryBuilder, opts ...BoundaryOption) (*Boundary, error) {
	if resolveProvider == nil {
		return nil, fmt.Errorf("boundary: provider resolver is required")
	}
	if buildRegistry == nil {
		return nil, fmt.Errorf("boundary: registry builder is required")
	}
	if interrupts == nil {
		interrupts = NewInterruptManager()
	}
	b := &Boundary{
		definitions:     make(map[string]*AgentDefinition),
		resolveProvider: resolveProvider,
		buildRegistry:   buildRegistry,
		interrupts:      interrupts,
		telemetry:       NopTelemetry{},
		maxActive:       5,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// RegisterDefinition makes a definition invokable by name. Definitions are
// validated at registration so misconfiguration fails at startup, not
// mid-delegation.
func (b *Boundary) RegisterDefinition(def *AgentDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.definitions[def.Name]; exists {
		return fmt.Errorf("boundary: agent %q already registered", def.Name)
	}
	b.definitions[def.Name] = def
	return nil
}

// Definition returns the registered definition by name.
func (b *Boundary) Definition(name string) (*AgentDefinition, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	def, ok := b.definitions[name]
	return def, ok
}

// Definitions returns every registered definition, for a parent deciding
// where to delegate.
func (b *Boundary) Definitions() []*AgentDefinition {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*AgentDefinition, 0, len(b.definitions))
	for _, def := range b.definitions {
		out = append(out, def)
	}
	return out
}

// Interrupts exposes the manager the host's operator-signal router should
// target.
func (b *Boundary) Interrupts() *InterruptManager { return b.interrupts }

// Invoke runs the named child agent to completion and returns its result.
// The child's interrupt frame is pushed inside Driver.Run and popped on
// exit regardless of outcome, so an operator interrupt during the child
// reaches only the child. Activity events flow to parentSink as they are
// emitted; the parent's own emitter is untouched.
func (b *Boundary) Invoke(ctx context.Context, name string, inputs map[string]string, parentSink EventSink) (*RunResult, error) {
	def, ok := b.Definition(name)
	if !ok {
		return nil, NewDriverError(CategoryConfiguration, "", fmt.Errorf("boundary: no agent named %q", name))
	}

	if atomic.AddInt64(&b.activeCount, 1) > b.maxActive {
		atomic.AddInt64(&b.activeCount, -1)
		return nil, fmt.Errorf("boundary: max active sub-agents reached (%d)", b.maxActive)
	}
	defer atomic.AddInt64(&b.activeCount, -1)

	provider, err := b.resolveProvider(def.Model)
	if err != nil {
		return nil, NewDriverError(CategoryConfiguration, "", err)
	}
	registry, err := b.buildRegistry(def)
	if err != nil {
		return nil, NewDriverError(CategoryConfiguration, "", err)
	}

	driver, err := NewDriver(def, registry, provider, b.interrupts, parentSink,
		WithTelemetry(b.telemetry),
		WithCompression(b.compression),
		WithEnvironmentContext(b.envContext),
	)
	if err != nil {
		return nil, err
	}
	return driver.Run(ctx, inputs)
}
