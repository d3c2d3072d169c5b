// README: Tool registry exposed to the language model as function declarations.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"roam/internal/types"
)

var (
	ErrUnknownTool       = errors.New("unknown tool")
	ErrToolTimeout       = errors.New("tool timed out")
	ErrSearchUnavailable = errors.New("vehicle search unavailable")
	ErrBadArguments      = errors.New("bad tool arguments")
)

const DefaultTimeout = 4 * time.Second

// ParamType follows the JSON-schema primitive names.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
)

type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Enum        []string
}

// Contract is a tool's name and input schema.
type Contract struct {
	Name        string
	Description string
	Params      []Param
}

type Tool interface {
	Contract() Contract
	Call(ctx context.Context, args map[string]any, ws *Workspace) (any, error)
}

// Record is one executed call, kept on the workspace for the audit trail.
type Record struct {
	Tool     string         `json:"tool"`
	Args     map[string]any `json:"args,omitempty"`
	Result   any            `json:"result,omitempty"`
	Err      string         `json:"error,omitempty"`
	Duration time.Duration  `json:"durationNs"`
}

// Observer is notified after every call; metrics implement it.
type Observer interface {
	ToolCalled(name string, err error, d time.Duration)
}

type Registry struct {
	tools    map[string]Tool
	timeouts map[string]time.Duration
	timeout  time.Duration
	log      *zap.Logger
	observer Observer
}

func NewRegistry(log *zap.Logger, tools ...Tool) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{
		tools:    map[string]Tool{},
		timeouts: map[string]time.Duration{},
		timeout:  DefaultTimeout,
		log:      log,
	}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

func (r *Registry) Register(t Tool) {
	r.tools[t.Contract().Name] = t
}

// SetTimeout overrides the per-call timeout for one tool, or the default when name is empty.
func (r *Registry) SetTimeout(name string, d time.Duration) {
	if name == "" {
		r.timeout = d
		return
	}
	r.timeouts[name] = d
}

func (r *Registry) SetObserver(o Observer) {
	r.observer = o
}

func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Contracts returns every registered contract sorted by name.
func (r *Registry) Contracts() []Contract {
	out := make([]Contract, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Contract())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call runs one tool under its timeout and records the outcome on ws.
func (r *Registry) Call(ctx context.Context, ws *Workspace, name string, args map[string]any) (any, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	timeout := r.timeout
	if d, ok := r.timeouts[name]; ok {
		timeout = d
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err := t.Call(cctx, args, ws)
	if err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("%w: %s after %s: %w", ErrToolTimeout, name, timeout, err)
	}
	d := time.Since(start)

	rec := Record{Tool: name, Args: args, Duration: d}
	if err != nil {
		rec.Err = err.Error()
		r.log.Warn("tool call failed", zap.String("tool", name), zap.Duration("duration", d), zap.Error(err))
	} else {
		rec.Result = res
		r.log.Debug("tool call", zap.String("tool", name), zap.Duration("duration", d))
	}
	ws.record(rec)
	if r.observer != nil {
		r.observer.ToolCalled(name, err, d)
	}
	return res, err
}

// decodeArgs maps loosely typed model arguments onto a struct via JSON.
func decodeArgs(args map[string]any, dst any) error {
	if len(args) == 0 {
		return nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadArguments, err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrBadArguments, err)
	}
	return nil
}

func optional[T comparable](p *T) types.Optional[T] {
	if p == nil {
		return types.None[T]()
	}
	return types.Some(*p)
}
