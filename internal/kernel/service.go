// Package kernel implements the hamnix kernel: the long-running service that
// synthesizes, caches and serves command artifacts and the session state
// shared between shells.
//
// All tasks run one at a time. The Server feeds a FIFO Queue whose single
// worker calls Service.Execute, and Execute additionally holds the service
// lock, so the oracle is never invoked concurrently and environment updates
// are never lost between clients.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ruapotato/hamnix/internal/oracle"
	"github.com/ruapotato/hamnix/internal/store"
)

// Synthesizer produces validated artifact source for a request.
type Synthesizer interface {
	Synthesize(ctx context.Context, req oracle.Request) (string, error)
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Store       *store.Store
	Synthesizer Synthesizer
	Prompts     oracle.PromptOptions
	// FallbackStub writes the "not implemented" stub when synthesis of a
	// command that has no artifact yet is exhausted.
	FallbackStub bool
	InitialEnv   map[string]string
}

// Service owns the Command Store, Context Table and Shared Environment.
type Service struct {
	mu       sync.Mutex
	store    *store.Store
	synth    Synthesizer
	prompts  oracle.PromptOptions
	fallback bool
	contexts *ContextTable
	env      *Environment
	log      *zap.Logger
}

// NewService creates a Service.
func NewService(cfg ServiceConfig, log *zap.Logger) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("kernel: store is required")
	}
	if cfg.Synthesizer == nil {
		return nil, errors.New("kernel: synthesizer is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Prompts.EscalationCode == 0 {
		cfg.Prompts.EscalationCode = 2
	}
	return &Service{
		store:    cfg.Store,
		synth:    cfg.Synthesizer,
		prompts:  cfg.Prompts,
		fallback: cfg.FallbackStub,
		contexts: NewContextTable(),
		env:      NewEnvironment(cfg.InitialEnv),
		log:      log,
	}, nil
}

// Execute runs one task under the service lock. The returned value is the
// success payload; errors are always *Error.
func (s *Service) Execute(ctx context.Context, req Request) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.Type {
	case TaskGenerateCommand:
		return s.generateCommand(ctx, req)
	case TaskExtendCommand:
		return s.extendCommand(ctx, req)
	case TaskSwitchContext:
		return s.switchContext(req)
	case TaskGetPrompt:
		return s.getPrompt(req)
	case TaskUpdateEnv:
		s.env.Merge(req.EnvUpdates)
		s.log.Debug("environment updated", zap.Int("keys", len(req.EnvUpdates)))
		return "Environment updated", nil
	case TaskGetEnv:
		return s.env.Snapshot(), nil
	default:
		s.log.Warn("unknown task type", zap.String("type", req.Type))
		return nil, Errorf(CodeUnknownTaskType, "unknown task type: %s", req.Type)
	}
}

func (s *Service) generateCommand(ctx context.Context, req Request) (any, error) {
	if err := store.ValidateName(req.Command); err != nil {
		return nil, Errorf(CodeMalformedRequest, "%v", err)
	}

	if !req.ForceRegenerate {
		path, ok, err := s.store.Lookup(req.Command)
		if err != nil {
			return nil, Errorf(CodeGenerationFailed, "lookup %s: %v", req.Command, err)
		}
		if ok {
			s.log.Debug("artifact cache hit", zap.String("command", req.Command))
			return path, nil
		}
	}

	prompt := oracle.SynthesisPrompt(req.Command, req.Args, s.prompts)
	return s.synthesize(ctx, req, prompt, "")
}

func (s *Service) extendCommand(ctx context.Context, req Request) (any, error) {
	if err := store.ValidateName(req.Command); err != nil {
		return nil, Errorf(CodeMalformedRequest, "%v", err)
	}

	source := req.Source
	if source == "" {
		current, err := s.store.Read(req.Command)
		switch {
		case err == nil:
			source = current
		case errors.Is(err, store.ErrNotFound):
			// Nothing to extend; synthesize from scratch.
			prompt := oracle.SynthesisPrompt(req.Command, req.Args, s.prompts)
			return s.synthesize(ctx, req, prompt, "")
		default:
			return nil, Errorf(CodeGenerationFailed, "read %s: %v", req.Command, err)
		}
	}

	prompt := oracle.ExtensionPrompt(req.Command, req.Args, source, s.prompts)
	return s.synthesize(ctx, req, prompt, source)
}

// synthesize records prompt in the request's context, asks the oracle for
// source and stores the result.
func (s *Service) synthesize(ctx context.Context, req Request, prompt, source string) (any, error) {
	contextID := req.ContextID
	if contextID == "" {
		contextID = DefaultContextID
	}
	s.contexts.Ensure(contextID)
	history, _ := s.contexts.Prompts(contextID)
	s.contexts.Append(contextID, prompt)

	log := s.log.With(zap.String("command", req.Command), zap.String("context", contextID))
	log.Info("synthesizing command", zap.Strings("args", req.Args), zap.Bool("extend", source != ""))

	code, err := s.synth.Synthesize(ctx, oracle.Request{
		Command: req.Command,
		Args:    req.Args,
		Prompt:  prompt,
		History: history,
		Source:  source,
	})
	if err != nil {
		return s.synthesisFailed(req.Command, err, log)
	}

	path, err := s.store.Write(req.Command, code)
	if err != nil {
		log.Error("failed to store artifact", zap.Error(err))
		return nil, Errorf(CodeGenerationFailed, "%v", err)
	}
	log.Info("artifact written", zap.String("path", path))
	return path, nil
}

func (s *Service) synthesisFailed(command string, cause error, log *zap.Logger) (any, error) {
	_, exists, lerr := s.store.Lookup(command)
	if lerr == nil && !exists && s.fallback {
		path, err := s.store.Write(command, oracle.StubSource(command))
		if err == nil {
			log.Warn("synthesis failed, installed stub", zap.Error(cause), zap.String("path", path))
			return path, nil
		}
		log.Error("failed to write stub artifact", zap.Error(err))
	}
	log.Error("synthesis failed", zap.Error(cause))
	return nil, Errorf(CodeGenerationFailed, "Error generating command: %v", cause)
}

func (s *Service) switchContext(req Request) (any, error) {
	if req.ContextID == "" {
		return nil, Errorf(CodeMalformedRequest, "switch_context requires context_id")
	}
	s.contexts.Ensure(req.ContextID)
	return fmt.Sprintf("Switched to context %s", req.ContextID), nil
}

func (s *Service) getPrompt(req Request) (any, error) {
	joined, ok := s.contexts.Joined(req.ContextID)
	if !ok {
		return nil, Errorf(CodeContextNotFound, "context not found: %s", req.ContextID)
	}
	return joined, nil
}
