// Package api provides the gRPC CascadeService.
//
// A thin orchestration layer: authenticate (interceptor), load the scope's
// rule set from the store, compile it once per scope revision, and hand plain
// values to rules.Engine. The engine never fails a request; only malformed
// requests and store problems surface as gRPC errors.
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/cascade/internal/core/auth"
	"github.com/solatis/cascade/internal/core/config"
	"github.com/solatis/cascade/internal/core/store"
	"github.com/solatis/cascade/internal/rules"
	"github.com/solatis/cascade/internal/types"
)

// RuleSets loads a tenant's rule set. Implemented by *store.Store.
type RuleSets interface {
	LoadRuleSet(ctx context.Context, tenant types.TenantID, scope types.ScopeID) (*store.RuleSet, error)
}

// compiled is a cached program for one scope revision.
type compiled struct {
	updatedAt time.Time
	program   *rules.Program
}

// CascadeService implements CascadeServer.
type CascadeService struct {
	sets            RuleSets
	engine          *rules.Engine
	logger          *zap.Logger
	requestTimeout  time.Duration
	maxRules        int
	maxRouteTargets int

	mu       sync.Mutex
	programs map[types.ScopeID]compiled
}

var _ CascadeServer = (*CascadeService)(nil)

// NewCascadeService creates service instance with dependencies.
func NewCascadeService(sets RuleSets, engine *rules.Engine, cfg *config.Config, logger *zap.Logger) (*CascadeService, error) {
	if sets == nil {
		return nil, fmt.Errorf("sets cannot be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("cfg cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CascadeService{
		sets:            sets,
		engine:          engine,
		logger:          logger,
		requestTimeout:  cfg.Server.RequestTimeout,
		maxRules:        cfg.Engine.MaxRules,
		maxRouteTargets: cfg.Server.MaxRouteTargets,
		programs:        make(map[types.ScopeID]compiled),
	}, nil
}

// Resolve evaluates one scope's rule set with the scope's mode.
func (s *CascadeService) Resolve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tenantID := auth.TenantIDFromContext(ctx)
	if tenantID == "" {
		return nil, status.Error(codes.Internal, "missing tenant_id in context")
	}

	scopeID, err := scopeArg(req.GetFields()["scope_id"])
	if err != nil {
		return nil, err
	}
	values, err := bagArg(req, "values")
	if err != nil {
		return nil, err
	}
	resolved, err := bagArg(req, "resolved")
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	set, program, err := s.load(ctx, tenantID, scopeID)
	if err != nil {
		return nil, err
	}

	state := s.engine.ForMode(set.Scope.Mode).ResolveProgram(program, values, resolved)
	return StateToStruct(state), nil
}

// Route gates each candidate target through its routing rule set.
// A target that does not exist for the tenant fails closed with an error
// entry instead of failing the whole request.
func (s *CascadeService) Route(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tenantID := auth.TenantIDFromContext(ctx)
	if tenantID == "" {
		return nil, status.Error(codes.Internal, "missing tenant_id in context")
	}

	targets := req.GetFields()["targets"].GetListValue().GetValues()
	if len(targets) == 0 {
		return nil, invalidArgument("targets required")
	}
	if len(targets) > s.maxRouteTargets {
		return nil, invalidArgument("route request exceeds maximum of %d targets", s.maxRouteTargets)
	}
	values, err := bagArg(req, "values")
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	results := make([]*structpb.Value, 0, len(targets))
	for _, target := range targets {
		scopeID, err := scopeArg(target)
		if err != nil {
			return nil, err
		}

		entry := map[string]*structpb.Value{
			"scope_id":  structpb.NewStringValue(string(scopeID)),
			"pass":      structpb.NewBoolValue(false),
			"converged": structpb.NewBoolValue(false),
			"passes":    structpb.NewNumberValue(0),
		}

		_, program, err := s.load(ctx, tenantID, scopeID)
		if status.Code(err) == codes.NotFound {
			entry["error"] = structpb.NewStringValue(status.Convert(err).Message())
			results = append(results, structpb.NewStructValue(&structpb.Struct{Fields: entry}))
			continue
		}
		if err != nil {
			return nil, err
		}

		decision := s.engine.RouteProgram(program, values)
		entry["pass"] = structpb.NewBoolValue(decision.Pass)
		entry["converged"] = structpb.NewBoolValue(decision.Converged)
		entry["passes"] = structpb.NewNumberValue(float64(decision.Passes))
		entry["hidden"] = fieldList(decision.Hidden)
		results = append(results, structpb.NewStructValue(&structpb.Struct{Fields: entry}))
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"results": structpb.NewListValue(&structpb.ListValue{Values: results}),
	}}, nil
}

// load fetches the rule set and returns the program compiled for its
// current revision, compiling at most once per scope update.
func (s *CascadeService) load(ctx context.Context, tenant types.TenantID, scope types.ScopeID) (*store.RuleSet, *rules.Program, error) {
	set, err := s.sets.LoadRuleSet(ctx, tenant, scope)
	if err != nil {
		return nil, nil, storeError(err)
	}
	if s.maxRules > 0 && len(set.Rules) > s.maxRules {
		return nil, nil, status.Errorf(codes.FailedPrecondition, "scope %s has %d rules, maximum is %d", scope, len(set.Rules), s.maxRules)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.programs[scope]; ok && c.updatedAt.Equal(set.Scope.UpdatedAt) {
		return set, c.program, nil
	}

	program := rules.Compile(set.Rules, set.Fields)
	s.programs[scope] = compiled{updatedAt: set.Scope.UpdatedAt, program: program}
	s.logger.Debug("compiled rule set",
		zap.String("scope_id", string(scope)),
		zap.String("mode", string(set.Scope.Mode)),
		zap.Int("rules", len(set.Rules)),
		zap.Int("fields", len(set.Fields)),
	)
	return set, program, nil
}

func (s *CascadeService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.requestTimeout)
}

func scopeArg(v *structpb.Value) (types.ScopeID, error) {
	raw, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok || raw.StringValue == "" {
		return "", invalidArgument("scope_id required")
	}
	id, err := types.ParseScopeID(raw.StringValue)
	if err != nil {
		return "", invalidArgument("invalid scope_id %q", raw.StringValue)
	}
	return id, nil
}

// bagArg reads an optional object argument.
func bagArg(req *structpb.Struct, name string) (types.ValueBag, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return types.ValueBag{}, nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StructValue:
		return BagFromStruct(k.StructValue), nil
	case *structpb.Value_NullValue:
		return types.ValueBag{}, nil
	default:
		return nil, invalidArgument("%s must be an object", name)
	}
}
