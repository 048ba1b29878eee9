package conflict

import (
	"context"
	"fmt"
	"time"

	"github.com/syncmesh/syncmesh/internal/applog"
	"github.com/syncmesh/syncmesh/internal/connector"
	"github.com/syncmesh/syncmesh/internal/storage"
	"github.com/syncmesh/syncmesh/internal/synerr"
	"github.com/syncmesh/syncmesh/internal/types"
)

// Resolution is the outcome of applying a resolution strategy to a
// conflict (§4.H). RequiresManual mirrors the "manual" strategy's
// {requiresManual: true} return — nothing has been applied.
type Resolution struct {
	Strategy       types.ConflictStrategy
	Winner         Side
	ResolvedValue  interface{}
	Rationale      string
	RequiresManual bool
}

// Resolver implements the closed set of conflict-resolution strategies.
type Resolver struct {
	store storage.Store
	log   *applog.Logger
}

// NewResolver constructs a Resolver backed by store.
func NewResolver(store storage.Store) *Resolver {
	return &Resolver{store: store, log: applog.New("resolver")}
}

// Resolve picks a strategy (override, else config default, else
// last-write-wins), computes a resolution, persists an audit record, and
// flips the conflict row to resolved unless the strategy requires manual
// intervention.
func (r *Resolver) Resolve(ctx context.Context, c *types.SyncConflict, cfg *types.SyncConfig, strategyOverride types.ConflictStrategy, resolvedBy string) (*Resolution, error) {
	strategy := strategyOverride
	if strategy == "" {
		strategy = cfg.ConflictStrategy
	}
	if strategy == "" {
		strategy = types.StrategyLastWriteWins
	}

	res, err := r.compute(c, strategy)
	if err != nil {
		return nil, err
	}

	audit := &types.ConflictResolution{
		ConflictID:    c.ID,
		Strategy:      strategy,
		PreviousValue: c.BaseValue,
		ResolvedValue: res.ResolvedValue,
		Rationale:     res.Rationale,
		ResolvedBy:    resolvedBy,
		CreatedAt:     time.Now().UTC(),
	}
	if err := r.store.SaveResolution(ctx, audit); err != nil {
		return nil, fmt.Errorf("resolver: save resolution audit: %w", err)
	}

	if res.RequiresManual {
		return res, &synerr.ConflictRequiresManual{ConflictID: c.ID}
	}

	now := time.Now().UTC()
	c.Status = types.ConflictResolved
	c.ResolutionStrategy = strategy
	c.ResolvedValue = res.ResolvedValue
	c.ResolvedBy = resolvedBy
	c.ResolvedAt = &now
	if err := r.store.UpdateConflict(ctx, c); err != nil {
		return nil, fmt.Errorf("resolver: update conflict %s: %w", c.ID, err)
	}
	return res, nil
}

// compute implements the strategy table in §4.H without touching storage.
func (r *Resolver) compute(c *types.SyncConflict, strategy types.ConflictStrategy) (*Resolution, error) {
	switch strategy {
	case types.StrategyLastWriteWins:
		srcTime, srcOK := parseMetaTime(c.Metadata, "sourceChangedDate")
		tgtTime, tgtOK := parseMetaTime(c.Metadata, "targetChangedDate")
		winner := SideSource
		rationale := "source wins (default; no comparable timestamps)"
		if srcOK && tgtOK {
			if tgtTime.After(srcTime) {
				winner = SideTarget
				rationale = "target changedDate is newer"
			} else {
				rationale = "source changedDate is newer or equal (tie -> source)"
			}
		}
		return &Resolution{Strategy: strategy, Winner: winner, ResolvedValue: valueFor(c, winner), Rationale: rationale}, nil

	case types.StrategySourcePriority:
		return &Resolution{Strategy: strategy, Winner: SideSource, ResolvedValue: c.SourceValue, Rationale: "source-priority strategy"}, nil

	case types.StrategyTargetPriority:
		return &Resolution{Strategy: strategy, Winner: SideTarget, ResolvedValue: c.TargetValue, Rationale: "target-priority strategy"}, nil

	case types.StrategyMerge:
		if valuesEqual(c.SourceValue, c.BaseValue) {
			return &Resolution{Strategy: strategy, Winner: SideTarget, ResolvedValue: c.TargetValue, Rationale: "source unchanged from base, target value kept"}, nil
		}
		if valuesEqual(c.TargetValue, c.BaseValue) {
			return &Resolution{Strategy: strategy, Winner: SideSource, ResolvedValue: c.SourceValue, Rationale: "target unchanged from base, source value kept"}, nil
		}
		return r.compute(c, types.StrategyLastWriteWins)

	case types.StrategyManual:
		return &Resolution{Strategy: strategy, RequiresManual: true, Rationale: "manual strategy: awaiting human resolution"}, nil

	default:
		return nil, fmt.Errorf("resolver: unknown strategy %q", strategy)
	}
}

func valueFor(c *types.SyncConflict, side Side) interface{} {
	if side == SideTarget {
		return c.TargetValue
	}
	return c.SourceValue
}

func parseMetaTime(meta map[string]string, key string) (time.Time, bool) {
	raw, ok := meta[key]
	if !ok || raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ResolveManually applies an operator-chosen value directly, bypassing
// strategy selection (§4.H).
func (r *Resolver) ResolveManually(ctx context.Context, conflictID string, value interface{}, rationale, by string) (*types.ConflictResolution, error) {
	c, err := r.store.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, fmt.Errorf("resolver: load conflict %s: %w", conflictID, err)
	}

	audit := &types.ConflictResolution{
		ConflictID:    conflictID,
		Strategy:      types.StrategyManual,
		PreviousValue: c.BaseValue,
		ResolvedValue: value,
		Rationale:     rationale,
		ResolvedBy:    by,
		CreatedAt:     time.Now().UTC(),
	}
	if err := r.store.SaveResolution(ctx, audit); err != nil {
		return nil, fmt.Errorf("resolver: save manual resolution audit: %w", err)
	}

	now := time.Now().UTC()
	c.Status = types.ConflictResolved
	c.ResolutionStrategy = types.StrategyManual
	c.ResolvedValue = value
	c.ResolvedBy = by
	c.ResolvedAt = &now
	if err := r.store.UpdateConflict(ctx, c); err != nil {
		return nil, fmt.Errorf("resolver: update conflict %s: %w", conflictID, err)
	}
	return audit, nil
}

// ApplyResolution writes the resolved value to the target via the target
// connector. For bidirectional configs where the winning value came from
// the target (target-priority, or manual choosing the target value), the
// value is also written back to the source so both sides converge (§4.H).
func (r *Resolver) ApplyResolution(ctx context.Context, c *types.SyncConflict, res *Resolution, cfg *types.SyncConfig, sourceConn, targetConn connector.Connector) error {
	if c.FieldName == "" {
		return fmt.Errorf("resolver: conflict %s has no field name to apply", c.ID)
	}

	audit := &types.ConflictResolution{ConflictID: c.ID, Strategy: res.Strategy, ResolvedValue: res.ResolvedValue}

	_, err := targetConn.UpdateWorkItem(ctx, c.TargetWorkItemID, map[string]interface{}{c.FieldName: res.ResolvedValue})
	if err != nil {
		audit.ApplicationResult = "target write failed: " + err.Error()
		_ = r.store.SaveResolution(ctx, audit)
		return fmt.Errorf("resolver: apply to target %s: %w", c.TargetWorkItemID, err)
	}
	audit.AppliedToTarget = true

	writeBackToSource := cfg.Direction == types.DirectionBidirectional &&
		res.Winner == SideTarget &&
		(res.Strategy == types.StrategyTargetPriority || res.Strategy == types.StrategyManual)

	if writeBackToSource {
		if _, err := sourceConn.UpdateWorkItem(ctx, c.SourceWorkItemID, map[string]interface{}{c.FieldName: res.ResolvedValue}); err != nil {
			audit.ApplicationResult = "source write failed: " + err.Error()
			_ = r.store.SaveResolution(ctx, audit)
			return fmt.Errorf("resolver: apply to source %s: %w", c.SourceWorkItemID, err)
		}
		audit.AppliedToSource = true
	}

	audit.ApplicationResult = "ok"
	return r.store.SaveResolution(ctx, audit)
}

// ResolveMany loops Resolve over conflicts with a single strategy
// override, returning per-conflict success/failure without transactional
// semantics across items (§4.H).
type ManyResult struct {
	ConflictID string
	Err        error
}

func (r *Resolver) ResolveMany(ctx context.Context, conflicts []*types.SyncConflict, cfg *types.SyncConfig, strategy types.ConflictStrategy, resolvedBy string) []ManyResult {
	out := make([]ManyResult, 0, len(conflicts))
	for _, c := range conflicts {
		_, err := r.Resolve(ctx, c, cfg, strategy, resolvedBy)
		out = append(out, ManyResult{ConflictID: c.ID, Err: err})
	}
	return out
}
