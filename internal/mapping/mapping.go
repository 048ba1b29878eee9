// Package mapping implements the mapping engine (§4.F): it loads the
// type/field/status mappings for a sync configuration, caches them with a
// 5-minute TTL, and translates a connector.WorkItem between the source and
// target vocabularies.
package mapping

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/syncmesh/syncmesh/internal/applog"
	"github.com/syncmesh/syncmesh/internal/connector"
	"github.com/syncmesh/syncmesh/internal/storage"
	"github.com/syncmesh/syncmesh/internal/transform"
	"github.com/syncmesh/syncmesh/internal/types"
)

// cacheTTL is the ceiling the mapping cache holds an entry for before a
// forced reload; any write through the mapping-management surface should
// still call ClearCache immediately (§9 "mapping cache invalidation").
const cacheTTL = 5 * time.Minute

// Mapped is the result of mapping one source work item into the target
// vocabulary (§4.F).
type Mapped struct {
	Type   string
	Status string
	Fields map[string]interface{}
}

// ValidationIssue is one problem ValidateMappings reports.
type ValidationIssue struct {
	Severity string // "error" | "warning"
	Message  string
}

// ValidationResult is the outcome of validateMappings(configId).
type ValidationResult struct {
	Valid  bool
	Issues []ValidationIssue
}

type cacheEntry struct {
	set       *storage.MappingSet
	expiresAt time.Time
}

// Engine loads and caches mappings and applies them to work items.
type Engine struct {
	store storage.Store
	log   *applog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New constructs a mapping Engine backed by store.
func New(store storage.Store) *Engine {
	return &Engine{
		store: store,
		log:   applog.New("mapping"),
		cache: make(map[string]cacheEntry),
	}
}

// LoadMappings returns the cached MappingSet for configID, refreshing it
// from the store if absent or past its TTL.
func (e *Engine) LoadMappings(ctx context.Context, configID string) (*storage.MappingSet, error) {
	e.mu.Lock()
	entry, ok := e.cache[configID]
	e.mu.Unlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.set, nil
	}

	set, err := e.store.LoadMappings(ctx, configID)
	if err != nil {
		return nil, fmt.Errorf("mapping: load mappings for %s: %w", configID, err)
	}

	e.mu.Lock()
	e.cache[configID] = cacheEntry{set: set, expiresAt: time.Now().Add(cacheTTL)}
	e.mu.Unlock()
	return set, nil
}

// ClearCache invalidates the cached entry for configID. Call this
// immediately after any mutation through the mapping-management surface.
func (e *Engine) ClearCache(configID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cache, configID)
}

// findTypeMapping returns the active TypeMapping in set whose source type
// name equals sourceTypeName, or nil if none matches.
func (e *Engine) findTypeMapping(ctx context.Context, set *storage.MappingSet, sourceTypeName string) (*types.TypeMapping, error) {
	for i := range set.Types {
		tm := set.Types[i]
		if !tm.Active {
			continue
		}
		srcType, err := e.store.GetWorkItemTypeByID(ctx, tm.SourceTypeID)
		if err != nil {
			return nil, fmt.Errorf("mapping: resolve source type %s: %w", tm.SourceTypeID, err)
		}
		if srcType.TypeName == sourceTypeName {
			return &tm, nil
		}
	}
	return nil, nil
}

// MapWorkItem maps sourceItem into the target vocabulary for configID,
// returning {type, status, fields} per §4.F. ctxVars supplies $context.*
// substitutions for transformation args.
func (e *Engine) MapWorkItem(ctx context.Context, sourceItem connector.WorkItem, configID string, ctxVars map[string]string) (*Mapped, error) {
	set, err := e.LoadMappings(ctx, configID)
	if err != nil {
		return nil, err
	}

	tm, err := e.findTypeMapping(ctx, set, sourceItem.Type)
	if err != nil {
		return nil, err
	}
	out := &Mapped{Fields: map[string]interface{}{}}
	if tm == nil {
		// No type mapping: type and status stay unresolved; fields cannot
		// be resolved either since field mappings key off the type mapping.
		return out, nil
	}

	targetType, err := e.store.GetWorkItemTypeByID(ctx, tm.TargetTypeID)
	if err != nil {
		return nil, fmt.Errorf("mapping: resolve target type %s: %w", tm.TargetTypeID, err)
	}
	out.Type = targetType.TypeName

	if status, ok := sourceItem.Fields[connector.RefState]; ok {
		mappedStatus, err := e.mapStatus(ctx, set.Statuses[tm.ID], status)
		if err != nil {
			return nil, err
		}
		out.Status = mappedStatus
	}

	for _, fm := range set.Fields[tm.ID] {
		value, err := e.resolveFieldValue(fm, sourceItem, ctxVars)
		if err != nil {
			e.log.Warn(fmt.Sprintf("field mapping %s failed: %v", fm.ID, err))
			continue
		}
		if value == nil {
			continue
		}
		targetRef := fm.TargetFieldID
		if f, err := e.store.GetFieldByID(ctx, fm.TargetFieldID); err == nil {
			targetRef = f.ReferenceName
		}
		out.Fields[targetRef] = value
	}

	return out, nil
}

// mapStatus finds the StatusMapping whose source status value matches
// sourceValue and returns the paired target status's value.
func (e *Engine) mapStatus(ctx context.Context, statusMappings []types.StatusMapping, sourceValue interface{}) (string, error) {
	sv := fmt.Sprintf("%v", sourceValue)
	for _, sm := range statusMappings {
		src, err := e.store.GetStatusByID(ctx, sm.SourceStatusID)
		if err != nil {
			continue
		}
		if src.Value == sv || src.Name == sv {
			tgt, err := e.store.GetStatusByID(ctx, sm.TargetStatusID)
			if err != nil {
				return "", fmt.Errorf("mapping: resolve target status %s: %w", sm.TargetStatusID, err)
			}
			return tgt.Value, nil
		}
	}
	return "", nil
}

// resolveFieldValue computes one field's mapped value per its MappingKind.
// Errors here are logged and skipped by the caller — a single bad field
// mapping never aborts the item (§4.F).
func (e *Engine) resolveFieldValue(fm types.FieldMapping, sourceItem connector.WorkItem, ctxVars map[string]string) (interface{}, error) {
	switch fm.MappingKind {
	case types.MappingConstant:
		return fm.ConstantValue, nil

	case types.MappingDirect:
		return e.readSourceValue(fm, sourceItem), nil

	case types.MappingTransformation:
		raw := e.readSourceValue(fm, sourceItem)
		if raw == nil {
			return nil, nil
		}
		steps := make([]transform.Step, len(fm.Transformation))
		for i, s := range fm.Transformation {
			steps[i] = transform.Step{Name: s.Name, Args: s.Args}
		}
		return transform.ApplyChain(raw, steps, ctxVars)

	case types.MappingComputed:
		// Reserved: skip with a warning rather than failing the item.
		e.log.Warn(fmt.Sprintf("field mapping %s: computed kind not implemented, skipping", fm.ID))
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown mapping kind %q", fm.MappingKind)
	}
}

// readSourceValue reads a field's value from sourceItem, trying the field's
// reference name first and falling back to its display name (§4.F
// "by reference first, then display name").
func (e *Engine) readSourceValue(fm types.FieldMapping, sourceItem connector.WorkItem) interface{} {
	if fm.SourceFieldID == "" {
		return nil
	}
	f, err := e.store.GetFieldByID(context.Background(), fm.SourceFieldID)
	if err != nil {
		return nil
	}
	if v, ok := sourceItem.Fields[f.ReferenceName]; ok {
		return v
	}
	if v, ok := sourceItem.Fields[f.DisplayName]; ok {
		return v
	}
	return nil
}

// ReverseMapFields performs target->source projection for bidirectional
// synchronization. By default it only rewrites names (no transforms)
// unless a ReverseTransformation is declared (§4.F, §9).
func (e *Engine) ReverseMapFields(ctx context.Context, targetItem connector.WorkItem, configID string, ctxVars map[string]string) (map[string]interface{}, error) {
	set, err := e.LoadMappings(ctx, configID)
	if err != nil {
		return nil, err
	}

	tm, err := e.findReverseTypeMapping(ctx, set, targetItem.Type)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{}
	if tm == nil {
		return out, nil
	}

	for _, fm := range set.Fields[tm.ID] {
		if fm.SourceFieldID == "" {
			continue
		}
		value := e.readTargetValue(fm, targetItem)
		if value == nil {
			continue
		}
		if len(fm.ReverseTransformation) > 0 {
			steps := make([]transform.Step, len(fm.ReverseTransformation))
			for i, s := range fm.ReverseTransformation {
				steps[i] = transform.Step{Name: s.Name, Args: s.Args}
			}
			value, err = transform.ApplyChain(value, steps, ctxVars)
			if err != nil {
				e.log.Warn(fmt.Sprintf("reverse field mapping %s failed: %v", fm.ID, err))
				continue
			}
			if value == nil {
				continue
			}
		}
		srcField, err := e.store.GetFieldByID(ctx, fm.SourceFieldID)
		if err != nil {
			continue
		}
		out[srcField.ReferenceName] = value
	}

	if status, ok := targetItem.Fields[connector.RefState]; ok {
		reversed, err := e.reverseStatus(ctx, set.Statuses[tm.ID], status)
		if err != nil {
			return nil, err
		}
		if reversed != "" {
			out[connector.RefState] = reversed
		}
	}

	return out, nil
}

// FieldRefPair names one field mapping's canonical reference name on each
// side, resolved ahead of time for the conflict detector (§4.G), which
// otherwise has no way to translate a FieldMapping's opaque field ids.
type FieldRefPair struct {
	FieldMappingID string
	SourceRef      string
	TargetRef      string
}

// FieldRefPairs resolves every active field mapping for sourceTypeName into
// its source/target reference-name pair.
func (e *Engine) FieldRefPairs(ctx context.Context, configID, sourceTypeName string) ([]FieldRefPair, error) {
	set, err := e.LoadMappings(ctx, configID)
	if err != nil {
		return nil, err
	}
	tm, err := e.findTypeMapping(ctx, set, sourceTypeName)
	if err != nil {
		return nil, err
	}
	if tm == nil {
		return nil, nil
	}

	var out []FieldRefPair
	for _, fm := range set.Fields[tm.ID] {
		if fm.SourceFieldID == "" || fm.TargetFieldID == "" {
			continue
		}
		srcField, err := e.store.GetFieldByID(ctx, fm.SourceFieldID)
		if err != nil {
			continue
		}
		tgtField, err := e.store.GetFieldByID(ctx, fm.TargetFieldID)
		if err != nil {
			continue
		}
		out = append(out, FieldRefPair{FieldMappingID: fm.ID, SourceRef: srcField.ReferenceName, TargetRef: tgtField.ReferenceName})
	}
	return out, nil
}

// ReverseMapType resolves the source-side type name paired with targetTypeName
// through the active TypeMapping, for use when an update on the target side
// needs to be promoted into a brand-new record on the source.
func (e *Engine) ReverseMapType(ctx context.Context, configID, targetTypeName string) (string, error) {
	set, err := e.LoadMappings(ctx, configID)
	if err != nil {
		return "", err
	}
	tm, err := e.findReverseTypeMapping(ctx, set, targetTypeName)
	if err != nil {
		return "", err
	}
	if tm == nil {
		return "", nil
	}
	srcType, err := e.store.GetWorkItemTypeByID(ctx, tm.SourceTypeID)
	if err != nil {
		return "", fmt.Errorf("mapping: resolve source type %s: %w", tm.SourceTypeID, err)
	}
	return srcType.TypeName, nil
}

// reverseStatus is mapStatus's mirror: it finds the StatusMapping whose
// target status value matches targetValue and returns the paired source
// status's value.
func (e *Engine) reverseStatus(ctx context.Context, statusMappings []types.StatusMapping, targetValue interface{}) (string, error) {
	tv := fmt.Sprintf("%v", targetValue)
	for _, sm := range statusMappings {
		tgt, err := e.store.GetStatusByID(ctx, sm.TargetStatusID)
		if err != nil {
			continue
		}
		if tgt.Value == tv || tgt.Name == tv {
			src, err := e.store.GetStatusByID(ctx, sm.SourceStatusID)
			if err != nil {
				return "", fmt.Errorf("mapping: resolve source status %s: %w", sm.SourceStatusID, err)
			}
			return src.Value, nil
		}
	}
	return "", nil
}

func (e *Engine) findReverseTypeMapping(ctx context.Context, set *storage.MappingSet, targetTypeName string) (*types.TypeMapping, error) {
	for i := range set.Types {
		tm := set.Types[i]
		if !tm.Active {
			continue
		}
		tgtType, err := e.store.GetWorkItemTypeByID(ctx, tm.TargetTypeID)
		if err != nil {
			return nil, fmt.Errorf("mapping: resolve target type %s: %w", tm.TargetTypeID, err)
		}
		if tgtType.TypeName == targetTypeName {
			return &tm, nil
		}
	}
	return nil, nil
}

func (e *Engine) readTargetValue(fm types.FieldMapping, targetItem connector.WorkItem) interface{} {
	f, err := e.store.GetFieldByID(context.Background(), fm.TargetFieldID)
	if err != nil {
		return nil
	}
	if v, ok := targetItem.Fields[f.ReferenceName]; ok {
		return v
	}
	if v, ok := targetItem.Fields[f.DisplayName]; ok {
		return v
	}
	return nil
}

// ValidateMappings returns {valid, issues[]}: unknown transformations are
// errors; data-type mismatches without a transformation are warnings (§4.F).
func (e *Engine) ValidateMappings(ctx context.Context, configID string) (*ValidationResult, error) {
	set, err := e.LoadMappings(ctx, configID)
	if err != nil {
		return nil, err
	}

	result := &ValidationResult{Valid: true}
	for _, tm := range set.Types {
		for _, fm := range set.Fields[tm.ID] {
			for _, step := range fm.Transformation {
				if _, lookupErr := transform.Lookup(step.Name); lookupErr != nil {
					result.Valid = false
					result.Issues = append(result.Issues, ValidationIssue{
						Severity: "error",
						Message:  fmt.Sprintf("field mapping %s: unknown transformation %q", fm.ID, step.Name),
					})
				}
			}
			if fm.MappingKind == types.MappingDirect {
				if issue := e.checkTypeMismatch(ctx, fm); issue != nil {
					result.Issues = append(result.Issues, *issue)
				}
			}
		}
	}
	return result, nil
}

func (e *Engine) checkTypeMismatch(ctx context.Context, fm types.FieldMapping) *ValidationIssue {
	if fm.SourceFieldID == "" || fm.TargetFieldID == "" {
		return nil
	}
	src, err := e.store.GetFieldByID(ctx, fm.SourceFieldID)
	if err != nil {
		return nil
	}
	tgt, err := e.store.GetFieldByID(ctx, fm.TargetFieldID)
	if err != nil {
		return nil
	}
	if src.DataType != tgt.DataType {
		return &ValidationIssue{
			Severity: "warning",
			Message: fmt.Sprintf("field mapping %s: source type %s does not match target type %s without a transformation",
				fm.ID, src.DataType, tgt.DataType),
		}
	}
	return nil
}
