package authorization

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/torii-authz/torii/internal/entities"
	"github.com/torii-authz/torii/internal/repositories/postgres"
	"github.com/torii-authz/torii/pkg/cache"
)

// SchemaResolver resolves a tenant's compiled schema. The interface is
// defined here to avoid a dependency cycle with the schema service.
type SchemaResolver interface {
	// GetSchemaEntity returns the compiled schema for a tenant. An empty
	// version selects the latest published version.
	GetSchemaEntity(ctx context.Context, tenantID string, version string) (*entities.Schema, error)
}

// CheckerInterface defines the interface for permission checking
type CheckerInterface interface {
	Check(ctx context.Context, req *CheckRequest) (*CheckResponse, error)
	CheckMultiple(ctx context.Context, req *CheckRequest, permissions []string) (map[string]bool, error)
}

// Checker answers permission checks. A decision is either allowed, denied,
// or a ResolutionError; a failure to resolve is never reported as denied.
type Checker struct {
	schemas         SchemaResolver
	evaluator       *Evaluator
	cache           cache.Cache               // Optional decision cache
	snapshotManager postgres.SnapshotProvider // Snapshot tokens for cache consistency
	cacheTTL        time.Duration
	checkTimeout    time.Duration // Default deadline when the caller sets none
}

// CheckRequest contains the parameters for a permission check
type CheckRequest struct {
	TenantID         string                    // Tenant ID
	SchemaVersion    string                    // Schema version token (empty = latest)
	EntityType       string                    // Object entity type (e.g., "repository")
	EntityID         string                    // Object entity ID (e.g., "1")
	Permission       string                    // Permission or action name to check
	SubjectType      string                    // Subject type (e.g., "user")
	SubjectID        string                    // Subject ID (e.g., "alice")
	ContextualTuples []*entities.RelationTuple // Request-scoped tuples, not persisted
	ContextData      map[string]interface{}    // Request-scoped rule context (context.data)
	SnapshotToken    string                    // Optional snapshot token for cache consistency
}

// CheckResponse contains the result of a permission check
type CheckResponse struct {
	Allowed bool
}

// NewChecker creates a new Checker without caching. checkTimeout <= 0
// disables the default deadline.
func NewChecker(schemas SchemaResolver, evaluator *Evaluator, checkTimeout time.Duration) *Checker {
	return &Checker{
		schemas:      schemas,
		evaluator:    evaluator,
		checkTimeout: checkTimeout,
	}
}

// NewCheckerWithCache creates a new Checker with a decision cache. Entries
// are keyed by the request plus the store snapshot token, so a write
// invalidates them by changing the token rather than by eviction.
func NewCheckerWithCache(
	schemas SchemaResolver,
	evaluator *Evaluator,
	c cache.Cache,
	snapshotManager postgres.SnapshotProvider,
	cacheTTL time.Duration,
	checkTimeout time.Duration,
) *Checker {
	return &Checker{
		schemas:         schemas,
		evaluator:       evaluator,
		cache:           c,
		snapshotManager: snapshotManager,
		cacheTTL:        cacheTTL,
		checkTimeout:    checkTimeout,
	}
}

func (c *Checker) generateCacheKey(req *CheckRequest, snapshotToken string) string {
	keyData := fmt.Sprintf("%s:%s:%s:%s:%s:%s:%s:%s",
		req.TenantID,
		req.SchemaVersion,
		req.EntityType,
		req.EntityID,
		req.Permission,
		req.SubjectType,
		req.SubjectID,
		snapshotToken,
	)
	hash := sha256.Sum256([]byte(keyData))
	return hex.EncodeToString(hash[:])
}

// Check performs a permission check.
func (c *Checker) Check(ctx context.Context, req *CheckRequest) (*CheckResponse, error) {
	if err := c.validateRequest(req); err != nil {
		return nil, entities.WrapResolutionError(entities.ResolutionInvalidRequest, err, "invalid check request")
	}

	if c.checkTimeout > 0 {
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.checkTimeout)
			defer cancel()
		}
	}

	// Contextual tuples and request context make the result request-unique,
	// so those checks bypass the cache entirely.
	useCache := c.cache != nil && c.snapshotManager != nil &&
		len(req.ContextualTuples) == 0 && len(req.ContextData) == 0

	var cacheKey string
	if useCache {
		snapshotToken := req.SnapshotToken
		if snapshotToken == "" {
			snapshot, err := c.snapshotManager.GetCurrentSnapshotForRead(ctx)
			if err != nil {
				useCache = false
			} else {
				snapshotToken = snapshot.String()
			}
		}
		if useCache {
			cacheKey = c.generateCacheKey(req, snapshotToken)
			if cached, found := c.cache.Get(ctx, cacheKey); found {
				if allowed, ok := cached.(bool); ok {
					return &CheckResponse{Allowed: allowed}, nil
				}
			}
		}
	}

	schema, err := c.schemas.GetSchemaEntity(ctx, req.TenantID, req.SchemaVersion)
	if err != nil {
		if errors.Is(err, entities.ErrSchemaNotFound) {
			return nil, entities.WrapResolutionError(entities.ResolutionSchemaNotFound, err,
				"no schema for tenant %s", req.TenantID)
		}
		return nil, c.mapError(ctx, err)
	}

	evalReq := &EvaluationRequest{
		TenantID:         req.TenantID,
		Schema:           schema,
		EntityType:       req.EntityType,
		EntityID:         req.EntityID,
		SubjectType:      req.SubjectType,
		SubjectID:        req.SubjectID,
		ContextualTuples: req.ContextualTuples,
		ContextData:      req.ContextData,
	}

	allowed, err := c.evaluator.CheckMember(ctx, evalReq, req.Permission)
	if err != nil {
		return nil, c.mapError(ctx, err)
	}

	if useCache && cacheKey != "" {
		_ = c.cache.Set(ctx, cacheKey, allowed, c.cacheTTL)
	}

	return &CheckResponse{Allowed: allowed}, nil
}

// mapError folds context expiry into the resolution taxonomy. A store read
// that failed because the deadline passed is a Timeout, not StoreUnavailable.
func (c *Checker) mapError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return entities.WrapResolutionError(entities.ResolutionTimeout, err,
			"check aborted: %v", ctxErr)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return entities.WrapResolutionError(entities.ResolutionTimeout, err, "check aborted")
	}
	if _, ok := entities.AsResolutionError(err); ok {
		return err
	}
	return entities.WrapResolutionError(entities.ResolutionStoreUnavailable, err, "check failed")
}

func (c *Checker) validateRequest(req *CheckRequest) error {
	if req.TenantID == "" {
		return fmt.Errorf("tenant ID is required")
	}
	if req.EntityType == "" {
		return fmt.Errorf("entity type is required")
	}
	if req.EntityID == "" {
		return fmt.Errorf("entity ID is required")
	}
	if req.Permission == "" {
		return fmt.Errorf("permission is required")
	}
	if req.SubjectType == "" {
		return fmt.Errorf("subject type is required")
	}
	if req.SubjectID == "" {
		return fmt.Errorf("subject ID is required")
	}
	return nil
}

// CheckMultiple checks several permissions on the same object and subject.
// Resolution errors fail the whole call; a partial answer would be ambiguous.
func (c *Checker) CheckMultiple(ctx context.Context, req *CheckRequest, permissions []string) (map[string]bool, error) {
	results := make(map[string]bool, len(permissions))

	for _, permission := range permissions {
		checkReq := *req
		checkReq.Permission = permission

		resp, err := c.Check(ctx, &checkReq)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", permission, err)
		}
		results[permission] = resp.Allowed
	}

	return results, nil
}
