package authorization

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/torii-authz/torii/internal/entities"
	"github.com/torii-authz/torii/internal/repositories"
)

// LookupInterface defines the interface for entity and subject lookup
type LookupInterface interface {
	LookupEntity(ctx context.Context, req *LookupEntityRequest) (*LookupEntityResponse, error)
	LookupSubject(ctx context.Context, req *LookupSubjectRequest) (*LookupSubjectResponse, error)
}

// Lookup enumerates objects a subject can reach, and subjects that can reach
// an object. Candidates come from the tuple store and each one is answered
// with a full check, so lookup inherits the checker's exact semantics.
type Lookup struct {
	checker      CheckerInterface
	schemas      SchemaResolver
	relationRepo repositories.RelationRepository
}

// LookupEntityRequest contains the parameters for looking up entities
type LookupEntityRequest struct {
	TenantID         string
	SchemaVersion    string // Schema version token (empty = latest)
	EntityType       string // Entity type to search (e.g., "repository")
	Permission       string // Permission to check (e.g., "view")
	SubjectType      string
	SubjectID        string
	ContextualTuples []*entities.RelationTuple
	ContextData      map[string]interface{}
	PageSize         int    // Maximum number of results (0 = unlimited)
	PageToken        string // Pagination token from a previous response
}

// LookupEntityResponse contains the matching entity IDs
type LookupEntityResponse struct {
	EntityIDs     []string
	NextPageToken string // Empty when there are no more results
}

// LookupSubjectRequest contains the parameters for looking up subjects
type LookupSubjectRequest struct {
	TenantID         string
	SchemaVersion    string // Schema version token (empty = latest)
	EntityType       string
	EntityID         string
	Permission       string
	SubjectType      string // Subject type to search (e.g., "user")
	ContextualTuples []*entities.RelationTuple
	ContextData      map[string]interface{}
	PageSize         int
	PageToken        string
}

// LookupSubjectResponse contains the matching subject IDs
type LookupSubjectResponse struct {
	SubjectIDs    []string
	NextPageToken string
}

// NewLookup creates a new Lookup
func NewLookup(
	checker CheckerInterface,
	schemas SchemaResolver,
	relationRepo repositories.RelationRepository,
) *Lookup {
	return &Lookup{
		checker:      checker,
		schemas:      schemas,
		relationRepo: relationRepo,
	}
}

// LookupEntity finds the entities of a given type the subject holds the
// permission on. Candidates are every entity ID of the type that appears in
// at least one tuple; each is answered with a full check.
func (l *Lookup) LookupEntity(ctx context.Context, req *LookupEntityRequest) (*LookupEntityResponse, error) {
	if err := l.validateLookupEntityRequest(req); err != nil {
		return nil, entities.WrapResolutionError(entities.ResolutionInvalidRequest, err, "invalid lookup entity request")
	}
	if err := l.validatePermission(ctx, req.TenantID, req.SchemaVersion, req.EntityType, req.Permission); err != nil {
		return nil, err
	}

	candidateIDs, err := l.getCandidateEntityIDs(ctx, req.TenantID, req.EntityType, req.PageToken)
	if err != nil {
		return nil, entities.WrapResolutionError(entities.ResolutionStoreUnavailable, err,
			"failed to enumerate %s candidates", req.EntityType)
	}

	allowedIDs := make([]string, 0)
	var lastChecked string
	for _, entityID := range candidateIDs {
		lastChecked = entityID

		resp, err := l.checker.Check(ctx, &CheckRequest{
			TenantID:         req.TenantID,
			SchemaVersion:    req.SchemaVersion,
			EntityType:       req.EntityType,
			EntityID:         entityID,
			Permission:       req.Permission,
			SubjectType:      req.SubjectType,
			SubjectID:        req.SubjectID,
			ContextualTuples: req.ContextualTuples,
			ContextData:      req.ContextData,
		})
		if err != nil {
			if skippableLookupError(err) {
				continue
			}
			return nil, err
		}

		if resp.Allowed {
			allowedIDs = append(allowedIDs, entityID)
			if req.PageSize > 0 && len(allowedIDs) >= req.PageSize {
				break
			}
		}
	}

	nextPageToken := ""
	if req.PageSize > 0 && len(allowedIDs) == req.PageSize && lastChecked != candidateIDs[len(candidateIDs)-1] {
		nextPageToken = lastChecked
	}

	return &LookupEntityResponse{
		EntityIDs:     allowedIDs,
		NextPageToken: nextPageToken,
	}, nil
}

// LookupSubject finds the subjects of a given type that hold the permission
// on an entity.
func (l *Lookup) LookupSubject(ctx context.Context, req *LookupSubjectRequest) (*LookupSubjectResponse, error) {
	if err := l.validateLookupSubjectRequest(req); err != nil {
		return nil, entities.WrapResolutionError(entities.ResolutionInvalidRequest, err, "invalid lookup subject request")
	}
	if err := l.validatePermission(ctx, req.TenantID, req.SchemaVersion, req.EntityType, req.Permission); err != nil {
		return nil, err
	}

	candidateIDs, err := l.getCandidateSubjectIDs(ctx, req.TenantID, req.SubjectType, req.PageToken)
	if err != nil {
		return nil, entities.WrapResolutionError(entities.ResolutionStoreUnavailable, err,
			"failed to enumerate %s candidates", req.SubjectType)
	}

	allowedIDs := make([]string, 0)
	var lastChecked string
	for _, subjectID := range candidateIDs {
		lastChecked = subjectID

		resp, err := l.checker.Check(ctx, &CheckRequest{
			TenantID:         req.TenantID,
			SchemaVersion:    req.SchemaVersion,
			EntityType:       req.EntityType,
			EntityID:         req.EntityID,
			Permission:       req.Permission,
			SubjectType:      req.SubjectType,
			SubjectID:        subjectID,
			ContextualTuples: req.ContextualTuples,
			ContextData:      req.ContextData,
		})
		if err != nil {
			if skippableLookupError(err) {
				continue
			}
			return nil, err
		}

		if resp.Allowed {
			allowedIDs = append(allowedIDs, subjectID)
			if req.PageSize > 0 && len(allowedIDs) >= req.PageSize {
				break
			}
		}
	}

	nextPageToken := ""
	if req.PageSize > 0 && len(allowedIDs) == req.PageSize && lastChecked != candidateIDs[len(candidateIDs)-1] {
		nextPageToken = lastChecked
	}

	return &LookupSubjectResponse{
		SubjectIDs:    allowedIDs,
		NextPageToken: nextPageToken,
	}, nil
}

// validatePermission verifies the schema defines the target permission
// before any candidate is enumerated.
func (l *Lookup) validatePermission(ctx context.Context, tenantID, version, entityType, permission string) error {
	schema, err := l.schemas.GetSchemaEntity(ctx, tenantID, version)
	if err != nil {
		if errors.Is(err, entities.ErrSchemaNotFound) {
			return entities.WrapResolutionError(entities.ResolutionSchemaNotFound, err,
				"no schema for tenant %s", tenantID)
		}
		return err
	}
	entity := schema.GetEntity(entityType)
	if entity == nil {
		return entities.NewResolutionError(entities.ResolutionInvalidRequest,
			"entity type %s is not defined in the schema", entityType)
	}
	if entity.GetPermission(permission) == nil && entity.GetRelation(permission) == nil {
		return entities.NewResolutionError(entities.ResolutionInvalidRequest,
			"entity %s has no permission or relation named %s", entityType, permission)
	}
	return nil
}

// skippableLookupError reports whether a per-candidate check failure should
// drop the candidate instead of failing the whole lookup. Data problems on
// one candidate (a missing attribute, say) must not hide every other result;
// infrastructure failures still abort.
func skippableLookupError(err error) bool {
	re, ok := entities.AsResolutionError(err)
	if !ok {
		return false
	}
	switch re.Kind {
	case entities.ResolutionMissingBinding, entities.ResolutionTypeMismatch:
		return true
	default:
		return false
	}
}

// getCandidateEntityIDs collects the distinct entity IDs of a type seen in
// the tuple store, sorted so pagination is stable across calls.
func (l *Lookup) getCandidateEntityIDs(ctx context.Context, tenantID, entityType, pageToken string) ([]string, error) {
	filter := &repositories.RelationFilter{
		EntityType: entityType,
	}
	tuples, err := l.relationRepo.Read(ctx, tenantID, filter)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, tuple := range tuples {
		seen[tuple.EntityID] = true
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return idsAfter(ids, pageToken), nil
}

// getCandidateSubjectIDs collects the distinct subject IDs of a type seen in
// the tuple store, sorted so pagination is stable across calls.
func (l *Lookup) getCandidateSubjectIDs(ctx context.Context, tenantID, subjectType, pageToken string) ([]string, error) {
	filter := &repositories.RelationFilter{
		SubjectType: subjectType,
	}
	tuples, err := l.relationRepo.Read(ctx, tenantID, filter)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, tuple := range tuples {
		seen[tuple.SubjectID] = true
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return idsAfter(ids, pageToken), nil
}

// idsAfter drops every ID up to and including the page token.
func idsAfter(ids []string, pageToken string) []string {
	if pageToken == "" {
		return ids
	}
	idx := sort.SearchStrings(ids, pageToken)
	if idx < len(ids) && ids[idx] == pageToken {
		idx++
	}
	return ids[idx:]
}

func (l *Lookup) validateLookupEntityRequest(req *LookupEntityRequest) error {
	if req.TenantID == "" {
		return fmt.Errorf("tenant ID is required")
	}
	if req.EntityType == "" {
		return fmt.Errorf("entity type is required")
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

func (l *Lookup) validateLookupSubjectRequest(req *LookupSubjectRequest) error {
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
	return nil
}
