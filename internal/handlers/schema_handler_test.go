package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/torii-authz/torii/internal/entities"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// doJSON serves one request against a fresh engine configured by register.
func doJSON(t *testing.T, method, path string, body interface{}, register func(*gin.Engine)) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	engine := gin.New()
	register(engine)

	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, req)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response body: %v\n%s", err, recorder.Body.String())
	}
	return body
}

func TestSchemaHandler_Write(t *testing.T) {
	var gotTenant, gotDSL string
	service := &mockSchemaService{
		writeSchemaFunc: func(ctx context.Context, tenantID string, schemaDSL string) (string, error) {
			gotTenant = tenantID
			gotDSL = schemaDSL
			return "v7", nil
		},
	}
	handler := NewSchemaHandler(service)

	recorder := doJSON(t, http.MethodPost, "/v1/tenants/acme/schemas",
		map[string]string{"schema": "entity user {}"},
		func(e *gin.Engine) { e.POST("/v1/tenants/:tenant/schemas", handler.Write) })

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	body := decodeBody(t, recorder)
	if body["schema_version"] != "v7" {
		t.Errorf("expected schema_version v7, got %v", body["schema_version"])
	}
	if gotTenant != "acme" {
		t.Errorf("expected tenant acme, got %s", gotTenant)
	}
	if gotDSL != "entity user {}" {
		t.Errorf("expected the DSL to be forwarded, got %q", gotDSL)
	}
}

func TestSchemaHandler_Write_MissingBody(t *testing.T) {
	handler := NewSchemaHandler(&mockSchemaService{})

	recorder := doJSON(t, http.MethodPost, "/v1/tenants/acme/schemas",
		map[string]string{},
		func(e *gin.Engine) { e.POST("/v1/tenants/:tenant/schemas", handler.Write) })

	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", recorder.Code)
	}
}

func TestSchemaHandler_Write_CompileErrors(t *testing.T) {
	service := &mockSchemaService{
		writeSchemaFunc: func(ctx context.Context, tenantID string, schemaDSL string) (string, error) {
			return "", entities.CompileErrors{
				{Location: "entity doc / relation owner", Kind: entities.CompileUnresolvedTarget, Message: "unknown entity type: ghost"},
				{Location: "entity doc / permission p", Kind: entities.CompileUnresolvedReference, Message: "unknown reference: nothing"},
			}
		},
	}
	handler := NewSchemaHandler(service)

	recorder := doJSON(t, http.MethodPost, "/v1/tenants/acme/schemas",
		map[string]string{"schema": "entity doc { relation owner @ghost }"},
		func(e *gin.Engine) { e.POST("/v1/tenants/:tenant/schemas", handler.Write) })

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	body := decodeBody(t, recorder)
	errs, ok := body["errors"].([]interface{})
	if !ok {
		t.Fatalf("expected an errors list, got %v", body)
	}
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(errs))
	}
	first := errs[0].(map[string]interface{})
	if first["kind"] != "unresolved_target" {
		t.Errorf("expected kind unresolved_target, got %v", first["kind"])
	}
	if first["location"] != "entity doc / relation owner" {
		t.Errorf("expected the location to be reported, got %v", first["location"])
	}
}

func TestSchemaHandler_Read(t *testing.T) {
	createdAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	service := &mockSchemaService{
		readSchemaFunc: func(ctx context.Context, tenantID string, version string) (*entities.Schema, error) {
			if version != "v2" {
				t.Errorf("expected version v2, got %q", version)
			}
			return &entities.Schema{
				TenantID:  tenantID,
				Version:   "v2",
				DSL:       "entity user {}",
				CreatedAt: createdAt,
			}, nil
		},
	}
	handler := NewSchemaHandler(service)

	recorder := doJSON(t, http.MethodGet, "/v1/tenants/acme/schemas?version=v2", nil,
		func(e *gin.Engine) { e.GET("/v1/tenants/:tenant/schemas", handler.Read) })

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	body := decodeBody(t, recorder)
	if body["schema"] != "entity user {}" {
		t.Errorf("expected the DSL text, got %v", body["schema"])
	}
	if body["schema_version"] != "v2" {
		t.Errorf("expected schema_version v2, got %v", body["schema_version"])
	}
	if body["created_at"] != "2025-03-01T12:00:00Z" {
		t.Errorf("expected an RFC3339 timestamp, got %v", body["created_at"])
	}
}

func TestSchemaHandler_Read_NotFound(t *testing.T) {
	service := &mockSchemaService{
		readSchemaFunc: func(ctx context.Context, tenantID string, version string) (*entities.Schema, error) {
			return nil, entities.ErrSchemaNotFound
		},
	}
	handler := NewSchemaHandler(service)

	recorder := doJSON(t, http.MethodGet, "/v1/tenants/acme/schemas", nil,
		func(e *gin.Engine) { e.GET("/v1/tenants/:tenant/schemas", handler.Read) })

	if recorder.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", recorder.Code)
	}
}

func TestSchemaHandler_Validate(t *testing.T) {
	handler := NewSchemaHandler(&mockSchemaService{})

	recorder := doJSON(t, http.MethodPost, "/v1/schemas/validate",
		map[string]string{"schema": "entity user {}"},
		func(e *gin.Engine) { e.POST("/v1/schemas/validate", handler.Validate) })

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	body := decodeBody(t, recorder)
	if body["valid"] != true {
		t.Errorf("expected valid true, got %v", body["valid"])
	}
}

func TestSchemaHandler_Validate_Invalid(t *testing.T) {
	service := &mockSchemaService{
		validateSchemaFunc: func(ctx context.Context, schemaDSL string) error {
			return entities.CompileErrors{
				{Kind: entities.CompileUnresolvedReference, Message: "unknown reference: ghost"},
			}
		},
	}
	handler := NewSchemaHandler(service)

	recorder := doJSON(t, http.MethodPost, "/v1/schemas/validate",
		map[string]string{"schema": "entity doc { permission p = ghost }"},
		func(e *gin.Engine) { e.POST("/v1/schemas/validate", handler.Validate) })

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	body := decodeBody(t, recorder)
	if _, ok := body["errors"]; !ok {
		t.Errorf("expected an errors list, got %v", body)
	}
}

func TestSchemaHandler_ListVersions(t *testing.T) {
	service := &mockSchemaService{
		listVersionsFunc: func(ctx context.Context, tenantID string) ([]*entities.SchemaVersion, error) {
			return []*entities.SchemaVersion{
				{Version: "v2", CreatedAt: time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)},
				{Version: "v1", CreatedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)},
			}, nil
		},
	}
	handler := NewSchemaHandler(service)

	recorder := doJSON(t, http.MethodGet, "/v1/tenants/acme/schemas/versions", nil,
		func(e *gin.Engine) { e.GET("/v1/tenants/:tenant/schemas/versions", handler.ListVersions) })

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	body := decodeBody(t, recorder)
	versions, ok := body["versions"].([]interface{})
	if !ok || len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %v", body["versions"])
	}
	newest := versions[0].(map[string]interface{})
	if newest["version"] != "v2" {
		t.Errorf("expected newest first, got %v", newest["version"])
	}
}

func TestSchemaHandler_Delete(t *testing.T) {
	handler := NewSchemaHandler(&mockSchemaService{})

	recorder := doJSON(t, http.MethodDelete, "/v1/tenants/acme/schemas", nil,
		func(e *gin.Engine) { e.DELETE("/v1/tenants/:tenant/schemas", handler.Delete) })

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	body := decodeBody(t, recorder)
	if body["deleted"] != true {
		t.Errorf("expected deleted true, got %v", body["deleted"])
	}
}
