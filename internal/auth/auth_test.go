package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coreos/go-oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/vibespan/automation-engine/internal/config"
	"github.com/vibespan/automation-engine/pkg/models"
)

// NoOpLogger for testing
type NoOpLogger struct{}

func (l *NoOpLogger) Debug(msg string, args ...any) {}
func (l *NoOpLogger) Info(msg string, args ...any)  {}
func (l *NoOpLogger) Error(msg string, args ...any) {}

// MockKeySet satisfies oidc.KeySet to bypass signature verification
type MockKeySet struct {
	payload []byte
}

func (m *MockKeySet) VerifySignature(ctx context.Context, jwtToken string) ([]byte, error) {
	parts := strings.Split(jwtToken, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed jwt")
	}
	return base64.RawURLEncoding.DecodeString(parts[1])
}

// MockDirectory satisfies auth.TenantDirectory
type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) GetByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	args := m.Called(ctx, domain)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Tenant), args.Error(1)
}

func (m *MockDirectory) Upsert(ctx context.Context, tenant *models.Tenant) error {
	args := m.Called(ctx, tenant)
	return args.Error(0)
}

func makeBearerToken(t *testing.T, issuer, clientID, email string) (string, *oidc.IDTokenVerifier) {
	t.Helper()

	claims := map[string]interface{}{
		"iss":   issuer,
		"aud":   clientID,
		"sub":   "test-user",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Add(-1 * time.Minute).Unix(),
		"email": email,
	}
	headerData := map[string]interface{}{
		"alg": "RS256",
		"typ": "JWT",
		"kid": "test-key",
	}
	headerBytes, _ := json.Marshal(headerData)
	encodedHeader := base64.RawURLEncoding.EncodeToString(headerBytes)
	payload, _ := json.Marshal(claims)
	encodedPayload := base64.RawURLEncoding.EncodeToString(payload)
	encodedSignature := base64.RawURLEncoding.EncodeToString([]byte("fakesignature"))
	fakeToken := encodedHeader + "." + encodedPayload + "." + encodedSignature

	keySet := &MockKeySet{payload: payload}
	verifier := oidc.NewVerifier(issuer, keySet, &oidc.Config{
		ClientID:          clientID,
		SkipClientIDCheck: true, // Matches logic in auth.go for apiVerifier
	})
	return fakeToken, verifier
}

func TestRequireAuth_BearerToken_ExtractsTenant(t *testing.T) {
	mockDir := new(MockDirectory)
	expectedTenant := &models.Tenant{
		ID:     "tenant-123",
		Name:   "acme.com",
		Domain: "acme.com",
		Status: models.TenantStatusActive,
	}
	mockDir.On("GetByDomain", mock.Anything, "acme.com").Return(expectedTenant, nil)

	fakeToken, verifier := makeBearerToken(t, "https://test-issuer.com", "test-client", "user@acme.com")

	a := &Auth{
		apiVerifier: verifier, // We are testing Bearer token flow
		directory:   mockDir,
	}

	req := httptest.NewRequest("GET", "/api/v1/tenants", nil)
	req.Header.Set("Authorization", "Bearer "+fakeToken)
	rec := httptest.NewRecorder()

	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := r.Context().Value("tenant_id").(string)
		assert.True(t, ok, "tenant_id should be in context")
		assert.Equal(t, "tenant-123", tenantID)
		w.WriteHeader(http.StatusOK)
	})

	a.RequireAuth(nextHandler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Logf("Response Body: %s", rec.Body.String())
	}
	assert.Equal(t, http.StatusOK, rec.Code)
	mockDir.AssertExpectations(t)
}

func TestRequireAuth_BypassMode(t *testing.T) {
	mockDir := new(MockDirectory)
	// Expect tenant lookup for "localhost" (from dev@localhost)
	mockDir.On("GetByDomain", mock.Anything, "localhost").Return(nil, fmt.Errorf("not found"))
	mockDir.On("Upsert", mock.Anything, mock.MatchedBy(func(tenant *models.Tenant) bool {
		return tenant.Domain == "localhost"
	})).Run(func(args mock.Arguments) {
		argTenant := args.Get(1).(*models.Tenant)
		argTenant.ID = "dev-tenant-id"
	}).Return(nil)

	// Create Auth via New to verify config logic
	cfg := &config.Config{
		Environment:   "DEV",
		DevModeBypass: true,
	}
	a, err := New(context.Background(), cfg, mockDir, &NoOpLogger{})
	assert.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/v1/tenants", nil)
	rec := httptest.NewRecorder()

	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := r.Context().Value("tenant_id").(string)
		assert.True(t, ok)
		assert.Equal(t, "dev-tenant-id", tenantID)
		w.WriteHeader(http.StatusOK)
	})

	a.RequireAuth(nextHandler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	mockDir.AssertExpectations(t)
}

func TestRequireAuth_AutoProvisionTenant(t *testing.T) {
	mockDir := new(MockDirectory)
	// GetByDomain returns error (not found)
	mockDir.On("GetByDomain", mock.Anything, "startup.io").Return(nil, fmt.Errorf("not found"))
	// Upsert should be called with a basic-tier active tenant
	mockDir.On("Upsert", mock.Anything, mock.MatchedBy(func(tenant *models.Tenant) bool {
		return tenant.Domain == "startup.io" && tenant.Name == "startup.io" &&
			tenant.ServiceLevel == models.ServiceLevelBasic &&
			tenant.Status == models.TenantStatusActive
	})).Run(func(args mock.Arguments) {
		argTenant := args.Get(1).(*models.Tenant)
		argTenant.ID = "new-tenant-id"
	}).Return(nil)

	fakeToken, verifier := makeBearerToken(t, "https://test-issuer.com", "test-client", "founder@startup.io")

	a := &Auth{apiVerifier: verifier, directory: mockDir}
	req := httptest.NewRequest("GET", "/api/v1/tenants", nil)
	req.Header.Set("Authorization", "Bearer "+fakeToken)
	rec := httptest.NewRecorder()

	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := r.Context().Value("tenant_id").(string)
		assert.True(t, ok)
		assert.Equal(t, "new-tenant-id", tenantID) // Mock Upsert sets this
		w.WriteHeader(http.StatusOK)
	})

	a.RequireAuth(nextHandler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Logf("Response Body: %s", rec.Body.String())
	}
	assert.Equal(t, http.StatusOK, rec.Code)
	mockDir.AssertExpectations(t)
}
