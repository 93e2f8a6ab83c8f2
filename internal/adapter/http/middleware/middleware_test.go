package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"marketplace-settlement/internal/core/ports"
	"marketplace-settlement/internal/core/ports/mocks"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestJWTAuth(t *testing.T) {
	vendorID := uuid.New()

	tests := []struct {
		name       string
		header     string
		setup      func(m *mocks.MockTokenService)
		wantStatus int
		wantCode   string
	}{
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized, wantCode: "AUTH_003"},
		{name: "basic scheme", header: "Basic dXNlcjpwYXNz", wantStatus: http.StatusUnauthorized, wantCode: "AUTH_003"},
		{name: "empty bearer", header: "Bearer   ", wantStatus: http.StatusUnauthorized, wantCode: "AUTH_003"},
		{
			name:   "expired token",
			header: "Bearer stale",
			setup: func(m *mocks.MockTokenService) {
				m.EXPECT().Validate("stale").Return(nil, errors.New("token is expired"))
			},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "AUTH_003",
		},
		{
			name:   "vendor token",
			header: "Bearer good",
			setup: func(m *mocks.MockTokenService) {
				m.EXPECT().Validate("good").Return(&ports.TokenClaims{Subject: vendorID, Role: ports.RoleVendor}, nil)
			},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			tokens := mocks.NewMockTokenService(ctrl)
			if tt.setup != nil {
				tt.setup(tokens)
			}

			r := gin.New()
			r.GET("/wallet", JWTAuth(tokens, zerolog.Nop()), func(c *gin.Context) {
				id, _ := ActorID(c)
				c.JSON(http.StatusOK, gin.H{"actor": id.String(), "role": c.GetString(CtxRole)})
			})

			req := httptest.NewRequest(http.MethodGet, "/wallet", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			require.Equal(t, tt.wantStatus, w.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, body["error_code"])
				return
			}
			assert.Equal(t, vendorID.String(), body["actor"])
			assert.Equal(t, ports.RoleVendor, body["role"])
		})
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name string
		role string
		want int
	}{
		{"admin allowed", ports.RoleAdmin, http.StatusOK},
		{"vendor refused", ports.RoleVendor, http.StatusForbidden},
		{"no role", "", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/admin", func(c *gin.Context) {
				if tt.role != "" {
					c.Set(CtxRole, tt.role)
				}
			}, RequireRole(ports.RoleAdmin), func(c *gin.Context) {
				c.Status(http.StatusOK)
			})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestActorID_RejectsNonUUID(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	_, ok := ActorID(c)
	assert.False(t, ok)

	c.Set(CtxActorID, "not-a-uuid")
	_, ok = ActorID(c)
	assert.False(t, ok)
}

func TestRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/orders", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(CtxRequestID))
	})

	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"propagated", "req-abc", true},
		{"generated when absent", "", false},
		{"replaced when oversized", string(bytes.Repeat([]byte("x"), maxRequestIDLen+1)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/orders", nil)
			if tt.incoming != "" {
				req.Header.Set(HeaderRequestID, tt.incoming)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, w.Body.String(), w.Header().Get(HeaderRequestID))
			if tt.keep {
				assert.Equal(t, tt.incoming, w.Body.String())
				return
			}
			_, err := uuid.Parse(w.Body.String())
			assert.NoError(t, err)
		})
	}
}

func TestRequestLogger_LevelsAndErrors(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	router := gin.New()
	router.Use(RequestID(), RequestLogger(log))
	router.GET("/fail", func(c *gin.Context) {
		_ = c.Error(errors.New("ledger unavailable"))
		c.Status(http.StatusInternalServerError)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fail", nil))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, "/fail", line["route"])
	assert.Equal(t, float64(500), line["status"])
	assert.Contains(t, line["error"], "ledger unavailable")
	assert.NotEmpty(t, line["request_id"])
}

func TestRecovery_PanicRecovered(t *testing.T) {
	router := gin.New()
	router.Use(RequestID(), Recovery(zerolog.Nop()))
	router.GET("/panic", func(c *gin.Context) {
		panic("nil wallet")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "nil wallet")
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "SYS_001", resp["error_code"])
	assert.Equal(t, w.Header().Get(HeaderRequestID), resp["request_id"])
}
