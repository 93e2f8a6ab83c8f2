package middleware

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"marketplace-settlement/pkg/apperror"
	"marketplace-settlement/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoRouter mirrors how handlers surface an oversized streamed body.
func echoRouter(limit int64, reached *bool) *gin.Engine {
	r := gin.New()
	r.Use(MaxBodySize(limit))
	r.Any("/echo", func(c *gin.Context) {
		*reached = true
		b, err := c.GetRawData()
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			response.Error(c, apperror.ErrPayloadTooLarge(maxErr.Limit))
			return
		}
		c.String(http.StatusOK, string(b))
	})
	return r
}

func TestMaxBodySize(t *testing.T) {
	tests := []struct {
		name        string
		limit       int64
		body        string
		streamed    bool // no Content-Length, so only the reader can enforce the limit
		wantStatus  int
		wantHandler bool
	}{
		{"small declared body", 1024, `{"order_id":"x"}`, false, http.StatusOK, true},
		{"exactly at limit", 5, "12345", false, http.StatusOK, true},
		{"declared length over limit", 16, strings.Repeat("B", 64), false, http.StatusRequestEntityTooLarge, false},
		{"streamed body under limit", 64, "hello", true, http.StatusOK, true},
		{"streamed body over limit", 16, strings.Repeat("C", 100), true, http.StatusRequestEntityTooLarge, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reached bool
			r := echoRouter(tt.limit, &reached)

			var body io.Reader = strings.NewReader(tt.body)
			if tt.streamed {
				body = io.MultiReader(body)
			}
			req := httptest.NewRequest(http.MethodPost, "/echo", body)
			if tt.streamed {
				req.ContentLength = -1
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, tt.wantHandler, reached)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.body, w.Body.String())
				return
			}
			var resp map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "SYS_005", resp["error_code"])
		})
	}
}

func TestMaxBodySize_NoBody(t *testing.T) {
	var reached bool
	r := echoRouter(8, &reached)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/echo", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, reached)
}
