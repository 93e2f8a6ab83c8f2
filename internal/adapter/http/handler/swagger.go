package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	apidocs "marketplace-settlement/docs/api"

	"github.com/gin-gonic/gin"
)

var openAPI struct {
	spec []byte
	etag string
}

func init() {
	SetSwaggerSpec(apidocs.OpenAPI)
}

// SetSwaggerSpec replaces the served OpenAPI document; nil disables it.
func SetSwaggerSpec(spec []byte) {
	openAPI.spec = spec
	openAPI.etag = ""
	if len(spec) > 0 {
		sum := sha256.Sum256(spec)
		openAPI.etag = `"` + hex.EncodeToString(sum[:8]) + `"`
	}
}

// SwaggerSpec serves the OpenAPI YAML with an ETag so the UI can revalidate.
func SwaggerSpec(c *gin.Context) {
	if len(openAPI.spec) == 0 {
		c.String(http.StatusNotFound, "OpenAPI spec not loaded")
		return
	}
	c.Header("ETag", openAPI.etag)
	c.Header("Cache-Control", "no-cache")
	if c.GetHeader("If-None-Match") == openAPI.etag {
		c.AbortWithStatus(http.StatusNotModified)
		return
	}
	c.Data(http.StatusOK, "application/yaml", openAPI.spec)
}

const swaggerPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>Marketplace Settlement API</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.ui = SwaggerUIBundle({
      url: '/swagger/spec',
      dom_id: '#swagger-ui',
      deepLinking: true,
      persistAuthorization: true,
      presets: [SwaggerUIBundle.presets.apis]
    });
  </script>
</body>
</html>`

// SwaggerUI serves a Swagger UI page pointed at /swagger/spec.
func SwaggerUI(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(swaggerPage))
}
