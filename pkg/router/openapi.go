package router

import (
	"realtime-chat/backend/pkg/validator"

	"github.com/gin-gonic/gin"
)

// AddOpenAPIValidation validates requests on group against the schema at
// schemaPath and serves the schema at /api/docs/openapi.yaml. A schema that
// fails to load leaves the routes unvalidated.
func (r *Router) AddOpenAPIValidation(group *gin.RouterGroup, schemaPath string) {
	v, err := validator.NewOpenAPIValidator(schemaPath)
	if err != nil {
		r.Logger.Warn("OpenAPI validation disabled", "path", schemaPath, "error", err)
		return
	}

	group.Use(v.Middleware())
	r.Engine.StaticFile("/api/docs/openapi.yaml", schemaPath)
	r.Logger.Info("OpenAPI validation enabled", "schema", v.Title(), "url", "/api/docs/openapi.yaml")
}
