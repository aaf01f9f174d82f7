package token

import (
	"github.com/gin-gonic/gin"

	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/audit"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/middleware"
)

func submitAudit(c *gin.Context, event audit.Event) {
	if c == nil {
		return
	}
	mgr := audit.FromGinContext(c)
	if mgr == nil {
		return
	}
	if event.RequestID == "" {
		event.RequestID = middleware.GetRequestIDFromContext(c)
	}
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}
	if route := c.FullPath(); route != "" {
		event.Metadata["route"] = route
	}
	if event.Metadata["method"] == nil {
		event.Metadata["method"] = c.Request.Method
	}
	mgr.Submit(c.Request.Context(), event)
}
