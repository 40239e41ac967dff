package handlers

import (
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/Conceptual-Machines/magda-composer/internal/logger"
	"github.com/Conceptual-Machines/magda-composer/internal/runtime"
	"github.com/gin-gonic/gin"
)

// ToolsHandler is the HTTP registration surface for the tool runtime. The
// runtime installs its catalog here and keeps it current.
type ToolsHandler struct {
	mu     sync.RWMutex
	tools  []runtime.ToolInfo
	invoke runtime.InvokeFunc
}

func NewToolsHandler() *ToolsHandler {
	return &ToolsHandler{}
}

// Native is false: HTTP clients learn the catalog from ListTools
func (h *ToolsHandler) Native() bool {
	return false
}

// Register implements runtime.Bridge
func (h *ToolsHandler) Register(tools []runtime.ToolInfo, invoke runtime.InvokeFunc) error {
	if invoke == nil {
		return errors.New("invoke function is required")
	}
	h.mu.Lock()
	h.tools = tools
	h.invoke = invoke
	h.mu.Unlock()
	return nil
}

// ListTools returns every registered tool with its JSON schema
func (h *ToolsHandler) ListTools(c *gin.Context) {
	h.mu.RLock()
	tools := h.tools
	h.mu.RUnlock()
	if tools == nil {
		tools = []runtime.ToolInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"tools": tools, "count": len(tools)})
}

// InvokeTool runs one tool call. The body is the raw arguments object and
// may be empty. The envelope comes back with 200 whatever the outcome.
func (h *ToolsHandler) InvokeTool(c *gin.Context) {
	h.mu.RLock()
	invoke := h.invoke
	h.mu.RUnlock()
	if invoke == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "tool runtime not ready"})
		return
	}

	args := map[string]any{}
	if err := c.ShouldBindJSON(&args); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "arguments must be a JSON object"})
		return
	}

	source := runtime.SourceManual
	if c.Query("source") == string(runtime.SourceReplay) {
		source = runtime.SourceReplay
	}

	name := c.Param("name")
	env := invoke(c.Request.Context(), name, args, source)
	if !env.OK {
		logger.Warn("Manual tool call failed", logger.WithContext(c).With(logger.Fields{
			"tool":  name,
			"error": env.Error,
		}))
	}
	c.JSON(http.StatusOK, env)
}
