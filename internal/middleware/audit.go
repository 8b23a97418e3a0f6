package middleware

import (
	"bytes"
	"io"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/huangang/trackersync/internal/services"
)

const maxAuditBody = 2000

// AuditLog records write requests (POST/PUT/DELETE) to system_logs.
func AuditLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		method := c.Request.Method
		if method != "POST" && method != "PUT" && method != "DELETE" {
			c.Next()
			return
		}

		var bodySnippet string
		if c.Request.Body != nil {
			bodyBytes, _ := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			bodySnippet = maskSensitiveFields(string(bodyBytes))
			if len(bodySnippet) > maxAuditBody {
				bodySnippet = bodySnippet[:maxAuditBody] + "...[truncated]"
			}
		}

		c.Next()

		status := c.Writer.Status()
		module, action := parseRouteInfo(c.FullPath(), method)
		message := formatAuditMessage(GetClientName(c), method, c.Request.URL.Path, status)

		var clientID *uint
		if id := GetClientID(c); id > 0 {
			clientID = &id
		}

		extra := map[string]interface{}{
			"method": method,
			"path":   c.Request.URL.Path,
			"status": status,
			"body":   bodySnippet,
			"audit":  true,
		}
		entry := services.LogEntry{
			Module:    module,
			Action:    action,
			Message:   message,
			ClientID:  clientID,
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			Extra:     extra,
		}
		if status >= 400 {
			services.LogWarning(entry)
			return
		}
		services.LogInfo(entry)
	}
}

// parseRouteInfo maps "/api/sync/:kind" + POST to module "sync", action "create".
func parseRouteInfo(fullPath, method string) (module, action string) {
	path := strings.TrimPrefix(fullPath, "/api/")
	module, _, _ = strings.Cut(path, "/")
	if module == "" {
		module = "unknown"
	}
	module = strings.ReplaceAll(module, "-", "_")

	switch method {
	case "POST":
		action = "create"
	case "PUT":
		action = "update"
	case "DELETE":
		action = "delete"
	default:
		action = strings.ToLower(method)
	}
	return module, action
}

func formatAuditMessage(client, method, path string, status int) string {
	if client == "" {
		client = "anonymous"
	}
	result := "OK"
	if status < 200 || status >= 300 {
		result = "Failed"
	}
	return "[Audit] " + client + " " + method + " " + path + " -> " + result
}

var sensitiveJSONValue = regexp.MustCompile(`(?i)("(?:password|key|api_key|apikey|secret|token|access_token|private_token)"\s*:\s*")(?:[^"\\]|\\.)*(")`)

// maskSensitiveFields replaces credential values in a JSON body with ***.
func maskSensitiveFields(body string) string {
	return sensitiveJSONValue.ReplaceAllString(body, "${1}***${2}")
}
