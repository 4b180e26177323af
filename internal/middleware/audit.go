package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/monkbot/gateway/internal/services"
)

const maxAuditBody = 2000

// AuditLog records admin write operations (POST/PUT/DELETE) to system_logs.
func AuditLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		method := c.Request.Method
		// Only audit write operations
		if method != "POST" && method != "PUT" && method != "DELETE" {
			c.Next()
			return
		}

		var bodySnippet string
		if c.Request.Body != nil {
			bodyBytes, _ := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			bodySnippet = maskSensitiveFields(bodyBytes)
			if len(bodySnippet) > maxAuditBody {
				bodySnippet = bodySnippet[:maxAuditBody] + "...[truncated]"
			}
		}

		c.Next()

		status := c.Writer.Status()
		module, action := parseRouteInfo(c.FullPath(), method)
		actor := GetActor(c)

		lc := services.LogContext{
			Actor:     actor,
			IP:        c.ClientIP(),
			RequestID: GetRequestID(c),
		}
		if userID := GetUserID(c); userID > 0 {
			lc.UserID = &userID
		}

		extra := map[string]interface{}{
			"method": method,
			"path":   c.Request.URL.Path,
			"status": status,
			"body":   bodySnippet,
			"audit":  true,
		}
		if tokenID := c.GetString(ContextTokenID); tokenID != "" {
			extra["token_id"] = tokenID
		}

		message := formatAuditMessage(actor, method, c.Request.URL.Path, status)
		if status >= 400 {
			services.LogWarning(module, action, message, lc, extra)
			return
		}
		services.LogInfo(module, action, message, lc, extra)
	}
}

// parseRouteInfo extracts module and action from a Gin route pattern.
// e.g. "/api/admin/credits/grant" + "POST" → module="Credits", action="Grant"
func parseRouteInfo(fullPath, method string) (module, action string) {
	path := strings.TrimPrefix(fullPath, "/api/")
	path = strings.TrimPrefix(path, "admin/")

	parts := strings.Split(strings.Trim(path, "/"), "/")
	module = parts[0]
	if module == "" {
		module = "unknown"
	}
	module = titleWords(module)

	if len(parts) > 1 && !strings.HasPrefix(parts[len(parts)-1], ":") {
		return module, titleWords(parts[len(parts)-1])
	}

	switch method {
	case "POST":
		action = "Create"
	case "PUT":
		action = "Update"
	case "DELETE":
		action = "Delete"
	default:
		action = method
	}
	return module, action
}

// titleWords turns "audit-logs" into "Audit Logs".
func titleWords(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "-", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// formatAuditMessage creates a human-readable audit message.
func formatAuditMessage(actor, method, path string, status int) string {
	var b strings.Builder
	b.WriteString("[Audit] ")
	if actor == "" {
		actor = "anonymous"
	}
	b.WriteString(actor)
	b.WriteString(" ")
	b.WriteString(method)
	b.WriteString(" ")
	b.WriteString(path)
	b.WriteString(" → ")
	if status >= 200 && status < 300 {
		b.WriteString("OK")
	} else {
		b.WriteString("Failed")
	}
	return b.String()
}

var sensitiveKeys = []string{"password", "key", "api_key", "apikey", "secret", "token", "access_token"}

// maskSensitiveFields replaces top-level secret values in a JSON body.
// Bodies that are not JSON objects are dropped entirely.
func maskSensitiveFields(body []byte) string {
	if len(bytes.TrimSpace(body)) == 0 {
		return ""
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return "[unparsed body omitted]"
	}
	for k := range fields {
		lower := strings.ToLower(k)
		for _, sensitive := range sensitiveKeys {
			if lower == sensitive {
				fields[k] = "***"
				break
			}
		}
	}
	masked, err := json.Marshal(fields)
	if err != nil {
		return ""
	}
	return string(masked)
}
