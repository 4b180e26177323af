package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/monkbot/gateway/internal/config"
	"github.com/monkbot/gateway/internal/middleware"
	"github.com/monkbot/gateway/internal/models"
	"github.com/monkbot/gateway/internal/services"
	"github.com/monkbot/gateway/internal/utils"
	"github.com/monkbot/gateway/pkg/response"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const upstreamReply = `{"id":"chatcmpl-1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Hi there"},"finish_reason":"stop"}]}`

func init() {
	gin.SetMode(gin.TestMode)
	utils.SetJWTSecret("handlers-test-session-secret")
	utils.SetServiceSecret("handlers-test-service-secret")
}

type stubUpstream struct {
	status int
	hits   int32
}

func (s *stubUpstream) Configured() bool { return true }

func (s *stubUpstream) ChatCompletions(ctx context.Context, body []byte) (*services.UpstreamResponse, error) {
	atomic.AddInt32(&s.hits, 1)
	if s.status >= 300 {
		return nil, response.NewError(s.status, "The server had an error while processing your request.")
	}
	return &services.UpstreamResponse{StatusCode: http.StatusOK, Body: []byte(upstreamReply)}, nil
}

type fixture struct {
	db       *gorm.DB
	router   *gin.Engine
	keys     *services.KeyService
	credits  *services.CreditService
	auth     *services.AuthService
	upstream *stubUpstream
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := models.Open(&config.DatabaseConfig{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	keys := services.NewKeyService(db, services.KeyPolicy{
		DefaultModel:    "gpt-4o-mini",
		DefaultCredits:  50,
		FreeDomainLimit: 1,
		RetainPlaintext: true,
	})
	credits := services.NewCreditService(db)
	auth := services.NewAuthService(db, keys, &config.JWTConfig{ExpireHour: 1})
	chatLogs := services.NewChatLogService(db)

	queue := services.NewSyncQueue()
	queue.SetProcessor(chatLogs.Write)
	t.Cleanup(queue.Wait)

	upstream := &stubUpstream{status: http.StatusOK}
	completion := services.NewCompletionService(credits, upstream, queue, "gpt-4o-mini")

	plugin := NewPluginHandler(services.NewPluginAuthService(db), completion)
	authHandler := NewAuthHandler(auth)
	userHandler := NewUserHandler(keys)
	adminHandler := NewAdminHandler(keys, credits, auth, chatLogs)

	r := gin.New()
	r.GET("/health", NewHealthHandler(db, queue, nil).CheckHealth)
	r.POST("/api/v1/plugin/validate", plugin.Validate)
	r.POST("/api/v1/plugin/chat-completions", plugin.ChatCompletions)
	r.POST("/api/auth/register", authHandler.Register)
	r.POST("/api/auth/login", authHandler.Login)
	r.POST("/api/auth/logout", authHandler.Logout)

	session := r.Group("/api", middleware.AuthRequired())
	session.GET("/auth/me", authHandler.GetCurrentUser)
	session.GET("/user/keys", userHandler.ListKeys)
	session.POST("/user/keys", userHandler.RotateKey)
	session.POST("/user/domains", userHandler.AddDomain)
	session.DELETE("/user/domains/:id", userHandler.RemoveDomain)

	admin := r.Group("/api/admin", middleware.AdminRequired())
	admin.POST("/keys/create", adminHandler.CreateKey)
	admin.POST("/keys/model", adminHandler.SetModel)
	admin.POST("/keys/status", adminHandler.SetStatus)
	admin.GET("/keys/:id/ledger", adminHandler.Ledger)
	admin.POST("/credits/grant", adminHandler.GrantCredits)
	admin.POST("/domains/link", adminHandler.LinkDomain)
	admin.POST("/domains/unlink", adminHandler.UnlinkDomain)
	admin.GET("/history", adminHandler.History)
	admin.GET("/users", adminHandler.Users)
	admin.GET("/metrics", NewMetricsHandler(db, queue).Metrics)

	return &fixture{db: db, router: r, keys: keys, credits: credits, auth: auth, upstream: upstream}
}

// seedKey creates a key with the given balance bound to domain.
func (f *fixture) seedKey(t *testing.T, credits int, domain string) *services.IssuedKey {
	t.Helper()
	issued, err := f.keys.CreateKey(context.Background(), services.CreateKeyInput{Credits: &credits})
	require.NoError(t, err)
	_, err = f.keys.LinkDomain(context.Background(), issued.Key.ID, domain)
	require.NoError(t, err)
	return issued
}

func (f *fixture) balance(t *testing.T, keyID string) int {
	t.Helper()
	b, err := f.credits.Balance(context.Background(), keyID)
	require.NoError(t, err)
	return b
}

type call struct {
	method  string
	path    string
	body    interface{}
	headers map[string]string
	cookie  *http.Cookie
}

func (f *fixture) do(c call) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := c.body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}
	req, _ := http.NewRequest(c.method, c.path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func pluginHeaders(rawKey, domain string) map[string]string {
	return map[string]string{
		"Authorization":         "Bearer " + rawKey,
		middleware.DomainHeader: domain,
	}
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func adminToken(t *testing.T) string {
	t.Helper()
	token, err := utils.GenerateServiceToken("ops", []string{utils.ScopeAdmin}, 1)
	require.NoError(t, err)
	return token
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// envelopeData decodes {code, message, data} and returns data.
func envelopeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	body := decode(t, w)
	require.EqualValues(t, 0, body["code"], w.Body.String())
	data, ok := body["data"].(map[string]interface{})
	require.True(t, ok, w.Body.String())
	return data
}

func userMessage(text string) map[string]interface{} {
	return map[string]interface{}{
		"messages": []map[string]interface{}{{"role": "user", "content": text}},
	}
}
