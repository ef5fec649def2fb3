package handler

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	_ "modernc.org/sqlite"

	"github.com/haatos/conveyor/internal/security"
	"github.com/haatos/conveyor/internal/service"
	"github.com/haatos/conveyor/internal/store"
)

const testAutoRegisterKey = "auto-register-key"

func newTestServer(t *testing.T) *echo.Echo {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		log.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	store.RunMigrations(db, "sqlite")

	registry := service.NewRegistryService(
		store.NewAgentSQLiteStore(db, db),
		security.NewTokenService([]byte("test-secret")),
		testAutoRegisterKey,
		false,
		2*time.Minute,
		5*time.Minute,
	)

	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler
	h := NewAgentHandler(registry)
	e.POST("/api/agents/token", h.PostToken)
	e.POST("/api/agents/register", h.PostRegister)
	e.POST("/api/agents/:uuid/heartbeat", h.PostHeartbeat)
	e.GET("/api/agents", h.GetAgents)
	e.GET("/api/agents/:uuid", h.GetAgent)
	e.POST("/api/agents/:uuid/enable", h.PostEnableAgent)
	e.POST("/api/agents/:uuid/disable", h.PostDisableAgent)
	return e
}

func doJSON(e *echo.Echo, method, path string, body map[string]any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := make(map[string]any)
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func issueToken(t *testing.T, e *echo.Echo, uuid string) string {
	t.Helper()
	rec := doJSON(e, http.MethodPost, "/api/agents/token", map[string]any{"uuid": uuid})
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	return body["token"].(string)
}

func registrationBody(uuid, token string) map[string]any {
	return map[string]any{
		"uuid":             uuid,
		"hostname":         "build-01",
		"operating_system": "linux",
		"usable_space":     int64(10 << 30),
		"token":            token,
	}
}

func TestAgentHandler_PostToken(t *testing.T) {
	t.Run("success - token issued once", func(t *testing.T) {
		// arrange
		e := newTestServer(t)

		// act
		rec := doJSON(e, http.MethodPost, "/api/agents/token", map[string]any{"uuid": "uuid-1"})

		// assert
		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.NotEmpty(t, body["token"])
	})
	t.Run("failure - second issuance conflicts", func(t *testing.T) {
		// arrange
		e := newTestServer(t)
		issueToken(t, e, "uuid-1")

		// act
		rec := doJSON(e, http.MethodPost, "/api/agents/token", map[string]any{"uuid": "uuid-1"})

		// assert
		assert.Equal(t, http.StatusConflict, rec.Code)
		body := decodeBody(t, rec)
		assert.Contains(t, body["message"], "uuid-1")
	})
	t.Run("failure - blank uuid conflicts", func(t *testing.T) {
		// arrange
		e := newTestServer(t)

		// act
		rec := doJSON(e, http.MethodPost, "/api/agents/token", map[string]any{"uuid": "  "})

		// assert
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestAgentHandler_PostRegister(t *testing.T) {
	t.Run("success - registration without key is accepted as pending", func(t *testing.T) {
		// arrange
		e := newTestServer(t)
		token := issueToken(t, e, "uuid-1")

		// act
		rec := doJSON(e, http.MethodPost, "/api/agents/register", registrationBody("uuid-1", token))

		// assert
		assert.Equal(t, http.StatusAccepted, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "uuid-1", body["uuid"])
		assert.Equal(t, string(service.StatePending), body["state"])
		assert.NotEmpty(t, body["cookie"])
	})
	t.Run("success - auto-register key enables the agent immediately", func(t *testing.T) {
		// arrange
		e := newTestServer(t)
		token := issueToken(t, e, "uuid-1")
		params := registrationBody("uuid-1", token)
		params["auto_register_key"] = testAutoRegisterKey
		params["resources"] = "linux,docker"

		// act
		rec := doJSON(e, http.MethodPost, "/api/agents/register", params)

		// assert
		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, string(service.StateIdle), body["state"])
		assert.ElementsMatch(t, []any{"linux", "docker"}, body["resources"])
	})
	t.Run("success - pending agent re-registering with key is enabled", func(t *testing.T) {
		// arrange
		e := newTestServer(t)
		token := issueToken(t, e, "uuid-1")
		rec := doJSON(e, http.MethodPost, "/api/agents/register", registrationBody("uuid-1", token))
		assert.Equal(t, http.StatusAccepted, rec.Code)
		params := registrationBody("uuid-1", token)
		params["auto_register_key"] = testAutoRegisterKey

		// act
		rec = doJSON(e, http.MethodPost, "/api/agents/register", params)

		// assert
		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, string(service.StateIdle), body["state"])
	})
	t.Run("failure - invalid token is forbidden", func(t *testing.T) {
		// arrange
		e := newTestServer(t)
		issueToken(t, e, "uuid-1")

		// act
		rec := doJSON(e, http.MethodPost, "/api/agents/register", registrationBody("uuid-1", "forged"))

		// assert
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
	t.Run("failure - blank uuid is unprocessable", func(t *testing.T) {
		// arrange
		e := newTestServer(t)

		// act
		rec := doJSON(e, http.MethodPost, "/api/agents/register", registrationBody("", "token"))

		// assert
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
	t.Run("failure - duplicate elastic agent id is unprocessable", func(t *testing.T) {
		// arrange
		e := newTestServer(t)
		for i, uuid := range []string{"uuid-1", "uuid-2"} {
			token := issueToken(t, e, uuid)
			params := registrationBody(uuid, token)
			params["auto_register_key"] = testAutoRegisterKey
			params["elastic_agent_id"] = "E1"
			params["elastic_plugin_id"] = "ecs"

			rec := doJSON(e, http.MethodPost, "/api/agents/register", params)
			if i == 0 {
				assert.Equal(t, http.StatusOK, rec.Code)
				continue
			}

			// assert
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			body := decodeBody(t, rec)
			assert.Contains(t, body["message"], "duplicate elastic agent id")
		}
	})
}

func TestAgentHandler_PostHeartbeat(t *testing.T) {
	registerEnabled := func(t *testing.T, e *echo.Echo, uuid string) string {
		t.Helper()
		token := issueToken(t, e, uuid)
		params := registrationBody(uuid, token)
		params["auto_register_key"] = testAutoRegisterKey
		rec := doJSON(e, http.MethodPost, "/api/agents/register", params)
		assert.Equal(t, http.StatusOK, rec.Code)
		return decodeBody(t, rec)["cookie"].(string)
	}

	t.Run("success - idle heartbeat reports the agent idle", func(t *testing.T) {
		// arrange
		e := newTestServer(t)
		cookie := registerEnabled(t, e, "uuid-1")

		// act
		rec := doJSON(e, http.MethodPost, "/api/agents/uuid-1/heartbeat", map[string]any{
			"cookie":         cookie,
			"status":         string(service.RuntimeIdle),
			"usable_space":   int64(9 << 30),
		})

		// assert
		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, string(service.StateIdle), body["state"])
	})
	t.Run("success - building heartbeat carries the build locator", func(t *testing.T) {
		// arrange
		e := newTestServer(t)
		cookie := registerEnabled(t, e, "uuid-1")

		// act
		rec := doJSON(e, http.MethodPost, "/api/agents/uuid-1/heartbeat", map[string]any{
			"cookie":         cookie,
			"status":         string(service.RuntimeBuilding),
			"build": map[string]any{
				"pipeline": "deploy",
				"stage":    "build",
				"job":      "compile",
			},
		})

		// assert
		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, string(service.StateBuilding), body["state"])
		build := body["build"].(map[string]any)
		assert.Equal(t, "compile", build["job"])
	})
	t.Run("failure - cookie mismatch is forbidden", func(t *testing.T) {
		// arrange
		e := newTestServer(t)
		registerEnabled(t, e, "uuid-1")

		// act
		rec := doJSON(e, http.MethodPost, "/api/agents/uuid-1/heartbeat", map[string]any{
			"cookie":         "stale-cookie",
			"status":         string(service.RuntimeIdle),
		})

		// assert
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
	t.Run("failure - unknown agent is forbidden", func(t *testing.T) {
		// arrange
		e := newTestServer(t)

		// act
		rec := doJSON(e, http.MethodPost, "/api/agents/ghost/heartbeat", map[string]any{
			"cookie":         "whatever",
			"status":         string(service.RuntimeIdle),
		})

		// assert
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestAgentHandler_AgentAdministration(t *testing.T) {
	t.Run("success - pending agent is enabled and listed", func(t *testing.T) {
		// arrange
		e := newTestServer(t)
		token := issueToken(t, e, "uuid-1")
		rec := doJSON(e, http.MethodPost, "/api/agents/register", registrationBody("uuid-1", token))
		assert.Equal(t, http.StatusAccepted, rec.Code)

		// act
		rec = doJSON(e, http.MethodPost, "/api/agents/uuid-1/enable", nil)

		// assert
		assert.Equal(t, http.StatusNoContent, rec.Code)
		rec = doJSON(e, http.MethodGet, "/api/agents", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		var agents []map[string]any
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agents))
		assert.Len(t, agents, 1)
		assert.Equal(t, string(service.StateIdle), agents[0]["state"])
	})
	t.Run("failure - unknown agent is not found", func(t *testing.T) {
		// arrange
		e := newTestServer(t)

		// act
		rec := doJSON(e, http.MethodGet, fmt.Sprintf("/api/agents/%s", "ghost"), nil)

		// assert
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
	t.Run("success - disabled agent reports disabled", func(t *testing.T) {
		// arrange
		e := newTestServer(t)
		token := issueToken(t, e, "uuid-1")
		params := registrationBody("uuid-1", token)
		params["auto_register_key"] = testAutoRegisterKey
		doJSON(e, http.MethodPost, "/api/agents/register", params)

		// act
		rec := doJSON(e, http.MethodPost, "/api/agents/uuid-1/disable", nil)

		// assert
		assert.Equal(t, http.StatusNoContent, rec.Code)
		rec = doJSON(e, http.MethodGet, "/api/agents/uuid-1", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, string(service.StateDisabled), body["state"])
	})
}
