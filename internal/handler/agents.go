package handler

import (
	"net"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/haatos/conveyor/internal/service"
)

type AgentHandler struct {
	registry service.RegistryServicer
}

func NewAgentHandler(registry service.RegistryServicer) *AgentHandler {
	return &AgentHandler{registry}
}

func (h *AgentHandler) PostToken(c echo.Context) error {
	tp := new(TokenParams)
	if err := c.Bind(tp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid token request")
	}

	token, err := h.registry.IssueToken(c.Request().Context(), strings.TrimSpace(tp.UUID))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"token": token})
}

func (h *AgentHandler) PostRegister(c echo.Context) error {
	rp := new(RegistrationParams)
	if err := c.Bind(rp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid registration request")
	}

	outcome, err := h.registry.RegisterOrRefresh(c.Request().Context(), service.RegistrationRequest{
		UUID:            strings.TrimSpace(rp.UUID),
		Hostname:        strings.TrimSpace(rp.Hostname),
		IPAddress:       c.RealIP(),
		SandboxPath:     rp.SandboxPath,
		UsableSpace:     rp.UsableSpace,
		OperatingSystem: rp.OperatingSystem,
		Resources:       rp.Resources,
		Environments:    rp.Environments,
		AutoRegisterKey: rp.AutoRegisterKey,
		ElasticAgentID:  rp.ElasticAgentID,
		ElasticPluginID: rp.ElasticPluginID,
		Token:           rp.Token,
		Local:           isLoopback(c.RealIP()),
	})
	if err != nil {
		return err
	}

	status := http.StatusOK
	if outcome.Pending {
		status = http.StatusAccepted
	}
	return c.JSON(status, h.agentResponse(outcome.Instance, outcome.Cookie))
}

func (h *AgentHandler) PostHeartbeat(c echo.Context) error {
	info := new(service.AgentRuntimeInfo)
	if err := c.Bind(info); err != nil {
		return newError(err, http.StatusBadRequest, "invalid heartbeat")
	}
	info.UUID = c.Param("uuid")

	instance, err := h.registry.Heartbeat(c.Request().Context(), *info)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.agentResponse(instance, ""))
}

func (h *AgentHandler) GetAgents(c echo.Context) error {
	instances, err := h.registry.ListInstances(c.Request().Context())
	if err != nil {
		return err
	}
	out := make([]map[string]any, len(instances))
	for i, instance := range instances {
		out[i] = h.agentResponse(instance, "")
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AgentHandler) GetAgent(c echo.Context) error {
	instance, err := h.registry.FindInstance(c.Request().Context(), c.Param("uuid"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.agentResponse(instance, ""))
}

func (h *AgentHandler) PostEnableAgent(c echo.Context) error {
	if err := h.registry.EnableAgent(c.Request().Context(), c.Param("uuid")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AgentHandler) PostDisableAgent(c echo.Context) error {
	if err := h.registry.DisableAgent(c.Request().Context(), c.Param("uuid")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AgentHandler) PostDenyAgent(c echo.Context) error {
	if err := h.registry.DenyAgent(c.Request().Context(), c.Param("uuid")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AgentHandler) PostCancelBuild(c echo.Context) error {
	if err := h.registry.CancelBuild(c.Request().Context(), c.Param("uuid")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AgentHandler) PatchAgentTags(c echo.Context) error {
	tp := new(AgentTagsParams)
	if err := c.Bind(tp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid agent tags")
	}
	if err := h.registry.UpdateAgentTags(
		c.Request().Context(), tp.UUID, tp.Resources, tp.Environments,
	); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AgentHandler) DeleteAgent(c echo.Context) error {
	if err := h.registry.DeleteAgent(c.Request().Context(), c.Param("uuid")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AgentHandler) agentResponse(instance *service.AgentInstance, cookie string) map[string]any {
	resp := map[string]any{
		"uuid":         instance.Agent.UUID,
		"hostname":     instance.Agent.Hostname,
		"ip_address":   instance.Agent.IPAddress,
		"resources":    instance.Agent.ResourceList(),
		"environments": instance.Agent.EnvironmentList(),
		"state":        h.registry.StateOf(instance),
	}
	if instance.Agent.IsElastic() {
		resp["elastic_agent_id"] = *instance.Agent.ElasticAgentID
		resp["elastic_plugin_id"] = *instance.Agent.ElasticPluginID
	}
	if instance.Runtime != nil && instance.Runtime.Build != nil {
		resp["build"] = instance.Runtime.Build
	}
	if cookie != "" {
		resp["cookie"] = cookie
	}
	return resp
}

func isLoopback(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}
