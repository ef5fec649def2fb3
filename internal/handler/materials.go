package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/haatos/conveyor/internal/service"
	"github.com/haatos/conveyor/internal/store"
)

type MaterialHandler struct {
	updates       service.MaterialUpdateServicer
	health        *service.HealthService
	materialStore store.MaterialStore
}

func NewMaterialHandler(
	updates service.MaterialUpdateServicer,
	health *service.HealthService,
	materialStore store.MaterialStore,
) *MaterialHandler {
	return &MaterialHandler{updates, health, materialStore}
}

// PostPoll triggers one blocking update for the described material. The
// response carries the fingerprint so callers can correlate health entries.
func (h *MaterialHandler) PostPoll(c echo.Context) error {
	mp := new(MaterialParams)
	if err := c.Bind(mp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid material")
	}
	m, err := mp.Material()
	if err != nil {
		return err
	}

	if err := h.updates.UpdateMaterial(c.Request().Context(), m); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"fingerprint": m.Fingerprint()})
}

func (h *MaterialHandler) PostInProgress(c echo.Context) error {
	mp := new(MaterialParams)
	if err := c.Bind(mp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid material")
	}
	m, err := mp.Material()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"fingerprint": m.Fingerprint(),
		"in_progress": h.updates.IsInProgress(m),
	})
}

func (h *MaterialHandler) GetMaterials(c echo.Context) error {
	materials, err := h.materialStore.ListMaterials(c.Request().Context())
	if err != nil {
		return err
	}
	out := make([]map[string]any, len(materials))
	for i, m := range materials {
		out[i] = map[string]any{
			"fingerprint": m.Fingerprint,
			"type":        m.MaterialType,
			"description": m.Description,
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (h *MaterialHandler) GetModifications(c echo.Context) error {
	fingerprint := c.Param("fingerprint")
	mods, err := h.materialStore.ListModifications(c.Request().Context(), fingerprint, 50)
	if err != nil {
		return err
	}
	out := make([]map[string]any, len(mods))
	for i, mod := range mods {
		out[i] = map[string]any{
			"revision":    mod.Revision,
			"author":      mod.Author,
			"comment":     mod.Comment,
			"modified_on": mod.ModifiedOn,
			"sequence":    mod.Sequence,
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (h *MaterialHandler) GetHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, h.health.ListErrors())
}
