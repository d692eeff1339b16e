package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/harvestman-flow/harvestman/pkg/bus"
	"github.com/harvestman-flow/harvestman/pkg/models"
	"github.com/harvestman-flow/harvestman/pkg/persistence"
	"github.com/harvestman-flow/harvestman/pkg/workflow"
)

// Handlers serves the management API over one engine, its store and its bus.
type Handlers struct {
	engine    *workflow.Engine
	store     persistence.Persistence
	bus       *bus.Bus
	validator *validator.Validate
}

func NewHandlers(engine *workflow.Engine, store persistence.Persistence, eventBus *bus.Bus, validate *validator.Validate) *Handlers {
	return &Handlers{
		engine:    engine,
		store:     store,
		bus:       eventBus,
		validator: validate,
	}
}

func (h *Handlers) ListRules(c fiber.Ctx) error {
	rules := h.engine.Rules()

	return c.JSON(fiber.Map{
		"rules": rules,
		"total": len(rules),
	})
}

func (h *Handlers) CreateRule(c fiber.Ctx) error {
	var req CreateRuleRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	rule := req.ToModel()
	if err := h.engine.AddRule(rule); err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(rule)
}

func (h *Handlers) GetRule(c fiber.Ctx) error {
	id := c.Params("id")

	rule, ok := h.engine.Rule(id)
	if !ok {
		return notFound(c, "Rule not found")
	}

	return c.JSON(rule)
}

func (h *Handlers) UpdateRule(c fiber.Ctx) error {
	id := c.Params("id")

	var req UpdateRuleRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.engine.SetRuleEnabled(id, *req.Enabled); err != nil {
		return handleEngineError(c, err)
	}

	rule, _ := h.engine.Rule(id)

	return c.JSON(rule)
}

func (h *Handlers) DeleteRule(c fiber.Ctx) error {
	if err := h.engine.RemoveRule(c.Params("id")); err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handlers) ListInstances(c fiber.Ctx) error {
	instances, err := h.engine.Instances(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	if status := c.Query("status"); status != "" {
		filtered := make([]*models.Instance, 0, len(instances))

		for _, instance := range instances {
			if string(instance.Status) == status {
				filtered = append(filtered, instance)
			}
		}

		instances = filtered
	}

	return c.JSON(fiber.Map{
		"instances": instances,
		"total":     len(instances),
	})
}

func (h *Handlers) CreateInstance(c fiber.Ctx) error {
	var req CreateInstanceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	instance, err := h.engine.CreateWorkflow(c.Context(), req.Name, req.ToModel(), req.Metadata)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(instance)
}

// GetInstance prefers the engine's live view and falls back to the store for
// instances from earlier runs.
func (h *Handlers) GetInstance(c fiber.Ctx) error {
	id := c.Params("id")

	if instance, ok := h.engine.Instance(id); ok {
		return c.JSON(instance)
	}

	instance, err := h.store.InstanceByID(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(instance)
}

func (h *Handlers) StartInstance(c fiber.Ctx) error {
	id := c.Params("id")

	if err := h.engine.StartWorkflow(c.Context(), id); err != nil {
		return handleEngineError(c, err)
	}

	instance, _ := h.engine.Instance(id)

	return c.JSON(instance)
}

func (h *Handlers) CancelInstance(c fiber.Ctx) error {
	id := c.Params("id")

	var req CancelInstanceRequest

	// The reason body is optional.
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.engine.CancelWorkflow(c.Context(), id, req.Reason); err != nil {
		return handleEngineError(c, err)
	}

	instance, _ := h.engine.Instance(id)

	return c.JSON(instance)
}

func (h *Handlers) ListEvaluations(c fiber.Ctx) error {
	filter, err := h.parseEvaluationFilter(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	evaluations, err := h.engine.Evaluations(c.Context(), *filter)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"evaluations": evaluations,
		"total":       len(evaluations),
	})
}

func (h *Handlers) parseEvaluationFilter(c fiber.Ctx) (*models.EvaluationFilter, error) {
	filter := &models.EvaluationFilter{
		RuleID: c.Query("rule_id"),
		Event:  c.Query("event"),
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		filter.Limit = limit
	}

	if sinceStr := c.Query("since"); sinceStr != "" {
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			return nil, err
		}

		filter.Since = since
	}

	return filter, nil
}

// RecentEvaluations serves the engine's in-memory tail, newest first.
func (h *Handlers) RecentEvaluations(c fiber.Ctx) error {
	limit := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid query parameters: "+err.Error())
		}

		limit = parsed
	}

	evaluations := h.engine.RecentEvaluations(limit)

	return c.JSON(fiber.Map{
		"evaluations": evaluations,
		"total":       len(evaluations),
	})
}

func (h *Handlers) EventHistory(c fiber.Ctx) error {
	filter := bus.HistoryFilter{
		Name:   c.Query("name"),
		Source: c.Query("source"),
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid query parameters: "+err.Error())
		}

		filter.Limit = limit
	}

	if sinceStr := c.Query("since"); sinceStr != "" {
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			return badRequest(c, "Invalid query parameters: "+err.Error())
		}

		filter.Since = since
	}

	history := h.bus.History(filter)

	return c.JSON(fiber.Map{
		"events": history,
		"total":  len(history),
	})
}

func (h *Handlers) EventStats(c fiber.Ctx) error {
	return c.JSON(h.bus.Stats())
}

func (h *Handlers) HealthCheck(c fiber.Ctx) error {
	storeErr := h.store.HealthCheck(c.Context())

	status := "healthy"
	message := "Harvestman API is healthy"
	httpStatus := http.StatusOK
	storeCheck := "ok"

	if storeErr != nil {
		status = "unhealthy"
		message = "Harvestman API is unhealthy"
		httpStatus = http.StatusInternalServerError
		storeCheck = storeErr.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"persistence": storeCheck,
			"queue_depth": h.engine.QueueDepth(),
		},
		"timestamp": time.Now().UTC(),
	})
}
