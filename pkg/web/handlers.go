// Package web provides HTTP handlers and REST API endpoints for workflow
// and enrollment management.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/persistence"
	"github.com/journeyhq/journey/pkg/registry"
	"github.com/journeyhq/journey/pkg/services"
	"github.com/journeyhq/journey/pkg/workflow"
)

type APIHandlers struct {
	workflowService   *services.Workflow
	enrollmentService *services.Enrollment
	simulationService *services.Simulation
	validator         *validator.Validate
	registry          *registry.Registry
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	enrollmentService *services.Enrollment,
	simulationService *services.Simulation,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		workflowService:   workflowService,
		enrollmentService: enrollmentService,
		simulationService: simulationService,
		validator:         validator,
		registry:          registry,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Journey API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "Journey API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	var status *models.WorkflowStatus

	if statusStr := c.Query("status"); statusStr != "" {
		parsed := models.WorkflowStatus(statusStr)
		status = &parsed
	}

	workflows, err := h.workflowService.List(c.Context(), status)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows": workflows,
		"count":     len(workflows),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	wf, err := h.workflowService.Fetch(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(wf)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	wf := &models.Workflow{
		Name:        req.Name,
		Description: req.Description,
		Steps:       req.Steps,
		Settings:    req.Settings,
		Metadata:    req.Metadata,
	}

	created, err := h.workflowService.Create(c.Context(), wf)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req UpdateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	// Get existing workflow and merge changes
	existing, err := h.workflowService.Fetch(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	if req.Name != nil {
		existing.Name = *req.Name
	}

	if req.Description != nil {
		existing.Description = *req.Description
	}

	if req.Steps != nil {
		existing.Steps = req.Steps
	}

	if req.Settings != nil {
		existing.Settings = *req.Settings
	}

	if req.Metadata != nil {
		existing.Metadata = req.Metadata
	}

	updated, err := h.workflowService.Update(c.Context(), id, existing)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	err := h.workflowService.Delete(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ValidateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	issues, err := h.workflowService.Validate(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	if issues == nil {
		issues = []workflow.Issue{}
	}

	return c.JSON(ValidationResponse{
		Valid:  len(issues) == 0,
		Issues: issues,
	})
}

func (h *APIHandlers) ActivateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	activated, err := h.workflowService.Activate(c.Context(), id, c.Query("actor"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(activated)
}

func (h *APIHandlers) PauseWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	paused, err := h.workflowService.Pause(c.Context(), id, c.Query("actor"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(paused)
}

func (h *APIHandlers) ArchiveWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	archived, err := h.workflowService.Archive(c.Context(), id, c.Query("actor"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(archived)
}

func (h *APIHandlers) RetargetDelay(c fiber.Ctx) error {
	id := c.Params("id")
	stepID := c.Params("stepId")

	if id == "" || stepID == "" {
		return badRequest(c, "Workflow ID and step ID are required")
	}

	var req RetargetDelayRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.workflowService.RetargetDelay(c.Context(), id, stepID, models.DelayConfig{
		Kind:    models.DelayKind(req.Kind),
		Seconds: req.Seconds,
		Until:   req.Until,
		At:      req.At,
		Weekday: req.Weekday,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) Enroll(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req EnrollRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	enrollment, err := h.enrollmentService.Enroll(c.Context(), id, req.Entity.ref(), req.Variables)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(enrollment)
}

func (h *APIHandlers) BulkEnroll(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req BulkEnrollRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	entities := make([]models.EntityRef, 0, len(req.Entities))
	for _, entity := range req.Entities {
		entities = append(entities, entity.ref())
	}

	result, err := h.enrollmentService.BulkEnroll(c.Context(), id, entities, req.Variables)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *APIHandlers) GetWorkflowEnrollments(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	filter, err := h.parseEnrollmentFilter(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	filter.WorkflowID = id

	enrollments, err := h.enrollmentService.List(c.Context(), *filter)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"enrollments": enrollments,
		"count":       len(enrollments),
	})
}

func (h *APIHandlers) EnrollmentStats(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	stats, err := h.enrollmentService.Stats(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflow_id": id,
		"stats":       stats,
	})
}

func (h *APIHandlers) Simulate(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req SimulateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	dryRun := true
	if req.DryRun != nil {
		dryRun = *req.DryRun
	}

	result, err := h.simulationService.Run(c.Context(), id, workflow.SimulationRequest{
		Entity:      req.Entity.ref(),
		Variables:   req.Variables,
		DryRun:      dryRun,
		FastForward: req.FastForward,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) GetEnrollments(c fiber.Ctx) error {
	filter, err := h.parseEnrollmentFilter(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	filter.WorkflowID = c.Query("workflow_id")

	enrollments, err := h.enrollmentService.List(c.Context(), *filter)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"enrollments": enrollments,
		"count":       len(enrollments),
	})
}

// parseEnrollmentFilter parses the shared enrollment listing query parameters.
func (h *APIHandlers) parseEnrollmentFilter(c fiber.Ctx) (*persistence.EnrollmentFilter, error) {
	filter := &persistence.EnrollmentFilter{
		EntityType: c.Query("entity_type"),
		EntityID:   c.Query("entity_id"),
		Status:     models.EnrollmentStatus(c.Query("status")),
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		filter.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		filter.Offset = offset
	}

	return filter, nil
}

func (h *APIHandlers) GetEnrollment(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Enrollment ID is required")
	}

	enrollment, err := h.enrollmentService.Fetch(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(enrollment)
}

func (h *APIHandlers) CancelEnrollment(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Enrollment ID is required")
	}

	// The body is optional; cancels without one carry no actor or reason.
	var req CancelEnrollmentRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	canceled, err := h.enrollmentService.Cancel(c.Context(), id, req.CanceledBy, req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(canceled)
}

func (h *APIHandlers) RetryEnrollment(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Enrollment ID is required")
	}

	retried, err := h.enrollmentService.Retry(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(retried)
}

func (h *APIHandlers) ResumeEnrollment(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Enrollment ID is required")
	}

	resumed, err := h.enrollmentService.Resume(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(resumed)
}

func (h *APIHandlers) GetExecutors(c fiber.Ctx) error {
	executors := h.registry.Executors()

	return c.JSON(fiber.Map{
		"executors": executors,
		"count":     len(executors),
	})
}
