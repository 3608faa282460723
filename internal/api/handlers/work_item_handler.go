package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/service"
	"github.com/maheshrc27/crosspost/internal/transfer"
)

type WorkItemHandler struct {
	s service.WorkItemService
}

func NewWorkItemHandler(service service.WorkItemService) *WorkItemHandler {
	return &WorkItemHandler{s: service}
}

// CreateWorkItem accepts a JSON body or a multipart form with an optional
// "video" file.
func (h *WorkItemHandler) CreateWorkItem(c *fiber.Ctx) error {
	var wc transfer.WorkItemCreation
	if err := c.BodyParser(&wc); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse request body",
		})
	}

	video, err := c.FormFile("video")
	if err != nil {
		video = nil
	}

	item, err := h.s.Create(c.Context(), &wc, video)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":           item.ID,
		"name":         item.Name,
		"status":       item.Status,
		"scheduled_at": item.ScheduledAt,
		"message":      "Work item created and queued for posting",
	})
}

func (h *WorkItemHandler) CreateBulk(c *fiber.Ctx) error {
	var items []transfer.WorkItemCreation
	if err := c.BodyParser(&items); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Expected a JSON array of work items",
		})
	}
	return c.Status(fiber.StatusOK).JSON(h.s.CreateBulk(c.Context(), items))
}

// Webhook queues a READY item from an external JSON trigger. The video must be
// given by reference.
func (h *WorkItemHandler) Webhook(c *fiber.Ctx) error {
	var wc transfer.WorkItemCreation
	if err := c.BodyParser(&wc); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse request body",
		})
	}
	if strings.TrimSpace(wc.Name) == "" || strings.TrimSpace(wc.MediaRef) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "name and media_ref are required",
		})
	}
	wc.Status = string(models.ItemStatusReady)

	item, err := h.s.Create(c.Context(), &wc, nil)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(transfer.WebhookResult{
		ID:      item.ID,
		Status:  string(item.Status),
		Message: "Queued via webhook",
	})
}

func (h *WorkItemHandler) GetAnalytics(c *fiber.Ctx) error {
	stats, err := h.s.Stats(c.Context())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(stats)
}

func (h *WorkItemHandler) ListWorkItems(c *fiber.Ctx) error {
	items, err := h.s.List(c.Context())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(items)
}

func (h *WorkItemHandler) GetWorkItem(c *fiber.Ctx) error {
	id, err := ParamID(c)
	if err != nil {
		return errorResponse(c, err)
	}
	item, err := h.s.Get(c.Context(), id)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(item)
}

func (h *WorkItemHandler) UpdateStatus(c *fiber.Ctx) error {
	id, err := ParamID(c)
	if err != nil {
		return errorResponse(c, err)
	}
	var upd transfer.WorkItemStatusUpdate
	if err := c.BodyParser(&upd); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse request body",
		})
	}

	item, err := h.s.UpdateStatus(c.Context(), id, models.ItemStatus(upd.Status))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"id":     item.ID,
		"status": item.Status,
	})
}

func (h *WorkItemHandler) RetryWorkItem(c *fiber.Ctx) error {
	id, err := ParamID(c)
	if err != nil {
		return errorResponse(c, err)
	}
	res, err := h.s.Retry(c.Context(), id)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

func (h *WorkItemHandler) RemoveWorkItem(c *fiber.Ctx) error {
	id, err := ParamID(c)
	if err != nil {
		return errorResponse(c, err)
	}
	if err := h.s.Remove(c.Context(), id); err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"deleted": true,
		"id":      id,
	})
}
