package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/buddychat/buddychat-api/internal/dto"
	"github.com/buddychat/buddychat-api/internal/service"
	"github.com/buddychat/buddychat-api/internal/utils"
)

// GroupHandler wires the group-chat endpoints.
type GroupHandler struct {
	service service.GroupService
	logger  zerolog.Logger
}

// NewGroupHandler creates a group handler instance.
func NewGroupHandler(service service.GroupService, logger zerolog.Logger) *GroupHandler {
	return &GroupHandler{
		service: service,
		logger:  logger.With().Str("component", "group_handler").Logger(),
	}
}

// Register binds group routes under the provided router group.
func (h *GroupHandler) Register(router fiber.Router) {
	router.Post("/", h.create)
	router.Patch("/", h.update)
	router.Get("/members", h.members)
	router.Get("/history", h.history)
	router.Post("/archive", h.archive)
	router.Post("/admins", h.changeAdmin)
	router.Post("/members", h.addMember)
	router.Delete("/members/:id", h.removeMember)
	router.Post("/:id/leave", h.leave)
	router.Delete("/:id", h.deletePermanently)

	router.Post("/messages", h.send)
	router.Patch("/messages", h.updateMessage)
	router.Post("/messages/:id/unsend", h.unsend)
	router.Delete("/messages/:id", h.deleteMessage)
}

func (h *GroupHandler) create(c *fiber.Ctx) error {
	var req dto.CreateGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	created, err := h.service.Create(requestContext(c), userIDFromContext(c), req)
	if err != nil {
		return sendAppError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "group created", created)
}

func (h *GroupHandler) update(c *fiber.Ctx) error {
	var req dto.UpdateGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	group, err := h.service.Update(requestContext(c), userIDFromContext(c), req)
	if err != nil {
		return sendAppError(c, err)
	}

	return utils.SendSuccess(c, "group updated", group)
}

func (h *GroupHandler) members(c *fiber.Ctx) error {
	memberList, err := h.service.Members(requestContext(c), userIDFromContext(c), c.Query("group_copy_id"))
	if err != nil {
		return sendAppError(c, err)
	}
	return utils.SendSuccess(c, "group members", memberList)
}

func (h *GroupHandler) history(c *fiber.Ctx) error {
	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}
	offset, err := parseQueryInt(c, "offset")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid offset")
	}

	query := dto.GroupHistoryQuery{
		GroupCopyID: c.Query("group_copy_id"),
		Limit:       limit,
		Offset:      offset,
	}

	messages, err := h.service.History(requestContext(c), userIDFromContext(c), query)
	if err != nil {
		return sendAppError(c, err)
	}

	return utils.SendSuccess(c, "group history", messages)
}

func (h *GroupHandler) archive(c *fiber.Ctx) error {
	var req dto.ArchiveGroupCopyRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	mailbox, err := h.service.SetArchived(requestContext(c), userIDFromContext(c), req)
	if err != nil {
		return sendAppError(c, err)
	}

	return utils.SendSuccess(c, "group archived state updated", mailbox)
}

func (h *GroupHandler) changeAdmin(c *fiber.Ctx) error {
	var req dto.ChangeAdminRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	member, err := h.service.ChangeAdmin(requestContext(c), userIDFromContext(c), req)
	if err != nil {
		return sendAppError(c, err)
	}

	return utils.SendSuccess(c, "admin state updated", member)
}

func (h *GroupHandler) addMember(c *fiber.Ctx) error {
	var req dto.AddGroupMemberRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	member, err := h.service.AddMember(requestContext(c), userIDFromContext(c), req)
	if err != nil {
		return sendAppError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "member added", member)
}

func (h *GroupHandler) removeMember(c *fiber.Ctx) error {
	if err := h.service.RemoveMember(requestContext(c), userIDFromContext(c), c.Params("id")); err != nil {
		return sendAppError(c, err)
	}
	return utils.SendSuccess(c, "member removed", nil)
}

func (h *GroupHandler) leave(c *fiber.Ctx) error {
	if err := h.service.Leave(requestContext(c), userIDFromContext(c), c.Params("id")); err != nil {
		return sendAppError(c, err)
	}
	return utils.SendSuccess(c, "left group", nil)
}

func (h *GroupHandler) deletePermanently(c *fiber.Ctx) error {
	if err := h.service.DeletePermanently(requestContext(c), userIDFromContext(c), c.Params("id")); err != nil {
		return sendAppError(c, err)
	}
	return utils.SendSuccess(c, "group deleted", nil)
}

func (h *GroupHandler) send(c *fiber.Ctx) error {
	var req dto.SendGroupMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	message, err := h.service.Send(requestContext(c), userIDFromContext(c), req)
	if err != nil {
		return sendAppError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message sent", message)
}

func (h *GroupHandler) updateMessage(c *fiber.Ctx) error {
	var req dto.UpdateGroupMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	message, err := h.service.UpdateMessage(requestContext(c), userIDFromContext(c), req)
	if err != nil {
		return sendAppError(c, err)
	}

	return utils.SendSuccess(c, "message updated", message)
}

func (h *GroupHandler) unsend(c *fiber.Ctx) error {
	if err := h.service.Unsend(requestContext(c), userIDFromContext(c), c.Params("id")); err != nil {
		return sendAppError(c, err)
	}
	return utils.SendSuccess(c, "message unsent", nil)
}

func (h *GroupHandler) deleteMessage(c *fiber.Ctx) error {
	if err := h.service.DeleteMessageForSelf(requestContext(c), userIDFromContext(c), c.Params("id")); err != nil {
		return sendAppError(c, err)
	}
	return utils.SendSuccess(c, "message deleted", nil)
}
