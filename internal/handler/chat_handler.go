package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/buddychat/buddychat-api/internal/dto"
	"github.com/buddychat/buddychat-api/internal/service"
	"github.com/buddychat/buddychat-api/internal/utils"
)

// ChatHandler wires the direct-chat endpoints.
type ChatHandler struct {
	service service.ChatService
	logger  zerolog.Logger
}

// NewChatHandler creates a chat handler instance.
func NewChatHandler(service service.ChatService, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		service: service,
		logger:  logger.With().Str("component", "chat_handler").Logger(),
	}
}

// Register binds chat routes under the provided router group.
func (h *ChatHandler) Register(router fiber.Router) {
	router.Post("/", h.create)
	router.Get("/", h.list)
	router.Get("/history", h.history)
	router.Post("/archive", h.archive)
	router.Delete("/:id", h.deleteChat)

	router.Post("/messages", h.send)
	router.Patch("/messages", h.updateMessage)
	router.Post("/messages/:id/read", h.markRead)
	router.Post("/messages/:id/unsend", h.unsend)
	router.Delete("/messages/:id", h.deleteMessage)
}

func (h *ChatHandler) create(c *fiber.Ctx) error {
	var req dto.CreateChatRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	pair, err := h.service.Create(requestContext(c), userIDFromContext(c), req)
	if err != nil {
		return sendAppError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "chat created", pair)
}

func (h *ChatHandler) list(c *fiber.Ctx) error {
	chats, err := h.service.List(requestContext(c), userIDFromContext(c))
	if err != nil {
		return sendAppError(c, err)
	}
	return utils.SendSuccess(c, "chats", chats)
}

func (h *ChatHandler) history(c *fiber.Ctx) error {
	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}
	offset, err := parseQueryInt(c, "offset")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid offset")
	}

	query := dto.ChatHistoryQuery{
		ChatID: c.Query("chat_id"),
		Limit:  limit,
		Offset: offset,
	}

	messages, err := h.service.History(requestContext(c), userIDFromContext(c), query)
	if err != nil {
		return sendAppError(c, err)
	}

	return utils.SendSuccess(c, "chat history", messages)
}

func (h *ChatHandler) archive(c *fiber.Ctx) error {
	var req dto.ArchiveChatRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	chat, err := h.service.SetArchived(requestContext(c), userIDFromContext(c), req)
	if err != nil {
		return sendAppError(c, err)
	}

	return utils.SendSuccess(c, "chat archived state updated", chat)
}

func (h *ChatHandler) deleteChat(c *fiber.Ctx) error {
	if err := h.service.DeleteChat(requestContext(c), userIDFromContext(c), c.Params("id")); err != nil {
		return sendAppError(c, err)
	}
	return utils.SendSuccess(c, "chat deleted", nil)
}

func (h *ChatHandler) send(c *fiber.Ctx) error {
	var req dto.SendChatMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	message, err := h.service.Send(requestContext(c), userIDFromContext(c), req)
	if err != nil {
		return sendAppError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message sent", message)
}

func (h *ChatHandler) updateMessage(c *fiber.Ctx) error {
	var req dto.UpdateChatMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	message, err := h.service.UpdateMessage(requestContext(c), userIDFromContext(c), req)
	if err != nil {
		return sendAppError(c, err)
	}

	return utils.SendSuccess(c, "message updated", message)
}

func (h *ChatHandler) markRead(c *fiber.Ctx) error {
	message, err := h.service.MarkMessageRead(requestContext(c), userIDFromContext(c), c.Params("id"))
	if err != nil {
		return sendAppError(c, err)
	}
	return utils.SendSuccess(c, "message marked read", message)
}

func (h *ChatHandler) unsend(c *fiber.Ctx) error {
	if err := h.service.Unsend(requestContext(c), userIDFromContext(c), c.Params("id")); err != nil {
		return sendAppError(c, err)
	}
	return utils.SendSuccess(c, "message unsent", nil)
}

func (h *ChatHandler) deleteMessage(c *fiber.Ctx) error {
	if err := h.service.DeleteForSelf(requestContext(c), userIDFromContext(c), c.Params("id")); err != nil {
		return sendAppError(c, err)
	}
	return utils.SendSuccess(c, "message deleted", nil)
}
