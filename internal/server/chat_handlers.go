package server

import (
	"parley/internal/models"

	"github.com/gofiber/fiber/v2"
)

// GetChats returns the chat overview of an account.
func (s *Server) GetChats(c *fiber.Ctx) error {
	account, err := addressParam(c, "account")
	if err != nil {
		return nil
	}
	items, err := s.chatService.Overview(c.UserContext(), account)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(items)
}

// GetMessages returns the messages of a chat, oldest first.
func (s *Server) GetMessages(c *fiber.Ctx) error {
	chatID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	messages, err := s.chatService.Messages(c.UserContext(), chatID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(page(messages, parsePagination(c, 100)))
}

// GetBookmarks returns the group chat bookmarks of an account.
func (s *Server) GetBookmarks(c *fiber.Ctx) error {
	account, err := addressParam(c, "account")
	if err != nil {
		return nil
	}
	bookmarks, err := s.chatService.Bookmarks(c.UserContext(), account)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(bookmarks)
}

// PutBookmarks replaces the bookmarks of an account.
func (s *Server) PutBookmarks(c *fiber.Ctx) error {
	account, err := addressParam(c, "account")
	if err != nil {
		return nil
	}
	var bookmarks []models.Bookmark
	if err := c.BodyParser(&bookmarks); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	if err := s.chatService.SyncBookmarks(c.UserContext(), account, bookmarks); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// MucStateRequest is the body of PutMucState.
type MucStateRequest struct {
	State          models.MucState `json:"state"`
	ErrorCondition string          `json:"error_condition"`
}

// PutMucState records the join state of a group chat.
func (s *Server) PutMucState(c *fiber.Ctx) error {
	chatID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	var req MucStateRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	if err := s.chatService.SetMucState(c.UserContext(), chatID, req.State, req.ErrorCondition); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ResetMucStates clears the join state of every group chat of an account.
func (s *Server) ResetMucStates(c *fiber.Ctx) error {
	account, err := addressParam(c, "account")
	if err != nil {
		return nil
	}
	if err := s.chatService.ResetMucStates(c.UserContext(), account); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
