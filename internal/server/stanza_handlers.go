package server

import (
	"bytes"

	"parley/internal/models"

	"github.com/gofiber/fiber/v2"
)

// PostStanza ingests one message stanza, sent as the raw XML request body,
// for an account. The response tells whether a delivery receipt is due.
func (s *Server) PostStanza(c *fiber.Ctx) error {
	account, err := addressParam(c, "account")
	if err != nil {
		return nil
	}
	body := c.Body()
	if len(bytes.TrimSpace(body)) == 0 {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Stanza is required"))
	}
	result, err := s.messageService.Ingest(c.UserContext(), account, bytes.NewReader(body))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

// ArchivePageRequest is the body of PostArchivePage.
type ArchivePageRequest struct {
	Results []string `json:"results"`
}

// PostArchivePage ingests one page of archive query results in a single
// transaction.
func (s *Server) PostArchivePage(c *fiber.Ctx) error {
	account, err := addressParam(c, "account")
	if err != nil {
		return nil
	}
	var req ArchivePageRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	if err := s.messageService.IngestPage(c.UserContext(), account, req.Results); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"ingested": len(req.Results)})
}

// GetCheckpoint returns the newest stanza id stored from an archive, the
// point a catch-up query resumes after.
func (s *Server) GetCheckpoint(c *fiber.Ctx) error {
	account, err := addressParam(c, "account")
	if err != nil {
		return nil
	}
	archive, err := addressParam(c, "archive")
	if err != nil {
		return nil
	}
	last, err := s.messageService.Checkpoint(c.UserContext(), account, archive)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"archive": archive, "last_stanza_id": last})
}
