package utils

import "github.com/gofiber/fiber/v2"

// APIResponse is the envelope shared by every JSON endpoint. Code is a machine readable
// failure tag; Details carries structured context such as per-field validation errors.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

func orDefault(message, fallback string) string {
	if message == "" {
		return fallback
	}
	return message
}

// SendSuccess responds 200 with data.
func SendSuccess(c *fiber.Ctx, message string, data interface{}) error {
	return SendSuccessWithStatus(c, fiber.StatusOK, message, data)
}

// SendSuccessWithStatus is SendSuccess for 201 and 202 style responses.
func SendSuccessWithStatus(c *fiber.Ctx, status int, message string, data interface{}) error {
	if status == 0 {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(APIResponse{
		Success: true,
		Data:    data,
		Message: orDefault(message, "success"),
	})
}

// OK responds 200 with list metadata such as counts.
func OK(c *fiber.Ctx, data interface{}, message string, meta interface{}) error {
	return c.Status(fiber.StatusOK).JSON(APIResponse{
		Success: true,
		Data:    data,
		Message: orDefault(message, "success"),
		Meta:    meta,
	})
}

// SendError responds with an untagged failure.
func SendError(c *fiber.Ctx, status int, message string) error {
	return Fail(c, status, "", message, nil)
}

// SendErrorCode tags the failure so clients can tell apart errors sharing a status.
func SendErrorCode(c *fiber.Ctx, status int, code, message string) error {
	return Fail(c, status, code, message, nil)
}

// Fail is the general failure writer.
func Fail(c *fiber.Ctx, status int, code, message string, details interface{}) error {
	return c.Status(status).JSON(APIResponse{
		Success: false,
		Message: orDefault(message, "error"),
		Code:    code,
		Details: details,
	})
}
