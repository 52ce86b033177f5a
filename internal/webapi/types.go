package webapi

import "github.com/meetq/meetq/internal/models"

// SessionsResponse is the list response for GET /api/sessions.
type SessionsResponse struct {
	Sessions []models.SessionRecord `json:"sessions"`
	Total    int                    `json:"total"`
}

// RetryResponse reports the outcome of a single-session retry.
type RetryResponse struct {
	Uploaded bool                  `json:"uploaded"`
	Session  *models.SessionRecord `json:"session,omitempty"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ErrorResponse is returned for errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}
