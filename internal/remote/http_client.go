package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/afero"

	"github.com/meetq/meetq/internal/models"
)

// HTTPParams configures the HTTP transport.
type HTTPParams struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// StatusError is a non-2xx response from the meeting service.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// HTTPClient implements Client against the meeting service REST API.
type HTTPClient struct {
	http *resty.Client
	fs   afero.Fs
}

type attendee struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

func toAttendees(participants []models.Participant) []attendee {
	out := make([]attendee, 0, len(participants))
	for _, p := range participants {
		out = append(out, attendee{Email: p.Contact, Name: p.DisplayName})
	}
	return out
}

// NewHTTPClient returns a client for the service at p.BaseURL.
func NewHTTPClient(p HTTPParams, fsys afero.Fs) (*HTTPClient, error) {
	if p.BaseURL == "" {
		return nil, fmt.Errorf("base_url is required")
	}
	c := resty.New().
		SetBaseURL(p.BaseURL).
		SetTimeout(timeoutOrDefault(p.Timeout)).
		SetHeader("Accept", "application/json")
	if p.Token != "" {
		c.SetAuthToken(p.Token)
	}
	return &HTTPClient{http: c, fs: fsys}, nil
}

func (c *HTTPClient) CreateSession(ctx context.Context, location string, participants []models.Participant) (string, error) {
	var out struct {
		MeetingID string `json:"meeting_id"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"room":      location,
			"attendees": toAttendees(participants),
		}).
		SetResult(&out).
		Post("/meetings/start")
	if err := checkResponse("start meeting", resp, err); err != nil {
		return "", err
	}
	if out.MeetingID == "" {
		return "", fmt.Errorf("start meeting: response has no meeting_id")
	}
	return out.MeetingID, nil
}

func (c *HTTPClient) AttachCapture(ctx context.Context, remoteID string, audioRef string, participants []models.Participant) error {
	f, err := c.fs.Open(audioRef)
	if err != nil {
		return fmt.Errorf("opening capture: %w", err)
	}
	defer f.Close()

	attendees, err := json.Marshal(toAttendees(participants))
	if err != nil {
		return err
	}

	ext := filepath.Ext(audioRef)
	if ext == "" {
		ext = ".m4a"
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetMultipartField("audio", "recording"+ext, audioContentType(ext), f).
		SetMultipartFormData(map[string]string{"attendees": string(attendees)}).
		SetPathParam("id", remoteID).
		Post("/meetings/{id}/end")
	return checkResponse("end meeting", resp, err)
}

func (c *HTTPClient) FetchStatus(ctx context.Context, remoteID string) (*Status, error) {
	var out Status
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", remoteID).
		SetResult(&out).
		Get("/meetings/{id}/status")
	if err := checkResponse("meeting status", resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) FetchResult(ctx context.Context, remoteID string) (*models.Result, error) {
	var out models.Result
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", remoteID).
		SetResult(&out).
		Get("/meetings/{id}/summary")
	if err == nil {
		switch resp.StatusCode() {
		case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict:
			return nil, fmt.Errorf("meeting summary: %w", ErrResultNotReady)
		}
	}
	if err := checkResponse("meeting summary", resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

func checkResponse(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.IsError() {
		return &StatusError{Op: op, StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}

func audioContentType(ext string) string {
	switch ext {
	case ".m4a", ".caf":
		return "audio/m4a"
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	default:
		return "audio/webm"
	}
}

var _ Client = (*HTTPClient)(nil)
