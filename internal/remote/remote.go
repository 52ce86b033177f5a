// Package remote talks to the meeting service that receives uploaded
// sessions and produces their summaries.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/afero"

	"github.com/meetq/meetq/internal/models"
)

//go:generate go tool mockgen -source=remote.go -destination=mock_client.go -package=remote

// ErrResultNotReady is returned by FetchResult while the remote is still
// processing a session.
var ErrResultNotReady = errors.New("result not ready")

// Client is the remote collaborator used by the sync orchestrator.
type Client interface {
	// CreateSession registers a session and returns the remote id for it.
	CreateSession(ctx context.Context, location string, participants []models.Participant) (string, error)

	// AttachCapture uploads the audio at audioRef to an existing remote session.
	// A missing artifact yields an error wrapping fs.ErrNotExist.
	AttachCapture(ctx context.Context, remoteID string, audioRef string, participants []models.Participant) error

	// FetchStatus returns the processing state of a remote session.
	FetchStatus(ctx context.Context, remoteID string) (*Status, error)

	// FetchResult returns the summary and transcript of a completed session.
	FetchResult(ctx context.Context, remoteID string) (*models.Result, error)
}

// Processing states reported by the remote.
const (
	StatusRecording  = "recording"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Status is the remote's view of a session.
type Status struct {
	State string            `json:"status"`
	Steps map[string]string `json:"steps,omitempty"`
	Error string            `json:"error,omitempty"`
}

// Completed reports whether the result can be fetched.
func (s *Status) Completed() bool {
	return s.State == StatusCompleted
}

// Kind selects a transport.
type Kind string

const (
	KindHTTP   Kind = "http"
	KindAzBlob Kind = "azblob"
)

// Config selects and parameterizes a transport.
type Config struct {
	Kind   Kind           `yaml:"kind,omitempty" json:"kind,omitempty"`
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// New builds the transport named by cfg.Kind. Captures are read from fsys.
func New(cfg Config, fsys afero.Fs) (Client, error) {
	switch cfg.Kind {
	case KindHTTP, "":
		var p HTTPParams
		if err := decodeParams(cfg.Params, &p); err != nil {
			return nil, fmt.Errorf("http remote params: %w", err)
		}
		return NewHTTPClient(p, fsys)
	case KindAzBlob:
		var p BlobParams
		if err := decodeParams(cfg.Params, &p); err != nil {
			return nil, fmt.Errorf("azblob remote params: %w", err)
		}
		return NewBlobClient(p, fsys)
	default:
		return nil, fmt.Errorf("'%s' is not a valid remote kind", cfg.Kind)
	}
}

func decodeParams(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(params)
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 60 * time.Second
	}
	return d
}
