package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/meetq/meetq/internal/models"
)

// BlobParams configures the Azure Blob transport. Either ConnectionString or
// AccountURL must be set; with AccountURL the default Azure credential chain
// is used.
type BlobParams struct {
	AccountURL       string        `mapstructure:"account_url"`
	ConnectionString string        `mapstructure:"connection_string"`
	Container        string        `mapstructure:"container"`
	Prefix           string        `mapstructure:"prefix"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxRetries       int32         `mapstructure:"max_retries"`
}

// blobAPI is just an interface over [*azblob.Client]
type blobAPI interface {
	// UploadBuffer maps to [azblob.Client.UploadBuffer]
	UploadBuffer(ctx context.Context, containerName string, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)

	// UploadStream maps to [azblob.Client.UploadStream]
	UploadStream(ctx context.Context, containerName string, blobName string, body io.Reader, o *azblob.UploadStreamOptions) (azblob.UploadStreamResponse, error)

	// DownloadStream maps to [azblob.Client.DownloadStream]
	DownloadStream(ctx context.Context, containerName string, blobName string, o *azblob.DownloadStreamOptions) (azblob.DownloadStreamResponse, error)
}

// manifest is the session.json written next to each uploaded capture. The
// ingesting backend picks up sessions whose manifest has a capture set.
type manifest struct {
	ID           string               `json:"id"`
	Location     string               `json:"location"`
	Participants []models.Participant `json:"participants"`
	Capture      string               `json:"capture,omitempty"`
	CreatedAt    time.Time            `json:"createdAt"`
	UploadedAt   *time.Time           `json:"uploadedAt,omitempty"`
}

// BlobClient implements Client by dropping sessions into a blob container.
type BlobClient struct {
	api       blobAPI
	fs        afero.Fs
	container string
	prefix    string
	timeout   time.Duration
	now       func() time.Time
}

// NewBlobClient connects to the storage account described by p.
func NewBlobClient(p BlobParams, fsys afero.Fs) (*BlobClient, error) {
	if p.Container == "" {
		return nil, fmt.Errorf("container is required")
	}

	opts := &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{MaxRetries: p.MaxRetries},
		},
	}

	var (
		client *azblob.Client
		err    error
	)
	switch {
	case p.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(p.ConnectionString, opts)
	case p.AccountURL != "":
		var cred azcore.TokenCredential
		cred, err = azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("azure credential: %w", err)
		}
		client, err = azblob.NewClient(p.AccountURL, cred, opts)
	default:
		return nil, fmt.Errorf("account_url or connection_string is required")
	}
	if err != nil {
		return nil, fmt.Errorf("creating blob client: %w", err)
	}
	return newBlobClient(client, fsys, p), nil
}

func newBlobClient(api blobAPI, fsys afero.Fs, p BlobParams) *BlobClient {
	prefix := p.Prefix
	if prefix == "" {
		prefix = "sessions"
	}
	return &BlobClient{
		api:       api,
		fs:        fsys,
		container: p.Container,
		prefix:    prefix,
		timeout:   timeoutOrDefault(p.Timeout),
		now:       time.Now,
	}
}

func (c *BlobClient) blobName(remoteID, name string) string {
	return path.Join(c.prefix, remoteID, name)
}

func (c *BlobClient) CreateSession(ctx context.Context, location string, participants []models.Participant) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	m := manifest{
		ID:           uuid.NewString(),
		Location:     location,
		Participants: participants,
		CreatedAt:    c.now().UTC(),
	}
	if err := c.writeManifest(ctx, &m); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return m.ID, nil
}

func (c *BlobClient) AttachCapture(ctx context.Context, remoteID string, audioRef string, participants []models.Participant) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	f, err := c.fs.Open(audioRef)
	if err != nil {
		return fmt.Errorf("opening capture: %w", err)
	}
	defer f.Close()

	m, err := c.readManifest(ctx, remoteID)
	if err != nil {
		return fmt.Errorf("attach capture: %w", err)
	}

	ext := filepath.Ext(audioRef)
	if ext == "" {
		ext = ".m4a"
	}
	name := "audio" + ext
	if _, err := c.api.UploadStream(ctx, c.container, c.blobName(remoteID, name), f, nil); err != nil {
		return fmt.Errorf("uploading capture: %w", err)
	}

	now := c.now().UTC()
	m.Capture = name
	m.UploadedAt = &now
	if len(participants) > 0 {
		m.Participants = participants
	}
	if err := c.writeManifest(ctx, m); err != nil {
		return fmt.Errorf("attach capture: %w", err)
	}
	return nil
}

func (c *BlobClient) FetchStatus(ctx context.Context, remoteID string) (*Status, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var st Status
	err := c.download(ctx, c.blobName(remoteID, "status.json"), &st)
	switch {
	case errors.Is(err, errBlobMissing):
		// No status blob yet: completed if a result exists, else processing.
		if _, rerr := c.FetchResult(ctx, remoteID); rerr == nil {
			return &Status{State: StatusCompleted}, nil
		}
		return &Status{State: StatusProcessing}, nil
	case err != nil:
		return nil, fmt.Errorf("session status: %w", err)
	}
	return &st, nil
}

func (c *BlobClient) FetchResult(ctx context.Context, remoteID string) (*models.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var res models.Result
	err := c.download(ctx, c.blobName(remoteID, "result.json"), &res)
	if errors.Is(err, errBlobMissing) {
		return nil, fmt.Errorf("session result: %w", ErrResultNotReady)
	}
	if err != nil {
		return nil, fmt.Errorf("session result: %w", err)
	}
	return &res, nil
}

var errBlobMissing = errors.New("blob not found")

func (c *BlobClient) download(ctx context.Context, name string, out any) error {
	resp, err := c.api.DownloadStream(ctx, c.container, name, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return errBlobMissing
		}
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (c *BlobClient) readManifest(ctx context.Context, remoteID string) (*manifest, error) {
	var m manifest
	if err := c.download(ctx, c.blobName(remoteID, "session.json"), &m); err != nil {
		if errors.Is(err, errBlobMissing) {
			return nil, fmt.Errorf("session %s has no manifest", remoteID)
		}
		return nil, err
	}
	return &m, nil
}

func (c *BlobClient) writeManifest(ctx context.Context, m *manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	contentType := "application/json"
	_, err = c.api.UploadBuffer(ctx, c.container, c.blobName(m.ID, "session.json"), data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	return err
}

var _ Client = (*BlobClient)(nil)
