package remote

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/agentic-research/photoman/api"
	"github.com/agentic-research/photoman/internal/logging"
)

const (
	listFields      = "nextPageToken, files(id, name, mimeType)"
	defaultPageSize = 1000
)

// GoogleDrive talks to the Drive v3 API.
type GoogleDrive struct {
	svc      *drive.Service
	pageSize int64
	log      *zap.Logger
}

// NewGoogleDrive builds an adapter. Authentication comes from opts, usually
// option.WithHTTPClient with a client from HTTPClient.
func NewGoogleDrive(ctx context.Context, opts ...option.ClientOption) (*GoogleDrive, error) {
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: drive service: %w", ErrRemote, err)
	}
	return &GoogleDrive{svc: svc, pageSize: defaultPageSize, log: logging.Named("gdrive")}, nil
}

// SetPageSize sets the listing page size.
func (g *GoogleDrive) SetPageSize(n int64) {
	if n > 0 {
		g.pageSize = n
	}
}

// List follows nextPageToken until the listing is exhausted.
func (g *GoogleDrive) List(ctx context.Context, remoteID string) ([]api.RemoteItem, error) {
	var items []api.RemoteItem
	call := g.svc.Files.List().
		Q(parentsQuery(remoteID)).
		Fields(listFields).
		PageSize(g.pageSize)

	pages := 0
	err := call.Pages(ctx, func(fl *drive.FileList) error {
		pages++
		for _, f := range fl.Files {
			items = append(items, api.RemoteItem{RemoteID: f.Id, Name: f.Name, Kind: f.MimeType})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list %q: %w", ErrRemote, remoteID, err)
	}
	g.log.Debug("listed folder", zap.String("remote_id", remoteID),
		zap.Int("items", len(items)), zap.Int("pages", pages))
	return items, nil
}

// Fetch downloads the file body (alt=media).
func (g *GoogleDrive) Fetch(ctx context.Context, remoteID string) (io.ReadCloser, error) {
	resp, err := g.svc.Files.Get(remoteID).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %q: %w", ErrRemote, remoteID, err)
	}
	return resp.Body, nil
}

func parentsQuery(remoteID string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(remoteID)
	return fmt.Sprintf("'%s' in parents and trashed = false", escaped)
}

// Interface compliance
var _ Remote = (*GoogleDrive)(nil)
