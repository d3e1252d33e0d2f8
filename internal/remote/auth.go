package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
)

// HTTPClient returns a client authorized for the full drive scope from an
// OAuth client secret file and a previously obtained token file. Obtaining
// the token interactively is not handled here.
func HTTPClient(ctx context.Context, credentialsPath, tokenPath string) (*http.Client, error) {
	secret, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read credentials: %w", ErrRemote, err)
	}
	cfg, err := google.ConfigFromJSON(secret, drive.DriveScope)
	if err != nil {
		return nil, fmt.Errorf("%w: parse credentials: %w", ErrRemote, err)
	}
	tok, err := ReadToken(tokenPath)
	if err != nil {
		return nil, err
	}
	return cfg.Client(ctx, tok), nil
}

// ReadToken loads an oauth2 token saved as JSON.
func ReadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open token: %w", ErrRemote, err)
	}
	defer func() { _ = f.Close() }()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("%w: decode token %s: %w", ErrRemote, path, err)
	}
	return tok, nil
}
