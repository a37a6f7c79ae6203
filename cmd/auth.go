package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/Ken-Brill-Personal/Sandcastle/internal/services"
	"github.com/Ken-Brill-Personal/Sandcastle/internal/shared"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

// tokenStore is a record store that can fetch its own access token.
type tokenStore interface {
	services.RecordStore
	Token() (*oauth2.Token, error)
}

// AuthCheck fetches an access token for each configured store and reports its expiry.
func (r *Runner) AuthCheck(ctx context.Context, cmd *cli.Command) error {
	source, target, err := r.stores(ctx, nil)
	if err != nil {
		return err
	}

	var failed error
	for _, store := range []services.RecordStore{source, target} {
		ts, ok := store.(tokenStore)
		if !ok {
			r.writePlain("- %s: no token source\n", store.Name())
			continue
		}

		tok, err := ts.Token()
		switch {
		case errors.Is(err, shared.ErrMissingCredentials):
			r.writePlain("- %s: no credentials configured\n", store.Name())
		case err != nil:
			r.logger.Error("token request failed", "store", store.Name(), "error", err)
			r.writePlain("✗ %s: %v\n", store.Name(), err)
			failed = errors.Join(failed, fmt.Errorf("%s: %w", store.Name(), err))
		case tok.Expiry.IsZero():
			r.writePlain("✓ %s: authenticated (%s token)\n", store.Name(), tok.Type())
		default:
			r.writePlain("✓ %s: authenticated, token expires %s\n", store.Name(), tok.Expiry.Format("2006-01-02 15:04:05"))
		}
	}
	return failed
}
