package ghrelease

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel"
)

// TagLister reports whether a tag exists on a remote repository.
type TagLister interface {
	TagExists(ctx context.Context, remoteURL, token, tag string) (bool, error)
}

// RemoteTags lists the tags of a remote with an in-memory go-git remote, without cloning.
type RemoteTags struct{}

// TagExists implements TagLister.
func (RemoteTags) TagExists(ctx context.Context, remoteURL, token, tag string) (bool, error) {
	remote := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{Name: "origin", URLs: []string{remoteURL}})
	opts := &git.ListOptions{}
	if token != "" {
		opts.Auth = &githttp.BasicAuth{Username: "x-access-token", Password: token}
	}
	refs, err := remote.ListContext(ctx, opts)
	switch {
	case errors.Is(err, transport.ErrEmptyRemoteRepository):
		return false, nil
	case errors.Is(err, transport.ErrAuthenticationRequired), errors.Is(err, transport.ErrAuthorizationFailed):
		return false, fmt.Errorf("%w: list remote refs: %v", channel.ErrAuthentication, err)
	case errors.Is(err, transport.ErrRepositoryNotFound):
		return false, channel.Rejected("repository %s not found", remoteURL)
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		return false, fmt.Errorf("%w: list remote refs: %w", channel.ErrTransient, err)
	}
	want := plumbing.NewTagReferenceName(tag)
	for _, ref := range refs {
		if ref.Name() == want {
			return true, nil
		}
	}
	return false, nil
}

// validTag reports whether tag is usable as refs/tags/<tag>.
func validTag(tag string) error {
	return plumbing.NewTagReferenceName(tag).Validate()
}
