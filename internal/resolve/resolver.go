// Copyright 2025 Stagecraft Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package resolve answers "what content does this path serve right
// now". Precedence is fixed: staged tombstone, staged content, the
// committed remote file, then the static fallback bundle. Every
// resolution carries its source so callers and logs can tell staged
// content from published content.
package resolve

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"stagecraft/internal/assets"
	"stagecraft/internal/common"
	"stagecraft/internal/overlay"
	"stagecraft/internal/remote"
)

// Source values carried on resolutions.
const (
	SourceOverlay = "overlay"
	SourceRemote  = "remote"
	SourceAssets  = "assets"
)

// Resolution is resolved content plus its provenance.
type Resolution struct {
	Content []byte `json:"content"`
	Source  string `json:"source"`
}

// Options tune a single resolution.
type Options struct {
	// AllowDeleted returns the tombstone entry's metadata instead of
	// ErrGone, for callers inspecting staged state.
	AllowDeleted bool
}

// Resolver walks the overlay, remote, assets chain.
type Resolver struct {
	overlay *overlay.Store
	remote  remote.Client
	assets  *assets.Bundle
}

// New builds a resolver. assets may be nil to disable the fallback rung.
func New(ov *overlay.Store, rc remote.Client, bundle *assets.Bundle) *Resolver {
	return &Resolver{overlay: ov, remote: rc, assets: bundle}
}

// Resolve returns the content path serves and where it came from.
//
// A transport failure while consulting the remote store surfaces as
// ErrStoreUnavailable, never as ErrNotFound: "the store is down" must
// stay distinguishable from "the file does not exist".
func (r *Resolver) Resolve(ctx context.Context, path string, opts Options) (Resolution, error) {
	norm, err := common.NormalizeUserPath(path)
	if err != nil {
		return Resolution{}, err
	}

	entry, content, err := r.overlay.Get(ctx, norm)
	switch {
	case err == nil && entry.Deleted:
		if !opts.AllowDeleted {
			return Resolution{}, fmt.Errorf("%w: %s", common.ErrGone, norm)
		}
		log.Debugf("[Resolve] %s -> overlay tombstone (allowed)", norm)
		return Resolution{Source: SourceOverlay}, nil
	case err == nil:
		log.Debugf("[Resolve] %s -> overlay (%d bytes)", norm, len(content))
		return Resolution{Content: content, Source: SourceOverlay}, nil
	case !errors.Is(err, common.ErrNotFound):
		return Resolution{}, err
	}

	content, err = r.remote.ReadFile(ctx, norm)
	switch {
	case err == nil:
		log.Debugf("[Resolve] %s -> remote (%d bytes)", norm, len(content))
		return Resolution{Content: content, Source: SourceRemote}, nil
	case !errors.Is(err, common.ErrNotFound):
		return Resolution{}, err
	}

	if r.assets != nil {
		content, err = r.assets.Read(norm)
		switch {
		case err == nil:
			log.Debugf("[Resolve] %s -> assets (%d bytes)", norm, len(content))
			return Resolution{Content: content, Source: SourceAssets}, nil
		case !errors.Is(err, common.ErrNotFound):
			return Resolution{}, err
		}
	}

	return Resolution{}, fmt.Errorf("%w: %s", common.ErrNotFound, norm)
}

// MergedListing returns the merged file set: the filtered remote
// listing plus live staged paths minus tombstones. Computed fresh on
// every call.
func (r *Resolver) MergedListing(ctx context.Context, filter *overlay.ExcludeFilter) ([]string, error) {
	entries, err := r.remote.ListTree(ctx)
	if err != nil {
		return nil, err
	}
	remotePaths := filter.Apply(remote.FilePaths(entries))

	index, err := r.overlay.List(ctx)
	if err != nil {
		return nil, err
	}
	return overlay.MergeFileSet(remotePaths, index), nil
}
