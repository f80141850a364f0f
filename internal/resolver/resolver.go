// Package resolver turns queued tabs into ready-to-read text by combining
// the tab's own extracted content with any prefetched AI results.
package resolver

import (
	"context"
	"strings"

	"github.com/dgnsrekt/tabreader/prefetch"
	"github.com/dgnsrekt/tabreader/queue"
)

// TabResolver implements queue.ContentResolver on top of the prefetch result
// store. Fields already on the tab win over stored results, so a fresher
// extraction is never shadowed by an older prefetch.
type TabResolver struct {
	results *prefetch.Store
}

// New creates a resolver backed by the given result store.
func New(results *prefetch.Store) *TabResolver {
	return &TabResolver{results: results}
}

// Resolve reports what is playable for a tab. A reloading tab or one with no
// extracted text is not ready; the manager pauses and requests content.
func (r *TabResolver) Resolve(_ context.Context, tab queue.Tab) (*queue.ResolvedContent, error) {
	if tab.Reloading {
		return nil, nil
	}
	if strings.TrimSpace(tab.Content) == "" {
		return nil, nil
	}

	resolved := &queue.ResolvedContent{
		Content:     tab.Content,
		Summary:     tab.Summary,
		Translation: tab.Translation,
		ExtractedAt: tab.ExtractedAt,
	}

	if r.results != nil {
		if result, ok := r.results.Get(tab.ID); ok {
			if resolved.Summary == "" {
				resolved.Summary = result.Summary
			}
			if resolved.Translation == "" {
				resolved.Translation = result.Translation
			}
		}
	}
	return resolved, nil
}
