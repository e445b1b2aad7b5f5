package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/awantoch/beemflow/pkg/errors"
)

// RemoteIndex fetches entries from a remote HTTP endpoint serving a JSON
// array of entries. Responses are cached for the TTL so a flow with many
// registry tools does not hammer the index.
type RemoteIndex struct {
	URL    string
	Client *http.Client
	TTL    time.Duration

	mu        sync.Mutex
	cached    []Entry
	fetchedAt time.Time
}

func NewRemoteIndex(url string) *RemoteIndex {
	return &RemoteIndex{
		URL:    url,
		Client: &http.Client{Timeout: 30 * time.Second},
		TTL:    5 * time.Minute,
	}
}

func (r *RemoteIndex) List(ctx context.Context) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached != nil && time.Since(r.fetchedAt) < r.TTL {
		return r.cached, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, errors.Adapter("remote registry request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "beemflow")
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, errors.Adapter("fetch remote registry %s: %v", r.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Adapter("remote registry %s returned %d", r.URL, resp.StatusCode)
	}
	var entries []Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, errors.Adapter("decode remote registry %s: %v", r.URL, err)
	}
	for i := range entries {
		entries[i].Registry = "remote"
	}
	r.cached = entries
	r.fetchedAt = time.Now()
	return entries, nil
}

func (r *RemoteIndex) Get(ctx context.Context, name string) (*Entry, error) {
	return find(ctx, r, name)
}
