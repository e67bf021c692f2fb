package tokenizer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// remoteCacheSize bounds the tokenize-result cache. Entries are keyed by the
// full text, so repeated fits of the same conversation hit the cache on every
// message but the newest.
const remoteCacheSize = 16384

// Remote counts tokens via a llama.cpp-style tokenize endpoint:
// POST {base}/tokenize {"content": "..."} -> {"tokens": [...]}.
// Results are cached per text; transport failures fall back to the estimator.
type Remote struct {
	baseURL string
	client  *http.Client
	cache   *lru.Cache[string, int]
	logger  *slog.Logger

	warnOnce sync.Once
}

// RemoteConfig configures a Remote counter.
type RemoteConfig struct {
	// BaseURL is the tokenizer server base URL, e.g. "http://127.0.0.1:8080".
	BaseURL string

	// Timeout bounds each tokenize call. Defaults to 5s.
	Timeout time.Duration

	Logger *slog.Logger
}

// NewRemote creates a Remote counter.
func NewRemote(cfg RemoteConfig) (*Remote, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("tokenizer: base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cache, err := lru.New[string, int](remoteCacheSize)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: init cache: %w", err)
	}
	return &Remote{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		cache:   cache,
		logger:  cfg.Logger,
	}, nil
}

// Count implements Counter. It never fails: on transport or decode errors it
// logs once at warn level and returns the estimator's count.
func (r *Remote) Count(text string) int {
	if text == "" {
		return 0
	}
	if n, ok := r.cache.Get(text); ok {
		return n
	}
	n, err := r.tokenize(text)
	if err != nil {
		r.warnOnce.Do(func() {
			r.logger.Warn("tokenizer endpoint unavailable, falling back to estimator",
				"url", r.baseURL, "error", err)
		})
		return Estimate(text)
	}
	r.cache.Add(text, n)
	return n
}

func (r *Remote) tokenize(text string) (int, error) {
	body, err := json.Marshal(map[string]string{"content": text})
	if err != nil {
		return 0, err
	}
	resp, err := r.client.Post(r.baseURL+"/tokenize", "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("tokenize: status %d", resp.StatusCode)
	}
	var out struct {
		Tokens []int `json:"tokens"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return len(out.Tokens), nil
}
