package statehub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jpalmerr/statehub/internal/remote"
)

const (
	defaultEnvelope    = "items"
	defaultBodyField   = "itemId"
	defaultSearchParam = "name_like"
)

// Remote is the backend of a collection.
type Remote[T Entity] interface {
	Mutator[T]

	// List returns every entity in the collection.
	List(ctx context.Context) ([]T, error)

	// Get returns the entity with the given ID.
	Get(ctx context.Context, id string) (T, error)

	// Search returns entities whose name matches term.
	Search(ctx context.Context, term string) ([]T, error)
}

// httpConfig holds mutable state during HTTPRemote construction.
type httpConfig struct {
	name        string
	envelope    string
	bodyField   string
	searchParam string
	timeout     time.Duration
	headers     map[string]string
}

// HTTPOption configures an [HTTPRemote].
type HTTPOption func(*httpConfig) error

// WithEnvelope sets the JSON key that wraps the item array of list and
// search responses, as in {"places": [...]}. An empty key means responses
// are bare arrays. Defaults to "items".
func WithEnvelope(key string) HTTPOption {
	return func(cfg *httpConfig) error {
		cfg.envelope = key
		return nil
	}
}

// WithBodyField sets the JSON key that carries the item ID in add
// requests, as in {"placeId": "p1"}. Defaults to "itemId".
func WithBodyField(field string) HTTPOption {
	return func(cfg *httpConfig) error {
		if field == "" {
			return errors.New("body field cannot be empty")
		}
		cfg.bodyField = field
		return nil
	}
}

// WithSearchParam sets the query parameter used by Search. Defaults to
// "name_like".
func WithSearchParam(param string) HTTPOption {
	return func(cfg *httpConfig) error {
		if param == "" {
			return errors.New("search parameter cannot be empty")
		}
		cfg.searchParam = param
		return nil
	}
}

// WithTimeout sets the per-request timeout. Defaults to 10 seconds.
//
// Returns an error if the timeout is zero or negative.
func WithTimeout(d time.Duration) HTTPOption {
	return func(cfg *httpConfig) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		cfg.timeout = d
		return nil
	}
}

// WithHeaders adds HTTP headers sent with every request.
//
// Arguments are key-value pairs. Returns an error if an odd number of
// arguments is given.
func WithHeaders(kv ...string) HTTPOption {
	return func(cfg *httpConfig) error {
		if len(kv)%2 != 0 {
			return errors.New("headers must be key-value pairs")
		}
		for i := 0; i < len(kv); i += 2 {
			cfg.headers[kv[i]] = kv[i+1]
		}
		return nil
	}
}

// WithRemoteName sets the collection name used in errors.
func WithRemoteName(name string) HTTPOption {
	return func(cfg *httpConfig) error {
		cfg.name = name
		return nil
	}
}

// HTTPRemote is a [Remote] backed by a JSON HTTP API:
//
//	GET    <url>                 list, wrapped in the envelope key
//	GET    <url>/<id>            single entity
//	GET    <url>?name_like=term  search
//	PUT    <url>                 add, body {"<bodyField>": id}
//	DELETE <url>/<id>            remove
//
// Transport failures and non-2xx answers are returned as [*Error] values of
// kind [KindNetwork], except 404 on a single-entity lookup, which is
// [KindNotFound]. Concurrent Get calls for the same ID share one request.
type HTTPRemote[T Entity] struct {
	url    string
	cfg    httpConfig
	client *remote.Client
	gets   singleflight.Group
}

// NewHTTPRemote creates an [HTTPRemote] for the collection at rawURL.
//
// Returns an error if the URL is not absolute http(s) or an option is
// invalid.
func NewHTTPRemote[T Entity](rawURL string, opts ...HTTPOption) (*HTTPRemote[T], error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errors.New("URL must have a scheme (http:// or https://)")
	}

	cfg := httpConfig{
		envelope:    defaultEnvelope,
		bodyField:   defaultBodyField,
		searchParam: defaultSearchParam,
		timeout:     remote.DefaultTimeout,
		headers:     make(map[string]string),
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if cfg.name == "" {
		cfg.name = strings.Trim(parsed.Path, "/")
	}

	return &HTTPRemote[T]{
		url:    strings.TrimRight(rawURL, "/"),
		cfg:    cfg,
		client: remote.NewClient(cfg.timeout, cfg.headers),
	}, nil
}

// List implements [Remote].
func (h *HTTPRemote[T]) List(ctx context.Context) ([]T, error) {
	resp := h.client.Fetch(ctx, http.MethodGet, h.url, nil)
	if err := resp.Err(http.MethodGet, h.url); err != nil {
		return nil, h.translate("list", "", err)
	}
	return h.decodeList("list", resp.Body)
}

// Search implements [Remote].
func (h *HTTPRemote[T]) Search(ctx context.Context, term string) ([]T, error) {
	target := h.url + "?" + url.Values{h.cfg.searchParam: []string{term}}.Encode()
	resp := h.client.Fetch(ctx, http.MethodGet, target, nil)
	if err := resp.Err(http.MethodGet, target); err != nil {
		return nil, h.translate("search", "", err)
	}
	return h.decodeList("search", resp.Body)
}

// Get implements [Remote].
//
// Concurrent calls for the same ID share one request. The shared request is
// detached from any single caller's context and bounded by the client
// timeout, so one caller giving up does not fail the others.
func (h *HTTPRemote[T]) Get(ctx context.Context, id string) (T, error) {
	fetchCtx := context.WithoutCancel(ctx)
	ch := h.gets.DoChan(id, func() (any, error) {
		target := h.url + "/" + url.PathEscape(id)
		resp := h.client.Fetch(fetchCtx, http.MethodGet, target, nil)
		if err := resp.Err(http.MethodGet, target); err != nil {
			return nil, h.translate("get", id, err)
		}
		var item T
		if err := json.Unmarshal(resp.Body, &item); err != nil {
			return nil, &Error{Kind: KindNetwork, Op: "get", Collection: h.cfg.name, ID: id,
				Err: fmt.Errorf("failed to decode response: %w", err)}
		}
		return item, nil
	})

	var zero T
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Put implements [Mutator].
func (h *HTTPRemote[T]) Put(ctx context.Context, item T) error {
	body := map[string]string{h.cfg.bodyField: item.EntityID()}
	resp := h.client.Fetch(ctx, http.MethodPut, h.url, body)
	if err := resp.Err(http.MethodPut, h.url); err != nil {
		return h.translate("put", item.EntityID(), err)
	}
	return nil
}

// Delete implements [Mutator].
func (h *HTTPRemote[T]) Delete(ctx context.Context, id string) error {
	target := h.url + "/" + url.PathEscape(id)
	resp := h.client.Fetch(ctx, http.MethodDelete, target, nil)
	if err := resp.Err(http.MethodDelete, target); err != nil {
		return h.translate("delete", id, err)
	}
	return nil
}

// Close releases idle connections.
func (h *HTTPRemote[T]) Close() {
	h.client.Close()
}

// decodeList decodes a list response, unwrapping the envelope if one is
// configured.
func (h *HTTPRemote[T]) decodeList(op string, body []byte) ([]T, error) {
	raw := json.RawMessage(body)
	if h.cfg.envelope != "" {
		var wrapped map[string]json.RawMessage
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, &Error{Kind: KindNetwork, Op: op, Collection: h.cfg.name,
				Err: fmt.Errorf("failed to decode response: %w", err)}
		}
		inner, ok := wrapped[h.cfg.envelope]
		if !ok {
			return nil, &Error{Kind: KindNetwork, Op: op, Collection: h.cfg.name,
				Err: fmt.Errorf("response has no %q field", h.cfg.envelope)}
		}
		raw = inner
	}

	items := []T{}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &Error{Kind: KindNetwork, Op: op, Collection: h.cfg.name,
			Err: fmt.Errorf("failed to decode items: %w", err)}
	}
	return items, nil
}

// translate maps a transport error onto a domain error kind.
func (h *HTTPRemote[T]) translate(op, id string, err error) error {
	kind := KindNetwork
	var se *remote.StatusError
	if op == "get" && errors.As(err, &se) && se.Code == http.StatusNotFound {
		kind = KindNotFound
	}
	return &Error{Kind: kind, Op: op, Collection: h.cfg.name, ID: id, Err: err}
}
