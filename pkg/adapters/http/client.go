package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/aretw0/remodel/pkg/domain"
	"github.com/aretw0/remodel/pkg/ports"
)

// Schemes served by the client dialer.
const (
	Scheme       = "http"
	SecureScheme = "https"
)

// ClientOption configures the dialer.
type ClientOption func(*dialer)

// WithHTTPClient sets the client used for every request.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(d *dialer) {
		d.client = c
	}
}

type dialer struct {
	client *http.Client
}

// NewDialer returns a dialer for stores served by Server.
func NewDialer(opts ...ClientOption) ports.Dialer {
	d := &dialer{client: http.DefaultClient}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial checks that the repository exists and returns a client bound to it.
func (d *dialer) Dial(ctx context.Context, rawURL, repository string) (ports.Backend, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if u.Scheme != Scheme && u.Scheme != SecureScheme {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	c := &client{
		http: d.client,
		base: strings.TrimSuffix(u.String(), "/") + "/repos/" + url.PathEscape(repository),
	}
	if err := c.do(ctx, http.MethodGet, "/", nil, nil, nil); err != nil {
		return nil, err
	}
	return c, nil
}

// client implements ports.Backend over HTTP.
type client struct {
	http   *http.Client
	base   string
	closed atomic.Bool
}

func (c *client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	if c.closed.Load() {
		return fmt.Errorf("connection closed: %w", domain.ErrConnection)
	}

	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeError restores the sentinel named by the server.
func decodeError(resp *http.Response) error {
	var body errorBody
	data, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	for _, c := range errorCodes {
		if c.code == body.Code {
			return fmt.Errorf("%s: %w", body.Error, c.err)
		}
	}
	return errors.New(body.Error)
}

func (c *client) PackageURIs(ctx context.Context) ([]string, error) {
	var uris []string
	err := c.do(ctx, http.MethodGet, "/packages", nil, nil, &uris)
	return uris, err
}

func (c *client) Package(ctx context.Context, nsURI string) (*domain.Package, error) {
	var pkg domain.Package
	if err := c.do(ctx, http.MethodGet, "/package", url.Values{"uri": {nsURI}}, nil, &pkg); err != nil {
		return nil, err
	}
	return pkg.Bind(), nil
}

func (c *client) Resource(ctx context.Context, path string) (*domain.Resource, error) {
	var res domain.Resource
	if err := c.do(ctx, http.MethodGet, "/resource", url.Values{"path": {path}}, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *client) Revisions(ctx context.Context, ids []domain.ObjectID) ([]*domain.Revision, error) {
	var revs []*domain.Revision
	err := c.do(ctx, http.MethodPost, "/revisions", nil, idsRequest{IDs: ids}, &revs)
	return revs, err
}

func (c *client) Instances(ctx context.Context, q domain.InstancesQuery) ([]domain.ObjectID, error) {
	var ids []domain.ObjectID
	err := c.do(ctx, http.MethodPost, "/instances", nil, q, &ids)
	return ids, err
}

func (c *client) CrossReferences(ctx context.Context, targets []domain.ObjectID) ([]*domain.CrossReference, error) {
	var refs []*domain.CrossReference
	err := c.do(ctx, http.MethodPost, "/xrefs", nil, idsRequest{IDs: targets}, &refs)
	return refs, err
}

func (c *client) Subtree(ctx context.Context, path string, depth int) ([]*domain.Revision, error) {
	var revs []*domain.Revision
	q := url.Values{"path": {path}, "depth": {strconv.Itoa(depth)}}
	err := c.do(ctx, http.MethodGet, "/subtree", q, nil, &revs)
	return revs, err
}

func (c *client) Commit(ctx context.Context, cs *domain.ChangeSet) error {
	return c.do(ctx, http.MethodPost, "/commit", nil, cs, nil)
}

// Close only marks the client closed; connections are pooled by net/http.
func (c *client) Close() error {
	c.closed.Store(true)
	return nil
}
