// Package bluesky is a minimal AT Protocol XRPC client covering the profile
// and moderation-list endpoints the daemon needs.
package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/blackmichael/bluesky-modlists/internal/domain"
)

const (
	defaultPDS = "https://bsky.social"

	listCollection     = "app.bsky.graph.list"
	listItemCollection = "app.bsky.graph.listitem"
	modListPurpose     = "app.bsky.graph.defs#modlist"

	maxProfileBatch = 25
	pageLimit       = 100
)

// Compile-time interface satisfaction checks.
var (
	_ domain.ProfileAPI = (*Client)(nil)
	_ domain.ListAPI    = (*Client)(nil)
)

// Client talks XRPC to a single host. An anonymous client serves public
// reads; a client constructed with credentials can write and transparently
// re-authenticates when its token expires. A Client is not safe for
// concurrent use; each worker owns its own.
type Client struct {
	host       string
	httpClient *http.Client
	logger     *slog.Logger

	// credentials; empty for anonymous clients
	identifier string
	password   string

	// populated after Login
	accessJwt string
	did       string
}

// NewClient creates an anonymous client for public reads. If host is empty
// it defaults to https://bsky.social.
func NewClient(host string, logger *slog.Logger) *Client {
	if host == "" {
		host = defaultPDS
	}
	return &Client{
		host: host,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// NewSessionClient creates a client that authenticates with the given
// identifier and app password. Call Login before the first write.
func NewSessionClient(host, identifier, password string, logger *slog.Logger) *Client {
	c := NewClient(host, logger)
	c.identifier = identifier
	c.password = password
	return c
}

// Login authenticates with the PDS and stores the session token.
func (c *Client) Login(ctx context.Context) error {
	body := map[string]string{
		"identifier": c.identifier,
		"password":   c.password,
	}

	var resp struct {
		AccessJwt string `json:"accessJwt"`
		DID       string `json:"did"`
	}
	if err := c.post(ctx, "/xrpc/com.atproto.server.createSession", body, &resp); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	c.accessJwt = resp.AccessJwt
	c.did = resp.DID
	return nil
}

// DID returns the authenticated account's DID. Only valid after Login.
func (c *Client) DID() string {
	return c.did
}

// GetProfile fetches a single profile by DID or handle.
func (c *Client) GetProfile(ctx context.Context, actor string) (*domain.Profile, error) {
	q := url.Values{"actor": {actor}}

	var p domain.Profile
	err := c.retry(ctx, "getProfile", func() error {
		return c.get(ctx, "/xrpc/app.bsky.actor.getProfile", q, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProfiles fetches up to 25 distinct profiles in one call. Actors the
// server cannot resolve are omitted from the result.
func (c *Client) GetProfiles(ctx context.Context, dids []string) ([]*domain.Profile, error) {
	if len(dids) == 0 {
		return nil, nil
	}
	if len(dids) > maxProfileBatch {
		return nil, fmt.Errorf("getProfiles: batch of %d exceeds %d", len(dids), maxProfileBatch)
	}
	seen := make(map[string]struct{}, len(dids))
	q := url.Values{}
	for _, did := range dids {
		if _, dup := seen[did]; dup {
			return nil, fmt.Errorf("getProfiles: duplicate did %s in batch", did)
		}
		seen[did] = struct{}{}
		q.Add("actors", did)
	}

	var resp struct {
		Profiles []*domain.Profile `json:"profiles"`
	}
	err := c.retry(ctx, "getProfiles", func() error {
		return c.get(ctx, "/xrpc/app.bsky.actor.getProfiles", q, &resp)
	})
	if err != nil {
		return nil, err
	}
	return resp.Profiles, nil
}

// CreateList publishes a new moderation list and returns its AT-URI.
func (c *Client) CreateList(ctx context.Context, name, description string) (string, error) {
	record := map[string]any{
		"$type":       listCollection,
		"purpose":     modListPurpose,
		"name":        name,
		"description": description,
		"createdAt":   time.Now().UTC().Format(time.RFC3339),
	}
	body := createRecordRequest{
		Repo:       c.did,
		Collection: listCollection,
		Record:     record,
	}

	var resp createRecordResponse
	err := c.retry(ctx, "createList", func() error {
		return c.post(ctx, "/xrpc/com.atproto.repo.createRecord", body, &resp)
	})
	if err != nil {
		return "", fmt.Errorf("create list %q: %w", name, err)
	}
	return resp.URI, nil
}

// ListMyLists returns the lists published by the authenticated account.
func (c *Client) ListMyLists(ctx context.Context) ([]domain.ListRef, error) {
	var refs []domain.ListRef
	cursor := ""
	for {
		q := url.Values{
			"actor": {c.did},
			"limit": {fmt.Sprintf("%d", pageLimit)},
		}
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var resp struct {
			Cursor string `json:"cursor"`
			Lists  []struct {
				URI  string `json:"uri"`
				Name string `json:"name"`
			} `json:"lists"`
		}
		err := c.retry(ctx, "getLists", func() error {
			return c.get(ctx, "/xrpc/app.bsky.graph.getLists", q, &resp)
		})
		if err != nil {
			return nil, err
		}

		for _, l := range resp.Lists {
			refs = append(refs, domain.ListRef{Name: l.Name, URI: l.URI})
		}
		if resp.Cursor == "" || len(resp.Lists) == 0 {
			return refs, nil
		}
		cursor = resp.Cursor
	}
}

// ListMembers returns every membership of a list, fully paginated.
func (c *Client) ListMembers(ctx context.Context, listURI string) ([]domain.Entry, error) {
	var entries []domain.Entry
	cursor := ""
	for {
		q := url.Values{
			"list":  {listURI},
			"limit": {fmt.Sprintf("%d", pageLimit)},
		}
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var resp struct {
			Cursor string `json:"cursor"`
			Items  []struct {
				URI     string `json:"uri"`
				Subject struct {
					DID string `json:"did"`
				} `json:"subject"`
			} `json:"items"`
		}
		err := c.retry(ctx, "getList", func() error {
			return c.get(ctx, "/xrpc/app.bsky.graph.getList", q, &resp)
		})
		if err != nil {
			return nil, err
		}

		for _, item := range resp.Items {
			entries = append(entries, domain.Entry{
				DID:  item.Subject.DID,
				RKey: RKeyFromURI(item.URI),
			})
		}
		if resp.Cursor == "" || len(resp.Items) == 0 {
			return entries, nil
		}
		cursor = resp.Cursor
	}
}

// CreateMember adds a DID to a list and returns the record key of the new
// membership record.
func (c *Client) CreateMember(ctx context.Context, listURI, did string) (string, error) {
	record := map[string]any{
		"$type":     listItemCollection,
		"subject":   did,
		"list":      listURI,
		"createdAt": time.Now().UTC().Format(time.RFC3339),
	}
	body := createRecordRequest{
		Repo:       c.did,
		Collection: listItemCollection,
		Record:     record,
	}

	var resp createRecordResponse
	err := c.retry(ctx, "createMember", func() error {
		return c.post(ctx, "/xrpc/com.atproto.repo.createRecord", body, &resp)
	})
	if err != nil {
		return "", fmt.Errorf("create member %s: %w", did, err)
	}
	return RKeyFromURI(resp.URI), nil
}

// DeleteMember deletes a membership record by record key.
func (c *Client) DeleteMember(ctx context.Context, rkey string) error {
	return c.deleteRecord(ctx, listItemCollection, rkey)
}

// DeleteList deletes the list record itself by record key.
func (c *Client) DeleteList(ctx context.Context, rkey string) error {
	return c.deleteRecord(ctx, listCollection, rkey)
}

func (c *Client) deleteRecord(ctx context.Context, collection, rkey string) error {
	body := deleteRecordRequest{
		Repo:       c.did,
		Collection: collection,
		RKey:       rkey,
	}

	err := c.retry(ctx, "deleteRecord", func() error {
		return c.post(ctx, "/xrpc/com.atproto.repo.deleteRecord", body, nil)
	})
	if err != nil {
		return fmt.Errorf("delete %s record %s: %w", collection, rkey, err)
	}
	return nil
}

// RKeyFromURI extracts the record key from an AT-URI
// (at://did/collection/rkey).
func RKeyFromURI(uri string) string {
	if i := strings.LastIndex(uri, "/"); i >= 0 {
		return uri[i+1:]
	}
	return uri
}

func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	if c.accessJwt != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessJwt)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(respBody, apiErr); err != nil {
			apiErr.Code = "UnknownError"
			apiErr.Message = string(respBody)
		}
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

type createRecordRequest struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	Record     any    `json:"record"`
}

type createRecordResponse struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type deleteRecordRequest struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	RKey       string `json:"rkey"`
}
