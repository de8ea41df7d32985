// Package client talks to the daochan REST backend.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/daochan/daochan/internal/forum"
)

// CredentialSource supplies the bearer credential for authenticated calls,
// acquiring one if necessary.
type CredentialSource interface {
	Credential(ctx context.Context) (address, token string, err error)
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method   string
	Resource string
	Status   int
	Message  string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Resource, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Resource, e.Status)
}

func (e *StatusError) HTTPStatus() int {
	return e.Status
}

type errorResponse struct {
	Error string `json:"error"`
}

// Client is a backend client. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *LimitedHTTPClient
	creds   CredentialSource
	log     zerolog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the transport, keeping the default rate limit.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = NewLimitedHTTPClient(hc, c.http.limiter.Limit(), c.http.limiter.Burst())
	}
}

func WithRateLimit(r rate.Limit, burst int) Option {
	return func(c *Client) {
		c.http = NewLimitedHTTPClient(c.http.client, r, burst)
	}
}

func WithCredentials(src CredentialSource) Option {
	return func(c *Client) {
		c.creds = src
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log.With().Str("component", "client").Logger()
	}
}

// New returns a client for the backend at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    NewLimitedHTTPClient(nil, rate.Limit(10), 20),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetCredentials sets the source used for authenticated calls.
func (c *Client) SetCredentials(src CredentialSource) {
	c.creds = src
}

type request struct {
	method      string
	resource    string
	query       url.Values
	body        io.Reader
	contentType string
	auth        bool
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	u := c.baseURL + r.resource
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u, r.body)
	if err != nil {
		return err
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	req.Header.Set("Accept", "application/json")

	if r.auth {
		if c.creds == nil {
			return forum.ErrNoWallet
		}
		address, token, err := c.creds.Credential(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-Address", address)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", r.method, r.resource, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", r.method, r.resource, err)
	}

	c.log.Debug().
		Str("method", r.method).
		Str("resource", r.resource).
		Int("status", resp.StatusCode).
		Msg("backend request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{Method: r.method, Resource: r.resource, Status: resp.StatusCode}
		var er errorResponse
		if json.Unmarshal(data, &er) == nil {
			se.Message = er.Error
		}
		return se
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", r.method, r.resource, err)
	}
	return nil
}

func pageQuery(offset, limit int) url.Values {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	return q
}

// GetUser fetches a user profile by wallet address.
func (c *Client) GetUser(ctx context.Context, address string) (forum.Response[forum.User], error) {
	var out forum.Response[forum.User]
	err := c.do(ctx, request{method: http.MethodGet, resource: "/users/" + url.PathEscape(address)}, &out)
	return out, err
}

type updateUserRequest struct {
	ENSName string `json:"ensName"`
}

// UpdateUser sets the caller's ENS name. Only the signed-in address may be
// updated.
func (c *Client) UpdateUser(ctx context.Context, address, ensName string) (forum.Response[forum.User], error) {
	var out forum.Response[forum.User]
	body, err := json.Marshal(updateUserRequest{ENSName: ensName})
	if err != nil {
		return out, err
	}
	err = c.do(ctx, request{
		method:      http.MethodPut,
		resource:    "/users/" + url.PathEscape(address),
		body:        bytes.NewReader(body),
		contentType: "application/json",
		auth:        true,
	}, &out)
	return out, err
}

// ListThreads fetches the newest threads.
func (c *Client) ListThreads(ctx context.Context, offset, limit int) (forum.Response[[]forum.Thread], error) {
	var out forum.Response[[]forum.Thread]
	err := c.do(ctx, request{method: http.MethodGet, resource: "/threads", query: pageQuery(offset, limit)}, &out)
	return out, err
}

// GetThread fetches a thread with the requested page of its comments.
func (c *Client) GetThread(ctx context.Context, id string, offset, limit int) (forum.Response[forum.Thread], error) {
	var out forum.Response[forum.Thread]
	err := c.do(ctx, request{
		method:   http.MethodGet,
		resource: "/threads/" + url.PathEscape(id),
		query:    pageQuery(offset, limit),
	}, &out)
	return out, err
}

// ListComments fetches a page of a thread's comments.
func (c *Client) ListComments(ctx context.Context, threadID string, offset, limit int) (forum.Response[[]forum.Comment], error) {
	var out forum.Response[[]forum.Comment]
	err := c.do(ctx, request{
		method:   http.MethodGet,
		resource: "/threads/" + url.PathEscape(threadID) + "/comments",
		query:    pageQuery(offset, limit),
	}, &out)
	return out, err
}

// ImageUpload is an image to attach to a new thread or comment.
type ImageUpload struct {
	FileName string
	Body     io.Reader
}

// UploadImage posts an image as multipart form data.
func (c *Client) UploadImage(ctx context.Context, img ImageUpload) (forum.Response[forum.UploadedImage], error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", img.FileName)
	if err != nil {
		return forum.Response[forum.UploadedImage]{}, err
	}
	if _, err := io.Copy(part, img.Body); err != nil {
		return forum.Response[forum.UploadedImage]{}, err
	}
	if err := w.Close(); err != nil {
		return forum.Response[forum.UploadedImage]{}, err
	}

	var out forum.Response[forum.UploadedImage]
	err = c.do(ctx, request{
		method:      http.MethodPost,
		resource:    "/images",
		body:        &buf,
		contentType: w.FormDataContentType(),
		auth:        true,
	}, &out)
	return out, err
}

type createThreadRequest struct {
	Title         string `json:"title"`
	Content       string `json:"content"`
	ImageFileName string `json:"imageFileName,omitempty"`
}

// CreateThread uploads the optional image and creates a thread.
func (c *Client) CreateThread(ctx context.Context, title, content string, img *ImageUpload) (forum.Response[forum.Thread], error) {
	req := createThreadRequest{Title: title, Content: content}
	if img != nil {
		uploaded, err := c.UploadImage(ctx, *img)
		if err != nil {
			return forum.Response[forum.Thread]{}, err
		}
		req.ImageFileName = uploaded.Data.FileName
	}

	body, err := json.Marshal(req)
	if err != nil {
		return forum.Response[forum.Thread]{}, err
	}

	var out forum.Response[forum.Thread]
	err = c.do(ctx, request{
		method:      http.MethodPost,
		resource:    "/threads",
		body:        bytes.NewReader(body),
		contentType: "application/json",
		auth:        true,
	}, &out)
	return out, err
}

type createCommentRequest struct {
	ThreadID           string `json:"threadId"`
	Content            string `json:"content"`
	ImageFileName      string `json:"imageFileName,omitempty"`
	RepliedToCommentID string `json:"repliedToCommentId,omitempty"`
}

// CreateComment uploads the optional image and comments on a thread,
// optionally replying to another comment.
func (c *Client) CreateComment(ctx context.Context, threadID, content, repliedToCommentID string, img *ImageUpload) (forum.Response[forum.Comment], error) {
	req := createCommentRequest{ThreadID: threadID, Content: content, RepliedToCommentID: repliedToCommentID}
	if img != nil {
		uploaded, err := c.UploadImage(ctx, *img)
		if err != nil {
			return forum.Response[forum.Comment]{}, err
		}
		req.ImageFileName = uploaded.Data.FileName
	}

	body, err := json.Marshal(req)
	if err != nil {
		return forum.Response[forum.Comment]{}, err
	}

	var out forum.Response[forum.Comment]
	err = c.do(ctx, request{
		method:      http.MethodPost,
		resource:    "/threads/" + url.PathEscape(threadID) + "/comments",
		body:        bytes.NewReader(body),
		contentType: "application/json",
		auth:        true,
	}, &out)
	return out, err
}

// CastVote sets the caller's vote on a thread or comment.
func (c *Client) CastVote(ctx context.Context, target forum.Target, voteType forum.VoteType) error {
	if !voteType.Valid() {
		return fmt.Errorf("invalid vote type %q", voteType)
	}

	resource := "/threads/" + url.PathEscape(target.ThreadID)
	if target.Kind == forum.KindComment {
		resource += "/comments/" + url.PathEscape(target.ID)
	}
	resource += "/votes/" + string(voteType)

	return c.do(ctx, request{method: http.MethodPut, resource: resource, auth: true}, nil)
}

// Challenge requests a sign-in challenge for address.
func (c *Client) Challenge(ctx context.Context, address string) (forum.Challenge, error) {
	var out forum.Response[forum.Challenge]
	err := c.do(ctx, request{method: http.MethodGet, resource: "/signin/" + url.PathEscape(address)}, &out)
	return out.Data, err
}

type signinRequest struct {
	Signature string `json:"signature"`
}

// SignIn exchanges a signed challenge for a token.
func (c *Client) SignIn(ctx context.Context, address, signature string) (string, error) {
	body, err := json.Marshal(signinRequest{Signature: signature})
	if err != nil {
		return "", err
	}

	var out forum.Response[forum.Token]
	err = c.do(ctx, request{
		method:      http.MethodPost,
		resource:    "/signin/" + url.PathEscape(address),
		body:        bytes.NewReader(body),
		contentType: "application/json",
	}, &out)
	return out.Data.Token, err
}
