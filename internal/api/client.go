package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"livepoll/internal/domain/poll"
	"livepoll/internal/platform/apperr"
	"livepoll/internal/platform/identity"
)

// Client consumes the LivePoll REST API. It owns error classification:
// everything it returns is an *apperr.AppError.
type Client struct {
	baseURL string
	token   string

	http *http.Client
	// wait requests block server-side for up to 30s; they get their own
	// client with a longer timeout than regular calls.
	waitHTTP *http.Client
}

func NewClient(baseURL, token string, requestTimeout, waitTimeout time.Duration) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		http:     &http.Client{Timeout: requestTimeout},
		waitHTTP: &http.Client{Timeout: waitTimeout},
	}
}

// ResolvePoll loads a poll by id, falling back to short-code lookup if
// the id is unknown. This mirrors how participants enter polls: both
// ids and short codes appear in shared links.
func (c *Client) ResolvePoll(ctx context.Context, idOrCode string) (*poll.Poll, error) {
	p, err := c.GetPoll(ctx, idOrCode)
	if err == nil {
		return p, nil
	}
	if apperr.KindOf(err) == apperr.KindTransportFailure {
		return nil, err
	}
	return c.GetPollByShortCode(ctx, idOrCode)
}

func (c *Client) GetPoll(ctx context.Context, id string) (*poll.Poll, error) {
	var p poll.Poll
	if err := c.do(ctx, c.http, http.MethodGet, "/polls/"+url.PathEscape(id), nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) GetPollByShortCode(ctx context.Context, code string) (*poll.Poll, error) {
	var p poll.Poll
	if err := c.do(ctx, c.http, http.MethodGet, "/polls/shortcode/"+url.PathEscape(code), nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) ListPolls(ctx context.Context) ([]poll.Poll, error) {
	var polls []poll.Poll
	if err := c.do(ctx, c.http, http.MethodGet, "/polls", nil, nil, &polls); err != nil {
		return nil, err
	}
	return polls, nil
}

func (c *Client) ActivePolls(ctx context.Context) ([]poll.Poll, error) {
	var polls []poll.Poll
	if err := c.do(ctx, c.http, http.MethodGet, "/polls/active", nil, nil, &polls); err != nil {
		return nil, err
	}
	return polls, nil
}

func (c *Client) CreatePoll(ctx context.Context, p *poll.Poll) (*poll.Poll, error) {
	if err := p.Validate(); err != nil {
		return nil, apperr.Validation(err.Error(), err)
	}
	var created poll.Poll
	if err := c.do(ctx, c.http, http.MethodPost, "/polls", nil, p, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) StartPoll(ctx context.Context, id string) error {
	return c.do(ctx, c.http, http.MethodPut, "/polls/"+url.PathEscape(id)+"/start", nil, nil, nil)
}

func (c *Client) ClosePoll(ctx context.Context, id string) error {
	return c.do(ctx, c.http, http.MethodPut, "/polls/"+url.PathEscape(id)+"/close", nil, nil, nil)
}

func (c *Client) DeletePoll(ctx context.Context, id string) error {
	return c.do(ctx, c.http, http.MethodDelete, "/polls/"+url.PathEscape(id), nil, nil, nil)
}

// Wait blocks until the poll changes or the server-side timeout elapses,
// in which case the unchanged poll is returned. Either way a successful
// response carries a full snapshot.
func (c *Client) Wait(ctx context.Context, id string) (*poll.Poll, error) {
	var p poll.Poll
	if err := c.do(ctx, c.waitHTTP, http.MethodGet, "/polls/"+url.PathEscape(id)+"/wait", nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Results returns the option-text to vote-count mapping.
func (c *Client) Results(ctx context.Context, id string) (map[string]int, error) {
	var results map[string]int
	if err := c.do(ctx, c.http, http.MethodGet, "/polls/"+url.PathEscape(id)+"/results", nil, nil, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Client) Vote(ctx context.Context, pollID string, optionID int64, voter identity.Identity) error {
	body := map[string]any{"optionId": optionID, "userId": voter.UserID}
	return c.do(ctx, c.http, http.MethodPost, "/polls/"+url.PathEscape(pollID)+"/vote", voterHeaders(voter), body, nil)
}

func (c *Client) VoteMultiple(ctx context.Context, pollID string, optionIDs []int64, voter identity.Identity) error {
	body := map[string]any{"optionIds": optionIDs, "userId": voter.UserID}
	return c.do(ctx, c.http, http.MethodPost, "/polls/"+url.PathEscape(pollID)+"/vote-multiple", voterHeaders(voter), body, nil)
}

// IssueIdentity asks the server for a fresh (userId, signature) pair.
func (c *Client) IssueIdentity(ctx context.Context) (identity.Identity, error) {
	var id identity.Identity
	if err := c.do(ctx, c.http, http.MethodGet, "/user/userId", nil, nil, &id); err != nil {
		return identity.Identity{}, err
	}
	return id, nil
}

// QRCode fetches the SVG code pointing at the given content URL.
func (c *Client) QRCode(ctx context.Context, content string, size, margin int) ([]byte, error) {
	u := fmt.Sprintf("/qrcode?content=%s&size=%d&margin=%d", url.QueryEscape(content), size, margin)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+u, nil)
	if err != nil {
		return nil, apperr.Unclassified("build request", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Transport("qrcode request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, c.classify(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Transport("read qrcode response", err)
	}
	return data, nil
}

// ExportCSVURL and ExportXMLURL point at the server's result exports;
// the client hands them to the user rather than downloading itself.
func (c *Client) ExportCSVURL(id string) string {
	return c.baseURL + "/polls/" + url.PathEscape(id) + "/export.csv"
}

func (c *Client) ExportXMLURL(id string) string {
	return c.baseURL + "/polls/" + url.PathEscape(id) + "/export.xml"
}

func voterHeaders(voter identity.Identity) http.Header {
	h := http.Header{}
	h.Set("X-Voter-ID", voter.UserID)
	if voter.Signature != "" {
		h.Set("X-Signature", voter.Signature)
	}
	return h
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, headers http.Header, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return apperr.Unclassified("encode request body", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperr.Unclassified("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return apperr.Transport(method+" "+path+" failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.classify(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Unclassified("decode response", err)
	}
	return nil
}

type errorBody struct {
	ErrorCode string `json:"errorCode"`
	Error     string `json:"error"`
	Message   string `json:"message"`
}

// classify maps an error response onto the client taxonomy: 403 means
// the caller may only manage their own polls; otherwise the body's
// errorCode decides.
func (c *Client) classify(resp *http.Response) error {
	var body errorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &body)

	if resp.StatusCode == http.StatusForbidden {
		return apperr.AuthorizationDenied("access denied: you can only manage your own polls", nil)
	}

	switch body.ErrorCode {
	case "ALREADY_VOTED":
		return apperr.AlreadyVoted("you have already voted in this poll", nil)
	case "POLL_INACTIVE":
		return apperr.PollInactive("this poll is not active", nil)
	case "OPTION_NOT_FOUND":
		return apperr.OptionNotFound("the selected option was not found", nil)
	}

	msg := body.Message
	if msg == "" {
		msg = body.Error
	}
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return apperr.Unclassified(msg, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
}
