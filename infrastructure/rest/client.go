// Package rest is the HTTP client of the record service: identity,
// participant lookup, room listing and message history.
package rest

import (
	"bytes"
	"chatter/domain"
	"chatter/errors"
	"chatter/wire"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/samber/lo"
)

const defaultTimeout = 10 * time.Second

// Client implements contract.Identity and contract.Directory over HTTP.
type Client struct {
	log     *slog.Logger
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(log *slog.Logger, baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		log:     log,
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// WithToken returns a copy of the client authenticating with token.
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.token = token
	return &clone
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var resp wire.TokenResponse
	body := wire.LoginRequest{Username: username, Password: password}
	if err := c.do(ctx, http.MethodPost, "/login", nil, body, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

func (c *Client) Register(ctx context.Context, req wire.RegisterRequest) (domain.Participant, error) {
	var user wire.User
	if err := c.do(ctx, http.MethodPost, "/register", nil, req, &user); err != nil {
		return domain.Participant{}, err
	}
	return user.ToParticipant(), nil
}

// CurrentParticipant resolves the owner of the bearer token.
func (c *Client) CurrentParticipant(ctx context.Context) (domain.Participant, error) {
	if c.token == "" {
		return domain.Participant{}, fmt.Errorf("%w: no token", errors.ErrAuth)
	}
	var user wire.User
	if err := c.do(ctx, http.MethodGet, "/me", nil, nil, &user); err != nil {
		return domain.Participant{}, err
	}
	return user.ToParticipant(), nil
}

func (c *Client) ParticipantByName(ctx context.Context, name string) (domain.Participant, error) {
	var user wire.User
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(name), nil, nil, &user); err != nil {
		return domain.Participant{}, err
	}
	return user.ToParticipant(), nil
}

func (c *Client) RoomsForParticipant(ctx context.Context, participantID domain.ParticipantID) ([]domain.Room, error) {
	var chats []wire.Chat
	query := url.Values{"user_id": {string(participantID)}}
	if err := c.do(ctx, http.MethodGet, "/chats", query, nil, &chats); err != nil {
		return nil, err
	}
	return lo.Map(chats, func(chat wire.Chat, _ int) domain.Room { return chat.ToRoom() }), nil
}

// CreateRoom creates a room with the caller and the given usernames.
func (c *Client) CreateRoom(ctx context.Context, name string, members ...string) (domain.Room, error) {
	var chat wire.Chat
	body := wire.CreateChatRequest{ChatName: name, Members: members}
	if err := c.do(ctx, http.MethodPost, "/chats", nil, body, &chat); err != nil {
		return domain.Room{}, err
	}
	return chat.ToRoom(), nil
}

// RecentMessages returns at most limit messages, most recent first.
func (c *Client) RecentMessages(ctx context.Context, roomID domain.RoomID, limit int) ([]domain.Message, error) {
	var payloads []wire.MessagePayload
	query := url.Values{"limit": {strconv.Itoa(limit)}}
	path := "/chats/" + url.PathEscape(string(roomID)) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, query, nil, &payloads); err != nil {
		return nil, err
	}
	return lo.Map(payloads, func(p wire.MessagePayload, _ int) domain.Message { return p.ToMessage() }), nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", errors.ErrFetch, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return statusError(resp, method, path)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %w", errors.ErrFetch, path, err)
	}
	c.log.Debug("Request done", "method", method, "path", path, "status", resp.StatusCode)
	return nil
}

func statusError(resp *http.Response, method, path string) error {
	var detail wire.ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&detail)
	if detail.Error == "" {
		detail.Error = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", errors.ErrAuth, detail.Error)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s %s: %s", errors.ErrNotFound, method, path, detail.Error)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", errors.ErrUserAlreadyExists, detail.Error)
	default:
		return fmt.Errorf("%w: %s %s: %s", errors.ErrFetch, method, path, detail.Error)
	}
}
