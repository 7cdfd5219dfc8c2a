// Package socialgraph talks to the scraping sidecar that owns the social
// network session. Every failure leaving this package is a *domain.SocialError.
package socialgraph

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dustin/go-humanize"
	"github.com/flurbudurbur/Gramsight/internal/domain"
	"github.com/flurbudurbur/Gramsight/internal/logger"
	"github.com/flurbudurbur/Gramsight/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	sessionHeader = "X-Gramsight-Session"

	// minImageBytes rejects placeholder and error bodies served as images.
	minImageBytes = 500

	defaultPageSize = 100
	maxImageBytes   = 5 << 20
)

type Client struct {
	log     zerolog.Logger
	http    *http.Client
	baseURL string
	apiKey  string
}

func NewClient(log logger.Logger, cfg domain.SocialGraphConfig) *Client {
	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		log:     log.With().Str("module", "socialgraph").Str(logger.TagFieldName, logger.TagSocial).Logger(),
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
	}
}

type userPayload struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	FullName      string `json:"full_name"`
	IsPrivate     bool   `json:"is_private"`
	IsVerified    bool   `json:"is_verified"`
	ProfilePicURL string `json:"profile_pic_url"`
}

func (u userPayload) ref() domain.UserRef {
	return domain.UserRef{
		ID:            u.ID,
		Username:      u.Username,
		FullName:      u.FullName,
		IsPrivate:     u.IsPrivate,
		IsVerified:    u.IsVerified,
		ProfilePicURL: u.ProfilePicURL,
	}
}

type loginPayload struct {
	Status        string      `json:"status"`
	User          userPayload `json:"user"`
	Session       string      `json:"session"`
	ChallengeID   string      `json:"challenge_id"`
	ChallengeType string      `json:"challenge_type"`
	Message       string      `json:"message"`
}

type pagePayload struct {
	Users      []userPayload `json:"users"`
	NextCursor string        `json:"next_cursor"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type challengeRequest struct {
	ChallengeID string `json:"challenge_id"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	Code        string `json:"code"`
	TwoFactor   bool   `json:"two_factor"`
}

func (c *Client) Login(ctx context.Context, username, password string) (*domain.LoginResult, error) {
	var payload loginPayload
	if err := c.doJSON(ctx, http.MethodPost, "/login", nil, loginRequest{Username: username, Password: password}, &payload); err != nil {
		return nil, loginError(err)
	}

	return c.loginResult(payload)
}

func (c *Client) ResolveChallenge(ctx context.Context, resp domain.ChallengeResponse) (*domain.LoginResult, error) {
	req := challengeRequest{
		ChallengeID: resp.ChallengeID,
		Username:    resp.Username,
		Password:    resp.Password,
		Code:        resp.Code,
		TwoFactor:   resp.TwoFactor,
	}

	var payload loginPayload
	if err := c.doJSON(ctx, http.MethodPost, "/challenge", nil, req, &payload); err != nil {
		return nil, loginError(err)
	}

	return c.loginResult(payload)
}

func (c *Client) ValidateSession(ctx context.Context, session []byte) (*domain.UserRef, error) {
	var payload struct {
		User userPayload `json:"user"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/session/validate", session, nil, &payload); err != nil {
		return nil, err
	}

	user := payload.User.ref()
	return &user, nil
}

func (c *Client) FetchFollowers(ctx context.Context, session []byte, userID string, max int) ([]domain.UserRef, error) {
	return c.fetchList(ctx, session, userID, "followers", max)
}

func (c *Client) FetchFollowing(ctx context.Context, session []byte, userID string, max int) ([]domain.UserRef, error) {
	return c.fetchList(ctx, session, userID, "following", max)
}

// fetchList follows next_cursor until it is empty or max users are collected.
// max <= 0 fetches everything.
func (c *Client) fetchList(ctx context.Context, session []byte, userID, kind string, max int) ([]domain.UserRef, error) {
	var users []domain.UserRef
	cursor := ""
	pages := 0

	for {
		count := defaultPageSize
		if max > 0 && max-len(users) < count {
			count = max - len(users)
		}

		q := url.Values{}
		q.Set("count", strconv.Itoa(count))
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var page pagePayload
		p := fmt.Sprintf("/users/%s/%s?%s", url.PathEscape(userID), kind, q.Encode())
		if err := c.doJSON(ctx, http.MethodGet, p, session, nil, &page); err != nil {
			return nil, err
		}
		pages++

		for _, u := range page.Users {
			users = append(users, u.ref())
		}

		if page.NextCursor == "" || page.NextCursor == cursor || len(page.Users) == 0 {
			break
		}
		if max > 0 && len(users) >= max {
			users = users[:max]
			break
		}
		cursor = page.NextCursor
	}

	c.log.Debug().Str("user_id", userID).Int("pages", pages).Int("count", len(users)).Msgf("Fetched %s", kind)
	return users, nil
}

func (c *Client) FetchProfileImage(ctx context.Context, userID string) ([]byte, string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("/users/%s/profile-picture", url.PathEscape(userID)), nil, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", classifyResponse(resp.StatusCode, readErrorBody(resp.Body))
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", domain.NewSocialError(domain.SocialErrTransientNetworkError, fmt.Sprintf("unexpected content type %q", contentType))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", classifyTransport(err)
	}
	if len(data) > maxImageBytes {
		return nil, "", domain.NewSocialError(domain.SocialErrTransientNetworkError, fmt.Sprintf("image larger than %s", humanize.IBytes(maxImageBytes)))
	}
	if len(data) <= minImageBytes {
		return nil, "", domain.NewSocialError(domain.SocialErrTransientNetworkError, fmt.Sprintf("image too small (%s)", humanize.Bytes(uint64(len(data)))))
	}

	return data, contentType, nil
}

func (c *Client) loginResult(payload loginPayload) (*domain.LoginResult, error) {
	result := &domain.LoginResult{
		ChallengeID:   payload.ChallengeID,
		ChallengeType: payload.ChallengeType,
		Message:       payload.Message,
	}

	status := payload.Status

	switch domain.LoginStatus(status) {
	case domain.LoginStatusOK:
		session, err := base64.StdEncoding.DecodeString(payload.Session)
		if err != nil {
			return nil, domain.NewSocialError(domain.SocialErrLoginFailed, "malformed session from sidecar")
		}
		result.Status = domain.LoginStatusOK
		result.User = payload.User.ref()
		result.Session = session
	case domain.LoginStatusChallengeRequired, domain.LoginStatusTwoFactorRequired:
		result.Status = domain.LoginStatus(status)
	default:
		// older sidecars only describe the step in free text
		kind, ok := classifyMessage(payload.Message)
		if !ok || kind != domain.SocialErrChallengeRequired {
			return nil, domain.NewSocialError(domain.SocialErrLoginFailed, payload.Message)
		}
		result.Status = domain.LoginStatusChallengeRequired
		if strings.Contains(strings.ToLower(payload.Message), "two") {
			result.Status = domain.LoginStatusTwoFactorRequired
		}
	}

	if result.Status != domain.LoginStatusOK && result.ChallengeID == "" {
		return nil, domain.NewSocialError(domain.SocialErrLoginFailed, "challenge without id")
	}

	return result, nil
}

// loginError turns a rejected session into a rejected login.
func loginError(err error) error {
	if se, ok := domain.AsSocialError(err); ok && se.Kind == domain.SocialErrSessionExpired {
		return domain.NewSocialError(domain.SocialErrLoginFailed, se.Message)
	}
	return err
}

func (c *Client) newRequest(ctx context.Context, method, path string, session []byte, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, domain.NewSocialError(domain.SocialErrTransientNetworkError, err.Error())
	}

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if len(session) > 0 {
		req.Header.Set(sessionHeader, base64.StdEncoding.EncodeToString(session))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, session []byte, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := sonic.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "could not encode request")
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, session, body)
	if err != nil {
		return err
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("path", req.URL.Path).Msg("Request failed")
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	c.log.Trace().Str("method", method).Str("path", req.URL.Path).Int("status", resp.StatusCode).Dur("took", time.Since(started)).Msg("Sidecar response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := classifyResponse(resp.StatusCode, readErrorBody(resp.Body))
		c.log.Warn().Err(err).Str("path", req.URL.Path).Int("status", resp.StatusCode).Msg("Request rejected")
		return err
	}

	if out == nil {
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransport(err)
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return domain.NewSocialError(domain.SocialErrTransientNetworkError, "malformed response: "+err.Error())
	}

	return nil
}

func readErrorBody(r io.Reader) errorBody {
	var body errorBody
	data, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil || len(data) == 0 {
		return body
	}
	if err := sonic.Unmarshal(data, &body); err != nil {
		body.Message = strings.TrimSpace(string(data))
	}
	return body
}
