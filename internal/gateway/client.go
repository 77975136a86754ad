package gateway

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

	"github.com/rs/zerolog"
	"github.com/sensai-labs/proctor-client/internal/model"
)

// HeaderUserID is the identity header the backend expects. The gateway
// passes the caller's identity through unmodified; it never originates or
// validates credentials.
const HeaderUserID = "x-user-id"

// Client translates session intents into calls against the external grading
// service. It is stateless: no timers, no session knowledge, only request
// shaping and error normalization.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates a gateway client for the given backend base URL
// (e.g. "http://grading:8000/api").
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "gateway").Logger(),
	}
}

// ─── Session lifecycle ──────────────────────────────────────────────

// StartSession creates a backend session for an exam attempt and returns the
// backend-assigned session id.
func (c *Client) StartSession(ctx context.Context, examID, userID string) (string, error) {
	q := url.Values{"user_id": {userID}}
	raw, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/exam/%s/start", url.PathEscape(examID)), q, userID, nil)
	if err != nil {
		return "", err
	}

	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &TransportError{Op: "start session", Err: err}
	}
	if out.SessionID == "" {
		return "", &TransportError{Op: "start session", Err: fmt.Errorf("backend returned no session id")}
	}
	return out.SessionID, nil
}

// SubmitExam sends the accumulated answers and elapsed time. Called exactly
// once per submission attempt by the session machine.
func (c *Client) SubmitExam(ctx context.Context, examID, sessionID, userID string, answers map[string]string, elapsedSeconds int) (*model.SubmitResult, error) {
	body := map[string]interface{}{
		"answers":    answers,
		"time_taken": elapsedSeconds,
	}
	q := url.Values{
		"user_id":    {userID},
		"session_id": {sessionID},
	}
	raw, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/exam/%s/submit", url.PathEscape(examID)), q, userID, body)
	if err != nil {
		return nil, err
	}

	var out struct {
		Score     *float64 `json:"score,omitempty"`
		SessionID string   `json:"session_id"`
		Message   string   `json:"message"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &TransportError{Op: "submit exam", Err: err}
	}
	if out.SessionID == "" {
		out.SessionID = sessionID
	}
	return &model.SubmitResult{SessionID: out.SessionID, Score: out.Score, Message: out.Message}, nil
}

// SubmitViva sends the answers of a finished surprise viva. Scoring happens
// on the backend; the scored acknowledgment comes back verbatim.
func (c *Client) SubmitViva(ctx context.Context, sessionID, userID string, answers map[string]string) (*model.VivaResult, error) {
	body := map[string]interface{}{
		"session_id": sessionID,
		"answers":    answers,
	}
	raw, err := c.do(ctx, http.MethodPost, "/surprise-viva/submit", nil, userID, body)
	if err != nil {
		return nil, err
	}

	var out model.VivaResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &TransportError{Op: "submit viva", Err: err}
	}
	if out.SessionID == "" {
		out.SessionID = sessionID
	}
	return &out, nil
}

// ─── Forwarded reads ────────────────────────────────────────────────

// CreateExam forwards an exam definition to the backend unmodified.
func (c *Client) CreateExam(ctx context.Context, userID string, payload json.RawMessage) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/exam/", nil, userID, payload)
}

// FetchExam fetches an exam definition.
func (c *Client) FetchExam(ctx context.Context, examID, userID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, fmt.Sprintf("/exam/%s", url.PathEscape(examID)), nil, userID, nil)
}

// ListSessions fetches all attempts of an exam.
func (c *Client) ListSessions(ctx context.Context, examID, userID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, fmt.Sprintf("/exam/%s/sessions", url.PathEscape(examID)), nil, userID, nil)
}

// FetchResults fetches the scored results of one session, including the
// proctoring-events summary. A backend 404 surfaces as ErrNotFound.
func (c *Client) FetchResults(ctx context.Context, examID, sessionID, userID string) (json.RawMessage, error) {
	path := fmt.Sprintf("/exam/%s/results/%s", url.PathEscape(examID), url.PathEscape(sessionID))
	return c.do(ctx, http.MethodGet, path, nil, userID, nil)
}

// FetchEvaluation fetches the stored comprehensive evaluation. ErrNotFound
// means "no evaluation yet", a normal condition distinct from failure.
func (c *Client) FetchEvaluation(ctx context.Context, examID, sessionID, userID string) (json.RawMessage, error) {
	path := fmt.Sprintf("/simple-eval/%s/%s", url.PathEscape(examID), url.PathEscape(sessionID))
	return c.do(ctx, http.MethodGet, path, nil, userID, nil)
}

// CreateEvaluation asks the backend to generate an evaluation for a session.
func (c *Client) CreateEvaluation(ctx context.Context, examID, sessionID, userID string) (json.RawMessage, error) {
	path := fmt.Sprintf("/simple-eval/%s/%s", url.PathEscape(examID), url.PathEscape(sessionID))
	return c.do(ctx, http.MethodPost, path, nil, userID, nil)
}

// ─── Evidence streaming ─────────────────────────────────────────────

// Evidence is an open byte stream of recorded session video plus the
// upstream content metadata to preserve. The caller owns Body and must
// close it.
type Evidence struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
	AcceptRanges  string
}

// FetchEvidence opens the recorded video stream for a session. The response
// body is returned unread so the caller can proxy it chunk by chunk with
// downstream backpressure; nothing is buffered here.
func (c *Client) FetchEvidence(ctx context.Context, examID, sessionID, userID string) (*Evidence, error) {
	path := fmt.Sprintf("%s/exam/%s/video/%s", c.baseURL, url.PathEscape(examID), url.PathEscape(sessionID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, &TransportError{Op: "fetch evidence", Err: err}
	}
	req.Header.Set(HeaderUserID, userID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "fetch evidence", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, c.statusError(resp)
	}

	return &Evidence{
		Body:          resp.Body,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		AcceptRanges:  resp.Header.Get("Accept-Ranges"),
	}, nil
}

// ─── Internals ──────────────────────────────────────────────────────

// do issues one backend request with the identity header attached and
// normalizes every non-success outcome into a typed failure. An error is
// never swallowed: callers always get ErrUnauthorized, ErrNotFound, an
// UpstreamError or a TransportError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, userID string, body interface{}) (json.RawMessage, error) {
	full := c.baseURL + path
	if len(query) > 0 {
		full += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case json.RawMessage:
			reader = bytes.NewReader(b)
		default:
			data, err := json.Marshal(body)
			if err != nil {
				return nil, &TransportError{Op: "encode request", Err: err}
			}
			reader = bytes.NewReader(data)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, full, reader)
	if err != nil {
		return nil, &TransportError{Op: "build request", Err: err}
	}
	req.Header.Set(HeaderUserID, userID)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.statusError(resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read response", Err: err}
	}
	return raw, nil
}

// statusError maps a non-success backend response onto the error taxonomy,
// preserving the backend's detail message when one is present.
func (c *Client) statusError(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	}

	detail := ""
	if data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); err == nil {
		var body struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(data, &body) == nil && body.Detail != "" {
			detail = body.Detail
		}
	}

	c.log.Warn().Int("status", resp.StatusCode).Str("detail", detail).Msg("Backend error response")
	return &UpstreamError{Status: resp.StatusCode, Message: detail}
}
