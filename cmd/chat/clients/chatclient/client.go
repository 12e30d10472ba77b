package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"nutriwise/cmd/chat/httpclient"
	"nutriwise/models"
)

// Client는 Nutriwise 채팅 백엔드 HTTP API를 호출하는 얇은 클라이언트다.
//
// - 세션/메시지에 대한 로컬 상태 관리는 services 쪽 책임이고, 이 클라이언트는
//   순수하게 다섯 개 엔드포인트(list/messages/create/send/delete)만 호출한다.
//
// baseURL 예: https://.../api/Chat

type Client struct {
	base *httpclient.BaseClient
}

var (
	ErrNotFound = fmt.Errorf("resource not found")
)

type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("chat-api request failed: status=%d body=%s", e.StatusCode, e.Body)
}

// SendResult 는 메시지 전송 한 번에 대한 서버 응답이다.
// 사용자 메시지 레코드는 항상 존재하고, 어시스턴트 응답은 없을 수 있다.
type SendResult struct {
	UserMessage models.Message
	AIResponse  *models.Message
}

func New(httpClient *http.Client, baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("CHAT_API_BASE_URL")
	}
	return &Client{base: httpclient.NewBaseClientWithClient(httpClient, baseURL)}
}

// -------------------- Wire DTOs --------------------

// 백엔드(.NET) 필드명을 그대로 따른다. 타임스탬프는 오프셋 없이 내려오는
// 경우가 있어 문자열로 받고 parseTimestamp 로 관대하게 파싱한다.

type sessionRecord struct {
	ChatSessionID   int64  `json:"chatSessionId"`
	Title           string `json:"title"`
	CreatedDate     string `json:"createdDate"`
	LastUpdatedDate string `json:"lastUpdatedDate"`
}

type messageRecord struct {
	ChatMessageID int64  `json:"chatMessageId"`
	ChatSessionID int64  `json:"chatSessionId"`
	IsUserMessage bool   `json:"isUserMessage"`
	Content       string `json:"content"`
	Timestamp     string `json:"timestamp"`
}

type createSessionRequest struct {
	UserID int64  `json:"userId"`
	Title  string `json:"title"`
}

type sendMessageRequest struct {
	ChatSessionID int64  `json:"chatSessionId"`
	Content       string `json:"content"`
}

type sendMessageResponse struct {
	UserMessage *messageRecord `json:"userMessage"`
	AIResponse  *messageRecord `json:"aiResponse"`
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	// .NET 직렬화가 오프셋을 생략하는 경우
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}

func (r sessionRecord) toModel() models.Session {
	return models.Session{
		SessionID:     r.ChatSessionID,
		Title:         r.Title,
		CreatedAt:     parseTimestamp(r.CreatedDate),
		LastUpdatedAt: parseTimestamp(r.LastUpdatedDate),
	}
}

func (r messageRecord) toModel() models.Message {
	return models.Message{
		MessageID: r.ChatMessageID,
		SessionID: r.ChatSessionID,
		Content:   r.Content,
		SentAt:    parseTimestamp(r.Timestamp),
		FromUser:  r.IsUserMessage,
	}
}

// -------------------- Operations --------------------

// ListSessions는 GET /user/{userId}?pageNumber=N 을 호출해 세션 목록 한 페이지를 조회한다.
// 마지막 페이지 이후에는 빈 배열이 내려온다.
func (c *Client) ListSessions(ctx context.Context, userID int64, pageNumber int) ([]models.Session, error) {
	relPath := fmt.Sprintf("/user/%d", userID)
	query := url.Values{"pageNumber": []string{strconv.Itoa(pageNumber)}}

	req, err := c.base.NewRequest(ctx, http.MethodGet, relPath, query, nil)
	if err != nil {
		return nil, err
	}

	var records []sessionRecord
	if err := c.do(req, &records); err != nil {
		return nil, err
	}

	sessions := make([]models.Session, 0, len(records))
	for _, r := range records {
		sessions = append(sessions, r.toModel())
	}
	return sessions, nil
}

// GetMessages는 GET /messages/{sessionId} 를 호출해 세션의 전체 메시지 이력을 조회한다.
func (c *Client) GetMessages(ctx context.Context, sessionID int64) ([]models.Message, error) {
	relPath := fmt.Sprintf("/messages/%d", sessionID)

	req, err := c.base.NewRequest(ctx, http.MethodGet, relPath, nil, nil)
	if err != nil {
		return nil, err
	}

	var records []messageRecord
	if err := c.do(req, &records); err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(records))
	for _, r := range records {
		messages = append(messages, r.toModel())
	}
	return messages, nil
}

// CreateSession은 POST /session 을 호출해 새 세션을 생성한다.
func (c *Client) CreateSession(ctx context.Context, userID int64, title string) (models.Session, error) {
	buf, err := json.Marshal(createSessionRequest{UserID: userID, Title: title})
	if err != nil {
		return models.Session{}, err
	}

	req, err := c.base.NewRequest(ctx, http.MethodPost, "/session", nil, bytes.NewReader(buf))
	if err != nil {
		return models.Session{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var record sessionRecord
	if err := c.do(req, &record); err != nil {
		return models.Session{}, err
	}
	if record.ChatSessionID == 0 {
		return models.Session{}, fmt.Errorf("chat-api CreateSession: response missing chatSessionId")
	}
	return record.toModel(), nil
}

// SendMessage는 POST /message 를 호출한다. 응답에는 서버가 저장한 사용자 메시지와
// (있다면) 어시스턴트 응답이 함께 담겨 내려온다.
func (c *Client) SendMessage(ctx context.Context, sessionID int64, content string) (SendResult, error) {
	buf, err := json.Marshal(sendMessageRequest{ChatSessionID: sessionID, Content: content})
	if err != nil {
		return SendResult{}, err
	}

	req, err := c.base.NewRequest(ctx, http.MethodPost, "/message", nil, bytes.NewReader(buf))
	if err != nil {
		return SendResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp sendMessageResponse
	if err := c.do(req, &resp); err != nil {
		return SendResult{}, err
	}
	if resp.UserMessage == nil {
		return SendResult{}, fmt.Errorf("chat-api SendMessage: response missing userMessage")
	}

	result := SendResult{UserMessage: resp.UserMessage.toModel()}
	if resp.AIResponse != nil {
		ai := resp.AIResponse.toModel()
		result.AIResponse = &ai
	}
	return result, nil
}

// DeleteSession은 DELETE /session/{sessionId} 를 호출한다.
// 서버에 이미 없는 세션이면 ErrNotFound 를 반환한다.
func (c *Client) DeleteSession(ctx context.Context, sessionID int64) error {
	relPath := fmt.Sprintf("/session/%d", sessionID)
	req, err := c.base.NewRequest(ctx, http.MethodDelete, relPath, nil, nil)
	if err != nil {
		return err
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}
}

const maxBodySize = 5 * 1024 * 1024

// do 는 요청을 실행하고 2xx 응답 바디를 out 으로 언마샬한다.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if readErr != nil {
		return fmt.Errorf("chat-api response read failed: %w", readErr)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}
