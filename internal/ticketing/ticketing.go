package ticketing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// ErrNotConnected is returned by ticket operations before a successful Connect.
var ErrNotConnected = errors.New("not connected to 1C")

// Ticket priorities and statuses as the dashboard exposes them. The remote
// 1C register stores localized labels; see the mapping tables below.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"

	StatusNew        = "new"
	StatusInProgress = "in_progress"
	StatusResolved   = "resolved"
	StatusClosed     = "closed"
)

// registerPath is the 1C OData information-register resource for support
// requests.
const registerPath = "/InformationRegisters/ЗаявкиТехподдержки"

const defaultAPIVersion = "4.0"

// Config holds the connection parameters for the 1C OData gateway.
type Config struct {
	BaseURL  string `json:"baseUrl"`
	APIKey   string `json:"apiKey"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Status is a snapshot of the ticketing session state.
type Status struct {
	Connected    bool       `json:"connected"`
	LastSync     *time.Time `json:"lastSync,omitempty"`
	LastError    string     `json:"lastError,omitempty"`
	APIVersion   string     `json:"apiVersion,omitempty"`
	TotalTickets int        `json:"totalTickets"`
}

// Ticket is the dashboard-side ticket shape. The remote system owns the
// record; this is a boundary translation only.
type Ticket struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Priority      string    `json:"priority"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	AssignedTo    string    `json:"assignedTo,omitempty"`
	CustomerName  string    `json:"customerName"`
	CustomerPhone string    `json:"customerPhone,omitempty"`
	Category      string    `json:"category"`
}

// TicketData is the caller-supplied portion of a new ticket.
type TicketData struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	Priority      string `json:"priority"`
	Category      string `json:"category"`
	CustomerName  string `json:"customerName"`
	CustomerPhone string `json:"customerPhone,omitempty"`
}

// remoteTicket mirrors one record of the 1C register.
type remoteTicket struct {
	RefKey        string `json:"Ref_Key,omitempty"`
	ID            string `json:"id,omitempty"`
	Title         string `json:"Название"`
	Description   string `json:"Описание"`
	Priority      string `json:"Приоритет"`
	Status        string `json:"Статус"`
	Category      string `json:"КатегорияОбращения"`
	CustomerName  string `json:"ИмяКлиента"`
	CustomerPhone string `json:"ТелефонКлиента,omitempty"`
	AssignedTo    string `json:"Исполнитель,omitempty"`
	CreatedAt     string `json:"ДатаСоздания"`
	UpdatedAt     string `json:"ДатаИзменения,omitempty"`
}

// listResponse is the OData collection wrapper.
type listResponse struct {
	Value []remoteTicket `json:"value"`
}

// Service holds the ticketing session: the connected config, an HTTP
// client scoped to it, and a status snapshot.
type Service struct {
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.Mutex
	cfg    Config
	client *http.Client
	status Status
}

// NewService creates a ticketing gateway. A zero timeout falls back to 10s.
func NewService(logger *slog.Logger, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{
		logger:  logger.With("subsystem", "ticketing"),
		timeout: timeout,
	}
}

// TestConnection probes the gateway's OData metadata document with the
// given config and returns the reported API version. It does not mutate
// session state.
func (s *Service) TestConnection(ctx context.Context, cfg Config) (string, error) {
	client := &http.Client{Timeout: s.timeout}
	return s.probeMetadata(ctx, client, cfg)
}

func (s *Service) probeMetadata(ctx context.Context, client *http.Client, cfg Config) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL+"/$metadata", nil)
	if err != nil {
		return "", fmt.Errorf("creating metadata request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting metadata: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	version := resp.Header.Get("OData-Version")
	if version == "" {
		version = defaultAPIVersion
	}
	return version, nil
}

// Connect re-tests the config and, on success, stores it as the active
// session. On failure only LastError is updated.
func (s *Service) Connect(ctx context.Context, cfg Config) error {
	version, err := s.TestConnection(ctx, cfg)
	if err != nil {
		s.mu.Lock()
		s.status.LastError = err.Error()
		s.mu.Unlock()
		return err
	}

	now := time.Now()

	s.mu.Lock()
	s.cfg = cfg
	s.client = &http.Client{Timeout: s.timeout}
	s.status.Connected = true
	s.status.LastSync = &now
	s.status.APIVersion = version
	s.status.LastError = ""
	s.mu.Unlock()

	s.logger.Info("connected to 1C", "base_url", cfg.BaseURL, "api_version", version)
	return nil
}

// CreateTicket posts a new record to the support-request register and
// returns the remote-assigned identifier.
func (s *Service) CreateTicket(ctx context.Context, data TicketData) (string, error) {
	s.mu.Lock()
	client, cfg := s.client, s.cfg
	connected := s.status.Connected
	s.mu.Unlock()

	if !connected || client == nil {
		return "", ErrNotConnected
	}

	payload := remoteTicket{
		Title:         data.Title,
		Description:   data.Description,
		Priority:      priorityToRemote(data.Priority),
		Status:        "Новая",
		Category:      data.Category,
		CustomerName:  data.CustomerName,
		CustomerPhone: data.CustomerPhone,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshalling ticket: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+registerPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating ticket request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("posting ticket: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading ticket response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("1C API error: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	var created remoteTicket
	if err := json.Unmarshal(respBody, &created); err != nil {
		return "", fmt.Errorf("decoding ticket response: %w", err)
	}

	id := created.RefKey
	if id == "" {
		id = created.ID
	}

	s.mu.Lock()
	s.status.TotalTickets++
	total := s.status.TotalTickets
	s.mu.Unlock()

	s.logger.Info("ticket created", "ticket_id", id, "total_this_session", total)
	return id, nil
}

// ListTickets fetches up to limit records, newest first, and maps them
// back into the dashboard shape. Unrecognized remote priority and status
// labels fall back to medium and new.
func (s *Service) ListTickets(ctx context.Context, limit int) ([]Ticket, error) {
	s.mu.Lock()
	client, cfg := s.client, s.cfg
	connected := s.status.Connected
	s.mu.Unlock()

	if !connected || client == nil {
		return nil, ErrNotConnected
	}

	if limit <= 0 {
		limit = 20
	}

	query := url.Values{}
	query.Set("$top", strconv.Itoa(limit))
	query.Set("$orderby", "ДатаСоздания desc")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL+registerPath+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating list request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing tickets: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading list response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("1C API error: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	var list listResponse
	if err := json.Unmarshal(respBody, &list); err != nil {
		return nil, fmt.Errorf("decoding list response: %w", err)
	}

	tickets := make([]Ticket, 0, len(list.Value))
	for _, item := range list.Value {
		tickets = append(tickets, mapFromRemote(item))
	}
	return tickets, nil
}

// GetStatus returns a copy of the current session status.
func (s *Service) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.status
	if s.status.LastSync != nil {
		t := *s.status.LastSync
		snapshot.LastSync = &t
	}
	return snapshot
}

func mapFromRemote(item remoteTicket) Ticket {
	id := item.RefKey
	if id == "" {
		id = item.ID
	}

	createdAt, _ := time.Parse(time.RFC3339, item.CreatedAt)
	updatedAt := createdAt
	if item.UpdatedAt != "" {
		if t, err := time.Parse(time.RFC3339, item.UpdatedAt); err == nil {
			updatedAt = t
		}
	}

	return Ticket{
		ID:            id,
		Title:         item.Title,
		Description:   item.Description,
		Priority:      priorityFromRemote(item.Priority),
		Status:        statusFromRemote(item.Status),
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
		AssignedTo:    item.AssignedTo,
		CustomerName:  item.CustomerName,
		CustomerPhone: item.CustomerPhone,
		Category:      item.Category,
	}
}

var priorityToRemoteMap = map[string]string{
	PriorityLow:      "Низкий",
	PriorityMedium:   "Средний",
	PriorityHigh:     "Высокий",
	PriorityCritical: "Критический",
}

var priorityFromRemoteMap = map[string]string{
	"Низкий":      PriorityLow,
	"Средний":     PriorityMedium,
	"Высокий":     PriorityHigh,
	"Критический": PriorityCritical,
}

var statusFromRemoteMap = map[string]string{
	"Новая":    StatusNew,
	"В работе": StatusInProgress,
	"Решена":   StatusResolved,
	"Закрыта":  StatusClosed,
}

func priorityToRemote(priority string) string {
	if label, ok := priorityToRemoteMap[priority]; ok {
		return label
	}
	return "Средний"
}

func priorityFromRemote(label string) string {
	if priority, ok := priorityFromRemoteMap[label]; ok {
		return priority
	}
	return PriorityMedium
}

func statusFromRemote(label string) string {
	if status, ok := statusFromRemoteMap[label]; ok {
		return status
	}
	return StatusNew
}
