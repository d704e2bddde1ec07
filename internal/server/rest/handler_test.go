package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/burrow/internal/common"
	"github.com/dmitrijs2005/burrow/internal/logging"
	"github.com/dmitrijs2005/burrow/internal/server/auth"
	"github.com/dmitrijs2005/burrow/internal/server/models"
	"github.com/dmitrijs2005/burrow/internal/server/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

type fakeService struct {
	users      map[string]*services.LookupResult
	lookupErr  error
	relayed    []*models.Message
	received   []*models.Message
	receiveErr error
	hsPort     int
	hsUser     string
	removed    bool
}

func (f *fakeService) LookupUser(_ context.Context, username string) (*services.LookupResult, bool, error) {
	if f.lookupErr != nil {
		return nil, false, f.lookupErr
	}
	u, ok := f.users[username]
	return u, ok, nil
}

func (f *fakeService) Relay(_ context.Context, msg *models.Message) (models.DeliveryOutcome, error) {
	if msg.RecipientID == "" {
		return models.DeliveryOutcome{}, common.ErrorValidation
	}
	for _, prev := range f.relayed {
		if msg.ID != "" && prev.ID == msg.ID {
			return models.DeliveryOutcome{}, common.ErrorAlreadyExists
		}
	}
	f.relayed = append(f.relayed, msg)
	return models.DeliveryOutcome{Success: true, MessageID: "m1", Method: models.MethodRelay, RelayID: "relay_m1"}, nil
}

func (f *fakeService) ReceiveDirect(_ context.Context, msg *models.Message) error {
	if f.receiveErr != nil {
		return f.receiveErr
	}
	f.received = append(f.received, msg)
	return nil
}

func (f *fakeService) RegisterHiddenService(_ context.Context, userID string, port int) (*models.HiddenAddress, error) {
	f.hsUser, f.hsPort = userID, port
	return &models.HiddenAddress{UserID: userID, Address: "abc.onion", Port: port, PrivateKey: []byte("secret-key")}, nil
}

func (f *fakeService) RemoveHiddenService(context.Context, string) (bool, error) {
	return f.removed, nil
}

func (f *fakeService) Stats() services.Stats {
	return services.Stats{OnlineUsers: 2, RelayQueue: 1}
}

func newTestHandler(t *testing.T, svc *fakeService) http.Handler {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "# metrics") })
	return NewHandler(svc, nil, metrics, secret, clk, logging.Nop()).Routes()
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := auth.GenerateToken(userID, []byte(secret), time.Hour)
	require.NoError(t, err)
	return tok
}

func do(h http.Handler, method, path, body, tok string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, &fakeService{})

	rec := do(h, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "ok", got.Status)
	assert.Equal(t, 2, got.Stats.OnlineUsers)
	assert.Equal(t, 1, got.Stats.RelayQueue)
}

func TestLookupUser(t *testing.T) {
	svc := &fakeService{users: map[string]*services.LookupResult{
		"alice": {UserID: "a", Username: "alice", PublicKey: "pk"},
	}}
	h := newTestHandler(t, svc)

	tests := []struct {
		name string
		path string
		code int
	}{
		{"found", "/api/users/alice", http.StatusOK},
		{"missing", "/api/users/bob", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, http.MethodGet, tt.path, "", "")
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestLookupUser_StorageError(t *testing.T) {
	h := newTestHandler(t, &fakeService{lookupErr: common.ErrorStorageUnavailable})

	rec := do(h, http.MethodGet, "/api/users/alice", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRelay(t *testing.T) {
	svc := &fakeService{}
	h := newTestHandler(t, svc)

	rec := do(h, http.MethodPost, "/api/relay", `{"recipientId":"b","content":"hi"}`, token(t, "a"))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, svc.relayed, 1)
	assert.Equal(t, "a", svc.relayed[0].SenderID)

	var out models.DeliveryOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "relay_m1", out.RelayID)
}

func TestRelay_Rejected(t *testing.T) {
	h := newTestHandler(t, &fakeService{})

	tests := []struct {
		name string
		body string
		tok  string
		code int
	}{
		{"no token", `{"recipientId":"b","content":"hi"}`, "", http.StatusUnauthorized},
		{"bad token", `{"recipientId":"b","content":"hi"}`, "garbage", http.StatusUnauthorized},
		{"spoofed sender", `{"senderId":"z","recipientId":"b","content":"hi"}`, token(t, "a"), http.StatusForbidden},
		{"malformed body", `{`, token(t, "a"), http.StatusBadRequest},
		{"invalid message", `{"content":"hi"}`, token(t, "a"), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, do(h, http.MethodPost, "/api/relay", tt.body, tt.tok).Code)
		})
	}
}

func TestRelay_ReusedMessageID(t *testing.T) {
	svc := &fakeService{}
	h := newTestHandler(t, svc)

	body := `{"id":"m-7","recipientId":"b","content":"hi"}`
	require.Equal(t, http.StatusAccepted, do(h, http.MethodPost, "/api/relay", body, token(t, "a")).Code)

	rec := do(h, http.MethodPost, "/api/relay", body, token(t, "a"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Len(t, svc.relayed, 1)
}

func TestAccessTokenHeader(t *testing.T) {
	svc := &fakeService{}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/relay", strings.NewReader(`{"recipientId":"b","content":"hi"}`))
	req.Header.Set(common.AccessTokenHeaderName, token(t, "a"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRegisterHiddenService(t *testing.T) {
	svc := &fakeService{}
	h := newTestHandler(t, svc)

	rec := do(h, http.MethodPost, "/api/hidden-services", `{"port":8080}`, token(t, "a"))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "a", svc.hsUser)
	assert.Equal(t, 8080, svc.hsPort)
	assert.NotContains(t, rec.Body.String(), "secret-key")
}

func TestRemoveHiddenService(t *testing.T) {
	tests := []struct {
		name    string
		removed bool
		path    string
		code    int
	}{
		{"removed", true, "/api/hidden-services/a", http.StatusNoContent},
		{"none", false, "/api/hidden-services/a", http.StatusNotFound},
		{"other user", true, "/api/hidden-services/b", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &fakeService{removed: tt.removed})
			assert.Equal(t, tt.code, do(h, http.MethodDelete, tt.path, "", token(t, "a")).Code)
		})
	}
}

func TestReceiveDirect(t *testing.T) {
	svc := &fakeService{}
	h := newTestHandler(t, svc)

	rec := do(h, http.MethodPost, "/message", `{"id":"m1","senderId":"a","recipientId":"b","content":"hi"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, svc.received, 1)
	assert.Equal(t, "hi", svc.received[0].Content)

	var got receivedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, receivedResponse{Received: true, MessageID: "m1"}, got)
}

func TestReceiveDirect_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"offline", common.ErrorNotFound, http.StatusNotFound},
		{"invalid", common.ErrorValidation, http.StatusBadRequest},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &fakeService{receiveErr: tt.err})
			rec := do(h, http.MethodPost, "/message", `{"id":"m1","recipientId":"b"}`, "")
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestInternalErrorHidesDetails(t *testing.T) {
	h := newTestHandler(t, &fakeService{receiveErr: errors.New("db password leaked")})

	rec := do(h, http.MethodPost, "/message", `{"id":"m1","recipientId":"b"}`, "")
	assert.NotContains(t, rec.Body.String(), "leaked")
}

func TestMetricsAndMethodRouting(t *testing.T) {
	h := newTestHandler(t, &fakeService{})

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/metrics", "", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(h, http.MethodGet, "/message", "", "").Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{common.ErrorValidation, http.StatusBadRequest},
		{common.ErrInvalidToken, http.StatusUnauthorized},
		{common.ErrTokenExpired, http.StatusUnauthorized},
		{common.ErrorUnauthorized, http.StatusForbidden},
		{common.ErrorNotFound, http.StatusNotFound},
		{common.ErrorAlreadyExists, http.StatusConflict},
		{common.ErrorTransportFailure, http.StatusServiceUnavailable},
		{errors.New("x"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, statusFor(tt.err), tt.err.Error())
	}
}
