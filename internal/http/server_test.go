package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendtrack/internal/auth"
	"spendtrack/internal/core"
	"spendtrack/internal/storage"
)

const testJWTSecret = "test-secret-0123456789abcdefghijklmnop"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	authSvc := auth.NewService(repo, testJWTSecret, time.Hour, 4, "")
	srv := NewServer(":0", repo, authSvc)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func signupAndLogin(t *testing.T, ts *httptest.Server, email string) string {
	t.Helper()
	resp := doJSON(t, http.MethodPost, ts.URL+"/auth/signup", "", map[string]string{
		"email":    email,
		"password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, ts.URL+"/auth/login", "", map[string]string{
		"email":    email,
		"password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	login := decodeBody[map[string]any](t, resp)
	token, _ := login["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func validExpense() map[string]any {
	return map[string]any{
		"title":         "Dinner",
		"amount":        50,
		"date":          "15-10-2023",
		"category":      "Food",
		"paymentMethod": "Cash",
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}
}

func TestSignupLoginAndMe(t *testing.T) {
	ts := newTestServer(t)
	token := signupAndLogin(t, ts, "alice@example.com")

	resp := doJSON(t, http.MethodGet, ts.URL+"/auth/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	me := decodeBody[core.User](t, resp)
	assert.Equal(t, "alice@example.com", me.Email)
}

func TestSignupDuplicateEmail(t *testing.T) {
	ts := newTestServer(t)
	signupAndLogin(t, ts, "alice@example.com")

	resp := doJSON(t, http.MethodPost, ts.URL+"/auth/signup", "", map[string]string{
		"email":    "alice@example.com",
		"password": "hunter2hunter2",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestLoginWrongPassword(t *testing.T) {
	ts := newTestServer(t)
	signupAndLogin(t, ts, "alice@example.com")

	resp := doJSON(t, http.MethodPost, ts.URL+"/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "wrong-password",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestExpenseCRUD(t *testing.T) {
	ts := newTestServer(t)
	token := signupAndLogin(t, ts, "alice@example.com")

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/expenses", token, validExpense())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[core.Expense](t, resp)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, int64(5000), created.Amount.Cents)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/expenses", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[[]core.Expense](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	update := validExpense()
	update["title"] = "Team dinner"
	resp = doJSON(t, http.MethodPut, ts.URL+"/api/expenses/"+created.ID, token, update)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decodeBody[core.Expense](t, resp)
	assert.Equal(t, "Team dinner", updated.Title)

	resp = doJSON(t, http.MethodDelete, ts.URL+"/api/expenses/"+created.ID, token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodDelete, ts.URL+"/api/expenses/"+created.ID, token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestCreateValidationViolations(t *testing.T) {
	ts := newTestServer(t)
	token := signupAndLogin(t, ts, "alice@example.com")

	bad := map[string]any{
		"title":         "",
		"amount":        -5,
		"date":          "2023/10/15",
		"category":      "Gadgets",
		"paymentMethod": "Cheque",
	}
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/expenses", token, bad)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeBody[map[string]any](t, resp)
	violations, _ := body["violations"].([]any)
	assert.Len(t, violations, 5)
	assert.Equal(t, core.ViolationTitle, violations[0])
}

func TestCreateWithParticipantsComputesShares(t *testing.T) {
	ts := newTestServer(t)
	token := signupAndLogin(t, ts, "alice@example.com")

	exp := validExpense()
	exp["amount"] = 90
	exp["participants"] = []string{"u2"}
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/expenses", token, exp)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[core.Expense](t, resp)
	require.Len(t, created.SharedWith, 1)
	assert.Equal(t, "u2", created.SharedWith[0].UserID)
	assert.Equal(t, int64(4500), created.SharedWith[0].Share.Cents)
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/expenses", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/expenses", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestUsersSeeOnlyTheirOwnExpenses(t *testing.T) {
	ts := newTestServer(t)
	alice := signupAndLogin(t, ts, "alice@example.com")
	bob := signupAndLogin(t, ts, "bob@example.com")

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/expenses", alice, validExpense())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/expenses", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[[]core.Expense](t, resp)
	assert.Empty(t, list)
}

func TestExportAndImport(t *testing.T) {
	ts := newTestServer(t)
	token := signupAndLogin(t, ts, "alice@example.com")

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/expenses", token, validExpense())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/expenses/export", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "expenses.json")
	exported := decodeBody[[]core.Expense](t, resp)
	require.Len(t, exported, 1)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/expenses/import", bytes.NewReader(mustJSON(t, exported)))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	importResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, importResp.StatusCode)
	result := decodeBody[map[string]int](t, importResp)
	assert.Equal(t, 1, result["imported"])

	// Import duplicates instead of deduplicating.
	resp = doJSON(t, http.MethodGet, ts.URL+"/api/expenses", token, nil)
	list := decodeBody[[]core.Expense](t, resp)
	assert.Len(t, list, 2)
	assert.NotEqual(t, list[0].ID, list[1].ID)
}

func TestImportRejectsMalformedJSON(t *testing.T) {
	ts := newTestServer(t)
	token := signupAndLogin(t, ts, "alice@example.com")

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/expenses/import", bytes.NewReader([]byte("{broken")))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSummaries(t *testing.T) {
	ts := newTestServer(t)
	token := signupAndLogin(t, ts, "alice@example.com")

	first := validExpense()
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/expenses", token, first)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	second := validExpense()
	second["category"] = "Travel"
	second["amount"] = 30
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/expenses", token, second)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/summary/categories", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	byCategory := decodeBody[[]core.CategoryTotal](t, resp)
	require.Len(t, byCategory, 2)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/summary/months", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	byMonth := decodeBody[[]core.MonthTotal](t, resp)
	require.Len(t, byMonth, 1)

	// Summary cache invalidates on mutation.
	third := validExpense()
	third["amount"] = 20
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/expenses", token, third)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/summary/categories", token, nil)
	refreshed := decodeBody[[]core.CategoryTotal](t, resp)
	var foodTotal core.Money
	for _, ct := range refreshed {
		if ct.Category == core.CategoryFood {
			foodTotal = ct.Total
		}
	}
	assert.Equal(t, int64(7000), foodTotal.Cents)
}

func TestDeleteAll(t *testing.T) {
	ts := newTestServer(t)
	token := signupAndLogin(t, ts, "alice@example.com")

	for i := 0; i < 3; i++ {
		resp := doJSON(t, http.MethodPost, ts.URL+"/api/expenses", token, validExpense())
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}

	resp := doJSON(t, http.MethodDelete, ts.URL+"/api/expenses", token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/expenses", token, nil)
	list := decodeBody[[]core.Expense](t, resp)
	assert.Empty(t, list)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
