package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"spendtrack/internal/core"
)

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	expenses, err := s.repo.List(r.Context(), session)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, expenses)
}

type expenseRequest struct {
	Title         string             `json:"title"`
	Amount        core.Money         `json:"amount"`
	Date          string             `json:"date"`
	Category      core.Category      `json:"category"`
	PaymentMethod core.PaymentMethod `json:"paymentMethod"`
	// Participants, when present, computes sharedWith via the equal
	// split; an explicit sharedWith wins.
	Participants []string     `json:"participants,omitempty"`
	SharedWith   []core.Share `json:"sharedWith,omitempty"`
}

func (req expenseRequest) toExpense() core.Expense {
	e := core.Expense{
		Title:         sanitizeInput(req.Title),
		Amount:        req.Amount,
		Date:          sanitizeInput(req.Date),
		Category:      req.Category,
		PaymentMethod: req.PaymentMethod,
		SharedWith:    req.SharedWith,
	}
	if len(e.SharedWith) == 0 && len(req.Participants) > 0 {
		e.SharedWith = core.SplitEqually(e.Amount, req.Participants)
	}
	return e
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)

	var req expenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	created, err := s.repo.Create(r.Context(), session, req.toExpense())
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateSummaries(session.CurrentUserID())
	slog.InfoContext(r.Context(), "Expense created", "expense_id", created.ID, "user_id", created.UserID)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)

	var req expenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	expense := req.toExpense()
	expense.ID = r.PathValue("id")

	updated, err := s.repo.Update(r.Context(), session, expense)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateSummaries(session.CurrentUserID())
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)

	if err := s.repo.Delete(r.Context(), session, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateSummaries(session.CurrentUserID())
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteAllExpenses is the explicit "clear all data" action.
func (s *Server) handleDeleteAllExpenses(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)

	if err := s.repo.DeleteAll(r.Context(), session); err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateSummaries(session.CurrentUserID())
	slog.InfoContext(r.Context(), "All expenses cleared", "user_id", session.CurrentUserID())
	w.WriteHeader(http.StatusNoContent)
}

// handleExport streams the owner's full set as a downloadable JSON file.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)

	expenses, err := s.repo.List(r.Context(), session)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="expenses.json"`)
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(expenses)
}

type importResponse struct {
	Imported int `json:"imported"`
}

// handleImport re-persists each record in the uploaded JSON array as an
// independent create; original ids are dropped, so repeated imports
// duplicate records.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	var incoming []core.Expense
	if err := json.Unmarshal(body, &incoming); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "import file is not a JSON expense array"})
		return
	}

	imported := 0
	for _, exp := range incoming {
		exp.ID = ""
		exp.CreatedAt = ""
		if _, err := s.repo.Create(r.Context(), session, exp); err != nil {
			writeError(w, r, err)
			return
		}
		imported++
	}

	s.invalidateSummaries(session.CurrentUserID())
	slog.InfoContext(r.Context(), "Import completed", "user_id", session.CurrentUserID(), "records", imported)
	writeJSON(w, http.StatusOK, importResponse{Imported: imported})
}

func (s *Server) handleCategorySummary(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	cacheKey := session.CurrentUserID() + ":categories"

	if totals, ok := s.categoryCache.Get(cacheKey); ok {
		writeJSON(w, http.StatusOK, totals)
		return
	}

	expenses, err := s.repo.List(r.Context(), session)
	if err != nil {
		writeError(w, r, err)
		return
	}

	totals := core.SummarizeByCategory(expenses)
	s.categoryCache.Set(cacheKey, totals)
	writeJSON(w, http.StatusOK, totals)
}

func (s *Server) handleMonthSummary(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	cacheKey := session.CurrentUserID() + ":months"

	if totals, ok := s.monthCache.Get(cacheKey); ok {
		writeJSON(w, http.StatusOK, totals)
		return
	}

	expenses, err := s.repo.List(r.Context(), session)
	if err != nil {
		writeError(w, r, err)
		return
	}

	totals := core.SummarizeByMonth(expenses)
	s.monthCache.Set(cacheKey, totals)
	writeJSON(w, http.StatusOK, totals)
}
