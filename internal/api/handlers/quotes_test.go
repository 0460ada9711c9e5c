package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/quote-module/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/quote-module/internal/domain/model"
	"github.com/bigkaa/goartstore/quote-module/internal/service"
)

const testQuoteID = "5d2b7a9e-2f6c-4b7e-9a51-0c1d2e3f4a5b"

func newQuotesHandler(quotes *mockQuotes) http.Handler {
	h := NewAPIHandler(NewHealthHandler(nil, nil), &mockObjects{}, quotes, &mockGroups{}, time.Hour, testLogger())
	return testRouter(h)
}

func TestCreateQuoteHandler(t *testing.T) {
	quotes := &mockQuotes{quote: &model.Quote{ID: testQuoteID, Status: lifecycle.StatusRequested}}
	router := newQuotesHandler(quotes)

	body := `{"service":"cnc-milling","targetPrice":"1250.50","notes":"срочно",
		"files":[{"uploadUrl":"/objects/uploads/a","fileName":"part.step","fileSize":1024}]}`
	req := withCustomer(httptest.NewRequest(http.MethodPost, "/api/quotes", strings.NewReader(body)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("статус %d, ожидался 201: %s", rec.Code, rec.Body.String())
	}
	in := quotes.createdWith
	if in.Service != "cnc-milling" || in.TargetPrice == nil || *in.TargetPrice != 125050 {
		t.Errorf("CreateQuoteInput = %+v", in)
	}
	if len(in.Files) != 1 || in.Files[0].FileName != "part.step" {
		t.Errorf("Files = %+v", in.Files)
	}
	if quotes.gotPrincipal.ID != "owner-1" {
		t.Errorf("Principal = %+v", quotes.gotPrincipal)
	}

	// Внутренняя ошибка сообщает о возможных незащищённых файлах
	failing := newQuotesHandler(&mockQuotes{err: fmt.Errorf("%w: s3", service.ErrBackendUnavailable)})
	rec = httptest.NewRecorder()
	failing.ServeHTTP(rec, withCustomer(httptest.NewRequest(http.MethodPost, "/api/quotes", strings.NewReader(body))))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("статус %d, ожидался 500", rec.Code)
	}
	if _, msg := errorCode(t, rec); msg != createQuoteFailedMessage {
		t.Errorf("message = %q", msg)
	}
}

func TestGetQuoteHandler(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"найдена", nil, http.StatusOK},
		{"не найдена", service.ErrNotFound, http.StatusNotFound},
		{"чужая", service.ErrForbidden, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quotes := &mockQuotes{quote: &model.Quote{ID: testQuoteID}, err: tt.err}
			router := newQuotesHandler(quotes)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, withCustomer(httptest.NewRequest(http.MethodGet, "/api/quotes/"+testQuoteID, nil)))

			if rec.Code != tt.wantCode {
				t.Errorf("статус %d, ожидался %d", rec.Code, tt.wantCode)
			}
			if quotes.gotQuoteID != testQuoteID {
				t.Errorf("quoteID = %q", quotes.gotQuoteID)
			}
		})
	}
}

func TestListQuoteHistoryHandler(t *testing.T) {
	quotes := &mockQuotes{history: []*model.StatusHistoryEntry{
		{ID: 1, QuoteID: testQuoteID, Status: lifecycle.StatusRequested},
		{ID: 2, QuoteID: testQuoteID, Status: lifecycle.StatusProvided},
	}}
	router := newQuotesHandler(quotes)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, withCustomer(httptest.NewRequest(http.MethodGet, "/api/quotes/"+testQuoteID+"/history", nil)))

	if rec.Code != http.StatusOK {
		t.Fatalf("статус %d", rec.Code)
	}
	var resp historyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Items) != 2 || resp.Items[1].Status != lifecycle.StatusProvided {
		t.Errorf("items = %+v", resp.Items)
	}

	// Пустой список — пустой массив, а не null
	empty := newQuotesHandler(&mockQuotes{})
	rec = httptest.NewRecorder()
	empty.ServeHTTP(rec, withCustomer(httptest.NewRequest(http.MethodGet, "/api/quotes/"+testQuoteID+"/files", nil)))
	if !strings.Contains(rec.Body.String(), `"items":[]`) {
		t.Errorf("тело = %s", rec.Body.String())
	}
}

func TestGetQuoteFileDownloadURLHandler(t *testing.T) {
	expires := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	quotes := &mockQuotes{url: "https://s3.local/quotes/private/uploads/a?sig", expires: expires}
	router := newQuotesHandler(quotes)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, withCustomer(httptest.NewRequest(http.MethodGet,
		"/api/quotes/"+testQuoteID+"/files/f-1/download-url", nil)))

	if rec.Code != http.StatusOK {
		t.Fatalf("статус %d", rec.Code)
	}
	var resp downloadURLResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.URL != quotes.url || !resp.ExpiresAt.Equal(expires) {
		t.Errorf("ответ = %+v", resp)
	}
	if quotes.gotFileID != "f-1" {
		t.Errorf("fileID = %q", quotes.gotFileID)
	}
}

func TestUpdateQuoteStatusHandler(t *testing.T) {
	t.Run("успех, регистр не важен", func(t *testing.T) {
		quotes := &mockQuotes{quote: &model.Quote{ID: testQuoteID, Status: lifecycle.StatusInProduction}}
		router := newQuotesHandler(quotes)

		body := `{"status":"IN_PRODUCTION","notes":"запуск партии"}`
		req := withAdmin(httptest.NewRequest(http.MethodPut, "/api/admin/quotes/"+testQuoteID+"/status", strings.NewReader(body)))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("статус %d: %s", rec.Code, rec.Body.String())
		}
		if quotes.gotTarget != lifecycle.StatusInProduction || quotes.gotNotes != "запуск партии" {
			t.Errorf("target=%q notes=%q", quotes.gotTarget, quotes.gotNotes)
		}
		if !quotes.gotPrincipal.IsAdmin {
			t.Error("ожидался администратор")
		}
	})

	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"неизвестный статус", `{"status":"archived"}`, nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"без статуса", `{"notes":"x"}`, nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{
			"откат",
			`{"status":"requested"}`,
			fmt.Errorf("%w: %w", service.ErrInvalidTransition, &lifecycle.TransitionError{Code: lifecycle.CodeInvalidTransition, Message: "откат"}),
			http.StatusConflict, "INVALID_TRANSITION",
		},
		{"нет заявки", `{"status":"shipped"}`, service.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"не администратор", `{"status":"shipped"}`, service.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newQuotesHandler(&mockQuotes{err: tt.err})
			req := withAdmin(httptest.NewRequest(http.MethodPut, "/api/admin/quotes/"+testQuoteID+"/status", strings.NewReader(tt.body)))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("статус %d, ожидался %d", rec.Code, tt.wantCode)
			}
			if code, _ := errorCode(t, rec); code != tt.wantErr {
				t.Errorf("code = %q, ожидался %q", code, tt.wantErr)
			}
		})
	}
}

func TestUpdateQuotePriceHandler(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantPrice model.Money
	}{
		{"число", `{"finalPrice":1250.5}`, http.StatusOK, 125050},
		{"строка", `{"finalPrice":"99.99"}`, http.StatusOK, 9999},
		{"null", `{"finalPrice":null}`, http.StatusBadRequest, 0},
		{"без поля", `{}`, http.StatusBadRequest, 0},
		{"отрицательная", `{"finalPrice":-1}`, http.StatusBadRequest, 0},
		{"три знака", `{"finalPrice":"1.005"}`, http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quotes := &mockQuotes{quote: &model.Quote{ID: testQuoteID}}
			router := newQuotesHandler(quotes)

			req := withAdmin(httptest.NewRequest(http.MethodPut, "/api/admin/quotes/"+testQuoteID+"/price", strings.NewReader(tt.body)))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("статус %d, ожидался %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode == http.StatusOK && quotes.gotPrice != tt.wantPrice {
				t.Errorf("price = %d, ожидалось %d", quotes.gotPrice, tt.wantPrice)
			}
		})
	}
}
