package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/quote-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/quote-module/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/quote-module/internal/domain/model"
	"github.com/bigkaa/goartstore/quote-module/internal/domain/rbac"
	"github.com/bigkaa/goartstore/quote-module/internal/repository"
	"github.com/bigkaa/goartstore/quote-module/internal/service"
)

// --- mockObjects ---

type mockObjects struct {
	uploadTarget *service.UploadTarget
	uploadErr    error

	attachPath string
	attachErr  error
	attachArgs struct {
		uploadURL  string
		owner      model.Principal
		visibility model.Visibility
		rules      []model.AccessRule
	}

	streamBody string
	streamErr  error
	streamReq  service.StreamRequest

	publicBody string
	publicErr  error
	publicPath string
}

func (m *mockObjects) RequestUpload(_ context.Context, _ model.Principal) (*service.UploadTarget, error) {
	return m.uploadTarget, m.uploadErr
}

func (m *mockObjects) AttachPolicyAfterUpload(
	_ context.Context, uploadURL string, owner model.Principal,
	visibility model.Visibility, rules []model.AccessRule,
) (string, error) {
	m.attachArgs.uploadURL = uploadURL
	m.attachArgs.owner = owner
	m.attachArgs.visibility = visibility
	m.attachArgs.rules = rules
	return m.attachPath, m.attachErr
}

func (m *mockObjects) ResolveAndStream(_ context.Context, w http.ResponseWriter, req service.StreamRequest) error {
	m.streamReq = req
	if m.streamErr != nil {
		return m.streamErr
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(m.streamBody))
	return nil
}

func (m *mockObjects) ResolvePublic(_ context.Context, w http.ResponseWriter, filePath string, _ time.Duration) error {
	m.publicPath = filePath
	if m.publicErr != nil {
		return m.publicErr
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(m.publicBody))
	return nil
}

// --- mockQuotes ---

type mockQuotes struct {
	quote   *model.Quote
	history []*model.StatusHistoryEntry
	files   []*model.QuoteFile
	url     string
	expires time.Time
	err     error

	createdWith  service.CreateQuoteInput
	gotQuoteID   string
	gotFileID    string
	gotTarget    lifecycle.Status
	gotNotes     string
	gotPrice     model.Money
	gotPrincipal model.Principal
}

func (m *mockQuotes) CreateQuote(_ context.Context, p model.Principal, in service.CreateQuoteInput) (*model.Quote, error) {
	m.gotPrincipal = p
	m.createdWith = in
	return m.quote, m.err
}

func (m *mockQuotes) GetQuote(_ context.Context, p model.Principal, id string) (*model.Quote, error) {
	m.gotPrincipal, m.gotQuoteID = p, id
	return m.quote, m.err
}

func (m *mockQuotes) ListHistory(_ context.Context, p model.Principal, id string) ([]*model.StatusHistoryEntry, error) {
	m.gotPrincipal, m.gotQuoteID = p, id
	return m.history, m.err
}

func (m *mockQuotes) ListFiles(_ context.Context, p model.Principal, id string) ([]*model.QuoteFile, error) {
	m.gotPrincipal, m.gotQuoteID = p, id
	return m.files, m.err
}

func (m *mockQuotes) FileDownloadURL(_ context.Context, p model.Principal, quoteID, fileID string) (string, time.Time, error) {
	m.gotPrincipal, m.gotQuoteID, m.gotFileID = p, quoteID, fileID
	return m.url, m.expires, m.err
}

func (m *mockQuotes) TransitionTo(_ context.Context, p model.Principal, id string, target lifecycle.Status, notes string) (*model.Quote, error) {
	m.gotPrincipal, m.gotQuoteID, m.gotTarget, m.gotNotes = p, id, target, notes
	return m.quote, m.err
}

func (m *mockQuotes) SetFinalPrice(_ context.Context, p model.Principal, id string, amount model.Money) (*model.Quote, error) {
	m.gotPrincipal, m.gotQuoteID, m.gotPrice = p, id, amount
	return m.quote, m.err
}

// --- mockGroups ---

type mockGroups struct {
	member  *repository.GroupMember
	members []*repository.GroupMember
	err     error

	gotGroup string
	gotUser  string
}

func (m *mockGroups) AddMember(_ context.Context, _ model.Principal, groupID, userID string) (*repository.GroupMember, error) {
	m.gotGroup, m.gotUser = groupID, userID
	return m.member, m.err
}

func (m *mockGroups) RemoveMember(_ context.Context, _ model.Principal, groupID, userID string) error {
	m.gotGroup, m.gotUser = groupID, userID
	return m.err
}

func (m *mockGroups) ListMembers(_ context.Context, _ model.Principal, groupID string) ([]*repository.GroupMember, error) {
	m.gotGroup = groupID
	return m.members, m.err
}

// --- helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testRouter регистрирует обработчики так же, как server.NewRouter, но без аутентификации.
func testRouter(h *APIHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/objects/*", h.GetObject)
	r.Get("/public-objects/*", h.GetPublicObject)
	r.Post("/api/objects/upload", h.RequestUpload)
	r.Put("/api/objects/acl", h.AttachPolicy)
	r.Post("/api/quotes", h.CreateQuote)
	r.Get("/api/quotes/{id}", h.GetQuote)
	r.Get("/api/quotes/{id}/history", h.ListQuoteHistory)
	r.Get("/api/quotes/{id}/files", h.ListQuoteFiles)
	r.Get("/api/quotes/{id}/files/{fileID}/download-url", h.GetQuoteFileDownloadURL)
	r.Put("/api/admin/quotes/{id}/status", h.UpdateQuoteStatus)
	r.Put("/api/admin/quotes/{id}/price", h.UpdateQuotePrice)
	r.Get("/api/admin/access-groups/{groupID}/members", h.ListGroupMembers)
	r.Put("/api/admin/access-groups/{groupID}/members/{userID}", h.AddGroupMember)
	r.Delete("/api/admin/access-groups/{groupID}/members/{userID}", h.RemoveGroupMember)
	return r
}

// withCustomer и withAdmin помещают субъекта в контекст запроса.
func withCustomer(r *http.Request) *http.Request {
	return r.WithContext(middleware.WithClaims(r.Context(), &middleware.AuthClaims{
		Subject: "owner-1", Email: "owner@client.com", EffectiveRole: rbac.RoleCustomer,
	}))
}

func withAdmin(r *http.Request) *http.Request {
	return r.WithContext(middleware.WithClaims(r.Context(), &middleware.AuthClaims{
		Subject: "admin-1", EffectiveRole: rbac.RoleAdmin,
	}))
}
