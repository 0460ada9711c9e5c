package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/quote-module/internal/blobstore"
	"github.com/bigkaa/goartstore/quote-module/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/quote-module/internal/domain/model"
	"github.com/bigkaa/goartstore/quote-module/internal/repository"
)

// testLogger — логгер для тестов (только ошибки).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- Mock хранилища объектов ---

const (
	memStoreHost   = "s3.test"
	memStoreBucket = "quotes"
)

// memObject — объект в памяти.
type memObject struct {
	data        []byte
	contentType string
	meta        map[string]string
}

// memStore — ObjectStore в памяти.
type memStore struct {
	mu      sync.Mutex
	objects map[string]*memObject

	// Ошибки для отдельных операций (nil — без ошибки)
	statErr    error
	openErr    error
	replaceErr error
	presignErr error
	// bodyErr — ошибка чтения тела после первых байт
	bodyErr error

	closed int
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string]*memObject)}
}

func (s *memStore) put(key, data, contentType string, meta map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = &memObject{data: []byte(data), contentType: contentType, meta: meta}
}

func (s *memStore) meta(key string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if obj, ok := s.objects[key]; ok {
		return obj.meta
	}
	return nil
}

func (s *memStore) closedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *memStore) PresignPut(_ context.Context, key string, ttl time.Duration) (string, error) {
	if s.presignErr != nil {
		return "", s.presignErr
	}
	return "http://" + memStoreHost + "/" + memStoreBucket + "/" + key +
		"?X-Amz-Expires=" + strconv.Itoa(int(ttl.Seconds())) + "&X-Amz-Signature=sig", nil
}

func (s *memStore) PresignGet(_ context.Context, key string, _ time.Duration, filename string) (string, error) {
	if s.presignErr != nil {
		return "", s.presignErr
	}
	u := "http://" + memStoreHost + "/" + memStoreBucket + "/" + key + "?X-Amz-Signature=sig"
	if filename != "" {
		u += "&response-content-disposition=" + url.QueryEscape(blobstore.ContentDisposition(filename))
	}
	return u, nil
}

func (s *memStore) info(key string) (*blobstore.ObjectInfo, *memObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, nil, blobstore.ErrObjectNotFound
	}
	meta := make(map[string]string, len(obj.meta))
	for k, v := range obj.meta {
		meta[k] = v
	}
	return &blobstore.ObjectInfo{
		Key:           key,
		ContentType:   obj.contentType,
		ContentLength: int64(len(obj.data)),
		ETag:          `"etag"`,
		LastModified:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Metadata:      meta,
	}, obj, nil
}

func (s *memStore) Stat(_ context.Context, key string) (*blobstore.ObjectInfo, error) {
	if s.statErr != nil {
		return nil, s.statErr
	}
	info, _, err := s.info(key)
	return info, err
}

func (s *memStore) Open(_ context.Context, key string) (*blobstore.Object, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	info, obj, err := s.info(key)
	if err != nil {
		return nil, err
	}
	var r io.Reader = bytes.NewReader(obj.data)
	if s.bodyErr != nil {
		r = io.MultiReader(bytes.NewReader(obj.data[:1]), &errReader{err: s.bodyErr})
	}
	return &blobstore.Object{ObjectInfo: *info, Body: &trackedBody{Reader: r, store: s}}, nil
}

func (s *memStore) ReplaceMetadata(_ context.Context, key string, contentType string, meta map[string]string) error {
	if s.replaceErr != nil {
		return s.replaceErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return blobstore.ErrObjectNotFound
	}
	obj.meta = meta
	obj.contentType = contentType
	return nil
}

func (s *memStore) KeyFromURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host != memStoreHost {
		return "", false
	}
	key, ok := strings.CutPrefix(u.Path, "/"+memStoreBucket+"/")
	if !ok || key == "" {
		return "", false
	}
	return key, true
}

// trackedBody считает закрытия тела объекта.
type trackedBody struct {
	io.Reader
	store *memStore
}

func (b *trackedBody) Close() error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	b.store.closed++
	return nil
}

type errReader struct{ err error }

func (r *errReader) Read([]byte) (int, error) { return 0, r.err }

// --- Mock проверки членства ---

// mockMembership — acl.MembershipChecker с функцией-заглушкой.
type mockMembership struct {
	isMemberFn func(ctx context.Context, groupID string, p model.Principal) (bool, error)
}

func (m *mockMembership) IsMember(ctx context.Context, groupID string, p model.Principal) (bool, error) {
	return m.isMemberFn(ctx, groupID, p)
}

// --- Mock репозитория участников групп ---

type mockGroupMemberRepo struct {
	mu      sync.Mutex
	members map[string]map[string]bool
	calls   int
	err     error
	// afterRead вызывается один раз после чтения членства, до возврата результата
	afterRead func()
}

func newMockGroupMemberRepo() *mockGroupMemberRepo {
	return &mockGroupMemberRepo{members: make(map[string]map[string]bool)}
}

func (r *mockGroupMemberRepo) Add(_ context.Context, m *repository.GroupMember) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if r.members[m.GroupID] == nil {
		r.members[m.GroupID] = make(map[string]bool)
	}
	r.members[m.GroupID][m.UserID] = true
	m.CreatedAt = time.Now()
	return nil
}

func (r *mockGroupMemberRepo) Remove(_ context.Context, groupID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if !r.members[groupID][userID] {
		return repository.ErrNotFound
	}
	delete(r.members[groupID], userID)
	return nil
}

func (r *mockGroupMemberRepo) IsMember(_ context.Context, groupID, userID string) (bool, error) {
	r.mu.Lock()
	r.calls++
	if r.err != nil {
		r.mu.Unlock()
		return false, r.err
	}
	member := r.members[groupID][userID]
	hook := r.afterRead
	r.afterRead = nil
	r.mu.Unlock()

	if hook != nil {
		hook()
	}
	return member, nil
}

func (r *mockGroupMemberRepo) ListMembers(_ context.Context, groupID string) ([]*repository.GroupMember, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	ids := make([]string, 0, len(r.members[groupID]))
	for id := range r.members[groupID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	result := make([]*repository.GroupMember, 0, len(ids))
	for _, id := range ids {
		result = append(result, &repository.GroupMember{GroupID: groupID, UserID: id})
	}
	return result, nil
}

func (r *mockGroupMemberRepo) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// --- In-memory БД заявок ---

// memQuoteData — состояние БД заявок.
type memQuoteData struct {
	quotes  map[string]model.Quote
	history []model.StatusHistoryEntry
	files   []model.QuoteFile
	seq     int64
}

func (d *memQuoteData) clone() *memQuoteData {
	c := &memQuoteData{
		quotes:  make(map[string]model.Quote, len(d.quotes)),
		history: append([]model.StatusHistoryEntry(nil), d.history...),
		files:   append([]model.QuoteFile(nil), d.files...),
		seq:     d.seq,
	}
	for k, v := range d.quotes {
		c.quotes[k] = v
	}
	return c
}

// memQuoteDB — QuoteRepository + QuoteTx в памяти.
// Транзакции выполняются последовательно (аналог блокировки строки)
// над копией состояния; при ошибке копия отбрасывается.
type memQuoteDB struct {
	txMu   sync.Mutex
	dataMu sync.Mutex
	data   *memQuoteData

	// failAppend — ошибка AppendHistory (проверка отката)
	failAppend error
}

func newMemQuoteDB() *memQuoteDB {
	return &memQuoteDB{data: &memQuoteData{quotes: make(map[string]model.Quote)}}
}

// Repo возвращает репозиторий вне транзакции.
func (db *memQuoteDB) Repo() repository.QuoteRepository {
	return &memQuoteRepo{db: db, with: func(fn func(d *memQuoteData)) {
		db.dataMu.Lock()
		defer db.dataMu.Unlock()
		fn(db.data)
	}}
}

func (db *memQuoteDB) InTx(ctx context.Context, fn func(repo repository.QuoteRepository) error) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	db.dataMu.Lock()
	working := db.data.clone()
	db.dataMu.Unlock()

	repo := &memQuoteRepo{db: db, with: func(f func(d *memQuoteData)) { f(working) }}
	if err := fn(repo); err != nil {
		return err
	}

	db.dataMu.Lock()
	db.data = working
	db.dataMu.Unlock()
	return nil
}

// seed добавляет заявку с полной историей до статуса status.
func (db *memQuoteDB) seed(id, userID string, status lifecycle.Status) {
	db.dataMu.Lock()
	defer db.dataMu.Unlock()
	now := time.Now()
	db.data.quotes[id] = model.Quote{ID: id, UserID: userID, Service: "cnc", Status: status, CreatedAt: now, UpdatedAt: now}
	for _, st := range lifecycle.All() {
		if st.Index() > status.Index() {
			break
		}
		db.data.seq++
		db.data.history = append(db.data.history, model.StatusHistoryEntry{
			ID: db.data.seq, QuoteID: id, Status: st, Actor: "seed", CreatedAt: now,
		})
	}
}

func (db *memQuoteDB) quote(id string) (model.Quote, bool) {
	db.dataMu.Lock()
	defer db.dataMu.Unlock()
	q, ok := db.data.quotes[id]
	return q, ok
}

func (db *memQuoteDB) historyOf(id string) []model.StatusHistoryEntry {
	db.dataMu.Lock()
	defer db.dataMu.Unlock()
	var result []model.StatusHistoryEntry
	for _, e := range db.data.history {
		if e.QuoteID == id {
			result = append(result, e)
		}
	}
	return result
}

// memQuoteRepo — QuoteRepository над memQuoteData.
type memQuoteRepo struct {
	db   *memQuoteDB
	with func(fn func(d *memQuoteData))
}

func (r *memQuoteRepo) Create(_ context.Context, q *model.Quote) error {
	var err error
	r.with(func(d *memQuoteData) {
		if _, ok := d.quotes[q.ID]; ok {
			err = repository.ErrConflict
			return
		}
		now := time.Now()
		q.CreatedAt, q.UpdatedAt = now, now
		d.quotes[q.ID] = *q
	})
	return err
}

func (r *memQuoteRepo) GetByID(_ context.Context, id string) (*model.Quote, error) {
	var result *model.Quote
	r.with(func(d *memQuoteData) {
		if q, ok := d.quotes[id]; ok {
			result = &q
		}
	})
	if result == nil {
		return nil, repository.ErrNotFound
	}
	return result, nil
}

func (r *memQuoteRepo) GetForUpdate(ctx context.Context, id string) (*model.Quote, error) {
	return r.GetByID(ctx, id)
}

func (r *memQuoteRepo) update(id string, fn func(q *model.Quote)) (*model.Quote, error) {
	var result *model.Quote
	r.with(func(d *memQuoteData) {
		q, ok := d.quotes[id]
		if !ok {
			return
		}
		fn(&q)
		q.UpdatedAt = time.Now()
		d.quotes[id] = q
		result = &q
	})
	if result == nil {
		return nil, repository.ErrNotFound
	}
	return result, nil
}

func (r *memQuoteRepo) UpdateStatus(_ context.Context, id string, status lifecycle.Status) (*model.Quote, error) {
	return r.update(id, func(q *model.Quote) { q.Status = status })
}

func (r *memQuoteRepo) SetFinalPrice(_ context.Context, id string, price model.Money) (*model.Quote, error) {
	return r.update(id, func(q *model.Quote) { q.FinalPrice = &price })
}

func (r *memQuoteRepo) AppendHistory(_ context.Context, e *model.StatusHistoryEntry) error {
	if r.db.failAppend != nil {
		return r.db.failAppend
	}
	r.with(func(d *memQuoteData) {
		d.seq++
		e.ID = d.seq
		e.CreatedAt = time.Now()
		d.history = append(d.history, *e)
	})
	return nil
}

func (r *memQuoteRepo) ListHistory(_ context.Context, quoteID string) ([]*model.StatusHistoryEntry, error) {
	var result []*model.StatusHistoryEntry
	r.with(func(d *memQuoteData) {
		for _, e := range d.history {
			if e.QuoteID == quoteID {
				e := e
				result = append(result, &e)
			}
		}
	})
	return result, nil
}

func (r *memQuoteRepo) CreateFile(_ context.Context, f *model.QuoteFile) error {
	r.with(func(d *memQuoteData) {
		f.CreatedAt = time.Now()
		d.files = append(d.files, *f)
	})
	return nil
}

func (r *memQuoteRepo) ListFiles(_ context.Context, quoteID string) ([]*model.QuoteFile, error) {
	var result []*model.QuoteFile
	r.with(func(d *memQuoteData) {
		for _, f := range d.files {
			if f.QuoteID == quoteID {
				f := f
				result = append(result, &f)
			}
		}
	})
	return result, nil
}

func (r *memQuoteRepo) GetFile(_ context.Context, quoteID, fileID string) (*model.QuoteFile, error) {
	var result *model.QuoteFile
	r.with(func(d *memQuoteData) {
		for _, f := range d.files {
			if f.QuoteID == quoteID && f.ID == fileID {
				f := f
				result = &f
			}
		}
	})
	if result == nil {
		return nil, repository.ErrNotFound
	}
	return result, nil
}

// --- Mock прикрепления политик ---

type mockAttacher struct {
	attachFn      func(ctx context.Context, uploadURL string, owner model.Principal, visibility model.Visibility, rules []model.AccessRule) (string, error)
	downloadURLFn func(ctx context.Context, objectPath string, requester model.Principal, ttl time.Duration, filenameHint string) (string, error)
}

func (m *mockAttacher) AttachPolicyAfterUpload(ctx context.Context, uploadURL string, owner model.Principal,
	visibility model.Visibility, rules []model.AccessRule) (string, error) {
	if m.attachFn == nil {
		return "", errors.New("attachFn не задан")
	}
	return m.attachFn(ctx, uploadURL, owner, visibility, rules)
}

func (m *mockAttacher) ResolveDownloadURL(ctx context.Context, objectPath string, requester model.Principal,
	ttl time.Duration, filenameHint string) (string, error) {
	if m.downloadURLFn == nil {
		return "", errors.New("downloadURLFn не задан")
	}
	return m.downloadURLFn(ctx, objectPath, requester, ttl, filenameHint)
}
