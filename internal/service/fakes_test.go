package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/tallypay/authcore/internal/database"
	"github.com/tallypay/authcore/internal/model"
	"github.com/tallypay/authcore/internal/notify"
	"github.com/tallypay/authcore/internal/repository"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeTransactor mimics a rolled back transaction: rows the repos gained
// while fn ran are dropped again when fn fails.
type fakeTransactor struct {
	companies *fakeCompanyRepo
	roles     *fakeRoleRepo
	users     *fakeUserRepo
}

func (t *fakeTransactor) WithTx(ctx context.Context, fn database.TxFunc) error {
	companies := snapshot(&t.companies.mu, t.companies.companies)
	roles := snapshot(&t.roles.mu, t.roles.roles)
	users := snapshot(&t.users.mu, t.users.users)
	if err := fn(nil); err != nil {
		rollback(&t.companies.mu, t.companies.companies, companies)
		rollback(&t.roles.mu, t.roles.roles, roles)
		rollback(&t.users.mu, t.users.users, users)
		return err
	}
	return nil
}

func snapshot[T any](mu *sync.Mutex, rows map[string]*T) map[string]bool {
	mu.Lock()
	defer mu.Unlock()
	ids := make(map[string]bool, len(rows))
	for id := range rows {
		ids[id] = true
	}
	return ids
}

func rollback[T any](mu *sync.Mutex, rows map[string]*T, keep map[string]bool) {
	mu.Lock()
	defer mu.Unlock()
	for id := range rows {
		if !keep[id] {
			delete(rows, id)
		}
	}
}

type fakeCompanyRepo struct {
	mu        sync.Mutex
	companies map[string]*model.Company
	takenIDs  map[string]bool
	createErr error
}

func newFakeCompanyRepo() *fakeCompanyRepo {
	return &fakeCompanyRepo{companies: map[string]*model.Company{}, takenIDs: map[string]bool{}}
}

func (r *fakeCompanyRepo) FindByID(_ context.Context, id string) (*model.Company, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.companies[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *fakeCompanyRepo) match(pred func(*model.Company) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.companies {
		if pred(c) {
			return true
		}
	}
	return false
}

func (r *fakeCompanyRepo) ExistsByIdentifier(_ context.Context, identifier string) (bool, error) {
	r.mu.Lock()
	taken := r.takenIDs[identifier]
	r.mu.Unlock()
	return taken || r.match(func(c *model.Company) bool { return c.Identifier == identifier }), nil
}

func (r *fakeCompanyRepo) ExistsByName(_ context.Context, name string) (bool, error) {
	return r.match(func(c *model.Company) bool { return strings.EqualFold(c.Name, name) }), nil
}

func (r *fakeCompanyRepo) ExistsByPhone(_ context.Context, phone string) (bool, error) {
	return r.match(func(c *model.Company) bool { return c.PhoneNumber == phone }), nil
}

func (r *fakeCompanyRepo) Create(_ context.Context, p model.CreateCompanyParams) (*model.Company, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	now := time.Now()
	c := &model.Company{
		ID:          uuid.NewString(),
		Name:        p.Name,
		ShortName:   p.ShortName,
		Identifier:  p.Identifier,
		CountryCode: p.CountryCode,
		PhoneNumber: p.PhoneNumber,
		OwnerEmail:  p.OwnerEmail,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.companies[c.ID] = c
	cp := *c
	return &cp, nil
}

func (r *fakeCompanyRepo) WithTx(*sqlx.Tx) repository.CompanyRepository { return r }

type fakeRoleRepo struct {
	mu    sync.Mutex
	roles map[string]*model.Role
}

func newFakeRoleRepo() *fakeRoleRepo {
	return &fakeRoleRepo{roles: map[string]*model.Role{}}
}

func (r *fakeRoleRepo) FindByID(_ context.Context, id string) (*model.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[id]
	if !ok {
		return nil, nil
	}
	cp := *role
	return &cp, nil
}

func (r *fakeRoleRepo) Create(_ context.Context, p model.CreateRoleParams) (*model.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	role := &model.Role{
		ID:          uuid.NewString(),
		CompanyID:   p.CompanyID,
		Name:        p.Name,
		Permissions: pq.StringArray(p.Permissions),
		IsDefault:   p.IsDefault,
		CreatedAt:   time.Now(),
	}
	r.roles[role.ID] = role
	cp := *role
	return &cp, nil
}

func (r *fakeRoleRepo) WithTx(*sqlx.Tx) repository.RoleRepository { return r }

type fakeUserRepo struct {
	mu        sync.Mutex
	users     map[string]*model.User
	createErr error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[string]*model.User{}}
}

func (r *fakeUserRepo) find(pred func(*model.User) bool) *model.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if pred(u) {
			cp := *u
			cp.BackupCodes = append(pq.StringArray(nil), u.BackupCodes...)
			return &cp
		}
	}
	return nil
}

func (r *fakeUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.ID == id }), nil
}

func (r *fakeUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return strings.EqualFold(u.Email, email) }), nil
}

func (r *fakeUserRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	u, _ := r.FindByEmail(ctx, email)
	return u != nil, nil
}

func (r *fakeUserRepo) ExistsByUsername(_ context.Context, username string) (bool, error) {
	return r.find(func(u *model.User) bool { return strings.EqualFold(u.Username, username) }) != nil, nil
}

func (r *fakeUserRepo) Create(_ context.Context, p model.CreateUserParams) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	now := time.Now()
	var secret *string
	if p.TwoFactorSecret != "" {
		s := p.TwoFactorSecret
		secret = &s
	}
	u := &model.User{
		ID:               uuid.NewString(),
		CompanyID:        p.CompanyID,
		RoleID:           p.RoleID,
		Username:         p.Username,
		Email:            p.Email,
		FirstName:        p.FirstName,
		LastName:         p.LastName,
		PasswordHash:     p.PasswordHash,
		TwoFactorEnabled: true,
		TwoFactorSecret:  secret,
		BackupCodes:      pq.StringArray(p.BackupCodes),
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	r.users[u.ID] = u
	cp := *u
	return &cp, nil
}

// put stores u as is, for tests that need a specific account shape.
func (r *fakeUserRepo) put(u *model.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	r.users[u.ID] = &cp
}

func (r *fakeUserRepo) LockByEmail(_ context.Context, email string, until time.Time) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			u.IsLocked = true
			t := until
			u.LockedUntil = &t
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeUserRepo) Unlock(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		u.IsLocked = false
		u.LockedUntil = nil
	}
	return nil
}

func (r *fakeUserRepo) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		t := at
		u.LastLoginAt = &t
	}
	return nil
}

func (r *fakeUserRepo) ConsumeBackupCode(_ context.Context, id, codeHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return false, nil
	}
	for i, h := range u.BackupCodes {
		if h == codeHash {
			u.BackupCodes = append(u.BackupCodes[:i:i], u.BackupCodes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeUserRepo) WithTx(*sqlx.Tx) repository.UserRepository { return r }

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.UserSession
	now      func() time.Time
}

func newFakeSessionRepo(now func() time.Time) *fakeSessionRepo {
	return &fakeSessionRepo{sessions: map[string]*model.UserSession{}, now: now}
}

func (r *fakeSessionRepo) Create(_ context.Context, p model.CreateUserSessionParams) (*model.UserSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &model.UserSession{
		ID:        uuid.NewString(),
		UserID:    p.UserID,
		TokenHash: p.TokenHash,
		ExpiresAt: p.ExpiresAt,
		CreatedAt: r.now(),
	}
	if p.IPAddress != "" {
		ip := p.IPAddress
		s.IPAddress = &ip
	}
	r.sessions[p.TokenHash] = s
	cp := *s
	return &cp, nil
}

func (r *fakeSessionRepo) FindByTokenHash(_ context.Context, hash string) (*model.UserSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[hash]
	if !ok || !s.ExpiresAt.After(r.now()) {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *fakeSessionRepo) Consume(_ context.Context, hash string) (*model.UserSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[hash]
	if !ok || !s.ExpiresAt.After(r.now()) {
		return nil, nil
	}
	delete(r.sessions, hash)
	return s, nil
}

func (r *fakeSessionRepo) DeleteByTokenHash(_ context.Context, hash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[hash]
	delete(r.sessions, hash)
	return ok, nil
}

func (r *fakeSessionRepo) DeleteByUserID(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for h, s := range r.sessions {
		if s.UserID == userID {
			delete(r.sessions, h)
			n++
		}
	}
	return n, nil
}

func (r *fakeSessionRepo) ListByUserID(_ context.Context, userID string) ([]model.UserSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.UserSession
	for _, s := range r.sessions {
		if s.UserID == userID && s.ExpiresAt.After(r.now()) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) DeleteExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for h, s := range r.sessions {
		if !s.ExpiresAt.After(r.now()) {
			delete(r.sessions, h)
			n++
		}
	}
	return n, nil
}

func (r *fakeSessionRepo) WithTx(*sqlx.Tx) repository.UserSessionRepository { return r }

func (r *fakeSessionRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

type fakeAttemptRepo struct {
	mu       sync.Mutex
	attempts []model.FailedLoginAttempt
	now      func() time.Time
}

func newFakeAttemptRepo(now func() time.Time) *fakeAttemptRepo {
	return &fakeAttemptRepo{now: now}
}

func (r *fakeAttemptRepo) Create(_ context.Context, p model.CreateFailedAttemptParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, model.FailedLoginAttempt{
		ID:        uuid.NewString(),
		Email:     p.Email,
		CompanyID: p.CompanyID,
		CreatedAt: r.now(),
	})
	return nil
}

func (r *fakeAttemptRepo) CountSince(_ context.Context, email string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.attempts {
		if a.Email == email && !a.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *fakeAttemptRepo) DeleteByEmail(_ context.Context, email string) (int64, error) {
	return r.deleteWhere(func(a model.FailedLoginAttempt) bool { return a.Email == email }), nil
}

func (r *fakeAttemptRepo) DeleteOlderThan(_ context.Context, before time.Time) (int64, error) {
	return r.deleteWhere(func(a model.FailedLoginAttempt) bool { return a.CreatedAt.Before(before) }), nil
}

func (r *fakeAttemptRepo) deleteWhere(pred func(model.FailedLoginAttempt) bool) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.attempts[:0]
	var n int64
	for _, a := range r.attempts {
		if pred(a) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	r.attempts = kept
	return n
}

func (r *fakeAttemptRepo) WithTx(*sqlx.Tx) repository.FailedAttemptRepository { return r }

func (r *fakeAttemptRepo) count(email string) int {
	n, _ := r.CountSince(context.Background(), email, time.Time{})
	return n
}

type fakeActivityRepo struct {
	mu      sync.Mutex
	entries []model.ActivityLog
}

func (r *fakeActivityRepo) Create(_ context.Context, p model.CreateActivityParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, model.ActivityLog{
		ID:        uuid.NewString(),
		UserID:    p.UserID,
		CompanyID: p.CompanyID,
		Action:    p.Action,
		CreatedAt: time.Now().Add(time.Duration(len(r.entries)) * time.Millisecond),
	})
	return nil
}

func (r *fakeActivityRepo) ListByUserID(_ context.Context, userID string, limit, offset int) ([]model.ActivityLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.ActivityLog
	for _, e := range r.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeActivityRepo) CountByUserID(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (r *fakeActivityRepo) WithTx(*sqlx.Tx) repository.ActivityRepository { return r }

func (r *fakeActivityRepo) actions(userID string) []model.ActivityAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.ActivityAction
	for _, e := range r.entries {
		if e.UserID == userID {
			out = append(out, e.Action)
		}
	}
	return out
}

// captureNotifier records messages and fails with err when set.
type captureNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (n *captureNotifier) Send(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *captureNotifier) last(kind notify.Kind) (notify.Message, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].Kind == kind {
			return n.sent[i], true
		}
	}
	return notify.Message{}, false
}
