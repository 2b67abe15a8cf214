// Package session はログイン状態を管理するセッションマネージャーを提供する。
// セッションはメモリと永続ストアの両方に保持され、他タブの変更にも追従する。
package session

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/zyrae/internal/broadcast"
	"github.com/hitoshi/zyrae/internal/metrics"
	"github.com/hitoshi/zyrae/internal/model"
	"github.com/hitoshi/zyrae/internal/repository"
	"github.com/hitoshi/zyrae/internal/store"
)

// State はセッションの状態。
type State int

const (
	// StateInitializing は永続ストアの読み込み前の状態。
	StateInitializing State = iota
	// StateAnonymous は未ログイン状態。
	StateAnonymous
	// StateAuthenticated はログイン済み状態。
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Forgetter はログアウト時にメモリ上の状態を破棄するコンポーネント。
// カートとウィッシュリストのマネージャーが実装する。
type Forgetter interface {
	Reset()
}

// Change はUI購読者へ通知するセッションの変更。
type Change struct {
	User  *model.User
	State State
}

// changeBuffer は購読者ごとの通知バッファサイズ。
const changeBuffer = 8

// resyncTimeout は取りこぼし後にストアから読み直す際のタイムアウト。
const resyncTimeout = 5 * time.Second

// Manager はセッションマネージャー。
type Manager struct {
	users         repository.UserRepository
	store         *store.Adapter
	metrics       metrics.MetricsCollector
	logger        *slog.Logger
	hashPasswords bool
	now           func() time.Time

	initOnce sync.Once
	initErr  error
	ready    chan struct{}
	watch    *broadcast.Subscription
	done     chan struct{}

	mu         sync.RWMutex
	state      State
	user       *model.User
	loading    bool
	errMsg     string
	forgetters []Forgetter
	subs       map[int]chan Change
	nextSub    int
}

// Option はManagerの設定を変更する。
type Option func(*Manager)

// WithHashPasswords は新規登録時にパスワードをbcryptでハッシュ化して保存する。
func WithHashPasswords(enabled bool) Option {
	return func(m *Manager) { m.hashPasswords = enabled }
}

// WithMetrics はメトリクスコレクターを設定する。
func WithMetrics(mc metrics.MetricsCollector) Option {
	return func(m *Manager) { m.metrics = mc }
}

// WithLogger はロガーを設定する。
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager はManagerの新しいインスタンスを生成する。
// 状態はInitで永続ストアを読み込むまでStateInitializingのまま。
func NewManager(users repository.UserRepository, st *store.Adapter, opts ...Option) *Manager {
	m := &Manager{
		users:   users,
		store:   st,
		metrics: metrics.Nop{},
		logger:  slog.Default(),
		now:     time.Now,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		state:   StateInitializing,
		subs:    make(map[int]chan Change),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddForgetter はログアウト時にリセットするコンポーネントを登録する。
func (m *Manager) AddForgetter(fs ...Forgetter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forgetters = append(m.forgetters, fs...)
}

// Init は永続ストアからセッションを読み込み、他タブの変更の購読を開始する。
// プロセスの生存期間中に一度だけ実行され、2回目以降は初回の結果を返す。
// 破損したセッションは削除してAnonymousとして扱う。
func (m *Manager) Init(ctx context.Context) error {
	m.initOnce.Do(func() {
		m.watch = m.store.Watch()
		go m.listen()

		m.initErr = m.initialize(ctx)
		close(m.ready)
	})
	return m.initErr
}

func (m *Manager) initialize(ctx context.Context) error {
	if err := m.store.Remove(ctx, store.KeyAuthLogout); err != nil {
		m.logger.Warn("failed to clear logout flag", slog.String("error", err.Error()))
	}

	var u model.User
	ok, err := m.store.GetJSON(ctx, store.KeyUser, &u)
	switch {
	case errors.Is(err, store.ErrCorrupt):
		m.logger.Warn("stored session is corrupt, purging", slog.String("error", err.Error()))
		if rmErr := m.store.Remove(ctx, store.KeyUser); rmErr != nil {
			m.logger.Error("failed to purge corrupt session", slog.String("error", rmErr.Error()))
		}
		m.commit(nil)
		return nil
	case err != nil:
		m.logger.Error("failed to read stored session", slog.String("error", err.Error()))
		m.commit(nil)
		return model.NewStorageFailedError(err)
	case !ok:
		m.logger.Info("no stored session found")
		m.commit(nil)
		return nil
	}

	m.logger.Info("session restored from storage", slog.String("user_id", u.ID.String()))
	m.commit(&u)
	return nil
}

// Ready は初期化完了時に閉じられるチャネルを返す。
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// Close は他タブの変更の購読を停止する。
func (m *Manager) Close() {
	if m.watch == nil {
		return
	}
	m.watch.Close()
	<-m.done
}

// Login はメールアドレスとパスワードが完全一致するユーザーでログインする。
// 停止中のアカウントでもセッションは確立され、ユーザーとACCOUNT_BLOCKEDエラーの両方を返す。
// 呼び出し側はエラーを確認してから画面遷移を許可すること。
func (m *Manager) Login(ctx context.Context, email, password string) (*model.User, error) {
	m.begin()
	defer m.end()

	users, err := m.users.List(ctx)
	if err != nil {
		m.logger.Error("login failed", slog.String("error", err.Error()))
		return nil, m.fail("login", model.NewRemoteUnavailableError("Login failed. Please try again.", err))
	}

	var found *model.User
	for i := range users {
		if users[i].Email == email && passwordMatches(users[i].Password, password) {
			found = &users[i]
			break
		}
	}
	if found == nil {
		return nil, m.fail("login", model.NewInvalidCredentialsError())
	}

	// 永続化に成功してからメモリを更新する
	if err := m.store.SetJSON(ctx, store.KeyUser, found); err != nil {
		m.logger.Error("failed to persist session", slog.String("error", err.Error()))
		return nil, m.fail("login", model.NewStorageFailedError(err))
	}
	if err := m.store.Remove(ctx, store.KeyAuthLogout); err != nil {
		m.logger.Warn("failed to clear logout flag", slog.String("error", err.Error()))
	}
	m.commit(found)
	m.logger.Info("user logged in", slog.String("user_id", found.ID.String()))

	u := *found
	if u.IsBlocked {
		m.logger.Warn("blocked account logged in", slog.String("user_id", u.ID.String()))
		return &u, m.fail("login", model.NewAccountBlockedError())
	}
	m.metrics.RecordOperation("session", "login", true)
	return &u, nil
}

// RegisterInput は新規登録フォームの入力値。
type RegisterInput struct {
	FirstName       string `json:"fname"`
	LastName        string `json:"lname"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"cpassword"`
}

// Register はユーザーを新規登録する。セッション状態は変更しない（ログインしない）。
// メールアドレスの重複は全ユーザーの線形走査で検出する。
func (m *Manager) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	if verr := validateRegistration(in); verr != nil {
		return nil, m.fail("register", verr)
	}

	m.begin()
	defer m.end()

	users, err := m.users.List(ctx)
	if err != nil {
		m.logger.Error("registration failed", slog.String("error", err.Error()))
		return nil, m.fail("register", model.NewRemoteUnavailableError("Registration failed. Please try again.", err))
	}
	for _, u := range users {
		if u.Email == in.Email {
			return nil, m.fail("register", model.NewDuplicateEmailError())
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, m.fail("register", model.NewRemoteUnavailableError("Failed to create user account", err))
	}
	password := in.Password
	if m.hashPasswords {
		hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, m.fail("register", model.NewRemoteUnavailableError("Failed to create user account", err))
		}
		password = string(hashed)
	}

	newUser := &model.User{
		ID:        model.ID(id.String()),
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Email:     in.Email,
		Password:  password,
		Role:      model.RoleUser,
		CreatedAt: m.now().UTC(),
	}
	created, err := m.users.Create(ctx, newUser)
	if err != nil {
		m.logger.Error("failed to create user", slog.String("error", err.Error()))
		return nil, m.fail("register", model.NewRemoteUnavailableError("Registration failed. Please try again.", err))
	}

	m.logger.Info("user registered", slog.String("user_id", created.ID.String()))
	m.metrics.RecordOperation("session", "register", true)
	return created, nil
}

// Logout はセッションを破棄する。
// ストアのuserを削除してログアウトフラグを立て、カートとウィッシュリストも破棄する。
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	m.errMsg = ""
	m.mu.Unlock()

	var errs []error
	if err := m.store.Remove(ctx, store.KeyUser); err != nil {
		errs = append(errs, err)
	}
	if err := m.store.Set(ctx, store.KeyAuthLogout, store.LogoutFlag); err != nil {
		errs = append(errs, err)
	}
	for _, key := range []string{store.KeyCart, store.KeyWishlist} {
		if err := m.store.Remove(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}

	m.commit(nil)
	m.forget()
	m.logger.Info("user logged out")

	if len(errs) > 0 {
		err := errors.Join(errs...)
		m.logger.Error("failed to clear stored session", slog.String("error", err.Error()))
		return m.fail("logout", model.NewStorageFailedError(err))
	}
	m.metrics.RecordOperation("session", "logout", true)
	return nil
}

// User は現在のユーザーのコピーを返す。未ログインならnil。
func (m *Manager) User() *model.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

// State は現在のセッション状態を返す。
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Loading はリモート呼び出し中かを返す。
func (m *Manager) Loading() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loading
}

// Err は直近のエラーメッセージを返す。
func (m *Manager) Err() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errMsg
}

// ClearError はエラーメッセージを消去する。
func (m *Manager) ClearError() {
	m.SetError("")
}

// SetError はエラーメッセージを設定する。
func (m *Manager) SetError(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errMsg = msg
}

// Subscribe はセッション変更の通知を購読する。戻り値の関数で購読を解除する。
// 通知が滞留した購読者への通知は破棄される。
func (m *Manager) Subscribe() (<-chan Change, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan Change, changeBuffer)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
			close(ch)
		})
	}
}

// listen は他タブのストレージ変更を処理する。
// イベントを取りこぼした場合はストアのsessionを正としてメモリを合わせる。
func (m *Manager) listen() {
	defer close(m.done)
	for {
		select {
		case ev, ok := <-m.watch.C:
			if !ok {
				return
			}
			if ev.Origin == m.store.Origin() {
				continue
			}
			m.handleEvent(ev)
		case <-m.watch.Lost:
			if !m.discardPending() {
				return
			}
			m.resync()
		}
	}
}

// discardPending は滞留中のイベントを読み捨てる。購読が閉じていればfalseを返す。
func (m *Manager) discardPending() bool {
	for {
		select {
		case _, ok := <-m.watch.C:
			if !ok {
				return false
			}
		default:
			return true
		}
	}
}

// resync はストアのuserキーを読み直し、メモリ上のセッションと異なれば反映する。
func (m *Manager) resync() {
	ctx, cancel := context.WithTimeout(context.Background(), resyncTimeout)
	defer cancel()

	var u model.User
	ok, err := m.store.GetJSON(ctx, store.KeyUser, &u)
	switch {
	case errors.Is(err, store.ErrCorrupt):
		m.logger.Warn("stored session is corrupt, treating as logged out", slog.String("error", err.Error()))
		ok = false
	case err != nil:
		m.logger.Error("failed to resync session from storage", slog.String("error", err.Error()))
		return
	}

	if !ok {
		if m.State() == StateAuthenticated {
			m.logger.Info("session removed while events were dropped")
			m.commit(nil)
			m.forget()
		}
		return
	}
	if sameUser(m.User(), &u) {
		return
	}
	m.logger.Info("session resynchronized from storage", slog.String("user_id", u.ID.String()))
	m.commit(&u)
}

func (m *Manager) handleEvent(ev broadcast.Event) {
	switch ev.Key {
	case store.KeyAuthLogout:
		if !ev.Deleted && ev.NewValue == store.LogoutFlag {
			m.logger.Info("logout detected from another tab")
			m.commit(nil)
			m.forget()
		}
	case store.KeyUser:
		if ev.Deleted || ev.NewValue == "" {
			if m.State() == StateAuthenticated {
				m.logger.Info("session removed from another tab")
				m.commit(nil)
				m.forget()
			}
			return
		}
		var u model.User
		if err := json.Unmarshal([]byte(ev.NewValue), &u); err != nil {
			m.logger.Warn("failed to parse session from another tab", slog.String("error", err.Error()))
			return
		}
		if sameUser(m.User(), &u) {
			return
		}
		m.logger.Info("session changed in another tab", slog.String("user_id", u.ID.String()))
		m.commit(&u)
	}
}

// commit はメモリ上のセッションを更新し、購読者へ通知する。
func (m *Manager) commit(u *model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u == nil {
		m.user = nil
		m.state = StateAnonymous
	} else {
		cp := *u
		m.user = &cp
		m.state = StateAuthenticated
	}

	change := Change{State: m.state}
	if m.user != nil {
		cp := *m.user
		change.User = &cp
	}
	for _, ch := range m.subs {
		select {
		case ch <- change:
		default:
			m.logger.Warn("session subscriber is slow, change dropped")
		}
	}
}

func (m *Manager) forget() {
	m.mu.RLock()
	fs := append([]Forgetter(nil), m.forgetters...)
	m.mu.RUnlock()
	for _, f := range fs {
		f.Reset()
	}
}

func (m *Manager) begin() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loading = true
	m.errMsg = ""
}

func (m *Manager) end() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loading = false
}

// fail はエラーメッセージを保持し、メトリクスを記録してエラーを返す。
func (m *Manager) fail(op string, err *model.APIError) error {
	m.mu.Lock()
	m.errMsg = err.Message
	m.mu.Unlock()
	m.metrics.RecordOperation("session", op, false)
	return err
}

// passwordMatches は保存済みパスワードと入力値を比較する。
// bcryptハッシュとして保存されている場合はハッシュ照合を行う。
func passwordMatches(stored, given string) bool {
	if isBcryptHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(given)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

func sameUser(a, b *model.User) bool {
	if a == nil || b == nil {
		return a == b
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}
