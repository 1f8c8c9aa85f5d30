package app

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kudokuapp/kudoku-server/internal/domain"
	"github.com/kudokuapp/kudoku-server/internal/eventbus"
	"github.com/kudokuapp/kudoku-server/internal/store"
	"github.com/kudokuapp/kudoku-server/pkg/brickclient"
	"github.com/shopspring/decimal"
)

// memoryRepo is an in-memory store.Repository. WithTx runs the callback against the
// same instance and restores the previous rows when it fails; rows are copied on
// the way in and out like a real database.
type memoryRepo struct {
	store.Repository

	mu           sync.Mutex
	users        map[uuid.UUID]domain.User
	profiles     map[uuid.UUID]domain.Profile
	accounts     map[uuid.UUID]domain.Account
	transactions map[uuid.UUID]domain.Transaction
	merchants    map[uuid.UUID]domain.Merchant
	budgets      map[uuid.UUID]domain.Budget

	balanceWrites int
	lockOrder     []uuid.UUID

	// failBalanceWrite, when set, is returned by UpdateAccountBalance.
	failBalanceWrite error
	// staleNameCheck makes AccountNameExists miss a concurrent insert.
	staleNameCheck bool
}

type memorySnapshot struct {
	users        map[uuid.UUID]domain.User
	profiles     map[uuid.UUID]domain.Profile
	accounts     map[uuid.UUID]domain.Account
	transactions map[uuid.UUID]domain.Transaction
	merchants    map[uuid.UUID]domain.Merchant
	budgets      map[uuid.UUID]domain.Budget
}


func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		users:        map[uuid.UUID]domain.User{},
		profiles:     map[uuid.UUID]domain.Profile{},
		accounts:     map[uuid.UUID]domain.Account{},
		transactions: map[uuid.UUID]domain.Transaction{},
		merchants:    map[uuid.UUID]domain.Merchant{},
		budgets:      map[uuid.UUID]domain.Budget{},
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(repo store.Repository) error) error {
	r.mu.Lock()
	snapshot := memorySnapshot{
		users:        maps.Clone(r.users),
		profiles:     maps.Clone(r.profiles),
		accounts:     maps.Clone(r.accounts),
		transactions: maps.Clone(r.transactions),
		merchants:    maps.Clone(r.merchants),
		budgets:      maps.Clone(r.budgets),
	}
	r.mu.Unlock()

	if err := fn(r); err != nil {
		r.mu.Lock()
		r.users = snapshot.users
		r.profiles = snapshot.profiles
		r.accounts = snapshot.accounts
		r.transactions = snapshot.transactions
		r.merchants = snapshot.merchants
		r.budgets = snapshot.budgets
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *memoryRepo) CreateUser(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if strings.EqualFold(existing.Username, user.Username) || strings.EqualFold(existing.Email, user.Email) {
			return store.ErrDuplicateUser
		}
	}
	r.users[user.ID] = *user
	return nil
}

func (r *memoryRepo) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return &user, nil
}

func (r *memoryRepo) FindUserByLogin(ctx context.Context, login string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if strings.EqualFold(user.Username, login) || strings.EqualFold(user.Email, login) {
			found := user
			return &found, nil
		}
	}
	return nil, store.ErrUserNotFound
}

func (r *memoryRepo) UpdateUserBrickID(ctx context.Context, userID uuid.UUID, brickUserID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return store.ErrUserNotFound
	}
	user.BrickUserID = &brickUserID
	r.users[userID] = user
	return nil
}

func (r *memoryRepo) CreateProfile(ctx context.Context, profile *domain.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[profile.UserID] = *profile
	return nil
}

func (r *memoryRepo) FindProfileByUserID(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	profile, ok := r.profiles[userID]
	if !ok {
		return nil, store.ErrProfileNotFound
	}
	return &profile, nil
}

func (r *memoryRepo) UpdateProfile(ctx context.Context, profile *domain.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[profile.UserID]; !ok {
		return store.ErrProfileNotFound
	}
	r.profiles[profile.UserID] = *profile
	return nil
}

func (r *memoryRepo) CreateAccount(ctx context.Context, account *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.manualNameTaken(account.UserID, account.Type, account.Name, account.ID) {
		return store.ErrDuplicateAccount
	}
	r.accounts[account.ID] = *account
	return nil
}

// manualNameTaken mirrors the unique name index on cash and e-money accounts.
func (r *memoryRepo) manualNameTaken(userID uuid.UUID, accountType domain.AccountType, name string, self uuid.UUID) bool {
	if !accountType.IsManual() {
		return false
	}
	for _, existing := range r.accounts {
		if existing.ID != self && existing.UserID == userID && existing.Type == accountType && strings.EqualFold(existing.Name, name) {
			return true
		}
	}
	return false
}

func (r *memoryRepo) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[accountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	return &account, nil
}

func (r *memoryRepo) LockAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	r.mu.Lock()
	r.lockOrder = append(r.lockOrder, accountID)
	r.mu.Unlock()
	return r.FindAccountByID(ctx, accountID)
}

func (r *memoryRepo) ListAccountsByUserID(ctx context.Context, userID uuid.UUID, filter domain.AccountFilter) ([]domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Account
	for _, account := range r.accounts {
		if account.UserID != userID {
			continue
		}
		if filter.Type != nil && account.Type != *filter.Type {
			continue
		}
		out = append(out, account)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memoryRepo) ListAutomaticAccounts(ctx context.Context) ([]domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Account
	for _, account := range r.accounts {
		if account.Type.IsAutomatic() && account.BrickAccessToken != nil {
			out = append(out, account)
		}
	}
	return out, nil
}

func (r *memoryRepo) AccountNameExists(ctx context.Context, userID uuid.UUID, accountType domain.AccountType, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.staleNameCheck {
		return false, nil
	}
	for _, account := range r.accounts {
		if account.UserID == userID && account.Type == accountType && strings.EqualFold(account.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) FindAccountByExternalID(ctx context.Context, userID uuid.UUID, accountType domain.AccountType, externalAccountID string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, account := range r.accounts {
		if account.UserID == userID && account.Type == accountType && account.ExternalAccountID != nil && *account.ExternalAccountID == externalAccountID {
			found := account
			return &found, nil
		}
	}
	return nil, store.ErrAccountNotFound
}

func (r *memoryRepo) UpdateAccountBalance(ctx context.Context, accountID uuid.UUID, balance decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failBalanceWrite != nil {
		return r.failBalanceWrite
	}
	account, ok := r.accounts[accountID]
	if !ok {
		return store.ErrAccountNotFound
	}
	account.Balance = balance
	r.accounts[accountID] = account
	r.balanceWrites++
	return nil
}

func (r *memoryRepo) UpdateAccountName(ctx context.Context, accountID uuid.UUID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[accountID]
	if !ok {
		return store.ErrAccountNotFound
	}
	if r.manualNameTaken(account.UserID, account.Type, name, account.ID) {
		return store.ErrDuplicateAccount
	}
	account.Name = name
	r.accounts[accountID] = account
	return nil
}

func (r *memoryRepo) MarkAccountSynced(ctx context.Context, accountID uuid.UUID, balance decimal.Decimal, syncedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[accountID]
	if !ok {
		return store.ErrAccountNotFound
	}
	account.Balance = balance
	account.LastSyncedAt = &syncedAt
	r.accounts[accountID] = account
	return nil
}

func (r *memoryRepo) DeleteAccount(ctx context.Context, accountID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[accountID]; !ok {
		return store.ErrAccountNotFound
	}
	delete(r.accounts, accountID)
	for id, tx := range r.transactions {
		if tx.AccountID == accountID {
			delete(r.transactions, id)
		}
	}
	return nil
}

func (r *memoryRepo) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transactions[tx.ID] = *tx
	return nil
}

func (r *memoryRepo) InsertFeedTransaction(ctx context.Context, tx *domain.Transaction) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.transactions {
		if existing.AccountID == tx.AccountID && existing.ExternalReferenceID != nil &&
			tx.ExternalReferenceID != nil && *existing.ExternalReferenceID == *tx.ExternalReferenceID {
			return false, nil
		}
	}
	r.transactions[tx.ID] = *tx
	return true, nil
}

func (r *memoryRepo) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.transactions[transactionID]
	if !ok {
		return nil, store.ErrTransactionNotFound
	}
	return &tx, nil
}

func (r *memoryRepo) LockTransaction(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	r.mu.Lock()
	r.lockOrder = append(r.lockOrder, transactionID)
	r.mu.Unlock()
	return r.FindTransactionByID(ctx, transactionID)
}

func (r *memoryRepo) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range r.transactions {
		if tx.UserID != filter.UserID {
			continue
		}
		if filter.AccountID != nil && tx.AccountID != *filter.AccountID {
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionDate.After(out[j].TransactionDate) })
	return out, nil
}

func (r *memoryRepo) UpdateTransaction(ctx context.Context, tx *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.transactions[tx.ID]; !ok {
		return store.ErrTransactionNotFound
	}
	r.transactions[tx.ID] = *tx
	return nil
}

func (r *memoryRepo) DeleteTransaction(ctx context.Context, transactionID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.transactions[transactionID]; !ok {
		return store.ErrTransactionNotFound
	}
	delete(r.transactions, transactionID)
	return nil
}

func (r *memoryRepo) ClearInternalTransferLinksToAccount(ctx context.Context, accountID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, tx := range r.transactions {
		if tx.InternalTransferTransactionID == nil {
			continue
		}
		counterpart, ok := r.transactions[*tx.InternalTransferTransactionID]
		if ok && counterpart.AccountID == accountID && tx.AccountID != accountID {
			tx.InternalTransferTransactionID = nil
			r.transactions[id] = tx
		}
	}
	return nil
}

func (r *memoryRepo) SumSpendingByCategory(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]domain.NameAmount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	totals := map[string]decimal.Decimal{}
	for _, tx := range r.transactions {
		if tx.UserID != userID || tx.Direction != domain.DirectionOut || tx.IsHideFromBudget {
			continue
		}
		if tx.Type == domain.TransactionTypeTransfer || tx.Type == domain.TransactionTypeReconcile {
			continue
		}
		if tx.TransactionDate.Before(from) || !tx.TransactionDate.Before(to) {
			continue
		}
		for _, item := range tx.Category {
			totals[item.Name] = totals[item.Name].Add(item.Amount)
		}
	}
	out := make([]domain.NameAmount, 0, len(totals))
	for name, amount := range totals {
		out = append(out, domain.NameAmount{Name: name, Amount: amount})
	}
	return out, nil
}

func (r *memoryRepo) CreateMerchant(ctx context.Context, merchant *domain.Merchant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.merchants {
		if strings.EqualFold(existing.Name, merchant.Name) {
			return store.ErrDuplicateMerchant
		}
	}
	r.merchants[merchant.ID] = *merchant
	return nil
}

func (r *memoryRepo) FindMerchantByID(ctx context.Context, merchantID uuid.UUID) (*domain.Merchant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	merchant, ok := r.merchants[merchantID]
	if !ok {
		return nil, store.ErrMerchantNotFound
	}
	return &merchant, nil
}

func (r *memoryRepo) ListMerchants(ctx context.Context, search string, limit int, offset int) ([]domain.Merchant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Merchant
	for _, merchant := range r.merchants {
		if search == "" || strings.Contains(strings.ToLower(merchant.Name), strings.ToLower(search)) {
			out = append(out, merchant)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepo) UpdateMerchant(ctx context.Context, merchant *domain.Merchant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.merchants[merchant.ID] = *merchant
	return nil
}

func (r *memoryRepo) DeleteMerchant(ctx context.Context, merchantID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.merchants[merchantID]; !ok {
		return store.ErrMerchantNotFound
	}
	delete(r.merchants, merchantID)
	return nil
}

func (r *memoryRepo) CreateBudget(ctx context.Context, budget *domain.Budget) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.budgets[budget.ID] = *budget
	return nil
}

func (r *memoryRepo) FindBudgetByID(ctx context.Context, budgetID uuid.UUID) (*domain.Budget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	budget, ok := r.budgets[budgetID]
	if !ok {
		return nil, store.ErrBudgetNotFound
	}
	return &budget, nil
}

func (r *memoryRepo) ListBudgetsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Budget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Budget
	for _, budget := range r.budgets {
		if budget.UserID == userID {
			out = append(out, budget)
		}
	}
	return out, nil
}

func (r *memoryRepo) UpdateBudget(ctx context.Context, budget *domain.Budget) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.budgets[budget.ID] = *budget
	return nil
}

func (r *memoryRepo) DeleteBudget(ctx context.Context, budgetID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.budgets, budgetID)
	return nil
}

// recordingPublisher captures broker publishes.
type recordingPublisher struct {
	mu       sync.Mutex
	keys     []string
	failWith error
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	p.keys = append(p.keys, routingKey)
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) count(routingKey string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, key := range p.keys {
		if key == routingKey {
			n++
		}
	}
	return n
}

type bankStub struct {
	accounts     []brickclient.Account
	transactions []brickclient.Transaction
	loginErr     error
	feedErr      error
	feedCalls    int
}

func (b *bankStub) GetClientToken(ctx context.Context) (string, error) { return "public-token", nil }

func (b *bankStub) ListInstitutions(ctx context.Context, publicToken string) ([]brickclient.Institution, error) {
	return []brickclient.Institution{{ID: 2, Name: "BCA"}}, nil
}

func (b *bankStub) Login(ctx context.Context, publicToken string, institutionID int64, username, password string) (*brickclient.LoginResult, error) {
	if b.loginErr != nil {
		return nil, b.loginErr
	}
	return &brickclient.LoginResult{AccessToken: "user-token", UserID: "brick-user"}, nil
}

func (b *bankStub) ListAccounts(ctx context.Context, userToken string) ([]brickclient.Account, error) {
	return b.accounts, nil
}

func (b *bankStub) ListTransactions(ctx context.Context, userToken string, from, to time.Time) ([]brickclient.Transaction, error) {
	b.feedCalls++
	if b.feedErr != nil {
		return nil, b.feedErr
	}
	return b.transactions, nil
}

type otpStub struct {
	sent      []string
	validCode string
}

func (o *otpStub) Send(ctx context.Context, channel, to string) error {
	o.sent = append(o.sent, channel+":"+to)
	return nil
}

func (o *otpStub) Check(ctx context.Context, to, code string) (bool, error) {
	return code == o.validCode, nil
}

type counterLimiter struct {
	counts map[string]int
}

func (l *counterLimiter) ConsumeRateLimit(ctx context.Context, scope string, subject string, limit int, window time.Duration) (int, int, error) {
	if l.counts == nil {
		l.counts = map[string]int{}
	}
	l.counts[scope+":"+subject]++
	return l.counts[scope+":"+subject], 42, nil
}

var testNow = time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	svc       *Service
	repo      *memoryRepo
	bus       *eventbus.MemoryBus
	publisher *recordingPublisher
	bank      *bankStub
	otp       *otpStub
	userID    uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tokens, err := NewSessionTokens("test-secret-0123456789", time.Hour)
	if err != nil {
		t.Fatalf("NewSessionTokens returned error: %v", err)
	}
	env := &testEnv{
		repo:      newMemoryRepo(),
		bus:       eventbus.NewMemoryBus(64),
		publisher: &recordingPublisher{},
		bank:      &bankStub{},
		otp:       &otpStub{validCode: "123456"},
		userID:    uuid.New(),
	}
	env.svc = NewService(env.repo, env.bus, env.publisher, env.bank, env.otp, tokens, Options{OTPRateLimit: 3})
	env.svc.now = func() time.Time { return testNow }
	env.repo.users[env.userID] = domain.User{ID: env.userID, Username: "ayu", Email: "ayu@kudoku.id"}
	t.Cleanup(env.bus.Close)
	return env
}

func (e *testEnv) addAccount(t *testing.T, accountType domain.AccountType, balance string) *domain.Account {
	t.Helper()
	account := domain.Account{
		ID:       uuid.New(),
		UserID:   e.userID,
		Type:     accountType,
		Name:     string(accountType) + "-" + uuid.NewString()[:8],
		Balance:  dec(t, balance),
		Currency: "IDR",
	}
	if accountType.IsAutomatic() {
		ext := "ext-" + account.ID.String()[:8]
		token := "user-token"
		account.ExternalAccountID = &ext
		account.BrickAccessToken = &token
	}
	e.repo.accounts[account.ID] = account
	return &account
}

func (e *testEnv) addTransaction(t *testing.T, account *domain.Account, direction domain.Direction, amount string) *domain.Transaction {
	t.Helper()
	txType := domain.TransactionTypeExpense
	if direction == domain.DirectionIn {
		txType = domain.TransactionTypeIncome
	}
	tx := domain.Transaction{
		ID:              uuid.New(),
		UserID:          e.userID,
		AccountID:       account.ID,
		AccountType:     account.Type,
		Type:            txType,
		Direction:       direction,
		Amount:          dec(t, amount),
		Currency:        "IDR",
		TransactionDate: testNow.Add(-time.Hour),
		Category:        []domain.NameAmount{{Name: "Food", Amount: dec(t, amount)}},
	}
	e.repo.transactions[tx.ID] = tx
	return &tx
}

func (e *testEnv) balance(t *testing.T, accountID uuid.UUID) decimal.Decimal {
	t.Helper()
	account, ok := e.repo.accounts[accountID]
	if !ok {
		t.Fatalf("account %s not found", accountID)
	}
	return account.Balance
}

func dec(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("invalid decimal %q: %v", value, err)
	}
	return d
}

func assertBalance(t *testing.T, env *testEnv, accountID uuid.UUID, want string) {
	t.Helper()
	if got := env.balance(t, accountID); !got.Equal(dec(t, want)) {
		t.Fatalf("expected balance %s, got %s", want, got)
	}
}
