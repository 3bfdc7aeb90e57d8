package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"settlement-engine/internal/core/domain"
	"settlement-engine/internal/core/ports"
	"settlement-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory stand-in for Postgres. Transactions are fully
// serialized through txLock; each write registers an undo for rollback.
type memStore struct {
	txLock sync.Mutex

	mu            sync.Mutex
	balances      map[string]int64
	ledger        map[uuid.UUID]domain.LedgerTransaction
	orders        map[string]domain.PaymentOrder
	consultations map[uuid.UUID]domain.ConsultationOrder
	users         map[string]int

	failAdjust     int // number of upcoming Adjust calls to fail
	failDelete     bool
	failOrderBegin int // number of upcoming payment order transactions to fail
}

func newMemStore(users ...string) *memStore {
	s := &memStore{
		balances:      map[string]int64{},
		ledger:        map[uuid.UUID]domain.LedgerTransaction{},
		orders:        map[string]domain.PaymentOrder{},
		consultations: map[uuid.UUID]domain.ConsultationOrder{},
		users:         map[string]int{},
	}
	for _, u := range users {
		s.users[u] = 0
	}
	return s
}

func (s *memStore) balance(userID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID]
}

func (s *memStore) entriesFor(refType domain.ReferenceType, refID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.ledger {
		if e.ReferenceType == refType && e.ReferenceID == refID {
			n++
		}
	}
	return n
}

// ---- transactions ----

type memTx struct {
	pgx.Tx
	store *memStore
	undo  []func()
	done  bool
}

func (t *memTx) record(fn func()) { t.undo = append(t.undo, fn) }

func (t *memTx) Commit(_ context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.undo = nil
	t.store.txLock.Unlock()
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.store.mu.Lock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.store.mu.Unlock()
	t.store.txLock.Unlock()
	return nil
}

type memTransactor struct{ store *memStore }

func (m memTransactor) Begin(_ context.Context) (pgx.Tx, error) {
	m.store.txLock.Lock()
	return &memTx{store: m.store}, nil
}

// memOrderTransactor is the payment order service's transactor, which can be
// failed independently of the ledger's.
type memOrderTransactor struct{ memTransactor }

func (m memOrderTransactor) Begin(ctx context.Context) (pgx.Tx, error) {
	m.store.mu.Lock()
	if m.store.failOrderBegin > 0 {
		m.store.failOrderBegin--
		m.store.mu.Unlock()
		return nil, errors.New("injected begin failure")
	}
	m.store.mu.Unlock()
	return m.memTransactor.Begin(ctx)
}

// ---- ledger store ----

type memBalanceRepo struct{ store *memStore }

func (r memBalanceRepo) Get(_ context.Context, userID string) (*domain.Balance, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	amount, ok := r.store.balances[userID]
	if !ok {
		return nil, nil
	}
	return &domain.Balance{UserID: userID, Amount: amount}, nil
}

func (r memBalanceRepo) Adjust(_ context.Context, tx pgx.Tx, userID string, delta, minResulting int64) (int64, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAdjust > 0 {
		s.failAdjust--
		return 0, errors.New("injected adjust failure")
	}
	prev, existed := s.balances[userID]
	if prev+delta < minResulting {
		return 0, ports.ErrInsufficientFunds
	}
	s.balances[userID] = prev + delta
	tx.(*memTx).record(func() {
		if existed {
			s.balances[userID] = prev
		} else {
			delete(s.balances, userID)
		}
	})
	return prev + delta, nil
}

type memLedgerRepo struct{ store *memStore }

func (r memLedgerRepo) Append(_ context.Context, tx pgx.Tx, e *domain.LedgerTransaction) (*domain.LedgerTransaction, bool, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.ledger[e.ID]; ok {
		return &existing, false, nil
	}
	s.ledger[e.ID] = *e
	tx.(*memTx).record(func() { delete(s.ledger, e.ID) })
	return e, true, nil
}

func (r memLedgerRepo) GetByReference(_ context.Context, referenceID string, referenceType domain.ReferenceType) (*domain.LedgerTransaction, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	e, ok := r.store.ledger[domain.LedgerTransactionID(referenceType, referenceID)]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (r memLedgerRepo) ListByUser(_ context.Context, userID string, limit int) ([]domain.LedgerTransaction, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []domain.LedgerTransaction
	for _, e := range r.store.ledger {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- order records ----

type memPaymentOrderRepo struct{ store *memStore }

func (r memPaymentOrderRepo) Create(_ context.Context, o *domain.PaymentOrder) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.orders[o.GatewayOrderID]; ok {
		return fmt.Errorf("duplicate order %s", o.GatewayOrderID)
	}
	r.store.orders[o.GatewayOrderID] = *o
	return nil
}

func (r memPaymentOrderRepo) GetByID(_ context.Context, id string) (*domain.PaymentOrder, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	o, ok := r.store.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (r memPaymentOrderRepo) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id string) (*domain.PaymentOrder, error) {
	return r.GetByID(ctx, id)
}

func (r memPaymentOrderRepo) UpdateStatus(_ context.Context, tx pgx.Tx, id string, status domain.PaymentOrderStatus, details []domain.PaymentDetail) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("order %s not found", id)
	}
	next := prev
	next.Status = status
	next.PaymentDetails = append(append([]domain.PaymentDetail{}, prev.PaymentDetails...), details...)
	s.orders[id] = next
	tx.(*memTx).record(func() { s.orders[id] = prev })
	return nil
}

func (r memPaymentOrderRepo) List(_ context.Context, p ports.PaymentOrderListParams) ([]domain.PaymentOrder, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []domain.PaymentOrder
	for _, o := range r.store.orders {
		if o.UserID != p.UserID {
			continue
		}
		if p.From != nil && o.CreatedAt.Before(*p.From) {
			continue
		}
		if p.To != nil && o.CreatedAt.After(*p.To) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

type memConsultationRepo struct{ store *memStore }

func (r memConsultationRepo) Create(_ context.Context, o *domain.ConsultationOrder) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.consultations[o.ID] = *o
	return nil
}

func (r memConsultationRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.ConsultationOrder, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	o, ok := r.store.consultations[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (r memConsultationRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.failDelete {
		return errors.New("injected delete failure")
	}
	delete(r.store.consultations, id)
	return nil
}

func (r memConsultationRepo) Transition(_ context.Context, id uuid.UUID, to domain.ConsultationStatus, from []domain.ConsultationStatus, at time.Time) (*domain.ConsultationOrder, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	o, ok := r.store.consultations[id]
	if !ok {
		return nil, nil
	}
	allowed := false
	for _, f := range from {
		if o.Status == f {
			allowed = true
		}
	}
	if !allowed {
		return nil, nil
	}
	o.Status = to
	if to == domain.ConsultationActive {
		o.StartedAt = &at
	}
	if to.IsTerminal() {
		o.EndedAt = &at
	}
	o.UpdatedAt = at
	r.store.consultations[id] = o
	return &o, nil
}

type memUserDirectory struct{ store *memStore }

func (u memUserDirectory) Exists(_ context.Context, userID string) (bool, error) {
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	_, ok := u.store.users[userID]
	return ok, nil
}

func (u memUserDirectory) IncrementConsultationCount(_ context.Context, providerID string) error {
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	u.store.users[providerID]++
	return nil
}

// ---- redis-side collaborators ----

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[key], nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

type memDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *memDedup) MarkSeen(_ context.Context, id string, _ time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

func (d *memDedup) Forget(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
	return nil
}

type queuedTask struct {
	task   domain.ReconcileTask
	delay  time.Duration
	leased bool
}

// memQueue ignores delays; tests drive time by calling the worker and
// expireLeases.
type memQueue struct {
	mu          sync.Mutex
	tasks       []queuedTask
	log         []queuedTask
	seq         int
	failEnqueue int // number of upcoming Enqueue calls to fail
}

func (q *memQueue) Enqueue(_ context.Context, task domain.ReconcileTask, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failEnqueue > 0 {
		q.failEnqueue--
		return errors.New("injected enqueue failure")
	}
	q.seq++
	task.Receipt = fmt.Sprintf("r%d", q.seq)
	q.tasks = append(q.tasks, queuedTask{task: task, delay: delay})
	q.log = append(q.log, queuedTask{task: task, delay: delay})
	return nil
}

func (q *memQueue) Dequeue(_ context.Context, limit int64) ([]domain.ReconcileTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []domain.ReconcileTask
	for i := range q.tasks {
		if int64(len(out)) >= limit {
			break
		}
		if q.tasks[i].leased {
			continue
		}
		q.tasks[i].leased = true
		out = append(out, q.tasks[i].task)
	}
	return out, nil
}

func (q *memQueue) Ack(_ context.Context, task domain.ReconcileTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.tasks {
		if q.tasks[i].task.Receipt == task.Receipt {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			return nil
		}
	}
	return nil
}

// expireLeases makes every unacked task visible again.
func (q *memQueue) expireLeases() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.tasks {
		q.tasks[i].leased = false
	}
}

func (q *memQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// ---- outbound ----

type memNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (n *memNotifier) Notify(_ context.Context, msg domain.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

func (n *memNotifier) count(kind domain.NotificationKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, m := range n.sent {
		if m.Kind == kind {
			c++
		}
	}
	return c
}

type memAlerter struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (a *memAlerter) Alert(_ context.Context, alert domain.Alert) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
}

func (a *memAlerter) all() []domain.Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.Alert(nil), a.alerts...)
}

// memGateway hands out sequential order ids and reports whatever status the
// test has set for an order; unknown orders are pending.
type memGateway struct {
	mu       sync.Mutex
	next     int
	statuses map[string]domain.PaymentOrderStatus
	down     bool
}

func (g *memGateway) CreateOrder(_ context.Context, req ports.GatewayOrderRequest) (*ports.GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.down {
		return nil, apperror.ErrGatewayUnavailable(context.DeadlineExceeded)
	}
	g.next++
	return &ports.GatewayOrder{ID: fmt.Sprintf("order_%04d", g.next), Amount: req.Amount, Currency: req.Currency, Status: "created"}, nil
}

func (g *memGateway) FetchOrderStatus(_ context.Context, id string) (*ports.GatewayOrderStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.down {
		return nil, apperror.ErrGatewayUnavailable(context.DeadlineExceeded)
	}
	status, ok := g.statuses[id]
	if !ok {
		status = domain.PaymentOrderCreated
	}
	return &ports.GatewayOrderStatus{
		GatewayOrderID: id,
		Status:         status,
		Details:        []domain.PaymentDetail{{Source: "reconcile", Status: string(status), ReceivedAt: time.Now().UTC()}},
	}, nil
}

func (g *memGateway) set(id string, status domain.PaymentOrderStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[id] = status
}

// engine wires every service over the in-memory collaborators.
type engine struct {
	store    *memStore
	cache    *memCache
	queue    *memQueue
	notifier *memNotifier
	alerter  *memAlerter
	gateway  *memGateway

	ledger        *LedgerServiceImpl
	orders        *PaymentOrderServiceImpl
	consultations *ConsultationServiceImpl
	webhooks      ports.WebhookReconciler
	worker        *ReconcileWorker
}

func newEngine(maxAttempts int, users ...string) *engine {
	e := &engine{
		store:    newMemStore(users...),
		cache:    &memCache{data: map[string][]byte{}},
		queue:    &memQueue{},
		notifier: &memNotifier{},
		alerter:  &memAlerter{},
		gateway:  &memGateway{statuses: map[string]domain.PaymentOrderStatus{}},
	}
	log := zerolog.Nop()
	dir := memUserDirectory{e.store}

	e.ledger = NewLedgerService(memBalanceRepo{e.store}, memLedgerRepo{e.store}, e.cache, memTransactor{e.store}, log)
	e.orders = NewPaymentOrderService(dir, e.gateway, memPaymentOrderRepo{e.store}, e.ledger, e.queue,
		e.notifier, e.alerter, memOrderTransactor{memTransactor{e.store}}, PaymentOrderOptions{Currency: "INR", AllowDummy: true}, log)
	e.consultations = NewConsultationService(memConsultationRepo{e.store}, e.ledger, dir, e.notifier, e.alerter, log)
	e.webhooks = NewWebhookReconciler(e.orders, &memDedup{seen: map[string]bool{}}, log)
	e.worker = NewReconcileWorker(e.queue, e.gateway, e.orders, e.ledger, e.alerter, ReconcileOptions{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Second,
		MaxDelay:    8 * time.Second,
		BatchSize:   100,
	}, log)
	return e
}

// topUp credits a user through a dummy order.
func (e *engine) topUp(t *testing.T, userID string, amount int64) *domain.PaymentOrder {
	t.Helper()
	o, err := e.orders.CreatePaymentOrder(context.Background(), ports.CreatePaymentOrderRequest{UserID: userID, Amount: amount, IsDummy: true})
	require.NoError(t, err)
	return o
}
