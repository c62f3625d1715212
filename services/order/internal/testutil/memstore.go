package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"example.com/storefront-orders/pkg/outbox"
	"example.com/storefront-orders/services/order/internal/domain"
	"example.com/storefront-orders/services/order/internal/repository"
)

// MemStore — repository.Store в памяти.
// WithinTx выполняется под мьютексом (как сериализуемая транзакция)
// и при ошибке восстанавливает снимок состояния.
type MemStore struct {
	mu    sync.Mutex
	state *memState

	// FailOutbox — ошибка, которую вернёт запись в outbox (проверка отката).
	FailOutbox error
	// CollideOrderCodes — сколько следующих вставок платежа упадут на занятом коде,
	// как при параллельной транзакции, успевшей вставить тот же код.
	CollideOrderCodes int
}

type memState struct {
	orders   map[string]*domain.Order
	payments map[string]*domain.Payment
	products map[string]*domain.Product
	carts    map[string][]domain.CartItem
	outbox   []*outbox.Record
	seq      int
}

// NewMemStore создаёт пустое хранилище.
func NewMemStore() *MemStore {
	return &MemStore{state: &memState{
		orders:   map[string]*domain.Order{},
		payments: map[string]*domain.Payment{},
		products: map[string]*domain.Product{},
		carts:    map[string][]domain.CartItem{},
	}}
}

func (s *MemStore) Repos() repository.Repositories {
	return s.repos(false)
}

func (s *MemStore) WithinTx(ctx context.Context, fn func(r repository.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(s.repos(true)); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (s *MemStore) repos(locked bool) repository.Repositories {
	base := memRepo{store: s, locked: locked}
	return repository.Repositories{
		Orders:   &memOrders{base},
		Payments: &memPayments{base},
		Products: &memProducts{base},
		Carts:    &memCarts{base},
		Outbox:   &memOutbox{base},
	}
}

// ---- наполнение и проверки состояния ----

// AddProduct добавляет товар.
func (s *MemStore) AddProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.products[p.ID] = &p
}

// SetCart заменяет корзину пользователя.
func (s *MemStore) SetCart(userID string, items ...domain.CartItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.carts[userID] = append([]domain.CartItem(nil), items...)
}

// PutOrder сохраняет заказ как есть.
func (s *MemStore) PutOrder(o *domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.orders[o.ID] = cloneOrder(o)
}

// PutPayment сохраняет платёж как есть.
func (s *MemStore) PutPayment(p *domain.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.state.payments[p.ID] = &cp
}

// Stock возвращает остаток товара.
func (s *MemStore) Stock(productID string) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.state.products[productID]; ok {
		return p.Stock
	}
	return -1
}

// Order возвращает копию заказа или nil.
func (s *MemStore) Order(id string) *domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.state.orders[id]; ok {
		return cloneOrder(o)
	}
	return nil
}

// OrderCount — число заказов.
func (s *MemStore) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.orders)
}

// PaymentsOf возвращает платежи заказа в порядке создания.
func (s *MemStore) PaymentsOf(orderID string) []domain.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.paymentsOf(orderID)
}

// CartOf возвращает корзину пользователя.
func (s *MemStore) CartOf(userID string) []domain.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.CartItem(nil), s.state.carts[userID]...)
}

// EventTypes возвращает типы событий outbox по заказу.
func (s *MemStore) EventTypes(orderID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var types []string
	for _, r := range s.state.outbox {
		if r.AggregateID == orderID {
			types = append(types, r.EventType)
		}
	}
	return types
}

// ---- репозитории ----

type memRepo struct {
	store  *MemStore
	locked bool
}

func (r memRepo) with(fn func(st *memState) error) error {
	if !r.locked {
		r.store.mu.Lock()
		defer r.store.mu.Unlock()
	}
	return fn(r.store.state)
}

type memOrders struct{ memRepo }

func (r *memOrders) Create(_ context.Context, o *domain.Order) error {
	return r.with(func(st *memState) error {
		if o.IdempotencyKey != "" {
			for _, existing := range st.orders {
				if existing.UserID == o.UserID && existing.IdempotencyKey == o.IdempotencyKey {
					return domain.ErrDuplicateOrder
				}
			}
		}
		st.seq++
		o.CreatedAt = time.Unix(int64(st.seq), 0).UTC()
		o.UpdatedAt = o.CreatedAt
		st.orders[o.ID] = cloneOrder(o)
		return nil
	})
}

func (r *memOrders) GetByID(_ context.Context, id string) (*domain.Order, error) {
	var out *domain.Order
	err := r.with(func(st *memState) error {
		o, ok := st.orders[id]
		if !ok {
			return domain.ErrOrderNotFound
		}
		out = cloneOrder(o)
		return nil
	})
	return out, err
}

func (r *memOrders) GetByIdempotencyKey(_ context.Context, userID, key string) (*domain.Order, error) {
	var out *domain.Order
	err := r.with(func(st *memState) error {
		for _, o := range st.orders {
			if o.UserID == userID && o.IdempotencyKey == key {
				out = cloneOrder(o)
				return nil
			}
		}
		return domain.ErrOrderNotFound
	})
	return out, err
}

func (r *memOrders) ListByUserID(_ context.Context, userID string, status *domain.OrderStatus, offset, limit int) ([]*domain.Order, int64, error) {
	var all []*domain.Order
	_ = r.with(func(st *memState) error {
		for _, o := range st.orders {
			if o.UserID == userID && (status == nil || o.Status == *status) {
				all = append(all, cloneOrder(o))
			}
		}
		return nil
	})
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := int64(len(all))
	if offset >= len(all) {
		return []*domain.Order{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (r *memOrders) Transition(_ context.Context, id string, from, to domain.OrderStatus) error {
	return r.with(func(st *memState) error {
		o, ok := st.orders[id]
		if !ok || o.Status != from {
			return domain.ErrConcurrentUpdate
		}
		o.Status = to
		return nil
	})
}

func (r *memOrders) ResetExpiry(_ context.Context, id string, expiresAt time.Time) error {
	return r.with(func(st *memState) error {
		o, ok := st.orders[id]
		if !ok || o.Status != domain.OrderStatusPending {
			return domain.ErrConcurrentUpdate
		}
		o.ExpiresAt = expiresAt
		return nil
	})
}

func (r *memOrders) ListExpired(_ context.Context, now time.Time, limit int) ([]*domain.Order, error) {
	var out []*domain.Order
	err := r.with(func(st *memState) error {
		for _, o := range st.orders {
			if o.Status == domain.OrderStatusPending && o.ExpiresAt.Before(now) {
				out = append(out, cloneOrder(o))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

type memPayments struct{ memRepo }

func (r *memPayments) Create(_ context.Context, p *domain.Payment) error {
	return r.with(func(st *memState) error {
		if r.store.CollideOrderCodes > 0 {
			r.store.CollideOrderCodes--
			return domain.ErrOrderCodeTaken
		}
		for _, existing := range st.payments {
			if existing.OrderCode == p.OrderCode {
				return domain.ErrOrderCodeTaken
			}
		}
		st.seq++
		p.CreatedAt = time.Unix(int64(st.seq), 0).UTC()
		cp := *p
		st.payments[p.ID] = &cp
		return nil
	})
}

func (r *memPayments) GetByOrderCode(_ context.Context, code int64) (*domain.Payment, error) {
	var out *domain.Payment
	err := r.with(func(st *memState) error {
		for _, p := range st.payments {
			if p.OrderCode == code {
				cp := *p
				out = &cp
				return nil
			}
		}
		return domain.ErrPaymentNotFound
	})
	return out, err
}

func (r *memPayments) OrderCodeExists(_ context.Context, code int64) (bool, error) {
	var exists bool
	err := r.with(func(st *memState) error {
		for _, p := range st.payments {
			if p.OrderCode == code {
				exists = true
			}
		}
		return nil
	})
	return exists, err
}

func (r *memPayments) GetLatestByOrder(_ context.Context, orderID string) (*domain.Payment, error) {
	var out *domain.Payment
	err := r.with(func(st *memState) error {
		list := st.paymentsOf(orderID)
		if len(list) == 0 {
			return domain.ErrPaymentNotFound
		}
		p := list[len(list)-1]
		out = &p
		return nil
	})
	return out, err
}

func (r *memPayments) Transition(_ context.Context, id string, to domain.PaymentStatus, txn string) error {
	return r.with(func(st *memState) error {
		p, ok := st.payments[id]
		if !ok || p.Status != domain.PaymentStatusPending {
			return domain.ErrConcurrentUpdate
		}
		p.Status = to
		if txn != "" {
			p.TransactionID = txn
		}
		return nil
	})
}

func (r *memPayments) CancelPending(_ context.Context, orderID string) (int64, error) {
	var n int64
	err := r.with(func(st *memState) error {
		for _, p := range st.payments {
			if p.OrderID == orderID && p.Status == domain.PaymentStatusPending {
				p.Status = domain.PaymentStatusCancelled
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *memPayments) AttachLink(_ context.Context, id, url, ref string) error {
	return r.with(func(st *memState) error {
		p, ok := st.payments[id]
		if !ok || p.Status != domain.PaymentStatusPending {
			return domain.ErrConcurrentUpdate
		}
		p.CheckoutURL = url
		p.ProviderRef = ref
		return nil
	})
}

type memProducts struct{ memRepo }

func (r *memProducts) GetByID(_ context.Context, id string) (*domain.Product, error) {
	var out *domain.Product
	err := r.with(func(st *memState) error {
		p, ok := st.products[id]
		if !ok {
			return domain.ErrProductNotFound
		}
		cp := *p
		out = &cp
		return nil
	})
	return out, err
}

func (r *memProducts) Reserve(_ context.Context, id string, qty int32) error {
	return r.with(func(st *memState) error {
		p, ok := st.products[id]
		if !ok {
			return domain.ErrProductNotFound
		}
		if p.Stock < qty {
			return &domain.InsufficientStockError{ProductID: id, Requested: qty, Available: p.Stock}
		}
		p.Stock -= qty
		return nil
	})
}

func (r *memProducts) Release(_ context.Context, id string, qty int32) error {
	return r.with(func(st *memState) error {
		p, ok := st.products[id]
		if !ok {
			return domain.ErrProductNotFound
		}
		p.Stock += qty
		return nil
	})
}

type memCarts struct{ memRepo }

func (r *memCarts) GetItems(_ context.Context, userID string) ([]domain.CartItem, error) {
	var out []domain.CartItem
	err := r.with(func(st *memState) error {
		out = append([]domain.CartItem(nil), st.carts[userID]...)
		return nil
	})
	return out, err
}

func (r *memCarts) Clear(_ context.Context, userID string) error {
	return r.with(func(st *memState) error {
		delete(st.carts, userID)
		return nil
	})
}

type memOutbox struct{ memRepo }

func (r *memOutbox) Create(_ context.Context, rec *outbox.Record) error {
	return r.with(func(st *memState) error {
		if r.store.FailOutbox != nil {
			return r.store.FailOutbox
		}
		cp := *rec
		st.outbox = append(st.outbox, &cp)
		return nil
	})
}

func (r *memOutbox) GetUnprocessed(_ context.Context, limit int) ([]*outbox.Record, error) {
	var out []*outbox.Record
	err := r.with(func(st *memState) error {
		for _, rec := range st.outbox {
			if rec.ProcessedAt == nil && len(out) < limit {
				cp := *rec
				out = append(out, &cp)
			}
		}
		return nil
	})
	return out, err
}

func (r *memOutbox) MarkProcessed(_ context.Context, id string) error {
	return r.with(func(st *memState) error {
		for _, rec := range st.outbox {
			if rec.ID == id {
				now := time.Now().UTC()
				rec.ProcessedAt = &now
				return nil
			}
		}
		return outbox.ErrRecordNotFound
	})
}

func (r *memOutbox) MarkFailed(_ context.Context, id string, cause error) error {
	return r.with(func(st *memState) error {
		for _, rec := range st.outbox {
			if rec.ID == id {
				rec.RetryCount++
				msg := cause.Error()
				rec.LastError = &msg
				return nil
			}
		}
		return outbox.ErrRecordNotFound
	})
}

func (r *memOutbox) DeleteProcessedBefore(_ context.Context, before time.Time) (int64, error) {
	var n int64
	err := r.with(func(st *memState) error {
		kept := st.outbox[:0]
		for _, rec := range st.outbox {
			if rec.ProcessedAt != nil && rec.ProcessedAt.Before(before) {
				n++
				continue
			}
			kept = append(kept, rec)
		}
		st.outbox = kept
		return nil
	})
	return n, err
}

// ---- копирование ----

func (st *memState) clone() *memState {
	cp := &memState{
		orders:   make(map[string]*domain.Order, len(st.orders)),
		payments: make(map[string]*domain.Payment, len(st.payments)),
		products: make(map[string]*domain.Product, len(st.products)),
		carts:    make(map[string][]domain.CartItem, len(st.carts)),
		outbox:   make([]*outbox.Record, 0, len(st.outbox)),
		seq:      st.seq,
	}
	for k, v := range st.orders {
		cp.orders[k] = cloneOrder(v)
	}
	for k, v := range st.payments {
		p := *v
		cp.payments[k] = &p
	}
	for k, v := range st.products {
		p := *v
		cp.products[k] = &p
	}
	for k, v := range st.carts {
		cp.carts[k] = append([]domain.CartItem(nil), v...)
	}
	for _, r := range st.outbox {
		rec := *r
		cp.outbox = append(cp.outbox, &rec)
	}
	return cp
}

func (st *memState) paymentsOf(orderID string) []domain.Payment {
	var list []domain.Payment
	for _, p := range st.payments {
		if p.OrderID == orderID {
			list = append(list, *p)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list
}

func cloneOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Items = append([]domain.OrderItem(nil), o.Items...)
	return &cp
}
