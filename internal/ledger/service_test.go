package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/valecore/valecore/internal/shared"
)

// memoryRepo emulates the PostgreSQL repository including the row lock (the
// transaction mutex) and the unique request_key index.
type memoryRepo struct {
	mu       sync.Mutex
	products map[int64]Product
	vouchers map[int64]Voucher
	byKey    map[string]int64
	audits   []shared.AuditLog
	nextID   int64

	missKeyOnce   bool
	failTransient int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		products: make(map[int64]Product),
		vouchers: make(map[int64]Voucher),
		byKey:    make(map[string]int64),
	}
}

func (r *memoryRepo) addProduct(p Product) {
	r.products[p.ID] = p
}

type memoryTx struct {
	repo *memoryRepo
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failTransient > 0 {
		r.failTransient--
		return &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
	}
	snapshot := r.snapshot()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.restore(snapshot)
		return err
	}
	return nil
}

type repoState struct {
	products map[int64]Product
	vouchers map[int64]Voucher
	byKey    map[string]int64
	audits   int
	nextID   int64
}

func (r *memoryRepo) snapshot() repoState {
	s := repoState{
		products: make(map[int64]Product, len(r.products)),
		vouchers: make(map[int64]Voucher, len(r.vouchers)),
		byKey:    make(map[string]int64, len(r.byKey)),
		audits:   len(r.audits),
		nextID:   r.nextID,
	}
	for k, v := range r.products {
		s.products[k] = v
	}
	for k, v := range r.vouchers {
		s.vouchers[k] = v
	}
	for k, v := range r.byKey {
		s.byKey[k] = v
	}
	return s
}

func (r *memoryRepo) restore(s repoState) {
	r.products = s.products
	r.vouchers = s.vouchers
	r.byKey = s.byKey
	r.audits = r.audits[:s.audits]
	r.nextID = s.nextID
}

func (r *memoryRepo) GetVoucherByKey(ctx context.Context, requestKey string) (Voucher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.missKeyOnce {
		r.missKeyOnce = false
		return Voucher{}, ErrVoucherNotFound
	}
	id, ok := r.byKey[requestKey]
	if !ok {
		return Voucher{}, ErrVoucherNotFound
	}
	return r.vouchers[id], nil
}

func (r *memoryRepo) GetVoucher(ctx context.Context, tenantID, voucherID int64) (Voucher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.vouchers[voucherID]
	if !ok || v.TenantID != tenantID {
		return Voucher{}, ErrVoucherNotFound
	}
	return v, nil
}

func (r *memoryRepo) ListVouchers(ctx context.Context, filter ListFilter) ([]Voucher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Voucher
	for _, v := range r.vouchers {
		if v.TenantID != filter.TenantID {
			continue
		}
		if filter.Status != "" && v.Status != filter.Status {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Offset < len(out) {
		out = out[filter.Offset:]
	} else {
		out = nil
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *memoryRepo) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]Voucher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Voucher
	for _, v := range r.vouchers {
		if v.Status == StatusPending && v.CreatedAt.Before(cutoff) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (tx *memoryTx) GetProductForUpdate(ctx context.Context, tenantID, productID int64) (Product, error) {
	p, ok := tx.repo.products[productID]
	if !ok || p.TenantID != tenantID || !p.Active {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (tx *memoryTx) SetProductStock(ctx context.Context, productID, stock int64) error {
	p := tx.repo.products[productID]
	p.Stock = stock
	tx.repo.products[productID] = p
	return nil
}

func (tx *memoryTx) InsertVoucher(ctx context.Context, voucher Voucher) (int64, error) {
	if _, exists := tx.repo.byKey[voucher.RequestKey]; exists {
		return 0, ErrDuplicateKey
	}
	tx.repo.nextID++
	voucher.ID = tx.repo.nextID
	tx.repo.vouchers[voucher.ID] = voucher
	tx.repo.byKey[voucher.RequestKey] = voucher.ID
	return voucher.ID, nil
}

func (tx *memoryTx) GetVoucherForUpdate(ctx context.Context, tenantID, voucherID int64) (Voucher, error) {
	v, ok := tx.repo.vouchers[voucherID]
	if !ok || v.TenantID != tenantID {
		return Voucher{}, ErrVoucherNotFound
	}
	return v, nil
}

func (tx *memoryTx) SetVoucherStatus(ctx context.Context, voucherID int64, status VoucherStatus, comment string) error {
	v := tx.repo.vouchers[voucherID]
	v.Status = status
	v.Comment = comment
	tx.repo.vouchers[voucherID] = v
	return nil
}

func (tx *memoryTx) RecordAudit(ctx context.Context, entry shared.AuditLog) error {
	tx.repo.audits = append(tx.repo.audits, entry)
	return nil
}

func TestCreateVoucherDebitsStock(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(Product{ID: 1, TenantID: 10, Name: "Widget", Price: 25.5, Stock: 40, Active: true})
	svc := NewService(repo)
	ctx := context.Background()

	result, err := svc.CreateVoucher(ctx, CreateVoucherInput{
		TenantID: 10, UserID: 7, ProductID: 1, Quantity: 4, RequestKey: "req-1",
	})
	require.NoError(t, err)
	require.False(t, result.Duplicate)
	require.Equal(t, StatusPending, result.Voucher.Status)
	require.InDelta(t, 102.0, result.Voucher.Amount, 0.0001)
	require.EqualValues(t, 36, repo.products[1].Stock)

	require.Len(t, repo.audits, 2)
	require.Equal(t, "voucher:create", repo.audits[0].Action)
	require.Equal(t, "product:stock_decrease", repo.audits[1].Action)
}

func TestCreateVoucherIdempotentReplay(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(Product{ID: 1, TenantID: 10, Price: 10, Stock: 100, Active: true})
	svc := NewService(repo)
	ctx := context.Background()

	first, err := svc.CreateVoucher(ctx, CreateVoucherInput{TenantID: 10, ProductID: 1, Quantity: 3, RequestKey: "req-dup"})
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := svc.CreateVoucher(ctx, CreateVoucherInput{TenantID: 10, ProductID: 1, Quantity: 3, RequestKey: "req-dup"})
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Equal(t, first.Voucher.ID, second.Voucher.ID)

	require.EqualValues(t, 97, repo.products[1].Stock)
	require.Len(t, repo.audits, 2)
}

func TestCreateVoucherReplayIgnoresTenantAndProduct(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(Product{ID: 1, TenantID: 10, Price: 10, Stock: 100, Active: true})
	repo.addProduct(Product{ID: 2, TenantID: 10, Price: 20, Stock: 50, Active: true})
	repo.addProduct(Product{ID: 3, TenantID: 99, Price: 30, Stock: 80, Active: true})
	svc := NewService(repo)
	ctx := context.Background()

	first, err := svc.CreateVoucher(ctx, CreateVoucherInput{TenantID: 10, ProductID: 1, Quantity: 5, RequestKey: "req-dup"})
	require.NoError(t, err)
	require.False(t, first.Duplicate)
	require.EqualValues(t, 95, repo.products[1].Stock)

	// The request key domain is global: a replay aimed at another product or
	// even another tenant still resolves to the original voucher.
	sameTenantOtherProduct, err := svc.CreateVoucher(ctx, CreateVoucherInput{TenantID: 10, ProductID: 2, Quantity: 9, RequestKey: "req-dup"})
	require.NoError(t, err)
	require.True(t, sameTenantOtherProduct.Duplicate)
	require.Equal(t, first.Voucher, sameTenantOtherProduct.Voucher)

	otherTenant, err := svc.CreateVoucher(ctx, CreateVoucherInput{TenantID: 99, ProductID: 3, Quantity: 1, RequestKey: "req-dup"})
	require.NoError(t, err)
	require.True(t, otherTenant.Duplicate)
	require.Equal(t, first.Voucher, otherTenant.Voucher)

	// Exactly one debit happened, on the original product only.
	require.EqualValues(t, 95, repo.products[1].Stock)
	require.EqualValues(t, 50, repo.products[2].Stock)
	require.EqualValues(t, 80, repo.products[3].Stock)
	require.Len(t, repo.vouchers, 1)
	require.Len(t, repo.audits, 2)
}

func TestCreateVoucherDuplicateKeyRace(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(Product{ID: 1, TenantID: 10, Price: 10, Stock: 100, Active: true})
	svc := NewService(repo)
	ctx := context.Background()

	winner, err := svc.CreateVoucher(ctx, CreateVoucherInput{TenantID: 10, ProductID: 1, Quantity: 2, RequestKey: "req-race"})
	require.NoError(t, err)

	// Force the fast-path lookup to miss so the loser hits the unique index
	// inside the transaction instead.
	repo.missKeyOnce = true
	loser, err := svc.CreateVoucher(ctx, CreateVoucherInput{TenantID: 10, ProductID: 1, Quantity: 2, RequestKey: "req-race"})
	require.NoError(t, err)
	require.True(t, loser.Duplicate)
	require.Equal(t, winner.Voucher.ID, loser.Voucher.ID)
	require.EqualValues(t, 98, repo.products[1].Stock)
}

func TestCreateVoucherInsufficientStock(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(Product{ID: 1, TenantID: 10, Price: 10, Stock: 3, Active: true})
	svc := NewService(repo)

	_, err := svc.CreateVoucher(context.Background(), CreateVoucherInput{TenantID: 10, ProductID: 1, Quantity: 5, RequestKey: "req-short"})
	var stockErr *shared.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.EqualValues(t, 3, stockErr.Available)
	require.EqualValues(t, 5, stockErr.Requested)

	require.EqualValues(t, 3, repo.products[1].Stock)
	require.Empty(t, repo.vouchers)
	require.Empty(t, repo.audits)
}

func TestCreateVoucherUnknownProduct(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(Product{ID: 1, TenantID: 10, Price: 10, Stock: 50, Active: false})
	repo.addProduct(Product{ID: 2, TenantID: 99, Price: 10, Stock: 50, Active: true})
	svc := NewService(repo)
	ctx := context.Background()

	// Inactive, cross-tenant and missing products all surface the same error.
	_, err := svc.CreateVoucher(ctx, CreateVoucherInput{TenantID: 10, ProductID: 1, Quantity: 1, RequestKey: "k1"})
	require.ErrorIs(t, err, ErrProductNotFound)

	_, err = svc.CreateVoucher(ctx, CreateVoucherInput{TenantID: 10, ProductID: 2, Quantity: 1, RequestKey: "k2"})
	require.ErrorIs(t, err, ErrProductNotFound)

	_, err = svc.CreateVoucher(ctx, CreateVoucherInput{TenantID: 10, ProductID: 404, Quantity: 1, RequestKey: "k3"})
	require.ErrorIs(t, err, ErrProductNotFound)
}

func TestCreateVoucherValidation(t *testing.T) {
	svc := NewService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.CreateVoucher(ctx, CreateVoucherInput{TenantID: 10, ProductID: 1, Quantity: 0, RequestKey: "k"})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.CreateVoucher(ctx, CreateVoucherInput{TenantID: 10, ProductID: 1, Quantity: -2, RequestKey: "k"})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.CreateVoucher(ctx, CreateVoucherInput{TenantID: 10, ProductID: 1, Quantity: 1, RequestKey: "   "})
	require.ErrorIs(t, err, ErrRequestKeyRequired)

	_, err = svc.CreateVoucher(ctx, CreateVoucherInput{ProductID: 1, Quantity: 1, RequestKey: "k"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestConcurrentVouchersNeverOversell(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(Product{ID: 1, TenantID: 10, Price: 5, Stock: 7, Active: true})
	svc := NewService(repo)

	const workers = 12
	const qty = 2

	var succeeded, rejected int64
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < workers; i++ {
		key := fmt.Sprintf("burst-%d", i)
		g.Go(func() error {
			_, err := svc.CreateVoucher(ctx, CreateVoucherInput{TenantID: 10, ProductID: 1, Quantity: qty, RequestKey: key})
			mu.Lock()
			defer mu.Unlock()
			var stockErr *shared.InsufficientStockError
			switch {
			case err == nil:
				succeeded++
			case errors.As(err, &stockErr):
				rejected++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// floor(7/2) vouchers fit, the rest are rejected, stock never negative.
	require.EqualValues(t, 3, succeeded)
	require.EqualValues(t, workers-3, rejected)
	require.EqualValues(t, 1, repo.products[1].Stock)
}

func TestCreateVoucherRetriesTransient(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(Product{ID: 1, TenantID: 10, Price: 10, Stock: 10, Active: true})
	repo.failTransient = 2
	svc := NewService(repo)

	result, err := svc.CreateVoucher(context.Background(), CreateVoucherInput{TenantID: 10, ProductID: 1, Quantity: 1, RequestKey: "req-retry"})
	require.NoError(t, err)
	require.False(t, result.Duplicate)
	require.EqualValues(t, 9, repo.products[1].Stock)
}

func TestUpdateVoucherStatusTransitions(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(Product{ID: 1, TenantID: 10, Price: 10, Stock: 10, Active: true})
	svc := NewService(repo)
	ctx := context.Background()

	created, err := svc.CreateVoucher(ctx, CreateVoucherInput{TenantID: 10, ProductID: 1, Quantity: 4, RequestKey: "req-status"})
	require.NoError(t, err)

	comment := "picked up"
	updated, err := svc.UpdateVoucherStatus(ctx, 10, created.Voucher.ID, StatusCompleted, &comment)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, updated.Status)
	require.Equal(t, "picked up", updated.Comment)

	// Terminal means terminal.
	_, err = svc.UpdateVoucherStatus(ctx, 10, created.Voucher.ID, StatusCancelled, nil)
	require.ErrorIs(t, err, ErrStatusFinal)
}

func TestCancelDoesNotRestock(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(Product{ID: 1, TenantID: 10, Price: 10, Stock: 10, Active: true})
	svc := NewService(repo)
	ctx := context.Background()

	created, err := svc.CreateVoucher(ctx, CreateVoucherInput{TenantID: 10, ProductID: 1, Quantity: 6, RequestKey: "req-cancel"})
	require.NoError(t, err)
	require.EqualValues(t, 4, repo.products[1].Stock)

	_, err = svc.UpdateVoucherStatus(ctx, 10, created.Voucher.ID, StatusCancelled, nil)
	require.NoError(t, err)
	require.EqualValues(t, 4, repo.products[1].Stock)
}

func TestUpdateVoucherStatusValidation(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	_, err := svc.UpdateVoucherStatus(ctx, 10, 1, StatusPending, nil)
	require.ErrorIs(t, err, ErrInvalidStatus)

	_, err = svc.UpdateVoucherStatus(ctx, 10, 1, VoucherStatus("shipped"), nil)
	require.ErrorIs(t, err, ErrInvalidStatus)

	_, err = svc.UpdateVoucherStatus(ctx, 10, 99, StatusCompleted, nil)
	require.ErrorIs(t, err, ErrVoucherNotFound)
}

func TestVouchersAreTenantScoped(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(Product{ID: 1, TenantID: 10, Price: 10, Stock: 10, Active: true})
	svc := NewService(repo)
	ctx := context.Background()

	created, err := svc.CreateVoucher(ctx, CreateVoucherInput{TenantID: 10, ProductID: 1, Quantity: 1, RequestKey: "req-tenant"})
	require.NoError(t, err)

	_, err = svc.GetVoucher(ctx, 99, created.Voucher.ID)
	require.ErrorIs(t, err, ErrVoucherNotFound)

	_, err = svc.UpdateVoucherStatus(ctx, 99, created.Voucher.ID, StatusCompleted, nil)
	require.ErrorIs(t, err, ErrVoucherNotFound)

	others, err := svc.ListVouchers(ctx, ListFilter{TenantID: 99})
	require.NoError(t, err)
	require.Empty(t, others)
}

func TestListVouchersFilters(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(Product{ID: 1, TenantID: 10, Price: 10, Stock: 100, Active: true})
	svc := NewService(repo)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		created, err := svc.CreateVoucher(ctx, CreateVoucherInput{TenantID: 10, ProductID: 1, Quantity: 1, RequestKey: fmt.Sprintf("list-%d", i)})
		require.NoError(t, err)
		if i%2 == 0 {
			_, err = svc.UpdateVoucherStatus(ctx, 10, created.Voucher.ID, StatusCompleted, nil)
			require.NoError(t, err)
		}
	}

	pending, err := svc.ListVouchers(ctx, ListFilter{TenantID: 10, Status: StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 2)

	completed, err := svc.ListVouchers(ctx, ListFilter{TenantID: 10, Status: StatusCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 3)

	_, err = svc.ListVouchers(ctx, ListFilter{TenantID: 10, Status: VoucherStatus("bogus")})
	require.ErrorIs(t, err, ErrInvalidStatus)

	page, err := svc.ListVouchers(ctx, ListFilter{TenantID: 10, Limit: 2, Offset: 4})
	require.NoError(t, err)
	require.Len(t, page, 1)
}

func TestCancelExpired(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(Product{ID: 1, TenantID: 10, Price: 10, Stock: 100, Active: true})
	svc := NewService(repo)
	ctx := context.Background()

	stale, err := svc.CreateVoucher(ctx, CreateVoucherInput{TenantID: 10, ProductID: 1, Quantity: 1, RequestKey: "exp-old"})
	require.NoError(t, err)
	fresh, err := svc.CreateVoucher(ctx, CreateVoucherInput{TenantID: 10, ProductID: 1, Quantity: 1, RequestKey: "exp-new"})
	require.NoError(t, err)

	v := repo.vouchers[stale.Voucher.ID]
	v.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	repo.vouchers[stale.Voucher.ID] = v

	cancelled, err := svc.CancelExpired(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, cancelled)

	got, err := svc.GetVoucher(ctx, 10, stale.Voucher.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, got.Status)
	require.Contains(t, got.Comment, "expired")

	got, err = svc.GetVoucher(ctx, 10, fresh.Voucher.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
}
