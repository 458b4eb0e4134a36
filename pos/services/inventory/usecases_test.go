package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	metrics, err := NewMetrics(otel.Meter("test"))
	require.NoError(t, err)
	return metrics
}

// newTestLedger cria um Ledger em memória com um caixa e dois produtos
func newTestLedger() *MemoryLedger {
	ledger := NewMemoryLedger()
	ledger.PutCashier(Cashier{ID: "cashier-1", FullName: "Ana Souza", Role: RoleCashier})
	ledger.PutProduct(Product{ID: "P1", Name: "Coffee", Category: "Grocery", Price: decimal.RequireFromString("45.00"), Stock: 10})
	ledger.PutProduct(Product{ID: "P2", Name: "Mug", Category: "Kitchen", Price: decimal.RequireFromString("12.50"), Stock: 3})
	return ledger
}

func newTestSaleUseCase(t *testing.T, ledger Ledger) *SaleUseCase {
	t.Helper()
	return NewSaleUseCase(ledger, otel.Tracer("test"), newTestMetrics(t))
}

func line(productID string, price string, quantity int) SaleItemRequest {
	return SaleItemRequest{
		ProductID: productID,
		Name:      productID,
		Price:     decimal.RequireFromString(price),
		Quantity:  quantity,
	}
}

func stockOf(t *testing.T, ledger Ledger, productID string) int {
	t.Helper()
	p, err := ledger.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	return p.Stock
}

func salesCount(t *testing.T, ledger Ledger) int {
	t.Helper()
	sales, err := ledger.ListSales(context.Background(), SaleFilter{})
	require.NoError(t, err)
	return len(sales)
}

func TestCommitSale_Success(t *testing.T) {
	// Arrange
	ledger := newTestLedger()
	uc := newTestSaleUseCase(t, ledger)
	req := CreateSaleRequest{
		Items:         []SaleItemRequest{line("P1", "45.00", 2)},
		Total:         decimal.RequireFromString("90.00"),
		PaymentMethod: "card",
		CustomerName:  "  Maria  ",
	}

	// Act
	sale, err := uc.CommitSale(context.Background(), "cashier-1", req)

	// Assert
	require.NoError(t, err)
	assert.NotEmpty(t, sale.ID)
	assert.Equal(t, "cashier-1", sale.CashierID)
	assert.Equal(t, "Ana Souza", sale.CashierName)
	assert.Equal(t, "Maria", sale.CustomerName)
	assert.Equal(t, "card", sale.PaymentMethod)
	assert.True(t, sale.Total.Equal(decimal.RequireFromString("90.00")), "total was %s", sale.Total)
	require.Len(t, sale.Items, 1)
	assert.True(t, sale.Items[0].Subtotal.Equal(decimal.RequireFromString("90.00")))
	assert.Equal(t, 8, stockOf(t, ledger, "P1"))
	assert.Equal(t, 1, salesCount(t, ledger))
}

func TestCommitSale_DefaultsPaymentMethod(t *testing.T) {
	ledger := newTestLedger()
	uc := newTestSaleUseCase(t, ledger)

	sale, err := uc.CommitSale(context.Background(), "cashier-1", CreateSaleRequest{
		Items:        []SaleItemRequest{line("P2", "12.50", 1)},
		CustomerName: "Joao",
	})

	require.NoError(t, err)
	assert.Equal(t, "cash", sale.PaymentMethod)
}

func TestCommitSale_TotalIsSumOfSubtotals(t *testing.T) {
	ledger := newTestLedger()
	uc := newTestSaleUseCase(t, ledger)

	// Total enviado divergente não impede a venda: o total é sempre recalculado
	sale, err := uc.CommitSale(context.Background(), "cashier-1", CreateSaleRequest{
		Items: []SaleItemRequest{
			line("P1", "45.00", 1),
			line("P2", "12.50", 3),
		},
		Total:        decimal.RequireFromString("1.00"),
		CustomerName: "Maria",
	})

	require.NoError(t, err)
	sum := decimal.Zero
	for _, item := range sale.Items {
		assert.True(t, item.Subtotal.Equal(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))))
		sum = sum.Add(item.Subtotal)
	}
	assert.True(t, sale.Total.Equal(sum))
	assert.True(t, sale.Total.Equal(decimal.RequireFromString("82.50")), "total was %s", sale.Total)
	assert.Equal(t, 9, stockOf(t, ledger, "P1"))
	assert.Equal(t, 0, stockOf(t, ledger, "P2"))
}

func TestCommitSale_InsufficientStock(t *testing.T) {
	// Arrange
	ledger := newTestLedger()
	uc := newTestSaleUseCase(t, ledger)

	// Act
	sale, err := uc.CommitSale(context.Background(), "cashier-1", CreateSaleRequest{
		Items:        []SaleItemRequest{line("P2", "12.50", 5)},
		CustomerName: "Maria",
	})

	// Assert
	assert.Nil(t, sale)
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 3, stockErr.Available)
	assert.Equal(t, 5, stockErr.Requested)
	assert.Equal(t, "Insufficient stock for Mug. Available: 3", err.Error())
	assert.Equal(t, 3, stockOf(t, ledger, "P2"))
	assert.Equal(t, 0, salesCount(t, ledger))
}

func TestCommitSale_RepeatedLinesAreSummed(t *testing.T) {
	ledger := newTestLedger()
	uc := newTestSaleUseCase(t, ledger)

	_, err := uc.CommitSale(context.Background(), "cashier-1", CreateSaleRequest{
		Items:        []SaleItemRequest{line("P2", "12.50", 2), line("P2", "12.50", 2)},
		CustomerName: "Maria",
	})

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 4, stockErr.Requested)
	assert.Equal(t, 3, stockOf(t, ledger, "P2"))
}

func TestCommitSale_Validation(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateSaleRequest
		message string
	}{
		{
			name:    "no items",
			req:     CreateSaleRequest{CustomerName: "Maria"},
			message: "No items in sale",
		},
		{
			name:    "blank customer name",
			req:     CreateSaleRequest{Items: []SaleItemRequest{line("P1", "45.00", 1)}, CustomerName: "   "},
			message: "Customer name is required",
		},
		{
			name:    "zero quantity",
			req:     CreateSaleRequest{Items: []SaleItemRequest{line("P1", "45.00", 0)}, CustomerName: "Maria"},
			message: "Invalid quantity for P1",
		},
		{
			name:    "negative price",
			req:     CreateSaleRequest{Items: []SaleItemRequest{line("P1", "-1.00", 1)}, CustomerName: "Maria"},
			message: "Invalid price for P1",
		},
		{
			name:    "missing product id",
			req:     CreateSaleRequest{Items: []SaleItemRequest{{Quantity: 1}}, CustomerName: "Maria"},
			message: "Every item needs a product_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newTestLedger()
			uc := newTestSaleUseCase(t, ledger)

			_, err := uc.CommitSale(context.Background(), "cashier-1", tt.req)

			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tt.message, validationErr.Message)
			assert.Equal(t, 10, stockOf(t, ledger, "P1"))
			assert.Equal(t, 0, salesCount(t, ledger))
		})
	}
}

func TestCommitSale_CashierNotFound(t *testing.T) {
	ledger := newTestLedger()
	uc := newTestSaleUseCase(t, ledger)

	_, err := uc.CommitSale(context.Background(), "ghost", CreateSaleRequest{
		Items:        []SaleItemRequest{line("P1", "45.00", 1)},
		CustomerName: "Maria",
	})

	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "User not found", err.Error())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 10, stockOf(t, ledger, "P1"))
}

func TestCommitSale_ProductNotFound(t *testing.T) {
	ledger := newTestLedger()
	uc := newTestSaleUseCase(t, ledger)

	item := line("missing", "1.00", 1)
	item.Name = "Tea"
	_, err := uc.CommitSale(context.Background(), "cashier-1", CreateSaleRequest{
		Items:        []SaleItemRequest{line("P1", "45.00", 1), item},
		CustomerName: "Maria",
	})

	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "Product not found: Tea", err.Error())
	assert.Equal(t, 10, stockOf(t, ledger, "P1"))
	assert.Equal(t, 0, salesCount(t, ledger))
}

// barrierLedger segura cada leitura de produto até que todas as vendas concorrentes tenham lido
type barrierLedger struct {
	*MemoryLedger
	barrier *sync.WaitGroup
}

func (b *barrierLedger) GetProduct(ctx context.Context, id string) (*Product, error) {
	p, err := b.MemoryLedger.GetProduct(ctx, id)
	b.barrier.Done()
	b.barrier.Wait()
	return p, err
}

func TestCommitSale_ConcurrentSalesNeverOversell(t *testing.T) {
	// Arrange: estoque 1, duas vendas de 1 unidade que passam juntas pela verificação prévia
	memory := NewMemoryLedger()
	memory.PutCashier(Cashier{ID: "cashier-1", FullName: "Ana Souza", Role: RoleCashier})
	memory.PutCashier(Cashier{ID: "cashier-2", FullName: "Bruno Lima", Role: RoleCashier})
	memory.PutProduct(Product{ID: "P1", Name: "Coffee", Price: decimal.RequireFromString("45.00"), Stock: 1})

	var barrier sync.WaitGroup
	barrier.Add(2)
	ledger := &barrierLedger{MemoryLedger: memory, barrier: &barrier}
	uc := newTestSaleUseCase(t, ledger)

	// Act
	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i, cashierID := range []string{"cashier-1", "cashier-2"} {
		wg.Add(1)
		go func(i int, cashierID string) {
			defer wg.Done()
			_, errs[i] = uc.CommitSale(context.Background(), cashierID, CreateSaleRequest{
				Items:        []SaleItemRequest{line("P1", "45.00", 1)},
				CustomerName: "Maria",
			})
		}(i, cashierID)
	}
	wg.Wait()

	// Assert
	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var stockErr *InsufficientStockError
		assert.ErrorAs(t, err, &stockErr)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 0, stockOf(t, memory, "P1"))
	assert.Equal(t, 1, salesCount(t, memory))
}

// failingDecrementLedger falha o decremento de um produto específico
type failingDecrementLedger struct {
	*MemoryLedger
	failOn string
	err    error
}

func (f *failingDecrementLedger) DecrementStock(ctx context.Context, productID string, quantity int) (int, error) {
	if productID == f.failOn {
		return 0, f.err
	}
	return f.MemoryLedger.DecrementStock(ctx, productID, quantity)
}

func TestCommitSale_CompensatesAppliedLinesWhenDecrementFails(t *testing.T) {
	// Arrange
	memory := newTestLedger()
	memory.PutProduct(Product{ID: "P3", Name: "Filter", Price: decimal.RequireFromString("3.90"), Stock: 50})
	ledger := &failingDecrementLedger{
		MemoryLedger: memory,
		failOn:       "P3",
		err:          ErrStoreUnavailable,
	}
	uc := newTestSaleUseCase(t, ledger)

	// Act
	_, err := uc.CommitSale(context.Background(), "cashier-1", CreateSaleRequest{
		Items: []SaleItemRequest{
			line("P1", "45.00", 2),
			line("P2", "12.50", 1),
			line("P3", "3.90", 4),
		},
		CustomerName: "Maria",
	})

	// Assert
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, 10, stockOf(t, memory, "P1"))
	assert.Equal(t, 3, stockOf(t, memory, "P2"))
	assert.Equal(t, 50, stockOf(t, memory, "P3"))
	assert.Equal(t, 0, salesCount(t, memory))
}

func TestCommitSale_CompensatesWhenRacedToInsufficientStock(t *testing.T) {
	memory := newTestLedger()
	ledger := &failingDecrementLedger{
		MemoryLedger: memory,
		failOn:       "P2",
		err:          &InsufficientStockError{ProductID: "P2", Available: 0, Requested: 1},
	}
	uc := newTestSaleUseCase(t, ledger)

	_, err := uc.CommitSale(context.Background(), "cashier-1", CreateSaleRequest{
		Items:        []SaleItemRequest{line("P1", "45.00", 3), line("P2", "12.50", 1)},
		CustomerName: "Maria",
	})

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "P2", stockErr.Name, "falls back to the cart label")
	assert.Equal(t, 10, stockOf(t, memory, "P1"))
	assert.Equal(t, 0, salesCount(t, memory))
}

// MockLedger simula o Ledger para os cenários de falha de persistência
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) GetCashier(ctx context.Context, id string) (*Cashier, error) {
	args := m.Called(ctx, id)
	if c, ok := args.Get(0).(*Cashier); ok {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLedger) GetProduct(ctx context.Context, id string) (*Product, error) {
	args := m.Called(ctx, id)
	if p, ok := args.Get(0).(*Product); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLedger) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]Product), args.Error(1)
}

func (m *MockLedger) ListCategories(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockLedger) InsertProduct(ctx context.Context, product *Product) error {
	args := m.Called(ctx, product)
	return args.Error(0)
}

func (m *MockLedger) UpdateProduct(ctx context.Context, id string, patch ProductPatch) (*Product, error) {
	args := m.Called(ctx, id, patch)
	if p, ok := args.Get(0).(*Product); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLedger) DeleteProduct(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockLedger) DecrementStock(ctx context.Context, productID string, quantity int) (int, error) {
	args := m.Called(ctx, productID, quantity)
	return args.Int(0), args.Error(1)
}

func (m *MockLedger) IncrementStock(ctx context.Context, productID string, quantity int) error {
	args := m.Called(ctx, productID, quantity)
	return args.Error(0)
}

func (m *MockLedger) InsertSale(ctx context.Context, sale *Sale) (string, error) {
	args := m.Called(ctx, sale)
	return args.String(0), args.Error(1)
}

func (m *MockLedger) GetSale(ctx context.Context, id string) (*Sale, error) {
	args := m.Called(ctx, id)
	if s, ok := args.Get(0).(*Sale); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLedger) ListSales(ctx context.Context, filter SaleFilter) ([]Sale, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]Sale), args.Error(1)
}

func mockLedgerForTwoLines() *MockLedger {
	ledger := new(MockLedger)
	ledger.On("GetCashier", mock.Anything, "cashier-1").
		Return(&Cashier{ID: "cashier-1", FullName: "Ana Souza", Role: RoleCashier}, nil)
	ledger.On("GetProduct", mock.Anything, "P1").Return(&Product{ID: "P1", Name: "Coffee", Stock: 10}, nil)
	ledger.On("GetProduct", mock.Anything, "P2").Return(&Product{ID: "P2", Name: "Mug", Stock: 3}, nil)
	ledger.On("DecrementStock", mock.Anything, "P1", 2).Return(8, nil)
	ledger.On("DecrementStock", mock.Anything, "P2", 1).Return(2, nil)
	return ledger
}

func TestCommitSale_CompensatesAllLinesWhenInsertFails(t *testing.T) {
	// Arrange
	ledger := mockLedgerForTwoLines()
	ledger.On("InsertSale", mock.Anything, mock.AnythingOfType("*main.Sale")).Return("", ErrStoreUnavailable)
	ledger.On("IncrementStock", mock.Anything, "P2", 1).Return(nil).Once()
	ledger.On("IncrementStock", mock.Anything, "P1", 2).Return(nil).Once()
	uc := newTestSaleUseCase(t, ledger)

	// Act
	_, err := uc.CommitSale(context.Background(), "cashier-1", CreateSaleRequest{
		Items:        []SaleItemRequest{line("P1", "45.00", 2), line("P2", "12.50", 1)},
		CustomerName: "Maria",
	})

	// Assert
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	ledger.AssertExpectations(t)
	ledger.AssertNotCalled(t, "GetSale", mock.Anything, mock.Anything)
}

func TestCommitSale_CompensationFailureIsReported(t *testing.T) {
	ledger := mockLedgerForTwoLines()
	compensationErr := errors.New("connection reset")
	ledger.On("InsertSale", mock.Anything, mock.Anything).Return("", ErrStoreUnavailable)
	ledger.On("IncrementStock", mock.Anything, "P2", 1).Return(compensationErr)
	ledger.On("IncrementStock", mock.Anything, "P1", 2).Return(nil)
	uc := newTestSaleUseCase(t, ledger)

	_, err := uc.CommitSale(context.Background(), "cashier-1", CreateSaleRequest{
		Items:        []SaleItemRequest{line("P1", "45.00", 2), line("P2", "12.50", 1)},
		CustomerName: "Maria",
	})

	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, compensationErr)
	// a linha restante continua sendo compensada
	ledger.AssertCalled(t, "IncrementStock", mock.Anything, "P1", 2)
}

func TestCommitSale_CompensationSurvivesCallerCancellation(t *testing.T) {
	ledger := mockLedgerForTwoLines()
	ctx, cancel := context.WithCancel(context.Background())

	ledger.On("InsertSale", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return("", context.Canceled)
	ledger.On("IncrementStock", mock.MatchedBy(func(ctx context.Context) bool {
		return ctx.Err() == nil
	}), mock.Anything, mock.Anything).Return(nil)
	uc := newTestSaleUseCase(t, ledger)

	_, err := uc.CommitSale(ctx, "cashier-1", CreateSaleRequest{
		Items:        []SaleItemRequest{line("P1", "45.00", 2), line("P2", "12.50", 1)},
		CustomerName: "Maria",
	})

	assert.ErrorIs(t, err, context.Canceled)
	ledger.AssertNumberOfCalls(t, "IncrementStock", 2)
}

func TestCommitSale_ReturnsBuiltSaleWhenReReadFails(t *testing.T) {
	ledger := mockLedgerForTwoLines()
	ledger.On("InsertSale", mock.Anything, mock.Anything).Return("sale-1", nil)
	ledger.On("GetSale", mock.Anything, "sale-1").Return(nil, ErrStoreUnavailable)
	uc := newTestSaleUseCase(t, ledger)

	sale, err := uc.CommitSale(context.Background(), "cashier-1", CreateSaleRequest{
		Items:        []SaleItemRequest{line("P1", "45.00", 2), line("P2", "12.50", 1)},
		CustomerName: "Maria",
	})

	require.NoError(t, err)
	assert.Equal(t, "sale-1", sale.ID)
	ledger.AssertNotCalled(t, "IncrementStock", mock.Anything, mock.Anything, mock.Anything)
}

func TestRejectionReason(t *testing.T) {
	assert.Equal(t, "validation", rejectionReason(&ValidationError{Message: "x"}))
	assert.Equal(t, "insufficient_stock", rejectionReason(&InsufficientStockError{}))
	assert.Equal(t, "not_found", rejectionReason(&NotFoundError{Resource: "product"}))
	assert.Equal(t, "store_unavailable", rejectionReason(errors.Join(errors.New("op"), ErrStoreUnavailable)))
	assert.Equal(t, "internal", rejectionReason(errors.New("boom")))
}

func TestSalesQueryUseCase(t *testing.T) {
	ledger := newTestLedger()
	ledger.PutCashier(Cashier{ID: "cashier-2", FullName: "Bruno Lima", Role: RoleCashier})
	uc := newTestSaleUseCase(t, ledger)
	queries := NewSalesQueryUseCase(ledger)
	ctx := context.Background()

	for _, cashierID := range []string{"cashier-1", "cashier-1", "cashier-2"} {
		_, err := uc.CommitSale(ctx, cashierID, CreateSaleRequest{
			Items:        []SaleItemRequest{line("P1", "45.00", 1)},
			CustomerName: "Maria",
		})
		require.NoError(t, err)
	}

	t.Run("list all", func(t *testing.T) {
		sales, err := queries.ListSales(ctx, 0, -1)
		require.NoError(t, err)
		assert.Len(t, sales, 3)
	})

	t.Run("paginated", func(t *testing.T) {
		sales, err := queries.ListSales(ctx, 2, 2)
		require.NoError(t, err)
		assert.Len(t, sales, 1)
	})

	t.Run("my sales", func(t *testing.T) {
		sales, err := queries.MySales(ctx, "cashier-1")
		require.NoError(t, err)
		assert.Len(t, sales, 2)
		for _, s := range sales {
			assert.Equal(t, "cashier-1", s.CashierID)
		}
	})

	t.Run("date range", func(t *testing.T) {
		now := time.Now()
		sales, err := queries.SalesByDateRange(ctx, now.Add(-time.Hour), now.Add(time.Hour))
		require.NoError(t, err)
		assert.Len(t, sales, 3)

		sales, err = queries.SalesByDateRange(ctx, now.Add(-48*time.Hour), now.Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Empty(t, sales)
	})

	t.Run("inverted date range", func(t *testing.T) {
		now := time.Now()
		_, err := queries.SalesByDateRange(ctx, now, now.Add(-time.Hour))
		var validationErr *ValidationError
		assert.ErrorAs(t, err, &validationErr)
	})
}

func TestProductUseCase(t *testing.T) {
	ledger := newTestLedger()
	uc := NewProductUseCase(ledger)
	ctx := context.Background()

	t.Run("create requires name and category", func(t *testing.T) {
		_, err := uc.CreateProduct(ctx, Product{Name: " ", Category: "Grocery"})
		var validationErr *ValidationError
		assert.ErrorAs(t, err, &validationErr)
	})

	t.Run("create", func(t *testing.T) {
		p, err := uc.CreateProduct(ctx, Product{Name: "Tea", Category: "Grocery", Price: decimal.RequireFromString("8.00"), Stock: 5})
		require.NoError(t, err)
		assert.NotEmpty(t, p.ID)
		assert.False(t, p.CreatedAt.IsZero())
		assert.Equal(t, 5, stockOf(t, ledger, p.ID))
	})

	t.Run("categories", func(t *testing.T) {
		categories, err := uc.ListCategories(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Grocery", "Kitchen"}, categories)
	})

	t.Run("list by category", func(t *testing.T) {
		products, err := uc.ListProducts(ctx, "Kitchen")
		require.NoError(t, err)
		require.Len(t, products, 1)
		assert.Equal(t, "P2", products[0].ID)
	})

	t.Run("update", func(t *testing.T) {
		name := "Big Mug"
		p, err := uc.UpdateProduct(ctx, "P2", ProductPatch{Name: &name})
		require.NoError(t, err)
		assert.Equal(t, "Big Mug", p.Name)
		assert.Equal(t, 3, p.Stock)
	})

	t.Run("update unknown", func(t *testing.T) {
		name := "x"
		_, err := uc.UpdateProduct(ctx, "nope", ProductPatch{Name: &name})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("restock", func(t *testing.T) {
		p, err := uc.Restock(ctx, "P2", 7)
		require.NoError(t, err)
		assert.Equal(t, 10, p.Stock)
	})

	t.Run("restock requires positive quantity", func(t *testing.T) {
		_, err := uc.Restock(ctx, "P2", 0)
		var validationErr *ValidationError
		assert.ErrorAs(t, err, &validationErr)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, uc.DeleteProduct(ctx, "P1"))
		assert.ErrorIs(t, uc.DeleteProduct(ctx, "P1"), ErrNotFound)
	})
}
