package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SaleUseCase contém a lógica de fechamento de venda
type SaleUseCase struct {
	ledger  Ledger
	tracer  trace.Tracer
	metrics *Metrics
	now     func() time.Time
}

// NewSaleUseCase cria uma nova instância de SaleUseCase
func NewSaleUseCase(ledger Ledger, tracer trace.Tracer, metrics *Metrics) *SaleUseCase {
	return &SaleUseCase{
		ledger:  ledger,
		tracer:  tracer,
		metrics: metrics,
		now:     time.Now,
	}
}

// reservedLine é um decremento já aplicado, candidato a compensação
type reservedLine struct {
	productID string
	quantity  int
}

// CommitSale valida o carrinho, reserva o estoque com decremento condicional e persiste a venda.
// Se qualquer decremento ou a inserção falhar, os decrementos já aplicados são devolvidos.
func (uc *SaleUseCase) CommitSale(ctx context.Context, cashierID string, req CreateSaleRequest) (*Sale, error) {
	ctx, span := uc.tracer.Start(ctx, "sales.CommitSale")
	defer span.End()

	span.SetAttributes(
		attribute.String("cashier_id", cashierID),
		attribute.Int("items", len(req.Items)),
	)

	sale, err := uc.commitSale(ctx, cashierID, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sale rejected")
		uc.metrics.SaleRejected(ctx, rejectionReason(err))
		return nil, err
	}

	span.SetAttributes(attribute.String("sale_id", sale.ID))
	uc.metrics.SaleCommitted(ctx)
	return sale, nil
}

func (uc *SaleUseCase) commitSale(ctx context.Context, cashierID string, req CreateSaleRequest) (*Sale, error) {
	log.Printf("➡️ [COMMIT SALE] CashierID: %s | Items: %d", cashierID, len(req.Items))

	customerName, err := validateSaleRequest(req)
	if err != nil {
		log.Printf("❌ [COMMIT SALE] Validation failed: %v", err)
		return nil, err
	}

	// 1. Identidade do caixa
	cashier, err := uc.ledger.GetCashier(ctx, cashierID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{Resource: "cashier", ID: cashierID}
		}
		return nil, fmt.Errorf("failed to resolve cashier: %w", err)
	}

	// 2. Verificação prévia de estoque, sem mutação
	if err := uc.checkStock(ctx, req.Items); err != nil {
		log.Printf("❌ [COMMIT SALE] Stock check failed: %v", err)
		return nil, err
	}

	// 3. Monta a venda com nome/categoria/preço enviados pelo carrinho
	paymentMethod := strings.TrimSpace(req.PaymentMethod)
	if paymentMethod == "" {
		paymentMethod = defaultPaymentMethod
	}
	sale := NewSale(cashier, req.Items, paymentMethod, customerName, uc.now())
	if !req.Total.IsZero() && !req.Total.Equal(sale.Total) {
		log.Printf("⚠️ [COMMIT SALE] Submitted total %s differs from computed total %s", req.Total, sale.Total)
	}

	// 4. Reserva: decremento condicional por linha
	reserved, err := uc.reserveStock(ctx, sale.Items)
	if err != nil {
		return nil, uc.compensate(ctx, reserved, err)
	}

	// 5. Persiste a venda
	saleID, err := uc.ledger.InsertSale(ctx, sale)
	if err != nil {
		log.Printf("❌ [COMMIT SALE] Failed to insert sale: %v", err)
		return nil, uc.compensate(ctx, reserved, fmt.Errorf("failed to insert sale: %w", err))
	}
	sale.ID = saleID

	// 6. Relê a venda persistida
	persisted, err := uc.ledger.GetSale(ctx, saleID)
	if err != nil {
		log.Printf("⚠️ [COMMIT SALE] Sale %s committed but re-read failed: %v", saleID, err)
		return sale, nil
	}

	log.Printf("✅ [COMMIT SALE] Success: SaleID=%s | Total=%s", persisted.ID, persisted.Total)
	return persisted, nil
}

func validateSaleRequest(req CreateSaleRequest) (string, error) {
	if len(req.Items) == 0 {
		return "", &ValidationError{Message: "No items in sale"}
	}

	customerName := strings.TrimSpace(req.CustomerName)
	if customerName == "" {
		return "", &ValidationError{Message: "Customer name is required"}
	}

	for _, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return "", &ValidationError{Message: "Every item needs a product_id"}
		}
		if item.Quantity <= 0 {
			return "", &ValidationError{Message: fmt.Sprintf("Invalid quantity for %s", itemLabel(item))}
		}
		if item.Price.IsNegative() {
			return "", &ValidationError{Message: fmt.Sprintf("Invalid price for %s", itemLabel(item))}
		}
	}

	return customerName, nil
}

func itemLabel(item SaleItemRequest) string {
	if item.Name != "" {
		return item.Name
	}
	return item.ProductID
}

// checkStock lê o estoque atual somando linhas repetidas do mesmo produto
func (uc *SaleUseCase) checkStock(ctx context.Context, items []SaleItemRequest) error {
	requested := make(map[string]int, len(items))
	for _, item := range items {
		requested[item.ProductID] += item.Quantity
	}

	checked := make(map[string]bool, len(items))
	for _, item := range items {
		if checked[item.ProductID] {
			continue
		}
		checked[item.ProductID] = true

		product, err := uc.ledger.GetProduct(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return &NotFoundError{Resource: "product", ID: item.ProductID, Label: itemLabel(item)}
			}
			return fmt.Errorf("failed to read product %s: %w", item.ProductID, err)
		}

		if product.Stock < requested[item.ProductID] {
			return &InsufficientStockError{
				ProductID: product.ID,
				Name:      product.Name,
				Available: product.Stock,
				Requested: requested[item.ProductID],
			}
		}
	}
	return nil
}

// reserveStock aplica os decrementos condicionais na ordem do carrinho.
// Retorna as linhas aplicadas até o primeiro erro.
func (uc *SaleUseCase) reserveStock(ctx context.Context, items []SaleItem) ([]reservedLine, error) {
	reserved := make([]reservedLine, 0, len(items))
	for _, item := range items {
		remaining, err := uc.ledger.DecrementStock(ctx, item.ProductID, item.Quantity)
		if err != nil {
			log.Printf("❌ [DECREASE] ProductID=%s | Quantity=%d | Error=%v", item.ProductID, item.Quantity, err)

			var stockErr *InsufficientStockError
			switch {
			case errors.As(err, &stockErr):
				if stockErr.Name == "" {
					stockErr.Name = item.Name
				}
				return reserved, stockErr
			case errors.Is(err, ErrNotFound):
				return reserved, &NotFoundError{Resource: "product", ID: item.ProductID, Label: item.Name}
			default:
				return reserved, fmt.Errorf("failed to decrease stock for %s: %w", item.ProductID, err)
			}
		}

		reserved = append(reserved, reservedLine{productID: item.ProductID, quantity: item.Quantity})
		log.Printf("✅ [DECREASE] ProductID=%s | Quantity=%d | Remaining=%d", item.ProductID, item.Quantity, remaining)
	}
	return reserved, nil
}

// compensate devolve ao estoque as linhas já decrementadas, em ordem reversa.
// A falha original é sempre retornada; falhas de compensação são anexadas a ela.
func (uc *SaleUseCase) compensate(ctx context.Context, reserved []reservedLine, cause error) error {
	if len(reserved) == 0 {
		return cause
	}

	log.Printf("↩️ [COMPENSATE] Reverting %d stock decrement(s): %v", len(reserved), cause)

	// A compensação roda até o fim mesmo que o chamador tenha desistido
	ctx = context.WithoutCancel(ctx)

	var failures []error
	for i := len(reserved) - 1; i >= 0; i-- {
		line := reserved[i]
		if err := uc.ledger.IncrementStock(ctx, line.productID, line.quantity); err != nil {
			log.Printf("❌ [COMPENSATE] ProductID=%s | Quantity=%d | Error=%v", line.productID, line.quantity, err)
			failures = append(failures, fmt.Errorf("compensate %s (+%d): %w", line.productID, line.quantity, err))
			continue
		}
		log.Printf("♻️  [COMPENSATE] ProductID=%s restored +%d", line.productID, line.quantity)
	}

	uc.metrics.StockCompensated(ctx, len(reserved)-len(failures))

	if len(failures) > 0 {
		return errors.Join(append([]error{cause}, failures...)...)
	}
	return cause
}

func rejectionReason(err error) string {
	var (
		validationErr *ValidationError
		stockErr      *InsufficientStockError
		notFoundErr   *NotFoundError
	)
	switch {
	case errors.As(err, &validationErr):
		return "validation"
	case errors.As(err, &stockErr):
		return "insufficient_stock"
	case errors.As(err, &notFoundErr):
		return "not_found"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "internal"
	}
}

// SalesQueryUseCase atende as consultas de vendas
type SalesQueryUseCase struct {
	ledger Ledger
}

// NewSalesQueryUseCase cria uma nova instância de SalesQueryUseCase
func NewSalesQueryUseCase(ledger Ledger) *SalesQueryUseCase {
	return &SalesQueryUseCase{ledger: ledger}
}

const (
	defaultSalesLimit = 100
	mySalesLimit      = 50
)

// ListSales lista todas as vendas paginadas
func (uc *SalesQueryUseCase) ListSales(ctx context.Context, limit, offset int) ([]Sale, error) {
	if limit <= 0 {
		limit = defaultSalesLimit
	}
	if offset < 0 {
		offset = 0
	}
	return uc.ledger.ListSales(ctx, SaleFilter{Limit: limit, Offset: offset})
}

// MySales lista as últimas vendas do caixa
func (uc *SalesQueryUseCase) MySales(ctx context.Context, cashierID string) ([]Sale, error) {
	return uc.ledger.ListSales(ctx, SaleFilter{CashierID: cashierID, Limit: mySalesLimit})
}

// SalesByDateRange lista as vendas dentro do intervalo [from, to]
func (uc *SalesQueryUseCase) SalesByDateRange(ctx context.Context, from, to time.Time) ([]Sale, error) {
	if from.IsZero() || to.IsZero() {
		return nil, &ValidationError{Message: "Start date and end date required"}
	}
	if to.Before(from) {
		return nil, &ValidationError{Message: "End date must not be before start date"}
	}
	return uc.ledger.ListSales(ctx, SaleFilter{From: from, To: to})
}

// ProductUseCase contém as ações de gestão do catálogo
type ProductUseCase struct {
	ledger Ledger
	now    func() time.Time
}

// NewProductUseCase cria uma nova instância de ProductUseCase
func NewProductUseCase(ledger Ledger) *ProductUseCase {
	return &ProductUseCase{ledger: ledger, now: time.Now}
}

// ListProducts lista o catálogo, opcionalmente filtrado por categoria
func (uc *ProductUseCase) ListProducts(ctx context.Context, category string) ([]Product, error) {
	return uc.ledger.ListProducts(ctx, ProductFilter{Category: category})
}

// ListCategories lista as categorias existentes
func (uc *ProductUseCase) ListCategories(ctx context.Context) ([]string, error) {
	return uc.ledger.ListCategories(ctx)
}

// CreateProduct valida e insere um novo produto
func (uc *ProductUseCase) CreateProduct(ctx context.Context, product Product) (*Product, error) {
	product.Name = strings.TrimSpace(product.Name)
	product.Category = strings.TrimSpace(product.Category)
	if product.Name == "" || product.Category == "" {
		return nil, &ValidationError{Message: "Missing required fields"}
	}
	if product.Price.IsNegative() {
		return nil, &ValidationError{Message: "Price must not be negative"}
	}
	if product.Stock < 0 {
		return nil, &ValidationError{Message: "Stock must not be negative"}
	}

	now := uc.now()
	product.CreatedAt = now
	product.UpdatedAt = now
	if err := uc.ledger.InsertProduct(ctx, &product); err != nil {
		return nil, fmt.Errorf("failed to add product: %w", err)
	}

	log.Printf("✅ [PRODUCT] Created %s (%s)", product.ID, product.Name)
	return &product, nil
}

// UpdateProduct aplica uma atualização parcial
func (uc *ProductUseCase) UpdateProduct(ctx context.Context, id string, patch ProductPatch) (*Product, error) {
	if patch.Price != nil && patch.Price.IsNegative() {
		return nil, &ValidationError{Message: "Price must not be negative"}
	}
	if patch.Stock != nil && *patch.Stock < 0 {
		return nil, &ValidationError{Message: "Stock must not be negative"}
	}

	product, err := uc.ledger.UpdateProduct(ctx, id, patch)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{Resource: "product", ID: id}
		}
		return nil, fmt.Errorf("failed to update product: %w", err)
	}
	return product, nil
}

// DeleteProduct remove um produto do catálogo
func (uc *ProductUseCase) DeleteProduct(ctx context.Context, id string) error {
	if err := uc.ledger.DeleteProduct(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return &NotFoundError{Resource: "product", ID: id}
		}
		return fmt.Errorf("failed to delete product: %w", err)
	}
	log.Printf("✅ [PRODUCT] Deleted %s", id)
	return nil
}

// Restock repõe unidades de um produto
func (uc *ProductUseCase) Restock(ctx context.Context, id string, quantity int) (*Product, error) {
	if quantity <= 0 {
		return nil, &ValidationError{Message: "Restock quantity must be positive"}
	}
	if err := uc.ledger.IncrementStock(ctx, id, quantity); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{Resource: "product", ID: id}
		}
		return nil, fmt.Errorf("failed to restock product: %w", err)
	}
	log.Printf("📦 [RESTOCK] ProductID=%s +%d", id, quantity)
	return uc.ledger.GetProduct(ctx, id)
}
