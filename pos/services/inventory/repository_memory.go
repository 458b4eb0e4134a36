package main

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLedger implementa Ledger e ChangeFeed em memória.
// Usado em demonstrações de nó único (LEDGER_DRIVER=memory) e nos testes.
type MemoryLedger struct {
	mu       sync.Mutex
	cashiers map[string]Cashier
	products map[string]Product
	sales    map[string]Sale
	feeds    map[string][]chan DocumentChange
	now      func() time.Time
}

// NewMemoryLedger cria um Ledger vazio
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		cashiers: make(map[string]Cashier),
		products: make(map[string]Product),
		sales:    make(map[string]Sale),
		feeds:    make(map[string][]chan DocumentChange),
		now:      time.Now,
	}
}

// PutCashier registra uma identidade de caixa/gerente
func (m *MemoryLedger) PutCashier(cashier Cashier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cashiers[cashier.ID] = cashier
}

// PutProduct grava o produto como está, preservando o ID informado
func (m *MemoryLedger) PutProduct(product Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, existed := m.products[product.ID]
	m.products[product.ID] = product
	if existed {
		m.notify(CollectionProducts, &old, &product)
	} else {
		m.notify(CollectionProducts, nil, &product)
	}
}

func (m *MemoryLedger) GetCashier(_ context.Context, id string) (*Cashier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cashier, ok := m.cashiers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &cashier, nil
}

func (m *MemoryLedger) GetProduct(_ context.Context, id string) (*Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	product, ok := m.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &product, nil
}

func (m *MemoryLedger) ListProducts(_ context.Context, filter ProductFilter) ([]Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	products := make([]Product, 0, len(m.products))
	for _, p := range m.products {
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool {
		if products[i].Name != products[j].Name {
			return products[i].Name < products[j].Name
		}
		return products[i].ID < products[j].ID
	})
	return products, nil
}

func (m *MemoryLedger) ListCategories(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	categories := make([]string, 0)
	for _, p := range m.products {
		if _, ok := seen[p.Category]; ok {
			continue
		}
		seen[p.Category] = struct{}{}
		categories = append(categories, p.Category)
	}
	sort.Strings(categories)
	return categories, nil
}

func (m *MemoryLedger) InsertProduct(_ context.Context, product *Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	product.ID = uuid.New().String()
	m.products[product.ID] = *product
	m.notify(CollectionProducts, nil, product)
	return nil
}

func (m *MemoryLedger) UpdateProduct(_ context.Context, id string, patch ProductPatch) (*Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	updated := old
	if patch.Name != nil {
		updated.Name = *patch.Name
	}
	if patch.Category != nil {
		updated.Category = *patch.Category
	}
	if patch.Price != nil {
		updated.Price = *patch.Price
	}
	if patch.Stock != nil {
		updated.Stock = *patch.Stock
	}
	if patch.Barcode != nil {
		updated.Barcode = *patch.Barcode
	}
	updated.UpdatedAt = m.now()
	m.products[id] = updated
	m.notify(CollectionProducts, &old, &updated)
	return &updated, nil
}

func (m *MemoryLedger) DeleteProduct(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.products[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.products, id)
	m.notify(CollectionProducts, &old, nil)
	return nil
}

func (m *MemoryLedger) DecrementStock(_ context.Context, productID string, quantity int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.products[productID]
	if !ok {
		return 0, ErrNotFound
	}
	if old.Stock < quantity {
		return 0, &InsufficientStockError{
			ProductID: productID,
			Name:      old.Name,
			Available: old.Stock,
			Requested: quantity,
		}
	}
	updated := old
	updated.Stock -= quantity
	updated.UpdatedAt = m.now()
	m.products[productID] = updated
	m.notify(CollectionProducts, &old, &updated)
	return updated.Stock, nil
}

func (m *MemoryLedger) IncrementStock(_ context.Context, productID string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.products[productID]
	if !ok {
		return ErrNotFound
	}
	updated := old
	updated.Stock += quantity
	updated.UpdatedAt = m.now()
	m.products[productID] = updated
	m.notify(CollectionProducts, &old, &updated)
	return nil
}

func (m *MemoryLedger) InsertSale(_ context.Context, sale *Sale) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *sale
	stored.ID = uuid.New().String()
	stored.Items = append([]SaleItem(nil), sale.Items...)
	m.sales[stored.ID] = stored
	m.notify(CollectionSales, nil, &stored)
	return stored.ID, nil
}

func (m *MemoryLedger) GetSale(_ context.Context, id string) (*Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sale, ok := m.sales[id]
	if !ok {
		return nil, ErrNotFound
	}
	sale.Items = append([]SaleItem(nil), sale.Items...)
	return &sale, nil
}

func (m *MemoryLedger) ListSales(_ context.Context, filter SaleFilter) ([]Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sales := make([]Sale, 0, len(m.sales))
	for _, s := range m.sales {
		if filter.CashierID != "" && s.CashierID != filter.CashierID {
			continue
		}
		if !filter.From.IsZero() && s.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && s.CreatedAt.After(filter.To) {
			continue
		}
		sales = append(sales, s)
	}
	sort.Slice(sales, func(i, j int) bool {
		if !sales[i].CreatedAt.Equal(sales[j].CreatedAt) {
			return sales[i].CreatedAt.After(sales[j].CreatedAt)
		}
		return strings.Compare(sales[i].ID, sales[j].ID) < 0
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(sales) {
			return []Sale{}, nil
		}
		sales = sales[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(sales) {
		sales = sales[:filter.Limit]
	}
	return sales, nil
}

// Changes registra um assinante da coleção. O canal é fechado quando ctx termina.
func (m *MemoryLedger) Changes(ctx context.Context, collection string) (<-chan DocumentChange, error) {
	ch := make(chan DocumentChange, 64)

	m.mu.Lock()
	m.feeds[collection] = append(m.feeds[collection], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		feeds := m.feeds[collection]
		for i, c := range feeds {
			if c == ch {
				m.feeds[collection] = append(feeds[:i], feeds[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}

// notify deve ser chamado com m.mu travado
func (m *MemoryLedger) notify(collection string, oldVal, newVal any) {
	feeds := m.feeds[collection]
	if len(feeds) == 0 {
		return
	}

	change := DocumentChange{OldVal: marshalOrNull(oldVal), NewVal: marshalOrNull(newVal)}
	for _, ch := range feeds {
		select {
		case ch <- change:
		default:
			log.Printf("⚠️ [CHANGEFEED] %s subscriber is full, dropping change", collection)
		}
	}
}

func marshalOrNull(v any) json.RawMessage {
	switch val := v.(type) {
	case nil:
		return json.RawMessage("null")
	case *Product:
		if val == nil {
			return json.RawMessage("null")
		}
	case *Sale:
		if val == nil {
			return json.RawMessage("null")
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}
