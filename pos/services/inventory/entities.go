package main

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Product representa um item vendável do catálogo
type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	Barcode   string          `json:"barcode"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ProductPatch contém os campos opcionais de uma atualização de produto
type ProductPatch struct {
	Name     *string          `json:"name"`
	Category *string          `json:"category"`
	Price    *decimal.Decimal `json:"price"`
	Stock    *int             `json:"stock"`
	Barcode  *string          `json:"barcode"`
}

// Cashier é a identidade (caixa ou gerente) que registra uma venda
type Cashier struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

// SaleItem é uma linha da venda, congelada no momento da venda
type SaleItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// Sale representa uma venda concluída. Vendas são imutáveis depois de criadas.
type Sale struct {
	ID            string          `json:"id"`
	CashierID     string          `json:"cashier_id"`
	CashierName   string          `json:"cashier_name"`
	Items         []SaleItem      `json:"items"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod string          `json:"payment_method"`
	CustomerName  string          `json:"customer_name"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewSale cria uma venda a partir das linhas do carrinho, recalculando subtotais e total
func NewSale(cashier *Cashier, items []SaleItemRequest, paymentMethod, customerName string, now time.Time) *Sale {
	sale := &Sale{
		CashierID:     cashier.ID,
		CashierName:   cashier.FullName,
		Items:         make([]SaleItem, 0, len(items)),
		Total:         decimal.Zero,
		PaymentMethod: paymentMethod,
		CustomerName:  customerName,
		CreatedAt:     now,
	}

	for _, item := range items {
		subtotal := item.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		sale.Items = append(sale.Items, SaleItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Category:  item.Category,
			Price:     item.Price,
			Quantity:  item.Quantity,
			Subtotal:  subtotal,
		})
		sale.Total = sale.Total.Add(subtotal)
	}

	return sale
}

// SaleItemRequest é uma linha do carrinho enviada pelo caixa
type SaleItemRequest struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// CreateSaleRequest representa a requisição de fechamento de venda
type CreateSaleRequest struct {
	Items         []SaleItemRequest `json:"items"`
	Total         decimal.Decimal   `json:"total"`
	PaymentMethod string            `json:"payment_method"`
	CustomerName  string            `json:"customer_name"`
}

// ProductFilter filtra a listagem de produtos
type ProductFilter struct {
	Category string
}

// SaleFilter filtra a listagem de vendas. Zero values significam "sem filtro".
type SaleFilter struct {
	CashierID string
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// EventType identifica a coleção observada em um ChangeEvent
type EventType string

const (
	EventProductsUpdate EventType = "products_update"
	EventSalesUpdate    EventType = "sales_update"
)

// Nomes das coleções observadas
const (
	CollectionProducts = "products"
	CollectionSales    = "sales"
)

// DocumentChange é o par (old_val, new_val) de uma mutação de documento.
// Inserções têm OldVal nulo e remoções têm NewVal nulo.
type DocumentChange struct {
	OldVal json.RawMessage `json:"old_val"`
	NewVal json.RawMessage `json:"new_val"`
}

// ChangeEvent é a notificação efêmera que trafega do Watcher para o Hub
type ChangeEvent struct {
	Type    EventType        `json:"type"`
	Data    json.RawMessage  `json:"data,omitempty"`
	Changes []DocumentChange `json:"changes,omitempty"`
}

// Roles reconhecidos
const (
	RoleCashier = "cashier"
	RoleManager = "manager"
)

const defaultPaymentMethod = "cash"
