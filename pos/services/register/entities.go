package main

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Product é a visão do caixa sobre um item do catálogo
type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	Barcode   string          `json:"barcode"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SaleItem é uma linha do carrinho
type SaleItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// CreateSaleRequest é o corpo de POST /api/sales
type CreateSaleRequest struct {
	Items         []SaleItem      `json:"items"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod string          `json:"payment_method"`
	CustomerName  string          `json:"customer_name"`
}

// Sale é a venda registrada pelo backend
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

// Health é a resposta de /health de um nó
type Health struct {
	Status      string `json:"status"`
	NodeID      string `json:"node_id"`
	Watcher     string `json:"watcher"`
	Subscribers int    `json:"subscribers"`
}

// DocumentChange é o par (old_val, new_val) de uma mutação
type DocumentChange struct {
	OldVal json.RawMessage `json:"old_val"`
	NewVal json.RawMessage `json:"new_val"`
}

// ChangeEvent é um frame do canal de push
type ChangeEvent struct {
	Type    string           `json:"type"`
	Data    json.RawMessage  `json:"data,omitempty"`
	Changes []DocumentChange `json:"changes,omitempty"`
}

const eventProductsUpdate = "products_update"

// newCart monta o carrinho a partir do catálogo atual
func newCart(catalog map[string]Product, quantities []lineQuantity) ([]SaleItem, decimal.Decimal, error) {
	items := make([]SaleItem, 0, len(quantities))
	total := decimal.Zero
	for _, q := range quantities {
		p, ok := catalog[q.productID]
		if !ok {
			return nil, decimal.Zero, &unknownProductError{id: q.productID}
		}
		subtotal := p.Price.Mul(decimal.NewFromInt(int64(q.quantity)))
		items = append(items, SaleItem{
			ProductID: p.ID,
			Name:      p.Name,
			Category:  p.Category,
			Price:     p.Price,
			Quantity:  q.quantity,
			Subtotal:  subtotal,
		})
		total = total.Add(subtotal)
	}
	return items, total, nil
}

type unknownProductError struct {
	id string
}

func (e *unknownProductError) Error() string {
	return "unknown product " + e.id
}
