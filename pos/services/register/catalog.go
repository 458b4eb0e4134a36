package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Catalog é a cópia local do catálogo, reconciliada a partir dos frames do canal de push
type Catalog struct {
	products map[string]Product
}

// NewCatalog cria o catálogo a partir de uma listagem completa
func NewCatalog(products []Product) *Catalog {
	c := &Catalog{}
	c.replace(products)
	return c
}

func (c *Catalog) replace(products []Product) {
	c.products = make(map[string]Product, len(products))
	for _, p := range products {
		c.products[p.ID] = p
	}
}

// Apply reconcilia um ChangeEvent. Frames com snapshot substituem o catálogo;
// frames só com deltas são aplicados documento a documento.
// Retorna false para eventos de outras coleções.
func (c *Catalog) Apply(event ChangeEvent) (bool, error) {
	if event.Type != eventProductsUpdate {
		return false, nil
	}

	if !isNull(event.Data) {
		var products []Product
		if err := json.Unmarshal(event.Data, &products); err != nil {
			return false, fmt.Errorf("decode products snapshot: %w", err)
		}
		c.replace(products)
		return true, nil
	}

	for _, change := range event.Changes {
		if isNull(change.NewVal) {
			var old Product
			if err := json.Unmarshal(change.OldVal, &old); err != nil {
				return false, fmt.Errorf("decode removed product: %w", err)
			}
			delete(c.products, old.ID)
			continue
		}
		var p Product
		if err := json.Unmarshal(change.NewVal, &p); err != nil {
			return false, fmt.Errorf("decode product: %w", err)
		}
		c.products[p.ID] = p
	}
	return true, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Products retorna os produtos ordenados por nome
func (c *Catalog) Products() []Product {
	products := make([]Product, 0, len(c.products))
	for _, p := range c.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool {
		if products[i].Name != products[j].Name {
			return products[i].Name < products[j].Name
		}
		return products[i].ID < products[j].ID
	})
	return products
}

// Lookup indexa o catálogo por ID
func (c *Catalog) Lookup() map[string]Product {
	index := make(map[string]Product, len(c.products))
	for id, p := range c.products {
		index[id] = p
	}
	return index
}

const lowStockThreshold = 5

// Summary resume o catálogo: produtos, unidades em estoque e itens com estoque baixo
func (c *Catalog) Summary() (products int, units int, lowStock []Product) {
	for _, p := range c.Products() {
		units += p.Stock
		if p.Stock < lowStockThreshold {
			lowStock = append(lowStock, p)
		}
	}
	return len(c.products), units, lowStock
}
