package main

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound é retornado pelo Ledger quando o documento não existe
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable indica que o Ledger está inacessível ou estourou o timeout
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ValidationError rejeita a requisição antes de qualquer mutação
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NotFoundError indica que o caixa ou um produto referenciado não existe
type NotFoundError struct {
	Resource string
	ID       string
	Label    string
}

func (e *NotFoundError) Error() string {
	switch {
	case e.Resource == "cashier":
		return "User not found"
	case e.Label != "":
		return fmt.Sprintf("Product not found: %s", e.Label)
	default:
		return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
	}
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InsufficientStockError carrega o estoque disponível para exibição no caixa
type InsufficientStockError struct {
	ProductID string
	Name      string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	name := e.Name
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("Insufficient stock for %s. Available: %d", name, e.Available)
}
