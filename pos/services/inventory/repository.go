package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Ledger define as primitivas do armazenamento de produtos e vendas.
// Só há atomicidade por documento: nenhuma operação envolve mais de um documento.
type Ledger interface {
	GetCashier(ctx context.Context, id string) (*Cashier, error)

	GetProduct(ctx context.Context, id string) (*Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error)
	ListCategories(ctx context.Context) ([]string, error)
	InsertProduct(ctx context.Context, product *Product) error
	UpdateProduct(ctx context.Context, id string, patch ProductPatch) (*Product, error)
	DeleteProduct(ctx context.Context, id string) error

	// DecrementStock aplica o decremento somente se stock >= quantity, de forma atômica.
	// Retorna o estoque restante, *InsufficientStockError ou ErrNotFound.
	DecrementStock(ctx context.Context, productID string, quantity int) (int, error)

	// IncrementStock devolve unidades ao estoque (compensação e reposição)
	IncrementStock(ctx context.Context, productID string, quantity int) error

	InsertSale(ctx context.Context, sale *Sale) (string, error)
	GetSale(ctx context.Context, id string) (*Sale, error)
	ListSales(ctx context.Context, filter SaleFilter) ([]Sale, error)
}

// ChangeFeed é implementado pelos Ledgers que oferecem notificação nativa de mudanças
type ChangeFeed interface {
	Changes(ctx context.Context, collection string) (<-chan DocumentChange, error)
}

// PostgresLedger implementa Ledger usando PostgreSQL.
//
// Tabelas esperadas (provisionadas fora deste serviço):
//
//	users(id text, full_name text, role text)
//	products(id text default gen_random_uuid()::text, name, category, price numeric(12,2),
//	         stock integer check (stock >= 0), barcode, created_at, updated_at)
//	sales(id text default gen_random_uuid()::text, cashier_id, cashier_name, items jsonb,
//	      total numeric(12,2), payment_method, customer_name, created_at)
//
// Cada tabela observada tem um trigger AFTER INSERT/UPDATE/DELETE que executa
// pg_notify('<tabela>_changes', json_build_object('old_val', row_to_json(OLD), 'new_val', row_to_json(NEW))::text).
// O payload do NOTIFY precisa ficar abaixo de 8000 bytes; acima de notifyPayloadLimit o trigger
// envia apenas {"op": TG_OP, "id": <id>} e Changes relê o documento.
type PostgresLedger struct {
	db  *pgxpool.Pool
	dsn string
}

// NewPostgresLedger cria uma nova instância de PostgresLedger.
// dsn é usado pelos listeners LISTEN/NOTIFY, que não passam pelo pool.
func NewPostgresLedger(db *pgxpool.Pool, dsn string) *PostgresLedger {
	return &PostgresLedger{
		db:  db,
		dsn: dsn,
	}
}

const productColumns = `id, name, category, price::text, stock, barcode, created_at, updated_at`

func scanProduct(row pgx.Row) (*Product, error) {
	var (
		p     Product
		price string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Category, &price, &p.Stock, &p.Barcode, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	parsed, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("invalid price %q: %w", price, err)
	}
	p.Price = parsed
	return &p, nil
}

// GetCashier busca o caixa/gerente pelo ID
func (r *PostgresLedger) GetCashier(ctx context.Context, id string) (*Cashier, error) {
	var cashier Cashier
	err := r.db.QueryRow(ctx, `
		SELECT id, full_name, role
		FROM users WHERE id = $1
	`, id).Scan(&cashier.ID, &cashier.FullName, &cashier.Role)
	if err != nil {
		return nil, storeError("get cashier", err)
	}
	return &cashier, nil
}

// GetProduct busca um produto pelo ID
func (r *PostgresLedger) GetProduct(ctx context.Context, id string) (*Product, error) {
	product, err := scanProduct(r.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		return nil, storeError("get product", err)
	}
	return product, nil
}

// ListProducts lista os produtos ordenados por nome
func (r *PostgresLedger) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error) {
	query := `SELECT ` + productColumns + ` FROM products`
	var args []any
	if filter.Category != "" {
		query += ` WHERE category = $1`
		args = append(args, filter.Category)
	}
	query += ` ORDER BY name, id`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storeError("list products", err)
	}
	defer rows.Close()

	products := make([]Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, storeError("scan product", err)
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list products", err)
	}
	return products, nil
}

// ListCategories lista as categorias distintas do catálogo
func (r *PostgresLedger) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT category FROM products ORDER BY category`)
	if err != nil {
		return nil, storeError("list categories", err)
	}
	categories, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, storeError("list categories", err)
	}
	return categories, nil
}

// InsertProduct insere um produto e preenche o ID gerado
func (r *PostgresLedger) InsertProduct(ctx context.Context, product *Product) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO products (name, category, price, stock, barcode, created_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7)
		RETURNING id
	`, product.Name, product.Category, product.Price.String(), product.Stock, product.Barcode,
		product.CreatedAt, product.UpdatedAt).Scan(&product.ID)
	if err != nil {
		return storeError("insert product", err)
	}
	return nil
}

// UpdateProduct aplica os campos presentes no patch e retorna o documento novo
func (r *PostgresLedger) UpdateProduct(ctx context.Context, id string, patch ProductPatch) (*Product, error) {
	sets := []string{"updated_at = NOW()"}
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Category != nil {
		add("category", *patch.Category)
	}
	if patch.Price != nil {
		args = append(args, patch.Price.String())
		sets = append(sets, fmt.Sprintf("price = $%d::numeric", len(args)))
	}
	if patch.Stock != nil {
		add("stock", *patch.Stock)
	}
	if patch.Barcode != nil {
		add("barcode", *patch.Barcode)
	}

	query := `UPDATE products SET ` + strings.Join(sets, ", ") + ` WHERE id = $1 RETURNING ` + productColumns
	product, err := scanProduct(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, storeError("update product", err)
	}
	return product, nil
}

// DeleteProduct remove um produto
func (r *PostgresLedger) DeleteProduct(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return storeError("delete product", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DecrementStock decrementa o estoque com a condição stock >= quantity no próprio UPDATE
func (r *PostgresLedger) DecrementStock(ctx context.Context, productID string, quantity int) (int, error) {
	var remaining int
	err := r.db.QueryRow(ctx, `
		UPDATE products
		SET stock = stock - $2,
		    updated_at = NOW()
		WHERE id = $1 AND stock >= $2
		RETURNING stock
	`, productID, quantity).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, storeError("decrease stock", err)
	}

	// Nenhuma linha afetada: produto inexistente ou estoque insuficiente
	var (
		name      string
		available int
	)
	err = r.db.QueryRow(ctx, `SELECT name, stock FROM products WHERE id = $1`, productID).Scan(&name, &available)
	if err != nil {
		return 0, storeError("decrease stock", err)
	}
	return 0, &InsufficientStockError{
		ProductID: productID,
		Name:      name,
		Available: available,
		Requested: quantity,
	}
}

// IncrementStock aumenta o estoque de um produto
func (r *PostgresLedger) IncrementStock(ctx context.Context, productID string, quantity int) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE products
		SET stock = stock + $2,
		    updated_at = NOW()
		WHERE id = $1
	`, productID, quantity)
	if err != nil {
		return storeError("increase stock", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertSale insere a venda e retorna o ID gerado
func (r *PostgresLedger) InsertSale(ctx context.Context, sale *Sale) (string, error) {
	items, err := json.Marshal(sale.Items)
	if err != nil {
		return "", fmt.Errorf("failed to encode sale items: %w", err)
	}

	var id string
	err = r.db.QueryRow(ctx, `
		INSERT INTO sales (cashier_id, cashier_name, items, total, payment_method, customer_name, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
		RETURNING id
	`, sale.CashierID, sale.CashierName, items, sale.Total.String(), sale.PaymentMethod,
		sale.CustomerName, sale.CreatedAt).Scan(&id)
	if err != nil {
		return "", storeError("insert sale", err)
	}
	return id, nil
}

const saleColumns = `id, cashier_id, cashier_name, items, total::text, payment_method, customer_name, created_at`

func scanSale(row pgx.Row) (*Sale, error) {
	var (
		s     Sale
		items []byte
		total string
	)
	if err := row.Scan(&s.ID, &s.CashierID, &s.CashierName, &items, &total, &s.PaymentMethod, &s.CustomerName, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &s.Items); err != nil {
		return nil, fmt.Errorf("invalid sale items: %w", err)
	}
	parsed, err := decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("invalid sale total %q: %w", total, err)
	}
	s.Total = parsed
	return &s, nil
}

// GetSale busca uma venda pelo ID
func (r *PostgresLedger) GetSale(ctx context.Context, id string) (*Sale, error) {
	sale, err := scanSale(r.db.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
	if err != nil {
		return nil, storeError("get sale", err)
	}
	return sale, nil
}

// ListSales lista vendas da mais recente para a mais antiga
func (r *PostgresLedger) ListSales(ctx context.Context, filter SaleFilter) ([]Sale, error) {
	var (
		where []string
		args  []any
	)
	cond := func(expr string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(expr, len(args)))
	}
	if filter.CashierID != "" {
		cond("cashier_id = $%d", filter.CashierID)
	}
	if !filter.From.IsZero() {
		cond("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		cond("created_at <= $%d", filter.To)
	}

	query := `SELECT ` + saleColumns + ` FROM sales`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storeError("list sales", err)
	}
	defer rows.Close()

	sales := make([]Sale, 0)
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, storeError("scan sale", err)
		}
		sales = append(sales, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list sales", err)
	}
	return sales, nil
}

// Changes escuta o canal <collection>_changes via LISTEN/NOTIFY.
// O canal retornado é fechado quando ctx termina.
func (r *PostgresLedger) Changes(ctx context.Context, collection string) (<-chan DocumentChange, error) {
	channel := collection + "_changes"
	listener := pq.NewListener(r.dsn, 10*time.Second, time.Minute, func(event pq.ListenerEventType, err error) {
		if err != nil {
			log.Printf("⚠️ [CHANGEFEED] %s listener event=%d: %v", channel, event, err)
		}
	})
	if err := listener.Listen(channel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("listen %s: %w: %w", channel, ErrStoreUnavailable, err)
	}

	out := make(chan DocumentChange, 64)
	go func() {
		defer close(out)
		defer listener.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-listener.Notify:
				if !ok {
					return
				}
				// nil após reconexão: notificações do intervalo podem ter sido perdidas
				if n == nil {
					log.Printf("ℹ️ [CHANGEFEED] %s reconnected", channel)
					continue
				}
				change, err := decodeNotification(ctx, n.Extra, r.loader(collection))
				if err != nil {
					log.Printf("❌ [CHANGEFEED] %s invalid payload: %v", channel, err)
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			case <-time.After(90 * time.Second):
				go func() { _ = listener.Ping() }()
			}
		}
	}()

	return out, nil
}

// notifyPayloadLimit é o tamanho a partir do qual o trigger troca o documento pela chave
const notifyPayloadLimit = 7900

// notification é o payload publicado pelo trigger: o par completo ou, para documentos
// grandes, só a operação e o id
type notification struct {
	OldVal json.RawMessage `json:"old_val"`
	NewVal json.RawMessage `json:"new_val"`
	Op     string          `json:"op"`
	ID     string          `json:"id"`
}

type documentLoader func(ctx context.Context, id string) (any, error)

func (r *PostgresLedger) loader(collection string) documentLoader {
	switch collection {
	case CollectionProducts:
		return func(ctx context.Context, id string) (any, error) { return r.GetProduct(ctx, id) }
	case CollectionSales:
		return func(ctx context.Context, id string) (any, error) { return r.GetSale(ctx, id) }
	}
	return nil
}

// decodeNotification converte o payload do NOTIFY em DocumentChange.
// Payloads só com a chave são completados relendo o documento; o valor anterior
// fica reduzido a {"id": ...}.
func decodeNotification(ctx context.Context, payload string, load documentLoader) (DocumentChange, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return DocumentChange{}, err
	}
	if n.ID == "" {
		return DocumentChange{OldVal: orNull(n.OldVal), NewVal: orNull(n.NewVal)}, nil
	}

	key, err := json.Marshal(map[string]string{"id": n.ID})
	if err != nil {
		return DocumentChange{}, err
	}
	change := DocumentChange{OldVal: key, NewVal: json.RawMessage("null")}
	if n.Op == "INSERT" {
		change.OldVal = json.RawMessage("null")
	}
	if n.Op == "DELETE" {
		return change, nil
	}
	if load == nil {
		return DocumentChange{}, fmt.Errorf("no loader for %s notification of %s", n.Op, n.ID)
	}

	doc, err := load(ctx, n.ID)
	if errors.Is(err, ErrNotFound) {
		// removido antes da releitura
		return change, nil
	}
	if err != nil {
		return DocumentChange{}, fmt.Errorf("reload %s: %w", n.ID, err)
	}
	change.NewVal = marshalOrNull(doc)
	return change, nil
}

func orNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

// storeError traduz erros do driver para a taxonomia do Ledger
func storeError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
