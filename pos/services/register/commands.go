package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// RootOptions contém as flags globais do caixa
type RootOptions struct {
	Endpoints []string
	Timeout   time.Duration
	UserID    string
	Role      string

	gateway *Gateway
}

// NewRootCommand cria o comando raiz do caixa
func NewRootCommand(cfg *Config) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "register",
		Short: "POS register client",
		Long:  "Cashier register that talks to the replicated inventory nodes through a failover gateway.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			gateway, err := NewGateway(opts.Endpoints, opts.Timeout)
			if err != nil {
				return err
			}
			gateway.SetIdentity(opts.UserID, opts.Role)
			opts.gateway = gateway
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringSliceVarP(&opts.Endpoints, "endpoint", "e", cfg.Endpoints, "backend endpoints, in failover order")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", cfg.Timeout, "per-request timeout")
	cmd.PersistentFlags().StringVarP(&opts.UserID, "user", "u", cfg.UserID, "cashier/manager user id")
	cmd.PersistentFlags().StringVar(&opts.Role, "role", cfg.Role, "user role (cashier|manager)")

	cmd.AddCommand(NewProductsCommand(opts))
	cmd.AddCommand(NewSellCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewHealthCommand(opts))

	return cmd
}

// --- products ---

// NewProductsCommand lista o catálogo
func NewProductsCommand(opts *RootOptions) *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "products",
		Short: "List the product catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			products, err := opts.gateway.ListProducts(cmd.Context(), category)
			if err != nil {
				return err
			}
			printProducts(cmd.OutOrStdout(), products)
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "only list products of this category")
	return cmd
}

func printProducts(w io.Writer, products []Product) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCATEGORY\tPRICE\tSTOCK")
	for _, p := range products {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", p.ID, p.Name, p.Category, p.Price.StringFixed(2), p.Stock)
	}
	tw.Flush()
}

// --- sell ---

type lineQuantity struct {
	productID string
	quantity  int
}

// parseLine lê uma linha no formato <product-id>:<quantidade>
func parseLine(value string) (lineQuantity, error) {
	idx := strings.LastIndex(value, ":")
	if idx <= 0 || idx == len(value)-1 {
		return lineQuantity{}, fmt.Errorf("invalid item %q: expected <product-id>:<quantity>", value)
	}
	qty, err := strconv.Atoi(value[idx+1:])
	if err != nil {
		return lineQuantity{}, fmt.Errorf("invalid quantity in %q: %w", value, err)
	}
	return lineQuantity{productID: value[:idx], quantity: qty}, nil
}

// NewSellCommand fecha uma venda
func NewSellCommand(opts *RootOptions) *cobra.Command {
	var (
		customer string
		payment  string
		items    []string
	)

	cmd := &cobra.Command{
		Use:   "sell",
		Short: "Commit a sale",
		Long: `Commit a sale for the identified cashier.

Names, categories and prices are filled from a fresh catalog listing.

Example:
  register sell -u cashier-1 --customer "Maria" --item prod-coffee:2 --item prod-mug:1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lines := make([]lineQuantity, 0, len(items))
			for _, item := range items {
				line, err := parseLine(item)
				if err != nil {
					return err
				}
				lines = append(lines, line)
			}

			ctx := cmd.Context()
			products, err := opts.gateway.ListProducts(ctx, "")
			if err != nil {
				return fmt.Errorf("failed to load catalog: %w", err)
			}

			cart, total, err := newCart(NewCatalog(products).Lookup(), lines)
			if err != nil {
				return err
			}

			sale, err := opts.gateway.CreateSale(ctx, CreateSaleRequest{
				Items:         cart,
				Total:         total,
				PaymentMethod: payment,
				CustomerName:  customer,
			})
			if err != nil {
				var apiErr *APIError
				if errors.As(err, &apiErr) && apiErr.Available != nil {
					return fmt.Errorf("%s (available: %d)", apiErr.Message, *apiErr.Available)
				}
				return err
			}

			printSale(cmd.OutOrStdout(), sale)
			return nil
		},
	}

	cmd.Flags().StringVar(&customer, "customer", "", "customer name")
	cmd.Flags().StringVar(&payment, "payment", "cash", "payment method")
	cmd.Flags().StringArrayVar(&items, "item", nil, "line as <product-id>:<quantity> (repeatable)")
	return cmd
}

func printSale(w io.Writer, sale *Sale) {
	fmt.Fprintf(w, "Sale %s | %s | %s\n", sale.ID, sale.CreatedAt.Local().Format(time.DateTime), sale.CustomerName)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, item := range sale.Items {
		fmt.Fprintf(tw, "  %s\t%d x %s\t%s\n", item.Name, item.Quantity, item.Price.StringFixed(2), item.Subtotal.StringFixed(2))
	}
	tw.Flush()
	fmt.Fprintf(w, "  TOTAL %s (%s)\n", sale.Total.StringFixed(2), sale.PaymentMethod)
}

// --- history ---

// NewHistoryCommand lista as últimas vendas do caixa
func NewHistoryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List the identified cashier's recent sales",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sales, err := opts.gateway.MySales(cmd.Context())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if len(sales) == 0 {
				fmt.Fprintln(w, "No sales yet")
				return nil
			}
			total := decimal.Zero
			for i := range sales {
				printSale(w, &sales[i])
				total = total.Add(sales[i].Total)
			}
			fmt.Fprintf(w, "%d sale(s), %s total\n", len(sales), total.StringFixed(2))
			return nil
		},
	}
}

// --- health ---

// NewHealthCommand consulta o nó preferido
func NewHealthCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show the health of the preferred node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			health, err := opts.gateway.Health(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s via %s: %s (watcher %s, %d subscriber(s))\n",
				health.NodeID, opts.gateway.Endpoint(), health.Status, health.Watcher, health.Subscribers)
			return nil
		},
	}
}

// --- watch ---

// NewWatchCommand segue o canal de push e imprime o catálogo reconciliado a cada frame
func NewWatchCommand(opts *RootOptions) *cobra.Command {
	var reconnect time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow live catalog updates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return watch(cmd.Context(), opts.gateway, reconnect, cmd.OutOrStdout())
		},
	}

	cmd.Flags().DurationVar(&reconnect, "reconnect", time.Second, "delay before reconnecting to the next node")
	return cmd
}

// watch segue o canal de push até ctx terminar. Cada conexão parte de uma listagem nova,
// pois frames perdidos durante a queda não são reenviados.
func watch(ctx context.Context, gateway *Gateway, reconnect time.Duration, w io.Writer) error {
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(reconnect):
			}
		}

		products, err := gateway.ListProducts(ctx, "")
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if attempt == 0 {
				return fmt.Errorf("failed to load catalog: %w", err)
			}
			log.Printf("⚠️ [WATCH] Catalog resync failed: %v", err)
			continue
		}
		catalog := NewCatalog(products)
		printSummary(w, catalog)

		err = follow(ctx, gateway.PushURL(), catalog, w)
		if ctx.Err() != nil {
			return nil
		}
		log.Printf("⚠️ [WATCH] Push channel on %s lost: %v", gateway.Endpoint(), err)
		gateway.Failover()
	}
}

// follow lê frames até a conexão cair ou ctx terminar
func follow(ctx context.Context, pushURL string, catalog *Catalog, w io.Writer) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, pushURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Printf("📡 [WATCH] Connected to %s", pushURL)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var event ChangeEvent
		if err := json.Unmarshal(msg, &event); err != nil {
			log.Printf("❌ [WATCH] Invalid frame: %v", err)
			continue
		}

		applied, err := catalog.Apply(event)
		if err != nil {
			log.Printf("❌ [WATCH] %v", err)
			continue
		}
		if applied {
			printSummary(w, catalog)
		} else {
			fmt.Fprintf(w, "[%s] %s\n", time.Now().Format(time.TimeOnly), event.Type)
		}
	}
}

func printSummary(w io.Writer, catalog *Catalog) {
	count, units, low := catalog.Summary()
	fmt.Fprintf(w, "[%s] %d product(s), %d unit(s) in stock\n", time.Now().Format(time.TimeOnly), count, units)
	for _, p := range low {
		fmt.Fprintf(w, "  low stock: %s (%d)\n", p.Name, p.Stock)
	}
}
