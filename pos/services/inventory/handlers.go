package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SaleCommitter define a interface do processador de vendas usada pelos handlers
type SaleCommitter interface {
	CommitSale(ctx context.Context, cashierID string, req CreateSaleRequest) (*Sale, error)
}

// InventoryHandler contém os handlers HTTP do nó
type InventoryHandler struct {
	sales    SaleCommitter
	queries  *SalesQueryUseCase
	products *ProductUseCase
	hub      *Hub
	watcher  Watcher
	nodeID   string
	tracer   trace.Tracer
}

// NewInventoryHandler cria uma nova instância de InventoryHandler
func NewInventoryHandler(sales SaleCommitter, queries *SalesQueryUseCase, products *ProductUseCase, hub *Hub, watcher Watcher, nodeID string, tracer trace.Tracer) *InventoryHandler {
	return &InventoryHandler{
		sales:    sales,
		queries:  queries,
		products: products,
		hub:      hub,
		watcher:  watcher,
		nodeID:   nodeID,
		tracer:   tracer,
	}
}

// setupRouter registra as rotas do nó
func setupRouter(h *InventoryHandler, serviceName string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))

	r.GET("/health", h.HealthCheck)

	r.GET("/ws", h.PushChannel)

	api := r.Group("/api")
	api.GET("/health", h.HealthCheck)
	api.GET("/realtime/products", h.ProductChangefeed)

	authed := api.Group("", identity())

	products := authed.Group("/products")
	products.GET("", h.ListProducts)
	products.GET("/categories/list", h.ListCategories)
	products.POST("", requireRole(RoleManager), h.CreateProduct)
	products.PUT("/:id", requireRole(RoleManager), h.UpdateProduct)
	products.DELETE("/:id", requireRole(RoleManager), h.DeleteProduct)
	products.POST("/:id/restock", requireRole(RoleManager), h.RestockProduct)

	sales := authed.Group("/sales")
	sales.POST("", requireRole(RoleCashier, RoleManager), h.CreateSale)
	sales.GET("", requireRole(RoleManager), h.ListSales)
	sales.GET("/my-sales", requireRole(RoleCashier), h.MySales)
	sales.GET("/date-range", requireRole(RoleManager), h.SalesByDateRange)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Route not found"})
	})

	return r
}

// --- Identidade ---

const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"
	ctxUserID      = "user_id"
	ctxUserRole    = "user_role"
)

// identity lê a identidade propagada pela camada de autenticação externa
func identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(headerUserID)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Access token required"})
			return
		}
		c.Set(ctxUserID, userID)
		c.Set(ctxUserRole, c.GetHeader(headerUserRole))
		c.Next()
	}
}

func requireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(ctxUserRole)
		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
	}
}

// respondError traduz a taxonomia de erros para status HTTP
func respondError(c *gin.Context, span trace.Span, err error, fallback string) {
	span.RecordError(err)

	var (
		validationErr *ValidationError
		stockErr      *InsufficientStockError
		notFoundErr   *NotFoundError
	)
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error()})
	case errors.As(err, &stockErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": stockErr.Error(), "available": stockErr.Available})
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundErr.Error()})
	case errors.Is(err, ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Store unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

// --- Vendas ---

// CreateSale fecha uma venda para o caixa autenticado
func (h *InventoryHandler) CreateSale(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "create_sale")
	defer span.End()

	var req CreateSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cashierID := c.GetString(ctxUserID)
	span.SetAttributes(
		attribute.String("cashier_id", cashierID),
		attribute.String("node_id", h.nodeID),
	)

	sale, err := h.sales.CommitSale(ctx, cashierID, req)
	if err != nil {
		log.Printf("ℹ️ [SALE] FAILED for CashierID=%s : %s", cashierID, err)
		respondError(c, span, err, "Failed to create sale")
		return
	}

	span.SetAttributes(attribute.String("sale_id", sale.ID))
	c.JSON(http.StatusCreated, sale)
}

// ListSales lista as vendas paginadas (gerente)
func (h *InventoryHandler) ListSales(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "list_sales")
	defer span.End()

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	sales, err := h.queries.ListSales(ctx, limit, offset)
	if err != nil {
		respondError(c, span, err, "Failed to fetch sales")
		return
	}
	c.JSON(http.StatusOK, sales)
}

// MySales lista as últimas vendas do caixa autenticado
func (h *InventoryHandler) MySales(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "my_sales")
	defer span.End()

	sales, err := h.queries.MySales(ctx, c.GetString(ctxUserID))
	if err != nil {
		respondError(c, span, err, "Failed to fetch sales")
		return
	}
	c.JSON(http.StatusOK, sales)
}

// SalesByDateRange lista as vendas entre start_date e end_date (gerente)
func (h *InventoryHandler) SalesByDateRange(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "sales_by_date_range")
	defer span.End()

	from, errFrom := parseDate(c.Query("start_date"))
	to, errTo := parseDate(c.Query("end_date"))
	if errFrom != nil || errTo != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Start date and end date required"})
		return
	}

	sales, err := h.queries.SalesByDateRange(ctx, from, to)
	if err != nil {
		respondError(c, span, err, "Failed to fetch sales")
		return
	}
	c.JSON(http.StatusOK, sales)
}

func parseDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, value)
}

// --- Produtos ---

// ListProducts lista o catálogo, com filtro opcional ?category=
func (h *InventoryHandler) ListProducts(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "list_products")
	defer span.End()

	products, err := h.products.ListProducts(ctx, c.Query("category"))
	if err != nil {
		respondError(c, span, err, "Failed to fetch products")
		return
	}
	c.JSON(http.StatusOK, products)
}

// ListCategories lista as categorias do catálogo
func (h *InventoryHandler) ListCategories(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "list_categories")
	defer span.End()

	categories, err := h.products.ListCategories(ctx)
	if err != nil {
		respondError(c, span, err, "Failed to fetch categories")
		return
	}
	c.JSON(http.StatusOK, categories)
}

// CreateProduct adiciona um produto (gerente)
func (h *InventoryHandler) CreateProduct(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "create_product")
	defer span.End()

	var req Product
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	product, err := h.products.CreateProduct(ctx, req)
	if err != nil {
		respondError(c, span, err, "Failed to add product")
		return
	}
	c.JSON(http.StatusCreated, product)
}

// UpdateProduct atualiza um produto (gerente)
func (h *InventoryHandler) UpdateProduct(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "update_product")
	defer span.End()

	var patch ProductPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	product, err := h.products.UpdateProduct(ctx, c.Param("id"), patch)
	if err != nil {
		respondError(c, span, err, "Failed to update product")
		return
	}
	c.JSON(http.StatusOK, product)
}

// DeleteProduct remove um produto (gerente)
func (h *InventoryHandler) DeleteProduct(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "delete_product")
	defer span.End()

	if err := h.products.DeleteProduct(ctx, c.Param("id")); err != nil {
		respondError(c, span, err, "Failed to delete product")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Product deleted successfully"})
}

// RestockRequest representa uma reposição de estoque
type RestockRequest struct {
	Quantity int `json:"quantity" binding:"required,gt=0"`
}

// RestockProduct repõe o estoque de um produto (gerente)
func (h *InventoryHandler) RestockProduct(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "restock_product")
	defer span.End()

	var req RestockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	product, err := h.products.Restock(ctx, c.Param("id"), req.Quantity)
	if err != nil {
		respondError(c, span, err, "Failed to restock product")
		return
	}
	c.JSON(http.StatusOK, product)
}

// HealthCheck verifica a saúde do nó
func (h *InventoryHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"service":     "inventory-service",
		"node_id":     h.nodeID,
		"watcher":     h.watcher.State().String(),
		"subscribers": h.hub.SubscriberCount(),
		"timestamp":   time.Now().UTC(),
	})
}
