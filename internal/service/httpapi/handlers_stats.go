package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) getPublicSoldTotals(c *gin.Context) {
	totals, err := s.stats.PublicSoldTotals(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"totals": totals})
}

func (s *Server) getAdminSoldTotals(c *gin.Context) {
	totals, err := s.stats.AdminSoldTotals(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"totals": totals})
}

func (s *Server) getAdminSoldDetail(c *gin.Context) {
	rows, err := s.stats.AdminSoldDetail(c.Request.Context(), c.Param("title"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_title": c.Param("title"), "buyers": rows})
}

// getCustomerTotals отдаёт разбивку покупок клиента. Чужие данные
// доступны только администратору.
func (s *Server) getCustomerTotals(c *gin.Context) {
	targetID := c.Param("id")
	callerID := s.customerID(c)

	if targetID != callerID {
		caller, err := s.accounts.Get(c.Request.Context(), callerID)
		if err != nil || !caller.IsAdmin() {
			c.JSON(http.StatusForbidden, errorBody("cannot view another customer's totals"))
			return
		}
	}

	totals, err := s.stats.PerCustomerTotals(c.Request.Context(), targetID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"customer_id": targetID, "totals": totals})
}

type catalogItemResponse struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	PriceMinor  int64  `json:"price_minor"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description,omitempty"`
	ImageRef    string `json:"image_ref,omitempty"`
	StockQty    *int64 `json:"stock_qty,omitempty"`
	SoldCount   int64  `json:"sold_count"`
}

// getCatalog объединяет товары с публичными счётчиками продаж по названию.
func (s *Server) getCatalog(c *gin.Context) {
	products, err := s.products.List(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	totals, err := s.stats.PublicSoldTotals(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	items := make([]catalogItemResponse, 0, len(products))
	for _, p := range products {
		items = append(items, catalogItemResponse{
			ID:          p.ID,
			Title:       p.Title,
			PriceMinor:  p.PriceMinor,
			Category:    p.Category,
			Description: p.Description,
			ImageRef:    p.ImageRef,
			StockQty:    p.StockQty,
			SoldCount:   totals[p.Title],
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}
