package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type cartLineResponse struct {
	ProductID  string `json:"product_id"`
	Title      string `json:"title"`
	PriceMinor int64  `json:"price_minor"`
	Quantity   int64  `json:"quantity"`
}

type cartResponse struct {
	Lines      []cartLineResponse `json:"lines"`
	TotalMinor int64              `json:"total_minor"`
}

func (s *Server) getCart(c *gin.Context) {
	snapshot := s.carts.Snapshot(s.customerID(c))

	resp := cartResponse{Lines: make([]cartLineResponse, 0, len(snapshot))}
	for _, line := range snapshot {
		resp.Lines = append(resp.Lines, cartLineResponse{
			ProductID:  line.ProductID,
			Title:      line.TitleSnapshot,
			PriceMinor: line.PriceMinor,
			Quantity:   line.Quantity,
		})
	}
	resp.TotalMinor = snapshot.TotalMinor()

	c.JSON(http.StatusOK, resp)
}

func (s *Server) addCartItem(c *gin.Context) {
	var req struct {
		ProductID string `json:"product_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("product_id is required"))
		return
	}

	if err := s.carts.Add(c.Request.Context(), s.customerID(c), req.ProductID); err != nil {
		s.writeError(c, err)
		return
	}
	s.getCart(c)
}

func (s *Server) setCartItemQuantity(c *gin.Context) {
	var req struct {
		Quantity int64 `json:"quantity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("quantity is required"))
		return
	}

	if err := s.carts.SetQuantity(c.Request.Context(), s.customerID(c), c.Param("productId"), req.Quantity); err != nil {
		s.writeError(c, err)
		return
	}
	s.getCart(c)
}

func (s *Server) clearCart(c *gin.Context) {
	s.carts.Clear(s.customerID(c))
	c.Status(http.StatusNoContent)
}
