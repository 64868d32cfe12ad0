package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/shopfront/internal/domain"
)

type purchaseResponse struct {
	OrderID      string    `json:"order_id"`
	ProductTitle string    `json:"product_title"`
	Quantity     int64     `json:"quantity"`
	Timestamp    time.Time `json:"timestamp"`
}

func (s *Server) getOwnPurchases(c *gin.Context) {
	account, err := s.accounts.Get(c.Request.Context(), s.customerID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}

	purchases := make([]purchaseResponse, 0, len(account.Purchases))
	for _, record := range account.Purchases {
		purchases = append(purchases, purchaseResponse{
			OrderID:      record.OrderID,
			ProductTitle: record.ProductTitle,
			Quantity:     record.Quantity,
			Timestamp:    record.Timestamp,
		})
	}
	c.JSON(http.StatusOK, gin.H{"purchases": purchases})
}

func (s *Server) setPrivacy(c *gin.Context) {
	var req struct {
		Public bool `json:"public"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("body must contain a boolean public flag"))
		return
	}

	if err := s.accounts.SetPrivacy(c.Request.Context(), s.customerID(c), req.Public); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"public": req.Public})
}

type accountResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email,omitempty"`
	Role        string    `json:"role"`
	Public      bool      `json:"public"`
	JoinedAt    time.Time `json:"joined_at"`
	TotalOrders int       `json:"total_orders"`
}

func (s *Server) createAccount(c *gin.Context) {
	var req struct {
		ID    string `json:"id" binding:"required"`
		Name  string `json:"name" binding:"required"`
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("id and name are required"))
		return
	}

	role := domain.Role(req.Role)
	if req.Role == "" {
		role = domain.RoleCustomer
	}
	if !role.Valid() {
		c.JSON(http.StatusBadRequest, errorBody("unsupported role"))
		return
	}

	account := domain.CustomerAccount{
		ID:       req.ID,
		Name:     req.Name,
		Email:    req.Email,
		Role:     role,
		JoinedAt: time.Now().UTC(),
	}
	if err := s.accounts.Create(c.Request.Context(), account); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toAccountResponse(account))
}

func (s *Server) listCustomers(c *gin.Context) {
	accounts, err := s.accounts.List(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	customers := make([]accountResponse, 0, len(accounts))
	for _, account := range accounts {
		customers = append(customers, toAccountResponse(account))
	}
	c.JSON(http.StatusOK, gin.H{"customers": customers})
}

func toAccountResponse(account domain.CustomerAccount) accountResponse {
	orders := map[string]struct{}{}
	for _, record := range account.Purchases {
		orders[record.OrderID] = struct{}{}
	}
	return accountResponse{
		ID:          account.ID,
		Name:        account.Name,
		Email:       account.Email,
		Role:        string(account.Role),
		Public:      account.PrivacyFlag,
		JoinedAt:    account.JoinedAt,
		TotalOrders: len(orders),
	}
}
