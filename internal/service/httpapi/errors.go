package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/shopfront/internal/domain"
)

func errorBody(message string) gin.H {
	return gin.H{"error": message}
}

// writeError переводит доменные ошибки в HTTP-статусы API.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case domain.IsOutOfStock(err):
		var oos *domain.OutOfStockError
		body := errorBody(err.Error())
		if errors.As(err, &oos) {
			body["product_id"] = oos.ProductID
		}
		c.JSON(http.StatusConflict, body)
	case errors.Is(err, domain.ErrCommitConflict):
		body := errorBody(err.Error())
		body["retryable"] = true
		c.JSON(http.StatusConflict, body)
	case domain.IsNotFound(err):
		c.JSON(http.StatusNotFound, errorBody(err.Error()))
	case domain.IsCommitTimeout(err):
		c.JSON(http.StatusGatewayTimeout, errorBody(err.Error()))
	case errors.Is(err, domain.ErrCartEmpty),
		errors.Is(err, domain.ErrCartProductRequired),
		errors.Is(err, domain.ErrCartQtyInvalid),
		errors.Is(err, domain.ErrCustomerRequired):
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, domain.ErrDuplicateAccount):
		c.JSON(http.StatusConflict, errorBody(err.Error()))
	default:
		s.logger.WithError(err).Error("unhandled api error")
		c.JSON(http.StatusInternalServerError, errorBody("internal error"))
	}
}
