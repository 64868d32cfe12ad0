package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/shopfront/internal/domain"
)

const (
	idempotencyHeader = "Idempotency-Key"
	idempotencyTTL    = 24 * time.Hour
)

type checkoutLineResponse struct {
	ProductTitle string    `json:"product_title"`
	Quantity     int64     `json:"quantity"`
	Timestamp    time.Time `json:"timestamp"`
}

type checkoutResponse struct {
	OrderID     string                 `json:"order_id"`
	CustomerID  string                 `json:"customer_id"`
	Lines       []checkoutLineResponse `json:"lines"`
	TotalMinor  int64                  `json:"total_minor"`
	CompletedAt time.Time              `json:"completed_at"`
}

// checkout оформляет заказ из текущей сессии корзины. Повтор запроса
// с тем же Idempotency-Key возвращает сохранённый ответ, не создавая
// новый заказ.
func (s *Server) checkout(c *gin.Context) {
	customerID := s.customerID(c)
	snapshot := s.carts.Snapshot(customerID)

	key := c.GetHeader(idempotencyHeader)
	if key != "" && s.idempotency != nil {
		if done := s.beginIdempotent(c, key, requestHash(customerID, snapshot)); done {
			return
		}
	}

	result, err := s.engine.PlaceOrder(c.Request.Context(), customerID, snapshot)
	if err != nil {
		s.writeError(c, err)
		s.finishIdempotent(key, c.Writer.Status(), nil)
		return
	}

	s.carts.Clear(customerID)

	resp := checkoutResponse{
		OrderID:     result.OrderID,
		CustomerID:  result.CustomerID,
		Lines:       make([]checkoutLineResponse, 0, len(result.Records)),
		TotalMinor:  result.TotalMinor,
		CompletedAt: result.CompletedAt,
	}
	for _, record := range result.Records {
		resp.Lines = append(resp.Lines, checkoutLineResponse{
			ProductTitle: record.ProductTitle,
			Quantity:     record.Quantity,
			Timestamp:    record.Timestamp,
		})
	}

	c.JSON(http.StatusCreated, resp)

	if body, marshalErr := json.Marshal(resp); marshalErr == nil {
		s.finishIdempotent(key, http.StatusCreated, body)
	}
}

// beginIdempotent регистрирует ключ. Возвращает true, если ответ уже
// отправлен (повтор запроса или конфликт ключа).
func (s *Server) beginIdempotent(c *gin.Context, key, hash string) bool {
	_, err := s.idempotency.CreateProcessing(key, hash, time.Now().UTC().Add(idempotencyTTL))
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		c.JSON(http.StatusUnprocessableEntity, errorBody("idempotency key reused with a different request"))
		return true
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		record, getErr := s.idempotency.Get(key)
		if getErr != nil {
			s.writeError(c, getErr)
			return true
		}
		if record.Status == domain.IdempotencyStatusProcessing {
			c.JSON(http.StatusConflict, errorBody("request with this idempotency key is still processing"))
			return true
		}
		if record.RequestHash != hash {
			c.JSON(http.StatusUnprocessableEntity, errorBody("idempotency key reused with a different request"))
			return true
		}
		c.Data(record.HTTPStatus, "application/json", record.ResponseBody)
		return true
	default:
		s.writeError(c, err)
		return true
	}
}

// finishIdempotent сохраняет результат обработки под ключом.
// Ошибки записи только логируются: ответ клиенту уже ушёл.
func (s *Server) finishIdempotent(key string, status int, body []byte) {
	if key == "" || s.idempotency == nil {
		return
	}

	var err error
	if status >= 200 && status < 300 {
		err = s.idempotency.MarkDone(key, body, status)
	} else {
		err = s.idempotency.MarkFailed(key, body, status)
	}
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("failed to persist idempotency result")
	}
}

func requestHash(customerID string, snapshot domain.CartSnapshot) string {
	payload, _ := json.Marshal(struct {
		CustomerID string
		Snapshot   domain.CartSnapshot
	}{customerID, snapshot})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
