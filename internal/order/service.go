// Package order turns an inbound order into an order number plus a QR code
// reference.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/nicexiaonie/order-dispenser/internal/encoder"
)

var ErrInvalidOrder = errors.New("invalid order")

// Order modes.
const (
	ModeDineIn   = "Dine-In"
	ModeTakeaway = "Takeaway"
	ModeDelivery = "Delivery"
)

// Request is the order metadata supplied by a client.
type Request struct {
	CustomerName string `json:"customerName" validate:"max=64"`
	PizzaType    string `json:"pizzaType" validate:"required,max=64"`
	OrderMode    string `json:"orderMode" validate:"oneof=Dine-In Takeaway Delivery"`
	TableNo      string `json:"tableNo" validate:"max=16"`
}

// Response is returned to the client once an order number has been issued.
type Response struct {
	OrderNo      int64  `json:"orderNo"`
	QRURL        string `json:"qrUrl"`
	CustomerName string `json:"customerName"`
	PizzaType    string `json:"pizzaType"`
	OrderMode    string `json:"orderMode"`
	TableNo      string `json:"tableNo"`
}

// Allocator issues order numbers.
type Allocator interface {
	Next(ctx context.Context) (int64, error)
}

// Encoder renders an order number into a retrievable artifact.
type Encoder interface {
	Encode(ctx context.Context, value int64) (encoder.Artifact, error)
}

// Service creates orders.
type Service struct {
	alloc    Allocator
	enc      Encoder
	log      logrus.FieldLogger
	validate *validator.Validate
}

// NewService creates an order service.
func NewService(alloc Allocator, enc Encoder, log logrus.FieldLogger) *Service {
	return &Service{
		alloc:    alloc,
		enc:      enc,
		log:      log,
		validate: validator.New(),
	}
}

// Normalize trims every field and fills in the default order mode.
func Normalize(req Request) Request {
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.PizzaType = strings.TrimSpace(req.PizzaType)
	req.TableNo = strings.TrimSpace(req.TableNo)
	req.OrderMode = normalizeMode(req.OrderMode)
	return req
}

func normalizeMode(mode string) string {
	mode = strings.TrimSpace(mode)
	switch strings.ToLower(strings.NewReplacer("-", "", " ", "", "_", "").Replace(mode)) {
	case "":
		return ModeDineIn
	case "dinein":
		return ModeDineIn
	case "takeaway", "takeout":
		return ModeTakeaway
	case "delivery":
		return ModeDelivery
	default:
		return mode
	}
}

// Validate normalizes req and checks it, returning an ErrInvalidOrder error
// describing the first bad field.
func (s *Service) Validate(req Request) (Request, error) {
	req = Normalize(req)
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return req, fmt.Errorf("%w: %s", ErrInvalidOrder, describe(verrs[0]))
		}
		return req, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	return req, nil
}

func describe(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

// Create validates req, allocates the next order number and renders its QR
// code. An allocated number whose QR code fails to render is not reused.
func (s *Service) Create(ctx context.Context, req Request) (Response, error) {
	req, err := s.Validate(req)
	if err != nil {
		return Response{}, err
	}

	orderNo, err := s.alloc.Next(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("allocate order number: %w", err)
	}

	art, err := s.enc.Encode(ctx, orderNo)
	if err != nil {
		s.log.WithError(err).WithField("order_no", orderNo).Error("Order number issued without QR code")
		return Response{}, fmt.Errorf("encode order %d: %w", orderNo, err)
	}

	s.log.WithFields(logrus.Fields{
		"order_no": orderNo,
		"mode":     req.OrderMode,
		"pizza":    req.PizzaType,
		"customer": req.CustomerName,
		"table":    req.TableNo,
		"qr":       art.Ref,
	}).Info("New order")

	return Response{
		OrderNo:      orderNo,
		QRURL:        art.Ref,
		CustomerName: req.CustomerName,
		PizzaType:    req.PizzaType,
		OrderMode:    req.OrderMode,
		TableNo:      req.TableNo,
	}, nil
}
