package handler

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/orderflow/internal/domain/order"
)

type createOrderRequest struct {
	CustomerID  string        `json:"customerId" validate:"required,max=64"`
	Notes       string        `json:"notes" validate:"max=1000"`
	TotalAmount *string       `json:"totalAmount" validate:"required"`
	Items       []itemRequest `json:"items" validate:"dive"`
}

type itemRequest struct {
	ProductID string  `json:"productId" validate:"required,max=64"`
	Quantity  int     `json:"quantity"`
	UnitPrice *string `json:"unitPrice" validate:"required"`
}

// decodeCreateOrder reads the request body. Amounts keep their JSON text so
// no precision is lost.
func decodeCreateOrder(body []byte) (*createOrderRequest, error) {
	var req createOrderRequest
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "customerId":
			req.CustomerID, err = decodeID(d)
		case "notes":
			if d.Next() == jx.Null {
				return d.Null()
			}
			req.Notes, err = d.Str()
		case "totalAmount":
			req.TotalAmount, err = decodeAmount(d)
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				it, err := decodeItem(d)
				if err != nil {
					return err
				}
				req.Items = append(req.Items, it)
				return nil
			})
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func decodeItem(d *jx.Decoder) (itemRequest, error) {
	var it itemRequest
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "productId":
			it.ProductID, err = decodeID(d)
		case "quantity":
			it.Quantity, err = d.Int()
		case "unitPrice":
			it.UnitPrice, err = decodeAmount(d)
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	return it, err
}

// decodeID accepts string and numeric identifiers.
func decodeID(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	case jx.Null:
		return "", d.Null()
	default:
		return d.Str()
	}
}

// decodeAmount returns the textual form of a number or numeric string.
func decodeAmount(d *jx.Decoder) (*string, error) {
	switch d.Next() {
	case jx.Null:
		return nil, d.Null()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return nil, err
		}
		return &s, nil
	default:
		n, err := d.Num()
		if err != nil {
			return nil, err
		}
		s := strings.Trim(n.String(), `"`)
		return &s, nil
	}
}

// maxAmountLen bounds the text of an amount before it is parsed.
const maxAmountLen = 64

func parseAmount(field, s string) (decimal.Decimal, error) {
	if len(s) > maxAmountLen {
		return decimal.Decimal{}, badRequest(field + " is too long")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, badRequest(field + " is not a valid decimal")
	}
	if !order.ValidAmount(d) {
		return decimal.Decimal{}, badRequest(fmt.Sprintf(
			"%s must have at most %d decimal places and %d integer digits",
			field, order.MaxAmountScale, order.MaxAmountIntegerDigits))
	}
	return d, nil
}

// toDomain converts a validated request.
func (r *createOrderRequest) toDomain() (order.CreateRequest, error) {
	total, err := parseAmount("totalAmount", *r.TotalAmount)
	if err != nil {
		return order.CreateRequest{}, err
	}
	out := order.CreateRequest{
		CustomerID:  r.CustomerID,
		Notes:       r.Notes,
		TotalAmount: total,
		Items:       make([]order.ItemRequest, len(r.Items)),
	}
	for i, it := range r.Items {
		price, err := parseAmount("unitPrice", *it.UnitPrice)
		if err != nil {
			return order.CreateRequest{}, err
		}
		out.Items[i] = order.ItemRequest{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: price,
		}
	}
	return out, nil
}

func encodeDecimal(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.String()))
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

func encodeConfirmation(c *order.Confirmation) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("orderId")
	e.Str(c.OrderID)
	e.FieldStart("customerId")
	e.Str(c.CustomerID)
	e.FieldStart("customerName")
	e.Str(c.CustomerName)
	e.FieldStart("orderDate")
	encodeTime(&e, c.OrderDate)
	e.FieldStart("status")
	e.Str(c.Status.String())
	e.FieldStart("totalAmount")
	encodeDecimal(&e, c.TotalAmount)
	e.FieldStart("totalItems")
	e.Int(c.TotalItems)
	e.FieldStart("confirmationNumber")
	e.Str(c.ConfirmationNumber)
	e.ObjEnd()
	return e.Bytes()
}

func encodeView(e *jx.Encoder, v *order.View) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(v.ID)
	e.FieldStart("customerId")
	e.Str(v.CustomerID)
	e.FieldStart("customerName")
	e.Str(v.CustomerName)
	e.FieldStart("orderDate")
	encodeTime(e, v.OrderDate)
	e.FieldStart("status")
	e.Str(v.Status.String())
	e.FieldStart("totalAmount")
	encodeDecimal(e, v.TotalAmount)
	e.FieldStart("notes")
	e.Str(v.Notes)
	e.FieldStart("items")
	e.ArrStart()
	for _, l := range v.Lines {
		e.ObjStart()
		e.FieldStart("id")
		e.Int64(l.ID)
		e.FieldStart("productId")
		e.Str(l.ProductID)
		e.FieldStart("productName")
		e.Str(l.ProductName)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.FieldStart("unitPrice")
		encodeDecimal(e, l.UnitPrice)
		e.FieldStart("subtotal")
		encodeDecimal(e, l.Subtotal)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

func encodeOrder(v *order.View) []byte {
	var e jx.Encoder
	encodeView(&e, v)
	return e.Bytes()
}

func encodeViews(views []*order.View) []byte {
	var e jx.Encoder
	e.ArrStart()
	for _, v := range views {
		encodeView(&e, v)
	}
	e.ArrEnd()
	return e.Bytes()
}
