package gateway

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/orderflow/internal/domain/customer"
	"github.com/xenking/orderflow/internal/domain/product"
)

// Remote identifiers may be JSON numbers or strings; both decode to string.
func decodeID(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	case jx.Null:
		return "", d.Null()
	default:
		return "", errors.Errorf("unexpected %s for id", d.Next())
	}
}

// decodeDecimal keeps the textual value of a JSON number so no precision is
// lost on the way to decimal.Decimal.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.Null {
		return decimal.Zero, d.Null()
	}
	n, err := d.Num()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(strings.Trim(n.String(), `"`))
}

func decodeOptStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func decodeCustomer(body []byte) (*customer.Customer, error) {
	var c customer.Customer
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			c.ID, err = decodeID(d)
		case "firstName":
			c.FirstName, err = decodeOptStr(d)
		case "lastName":
			c.LastName, err = decodeOptStr(d)
		case "email":
			c.Email, err = decodeOptStr(d)
		case "phone":
			c.Phone, err = decodeOptStr(d)
		case "active":
			if d.Next() == jx.Null {
				return d.Null()
			}
			c.Active, err = d.Bool()
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode customer")
	}
	return &c, nil
}

func decodeProduct(body []byte) (*product.Product, error) {
	var p product.Product
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = decodeID(d)
		case "sku":
			p.SKU, err = decodeOptStr(d)
		case "name":
			p.Name, err = decodeOptStr(d)
		case "description":
			p.Description, err = decodeOptStr(d)
		case "price":
			p.Price, err = decodeDecimal(d)
		case "stockQuantity":
			if d.Next() == jx.Null {
				return d.Null()
			}
			p.StockQuantity, err = d.Int()
		case "version":
			if d.Next() == jx.Null {
				return d.Null()
			}
			p.Version, err = d.Int64()
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode product")
	}
	return &p, nil
}

func encodeStockUpdate(productID string, qty int) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("productId")
	e.Str(productID)
	e.FieldStart("quantity")
	e.Int(qty)
	e.ObjEnd()
	return e.Bytes()
}

// decodeStockLevel reads the optional {"stockQuantity": n} body returned by
// stock mutations. Empty bodies report -1.
func decodeStockLevel(body []byte) (int, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return -1, nil
	}
	qty := -1
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		if key != "stockQuantity" || d.Next() != jx.Number {
			return d.Skip()
		}
		v, err := d.Int()
		if err != nil {
			return err
		}
		qty = v
		return nil
	})
	if err != nil {
		return -1, errors.Wrap(err, "decode stock level")
	}
	return qty, nil
}
