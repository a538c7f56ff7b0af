package handler

import (
	"io"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

const maxBodyBytes = 1 << 20

type checkoutRequest struct {
	User struct {
		ID    string
		Name  string
		Email string
		Tier  string
	}
	Items []struct {
		Name  string
		Price decimal.Decimal
	}
	PaymentToken string
}

func decodeCheckoutRequest(r io.Reader) (*checkoutRequest, error) {
	var req checkoutRequest
	d := jx.Decode(io.LimitReader(r, maxBodyBytes), 4096)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "user":
			return d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				switch key {
				case "id":
					req.User.ID, err = decodeID(d)
				case "name":
					req.User.Name, err = d.Str()
				case "email":
					req.User.Email, err = d.Str()
				case "tier":
					req.User.Tier, err = d.Str()
				default:
					err = d.Skip()
				}
				if err != nil {
					return errors.Wrapf(err, "user.%s", key)
				}
				return nil
			})
		case "items":
			req.Items = nil
			return d.Arr(func(d *jx.Decoder) error {
				idx := len(req.Items)
				req.Items = append(req.Items, struct {
					Name  string
					Price decimal.Decimal
				}{})
				return d.Obj(func(d *jx.Decoder, key string) error {
					var err error
					switch key {
					case "name":
						req.Items[idx].Name, err = d.Str()
					case "price":
						req.Items[idx].Price, err = decodeDecimal(d)
					default:
						err = d.Skip()
					}
					if err != nil {
						return errors.Wrapf(err, "items[%d].%s", idx, key)
					}
					return nil
				})
			})
		case "paymentToken":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "paymentToken")
			}
			req.PaymentToken = v
			return nil
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// decodeID accepts numeric or string identifiers.
func decodeID(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Number {
		n, err := d.Num()
		return n.String(), err
	}
	return d.Str()
}

// decodeDecimal accepts JSON numbers or numeric strings.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = n.String()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = s
	default:
		return decimal.Decimal{}, errors.New("expected number")
	}
	return decimal.NewFromString(raw)
}

func (req *checkoutRequest) cart() (checkout.Cart, error) {
	user, err := checkout.NewUser(req.User.ID, req.User.Name, req.User.Email, checkout.ParseTier(req.User.Tier))
	if err != nil {
		return checkout.Cart{}, err
	}
	items := make([]checkout.Item, 0, len(req.Items))
	for _, it := range req.Items {
		item, err := checkout.NewItem(it.Name, it.Price)
		if err != nil {
			return checkout.Cart{}, err
		}
		items = append(items, item)
	}
	return checkout.NewCart(user, items...), nil
}

func money(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.StringFixed(2)))
}

func encodeOrder(e *jx.Encoder, o *checkout.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("user", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("id", func(e *jx.Encoder) { e.Str(o.User.ID) })
				e.Field("name", func(e *jx.Encoder) { e.Str(o.User.Name) })
				e.Field("email", func(e *jx.Encoder) { e.Str(o.User.Email) })
				e.Field("tier", func(e *jx.Encoder) { e.Str(string(o.User.Tier)) })
			})
		})
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
						e.Field("price", func(e *jx.Encoder) { money(e, it.Price) })
					})
				}
			})
		})
		e.Field("amount", func(e *jx.Encoder) { money(e, o.Amount) })
		e.Field("transactionRef", func(e *jx.Encoder) { e.Str(o.TransactionRef) })
		e.Field("createdAt", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339)) })
	})
}

func encodeResult(res *checkout.Result) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) { e.Str(res.Outcome.String()) })
		if res.Approved() {
			e.Field("order", func(e *jx.Encoder) { encodeOrder(e, res.Order) })
			return
		}
		e.Field("reason", func(e *jx.Encoder) { e.Str(res.DeclineReason) })
	})
	return e.Bytes()
}

// storedResponse is what the idempotency store keeps for a key.
type storedResponse struct {
	Status int
	Body   []byte
}

func (s storedResponse) encode() []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) { e.Int(s.Status) })
		e.Field("body", func(e *jx.Encoder) { e.Raw(s.Body) })
	})
	return e.Bytes()
}

func decodeStoredResponse(data []byte) (storedResponse, error) {
	var s storedResponse
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "status":
			s.Status, err = d.Int()
		case "body":
			var raw jx.Raw
			raw, err = d.Raw()
			s.Body = append([]byte(nil), raw...)
		default:
			err = d.Skip()
		}
		return err
	})
	return s, err
}
