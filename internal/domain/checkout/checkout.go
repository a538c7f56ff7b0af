package checkout

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidCart is returned when a user, item or cart violates its
	// construction invariants.
	ErrInvalidCart = errors.New("invalid cart")
	// ErrOrderNotFound is returned when a persisted order does not exist.
	ErrOrderNotFound = errors.New("order not found")
)

// MaxAmount is the largest price or total an order can record.
var MaxAmount = decimal.RequireFromString("9999999999.99")

// UnrecordedChargeError is returned when the gateway approved a charge but
// the order could not be saved. The customer has been charged.
type UnrecordedChargeError struct {
	TransactionRef string
	Err            error
}

func (e *UnrecordedChargeError) Error() string {
	return "save order: " + e.Err.Error()
}

func (e *UnrecordedChargeError) Unwrap() error {
	return e.Err
}

// Tier is a customer membership tier driving the discount policy.
type Tier string

const (
	// TierStandard pays the base amount.
	TierStandard Tier = "STANDARD"
	// TierPremium receives a 10% discount.
	TierPremium Tier = "PREMIUM"
)

// ParseTier maps s to a known tier. Unknown values fall back to TierStandard.
func ParseTier(s string) Tier {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(TierPremium):
		return TierPremium
	default:
		// Includes the legacy "PADRAO" spelling.
		return TierStandard
	}
}

// User is the owner of a cart.
type User struct {
	ID    string
	Name  string
	Email string
	Tier  Tier
}

// NewUser validates and returns a User.
func NewUser(id, name, email string, tier Tier) (User, error) {
	if id == "" {
		return User{}, errors.Wrap(ErrInvalidCart, "user id required")
	}
	if email == "" {
		return User{}, errors.Wrap(ErrInvalidCart, "user email required")
	}
	return User{ID: id, Name: name, Email: email, Tier: tier}, nil
}

// Item is a purchasable line entry.
type Item struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// NewItem validates and returns an Item.
func NewItem(name string, price decimal.Decimal) (Item, error) {
	if name == "" {
		return Item{}, errors.Wrap(ErrInvalidCart, "item name required")
	}
	if price.IsNegative() {
		return Item{}, errors.Wrapf(ErrInvalidCart, "item %q has negative price", name)
	}
	if !price.Equal(price.Round(2)) {
		return Item{}, errors.Wrapf(ErrInvalidCart, "item %q price %s has sub-cent precision", name, price)
	}
	if price.GreaterThan(MaxAmount) {
		return Item{}, errors.Wrapf(ErrInvalidCart, "item %q price exceeds %s", name, MaxAmount.StringFixed(2))
	}
	return Item{Name: name, Price: price}, nil
}

// Cart is an unpersisted collection of items owned by a user.
type Cart struct {
	User  User
	Items []Item
}

// NewCart returns a Cart owning a copy of items. An empty cart is valid.
func NewCart(user User, items ...Item) Cart {
	return Cart{User: user, Items: append([]Item(nil), items...)}
}

// Subtotal returns the sum of item prices before any discount.
func (c Cart) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range c.Items {
		sum = sum.Add(item.Price)
	}
	return sum
}

// ChargeResult is the outcome of a single gateway charge attempt.
type ChargeResult struct {
	Success        bool
	TransactionRef string
	DeclineReason  string
}

// Order is the persisted record of a successful checkout.
type Order struct {
	ID             string
	User           User
	Items          []Item
	Amount         decimal.Decimal
	TransactionRef string
	CreatedAt      time.Time
}

// PaymentGateway charges a payment instrument. A decline is reported through
// ChargeResult; a returned error means the gateway could not be reached or
// answered abnormally.
type PaymentGateway interface {
	Charge(ctx context.Context, amount decimal.Decimal, token string) (ChargeResult, error)
}

// OrderRepository persists confirmed orders and assigns their identifiers.
type OrderRepository interface {
	Save(ctx context.Context, cart Cart, amount decimal.Decimal, transactionRef string) (*Order, error)
}

// OrderReader looks up persisted orders.
type OrderReader interface {
	Get(ctx context.Context, id string) (*Order, error)
}

// Notifier delivers email messages.
type Notifier interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}
