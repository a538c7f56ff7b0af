package checkout

import "github.com/shopspring/decimal"

// Test data builders.

func standardUser() User {
	return User{ID: "1", Name: "Usuário Padrão", Email: "normal@email.com", Tier: ParseTier("PADRAO")}
}

func premiumUser() User {
	return User{ID: "2", Name: "Usuário Premium", Email: "premium@email.com", Tier: TierPremium}
}

type cartBuilder struct {
	user  User
	items []Item
}

func newCartBuilder() *cartBuilder {
	return &cartBuilder{
		user:  standardUser(),
		items: []Item{{Name: "Item Padrão", Price: decimal.NewFromInt(100)}},
	}
}

func (b *cartBuilder) withUser(u User) *cartBuilder {
	b.user = u
	return b
}

func (b *cartBuilder) withItems(items ...Item) *cartBuilder {
	b.items = items
	return b
}

func (b *cartBuilder) empty() *cartBuilder {
	b.items = nil
	return b
}

func (b *cartBuilder) build() Cart {
	return NewCart(b.user, b.items...)
}
