package model

// All lists every persisted model, in migration order.
func All() []interface{} {
	return []interface{}{
		&UserAccount{},
		&CreditTransaction{},
		&UserPurchase{},
		&Subscription{},
		&Coupon{},
		&CouponRedemption{},
		&Product{},
		&CheckoutSession{},
		&OutboxMessage{},
	}
}
