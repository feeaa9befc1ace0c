package email

import (
	"fmt"
	"strings"
)

// namePlaceholder is replaced with the customer's name at send time.
const namePlaceholder = "{{ customer_name }}"

const fallbackName = "Valued Customer"

func varOr(vars map[string]any, key, def string) string {
	if v, ok := vars[key]; ok && v != nil {
		if s := fmt.Sprint(v); s != "" {
			return s
		}
	}
	return def
}

func loyaltyTemplate(discount int, vars map[string]any) string {
	promo := varOr(vars, "promo_code", fmt.Sprintf("LOYAL%d", discount))
	expires := varOr(vars, "expires", "2024-12-31")
	return fmt.Sprintf(`
Dear %s,

Thank you for being a valued customer! As a token of our appreciation for your loyalty, we're offering you an exclusive %d%% discount on your next purchase.

Use promo code: %s
Valid until: %s

Shop now and save on all your favorite items!

Best regards,
The Team
`, namePlaceholder, discount, promo, expires)
}

func promotionTemplate(product string, discount int, vars map[string]any) string {
	name := varOr(vars, "product_name", product)
	price := varOr(vars, "special_price", fmt.Sprintf("%d%% off", discount))
	return fmt.Sprintf(`
Dear %s,

Great news! The %s you've been interested in is now available with a special discount.

🎉 %s - Limited Time Only!

Based on your previous purchases, we think you'll love this new addition to our %s collection.

Shop now before this offer expires!

Best regards,
The Team
`, namePlaceholder, name, price, product)
}

func winbackTemplate(discount int, vars map[string]any) string {
	promo := varOr(vars, "promo_code", fmt.Sprintf("COMEBACK%d", discount))
	return fmt.Sprintf(`
Hi %s,

We miss you! It's been a while since your last visit, and we'd love to welcome you back with a special offer.

🎁 %d%% OFF your next order!
Use code: %s

Come back and see what's new - we've got some exciting products we think you'll love.

Welcome back!
The Team
`, namePlaceholder, discount, promo)
}

func customTemplate(body, sender string) string {
	return fmt.Sprintf(`
Dear %s,

%s

Best regards,
%s
`, namePlaceholder, body, sender)
}

func personalize(template, name string) string {
	if name == "" {
		name = fallbackName
	}
	return strings.ReplaceAll(template, namePlaceholder, name)
}
