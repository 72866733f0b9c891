package payment

import (
	"github.com/razorpay/razorpay-go/utils"
)

// VerifySignature reports whether signature is the gateway's signature of
// the order and payment pair under secret
func VerifySignature(secret, orderID, paymentID, signature string) bool {
	return utils.VerifyPaymentSignature(map[string]interface{}{
		"razorpay_order_id":   orderID,
		"razorpay_payment_id": paymentID,
	}, signature, secret)
}
