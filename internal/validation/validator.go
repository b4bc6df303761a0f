package validation

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	// TotalAmount must match the priced items.
	v.RegisterStructValidation(createOrderStructValidation, CreateOrderRequest{})

	return v
}

// createOrderStructValidation verifies the sum of price * quantity equals
// TotalAmount to the cent. Orders without unit prices carry only a total and
// are not checked.
func createOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderRequest)

	var sum float64
	for _, it := range req.Items {
		if it.Price == 0 {
			return
		}
		sum += float64(it.Quantity) * it.Price
	}

	sumCents := int(math.Round(sum * 100))
	amountCents := int(math.Round(req.TotalAmount * 100))
	if sumCents != amountCents {
		sl.ReportError(req.TotalAmount, "totalAmount", "TotalAmount", "amount_match_items", fmt.Sprintf("items sum %.2f != total %.2f", sum, req.TotalAmount))
	}
}
