package httpx

import (
	"fmt"
	"strings"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/xeipuuv/gojsonschema"
)

var createOrderSchema = mustSchema(`{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["orderItems", "shippingAddress"],
  "properties": {
    "orderItems": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["product", "name", "qty", "price"],
        "properties": {
          "product": { "type": "string", "minLength": 1 },
          "name":    { "type": "string", "minLength": 1 },
          "image":   { "type": "string" },
          "qty":     { "type": "integer", "minimum": 1 },
          "price":   { "type": ["number", "string"] }
        }
      }
    },
    "shippingAddress": {
      "type": "object",
      "properties": {
        "address":    { "type": "string" },
        "city":       { "type": "string" },
        "postalCode": { "type": "string" },
        "country":    { "type": "string" }
      }
    },
    "totalPrice": { "type": ["number", "string", "null"] }
  }
}`)

var statusUpdateSchema = mustSchema(`{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["status"],
  "properties": {
    "status": { "type": "string", "minLength": 1 }
  }
}`)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(err)
	}
	return s
}

// validateBody checks a JSON body against a schema. Failures are validation errors.
func validateBody(schema *gojsonschema.Schema, body []byte) error {
	res, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("%w: invalid json", orders.ErrValidation)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", orders.ErrValidation, strings.Join(msgs, "; "))
}
