package pizza

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/pratapladhani/pizza-mcp-agents/pkg/errors"
	"github.com/pratapladhani/pizza-mcp-agents/pkg/tools"
	"github.com/pratapladhani/pizza-mcp-agents/pkg/validation"
)

// Server identity advertised to MCP clients
const (
	ServerName    = "pizza-mcp"
	ServerVersion = "1.0.0"
	Description   = "Pizza tools to interact with the pizza API. Use these tools whenever you need " +
		"information about pizzas, toppings, and orders. You can also use them to place new pizza " +
		"orders and manage existing orders."
)

// Order quantity bounds per item
const (
	MinQuantity = 1
	MaxQuantity = 20
)

// OrderItem is one line of a new order
type OrderItem struct {
	PizzaID         string   `json:"pizzaId"`
	Quantity        int      `json:"quantity"`
	ExtraToppingIDs []string `json:"extraToppingIds,omitempty"`
}

// NewOrder is the body of POST /api/orders
type NewOrder struct {
	UserID   string      `json:"userId"`
	Nickname string      `json:"nickname,omitempty"`
	Items    []OrderItem `json:"items"`
}

func stringRule(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: description}
}

func idRule(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: description, MinLength: jsonschema.Ptr(1)}
}

func orderItemRule() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"pizzaId": idRule("ID of the pizza to order"),
			"quantity": {
				Type:        "integer",
				Description: fmt.Sprintf("Number of pizzas, between %d and %d", MinQuantity, MaxQuantity),
				Minimum:     jsonschema.Ptr(float64(MinQuantity)),
				Maximum:     jsonschema.Ptr(float64(MaxQuantity)),
			},
			"extraToppingIds": {
				Type:        "array",
				Description: "IDs of extra toppings to add",
				Items:       idRule("Topping ID"),
			},
		},
		Required: []string{"pizzaId", "quantity"},
	}
}

// Tools returns the pizza tool descriptors in registration order
func Tools(c *Client) []tools.Descriptor {
	return []tools.Descriptor{
		{
			Name:        "get_pizzas",
			Description: "Get a list of all pizzas in the menu",
			Handler: func(ctx context.Context, _ tools.Arguments) (string, error) {
				return c.GetMenu(ctx, "/api/pizzas", "/api/pizzas", nil)
			},
		},
		{
			Name:        "get_pizza_by_id",
			Description: "Get a specific pizza by its ID",
			Schema: tools.NewSchema(tools.Shape{
				"id": tools.Required(idRule("ID of the pizza to retrieve")),
			}),
			Handler: func(ctx context.Context, args tools.Arguments) (string, error) {
				id, err := pathID(args, "id")
				if err != nil {
					return "", err
				}
				return c.GetMenu(ctx, "/api/pizzas/{id}", "/api/pizzas/"+id, nil)
			},
		},
		{
			Name:        "get_toppings",
			Description: "Get a list of all toppings in the menu",
			Schema: tools.NewSchema(tools.Shape{
				"category": tools.Optional(stringRule("Category of toppings to filter by")),
			}),
			Handler: func(ctx context.Context, args tools.Arguments) (string, error) {
				category, err := validation.OptionalString(args, "category")
				if err != nil {
					return "", err
				}
				query := url.Values{}
				if category != "" {
					query.Set("category", category)
				}
				return c.GetMenu(ctx, "/api/toppings", "/api/toppings", query)
			},
		},
		{
			Name:        "get_topping_by_id",
			Description: "Get a specific topping by its ID",
			Schema: tools.NewSchema(tools.Shape{
				"id": tools.Required(idRule("ID of the topping to retrieve")),
			}),
			Handler: func(ctx context.Context, args tools.Arguments) (string, error) {
				id, err := pathID(args, "id")
				if err != nil {
					return "", err
				}
				return c.GetMenu(ctx, "/api/toppings/{id}", "/api/toppings/"+id, nil)
			},
		},
		{
			Name:        "get_topping_categories",
			Description: "Get a list of all topping categories",
			Handler: func(ctx context.Context, _ tools.Arguments) (string, error) {
				return c.GetMenu(ctx, "/api/toppings/categories", "/api/toppings/categories", nil)
			},
		},
		{
			Name:        "get_orders",
			Description: "Get a list of orders in the system, optionally filtered by user, status, or age",
			Schema: tools.NewSchema(tools.Shape{
				"userId": tools.Optional(stringRule("Filter orders by user ID")),
				"status": tools.Optional(stringRule("Filter by order status, comma-separated (e.g. \"pending,in-preparation\")")),
				"last":   tools.Optional(stringRule("Only orders created in this period (e.g. \"60m\", \"2h\")")),
			}),
			Handler: func(ctx context.Context, args tools.Arguments) (string, error) {
				query := url.Values{}
				for _, key := range []string{"userId", "status", "last"} {
					v, err := validation.OptionalString(args, key)
					if err != nil {
						return "", err
					}
					if v != "" {
						query.Set(key, v)
					}
				}
				return c.Get(ctx, "/api/orders", "/api/orders", query)
			},
		},
		{
			Name:        "get_order_by_id",
			Description: "Get a specific order by its ID",
			Schema: tools.NewSchema(tools.Shape{
				"id": tools.Required(idRule("ID of the order to retrieve")),
			}),
			Handler: func(ctx context.Context, args tools.Arguments) (string, error) {
				id, err := pathID(args, "id")
				if err != nil {
					return "", err
				}
				return c.Get(ctx, "/api/orders/{id}", "/api/orders/"+id, nil)
			},
		},
		{
			Name:        "place_order",
			Description: "Place a new order with pizzas (requires userId)",
			Schema: tools.NewSchema(tools.Shape{
				"userId":   tools.Required(idRule("ID of the user placing the order")),
				"nickname": tools.Optional(stringRule("Optional nickname shown for the order")),
				"items": tools.Required(&jsonschema.Schema{
					Type:        "array",
					Description: "List of items to order",
					Items:       orderItemRule(),
					MinItems:    jsonschema.Ptr(1),
				}),
			}),
			Handler: func(ctx context.Context, args tools.Arguments) (string, error) {
				order, err := parseOrder(args)
				if err != nil {
					return "", err
				}
				return c.Post(ctx, "/api/orders", "/api/orders", order)
			},
		},
		{
			Name:        "delete_order_by_id",
			Description: "Cancel an order if it has not yet been started (status must be 'pending', requires userId)",
			Schema: tools.NewSchema(tools.Shape{
				"id":     tools.Required(idRule("ID of the order to cancel")),
				"userId": tools.Required(idRule("ID of the user that placed the order")),
			}),
			Handler: func(ctx context.Context, args tools.Arguments) (string, error) {
				id, err := pathID(args, "id")
				if err != nil {
					return "", err
				}
				userID, err := validation.RequireString(args, "userId")
				if err != nil {
					return "", err
				}
				return c.Delete(ctx, "/api/orders/{id}", "/api/orders/"+id, url.Values{"userId": {userID}})
			},
		},
	}
}

func pathID(args tools.Arguments, key string) (string, error) {
	raw, err := validation.RequireString(args, key)
	if err != nil {
		return "", err
	}
	return validation.ValidateID(key, raw)
}

// parseOrder builds the order body from validated arguments
func parseOrder(args tools.Arguments) (*NewOrder, error) {
	userID, err := validation.RequireString(args, "userId")
	if err != nil {
		return nil, err
	}
	nickname, err := validation.OptionalString(args, "nickname")
	if err != nil {
		return nil, err
	}

	rawItems, ok := args["items"].([]any)
	if !ok || len(rawItems) == 0 {
		return nil, errors.NewValidationError(errors.ErrCodeInvalidParams,
			"items must be a non-empty array", nil).
			WithContext("argument", "items")
	}

	order := &NewOrder{UserID: userID, Nickname: nickname, Items: make([]OrderItem, 0, len(rawItems))}
	for i, raw := range rawItems {
		fields, ok := raw.(map[string]any)
		if !ok {
			return nil, errors.NewValidationError(errors.ErrCodeInvalidParams,
				fmt.Sprintf("items[%d] must be an object", i), nil)
		}

		pizzaID, err := validation.RequireString(fields, "pizzaId")
		if err != nil {
			return nil, err
		}
		quantity, err := validation.RequireInt(fields, "quantity")
		if err != nil {
			return nil, err
		}
		if quantity < MinQuantity || quantity > MaxQuantity {
			return nil, errors.NewValidationError(errors.ErrCodeInvalidParams,
				fmt.Sprintf("items[%d].quantity must be between %d and %d", i, MinQuantity, MaxQuantity), nil)
		}
		toppings, err := validation.OptionalStringSlice(fields, "extraToppingIds")
		if err != nil {
			return nil, err
		}

		order.Items = append(order.Items, OrderItem{
			PizzaID:         pizzaID,
			Quantity:        quantity,
			ExtraToppingIDs: toppings,
		})
	}
	return order, nil
}
