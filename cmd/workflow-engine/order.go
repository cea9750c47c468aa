package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nexus-link/Nexus.Link.Sdks-sub002/internal/engine"
	"github.com/nexus-link/Nexus.Link.Sdks-sub002/pkg/api"
)

type (
	// orderEndpoints are the services the order workflow calls
	orderEndpoints struct {
		Inventory string
		Payment   string
		Notify    string
	}

	order struct {
		OrderID  string      `json:"order_id"`
		Customer string      `json:"customer"`
		Items    []orderItem `json:"items"`
	}

	orderItem struct {
		SKU      string `json:"sku"`
		Quantity int    `json:"quantity"`
	}

	reservation struct {
		Reserved bool `json:"reserved"`
	}

	payment struct {
		PaymentID string `json:"payment_id"`
	}

	orderResult struct {
		OrderID      string                 `json:"order_id"`
		Reservations map[string]reservation `json:"reservations"`
		PaymentID    string                 `json:"payment_id"`
	}
)

const (
	orderFormID = "order-fulfilment"

	paymentResource = "payments"
	paymentLimit    = 5
	paymentWindow   = time.Second
)

var errEmptyOrder = errors.New("order has no items")

func (i orderItem) String() string {
	return i.SKU
}

func orderDefinition(ep orderEndpoints) *engine.WorkflowDefinition {
	return &engine.WorkflowDefinition{
		FormID:         orderFormID,
		CapabilityName: "sales",
		Title:          "Order fulfilment",
		MajorVersion:   1,
		Run: func(ctx context.Context, r *engine.Run) (any, error) {
			var in order
			if err := r.Input(&in); err != nil {
				return nil, engine.NewWorkflowImplementationError(err)
			}

			_, err := engine.Execute(ctx,
				r.Activity(1, "validate-order",
					engine.WithTitle("Validate order"),
					engine.WithFailUrgency(api.FailUrgencyCancelWorkflow),
				),
				func(context.Context, *engine.Activity) (bool, error) {
					if len(in.Items) == 0 {
						return false, engine.NewBusinessError(
							"The order is empty", errEmptyOrder,
						)
					}
					return true, nil
				}, nil,
			)
			if err != nil {
				return nil, err
			}

			res, err := engine.ForEachParallelKeyed(ctx,
				r.Activity(2, "reserve-stock",
					engine.WithTitle("Reserve stock"),
				),
				in.Items,
				func(i orderItem) string { return i.SKU },
				func(
					ctx context.Context, l *engine.Loop, item orderItem,
				) (reservation, error) {
					return engine.AsyncAction[reservation](ctx,
						l.Activity(1, "reserve-item"),
						postJSON(ep.Inventory, item), nil,
					)
				}, nil,
			)
			if err != nil {
				return nil, err
			}

			paid, err := engine.Throttle(ctx,
				r.Activity(3, "charge-payment",
					engine.WithTitle("Charge payment"),
					engine.WithFailUrgency(api.FailUrgencyCancelWorkflow),
				),
				paymentResource, paymentLimit, paymentWindow,
				engine.Guarded[payment]{
					Then: func(ctx context.Context, a *engine.Activity) (payment, error) {
						return engine.AsyncAction[payment](ctx,
							a.Activity(1, "charge"),
							postJSON(ep.Payment, in), nil,
						)
					},
				}, nil,
			)
			if err != nil {
				return nil, err
			}

			_, err = engine.FireAndForget(ctx,
				r.Activity(4, "notify-customer",
					engine.WithFailUrgency(api.FailUrgencyIgnore),
				),
				postJSON(ep.Notify, map[string]string{
					"customer": in.Customer,
					"order_id": in.OrderID,
				}),
			)
			if err != nil {
				return nil, err
			}

			return orderResult{
				OrderID:      in.OrderID,
				Reservations: res,
				PaymentID:    paid.PaymentID,
			}, nil
		},
	}
}

func postJSON(url string, body any) engine.RequestFunc {
	return func(context.Context, *engine.Activity) (*api.AsyncRequest, error) {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		return &api.AsyncRequest{
			Method: http.MethodPost,
			URL:    url,
			Body:   raw,
		}, nil
	}
}
