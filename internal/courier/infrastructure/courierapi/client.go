package courierapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Sangram4321/kasturi-masale-sub000/internal/order/application"
	orderdom "github.com/Sangram4321/kasturi-masale-sub000/internal/order/domain"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/platform/apperror"
)

// Client talks to the courier aggregator's REST API. It implements the order
// application's CourierClient port.
type Client struct {
	log     *slog.Logger
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(log *slog.Logger, baseURL, apiKey string) *Client {
	return &Client{
		log:     log,
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type createShipmentReq struct {
	OrderID       string         `json:"order_id"`
	PaymentMethod string         `json:"payment_method"`
	CODAmount     string         `json:"cod_amount,omitempty"`
	Items         []shipmentItem `json:"items"`
}

type shipmentItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type createShipmentResp struct {
	AWB     string `json:"awb"`
	Courier string `json:"courier"`
}

func (c *Client) CreateShipment(ctx context.Context, o orderdom.Order) (application.ShipmentInfo, error) {
	req := createShipmentReq{
		OrderID:       o.ID,
		PaymentMethod: string(o.PaymentMethod),
		Items:         make([]shipmentItem, 0, len(o.Items)),
	}
	if o.PaymentMethod == orderdom.PaymentCOD {
		req.CODAmount = o.Pricing.Total.StringFixed(2)
	}
	for _, it := range o.Items {
		req.Items = append(req.Items, shipmentItem{Name: it.VariantName, Quantity: it.Quantity})
	}

	var resp createShipmentResp
	if err := c.do(ctx, http.MethodPost, "/shipments", req, &resp); err != nil {
		return application.ShipmentInfo{}, err
	}
	if resp.AWB == "" {
		return application.ShipmentInfo{}, apperror.External("courier_returned_empty_awb", nil)
	}
	return application.ShipmentInfo{AWB: resp.AWB, Courier: resp.Courier}, nil
}

func (c *Client) CancelShipment(ctx context.Context, awb string) error {
	return c.do(ctx, http.MethodPost, "/shipments/"+awb+"/cancel", nil, nil)
}

type trackResp struct {
	Status      string `json:"current_status"`
	Checkpoints []struct {
		Status      string `json:"status"`
		Description string `json:"description"`
		Timestamp   string `json:"timestamp"`
	} `json:"checkpoints"`
}

func (c *Client) Track(ctx context.Context, awb string) (application.TrackingInfo, error) {
	var resp trackResp
	if err := c.do(ctx, http.MethodGet, "/shipments/"+awb+"/track", nil, &resp); err != nil {
		return application.TrackingInfo{}, err
	}
	info := application.TrackingInfo{Available: true, Status: resp.Status}
	for _, cp := range resp.Checkpoints {
		info.Checkpoints = append(info.Checkpoints, application.Checkpoint{
			Status:      cp.Status,
			Description: cp.Description,
			Timestamp:   cp.Timestamp,
		})
	}
	return info, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperror.External("courier_unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.Warn("courier api error", "method", method, "path", path, "status", resp.StatusCode, "body", string(snippet))
		return apperror.External(fmt.Sprintf("courier_status_%d", resp.StatusCode), nil)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
