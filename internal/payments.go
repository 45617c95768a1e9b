package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// PromptRequest fields keep the JSON types the client sent; they are forwarded unchanged.
type PromptRequest struct {
	Phone           any `json:"phone"`
	Amount          any `json:"amount"`
	LocalID         any `json:"local_id"`
	TransactionDesc any `json:"transaction_desc,omitempty"`
}

// missingFields treats absent, null, "", 0 and false as missing.
func (r PromptRequest) missingFields() bool {
	return !truthy(r.Phone) || !truthy(r.Amount) || !truthy(r.LocalID)
}

// Prompter starts an STK push on the customer's phone.
type Prompter interface {
	RunPrompt(ctx context.Context, req PromptRequest) (any, error)
}

// NestlinkClient talks to the NestLink runPrompt endpoint.
type NestlinkClient struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func NewNestlinkClient(baseURL, apiKey string, timeout time.Duration) *NestlinkClient {
	return &NestlinkClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

func (n *NestlinkClient) RunPrompt(ctx context.Context, req PromptRequest) (any, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, n.BaseURL+"/runPrompt", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Api-Secret", n.APIKey)

	resp, err := n.HTTP.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	// the provider's JSON is relayed whatever the HTTP status
	var out any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("nestlink: bad response (HTTP %d): %w", resp.StatusCode, err)
	}
	return out, nil
}

// providerStatus is the "status" field of an object reply, nil for anything else.
func providerStatus(data any) any {
	if m, ok := data.(map[string]any); ok {
		return m["status"]
	}
	return nil
}

// truthy follows loose JSON truthiness: false, 0, "", null and absent are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case string:
		return t != ""
	}
	return true
}

func RunPrompt(p Prompter, ledger PaymentLedger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req PromptRequest
		dec := json.NewDecoder(c.Request.Body)
		dec.UseNumber()
		if err := dec.Decode(&req); err != nil {
			c.JSON(400, gin.H{"status": false, "msg": "Invalid request body"})
			return
		}
		if req.missingFields() {
			c.JSON(400, gin.H{"status": false, "msg": "Missing required fields"})
			return
		}

		data, err := p.RunPrompt(c.Request.Context(), req)
		recordAttempt(c.Request.Context(), ledger, req, data, err)
		if err != nil {
			log.Printf("runPrompt %v: %v", req.LocalID, err)
			c.JSON(500, gin.H{"status": false, "msg": "Server error", "error": err.Error()})
			return
		}

		if truthy(providerStatus(data)) {
			c.JSON(200, gin.H{"status": true, "msg": "STK Push sent", "data": data})
			return
		}
		c.JSON(200, gin.H{"status": false, "msg": "Payment failed", "data": data})
	}
}

func recordAttempt(ctx context.Context, ledger PaymentLedger, req PromptRequest, data any, callErr error) {
	if ledger == nil {
		return
	}
	a := PaymentAttempt{
		LocalID:   fieldString(req.LocalID),
		Phone:     fieldString(req.Phone),
		Amount:    fieldString(req.Amount),
		Success:   callErr == nil && truthy(providerStatus(data)),
		CreatedAt: time.Now().UTC(),
	}
	if req.TransactionDesc != nil {
		a.Description = fieldString(req.TransactionDesc)
	}
	if m, ok := data.(map[string]any); ok {
		a.Response = m
	}
	if callErr != nil {
		a.Error = callErr.Error()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := ledger.Record(ctx, a); err != nil {
		log.Printf("payment ledger %s: %v", a.LocalID, err)
	}
}

func fieldString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
