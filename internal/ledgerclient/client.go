package ledgerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	billing "rental-billing/internal/billing/domain"
)

const defaultTimeout = 30 * time.Second

// Client is a minimal ledger REST client for file imports and order status lookups.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient constructs a ledger client. A zero timeout uses the default.
func NewClient(baseURL, token string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("ledgerclient: empty base url")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// ImportResult is the ledger's confirmation of an imported file.
type ImportResult struct {
	FileName string
	Edges    []json.RawMessage
}

// OrderStatus is the ledger's view of one invoiced order.
type OrderStatus struct {
	Reference       string              `json:"extOrderNumber"`
	Status          string              `json:"status"`
	InvoiceAmount   decimal.NullDecimal `json:"invoiceAmount"`
	RemainingAmount decimal.NullDecimal `json:"remainingAmount"`
}

type importResponse struct {
	Data *struct {
		AddImportFiles struct {
			Edges []json.RawMessage `json:"edges"`
		} `json:"addImportFiles"`
	} `json:"data"`
	Errors []json.RawMessage `json:"errors"`
}

type orderStatusRequest struct {
	ExtOrderNumbers []string `json:"extOrderNumbers"`
}

type orderStatusResponse struct {
	Rows []OrderStatus `json:"rows"`
}

// ImportFile uploads a file for import. Any error payload or an empty list of
// confirmation edges fails the whole file.
func (c *Client) ImportFile(ctx context.Context, fileType, filePath string) (ImportResult, error) {
	if fileType == "" || filePath == "" {
		return ImportResult{}, &billing.ValidationError{Field: "import", Message: "file type and path required"}
	}
	payload, err := os.ReadFile(filePath)
	if err != nil {
		return ImportResult{}, fmt.Errorf("ledgerclient: read %s: %w", filePath, err)
	}
	fileName := filepath.Base(filePath)
	path := fmt.Sprintf("/import/%s/files", fileType)

	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(payload))
	if err != nil {
		return ImportResult{}, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("filename", fileName)

	var resp importResponse
	if err := c.do(req, "import", &resp); err != nil {
		return ImportResult{}, err
	}
	if len(resp.Errors) > 0 {
		return ImportResult{}, &billing.ExternalServiceError{
			Op:  "import",
			Err: fmt.Errorf("ledger returned %d error(s): %s", len(resp.Errors), string(resp.Errors[0])),
		}
	}
	if resp.Data == nil || len(resp.Data.AddImportFiles.Edges) == 0 {
		return ImportResult{}, &billing.ExternalServiceError{Op: "import", Err: errors.New("no import confirmation edges")}
	}
	return ImportResult{FileName: fileName, Edges: resp.Data.AddImportFiles.Edges}, nil
}

// GetOrderStatuses looks up the ledger status of the given order references in one call.
// References the ledger does not know are simply absent from the result.
func (c *Client) GetOrderStatuses(ctx context.Context, references []string) ([]OrderStatus, error) {
	if len(references) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(orderStatusRequest{ExtOrderNumbers: references})
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/search/orderstatus", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp orderStatusResponse
	if err := c.do(req, "order status", &resp); err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return &billing.ExternalServiceError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &billing.ExternalServiceError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("ledgerclient: http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &billing.ExternalServiceError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
