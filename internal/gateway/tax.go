package gateway

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/pkg/httpclient"
	"github.com/utafrali/storefront/pkg/tracing"
)

// TaxRequest asks for the tax owed on a checkout.
type TaxRequest struct {
	Destination domain.Address  `json:"destination"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Shipping    decimal.Decimal `json:"shipping"`
	Discount    decimal.Decimal `json:"discount"`
}

// TaxService computes sales tax.
type TaxService interface {
	CalculateTax(ctx context.Context, req TaxRequest) (decimal.Decimal, error)
}

// HTTPTaxService calls a tax provider over HTTP.
type HTTPTaxService struct {
	doer    httpclient.Doer
	baseURL string
}

// NewHTTPTaxService creates a tax gateway client.
func NewHTTPTaxService(doer httpclient.Doer, baseURL string) *HTTPTaxService {
	return &HTTPTaxService{doer: doer, baseURL: baseURL}
}

// CalculateTax returns the tax amount for req.
func (s *HTTPTaxService) CalculateTax(ctx context.Context, req TaxRequest) (_ decimal.Decimal, err error) {
	ctx, span := tracing.Start(ctx, "tax.CalculateTax")
	defer func() { tracing.End(span, err) }()

	var resp struct {
		TaxAmount decimal.Decimal `json:"tax_amount"`
	}
	if err := httpclient.DoJSON(ctx, s.doer, http.MethodPost, s.baseURL+"/api/v1/tax/calculate", "tax", req, &resp); err != nil {
		return decimal.Zero, err
	}
	return resp.TaxAmount, nil
}

// MockTaxService applies a flat rate per state to the discounted subtotal.
// States without a rate are untaxed.
type MockTaxService struct {
	rates map[string]decimal.Decimal
}

// NewMockTaxService creates the in-process tax gateway. Rates are fractions,
// e.g. 0.06 for 6%.
func NewMockTaxService(rates map[string]decimal.Decimal) *MockTaxService {
	return &MockTaxService{rates: rates}
}

func (s *MockTaxService) CalculateTax(_ context.Context, req TaxRequest) (decimal.Decimal, error) {
	rate, ok := s.rates[req.Destination.StateCode()]
	if !ok {
		return decimal.Zero, nil
	}
	taxable := req.Subtotal.Sub(req.Discount)
	if taxable.IsNegative() {
		return decimal.Zero, nil
	}
	return domain.RoundMoney(taxable.Mul(rate)), nil
}
