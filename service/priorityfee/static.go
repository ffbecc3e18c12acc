package priorityfee

import "context"

// Static returns a fixed compute-unit price. Useful for endpoints
// without a fee-estimation extension and for tests.
type Static struct {
	price uint64
}

// NewStatic creates a provider that always returns price.
func NewStatic(price uint64) *Static {
	return &Static{price: price}
}

// Name implements Provider.
func (s *Static) Name() string { return "static" }

// EstimateComputeUnitPrice implements Provider.
func (s *Static) EstimateComputeUnitPrice(ctx context.Context, txBase58 string) (uint64, error) {
	return s.price, nil
}
