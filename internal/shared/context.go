package shared

import "context"

type companyContextKey struct{}

// ContextWithCompany stores the resolved company id in context.
func ContextWithCompany(ctx context.Context, companyID int64) context.Context {
	return context.WithValue(ctx, companyContextKey{}, companyID)
}

// CompanyIDFromContext extracts the company id. ok is false when none was resolved.
func CompanyIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(companyContextKey{}).(int64)
	return id, ok && id > 0
}
