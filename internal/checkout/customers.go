package checkout

import (
	"context"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"llcstack/internal/types"
)

// CustomerDirectory is the processor's customer API.
type CustomerDirectory interface {
	FindCustomerByEmail(ctx context.Context, email string) (*types.Customer, error)
	CreateCustomer(ctx context.Context, email string) (*types.Customer, error)
}

// CustomerResolver finds or creates the processor customer for an email.
//
// Concurrent calls for the same email within one process share a single
// lookup. The lookup and the create are still two calls, so two processes
// racing on a new email can each create a customer.
type CustomerResolver struct {
	dir    CustomerDirectory
	group  singleflight.Group
	logger *slog.Logger
}

// NewCustomerResolver creates a CustomerResolver.
func NewCustomerResolver(dir CustomerDirectory, logger *slog.Logger) *CustomerResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &CustomerResolver{dir: dir, logger: logger}
}

// FindOrCreate returns the first customer with the email, creating one when
// none exists.
func (r *CustomerResolver) FindOrCreate(ctx context.Context, email string) (*types.Customer, error) {
	v, err, shared := r.group.Do(email, func() (any, error) {
		existing, err := r.dir.FindCustomerByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}

		created, err := r.dir.CreateCustomer(ctx, email)
		if err != nil {
			return nil, err
		}
		r.logger.InfoContext(ctx, "created processor customer", "customer_id", created.ID)
		return created, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		r.logger.DebugContext(ctx, "customer lookup coalesced")
	}
	c := *v.(*types.Customer)
	return &c, nil
}
