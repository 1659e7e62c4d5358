package dualwrite

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Key is the partition or routing key type of a message.
type Key interface {
	~string | ~[]byte
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.ToLower(f.Name)
	})
	return v
}

// Request describes one unit of work: persist an entity, then publish the
// message derived from it under Topic and Key. A Request is a value; build it
// once and pass it to Coordinator.Execute.
type Request[E any, K Key, P any] struct {
	Topic string `validate:"required"`
	Key   K      `validate:"required"`

	// Persist writes the entity. It runs exactly once per attempt, inside the
	// attempt's transactional scope carried by ctx.
	Persist func(ctx context.Context) (E, error) `validate:"required"`

	// Mapper derives the wire message from an entity.
	Mapper func(entity E) (P, error) `validate:"required"`

	// Correction produces the entity for a compensating message. It is called
	// lazily on the compensation path and may read post-failure state.
	Correction func(ctx context.Context) (E, error) `validate:"required"`

	// Verify, when set, runs after the publish is acknowledged and before the
	// scope commits. An error fails the attempt with the message already visible.
	Verify func(ctx context.Context, entity E) error
}

// Validate reports a *ConfigurationError naming every required field left unset.
// An empty key counts as unset for both string and []byte keys.
func (r Request[E, K, P]) Validate() error {
	var missing []string
	if err := validate.Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return &ConfigurationError{}
		}
		for _, fe := range fieldErrs {
			missing = append(missing, fe.Field())
		}
	}
	// required only tests a slice for nil, so []byte{} gets through it.
	if len(r.Key) == 0 && !slices.Contains(missing, "key") {
		missing = append(missing, "key")
	}
	if len(missing) == 0 {
		return nil
	}
	return &ConfigurationError{Missing: missing}
}

// RequestBuilder assembles a Request with chained setters.
type RequestBuilder[E any, K Key, P any] struct {
	req Request[E, K, P]
}

// NewRequest starts a request for topic and key.
func NewRequest[E any, K Key, P any](topic string, key K) *RequestBuilder[E, K, P] {
	return &RequestBuilder[E, K, P]{req: Request[E, K, P]{Topic: topic, Key: key}}
}

func (b *RequestBuilder[E, K, P]) PersistWith(fn func(ctx context.Context) (E, error)) *RequestBuilder[E, K, P] {
	b.req.Persist = fn
	return b
}

func (b *RequestBuilder[E, K, P]) ValueMapper(fn func(entity E) (P, error)) *RequestBuilder[E, K, P] {
	b.req.Mapper = fn
	return b
}

func (b *RequestBuilder[E, K, P]) CorrectionRecord(fn func(ctx context.Context) (E, error)) *RequestBuilder[E, K, P] {
	b.req.Correction = fn
	return b
}

func (b *RequestBuilder[E, K, P]) VerifyWith(fn func(ctx context.Context, entity E) error) *RequestBuilder[E, K, P] {
	b.req.Verify = fn
	return b
}

// Build validates and returns the request. The builder may be reused; the
// returned value does not change when it is.
func (b *RequestBuilder[E, K, P]) Build() (Request[E, K, P], error) {
	req := b.req
	if err := req.Validate(); err != nil {
		return Request[E, K, P]{}, err
	}
	return req, nil
}
