package services

import (
	"errors"
	"fmt"

	"github.com/hanko-field/cartengine/internal/repositories"
)

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due to missing dependencies or backend issues.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartNotFound indicates the requested cart does not exist or is already completed.
var ErrCartNotFound = errors.New("cart service: not found")

// ErrCartConflict indicates the cart could not be updated due to concurrent modifications.
var ErrCartConflict = errors.New("cart service: conflict")

// ErrCartPaymentRequired indicates the store does not allow completing an order without payment.
var ErrCartPaymentRequired = errors.New("cart service: payment required")

var (
	// ErrCartNumberRequired is returned by LoadCart when no number is supplied.
	ErrCartNumberRequired = fmt.Errorf("%w: cart number required", ErrCartInvalidInput)
	// ErrCartNotRetrievable is returned by LoadCart when the number matches no open cart.
	ErrCartNotRetrievable = fmt.Errorf("%w: cart not retrievable", ErrCartNotFound)
)

var (
	errCartRepositoryRequired = errors.New("cart service: repository is required")
	errCartClockRequired      = errors.New("cart service: clock is required")
	errCartSessionsRequired   = errors.New("cart service: session store is required")
)

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCartNotFound
		case repoErr.IsConflict():
			return ErrCartConflict
		}
	}
	return ErrCartUnavailable
}
