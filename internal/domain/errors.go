package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrInvalidParam  = errors.New("invalid parameter")

	// Vault operation failures.
	ErrCapacity            = errors.New("debt ratio capacity exceeded")
	ErrDuplicate           = errors.New("strategy already registered")
	ErrAlreadyRegistered   = errors.New("migration target already registered")
	ErrNotActive           = errors.New("strategy not active")
	ErrSlippage            = errors.New("withdrawal loss exceeds max loss")
	ErrDepositLimit        = errors.New("deposit limit exceeded")
	ErrReentrancy          = errors.New("reentrant vault call")
	ErrShutdown            = errors.New("vault is in emergency shutdown")
	ErrZeroShares          = errors.New("operation would mint or burn zero shares")
	ErrInsufficientShares  = errors.New("insufficient shares")
	ErrInsufficientBalance = errors.New("insufficient token balance")
	ErrWrongVault          = errors.New("strategy bound to a different vault")
	ErrQueueFull           = errors.New("withdrawal queue full")
)
