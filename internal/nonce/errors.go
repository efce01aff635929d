package nonce

import "fmt"

var (
	// ErrCountUnavailable is returned when the provider cannot report the account's transaction count
	ErrCountUnavailable = fmt.Errorf("couldn't read transaction count from provider")

	// ErrReserveAborted is returned when the reserve callback rejects the inferred nonce
	ErrReserveAborted = fmt.Errorf("nonce reservation aborted")
)
