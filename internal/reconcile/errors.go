package reconcile

import "fmt"

// UnknownTransactionError is returned when a gateway signal references a
// transaction this system never created. The signal is not applied.
type UnknownTransactionError struct {
	GatewayRef string
}

func (e *UnknownTransactionError) Error() string {
	return fmt.Sprintf("no transaction recorded for gateway ref %q", e.GatewayRef)
}
