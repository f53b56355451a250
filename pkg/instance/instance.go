package instance

import "github.com/suragms/BillingApp-sub007/pkg/env"

// GetID identifies this process in logs. Platform-provided names are used
// when no explicit id is configured.
func GetID() string {
	return env.FirstOf("local", "BILLING_INSTANCE_ID", "DYNO", "HOSTNAME")
}
