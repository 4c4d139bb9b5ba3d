package envutil

import (
	"os"
	"strings"
)

// IsDev checks if we're running in development mode, where cookies are
// sent without the Secure attribute so plain-http localhost works
func IsDev() bool {
	env := strings.ToLower(os.Getenv("NIMBUS_ENV"))
	return env == "development" || env == "dev"
}
