package notify

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ParseRecipients splits a semicolon-delimited address list and keeps the
// syntactically valid addresses in order. Invalid entries are dropped
// without error.
func ParseRecipients(raw string) []string {
	recipients := []string{}
	for _, part := range strings.Split(raw, ";") {
		addr := strings.TrimSpace(part)
		if addr == "" {
			continue
		}
		if err := validate.Var(addr, "email"); err != nil {
			continue
		}
		recipients = append(recipients, addr)
	}
	return recipients
}
