package types

import (
	"fmt"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/teris-io/shortid"
)

// GenerateUUID returns a k-sortable unique identifier.
func GenerateUUID() string {
	return ulid.Make().String()
}

// GenerateUUIDWithPrefix returns a k-sortable id with a domain prefix,
// e.g. inv_01HQ3Z8M5K7XJ2V9YB4N6RTCWD.
func GenerateUUIDWithPrefix(prefix string) string {
	if prefix == "" {
		return GenerateUUID()
	}
	return fmt.Sprintf("%s_%s", prefix, GenerateUUID())
}

var (
	sidGenerator *shortid.Shortid
	once         sync.Once
)

func initializeSID() {
	var err error
	sidGenerator, err = shortid.New(1, shortid.DefaultABC, 2342)
	if err != nil {
		panic("failed to initialize shortid generator: " + err.Error())
	}
}

// GenerateShortIDWithPrefix returns a short id with a prefix, capped at
// 12 characters, e.g. EVT12A8Q9JXK.
func GenerateShortIDWithPrefix(prefix string) string {
	once.Do(initializeSID)

	id, err := sidGenerator.Generate()
	if err != nil {
		return ""
	}
	id = strings.ReplaceAll(id, "-", "")

	availableLen := 12 - len(prefix)
	if availableLen <= 0 {
		return ""
	}
	if len(id) > availableLen {
		id = id[:availableLen]
	}

	return strings.ToUpper(fmt.Sprintf("%s%s", prefix, id))
}

const (
	UUIDPrefixEvent        = "event"
	UUIDPrefixRatePlan     = "plan"
	UUIDPrefixLineItem     = "rpl"
	UUIDPrefixSubscription = "subs"
	UUIDPrefixInvoice      = "inv"
	UUIDPrefixInvoiceLine  = "invln"
	UUIDPrefixTenant       = "org"
	UUIDPrefixCredential   = "cred"
)
