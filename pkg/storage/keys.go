package storage

import (
	"fmt"

	"github.com/uhyunpark/tickerbook/pkg/app/core"
)

// Key schema for Pebble storage:
//
//	usr:<id>               → User
//	eml:<email>            → user id (unique email index)
//	sub:<userID>:<symbol>  → Subscription
//	ord:<id>               → Order
//	trd:<id>               → Trade
//
// Ids are zero-padded (20 digits) so prefix scans return them in id order.
const (
	prefixUser         = "usr:"
	prefixEmail        = "eml:"
	prefixSubscription = "sub:"
	prefixOrder        = "ord:"
	prefixTrade        = "trd:"
)

func userKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixUser, id))
}

func emailKey(email string) []byte {
	return []byte(prefixEmail + email)
}

func subscriptionKey(userID int64, symbol core.Symbol) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixSubscription, userID, symbol))
}

func orderKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

func tradeKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixTrade, id))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
