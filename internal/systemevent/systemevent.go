// Package systemevent implements the Collections-lifecycle SystemEvent
// items: the factory that derives their on-disk key, the per-batch flush
// policy, and the replication filter.
package systemevent

import "fmt"

// Code is the closed set of collection-lifecycle transitions. The flags
// field carries this value on the wire (Item.Flags when Item.Op ==
// SystemEventOp), but every place that branches on it in source uses Code,
// not a raw integer.
type Code uint32

const (
	CreateCollection Code = iota
	BeginDeleteCollection
	DeleteCollectionSoft
	DeleteCollectionHard
	CollectionsSeparatorChanged
)

func (c Code) String() string {
	switch c {
	case CreateCollection:
		return "CreateCollection"
	case BeginDeleteCollection:
		return "BeginDeleteCollection"
	case DeleteCollectionSoft:
		return "DeleteCollectionSoft"
	case DeleteCollectionHard:
		return "DeleteCollectionHard"
	case CollectionsSeparatorChanged:
		return "CollectionsSeparatorChanged"
	default:
		return fmt.Sprintf("SystemEvent(%d)", uint32(c))
	}
}

const (
	createEventKeyPrefix = "$collections::create:"
	deleteEventKeyPrefix = "$collections::delete:"
	separatorChangedKey  = "$collections::separator"
)

// MakeKey derives the marker document's key for a SystemEvent of code se
// affecting collection named collectionName.
//
// DeleteCollectionHard and DeleteCollectionSoft deliberately share the
// create-prefixed key: a completed delete tombstones the Create's marker
// document rather than leaving a second one behind. The two codes are
// grouped on a single case so the sharing reads as intended, not as a
// missing case.
func MakeKey(se Code, collectionName string) string {
	switch se {
	case CreateCollection:
		return createEventKeyPrefix + collectionName
	case BeginDeleteCollection:
		return deleteEventKeyPrefix + collectionName
	case DeleteCollectionHard, DeleteCollectionSoft:
		return createEventKeyPrefix + collectionName
	case CollectionsSeparatorChanged:
		return separatorChangedKey
	default:
		panic(fmt.Sprintf("systemevent: unhandled code %v in MakeKey", se))
	}
}
