package storeerror

// Category represents the main error category for storage operations
type Category string

const (
	// CategoryIdentityCollision indicates two entities claimed one symbolic id
	CategoryIdentityCollision Category = "identity_collision"

	// CategoryBrokenReference indicates a reference to a missing entity or a
	// reference that could not be kept
	CategoryBrokenReference Category = "broken_reference"

	// CategoryConcurrentWrite indicates a builder was written from two goroutines
	CategoryConcurrentWrite Category = "concurrent_write"

	// CategoryConsistency indicates a consistency check failed
	CategoryConsistency Category = "consistency"

	// CategoryUnsupported indicates an operation cannot handle the input shape
	CategoryUnsupported Category = "unsupported"

	// CategoryInvalidArgument indicates a caller passed invalid input
	CategoryInvalidArgument Category = "invalid_argument"
)

// String returns the string representation of the category
func (c Category) String() string {
	return string(c)
}

// Identity collision subcategories
const (
	// SubcategoryCollisionAddDiff indicates an add-diff evicted an entity
	SubcategoryCollisionAddDiff = "add_diff"

	// SubcategoryCollisionReplaceBySource indicates replace-by-source evicted an entity
	SubcategoryCollisionReplaceBySource = "replace_by_source"
)

// Broken reference subcategories
const (
	// SubcategoryRefMissingEntity indicates the referenced entity does not exist
	SubcategoryRefMissingEntity = "missing_entity"

	// SubcategoryRefUnfilledBooking indicates a booked slot was never filled
	SubcategoryRefUnfilledBooking = "unfilled_booking"

	// SubcategoryRefLostParent indicates a child lost its mandatory parent
	SubcategoryRefLostParent = "lost_parent"
)

// Consistency subcategories
const (
	// SubcategoryConsistencyFamily indicates a slot or counter mismatch
	SubcategoryConsistencyFamily = "family"

	// SubcategoryConsistencyRefs indicates a reference table violation
	SubcategoryConsistencyRefs = "refs"

	// SubcategoryConsistencyIndex indicates an index out of sync with data
	SubcategoryConsistencyIndex = "index"
)

// Unsupported subcategories
const (
	// SubcategoryUnsupportedShape indicates a graph shape the tree engine cannot handle
	SubcategoryUnsupportedShape = "shape"
)
