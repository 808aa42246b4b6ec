package dom

// MutationType mirrors MutationRecord.type.
type MutationType string

const (
	ChildList  MutationType = "childList"
	Attributes MutationType = "attributes"
)

// ObserveOptions configures a subscription. Every subscription covers the
// whole subtree; Attributes lists the attribute names to report.
type ObserveOptions struct {
	Attributes []string
	// Watch lists class names the implementation checks for inside every
	// added or removed node, so consumers never need to walk a subtree.
	Watch []string
}

// Node summarises an element involved in a mutation.
type Node struct {
	Classes  []string `json:"classes"`
	Contains []string `json:"contains,omitempty"` // Watch classes found in descendants
}

// HasClass reports whether the node itself carries class.
func (n Node) HasClass(class string) bool {
	for _, c := range n.Classes {
		if c == class {
			return true
		}
	}
	return false
}

// Carries reports whether the node carries class or contains an element
// that does.
func (n Node) Carries(class string) bool {
	if n.HasClass(class) {
		return true
	}
	for _, c := range n.Contains {
		if c == class {
			return true
		}
	}
	return false
}

// Mutation is one MutationRecord, reduced to what the engine inspects.
type Mutation struct {
	Type      MutationType `json:"type"`
	Attribute string       `json:"attr,omitempty"`
	Target    Node         `json:"target"`
	Nodes     []Node       `json:"nodes,omitempty"` // added and removed elements
}

// Batch is everything delivered by one observer notification.
type Batch struct {
	DocumentKey string     `json:"document_key"`
	Records     []Mutation `json:"records"`
}
