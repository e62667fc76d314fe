package backend

// Kind is the closed set of backend categories the manager dispatches to.
// It is a tagged variant, not a plain string, so every switch over it can
// be exhaustive.
type Kind int

const (
	KindVector Kind = iota
	KindGraph
	KindRelational
	KindKeyValue
	KindDocument
	KindFile
)

// String returns the kind's wire/config/log name, also used as the
// governance rule key's kind component.
func (k Kind) String() string {
	switch k {
	case KindVector:
		return "vector"
	case KindGraph:
		return "graph"
	case KindRelational:
		return "relational"
	case KindKeyValue:
		return "key_value"
	case KindDocument:
		return "document"
	case KindFile:
		return "file"
	default:
		return "unknown"
	}
}

// ParseKind resolves a config/wire string back to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "vector":
		return KindVector, true
	case "graph":
		return KindGraph, true
	case "relational":
		return KindRelational, true
	case "key_value":
		return KindKeyValue, true
	case "document":
		return KindDocument, true
	case "file":
		return KindFile, true
	default:
		return 0, false
	}
}

// Operations lists the minimum capability matrix (§4.2) for kind.
func (k Kind) Operations() []string {
	switch k {
	case KindVector:
		return []string{"add_documents", "query_similar", "delete"}
	case KindGraph:
		return []string{"create_node", "create_edge", "delete_node", "match"}
	case KindRelational:
		return []string{"insert", "update", "delete", "execute_query", "get_table_schema"}
	case KindKeyValue:
		return []string{"get", "put", "delete"}
	case KindDocument:
		return []string{"create", "get", "update", "delete"}
	case KindFile:
		return []string{"put", "get", "delete"}
	default:
		return nil
	}
}
