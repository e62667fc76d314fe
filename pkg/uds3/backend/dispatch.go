package backend

import (
	"context"
	"fmt"
)

// dispatch routes one (kind, operation) call to the matching
// kind-specific sub-interface method. Returning an unassertable-adapter
// error here is a configuration bug (an adapter registered under a kind
// it doesn't implement), not a runtime backend failure, so it is
// classified Permanent by errors.Categorize's default.
func dispatch(ctx context.Context, adapter Adapter, kind Kind, operation string, payload map[string]any) (any, error) {
	switch kind {
	case KindVector:
		a, ok := adapter.(VectorAdapter)
		if !ok {
			return nil, fmt.Errorf("adapter for kind %s does not implement VectorAdapter", kind)
		}
		switch operation {
		case "add_documents":
			return a.AddDocuments(ctx, payload)
		case "query_similar":
			return a.QuerySimilar(ctx, payload)
		case "delete":
			return a.Delete(ctx, payload)
		}

	case KindGraph:
		a, ok := adapter.(GraphAdapter)
		if !ok {
			return nil, fmt.Errorf("adapter for kind %s does not implement GraphAdapter", kind)
		}
		switch operation {
		case "create_node":
			return a.CreateNode(ctx, payload)
		case "create_edge":
			return a.CreateEdge(ctx, payload)
		case "delete_node":
			return a.DeleteNode(ctx, payload)
		case "match":
			return a.Match(ctx, payload)
		}

	case KindRelational:
		a, ok := adapter.(RelationalAdapter)
		if !ok {
			return nil, fmt.Errorf("adapter for kind %s does not implement RelationalAdapter", kind)
		}
		switch operation {
		case "insert":
			return a.Insert(ctx, payload)
		case "update":
			return a.Update(ctx, payload)
		case "delete":
			return a.Delete(ctx, payload)
		case "execute_query":
			return a.ExecuteQuery(ctx, payload)
		case "get_table_schema":
			table, _ := payload["table"].(string)
			return a.GetTableSchema(ctx, table)
		}

	case KindKeyValue:
		a, ok := adapter.(KeyValueAdapter)
		if !ok {
			return nil, fmt.Errorf("adapter for kind %s does not implement KeyValueAdapter", kind)
		}
		switch operation {
		case "get":
			return a.Get(ctx, payload)
		case "put":
			return a.Put(ctx, payload)
		case "delete":
			return a.Delete(ctx, payload)
		}

	case KindDocument:
		a, ok := adapter.(DocumentAdapter)
		if !ok {
			return nil, fmt.Errorf("adapter for kind %s does not implement DocumentAdapter", kind)
		}
		switch operation {
		case "create":
			return a.Create(ctx, payload)
		case "get":
			return a.Get(ctx, payload)
		case "update":
			return a.Update(ctx, payload)
		case "delete":
			return a.Delete(ctx, payload)
		}

	case KindFile:
		a, ok := adapter.(FileAdapter)
		if !ok {
			return nil, fmt.Errorf("adapter for kind %s does not implement FileAdapter", kind)
		}
		switch operation {
		case "put":
			return a.Put(ctx, payload)
		case "get":
			return a.Get(ctx, payload)
		case "delete":
			return a.Delete(ctx, payload)
		}
	}

	return nil, fmt.Errorf("unsupported operation %q for kind %s", operation, kind)
}
