// Package knowledge mirrors ingested collections into a Neo4j graph of
// collection, document, and folder nodes. The graph is an optional
// enrichment: lookups feed related-document hints into answer sources, and
// every caller tolerates it being absent.
package knowledge

import (
	"context"
	"fmt"
	stdpath "path"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type Document struct {
	Path       string
	Title      string
	ChunkCount int
}

// Related is another document sharing a folder with the one queried.
type Related struct {
	Path   string
	Title  string
	Reason string
}

type Graph struct {
	driver neo4j.DriverWithContext
}

// NewGraph wraps driver; a nil driver yields a graph whose methods no-op.
func NewGraph(driver neo4j.DriverWithContext) *Graph {
	return &Graph{driver: driver}
}

func (g *Graph) enabled() bool {
	return g != nil && g.driver != nil
}

// SyncCollection replaces the graph image of collection with docs: stale
// document nodes are detached, current ones merged, folder edges rebuilt.
func (g *Graph) SyncCollection(ctx context.Context, collection string, docs []Document) error {
	if !g.enabled() {
		return nil
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	paths := make([]string, len(docs))
	for i, doc := range docs {
		paths[i] = doc.Path
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (c:Collection {name: $collection})
			SET c.updated_at = datetime()
		`, map[string]any{"collection": collection}); err != nil {
			return nil, fmt.Errorf("upsert collection node: %w", err)
		}

		if _, err := tx.Run(ctx, `
			MATCH (c:Collection {name: $collection})-[:CONTAINS]->(d:Document)
			WHERE NOT d.path IN $paths
			DETACH DELETE d
		`, map[string]any{"collection": collection, "paths": paths}); err != nil {
			return nil, fmt.Errorf("remove stale document nodes: %w", err)
		}

		for _, doc := range docs {
			folder := stdpath.Dir(doc.Path)
			if folder == "." || folder == "/" {
				folder = ""
			}

			params := map[string]any{
				"collection": collection,
				"path":       doc.Path,
				"title":      doc.Title,
				"chunks":     doc.ChunkCount,
				"folder":     folder,
			}

			if _, err := tx.Run(ctx, `
				MATCH (c:Collection {name: $collection})
				MERGE (c)-[:CONTAINS]->(d:Document {path: $path})
				SET d.title = $title,
				    d.chunk_count = $chunks,
				    d.updated_at = datetime()
			`, params); err != nil {
				return nil, fmt.Errorf("upsert document node %s: %w", doc.Path, err)
			}

			if _, err := tx.Run(ctx, `
				MATCH (c:Collection {name: $collection})-[:CONTAINS]->(d:Document {path: $path})
				OPTIONAL MATCH (d)-[r:IN_FOLDER]->(:Folder)
				DELETE r
			`, params); err != nil {
				return nil, fmt.Errorf("remove stale folder relation: %w", err)
			}

			if folder != "" {
				if _, err := tx.Run(ctx, `
					MATCH (c:Collection {name: $collection})-[:CONTAINS]->(d:Document {path: $path})
					MERGE (f:Folder {name: $folder})
					MERGE (d)-[:IN_FOLDER]->(f)
				`, params); err != nil {
					return nil, fmt.Errorf("upsert folder relation: %w", err)
				}
			}
		}

		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("sync collection graph: %w", err)
	}

	return nil
}

// RelatedDocuments returns, per queried document path, the other documents
// of the collection that share a folder with it.
func (g *Graph) RelatedDocuments(ctx context.Context, collection string, paths []string) (map[string][]Related, error) {
	if !g.enabled() || len(paths) == 0 {
		return map[string][]Related{}, nil
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (c:Collection {name: $collection})-[:CONTAINS]->(d:Document)
		WHERE d.path IN $paths
		MATCH (d)-[:IN_FOLDER]->(f:Folder)<-[:IN_FOLDER]-(related:Document)
		WHERE related.path <> d.path AND (c)-[:CONTAINS]->(related)
		RETURN d.path AS path, related.path AS relatedPath, related.title AS relatedTitle, f.name AS folder
	`, map[string]any{"collection": collection, "paths": paths})
	if err != nil {
		return nil, fmt.Errorf("run related documents query: %w", err)
	}

	related := make(map[string][]Related)
	for result.Next(ctx) {
		record := result.Record()
		path, _ := record.Get("path")
		relPath, _ := record.Get("relatedPath")
		relTitle, _ := record.Get("relatedTitle")
		folder, _ := record.Get("folder")

		key, ok := path.(string)
		if !ok {
			continue
		}
		entry := Related{}
		if v, ok := relPath.(string); ok {
			entry.Path = v
		}
		if v, ok := relTitle.(string); ok {
			entry.Title = v
		}
		if v, ok := folder.(string); ok && v != "" {
			entry.Reason = "shared folder " + v
		}
		related[key] = append(related[key], entry)
	}

	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("related documents result: %w", err)
	}

	return related, nil
}

// Purge drops the graph image of a single collection, or everything when
// collection is empty.
func (g *Graph) Purge(ctx context.Context, collection string) error {
	if !g.enabled() {
		return nil
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := "MATCH (c:Collection) OPTIONAL MATCH (c)-[:CONTAINS]->(d:Document) DETACH DELETE c, d"
	params := map[string]any{}
	if collection != "" {
		query = "MATCH (c:Collection {name: $collection}) OPTIONAL MATCH (c)-[:CONTAINS]->(d:Document) DETACH DELETE c, d"
		params["collection"] = collection
	}

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return fmt.Errorf("purge collection graph: %w", err)
	}
	if _, err := result.Consume(ctx); err != nil {
		return fmt.Errorf("consume purge result: %w", err)
	}
	return nil
}
