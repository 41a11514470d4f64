package factstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/harborstone/dealgraph/pkg/types"
	"github.com/harborstone/dealgraph/pkg/utils"
)

// Neo4jStore implements Store against a Neo4j database. Facts, entities,
// documents, and contradictions are nodes; merges are MERGED_INTO
// relationships between entity nodes. Structured fields (object, locator,
// metadata, embeddings) are stored as JSON string properties because Neo4j
// properties are flat.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
	tieBreak TieBreak
	logger   *slog.Logger
}

func NewNeo4jStore(cfg Config, logger *slog.Logger) (*Neo4jStore, error) {
	if cfg.URI == "" {
		return nil, types.Validationf("neo4j backend needs a uri")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, errors.Wrap(err, "create neo4j driver")
	}
	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Neo4jStore{
		driver:   driver,
		database: database,
		tieBreak: cfg.tieBreak(),
		logger:   logger.With("component", "factstore", "backend", "neo4j"),
	}, nil
}

func (s *Neo4jStore) session(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
}

// Initialize creates the indexes the store queries against.
func (s *Neo4jStore) Initialize(ctx context.Context) error {
	session := s.session(ctx)
	defer session.Close(ctx)

	indices := []string{
		"CREATE CONSTRAINT fact_id IF NOT EXISTS FOR (f:Fact) REQUIRE f.id IS UNIQUE",
		"CREATE CONSTRAINT entity_id IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE",
		"CREATE INDEX fact_subject_predicate IF NOT EXISTS FOR (f:Fact) ON (f.deal_id, f.subject_id, f.predicate)",
		"CREATE INDEX fact_document IF NOT EXISTS FOR (f:Fact) ON (f.deal_id, f.document_id)",
		"CREATE INDEX entity_deal IF NOT EXISTS FOR (e:Entity) ON (e.deal_id)",
		"CREATE INDEX document_deal IF NOT EXISTS FOR (d:Document) ON (d.deal_id, d.id)",
		"CREATE INDEX contradiction_pair IF NOT EXISTS FOR (c:Contradiction) ON (c.deal_id, c.fact_a, c.fact_b)",
	}
	for _, stmt := range indices {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			if strings.Contains(err.Error(), "already exists") || strings.Contains(err.Error(), "An equivalent") {
				continue
			}
			return mapNeo4jErr(err)
		}
	}
	return nil
}

func (s *Neo4jStore) Close() error {
	return s.driver.Close(context.Background())
}

func mapNeo4jErr(err error) error {
	if err == nil {
		return nil
	}
	if neo4j.IsRetryable(err) {
		return types.MarkTransient(err)
	}
	return err
}

// --- property codecs ---

func propString(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

func propFloat(props map[string]any, key string) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

func propInt(props map[string]any, key string) int {
	switch v := props[key].(type) {
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func propTime(props map[string]any, key string) time.Time {
	raw := propString(props, key)
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func propTimePtr(props map[string]any, key string) *time.Time {
	t := propTime(props, key)
	if t.IsZero() {
		return nil
	}
	return &t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func jsonProp(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "encode property")
	}
	return string(raw), nil
}

func embeddingProp(vec []float32) any {
	if len(vec) == 0 {
		return nil
	}
	raw, _ := json.Marshal(vec)
	return string(raw)
}

func propEmbedding(props map[string]any, key string) []float32 {
	raw := propString(props, key)
	if raw == "" {
		return nil
	}
	var vec []float32
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		return nil
	}
	return vec
}

// collectNodes runs a read query and returns the nodes bound to name.
func (s *Neo4jStore) collectNodes(ctx context.Context, query string, params map[string]any, name string) ([]dbtype.Node, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, mapNeo4jErr(err)
	}

	records := result.([]*db.Record)
	nodes := make([]dbtype.Node, 0, len(records))
	for _, record := range records {
		value, found := record.Get(name)
		if !found {
			continue
		}
		node, ok := value.(dbtype.Node)
		if !ok {
			continue
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// --- Facts ---

func factProps(f *types.Fact) (map[string]any, error) {
	objectJSON, err := jsonProp(f.Object)
	if err != nil {
		return nil, err
	}
	locatorJSON, err := jsonProp(f.Locator)
	if err != nil {
		return nil, err
	}
	props := map[string]any{
		"id":          f.ID,
		"deal_id":     f.DealID,
		"subject_id":  f.SubjectID,
		"predicate":   f.Predicate,
		"object":      objectJSON,
		"claim":       f.Claim,
		"valid_at":    formatTimePtr(f.ValidAt),
		"invalid_at":  formatTimePtr(f.InvalidAt),
		"recorded_at": formatTime(f.RecordedAt),
		"document_id": f.DocumentID,
		"locator":     locatorJSON,
		"confidence":  f.Confidence,
		"method":      f.Method,
		"embedding":   embeddingProp(f.Embedding),
	}
	if f.IsRelationship() {
		props["object_entity_id"] = f.Object.EntityID
	}
	if f.Metadata != nil {
		metadataJSON, err := jsonProp(f.Metadata)
		if err != nil {
			return nil, err
		}
		props["metadata"] = metadataJSON
	}
	return props, nil
}

func factFromNode(node dbtype.Node) (*types.Fact, error) {
	props := node.Props
	f := &types.Fact{
		ID:         propString(props, "id"),
		DealID:     propString(props, "deal_id"),
		SubjectID:  propString(props, "subject_id"),
		Predicate:  propString(props, "predicate"),
		Claim:      propString(props, "claim"),
		ValidAt:    propTimePtr(props, "valid_at"),
		InvalidAt:  propTimePtr(props, "invalid_at"),
		RecordedAt: propTime(props, "recorded_at"),
		DocumentID: propString(props, "document_id"),
		Confidence: propFloat(props, "confidence"),
		Method:     propString(props, "method"),
		Embedding:  propEmbedding(props, "embedding"),
	}
	if raw := propString(props, "object"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &f.Object); err != nil {
			return nil, errors.Wrap(err, "decode fact object")
		}
	}
	if raw := propString(props, "locator"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &f.Locator); err != nil {
			return nil, errors.Wrap(err, "decode fact locator")
		}
	}
	if raw := propString(props, "metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &f.Metadata); err != nil {
			return nil, errors.Wrap(err, "decode fact metadata")
		}
	}
	return f, nil
}

func (s *Neo4jStore) WriteFact(ctx context.Context, fact *types.Fact) (string, error) {
	ids, err := s.WriteFacts(ctx, []*types.Fact{fact})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

func (s *Neo4jStore) WriteFacts(ctx context.Context, facts []*types.Fact) ([]string, error) {
	if len(facts) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	for _, f := range facts {
		if f.ID == "" {
			f.ID = uuid.New().String()
		}
		if f.RecordedAt.IsZero() {
			f.RecordedAt = now
		}
		if err := f.Validate(); err != nil {
			return nil, err
		}
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, f := range facts {
			canonical, err := canonicalIDTx(ctx, tx, f.DealID, f.SubjectID)
			if err != nil {
				return nil, err
			}
			f.SubjectID = canonical

			props, err := factProps(f)
			if err != nil {
				return nil, err
			}
			// The FOREACH trick runs the subject bookkeeping only when the
			// entity node exists; facts about unregistered subjects are
			// still accepted.
			query := `
				CREATE (f:Fact)
				SET f = $props
				WITH f
				OPTIONAL MATCH (e:Entity {deal_id: $deal_id, id: $subject_id})
				FOREACH (x IN CASE WHEN e IS NULL THEN [] ELSE [1] END |
					CREATE (f)-[:SUBJECT]->(e)
					SET e.fact_count = coalesce(e.fact_count, 0) + 1)
			`
			_, err = tx.Run(ctx, query, map[string]any{
				"props":      props,
				"deal_id":    f.DealID,
				"subject_id": f.SubjectID,
			})
			if err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return nil, mapNeo4jErr(err)
	}

	ids := make([]string, len(facts))
	for i, f := range facts {
		ids[i] = f.ID
	}
	return ids, nil
}

func (s *Neo4jStore) GetFact(ctx context.Context, dealID, factID string) (*types.Fact, error) {
	nodes, err := s.collectNodes(ctx,
		`MATCH (f:Fact {deal_id: $deal_id, id: $id}) RETURN f`,
		map[string]any{"deal_id": dealID, "id": factID}, "f")
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, types.ErrNotFound
	}
	return factFromNode(nodes[0])
}

func (s *Neo4jStore) InvalidateFact(ctx context.Context, dealID, factID string, at time.Time) error {
	session := s.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx,
			`MATCH (f:Fact {deal_id: $deal_id, id: $id}) RETURN f`,
			map[string]any{"deal_id": dealID, "id": factID})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, types.ErrNotFound
		}
		value, _ := records[0].Get("f")
		node, ok := value.(dbtype.Node)
		if !ok {
			return nil, errors.Newf("unexpected type for fact: %T", value)
		}
		fact, err := factFromNode(node)
		if err != nil {
			return nil, err
		}
		if fact.InvalidAt != nil {
			return nil, types.ErrAlreadyInvalidated
		}
		if fact.ValidAt != nil && at.Before(*fact.ValidAt) {
			return nil, types.Validationf("invalidation at %s precedes valid_at %s",
				at.Format(time.RFC3339), fact.ValidAt.Format(time.RFC3339))
		}
		_, err = tx.Run(ctx,
			`MATCH (f:Fact {deal_id: $deal_id, id: $id}) SET f.invalid_at = $at`,
			map[string]any{"deal_id": dealID, "id": factID, "at": formatTime(at)})
		return nil, err
	})
	return mapNeo4jErr(err)
}

func (s *Neo4jStore) subjectIDs(ctx context.Context, dealID, entityID string) ([]string, error) {
	canonical, err := s.ResolveEntityID(ctx, dealID, entityID)
	if err != nil {
		return nil, err
	}
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx,
			`MATCH (m:Entity {deal_id: $deal_id})-[:MERGED_INTO]->(:Entity {deal_id: $deal_id, id: $id})
			 RETURN m.id AS id`,
			map[string]any{"deal_id": dealID, "id": canonical})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, mapNeo4jErr(err)
	}

	ids := []string{canonical}
	for _, record := range result.([]*db.Record) {
		if value, found := record.Get("id"); found {
			if id, ok := value.(string); ok {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

func (s *Neo4jStore) factsForSubjects(ctx context.Context, dealID string, subjects []string, predicate string, validOnly bool) ([]*types.Fact, error) {
	query := `MATCH (f:Fact {deal_id: $deal_id}) WHERE f.subject_id IN $subjects`
	params := map[string]any{"deal_id": dealID, "subjects": subjects}
	if predicate != "" {
		query += ` AND f.predicate = $predicate`
		params["predicate"] = predicate
	}
	if validOnly {
		query += ` AND f.invalid_at IS NULL`
	}
	query += ` RETURN f`

	nodes, err := s.collectNodes(ctx, query, params, "f")
	if err != nil {
		return nil, err
	}
	facts := make([]*types.Fact, 0, len(nodes))
	for _, node := range nodes {
		f, err := factFromNode(node)
		if err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	sortByRecorded(facts)
	return facts, nil
}

func (s *Neo4jStore) ReadAsOf(ctx context.Context, dealID, entityID, predicate string, t time.Time) (*types.Fact, error) {
	subjects, err := s.subjectIDs(ctx, dealID, entityID)
	if err != nil {
		return nil, err
	}
	facts, err := s.factsForSubjects(ctx, dealID, subjects, predicate, false)
	if err != nil {
		return nil, err
	}
	best := pickAsOf(facts, t, s.tieBreak)
	if best == nil {
		return nil, types.ErrNotFound
	}
	return best, nil
}

func (s *Neo4jStore) History(ctx context.Context, dealID, entityID, predicate string) ([]*types.Fact, error) {
	subjects, err := s.subjectIDs(ctx, dealID, entityID)
	if err != nil {
		return nil, err
	}
	return s.factsForSubjects(ctx, dealID, subjects, predicate, false)
}

func (s *Neo4jStore) ValidFacts(ctx context.Context, dealID, entityID, predicate string) ([]*types.Fact, error) {
	subjects, err := s.subjectIDs(ctx, dealID, entityID)
	if err != nil {
		return nil, err
	}
	return s.factsForSubjects(ctx, dealID, subjects, predicate, true)
}

func (s *Neo4jStore) FactsByDocument(ctx context.Context, dealID, documentID string) ([]*types.Fact, error) {
	nodes, err := s.collectNodes(ctx,
		`MATCH (f:Fact {deal_id: $deal_id, document_id: $document_id})
		 WHERE f.invalid_at IS NULL
		 RETURN f`,
		map[string]any{"deal_id": dealID, "document_id": documentID}, "f")
	if err != nil {
		return nil, err
	}
	facts := make([]*types.Fact, 0, len(nodes))
	for _, node := range nodes {
		f, err := factFromNode(node)
		if err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	sortByRecorded(facts)
	return facts, nil
}

func (s *Neo4jStore) FactsByObjectEntity(ctx context.Context, dealID, entityID string) ([]*types.Fact, error) {
	objects, err := s.subjectIDs(ctx, dealID, entityID)
	if err != nil {
		return nil, err
	}
	nodes, err := s.collectNodes(ctx,
		`MATCH (f:Fact {deal_id: $deal_id})
		 WHERE f.object_entity_id IN $objects AND f.invalid_at IS NULL
		 RETURN f`,
		map[string]any{"deal_id": dealID, "objects": objects}, "f")
	if err != nil {
		return nil, err
	}
	facts := make([]*types.Fact, 0, len(nodes))
	for _, node := range nodes {
		f, err := factFromNode(node)
		if err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, nil
}

func (s *Neo4jStore) ListFacts(ctx context.Context, dealID string, fn func(*types.Fact) error) error {
	nodes, err := s.collectNodes(ctx,
		`MATCH (f:Fact {deal_id: $deal_id}) RETURN f`,
		map[string]any{"deal_id": dealID}, "f")
	if err != nil {
		return err
	}
	facts := make([]*types.Fact, 0, len(nodes))
	for _, node := range nodes {
		f, err := factFromNode(node)
		if err != nil {
			return err
		}
		facts = append(facts, f)
	}
	sortByRecorded(facts)
	for _, f := range facts {
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// --- Entities ---

func entityProps(e *types.Entity) (map[string]any, error) {
	aliasKeys := make([]string, 0, len(e.Aliases))
	for _, a := range e.Aliases {
		aliasKeys = append(aliasKeys, types.NormalizeName(a))
	}
	props := map[string]any{
		"id":          e.ID,
		"deal_id":     e.DealID,
		"name":        e.Name,
		"type":        e.Type,
		"aliases":     e.Aliases,
		"alias_keys":  aliasKeys,
		"mention_ids": e.MentionIDs,
		"description": e.Description,
		"embedding":   embeddingProp(e.Embedding),
		"fact_count":  e.FactCount,
		"created_at":  formatTime(e.CreatedAt),
		"updated_at":  formatTime(e.UpdatedAt),
	}
	if e.Metadata != nil {
		metadataJSON, err := jsonProp(e.Metadata)
		if err != nil {
			return nil, err
		}
		props["metadata"] = metadataJSON
	}
	return props, nil
}

func propStrings(props map[string]any, key string) []string {
	raw, ok := props[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if str, ok := v.(string); ok {
			out = append(out, str)
		}
	}
	return out
}

func entityFromNode(node dbtype.Node) (*types.Entity, error) {
	props := node.Props
	e := &types.Entity{
		ID:          propString(props, "id"),
		DealID:      propString(props, "deal_id"),
		Name:        propString(props, "name"),
		Type:        propString(props, "type"),
		Aliases:     propStrings(props, "aliases"),
		MentionIDs:  propStrings(props, "mention_ids"),
		Description: propString(props, "description"),
		Embedding:   propEmbedding(props, "embedding"),
		FactCount:   propInt(props, "fact_count"),
		CreatedAt:   propTime(props, "created_at"),
		UpdatedAt:   propTime(props, "updated_at"),
	}
	if raw := propString(props, "metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &e.Metadata); err != nil {
			return nil, errors.Wrap(err, "decode entity metadata")
		}
	}
	return e, nil
}

func (s *Neo4jStore) CreateEntity(ctx context.Context, entity *types.Entity) error {
	if entity.ID == "" {
		entity.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}
	entity.UpdatedAt = now
	if err := entity.Validate(); err != nil {
		return err
	}
	if len(entity.Aliases) == 0 {
		entity.Aliases = []string{entity.Name}
	}
	props, err := entityProps(entity)
	if err != nil {
		return err
	}

	session := s.session(ctx)
	defer session.Close(ctx)
	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `CREATE (e:Entity) SET e = $props`, map[string]any{"props": props})
		return nil, err
	})
	return mapNeo4jErr(err)
}

func (s *Neo4jStore) UpdateEntity(ctx context.Context, entity *types.Entity) error {
	if err := entity.Validate(); err != nil {
		return err
	}
	entity.UpdatedAt = time.Now().UTC()
	props, err := entityProps(entity)
	if err != nil {
		return err
	}
	// fact_count is store-maintained, an update must not clobber it.
	delete(props, "fact_count")

	session := s.session(ctx)
	defer session.Close(ctx)
	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx,
			`MATCH (e:Entity {deal_id: $deal_id, id: $id}) SET e += $props RETURN e.id`,
			map[string]any{"deal_id": entity.DealID, "id": entity.ID, "props": props})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return mapNeo4jErr(err)
	}
	if len(result.([]*db.Record)) == 0 {
		return types.ErrNotFound
	}
	return nil
}

func canonicalIDTx(ctx context.Context, tx neo4j.ManagedTransaction, dealID, entityID string) (string, error) {
	res, err := tx.Run(ctx,
		`OPTIONAL MATCH (:Entity {deal_id: $deal_id, id: $id})-[:MERGED_INTO]->(w:Entity)
		 RETURN w.id AS id`,
		map[string]any{"deal_id": dealID, "id": entityID})
	if err != nil {
		return "", err
	}
	records, err := res.Collect(ctx)
	if err != nil {
		return "", err
	}
	if len(records) > 0 {
		if value, found := records[0].Get("id"); found {
			if id, ok := value.(string); ok && id != "" {
				return id, nil
			}
		}
	}
	return entityID, nil
}

func (s *Neo4jStore) ResolveEntityID(ctx context.Context, dealID, entityID string) (string, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		id, err := canonicalIDTx(ctx, tx, dealID, entityID)
		if err != nil {
			return nil, err
		}
		return id, nil
	})
	if err != nil {
		return "", mapNeo4jErr(err)
	}
	return result.(string), nil
}

func (s *Neo4jStore) GetEntity(ctx context.Context, dealID, entityID string) (*types.Entity, error) {
	canonical, err := s.ResolveEntityID(ctx, dealID, entityID)
	if err != nil {
		return nil, err
	}
	nodes, err := s.collectNodes(ctx,
		`MATCH (e:Entity {deal_id: $deal_id, id: $id}) RETURN e`,
		map[string]any{"deal_id": dealID, "id": canonical}, "e")
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, types.ErrNotFound
	}
	return entityFromNode(nodes[0])
}

func (s *Neo4jStore) FindEntitiesByAlias(ctx context.Context, dealID, alias string) ([]*types.Entity, error) {
	nodes, err := s.collectNodes(ctx,
		`MATCH (e:Entity {deal_id: $deal_id})
		 WHERE $alias IN e.alias_keys AND NOT (e)-[:MERGED_INTO]->()
		 RETURN e`,
		map[string]any{"deal_id": dealID, "alias": types.NormalizeName(alias)}, "e")
	if err != nil {
		return nil, err
	}
	out := make([]*types.Entity, 0, len(nodes))
	for _, node := range nodes {
		e, err := entityFromNode(node)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Neo4jStore) ListEntities(ctx context.Context, dealID string) ([]*types.Entity, error) {
	nodes, err := s.collectNodes(ctx,
		`MATCH (e:Entity {deal_id: $deal_id})
		 WHERE NOT (e)-[:MERGED_INTO]->()
		 RETURN e ORDER BY e.created_at ASC`,
		map[string]any{"deal_id": dealID}, "e")
	if err != nil {
		return nil, err
	}
	out := make([]*types.Entity, 0, len(nodes))
	for _, node := range nodes {
		e, err := entityFromNode(node)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// SimilarEntities loads candidate embeddings and ranks them in memory; deals
// hold hundreds of entities, not millions, so a linear scan beats maintaining
// a vector index in the graph.
func (s *Neo4jStore) SimilarEntities(ctx context.Context, dealID string, vec []float32, limit int) ([]EntityScore, error) {
	if limit <= 0 {
		limit = 10
	}
	nodes, err := s.collectNodes(ctx,
		`MATCH (e:Entity {deal_id: $deal_id})
		 WHERE e.embedding IS NOT NULL AND NOT (e)-[:MERGED_INTO]->()
		 RETURN e`,
		map[string]any{"deal_id": dealID}, "e")
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*types.Entity, len(nodes))
	top := utils.NewTopK(limit)
	for _, node := range nodes {
		e, err := entityFromNode(node)
		if err != nil {
			return nil, err
		}
		if len(e.Embedding) == 0 {
			continue
		}
		byID[e.ID] = e
		top.Add(e.ID, utils.CosineSimilarity(vec, e.Embedding))
	}

	scored := top.Results()
	out := make([]EntityScore, 0, len(scored))
	for _, sc := range scored {
		out = append(out, EntityScore{Entity: byID[sc.ID], Score: sc.Score})
	}
	return out, nil
}

func (s *Neo4jStore) RedirectEntity(ctx context.Context, dealID, loserID, winnerID string) error {
	if loserID == winnerID {
		return nil
	}
	session := s.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		winner, err := canonicalIDTx(ctx, tx, dealID, winnerID)
		if err != nil {
			return nil, err
		}
		loser, err := canonicalIDTx(ctx, tx, dealID, loserID)
		if err != nil {
			return nil, err
		}
		if loser == winner {
			return nil, nil
		}

		res, err := tx.Run(ctx,
			`MATCH (l:Entity {deal_id: $deal_id, id: $loser})
			 MATCH (w:Entity {deal_id: $deal_id, id: $winner})
			 RETURN l, w`,
			map[string]any{"deal_id": dealID, "loser": loser, "winner": winner})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, types.ErrNotFound
		}
		lValue, _ := records[0].Get("l")
		wValue, _ := records[0].Get("w")
		loserEntity, err := entityFromNode(lValue.(dbtype.Node))
		if err != nil {
			return nil, err
		}
		winnerEntity, err := entityFromNode(wValue.(dbtype.Node))
		if err != nil {
			return nil, err
		}

		// Point the loser and everything that pointed at it to the winner,
		// flattening redirect chains.
		_, err = tx.Run(ctx,
			`MATCH (l:Entity {deal_id: $deal_id, id: $loser})
			 MATCH (w:Entity {deal_id: $deal_id, id: $winner})
			 MERGE (l)-[:MERGED_INTO]->(w)
			 WITH l, w
			 OPTIONAL MATCH (x:Entity)-[r:MERGED_INTO]->(l)
			 DELETE r
			 FOREACH (y IN CASE WHEN x IS NULL THEN [] ELSE [x] END |
				MERGE (y)-[:MERGED_INTO]->(w))`,
			map[string]any{"deal_id": dealID, "loser": loser, "winner": winner})
		if err != nil {
			return nil, err
		}

		for _, a := range loserEntity.Aliases {
			winnerEntity.AddAlias(a)
		}
		winnerEntity.MentionIDs = append(winnerEntity.MentionIDs, loserEntity.MentionIDs...)
		winnerEntity.FactCount += loserEntity.FactCount
		winnerEntity.UpdatedAt = time.Now().UTC()
		props, err := entityProps(winnerEntity)
		if err != nil {
			return nil, err
		}
		_, err = tx.Run(ctx,
			`MATCH (w:Entity {deal_id: $deal_id, id: $winner}) SET w += $props`,
			map[string]any{"deal_id": dealID, "winner": winner, "props": props})
		return nil, err
	})
	return mapNeo4jErr(err)
}

func (s *Neo4jStore) SaveMention(ctx context.Context, mention *types.Mention) error {
	if mention.ID == "" {
		mention.ID = uuid.New().String()
	}
	if mention.CreatedAt.IsZero() {
		mention.CreatedAt = time.Now().UTC()
	}
	session := s.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			CREATE (m:Mention {deal_id: $deal_id, id: $id, text: $text, type: $type,
				entity_id: $entity_id, document_id: $document_id, created_at: $created_at})
			WITH m
			OPTIONAL MATCH (e:Entity {deal_id: $deal_id, id: $entity_id})
			FOREACH (x IN CASE WHEN e IS NULL THEN [] ELSE [1] END |
				CREATE (m)-[:RESOLVED_TO]->(e))
		`
		_, err := tx.Run(ctx, query, map[string]any{
			"deal_id":     mention.DealID,
			"id":          mention.ID,
			"text":        mention.Text,
			"type":        mention.Type,
			"entity_id":   mention.EntityID,
			"document_id": mention.DocumentID,
			"created_at":  formatTime(mention.CreatedAt),
		})
		return nil, err
	})
	return mapNeo4jErr(err)
}

// --- Documents ---

func documentProps(d *types.Document) map[string]any {
	return map[string]any{
		"id":           d.ID,
		"deal_id":      d.DealID,
		"content_hash": d.ContentHash,
		"status":       string(d.Status),
		"attempts":     d.Attempts,
		"last_error":   d.LastError,
		"created_at":   formatTime(d.CreatedAt),
		"updated_at":   formatTime(d.UpdatedAt),
		"ingested_at":  formatTimePtr(d.IngestedAt),
	}
}

func documentFromNode(node dbtype.Node) *types.Document {
	props := node.Props
	return &types.Document{
		ID:          propString(props, "id"),
		DealID:      propString(props, "deal_id"),
		ContentHash: propString(props, "content_hash"),
		Status:      types.DocumentStatus(propString(props, "status")),
		Attempts:    propInt(props, "attempts"),
		LastError:   propString(props, "last_error"),
		CreatedAt:   propTime(props, "created_at"),
		UpdatedAt:   propTime(props, "updated_at"),
		IngestedAt:  propTimePtr(props, "ingested_at"),
	}
}

func (s *Neo4jStore) PutDocument(ctx context.Context, doc *types.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = types.DocumentPending
	}

	session := s.session(ctx)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx,
			`MERGE (d:Document {deal_id: $deal_id, id: $id}) SET d += $props`,
			map[string]any{"deal_id": doc.DealID, "id": doc.ID, "props": documentProps(doc)})
		return nil, err
	})
	return mapNeo4jErr(err)
}

func (s *Neo4jStore) GetDocument(ctx context.Context, dealID, documentID string) (*types.Document, error) {
	nodes, err := s.collectNodes(ctx,
		`MATCH (d:Document {deal_id: $deal_id, id: $id}) RETURN d`,
		map[string]any{"deal_id": dealID, "id": documentID}, "d")
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, types.ErrNotFound
	}
	return documentFromNode(nodes[0]), nil
}

func (s *Neo4jStore) TransitionDocument(ctx context.Context, dealID, documentID string, next types.DocumentStatus, lastError string) (*types.Document, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx,
			`MATCH (d:Document {deal_id: $deal_id, id: $id}) RETURN d`,
			map[string]any{"deal_id": dealID, "id": documentID})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, types.ErrNotFound
		}
		value, _ := records[0].Get("d")
		doc := documentFromNode(value.(dbtype.Node))

		if !doc.Status.CanTransitionTo(next) {
			return nil, errors.Mark(
				errors.Newf("document %s cannot move %s -> %s", documentID, doc.Status, next),
				types.ErrInvalidTransition)
		}
		now := time.Now().UTC()
		doc.Status = next
		doc.UpdatedAt = now
		doc.LastError = lastError
		switch next {
		case types.DocumentProcessing:
			doc.Attempts++
		case types.DocumentIngested:
			doc.IngestedAt = &now
			doc.LastError = ""
		}
		_, err = tx.Run(ctx,
			`MATCH (d:Document {deal_id: $deal_id, id: $id}) SET d += $props`,
			map[string]any{"deal_id": dealID, "id": documentID, "props": documentProps(doc)})
		if err != nil {
			return nil, err
		}
		return doc, nil
	})
	if err != nil {
		return nil, mapNeo4jErr(err)
	}
	return result.(*types.Document), nil
}

func (s *Neo4jStore) ListDocuments(ctx context.Context, dealID string, status types.DocumentStatus) ([]*types.Document, error) {
	query := `MATCH (d:Document {deal_id: $deal_id})`
	params := map[string]any{"deal_id": dealID}
	if status != "" {
		query += ` WHERE d.status = $status`
		params["status"] = string(status)
	}
	query += ` RETURN d ORDER BY d.created_at ASC`

	nodes, err := s.collectNodes(ctx, query, params, "d")
	if err != nil {
		return nil, err
	}
	out := make([]*types.Document, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, documentFromNode(node))
	}
	return out, nil
}

// --- Contradictions ---

func contradictionFromNode(node dbtype.Node) *types.Contradiction {
	props := node.Props
	return &types.Contradiction{
		ID:         propString(props, "id"),
		DealID:     propString(props, "deal_id"),
		FactA:      propString(props, "fact_a"),
		FactB:      propString(props, "fact_b"),
		SubjectID:  propString(props, "subject_id"),
		Predicate:  propString(props, "predicate"),
		Rationale:  propString(props, "rationale"),
		State:      types.ContradictionState(propString(props, "state")),
		DetectedAt: propTime(props, "detected_at"),
		ResolvedAt: propTimePtr(props, "resolved_at"),
		ResolvedBy: propString(props, "resolved_by"),
	}
}

func (s *Neo4jStore) SaveContradiction(ctx context.Context, c *types.Contradiction) (bool, error) {
	c.FactA, c.FactB = types.ContradictionPair(c.FactA, c.FactB)
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.DetectedAt.IsZero() {
		c.DetectedAt = time.Now().UTC()
	}
	if c.State == "" {
		c.State = types.ContradictionUnresolved
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	// MERGE on the pair: ON CREATE fills the record; reading c back tells
	// whether our insert won.
	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx,
			`MERGE (c:Contradiction {deal_id: $deal_id, fact_a: $fact_a, fact_b: $fact_b})
			 ON CREATE SET c.id = $id, c.subject_id = $subject_id, c.predicate = $predicate,
				c.rationale = $rationale, c.state = $state, c.detected_at = $detected_at,
				c.resolved_by = ''
			 RETURN c`,
			map[string]any{
				"deal_id":     c.DealID,
				"fact_a":      c.FactA,
				"fact_b":      c.FactB,
				"id":          c.ID,
				"subject_id":  c.SubjectID,
				"predicate":   c.Predicate,
				"rationale":   c.Rationale,
				"state":       string(c.State),
				"detected_at": formatTime(c.DetectedAt),
			})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, errors.New("merge returned no contradiction")
		}
		value, _ := records[0].Get("c")
		return contradictionFromNode(value.(dbtype.Node)), nil
	})
	if err != nil {
		return false, mapNeo4jErr(err)
	}

	stored := result.(*types.Contradiction)
	created := stored.ID == c.ID
	*c = *stored
	return created, nil
}

func (s *Neo4jStore) GetContradiction(ctx context.Context, dealID, id string) (*types.Contradiction, error) {
	nodes, err := s.collectNodes(ctx,
		`MATCH (c:Contradiction {deal_id: $deal_id, id: $id}) RETURN c`,
		map[string]any{"deal_id": dealID, "id": id}, "c")
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, types.ErrNotFound
	}
	return contradictionFromNode(nodes[0]), nil
}

func (s *Neo4jStore) ListContradictions(ctx context.Context, dealID string, state types.ContradictionState) ([]*types.Contradiction, error) {
	query := `MATCH (c:Contradiction {deal_id: $deal_id})`
	params := map[string]any{"deal_id": dealID}
	if state != "" {
		query += ` WHERE c.state = $state`
		params["state"] = string(state)
	}
	query += ` RETURN c ORDER BY c.detected_at ASC`

	nodes, err := s.collectNodes(ctx, query, params, "c")
	if err != nil {
		return nil, err
	}
	out := make([]*types.Contradiction, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, contradictionFromNode(node))
	}
	return out, nil
}

func (s *Neo4jStore) ResolveContradiction(ctx context.Context, dealID, id string, next types.ContradictionState, resolvedBy string) error {
	session := s.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx,
			`MATCH (c:Contradiction {deal_id: $deal_id, id: $id}) RETURN c.state AS state`,
			map[string]any{"deal_id": dealID, "id": id})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, types.ErrNotFound
		}
		raw, _ := records[0].Get("state")
		state, _ := raw.(string)
		if !types.ContradictionState(state).CanTransitionTo(next) {
			return nil, errors.Mark(
				errors.Newf("contradiction %s cannot move %s -> %s", id, state, next),
				types.ErrInvalidTransition)
		}
		_, err = tx.Run(ctx,
			`MATCH (c:Contradiction {deal_id: $deal_id, id: $id})
			 SET c.state = $state, c.resolved_at = $resolved_at, c.resolved_by = $resolved_by`,
			map[string]any{
				"deal_id":     dealID,
				"id":          id,
				"state":       string(next),
				"resolved_at": formatTime(time.Now()),
				"resolved_by": resolvedBy,
			})
		return nil, err
	})
	return mapNeo4jErr(err)
}

// --- Aggregates ---

func (s *Neo4jStore) Stats(ctx context.Context, dealID string) (*Stats, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		stats := &Stats{
			DealID:         dealID,
			Contradictions: make(map[types.ContradictionState]int),
			Documents:      make(map[types.DocumentStatus]int),
		}

		res, err := tx.Run(ctx,
			`MATCH (e:Entity {deal_id: $deal_id}) WHERE NOT (e)-[:MERGED_INTO]->()
			 RETURN count(e) AS n`,
			map[string]any{"deal_id": dealID})
		if err != nil {
			return nil, err
		}
		if record, err := res.Single(ctx); err == nil {
			if n, found := record.Get("n"); found {
				stats.Entities = int(n.(int64))
			}
		}

		res, err = tx.Run(ctx,
			`MATCH (f:Fact {deal_id: $deal_id})
			 RETURN f.invalid_at IS NULL AS valid, count(f) AS n`,
			map[string]any{"deal_id": dealID})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		for _, record := range records {
			valid, _ := record.Get("valid")
			n, _ := record.Get("n")
			if valid.(bool) {
				stats.FactsValid = int(n.(int64))
			} else {
				stats.FactsInvalidated = int(n.(int64))
			}
		}

		res, err = tx.Run(ctx,
			`MATCH (c:Contradiction {deal_id: $deal_id}) RETURN c.state AS state, count(c) AS n`,
			map[string]any{"deal_id": dealID})
		if err != nil {
			return nil, err
		}
		records, err = res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		for _, record := range records {
			state, _ := record.Get("state")
			n, _ := record.Get("n")
			stats.Contradictions[types.ContradictionState(state.(string))] = int(n.(int64))
		}

		res, err = tx.Run(ctx,
			`MATCH (d:Document {deal_id: $deal_id}) RETURN d.status AS status, count(d) AS n`,
			map[string]any{"deal_id": dealID})
		if err != nil {
			return nil, err
		}
		records, err = res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		for _, record := range records {
			status, _ := record.Get("status")
			n, _ := record.Get("n")
			stats.Documents[types.DocumentStatus(status.(string))] = int(n.(int64))
		}
		return stats, nil
	})
	if err != nil {
		return nil, mapNeo4jErr(err)
	}
	return result.(*Stats), nil
}
