package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"docgrid/models"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrIndexNotFound     = errors.New("index not found")
	ErrIndexExists       = errors.New("index already exists")
	ErrDocumentNotFound  = errors.New("document not found")
	ErrMissingPrimaryKey = errors.New("document missing primary key")
	ErrNothingToDelete   = errors.New("must provide ids or filter to delete documents")
)

// deletePageSize bounds each search page while collecting documents to delete
const deletePageSize = 10000

// IndexStore manages all indexes
type IndexStore struct {
	indexes    map[string]bleve.Index
	configs    map[string]*models.IndexConfig
	indexLocks map[string]*sync.RWMutex
	mu         sync.RWMutex
	dataDir    string
	configFile string
	logger     *zap.Logger
}

// New opens the store rooted at dataDir, reopening every index listed in its
// configuration file
func New(dataDir string, logger *zap.Logger) (*IndexStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &IndexStore{
		indexes:    make(map[string]bleve.Index),
		configs:    make(map[string]*models.IndexConfig),
		indexLocks: make(map[string]*sync.RWMutex),
		dataDir:    dataDir,
		configFile: filepath.Join(dataDir, "configs.json"),
		logger:     logger.Named("store"),
	}
	if err := s.loadConfigs(); err != nil {
		return nil, err
	}
	return s, nil
}

// getIndexLock returns the lock for a specific index, creating it if necessary
func (s *IndexStore) getIndexLock(indexID string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lock, exists := s.indexLocks[indexID]; exists {
		return lock
	}

	lock := &sync.RWMutex{}
	s.indexLocks[indexID] = lock
	return lock
}

// CreateIndex creates a new bleve index
func (s *IndexStore) CreateIndex(config *models.IndexConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.indexes[config.ID]; exists {
		return fmt.Errorf("%w: %s", ErrIndexExists, config.ID)
	}

	index, err := s.openOrCreate(config)
	if err != nil {
		return err
	}

	s.indexes[config.ID] = index
	s.configs[config.ID] = config
	s.indexLocks[config.ID] = &sync.RWMutex{}
	s.saveConfigs()

	s.logger.Info("index created",
		zap.String("index", config.ID),
		zap.String("primary_key", config.PrimaryKey),
		zap.String("time_field", config.TimeField),
	)
	return nil
}

// openOrCreate opens the index directory of config, recreating it when it is
// missing or unreadable
func (s *IndexStore) openOrCreate(config *models.IndexConfig) (bleve.Index, error) {
	indexPath := filepath.Join(s.dataDir, config.ID)

	if _, statErr := os.Stat(indexPath); statErr == nil {
		index, err := bleve.Open(indexPath)
		if err == nil {
			return index, nil
		}
		s.logger.Warn("index unreadable, recreating",
			zap.String("index", config.ID),
			zap.Error(err),
		)
		os.RemoveAll(indexPath)
	}

	index, err := bleve.New(indexPath, NewIndexMapping(config))
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	return index, nil
}

// NewIndexMapping builds the bleve mapping of an index. Keyword fields are
// indexed as single terms, excluded attributes are not indexed at all.
func NewIndexMapping(config *models.IndexConfig) mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	defaultMapping := indexMapping.DefaultMapping

	for _, field := range config.KeywordFields {
		fieldMapping := bleve.NewTextFieldMapping()
		fieldMapping.Analyzer = keyword.Name
		defaultMapping.AddFieldMappingsAt(field, fieldMapping)
	}
	if config.TimeField != "" {
		defaultMapping.AddFieldMappingsAt(config.TimeField, bleve.NewDateTimeFieldMapping())
	}
	for _, attr := range config.ExcludeAttributes {
		defaultMapping.AddSubDocumentMapping(attr, bleve.NewDocumentDisabledMapping())
	}

	return indexMapping
}

// GetIndex returns an index by ID
func (s *IndexStore) GetIndex(id string) (bleve.Index, *models.IndexConfig, error) {
	s.mu.RLock()
	index, exists := s.indexes[id]
	config := s.configs[id]
	s.mu.RUnlock()

	if !exists {
		return nil, nil, fmt.Errorf("%w: %s", ErrIndexNotFound, id)
	}

	return index, config, nil
}

// DeleteIndex closes an index and removes it from disk
func (s *IndexStore) DeleteIndex(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, exists := s.indexes[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, id)
	}

	if err := index.Close(); err != nil {
		return fmt.Errorf("failed to close index: %w", err)
	}

	indexPath := filepath.Join(s.dataDir, id)
	if err := os.RemoveAll(indexPath); err != nil {
		return fmt.Errorf("failed to delete index directory: %w", err)
	}

	delete(s.indexes, id)
	delete(s.configs, id)
	delete(s.indexLocks, id)
	s.saveConfigs()

	s.logger.Info("index deleted", zap.String("index", id))
	return nil
}

// UpdateIndex updates index configuration. Mapping changes only apply to
// indexes created afterwards.
func (s *IndexStore) UpdateIndex(id string, config *models.IndexConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.indexes[id]; !exists {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, id)
	}

	config.ID = id
	s.configs[id] = config
	s.saveConfigs()

	return nil
}

// ListIndexes returns index configurations ordered by ID
func (s *IndexStore) ListIndexes(limit, offset int) []*models.IndexConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	allConfigs := make([]*models.IndexConfig, 0, len(s.configs))
	for _, config := range s.configs {
		allConfigs = append(allConfigs, config)
	}
	sort.Slice(allConfigs, func(i, j int) bool {
		return allConfigs[i].ID < allConfigs[j].ID
	})

	if offset < 0 {
		offset = 0
	}
	if offset > len(allConfigs) {
		return []*models.IndexConfig{}
	}

	end := offset + limit
	if limit <= 0 || end > len(allConfigs) {
		end = len(allConfigs)
	}

	return allConfigs[offset:end]
}

// Close closes every open index
func (s *IndexStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for id, index := range s.indexes {
		if err := index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close index %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// loadConfigs loads index configurations from disk and opens their indexes
func (s *IndexStore) loadConfigs() error {
	data, err := os.ReadFile(s.configFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read index configs: %w", err)
	}

	var configs map[string]*models.IndexConfig
	if err := sonic.Unmarshal(data, &configs); err != nil {
		return fmt.Errorf("failed to parse index configs: %w", err)
	}

	for id, config := range configs {
		index, err := s.openOrCreate(config)
		if err != nil {
			s.logger.Error("failed to open index, skipping",
				zap.String("index", id),
				zap.Error(err),
			)
			continue
		}
		s.configs[id] = config
		s.indexes[id] = index
		s.indexLocks[id] = &sync.RWMutex{}
	}

	return nil
}

// saveConfigs saves index configurations to disk
func (s *IndexStore) saveConfigs() {
	data, err := sonic.ConfigDefault.MarshalIndent(s.configs, "", "  ")
	if err != nil {
		s.logger.Error("failed to encode index configs", zap.Error(err))
		return
	}

	if err := os.WriteFile(s.configFile, data, 0644); err != nil {
		s.logger.Error("failed to write index configs", zap.Error(err))
	}
}

// AddDocuments indexes documents in one batch. Documents without a primary key
// get a UUIDv7 when generateIDs is set and are rejected otherwise.
func (s *IndexStore) AddDocuments(indexID string, documents []map[string]any, generateIDs bool) (int, error) {
	index, config, err := s.GetIndex(indexID)
	if err != nil {
		return 0, err
	}

	indexLock := s.getIndexLock(indexID)
	indexLock.Lock()
	defer indexLock.Unlock()

	batch := index.NewBatch()
	for _, doc := range documents {
		var docID string
		if id, ok := doc[config.PrimaryKey]; ok && id != nil {
			docID = fmt.Sprintf("%v", id)
		} else if generateIDs {
			uuidV7, err := uuid.NewV7()
			if err != nil {
				return 0, fmt.Errorf("failed to generate document id: %w", err)
			}
			docID = uuidV7.String()
			doc[config.PrimaryKey] = docID
		} else {
			return 0, fmt.Errorf("%w: %s", ErrMissingPrimaryKey, config.PrimaryKey)
		}

		if err := batch.Index(docID, doc); err != nil {
			return 0, fmt.Errorf("failed to index document: %w", err)
		}
	}

	if err := index.Batch(batch); err != nil {
		return 0, fmt.Errorf("failed to commit batch: %w", err)
	}

	return len(documents), nil
}

// DeleteDocument deletes a single document
func (s *IndexStore) DeleteDocument(indexID, documentID string) error {
	index, _, err := s.GetIndex(indexID)
	if err != nil {
		return err
	}

	indexLock := s.getIndexLock(indexID)
	indexLock.Lock()
	defer indexLock.Unlock()

	if err := index.Delete(documentID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	return nil
}

// DeleteDocuments deletes documents by ID, or every document matching filter.
// Matches are collected page by page following the _id sort key.
func (s *IndexStore) DeleteDocuments(indexID, filter string, ids []string) (int, error) {
	index, _, err := s.GetIndex(indexID)
	if err != nil {
		return 0, err
	}

	indexLock := s.getIndexLock(indexID)
	indexLock.Lock()
	defer indexLock.Unlock()

	batch := index.NewBatch()

	switch {
	case len(ids) > 0:
		for _, id := range ids {
			batch.Delete(id)
		}
	case filter != "":
		query := bleve.NewQueryStringQuery(filter)
		var after []string
		for {
			searchRequest := bleve.NewSearchRequestOptions(query, deletePageSize, 0, false)
			searchRequest.SortBy([]string{"_id"})
			if after != nil {
				searchRequest.SetSearchAfter(after)
			}

			searchResult, err := index.Search(searchRequest)
			if err != nil {
				return 0, fmt.Errorf("failed to search: %w", err)
			}
			for _, hit := range searchResult.Hits {
				batch.Delete(hit.ID)
			}
			if len(searchResult.Hits) < deletePageSize {
				break
			}
			after = searchResult.Hits[len(searchResult.Hits)-1].Sort
		}
	default:
		return 0, ErrNothingToDelete
	}

	deleted := batch.Size()
	if err := index.Batch(batch); err != nil {
		return 0, fmt.Errorf("failed to delete documents: %w", err)
	}

	return deleted, nil
}

// UpdateDocument merges updates into a stored document and reindexes it
func (s *IndexStore) UpdateDocument(indexID, documentID string, updates map[string]any) (map[string]any, error) {
	index, _, err := s.GetIndex(indexID)
	if err != nil {
		return nil, err
	}

	indexLock := s.getIndexLock(indexID)
	indexLock.Lock()
	defer indexLock.Unlock()

	searchRequest := bleve.NewSearchRequest(bleve.NewDocIDQuery([]string{documentID}))
	searchRequest.Fields = []string{"*"}
	searchResult, err := index.Search(searchRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	if len(searchResult.Hits) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}

	merged := make(map[string]any, len(searchResult.Hits[0].Fields)+len(updates))
	for fieldName, fieldValue := range searchResult.Hits[0].Fields {
		merged[fieldName] = fieldValue
	}
	for key, value := range updates {
		merged[key] = value
	}

	if err := index.Index(documentID, merged); err != nil {
		return nil, fmt.Errorf("failed to update document: %w", err)
	}

	return merged, nil
}

// DetectPrimaryKey analyzes documents and returns the primary key attribute
// Returns error if no candidates or multiple candidates are found
func DetectPrimaryKey(documents []map[string]any) (string, error) {
	if len(documents) == 0 {
		return "", fmt.Errorf("cannot detect primary key from empty document set")
	}

	candidates := make(map[string]bool)
	for _, doc := range documents {
		for attr := range doc {
			if strings.HasSuffix(strings.ToLower(attr), "id") {
				candidates[attr] = true
			}
		}
	}

	if len(candidates) == 0 {
		return "", fmt.Errorf("no primary key candidate found (no attribute ending with 'id')")
	}
	if len(candidates) > 1 {
		candidateList := make([]string, 0, len(candidates))
		for k := range candidates {
			candidateList = append(candidateList, k)
		}
		sort.Strings(candidateList)
		return "", fmt.Errorf("multiple primary key candidates found: %v", candidateList)
	}

	for candidate := range candidates {
		return candidate, nil
	}
	return "", nil
}
