// Package vector indexes converted documents per library in chromem-go and
// serves similarity search for enrichment context.
package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/philippgille/chromem-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	defaultHits      = 4
	defaultChunkSize = 1200
)

// Chunk is one search hit.
type Chunk struct {
	ID       string  `json:"id"`
	FileID   string  `json:"file_id"`
	FileName string  `json:"file_name"`
	Text     string  `json:"text"`
	Distance float64 `json:"distance"`
}

// Store holds one collection per library.
type Store struct {
	db        *chromem.DB
	embed     chromem.EmbeddingFunc
	chunkSize int
}

// NewPersistent opens (or creates) a persistent store at path.
func NewPersistent(path string, embed chromem.EmbeddingFunc) (*Store, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: open %s", path)
	}
	return &Store{db: db, embed: embed, chunkSize: defaultChunkSize}, nil
}

// NewMemory creates a non-persistent store.
func NewMemory(embed chromem.EmbeddingFunc) *Store {
	return &Store{db: chromem.NewDB(), embed: embed, chunkSize: defaultChunkSize}
}

// OllamaEmbedder returns an embedding func backed by an Ollama server.
func OllamaEmbedder(baseURL, model string) chromem.EmbeddingFunc {
	return chromem.NewEmbeddingFuncOllama(model, baseURL)
}

func collectionName(libraryID string) string {
	return "library_" + libraryID
}

func (s *Store) collection(libraryID string) (*chromem.Collection, error) {
	c, err := s.db.GetOrCreateCollection(collectionName(libraryID), nil, s.embed)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: collection for library %s", libraryID)
	}
	return c, nil
}

// IndexFile replaces the chunks of one file in its library's collection.
func (s *Store) IndexFile(ctx context.Context, libraryID, fileID, fileName, markdown string) (int, error) {
	c, err := s.collection(libraryID)
	if err != nil {
		return 0, err
	}
	if err := c.Delete(ctx, map[string]string{"fileId": fileID}, nil); err != nil {
		return 0, eris.Wrapf(err, "vector: delete chunks of file %s", fileID)
	}

	parts := Split(markdown, s.chunkSize)
	if len(parts) == 0 {
		return 0, nil
	}
	docs := make([]chromem.Document, len(parts))
	for i, p := range parts {
		docs[i] = chromem.Document{
			ID:       fmt.Sprintf("%s-%04d", fileID, i),
			Content:  p,
			Metadata: map[string]string{"fileId": fileID, "fileName": fileName},
		}
	}
	if err := c.AddDocuments(ctx, docs, 4); err != nil {
		return 0, eris.Wrapf(err, "vector: index file %s", fileID)
	}

	zap.L().Debug("indexed file", zap.String("library_id", libraryID), zap.String("file_id", fileID), zap.Int("chunks", len(docs)))
	return len(docs), nil
}

// Search returns up to maxChunks chunks of the library closest to query.
// Hits further than maxDistance (cosine distance) are dropped when
// maxDistance is positive.
func (s *Store) Search(ctx context.Context, libraryID, query string, maxChunks int, maxDistance float64) ([]Chunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, eris.New("vector: empty query")
	}
	if maxChunks <= 0 {
		maxChunks = defaultHits
	}

	c := s.db.GetCollection(collectionName(libraryID), s.embed)
	if c == nil || c.Count() == 0 {
		return nil, nil
	}
	if maxChunks > c.Count() {
		maxChunks = c.Count()
	}

	results, err := c.Query(ctx, query, maxChunks, nil, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: query library %s", libraryID)
	}
	chunks := make([]Chunk, 0, len(results))
	for _, r := range results {
		dist := 1 - float64(r.Similarity)
		if maxDistance > 0 && dist > maxDistance {
			continue
		}
		chunks = append(chunks, Chunk{
			ID:       r.ID,
			FileID:   r.Metadata["fileId"],
			FileName: r.Metadata["fileName"],
			Text:     r.Content,
			Distance: dist,
		})
	}
	return chunks, nil
}

// Split breaks markdown into chunks of at most size characters on paragraph
// boundaries. Oversized paragraphs are cut hard.
func Split(markdown string, size int) []string {
	var chunks []string
	var cur strings.Builder
	flush := func() {
		if t := strings.TrimSpace(cur.String()); t != "" {
			chunks = append(chunks, t)
		}
		cur.Reset()
	}

	for _, para := range strings.Split(strings.ReplaceAll(markdown, "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(para)+2 > size {
			flush()
		}
		for len(para) > size {
			flush()
			chunks = append(chunks, para[:size])
			para = para[size:]
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(para)
	}
	flush()
	return chunks
}
