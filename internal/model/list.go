package model

import (
	"time"
)

// ExtractionStrategy decides how many items a document yields.
type ExtractionStrategy string

const (
	StrategyPerFile   ExtractionStrategy = "per_file"
	StrategyPerRow    ExtractionStrategy = "per_row"
	StrategyPerColumn ExtractionStrategy = "per_column"
	StrategyLLMPrompt ExtractionStrategy = "llm_prompt"
)

// Valid reports whether s is a known extraction strategy.
func (s ExtractionStrategy) Valid() bool {
	switch s {
	case StrategyPerFile, StrategyPerRow, StrategyPerColumn, StrategyLLMPrompt:
		return true
	}
	return false
}

// Library groups uploaded files.
type Library struct {
	ID             string `json:"id"`
	WorkspaceID    string `json:"workspace_id"`
	Name           string `json:"name"`
	EmbeddingModel string `json:"embedding_model,omitempty"`
}

// File is an uploaded document in a library.
type File struct {
	ID                     string     `json:"id"`
	LibraryID              string     `json:"library_id"`
	LibraryName            string     `json:"library_name"`
	WorkspaceID            string     `json:"workspace_id"`
	Name                   string     `json:"name"`
	OriginURI              string     `json:"origin_uri,omitempty"`
	MimeType               string     `json:"mime_type,omitempty"`
	Size                   *int64     `json:"size,omitempty"`
	CrawlerURI             string     `json:"crawler_uri,omitempty"`
	OriginModificationDate *time.Time `json:"origin_modification_date,omitempty"`
	ProcessedAt            *time.Time `json:"processed_at,omitempty"`
	ArchivedAt             *time.Time `json:"archived_at,omitempty"`
}

// ListSource links a list to a library and carries the extraction strategy.
type ListSource struct {
	ID                 string             `json:"id"`
	ListID             string             `json:"list_id"`
	LibraryID          string             `json:"library_id"`
	WorkspaceID        string             `json:"workspace_id"`
	ExtractionStrategy ExtractionStrategy `json:"extraction_strategy"`
	ExtractionConfig   ExtractionConfig   `json:"extraction_config"`
}

// ExtractionConfig holds the settings of the llm_prompt strategy.
type ExtractionConfig struct {
	Prompt           string `json:"prompt,omitempty"`
	LanguageModel    string `json:"languageModel,omitempty"`
	LanguageProvider string `json:"languageProvider,omitempty"`
}

// Item is one unit extracted from a source document. A nil ExtractionIndex
// marks a whole-document item whose content is the file's markdown.
type Item struct {
	ID              string         `json:"id"`
	ListID          string         `json:"list_id"`
	SourceID        string         `json:"source_id"`
	SourceFileID    string         `json:"source_file_id"`
	LibraryID       string         `json:"library_id"`
	ExtractionIndex *int           `json:"extraction_index"`
	ItemName        string         `json:"item_name"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// IsWholeDocument reports whether the item covers the entire source file.
func (i *Item) IsWholeDocument() bool {
	return i.ExtractionIndex == nil
}

// ContentKey identifies an item's content artifact.
func (i *Item) ContentKey() ContentKey {
	return ContentKey{FileID: i.SourceFileID, LibraryID: i.LibraryID, ListID: i.ListID, ItemID: i.ID}
}

// ContentKey addresses a per-item content artifact in the document store.
type ContentKey struct {
	FileID    string
	LibraryID string
	ListID    string
	ItemID    string
}

// ExtractionLog is the audit record of the latest extraction attempt for a
// (source, file) pair.
type ExtractionLog struct {
	ID           string         `json:"id"`
	SourceID     string         `json:"source_id"`
	FileID       string         `json:"file_id"`
	Strategy     string         `json:"strategy"`
	Input        map[string]any `json:"input"`
	Output       map[string]any `json:"output,omitempty"`
	Error        string         `json:"error,omitempty"`
	ItemsCreated int            `json:"items_created"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
