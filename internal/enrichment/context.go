package enrichment

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/list-enricher/internal/docstore"
	"github.com/sells-group/list-enricher/internal/llm"
	"github.com/sells-group/list-enricher/internal/model"
	"github.com/sells-group/list-enricher/internal/vector"
	"github.com/sells-group/list-enricher/internal/webfetch"
)

var placeholderRe = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// ContextValue is the resolved value of one referenced field. A nil Value
// means the field has no value for the item.
type ContextValue struct {
	FieldID      string  `json:"fieldId"`
	FieldName    string  `json:"fieldName"`
	Value        *string `json:"value"`
	ErrorMessage string  `json:"errorMessage,omitempty"`
}

// SubstituteTemplate replaces {{fieldName}} placeholders with the values of
// the matching context fields. Names match case-insensitively after
// trimming. Returns false when any referenced field is missing or has no
// value.
func SubstituteTemplate(template string, values []ContextValue) (string, bool) {
	byName := make(map[string]*string, len(values))
	for _, v := range values {
		byName[strings.ToLower(v.FieldName)] = v.Value
	}

	ok := true
	out := placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		name := strings.TrimSpace(m[2 : len(m)-2])
		v := byName[strings.ToLower(name)]
		if v == nil {
			ok = false
			return m
		}
		return *v
	})
	if !ok {
		return "", false
	}
	return out, true
}

// Resolved is the context gathered for one entry.
type Resolved struct {
	Fields   []ContextValue
	Messages []llm.Message
	Chunks   []vector.Chunk
	Issues   []string
}

// Resolver gathers prompt context for computed fields. Vectors, web and
// docs are optional; sources needing a missing collaborator are reported as
// issues.
type Resolver struct {
	store   Store
	vectors VectorSearcher
	web     WebFetcher
	docs    docstore.Store
}

// NewResolver creates a Resolver.
func NewResolver(store Store, vectors VectorSearcher, web WebFetcher, docs docstore.Store) *Resolver {
	return &Resolver{store: store, vectors: vectors, web: web, docs: docs}
}

// Resolve builds the context messages for computing field on item. Field
// references come first so vector and web templates can substitute them.
func (r *Resolver) Resolve(ctx context.Context, field *model.Field, item *model.Item, file *model.File) (*Resolved, error) {
	res := &Resolved{}

	for _, src := range field.Context {
		if src.Type != model.ContextFieldReference || src.ContextField == nil {
			continue
		}
		cv, err := r.fieldValue(ctx, src.ContextField, item, file)
		if err != nil {
			return nil, err
		}
		res.Fields = append(res.Fields, cv)
		value := ""
		if cv.Value != nil {
			value = *cv.Value
		}
		res.Messages = append(res.Messages, llm.Message{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf("Here is the context value for %s: %s", cv.FieldName, value),
		})
	}

	for _, src := range field.Context {
		switch src.Type {
		case model.ContextVectorSearch:
			if err := r.vectorSearch(ctx, src, file, res); err != nil {
				return nil, err
			}
		case model.ContextWebFetch:
			r.webFetch(ctx, src, res)
		case model.ContextFullContent:
			if err := r.fullContent(ctx, src, item, res); err != nil {
				return nil, err
			}
		}
	}
	return res, nil
}

func (r *Resolver) fieldValue(ctx context.Context, f *model.Field, item *model.Item, file *model.File) (ContextValue, error) {
	cv := ContextValue{FieldID: f.ID, FieldName: f.Name}

	if f.SourceType == model.SourceFileProperty {
		v, ok := FilePropertyValue(f.FileProperty, item, file)
		if !ok {
			cv.ErrorMessage = fmt.Sprintf("Unknown file property: %s", f.FileProperty)
			return cv, nil
		}
		if v != "" {
			cv.Value = &v
		}
		return cv, nil
	}

	entry, err := r.store.GetCacheEntry(ctx, item.ID, f.ID)
	if err != nil {
		return cv, eris.Wrapf(err, "enrichment: context value for field %s", f.ID)
	}
	if entry == nil {
		return cv, nil
	}
	if entry.EnrichmentErrorMessage != nil {
		cv.ErrorMessage = *entry.EnrichmentErrorMessage
	}
	if v, ok := entry.Display(f.Type); ok {
		cv.Value = &v
	}
	return cv, nil
}

// FilePropertyValue returns the value of a file-property field for an
// item. The bool is false for unknown properties.
func FilePropertyValue(p model.FileProperty, item *model.Item, file *model.File) (string, bool) {
	switch p {
	case model.FilePropertyName:
		return file.Name, true
	case model.FilePropertyOriginURI:
		return file.OriginURI, true
	case model.FilePropertyMimeType:
		return file.MimeType, true
	case model.FilePropertySize:
		if file.Size == nil {
			return "", true
		}
		return strconv.FormatInt(*file.Size, 10), true
	case model.FilePropertySource:
		return file.LibraryName, true
	case model.FilePropertyCrawlerURL:
		return file.CrawlerURI, true
	case model.FilePropertyItemName:
		return item.ItemName, true
	case model.FilePropertyProcessedAt:
		return formatTime(file.ProcessedAt), true
	case model.FilePropertyOriginModificationDate:
		return formatTime(file.OriginModificationDate), true
	}
	return "", false
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func (r *Resolver) vectorSearch(ctx context.Context, src model.ContextSource, file *model.File, res *Resolved) error {
	if r.vectors == nil {
		res.Issues = append(res.Issues, "vector search is not configured")
		return nil
	}
	query, ok := SubstituteTemplate(src.QueryTemplate, res.Fields)
	if !ok || strings.TrimSpace(query) == "" {
		res.Issues = append(res.Issues, fmt.Sprintf("vector search skipped: template %q could not be filled", src.QueryTemplate))
		return nil
	}

	chunks, err := r.vectors.Search(ctx, file.LibraryID, query, src.MaxChunks, src.MaxDistance)
	if err != nil {
		return eris.Wrap(err, "enrichment: vector search")
	}
	if len(chunks) == 0 {
		res.Issues = append(res.Issues, fmt.Sprintf("vector search for %q found nothing", query))
		return nil
	}
	res.Chunks = append(res.Chunks, chunks...)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	content := webfetch.Truncate(strings.Join(texts, "\n\n"), src.MaxContentTokens)
	res.Messages = append(res.Messages, llm.Message{
		Role:    llm.RoleUser,
		Content: "Here is the search result in the vector store:\n\n" + content,
	})
	return nil
}

// webFetch failures are recorded as issues. A page being down should not
// fail the whole entry.
func (r *Resolver) webFetch(ctx context.Context, src model.ContextSource, res *Resolved) {
	if r.web == nil {
		res.Issues = append(res.Issues, "web fetch is not configured")
		return
	}
	url, ok := SubstituteTemplate(src.URLTemplate, res.Fields)
	if !ok || strings.TrimSpace(url) == "" {
		res.Issues = append(res.Issues, fmt.Sprintf("web fetch skipped: template %q could not be filled", src.URLTemplate))
		return
	}
	url = strings.TrimSpace(url)

	content, err := r.web.Fetch(ctx, url)
	if err != nil {
		zap.L().Warn("enrichment: web fetch failed", zap.String("url", url), zap.Error(err))
		res.Issues = append(res.Issues, fmt.Sprintf("web fetch of %s failed: %v", url, err))
		return
	}
	res.Messages = append(res.Messages, llm.Message{
		Role:    llm.RoleUser,
		Content: fmt.Sprintf("Here is the content of %s:\n\n%s", url, webfetch.Truncate(content, src.MaxContentTokens)),
	})
}

func (r *Resolver) fullContent(ctx context.Context, src model.ContextSource, item *model.Item, res *Resolved) error {
	if r.docs == nil {
		res.Issues = append(res.Issues, "document store is not configured")
		return nil
	}
	content, err := docstore.ItemContent(ctx, r.docs, item)
	if errors.Is(err, docstore.ErrNoMarkdown) || errors.Is(err, fs.ErrNotExist) {
		res.Issues = append(res.Issues, "item has no content")
		return nil
	}
	if err != nil {
		return eris.Wrap(err, "enrichment: item content")
	}
	res.Messages = append(res.Messages, llm.Message{
		Role:    llm.RoleUser,
		Content: "Here is the content of the item:\n\n" + webfetch.Truncate(content, src.MaxContentTokens),
	})
	return nil
}
