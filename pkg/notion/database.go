package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// FindPageByTitle returns the first page in dbID whose title property
// equals title, or nil when there is none.
func FindPageByTitle(ctx context.Context, c Client, dbID, titleProp, title string) (*notionapi.Page, error) {
	resp, err := c.QueryDatabase(ctx, dbID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: titleProp,
			RichText: &notionapi.TextFilterCondition{Equals: title},
		},
		PageSize: 1,
	})
	if err != nil {
		return nil, eris.Wrap(err, "notion: find page by title")
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	return &resp.Results[0], nil
}

// UpsertPage updates pageID when set, otherwise updates the page titled
// title, otherwise creates a new page. It reports whether a page was created.
func UpsertPage(ctx context.Context, c Client, dbID, pageID, titleProp, title string, props notionapi.Properties) (*notionapi.Page, bool, error) {
	if pageID == "" && title != "" {
		existing, err := FindPageByTitle(ctx, c, dbID, titleProp, title)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			pageID = string(existing.ID)
		}
	}
	if pageID != "" {
		page, err := c.UpdatePage(ctx, pageID, &notionapi.PageUpdateRequest{Properties: props})
		return page, false, err
	}
	if title == "" {
		return nil, false, eris.New("notion: a title is required to create a page")
	}
	page, err := c.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(dbID),
		},
		Properties: props,
	})
	return page, true, err
}
