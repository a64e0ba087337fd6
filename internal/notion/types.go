package notion

import (
	"encoding/json"
	"fmt"
)

// Block types the normalizer knows about.
const (
	BlockHeading1     = "heading_1"
	BlockHeading2     = "heading_2"
	BlockHeading3     = "heading_3"
	BlockParagraph    = "paragraph"
	BlockQuote        = "quote"
	BlockCallout      = "callout"
	BlockToDo         = "to_do"
	BlockCode         = "code"
	BlockDivider      = "divider"
	BlockBulleted     = "bulleted_list_item"
	BlockNumbered     = "numbered_list_item"
	BlockToggle       = "toggle"
	defaultColorValue = "default"
)

// Annotations are the inline style flags of a rich text run.
type Annotations struct {
	Bold          bool   `json:"bold"`
	Italic        bool   `json:"italic"`
	Strikethrough bool   `json:"strikethrough"`
	Underline     bool   `json:"underline"`
	Code          bool   `json:"code"`
	Color         string `json:"color"`
}

// HasColor reports whether the run carries a non-default color.
func (a Annotations) HasColor() bool {
	return a.Color != "" && a.Color != defaultColorValue
}

// RichText is one styled run of text.
type RichText struct {
	Type        string      `json:"type,omitempty"`
	PlainText   string      `json:"plain_text"`
	Href        string      `json:"href,omitempty"`
	Annotations Annotations `json:"annotations"`
}

// SelectOption is the value of a select property.
type SelectOption struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// Relation references another page.
type Relation struct {
	ID string `json:"id"`
}

// Property is one typed page property. Only the field named by Type is meaningful.
type Property struct {
	ID       string        `json:"id,omitempty"`
	Type     string        `json:"type"`
	Title    []RichText    `json:"title,omitempty"`
	RichText []RichText    `json:"rich_text,omitempty"`
	Number   *float64      `json:"number,omitempty"`
	Checkbox *bool         `json:"checkbox,omitempty"`
	Select   *SelectOption `json:"select,omitempty"`
	Relation []Relation    `json:"relation,omitempty"`
}

// Page is one record of a queried collection.
type Page struct {
	ID             string              `json:"id"`
	LastEditedTime string              `json:"last_edited_time"`
	Properties     map[string]Property `json:"properties"`
}

// Icon is a callout icon.
type Icon struct {
	Type  string `json:"type"`
	Emoji string `json:"emoji,omitempty"`
}

// BlockContent is the type-specific payload of a block.
type BlockContent struct {
	RichText []RichText `json:"rich_text,omitempty"`
	Checked  bool       `json:"checked,omitempty"`
	Icon     *Icon      `json:"icon,omitempty"`
	Language string     `json:"language,omitempty"`
}

// Block is one node in a page's content tree.
//
// On the wire the payload lives under a key named after the block type, e.g.
// {"type":"paragraph","paragraph":{"rich_text":[...]}}. Children is filled by
// the client for toggle blocks only and is never sent by the API.
type Block struct {
	ID          string
	Type        string
	HasChildren bool
	Content     BlockContent
	Children    []Block
}

type blockHeader struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	HasChildren bool   `json:"has_children"`
}

// UnmarshalJSON decodes the payload stored under the block's type key.
func (b *Block) UnmarshalJSON(data []byte) error {
	var head blockHeader
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("decode block header: %w", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode block: %w", err)
	}
	*b = Block{ID: head.ID, Type: head.Type, HasChildren: head.HasChildren}
	body, ok := raw[head.Type]
	if !ok || len(body) == 0 || string(body) == "null" {
		return nil
	}
	if err := json.Unmarshal(body, &b.Content); err != nil {
		return fmt.Errorf("decode %s block %s: %w", head.Type, head.ID, err)
	}
	return nil
}

// MarshalJSON encodes the block in the API's wire shape.
func (b Block) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"object":       "block",
		"id":           b.ID,
		"type":         b.Type,
		"has_children": b.HasChildren,
	}
	if b.Type != "" {
		out[b.Type] = b.Content
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode block %s: %w", b.ID, err)
	}
	return data, nil
}

// listResponse is the paginated envelope shared by query and children endpoints.
type listResponse[T any] struct {
	Results    []T     `json:"results"`
	NextCursor *string `json:"next_cursor"`
	HasMore    bool    `json:"has_more"`
}

// queryRequest is the body of a collection query.
type queryRequest struct {
	PageSize    int    `json:"page_size"`
	StartCursor string `json:"start_cursor,omitempty"`
}

// apiErrorBody is the error envelope returned on non-2xx statuses.
type apiErrorBody struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
