package forums

import "fmt"

// ContentType classifies a forum by how explicit its roleplay is.
type ContentType string

const (
	ContentSFW   ContentType = "RP"
	ContentNSFW  ContentType = "ERP"
	ContentMixed ContentType = "MIXED"
)

func (c *ContentType) UnmarshalText(text []byte) error {
	switch ct := ContentType(text); ct {
	case ContentSFW, ContentNSFW, ContentMixed:
		*c = ct
		return nil
	default:
		return fmt.Errorf("unknown content type %q", string(text))
	}
}

// Message is a single forum post. Body is raw HTML.
type Message struct {
	Author string `json:"author"`
	Body   string `json:"message"`
}

// Thread is one scraped forum thread.
type Thread struct {
	Name        string      `json:"thread_name"`
	ContentType ContentType `json:"content_type"`
	SourceFile  string      `json:"source_file"`
	Messages    []Message   `json:"messages"`
}

// Identifier is the episode identifier for the thread.
func (t Thread) Identifier() string {
	return fmt.Sprintf("rp-%s-%s", t.SourceFile, t.Name)
}
